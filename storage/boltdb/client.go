// Copyright (C) 2024 Barhop Labs.
// See LICENSE for copying information.

// Package boltdb implements storage.KeyValueStore on a bolt file.
package boltdb

import (
	"bytes"
	"context"
	"time"

	"github.com/boltdb/bolt"
	"github.com/zeebo/errs"

	"github.com/barhop/barhop/storage"
)

// Error is the default boltdb errs class.
var Error = errs.Class("boltdb")

const (
	defaultTimeout = 1 * time.Second
	fileMode       = 0600
)

// Client implements storage.KeyValueStore on a single bolt bucket.
// TTLs are ignored; bolt entries live until deleted.
type Client struct {
	db     *bolt.DB
	bucket []byte

	// Path is the file the database is stored in.
	Path string
}

// New opens or creates the bolt file at path with the named bucket.
func New(path, bucket string) (*Client, error) {
	db, err := bolt.Open(path, fileMode, &bolt.Options{Timeout: defaultTimeout})
	if err != nil {
		return nil, Error.Wrap(err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucket))
		return err
	})
	if err != nil {
		return nil, Error.Wrap(errs.Combine(err, db.Close()))
	}

	return &Client{
		db:     db,
		bucket: []byte(bucket),
		Path:   path,
	}, nil
}

// Put stores the value under key. The ttl is ignored.
func (client *Client) Put(ctx context.Context, key, value []byte, _ time.Duration) error {
	if len(key) == 0 {
		return Error.New("empty key")
	}
	return Error.Wrap(client.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(client.bucket).Put(key, value)
	}))
}

// Get returns the value for key or storage.ErrKeyNotFound.
func (client *Client) Get(ctx context.Context, key []byte) ([]byte, error) {
	var value []byte
	err := client.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(client.bucket).Get(key)
		if data == nil {
			return storage.ErrKeyNotFound.New("%q", key)
		}
		value = append([]byte{}, data...)
		return nil
	})
	if err != nil {
		if storage.ErrKeyNotFound.Has(err) {
			return nil, err
		}
		return nil, Error.Wrap(err)
	}
	return value, nil
}

// Delete removes the key; deleting a missing key is not an error.
func (client *Client) Delete(ctx context.Context, key []byte) error {
	return Error.Wrap(client.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(client.bucket).Delete(key)
	}))
}

// Range iterates, in key order, over all items with the prefix.
func (client *Client) Range(ctx context.Context, prefix []byte, fn func(item storage.Item) error) error {
	err := client.db.View(func(tx *bolt.Tx) error {
		cursor := tx.Bucket(client.bucket).Cursor()
		for k, v := cursor.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = cursor.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := storage.Item{
				Key:   append([]byte{}, k...),
				Value: append([]byte{}, v...),
			}
			if err := fn(item); err != nil {
				return err
			}
		}
		return nil
	})
	return storage.RangeDone(err)
}

// Close closes the bolt database.
func (client *Client) Close() error {
	return Error.Wrap(client.db.Close())
}
