// Copyright (C) 2024 Barhop Labs.
// See LICENSE for copying information.

// Package rediskv implements storage.KeyValueStore on redis, used for
// the signed-URL cache.
package rediskv

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/zeebo/errs"

	"github.com/barhop/barhop/storage"
)

// Error is the default rediskv errs class.
var Error = errs.Class("rediskv")

// Client implements storage.KeyValueStore on a redis database.
// Iteration order is not guaranteed; use it only for caches.
type Client struct {
	db *redis.Client
}

// New connects to the redis server at address.
func New(ctx context.Context, address, password string, db int) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, Error.New("ping failed: %v", err)
	}
	return &Client{db: client}, nil
}

// Put stores a value with the given ttl; zero ttl means no expiration.
func (client *Client) Put(ctx context.Context, key, value []byte, ttl time.Duration) error {
	return Error.Wrap(client.db.Set(ctx, string(key), value, ttl).Err())
}

// Get returns the value or storage.ErrKeyNotFound.
func (client *Client) Get(ctx context.Context, key []byte) ([]byte, error) {
	value, err := client.db.Get(ctx, string(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, storage.ErrKeyNotFound.New("%q", key)
		}
		return nil, Error.Wrap(err)
	}
	return value, nil
}

// Delete removes the key.
func (client *Client) Delete(ctx context.Context, key []byte) error {
	return Error.Wrap(client.db.Del(ctx, string(key)).Err())
}

// Range iterates over all keys with the prefix using SCAN. Order is
// unspecified.
func (client *Client) Range(ctx context.Context, prefix []byte, fn func(item storage.Item) error) error {
	iter := client.db.Scan(ctx, 0, string(prefix)+"*", 0).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		value, err := client.db.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue // expired between scan and get
			}
			return Error.Wrap(err)
		}
		if err := fn(storage.Item{Key: []byte(key), Value: value}); err != nil {
			return storage.RangeDone(err)
		}
	}
	return Error.Wrap(iter.Err())
}

// Close closes the connection.
func (client *Client) Close() error {
	return Error.Wrap(client.db.Close())
}
