// Copyright (C) 2024 Barhop Labs.
// See LICENSE for copying information.

// Package storage defines the key-value store interface used for the
// durable job queue and for process-local caches.
package storage

import (
	"context"
	"time"

	"github.com/zeebo/errs"
)

var (
	// ErrKeyNotFound is returned when a key is missing from the store.
	ErrKeyNotFound = errs.Class("key not found")
	// ErrEmptyQueue is returned when a queue backed by a store has no
	// items ready.
	ErrEmptyQueue = errs.Class("empty queue")
)

// Item is a key-value pair returned from iteration.
type Item struct {
	Key   []byte
	Value []byte
}

// KeyValueStore is an ordered key-value store. Iteration order is
// lexicographic by key for stores that support ordering (bolt,
// memory); the redis store does not guarantee order and is only used
// for caches.
type KeyValueStore interface {
	// Put stores a value. A zero ttl means no expiration; stores
	// without expiration support ignore it.
	Put(ctx context.Context, key, value []byte, ttl time.Duration) error
	// Get returns the value for a key or ErrKeyNotFound.
	Get(ctx context.Context, key []byte) ([]byte, error)
	// Delete removes the key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key []byte) error
	// Range iterates over all items with the given key prefix, in key
	// order where supported. Returning an error from fn stops the
	// iteration and is returned as-is.
	Range(ctx context.Context, prefix []byte, fn func(item Item) error) error
	// Close releases underlying resources.
	Close() error
}

// ErrStopRange can be returned from a Range callback to stop iteration
// without reporting an error.
var ErrStopRange = errs.Class("stop range")

// RangeDone filters the sentinel out of a Range result.
func RangeDone(err error) error {
	if ErrStopRange.Has(err) {
		return nil
	}
	return err
}
