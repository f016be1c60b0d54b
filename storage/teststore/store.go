// Copyright (C) 2024 Barhop Labs.
// See LICENSE for copying information.

// Package teststore implements an in-memory storage.KeyValueStore.
package teststore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/barhop/barhop/storage"
)

// Store is an in-memory, ordered key-value store with TTL support.
// It doubles as the fallback cache when no redis address is
// configured.
type Store struct {
	mu    sync.Mutex
	data  map[string][]byte
	exp   map[string]time.Time
	nowFn func() time.Time
}

// New creates an empty store.
func New() *Store {
	return &Store{
		data:  map[string][]byte{},
		exp:   map[string]time.Time{},
		nowFn: time.Now,
	}
}

// SetNow overrides the clock, for tests.
func (store *Store) SetNow(now func() time.Time) { store.nowFn = now }

// Put stores a value; ttl of zero means no expiration.
func (store *Store) Put(ctx context.Context, key, value []byte, ttl time.Duration) error {
	store.mu.Lock()
	defer store.mu.Unlock()

	store.data[string(key)] = append([]byte{}, value...)
	if ttl > 0 {
		store.exp[string(key)] = store.nowFn().Add(ttl)
	} else {
		delete(store.exp, string(key))
	}
	return nil
}

// Get returns the value or storage.ErrKeyNotFound.
func (store *Store) Get(ctx context.Context, key []byte) ([]byte, error) {
	store.mu.Lock()
	defer store.mu.Unlock()

	if store.expired(string(key)) {
		return nil, storage.ErrKeyNotFound.New("%q", key)
	}
	value, ok := store.data[string(key)]
	if !ok {
		return nil, storage.ErrKeyNotFound.New("%q", key)
	}
	return append([]byte{}, value...), nil
}

// Delete removes the key.
func (store *Store) Delete(ctx context.Context, key []byte) error {
	store.mu.Lock()
	defer store.mu.Unlock()

	delete(store.data, string(key))
	delete(store.exp, string(key))
	return nil
}

// Range iterates in key order over all items with the prefix.
func (store *Store) Range(ctx context.Context, prefix []byte, fn func(item storage.Item) error) error {
	store.mu.Lock()
	keys := make([]string, 0, len(store.data))
	for key := range store.data {
		if strings.HasPrefix(key, string(prefix)) && !store.expired(key) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	items := make([]storage.Item, 0, len(keys))
	for _, key := range keys {
		items = append(items, storage.Item{
			Key:   []byte(key),
			Value: append([]byte{}, store.data[key]...),
		})
	}
	store.mu.Unlock()

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(item); err != nil {
			return storage.RangeDone(err)
		}
	}
	return nil
}

// Close implements storage.KeyValueStore.
func (store *Store) Close() error { return nil }

func (store *Store) expired(key string) bool {
	deadline, ok := store.exp[key]
	return ok && !store.nowFn().Before(deadline)
}
