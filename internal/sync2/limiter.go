// Copyright (C) 2024 Barhop Labs.
// See LICENSE for copying information.

package sync2

import (
	"context"
	"sync"
)

// Limiter implements a bounded worker pool; at most `limit` callbacks
// run concurrently.
type Limiter struct {
	limit   chan struct{}
	working sync.WaitGroup
}

// NewLimiter creates a new limiter for the given concurrency.
func NewLimiter(limit int) *Limiter {
	if limit < 1 {
		limit = 1
	}
	return &Limiter{limit: make(chan struct{}, limit)}
}

// Go tries to start fn as a goroutine. It blocks until a slot is free
// and returns false when the context is canceled first.
func (limiter *Limiter) Go(ctx context.Context, fn func()) bool {
	select {
	case limiter.limit <- struct{}{}:
	case <-ctx.Done():
		return false
	}

	limiter.working.Add(1)
	go func() {
		defer func() {
			<-limiter.limit
			limiter.working.Done()
		}()
		fn()
	}()
	return true
}

// Wait waits for all running callbacks to finish.
func (limiter *Limiter) Wait() {
	limiter.working.Wait()
}
