// Copyright (C) 2024 Barhop Labs.
// See LICENSE for copying information.

package api

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiterConfig contains configurable values for the per-client
// rate limiter.
type RateLimiterConfig struct {
	Duration  time.Duration `help:"window over which burst requests are allowed per client" default:"1m"`
	Burst     int           `help:"number of requests allowed per client per window" default:"60"`
	NumLimits int           `help:"number of clients whose limiter state is kept" default:"1000"`
}

type rateLimiter struct {
	config RateLimiterConfig

	mu      sync.Mutex
	clients map[string]*rateLimitedClient
}

type rateLimitedClient struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newRateLimiter(config RateLimiterConfig) *rateLimiter {
	return &rateLimiter{
		config:  config,
		clients: make(map[string]*rateLimitedClient),
	}
}

// allow reports whether the client may proceed. When denied it returns
// how long the client should wait.
func (limiter *rateLimiter) allow(key string) (retryAfter time.Duration, ok bool) {
	limiter.mu.Lock()
	defer limiter.mu.Unlock()

	client, exists := limiter.clients[key]
	if !exists {
		perSecond := rate.Limit(float64(limiter.config.Burst) / limiter.config.Duration.Seconds())
		client = &rateLimitedClient{limiter: rate.NewLimiter(perSecond, limiter.config.Burst)}
		limiter.clients[key] = client
		limiter.evictLocked()
	}
	client.lastSeen = time.Now()

	reservation := client.limiter.Reserve()
	if !reservation.OK() {
		return limiter.config.Duration, false
	}
	delay := reservation.Delay()
	if delay > 0 {
		reservation.Cancel()
		return delay, false
	}
	return 0, true
}

// evictLocked drops the stalest client once the map outgrows the cap.
func (limiter *rateLimiter) evictLocked() {
	if len(limiter.clients) <= limiter.config.NumLimits {
		return
	}
	var oldestKey string
	var oldest time.Time
	for key, client := range limiter.clients {
		if oldestKey == "" || client.lastSeen.Before(oldest) {
			oldestKey, oldest = key, client.lastSeen
		}
	}
	delete(limiter.clients, oldestKey)
}

func (limiter *rateLimiter) writeHeaders(w http.ResponseWriter, retryAfter time.Duration) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limiter.config.Burst))
	w.Header().Set("X-RateLimit-Remaining", "0")
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(retryAfter).Unix(), 10))
	w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds()+0.5)))
}

// pruneLoop periodically forgets clients idle for two windows.
func (limiter *rateLimiter) pruneLoop(ctx context.Context) {
	ticker := time.NewTicker(limiter.config.Duration)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			limiter.prune()
		}
	}
}

func (limiter *rateLimiter) prune() {
	limiter.mu.Lock()
	defer limiter.mu.Unlock()

	cutoff := time.Now().Add(-2 * limiter.config.Duration)
	for key, client := range limiter.clients {
		if client.lastSeen.Before(cutoff) {
			delete(limiter.clients, key)
		}
	}
}
