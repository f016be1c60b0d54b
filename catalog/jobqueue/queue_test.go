// Copyright (C) 2024 Barhop Labs.
// See LICENSE for copying information.

package jobqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeebo/errs"
	"go.uber.org/zap/zaptest"

	"github.com/barhop/barhop/internal/testcontext"
	"github.com/barhop/barhop/storage/teststore"
)

func testConfig() Config {
	return Config{
		Concurrency:        5,
		WorkerRate:         1000,
		MaxAttempts:        3,
		BackoffBase:        2 * time.Second,
		PollInterval:       5 * time.Millisecond,
		BulkStagger:        time.Second,
		ShutdownGrace:      time.Second,
		RetentionInterval:  time.Minute,
		CompletedRetention: time.Hour,
		CompletedMax:       100,
		FailedRetention:    24 * time.Hour,
		FailedMax:          500,
	}
}

func testQueue(t *testing.T) *Queue {
	return New(zaptest.NewLogger(t), teststore.New(), testConfig())
}

func fixedClock(at time.Time) (func() time.Time, func(time.Duration)) {
	current := at
	return func() time.Time { return current }, func(d time.Duration) { current = current.Add(d) }
}

func TestEnqueueAndStats(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	queue := testQueue(t)
	now, _ := fixedClock(time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC))
	queue.SetNow(now)

	job, err := queue.Enqueue(ctx, KindSearchNearby, json.RawMessage(`{"latitude":1}`))
	require.NoError(t, err)
	assert.Equal(t, StatusWaiting, job.Status)
	assert.Equal(t, 3, job.MaxAttempts)
	assert.True(t, job.RunAt.Equal(now()))

	got, err := queue.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, KindSearchNearby, got.Kind)

	_, err = queue.Get(ctx, "missing")
	assert.True(t, ErrJobNotFound.Has(err))

	stats, err := queue.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Waiting: 1}, stats)
}

func TestEnqueueBulkStaggers(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	queue := testQueue(t)
	start := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	now, _ := fixedClock(start)
	queue.SetNow(now)

	payloads := []json.RawMessage{
		json.RawMessage(`{"n":0}`),
		json.RawMessage(`{"n":1}`),
		json.RawMessage(`{"n":2}`),
	}
	jobs, err := queue.EnqueueBulk(ctx, KindSearchNearby, payloads)
	require.NoError(t, err)
	require.Len(t, jobs, 3)
	for i, job := range jobs {
		assert.True(t, job.RunAt.Equal(start.Add(time.Duration(i)*time.Second)), "job %d", i)
	}
}

func TestClaimPicksEarliestDue(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	queue := testQueue(t)
	now, advance := fixedClock(time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC))
	queue.SetNow(now)

	first, err := queue.Enqueue(ctx, KindSearchNearby, nil)
	require.NoError(t, err)
	advance(time.Second)
	_, err = queue.Enqueue(ctx, KindSearchNearby, nil)
	require.NoError(t, err)

	// a job scheduled in the future must not be claimable
	future, err := queue.EnqueueBulk(ctx, KindPlaceDetails, []json.RawMessage{nil, nil})
	require.NoError(t, err)
	assert.True(t, future[1].RunAt.After(now()))

	claimed, err := queue.claim(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.ID, claimed.ID)
	assert.Equal(t, StatusActive, claimed.Status)
	assert.Equal(t, 1, claimed.Attempts)
	assert.Equal(t, 10, claimed.Progress)
}

func TestRetryBackoffThenFailure(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	queue := testQueue(t)
	now, advance := fixedClock(time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC))
	queue.SetNow(now)

	_, err := queue.Enqueue(ctx, KindPlaceDetails, nil)
	require.NoError(t, err)

	cause := errs.New("upstream flaked")

	// first attempt: backoff 2s
	job, err := queue.claim(ctx)
	require.NoError(t, err)
	require.NoError(t, queue.retry(ctx, job, cause))
	got, err := queue.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusWaiting, got.Status)
	assert.Equal(t, "upstream flaked", got.LastError)
	assert.True(t, got.RunAt.Equal(now().Add(2*time.Second)))

	// second attempt: backoff doubles
	advance(3 * time.Second)
	job, err = queue.claim(ctx)
	require.NoError(t, err)
	require.NoError(t, queue.retry(ctx, job, cause))
	got, err = queue.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusWaiting, got.Status)
	assert.True(t, got.RunAt.Equal(now().Add(4*time.Second)))

	// third attempt exhausts the budget
	advance(5 * time.Second)
	job, err = queue.claim(ctx)
	require.NoError(t, err)
	require.NoError(t, queue.retry(ctx, job, cause))
	got, err = queue.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, 3, got.Attempts)

	stats, err := queue.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Failed: 1}, stats)
}

func TestSetProgressClamps(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	queue := testQueue(t)
	job, err := queue.Enqueue(ctx, KindSearchNearby, nil)
	require.NoError(t, err)

	require.NoError(t, queue.SetProgress(ctx, job.ID, 75))
	got, err := queue.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 75, got.Progress)

	require.NoError(t, queue.SetProgress(ctx, job.ID, 250))
	got, err = queue.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 100, got.Progress)
}

func TestRunProcessesAndRetries(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	config := testConfig()
	config.BackoffBase = 5 * time.Millisecond
	queue := New(zaptest.NewLogger(t), teststore.New(), config)

	var calls int32
	queue.Register(KindSearchNearby, func(ctx context.Context, job *Job) error {
		if atomic.AddInt32(&calls, 1) == 1 {
			return errs.New("transient")
		}
		return nil
	})

	_, err := queue.Enqueue(ctx, KindSearchNearby, nil)
	require.NoError(t, err)

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- queue.Run(runCtx) }()

	deadline := time.Now().Add(10 * time.Second)
	for {
		stats, err := queue.Stats(ctx)
		require.NoError(t, err)
		if stats.Completed == 1 {
			break
		}
		require.True(t, time.Now().Before(deadline), "job did not complete: %+v", stats)
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestRunFailsHandlerlessJobs(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	queue := testQueue(t)
	_, err := queue.Enqueue(ctx, KindPlaceDetails, nil)
	require.NoError(t, err)

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- queue.Run(runCtx) }()

	deadline := time.Now().Add(10 * time.Second)
	for {
		stats, err := queue.Stats(ctx)
		require.NoError(t, err)
		if stats.Failed == 1 {
			break
		}
		require.True(t, time.Now().Before(deadline), "job did not fail: %+v", stats)
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	require.NoError(t, <-done)
}

func TestRecoverAbandoned(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	queue := testQueue(t)
	job, err := queue.Enqueue(ctx, KindSearchNearby, nil)
	require.NoError(t, err)
	claimed, err := queue.claim(ctx)
	require.NoError(t, err)
	require.Equal(t, job.ID, claimed.ID)

	require.NoError(t, queue.RecoverAbandoned(ctx))

	got, err := queue.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusWaiting, got.Status)
}

func TestRetentionTrimsByAgeAndCount(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	config := testConfig()
	config.CompletedMax = 3
	queue := New(zaptest.NewLogger(t), teststore.New(), config)

	start := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	now, advance := fixedClock(start)
	queue.SetNow(now)

	// one stale completed job, then five fresh ones
	stale := &Job{ID: "stale", Kind: KindSearchNearby, Status: StatusCompleted, UpdatedAt: start.Add(-2 * time.Hour)}
	require.NoError(t, queue.save(ctx, stale))
	for i := 0; i < 5; i++ {
		advance(time.Minute)
		fresh := &Job{
			ID:        fmt.Sprintf("fresh-%d", i),
			Kind:      KindSearchNearby,
			Status:    StatusCompleted,
			UpdatedAt: now(),
		}
		require.NoError(t, queue.save(ctx, fresh))
	}

	require.NoError(t, queue.runRetentionOnce(ctx))

	stats, err := queue.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Completed)

	_, err = queue.Get(ctx, "stale")
	assert.True(t, ErrJobNotFound.Has(err))
	// the newest three survive
	for i := 2; i < 5; i++ {
		_, err = queue.Get(ctx, fmt.Sprintf("fresh-%d", i))
		assert.NoError(t, err)
	}
}
