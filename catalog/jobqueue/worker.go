// Copyright (C) 2024 Barhop Labs.
// See LICENSE for copying information.

package jobqueue

import (
	"context"
	"errors"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/barhop/barhop/internal/sync2"
	"github.com/barhop/barhop/storage"
)

// Run claims and processes jobs until the context is canceled, with a
// retention chore alongside. On cancel the dispatch loop stops
// claiming and in-flight jobs get the shutdown grace to finish;
// abandoned jobs stay active and are retried on the next start.
func (queue *Queue) Run(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	retention := sync2.NewCycle(queue.config.RetentionInterval)
	defer retention.Close()

	var group errgroup.Group
	group.Go(func() error {
		err := retention.Run(ctx, queue.runRetentionOnce)
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		queue.dispatch(ctx)
		return nil
	})
	return group.Wait()
}

// RecoverAbandoned requeues jobs left active by a previous process.
// Called once on startup before Run.
func (queue *Queue) RecoverAbandoned(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	queue.mu.Lock()
	defer queue.mu.Unlock()

	var abandoned []*Job
	err = queue.rangeJobs(ctx, func(job *Job) error {
		if job.Status == StatusActive {
			abandoned = append(abandoned, job)
		}
		return nil
	})
	if err != nil {
		return err
	}

	now := queue.nowFn()
	for _, job := range abandoned {
		job.Status = StatusWaiting
		job.RunAt = now
		job.UpdatedAt = now
		if err := queue.save(ctx, job); err != nil {
			return err
		}
	}
	if len(abandoned) > 0 {
		queue.log.Info("requeued abandoned jobs", zap.Int("count", len(abandoned)))
	}
	return nil
}

func (queue *Queue) dispatch(ctx context.Context) {
	limiter := sync2.NewLimiter(queue.config.Concurrency)
	defer limiter.Wait()

	for {
		if ctx.Err() != nil {
			return
		}

		job, err := queue.claim(ctx)
		if err != nil {
			if !storage.ErrEmptyQueue.Has(err) && ctx.Err() == nil {
				queue.log.Error("claim failed", zap.Error(err))
			}
			if !sync2.Sleep(ctx, queue.config.PollInterval) {
				return
			}
			continue
		}

		started := limiter.Go(ctx, func() {
			queue.process(ctx, job)
			// each worker slot stays under the per-worker rate
			sync2.Sleep(ctx, queue.rateInterval())
		})
		if !started {
			// canceled waiting for a slot; put the job back
			if err := queue.retry(context.WithoutCancel(ctx), job, ctx.Err()); err != nil {
				queue.log.Error("failed to requeue claimed job", zap.Error(err))
			}
			return
		}
	}
}

func (queue *Queue) process(ctx context.Context, job *Job) {
	handler, ok := queue.handler(job.Kind)
	if !ok {
		job.Attempts = job.MaxAttempts
		if err := queue.retry(ctx, job, Error.New("no handler for kind %q", job.Kind)); err != nil {
			queue.log.Error("failed to fail handlerless job", zap.Error(err))
		}
		return
	}

	handlerCtx, cancel := queue.shutdownContext(ctx)
	defer cancel()

	err := handler(handlerCtx, job)

	// state updates must survive the shutdown cancel
	storeCtx := context.WithoutCancel(ctx)
	if err != nil {
		if ErrPermanent.Has(err) {
			job.Attempts = job.MaxAttempts
		}
		if err := queue.retry(storeCtx, job, err); err != nil {
			queue.log.Error("failed to reschedule job", zap.Error(err))
		}
		return
	}
	if err := queue.complete(storeCtx, job); err != nil {
		queue.log.Error("failed to mark job completed", zap.Error(err))
	}
}

// shutdownContext keeps the handler running for the shutdown grace
// after the queue context is canceled.
func (queue *Queue) shutdownContext(ctx context.Context) (context.Context, context.CancelFunc) {
	grace := queue.config.ShutdownGrace
	if grace <= 0 {
		return context.WithCancel(ctx)
	}

	detached, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(ctx, func() {
		timer := time.NewTimer(grace)
		defer timer.Stop()
		select {
		case <-timer.C:
			cancel()
		case <-detached.Done():
		}
	})
	return detached, func() {
		stop()
		cancel()
	}
}

func (queue *Queue) rateInterval() time.Duration {
	if queue.config.WorkerRate <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / queue.config.WorkerRate)
}

// runRetentionOnce trims completed and failed jobs past their age or
// count limits.
func (queue *Queue) runRetentionOnce(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	queue.mu.Lock()
	defer queue.mu.Unlock()

	var completed, failed []*Job
	err = queue.rangeJobs(ctx, func(job *Job) error {
		switch job.Status {
		case StatusCompleted:
			completed = append(completed, job)
		case StatusFailed:
			failed = append(failed, job)
		}
		return nil
	})
	if err != nil {
		return err
	}

	now := queue.nowFn()
	removed := 0
	removed += queue.trim(ctx, completed, now.Add(-queue.config.CompletedRetention), queue.config.CompletedMax)
	removed += queue.trim(ctx, failed, now.Add(-queue.config.FailedRetention), queue.config.FailedMax)
	if removed > 0 {
		queue.log.Debug("retention removed jobs", zap.Int("count", removed))
	}
	return nil
}

// trim deletes jobs updated before the cutoff, then the oldest ones
// beyond the count limit. Returns how many were removed.
func (queue *Queue) trim(ctx context.Context, jobs []*Job, cutoff time.Time, max int) int {
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].UpdatedAt.After(jobs[j].UpdatedAt)
	})

	removed := 0
	for i, job := range jobs {
		if !job.UpdatedAt.Before(cutoff) && (max <= 0 || i < max) {
			continue
		}
		if err := queue.store.Delete(ctx, []byte(jobKeyPrefix+job.ID)); err != nil {
			queue.log.Warn("retention delete failed", zap.String("id", job.ID), zap.Error(err))
			continue
		}
		removed++
	}
	return removed
}
