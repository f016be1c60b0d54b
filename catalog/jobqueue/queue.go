// Copyright (C) 2024 Barhop Labs.
// See LICENSE for copying information.

// Package jobqueue is a durable work queue on a KeyValueStore with
// retries, exponential backoff and coarse progress reporting. It backs
// raw collection.
package jobqueue

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"github.com/barhop/barhop/storage"
)

var (
	// Error is the default jobqueue errs class.
	Error = errs.Class("jobqueue")

	// ErrJobNotFound is returned when the referenced job does not
	// exist, possibly because retention already removed it.
	ErrJobNotFound = errs.Class("job not found")

	// ErrPermanent marks a handler error that must not be retried; the
	// job fails immediately regardless of its remaining attempts.
	ErrPermanent = errs.Class("permanent")

	mon = monkit.Package()
)

// Kind names a job type. Handlers are registered per kind.
type Kind string

// Job kinds.
const (
	KindSearchNearby Kind = "searchNearby"
	KindPlaceDetails Kind = "placeDetails"
)

// Status is the lifecycle state of a job.
type Status string

// Job statuses.
const (
	StatusWaiting   Status = "waiting"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Job is one durable unit of work.
type Job struct {
	ID          string          `json:"id"`
	Kind        Kind            `json:"kind"`
	Payload     json.RawMessage `json:"payload"`
	Status      Status          `json:"status"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"maxAttempts"`
	Progress    int             `json:"progress"`
	RunAt       time.Time       `json:"runAt"`
	LastError   string          `json:"lastError,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// Stats is a point-in-time census of the queue.
type Stats struct {
	Waiting   int `json:"waiting"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// Config contains configurable values for the queue.
type Config struct {
	Concurrency   int           `help:"concurrent queue workers" default:"5"`
	WorkerRate    float64       `help:"maximum jobs per second per worker" default:"10"`
	MaxAttempts   int           `help:"attempts before a job is failed" default:"3"`
	BackoffBase   time.Duration `help:"base delay of the exponential retry backoff" default:"2s"`
	PollInterval  time.Duration `help:"pause between claim attempts when the queue is idle" default:"1s"`
	BulkStagger   time.Duration `help:"delay added between jobs of one bulk enqueue" default:"1s"`
	ShutdownGrace time.Duration `help:"time in-flight jobs get to finish on shutdown" default:"10s"`

	RetentionInterval  time.Duration `help:"how often retention runs" default:"1m"`
	CompletedRetention time.Duration `help:"how long completed jobs are kept" default:"1h"`
	CompletedMax       int           `help:"how many completed jobs are kept" default:"100"`
	FailedRetention    time.Duration `help:"how long failed jobs are kept" default:"24h"`
	FailedMax          int           `help:"how many failed jobs are kept" default:"500"`
}

// Handler processes one claimed job. A returned error schedules a
// retry until the job's attempt budget runs out.
type Handler func(ctx context.Context, job *Job) error

const jobKeyPrefix = "jobs/"

// Queue is the durable job queue.
type Queue struct {
	log    *zap.Logger
	store  storage.KeyValueStore
	config Config

	mu       sync.Mutex
	handlers map[Kind]Handler

	nowFn func() time.Time
}

// New creates a queue on the given store.
func New(log *zap.Logger, store storage.KeyValueStore, config Config) *Queue {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}
	if config.Concurrency <= 0 {
		config.Concurrency = 5
	}
	return &Queue{
		log:      log,
		store:    store,
		config:   config,
		handlers: map[Kind]Handler{},
		nowFn:    time.Now,
	}
}

// SetNow overrides the clock, for tests.
func (queue *Queue) SetNow(now func() time.Time) { queue.nowFn = now }

// Register installs the handler for a job kind. Claimed jobs of a kind
// without a handler fail immediately.
func (queue *Queue) Register(kind Kind, handler Handler) {
	queue.mu.Lock()
	defer queue.mu.Unlock()
	queue.handlers[kind] = handler
}

// Enqueue adds one waiting job, runnable immediately.
func (queue *Queue) Enqueue(ctx context.Context, kind Kind, payload json.RawMessage) (_ *Job, err error) {
	defer mon.Task()(&ctx)(&err)
	return queue.enqueueAt(ctx, kind, payload, queue.nowFn())
}

// EnqueueBulk adds one job per payload with their run times staggered
// to avoid bursting upstream rate limits.
func (queue *Queue) EnqueueBulk(ctx context.Context, kind Kind, payloads []json.RawMessage) (_ []*Job, err error) {
	defer mon.Task()(&ctx)(&err)

	now := queue.nowFn()
	jobs := make([]*Job, 0, len(payloads))
	for i, payload := range payloads {
		job, err := queue.enqueueAt(ctx, kind, payload, now.Add(time.Duration(i)*queue.config.BulkStagger))
		if err != nil {
			return jobs, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func (queue *Queue) enqueueAt(ctx context.Context, kind Kind, payload json.RawMessage, runAt time.Time) (*Job, error) {
	now := queue.nowFn()
	job := &Job{
		ID:          uuid.NewString(),
		Kind:        kind,
		Payload:     payload,
		Status:      StatusWaiting,
		MaxAttempts: queue.config.MaxAttempts,
		RunAt:       runAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := queue.save(ctx, job); err != nil {
		return nil, err
	}
	mon.Counter("jobqueue_enqueued", monkit.NewSeriesTag("kind", string(kind))).Inc(1)
	return job, nil
}

// Get returns the job by id.
func (queue *Queue) Get(ctx context.Context, id string) (_ *Job, err error) {
	defer mon.Task()(&ctx)(&err)

	data, err := queue.store.Get(ctx, []byte(jobKeyPrefix+id))
	if storage.ErrKeyNotFound.Has(err) {
		return nil, ErrJobNotFound.New("%s", id)
	}
	if err != nil {
		return nil, Error.Wrap(err)
	}
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, Error.Wrap(err)
	}
	return &job, nil
}

// SetProgress records coarse progress on the job. Values outside
// [0,100] are clamped.
func (queue *Queue) SetProgress(ctx context.Context, id string, progress int) (err error) {
	defer mon.Task()(&ctx)(&err)

	if progress < 0 {
		progress = 0
	} else if progress > 100 {
		progress = 100
	}

	queue.mu.Lock()
	defer queue.mu.Unlock()

	job, err := queue.Get(ctx, id)
	if err != nil {
		return err
	}
	job.Progress = progress
	job.UpdatedAt = queue.nowFn()
	return queue.save(ctx, job)
}

// Stats counts jobs per status.
func (queue *Queue) Stats(ctx context.Context) (_ Stats, err error) {
	defer mon.Task()(&ctx)(&err)

	var stats Stats
	err = queue.rangeJobs(ctx, func(job *Job) error {
		switch job.Status {
		case StatusWaiting:
			stats.Waiting++
		case StatusActive:
			stats.Active++
		case StatusCompleted:
			stats.Completed++
		case StatusFailed:
			stats.Failed++
		}
		return nil
	})
	return stats, err
}

func (queue *Queue) save(ctx context.Context, job *Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return Error.Wrap(err)
	}
	return Error.Wrap(queue.store.Put(ctx, []byte(jobKeyPrefix+job.ID), data, 0))
}

func (queue *Queue) rangeJobs(ctx context.Context, fn func(*Job) error) error {
	err := queue.store.Range(ctx, []byte(jobKeyPrefix), func(item storage.Item) error {
		var job Job
		if err := json.Unmarshal(item.Value, &job); err != nil {
			return Error.Wrap(err)
		}
		return fn(&job)
	})
	return Error.Wrap(storage.RangeDone(err))
}

// claim picks the runnable waiting job with the earliest run time and
// marks it active. Returns ErrEmptyQueue when nothing is due.
func (queue *Queue) claim(ctx context.Context) (*Job, error) {
	queue.mu.Lock()
	defer queue.mu.Unlock()

	now := queue.nowFn()
	var next *Job
	err := queue.rangeJobs(ctx, func(job *Job) error {
		if job.Status != StatusWaiting || job.RunAt.After(now) {
			return nil
		}
		if next == nil || job.RunAt.Before(next.RunAt) {
			next = job
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if next == nil {
		return nil, storage.ErrEmptyQueue.New("no runnable jobs")
	}

	next.Status = StatusActive
	next.Attempts++
	next.Progress = 10
	next.UpdatedAt = now
	if err := queue.save(ctx, next); err != nil {
		return nil, err
	}
	return next, nil
}

// complete marks a claimed job as done.
func (queue *Queue) complete(ctx context.Context, job *Job) error {
	queue.mu.Lock()
	defer queue.mu.Unlock()

	job.Status = StatusCompleted
	job.Progress = 100
	job.LastError = ""
	job.UpdatedAt = queue.nowFn()
	mon.Counter("jobqueue_completed", monkit.NewSeriesTag("kind", string(job.Kind))).Inc(1)
	return queue.save(ctx, job)
}

// retry reschedules a failed attempt with exponential backoff, or
// fails the job once its attempt budget is spent.
func (queue *Queue) retry(ctx context.Context, job *Job, cause error) error {
	queue.mu.Lock()
	defer queue.mu.Unlock()

	now := queue.nowFn()
	job.LastError = cause.Error()
	job.UpdatedAt = now

	if job.Attempts >= job.MaxAttempts {
		job.Status = StatusFailed
		mon.Counter("jobqueue_failed", monkit.NewSeriesTag("kind", string(job.Kind))).Inc(1)
		queue.log.Warn("job failed permanently",
			zap.String("id", job.ID),
			zap.String("kind", string(job.Kind)),
			zap.Int("attempts", job.Attempts),
			zap.Error(cause))
		return queue.save(ctx, job)
	}

	backoff := queue.config.BackoffBase << uint(job.Attempts-1)
	job.Status = StatusWaiting
	job.RunAt = now.Add(backoff)
	mon.Counter("jobqueue_retried", monkit.NewSeriesTag("kind", string(job.Kind))).Inc(1)
	queue.log.Info("job scheduled for retry",
		zap.String("id", job.ID),
		zap.String("kind", string(job.Kind)),
		zap.Int("attempt", job.Attempts),
		zap.Duration("backoff", backoff),
		zap.Error(cause))
	return queue.save(ctx, job)
}

func (queue *Queue) handler(kind Kind) (Handler, bool) {
	queue.mu.Lock()
	defer queue.mu.Unlock()
	handler, ok := queue.handlers[kind]
	return handler, ok
}
