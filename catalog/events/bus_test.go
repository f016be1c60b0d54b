// Copyright (C) 2024 Barhop Labs.
// See LICENSE for copying information.

package events_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeebo/errs"
	"go.uber.org/zap/zaptest"

	"github.com/barhop/barhop/catalog/events"
	"github.com/barhop/barhop/internal/testcontext"
)

func TestPublishOrderAndIsolation(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	bus := events.NewBus(zaptest.NewLogger(t))

	var order []string
	bus.Subscribe(events.TopicRawCollected, "first", func(ctx context.Context, event interface{}) error {
		order = append(order, "first")
		return nil
	})
	bus.Subscribe(events.TopicRawCollected, "failing", func(ctx context.Context, event interface{}) error {
		order = append(order, "failing")
		return errs.New("boom")
	})
	bus.Subscribe(events.TopicRawCollected, "last", func(ctx context.Context, event interface{}) error {
		order = append(order, "last")
		return nil
	})

	bus.Publish(ctx, events.TopicRawCollected, events.RawCollected{SourceID: "x"})

	// the failing handler does not stop delivery to the remaining
	// subscribers and the publisher observes no error at all
	require.Equal(t, []string{"first", "failing", "last"}, order)
	assert.Equal(t, int64(1), bus.Failures(events.TopicRawCollected))
	assert.Equal(t, int64(2), bus.Handled(events.TopicRawCollected))
}

func TestPublishNoSubscribers(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	bus := events.NewBus(zaptest.NewLogger(t))
	bus.Publish(ctx, events.TopicPhotosProcessed, events.PhotosProcessed{})
	assert.Equal(t, int64(0), bus.Failures(events.TopicPhotosProcessed))
}

func TestPublishStopsOnCanceledContext(t *testing.T) {
	bus := events.NewBus(zaptest.NewLogger(t))

	calls := 0
	bus.Subscribe(events.TopicStandardized, "counter", func(ctx context.Context, event interface{}) error {
		calls++
		return nil
	})

	canceled, cancel := context.WithCancel(context.Background())
	cancel()
	bus.Publish(canceled, events.TopicStandardized, events.Standardized{})
	assert.Equal(t, 0, calls)
}
