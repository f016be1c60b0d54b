// Copyright (C) 2024 Barhop Labs.
// See LICENSE for copying information.

package events

import (
	"context"
	"sync"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
)

var (
	// Error is the default events errs class.
	Error = errs.Class("events")

	mon = monkit.Package()
)

// Handler consumes a single event. Handlers must be idempotent on the
// event's natural key; the bus does not retry.
type Handler func(ctx context.Context, event interface{}) error

type subscription struct {
	name    string
	handler Handler
}

// Bus is an in-process publish/subscribe bus. Publishing runs every
// handler synchronously in subscription order; a handler error is
// logged and counted but never propagated to the publisher or to the
// remaining handlers.
type Bus struct {
	log *zap.Logger

	mu       sync.RWMutex
	handlers map[Topic][]subscription
	failures map[Topic]int64
	handled  map[Topic]int64
}

// NewBus creates an empty bus.
func NewBus(log *zap.Logger) *Bus {
	return &Bus{
		log:      log,
		handlers: map[Topic][]subscription{},
		failures: map[Topic]int64{},
		handled:  map[Topic]int64{},
	}
}

// Subscribe registers a named handler for a topic. The name shows up
// in logs and metrics.
func (bus *Bus) Subscribe(topic Topic, name string, handler Handler) {
	bus.mu.Lock()
	defer bus.mu.Unlock()
	bus.handlers[topic] = append(bus.handlers[topic], subscription{name: name, handler: handler})
}

// Publish delivers the event to every subscriber of the topic.
func (bus *Bus) Publish(ctx context.Context, topic Topic, event interface{}) {
	bus.mu.RLock()
	subs := append([]subscription{}, bus.handlers[topic]...)
	bus.mu.RUnlock()

	mon.Counter("event_published", monkit.NewSeriesTag("topic", string(topic))).Inc(1)

	for _, sub := range subs {
		if ctx.Err() != nil {
			return
		}
		if err := sub.handler(ctx, event); err != nil {
			mon.Counter("event_handler_failure",
				monkit.NewSeriesTag("topic", string(topic)),
				monkit.NewSeriesTag("handler", sub.name),
			).Inc(1)
			bus.count(topic, true)
			bus.log.Error("event handler failed",
				zap.String("topic", string(topic)),
				zap.String("handler", sub.name),
				zap.Error(err))
			continue
		}
		bus.count(topic, false)
	}
}

// Failures returns how many handler invocations failed for the topic.
func (bus *Bus) Failures(topic Topic) int64 {
	bus.mu.RLock()
	defer bus.mu.RUnlock()
	return bus.failures[topic]
}

// Handled returns how many handler invocations succeeded for the topic.
func (bus *Bus) Handled(topic Topic) int64 {
	bus.mu.RLock()
	defer bus.mu.RUnlock()
	return bus.handled[topic]
}

func (bus *Bus) count(topic Topic, failed bool) {
	bus.mu.Lock()
	defer bus.mu.Unlock()
	if failed {
		bus.failures[topic]++
	} else {
		bus.handled[topic]++
	}
}
