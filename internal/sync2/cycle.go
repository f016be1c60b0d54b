// Copyright (C) 2024 Barhop Labs.
// See LICENSE for copying information.

// Package sync2 provides concurrency primitives shared by the catalog
// services.
package sync2

import (
	"context"
	"sync"
	"time"
)

// Cycle implements a controllable recurring event.
//
// The callback runs once immediately when Run is called and then on
// every interval tick until the context is canceled, Close is called,
// or the callback returns an error.
type Cycle struct {
	interval time.Duration

	ticker  *time.Ticker
	control chan interface{}

	stopsent bool
	runexec  bool

	stopping chan struct{}
	stopped  chan struct{}

	init sync.Once
}

type (
	cycleStop    struct{}
	cycleTrigger struct {
		done chan struct{}
	}
)

// NewCycle creates a new cycle with the specified interval.
func NewCycle(interval time.Duration) *Cycle {
	cycle := &Cycle{}
	cycle.SetInterval(interval)
	return cycle
}

// SetInterval allows changing the interval before starting.
func (cycle *Cycle) SetInterval(interval time.Duration) {
	cycle.interval = interval
}

func (cycle *Cycle) initialize() {
	cycle.init.Do(func() {
		cycle.stopped = make(chan struct{})
		cycle.stopping = make(chan struct{})
		cycle.control = make(chan interface{})
	})
}

// Run runs the specified function with an interval.
func (cycle *Cycle) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	cycle.initialize()
	defer close(cycle.stopped)

	cycle.runexec = true
	cycle.ticker = time.NewTicker(cycle.interval)
	defer cycle.ticker.Stop()

	if err := fn(ctx); err != nil {
		return err
	}

	for {
		select {
		case <-cycle.stopping:
			return nil

		case message := <-cycle.control:
			switch message := message.(type) {
			case cycleStop:
				return nil
			case cycleTrigger:
				err := fn(ctx)
				if message.done != nil {
					close(message.done)
				}
				if err != nil {
					return err
				}
			}

		case <-ctx.Done():
			return ctx.Err()

		case <-cycle.ticker.C:
			if err := fn(ctx); err != nil {
				return err
			}
		}
	}
}

// Close stops the cycle permanently and waits for the current
// iteration to finish.
func (cycle *Cycle) Close() {
	cycle.Stop()
	if cycle.runexec {
		<-cycle.stopped
	}
}

// Stop requests the cycle to stop without waiting.
func (cycle *Cycle) Stop() {
	cycle.initialize()
	if !cycle.stopsent {
		cycle.stopsent = true
		close(cycle.stopping)
	}
}

// TriggerWait runs the callback once out of schedule and waits for it
// to complete.
func (cycle *Cycle) TriggerWait() {
	cycle.initialize()
	done := make(chan struct{})
	select {
	case cycle.control <- cycleTrigger{done: done}:
		<-done
	case <-cycle.stopped:
	}
}
