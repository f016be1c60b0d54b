// Copyright (C) 2024 Barhop Labs.
// See LICENSE for copying information.

package sync2

import (
	"context"
	"time"
)

// Sleep pauses for the duration or until the context is canceled,
// whichever comes first. It returns true when the full duration
// elapsed.
func Sleep(ctx context.Context, duration time.Duration) bool {
	if duration <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(duration)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
