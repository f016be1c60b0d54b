// Copyright (C) 2024 Barhop Labs.
// See LICENSE for copying information.

// Package costcontrol gates every object-store operation behind a
// token bucket and a monthly budget ledger.
package costcontrol

import (
	"context"
	"time"

	"github.com/zeebo/errs"
)

var (
	// Error is the default costcontrol errs class.
	Error = errs.Class("costcontrol")

	// ErrRateLimited is a soft denial from the token bucket; callers
	// may retry after the attached delay.
	ErrRateLimited = errs.Class("rate limited")
	// ErrEmergency is a hard denial while emergency mode is active;
	// it clears at month rollover or explicit reset.
	ErrEmergency = errs.Class("emergency mode")
	// ErrBudgetExceeded is a hard denial because the operation would
	// overrun the monthly budget; raising it flips emergency mode.
	ErrBudgetExceeded = errs.Class("budget exceeded")
)

// OperationType enumerates the costed object-store operations.
type OperationType string

// Operation types.
const (
	OpPut    OperationType = "PUT"
	OpGet    OperationType = "GET"
	OpDelete OperationType = "DELETE"
	OpList   OperationType = "LIST"
)

// Operation is one entry of the append-only cost ledger.
type Operation struct {
	Type          OperationType
	EstimatedCost float64
	Bytes         int64
	BusinessID    string
	PhotoID       string
	StorageKey    string
	CDNPurged     bool
	CreatedAt     time.Time
}

// Budget is the ledger row for one month.
type Budget struct {
	MonthYear          string // "YYYY-MM"
	TotalBudget        float64
	CurrentSpent       float64
	AlertThreshold     float64
	EmergencyThreshold float64
	EmergencyMode      bool
	AlertSent          bool
	CDNBandwidthUsed   int64
	CDNRequestsUsed    int64
}

// DB persists the budget ledger and the operation log. AddSpend must
// be atomic so concurrent workers cannot lose increments.
type DB interface {
	// EnsureBudget returns the month's budget row, creating it with
	// the given defaults when missing.
	EnsureBudget(ctx context.Context, monthYear string, totalBudget, alertThreshold, emergencyThreshold float64) (*Budget, error)
	// AddSpend atomically increments the month's spend and returns
	// the updated row.
	AddSpend(ctx context.Context, monthYear string, cost float64) (*Budget, error)
	// SetEmergencyMode flips the emergency flag.
	SetEmergencyMode(ctx context.Context, monthYear string, on bool) error
	// SetAlertSent marks the soft-threshold alert as delivered.
	SetAlertSent(ctx context.Context, monthYear string) error
	// RecordOperation appends to the operation log.
	RecordOperation(ctx context.Context, op Operation) error
	// TotalOperationCost sums the logged cost of a month.
	TotalOperationCost(ctx context.Context, monthYear string) (float64, error)
	// AddCDNUsage accumulates CDN bandwidth and request counters.
	AddCDNUsage(ctx context.Context, monthYear string, bandwidth, requests int64) error
}

// MonthYear formats the budget key for a point in time.
func MonthYear(t time.Time) string {
	return t.UTC().Format("2006-01")
}

type denial struct {
	retryAfter time.Duration
	message    string
}

func (d *denial) Error() string { return d.message }

// RetryAfter extracts the suggested retry delay from a denial error.
func RetryAfter(err error) (time.Duration, bool) {
	var d *denial
	if errs.IsFunc(err, func(err error) bool {
		var ok bool
		d, ok = err.(*denial)
		return ok
	}) {
		return d.retryAfter, true
	}
	return 0, false
}

// IsDenial reports whether the error is any cost-control denial.
func IsDenial(err error) bool {
	return ErrRateLimited.Has(err) || ErrEmergency.Has(err) || ErrBudgetExceeded.Has(err)
}
