// Copyright (C) 2024 Barhop Labs.
// See LICENSE for copying information.

package costcontrol

import (
	"context"
	"sync"
	"time"

	"github.com/spacemonkeygo/monkit/v3"
	"go.uber.org/zap"
)

var mon = monkit.Package()

// Config contains configurable values for cost control.
type Config struct {
	MonthlyBudgetUSD   float64 `help:"monthly object-store budget in USD" default:"20"`
	AlertThreshold     float64 `help:"fraction of the budget that triggers a warning" default:"0.80"`
	EmergencyThreshold float64 `help:"fraction of the budget that triggers emergency mode" default:"0.95"`

	TokenCapacity        float64 `help:"token bucket capacity" default:"1000"`
	TokenRefillPerMinute float64 `help:"tokens added per minute" default:"10"`

	BaseRequestCost   float64 `help:"cost of one PUT or LIST class request in USD" default:"0.000005"`
	BaseGetCost       float64 `help:"cost of one GET class request in USD" default:"0.0000004"`
	TransferCostPerGB float64 `help:"cost of one transferred gigabyte in USD" default:"0.09"`
}

// Request describes the operation a caller wants to run.
type Request struct {
	Type           OperationType
	EstimatedBytes int64
	BusinessID     string
	PhotoID        string
	StorageKey     string
	CDNPurged      bool
}

// Work performs the gated operation and reports the bytes actually
// moved.
type Work func(ctx context.Context) (bytes int64, err error)

// Service is the cost controller. The token bucket is process local;
// the budget ledger lives in the DB and is shared.
type Service struct {
	log    *zap.Logger
	db     DB
	config Config

	mu     sync.Mutex
	tokens float64
	last   time.Time

	nowFn func() time.Time
}

// NewService creates a cost controller with a full token bucket.
func NewService(log *zap.Logger, db DB, config Config) *Service {
	service := &Service{
		log:    log,
		db:     db,
		config: config,
		tokens: config.TokenCapacity,
		nowFn:  time.Now,
	}
	service.last = service.nowFn()
	return service
}

// SetNow overrides the clock, for tests.
func (service *Service) SetNow(now func() time.Time) {
	service.nowFn = now
	service.mu.Lock()
	service.last = now()
	service.mu.Unlock()
}

// EstimateCost implements the contractual cost table.
func (service *Service) EstimateCost(opType OperationType, bytes int64) float64 {
	transfer := float64(bytes) / (1 << 30) * service.config.TransferCostPerGB
	switch opType {
	case OpPut:
		return service.config.BaseRequestCost + transfer
	case OpGet:
		return service.config.BaseGetCost + transfer
	case OpDelete:
		return 0
	case OpList:
		return service.config.BaseRequestCost
	default:
		return service.config.BaseRequestCost + transfer
	}
}

// CheckAndExecute gates work behind the token bucket and the budget
// ledger. On success the actual cost is recorded in the operation log
// and added to the month's spend.
func (service *Service) CheckAndExecute(ctx context.Context, request Request, work Work) (err error) {
	defer mon.Task()(&ctx)(&err)

	now := service.nowFn()
	estimated := service.EstimateCost(request.Type, request.EstimatedBytes)

	if !service.takeToken(now) {
		mon.Counter("costcontrol_denied", monkit.NewSeriesTag("reason", "rate")).Inc(1)
		return ErrRateLimited.Wrap(&denial{
			retryAfter: time.Minute,
			message:    "token bucket empty",
		})
	}

	budget, err := service.db.EnsureBudget(ctx, MonthYear(now),
		service.config.MonthlyBudgetUSD, service.config.AlertThreshold, service.config.EmergencyThreshold)
	if err != nil {
		service.refundToken()
		return Error.Wrap(err)
	}

	if budget.EmergencyMode {
		service.refundToken()
		mon.Counter("costcontrol_denied", monkit.NewSeriesTag("reason", "emergency")).Inc(1)
		return ErrEmergency.Wrap(&denial{
			retryAfter: untilNextMonth(now),
			message:    "emergency mode active until month rollover",
		})
	}

	if estimated > 0 && budget.CurrentSpent+estimated > budget.TotalBudget {
		service.refundToken()
		mon.Counter("costcontrol_denied", monkit.NewSeriesTag("reason", "budget")).Inc(1)
		if err := service.db.SetEmergencyMode(ctx, budget.MonthYear, true); err != nil {
			service.log.Error("failed to set emergency mode", zap.Error(err))
		} else {
			service.log.Warn("budget exhausted, emergency mode enabled",
				zap.String("month", budget.MonthYear),
				zap.Float64("spent", budget.CurrentSpent),
				zap.Float64("budget", budget.TotalBudget))
		}
		return ErrBudgetExceeded.Wrap(&denial{
			retryAfter: untilNextMonth(now),
			message:    "operation would exceed the monthly budget",
		})
	}

	actualBytes, err := work(ctx)
	if err != nil {
		return err
	}

	actual := service.EstimateCost(request.Type, actualBytes)
	updated, addErr := service.db.AddSpend(ctx, budget.MonthYear, actual)
	if addErr != nil {
		return Error.Wrap(addErr)
	}
	if recErr := service.db.RecordOperation(ctx, Operation{
		Type:          request.Type,
		EstimatedCost: actual,
		Bytes:         actualBytes,
		BusinessID:    request.BusinessID,
		PhotoID:       request.PhotoID,
		StorageKey:    request.StorageKey,
		CDNPurged:     request.CDNPurged,
		CreatedAt:     now,
	}); recErr != nil {
		return Error.Wrap(recErr)
	}

	service.maybeAlert(ctx, updated)
	return nil
}

// EmergencyMode reports whether the current month is in emergency
// mode.
func (service *Service) EmergencyMode(ctx context.Context) (_ bool, err error) {
	defer mon.Task()(&ctx)(&err)

	budget, err := service.currentBudget(ctx)
	if err != nil {
		return false, err
	}
	return budget.EmergencyMode, nil
}

// TriggerEmergency manually enables emergency mode for the current
// month.
func (service *Service) TriggerEmergency(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	budget, err := service.currentBudget(ctx)
	if err != nil {
		return err
	}
	return Error.Wrap(service.db.SetEmergencyMode(ctx, budget.MonthYear, true))
}

// Reset clears emergency mode for the current month.
func (service *Service) Reset(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	budget, err := service.currentBudget(ctx)
	if err != nil {
		return err
	}
	return Error.Wrap(service.db.SetEmergencyMode(ctx, budget.MonthYear, false))
}

// Report summarizes the current month.
type Report struct {
	MonthYear        string
	TotalBudget      float64
	CurrentSpent     float64
	Remaining        float64
	DailyAverage     float64
	ProjectedMonthly float64
	EmergencyMode    bool
}

// GetReport returns the current-month totals with a straight-line
// projection.
func (service *Service) GetReport(ctx context.Context) (_ Report, err error) {
	defer mon.Task()(&ctx)(&err)

	now := service.nowFn()
	budget, err := service.currentBudget(ctx)
	if err != nil {
		return Report{}, err
	}

	daysElapsed := float64(now.UTC().Day())
	daysInMonth := float64(daysIn(now))
	daily := budget.CurrentSpent / daysElapsed

	return Report{
		MonthYear:        budget.MonthYear,
		TotalBudget:      budget.TotalBudget,
		CurrentSpent:     budget.CurrentSpent,
		Remaining:        budget.TotalBudget - budget.CurrentSpent,
		DailyAverage:     daily,
		ProjectedMonthly: daily * daysInMonth,
		EmergencyMode:    budget.EmergencyMode,
	}, nil
}

// Remaining returns the unspent budget of the current month.
func (service *Service) Remaining(ctx context.Context) (_ float64, err error) {
	defer mon.Task()(&ctx)(&err)

	budget, err := service.currentBudget(ctx)
	if err != nil {
		return 0, err
	}
	return budget.TotalBudget - budget.CurrentSpent, nil
}

func (service *Service) currentBudget(ctx context.Context) (*Budget, error) {
	budget, err := service.db.EnsureBudget(ctx, MonthYear(service.nowFn()),
		service.config.MonthlyBudgetUSD, service.config.AlertThreshold, service.config.EmergencyThreshold)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return budget, nil
}

func (service *Service) maybeAlert(ctx context.Context, budget *Budget) {
	if budget.TotalBudget <= 0 {
		return
	}

	if !budget.AlertSent && budget.CurrentSpent >= budget.AlertThreshold*budget.TotalBudget {
		service.log.Warn("budget alert threshold crossed",
			zap.String("month", budget.MonthYear),
			zap.Float64("spent", budget.CurrentSpent),
			zap.Float64("threshold", budget.AlertThreshold*budget.TotalBudget))
		if err := service.db.SetAlertSent(ctx, budget.MonthYear); err != nil {
			service.log.Error("failed to mark alert as sent", zap.Error(err))
		}
	}

	if !budget.EmergencyMode && budget.CurrentSpent >= budget.EmergencyThreshold*budget.TotalBudget {
		service.log.Warn("budget emergency threshold crossed, enabling emergency mode",
			zap.String("month", budget.MonthYear))
		if err := service.db.SetEmergencyMode(ctx, budget.MonthYear, true); err != nil {
			service.log.Error("failed to set emergency mode", zap.Error(err))
		}
	}
}

func (service *Service) takeToken(now time.Time) bool {
	service.mu.Lock()
	defer service.mu.Unlock()

	elapsed := now.Sub(service.last)
	if elapsed > 0 {
		service.tokens += elapsed.Minutes() * service.config.TokenRefillPerMinute
		if service.tokens > service.config.TokenCapacity {
			service.tokens = service.config.TokenCapacity
		}
		service.last = now
	}

	if service.tokens < 1 {
		return false
	}
	service.tokens--
	return true
}

func (service *Service) refundToken() {
	service.mu.Lock()
	defer service.mu.Unlock()
	if service.tokens < service.config.TokenCapacity {
		service.tokens++
	}
}

func untilNextMonth(now time.Time) time.Duration {
	now = now.UTC()
	next := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
	return next.Sub(now)
}

func daysIn(now time.Time) int {
	now = now.UTC()
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	return first.AddDate(0, 1, -1).Day()
}
