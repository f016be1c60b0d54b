// Copyright (C) 2024 Barhop Labs.
// See LICENSE for copying information.

// Package deals extracts happy-hour style deals from operating-hour
// strings. The stage is off by default.
package deals

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"github.com/barhop/barhop/catalog/businesses"
	"github.com/barhop/barhop/catalog/events"
)

var (
	// Error is the default deals errs class.
	Error = errs.Class("deals")

	mon = monkit.Package()
)

// Deal is one extracted recurring offer. DayOfWeek is nil when the
// source text names no day.
type Deal struct {
	ID          string
	BusinessID  string
	DayOfWeek   *time.Weekday
	StartTime   string // "16:00"
	EndTime     string
	Title       string
	Description string
	ExtractedBy string
	Confidence  float64
	SourceText  string
	IsActive    bool
}

// DB persists deal rows.
type DB interface {
	// CountForBusiness returns how many deals the business has.
	CountForBusiness(ctx context.Context, businessID string) (int64, error)
	// ListForBusiness returns the business's active deals.
	ListForBusiness(ctx context.Context, businessID string) ([]Deal, error)
	// BulkInsert stores the rows, returning how many were inserted.
	BulkInsert(ctx context.Context, deals []Deal) (int, error)
}

// Config contains configurable values for deal extraction.
type Config struct {
	Enabled bool `help:"extract happy-hour deals from operating hours" default:"false"`
}

// Service consumes deduplicated events and materializes deals.
type Service struct {
	log        *zap.Logger
	db         DB
	businesses businesses.DB
	config     Config
}

// NewService subscribes the extractor when enabled.
func NewService(log *zap.Logger, db DB, businessDB businesses.DB, bus *events.Bus, config Config) *Service {
	service := &Service{log: log, db: db, businesses: businessDB, config: config}
	if config.Enabled {
		bus.Subscribe(events.TopicDeduplicated, "deal-extractor", service.handleDeduplicated)
	}
	return service
}

func (service *Service) handleDeduplicated(ctx context.Context, event interface{}) (err error) {
	defer mon.Task()(&ctx)(&err)

	deduplicated, ok := event.(events.Deduplicated)
	if !ok {
		return Error.New("unexpected event type %T", event)
	}
	return service.Process(ctx, deduplicated.BusinessID)
}

// Process extracts deals for one business. Businesses that already
// have deals are left alone.
func (service *Service) Process(ctx context.Context, businessID string) (err error) {
	defer mon.Task()(&ctx)(&err)

	count, err := service.db.CountForBusiness(ctx, businessID)
	if err != nil {
		return Error.Wrap(err)
	}
	if count > 0 {
		return nil
	}

	business, err := service.businesses.Get(ctx, businessID)
	if err != nil {
		return Error.Wrap(err)
	}

	extracted := ExtractFromHours(business.OperatingHours)
	if len(extracted) == 0 {
		return nil
	}
	for i := range extracted {
		extracted[i].ID = uuid.NewString()
		extracted[i].BusinessID = businessID
	}

	inserted, err := service.db.BulkInsert(ctx, extracted)
	if err != nil {
		return Error.Wrap(err)
	}
	if inserted > 0 {
		mon.Counter("deals_extracted").Inc(int64(inserted))
		service.log.Info("extracted deals",
			zap.String("businessID", businessID),
			zap.Int("count", inserted))
	}
	return nil
}
