// Copyright (C) 2024 Barhop Labs.
// See LICENSE for copying information.

// Package dedupe resolves standardized records against the catalog,
// deciding between create, update and merge.
package dedupe

import (
	"context"
	"sort"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"github.com/barhop/barhop/catalog/businesses"
	"github.com/barhop/barhop/catalog/events"
	"github.com/barhop/barhop/catalog/match"
)

var (
	// Error is the default dedupe errs class.
	Error = errs.Class("dedupe")

	mon = monkit.Package()
)

// Confidence thresholds of the decision procedure.
const (
	HighConfidence = 0.90
	LowConfidence  = 0.70

	confidenceEpsilon = 1e-6
)

// Service consumes standardized events and publishes deduplicated
// ones.
type Service struct {
	log *zap.Logger
	db  businesses.DB
	bus *events.Bus
}

// NewService subscribes the deduplicator on the bus.
func NewService(log *zap.Logger, db businesses.DB, bus *events.Bus) *Service {
	service := &Service{log: log, db: db, bus: bus}
	bus.Subscribe(events.TopicStandardized, "deduplicator", service.handleStandardized)
	return service
}

func (service *Service) handleStandardized(ctx context.Context, event interface{}) (err error) {
	defer mon.Task()(&ctx)(&err)

	standardized, ok := event.(events.Standardized)
	if !ok {
		return Error.New("unexpected event type %T", event)
	}

	business, action, confidence, err := service.Resolve(ctx, standardized.Business)
	if err != nil {
		return err
	}

	mon.Counter("dedupe_resolved", monkit.NewSeriesTag("action", string(action))).Inc(1)
	service.bus.Publish(ctx, events.TopicDeduplicated, events.Deduplicated{
		BusinessID: business.ID,
		Action:     action,
		Confidence: confidence,
		Source:     standardized.Business.Source,
		SourceID:   standardized.Business.SourceID,
	})
	return nil
}

// Resolve runs the decision procedure for one standardized record and
// applies the outcome through the repository.
func (service *Service) Resolve(ctx context.Context, standardized businesses.Standardized) (_ *businesses.Business, _ events.Action, confidence float64, err error) {
	defer mon.Task()(&ctx)(&err)

	// an existing binding means we have seen this exact upstream
	// record before
	existing, err := service.db.GetBySource(ctx, standardized.Source, standardized.SourceID)
	if err == nil {
		business, err := service.db.Update(ctx, existing.ID, standardized, 1.0)
		if err != nil {
			return nil, "", 0, Error.Wrap(err)
		}
		return business, events.ActionUpdated, 1.0, nil
	}
	if !businesses.ErrNotFound.Has(err) {
		return nil, "", 0, Error.Wrap(err)
	}

	candidates, err := service.db.FindPotentialDuplicates(ctx, standardized)
	if err != nil {
		return nil, "", 0, Error.Wrap(err)
	}

	best, decision := service.bestCandidate(standardized, candidates)
	if best == nil || !decision.IsMatch || decision.Confidence <= LowConfidence {
		business, err := service.db.Create(ctx, standardized, 1.0)
		if err != nil {
			return nil, "", 0, Error.Wrap(err)
		}
		return business, events.ActionCreated, 1.0, nil
	}

	if decision.Confidence >= HighConfidence {
		business, err := service.db.Merge(ctx, best.ID, standardized, decision.Confidence)
		if err != nil {
			return nil, "", 0, Error.Wrap(err)
		}
		return business, events.ActionMerged, decision.Confidence, nil
	}

	// mid-band: merge only when the incoming record genuinely improves
	// the existing one
	if improvements(*best, standardized) >= 2 {
		business, err := service.db.Merge(ctx, best.ID, standardized, decision.Confidence)
		if err != nil {
			return nil, "", 0, Error.Wrap(err)
		}
		return business, events.ActionMerged, decision.Confidence, nil
	}

	business, err := service.db.Update(ctx, best.ID, standardized, decision.Confidence)
	if err != nil {
		return nil, "", 0, Error.Wrap(err)
	}
	return business, events.ActionUpdated, decision.Confidence, nil
}

// bestCandidate scores every candidate and returns the winner. Ties
// within epsilon break on distance to the standardized coordinates,
// then on the smaller id.
func (service *Service) bestCandidate(standardized businesses.Standardized, candidates []businesses.Business) (*businesses.Business, match.Decision) {
	input := match.Input{
		NormalizedName:  standardized.NormalizedName,
		Latitude:        standardized.Latitude,
		Longitude:       standardized.Longitude,
		NormalizedPhone: standardized.NormalizedPhone,
		Domain:          standardized.Domain,
	}

	type scored struct {
		business *businesses.Business
		decision match.Decision
		distance float64
	}

	results := make([]scored, 0, len(candidates))
	for i := range candidates {
		candidate := &candidates[i]
		results = append(results, scored{
			business: candidate,
			decision: match.Compare(input, match.Input{
				NormalizedName:  candidate.NormalizedName,
				Latitude:        candidate.Latitude,
				Longitude:       candidate.Longitude,
				NormalizedPhone: candidate.NormalizedPhone,
				Domain:          candidate.Domain,
			}),
			distance: match.HaversineKm(standardized.Latitude, standardized.Longitude, candidate.Latitude, candidate.Longitude),
		})
	}
	if len(results) == 0 {
		return nil, match.Decision{}
	}

	sort.Slice(results, func(i, j int) bool {
		di, dj := results[i].decision.Confidence, results[j].decision.Confidence
		if di-dj > confidenceEpsilon {
			return true
		}
		if dj-di > confidenceEpsilon {
			return false
		}
		if results[i].distance != results[j].distance {
			return results[i].distance < results[j].distance
		}
		return results[i].business.ID < results[j].business.ID
	})
	return results[0].business, results[0].decision
}

// improvements counts how many data-quality signals the incoming
// record newly supplies.
func improvements(existing businesses.Business, incoming businesses.Standardized) int {
	count := 0
	if existing.NormalizedPhone == "" && incoming.NormalizedPhone != "" {
		count++
	}
	if existing.Website == "" && incoming.Website != "" {
		count++
	}
	if len(existing.OperatingHours) == 0 && len(incoming.OperatingHours) > 0 {
		count++
	}
	if len(incoming.Categories) > len(existing.Categories) {
		count++
	}
	if missingSourceRating(existing, incoming) {
		count++
	}
	if existing.PriceLevel == 0 && incoming.PriceLevel > 0 {
		count++
	}
	return count
}

func missingSourceRating(existing businesses.Business, incoming businesses.Standardized) bool {
	switch incoming.Source {
	case businesses.SourceGoogle:
		return existing.RatingGoogle == 0 && incoming.RatingGoogle > 0
	case businesses.SourceYelp:
		return existing.RatingYelp == 0 && incoming.RatingYelp > 0
	default:
		return false
	}
}
