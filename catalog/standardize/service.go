// Copyright (C) 2024 Barhop Labs.
// See LICENSE for copying information.

// Package standardize converts raw upstream documents into the
// canonical standardized form.
package standardize

import (
	"context"
	"encoding/json"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"github.com/barhop/barhop/catalog/businesses"
	"github.com/barhop/barhop/catalog/events"
)

var (
	// Error is the default standardize errs class.
	Error = errs.Class("standardize")

	mon = monkit.Package()
)

// PhotoRef describes one downloadable photo attached to a raw
// document.
type PhotoRef struct {
	ID     string
	URL    string
	Width  int
	Height int
}

// PhotoURLOptions parameterize photo URL construction for sources
// whose media endpoints need credentials.
type PhotoURLOptions struct {
	GoogleAPIKey string
	MaxWidthPx   int
}

// Extract dispatches to the per-source extractor.
func Extract(source businesses.Source, sourceID string, document json.RawMessage) (businesses.Standardized, error) {
	switch source {
	case businesses.SourceGoogle:
		return ExtractGoogle(sourceID, document)
	case businesses.SourceYelp:
		return ExtractYelp(sourceID, document)
	default:
		return businesses.Standardized{}, Error.New("unknown source %q", source)
	}
}

// PhotoRefs collects the photo descriptors from a raw document.
func PhotoRefs(source businesses.Source, document json.RawMessage, opts PhotoURLOptions) []PhotoRef {
	switch source {
	case businesses.SourceGoogle:
		return googlePhotoRefs(document, opts)
	case businesses.SourceYelp:
		return yelpPhotoRefs(document)
	default:
		return nil
	}
}

// Service subscribes to raw.collected events and republishes the
// standardized form. Aside from publishing it is pure.
type Service struct {
	log *zap.Logger
	bus *events.Bus
}

// NewService creates the standardizer and subscribes it on the bus.
func NewService(log *zap.Logger, bus *events.Bus) *Service {
	service := &Service{log: log, bus: bus}
	bus.Subscribe(events.TopicRawCollected, "standardizer", service.handleRawCollected)
	return service
}

func (service *Service) handleRawCollected(ctx context.Context, event interface{}) (err error) {
	defer mon.Task()(&ctx)(&err)

	raw, ok := event.(events.RawCollected)
	if !ok {
		return Error.New("unexpected event payload %T", event)
	}

	standardized, err := Extract(raw.Source, raw.SourceID, raw.Document)
	if err != nil {
		return Error.Wrap(err)
	}

	service.log.Debug("standardized business",
		zap.String("source", string(raw.Source)),
		zap.String("sourceID", raw.SourceID),
		zap.String("normalizedName", standardized.NormalizedName))

	service.bus.Publish(ctx, events.TopicStandardized, events.Standardized{Business: standardized})
	return nil
}
