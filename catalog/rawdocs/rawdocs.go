// Copyright (C) 2024 Barhop Labs.
// See LICENSE for copying information.

// Package rawdocs stores immutable snapshots of upstream records.
package rawdocs

import (
	"context"
	"encoding/json"
	"time"

	"github.com/zeebo/errs"

	"github.com/barhop/barhop/catalog/businesses"
)

var (
	// Error is the default rawdocs errs class.
	Error = errs.Class("rawdocs")
	// ErrNotFound is returned for missing snapshots.
	ErrNotFound = errs.Class("raw business not found")
)

// RawBusiness is a snapshot of a single upstream record. Later
// pipeline stages never mutate it.
type RawBusiness struct {
	Source      businesses.Source
	SourceID    string
	Document    json.RawMessage
	FirstSeen   time.Time
	LastFetched time.Time
}

// DB persists raw business snapshots keyed by (source, sourceId).
type DB interface {
	// Upsert stores the document, setting FirstSeen on first insert
	// and bumping LastFetched on every call.
	Upsert(ctx context.Context, source businesses.Source, sourceID string, document json.RawMessage) error
	// Get returns the snapshot or ErrNotFound.
	Get(ctx context.Context, source businesses.Source, sourceID string) (*RawBusiness, error)
}
