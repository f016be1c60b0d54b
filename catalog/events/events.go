// Copyright (C) 2024 Barhop Labs.
// See LICENSE for copying information.

// Package events implements the in-process event bus connecting the
// ingestion stages, together with the typed event payloads.
package events

import (
	"encoding/json"

	"github.com/barhop/barhop/catalog/businesses"
)

// Topic names an event stream.
type Topic string

// Pipeline topics, in stage order.
const (
	TopicRawCollected    Topic = "raw.collected"
	TopicStandardized    Topic = "standardized"
	TopicDeduplicated    Topic = "deduplicated"
	TopicPhotosProcessed Topic = "photos.processed"
)

// RawCollected is published once per upstream record after its
// snapshot has been upserted.
type RawCollected struct {
	Source   businesses.Source
	SourceID string
	Document json.RawMessage
}

// Standardized is published after per-source extraction.
type Standardized struct {
	Business businesses.Standardized
}

// Action describes the deduplication outcome.
type Action string

// Deduplication actions.
const (
	ActionCreated Action = "created"
	ActionUpdated Action = "updated"
	ActionMerged  Action = "merged"
)

// Deduplicated is published after the business has been resolved
// against the catalog.
type Deduplicated struct {
	BusinessID string
	Action     Action
	Confidence float64
	Source     businesses.Source
	SourceID   string
}

// PhotosProcessed is published after at least one photo row has been
// written for a business.
type PhotosProcessed struct {
	BusinessID      string
	PhotosProcessed int
	MainPhotoSet    bool
	HasStorage      bool
}
