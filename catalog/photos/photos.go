// Copyright (C) 2024 Barhop Labs.
// See LICENSE for copying information.

// Package photos materializes business photos: download, variant
// upload and catalog rows.
package photos

import (
	"context"
	"time"

	"github.com/zeebo/errs"

	"github.com/barhop/barhop/catalog/businesses"
)

var (
	// Error is the default photos errs class.
	Error = errs.Class("photos")
)

// Photo is one materialized business photo. Storage keys stay empty
// when the upload was denied by cost control; the external URL always
// survives.
type Photo struct {
	ID         string
	BusinessID string
	Source     businesses.Source
	SourceID   string
	Width      int
	Height     int
	URL        string

	KeyOriginal  string
	KeyThumbnail string
	KeySmall     string
	KeyMedium    string
	KeyLarge     string

	MainPhoto     bool
	Format        string
	FileSize      int64
	LastProcessed time.Time
}

// HasStorage reports whether any variant landed in the object store.
func (photo *Photo) HasStorage() bool {
	return photo.KeyOriginal != "" || photo.KeyThumbnail != "" ||
		photo.KeySmall != "" || photo.KeyMedium != "" || photo.KeyLarge != ""
}

// DB persists photo rows.
type DB interface {
	// CountForBusiness returns how many photos the business has.
	CountForBusiness(ctx context.Context, businessID string) (int64, error)
	// ListForBusiness returns the business's photos, main photo first.
	ListForBusiness(ctx context.Context, businessID string) ([]Photo, error)
	// BulkInsert stores the rows, silently skipping duplicates on
	// (businessID, sourceID). Returns how many were inserted.
	BulkInsert(ctx context.Context, photos []Photo) (int, error)
}
