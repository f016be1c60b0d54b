// Copyright (C) 2024 Barhop Labs.
// See LICENSE for copying information.

// Package businesses holds the canonical catalog entities and the
// repository interface the ingestion pipeline writes through.
package businesses

import (
	"context"
	"time"

	"github.com/zeebo/errs"
)

var (
	// Error is the default businesses errs class.
	Error = errs.Class("businesses")
	// ErrNotFound is returned when a business or binding is missing.
	ErrNotFound = errs.Class("business not found")
)

// Source identifies an upstream provider.
type Source string

// Known sources.
const (
	SourceGoogle Source = "GOOGLE"
	SourceYelp   Source = "YELP"
	SourceManual Source = "MANUAL"
)

// Standardized is the canonical intermediate form produced by the
// standardizer. It exists only as an event payload and as input to
// repository operations; it is never persisted standalone.
type Standardized struct {
	Name              string
	NormalizedName    string
	Address           string
	NormalizedAddress string
	Latitude          float64
	Longitude         float64
	Phone             string
	NormalizedPhone   string
	Website           string
	Domain            string
	IsBar             bool
	IsRestaurant      bool
	Categories        []string
	RatingGoogle      float64
	RatingYelp        float64
	RatingOverall     float64
	PriceLevel        int
	OperatingHours    []string
	Source            Source
	SourceID          string
}

// Business is the canonical deduplicated catalog entry.
type Business struct {
	ID                string
	Name              string
	NormalizedName    string
	Address           string
	NormalizedAddress string
	Latitude          float64
	Longitude         float64
	Phone             string
	NormalizedPhone   string
	Website           string
	Domain            string
	IsBar             bool
	IsRestaurant      bool
	Categories        []string
	RatingGoogle      float64
	RatingYelp        float64
	RatingOverall     float64
	PriceLevel        int
	OperatingHours    []string
	Confidence        float64
	LastAnalyzed      time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// SourceBinding maps an upstream (source, sourceId) pair to a
// business. It is the sole carrier of external ids.
type SourceBinding struct {
	Source      Source
	SourceID    string
	BusinessID  string
	LastFetched time.Time
}

// Criteria filters catalog searches. Zero values mean "no filter".
type Criteria struct {
	Name string

	HasLocation bool
	Latitude    float64
	Longitude   float64
	RadiusKm    float64

	Categories []string
	MinRating  float64
	MaxPrice   int

	IsBar        *bool
	IsRestaurant *bool

	WithPhotos bool
	WithDeals  bool

	Limit  int
	Offset int
}

// DB is the catalog repository. Multi-step operations (create, update,
// merge) run in a single transaction together with their source
// binding upsert.
type DB interface {
	// Get returns the business by id or ErrNotFound.
	Get(ctx context.Context, id string) (*Business, error)
	// GetBySource resolves a (source, sourceId) binding to its
	// business, or ErrNotFound.
	GetBySource(ctx context.Context, source Source, sourceID string) (*Business, error)
	// Bindings lists all source bindings of a business.
	Bindings(ctx context.Context, businessID string) ([]SourceBinding, error)
	// Search returns businesses matching the criteria ordered by
	// overall rating descending then name ascending.
	Search(ctx context.Context, criteria Criteria) ([]Business, error)
	// Count returns the number of businesses matching the criteria,
	// ignoring limit and offset.
	Count(ctx context.Context, criteria Criteria) (int64, error)
	// FindPotentialDuplicates returns up to 20 candidates inside a
	// roughly one kilometer bounding box around the standardized
	// coordinates whose normalized name, phone, or domain overlaps.
	FindPotentialDuplicates(ctx context.Context, standardized Standardized) ([]Business, error)
	// Create inserts a new business together with its initial source
	// binding.
	Create(ctx context.Context, standardized Standardized, confidence float64) (*Business, error)
	// Update overwrites the mutable fields, never downgrades
	// confidence, and upserts the source binding.
	Update(ctx context.Context, id string, standardized Standardized, confidence float64) (*Business, error)
	// Merge folds the standardized record into the business using the
	// intelligent-merge rules and upserts the source binding.
	Merge(ctx context.Context, id string, standardized Standardized, confidence float64) (*Business, error)
}

// FromStandardized builds a fresh business from a standardized record.
// The id is assigned by the repository.
func FromStandardized(standardized Standardized, confidence float64, now time.Time) Business {
	return Business{
		Name:              standardized.Name,
		NormalizedName:    standardized.NormalizedName,
		Address:           standardized.Address,
		NormalizedAddress: standardized.NormalizedAddress,
		Latitude:          standardized.Latitude,
		Longitude:         standardized.Longitude,
		Phone:             standardized.Phone,
		NormalizedPhone:   standardized.NormalizedPhone,
		Website:           standardized.Website,
		Domain:            standardized.Domain,
		IsBar:             standardized.IsBar,
		IsRestaurant:      standardized.IsRestaurant,
		Categories:        dedupeStrings(standardized.Categories),
		RatingGoogle:      standardized.RatingGoogle,
		RatingYelp:        standardized.RatingYelp,
		RatingOverall:     overallRating(standardized.RatingGoogle, standardized.RatingYelp),
		PriceLevel:        standardized.PriceLevel,
		OperatingHours:    standardized.OperatingHours,
		Confidence:        confidence,
		LastAnalyzed:      now,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

func dedupeStrings(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func overallRating(ratings ...float64) float64 {
	var sum float64
	var count int
	for _, r := range ratings {
		if r > 0 {
			sum += r
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}
