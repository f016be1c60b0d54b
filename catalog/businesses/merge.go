// Copyright (C) 2024 Barhop Labs.
// See LICENSE for copying information.

package businesses

import (
	"sort"
	"time"
)

// Merge folds an incoming standardized record into an existing
// business. The rules, per field:
//
//   - name: keep the longer one, existing wins ties
//   - coordinates and address: latest wins
//   - phone, website, domain: keep existing when non-empty
//   - categories: union preserving first occurrence, then sorted
//   - per-source ratings: incoming value only for the incoming source
//   - overall rating: mean of the per-source ratings that are present
//   - price level: incoming when set
//   - operating hours: incoming when non-empty
//   - confidence: always the provided decision confidence
func Merge(existing Business, incoming Standardized, confidence float64, now time.Time) Business {
	merged := existing

	if len(incoming.Name) > len(existing.Name) {
		merged.Name = incoming.Name
		merged.NormalizedName = incoming.NormalizedName
	}

	merged.Latitude = incoming.Latitude
	merged.Longitude = incoming.Longitude
	if incoming.Address != "" {
		merged.Address = incoming.Address
		merged.NormalizedAddress = incoming.NormalizedAddress
	}

	if merged.Phone == "" {
		merged.Phone = incoming.Phone
		merged.NormalizedPhone = incoming.NormalizedPhone
	}
	if merged.Website == "" {
		merged.Website = incoming.Website
	}
	if merged.Domain == "" {
		merged.Domain = incoming.Domain
	}

	merged.Categories = unionSorted(existing.Categories, incoming.Categories)
	merged.IsBar = existing.IsBar || incoming.IsBar
	merged.IsRestaurant = existing.IsRestaurant || incoming.IsRestaurant

	switch incoming.Source {
	case SourceGoogle:
		if incoming.RatingGoogle > 0 {
			merged.RatingGoogle = incoming.RatingGoogle
		}
	case SourceYelp:
		if incoming.RatingYelp > 0 {
			merged.RatingYelp = incoming.RatingYelp
		}
	}
	merged.RatingOverall = overallRating(merged.RatingGoogle, merged.RatingYelp)

	if incoming.PriceLevel > 0 {
		merged.PriceLevel = incoming.PriceLevel
	}
	if len(incoming.OperatingHours) > 0 {
		merged.OperatingHours = incoming.OperatingHours
	}

	merged.Confidence = confidence
	merged.LastAnalyzed = now
	merged.UpdatedAt = now

	return merged
}

func unionSorted(existing, incoming []string) []string {
	out := dedupeStrings(append(append([]string{}, existing...), incoming...))
	sort.SliceStable(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
