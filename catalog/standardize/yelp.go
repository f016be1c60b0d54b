// Copyright (C) 2024 Barhop Labs.
// See LICENSE for copying information.

package standardize

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/barhop/barhop/catalog/businesses"
)

// yelpDoc is the subset of a Yelp-style business document the
// standardizer reads.
type yelpDoc struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Coordinates struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
	} `json:"coordinates"`
	Location struct {
		DisplayAddress []string `json:"display_address"`
	} `json:"location"`
	Phone      string `json:"phone"`
	Categories []struct {
		Alias string `json:"alias"`
		Title string `json:"title"`
	} `json:"categories"`
	Rating     float64 `json:"rating"`
	Price      string  `json:"price"`
	Photos     []string `json:"photos"`
	Attributes struct {
		BusinessURL string `json:"business_url"`
	} `json:"attributes"`
	Hours []struct {
		Open []struct {
			Day   int    `json:"day"`
			Start string `json:"start"`
			End   string `json:"end"`
		} `json:"open"`
	} `json:"hours"`
}

var yelpDayNames = [...]string{"Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday", "Sunday"}

// ExtractYelp converts a Yelp-style raw document into the canonical
// standardized form.
func ExtractYelp(sourceID string, document json.RawMessage) (businesses.Standardized, error) {
	var doc yelpDoc
	if err := json.Unmarshal(document, &doc); err != nil {
		return businesses.Standardized{}, Error.New("invalid yelp document: %v", err)
	}

	if doc.ID == "" {
		doc.ID = sourceID
	}
	if !isFinite(doc.Coordinates.Latitude) || !isFinite(doc.Coordinates.Longitude) {
		return businesses.Standardized{}, Error.New("yelp document %q has non-finite coordinates", doc.ID)
	}

	categories := make([]string, 0, len(doc.Categories))
	for _, category := range doc.Categories {
		if category.Alias != "" {
			categories = append(categories, category.Alias)
		} else if category.Title != "" {
			categories = append(categories, strings.ToLower(category.Title))
		}
	}

	address := strings.Join(doc.Location.DisplayAddress, ", ")
	isBar, isRestaurant := Classify(categories)

	std := businesses.Standardized{
		Name:              doc.Name,
		NormalizedName:    NormalizeName(doc.Name),
		Address:           address,
		NormalizedAddress: NormalizeAddress(address),
		Latitude:          doc.Coordinates.Latitude,
		Longitude:         doc.Coordinates.Longitude,
		Phone:             doc.Phone,
		NormalizedPhone:   NormalizePhone(doc.Phone),
		Website:           doc.Attributes.BusinessURL,
		Domain:            NormalizeDomain(doc.Attributes.BusinessURL),
		IsBar:             isBar,
		IsRestaurant:      isRestaurant,
		Categories:        dedupeCategories(categories),
		RatingYelp:        doc.Rating,
		PriceLevel:        YelpPriceLevel(doc.Price),
		OperatingHours:    yelpHours(doc),
		Source:            businesses.SourceYelp,
		SourceID:          doc.ID,
	}
	std.RatingOverall = std.RatingYelp
	return std, nil
}

func yelpHours(doc yelpDoc) []string {
	var out []string
	for _, block := range doc.Hours {
		for _, open := range block.Open {
			if open.Day < 0 || open.Day >= len(yelpDayNames) {
				continue
			}
			out = append(out, fmt.Sprintf("%s: %s-%s",
				yelpDayNames[open.Day], clockHHMM(open.Start), clockHHMM(open.End)))
		}
	}
	return out
}

// clockHHMM converts yelp's "1600" into "16:00".
func clockHHMM(hhmm string) string {
	if len(hhmm) != 4 {
		return hhmm
	}
	return hhmm[:2] + ":" + hhmm[2:]
}

func yelpPhotoRefs(document json.RawMessage) []PhotoRef {
	var doc yelpDoc
	if err := json.Unmarshal(document, &doc); err != nil {
		return nil
	}
	refs := make([]PhotoRef, 0, len(doc.Photos))
	for i, url := range doc.Photos {
		if url == "" {
			continue
		}
		refs = append(refs, PhotoRef{
			ID:  fmt.Sprintf("%s-photo-%d", doc.ID, i),
			URL: url,
		})
	}
	return refs
}

func dedupeCategories(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		lower := strings.ToLower(v)
		if _, ok := seen[lower]; ok {
			continue
		}
		seen[lower] = struct{}{}
		out = append(out, lower)
	}
	return out
}
