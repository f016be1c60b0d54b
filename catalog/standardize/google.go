// Copyright (C) 2024 Barhop Labs.
// See LICENSE for copying information.

package standardize

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/barhop/barhop/catalog/businesses"
)

// googleDoc is the subset of a Google-Places-style place document the
// standardizer reads.
type googleDoc struct {
	ID          string `json:"id"`
	DisplayName struct {
		Text string `json:"text"`
	} `json:"displayName"`
	FormattedAddress string `json:"formattedAddress"`
	Location         struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
	} `json:"location"`
	InternationalPhoneNumber string   `json:"internationalPhoneNumber"`
	NationalPhoneNumber      string   `json:"nationalPhoneNumber"`
	WebsiteURI               string   `json:"websiteUri"`
	Types                    []string `json:"types"`
	Rating                   float64  `json:"rating"`
	PriceLevel               string   `json:"priceLevel"`
	RegularOpeningHours      struct {
		WeekdayDescriptions []string `json:"weekdayDescriptions"`
	} `json:"regularOpeningHours"`
	Photos []googlePhoto `json:"photos"`
}

type googlePhoto struct {
	Name     string `json:"name"`
	WidthPx  int    `json:"widthPx"`
	HeightPx int    `json:"heightPx"`
}

// ExtractGoogle converts a Google-style raw document into the
// canonical standardized form.
func ExtractGoogle(sourceID string, document json.RawMessage) (businesses.Standardized, error) {
	var doc googleDoc
	if err := json.Unmarshal(document, &doc); err != nil {
		return businesses.Standardized{}, Error.New("invalid google document: %v", err)
	}

	if doc.ID == "" {
		doc.ID = sourceID
	}
	if !isFinite(doc.Location.Latitude) || !isFinite(doc.Location.Longitude) {
		return businesses.Standardized{}, Error.New("google document %q has non-finite coordinates", doc.ID)
	}

	phone := doc.InternationalPhoneNumber
	if phone == "" {
		phone = doc.NationalPhoneNumber
	}

	isBar, isRestaurant := Classify(doc.Types)

	std := businesses.Standardized{
		Name:              doc.DisplayName.Text,
		NormalizedName:    NormalizeName(doc.DisplayName.Text),
		Address:           doc.FormattedAddress,
		NormalizedAddress: NormalizeAddress(doc.FormattedAddress),
		Latitude:          doc.Location.Latitude,
		Longitude:         doc.Location.Longitude,
		Phone:             phone,
		NormalizedPhone:   NormalizePhone(phone),
		Website:           doc.WebsiteURI,
		Domain:            NormalizeDomain(doc.WebsiteURI),
		IsBar:             isBar,
		IsRestaurant:      isRestaurant,
		Categories:        dedupeCategories(doc.Types),
		RatingGoogle:      doc.Rating,
		PriceLevel:        GooglePriceLevel(doc.PriceLevel),
		OperatingHours:    doc.RegularOpeningHours.WeekdayDescriptions,
		Source:            businesses.SourceGoogle,
		SourceID:          doc.ID,
	}
	std.RatingOverall = std.RatingGoogle
	return std, nil
}

func googlePhotoRefs(document json.RawMessage, opts PhotoURLOptions) []PhotoRef {
	var doc googleDoc
	if err := json.Unmarshal(document, &doc); err != nil {
		return nil
	}
	refs := make([]PhotoRef, 0, len(doc.Photos))
	for _, photo := range doc.Photos {
		if photo.Name == "" {
			continue
		}
		maxWidth := opts.MaxWidthPx
		if maxWidth == 0 {
			maxWidth = 1600
		}
		refs = append(refs, PhotoRef{
			ID:     photo.Name,
			URL:    fmt.Sprintf("https://places.googleapis.com/v1/%s/media?maxWidthPx=%d&key=%s", photo.Name, maxWidth, opts.GoogleAPIKey),
			Width:  photo.WidthPx,
			Height: photo.HeightPx,
		})
	}
	return refs
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
