// Copyright (C) 2024 Barhop Labs.
// See LICENSE for copying information.

package collector

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/barhop/barhop/catalog/businesses"
	"github.com/barhop/barhop/catalog/jobqueue"
)

const googleBaseURL = "https://places.googleapis.com/v1"

// Field masks per detail level. The search mask matches what the
// standardizer extracts; full adds the expensive contact fields.
const (
	googleSearchFieldMask = "places.id,places.displayName,places.formattedAddress,places.location,places.types,places.rating,places.priceLevel,places.photos"
	googleBasicFieldMask  = "id,displayName,formattedAddress,location,types,rating,priceLevel,photos"
	googleFullFieldMask   = googleBasicFieldMask + ",internationalPhoneNumber,websiteUri,regularOpeningHours"
)

// GoogleSource pages a Google-Places-style provider.
type GoogleSource struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// NewGoogleSource creates a source talking to the real endpoint.
func NewGoogleSource(apiKey string, timeout time.Duration) *GoogleSource {
	return &GoogleSource{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    googleBaseURL,
		apiKey:     apiKey,
	}
}

// NewGoogleSourceURL creates a source against a custom endpoint, for
// tests.
func NewGoogleSourceURL(apiKey, baseURL string, timeout time.Duration) *GoogleSource {
	source := NewGoogleSource(apiKey, timeout)
	source.baseURL = baseURL
	return source
}

// Name implements Source.
func (source *GoogleSource) Name() businesses.Source { return businesses.SourceGoogle }

// SearchNearby implements Source.
func (source *GoogleSource) SearchNearby(ctx context.Context, page Page) (_ []Record, nextPageToken string, err error) {
	defer mon.Task()(&ctx)(&err)

	body, err := json.Marshal(map[string]interface{}{
		"includedTypes":  page.IncludedTypes,
		"excludedTypes":  page.ExcludedTypes,
		"maxResultCount": page.MaxResultCount,
		"locationRestriction": map[string]interface{}{
			"circle": map[string]interface{}{
				"center": map[string]interface{}{
					"latitude":  page.Latitude,
					"longitude": page.Longitude,
				},
				"radius": page.RadiusMeters,
			},
		},
	})
	if err != nil {
		return nil, "", Error.Wrap(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, source.baseURL+"/places:searchNearby", bytes.NewReader(body))
	if err != nil {
		return nil, "", Error.Wrap(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Goog-Api-Key", source.apiKey)
	req.Header.Set("X-Goog-FieldMask", googleSearchFieldMask)

	data, err := source.do(req)
	if err != nil {
		return nil, "", err
	}

	var response struct {
		Places        []json.RawMessage `json:"places"`
		NextPageToken string            `json:"nextPageToken"`
	}
	if err := json.Unmarshal(data, &response); err != nil {
		return nil, "", Error.Wrap(err)
	}

	records := make([]Record, 0, len(response.Places))
	for _, place := range response.Places {
		var header struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(place, &header); err != nil || header.ID == "" {
			continue
		}
		records = append(records, Record{SourceID: header.ID, Document: place})
	}
	return records, response.NextPageToken, nil
}

// PlaceDetails implements Source.
func (source *GoogleSource) PlaceDetails(ctx context.Context, id string, level DetailLevel) (_ Record, err error) {
	defer mon.Task()(&ctx)(&err)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source.baseURL+"/places/"+id, nil)
	if err != nil {
		return Record{}, Error.Wrap(err)
	}
	mask := googleBasicFieldMask
	if level == DetailFull {
		mask = googleFullFieldMask
	}
	req.Header.Set("X-Goog-Api-Key", source.apiKey)
	req.Header.Set("X-Goog-FieldMask", mask)

	data, err := source.do(req)
	if err != nil {
		return Record{}, err
	}
	return Record{SourceID: id, Document: data}, nil
}

func (source *GoogleSource) do(req *http.Request) ([]byte, error) {
	resp, err := source.httpClient.Do(req)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, Error.Wrap(err)
	}
	switch {
	case resp.StatusCode == http.StatusOK:
		return data, nil
	case resp.StatusCode == http.StatusForbidden:
		return nil, jobqueue.ErrPermanent.Wrap(Error.New("google rejected the api key: %s", string(data)))
	case resp.StatusCode == http.StatusNotFound:
		return nil, jobqueue.ErrPermanent.Wrap(Error.New("google resource not found: %s", req.URL.Path))
	default:
		return nil, Error.New("google returned status %d", resp.StatusCode)
	}
}
