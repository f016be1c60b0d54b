// Copyright (C) 2024 Barhop Labs.
// See LICENSE for copying information.

package collector

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/barhop/barhop/catalog/businesses"
	"github.com/barhop/barhop/catalog/jobqueue"
)

const yelpBaseURL = "https://api.yelp.com/v3"

// yelp caps radius at 40000 m and page size at 50
const (
	yelpMaxRadiusMeters = 40000
	yelpMaxPageSize     = 50
)

// YelpSource pages a Yelp-style provider. Pagination uses offsets; the
// continuation token is the next offset.
type YelpSource struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// NewYelpSource creates a source talking to the real endpoint.
func NewYelpSource(apiKey string, timeout time.Duration) *YelpSource {
	return &YelpSource{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    yelpBaseURL,
		apiKey:     apiKey,
	}
}

// NewYelpSourceURL creates a source against a custom endpoint, for
// tests.
func NewYelpSourceURL(apiKey, baseURL string, timeout time.Duration) *YelpSource {
	source := NewYelpSource(apiKey, timeout)
	source.baseURL = baseURL
	return source
}

// Name implements Source.
func (source *YelpSource) Name() businesses.Source { return businesses.SourceYelp }

// SearchNearby implements Source.
func (source *YelpSource) SearchNearby(ctx context.Context, page Page) (_ []Record, nextPageToken string, err error) {
	defer mon.Task()(&ctx)(&err)

	offset := 0
	if page.PageToken != "" {
		offset, err = strconv.Atoi(page.PageToken)
		if err != nil {
			return nil, "", jobqueue.ErrPermanent.Wrap(Error.New("bad page token %q", page.PageToken))
		}
	}

	limit := page.MaxResultCount
	if limit <= 0 || limit > yelpMaxPageSize {
		limit = yelpMaxPageSize
	}
	radius := int(page.RadiusMeters)
	if radius <= 0 || radius > yelpMaxRadiusMeters {
		radius = yelpMaxRadiusMeters
	}

	query := url.Values{}
	query.Set("latitude", strconv.FormatFloat(page.Latitude, 'f', -1, 64))
	query.Set("longitude", strconv.FormatFloat(page.Longitude, 'f', -1, 64))
	query.Set("radius", strconv.Itoa(radius))
	query.Set("limit", strconv.Itoa(limit))
	query.Set("offset", strconv.Itoa(offset))
	query.Set("categories", "bars,restaurants")

	data, err := source.get(ctx, "/businesses/search?"+query.Encode())
	if err != nil {
		return nil, "", err
	}

	var response struct {
		Businesses []json.RawMessage `json:"businesses"`
		Total      int               `json:"total"`
	}
	if err := json.Unmarshal(data, &response); err != nil {
		return nil, "", Error.Wrap(err)
	}

	records := make([]Record, 0, len(response.Businesses))
	for _, business := range response.Businesses {
		var header struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(business, &header); err != nil || header.ID == "" {
			continue
		}
		records = append(records, Record{SourceID: header.ID, Document: business})
	}

	next := offset + len(response.Businesses)
	if len(response.Businesses) > 0 && next < response.Total {
		nextPageToken = strconv.Itoa(next)
	}
	return records, nextPageToken, nil
}

// PlaceDetails implements Source. Yelp has a single detail level.
func (source *YelpSource) PlaceDetails(ctx context.Context, id string, level DetailLevel) (_ Record, err error) {
	defer mon.Task()(&ctx)(&err)

	data, err := source.get(ctx, "/businesses/"+url.PathEscape(id))
	if err != nil {
		return Record{}, err
	}
	return Record{SourceID: id, Document: data}, nil
}

func (source *YelpSource) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source.baseURL+path, nil)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	req.Header.Set("Authorization", "Bearer "+source.apiKey)

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
	case resp.StatusCode == http.StatusForbidden, resp.StatusCode == http.StatusUnauthorized:
		return nil, jobqueue.ErrPermanent.Wrap(Error.New("yelp rejected the api key: %s", string(data)))
	case resp.StatusCode == http.StatusNotFound:
		return nil, jobqueue.ErrPermanent.Wrap(Error.New("yelp resource not found: %s", path))
	default:
		return nil, Error.New("yelp returned status %d", resp.StatusCode)
	}
}
