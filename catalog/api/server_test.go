// Copyright (C) 2024 Barhop Labs.
// See LICENSE for copying information.

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/barhop/barhop/catalog/businesses"
	"github.com/barhop/barhop/catalog/collector"
	"github.com/barhop/barhop/catalog/deals"
	"github.com/barhop/barhop/catalog/jobqueue"
	"github.com/barhop/barhop/catalog/photos"
)

type fakeEnqueuer struct {
	searches []collector.SearchNearbyPayload
}

func (fake *fakeEnqueuer) newJob() *jobqueue.Job {
	return &jobqueue.Job{ID: uuid.NewString(), Status: jobqueue.StatusWaiting}
}

func (fake *fakeEnqueuer) EnqueueSearch(ctx context.Context, payload collector.SearchNearbyPayload) (*jobqueue.Job, error) {
	fake.searches = append(fake.searches, payload)
	return fake.newJob(), nil
}

func (fake *fakeEnqueuer) EnqueueSearchBulk(ctx context.Context, payloads []collector.SearchNearbyPayload) ([]*jobqueue.Job, error) {
	fake.searches = append(fake.searches, payloads...)
	jobs := make([]*jobqueue.Job, len(payloads))
	for i := range jobs {
		jobs[i] = fake.newJob()
	}
	return jobs, nil
}

func (fake *fakeEnqueuer) EnqueueCity(ctx context.Context, city string) ([]*jobqueue.Job, error) {
	coordinates, ok := collector.CityCoordinates(city)
	if !ok {
		return nil, collector.ErrUnknownCity.New("%s", city)
	}
	jobs := make([]*jobqueue.Job, len(coordinates))
	for i := range jobs {
		jobs[i] = fake.newJob()
	}
	return jobs, nil
}

type fakeStats struct{ stats jobqueue.Stats }

func (fake *fakeStats) Stats(ctx context.Context) (jobqueue.Stats, error) { return fake.stats, nil }

type fakeCatalog struct {
	businesses.DB
	items []businesses.Business
}

func (fake *fakeCatalog) Get(ctx context.Context, id string) (*businesses.Business, error) {
	for _, business := range fake.items {
		if business.ID == id {
			return &business, nil
		}
	}
	return nil, businesses.ErrNotFound.New("%s", id)
}

func (fake *fakeCatalog) Search(ctx context.Context, criteria businesses.Criteria) ([]businesses.Business, error) {
	matched := fake.matching(criteria)
	if criteria.Offset > 0 {
		if criteria.Offset >= len(matched) {
			return nil, nil
		}
		matched = matched[criteria.Offset:]
	}
	if criteria.Limit > 0 && len(matched) > criteria.Limit {
		matched = matched[:criteria.Limit]
	}
	return matched, nil
}

func (fake *fakeCatalog) Count(ctx context.Context, criteria businesses.Criteria) (int64, error) {
	return int64(len(fake.matching(criteria))), nil
}

func (fake *fakeCatalog) matching(criteria businesses.Criteria) []businesses.Business {
	var matched []businesses.Business
	for _, business := range fake.items {
		if criteria.IsBar != nil && business.IsBar != *criteria.IsBar {
			continue
		}
		if len(criteria.Categories) > 0 {
			found := false
			for _, category := range business.Categories {
				if category == criteria.Categories[0] {
					found = true
				}
			}
			if !found {
				continue
			}
		}
		matched = append(matched, business)
	}
	return matched
}

type fakePhotos struct {
	photos.DB
	rows []photos.Photo
}

func (fake *fakePhotos) ListForBusiness(ctx context.Context, businessID string) ([]photos.Photo, error) {
	return fake.rows, nil
}

type fakeDeals struct {
	deals.DB
	rows []deals.Deal
}

func (fake *fakeDeals) ListForBusiness(ctx context.Context, businessID string) ([]deals.Deal, error) {
	return fake.rows, nil
}

func testServer(t *testing.T, config Config) (*Server, *fakeEnqueuer, *fakeCatalog) {
	if config.RateLimit.Duration == 0 {
		config.RateLimit = RateLimiterConfig{Duration: time.Minute, Burst: 1000, NumLimits: 100}
	}
	enqueuer := &fakeEnqueuer{}
	catalog := &fakeCatalog{}
	server := NewServer(zaptest.NewLogger(t), config, nil,
		enqueuer, &fakeStats{stats: jobqueue.Stats{Waiting: 2, Completed: 5}},
		catalog, &fakePhotos{}, &fakeDeals{}, nil)
	return server, enqueuer, catalog
}

func doJSON(t *testing.T, server *Server, method, path, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("{}")
	} else {
		reader = strings.NewReader(body)
	}
	request := httptest.NewRequest(method, path, reader)
	request.RemoteAddr = "10.0.0.7:1234"
	recorder := httptest.NewRecorder()
	server.Handler().ServeHTTP(recorder, request)

	decoded := map[string]interface{}{}
	if recorder.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &decoded))
	}
	return recorder, decoded
}

func TestHealth(t *testing.T) {
	server, _, _ := testServer(t, Config{})
	recorder, body := doJSON(t, server, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, "ok", body["status"])
}

func TestEnqueueSearchValidation(t *testing.T) {
	server, enqueuer, _ := testServer(t, Config{})

	recorder, _ := doJSON(t, server, http.MethodPost, "/data-collection/google/search",
		`{"latitude": 91, "longitude": 0}`)
	assert.Equal(t, http.StatusBadRequest, recorder.Code)

	recorder, _ = doJSON(t, server, http.MethodPost, "/data-collection/google/search",
		`{"latitude": 0, "longitude": -181}`)
	assert.Equal(t, http.StatusBadRequest, recorder.Code)

	recorder, _ = doJSON(t, server, http.MethodPost, "/data-collection/google/search",
		`{"latitude": 0, "longitude": 0, "radius": 50001}`)
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
	assert.Empty(t, enqueuer.searches)

	recorder, body := doJSON(t, server, http.MethodPost, "/data-collection/google/search",
		`{"latitude": 32.7157, "longitude": -117.1611, "radius": 2500}`)
	assert.Equal(t, http.StatusAccepted, recorder.Code)
	assert.Equal(t, "queued", body["status"])
	assert.NotEmpty(t, body["jobId"])
	require.Len(t, enqueuer.searches, 1)
	assert.Equal(t, 2500.0, enqueuer.searches[0].RadiusMeters)
}

func TestEnqueueSearchBulk(t *testing.T) {
	server, enqueuer, _ := testServer(t, Config{})

	recorder, _ := doJSON(t, server, http.MethodPost, "/data-collection/google/search/bulk",
		`{"locations": []}`)
	assert.Equal(t, http.StatusBadRequest, recorder.Code)

	recorder, body := doJSON(t, server, http.MethodPost, "/data-collection/google/search/bulk",
		`{"locations": [
			{"latitude": 32.7, "longitude": -117.1},
			{"latitude": 32.8, "longitude": -117.2, "options": {"radius": 1000}}
		]}`)
	assert.Equal(t, http.StatusAccepted, recorder.Code)
	assert.Equal(t, 2.0, body["count"])
	assert.Len(t, body["jobIds"], 2)
	require.Len(t, enqueuer.searches, 2)
	assert.Equal(t, 1000.0, enqueuer.searches[1].RadiusMeters)
}

func TestEnqueueCity(t *testing.T) {
	server, _, _ := testServer(t, Config{})

	recorder, body := doJSON(t, server, http.MethodPost, "/data-collection/google/search/city",
		`{"city": "atlantis"}`)
	assert.Equal(t, http.StatusNotFound, recorder.Code)
	assert.NotEmpty(t, body["availableCities"])

	recorder, body = doJSON(t, server, http.MethodPost, "/data-collection/google/search/city",
		`{"city": "Austin"}`)
	assert.Equal(t, http.StatusAccepted, recorder.Code)
	assert.Equal(t, "Austin", body["city"])
	assert.NotEmpty(t, body["jobIds"])
}

func TestQueueStats(t *testing.T) {
	server, _, _ := testServer(t, Config{})
	recorder, body := doJSON(t, server, http.MethodGet, "/data-collection/google/queue/stats", "")
	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, 2.0, body["waiting"])
	assert.Equal(t, 5.0, body["completed"])
}

func TestListBusinessesEnvelope(t *testing.T) {
	server, _, catalog := testServer(t, Config{})
	for i := 0; i < 5; i++ {
		catalog.items = append(catalog.items, businesses.Business{
			ID:   uuid.NewString(),
			Name: "Bar " + string(rune('A'+i)),
		})
	}

	recorder, body := doJSON(t, server, http.MethodGet, "/businesses?limit=2&page=2", "")
	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, 2.0, body["count"])
	assert.Equal(t, 5.0, body["totalCount"])
	assert.Equal(t, 2.0, body["page"])
	assert.Equal(t, 3.0, body["totalPages"])
	assert.Equal(t, true, body["hasMore"])

	recorder, body = doJSON(t, server, http.MethodGet, "/businesses?limit=2&page=3", "")
	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, 1.0, body["count"])
	assert.Equal(t, false, body["hasMore"])
}

func TestShowBusiness(t *testing.T) {
	server, _, catalog := testServer(t, Config{})
	catalog.items = []businesses.Business{{ID: "b1", Name: "The Tipsy Crow"}}

	recorder, body := doJSON(t, server, http.MethodGet, "/businesses/b1", "")
	assert.Equal(t, http.StatusOK, recorder.Code)
	business := body["business"].(map[string]interface{})
	assert.Equal(t, "The Tipsy Crow", business["name"])

	recorder, _ = doJSON(t, server, http.MethodGet, "/businesses/missing", "")
	assert.Equal(t, http.StatusNotFound, recorder.Code)
}

func TestSearchLocationValidation(t *testing.T) {
	server, _, catalog := testServer(t, Config{})
	catalog.items = []businesses.Business{{ID: "b1", Name: "Near"}}

	recorder, _ := doJSON(t, server, http.MethodGet, "/businesses/search/location?lat=32.7", "")
	assert.Equal(t, http.StatusBadRequest, recorder.Code)

	recorder, _ = doJSON(t, server, http.MethodGet,
		"/businesses/search/location?lat=32.7&lng=-117.1&radius=60", "")
	assert.Equal(t, http.StatusBadRequest, recorder.Code)

	recorder, body := doJSON(t, server, http.MethodGet,
		"/businesses/search/location?lat=32.7&lng=-117.1&radius=5", "")
	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, 1.0, body["count"])
	criteria := body["searchCriteria"].(map[string]interface{})
	assert.Equal(t, 5.0, criteria["radiusKm"])
}

func TestSearchCategory(t *testing.T) {
	server, _, catalog := testServer(t, Config{})
	isBar := true
	catalog.items = []businesses.Business{
		{ID: "b1", Name: "Pub", IsBar: isBar, Categories: []string{"pub"}},
		{ID: "b2", Name: "Diner", Categories: []string{"diner"}},
	}

	recorder, body := doJSON(t, server, http.MethodGet,
		"/businesses/search/category/pub?isBar=true", "")
	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, 1.0, body["count"])
	assert.Equal(t, "pub", body["category"])
	filters := body["filters"].(map[string]interface{})
	assert.Equal(t, true, filters["isBar"])
}

func TestRateLimit(t *testing.T) {
	server, _, _ := testServer(t, Config{
		Environment: "production",
		RateLimit:   RateLimiterConfig{Duration: time.Minute, Burst: 2, NumLimits: 10},
	})

	for i := 0; i < 2; i++ {
		recorder, _ := doJSON(t, server, http.MethodGet, "/health", "")
		require.Equal(t, http.StatusOK, recorder.Code)
	}
	recorder, body := doJSON(t, server, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusTooManyRequests, recorder.Code)
	assert.Equal(t, "2", recorder.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", recorder.Header().Get("X-RateLimit-Remaining"))
	assert.NotZero(t, body["retryAfter"])
}

func TestDevelopmentLoosensRateLimit(t *testing.T) {
	server, _, _ := testServer(t, Config{
		Environment: "development",
		RateLimit:   RateLimiterConfig{Duration: time.Minute, Burst: 2, NumLimits: 10},
	})

	// burst of 2 becomes 20 outside production
	for i := 0; i < 10; i++ {
		recorder, _ := doJSON(t, server, http.MethodGet, "/health", "")
		require.Equal(t, http.StatusOK, recorder.Code)
	}
}

func TestShutdownReturns503(t *testing.T) {
	server, _, _ := testServer(t, Config{})
	server.shuttingDown.Store(true)

	recorder, body := doJSON(t, server, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, recorder.Code)
	assert.Equal(t, "shutting down", body["error"])
}

func TestCORS(t *testing.T) {
	server, _, _ := testServer(t, Config{FrontendURL: "https://app.example.test"})

	request := httptest.NewRequest(http.MethodOptions, "/businesses", nil)
	request.Header.Set("Origin", "https://app.example.test")
	request.RemoteAddr = "10.0.0.7:1234"
	recorder := httptest.NewRecorder()
	server.Handler().ServeHTTP(recorder, request)
	assert.Equal(t, http.StatusNoContent, recorder.Code)
	assert.Equal(t, "https://app.example.test", recorder.Header().Get("Access-Control-Allow-Origin"))

	request = httptest.NewRequest(http.MethodGet, "/health", nil)
	request.Header.Set("Origin", "https://evil.example.test")
	request.RemoteAddr = "10.0.0.7:1234"
	recorder = httptest.NewRecorder()
	server.Handler().ServeHTTP(recorder, request)
	assert.Empty(t, recorder.Header().Get("Access-Control-Allow-Origin"))
}
