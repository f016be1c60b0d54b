// Copyright (C) 2024 Barhop Labs.
// See LICENSE for copying information.

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/barhop/barhop/catalog/businesses"
	"github.com/barhop/barhop/catalog/collector"
	"github.com/barhop/barhop/catalog/photos"
)

const (
	maxRadiusMeters   = 50000
	maxSearchRadiusKm = 50
	defaultPageSize   = 20
	maxPageSize       = 100
)

type searchRequest struct {
	Latitude       float64  `json:"latitude"`
	Longitude      float64  `json:"longitude"`
	Radius         float64  `json:"radius"`
	IncludedTypes  []string `json:"includedTypes"`
	ExcludedTypes  []string `json:"excludedTypes"`
	MaxResultCount int      `json:"maxResultCount"`
}

func (request *searchRequest) validate() string {
	if request.Latitude < -90 || request.Latitude > 90 {
		return "latitude must be between -90 and 90"
	}
	if request.Longitude < -180 || request.Longitude > 180 {
		return "longitude must be between -180 and 180"
	}
	if request.Radius != 0 && (request.Radius <= 0 || request.Radius > maxRadiusMeters) {
		return "radius must be between 1 and 50000 meters"
	}
	return ""
}

func (request *searchRequest) payload() collector.SearchNearbyPayload {
	return collector.SearchNearbyPayload{
		Latitude:       request.Latitude,
		Longitude:      request.Longitude,
		RadiusMeters:   request.Radius,
		IncludedTypes:  request.IncludedTypes,
		ExcludedTypes:  request.ExcludedTypes,
		MaxResultCount: request.MaxResultCount,
	}
}

func (server *Server) enqueueSearch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var request searchRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if message := request.validate(); message != "" {
		writeError(w, http.StatusBadRequest, message)
		return
	}

	job, err := server.enqueuer.EnqueueSearch(ctx, request.payload())
	if err != nil {
		server.log.Error("enqueue search failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to queue search")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"jobId":  job.ID,
		"status": "queued",
	})
}

type bulkSearchRequest struct {
	Locations []struct {
		Latitude  float64        `json:"latitude"`
		Longitude float64        `json:"longitude"`
		Options   *searchRequest `json:"options"`
	} `json:"locations"`
}

func (server *Server) enqueueSearchBulk(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var request bulkSearchRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if len(request.Locations) == 0 {
		writeError(w, http.StatusBadRequest, "locations must not be empty")
		return
	}

	payloads := make([]collector.SearchNearbyPayload, 0, len(request.Locations))
	for _, location := range request.Locations {
		search := searchRequest{Latitude: location.Latitude, Longitude: location.Longitude}
		if location.Options != nil {
			search.Radius = location.Options.Radius
			search.IncludedTypes = location.Options.IncludedTypes
			search.ExcludedTypes = location.Options.ExcludedTypes
			search.MaxResultCount = location.Options.MaxResultCount
		}
		if message := search.validate(); message != "" {
			writeError(w, http.StatusBadRequest, message)
			return
		}
		payloads = append(payloads, search.payload())
	}

	jobs, err := server.enqueuer.EnqueueSearchBulk(ctx, payloads)
	if err != nil {
		server.log.Error("bulk enqueue failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to queue searches")
		return
	}
	jobIDs := make([]string, 0, len(jobs))
	for _, job := range jobs {
		jobIDs = append(jobIDs, job.ID)
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"jobIds": jobIDs,
		"count":  len(jobIDs),
		"status": "queued",
	})
}

func (server *Server) enqueueSearchCity(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var request struct {
		City string `json:"city"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if request.City == "" {
		writeError(w, http.StatusBadRequest, "city is required")
		return
	}

	jobs, err := server.enqueuer.EnqueueCity(ctx, request.City)
	if collector.ErrUnknownCity.Has(err) {
		cities := collector.Cities()
		sort.Strings(cities)
		writeJSON(w, http.StatusNotFound, map[string]interface{}{
			"error":           "unknown city",
			"availableCities": cities,
		})
		return
	}
	if err != nil {
		server.log.Error("city enqueue failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to queue searches")
		return
	}
	jobIDs := make([]string, 0, len(jobs))
	for _, job := range jobs {
		jobIDs = append(jobIDs, job.ID)
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"city":   request.City,
		"jobIds": jobIDs,
		"count":  len(jobIDs),
		"status": "queued",
	})
}

func (server *Server) showQueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := server.queueStats.Stats(r.Context())
	if err != nil {
		server.log.Error("queue stats failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to read queue stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

type businessJSON struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Address        string    `json:"address"`
	Latitude       float64   `json:"latitude"`
	Longitude      float64   `json:"longitude"`
	Phone          string    `json:"phone,omitempty"`
	Website        string    `json:"website,omitempty"`
	IsBar          bool      `json:"isBar"`
	IsRestaurant   bool      `json:"isRestaurant"`
	Categories     []string  `json:"categories"`
	RatingGoogle   float64   `json:"ratingGoogle,omitempty"`
	RatingYelp     float64   `json:"ratingYelp,omitempty"`
	RatingOverall  float64   `json:"ratingOverall,omitempty"`
	PriceLevel     int       `json:"priceLevel,omitempty"`
	OperatingHours []string  `json:"operatingHours,omitempty"`
	Confidence     float64   `json:"confidence"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

func toBusinessJSON(business businesses.Business) businessJSON {
	return businessJSON{
		ID:             business.ID,
		Name:           business.Name,
		Address:        business.Address,
		Latitude:       business.Latitude,
		Longitude:      business.Longitude,
		Phone:          business.Phone,
		Website:        business.Website,
		IsBar:          business.IsBar,
		IsRestaurant:   business.IsRestaurant,
		Categories:     business.Categories,
		RatingGoogle:   business.RatingGoogle,
		RatingYelp:     business.RatingYelp,
		RatingOverall:  business.RatingOverall,
		PriceLevel:     business.PriceLevel,
		OperatingHours: business.OperatingHours,
		Confidence:     business.Confidence,
		UpdatedAt:      business.UpdatedAt,
	}
}

func toBusinessList(found []businesses.Business) []businessJSON {
	out := make([]businessJSON, 0, len(found))
	for _, business := range found {
		out = append(out, toBusinessJSON(business))
	}
	return out
}

func (server *Server) listBusinesses(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	query := r.URL.Query()

	limit := queryInt(query.Get("limit"), defaultPageSize)
	if limit < 1 {
		limit = 1
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	offset := queryInt(query.Get("offset"), 0)
	page := queryInt(query.Get("page"), 0)
	if page > 0 {
		offset = (page - 1) * limit
	} else {
		page = offset/limit + 1
	}
	if offset < 0 {
		offset = 0
	}

	criteria := businesses.Criteria{
		Limit:      limit,
		Offset:     offset,
		WithPhotos: query.Get("withPhotosOnly") == "true",
	}

	found, err := server.catalog.Search(ctx, criteria)
	if err != nil {
		server.log.Error("business search failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}
	totalCount, err := server.catalog.Count(ctx, criteria)
	if err != nil {
		server.log.Error("business count failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}

	totalPages := int((totalCount + int64(limit) - 1) / int64(limit))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"businesses": toBusinessList(found),
		"count":      len(found),
		"totalCount": totalCount,
		"page":       page,
		"totalPages": totalPages,
		"hasMore":    int64(offset+len(found)) < totalCount,
	})
}

type photoJSON struct {
	ID        string `json:"id"`
	URL       string `json:"url"`
	Width     int    `json:"width,omitempty"`
	Height    int    `json:"height,omitempty"`
	MainPhoto bool   `json:"mainPhoto"`
}

type dealJSON struct {
	ID          string `json:"id"`
	DayOfWeek   *int   `json:"dayOfWeek,omitempty"`
	StartTime   string `json:"startTime,omitempty"`
	EndTime     string `json:"endTime,omitempty"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

func (server *Server) showBusiness(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := mux.Vars(r)["id"]

	business, err := server.catalog.Get(ctx, id)
	if businesses.ErrNotFound.Has(err) {
		writeError(w, http.StatusNotFound, "business not found")
		return
	}
	if err != nil {
		server.log.Error("business lookup failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}

	response := map[string]interface{}{"business": toBusinessJSON(*business)}
	response["photos"] = server.photoList(ctx, id)
	response["deals"] = server.dealList(ctx, id)
	writeJSON(w, http.StatusOK, response)
}

func (server *Server) photoList(ctx context.Context, businessID string) []photoJSON {
	listed, err := server.photos.ListForBusiness(ctx, businessID)
	if err != nil {
		server.log.Warn("photo listing failed", zap.String("business", businessID), zap.Error(err))
		return []photoJSON{}
	}
	out := make([]photoJSON, 0, len(listed))
	for _, photo := range listed {
		out = append(out, photoJSON{
			ID:        photo.ID,
			URL:       server.photoURL(ctx, photo),
			Width:     photo.Width,
			Height:    photo.Height,
			MainPhoto: photo.MainPhoto,
		})
	}
	return out
}

// photoURL prefers the stored medium variant, falling back to the
// upstream URL when nothing landed in the object store.
func (server *Server) photoURL(ctx context.Context, photo photos.Photo) string {
	if server.urls == nil || !photo.HasStorage() {
		return photo.URL
	}
	key := photo.KeyMedium
	if key == "" {
		key = photo.KeyOriginal
	}
	url, err := server.urls.URL(ctx, key, true)
	if err != nil {
		server.log.Warn("photo url resolution failed", zap.String("key", key), zap.Error(err))
		return photo.URL
	}
	return url
}

func (server *Server) dealList(ctx context.Context, businessID string) []dealJSON {
	listed, err := server.deals.ListForBusiness(ctx, businessID)
	if err != nil {
		server.log.Warn("deal listing failed", zap.String("business", businessID), zap.Error(err))
		return []dealJSON{}
	}
	out := make([]dealJSON, 0, len(listed))
	for _, deal := range listed {
		entry := dealJSON{
			ID:          deal.ID,
			StartTime:   deal.StartTime,
			EndTime:     deal.EndTime,
			Title:       deal.Title,
			Description: deal.Description,
		}
		if deal.DayOfWeek != nil {
			day := int(*deal.DayOfWeek)
			entry.DayOfWeek = &day
		}
		out = append(out, entry)
	}
	return out
}

func (server *Server) searchLocation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	query := r.URL.Query()

	latitude, errLat := strconv.ParseFloat(query.Get("lat"), 64)
	longitude, errLng := strconv.ParseFloat(query.Get("lng"), 64)
	radiusKm, errRadius := strconv.ParseFloat(query.Get("radius"), 64)
	if errLat != nil || errLng != nil || errRadius != nil {
		writeError(w, http.StatusBadRequest, "lat, lng and radius are required numbers")
		return
	}
	if latitude < -90 || latitude > 90 || longitude < -180 || longitude > 180 {
		writeError(w, http.StatusBadRequest, "coordinates out of range")
		return
	}
	if radiusKm <= 0 || radiusKm > maxSearchRadiusKm {
		writeError(w, http.StatusBadRequest, "radius must be between 0 and 50 km")
		return
	}

	limit := queryInt(query.Get("limit"), defaultPageSize)
	if limit > maxPageSize {
		limit = maxPageSize
	}

	criteria := businesses.Criteria{
		HasLocation: true,
		Latitude:    latitude,
		Longitude:   longitude,
		RadiusKm:    radiusKm,
		WithDeals:   query.Get("withDealsOnly") == "true",
		Limit:       limit,
	}
	found, err := server.catalog.Search(ctx, criteria)
	if err != nil {
		server.log.Error("location search failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"results": toBusinessList(found),
		"count":   len(found),
		"searchCriteria": map[string]interface{}{
			"latitude":  latitude,
			"longitude": longitude,
			"radiusKm":  radiusKm,
		},
	})
}

func (server *Server) searchCategory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	category := mux.Vars(r)["category"]
	query := r.URL.Query()

	criteria := businesses.Criteria{
		Categories: []string{category},
		WithDeals:  query.Get("withDealsOnly") == "true",
		Limit:      queryInt(query.Get("limit"), defaultPageSize),
	}
	filters := map[string]interface{}{}
	if value := query.Get("isBar"); value != "" {
		isBar := value == "true"
		criteria.IsBar = &isBar
		filters["isBar"] = isBar
	}
	if value := query.Get("isRestaurant"); value != "" {
		isRestaurant := value == "true"
		criteria.IsRestaurant = &isRestaurant
		filters["isRestaurant"] = isRestaurant
	}
	if query.Get("withDealsOnly") == "true" {
		filters["withDealsOnly"] = true
	}

	found, err := server.catalog.Search(ctx, criteria)
	if err != nil {
		server.log.Error("category search failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"results":  toBusinessList(found),
		"count":    len(found),
		"category": category,
		"filters":  filters,
	})
}

func queryInt(value string, fallback int) int {
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}
