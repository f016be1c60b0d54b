// Copyright (C) 2024 Barhop Labs.
// See LICENSE for copying information.

// Package collector runs the raw collection stage: job workers page
// upstream providers, snapshot every record and publish raw.collected
// events.
package collector

import (
	"context"
	"encoding/json"
	"time"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"github.com/barhop/barhop/catalog/businesses"
	"github.com/barhop/barhop/catalog/events"
	"github.com/barhop/barhop/catalog/jobqueue"
	"github.com/barhop/barhop/catalog/rawdocs"
)

var (
	// Error is the default collector errs class.
	Error = errs.Class("collector")

	// ErrUnknownCity is returned when no coordinate preset exists for
	// the requested city.
	ErrUnknownCity = errs.Class("unknown city")

	mon = monkit.Package()
)

// DetailLevel selects how rich a place-details fetch should be.
type DetailLevel string

// Detail levels.
const (
	DetailBasic DetailLevel = "basic"
	DetailFull  DetailLevel = "full"
)

// Record is one upstream listing as returned by a source.
type Record struct {
	SourceID string
	Document json.RawMessage
}

// Page describes one upstream search request. An empty PageToken asks
// for the first page.
type Page struct {
	Latitude       float64
	Longitude      float64
	RadiusMeters   float64
	IncludedTypes  []string
	ExcludedTypes  []string
	MaxResultCount int
	PageToken      string
}

// Source pages an upstream provider. Implementations wrap transient
// upstream failures in plain errors and permanent ones (revoked key,
// missing resource) in jobqueue.ErrPermanent.
type Source interface {
	Name() businesses.Source
	SearchNearby(ctx context.Context, page Page) (records []Record, nextPageToken string, err error)
	PlaceDetails(ctx context.Context, id string, level DetailLevel) (Record, error)
}

// SearchNearbyPayload is the searchNearby job payload.
type SearchNearbyPayload struct {
	Source         string   `json:"source,omitempty"`
	Latitude       float64  `json:"latitude"`
	Longitude      float64  `json:"longitude"`
	RadiusMeters   float64  `json:"radius,omitempty"`
	IncludedTypes  []string `json:"includedTypes,omitempty"`
	ExcludedTypes  []string `json:"excludedTypes,omitempty"`
	MaxResultCount int      `json:"maxResultCount,omitempty"`
}

// PlaceDetailsPayload is the placeDetails job payload.
type PlaceDetailsPayload struct {
	Source      string `json:"source,omitempty"`
	ID          string `json:"id"`
	DetailLevel string `json:"detailLevel,omitempty"`
}

// Config contains configurable values for raw collection.
type Config struct {
	GoogleAPIKey string `help:"api key for the google-style provider" default:""`
	YelpAPIKey   string `help:"api key for the yelp-style provider" default:""`

	RequestTimeout      time.Duration `help:"timeout of one upstream request" default:"15s"`
	DefaultRadiusMeters float64       `help:"search radius when the request does not set one" default:"5000"`
	DefaultResultCount  int           `help:"page size when the request does not set one" default:"20"`
}

// Service owns the collection job handlers and the enqueue surface
// used by the API.
type Service struct {
	log     *zap.Logger
	queue   *jobqueue.Queue
	bus     *events.Bus
	rawdocs rawdocs.DB
	config  Config

	sources map[businesses.Source]Source
}

// NewService wires the collection handlers into the queue.
func NewService(log *zap.Logger, queue *jobqueue.Queue, bus *events.Bus, rawdocsDB rawdocs.DB, config Config, sources ...Source) *Service {
	service := &Service{
		log:     log,
		queue:   queue,
		bus:     bus,
		rawdocs: rawdocsDB,
		config:  config,
		sources: map[businesses.Source]Source{},
	}
	for _, source := range sources {
		service.sources[source.Name()] = source
	}

	queue.Register(jobqueue.KindSearchNearby, service.handleSearchNearby)
	queue.Register(jobqueue.KindPlaceDetails, service.handlePlaceDetails)
	return service
}

// EnqueueSearch queues one searchNearby job.
func (service *Service) EnqueueSearch(ctx context.Context, payload SearchNearbyPayload) (_ *jobqueue.Job, err error) {
	defer mon.Task()(&ctx)(&err)

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return service.queue.Enqueue(ctx, jobqueue.KindSearchNearby, data)
}

// EnqueueSearchBulk queues one searchNearby job per payload, staggered
// by the queue.
func (service *Service) EnqueueSearchBulk(ctx context.Context, payloads []SearchNearbyPayload) (_ []*jobqueue.Job, err error) {
	defer mon.Task()(&ctx)(&err)

	raw := make([]json.RawMessage, 0, len(payloads))
	for _, payload := range payloads {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		raw = append(raw, data)
	}
	return service.queue.EnqueueBulk(ctx, jobqueue.KindSearchNearby, raw)
}

// EnqueueCity resolves a city preset and queues one staggered
// searchNearby per curated coordinate.
func (service *Service) EnqueueCity(ctx context.Context, city string) (_ []*jobqueue.Job, err error) {
	defer mon.Task()(&ctx)(&err)

	coordinates, ok := CityCoordinates(city)
	if !ok {
		return nil, ErrUnknownCity.New("%s", city)
	}

	payloads := make([]SearchNearbyPayload, 0, len(coordinates))
	for _, coordinate := range coordinates {
		payloads = append(payloads, SearchNearbyPayload{
			Latitude:  coordinate.Latitude,
			Longitude: coordinate.Longitude,
		})
	}
	return service.EnqueueSearchBulk(ctx, payloads)
}

func (service *Service) handleSearchNearby(ctx context.Context, job *jobqueue.Job) (err error) {
	defer mon.Task()(&ctx)(&err)

	var payload SearchNearbyPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return jobqueue.ErrPermanent.Wrap(Error.Wrap(err))
	}

	source, err := service.source(payload.Source)
	if err != nil {
		return jobqueue.ErrPermanent.Wrap(err)
	}

	page := Page{
		Latitude:       payload.Latitude,
		Longitude:      payload.Longitude,
		RadiusMeters:   payload.RadiusMeters,
		IncludedTypes:  payload.IncludedTypes,
		ExcludedTypes:  payload.ExcludedTypes,
		MaxResultCount: payload.MaxResultCount,
	}
	if page.RadiusMeters <= 0 {
		page.RadiusMeters = service.config.DefaultRadiusMeters
	}
	if page.MaxResultCount <= 0 {
		page.MaxResultCount = service.config.DefaultResultCount
	}

	var records []Record
	for {
		pageRecords, nextToken, err := source.SearchNearby(ctx, page)
		if err != nil {
			return err
		}
		records = append(records, pageRecords...)
		service.progress(ctx, job, 50)
		if nextToken == "" {
			break
		}
		page.PageToken = nextToken
	}
	service.progress(ctx, job, 75)

	for _, record := range records {
		if err := service.ingest(ctx, source.Name(), record); err != nil {
			return err
		}
	}

	service.log.Info("search completed",
		zap.String("source", string(source.Name())),
		zap.Float64("latitude", payload.Latitude),
		zap.Float64("longitude", payload.Longitude),
		zap.Int("records", len(records)))
	return nil
}

func (service *Service) handlePlaceDetails(ctx context.Context, job *jobqueue.Job) (err error) {
	defer mon.Task()(&ctx)(&err)

	var payload PlaceDetailsPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return jobqueue.ErrPermanent.Wrap(Error.Wrap(err))
	}

	source, err := service.source(payload.Source)
	if err != nil {
		return jobqueue.ErrPermanent.Wrap(err)
	}

	level := DetailLevel(payload.DetailLevel)
	if level == "" {
		level = DetailBasic
	}

	record, err := source.PlaceDetails(ctx, payload.ID, level)
	if err != nil {
		return err
	}
	service.progress(ctx, job, 75)

	return service.ingest(ctx, source.Name(), record)
}

// ingest snapshots the record and publishes raw.collected. The event
// goes out only after the upsert succeeded.
func (service *Service) ingest(ctx context.Context, name businesses.Source, record Record) error {
	if err := service.rawdocs.Upsert(ctx, name, record.SourceID, record.Document); err != nil {
		return Error.Wrap(err)
	}
	mon.Counter("collector_records", monkit.NewSeriesTag("source", string(name))).Inc(1)
	service.bus.Publish(ctx, events.TopicRawCollected, events.RawCollected{
		Source:   name,
		SourceID: record.SourceID,
		Document: record.Document,
	})
	return nil
}

func (service *Service) source(name string) (Source, error) {
	key := businesses.Source(name)
	if name == "" {
		key = businesses.SourceGoogle
	}
	source, ok := service.sources[key]
	if !ok {
		return nil, Error.New("no source registered for %q", key)
	}
	return source, nil
}

func (service *Service) progress(ctx context.Context, job *jobqueue.Job, value int) {
	if err := service.queue.SetProgress(ctx, job.ID, value); err != nil {
		service.log.Debug("progress update failed", zap.String("job", job.ID), zap.Error(err))
	}
}
