// Copyright (C) 2024 Barhop Labs.
// See LICENSE for copying information.

package photos

import (
	"context"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spacemonkeygo/monkit/v3"
	"go.uber.org/zap"

	"github.com/barhop/barhop/catalog/businesses"
	"github.com/barhop/barhop/catalog/costcontrol"
	"github.com/barhop/barhop/catalog/events"
	"github.com/barhop/barhop/catalog/objectstore"
	"github.com/barhop/barhop/catalog/rawdocs"
	"github.com/barhop/barhop/catalog/standardize"
	"github.com/barhop/barhop/internal/sync2"
)

var mon = monkit.Package()

// Uploader is the slice of the object-store gateway the processor
// needs. objectstore.Gateway implements it.
type Uploader interface {
	UploadAllVariants(ctx context.Context, data []byte, businessID, photoID string) (map[objectstore.Variant]string, error)
}

// EmergencyChecker reports whether cost control has shut spending
// down. costcontrol.Service implements it.
type EmergencyChecker interface {
	EmergencyMode(ctx context.Context) (bool, error)
}

// Config contains configurable values for photo materialization.
type Config struct {
	MaxPerBusiness   int           `help:"photo candidates processed per business" default:"10"`
	DownloadTimeout  time.Duration `help:"timeout of one photo download" default:"15s"`
	MaxDownloadBytes int64         `help:"largest accepted photo download" default:"10485760"`
	InterPhotoDelay  time.Duration `help:"pause between photos of one business" default:"500ms"`

	GoogleAPIKey    string `help:"api key used for google photo media urls" default:""`
	PhotoMaxWidthPx int    `help:"width requested from the google media endpoint" default:"1600"`
}

// Processor materializes photos for deduplicated businesses.
type Processor struct {
	log        *zap.Logger
	db         DB
	businesses businesses.DB
	rawdocs    rawdocs.DB
	uploader   Uploader
	cost       EmergencyChecker
	bus        *events.Bus
	config     Config

	httpClient *http.Client
}

// NewProcessor subscribes the processor on the bus.
func NewProcessor(log *zap.Logger, db DB, businessDB businesses.DB, rawdocsDB rawdocs.DB, uploader Uploader, cost EmergencyChecker, bus *events.Bus, config Config) *Processor {
	if config.MaxPerBusiness <= 0 {
		config.MaxPerBusiness = 10
	}
	if config.MaxDownloadBytes <= 0 {
		config.MaxDownloadBytes = 10 << 20
	}
	processor := &Processor{
		log:        log,
		db:         db,
		businesses: businessDB,
		rawdocs:    rawdocsDB,
		uploader:   uploader,
		cost:       cost,
		bus:        bus,
		config:     config,
		httpClient: &http.Client{Timeout: config.DownloadTimeout},
	}
	bus.Subscribe(events.TopicDeduplicated, "photo-processor", processor.handleDeduplicated)
	return processor
}

func (processor *Processor) handleDeduplicated(ctx context.Context, event interface{}) (err error) {
	defer mon.Task()(&ctx)(&err)

	deduplicated, ok := event.(events.Deduplicated)
	if !ok {
		return Error.New("unexpected event type %T", event)
	}
	return processor.Process(ctx, deduplicated.BusinessID)
}

// Process runs the materialization procedure for one business. A
// business that already has photos is a no-op.
func (processor *Processor) Process(ctx context.Context, businessID string) (err error) {
	defer mon.Task()(&ctx)(&err)

	count, err := processor.db.CountForBusiness(ctx, businessID)
	if err != nil {
		return Error.Wrap(err)
	}
	if count > 0 {
		mon.Counter("photos_skipped", monkit.NewSeriesTag("reason", "processed")).Inc(1)
		return nil
	}

	emergency, err := processor.cost.EmergencyMode(ctx)
	if err != nil {
		return Error.Wrap(err)
	}
	if emergency {
		mon.Counter("photos_skipped", monkit.NewSeriesTag("reason", "emergency")).Inc(1)
		processor.log.Info("skipping photos in emergency mode", zap.String("businessID", businessID))
		return nil
	}

	candidates, err := processor.collectCandidates(ctx, businessID)
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		return nil
	}

	now := time.Now()
	var rows []Photo
	mainAssigned := false
	for i, candidate := range candidates {
		if i > 0 {
			if !sync2.Sleep(ctx, processor.config.InterPhotoDelay) {
				break
			}
		}

		data, err := processor.download(ctx, candidate.ref.URL)
		if err != nil {
			processor.log.Debug("photo download skipped",
				zap.String("businessID", businessID),
				zap.String("url", candidate.ref.URL),
				zap.Error(err))
			continue
		}

		photo := Photo{
			ID:            uuid.NewString(),
			BusinessID:    businessID,
			Source:        candidate.source,
			SourceID:      candidate.sourceID(),
			Width:         candidate.ref.Width,
			Height:        candidate.ref.Height,
			URL:           candidate.ref.URL,
			Format:        "jpeg",
			FileSize:      int64(len(data)),
			LastProcessed: now,
		}

		keys, err := processor.uploader.UploadAllVariants(ctx, data, businessID, photo.ID)
		switch {
		case err == nil:
			photo.KeyOriginal = keys[objectstore.VariantOriginal]
			photo.KeyThumbnail = keys[objectstore.VariantThumbnail]
			photo.KeySmall = keys[objectstore.VariantSmall]
			photo.KeyMedium = keys[objectstore.VariantMedium]
			photo.KeyLarge = keys[objectstore.VariantLarge]
		case costcontrol.IsDenial(err):
			// budget denial: the row keeps only the external url, even
			// when some variants landed before the denial
			processor.log.Info("photo kept without storage after budget denial",
				zap.String("businessID", businessID),
				zap.String("photoID", photo.ID))
		default:
			processor.log.Debug("photo upload skipped",
				zap.String("businessID", businessID),
				zap.Error(err))
			continue
		}

		if !mainAssigned {
			photo.MainPhoto = true
			mainAssigned = true
		}
		rows = append(rows, photo)
	}

	if len(rows) == 0 {
		return nil
	}

	inserted, err := processor.db.BulkInsert(ctx, rows)
	if err != nil {
		return Error.Wrap(err)
	}
	if inserted == 0 {
		return nil
	}

	hasStorage := false
	for _, row := range rows {
		if row.HasStorage() {
			hasStorage = true
			break
		}
	}

	mon.Counter("photos_processed").Inc(int64(inserted))
	processor.bus.Publish(ctx, events.TopicPhotosProcessed, events.PhotosProcessed{
		BusinessID:      businessID,
		PhotosProcessed: inserted,
		MainPhotoSet:    mainAssigned,
		HasStorage:      hasStorage,
	})
	return nil
}

type candidate struct {
	source businesses.Source
	ref    standardize.PhotoRef
}

func (c candidate) sourceID() string {
	if c.ref.ID != "" {
		return c.ref.ID
	}
	return c.ref.URL
}

// collectCandidates gathers photo descriptors from the raw documents
// of every bound source, sorted by resolution descending and capped.
func (processor *Processor) collectCandidates(ctx context.Context, businessID string) ([]candidate, error) {
	bindings, err := processor.businesses.Bindings(ctx, businessID)
	if err != nil {
		return nil, Error.Wrap(err)
	}

	opts := standardize.PhotoURLOptions{
		GoogleAPIKey: processor.config.GoogleAPIKey,
		MaxWidthPx:   processor.config.PhotoMaxWidthPx,
	}

	var candidates []candidate
	for _, binding := range bindings {
		raw, err := processor.rawdocs.Get(ctx, binding.Source, binding.SourceID)
		if err != nil {
			if rawdocs.ErrNotFound.Has(err) {
				continue
			}
			return nil, Error.Wrap(err)
		}
		for _, ref := range standardize.PhotoRefs(binding.Source, raw.Document, opts) {
			if ref.URL == "" {
				continue
			}
			candidates = append(candidates, candidate{source: binding.Source, ref: ref})
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].ref.Width*candidates[i].ref.Height >
			candidates[j].ref.Width*candidates[j].ref.Height
	})
	if len(candidates) > processor.config.MaxPerBusiness {
		candidates = candidates[:processor.config.MaxPerBusiness]
	}
	return candidates, nil
}

// download fetches the photo bytes enforcing the size cap and the
// image content type.
func (processor *Processor) download(ctx context.Context, url string) (_ []byte, err error) {
	defer mon.Task()(&ctx)(&err)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	resp, err := processor.httpClient.Do(req)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, Error.New("download returned status %d", resp.StatusCode)
	}
	if contentType := resp.Header.Get("Content-Type"); !strings.HasPrefix(contentType, "image/") {
		return nil, Error.New("unexpected content type %q", contentType)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, processor.config.MaxDownloadBytes+1))
	if err != nil {
		return nil, Error.Wrap(err)
	}
	if int64(len(data)) > processor.config.MaxDownloadBytes {
		return nil, Error.New("photo exceeds the %d byte cap", processor.config.MaxDownloadBytes)
	}
	return data, nil
}
