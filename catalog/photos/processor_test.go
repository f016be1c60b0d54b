// Copyright (C) 2024 Barhop Labs.
// See LICENSE for copying information.

package photos_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeebo/errs"
	"go.uber.org/zap/zaptest"

	"github.com/barhop/barhop/catalog/businesses"
	"github.com/barhop/barhop/catalog/costcontrol"
	"github.com/barhop/barhop/catalog/events"
	"github.com/barhop/barhop/catalog/objectstore"
	"github.com/barhop/barhop/catalog/photos"
	"github.com/barhop/barhop/catalog/rawdocs"
	"github.com/barhop/barhop/internal/testcontext"
)

type memPhotos struct {
	mu   sync.Mutex
	rows []photos.Photo
}

func (db *memPhotos) CountForBusiness(ctx context.Context, businessID string) (int64, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	var count int64
	for _, row := range db.rows {
		if row.BusinessID == businessID {
			count++
		}
	}
	return count, nil
}

func (db *memPhotos) ListForBusiness(ctx context.Context, businessID string) ([]photos.Photo, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	var out []photos.Photo
	for _, row := range db.rows {
		if row.BusinessID == businessID {
			out = append(out, row)
		}
	}
	return out, nil
}

func (db *memPhotos) BulkInsert(ctx context.Context, rows []photos.Photo) (int, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	seen := map[string]bool{}
	for _, row := range db.rows {
		seen[row.BusinessID+"/"+row.SourceID] = true
	}
	inserted := 0
	for _, row := range rows {
		key := row.BusinessID + "/" + row.SourceID
		if seen[key] {
			continue
		}
		seen[key] = true
		db.rows = append(db.rows, row)
		inserted++
	}
	return inserted, nil
}

type bindingsDB struct {
	businesses.DB
	bindings []businesses.SourceBinding
}

func (db *bindingsDB) Bindings(ctx context.Context, businessID string) ([]businesses.SourceBinding, error) {
	return db.bindings, nil
}

type memRaw struct {
	docs map[string]json.RawMessage
}

func (db *memRaw) Upsert(ctx context.Context, source businesses.Source, sourceID string, document json.RawMessage) error {
	db.docs[string(source)+"/"+sourceID] = document
	return nil
}

func (db *memRaw) Get(ctx context.Context, source businesses.Source, sourceID string) (*rawdocs.RawBusiness, error) {
	doc, ok := db.docs[string(source)+"/"+sourceID]
	if !ok {
		return nil, rawdocs.ErrNotFound.New("%s %s", source, sourceID)
	}
	return &rawdocs.RawBusiness{Source: source, SourceID: sourceID, Document: doc}, nil
}

type fakeUploader struct {
	mu    sync.Mutex
	calls int
	// keys is returned together with err, mirroring the gateway which
	// hands back the variants uploaded before a denial interrupted it.
	keys map[objectstore.Variant]string
	err  error
}

func (up *fakeUploader) UploadAllVariants(ctx context.Context, data []byte, businessID, photoID string) (map[objectstore.Variant]string, error) {
	up.mu.Lock()
	defer up.mu.Unlock()
	up.calls++
	if up.err != nil {
		return up.keys, up.err
	}
	keys := map[objectstore.Variant]string{}
	for _, variant := range objectstore.AllVariants {
		keys[variant] = objectstore.Key(businessID, photoID, variant)
	}
	return keys, nil
}

type fixedEmergency bool

func (e fixedEmergency) EmergencyMode(ctx context.Context) (bool, error) { return bool(e), nil }

func photoServer() *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write([]byte("jpeg-bytes-" + r.URL.Path))
	}))
}

func yelpDocWithPhotos(urls []string) json.RawMessage {
	doc, _ := json.Marshal(map[string]interface{}{
		"id":     "y1",
		"name":   "The Tipsy Crow",
		"photos": urls,
	})
	return doc
}

func testSetup(t *testing.T, uploader photos.Uploader, emergency photos.EmergencyChecker, urls []string) (*photos.Processor, *memPhotos, *events.Bus) {
	log := zaptest.NewLogger(t)
	bus := events.NewBus(log)
	db := &memPhotos{}
	raw := &memRaw{docs: map[string]json.RawMessage{}}
	raw.docs["YELP/y1"] = yelpDocWithPhotos(urls)
	bindings := &bindingsDB{bindings: []businesses.SourceBinding{
		{Source: businesses.SourceYelp, SourceID: "y1", BusinessID: "b1"},
	}}

	processor := photos.NewProcessor(log, db, bindings, raw, uploader, emergency, bus, photos.Config{
		MaxPerBusiness:   10,
		DownloadTimeout:  5 * time.Second,
		MaxDownloadBytes: 10 << 20,
		InterPhotoDelay:  time.Millisecond,
	})
	return processor, db, bus
}

func TestProcessMaterializesPhotos(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	server := photoServer()
	defer server.Close()

	uploader := &fakeUploader{}
	processor, db, bus := testSetup(t, uploader, fixedEmergency(false), []string{
		server.URL + "/p1.jpg",
		server.URL + "/p2.jpg",
		server.URL + "/p3.jpg",
	})

	var published *events.PhotosProcessed
	bus.Subscribe(events.TopicPhotosProcessed, "test", func(ctx context.Context, event interface{}) error {
		processed := event.(events.PhotosProcessed)
		published = &processed
		return nil
	})

	require.NoError(t, processor.Process(ctx, "b1"))

	rows, err := db.ListForBusiness(ctx, "b1")
	require.NoError(t, err)
	require.Len(t, rows, 3)

	mains := 0
	for _, row := range rows {
		if row.MainPhoto {
			mains++
		}
		assert.True(t, row.HasStorage())
		assert.NotEmpty(t, row.URL)
	}
	assert.Equal(t, 1, mains, "exactly one main photo")
	assert.True(t, rows[0].MainPhoto, "first processed photo is main")

	require.NotNil(t, published)
	assert.Equal(t, "b1", published.BusinessID)
	assert.Equal(t, 3, published.PhotosProcessed)
	assert.True(t, published.MainPhotoSet)
	assert.True(t, published.HasStorage)
}

func TestProcessIdempotentOnRefire(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	server := photoServer()
	defer server.Close()

	uploader := &fakeUploader{}
	processor, db, _ := testSetup(t, uploader, fixedEmergency(false), []string{server.URL + "/p1.jpg"})

	require.NoError(t, processor.Process(ctx, "b1"))
	first := uploader.calls
	require.NoError(t, processor.Process(ctx, "b1"))

	assert.Equal(t, first, uploader.calls, "re-fire must not upload again")
	rows, err := db.ListForBusiness(ctx, "b1")
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestProcessSkipsInEmergencyMode(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	uploader := &fakeUploader{}
	processor, db, _ := testSetup(t, uploader, fixedEmergency(true), []string{"http://unused.example/p.jpg"})

	require.NoError(t, processor.Process(ctx, "b1"))
	assert.Equal(t, 0, uploader.calls)
	rows, err := db.ListForBusiness(ctx, "b1")
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestProcessBudgetDenialKeepsExternalURL(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	server := photoServer()
	defer server.Close()

	// the gateway reports the variants it finished before the budget
	// ran out; none of them may end up on the row
	uploader := &fakeUploader{
		keys: map[objectstore.Variant]string{
			objectstore.VariantThumbnail: "businesses/b1/photos/x-thumbnail.jpg",
			objectstore.VariantSmall:     "businesses/b1/photos/x-small.jpg",
		},
		err: costcontrol.ErrBudgetExceeded.Wrap(errs.New("budget gone")),
	}
	processor, db, bus := testSetup(t, uploader, fixedEmergency(false), []string{server.URL + "/p1.jpg"})

	var published *events.PhotosProcessed
	bus.Subscribe(events.TopicPhotosProcessed, "test", func(ctx context.Context, event interface{}) error {
		processed := event.(events.PhotosProcessed)
		published = &processed
		return nil
	})

	require.NoError(t, processor.Process(ctx, "b1"))

	rows, err := db.ListForBusiness(ctx, "b1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.False(t, rows[0].HasStorage())
	assert.Empty(t, rows[0].KeyThumbnail)
	assert.Empty(t, rows[0].KeySmall)
	assert.NotEmpty(t, rows[0].URL)
	assert.True(t, rows[0].MainPhoto)

	require.NotNil(t, published)
	assert.False(t, published.HasStorage)
}

func TestProcessSkipsOversizedAndNonImage(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/big.jpg":
			w.Header().Set("Content-Type", "image/jpeg")
			for i := 0; i < 64; i++ {
				_, _ = w.Write(make([]byte, 1024))
			}
		case "/page.html":
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte("<html></html>"))
		default:
			w.Header().Set("Content-Type", "image/jpeg")
			_, _ = w.Write([]byte("small-jpeg"))
		}
	}))
	defer server.Close()

	log := zaptest.NewLogger(t)
	bus := events.NewBus(log)
	db := &memPhotos{}
	raw := &memRaw{docs: map[string]json.RawMessage{}}
	raw.docs["YELP/y1"] = yelpDocWithPhotos([]string{
		server.URL + "/big.jpg",
		server.URL + "/page.html",
		server.URL + "/ok.jpg",
	})
	bindings := &bindingsDB{bindings: []businesses.SourceBinding{
		{Source: businesses.SourceYelp, SourceID: "y1", BusinessID: "b1"},
	}}
	uploader := &fakeUploader{}

	processor := photos.NewProcessor(log, db, bindings, raw, uploader, fixedEmergency(false), bus, photos.Config{
		MaxPerBusiness:   10,
		DownloadTimeout:  5 * time.Second,
		MaxDownloadBytes: 32 * 1024, // the 64 KiB photo is over the cap
		InterPhotoDelay:  time.Millisecond,
	})

	require.NoError(t, processor.Process(ctx, "b1"))

	rows, err := db.ListForBusiness(ctx, "b1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, server.URL+"/ok.jpg", rows[0].URL)
	assert.True(t, rows[0].MainPhoto)
}

func TestProcessCapsCandidates(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	server := photoServer()
	defer server.Close()

	var urls []string
	for i := 0; i < 15; i++ {
		urls = append(urls, fmt.Sprintf("%s/p%d.jpg", server.URL, i))
	}

	uploader := &fakeUploader{}
	processor, db, _ := testSetup(t, uploader, fixedEmergency(false), urls)

	require.NoError(t, processor.Process(ctx, "b1"))

	rows, err := db.ListForBusiness(ctx, "b1")
	require.NoError(t, err)
	assert.Len(t, rows, 10)
	assert.Equal(t, 10, uploader.calls)
}
