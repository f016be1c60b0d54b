// Copyright (C) 2024 Barhop Labs.
// See LICENSE for copying information.

package dedupe_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/barhop/barhop/catalog/businesses"
	"github.com/barhop/barhop/catalog/dedupe"
	"github.com/barhop/barhop/catalog/events"
	"github.com/barhop/barhop/internal/testcontext"
)

// fakeDB scripts the repository surface the deduplicator touches.
type fakeDB struct {
	businesses.DB

	bound      map[string]*businesses.Business
	candidates []businesses.Business

	lastOp         string
	lastID         string
	lastConfidence float64
}

func newFakeDB() *fakeDB {
	return &fakeDB{bound: map[string]*businesses.Business{}}
}

func bindKey(source businesses.Source, sourceID string) string {
	return string(source) + "/" + sourceID
}

func (db *fakeDB) GetBySource(ctx context.Context, source businesses.Source, sourceID string) (*businesses.Business, error) {
	if business, ok := db.bound[bindKey(source, sourceID)]; ok {
		return business, nil
	}
	return nil, businesses.ErrNotFound.New("%s %s", source, sourceID)
}

func (db *fakeDB) FindPotentialDuplicates(ctx context.Context, standardized businesses.Standardized) ([]businesses.Business, error) {
	return db.candidates, nil
}

func (db *fakeDB) Create(ctx context.Context, standardized businesses.Standardized, confidence float64) (*businesses.Business, error) {
	db.lastOp, db.lastID, db.lastConfidence = "create", "new-id", confidence
	created := businesses.FromStandardized(standardized, confidence, testNowTime())
	created.ID = "new-id"
	return &created, nil
}

func (db *fakeDB) Update(ctx context.Context, id string, standardized businesses.Standardized, confidence float64) (*businesses.Business, error) {
	db.lastOp, db.lastID, db.lastConfidence = "update", id, confidence
	updated := businesses.FromStandardized(standardized, confidence, testNowTime())
	updated.ID = id
	return &updated, nil
}

func (db *fakeDB) Merge(ctx context.Context, id string, standardized businesses.Standardized, confidence float64) (*businesses.Business, error) {
	db.lastOp, db.lastID, db.lastConfidence = "merge", id, confidence
	merged := businesses.FromStandardized(standardized, confidence, testNowTime())
	merged.ID = id
	return &merged, nil
}

func testNowTime() time.Time {
	return time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
}

func standardizedBar() businesses.Standardized {
	return businesses.Standardized{
		Name:            "The Tipsy Crow",
		NormalizedName:  "tipsy crow",
		Latitude:        30.2672,
		Longitude:       -97.7431,
		Phone:           "+15125551234",
		NormalizedPhone: "+15125551234",
		Website:         "https://tipsycrow.example",
		Domain:          "tipsycrow.example",
		IsBar:           true,
		Categories:      []string{"bar", "cocktail"},
		RatingGoogle:    4.5,
		OperatingHours:  []string{"Monday: 16:00-02:00"},
		PriceLevel:      2,
		Source:          businesses.SourceGoogle,
		SourceID:        "g-1",
	}
}

func candidateFrom(standardized businesses.Standardized, id string) businesses.Business {
	business := businesses.FromStandardized(standardized, 1.0, testNowTime())
	business.ID = id
	return business
}

func TestResolveExistingBindingUpdates(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	db := newFakeDB()
	bound := candidateFrom(standardizedBar(), "existing-id")
	db.bound[bindKey(businesses.SourceGoogle, "g-1")] = &bound

	service := dedupe.NewService(zaptest.NewLogger(t), db, events.NewBus(zaptest.NewLogger(t)))

	business, action, confidence, err := service.Resolve(ctx, standardizedBar())
	require.NoError(t, err)
	assert.Equal(t, events.ActionUpdated, action)
	assert.Equal(t, 1.0, confidence)
	assert.Equal(t, "existing-id", business.ID)
	assert.Equal(t, "update", db.lastOp)
	assert.Equal(t, 1.0, db.lastConfidence)
}

func TestResolveNoCandidatesCreates(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	db := newFakeDB()
	service := dedupe.NewService(zaptest.NewLogger(t), db, events.NewBus(zaptest.NewLogger(t)))

	_, action, _, err := service.Resolve(ctx, standardizedBar())
	require.NoError(t, err)
	assert.Equal(t, events.ActionCreated, action)
	assert.Equal(t, "create", db.lastOp)
}

func TestResolveHighConfidenceMerges(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	db := newFakeDB()
	// same name and location: decision table gives 0.95
	db.candidates = []businesses.Business{candidateFrom(standardizedBar(), "dup-id")}
	service := dedupe.NewService(zaptest.NewLogger(t), db, events.NewBus(zaptest.NewLogger(t)))

	_, action, confidence, err := service.Resolve(ctx, standardizedBar())
	require.NoError(t, err)
	assert.Equal(t, events.ActionMerged, action)
	assert.Equal(t, 0.95, confidence)
	assert.Equal(t, "dup-id", db.lastID)
	assert.Equal(t, "merge", db.lastOp)
}

func TestResolveMidBandMergesOnImprovements(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	// candidate is a sparse yelp-originated row: same spot, similar
	// name, no phone/website/hours
	candidate := businesses.Business{
		ID:             "sparse-id",
		NormalizedName: "tipsy crow bar",
		Latitude:       30.26722,
		Longitude:      -97.74312,
		Categories:     []string{"bar"},
		RatingYelp:     4.0,
	}

	incoming := standardizedBar()

	db := newFakeDB()
	db.candidates = []businesses.Business{candidate}
	service := dedupe.NewService(zaptest.NewLogger(t), db, events.NewBus(zaptest.NewLogger(t)))

	_, action, confidence, err := service.Resolve(ctx, incoming)
	require.NoError(t, err)
	// incoming supplies phone, website, hours, google rating, price:
	// well past the two-improvement bar
	assert.Equal(t, events.ActionMerged, action)
	assert.Equal(t, "sparse-id", db.lastID)
	assert.Greater(t, confidence, dedupe.LowConfidence)
	assert.Less(t, confidence, dedupe.HighConfidence)
}

func TestResolveMidBandUpdatesWithoutImprovements(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	// candidate already has everything the incoming record offers
	candidate := candidateFrom(standardizedBar(), "rich-id")
	candidate.NormalizedName = "tipsy crow bar"
	candidate.Latitude += 0.00002
	candidate.Categories = []string{"bar", "cocktail", "lounge"}

	db := newFakeDB()
	db.candidates = []businesses.Business{candidate}
	service := dedupe.NewService(zaptest.NewLogger(t), db, events.NewBus(zaptest.NewLogger(t)))

	incoming := standardizedBar()
	incoming.RatingGoogle = 0 // nothing new on the rating side either

	_, action, _, err := service.Resolve(ctx, incoming)
	require.NoError(t, err)
	if action == events.ActionMerged {
		t.Fatalf("expected update in the mid band without improvements")
	}
	assert.Equal(t, events.ActionUpdated, action)
	assert.Equal(t, "rich-id", db.lastID)
}

func TestResolveTieBreaksOnDistance(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	incoming := standardizedBar()

	near := candidateFrom(incoming, "near-id")
	far := candidateFrom(incoming, "far-id")
	far.Latitude += 0.000005 // ~0.5 m away, still 0.95 confidence

	db := newFakeDB()
	db.candidates = []businesses.Business{far, near}
	service := dedupe.NewService(zaptest.NewLogger(t), db, events.NewBus(zaptest.NewLogger(t)))

	_, action, _, err := service.Resolve(ctx, incoming)
	require.NoError(t, err)
	assert.Equal(t, events.ActionMerged, action)
	assert.Equal(t, "near-id", db.lastID)
}

func TestHandleStandardizedPublishes(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	log := zaptest.NewLogger(t)
	bus := events.NewBus(log)
	db := newFakeDB()
	dedupe.NewService(log, db, bus)

	var got *events.Deduplicated
	bus.Subscribe(events.TopicDeduplicated, "test", func(ctx context.Context, event interface{}) error {
		deduplicated := event.(events.Deduplicated)
		got = &deduplicated
		return nil
	})

	bus.Publish(ctx, events.TopicStandardized, events.Standardized{Business: standardizedBar()})

	require.NotNil(t, got)
	assert.Equal(t, events.ActionCreated, got.Action)
	assert.Equal(t, "new-id", got.BusinessID)
	assert.Equal(t, businesses.SourceGoogle, got.Source)
	assert.Equal(t, "g-1", got.SourceID)
}
