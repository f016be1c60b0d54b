// Copyright (C) 2024 Barhop Labs.
// See LICENSE for copying information.

package standardize_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/barhop/barhop/catalog/businesses"
	"github.com/barhop/barhop/catalog/events"
	"github.com/barhop/barhop/catalog/standardize"
	"github.com/barhop/barhop/internal/testcontext"
)

const googleTipsyArmadillo = `{
	"id": "X1",
	"displayName": {"text": "The Tipsy Armadillo"},
	"formattedAddress": "123 E 6th St, Austin, TX",
	"location": {"latitude": 30.2672, "longitude": -97.7431},
	"internationalPhoneNumber": "+1 512-555-0100",
	"websiteUri": "https://www.tipsyarmadillo.com",
	"types": ["bar", "restaurant"],
	"rating": 4.2,
	"priceLevel": "PRICE_LEVEL_MODERATE",
	"regularOpeningHours": {"weekdayDescriptions": ["Monday: 4:00 PM – 2:00 AM"]},
	"photos": [
		{"name": "places/X1/photos/a", "widthPx": 4032, "heightPx": 3024},
		{"name": "places/X1/photos/b", "widthPx": 800, "heightPx": 600}
	]
}`

func TestExtractGoogle(t *testing.T) {
	std, err := standardize.ExtractGoogle("X1", json.RawMessage(googleTipsyArmadillo))
	require.NoError(t, err)

	assert.Equal(t, "The Tipsy Armadillo", std.Name)
	assert.Equal(t, "the tipsy armadillo", std.NormalizedName)
	assert.Equal(t, "123 e 6th street, austin, tx", std.NormalizedAddress)
	assert.Equal(t, 30.2672, std.Latitude)
	assert.Equal(t, "+15125550100", std.NormalizedPhone)
	assert.Equal(t, "tipsyarmadillo.com", std.Domain)
	assert.True(t, std.IsBar)
	assert.True(t, std.IsRestaurant)
	assert.Equal(t, 4.2, std.RatingGoogle)
	assert.Equal(t, 2, std.PriceLevel)
	assert.Equal(t, businesses.SourceGoogle, std.Source)
	assert.Equal(t, "X1", std.SourceID)
	assert.Len(t, std.OperatingHours, 1)
}

func TestExtractYelp(t *testing.T) {
	doc := `{
		"id": "y-1",
		"name": "Tipsy Armadillo",
		"coordinates": {"latitude": 30.26721, "longitude": -97.7431},
		"location": {"display_address": ["123 East 6th Street", "Austin, TX 78701"]},
		"phone": "+15125550100",
		"categories": [{"alias": "bars", "title": "Bars"}, {"alias": "newamerican", "title": "American"}],
		"rating": 4.4,
		"price": "$$",
		"photos": ["https://photos.example.com/y-1/o.jpg"],
		"hours": [{"open": [{"day": 0, "start": "1600", "end": "0200"}]}]
	}`

	std, err := standardize.ExtractYelp("y-1", json.RawMessage(doc))
	require.NoError(t, err)

	assert.Equal(t, "tipsy armadillo", std.NormalizedName)
	assert.Equal(t, 4.4, std.RatingYelp)
	assert.Equal(t, 0.0, std.RatingGoogle)
	assert.Equal(t, 2, std.PriceLevel)
	assert.True(t, std.IsBar)
	assert.Equal(t, []string{"bars", "newamerican"}, std.Categories)
	assert.Equal(t, []string{"Monday: 16:00-02:00"}, std.OperatingHours)
	assert.Equal(t, businesses.SourceYelp, std.Source)
}

func TestExtractRejectsUnknownSource(t *testing.T) {
	_, err := standardize.Extract(businesses.Source("FOURSQUARE"), "f-1", json.RawMessage(`{}`))
	require.Error(t, err)
}

func TestPhotoRefs(t *testing.T) {
	refs := standardize.PhotoRefs(businesses.SourceGoogle, json.RawMessage(googleTipsyArmadillo), standardize.PhotoURLOptions{
		GoogleAPIKey: "test-key",
	})
	require.Len(t, refs, 2)
	assert.Equal(t, "places/X1/photos/a", refs[0].ID)
	assert.Equal(t, 4032, refs[0].Width)
	assert.Contains(t, refs[0].URL, "places.googleapis.com/v1/places/X1/photos/a/media")
	assert.Contains(t, refs[0].URL, "key=test-key")

	refs = standardize.PhotoRefs(businesses.SourceYelp, json.RawMessage(`{"id":"y-1","photos":["https://p.example.com/a.jpg"]}`), standardize.PhotoURLOptions{})
	require.Len(t, refs, 1)
	assert.Equal(t, "https://p.example.com/a.jpg", refs[0].URL)
}

func TestServiceRepublishesStandardized(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	bus := events.NewBus(zaptest.NewLogger(t))

	var got []events.Standardized
	bus.Subscribe(events.TopicStandardized, "capture", func(ctx context.Context, event interface{}) error {
		got = append(got, event.(events.Standardized))
		return nil
	})

	standardize.NewService(zaptest.NewLogger(t), bus)

	bus.Publish(ctx, events.TopicRawCollected, events.RawCollected{
		Source:   businesses.SourceGoogle,
		SourceID: "X1",
		Document: json.RawMessage(googleTipsyArmadillo),
	})

	require.Len(t, got, 1)
	assert.Equal(t, "the tipsy armadillo", got[0].Business.NormalizedName)

	// a malformed document fails the handler without reaching
	// downstream subscribers
	bus.Publish(ctx, events.TopicRawCollected, events.RawCollected{
		Source:   businesses.SourceGoogle,
		SourceID: "bad",
		Document: json.RawMessage(`{"location":{"latitude":"nope"}}`),
	})
	require.Len(t, got, 1)
	assert.Equal(t, int64(1), bus.Failures(events.TopicRawCollected))
}
