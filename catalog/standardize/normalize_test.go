// Copyright (C) 2024 Barhop Labs.
// See LICENSE for copying information.

package standardize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeName(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"The Tipsy Armadillo Bar", "the tipsy armadillo"},
		{"Joe's Grill", "joe's"},
		{"ACME Holdings LLC", "acme holdings"},
		{"Blue   Moon  Tavern.", "blue moon"},
		{"Caffe Milano Restaurant", "caffe milano"},
		{"O'Brien's Pub", "o'brien's"},
		{"", ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, NormalizeName(tc.in), "input %q", tc.in)
	}
}

func TestNormalizeNameIdempotent(t *testing.T) {
	inputs := []string{
		"The Tipsy Armadillo Bar",
		"Cozy Corner Bar Grill", // stacked suffixes strip fully
		"Plain Name",
	}
	for _, in := range inputs {
		once := NormalizeName(in)
		assert.Equal(t, once, NormalizeName(once), "input %q", in)
	}
}

func TestNormalizeAddress(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"123 E 6th St, Austin, TX", "123 e 6th street, austin, tx"},
		{"500 Congress Ave Suite 200, Austin", "500 congress avenue austin"},
		{"900 Red River Rd Apt 4B", "900 red river road"},
		{"1 Main Blvd # 12", "1 main boulevard"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, NormalizeAddress(tc.in), "input %q", tc.in)
	}

	for _, in := range []string{"123 E 6th St, Austin, TX", "500 Congress Ave"} {
		once := NormalizeAddress(in)
		assert.Equal(t, once, NormalizeAddress(once))
	}
}

func TestNormalizePhone(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"(512) 555-0100", "+15125550100"},
		{"512-555-0100", "+15125550100"},
		{"1 512 555 0100", "+15125550100"},
		{"+1 512-555-0100", "+15125550100"},
		{"+44 20 7946 0958", "+442079460958"},
		{"", ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, NormalizePhone(tc.in), "input %q", tc.in)
	}

	for _, in := range []string{"(512) 555-0100", "+44 20 7946 0958"} {
		once := NormalizePhone(in)
		assert.Equal(t, once, NormalizePhone(once))
	}
}

func TestNormalizeDomain(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"https://www.tipsy.example.com/menu", "tipsy.example.com"},
		{"http://tipsy.example.com", "tipsy.example.com"},
		{"tipsy.example.com", "tipsy.example.com"},
		{"not a url at all %%", ""},
		{"", ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, NormalizeDomain(tc.in), "input %q", tc.in)
	}
}

func TestClassify(t *testing.T) {
	isBar, isRestaurant := Classify([]string{"bar", "restaurant"})
	assert.True(t, isBar)
	assert.True(t, isRestaurant)

	isBar, isRestaurant = Classify([]string{"wine_bar"})
	assert.True(t, isBar)
	assert.False(t, isRestaurant)

	isBar, isRestaurant = Classify([]string{"mexican_restaurant"})
	assert.False(t, isBar)
	assert.True(t, isRestaurant)

	isBar, isRestaurant = Classify([]string{"museum"})
	assert.False(t, isBar)
	assert.False(t, isRestaurant)
}

func TestPriceLevels(t *testing.T) {
	assert.Equal(t, 1, GooglePriceLevel("PRICE_LEVEL_INEXPENSIVE"))
	assert.Equal(t, 2, GooglePriceLevel("PRICE_LEVEL_MODERATE"))
	assert.Equal(t, 3, GooglePriceLevel("PRICE_LEVEL_EXPENSIVE"))
	assert.Equal(t, 4, GooglePriceLevel("PRICE_LEVEL_VERY_EXPENSIVE"))
	assert.Equal(t, 0, GooglePriceLevel("PRICE_LEVEL_UNSPECIFIED"))

	assert.Equal(t, 2, YelpPriceLevel("$$"))
	assert.Equal(t, 4, YelpPriceLevel("$$$$$"))
	assert.Equal(t, 0, YelpPriceLevel(""))
}
