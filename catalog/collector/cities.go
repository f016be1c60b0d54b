// Copyright (C) 2024 Barhop Labs.
// See LICENSE for copying information.

package collector

import "strings"

// Coordinate is one curated search center.
type Coordinate struct {
	Latitude  float64
	Longitude float64
}

// Curated city presets. Larger cities get several centers so the
// default search radius covers the nightlife districts, not just
// downtown.
var cityPresets = map[string][]Coordinate{
	"austin": {
		{30.2672, -97.7431}, // downtown / sixth street
		{30.2500, -97.7500}, // south congress
		{30.2950, -97.7417}, // north campus
	},
	"new york": {
		{40.7128, -74.0060}, // lower manhattan
		{40.7282, -73.9942}, // east village
		{40.7178, -73.9570}, // williamsburg
		{40.7614, -73.9776}, // midtown
	},
	"chicago": {
		{41.8781, -87.6298},
		{41.9103, -87.6773}, // wicker park
		{41.9400, -87.6533}, // wrigleyville
	},
	"san francisco": {
		{37.7749, -122.4194},
		{37.7599, -122.4148}, // mission
		{37.7989, -122.4080}, // north beach
	},
	"denver": {
		{39.7392, -104.9903},
		{39.7594, -104.9847}, // rino
	},
	"nashville": {
		{36.1627, -86.7816},
		{36.1513, -86.7837}, // the gulch
	},
	"portland": {
		{45.5152, -122.6784},
		{45.5230, -122.6814},
	},
	"miami": {
		{25.7617, -80.1918},
		{25.7907, -80.1300}, // south beach
	},
}

// CityCoordinates resolves a city name to its curated coordinate list.
// Matching is case-insensitive.
func CityCoordinates(city string) ([]Coordinate, bool) {
	coordinates, ok := cityPresets[strings.ToLower(strings.TrimSpace(city))]
	return coordinates, ok
}

// Cities lists the cities with presets.
func Cities() []string {
	cities := make([]string, 0, len(cityPresets))
	for city := range cityPresets {
		cities = append(cities, city)
	}
	return cities
}
