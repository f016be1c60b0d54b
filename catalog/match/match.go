// Copyright (C) 2024 Barhop Labs.
// See LICENSE for copying information.

// Package match implements pure similarity scoring between
// standardized businesses. All inputs are assumed normalized.
package match

import (
	"math"
	"strings"
)

// MaxLocationDistanceKm is the distance at which the location score
// reaches zero.
const MaxLocationDistanceKm = 0.1

// Scores holds the per-signal similarity values, each in [0,1].
type Scores struct {
	Name     float64
	Location float64
	Phone    float64
	Domain   float64
	Overall  float64
}

// Decision is the outcome of comparing two businesses.
type Decision struct {
	IsMatch    bool
	Confidence float64
	Scores     Scores
}

// Input is one side of a comparison.
type Input struct {
	NormalizedName  string
	Latitude        float64
	Longitude       float64
	NormalizedPhone string
	Domain          string
}

// Compare scores two businesses and applies the match decision table.
func Compare(a, b Input) Decision {
	scores := Scores{
		Name:     NameSimilarity(a.NormalizedName, b.NormalizedName),
		Location: LocationSimilarity(a.Latitude, a.Longitude, b.Latitude, b.Longitude),
		Phone:    PhoneSimilarity(a.NormalizedPhone, b.NormalizedPhone),
		Domain:   DomainSimilarity(a.Domain, b.Domain),
	}
	scores.Overall = Overall(scores)

	decision := Decision{Scores: scores, Confidence: scores.Overall}

	switch {
	case scores.Name > 0.9 && scores.Location > 0.9:
		decision.IsMatch = true
		decision.Confidence = 0.95
	case (scores.Phone == 1.0 || scores.Domain == 1.0) && scores.Name > 0.7 && scores.Location > 0.8:
		decision.IsMatch = true
		decision.Confidence = 0.90
	case scores.Overall > 0.8:
		decision.IsMatch = true
	case scores.Overall > 0.7 && scores.Name > 0.8 && scores.Location > 0.7:
		decision.IsMatch = true
	}

	return decision
}

// NameSimilarity combines edit distance and word overlap, weighted
// 0.6/0.4. Identical names short-circuit to 1.
func NameSimilarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}

	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	editScore := 1 - float64(levenshtein(a, b))/float64(maxLen)
	if editScore < 0 {
		editScore = 0
	}

	return 0.6*editScore + 0.4*jaccard(strings.Fields(a), strings.Fields(b))
}

// LocationSimilarity maps the Haversine distance linearly onto [0,1],
// reaching zero at MaxLocationDistanceKm.
func LocationSimilarity(lat1, lng1, lat2, lng2 float64) float64 {
	d := HaversineKm(lat1, lng1, lat2, lng2)
	score := 1 - d/MaxLocationDistanceKm
	if score < 0 {
		return 0
	}
	return score
}

// PhoneSimilarity is 1 on equality, 0.9 when one number is a suffix of
// the other (country-code variance), 0 otherwise.
func PhoneSimilarity(a, b string) float64 {
	a, b = digits(a), digits(b)
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}
	if strings.HasSuffix(a, b) || strings.HasSuffix(b, a) {
		return 0.9
	}
	return 0
}

// DomainSimilarity is exact equality after stripping a www. prefix.
func DomainSimilarity(a, b string) float64 {
	a = strings.TrimPrefix(a, "www.")
	b = strings.TrimPrefix(b, "www.")
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}
	return 0
}

// Overall computes the weighted mean: name and location always weigh
// 0.4 each, phone and domain add 0.1 to the denominator only when
// their score is non-zero.
func Overall(scores Scores) float64 {
	total := 0.4*scores.Name + 0.4*scores.Location
	weight := 0.8
	if scores.Phone > 0 {
		total += 0.1 * scores.Phone
		weight += 0.1
	}
	if scores.Domain > 0 {
		total += 0.1 * scores.Domain
		weight += 0.1
	}
	return total / weight
}

const earthRadiusKm = 6371.0

// HaversineKm returns the great-circle distance between two points in
// kilometers.
func HaversineKm(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := radians(lat2 - lat1)
	dLng := radians(lng2 - lng1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(radians(lat1))*math.Cos(radians(lat2))*
			math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusKm * c
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }

func digits(s string) string {
	var out strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			out.WriteRune(r)
		}
	}
	return out.String()
}

func jaccard(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	setA := make(map[string]struct{}, len(a))
	for _, w := range a {
		setA[w] = struct{}{}
	}
	setB := make(map[string]struct{}, len(b))
	for _, w := range b {
		setB[w] = struct{}{}
	}

	intersection := 0
	for w := range setA {
		if _, ok := setB[w]; ok {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	return float64(intersection) / float64(union)
}

func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min3(
				prev[j]+1,
				curr[j-1]+1,
				prev[j-1]+cost,
			)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}
