// Copyright (C) 2024 Barhop Labs.
// See LICENSE for copying information.

package standardize

import (
	"net/url"
	"regexp"
	"strings"
)

var (
	businessSuffixRe = regexp.MustCompile(`(?i)\s+(llc|inc|corp|ltd|co|restaurant|bar|pub|grill|lounge|tavern|cafe|bistro)\.?$`)
	nameCharsRe      = regexp.MustCompile(`[^\w\s\-']`)
	whitespaceRe     = regexp.MustCompile(`\s+`)
	unitRe           = regexp.MustCompile(`(?i)\b(?:apt|suite|ste|unit)\.?\s+\S+|#\s*\S+`)
	digitsRe         = regexp.MustCompile(`\d`)
)

var streetAbbreviations = map[string]string{
	"st":   "street",
	"ave":  "avenue",
	"blvd": "boulevard",
	"rd":   "road",
	"dr":   "drive",
	"ln":   "lane",
	"ct":   "court",
	"pkwy": "parkway",
	"pl":   "place",
	"cir":  "circle",
}

// NormalizeName lower-cases, strips trailing business suffixes,
// removes punctuation, and collapses whitespace. It is idempotent:
// suffixes are stripped repeatedly until none remain.
func NormalizeName(name string) string {
	out := strings.ToLower(strings.TrimSpace(name))
	for {
		stripped := businessSuffixRe.ReplaceAllString(out, "")
		if stripped == out {
			break
		}
		out = stripped
	}
	out = nameCharsRe.ReplaceAllString(out, "")
	out = whitespaceRe.ReplaceAllString(out, " ")
	return strings.TrimSpace(out)
}

// NormalizeAddress lower-cases, drops unit designators, and expands
// street abbreviations to their long form.
func NormalizeAddress(address string) string {
	out := strings.ToLower(strings.TrimSpace(address))
	out = unitRe.ReplaceAllString(out, "")

	words := strings.Fields(out)
	for i, word := range words {
		trimmed := strings.TrimRight(word, ".,")
		if long, ok := streetAbbreviations[trimmed]; ok {
			suffix := word[len(trimmed):]
			words[i] = long + suffix
		}
	}
	return strings.Join(words, " ")
}

// NormalizePhone extracts digits and prepends the country prefix: ten
// digits get +1, eleven digits starting with 1 get +. Anything else
// keeps its digits behind a plus, and empty input stays empty.
func NormalizePhone(phone string) string {
	digits := strings.Join(digitsRe.FindAllString(phone, -1), "")
	switch {
	case digits == "":
		return ""
	case len(digits) == 10:
		return "+1" + digits
	case len(digits) == 11 && digits[0] == '1':
		return "+" + digits
	default:
		return "+" + digits
	}
}

// NormalizeDomain parses the website URL and returns its lower-cased
// host without a www. prefix. Invalid URLs yield an empty domain.
func NormalizeDomain(website string) string {
	if website == "" {
		return ""
	}
	raw := website
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" {
		return ""
	}
	host := strings.ToLower(parsed.Hostname())
	return strings.TrimPrefix(host, "www.")
}

var (
	barKeywords        = []string{"bar", "pub", "tavern", "lounge", "wine_bar", "brewery", "cocktail"}
	restaurantKeywords = []string{"restaurant", "food", "dining", "eatery", "cafe", "bistro"}
)

// Classify reports whether the categories mark the business as a bar
// and/or a restaurant.
func Classify(categories []string) (isBar, isRestaurant bool) {
	for _, category := range categories {
		lower := strings.ToLower(category)
		for _, keyword := range barKeywords {
			if strings.Contains(lower, keyword) {
				isBar = true
			}
		}
		for _, keyword := range restaurantKeywords {
			if strings.Contains(lower, keyword) {
				isRestaurant = true
			}
		}
	}
	return isBar, isRestaurant
}

var googlePriceLevels = map[string]int{
	"PRICE_LEVEL_INEXPENSIVE":    1,
	"PRICE_LEVEL_MODERATE":       2,
	"PRICE_LEVEL_EXPENSIVE":      3,
	"PRICE_LEVEL_VERY_EXPENSIVE": 4,
}

// GooglePriceLevel maps the provider enum onto 1..4; unknown values
// yield 0.
func GooglePriceLevel(level string) int {
	return googlePriceLevels[level]
}

// YelpPriceLevel counts dollar signs, capped at 4.
func YelpPriceLevel(price string) int {
	count := strings.Count(price, "$")
	if count > 4 {
		return 4
	}
	return count
}
