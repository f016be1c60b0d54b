// Copyright (C) 2024 Barhop Labs.
// See LICENSE for copying information.

package deals

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const extractorName = "hours-regex"

var (
	dayRe  = regexp.MustCompile(`(?i)\b(sunday|monday|tuesday|wednesday|thursday|friday|saturday)\b`)
	timeRe = regexp.MustCompile(`(?i)\b(\d{1,2})(?::(\d{2}))?\s*(am|pm)?\s*[-–]\s*(\d{1,2})(?::(\d{2}))?\s*(am|pm)?`)
	cueRe  = regexp.MustCompile(`(?i)(happy hour|\$\d+(?:\.\d{2})?|\d+%\s*off|half[\s-]price|2[\s-]for[\s-]1|two for one)`)
)

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// ExtractFromHours scans operating-hour strings for deal cues and
// returns one deal per matching line. IDs and business ids are left to
// the caller.
func ExtractFromHours(hours []string) []Deal {
	var out []Deal
	for _, line := range hours {
		cue := cueRe.FindString(line)
		if cue == "" {
			continue
		}
		times := timeRe.FindStringSubmatch(line)
		if times == nil {
			continue
		}

		deal := Deal{
			StartTime:   normalizeTime(times[1], times[2], times[3]),
			EndTime:     normalizeTime(times[4], times[5], times[6]),
			Title:       title(cue),
			Description: strings.TrimSpace(line),
			ExtractedBy: extractorName,
			Confidence:  confidence(cue),
			SourceText:  line,
			IsActive:    true,
		}
		if day := dayRe.FindString(line); day != "" {
			weekday := weekdays[strings.ToLower(day)]
			deal.DayOfWeek = &weekday
		}
		out = append(out, deal)
	}
	return out
}

func title(cue string) string {
	if strings.EqualFold(cue, "happy hour") {
		return "Happy Hour"
	}
	return fmt.Sprintf("Deal: %s", strings.TrimSpace(cue))
}

// an explicit "happy hour" is a stronger signal than a bare price
func confidence(cue string) float64 {
	if strings.EqualFold(cue, "happy hour") {
		return 0.9
	}
	return 0.6
}

// normalizeTime renders a matched clock time as 24h "HH:MM".
func normalizeTime(hourText, minuteText, meridiem string) string {
	hour, _ := strconv.Atoi(hourText)
	minute := 0
	if minuteText != "" {
		minute, _ = strconv.Atoi(minuteText)
	}
	switch strings.ToLower(meridiem) {
	case "pm":
		if hour < 12 {
			hour += 12
		}
	case "am":
		if hour == 12 {
			hour = 0
		}
	}
	return fmt.Sprintf("%02d:%02d", hour%24, minute)
}
