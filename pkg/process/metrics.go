// Copyright (C) 2024 Barhop Labs.
// See LICENSE for copying information.

package process

import (
	"github.com/spacemonkeygo/monkit/v3"
)

// Registry returns the process-wide monkit registry used by every
// package-level `mon` scope.
func Registry() *monkit.Registry {
	return monkit.Default
}

// Stats walks all current stat values, for debug endpoints and tests.
func Stats(cb func(key monkit.SeriesKey, field string, val float64)) {
	monkit.Default.Stats(cb)
}
