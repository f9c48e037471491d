package common

import (
	"math"
	"regexp"
	"strconv"
	"time"
)

var durationFormat = regexp.MustCompile(`^(([0-9]*[.])?[0-9]+)(d|h|m|s)?$`)

// ParseDuration converts a duration setting into a time.Duration. Plain
// numbers are milliseconds; the s, m, h and d suffixes select seconds,
// minutes, hours and days ("90s", "15m", "4h", "1d"). Invalid input yields 0.
func ParseDuration(s string) time.Duration {
	m := durationFormat.FindStringSubmatch(s)
	if m == nil {
		return 0
	}

	value, err := strconv.ParseFloat(m[1], 64)
	if err != nil || value < 0 {
		return 0
	}

	unit := time.Millisecond
	switch m[3] {
	case "s":
		unit = time.Second
	case "m":
		unit = time.Minute
	case "h":
		unit = time.Hour
	case "d":
		unit = 24 * time.Hour
	}

	return time.Duration(math.Floor(value*float64(unit)/float64(time.Millisecond))) * time.Millisecond
}
