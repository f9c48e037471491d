package common

import (
	"testing"
	"time"
)

func TestParseDuration(t *testing.T) {
	testCases := []struct {
		in       string
		expected time.Duration
	}{
		{"1", time.Millisecond},
		{"100", 100 * time.Millisecond},
		{"100.5", 100 * time.Millisecond},
		{"100s", 100 * time.Second},
		{"1234s", 1234 * time.Second},
		{"1m", time.Minute},
		{"0.5m", 30 * time.Second},
		{"0.5h", 30 * time.Minute},
		{"4h", 4 * time.Hour},
		{"1d", 24 * time.Hour},
	}

	for _, tc := range testCases {
		if d := ParseDuration(tc.in); d != tc.expected {
			t.Fatalf("ParseDuration(%q) should be %v, not %v", tc.in, tc.expected, d)
		}
	}
}

func TestParseDurationInvalid(t *testing.T) {
	for _, in := range []string{"car", "-100", "1t", "1.1.2s", ""} {
		if d := ParseDuration(in); d != 0 {
			t.Fatalf("ParseDuration(%q) should be 0, not %v", in, d)
		}
	}
}
