package models

import (
	"strings"
	"time"
)

// InstantLayout is the layout used for timestamps written back to the tracker.
const InstantLayout = "2006-01-02T15:04:05.000Z"

// zone-less layouts are read in the process local time zone.
var localLayouts = []string{
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ParseInstant reads a tracker timestamp. Values carrying a zone (Z or an
// offset) keep it; the rest are interpreted in local time.
func ParseInstant(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t, true
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, raw, time.Local); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// FormatInstant renders t as UTC ISO-8601 with millisecond precision.
func FormatInstant(t time.Time) string {
	return t.UTC().Format(InstantLayout)
}
