package ingest

import (
	"fmt"
	"strings"
	"time"

	errs "github.com/edgard/chatdedup/internal/errors"
)

// sinceLayouts are tried in order. Layouts without a zone are read as UTC.
var sinceLayouts = []string{
	"2006-01-02",
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04",
}

// ParseSince parses a since cutoff. An empty string means no cutoff; a bare
// date is midnight UTC of that day.
func ParseSince(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}

	for _, layout := range sinceLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, errs.NewValidationError(
		fmt.Sprintf("invalid since value %q, expected YYYY-MM-DD or an ISO 8601 timestamp", s), nil)
}
