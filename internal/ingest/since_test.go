package ingest_test

import (
	"testing"
	"time"

	errs "github.com/edgard/chatdedup/internal/errors"
	"github.com/edgard/chatdedup/internal/ingest"
)

func TestParseSince(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want time.Time
	}{
		{"2024-01-15", time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)},
		{" 2024-01-15 ", time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)},
		{"2024-01-15T10:30:00", time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)},
		{"2024-01-15T10:30:00.250", time.Date(2024, 1, 15, 10, 30, 0, 250e6, time.UTC)},
		{"2024-01-15T10:30:00Z", time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)},
		{"2024-01-15T10:30:00+02:00", time.Date(2024, 1, 15, 8, 30, 0, 0, time.UTC)},
		{"2024-01-15 10:30:00", time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)},
		{"2024-01-15T10:30", time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)},
	}

	for _, tc := range tests {
		got, err := ingest.ParseSince(tc.in)
		if err != nil {
			t.Errorf("ParseSince(%q) error = %v", tc.in, err)
			continue
		}
		if !got.Equal(tc.want) || got.Location() != time.UTC {
			t.Errorf("ParseSince(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestParseSinceEmptyAndInvalid(t *testing.T) {
	t.Parallel()

	if got, err := ingest.ParseSince(""); got != nil || err != nil {
		t.Errorf("ParseSince(\"\") = %v, %v; want nil, nil", got, err)
	}

	for _, in := range []string{"yesterday", "15/01/2024", "2024-13-01"} {
		_, err := ingest.ParseSince(in)
		if code := errs.Code(err); code != errs.CodeValidation {
			t.Errorf("ParseSince(%q) code = %q, want %q", in, code, errs.CodeValidation)
		}
	}
}
