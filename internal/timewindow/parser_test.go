package timewindow

import (
	"errors"
	"testing"
	"time"
)

var reference = time.Date(2026, 3, 9, 12, 30, 0, 0, time.UTC)

func TestParse_Empty(t *testing.T) {
	t.Parallel()

	window, err := Parse("", reference)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if !window.To.Equal(reference) || !window.From.Equal(reference.Add(-24*time.Hour)) {
		t.Fatalf("expected the last 24 hours, got %+v", window)
	}
}

func TestParse_Relative(t *testing.T) {
	t.Parallel()

	cases := []struct {
		input string
		span  time.Duration
	}{
		{"-3d", 3 * 24 * time.Hour},
		{"12h", 12 * time.Hour},
		{"-2w", 2 * 7 * 24 * time.Hour},
	}
	for _, tc := range cases {
		window, err := Parse(tc.input, reference)
		if err != nil {
			t.Fatalf("Parse(%q) failed: %v", tc.input, err)
		}
		if !window.To.Equal(reference) {
			t.Fatalf("Parse(%q): relative windows end at now, got %s", tc.input, window.To)
		}
		if got := window.To.Sub(window.From); got != tc.span {
			t.Fatalf("Parse(%q): expected span %s, got %s", tc.input, tc.span, got)
		}
	}
}

func TestParse_CompactDay(t *testing.T) {
	t.Parallel()

	window, err := Parse("20260115", reference)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	wantFrom := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	if !window.From.Equal(wantFrom) || !window.To.Equal(wantFrom.Add(24*time.Hour)) {
		t.Fatalf("expected the full day, got %+v", window)
	}

	// The four-digit form borrows the reference year.
	window, err = Parse("0115", reference)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if !window.From.Equal(wantFrom) {
		t.Fatalf("expected 0115 to resolve within 2026, got %s", window.From)
	}
}

func TestParse_DelimitedForms(t *testing.T) {
	t.Parallel()

	cases := []struct {
		input string
		from  time.Time
		span  time.Duration
	}{
		{"2026-01-15", time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC), 24 * time.Hour},
		{"2026/01/15", time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC), 24 * time.Hour},
		{"2026-01-15 08:00", time.Date(2026, 1, 15, 8, 0, 0, 0, time.UTC), time.Hour},
		{"2026/01/15 08:30", time.Date(2026, 1, 15, 8, 30, 0, 0, time.UTC), time.Hour},
	}
	for _, tc := range cases {
		window, err := Parse(tc.input, reference)
		if err != nil {
			t.Fatalf("Parse(%q) failed: %v", tc.input, err)
		}
		if !window.From.Equal(tc.from) {
			t.Fatalf("Parse(%q): expected start %s, got %s", tc.input, tc.from, window.From)
		}
		if got := window.To.Sub(window.From); got != tc.span {
			t.Fatalf("Parse(%q): expected span %s, got %s", tc.input, tc.span, got)
		}
	}
}

func TestParse_ExplicitRange(t *testing.T) {
	t.Parallel()

	window, err := Parse("2026-01-10 ~ 2026-01-15", reference)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if !window.From.Equal(time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected range start %s", window.From)
	}
	// The end day is included whole.
	if !window.To.Equal(time.Date(2026, 1, 16, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected the end day covered, got %s", window.To)
	}

	if _, err := Parse("2026-01-15 ~ 2026-01-10", reference); err == nil {
		t.Fatalf("expected an inverted range to fail")
	}
}

func TestParse_Unrecognized(t *testing.T) {
	t.Parallel()

	for _, input := range []string{"nonsense", "123", "0d", "15m", "2026-13-40", "~"} {
		if _, err := Parse(input, reference); !errors.Is(err, ErrUnrecognized) {
			t.Fatalf("Parse(%q): expected ErrUnrecognized, got %v", input, err)
		}
	}
}
