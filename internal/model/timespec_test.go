package model

import (
	"testing"
	"time"
)

func TestParseDateTimeLayouts(t *testing.T) {
	want := time.Date(2026, 3, 1, 4, 0, 0, 0, time.UTC) // 12:00 Shanghai
	for _, v := range []string{
		"2026-03-01 12:00:00",
		"2026-03-01 12:00",
		"2026-03-01T12:00:00",
		"2026-03-01T12:00",
	} {
		got, err := ParseDateTime(v, "Asia/Shanghai")
		if err != nil {
			t.Fatalf("ParseDateTime(%q): %v", v, err)
		}
		if !got.Equal(want) {
			t.Errorf("ParseDateTime(%q) = %v, want %v", v, got, want)
		}
	}
}

func TestParseDateTimeUTCZone(t *testing.T) {
	got, err := ParseDateTime("2026-03-01 12:00", "UTC")
	if err != nil {
		t.Fatal(err)
	}
	want := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestParseDateTimeErrors(t *testing.T) {
	if _, err := ParseDateTime("03/01/2026", "UTC"); err == nil {
		t.Error("expected error for unsupported layout")
	}
	if _, err := ParseDateTime("", "UTC"); err == nil {
		t.Error("expected error for empty value")
	}
	if _, err := ParseDateTime("2026-03-01 12:00", "Mars/Olympus"); err == nil {
		t.Error("expected error for unknown zone")
	}
}

func TestAbsoluteRangeOrdering(t *testing.T) {
	if _, err := AbsoluteRange("2026-03-02 00:00", "2026-03-01 00:00", "UTC"); err == nil {
		t.Fatal("expected error when start is after end")
	}
}

func TestResolveLookback(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 7, 30, 0, time.UTC)
	start, end := Lookback(24).Resolve(now)
	if !end.Equal(time.Date(2026, 3, 1, 12, 5, 0, 0, time.UTC)) {
		t.Fatalf("end = %v", end)
	}
	if !start.Equal(end.Add(-24 * time.Hour)) {
		t.Fatalf("start = %v", start)
	}
	// Fractional hours round to whole minutes, then floor-align.
	start, end = Lookback(0.5).Resolve(now)
	if !start.Equal(end.Add(-30 * time.Minute)) {
		t.Fatalf("fractional lookback start = %v end = %v", start, end)
	}
}

func TestResolveAbsoluteAligns(t *testing.T) {
	ts, err := AbsoluteRange("2026-03-01 00:03", "2026-03-01 06:04", "UTC")
	if err != nil {
		t.Fatal(err)
	}
	start, end := ts.Resolve(time.Now())
	if !start.Equal(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("start = %v", start)
	}
	if !end.Equal(time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC)) {
		t.Errorf("end = %v", end)
	}
}
