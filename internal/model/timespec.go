package model

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// DefaultZone is the zone assumed for client-supplied wall-clock times when
// no timezone parameter is given.
const DefaultZone = "Asia/Shanghai"

var dateTimeLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
}

// ParseDateTime parses a client-supplied wall-clock time in the named IANA
// zone and returns the UTC instant. Accepted layouts are date + time with or
// without seconds, space- or T-separated, with RFC3339 as a fallback.
func ParseDateTime(value, zone string) (time.Time, error) {
	if strings.TrimSpace(value) == "" {
		return time.Time{}, fmt.Errorf("empty time value")
	}
	if zone == "" {
		zone = DefaultZone
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return time.Time{}, fmt.Errorf("unknown timezone %q: %w", zone, err)
	}
	for _, layout := range dateTimeLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t.UTC(), nil
		}
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unparseable time %q: expected yyyy-MM-dd HH:mm[:ss]", value)
}

// TimeSpec is the tagged union of the two query time modes: a fractional
// look-back in hours, or an absolute wall-clock range in a named zone.
type TimeSpec struct {
	hours    float64
	start    time.Time
	end      time.Time
	absolute bool
}

// Lookback returns a TimeSpec covering the trailing number of hours.
func Lookback(hours float64) TimeSpec {
	return TimeSpec{hours: hours}
}

// AbsoluteRange parses start and end in the named zone and returns the
// corresponding TimeSpec. Errors on bad format or start after end.
func AbsoluteRange(start, end, zone string) (TimeSpec, error) {
	s, err := ParseDateTime(start, zone)
	if err != nil {
		return TimeSpec{}, fmt.Errorf("start: %w", err)
	}
	e, err := ParseDateTime(end, zone)
	if err != nil {
		return TimeSpec{}, fmt.Errorf("end: %w", err)
	}
	if s.After(e) {
		return TimeSpec{}, fmt.Errorf("start %s is after end %s", start, end)
	}
	return TimeSpec{start: s, end: e, absolute: true}, nil
}

// Resolve normalizes the selection to a bucket-aligned UTC interval. The look-back
// mode subtracts the hours (rounded to whole minutes) from now; both ends are
// floor-aligned to the five-minute grid.
func (ts TimeSpec) Resolve(now time.Time) (start, end time.Time) {
	if ts.absolute {
		return FloorBucket(ts.start), FloorBucket(ts.end)
	}
	end = FloorBucket(now)
	minutes := math.Round(ts.hours * 60)
	start = FloorBucket(end.Add(-time.Duration(minutes) * time.Minute))
	return start, end
}
