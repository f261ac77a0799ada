package model

import "time"

// BucketInterval is the resolution of the whole system: one candle, one
// index point per five minutes.
const BucketInterval = 5 * time.Minute

// FloorBucket aligns t down to the opening instant of its five-minute bucket,
// in UTC.
func FloorBucket(t time.Time) time.Time {
	return t.UTC().Truncate(BucketInterval)
}

// LatestClosedBucket returns the opening instant of the most recent
// five-minute bucket that has fully closed at wall-clock time now. A bucket
// opening at floor(now) is still forming, so the result is one interval
// earlier.
func LatestClosedBucket(now time.Time) time.Time {
	return FloorBucket(now).Add(-BucketInterval)
}

// IsBucketAligned reports whether t sits exactly on a five-minute UTC
// boundary.
func IsBucketAligned(t time.Time) bool {
	return t.UTC().Truncate(BucketInterval).Equal(t.UTC())
}
