// Package index turns a time-aligned batch of candles into one index row.
package index

import (
	"time"

	"altindex/internal/model"
)

// Aggregate computes the breadth index for one bucket from candles sharing
// that bucket and the current base-price map. Symbols without a base, with a
// non-positive base, or with a non-positive close do not contribute. Returns
// false when no symbol contributed.
func Aggregate(bucket time.Time, candles []model.Candle, bases map[string]float64) (model.IndexRow, bool) {
	var (
		sumPct float64
		volume float64
		count  int
		up     int
		down   int
	)
	for _, c := range candles {
		base, ok := bases[c.Symbol]
		if !ok || base <= 0 || c.Close <= 0 {
			continue
		}
		pct := (c.Close - base) / base * 100
		sumPct += pct
		volume += c.QuoteVolume
		count++
		switch {
		case pct > 0:
			up++
		case pct < 0:
			down++
		}
	}
	if count == 0 {
		return model.IndexRow{}, false
	}
	adr := float64(up)
	if down > 0 {
		adr = float64(up) / float64(down)
	}
	return model.IndexRow{
		BucketStart: bucket.UTC(),
		IndexValue:  sumPct / float64(count),
		TotalVolume: volume,
		CoinCount:   count,
		UpCount:     up,
		DownCount:   down,
		ADR:         adr,
	}, true
}
