package model

import "time"

// Candle represents one closed five-minute OHLCV candle for a single
// USDT-margined perpetual contract. BucketStart is the UTC opening instant of
// the five-minute window, always aligned to a multiple of five minutes.
type Candle struct {
	Symbol      string    `json:"symbol"`
	BucketStart time.Time `json:"bucketStart"`
	Open        float64   `json:"open"`
	High        float64   `json:"high"`
	Low         float64   `json:"low"`
	Close       float64   `json:"close"`
	QuoteVolume float64   `json:"quoteVolume"` // quote-asset turnover of the bucket
}

// Key returns the de-facto primary key of this candle: "symbol@bucket".
func (c *Candle) Key() string {
	return c.Symbol + "@" + c.BucketStart.UTC().Format(time.RFC3339)
}

// Valid reports whether the candle is structurally usable: positive prices,
// OHLC ordering, non-negative volume and an aligned bucket.
func (c *Candle) Valid() bool {
	if c.Close <= 0 || c.Open <= 0 || c.High <= 0 || c.Low <= 0 {
		return false
	}
	if c.QuoteVolume < 0 {
		return false
	}
	lo, hi := c.Open, c.Close
	if lo > hi {
		lo, hi = hi, lo
	}
	if c.Low > lo || c.High < hi {
		return false
	}
	return IsBucketAligned(c.BucketStart)
}
