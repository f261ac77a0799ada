package analytics

import (
	"context"
	"sort"
	"time"

	"altindex/internal/model"
)

// UptrendParams are the wave termination knobs.
type UptrendParams struct {
	KeepRatio       float64 // minimum fraction of the gain the close must retain
	SidewaysCandles int     // candles without a new peak that end a wave
	MinPct          float64 // minimum wave magnitude in percent
}

// DefaultUptrendParams mirror the product defaults.
func DefaultUptrendParams() UptrendParams {
	return UptrendParams{KeepRatio: 0.75, SidewaysCandles: 6, MinPct: 4}
}

// Wave is one detected uptrend segment.
type Wave struct {
	Symbol     string    `json:"symbol"`
	StartTime  time.Time `json:"startTime"`
	PeakTime   time.Time `json:"peakTime"`
	StartPrice float64   `json:"startPrice"`
	PeakPrice  float64   `json:"peakPrice"`
	Pct        float64   `json:"pct"`
	Ongoing    bool      `json:"ongoing"`
}

// UptrendBucket is one histogram bar of waves grouped by magnitude.
type UptrendBucket struct {
	Range        string `json:"range"`
	Count        int    `json:"count"`
	OngoingCount int    `json:"ongoingCount"`
	Waves        []Wave `json:"waves"`
}

// UptrendResult is the uptrend-distribution response.
type UptrendResult struct {
	TotalCoins      int             `json:"totalCoins"` // wave count
	OngoingCount    int             `json:"ongoingCount"`
	AvgUptrend      float64         `json:"avgUptrend"`
	MaxUptrend      float64         `json:"maxUptrend"`
	Distribution    []UptrendBucket `json:"distribution"`
	AllCoinsRanking []Wave          `json:"allCoinsRanking"`
}

// Uptrend segments every symbol's series over the bucket-aligned [start, end]
// into uptrend waves and assembles the ranked, bucketed response. Results are
// cached per (window, params) until the next live commit or expiry.
func (e *Engine) Uptrend(ctx context.Context, start, end time.Time, p UptrendParams) (*UptrendResult, error) {
	if e.cache != nil {
		if cached, ok := e.cache.Get(start, end, p); ok {
			return cached, nil
		}
	}
	all, err := e.candles.CandlesInRange(ctx, start, end)
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, ErrNoData
	}

	// Rows arrive ordered by (symbol, bucket_start); walk one symbol run at
	// a time.
	var waves []Wave
	for lo := 0; lo < len(all); {
		hi := lo
		for hi < len(all) && all[hi].Symbol == all[lo].Symbol {
			hi++
		}
		waves = append(waves, scanWaves(all[lo:hi], p)...)
		lo = hi
	}
	if len(waves) == 0 {
		return nil, ErrNoData
	}
	result := assembleUptrend(waves)
	if e.cache != nil {
		e.cache.Put(start, end, p, result)
	}
	return result, nil
}

// waveState tracks one in-progress wave during a symbol scan.
type waveState struct {
	startPrice float64
	startTime  time.Time
	peakPrice  float64
	peakTime   time.Time
	peakIdx    int
	lowestLow  float64
	noNewHigh  int
}

// scanWaves runs the one-pass wave state machine over one symbol's candles in
// time order.
func scanWaves(candles []model.Candle, p UptrendParams) []Wave {
	var (
		waves  []Wave
		w      waveState
		inWave bool
	)
	startAt := func(i int, startPrice float64, startTime time.Time) {
		c := candles[i]
		w = waveState{
			startPrice: startPrice,
			startTime:  startTime,
			peakPrice:  c.High,
			peakTime:   c.BucketStart,
			peakIdx:    i,
			lowestLow:  startPrice,
		}
		inWave = true
	}
	emit := func(symbol string, ongoing bool) {
		pct := (w.peakPrice - w.startPrice) / w.startPrice * 100
		if pct < p.MinPct || w.startTime.Equal(w.peakTime) {
			return
		}
		waves = append(waves, Wave{
			Symbol:     symbol,
			StartTime:  w.startTime,
			PeakTime:   w.peakTime,
			StartPrice: w.startPrice,
			PeakPrice:  w.peakPrice,
			Pct:        round2(pct),
			Ongoing:    ongoing,
		})
	}

	for i, c := range candles {
		if !inWave {
			startAt(i, c.Low, c.BucketStart)
			continue
		}

		madeNewHigh := false
		if c.High > w.peakPrice {
			w.peakPrice = c.High
			w.peakTime = c.BucketStart
			w.peakIdx = i
			w.noNewHigh = 0
			madeNewHigh = true
		} else {
			w.noNewHigh++
		}

		// A low under the wave's historical low invalidates it outright.
		if c.Low < w.lowestLow {
			startAt(i, c.Low, c.BucketStart)
			continue
		}

		pr := 1.0
		if denom := w.peakPrice - w.startPrice; denom > 0 {
			pr = (c.Close - w.startPrice) / denom
		}
		giveback := !madeNewHigh && pr < p.KeepRatio && w.peakPrice > w.startPrice
		sideways := w.noNewHigh >= p.SidewaysCandles
		if !giveback && !sideways {
			continue
		}

		emit(c.Symbol, false)

		// The next wave measures from the lowest low strictly after the
		// peak, not from the terminating candle itself.
		newLow, newIdx := c.Low, i
		for j := w.peakIdx + 1; j <= i; j++ {
			if candles[j].Low < newLow {
				newLow, newIdx = candles[j].Low, j
			}
		}
		startAt(i, newLow, candles[newIdx].BucketStart)
	}

	if inWave && w.peakPrice > w.startPrice {
		emit(candles[len(candles)-1].Symbol, w.noNewHigh < p.SidewaysCandles)
	}
	return waves
}

// assembleUptrend ranks, summarizes and buckets the detected waves.
func assembleUptrend(waves []Wave) *UptrendResult {
	sort.Slice(waves, func(i, j int) bool { return waves[i].Pct > waves[j].Pct })

	out := &UptrendResult{
		TotalCoins:      len(waves),
		AllCoinsRanking: waves,
		MaxUptrend:      waves[0].Pct,
	}
	sum := 0.0
	for _, w := range waves {
		sum += w.Pct
		if w.Ongoing {
			out.OngoingCount++
		}
	}
	out.AvgUptrend = round2(sum / float64(len(waves)))

	minPct, maxPct := waves[len(waves)-1].Pct, waves[0].Pct
	step := stepFor(maxPct - minPct)
	members := make(map[int][]Wave)
	for _, w := range waves {
		idx := bucketIndex(w.Pct, step)
		members[idx] = append(members[idx], w)
	}
	for i := bucketIndex(minPct, step); i <= bucketIndex(maxPct, step); i++ {
		bucketWaves := members[i]
		if bucketWaves == nil {
			bucketWaves = []Wave{}
		}
		ongoing := 0
		for _, w := range bucketWaves {
			if w.Ongoing {
				ongoing++
			}
		}
		out.Distribution = append(out.Distribution, UptrendBucket{
			Range:        bucketLabel(i, step),
			Count:        len(bucketWaves),
			OngoingCount: ongoing,
			Waves:        bucketWaves,
		})
	}
	return out
}
