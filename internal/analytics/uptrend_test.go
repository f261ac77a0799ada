package analytics

import (
	"testing"
	"time"

	"altindex/internal/model"
)

func series(symbol string, start time.Time, ohlc ...[4]float64) []model.Candle {
	out := make([]model.Candle, len(ohlc))
	for i, v := range ohlc {
		out[i] = model.Candle{
			Symbol:      symbol,
			BucketStart: start.Add(time.Duration(i) * model.BucketInterval),
			Open:        v[0], High: v[1], Low: v[2], Close: v[3],
		}
	}
	return out
}

// flat builds candles where open=high=low=close.
func flat(symbol string, start time.Time, closes ...float64) []model.Candle {
	ohlc := make([][4]float64, len(closes))
	for i, c := range closes {
		ohlc[i] = [4]float64{c, c, c, c}
	}
	return series(symbol, start, ohlc...)
}

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestWaveTerminatesByGiveback(t *testing.T) {
	// Rise 100 -> 112, then close back to 108.5: retained fraction
	// (108.5-100)/(112-100) ~ 0.71 < 0.75.
	candles := flat("AAAUSDT", t0, 100, 104, 108, 112, 108.5)
	waves := scanWaves(candles, UptrendParams{KeepRatio: 0.75, SidewaysCandles: 6, MinPct: 1})
	if len(waves) != 1 {
		t.Fatalf("waves = %+v", waves)
	}
	w := waves[0]
	if w.Pct != 12.0 {
		t.Errorf("pct = %v, want 12.0", w.Pct)
	}
	if w.Ongoing {
		t.Error("terminated wave marked ongoing")
	}
	if !w.StartTime.Equal(t0) || !w.PeakTime.Equal(t0.Add(3*model.BucketInterval)) {
		t.Errorf("wave span %v .. %v", w.StartTime, w.PeakTime)
	}
}

func TestWaveTerminatesBySideways(t *testing.T) {
	candles := flat("AAAUSDT", t0, 100, 105, 105, 105, 105, 105, 105, 105)
	waves := scanWaves(candles, UptrendParams{KeepRatio: 0.75, SidewaysCandles: 6, MinPct: 1})
	if len(waves) != 1 {
		t.Fatalf("waves = %+v", waves)
	}
	if waves[0].Pct != 5.0 {
		t.Errorf("pct = %v, want 5.0", waves[0].Pct)
	}
	if waves[0].Ongoing {
		t.Error("sideways-terminated wave marked ongoing")
	}
}

func TestMonotoneRiseYieldsSingleOngoingWave(t *testing.T) {
	candles := flat("AAAUSDT", t0, 100, 102, 104, 106, 108, 110)
	waves := scanWaves(candles, UptrendParams{KeepRatio: 0.75, SidewaysCandles: 6, MinPct: 1})
	if len(waves) != 1 {
		t.Fatalf("waves = %+v", waves)
	}
	w := waves[0]
	if !w.Ongoing {
		t.Error("open-ended rise should be ongoing")
	}
	if !w.StartTime.Equal(t0) || !w.PeakTime.Equal(t0.Add(5*model.BucketInterval)) {
		t.Errorf("wave span %v .. %v", w.StartTime, w.PeakTime)
	}
	if w.Pct != 10.0 {
		t.Errorf("pct = %v, want 10.0", w.Pct)
	}
}

func TestBreakBelowInvalidatesWave(t *testing.T) {
	// Rise, then one candle with a low under the starting low: no emission,
	// scan restarts there.
	candles := flat("AAAUSDT", t0, 100, 104, 108, 95)
	waves := scanWaves(candles, UptrendParams{KeepRatio: 0.75, SidewaysCandles: 6, MinPct: 1})
	if len(waves) != 0 {
		t.Fatalf("invalidated wave emitted: %+v", waves)
	}
	// Continuing upward from the break candle starts a fresh wave at 95.
	candles = flat("AAAUSDT", t0, 100, 104, 108, 95, 99, 103)
	waves = scanWaves(candles, UptrendParams{KeepRatio: 0.75, SidewaysCandles: 6, MinPct: 1})
	if len(waves) != 1 {
		t.Fatalf("waves = %+v", waves)
	}
	if waves[0].StartPrice != 95 {
		t.Errorf("new wave starts at %v, want 95", waves[0].StartPrice)
	}
}

func TestRestartBackScansToPostPeakLow(t *testing.T) {
	// Peak at 112, dip to 104 (above the 100 start, so no break), then the
	// giveback fires; the next wave must start from the 104 dip.
	candles := flat("AAAUSDT", t0, 100, 106, 112, 104, 105, 108, 111, 115)
	waves := scanWaves(candles, UptrendParams{KeepRatio: 0.75, SidewaysCandles: 6, MinPct: 1})
	if len(waves) != 2 {
		t.Fatalf("waves = %+v", waves)
	}
	first, second := waves[0], waves[1]
	if first.PeakPrice != 112 {
		first, second = second, first
	}
	if first.StartPrice != 100 || first.PeakPrice != 112 {
		t.Errorf("first wave %+v", first)
	}
	if second.StartPrice != 104 {
		t.Errorf("second wave starts at %v, want the post-peak dip 104", second.StartPrice)
	}
	if !second.StartTime.Equal(t0.Add(3 * model.BucketInterval)) {
		t.Errorf("second wave start time %v", second.StartTime)
	}
	if second.PeakPrice != 115 || !second.Ongoing {
		t.Errorf("second wave %+v", second)
	}
}

func TestWavesBelowMinimumAreDropped(t *testing.T) {
	candles := flat("AAAUSDT", t0, 100, 102, 102, 102, 102, 102, 102, 102)
	// 2% rise terminated sideways, below the 4% default minimum.
	waves := scanWaves(candles, DefaultUptrendParams())
	if len(waves) != 0 {
		t.Fatalf("waves = %+v", waves)
	}
}

func TestEmittedWaveInvariants(t *testing.T) {
	p := UptrendParams{KeepRatio: 0.75, SidewaysCandles: 3, MinPct: 2}
	candles := flat("AAAUSDT", t0,
		100, 104, 109, 103, 104, 108, 114, 113, 113, 113, 112, 115, 120)
	for _, w := range scanWaves(candles, p) {
		if !w.PeakTime.After(w.StartTime) {
			t.Errorf("wave %+v: peak time not after start time", w)
		}
		if w.PeakPrice <= w.StartPrice {
			t.Errorf("wave %+v: peak price not above start price", w)
		}
		if w.Pct < p.MinPct {
			t.Errorf("wave %+v: pct below minimum", w)
		}
	}
}

func TestAssembleUptrendSummary(t *testing.T) {
	waves := []Wave{
		{Symbol: "AAAUSDT", Pct: 12, Ongoing: true},
		{Symbol: "BBBUSDT", Pct: 6},
		{Symbol: "CCCUSDT", Pct: 9},
	}
	res := assembleUptrend(waves)
	if res.TotalCoins != 3 || res.OngoingCount != 1 {
		t.Fatalf("summary %+v", res)
	}
	if res.MaxUptrend != 12 || res.AvgUptrend != 9 {
		t.Errorf("max %v avg %v", res.MaxUptrend, res.AvgUptrend)
	}
	if res.AllCoinsRanking[0].Pct != 12 || res.AllCoinsRanking[2].Pct != 6 {
		t.Errorf("ranking not descending: %+v", res.AllCoinsRanking)
	}
	total := 0
	for _, b := range res.Distribution {
		total += b.Count
	}
	if total != 3 {
		t.Errorf("bucket counts sum to %d", total)
	}
}
