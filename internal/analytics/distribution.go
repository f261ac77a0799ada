package analytics

import (
	"context"
	"errors"
	"sort"
	"time"

	"altindex/internal/model"
)

// ErrNoData means the window holds no usable candles yet, typically because
// backfill has not covered it.
var ErrNoData = errors.New("analytics: no candle data in the requested window")

// CoinChange is one symbol's percent change over the window, with the
// extremes reached in between.
type CoinChange struct {
	Symbol    string  `json:"symbol"`
	Change    float64 `json:"change"`
	MaxChange float64 `json:"maxChange"`
	MinChange float64 `json:"minChange"`
}

// DistributionBucket is one histogram bar.
type DistributionBucket struct {
	Range string       `json:"range"`
	Count int          `json:"count"`
	Coins []CoinChange `json:"coins"`
}

// Distribution is the rise-distribution response.
type Distribution struct {
	TotalCoins      int                  `json:"totalCoins"`
	UpCount         int                  `json:"upCount"`
	DownCount       int                  `json:"downCount"`
	Distribution    []DistributionBucket `json:"distribution"`
	AllCoinsRanking []CoinChange         `json:"allCoinsRanking"`
}

// SeriesStore is the slice of the candle store the analytics queries read.
type SeriesStore interface {
	EarliestSnapshotAfter(ctx context.Context, t time.Time) ([]model.Candle, error)
	LatestSnapshotBefore(ctx context.Context, t time.Time) ([]model.Candle, error)
	MaxHighBySymbol(ctx context.Context, start, end time.Time) (map[string]float64, error)
	MinLowBySymbol(ctx context.Context, start, end time.Time) (map[string]float64, error)
	CandlesInRange(ctx context.Context, start, end time.Time) ([]model.Candle, error)
}

// Engine serves the analytical queries from the candle store.
type Engine struct {
	candles SeriesStore
	cache   *Cache
}

// NewEngine builds an engine. cache may be nil to disable uptrend caching.
func NewEngine(candles SeriesStore, cache *Cache) *Engine {
	return &Engine{candles: candles, cache: cache}
}

// Cache returns the uptrend cache handle for invalidation wiring.
func (e *Engine) Cache() *Cache { return e.cache }

// Distribution computes the rise-distribution histogram over the
// bucket-aligned [start, end]: each symbol's change from its open at the
// earliest bucket >= start to its close at the latest bucket <= end.
func (e *Engine) Distribution(ctx context.Context, start, end time.Time) (*Distribution, error) {
	baseSnap, err := e.candles.EarliestSnapshotAfter(ctx, start)
	if err != nil {
		return nil, err
	}
	endSnap, err := e.candles.LatestSnapshotBefore(ctx, end)
	if err != nil {
		return nil, err
	}
	if len(baseSnap) == 0 || len(endSnap) == 0 {
		return nil, ErrNoData
	}
	highs, err := e.candles.MaxHighBySymbol(ctx, start, end)
	if err != nil {
		return nil, err
	}
	lows, err := e.candles.MinLowBySymbol(ctx, start, end)
	if err != nil {
		return nil, err
	}

	bases := make(map[string]float64, len(baseSnap))
	for _, c := range baseSnap {
		bases[c.Symbol] = c.Open
	}

	// Classification and bucketing use the exact change; the Change field is
	// rounded for display only.
	type scored struct {
		cc    CoinChange
		exact float64
	}
	var changes []scored
	for _, c := range endSnap {
		base, ok := bases[c.Symbol]
		if !ok || base <= 0 || c.Close <= 0 {
			continue
		}
		exact := (c.Close - base) / base * 100
		cc := CoinChange{
			Symbol: c.Symbol,
			Change: round2(exact),
		}
		if h, ok := highs[c.Symbol]; ok {
			cc.MaxChange = round2((h - base) / base * 100)
		}
		if l, ok := lows[c.Symbol]; ok {
			cc.MinChange = round2((l - base) / base * 100)
		}
		changes = append(changes, scored{cc: cc, exact: exact})
	}
	if len(changes) == 0 {
		return nil, ErrNoData
	}

	sort.Slice(changes, func(i, j int) bool { return changes[i].exact > changes[j].exact })

	out := &Distribution{
		TotalCoins:      len(changes),
		AllCoinsRanking: make([]CoinChange, 0, len(changes)),
	}
	minChg, maxChg := changes[len(changes)-1].exact, changes[0].exact
	for _, s := range changes {
		out.AllCoinsRanking = append(out.AllCoinsRanking, s.cc)
		switch {
		case s.exact > 0:
			out.UpCount++
		case s.exact < 0:
			out.DownCount++
		}
	}

	step := stepFor(maxChg - minChg)
	members := make(map[int][]CoinChange)
	for _, s := range changes {
		idx := bucketIndex(s.exact, step)
		members[idx] = append(members[idx], s.cc)
	}
	for i := bucketIndex(minChg, step); i <= bucketIndex(maxChg, step); i++ {
		coins := members[i]
		if coins == nil {
			coins = []CoinChange{}
		}
		out.Distribution = append(out.Distribution, DistributionBucket{
			Range: bucketLabel(i, step),
			Count: len(coins),
			Coins: coins,
		})
	}
	return out, nil
}
