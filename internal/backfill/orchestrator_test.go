package backfill

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"altindex/internal/baseprice"
	"altindex/internal/model"
)

// fakeSource serves a fixed grid of candles per symbol.
type fakeSource struct {
	mu      sync.Mutex
	symbols []string
	grid    map[string][]model.Candle // ordered by bucket
	limited bool
	calls   int
}

func (f *fakeSource) ActiveSymbols(ctx context.Context) ([]string, error) {
	return f.symbols, nil
}

func (f *fakeSource) LatestClosedCandle(ctx context.Context, symbol string, now time.Time) (model.Candle, bool, error) {
	return model.Candle{}, false, nil
}

func (f *fakeSource) CandleRange(ctx context.Context, symbol string, start, end time.Time, limit int) ([]model.Candle, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	var out []model.Candle
	for _, c := range f.grid[symbol] {
		if c.BucketStart.Before(start) || c.BucketStart.After(end) {
			continue
		}
		out = append(out, c)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeSource) CandleRangePaged(ctx context.Context, symbol string, start, end time.Time, pageSize int) ([]model.Candle, error) {
	return f.CandleRange(ctx, symbol, start, end, 0)
}

func (f *fakeSource) RateLimited() bool { return f.limited }

// memCandles is an in-memory CandleStore.
type memCandles struct {
	mu   sync.Mutex
	rows map[string]model.Candle
}

func newMemCandles() *memCandles { return &memCandles{rows: map[string]model.Candle{}} }

func (m *memCandles) InsertCandles(ctx context.Context, candles []model.Candle) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range candles {
		if _, ok := m.rows[c.Key()]; ok {
			continue
		}
		m.rows[c.Key()] = c
		n++
	}
	return n, nil
}

func (m *memCandles) DistinctCandleBuckets(ctx context.Context, start, end time.Time) ([]time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := map[int64]time.Time{}
	for _, c := range m.rows {
		if !c.BucketStart.Before(start) && !c.BucketStart.After(end) {
			seen[c.BucketStart.UnixMilli()] = c.BucketStart
		}
	}
	var out []time.Time
	for _, t := range seen {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}

func (m *memCandles) CandlesAt(ctx context.Context, bucket time.Time) ([]model.Candle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Candle
	for _, c := range m.rows {
		if c.BucketStart.Equal(bucket) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *memCandles) CandlesForSymbol(ctx context.Context, symbol string, start, end time.Time) ([]model.Candle, error) {
	return nil, nil
}

func (m *memCandles) CandlesInRange(ctx context.Context, start, end time.Time) ([]model.Candle, error) {
	return nil, nil
}

func (m *memCandles) EarliestSnapshotAfter(ctx context.Context, t time.Time) ([]model.Candle, error) {
	return nil, nil
}

func (m *memCandles) LatestSnapshotBefore(ctx context.Context, t time.Time) ([]model.Candle, error) {
	return nil, nil
}

func (m *memCandles) MaxHighBySymbol(ctx context.Context, start, end time.Time) (map[string]float64, error) {
	return nil, nil
}

func (m *memCandles) MinLowBySymbol(ctx context.Context, start, end time.Time) (map[string]float64, error) {
	return nil, nil
}

func (m *memCandles) LatestCandleBucket(ctx context.Context) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best time.Time
	for _, c := range m.rows {
		if c.BucketStart.After(best) {
			best = c.BucketStart
		}
	}
	return best, !best.IsZero(), nil
}

func (m *memCandles) SymbolBuckets(ctx context.Context, symbol string, start, end time.Time) ([]time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []time.Time
	for _, c := range m.rows {
		if c.Symbol == symbol && !c.BucketStart.Before(start) && !c.BucketStart.After(end) {
			out = append(out, c.BucketStart)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}

func (m *memCandles) DeleteCandlesInRange(ctx context.Context, start, end time.Time) (int64, error) {
	return 0, nil
}

func (m *memCandles) DeleteCandlesBySymbol(ctx context.Context, symbol string) (int64, error) {
	return 0, nil
}

// memIndexes is an in-memory IndexStore.
type memIndexes struct {
	mu   sync.Mutex
	rows map[int64]model.IndexRow
}

func newMemIndexes() *memIndexes { return &memIndexes{rows: map[int64]model.IndexRow{}} }

func (m *memIndexes) InsertIndexRow(ctx context.Context, row model.IndexRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := row.BucketStart.UnixMilli()
	if _, ok := m.rows[k]; !ok {
		m.rows[k] = row
	}
	return nil
}

func (m *memIndexes) IndexRowExists(ctx context.Context, bucket time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.rows[bucket.UnixMilli()]
	return ok, nil
}

func (m *memIndexes) IndexRowsInRange(ctx context.Context, start, end time.Time) ([]model.IndexRow, error) {
	return nil, nil
}

func (m *memIndexes) LatestIndexRow(ctx context.Context) (model.IndexRow, bool, error) {
	return model.IndexRow{}, false, nil
}

func (m *memIndexes) DeleteIndexRowsInRange(ctx context.Context, start, end time.Time) (int64, error) {
	return 0, nil
}

type memBPStore struct {
	rows map[string]model.BasePrice
}

func (m *memBPStore) ListBasePrices(ctx context.Context) ([]model.BasePrice, error) { return nil, nil }
func (m *memBPStore) UpsertBasePrice(ctx context.Context, bp model.BasePrice) error {
	m.rows[bp.Symbol] = bp
	return nil
}
func (m *memBPStore) DeleteBasePrice(ctx context.Context, symbol string) error {
	delete(m.rows, symbol)
	return nil
}

func grid(symbol string, start, end time.Time, open float64) []model.Candle {
	var out []model.Candle
	price := open
	for t := start; !t.After(end); t = t.Add(model.BucketInterval) {
		out = append(out, model.Candle{
			Symbol: symbol, BucketStart: t,
			Open: price, High: price + 1, Low: price - 1, Close: price + 0.5,
			QuoteVolume: 10,
		})
		price += 0.5
	}
	return out
}

func TestFillSymbolSkipsPresentBuckets(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(20 * time.Minute)
	src := &fakeSource{
		symbols: []string{"AAAUSDT"},
		grid:    map[string][]model.Candle{"AAAUSDT": grid("AAAUSDT", start, end, 100)},
	}
	cs := newMemCandles()
	o := New(Config{Concurrency: 1, PageSize: 2}, src, cs, newMemIndexes(), baseprice.New(&memBPStore{rows: map[string]model.BasePrice{}}), nil)

	skip := map[int64]struct{}{start.UnixMilli(): {}}
	firstOpen, err := o.fillSymbol(context.Background(), "AAAUSDT", start, end, skip)
	if err != nil {
		t.Fatal(err)
	}
	if firstOpen != 100 {
		t.Errorf("first open = %v, want 100", firstOpen)
	}
	// 5 grid buckets minus the skipped one.
	if len(cs.rows) != 4 {
		t.Errorf("stored %d candles, want 4", len(cs.rows))
	}
}

func TestRunFillsAndComputesIndexes(t *testing.T) {
	now := time.Now()
	end := model.LatestClosedBucket(now)
	start := end.Add(-time.Duration(6) * model.BucketInterval)
	src := &fakeSource{
		symbols: []string{"AAAUSDT", "BBBUSDT"},
		grid: map[string][]model.Candle{
			"AAAUSDT": grid("AAAUSDT", start, end, 100),
			"BBBUSDT": grid("BBBUSDT", start, end, 50),
		},
	}
	cs := newMemCandles()
	is := newMemIndexes()
	reg := baseprice.New(&memBPStore{rows: map[string]model.BasePrice{}})
	o := New(Config{Days: 1, Concurrency: 2, PageSize: 100}, src, cs, is, reg, nil)

	if err := o.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if o.InProgress() {
		t.Error("in-progress flag not cleared")
	}
	// Tentative bases adopted from the first candle open.
	if v, ok := reg.Get("AAAUSDT"); !ok || v != 100 {
		t.Errorf("base AAAUSDT = %v, %v", v, ok)
	}
	if v, ok := reg.Get("BBBUSDT"); !ok || v != 50 {
		t.Errorf("base BBBUSDT = %v, %v", v, ok)
	}
	// Candles stored for the whole window, index rows computed per bucket.
	if len(cs.rows) == 0 {
		t.Fatal("no candles stored")
	}
	buckets, _ := cs.DistinctCandleBuckets(context.Background(), start, end)
	if len(is.rows) != len(buckets) {
		t.Errorf("index rows = %d, buckets = %d", len(is.rows), len(buckets))
	}
	for _, row := range is.rows {
		if row.CoinCount != 2 {
			t.Errorf("bucket %v coin count = %d", row.BucketStart, row.CoinCount)
		}
	}
}

func TestRunSkipsWhenCurrent(t *testing.T) {
	// Store a candle at the still-forming bucket so the store stays ahead of
	// the fill endpoint even if a boundary is crossed mid-test.
	latest := model.FloorBucket(time.Now())
	cs := newMemCandles()
	cs.InsertCandles(context.Background(), []model.Candle{{
		Symbol: "AAAUSDT", BucketStart: latest, Open: 1, High: 2, Low: 0.5, Close: 1.5, QuoteVolume: 1,
	}})
	src := &fakeSource{symbols: []string{"AAAUSDT"}, grid: map[string][]model.Candle{}}
	o := New(Config{Days: 1, Concurrency: 1}, src, cs, newMemIndexes(), baseprice.New(&memBPStore{rows: map[string]model.BasePrice{}}), nil)

	if err := o.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if src.calls != 0 {
		t.Errorf("exchange called %d times for an up-to-date store", src.calls)
	}
}

func TestRepairFillsGaps(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(20 * time.Minute)
	full := grid("AAAUSDT", start, end, 100)
	src := &fakeSource{
		symbols: []string{"AAAUSDT"},
		grid:    map[string][]model.Candle{"AAAUSDT": full},
	}
	cs := newMemCandles()
	// Store everything except the 00:10 bucket.
	for _, c := range full {
		if c.BucketStart.Equal(start.Add(10 * time.Minute)) {
			continue
		}
		cs.InsertCandles(context.Background(), []model.Candle{c})
	}
	reg := baseprice.New(&memBPStore{rows: map[string]model.BasePrice{}})
	reg.AdoptIfMissing(context.Background(), "AAAUSDT", 100, start)
	o := New(Config{Concurrency: 1, PageSize: 100}, src, cs, newMemIndexes(), reg, nil)

	summary, err := o.Repair(context.Background(), start, end)
	if err != nil {
		t.Fatal(err)
	}
	if summary.Symbols != 1 || summary.RangesRepaired != 1 || summary.RowsInserted != 1 {
		t.Fatalf("summary = %+v", summary)
	}
	got, _ := cs.CandlesAt(context.Background(), start.Add(10*time.Minute))
	if len(got) != 1 {
		t.Fatal("gap not filled")
	}
	// A second pass finds nothing to do.
	summary, err = o.Repair(context.Background(), start, end)
	if err != nil {
		t.Fatal(err)
	}
	if summary.Symbols != 0 || summary.RowsInserted != 0 {
		t.Fatalf("second pass summary = %+v", summary)
	}
}
