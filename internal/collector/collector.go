// Package collector runs the five-minute live tick: fetch every active
// symbol's latest closed candle, aggregate one index row and persist both.
package collector

import (
	"context"
	"log"
	"sync"
	"time"

	"altindex/internal/baseprice"
	"altindex/internal/index"
	"altindex/internal/metrics"
	"altindex/internal/model"
)

// tickOffset delays each tick past the bucket boundary so the exchange has
// finalized the just-closed candle.
const tickOffset = 10 * time.Second

// Invalidator is notified after every committed index row. The uptrend cache
// implements it.
type Invalidator interface {
	Invalidate()
}

// Publisher pushes committed index rows to downstream consumers.
type Publisher interface {
	PublishIndexRow(ctx context.Context, row model.IndexRow) error
}

// BackfillGate blocks collection while a backfill runs, and until one has
// finished successfully. A failed startup fill keeps the gate shut.
type BackfillGate interface {
	InProgress() bool
	Complete() bool
}

// Config holds collector tuning knobs.
type Config struct {
	Concurrency int
}

// Collector performs the scheduled live collection.
type Collector struct {
	cfg       Config
	source    model.MarketSource
	candles   model.CandleStore
	indexes   model.IndexStore
	registry  *baseprice.Registry
	gate      BackfillGate
	cache     Invalidator
	publisher Publisher
	metrics   *metrics.Metrics
}

// New builds a collector. cache and publisher may be nil.
func New(cfg Config, source model.MarketSource, candles model.CandleStore, indexes model.IndexStore, registry *baseprice.Registry, gate BackfillGate, cache Invalidator, publisher Publisher, m *metrics.Metrics) *Collector {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	return &Collector{
		cfg:       cfg,
		source:    source,
		candles:   candles,
		indexes:   indexes,
		registry:  registry,
		gate:      gate,
		cache:     cache,
		publisher: publisher,
		metrics:   m,
	}
}

// Run schedules Collect at ten seconds past every five-minute boundary until
// the context is cancelled.
func (c *Collector) Run(ctx context.Context) {
	log.Printf("[collector] scheduler started")
	for {
		next := nextTick(time.Now())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Printf("[collector] scheduler stopped")
			return
		case now := <-timer.C:
			if err := c.Collect(ctx, now); err != nil {
				log.Printf("[collector] tick failed: %v", err)
			}
		}
	}
}

// nextTick returns the next instant at second 10 past a five-minute boundary
// strictly after now.
func nextTick(now time.Time) time.Time {
	next := model.FloorBucket(now).Add(tickOffset)
	for !next.After(now) {
		next = next.Add(model.BucketInterval)
	}
	return next
}

// Collect performs one tick at wall-clock time now. Every step is idempotent;
// a concurrent backfill or a repeated call for the same bucket is a no-op.
func (c *Collector) Collect(ctx context.Context, now time.Time) error {
	if c.gate != nil && (c.gate.InProgress() || !c.gate.Complete()) {
		log.Printf("[collector] backfill not complete, skipping tick")
		return nil
	}
	started := time.Now()

	expected := model.LatestClosedBucket(now)
	exists, err := c.indexes.IndexRowExists(ctx, expected)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	symbols, err := c.source.ActiveSymbols(ctx)
	if err != nil {
		return err
	}
	if len(symbols) == 0 {
		log.Printf("[collector] empty active symbol list, skipping tick")
		return nil
	}
	if _, err := c.registry.ReconcileWithActive(ctx, symbols); err != nil {
		return err
	}

	fetched := c.fanOut(ctx, symbols, now)
	if len(fetched) == 0 {
		log.Printf("[collector] no candles returned, skipping tick")
		return nil
	}

	// Derive the bucket from the candles themselves and drop any candle for
	// a different (older or not-yet-closed) bucket.
	var bucket time.Time
	for _, cd := range fetched {
		if cd.BucketStart.After(expected) {
			continue
		}
		if cd.BucketStart.After(bucket) {
			bucket = cd.BucketStart
		}
	}
	if bucket.IsZero() {
		log.Printf("[collector] no closed-bucket candles returned, skipping tick")
		return nil
	}
	batch := fetched[:0]
	for _, cd := range fetched {
		if cd.BucketStart.Equal(bucket) && cd.Valid() {
			batch = append(batch, cd)
		}
	}
	if len(batch) == 0 {
		return nil
	}

	// Re-check idempotency against the derived bucket; a racing backfill may
	// have committed it meanwhile.
	exists, err = c.indexes.IndexRowExists(ctx, bucket)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	// New symbols adopt their close as base and sit this bucket out.
	contributing := make([]model.Candle, 0, len(batch))
	for _, cd := range batch {
		if _, ok := c.registry.Get(cd.Symbol); !ok {
			if _, err := c.registry.AdoptIfMissing(ctx, cd.Symbol, cd.Close, bucket); err != nil {
				return err
			}
			continue
		}
		contributing = append(contributing, cd)
	}

	if _, err := c.candles.InsertCandles(ctx, batch); err != nil {
		return err
	}
	if c.metrics != nil {
		c.metrics.CandlesInserted.Add(float64(len(batch)))
		c.metrics.BasePricesKnown.Set(float64(c.registry.Count()))
	}

	row, ok := index.Aggregate(bucket, contributing, c.registry.Snapshot())
	if !ok {
		log.Printf("[collector] bucket %s: no contributing symbols", bucket.Format(time.RFC3339))
		return nil
	}
	if err := c.indexes.InsertIndexRow(ctx, row); err != nil {
		return err
	}
	if c.metrics != nil {
		c.metrics.IndexRowsWritten.Inc()
		c.metrics.CollectDuration.Observe(time.Since(started).Seconds())
	}
	if c.cache != nil {
		c.cache.Invalidate()
	}
	if c.publisher != nil {
		if err := c.publisher.PublishIndexRow(ctx, row); err != nil {
			log.Printf("[collector] publish failed: %v", err)
		}
	}
	log.Printf("[collector] bucket %s: index %.4f over %d coins (up %d / down %d)",
		bucket.Format(time.RFC3339), row.IndexValue, row.CoinCount, row.UpCount, row.DownCount)
	return nil
}

// fanOut fetches the latest closed candle for every symbol through a bounded
// worker pool.
func (c *Collector) fanOut(ctx context.Context, symbols []string, now time.Time) []model.Candle {
	sem := make(chan struct{}, c.cfg.Concurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var out []model.Candle

	for _, symbol := range symbols {
		if c.source.RateLimited() {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(symbol string) {
			defer wg.Done()
			defer func() { <-sem }()
			if c.metrics != nil {
				c.metrics.FetchesTotal.Inc()
			}
			candle, ok, err := c.source.LatestClosedCandle(ctx, symbol, now)
			if err != nil {
				if c.metrics != nil {
					c.metrics.FetchErrorsTotal.Inc()
				}
				log.Printf("[collector] %s: %v", symbol, err)
				return
			}
			if !ok {
				return
			}
			mu.Lock()
			out = append(out, candle)
			mu.Unlock()
		}(symbol)
	}
	wg.Wait()
	return out
}
