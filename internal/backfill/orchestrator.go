// Package backfill fills the candle and index tables up to the latest closed
// bucket in two phases, and repairs gaps over explicit ranges.
package backfill

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"altindex/internal/baseprice"
	"altindex/internal/index"
	"altindex/internal/metrics"
	"altindex/internal/model"
)

// Config holds backfill tuning knobs.
type Config struct {
	Days        int // history depth when the candle table is empty
	Concurrency int // per-symbol worker permits
	PageSize    int // klines per request
}

// Orchestrator owns the two-phase historical fill. The live collector stays
// blocked while a fill runs and until one has finished successfully; a failed
// fill keeps it blocked until an operator restarts the process.
type Orchestrator struct {
	cfg        Config
	source     model.MarketSource
	candles    model.CandleStore
	indexes    model.IndexStore
	registry   *baseprice.Registry
	metrics    *metrics.Metrics
	inProgress atomic.Bool
	complete   atomic.Bool
	failures   atomic.Int64
}

// New builds an orchestrator.
func New(cfg Config, source model.MarketSource, candles model.CandleStore, indexes model.IndexStore, registry *baseprice.Registry, m *metrics.Metrics) *Orchestrator {
	if cfg.Days <= 0 {
		cfg.Days = 7
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 5
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 500
	}
	return &Orchestrator{
		cfg:      cfg,
		source:   source,
		candles:  candles,
		indexes:  indexes,
		registry: registry,
		metrics:  m,
	}
}

// InProgress reports whether a fill is currently running.
func (o *Orchestrator) InProgress() bool { return o.inProgress.Load() }

// Complete reports whether a fill has finished successfully since startup.
// Stays false after a failed run, so live collection never proceeds on top of
// an unfilled history.
func (o *Orchestrator) Complete() bool { return o.complete.Load() }

// Run executes both phases. The in-progress flag is held for the whole run
// and always cleared, including on error.
func (o *Orchestrator) Run(ctx context.Context) error {
	if !o.inProgress.CompareAndSwap(false, true) {
		return fmt.Errorf("backfill already in progress")
	}
	defer o.inProgress.Store(false)
	started := time.Now()

	symbols, err := o.source.ActiveSymbols(ctx)
	if err != nil {
		return fmt.Errorf("backfill: list symbols: %w", err)
	}
	if len(symbols) == 0 {
		return fmt.Errorf("backfill: no active symbols")
	}
	log.Printf("[backfill] starting for %d symbols", len(symbols))

	// Phase 1: frozen endpoint, tentative base collection.
	phase1End := model.LatestClosedBucket(time.Now())
	phase1Start, skip, err := o.phaseWindow(ctx, phase1End)
	if err != nil {
		return err
	}
	if phase1Start.IsZero() {
		log.Printf("[backfill] store already current, nothing to fill")
	} else {
		if err := o.fillPhase(ctx, symbols, phase1Start, phase1End, skip, true); err != nil {
			return err
		}
		if err := o.computeIndexes(ctx, phase1Start, phase1End); err != nil {
			return err
		}
	}

	// Phase 2: catch up buckets that closed while phase 1 ran.
	phase2Start := phase1End.Add(model.BucketInterval)
	phase2End := model.LatestClosedBucket(time.Now())
	if !phase2Start.After(phase2End) {
		log.Printf("[backfill] phase 2: %s .. %s", phase2Start.Format(time.RFC3339), phase2End.Format(time.RFC3339))
		if err := o.fillPhase(ctx, symbols, phase2Start, phase2End, nil, false); err != nil {
			return err
		}
		if err := o.computeIndexes(ctx, phase2Start, phase2End); err != nil {
			return err
		}
	}

	if o.metrics != nil {
		o.metrics.BackfillDuration.Observe(time.Since(started).Seconds())
	}
	o.complete.Store(true)
	log.Printf("[backfill] complete in %s", time.Since(started).Round(time.Second))
	return nil
}

// phaseWindow determines the phase-1 start and the skip-set of buckets
// already present. A zero start means there is nothing to fill.
func (o *Orchestrator) phaseWindow(ctx context.Context, end time.Time) (time.Time, map[int64]struct{}, error) {
	latest, found, err := o.candles.LatestCandleBucket(ctx)
	if err != nil {
		return time.Time{}, nil, fmt.Errorf("backfill: latest bucket: %w", err)
	}
	var start time.Time
	switch {
	case !found:
		start = end.Add(-time.Duration(o.cfg.Days) * 24 * time.Hour)
	case !latest.Before(end):
		return time.Time{}, nil, nil
	default:
		start = latest.Add(model.BucketInterval)
	}
	present, err := o.candles.DistinctCandleBuckets(ctx, start, end)
	if err != nil {
		return time.Time{}, nil, fmt.Errorf("backfill: preload buckets: %w", err)
	}
	skip := make(map[int64]struct{}, len(present))
	for _, b := range present {
		skip[b.UnixMilli()] = struct{}{}
	}
	log.Printf("[backfill] phase 1: %s .. %s (%d buckets already present)",
		start.Format(time.RFC3339), end.Format(time.RFC3339), len(skip))
	return start, skip, nil
}

// fillPhase fetches [start, end] for every symbol through a counting
// semaphore. When collectBases is set, each symbol's first candle open is
// recorded as its tentative base and adopted after all workers finish.
func (o *Orchestrator) fillPhase(ctx context.Context, symbols []string, start, end time.Time, skip map[int64]struct{}, collectBases bool) error {
	sem := make(chan struct{}, o.cfg.Concurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex
	tentative := make(map[string]float64)

	for _, symbol := range symbols {
		if o.source.RateLimited() {
			log.Printf("[backfill] rate limit latched, aborting remaining symbols")
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(symbol string) {
			defer wg.Done()
			defer func() { <-sem }()
			first, err := o.fillSymbol(ctx, symbol, start, end, skip)
			if err != nil {
				n := o.failures.Add(1)
				log.Printf("[backfill] %s: %v (failure %d)", symbol, err, n)
				if n%10 == 0 {
					time.Sleep(5 * time.Second)
				}
				return
			}
			if collectBases && first > 0 {
				mu.Lock()
				tentative[symbol] = first
				mu.Unlock()
			}
		}(symbol)
	}
	wg.Wait()

	if collectBases && len(tentative) > 0 {
		adopted, err := o.registry.AdoptBatch(ctx, tentative, time.Now())
		if err != nil {
			return fmt.Errorf("backfill: adopt bases: %w", err)
		}
		log.Printf("[backfill] adopted %d new base prices", adopted)
	}
	return nil
}

// fillSymbol paginates one symbol's history, inserting each page immediately.
// Returns the first observed candle's open price (the tentative base).
func (o *Orchestrator) fillSymbol(ctx context.Context, symbol string, start, end time.Time, skip map[int64]struct{}) (float64, error) {
	var firstOpen float64
	cursor := start
	for !cursor.After(end) {
		if o.source.RateLimited() {
			return firstOpen, nil
		}
		batch, err := o.source.CandleRange(ctx, symbol, cursor, end, o.cfg.PageSize)
		if err != nil {
			return firstOpen, err
		}
		if len(batch) == 0 {
			break
		}
		if firstOpen == 0 {
			firstOpen = batch[0].Open
		}
		keep := batch[:0]
		for _, c := range batch {
			if !c.Valid() || c.BucketStart.After(end) {
				continue
			}
			if skip != nil {
				if _, present := skip[c.BucketStart.UnixMilli()]; present {
					continue
				}
			}
			keep = append(keep, c)
		}
		if len(keep) > 0 {
			n, err := o.candles.InsertCandles(ctx, keep)
			if err != nil {
				return firstOpen, err
			}
			if o.metrics != nil {
				o.metrics.CandlesInserted.Add(float64(n))
			}
		}
		cursor = batch[len(batch)-1].BucketStart.Add(model.BucketInterval)
	}
	return firstOpen, nil
}

// computeIndexes writes an index row for every distinct candle bucket in
// [start, end] that does not already have one.
func (o *Orchestrator) computeIndexes(ctx context.Context, start, end time.Time) error {
	buckets, err := o.candles.DistinctCandleBuckets(ctx, start, end)
	if err != nil {
		return fmt.Errorf("backfill: list buckets: %w", err)
	}
	bases := o.registry.Snapshot()
	written := 0
	for _, bucket := range buckets {
		exists, err := o.indexes.IndexRowExists(ctx, bucket)
		if err != nil {
			return err
		}
		if exists {
			continue
		}
		candles, err := o.candles.CandlesAt(ctx, bucket)
		if err != nil {
			return err
		}
		row, ok := index.Aggregate(bucket, candles, bases)
		if !ok {
			continue
		}
		if err := o.indexes.InsertIndexRow(ctx, row); err != nil {
			return err
		}
		written++
		if o.metrics != nil {
			o.metrics.IndexRowsWritten.Inc()
		}
	}
	log.Printf("[backfill] computed %d index rows over %d buckets", written, len(buckets))
	return nil
}
