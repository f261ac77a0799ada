package backfill

import (
	"context"
	"fmt"
	"log"
	"time"

	"altindex/internal/model"
)

// Range is a contiguous run of missing five-minute buckets, inclusive.
type Range struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Buckets returns the number of buckets the run covers.
func (r Range) Buckets() int {
	return int(r.End.Sub(r.Start)/model.BucketInterval) + 1
}

// SymbolGaps is the missing-bucket report for one symbol.
type SymbolGaps struct {
	Symbol  string  `json:"symbol"`
	Missing int     `json:"missing"`
	Ranges  []Range `json:"ranges"`
}

// RepairSummary reports the outcome of one repair pass.
type RepairSummary struct {
	Symbols        int `json:"symbols"`
	RangesRepaired int `json:"rangesRepaired"`
	RowsInserted   int `json:"rowsInserted"`
}

// missingRanges enumerates the expected grid over [start, end], subtracts the
// present buckets and groups the remainder into contiguous runs.
func missingRanges(start, end time.Time, present []time.Time) []Range {
	presentSet := make(map[int64]struct{}, len(present))
	for _, b := range present {
		presentSet[b.Truncate(time.Minute).UnixMilli()] = struct{}{}
	}
	var runs []Range
	for t := start; !t.After(end); t = t.Add(model.BucketInterval) {
		if _, ok := presentSet[t.UnixMilli()]; ok {
			continue
		}
		if n := len(runs); n > 0 && runs[n-1].End.Add(model.BucketInterval).Equal(t) {
			runs[n-1].End = t
		} else {
			runs = append(runs, Range{Start: t, End: t})
		}
	}
	return runs
}

// FindMissing reports the missing buckets per active symbol over a
// bucket-aligned [start, end] without fetching anything.
func (o *Orchestrator) FindMissing(ctx context.Context, start, end time.Time) ([]SymbolGaps, error) {
	symbols, err := o.source.ActiveSymbols(ctx)
	if err != nil {
		return nil, fmt.Errorf("repair: list symbols: %w", err)
	}
	var out []SymbolGaps
	for _, symbol := range symbols {
		present, err := o.candles.SymbolBuckets(ctx, symbol, start, end)
		if err != nil {
			return nil, err
		}
		runs := missingRanges(start, end, present)
		if len(runs) == 0 {
			continue
		}
		missing := 0
		for _, r := range runs {
			missing += r.Buckets()
		}
		out = append(out, SymbolGaps{Symbol: symbol, Missing: missing, Ranges: runs})
	}
	return out, nil
}

// Repair fetches and inserts every missing run per active symbol over a
// bucket-aligned [start, end]. A single-instant run has its fetch window
// extended by one bucket so the exchange returns the row.
func (o *Orchestrator) Repair(ctx context.Context, start, end time.Time) (RepairSummary, error) {
	gaps, err := o.FindMissing(ctx, start, end)
	if err != nil {
		return RepairSummary{}, err
	}
	summary := RepairSummary{Symbols: len(gaps)}
	for _, g := range gaps {
		for _, r := range g.Ranges {
			if o.source.RateLimited() {
				log.Printf("[repair] rate limit latched, stopping")
				return summary, nil
			}
			fetchEnd := r.End
			if r.Start.Equal(r.End) {
				fetchEnd = fetchEnd.Add(model.BucketInterval)
			}
			batch, err := o.source.CandleRangePaged(ctx, g.Symbol, r.Start, fetchEnd, o.cfg.PageSize)
			if err != nil {
				log.Printf("[repair] %s %s..%s: %v", g.Symbol, r.Start.Format(time.RFC3339), r.End.Format(time.RFC3339), err)
				continue
			}
			keep := batch[:0]
			for _, c := range batch {
				if c.Valid() && !c.BucketStart.After(end) {
					keep = append(keep, c)
				}
			}
			n, err := o.candles.InsertCandles(ctx, keep)
			if err != nil {
				return summary, err
			}
			summary.RangesRepaired++
			summary.RowsInserted += n
		}
	}
	if summary.RowsInserted > 0 {
		if err := o.computeIndexes(ctx, start, end); err != nil {
			return summary, err
		}
	}
	log.Printf("[repair] %d symbols, %d ranges, %d rows", summary.Symbols, summary.RangesRepaired, summary.RowsInserted)
	return summary, nil
}
