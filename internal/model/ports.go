package model

import (
	"context"
	"time"
)

// CandleStore is the persistence port for candle rows. Writes are
// insert-or-ignore on (symbol, bucket_start); readers get rows in time order.
type CandleStore interface {
	InsertCandles(ctx context.Context, candles []Candle) (int, error)
	DistinctCandleBuckets(ctx context.Context, start, end time.Time) ([]time.Time, error)
	CandlesAt(ctx context.Context, bucket time.Time) ([]Candle, error)
	CandlesForSymbol(ctx context.Context, symbol string, start, end time.Time) ([]Candle, error)
	CandlesInRange(ctx context.Context, start, end time.Time) ([]Candle, error)
	EarliestSnapshotAfter(ctx context.Context, t time.Time) ([]Candle, error)
	LatestSnapshotBefore(ctx context.Context, t time.Time) ([]Candle, error)
	MaxHighBySymbol(ctx context.Context, start, end time.Time) (map[string]float64, error)
	MinLowBySymbol(ctx context.Context, start, end time.Time) (map[string]float64, error)
	LatestCandleBucket(ctx context.Context) (time.Time, bool, error)
	SymbolBuckets(ctx context.Context, symbol string, start, end time.Time) ([]time.Time, error)
	DeleteCandlesInRange(ctx context.Context, start, end time.Time) (int64, error)
	DeleteCandlesBySymbol(ctx context.Context, symbol string) (int64, error)
}

// IndexStore is the persistence port for computed index rows.
type IndexStore interface {
	InsertIndexRow(ctx context.Context, row IndexRow) error
	IndexRowExists(ctx context.Context, bucket time.Time) (bool, error)
	IndexRowsInRange(ctx context.Context, start, end time.Time) ([]IndexRow, error)
	LatestIndexRow(ctx context.Context) (IndexRow, bool, error)
	DeleteIndexRowsInRange(ctx context.Context, start, end time.Time) (int64, error)
}

// BasePriceStore is the persistence port for the base-price table. Only the
// registry calls the mutating methods.
type BasePriceStore interface {
	ListBasePrices(ctx context.Context) ([]BasePrice, error)
	UpsertBasePrice(ctx context.Context, bp BasePrice) error
	DeleteBasePrice(ctx context.Context, symbol string) error
}

// MarketSource is the exchange-facing port consumed by the collector and the
// backfill orchestrator.
type MarketSource interface {
	ActiveSymbols(ctx context.Context) ([]string, error)
	LatestClosedCandle(ctx context.Context, symbol string, now time.Time) (Candle, bool, error)
	CandleRange(ctx context.Context, symbol string, start, end time.Time, limit int) ([]Candle, error)
	CandleRangePaged(ctx context.Context, symbol string, start, end time.Time, pageSize int) ([]Candle, error)
	RateLimited() bool
}
