// Package sqlite is the durable store for candles, index rows and base
// prices. Timestamps are persisted as unix milliseconds UTC.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"altindex/internal/model"
)

// insertBatchSize caps rows per multi-row INSERT statement.
const insertBatchSize = 500

// Config configures the SQLite store.
type Config struct {
	DBPath string // path to SQLite database file, e.g. "data/altindex.db"
}

// Store wraps a single-writer SQLite database implementing the persistence
// ports for candles, index rows and base prices.
type Store struct {
	db *sql.DB
}

// DB returns the underlying sql.DB for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// New opens the database in WAL mode and creates the schema.
func New(cfg Config) (*Store, error) {
	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Set connection pool for single-writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite] opened database at %s", cfg.DBPath)
	return &Store{db: db}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS candle (
			symbol       TEXT    NOT NULL,
			bucket_start INTEGER NOT NULL,
			open         REAL    NOT NULL,
			high         REAL    NOT NULL,
			low          REAL    NOT NULL,
			close        REAL    NOT NULL,
			quote_volume REAL    NOT NULL,
			PRIMARY KEY (symbol, bucket_start)
		);

		CREATE INDEX IF NOT EXISTS idx_candle_bucket ON candle (bucket_start);

		CREATE TABLE IF NOT EXISTS index_row (
			bucket_start INTEGER NOT NULL UNIQUE,
			index_value  REAL    NOT NULL,
			total_volume REAL    NOT NULL,
			coin_count   INTEGER NOT NULL,
			up_count     INTEGER NOT NULL,
			down_count   INTEGER NOT NULL,
			adr          REAL    NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_index_row_bucket ON index_row (bucket_start);

		CREATE TABLE IF NOT EXISTS base_price (
			symbol     TEXT    NOT NULL UNIQUE,
			price      REAL    NOT NULL,
			created_at INTEGER NOT NULL
		);
	`)
	return err
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

func ms(t time.Time) int64     { return t.UTC().UnixMilli() }
func fromMS(v int64) time.Time { return time.UnixMilli(v).UTC() }

// InsertCandles bulk-appends candles with INSERT OR IGNORE in a single
// transaction, batching the multi-row VALUES list. Returns rows inserted.
func (s *Store) InsertCandles(ctx context.Context, candles []model.Candle) (int, error) {
	if len(candles) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("sqlite begin: %w", err)
	}
	defer tx.Rollback()

	inserted := 0
	for off := 0; off < len(candles); off += insertBatchSize {
		end := off + insertBatchSize
		if end > len(candles) {
			end = len(candles)
		}
		batch := candles[off:end]

		query := "INSERT OR IGNORE INTO candle (symbol, bucket_start, open, high, low, close, quote_volume) VALUES "
		args := make([]interface{}, 0, len(batch)*7)
		for i, c := range batch {
			if i > 0 {
				query += ","
			}
			query += "(?,?,?,?,?,?,?)"
			args = append(args, c.Symbol, ms(c.BucketStart), c.Open, c.High, c.Low, c.Close, c.QuoteVolume)
		}
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return inserted, fmt.Errorf("sqlite insert candles: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil {
			inserted += int(n)
		}
	}
	if err := tx.Commit(); err != nil {
		return inserted, fmt.Errorf("sqlite commit: %w", err)
	}
	return inserted, nil
}

// DistinctCandleBuckets returns the distinct bucket instants in [start, end]
// in ascending order.
func (s *Store) DistinctCandleBuckets(ctx context.Context, start, end time.Time) ([]time.Time, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT bucket_start FROM candle WHERE bucket_start BETWEEN ? AND ? ORDER BY bucket_start`,
		ms(start), ms(end))
	if err != nil {
		return nil, fmt.Errorf("sqlite distinct buckets: %w", err)
	}
	defer rows.Close()
	var out []time.Time
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, fromMS(v))
	}
	return out, rows.Err()
}

func (s *Store) scanCandles(rows *sql.Rows) ([]model.Candle, error) {
	defer rows.Close()
	var out []model.Candle
	for rows.Next() {
		var c model.Candle
		var bucket int64
		if err := rows.Scan(&c.Symbol, &bucket, &c.Open, &c.High, &c.Low, &c.Close, &c.QuoteVolume); err != nil {
			return nil, err
		}
		c.BucketStart = fromMS(bucket)
		out = append(out, c)
	}
	return out, rows.Err()
}

const candleCols = "symbol, bucket_start, open, high, low, close, quote_volume"

// CandlesAt returns all symbols' candles at the exact bucket instant.
func (s *Store) CandlesAt(ctx context.Context, bucket time.Time) ([]model.Candle, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+candleCols+` FROM candle WHERE bucket_start = ? ORDER BY symbol`, ms(bucket))
	if err != nil {
		return nil, fmt.Errorf("sqlite candles at: %w", err)
	}
	return s.scanCandles(rows)
}

// CandlesForSymbol returns one symbol's candles in [start, end] in time order.
func (s *Store) CandlesForSymbol(ctx context.Context, symbol string, start, end time.Time) ([]model.Candle, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+candleCols+` FROM candle WHERE symbol = ? AND bucket_start BETWEEN ? AND ? ORDER BY bucket_start`,
		symbol, ms(start), ms(end))
	if err != nil {
		return nil, fmt.Errorf("sqlite candles for symbol: %w", err)
	}
	return s.scanCandles(rows)
}

// CandlesInRange returns all candles in [start, end] ordered by
// (symbol, bucket_start).
func (s *Store) CandlesInRange(ctx context.Context, start, end time.Time) ([]model.Candle, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+candleCols+` FROM candle WHERE bucket_start BETWEEN ? AND ? ORDER BY symbol, bucket_start`,
		ms(start), ms(end))
	if err != nil {
		return nil, fmt.Errorf("sqlite candles in range: %w", err)
	}
	return s.scanCandles(rows)
}

// EarliestSnapshotAfter returns every symbol's candle at the single earliest
// bucket >= t, or an empty slice when no such bucket exists.
func (s *Store) EarliestSnapshotAfter(ctx context.Context, t time.Time) ([]model.Candle, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+candleCols+` FROM candle
		 WHERE bucket_start = (SELECT MIN(bucket_start) FROM candle WHERE bucket_start >= ?)
		 ORDER BY symbol`, ms(t))
	if err != nil {
		return nil, fmt.Errorf("sqlite earliest snapshot: %w", err)
	}
	return s.scanCandles(rows)
}

// LatestSnapshotBefore returns every symbol's candle at the single latest
// bucket <= t.
func (s *Store) LatestSnapshotBefore(ctx context.Context, t time.Time) ([]model.Candle, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+candleCols+` FROM candle
		 WHERE bucket_start = (SELECT MAX(bucket_start) FROM candle WHERE bucket_start <= ?)
		 ORDER BY symbol`, ms(t))
	if err != nil {
		return nil, fmt.Errorf("sqlite latest snapshot: %w", err)
	}
	return s.scanCandles(rows)
}

func (s *Store) symbolAggregate(ctx context.Context, agg string, start, end time.Time) (map[string]float64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT symbol, `+agg+` FROM candle WHERE bucket_start BETWEEN ? AND ? GROUP BY symbol`,
		ms(start), ms(end))
	if err != nil {
		return nil, fmt.Errorf("sqlite symbol aggregate: %w", err)
	}
	defer rows.Close()
	out := make(map[string]float64)
	for rows.Next() {
		var sym string
		var v float64
		if err := rows.Scan(&sym, &v); err != nil {
			return nil, err
		}
		out[sym] = v
	}
	return out, rows.Err()
}

// MaxHighBySymbol returns each symbol's max high over [start, end].
func (s *Store) MaxHighBySymbol(ctx context.Context, start, end time.Time) (map[string]float64, error) {
	return s.symbolAggregate(ctx, "MAX(high)", start, end)
}

// MinLowBySymbol returns each symbol's min low over [start, end].
func (s *Store) MinLowBySymbol(ctx context.Context, start, end time.Time) (map[string]float64, error) {
	return s.symbolAggregate(ctx, "MIN(low)", start, end)
}

// LatestCandleBucket returns the newest bucket instant present, if any.
func (s *Store) LatestCandleBucket(ctx context.Context) (time.Time, bool, error) {
	var v sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT MAX(bucket_start) FROM candle`).Scan(&v)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("sqlite latest bucket: %w", err)
	}
	if !v.Valid {
		return time.Time{}, false, nil
	}
	return fromMS(v.Int64), true, nil
}

// SymbolBuckets returns one symbol's present bucket instants in [start, end].
func (s *Store) SymbolBuckets(ctx context.Context, symbol string, start, end time.Time) ([]time.Time, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT bucket_start FROM candle WHERE symbol = ? AND bucket_start BETWEEN ? AND ? ORDER BY bucket_start`,
		symbol, ms(start), ms(end))
	if err != nil {
		return nil, fmt.Errorf("sqlite symbol buckets: %w", err)
	}
	defer rows.Close()
	var out []time.Time
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, fromMS(v))
	}
	return out, rows.Err()
}

// DeleteCandlesInRange removes candles with bucket in [start, end].
func (s *Store) DeleteCandlesInRange(ctx context.Context, start, end time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM candle WHERE bucket_start BETWEEN ? AND ?`, ms(start), ms(end))
	if err != nil {
		return 0, fmt.Errorf("sqlite delete candles: %w", err)
	}
	return res.RowsAffected()
}

// DeleteCandlesBySymbol removes all candles of one symbol.
func (s *Store) DeleteCandlesBySymbol(ctx context.Context, symbol string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM candle WHERE symbol = ?`, symbol)
	if err != nil {
		return 0, fmt.Errorf("sqlite delete symbol candles: %w", err)
	}
	return res.RowsAffected()
}

// InsertIndexRow appends one index row; a duplicate bucket is ignored.
func (s *Store) InsertIndexRow(ctx context.Context, row model.IndexRow) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO index_row (bucket_start, index_value, total_volume, coin_count, up_count, down_count, adr)
		 VALUES (?,?,?,?,?,?,?)`,
		ms(row.BucketStart), row.IndexValue, row.TotalVolume, row.CoinCount, row.UpCount, row.DownCount, row.ADR)
	if err != nil {
		return fmt.Errorf("sqlite insert index row: %w", err)
	}
	return nil
}

// IndexRowExists reports whether a row exists at the bucket instant.
func (s *Store) IndexRowExists(ctx context.Context, bucket time.Time) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM index_row WHERE bucket_start = ?`, ms(bucket)).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("sqlite index row exists: %w", err)
	}
	return n > 0, nil
}

const indexCols = "bucket_start, index_value, total_volume, coin_count, up_count, down_count, adr"

func scanIndexRow(scanner interface{ Scan(...interface{}) error }) (model.IndexRow, error) {
	var r model.IndexRow
	var bucket int64
	err := scanner.Scan(&bucket, &r.IndexValue, &r.TotalVolume, &r.CoinCount, &r.UpCount, &r.DownCount, &r.ADR)
	if err != nil {
		return model.IndexRow{}, err
	}
	r.BucketStart = fromMS(bucket)
	return r, nil
}

// IndexRowsInRange returns rows with bucket in [start, end] ascending.
func (s *Store) IndexRowsInRange(ctx context.Context, start, end time.Time) ([]model.IndexRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+indexCols+` FROM index_row WHERE bucket_start BETWEEN ? AND ? ORDER BY bucket_start`,
		ms(start), ms(end))
	if err != nil {
		return nil, fmt.Errorf("sqlite index rows: %w", err)
	}
	defer rows.Close()
	var out []model.IndexRow
	for rows.Next() {
		r, err := scanIndexRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// LatestIndexRow returns the newest row, if any.
func (s *Store) LatestIndexRow(ctx context.Context) (model.IndexRow, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT ` + indexCols + ` FROM index_row ORDER BY bucket_start DESC LIMIT 1`)
	r, err := scanIndexRow(row)
	if err == sql.ErrNoRows {
		return model.IndexRow{}, false, nil
	}
	if err != nil {
		return model.IndexRow{}, false, fmt.Errorf("sqlite latest index row: %w", err)
	}
	return r, true, nil
}

// DeleteIndexRowsInRange removes rows with bucket in [start, end].
func (s *Store) DeleteIndexRowsInRange(ctx context.Context, start, end time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM index_row WHERE bucket_start BETWEEN ? AND ?`, ms(start), ms(end))
	if err != nil {
		return 0, fmt.Errorf("sqlite delete index rows: %w", err)
	}
	return res.RowsAffected()
}

// ListBasePrices returns every stored base price.
func (s *Store) ListBasePrices(ctx context.Context) ([]model.BasePrice, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT symbol, price, created_at FROM base_price ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("sqlite list base prices: %w", err)
	}
	defer rows.Close()
	var out []model.BasePrice
	for rows.Next() {
		var bp model.BasePrice
		var created int64
		if err := rows.Scan(&bp.Symbol, &bp.Price, &created); err != nil {
			return nil, err
		}
		bp.CreatedAt = fromMS(created)
		out = append(out, bp)
	}
	return out, rows.Err()
}

// UpsertBasePrice writes or replaces one symbol's base price.
func (s *Store) UpsertBasePrice(ctx context.Context, bp model.BasePrice) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO base_price (symbol, price, created_at) VALUES (?,?,?)
		 ON CONFLICT(symbol) DO UPDATE SET price = excluded.price, created_at = excluded.created_at`,
		bp.Symbol, bp.Price, ms(bp.CreatedAt))
	if err != nil {
		return fmt.Errorf("sqlite upsert base price: %w", err)
	}
	return nil
}

// DeleteBasePrice removes one symbol's base price.
func (s *Store) DeleteBasePrice(ctx context.Context, symbol string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM base_price WHERE symbol = ?`, symbol)
	if err != nil {
		return fmt.Errorf("sqlite delete base price: %w", err)
	}
	return nil
}
