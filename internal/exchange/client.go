// Package exchange implements the Binance USDT-margined futures market-data
// client: active-symbol discovery, kline fetch with pagination, and a
// process-wide rate-limit tripwire.
package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"altindex/internal/model"
)

// ErrRateLimited is returned by every call once the tripwire has latched.
var ErrRateLimited = errors.New("exchange: rate limit latched, operator reset required")

// Config holds exchange client settings.
type Config struct {
	BaseURL         string
	QuoteSuffix     string
	ExcludeSymbols  map[string]struct{}
	RequestInterval time.Duration
	HTTPTimeout     time.Duration
}

// Client talks to the exchange's public market-data endpoints. All methods
// short-circuit with ErrRateLimited after a 429/418 response until Reset is
// called by an operator.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	tripped atomic.Bool
}

// NewClient builds a client. A zero RequestInterval disables pacing.
func NewClient(cfg Config) *Client {
	if cfg.QuoteSuffix == "" {
		cfg.QuoteSuffix = "USDT"
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 10 * time.Second
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestInterval > 0 {
		limiter = rate.NewLimiter(rate.Every(cfg.RequestInterval), 1)
	}
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.HTTPTimeout},
		limiter: limiter,
	}
}

// RateLimited reports whether the tripwire is latched.
func (c *Client) RateLimited() bool { return c.tripped.Load() }

// Reset clears the tripwire. Called from the admin endpoint only.
func (c *Client) Reset() {
	if c.tripped.Swap(false) {
		log.Printf("[exchange] rate-limit latch reset by operator")
	}
}

// ActiveSymbols returns the tradable symbols ending in the quote suffix,
// minus the exclusion set, sorted.
func (c *Client) ActiveSymbols(ctx context.Context) ([]string, error) {
	if c.tripped.Load() {
		return nil, ErrRateLimited
	}
	body, err := c.get(ctx, "/fapi/v1/ticker/24hr", nil)
	if err != nil {
		return nil, err
	}
	var tickers []struct {
		Symbol string `json:"symbol"`
	}
	if err := json.Unmarshal(body, &tickers); err != nil {
		return nil, fmt.Errorf("exchange: decode ticker response: %w", err)
	}
	symbols := make([]string, 0, len(tickers))
	for _, t := range tickers {
		s := strings.ToUpper(t.Symbol)
		if !strings.HasSuffix(s, c.cfg.QuoteSuffix) {
			continue
		}
		if _, excluded := c.cfg.ExcludeSymbols[s]; excluded {
			continue
		}
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	return symbols, nil
}

// LatestClosedCandle returns the newest candle whose bucket has fully closed
// at time now. The exchange's tail kline is usually the still-forming bucket,
// so two are requested and the newest closed one is picked.
func (c *Client) LatestClosedCandle(ctx context.Context, symbol string, now time.Time) (model.Candle, bool, error) {
	if c.tripped.Load() {
		return model.Candle{}, false, ErrRateLimited
	}
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("interval", "5m")
	q.Set("limit", "2")
	candles, err := c.klines(ctx, q, symbol)
	if err != nil {
		return model.Candle{}, false, err
	}
	closed := model.LatestClosedBucket(now)
	for i := len(candles) - 1; i >= 0; i-- {
		if !candles[i].BucketStart.After(closed) {
			return candles[i], true, nil
		}
	}
	return model.Candle{}, false, nil
}

// CandleRange fetches closed candles in [start, end] for one symbol,
// capped at limit rows.
func (c *Client) CandleRange(ctx context.Context, symbol string, start, end time.Time, limit int) ([]model.Candle, error) {
	if c.tripped.Load() {
		return nil, ErrRateLimited
	}
	if limit <= 0 || limit > 1500 {
		limit = 1500
	}
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("interval", "5m")
	q.Set("startTime", strconv.FormatInt(start.UnixMilli(), 10))
	q.Set("endTime", strconv.FormatInt(end.UnixMilli(), 10))
	q.Set("limit", strconv.Itoa(limit))
	return c.klines(ctx, q, symbol)
}

// CandleRangePaged walks [start, end] in pages of pageSize, advancing each
// page to the last returned bucket plus one interval, until the exchange
// returns an empty batch or the window is exhausted.
func (c *Client) CandleRangePaged(ctx context.Context, symbol string, start, end time.Time, pageSize int) ([]model.Candle, error) {
	if pageSize <= 0 {
		pageSize = 500
	}
	var all []model.Candle
	cursor := start
	for !cursor.After(end) {
		if c.tripped.Load() {
			return all, ErrRateLimited
		}
		batch, err := c.CandleRange(ctx, symbol, cursor, end, pageSize)
		if err != nil {
			return all, err
		}
		if len(batch) == 0 {
			break
		}
		all = append(all, batch...)
		cursor = batch[len(batch)-1].BucketStart.Add(model.BucketInterval)
	}
	return all, nil
}

func (c *Client) klines(ctx context.Context, q url.Values, symbol string) ([]model.Candle, error) {
	body, err := c.get(ctx, "/fapi/v1/klines", q)
	if err != nil {
		return nil, err
	}
	var raw [][]interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("exchange: decode klines for %s: %w", symbol, err)
	}
	candles := make([]model.Candle, 0, len(raw))
	for i, row := range raw {
		candle, err := parseKline(symbol, row)
		if err != nil {
			return nil, fmt.Errorf("exchange: kline %d for %s: %w", i, symbol, err)
		}
		candles = append(candles, candle)
	}
	return candles, nil
}

// parseKline converts one positional kline array. Prices arrive as strings,
// timestamps as millisecond floats.
func parseKline(symbol string, row []interface{}) (model.Candle, error) {
	if len(row) < 8 {
		return model.Candle{}, fmt.Errorf("short kline row: %d fields", len(row))
	}
	openMS, ok := row[0].(float64)
	if !ok {
		return model.Candle{}, fmt.Errorf("non-numeric open time")
	}
	prices := make([]float64, 4)
	for i, idx := range []int{1, 2, 3, 4} {
		s, ok := row[idx].(string)
		if !ok {
			return model.Candle{}, fmt.Errorf("non-string price at field %d", idx)
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return model.Candle{}, fmt.Errorf("bad price at field %d: %w", idx, err)
		}
		prices[i] = v
	}
	qvStr, ok := row[7].(string)
	if !ok {
		return model.Candle{}, fmt.Errorf("non-string quote volume")
	}
	qv, err := strconv.ParseFloat(qvStr, 64)
	if err != nil {
		return model.Candle{}, fmt.Errorf("bad quote volume: %w", err)
	}
	return model.Candle{
		Symbol:      symbol,
		BucketStart: time.UnixMilli(int64(openMS)).UTC(),
		Open:        prices[0],
		High:        prices[1],
		Low:         prices[2],
		Close:       prices[3],
		QuoteVolume: qv,
	}, nil
}

func (c *Client) get(ctx context.Context, path string, q url.Values) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	u := strings.TrimRight(c.cfg.BaseURL, "/") + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("exchange: GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == 418 {
		if !c.tripped.Swap(true) {
			log.Printf("[exchange] rate limit hit (status %d), latching tripwire", resp.StatusCode)
		}
		return nil, ErrRateLimited
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("exchange: read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("exchange: GET %s: status %d: %s", path, resp.StatusCode, truncate(body))
	}
	return body, nil
}

func truncate(b []byte) string {
	const max = 200
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
