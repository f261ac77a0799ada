package api

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"altindex/internal/analytics"
	"altindex/internal/index"
	"altindex/internal/model"
)

func ok(c echo.Context, payload map[string]interface{}) error {
	payload["success"] = true
	return c.JSON(http.StatusOK, payload)
}

// fail reports a handled miss (missing data) with HTTP 200.
func fail(c echo.Context, msg string) error {
	return c.JSON(http.StatusOK, map[string]interface{}{"success": false, "message": msg})
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, map[string]interface{}{"success": false, "message": msg})
}

func indexRowJSON(r model.IndexRow) map[string]interface{} {
	return map[string]interface{}{
		"timestamp":   r.BucketStart.UnixMilli(),
		"indexValue":  r.IndexValue,
		"totalVolume": r.TotalVolume,
		"coinCount":   r.CoinCount,
		"upCount":     r.UpCount,
		"downCount":   r.DownCount,
		"adr":         r.ADR,
	}
}

// window parses the hours-or-absolute time selection shared by the
// analytical and admin queries.
func window(c echo.Context, defaultHours float64) (start, end time.Time, err error) {
	startParam, endParam := c.QueryParam("start"), c.QueryParam("end")
	if startParam != "" || endParam != "" {
		if startParam == "" || endParam == "" {
			return start, end, fmt.Errorf("both start and end are required, format yyyy-MM-dd HH:mm")
		}
		ts, err := model.AbsoluteRange(startParam, endParam, c.QueryParam("timezone"))
		if err != nil {
			return start, end, err
		}
		start, end = ts.Resolve(time.Now())
		return start, end, nil
	}
	hours := defaultHours
	if h := c.QueryParam("hours"); h != "" {
		v, err := strconv.ParseFloat(h, 64)
		if err != nil || v <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return start, end, fmt.Errorf("hours must be a positive number")
		}
		hours = v
	}
	start, end = model.Lookback(hours).Resolve(time.Now())
	return start, end, nil
}

func (s *Server) getCurrent(c echo.Context) error {
	row, found, err := s.indexes.LatestIndexRow(c.Request().Context())
	if err != nil {
		return err
	}
	if !found {
		return fail(c, "no index data yet")
	}
	return ok(c, indexRowJSON(row))
}

func (s *Server) getHistory(c echo.Context) error {
	hours := 168
	if h := c.QueryParam("hours"); h != "" {
		v, err := strconv.Atoi(h)
		if err != nil || v <= 0 {
			return badRequest(c, "hours must be a positive integer")
		}
		hours = v
	}
	end := time.Now().UTC()
	rows, err := s.indexes.IndexRowsInRange(c.Request().Context(), end.Add(-time.Duration(hours)*time.Hour), end)
	if err != nil {
		return err
	}
	data := make([]map[string]interface{}, len(rows))
	for i, r := range rows {
		data[i] = indexRowJSON(r)
	}
	return ok(c, map[string]interface{}{"data": data, "count": len(data)})
}

func (s *Server) getStats(c echo.Context) error {
	ctx := c.Request().Context()
	current, found, err := s.indexes.LatestIndexRow(ctx)
	if err != nil {
		return err
	}
	if !found {
		return fail(c, "no index data yet")
	}
	now := time.Now().UTC()
	rows, err := s.indexes.IndexRowsInRange(ctx, now.Add(-720*time.Hour), now)
	if err != nil {
		return err
	}

	payload := map[string]interface{}{
		"current":    current.IndexValue,
		"coinCount":  current.CoinCount,
		"lastUpdate": current.BucketStart.UnixMilli(),
	}
	windows := []struct {
		suffix string
		hours  int
	}{
		{"24h", 24}, {"3d", 72}, {"7d", 168}, {"30d", 720},
	}
	for _, w := range windows {
		cutoff := now.Add(-time.Duration(w.hours) * time.Hour)
		var (
			first      float64
			haveFirst  bool
			high, low  float64
			haveExtent bool
		)
		for _, r := range rows {
			if r.BucketStart.Before(cutoff) {
				continue
			}
			if !haveFirst {
				first = r.IndexValue
				haveFirst = true
			}
			if !haveExtent || r.IndexValue > high {
				high = r.IndexValue
			}
			if !haveExtent || r.IndexValue < low {
				low = r.IndexValue
			}
			haveExtent = true
		}
		if !haveFirst {
			continue
		}
		payload["change"+w.suffix] = current.IndexValue - first
		payload["high"+w.suffix] = high
		payload["low"+w.suffix] = low
	}
	return ok(c, payload)
}

func (s *Server) getDistribution(c echo.Context) error {
	start, end, err := window(c, 24)
	if err != nil {
		return badRequest(c, err.Error())
	}
	dist, err := s.engine.Distribution(c.Request().Context(), start, end)
	if errors.Is(err, analytics.ErrNoData) {
		return fail(c, "no candle data in the requested window")
	}
	if err != nil {
		return err
	}
	return ok(c, map[string]interface{}{
		"totalCoins":      dist.TotalCoins,
		"upCount":         dist.UpCount,
		"downCount":       dist.DownCount,
		"distribution":    dist.Distribution,
		"allCoinsRanking": dist.AllCoinsRanking,
	})
}

func (s *Server) getUptrendDistribution(c echo.Context) error {
	start, end, err := window(c, 24)
	if err != nil {
		return badRequest(c, err.Error())
	}
	params := analytics.DefaultUptrendParams()
	if v := c.QueryParam("keepRatio"); v != "" {
		k, err := strconv.ParseFloat(v, 64)
		if err != nil || k <= 0 || k > 1 {
			return badRequest(c, "keepRatio must be in (0, 1]")
		}
		params.KeepRatio = k
	}
	if v := c.QueryParam("noNewHighCandles"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return badRequest(c, "noNewHighCandles must be a positive integer")
		}
		params.SidewaysCandles = n
	}
	if v := c.QueryParam("minUptrend"); v != "" {
		m, err := strconv.ParseFloat(v, 64)
		if err != nil || m < 0 {
			return badRequest(c, "minUptrend must be a non-negative number")
		}
		params.MinPct = m
	}

	res, err := s.engine.Uptrend(c.Request().Context(), start, end, params)
	if errors.Is(err, analytics.ErrNoData) {
		return fail(c, "no uptrend waves in the requested window")
	}
	if err != nil {
		return err
	}
	return ok(c, map[string]interface{}{
		"totalCoins":      res.TotalCoins,
		"ongoingCount":    res.OngoingCount,
		"avgUptrend":      res.AvgUptrend,
		"maxUptrend":      res.MaxUptrend,
		"distribution":    res.Distribution,
		"allCoinsRanking": res.AllCoinsRanking,
	})
}

func (s *Server) deleteData(c echo.Context) error {
	if c.QueryParam("start") == "" || c.QueryParam("end") == "" {
		return badRequest(c, "start and end are required")
	}
	start, end, err := window(c, 0)
	if err != nil {
		return badRequest(c, err.Error())
	}
	ctx := c.Request().Context()
	candles, err := s.candles.DeleteCandlesInRange(ctx, start, end)
	if err != nil {
		return err
	}
	rows, err := s.indexes.DeleteIndexRowsInRange(ctx, start, end)
	if err != nil {
		return err
	}
	return ok(c, map[string]interface{}{
		"deletedCandles":   candles,
		"deletedIndexRows": rows,
	})
}

func (s *Server) deleteSymbol(c echo.Context) error {
	symbol := c.Param("symbol")
	if symbol == "" {
		return badRequest(c, "symbol is required")
	}
	ctx := c.Request().Context()
	n, err := s.candles.DeleteCandlesBySymbol(ctx, symbol)
	if err != nil {
		return err
	}
	if err := s.registry.Revoke(ctx, symbol); err != nil {
		return err
	}
	return ok(c, map[string]interface{}{
		"symbol":         symbol,
		"deletedCandles": n,
	})
}

// repairWindow accepts either days=1..60 or an explicit start/end range.
func (s *Server) repairWindow(c echo.Context) (start, end time.Time, err error) {
	if d := c.QueryParam("days"); d != "" {
		days, err := strconv.Atoi(d)
		if err != nil || days < 1 || days > 60 {
			return start, end, fmt.Errorf("days must be between 1 and 60")
		}
		end = model.LatestClosedBucket(time.Now())
		return end.Add(-time.Duration(days) * 24 * time.Hour), end, nil
	}
	if c.QueryParam("start") == "" || c.QueryParam("end") == "" {
		return start, end, fmt.Errorf("either days or start and end are required")
	}
	return window(c, 0)
}

func (s *Server) postRepair(c echo.Context) error {
	start, end, err := s.repairWindow(c)
	if err != nil {
		return badRequest(c, err.Error())
	}
	if s.orch.InProgress() {
		return fail(c, "backfill in progress, try again later")
	}
	summary, err := s.orch.Repair(c.Request().Context(), start, end)
	if err != nil {
		return err
	}
	return ok(c, map[string]interface{}{"repair": summary})
}

func (s *Server) getMissing(c echo.Context) error {
	start, end, err := s.repairWindow(c)
	if err != nil {
		return badRequest(c, err.Error())
	}
	gaps, err := s.orch.FindMissing(c.Request().Context(), start, end)
	if err != nil {
		return err
	}
	total := 0
	for _, g := range gaps {
		total += g.Missing
	}
	return ok(c, map[string]interface{}{
		"symbols":      len(gaps),
		"missingTotal": total,
		"gaps":         gaps,
	})
}

func (s *Server) getStatus(c echo.Context) error {
	row, found, err := s.indexes.LatestIndexRow(c.Request().Context())
	if err != nil {
		return err
	}
	payload := map[string]interface{}{
		"rateLimited":        s.exchange.RateLimited(),
		"backfillInProgress": s.orch.InProgress(),
		"backfillComplete":   s.orch.Complete(),
		"basePrices":         s.registry.Count(),
	}
	if found {
		payload["lastUpdate"] = row.BucketStart.UnixMilli()
	}
	return ok(c, payload)
}

func (s *Server) postRateLimitReset(c echo.Context) error {
	s.exchange.Reset()
	return ok(c, map[string]interface{}{"rateLimited": s.exchange.RateLimited()})
}

func (s *Server) getDebugPrices(c echo.Context) error {
	symbol := c.QueryParam("symbol")
	if symbol == "" {
		return badRequest(c, "symbol is required")
	}
	start, end, err := window(c, 24)
	if err != nil {
		return badRequest(c, err.Error())
	}
	candles, err := s.candles.CandlesForSymbol(c.Request().Context(), symbol, start, end)
	if err != nil {
		return err
	}
	return ok(c, map[string]interface{}{
		"symbol":  symbol,
		"count":   len(candles),
		"candles": candles,
	})
}

func (s *Server) getDebugBasePrices(c echo.Context) error {
	return ok(c, map[string]interface{}{
		"count":      s.registry.Count(),
		"basePrices": s.registry.Snapshot(),
	})
}

// getDebugVerify recomputes the latest index row from stored candles and
// reports both values side by side.
func (s *Server) getDebugVerify(c echo.Context) error {
	ctx := c.Request().Context()
	stored, found, err := s.indexes.LatestIndexRow(ctx)
	if err != nil {
		return err
	}
	if !found {
		return fail(c, "no index data yet")
	}
	candles, err := s.candles.CandlesAt(ctx, stored.BucketStart)
	if err != nil {
		return err
	}
	bases := s.registry.Snapshot()
	recomputed, okRow := index.Aggregate(stored.BucketStart, candles, bases)
	if !okRow {
		return fail(c, "no contributing candles at the latest bucket")
	}

	type coinDetail struct {
		Symbol string  `json:"symbol"`
		Base   float64 `json:"base"`
		Close  float64 `json:"close"`
		Change float64 `json:"change"`
	}
	var coins []coinDetail
	for _, cd := range candles {
		base, okBase := bases[cd.Symbol]
		if !okBase || base <= 0 || cd.Close <= 0 {
			continue
		}
		change := (cd.Close - base) / base * 100
		coins = append(coins, coinDetail{
			Symbol: cd.Symbol,
			Base:   base,
			Close:  cd.Close,
			Change: math.Round(change*10000) / 10000,
		})
	}
	return ok(c, map[string]interface{}{
		"bucket":     stored.BucketStart.UnixMilli(),
		"stored":     stored.IndexValue,
		"recomputed": recomputed.IndexValue,
		"matches":    math.Abs(stored.IndexValue-recomputed.IndexValue) < 1e-6,
		"coins":      coins,
	})
}

func (s *Server) getHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}
