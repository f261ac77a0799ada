// Package api exposes the HTTP query surface: index reads, analytical
// queries and the admin operations.
package api

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"altindex/internal/analytics"
	"altindex/internal/backfill"
	"altindex/internal/baseprice"
	"altindex/internal/model"
)

// Exchange is the slice of the exchange client the admin surface needs.
type Exchange interface {
	RateLimited() bool
	Reset()
}

// Server wires the handlers into an echo instance.
type Server struct {
	echo     *echo.Echo
	candles  model.CandleStore
	indexes  model.IndexStore
	registry *baseprice.Registry
	engine   *analytics.Engine
	orch     *backfill.Orchestrator
	exchange Exchange
}

// New builds the server and registers all routes.
func New(candles model.CandleStore, indexes model.IndexStore, registry *baseprice.Registry, engine *analytics.Engine, orch *backfill.Orchestrator, exchange Exchange) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	s := &Server{
		echo:     e,
		candles:  candles,
		indexes:  indexes,
		registry: registry,
		engine:   engine,
		orch:     orch,
		exchange: exchange,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	idx := s.echo.Group("/api/index")
	idx.GET("/current", s.getCurrent)
	idx.GET("/history", s.getHistory)
	idx.GET("/stats", s.getStats)
	idx.GET("/distribution", s.getDistribution)
	idx.GET("/uptrend-distribution", s.getUptrendDistribution)
	idx.DELETE("/data", s.deleteData)
	idx.DELETE("/symbol/:symbol", s.deleteSymbol)
	idx.POST("/repair", s.postRepair)
	idx.GET("/missing", s.getMissing)
	idx.GET("/status", s.getStatus)
	idx.POST("/ratelimit/reset", s.postRateLimitReset)

	dbg := idx.Group("/debug")
	dbg.GET("/prices", s.getDebugPrices)
	dbg.GET("/base-prices", s.getDebugBasePrices)
	dbg.GET("/verify", s.getDebugVerify)

	s.echo.GET("/api/v1/health", s.getHealth)
}

// Start runs the listener until the context is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		log.Printf("[api] serving on %s", addr)
		errCh <- s.echo.Start(addr)
	}()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.echo.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// Handler exposes the echo instance for tests.
func (s *Server) Handler() http.Handler { return s.echo }
