package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"

	"altindex/config"
	"altindex/internal/analytics"
	"altindex/internal/api"
	"altindex/internal/backfill"
	"altindex/internal/baseprice"
	"altindex/internal/collector"
	"altindex/internal/exchange"
	"altindex/internal/logger"
	"altindex/internal/metrics"
	"altindex/internal/store/redispub"
	sqlitestore "altindex/internal/store/sqlite"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[indexd] starting...")

	// ---- Load config from env (.env honored when present) ----
	if err := godotenv.Load(); err == nil {
		log.Println("[indexd] loaded .env")
	}
	cfg := config.Load()
	logger.Init("indexd", slog.LevelInfo)

	// ---- Setup context for graceful shutdown ----
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// ---- Metrics server ----
	prom := metrics.New()
	go func() {
		if err := metrics.Serve(cfg.MetricsAddr); err != nil {
			log.Printf("[indexd] metrics server stopped: %v", err)
		}
	}()

	// ---- SQLite store ----
	os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755)
	store, err := sqlitestore.New(sqlitestore.Config{DBPath: cfg.SQLitePath})
	if err != nil {
		log.Fatalf("[indexd] sqlite init failed: %v", err)
	}
	defer store.Close()

	// ---- Base-price registry ----
	registry := baseprice.New(store)
	if err := registry.Load(ctx); err != nil {
		log.Fatalf("[indexd] base price load failed: %v", err)
	}
	prom.BasePricesKnown.Set(float64(registry.Count()))

	// ---- Exchange client ----
	client := exchange.NewClient(exchange.Config{
		BaseURL:         cfg.ExchangeBaseURL,
		QuoteSuffix:     cfg.QuoteSuffix,
		ExcludeSymbols:  cfg.ParseExcludeSymbols(),
		RequestInterval: cfg.RequestInterval(),
		HTTPTimeout:     cfg.HTTPTimeout(),
	})

	// ---- Redis publisher (optional) ----
	var publisher collector.Publisher
	if cfg.RedisAddr != "" {
		pub, err := redispub.New(redispub.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		}, prom)
		if err != nil {
			log.Printf("[indexd] WARNING: redis unavailable: %v (continuing without publisher)", err)
		} else {
			defer pub.Close()
			publisher = pub
		}
	}

	// ---- Analytics engine with uptrend cache ----
	engine := analytics.NewEngine(store, analytics.NewCache())

	// ---- Backfill, then live collection ----
	orch := backfill.New(backfill.Config{
		Days:        cfg.BackfillDays,
		Concurrency: cfg.BackfillConcurrency,
	}, client, store, store, registry, prom)

	go func() {
		prom.BackfillRunning.Set(1)
		defer prom.BackfillRunning.Set(0)
		if err := orch.Run(ctx); err != nil {
			log.Printf("[indexd] backfill failed: %v", err)
		}
	}()

	col := collector.New(collector.Config{Concurrency: cfg.CollectConcurrency},
		client, store, store, registry, orch, engine.Cache(), publisher, prom)
	go col.Run(ctx)

	go watchRateLimit(ctx, client, prom)

	// ---- HTTP API ----
	srv := api.New(store, store, registry, engine, orch, client)
	go func() {
		if err := srv.Start(ctx, cfg.HTTPAddr); err != nil {
			log.Printf("[indexd] api server stopped: %v", err)
		}
	}()

	sig := <-sigCh
	log.Printf("[indexd] received %v, shutting down", sig)
	cancel()
}
