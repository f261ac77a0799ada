// Package redispub publishes committed index rows to Redis so dashboards can
// read the latest value and tail the series without touching SQLite.
package redispub

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"altindex/internal/metrics"
	"altindex/internal/model"
)

const (
	latestKey    = "index:latest"
	streamKey    = "index:rows"
	latestTTL    = 30 * time.Minute
	streamMaxLen = 8640 // ~30 days of 5m rows
)

// Config configures the Redis publisher.
type Config struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int
}

// Publisher writes index rows to Redis behind a circuit breaker.
type Publisher struct {
	client  *goredis.Client
	breaker *CircuitBreaker
	metrics *metrics.Metrics
}

// Client returns the underlying Redis client for health checks.
func (p *Publisher) Client() *goredis.Client { return p.client }

// New creates a publisher and pings the server.
func New(cfg Config, m *metrics.Metrics) (*Publisher, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	p := &Publisher{
		client:  client,
		breaker: NewCircuitBreaker(5, 10*time.Second),
		metrics: m,
	}
	p.breaker.OnStateChange = func(from, to State) {
		log.Printf("[redispub] circuit breaker %s -> %s", from, to)
		if m != nil {
			m.PublisherBreakerState.Set(float64(to))
		}
	}
	log.Printf("[redispub] connected to %s", cfg.Addr)
	return p, nil
}

// PublishIndexRow writes the row to the latest-value key (JSON with TTL) and
// appends it to the capped stream.
func (p *Publisher) PublishIndexRow(ctx context.Context, row model.IndexRow) error {
	payload, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("redispub: marshal row: %w", err)
	}
	err = p.breaker.Execute(func() error {
		pipe := p.client.Pipeline()
		pipe.Set(ctx, latestKey, payload, latestTTL)
		pipe.XAdd(ctx, &goredis.XAddArgs{
			Stream: streamKey,
			MaxLen: streamMaxLen,
			Approx: true,
			Values: map[string]interface{}{
				"bucket": row.BucketStart.UnixMilli(),
				"row":    payload,
			},
		})
		_, err := pipe.Exec(ctx)
		return err
	})
	if err != nil {
		if p.metrics != nil {
			p.metrics.PublisherErrors.Inc()
		}
		return fmt.Errorf("redispub: publish: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (p *Publisher) Close() error { return p.client.Close() }
