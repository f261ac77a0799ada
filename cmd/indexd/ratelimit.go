package main

import (
	"context"
	"time"

	"altindex/internal/exchange"
	"altindex/internal/metrics"
)

// watchRateLimit mirrors the exchange tripwire into the latch gauge.
func watchRateLimit(ctx context.Context, client *exchange.Client, prom *metrics.Metrics) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if client.RateLimited() {
				prom.RateLimitLatched.Set(1)
			} else {
				prom.RateLimitLatched.Set(0)
			}
		}
	}
}
