// Package baseprice owns the per-symbol reference price: the fixed base
// against which every percent change is measured. All mutations of the
// base_price table go through the Registry.
package baseprice

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"altindex/internal/model"
)

// Registry holds the symbol -> base price map in memory, mirrored to the
// durable store.
type Registry struct {
	store model.BasePriceStore

	mu    sync.RWMutex
	bases map[string]float64
}

// New builds an empty registry; call Load before use.
func New(store model.BasePriceStore) *Registry {
	return &Registry{store: store, bases: make(map[string]float64)}
}

// Load populates the in-memory map from the store.
func (r *Registry) Load(ctx context.Context) error {
	list, err := r.store.ListBasePrices(ctx)
	if err != nil {
		return fmt.Errorf("baseprice load: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bases = make(map[string]float64, len(list))
	for _, bp := range list {
		r.bases[bp.Symbol] = bp.Price
	}
	log.Printf("[baseprice] loaded %d base prices", len(list))
	return nil
}

// Get returns the base price for a symbol.
func (r *Registry) Get(symbol string) (float64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.bases[symbol]
	return v, ok
}

// Snapshot returns a copy of the full map, safe for lock-free reads by the
// aggregator.
func (r *Registry) Snapshot() map[string]float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]float64, len(r.bases))
	for k, v := range r.bases {
		out[k] = v
	}
	return out
}

// AdoptIfMissing sets price as the symbol's base when none exists yet,
// persisting it durably. Returns true when the base was adopted.
func (r *Registry) AdoptIfMissing(ctx context.Context, symbol string, price float64, at time.Time) (bool, error) {
	if price <= 0 {
		return false, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.bases[symbol]; ok {
		return false, nil
	}
	bp := model.BasePrice{Symbol: symbol, Price: price, CreatedAt: at.UTC()}
	if err := r.store.UpsertBasePrice(ctx, bp); err != nil {
		return false, fmt.Errorf("baseprice adopt %s: %w", symbol, err)
	}
	r.bases[symbol] = price
	log.Printf("[baseprice] adopted %s at %.8g", symbol, price)
	return true, nil
}

// AdoptBatch merges tentative bases gathered during backfill: symbols that
// already hold a base are skipped. Returns the number adopted.
func (r *Registry) AdoptBatch(ctx context.Context, tentative map[string]float64, at time.Time) (int, error) {
	adopted := 0
	for symbol, price := range tentative {
		ok, err := r.AdoptIfMissing(ctx, symbol, price, at)
		if err != nil {
			return adopted, err
		}
		if ok {
			adopted++
		}
	}
	return adopted, nil
}

// ReconcileWithActive revokes the base of every symbol no longer present in
// the active set. Candle history is left untouched; a re-listed symbol will
// re-adopt at its then-current price.
func (r *Registry) ReconcileWithActive(ctx context.Context, active []string) ([]string, error) {
	activeSet := make(map[string]struct{}, len(active))
	for _, s := range active {
		activeSet[s] = struct{}{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var revoked []string
	for symbol := range r.bases {
		if _, ok := activeSet[symbol]; ok {
			continue
		}
		if err := r.store.DeleteBasePrice(ctx, symbol); err != nil {
			return revoked, fmt.Errorf("baseprice revoke %s: %w", symbol, err)
		}
		delete(r.bases, symbol)
		revoked = append(revoked, symbol)
	}
	if len(revoked) > 0 {
		log.Printf("[baseprice] revoked %d delisted symbols: %v", len(revoked), revoked)
	}
	return revoked, nil
}

// Revoke removes one symbol's base (admin purge path).
func (r *Registry) Revoke(ctx context.Context, symbol string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.store.DeleteBasePrice(ctx, symbol); err != nil {
		return fmt.Errorf("baseprice revoke %s: %w", symbol, err)
	}
	delete(r.bases, symbol)
	return nil
}

// Count returns the number of symbols currently holding a base.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bases)
}
