package core

import (
	"CarbonLedger/internal/observability"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru"
)

// DBIdempotencyChecker is a cold-path lookup for call ids that fell out of
// the LRU (Postgres call log, state DB markers).
type DBIdempotencyChecker interface {
	IsDuplicate(callID string) (bool, error)
}

// IdempotencyChecker implements two-tier deduplication.
// Only accessed from the single-threaded core.
type IdempotencyChecker struct {
	// Tier 1: in-memory LRU of committed call ids
	lru *lru.Cache

	// Tier 2: durable lookups, tried in order
	dbCheckers []DBIdempotencyChecker

	metrics *observability.Metrics
}

func NewIdempotencyChecker(capacity int, metrics *observability.Metrics, dbCheckers ...DBIdempotencyChecker) (*IdempotencyChecker, error) {
	cache, err := lru.New(capacity)
	if err != nil {
		return nil, fmt.Errorf("idempotency lru: %w", err)
	}

	checkers := make([]DBIdempotencyChecker, 0, len(dbCheckers))
	for _, c := range dbCheckers {
		if c != nil {
			checkers = append(checkers, c)
		}
	}

	return &IdempotencyChecker{
		lru:        cache,
		dbCheckers: checkers,
		metrics:    metrics,
	}, nil
}

// IsDuplicate reports whether callID already committed. A tier-2 error is
// returned to the caller, never read as "not a duplicate".
func (ic *IdempotencyChecker) IsDuplicate(method, callID string) (bool, error) {
	if ic.lru.Contains(callID) {
		ic.recordDuplicate(method, "lru")
		return true, nil
	}

	for _, checker := range ic.dbCheckers {
		start := time.Now()
		isDup, err := checker.IsDuplicate(callID)
		if ic.metrics != nil {
			ic.metrics.DedupTier2Duration.Observe(time.Since(start).Seconds())
		}
		if err != nil {
			if ic.metrics != nil {
				ic.metrics.DedupTier2Errors.Inc()
			}
			return false, fmt.Errorf("idempotency lookup for %s: %w", callID, err)
		}
		if isDup {
			ic.recordDuplicate(method, "durable")
			ic.lru.Add(callID, struct{}{})
			return true, nil
		}
	}

	return false, nil
}

// MarkProcessed adds callID to the LRU after its call committed
func (ic *IdempotencyChecker) MarkProcessed(callID string) {
	ic.lru.Add(callID, struct{}{})
	if ic.metrics != nil {
		ic.metrics.DedupLRUSize.Set(float64(ic.lru.Len()))
	}
}

// WarmFromKeys loads recently committed call ids on restart.
func (ic *IdempotencyChecker) WarmFromKeys(keys []string) {
	for _, k := range keys {
		ic.lru.Add(k, struct{}{})
	}
}

// Keys returns the cached call ids, oldest first.
func (ic *IdempotencyChecker) Keys() []string {
	raw := ic.lru.Keys()
	out := make([]string, 0, len(raw))
	for _, k := range raw {
		out = append(out, k.(string))
	}
	return out
}

func (ic *IdempotencyChecker) Size() int {
	return ic.lru.Len()
}

func (ic *IdempotencyChecker) recordDuplicate(method, tier string) {
	if ic.metrics != nil {
		ic.metrics.IdempotencyDuplicates.WithLabelValues(method, tier).Inc()
	}
}
