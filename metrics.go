package bufferpool

import "github.com/sirixdb/sirix-go/internal/metrics"

// MetricsRegistry exposes the observability surface §6 requires: cache
// hit/miss per shard, eviction counts by reason, guard-hold histograms,
// physical-memory high-water mark, budget-denied allocations, TIL
// residual bytes, and the sliding-snapshot leak counter (must stay 0).
type MetricsRegistry = metrics.Registry

// EvictReason classifies why a page left a guarded page cache.
type EvictReason = metrics.EvictReason

const (
	EvictSweeper  = metrics.EvictSweeper
	EvictSize     = metrics.EvictSize
	EvictExplicit = metrics.EvictExplicit
)
