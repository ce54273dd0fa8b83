// Package metrics implements the buffer pool's lock-free observability
// counters: plain atomics, no third-party metrics library. The teacher
// module has no metrics dependency anywhere in its require block (its own
// instrumentation, e.g. tenant/dcache's hits/misses/failures counters, is
// hand-rolled atomic.Int64 fields) so this follows the same convention
// rather than reaching outside the pack for something like
// client_golang/prometheus that nothing else in the corpus imports.
package metrics

import (
	"sync/atomic"

	"github.com/sirixdb/sirix-go/internal/atomicext"
)

// EvictReason classifies why a page left the guarded cache.
type EvictReason int

const (
	EvictSweeper EvictReason = iota
	EvictSize
	EvictExplicit
	numEvictReasons
)

func (r EvictReason) String() string {
	switch r {
	case EvictSweeper:
		return "sweeper"
	case EvictSize:
		return "size"
	case EvictExplicit:
		return "explicit"
	default:
		return "unknown"
	}
}

// guardHoldBuckets are upper bounds (nanoseconds) for the guard-hold
// duration histogram: 1us, 10us, 100us, 1ms, 10ms, 100ms, 1s, +Inf.
var guardHoldBuckets = [...]int64{
	1_000, 10_000, 100_000, 1_000_000, 10_000_000, 100_000_000, 1_000_000_000,
}

// Registry holds every counter exposed by §6's observability requirements:
// cache hit/miss per shard, eviction count and reason, guard-hold
// histogram, physical high-water mark, budget-denied count, TIL residual
// bytes, and the sliding-snapshot intermediate-page leak counter (which
// must stay at zero).
type Registry struct {
	hits, misses []atomic.Int64

	evictions [numEvictReasons]atomic.Int64

	guardHold [len(guardHoldBuckets) + 1]atomic.Int64

	physicalHighWater int64 // written only via atomicext.MaxInt64

	budgetDenied         atomic.Int64
	tilResidualBytes     atomic.Int64
	slidingSnapshotLeaks atomic.Int64
}

// NewRegistry allocates per-shard counters for the given shard count.
func NewRegistry(shards int) *Registry {
	return &Registry{
		hits:   make([]atomic.Int64, shards),
		misses: make([]atomic.Int64, shards),
	}
}

func (r *Registry) RecordHit(shard int)  { r.hits[shard].Add(1) }
func (r *Registry) RecordMiss(shard int) { r.misses[shard].Add(1) }

func (r *Registry) CacheHits(shard int) int64   { return r.hits[shard].Load() }
func (r *Registry) CacheMisses(shard int) int64 { return r.misses[shard].Load() }

func (r *Registry) RecordEviction(reason EvictReason) {
	r.evictions[reason].Add(1)
}

func (r *Registry) Evictions(reason EvictReason) int64 {
	return r.evictions[reason].Load()
}

// RecordGuardHold buckets a guard-hold duration (in nanoseconds) into the
// histogram.
func (r *Registry) RecordGuardHold(nanos int64) {
	for i, bound := range guardHoldBuckets {
		if nanos <= bound {
			r.guardHold[i].Add(1)
			return
		}
	}
	r.guardHold[len(guardHoldBuckets)].Add(1)
}

// GuardHoldHistogram returns the bucket counts, aligned with the bounds
// in guardHoldBuckets plus one final +Inf bucket.
func (r *Registry) GuardHoldHistogram() []int64 {
	out := make([]int64, len(r.guardHold))
	for i := range r.guardHold {
		out[i] = r.guardHold[i].Load()
	}
	return out
}

// NotePhysicalBytes records an observed physical-byte total against the
// running high-water mark.
func (r *Registry) NotePhysicalBytes(v int64) {
	atomicext.MaxInt64(&r.physicalHighWater, v)
}

func (r *Registry) PhysicalHighWater() int64 {
	return atomic.LoadInt64(&r.physicalHighWater)
}

func (r *Registry) IncBudgetDenied() { r.budgetDenied.Add(1) }
func (r *Registry) BudgetDenied() int64 { return r.budgetDenied.Load() }

func (r *Registry) SetTILResidualBytes(v int64) { r.tilResidualBytes.Store(v) }
func (r *Registry) TILResidualBytes() int64      { return r.tilResidualBytes.Load() }

func (r *Registry) IncSlidingSnapshotLeaks() { r.slidingSnapshotLeaks.Add(1) }
func (r *Registry) SlidingSnapshotLeaks() int64 {
	return r.slidingSnapshotLeaks.Load()
}
