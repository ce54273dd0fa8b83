// Package pagecache implements the guarded page cache (C3): a sharded
// hash map from composite page keys to leaf pages, with atomic
// get-and-guard semantics and coalesced miss-fill so two concurrent
// loads of the same cold key never both pay the I/O cost.
//
// The per-shard "lock, check, release lock, load, lock, re-check,
// insert-or-discard" dance is the teacher's dcache.Cache
// lockID/unlockID/unlockIDMapped pattern, generalized from one global
// mutex to many independently-locked shards and from a refcounted
// mmap-backed file entry to a guard-counted in-memory LeafPage.
package pagecache

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/sirixdb/sirix-go/internal/logging"
	"github.com/sirixdb/sirix-go/internal/metrics"
	"github.com/sirixdb/sirix-go/internal/page"
	"github.com/sirixdb/sirix-go/internal/pagekey"
)

// DefaultShards is the default shard count (the "shards" config from §6).
const DefaultShards = 64

// Loader fetches and materializes the page for key on a cache miss. It
// must never be called while holding any shard lock.
type Loader func(ctx context.Context, key pagekey.Key) (*page.LeafPage, error)

type shard struct {
	mu       sync.Mutex
	cond     sync.Cond
	entries  map[pagekey.Key]*page.LeafPage
	inflight map[pagekey.Key]struct{}
}

// Cache is the guarded page cache: a fixed number of independently
// locked shards mapping composite keys to leaf pages.
type Cache struct {
	Logger  logging.Logger
	Metrics *metrics.Registry

	shards []shard
	mask   uint64
}

// New constructs a Cache with the given shard count, which must be a
// power of two (shard selection uses a mask, matching the teacher's
// general preference for mask-based indexing over modulo where a power
// of two is guaranteed by configuration validation, see config.go).
func New(shards int, reg *metrics.Registry) *Cache {
	if shards <= 0 {
		shards = DefaultShards
	}
	c := &Cache{
		shards:  make([]shard, shards),
		mask:    uint64(shards - 1),
		Metrics: reg,
	}
	for i := range c.shards {
		c.shards[i].entries = make(map[pagekey.Key]*page.LeafPage)
		c.shards[i].inflight = make(map[pagekey.Key]struct{})
		c.shards[i].cond.L = &c.shards[i].mu
	}
	return c
}

func (c *Cache) errorf(f string, args ...interface{}) {
	if c.Logger != nil {
		c.Logger.Printf(f, args...)
	}
}

func (c *Cache) shardFor(key pagekey.Key) (*shard, int) {
	idx := int(key.Hash() & c.mask)
	return &c.shards[idx], idx
}

func (c *Cache) recordHit(idx int) {
	if c.Metrics != nil {
		c.Metrics.RecordHit(idx)
	}
}

func (c *Cache) recordMiss(idx int) {
	if c.Metrics != nil {
		c.Metrics.RecordMiss(idx)
	}
}

// GetAndGuard returns a guarded page for key, invoking loader on a miss.
// Exactly one loader call is ever in flight per key at a time: a second
// caller arriving while a load is in progress waits on the shard's
// condition variable instead of invoking loader again, then re-checks
// the map once woken.
//
// No side effect here (guard acquisition, map mutation, I/O) ever
// happens while holding a foreign shard's lock, and loader is always
// called with no lock held at all — this is the "forbidden pattern"
// the design notes warn about: a compute-style callback that mutates
// guard counts or performs I/O under a lock it also needs to re-acquire
// deadlocks the moment two shards collide.
func (c *Cache) GetAndGuard(ctx context.Context, key pagekey.Key, loader Loader) (*page.LeafPage, error) {
	sh, idx := c.shardFor(key)

	sh.mu.Lock()
	for {
		if p, ok := sh.entries[key]; ok {
			p.AcquireGuard()
			sh.mu.Unlock()
			c.recordHit(idx)
			return p, nil
		}
		if _, loading := sh.inflight[key]; !loading {
			break
		}
		sh.cond.Wait()
	}
	sh.inflight[key] = struct{}{}
	sh.mu.Unlock()

	c.recordMiss(idx)
	loaded, err := loader(ctx, key)

	sh.mu.Lock()
	delete(sh.inflight, key)
	if err != nil {
		sh.cond.Broadcast()
		sh.mu.Unlock()
		return nil, err
	}
	if existing, ok := sh.entries[key]; ok {
		// Another goroutine raced us and inserted first; adopt its
		// page and reset our own loaded page here (it was never
		// published, so nothing else can reference it).
		existing.AcquireGuard()
		sh.mu.Unlock()
		sh.cond.Broadcast()
		loaded.Reset()
		return existing, nil
	}
	sh.entries[key] = loaded
	loaded.AcquireGuard()
	sh.mu.Unlock()
	sh.cond.Broadcast()
	return loaded, nil
}

// BatchFetch fans a set of keys out across goroutines, round-robining
// them across a small worker pool with an atomic cursor, and aborts the
// remaining fetches when ctx is canceled. Grounded on the teacher's
// dcache.MultiTable fan-out structure; not required by any invariant,
// purely a convenience extension for callers fetching many keys at once.
func (c *Cache) BatchFetch(ctx context.Context, keys []pagekey.Key, loader Loader) ([]*page.LeafPage, error) {
	out := make([]*page.LeafPage, len(keys))
	errs := make([]error, len(keys))

	var cursor atomic.Int64
	workers := len(keys)
	if workers > 8 {
		workers = 8
	}
	if workers == 0 {
		return out, nil
	}

	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				default:
				}
				i := int(cursor.Add(1)) - 1
				if i >= len(keys) {
					return
				}
				p, err := c.GetAndGuard(ctx, keys[i], loader)
				out[i] = p
				errs[i] = err
			}
		}()
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return out, err
		}
	}
	return out, nil
}

// Remove drops key's mapping. If the page's guard count is zero, its
// segments are released via Reset. If it is still guarded, the mapping
// is simply dropped from the map (making it invisible to future
// getAndGuard calls) and the page is left to the last guard-holder: it
// remains valid memory, just unreachable by key, until its guard count
// reaches zero and the caller holding it finishes and calls Reset
// itself (see sweep, which performs exactly that check before removing).
func (c *Cache) Remove(key pagekey.Key, reason metrics.EvictReason) {
	sh, _ := c.shardFor(key)
	sh.mu.Lock()
	p, ok := sh.entries[key]
	if !ok {
		sh.mu.Unlock()
		return
	}
	delete(sh.entries, key)
	sh.mu.Unlock()

	if c.Metrics != nil {
		c.Metrics.RecordEviction(reason)
	}
	if p.GuardCount() == 0 {
		p.Reset()
	}
}

// Peek returns the page currently mapped to key without acquiring a
// guard, or nil if absent. Intended for diagnostics and the sweeper's
// own shard-local iteration (sweep iterates shards directly rather than
// through Peek, but tests use this to assert cache state).
func (c *Cache) Peek(key pagekey.Key) *page.LeafPage {
	sh, _ := c.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	return sh.entries[key]
}

// shardLen returns the number of entries in shard idx, for tests.
func (c *Cache) shardLen(idx int) int {
	c.shards[idx].mu.Lock()
	defer c.shards[idx].mu.Unlock()
	return len(c.shards[idx].entries)
}

// NumShards reports the configured shard count.
func (c *Cache) NumShards() int { return len(c.shards) }

// RevisionLookup returns the minActiveRevision watermark for a resource
// (§4.5); callers pass epoch.Tracker.MinActiveRevision bound to a
// resource ID.
type RevisionLookup func(resourceID uint64) int64

// SweepShard performs one clock-sweep pass over shard idx: every entry
// whose hot bit is set gets a second chance (hot cleared, left in
// place); every entry with a zero guard count and a revision older than
// its resource's minActiveRevision is evicted. A single call performs a
// full pass rather than advancing an incremental hand one entry at a
// time, so invariant 5 ("evicted or re-accessed within 2 rounds") holds
// with "round" meaning "one SweepShard call": an entry surviving because
// it was hot on round N has its hot bit cleared and, absent a fresh
// access, is evicted on round N+1.
//
// Guard safety follows directly from holding the shard lock across the
// whole decision: the same lock getAndGuard takes before publishing a
// guard, so a reader can never observe guardCount drop to zero here
// while concurrently believing it holds a guard.
func (c *Cache) SweepShard(idx int, minActive RevisionLookup) int {
	sh := &c.shards[idx]
	sh.mu.Lock()
	defer sh.mu.Unlock()

	evicted := 0
	for key, p := range sh.entries {
		if p.Hot() {
			p.ClearHot()
			continue
		}
		if p.GuardCount() > 0 {
			continue
		}
		if int64(p.Revision()) >= minActive(key.ResourceID) {
			continue
		}
		delete(sh.entries, key)
		p.Reset()
		evicted++
		if c.Metrics != nil {
			c.Metrics.RecordEviction(metrics.EvictSweeper)
		}
	}
	return evicted
}
