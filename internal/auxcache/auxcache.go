// Package auxcache implements the auxiliary entry cache (C10): a
// fixed-entry-count cache used for the four "small fixed-size object"
// caches a resource keeps alongside its segment-backed page caches
// (revision-root, path-summary, names, index-tree nodes).
//
// Eviction generalizes the teacher's tenant/evict.go candidate-heap
// algorithm: instead of walking a cache directory and reading file
// atimes from the filesystem, each Put records a monotonic logical
// clock tick, and a bounded max-heap of the globally oldest-tick
// entries is refilled by a full map scan only when it runs dry (or
// every remaining candidate has gone stale because its entry was
// re-accessed since being queued). This is the same shape as the
// teacher avoiding a full directory walk on every eviction by keeping
// a capped list of good candidates from the last walk.
package auxcache

import "github.com/sirixdb/sirix-go/internal/heap"

// defaultMaxBuffer bounds the candidate heap's size independent of
// maxEntries, so a very large cache doesn't force an equally large
// scratch heap on every refill; mirrors the teacher's eheap.maxbuffer
// default of 25 for the equivalent purpose, scaled up since in-memory
// entries are far cheaper to scan than a directory tree.
const defaultMaxBuffer = 256

type record[V any] struct {
	value V
	tick  int64
}

type candidate[K comparable] struct {
	key  K
	tick int64
}

// worstFirst orders a bounded heap of *kept* candidates so its root is
// the one with the largest tick (the most recently touched, i.e. worst
// candidate among those currently retained) — the teacher's atimeLRU
// trick for turning a min-heap into "keep the globally smallest, evict
// the locally largest" bookkeeping.
func worstFirst[K comparable](x, y candidate[K]) bool { return y.tick < x.tick }

// Cache is a fixed-entry-count, tick-ordered LRU keyed by any
// comparable K.
type Cache[K comparable, V any] struct {
	maxEntries int
	maxBuffer  int
	clock      int64
	entries    map[K]*record[V]
	candidates []candidate[K]
}

// New constructs a Cache holding at most maxEntries entries.
func New[K comparable, V any](maxEntries int) *Cache[K, V] {
	buf := maxEntries
	if buf > defaultMaxBuffer {
		buf = defaultMaxBuffer
	}
	return &Cache[K, V]{
		maxEntries: maxEntries,
		maxBuffer:  buf,
		entries:    make(map[K]*record[V], maxEntries),
	}
}

// Get returns the value stored under key and bumps its tick so it is
// not considered for eviction ahead of entries that haven't been
// touched as recently.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	r, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	c.clock++
	r.tick = c.clock
	return r.value, true
}

// Put inserts or updates the value under key, evicting the globally
// oldest entry first if the cache is at capacity and key is new.
func (c *Cache[K, V]) Put(key K, value V) {
	c.clock++
	if r, ok := c.entries[key]; ok {
		r.value = value
		r.tick = c.clock
		return
	}
	if len(c.entries) >= c.maxEntries {
		c.evictOne()
	}
	c.entries[key] = &record[V]{value: value, tick: c.clock}
}

// Len reports the number of entries currently held.
func (c *Cache[K, V]) Len() int { return len(c.entries) }

func (c *Cache[K, V]) evictOne() {
	for {
		if len(c.candidates) == 0 {
			c.fill()
			if len(c.candidates) == 0 {
				return
			}
		}
		cand := c.candidates[0]
		c.candidates = c.candidates[1:]
		r, ok := c.entries[cand.key]
		if !ok || r.tick != cand.tick {
			// stale: entry was removed or re-touched since this
			// candidate was queued; skip it and try the next one.
			continue
		}
		delete(c.entries, cand.key)
		return
	}
}

// fill rescans the live entry map and refills c.candidates with up to
// maxBuffer of the globally oldest-tick entries. It keeps a bounded
// max-heap ("worst" = largest tick among kept candidates) while
// scanning so admitting a better candidate costs one push+pop instead
// of a full rescan-and-resort, then unrolls that heap into ascending
// (oldest-first) order for sequential consumption by evictOne.
func (c *Cache[K, V]) fill() {
	var buf []candidate[K]
	for k, r := range c.entries {
		cand := candidate[K]{key: k, tick: r.tick}
		if len(buf) < c.maxBuffer {
			heap.PushSlice(&buf, cand, worstFirst[K])
		} else if cand.tick < buf[0].tick {
			heap.PopSlice(&buf, worstFirst[K])
			heap.PushSlice(&buf, cand, worstFirst[K])
		}
	}
	sorted := make([]candidate[K], len(buf))
	for i := len(sorted) - 1; i >= 0; i-- {
		sorted[i] = heap.PopSlice(&buf, worstFirst[K])
	}
	c.candidates = sorted
}
