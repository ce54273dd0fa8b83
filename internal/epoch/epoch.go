// Package epoch implements the revision epoch tracker (C5): a
// per-resource minActiveRevision watermark computed from the set of
// revisions currently registered by live read transactions.
package epoch

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/sirixdb/sirix-go/internal/heap"
)

// RingSlots is the fixed ring size per resource before registration
// falls back to the shared counted map.
const RingSlots = 128

// Token identifies one live registration, handed back by Register and
// consumed by Deregister. Backed by a uuid so log lines and metrics can
// name a specific reader without leaking a raw pointer or slot index.
type Token = uuid.UUID

// slotFree marks a ring slot unoccupied. Revisions are always
// non-negative, so -1 cannot collide with a live registration.
const slotFree int64 = -1

// slot's claim and its revision are the same atomic word: Register
// claims a free slot with a single CompareAndSwap that publishes the
// revision in the same step, so a concurrent MinActiveRevision can never
// observe a slot as occupied before its revision is the new occupant's.
type slot struct {
	revision atomic.Int64
	token    uuid.UUID
}

type resourceState struct {
	ring [RingSlots]slot

	// fallback guards the shared counted map used once the ring is
	// full; it keeps a min-heap of live revisions so minActiveRevision
	// stays O(1) instead of an O(n) scan once the fallback is in use.
	mu       sync.Mutex
	fallback map[uuid.UUID]int64
	heap     []int64
	heapLive map[int64]int // revision -> live registration count, for heap-lazy-deletion
}

func newResourceState() *resourceState {
	rs := &resourceState{
		fallback: make(map[uuid.UUID]int64),
		heapLive: make(map[int64]int),
	}
	for i := range rs.ring {
		rs.ring[i].revision.Store(slotFree)
	}
	return rs
}

// Tracker owns one resourceState per resource ID, created lazily.
type Tracker struct {
	mu        sync.Mutex
	resources map[uint64]*resourceState

	tokens   sync.Map // Token -> tokenLocation
}

type tokenLocation struct {
	resourceID uint64
	ringIdx    int // -1 if registered via fallback
}

// NewTracker constructs an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{resources: make(map[uint64]*resourceState)}
}

func (t *Tracker) stateFor(resourceID uint64) *resourceState {
	t.mu.Lock()
	defer t.mu.Unlock()
	rs, ok := t.resources[resourceID]
	if !ok {
		rs = newResourceState()
		t.resources[resourceID] = rs
	}
	return rs
}

// Register records that a reader is active at revision for resourceID
// and returns a Token to later Deregister with. It first scans the
// fixed ring for a free slot (CAS); if the ring is full it falls back to
// a shared counted map under a mutex.
func (t *Tracker) Register(resourceID uint64, revision int64) Token {
	rs := t.stateFor(resourceID)
	token := uuid.New()

	for i := range rs.ring {
		sl := &rs.ring[i]
		if sl.revision.CompareAndSwap(slotFree, revision) {
			sl.token = token
			t.tokens.Store(token, tokenLocation{resourceID: resourceID, ringIdx: i})
			return token
		}
	}

	rs.mu.Lock()
	rs.fallback[token] = revision
	rs.heapLive[revision]++
	if rs.heapLive[revision] == 1 {
		heap.PushSlice(&rs.heap, revision, lessInt64)
	}
	rs.mu.Unlock()
	t.tokens.Store(token, tokenLocation{resourceID: resourceID, ringIdx: -1})
	return token
}

// Deregister clears the registration named by token.
func (t *Tracker) Deregister(token Token) {
	v, ok := t.tokens.LoadAndDelete(token)
	if !ok {
		return
	}
	loc := v.(tokenLocation)
	rs := t.stateFor(loc.resourceID)

	if loc.ringIdx >= 0 {
		sl := &rs.ring[loc.ringIdx]
		sl.revision.Store(slotFree)
		return
	}

	rs.mu.Lock()
	defer rs.mu.Unlock()
	revision, ok := rs.fallback[token]
	if !ok {
		return
	}
	delete(rs.fallback, token)
	rs.heapLive[revision]--
	if rs.heapLive[revision] <= 0 {
		delete(rs.heapLive, revision)
		rs.heap = removeHeapValue(rs.heap, revision)
	}
}

// MinActiveRevision returns the minimum revision among every live
// registration for resourceID, or math.MaxInt64 if none are live.
func (t *Tracker) MinActiveRevision(resourceID uint64) int64 {
	rs := t.stateFor(resourceID)

	min := int64(1<<63 - 1)
	for i := range rs.ring {
		sl := &rs.ring[i]
		if v := sl.revision.Load(); v != slotFree && v < min {
			min = v
		}
	}

	rs.mu.Lock()
	if len(rs.heap) > 0 && rs.heap[0] < min {
		min = rs.heap[0]
	}
	rs.mu.Unlock()

	return min
}

// removeHeapValue removes one occurrence of v from the min-heap h,
// rebuilding heap order. The fallback path is rare enough (only reached
// once a resource has 128 concurrent readers) that an O(n) scan plus
// FixSlice is an acceptable cost compared to a full decrease-key-capable
// heap implementation.
func removeHeapValue(h []int64, v int64) []int64 {
	for i, x := range h {
		if x == v {
			last := len(h) - 1
			h[i] = h[last]
			h = h[:last]
			if len(h) > 0 {
				heap.FixSlice(h, min(i, len(h)-1), lessInt64)
			}
			return h
		}
	}
	return h
}

func lessInt64(a, b int64) bool { return a < b }
