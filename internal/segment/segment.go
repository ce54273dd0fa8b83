// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package segment implements the fixed-size-class slab allocator that
// backs every page frame in the buffer pool. Allocate hands out fixed-size
// byte slices ("segments") carved out of larger anonymous mmap regions;
// Release returns a segment to its class's free list without ever
// unmapping memory. Physical pages are given back to the OS opportunistically
// via decommitRegion (MADV_DONTNEED / MEM_DECOMMIT) only once an entire
// region has gone unused, and munmap/MEM_RELEASE is reserved for
// Allocator.Close.
package segment

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sirixdb/sirix-go/internal/atomicext"
	"github.com/sirixdb/sirix-go/internal/bufferr"
)

// Segment is a fixed-size byte slice handle owned by exactly one page
// frame at a time. The backing memory is never moved or resized; the
// region it was carved from may be physically decommitted while the
// Segment handle is unused, but the slice header itself stays valid.
type Segment struct {
	mem    []byte
	class  SizeClass
	region *region
}

func (s *Segment) Bytes() []byte    { return s.mem }
func (s *Segment) Len() int         { return len(s.mem) }
func (s *Segment) Class() SizeClass { return s.class }

// freeNode is one entry of a lock-free (Treiber stack) free list.
type freeNode struct {
	seg  *Segment
	next atomic.Pointer[freeNode]
}

// freeStack is a lock-free LIFO stack of free segments for one size
// class, pushed and popped with CAS loops in the manner of this
// module's other lock-free structures (see internal/atomicext).
type freeStack struct {
	top atomic.Pointer[freeNode]
}

func (s *freeStack) push(seg *Segment) {
	n := &freeNode{seg: seg}
	for {
		old := s.top.Load()
		n.next.Store(old)
		if s.top.CompareAndSwap(old, n) {
			return
		}
	}
}

func (s *freeStack) pop() *Segment {
	for {
		old := s.top.Load()
		if old == nil {
			return nil
		}
		next := old.next.Load()
		if s.top.CompareAndSwap(old, next) {
			return old.seg
		}
	}
}

// classPool holds the regions and free stack for a single size class.
type classPool struct {
	mu      sync.Mutex
	regions []*region
	free    freeStack
}

// Allocator is the segment allocator for one buffer manager instance: a
// fixed physical-byte budget shared across every size class, replenished
// by mapping new regions on demand and relinquished back to the OS once
// whole regions sit completely unused.
type Allocator struct {
	budget        int64
	physicalBytes atomic.Int64
	highWater     int64 // written only via atomicext.MaxInt64
	pools         [numClasses]classPool
	closed        atomic.Bool
}

// NewAllocator constructs an Allocator with the given physical-byte
// budget, which must be a positive multiple of the largest size class.
// The budget is charged a whole region (1 MiB to 8 MiB) at a time, so a
// budget smaller than a class's region size cannot serve that class.
func NewAllocator(budget int64) (*Allocator, error) {
	if budget <= 0 || budget%int64(LargestClass.Bytes()) != 0 {
		return nil, fmt.Errorf("bufferpool: segment budget %d must be a positive multiple of %d", budget, LargestClass.Bytes())
	}
	a := &Allocator{budget: budget}
	return a, nil
}

// Budget reports the configured physical-byte budget.
func (a *Allocator) Budget() int64 { return a.budget }

// PhysicalBytes reports the current best-effort estimate of physical
// bytes held by this allocator. It is conservative: it only ever
// increases when a new region is mapped or a decommitted region is
// reacquired, and only ever decreases when a fully-unused region is
// decommitted (or the allocator is closed), so it may over-report versus the
// OS's actual resident set between those events, but it never
// under-reports a live mapping.
func (a *Allocator) PhysicalBytes() int64 { return a.physicalBytes.Load() }

// HighWaterMark reports the largest PhysicalBytes value ever observed.
func (a *Allocator) HighWaterMark() int64 { return atomic.LoadInt64(&a.highWater) }

// Allocate returns a zeroed segment of the requested class. If no free
// segment is available and the configured budget would be exceeded by
// mapping a fresh region, Allocate first attempts to reclaim unused
// regions across all classes; if that is insufficient it returns
// bufferr.ErrBudgetExceeded.
//
// The budget check happens unconditionally at the start of every call,
// not only when the class's free stack is empty: a reclaim pass run only
// on a free-stack miss would never trigger once enough segments have
// been pushed back onto a class's free stack to satisfy every subsequent
// Allocate purely from the stack, even though whole regions sitting
// behind that stack may be fully unused and reclaimable.
func (a *Allocator) Allocate(class SizeClass) (*Segment, error) {
	if a.closed.Load() {
		return nil, bufferr.ErrClosed
	}
	pool := &a.pools[class]

	if a.physicalBytes.Load()+int64(class.Bytes()) > a.budget {
		a.reclaim(a.physicalBytes.Load() + int64(class.Bytes()) - a.budget)
	}

	if seg := pool.free.pop(); seg != nil {
		a.reacquire(seg)
		seg.region.unusedSlices.Add(-1)
		clear(seg.mem)
		leakstart(seg)
		return seg, nil
	}

	pool.mu.Lock()
	defer pool.mu.Unlock()

	// Re-check under the lock: another goroutine may have grown the
	// pool (or reclaimed space) while we waited.
	if seg := pool.free.pop(); seg != nil {
		a.reacquire(seg)
		seg.region.unusedSlices.Add(-1)
		clear(seg.mem)
		leakstart(seg)
		return seg, nil
	}

	need := regionBytes(class)
	if a.physicalBytes.Load()+need > a.budget {
		a.reclaim(a.physicalBytes.Load() + need - a.budget)
		if a.physicalBytes.Load()+need > a.budget {
			return nil, bufferr.ErrBudgetExceeded
		}
	}

	r, segs, err := newRegion(class)
	if err != nil {
		return nil, bufferr.WrapIO("mmap region", err)
	}
	pool.regions = append(pool.regions, r)

	total := a.physicalBytes.Add(need)
	atomicext.MaxInt64(&a.highWater, total)

	// First slice is returned directly; the rest seed the free stack.
	out := segs[0]
	r.unusedSlices.Store(int32(len(segs) - 1))
	for _, s := range segs[1:] {
		pool.free.push(s)
	}
	leakstart(out)
	return out, nil
}

// reacquire undoes a prior decommit of seg's region, if any. reclaim
// drops a fully-unused region's physical backing and subtracts its full
// size from physicalBytes; popping any one of its segments back off the
// free stack brings that backing (and every sibling segment in the
// region) back, so physicalBytes must be credited the same amount back
// here, exactly once per decommit/reacquire pair, guarded by the same
// reclaimed CAS reclaim uses to decommit.
func (a *Allocator) reacquire(seg *Segment) {
	if !seg.region.reclaimed.CompareAndSwap(true, false) {
		return
	}
	n := regionBytes(seg.class)
	total := a.physicalBytes.Add(n)
	atomicext.MaxInt64(&a.highWater, total)
}

// Release returns seg to its class's free list. It does not itself
// decommit memory; physical reclamation happens lazily, either on a
// later Allocate's budget check or via ReleaseAll.
func (a *Allocator) Release(seg *Segment) {
	leakend(seg)
	pool := &a.pools[seg.class]
	seg.region.unusedSlices.Add(1)
	pool.free.push(seg)
}

// reclaim scans every size class for regions that are entirely unused
// and decommits their physical backing, stopping once at least `need`
// bytes have been freed (or all classes have been scanned). It returns
// the number of bytes actually reclaimed. Regions are never unmapped
// here; only their backing pages are dropped, so previously-issued
// Segment handles for slices of a reclaimed region remain valid
// addresses (reading them after a decommit observes zeroed memory,
// consistent with a fresh Allocate).
func (a *Allocator) reclaim(need int64) int64 {
	var freed int64
	for c := range a.pools {
		pool := &a.pools[c]
		pool.mu.Lock()
		for _, r := range pool.regions {
			if freed >= need {
				break
			}
			if r.reclaimed.Load() {
				continue
			}
			if r.unusedSlices.Load() != r.totalSlices {
				continue
			}
			if !r.reclaimed.CompareAndSwap(false, true) {
				continue
			}
			if err := decommitRegion(r.mem); err != nil {
				r.reclaimed.Store(false)
				continue
			}
			n := int64(len(r.mem))
			a.physicalBytes.Add(-n)
			freed += n
		}
		pool.mu.Unlock()
	}
	return freed
}

// ReleaseAll forces a full reclaim pass over every region in every
// class, regardless of the configured budget. Intended for orderly
// buffer manager shutdown, where physical bytes tracked should trend to
// exactly zero rather than whatever the opportunistic per-Allocate
// reclaim happened to leave behind.
func (a *Allocator) ReleaseAll() {
	a.reclaim(a.budget)
}

// Close unmaps every region held by the allocator. After Close, no
// Segment previously issued by this Allocator may be used.
func (a *Allocator) Close() error {
	if !a.closed.CompareAndSwap(false, true) {
		return nil
	}
	var first error
	for c := range a.pools {
		pool := &a.pools[c]
		pool.mu.Lock()
		for _, r := range pool.regions {
			if err := unmapRegion(r.mem); err != nil && first == nil {
				first = err
			}
		}
		pool.regions = nil
		pool.mu.Unlock()
	}
	a.physicalBytes.Store(0)
	if first != nil {
		return bufferr.WrapIO("munmap region", first)
	}
	return nil
}
