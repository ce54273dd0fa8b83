// Package page implements the fixed-capacity key-value leaf page: a
// record container backed by one or two segments from internal/segment,
// carrying its own guard count, version, and second-chance bit so the
// cache and sweeper never need a side table to track this state.
package page

import (
	"encoding/binary"
	"sync/atomic"

	"github.com/sirixdb/sirix-go/internal/bufferr"
	"github.com/sirixdb/sirix-go/internal/segment"
)

// MaxSlots is the fixed record capacity of a leaf page (N in the design
// notes).
const MaxSlots = 256

const headerSize = 4 // uint32 length prefix per slot

// Record is one payload stored in a leaf page, optionally paired with a
// dewey-id ordering key when the resource enables them.
type Record struct {
	Payload []byte
	DeweyID []byte
}

// LeafPage is a fixed-capacity record page. It owns a slot-memory segment
// and, optionally, a dewey-id segment; both are returned to the
// allocator on reset. A LeafPage is safe for concurrent readers once
// published (pages are immutable once cached); writers building a
// TIL-owned page own it exclusively and must not share it across
// goroutines until committed.
type LeafPage struct {
	alloc *segment.Allocator

	pageKey  int64
	revision int32

	slotMem   *segment.Segment
	deweyMem  *segment.Segment
	writeOff  int32 // next free byte in slotMem
	deweyOff  int32 // next free byte in deweyMem
	slotOffs  [MaxSlots]int32
	deweyOffs [MaxSlots]int32

	guardCount atomic.Int32
	version    atomic.Int32
	hot        atomic.Bool
	isClosed   atomic.Bool
}

// New allocates slot memory (and, if withDewey is set, dewey memory of
// deweyClass) from alloc and returns a fresh LeafPage for pageKey/revision
// with every slot empty.
func New(alloc *segment.Allocator, pageKey int64, revision int32, slotClass segment.SizeClass, withDewey bool, deweyClass segment.SizeClass) (*LeafPage, error) {
	slotSeg, err := alloc.Allocate(slotClass)
	if err != nil {
		return nil, err
	}
	var deweySeg *segment.Segment
	if withDewey {
		deweySeg, err = alloc.Allocate(deweyClass)
		if err != nil {
			alloc.Release(slotSeg)
			return nil, err
		}
	}
	lp := &LeafPage{
		alloc:    alloc,
		pageKey:  pageKey,
		revision: revision,
		slotMem:  slotSeg,
		deweyMem: deweySeg,
	}
	for i := range lp.slotOffs {
		lp.slotOffs[i] = -1
		lp.deweyOffs[i] = -1
	}
	return lp, nil
}

func (p *LeafPage) PageKey() int64  { return p.pageKey }
func (p *LeafPage) Revision() int32 { return p.revision }
func (p *LeafPage) Version() int32  { return p.version.Load() }
func (p *LeafPage) Hot() bool       { return p.hot.Load() }
func (p *LeafPage) SetHot()         { p.hot.Store(true) }
func (p *LeafPage) ClearHot()       { p.hot.Store(false) }
func (p *LeafPage) GuardCount() int32 { return p.guardCount.Load() }
func (p *LeafPage) Closed() bool    { return p.isClosed.Load() }

// AcquireGuard increments the guard count and returns the new value.
// Any value >= 1 is the caller's permission to read segments; the
// caller must later call ReleaseGuard exactly once.
func (p *LeafPage) AcquireGuard() int32 {
	p.hot.Store(true)
	return p.guardCount.Add(1)
}

// ReleaseGuard decrements the guard count.
func (p *LeafPage) ReleaseGuard() int32 {
	return p.guardCount.Add(-1)
}

// PutRecord writes rec into slot, which must be in [0, MaxSlots). It is
// only valid to call on a page not yet published to readers (TIL-owned
// pages under construction): there is no internal locking, matching the
// "pages are effectively immutable once cached, single-writer while
// owned by the TIL" concurrency model.
func (p *LeafPage) PutRecord(slot int, rec Record) error {
	if slot < 0 || slot >= MaxSlots {
		return bufferr.ErrInvalidSlot
	}
	need := headerSize + len(rec.Payload)
	if int(p.writeOff)+need > len(p.slotMem.Bytes()) {
		return bufferr.ErrPageFull
	}
	buf := p.slotMem.Bytes()
	binary.LittleEndian.PutUint32(buf[p.writeOff:], uint32(len(rec.Payload)))
	copy(buf[int(p.writeOff)+headerSize:], rec.Payload)
	p.slotOffs[slot] = p.writeOff
	p.writeOff += int32(need)

	if p.deweyMem != nil && rec.DeweyID != nil {
		dneed := headerSize + len(rec.DeweyID)
		if int(p.deweyOff)+dneed > len(p.deweyMem.Bytes()) {
			return bufferr.ErrPageFull
		}
		dbuf := p.deweyMem.Bytes()
		binary.LittleEndian.PutUint32(dbuf[p.deweyOff:], uint32(len(rec.DeweyID)))
		copy(dbuf[int(p.deweyOff)+headerSize:], rec.DeweyID)
		p.deweyOffs[slot] = p.deweyOff
		p.deweyOff += int32(dneed)
	}
	return nil
}

// GetRecord decodes the record at slot, or returns (nil, nil) if the
// slot is empty. Before interpreting bytes it validates that the
// recorded offset and decoded length fit within the segment; a
// violation signals a page-reuse race (the caller read through a stale
// reference after a reset) and is reported as ErrCorruptPage.
func (p *LeafPage) GetRecord(slot int) (*Record, error) {
	if slot < 0 || slot >= MaxSlots {
		return nil, bufferr.ErrInvalidSlot
	}
	off := p.slotOffs[slot]
	if off < 0 {
		return nil, nil
	}
	payload, err := readSlot(p.slotMem.Bytes(), off)
	if err != nil {
		return nil, err
	}
	rec := &Record{Payload: payload}
	if p.deweyMem != nil {
		doff := p.deweyOffs[slot]
		if doff >= 0 {
			dewey, err := readSlot(p.deweyMem.Bytes(), doff)
			if err != nil {
				return nil, err
			}
			rec.DeweyID = dewey
		}
	}
	return rec, nil
}

func readSlot(seg []byte, off int32) ([]byte, error) {
	if off < 0 || int(off)+headerSize > len(seg) {
		return nil, bufferr.ErrCorruptPage
	}
	length := binary.LittleEndian.Uint32(seg[off:])
	start := int(off) + headerSize
	end := start + int(length)
	if end > len(seg) || end < start {
		return nil, bufferr.ErrCorruptPage
	}
	return seg[start:end], nil
}

// Clear empties every slot without returning segments, for in-place
// reuse ahead of a fresh write pass (distinct from Reset, which also
// releases segments and bumps version).
func (p *LeafPage) Clear() {
	for i := range p.slotOffs {
		p.slotOffs[i] = -1
		p.deweyOffs[i] = -1
	}
	p.writeOff = 0
	p.deweyOff = 0
}

// Reset returns both segments to the allocator, increments version,
// clears every slot offset, clears the guard count, and marks the page
// closed. Called by the sweeper on eviction or by the pool on reuse.
// Observers holding a snapshot of the prior version will see the bump
// and know any raw reference they hold is stale.
func (p *LeafPage) Reset() {
	if p.slotMem != nil {
		p.alloc.Release(p.slotMem)
		p.slotMem = nil
	}
	if p.deweyMem != nil {
		p.alloc.Release(p.deweyMem)
		p.deweyMem = nil
	}
	p.Clear()
	p.guardCount.Store(0)
	p.hot.Store(false)
	p.version.Add(1)
	p.isClosed.Store(true)
}

// Close is the last line of defense against closing a guarded page: if
// the guard count is nonzero it is a no-op (the sweeper must never reach
// this state; callers that hit it should log a warning through their own
// channel, since this package has no logger dependency of its own).
// It returns true if the page was actually reset.
func (p *LeafPage) Close() bool {
	if p.guardCount.Load() > 0 {
		return false
	}
	if p.isClosed.Load() {
		return false
	}
	p.Reset()
	return true
}
