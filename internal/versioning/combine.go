package versioning

import (
	"github.com/sirixdb/sirix-go/internal/page"
	"github.com/sirixdb/sirix-go/internal/segment"
)

// Target describes the materialization a strategy is producing: the
// logical page key/revision and the segment shape of the output page.
type Target struct {
	PageKey    int64
	Revision   int32
	SlotClass  segment.SizeClass
	WithDewey  bool
	DeweyClass segment.SizeClass
}

// Strategy is the per-resource versioning algorithm selected by
// versioning_type (§6). Each strategy reconstructs a page from a
// fragment chain ordered oldest-first.
type Strategy interface {
	CombineForRead(alloc *segment.Allocator, target Target, fragments []*page.LeafPage) (*page.LeafPage, error)
	CombineForModification(alloc *segment.Allocator, target Target, fragments []*page.LeafPage) (complete, modified *page.LeafPage, err error)
}

// combineInto applies fragments in order onto a freshly allocated page:
// each fragment's non-empty slots overwrite whatever a later fragment in
// the list has not already overwritten on top of it (later in the
// argument list wins), mirroring "apply fragments in order".
func combineInto(alloc *segment.Allocator, target Target, fragments []*page.LeafPage) (*page.LeafPage, error) {
	out, err := page.New(alloc, target.PageKey, target.Revision, target.SlotClass, target.WithDewey, target.DeweyClass)
	if err != nil {
		return nil, err
	}
	for _, frag := range fragments {
		for slot := 0; slot < page.MaxSlots; slot++ {
			rec, err := frag.GetRecord(slot)
			if err != nil {
				out.Close()
				return nil, err
			}
			if rec != nil {
				if err := out.PutRecord(slot, *rec); err != nil {
					out.Close()
					return nil, err
				}
			}
		}
	}
	return out, nil
}

// Full: the latest fragment is the complete page; older fragments are
// ignored on read. Modification reuses the same materialized instance
// as both complete and modified.
type Full struct{}

func (Full) CombineForRead(alloc *segment.Allocator, target Target, fragments []*page.LeafPage) (*page.LeafPage, error) {
	if len(fragments) == 0 {
		return page.New(alloc, target.PageKey, target.Revision, target.SlotClass, target.WithDewey, target.DeweyClass)
	}
	return combineInto(alloc, target, fragments[len(fragments)-1:])
}

func (s Full) CombineForModification(alloc *segment.Allocator, target Target, fragments []*page.LeafPage) (*page.LeafPage, *page.LeafPage, error) {
	complete, err := s.CombineForRead(alloc, target, fragments)
	if err != nil {
		return nil, nil, err
	}
	return complete, complete, nil
}

// Incremental: read combines every fragment since the last full dump
// (the caller is responsible for passing exactly that window),
// applied in order; modification reuses the combined page as both
// members.
type Incremental struct{}

func (Incremental) CombineForRead(alloc *segment.Allocator, target Target, fragments []*page.LeafPage) (*page.LeafPage, error) {
	return combineInto(alloc, target, fragments)
}

func (s Incremental) CombineForModification(alloc *segment.Allocator, target Target, fragments []*page.LeafPage) (*page.LeafPage, *page.LeafPage, error) {
	complete, err := s.CombineForRead(alloc, target, fragments)
	if err != nil {
		return nil, nil, err
	}
	return complete, complete, nil
}

// Differential: read combines the latest full dump (fragments[0]) with
// the latest differential fragment (fragments[len-1]); modification
// likewise.
type Differential struct{}

func (Differential) CombineForRead(alloc *segment.Allocator, target Target, fragments []*page.LeafPage) (*page.LeafPage, error) {
	if len(fragments) == 0 {
		return page.New(alloc, target.PageKey, target.Revision, target.SlotClass, target.WithDewey, target.DeweyClass)
	}
	if len(fragments) == 1 {
		return combineInto(alloc, target, fragments)
	}
	pair := []*page.LeafPage{fragments[0], fragments[len(fragments)-1]}
	return combineInto(alloc, target, pair)
}

func (s Differential) CombineForModification(alloc *segment.Allocator, target Target, fragments []*page.LeafPage) (*page.LeafPage, *page.LeafPage, error) {
	complete, err := s.CombineForRead(alloc, target, fragments)
	if err != nil {
		return nil, nil, err
	}
	return complete, complete, nil
}

// SlidingSnapshot combines fragments within a sliding window ending at
// the target revision. Unlike the other three strategies, its
// CombineForModification builds an intermediate page while assembling
// the window before producing the final materialization (CombineForRead
// combines the window directly); that intermediate is tracked in a scratch set
// and unconditionally closed unless explicitly kept, which is what
// makes the "temporary page leaks its segments" defect impossible here.
type SlidingSnapshot struct {
	Window int
}

func (s SlidingSnapshot) window(fragments []*page.LeafPage) []*page.LeafPage {
	w := s.Window
	if w <= 0 || w > len(fragments) {
		w = len(fragments)
	}
	return fragments[len(fragments)-w:]
}

func (s SlidingSnapshot) CombineForRead(alloc *segment.Allocator, target Target, fragments []*page.LeafPage) (*page.LeafPage, error) {
	return combineInto(alloc, target, s.window(fragments))
}

func (s SlidingSnapshot) CombineForModification(alloc *segment.Allocator, target Target, fragments []*page.LeafPage) (*page.LeafPage, *page.LeafPage, error) {
	win := s.window(fragments)
	sc := newScratch()
	defer sc.closeAll()

	if len(win) == 0 {
		final, err := sc.track(page.New(alloc, target.PageKey, target.Revision, target.SlotClass, target.WithDewey, target.DeweyClass))
		if err != nil {
			return nil, nil, err
		}
		sc.keepPage(final)
		return final, final, nil
	}

	// Materialize the window minus its most recent fragment as an
	// intermediate, then fold the most recent fragment on top of it to
	// produce the final page. The intermediate is never returned to the
	// caller and must be closed once the final page is built.
	intermediate, err := sc.track(combineInto(alloc, target, win[:len(win)-1]))
	if err != nil {
		return nil, nil, err
	}

	final, err := sc.track(combineInto(alloc, target, []*page.LeafPage{intermediate, win[len(win)-1]}))
	if err != nil {
		return nil, nil, err
	}
	sc.keepPage(final)
	return final, final, nil
}
