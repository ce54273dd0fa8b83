// Package versioning implements the four fragment-combination strategies
// (C6): Full, Incremental, Differential, and SlidingSnapshot.
package versioning

import "github.com/sirixdb/sirix-go/internal/page"

// scratch tracks every intermediate leaf page a strategy allocates while
// combining fragments. A strategy must call keepPage on whichever pages
// end up in its returned PageContainer; closeAll (deferred by
// SlidingSnapshot.CombineForModification) closes everything left
// untracked-as-kept, guaranteeing the "unbounded segment leak" defect
// described for sliding-snapshot combining is structurally impossible
// rather than merely disciplined-away.
//
// Adapted from the teacher's vm.slab bump-allocator-over-fixed-pages:
// slab tracks raw pages and unconditionally drops everything on
// reset()/rewind(); scratch tracks whole leaf pages (each already
// carrying its own segments) and drops everything not explicitly kept.
type scratch struct {
	pages []*page.LeafPage
	keep  map[*page.LeafPage]bool
}

func newScratch() *scratch {
	return &scratch{keep: make(map[*page.LeafPage]bool)}
}

// track registers p as an intermediate allocated by the strategy and
// returns p unchanged, so callers can write `p, err := sc.track(page.New(...))`.
func (s *scratch) track(p *page.LeafPage, err error) (*page.LeafPage, error) {
	if err != nil {
		return nil, err
	}
	s.pages = append(s.pages, p)
	return p, nil
}

// keepPage marks p as part of the final result, exempting it from closeAll.
func (s *scratch) keepPage(p *page.LeafPage) {
	s.keep[p] = true
}

// closeAll closes every tracked page not marked kept. Safe to call
// multiple times; safe to call when every page was kept (no-op).
func (s *scratch) closeAll() {
	for _, p := range s.pages {
		if !s.keep[p] {
			p.Close()
		}
	}
}
