package til

import (
	"context"
	"errors"
	"testing"

	"github.com/sirixdb/sirix-go/internal/bufferr"
	"github.com/sirixdb/sirix-go/internal/metrics"
	"github.com/sirixdb/sirix-go/internal/page"
	"github.com/sirixdb/sirix-go/internal/pagecache"
	"github.com/sirixdb/sirix-go/internal/pagekey"
	"github.com/sirixdb/sirix-go/internal/segment"
)

func newTestPage(t *testing.T, alloc *segment.Allocator, pageKey int64, revision int32) *page.LeafPage {
	t.Helper()
	p, err := page.New(alloc, pageKey, revision, segment.Class4K, false, 0)
	if err != nil {
		t.Fatal(err)
	}
	return p
}

// TestPutEvictsFromEveryCache is scenario S4: begin write, modify the
// page at a given key, and immediately after TIL.Put the key must be
// absent from the record-page cache, the record-page-fragment cache,
// and (trivially, since there is only one TIL) the page cache.
func TestPutEvictsFromEveryCache(t *testing.T) {
	alloc, err := segment.NewAllocator(int64(segment.LargestClass.Bytes()) * 4)
	if err != nil {
		t.Fatal(err)
	}
	defer alloc.Close()

	reg := metrics.NewRegistry(4)
	pageCache := pagecache.New(4, reg)
	fragmentCache := pagecache.New(4, reg)

	ref := pagekey.Key{DatabaseID: 1, ResourceID: 2, LogKey: -15, PageOffset: 42}
	fragRef := pagekey.Key{DatabaseID: 1, ResourceID: 2, LogKey: -15, PageOffset: 41}

	// staleCached/staleFrag are the pages the caches hold before the
	// write begins; Put must evict them (and Reset them, since nothing
	// guards them) even though the TIL ends up owning freshly
	// materialized instances rather than these exact ones.
	staleCached := newTestPage(t, alloc, 42, 3)
	staleFrag := newTestPage(t, alloc, 41, 3)

	ctx := context.Background()
	if _, err := pageCache.GetAndGuard(ctx, ref, func(context.Context, pagekey.Key) (*page.LeafPage, error) {
		return staleCached, nil
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := fragmentCache.GetAndGuard(ctx, fragRef, func(context.Context, pagekey.Key) (*page.LeafPage, error) {
		return staleFrag, nil
	}); err != nil {
		t.Fatal(err)
	}
	staleCached.ReleaseGuard()
	staleFrag.ReleaseGuard()

	log := New(reg, pageCache, fragmentCache)
	base := newTestPage(t, alloc, 42, 4)
	modified := newTestPage(t, alloc, 42, 4)
	if err := log.Put(ref, Container{Complete: base, Modified: modified}, []pagekey.Key{fragRef}); err != nil {
		t.Fatal(err)
	}

	if pageCache.Peek(ref) != nil {
		t.Fatal("ref still visible in record-page cache after Put")
	}
	if fragmentCache.Peek(fragRef) != nil {
		t.Fatal("fragment ref still visible in fragment cache after Put")
	}
	c, ok := log.Get(ref)
	if !ok || c.Complete != base || c.Modified != modified {
		t.Fatal("TIL does not own the container after Put")
	}

	log.Close()
}

// fakeCache simulates a cache that fails to actually evict a key,
// exercising the dual-ownership abort path.
type fakeCache struct {
	stillThere *page.LeafPage
}

func (f *fakeCache) Remove(key pagekey.Key, reason metrics.EvictReason) {}
func (f *fakeCache) Peek(key pagekey.Key) *page.LeafPage                { return f.stillThere }

func TestPutDetectsDualOwnership(t *testing.T) {
	alloc, err := segment.NewAllocator(int64(segment.LargestClass.Bytes()) * 4)
	if err != nil {
		t.Fatal(err)
	}
	defer alloc.Close()

	stuck := newTestPage(t, alloc, 42, 1)
	defer stuck.Close()

	reg := metrics.NewRegistry(1)
	log := New(reg, &fakeCache{stillThere: stuck})

	ref := pagekey.Key{DatabaseID: 1, ResourceID: 2, LogKey: -15, PageOffset: 42}
	base := newTestPage(t, alloc, 42, 1)
	defer base.Close()

	err = log.Put(ref, Container{Complete: base, Modified: base}, nil)
	if !errors.Is(err, bufferr.ErrDualOwnership) {
		t.Fatalf("got %v, want ErrDualOwnership", err)
	}
	if log.Len() != 0 {
		t.Fatal("container must not be owned after a dual-ownership abort")
	}
}

type fakeWriter struct {
	fail    map[pagekey.Key]bool
	stored  map[pagekey.Key][]byte
}

func (w *fakeWriter) Store(ctx context.Context, ref pagekey.Key, data []byte) error {
	if w.fail[ref] {
		return errors.New("disk full")
	}
	if w.stored == nil {
		w.stored = make(map[pagekey.Key][]byte)
	}
	w.stored[ref] = data
	return nil
}

func identitySerializer(ref pagekey.Key, p *page.LeafPage) ([]byte, error) {
	return []byte{byte(p.Revision())}, nil
}

// TestCommitDrainTotality exercises invariant 7: after Commit returns
// with no error, the log holds no containers, and the cumulative close
// count equals 2*n minus the number of containers whose Complete and
// Modified were the same instance.
func TestCommitDrainTotality(t *testing.T) {
	alloc, err := segment.NewAllocator(int64(segment.LargestClass.Bytes()) * 4)
	if err != nil {
		t.Fatal(err)
	}
	defer alloc.Close()

	reg := metrics.NewRegistry(1)
	log := New(reg)

	refA := pagekey.Key{ResourceID: 1, PageOffset: 1}
	refB := pagekey.Key{ResourceID: 1, PageOffset: 2}

	sameInstance := newTestPage(t, alloc, 1, 1)
	if err := log.Put(refA, Container{Complete: sameInstance, Modified: sameInstance}, nil); err != nil {
		t.Fatal(err)
	}

	distComplete := newTestPage(t, alloc, 2, 1)
	distModified := newTestPage(t, alloc, 2, 2)
	if err := log.Put(refB, Container{Complete: distComplete, Modified: distModified}, nil); err != nil {
		t.Fatal(err)
	}

	w := &fakeWriter{}
	if err := log.Commit(context.Background(), identitySerializer, w); err != nil {
		t.Fatal(err)
	}

	if log.Len() != 0 {
		t.Fatal("log must be empty after a successful commit")
	}
	if got := log.ClosedTotal(); got != 3 {
		t.Fatalf("closed total = %d, want 3 (1 + 2)", got)
	}
	if !sameInstance.Closed() || !distComplete.Closed() || !distModified.Closed() {
		t.Fatal("every page must be closed after commit")
	}
	if len(w.stored) != 2 {
		t.Fatalf("writer stored %d entries, want 2", len(w.stored))
	}
}

// TestCommitFailureRetainsOwnership: a write failure partway through
// commit must leave the failing container (and anything not yet
// visited) still owned by the TIL, per the commit drain order.
func TestCommitFailureRetainsOwnership(t *testing.T) {
	alloc, err := segment.NewAllocator(int64(segment.LargestClass.Bytes()) * 4)
	if err != nil {
		t.Fatal(err)
	}
	defer alloc.Close()

	reg := metrics.NewRegistry(1)
	log := New(reg)

	ref := pagekey.Key{ResourceID: 1, PageOffset: 1}
	p := newTestPage(t, alloc, 1, 1)
	if err := log.Put(ref, Container{Complete: p, Modified: p}, nil); err != nil {
		t.Fatal(err)
	}

	w := &fakeWriter{fail: map[pagekey.Key]bool{ref: true}}
	if err := log.Commit(context.Background(), identitySerializer, w); err == nil {
		t.Fatal("expected commit to fail")
	}

	if log.Len() != 1 {
		t.Fatal("failed container must remain owned by the TIL")
	}
	if p.Closed() {
		t.Fatal("page must not be closed when its write failed")
	}

	// The caller's rollback path: Close reclaims the segments anyway.
	log.Close()
	if !p.Closed() {
		t.Fatal("Close must reclaim a container left behind by a failed commit")
	}
	if log.Len() != 0 {
		t.Fatal("log must be empty after Close")
	}
}
