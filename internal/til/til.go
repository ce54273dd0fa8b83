// Package til implements the transaction intent log (C7): the exclusive
// owner of a write transaction's modified leaf pages between begin and
// commit/rollback. A page is never simultaneously reachable through a
// guarded page cache and through a TIL; put() enforces that by draining
// every cache the TIL was constructed with before taking ownership, and
// aborting with bufferr.ErrDualOwnership if the key is somehow still
// there afterwards.
//
// There is no direct teacher analog for an MVCC writer-side intent log;
// the package is structured in the teacher's general idiom (sentinel
// errors from internal/bufferr, an atomic counter for residual-bytes
// observability) rather than grounded on one specific teacher file.
package til

import (
	"context"
	"sync"

	"github.com/sirixdb/sirix-go/internal/bufferr"
	"github.com/sirixdb/sirix-go/internal/metrics"
	"github.com/sirixdb/sirix-go/internal/page"
	"github.com/sirixdb/sirix-go/internal/pagekey"
)

// Container pairs the fully materialized base page with the page
// capturing uncommitted changes. When a versioning strategy produced
// them as the same instance, Modified == Complete and the pair must be
// closed exactly once.
type Container struct {
	Complete *page.LeafPage
	Modified *page.LeafPage
}

// close closes both members, skipping Modified when it is the same
// instance as Complete. Returns the number of LeafPage.Close calls made
// (1 or 2), for drain-totality bookkeeping.
func (c Container) close() int {
	c.Complete.Close()
	if c.Modified != c.Complete {
		c.Modified.Close()
		return 2
	}
	return 1
}

// evictable is the subset of pagecache.Cache's surface the TIL needs to
// drain a key from a cache and verify it is actually gone.
type evictable interface {
	Remove(key pagekey.Key, reason metrics.EvictReason)
	Peek(key pagekey.Key) *page.LeafPage
}

// Serializer turns a complete page into the bytes stored by the backing
// writer during commit.
type Serializer func(ref pagekey.Key, p *page.LeafPage) ([]byte, error)

// Writer is the minimal backing-store contract the TIL needs to drain
// itself on commit (C11, restricted to the key shape the TIL already
// works with internally).
type Writer interface {
	Store(ctx context.Context, ref pagekey.Key, data []byte) error
}

// Log is one write transaction's exclusive store of modified pages.
type Log struct {
	mu      sync.Mutex
	entries map[pagekey.Key]Container
	caches  []evictable
	metrics *metrics.Registry

	closedTotal int
}

// New constructs an empty Log. caches lists every cache that must be
// drained of a key before the TIL takes exclusive ownership of it: the
// record-page cache, the record-page-fragment cache, and any sibling
// page cache the resource maintains.
func New(reg *metrics.Registry, caches ...evictable) *Log {
	return &Log{
		entries: make(map[pagekey.Key]Container),
		caches:  caches,
		metrics: reg,
	}
}

// Put takes exclusive ownership of container under ref. fragmentRefs
// names every fragment the container's pages were combined from, which
// must also be evicted from the fragment cache so a concurrent reader
// cannot reconstruct the pre-modification page from stale fragments.
//
// Put first removes ref and every fragment ref from every cache the Log
// was constructed with, then checks that ref is actually gone from all
// of them; if it is still visible anywhere (a caller bug, e.g. a
// concurrent insert racing the drain) it returns bufferr.ErrDualOwnership
// without taking ownership.
func (l *Log) Put(ref pagekey.Key, container Container, fragmentRefs []pagekey.Key) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, c := range l.caches {
		c.Remove(ref, metrics.EvictExplicit)
		for _, fr := range fragmentRefs {
			c.Remove(fr, metrics.EvictExplicit)
		}
	}
	for _, c := range l.caches {
		if c.Peek(ref) != nil {
			return bufferr.ErrDualOwnership
		}
	}

	l.entries[ref] = container
	return nil
}

// Get returns the container owned under ref, if any. O(1).
func (l *Log) Get(ref pagekey.Key) (Container, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.entries[ref]
	return c, ok
}

// Len reports the number of containers currently owned.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Commit serializes and stores every owned container's Complete page via
// ser and w, closing each container immediately after its bytes are
// durably stored. If a store fails partway through, the containers
// written so far are gone from the log (closed, segments reclaimed) and
// every remaining container, including the one that just failed, is
// still owned by the TIL: the caller must invoke Close to roll the rest
// back and reclaim their segments.
func (l *Log) Commit(ctx context.Context, ser Serializer, w Writer) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for ref, c := range l.entries {
		data, err := ser(ref, c.Complete)
		if err != nil {
			return bufferr.WrapIO("til commit serialize", err)
		}
		if err := w.Store(ctx, ref, data); err != nil {
			return bufferr.WrapIO("til commit store", err)
		}
		l.closedTotal += c.close()
		delete(l.entries, ref)
	}
	if l.metrics != nil {
		l.metrics.SetTILResidualBytes(0)
	}
	return nil
}

// Close discards every owned container without writing it out (rollback
// path), closing both members of each and reclaiming their segments.
func (l *Log) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()

	for ref, c := range l.entries {
		l.closedTotal += c.close()
		delete(l.entries, ref)
	}
}

// ClosedTotal returns the cumulative number of LeafPage.Close calls this
// Log has made across every Commit/Close so far, for drain-totality
// assertions: it must equal 2*n minus the number of containers whose
// Complete and Modified were the same instance, for n containers ever
// committed or closed.
func (l *Log) ClosedTotal() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closedTotal
}
