package bufferpool

import (
	"context"

	"github.com/sirixdb/sirix-go/internal/bufferr"
	"github.com/sirixdb/sirix-go/internal/epoch"
	"github.com/sirixdb/sirix-go/internal/page"
	"github.com/sirixdb/sirix-go/internal/pagecache"
	"github.com/sirixdb/sirix-go/internal/til"
)

// IndexType names which of a resource's indexes a cursor is positioned
// in, used as the direct-mapped key into the cursor's mostRecent slots.
// Revision-root, path-summary, and name pages retain their existing
// layouts and indexing scheme out of this module's scope (§6); IndexType
// only needs to distinguish one such index from another for the
// mostRecent cache.
type IndexType int

const (
	IndexDocument IndexType = iota
	IndexPathSummary
	IndexName
	IndexCAS
	numIndexTypes
)

// FragmentLocator returns, oldest-first, the page references of every
// fragment that must be combined to materialize (pageKey, revision).
// Fragment-chain discovery depends on a resource's revision-root and
// path-summary indexes, which are out of this module's scope (§6); a
// Handle's resource configuration supplies one.
type FragmentLocator func(pageKey int64, revision int64) []PageReference

type mostRecentEntry struct {
	subIndex int64
	page     *page.LeafPage
}

// cursor is the shared guard-discipline core of ReadTxn and WriteTxn:
// at most one active page guard ("current"), released and replaced
// atomically (from the caller's perspective) by every fetch.
type cursor struct {
	bm       *BufferManager
	resource *resourceState
	revision int64
	til      *til.Log // nil for a plain ReadTxn

	mostRecent     [numIndexTypes]mostRecentEntry
	current        *page.LeafPage
	currentRef     PageReference
	currentGuarded bool // false when current came from the TIL (§4.8: no guard transfer)
	closed         bool
}

// fetch implements the fetch path (§4.8). A TIL-owned page for ref
// always wins outright (no cache involvement, no guard transfer). Else
// the page is obtained through the guarded cache, which performs its
// own hit/miss validation internally; the cursor's mostRecent slot for
// idx is updated and the result becomes the new current guard,
// releasing whatever guard the cursor held before.
func (c *cursor) fetch(ctx context.Context, idx IndexType, subIndex int64, ref PageReference, loader pagecache.Loader) (*page.LeafPage, error) {
	if c.closed {
		return nil, bufferr.ErrClosed
	}
	if c.til != nil {
		if container, ok := c.til.Get(ref); ok {
			c.install(ref, container.Modified, false)
			return container.Modified, nil
		}
	}
	p, err := c.bm.pageCache.GetAndGuard(ctx, ref, loader)
	if err != nil {
		return nil, err
	}
	c.mostRecent[idx] = mostRecentEntry{subIndex: subIndex, page: p}
	c.install(ref, p, true)
	return p, nil
}

// install replaces the cursor's current page with p, releasing the
// prior page's guard only if it was actually guarded — a TIL-owned page
// installed via the no-guard-transfer branch of fetch must never reach
// ReleaseGuard, or its guardCount would go negative.
func (c *cursor) install(ref PageReference, p *page.LeafPage, guarded bool) {
	if c.current != nil && c.current != p && c.currentGuarded {
		c.current.ReleaseGuard()
	}
	c.current = p
	c.currentRef = ref
	c.currentGuarded = guarded
}

// mostRecentHit reports whether idx's slot currently records subIndex, purely
// for cursor-discipline observability in tests; fetch's own C3 lookup
// is what actually validates a reused instance (see §4.8 step 2's
// "re-validate by re-acquiring from C3", which GetAndGuard's cache-hit
// path already performs).
func (c *cursor) mostRecentHit(idx IndexType, subIndex int64) bool {
	e := c.mostRecent[idx]
	return e.page != nil && e.subIndex == subIndex
}

func (c *cursor) releaseCurrent() {
	if c.current != nil && c.currentGuarded {
		c.current.ReleaseGuard()
	}
	c.current = nil
	c.currentGuarded = false
}

// ReadTxn is a read-only cursor registered at a fixed revision epoch.
type ReadTxn struct {
	cursor
	token epoch.Token
}

// Fetch retrieves the record page for (idx, subIndex, logKey,
// pageOffset), releasing the transaction's prior guard and acquiring
// the new one. The returned page remains guarded until the next Fetch
// or Close.
func (t *ReadTxn) Fetch(ctx context.Context, idx IndexType, subIndex int64, logKey int32, pageOffset int64) (*page.LeafPage, error) {
	ref := PageReference{DatabaseID: t.resource.databaseID, ResourceID: t.resource.resourceID, LogKey: logKey, PageOffset: pageOffset}
	loader := t.resource.recordPageLoader(t.bm, t.revision)
	return t.fetch(ctx, idx, subIndex, ref, loader)
}

// Revision returns the revision this transaction is reading at.
func (t *ReadTxn) Revision() int64 { return t.revision }

// Close releases the current guard and deregisters this transaction
// from the revision epoch tracker.
func (t *ReadTxn) Close() {
	if t.closed {
		return
	}
	t.releaseCurrent()
	t.bm.epochs.Deregister(t.token)
	t.closed = true
}

// WriteTxn is a single-writer transaction: reads check its own intent
// log first (read-your-writes), and Modify takes exclusive ownership of
// a page for the duration of the transaction.
type WriteTxn struct {
	cursor
	token        epoch.Token
	baseRevision int64
}

// Fetch behaves like ReadTxn.Fetch, but a page this transaction has
// already Modify'd is returned from its own intent log instead of the
// shared cache.
func (t *WriteTxn) Fetch(ctx context.Context, idx IndexType, subIndex int64, logKey int32, pageOffset int64) (*page.LeafPage, error) {
	ref := PageReference{DatabaseID: t.resource.databaseID, ResourceID: t.resource.resourceID, LogKey: logKey, PageOffset: pageOffset}
	loader := t.resource.recordPageLoader(t.bm, t.baseRevision)
	return t.fetch(ctx, idx, subIndex, ref, loader)
}

// Modify takes exclusive ownership of the page named by container under
// ref: it is removed from every cache given to the transaction's intent
// log and is no longer reachable by any other transaction until commit
// or rollback. fragmentRefs names any fragment the container's pages
// were combined from, which is also evicted from the fragment cache.
func (t *WriteTxn) Modify(ref PageReference, container PageContainer, fragmentRefs []PageReference) error {
	if t.closed {
		return bufferr.ErrClosed
	}
	return t.til.Put(ref, container, fragmentRefs)
}

// Commit serializes and stores every modified page via ser and the
// resource's writer, then deregisters from the revision epoch tracker.
// On a write failure the transaction's pages remain owned by the TIL;
// the caller must still call Rollback to reclaim their segments.
func (t *WriteTxn) Commit(ctx context.Context, ser til.Serializer) error {
	if t.closed {
		return bufferr.ErrClosed
	}
	if err := t.til.Commit(ctx, ser, t.resource.writer); err != nil {
		return err
	}
	t.finish()
	return nil
}

// Rollback discards every modified page without writing it out,
// reclaiming segments, then deregisters from the revision epoch
// tracker. Safe to call after a failed Commit.
func (t *WriteTxn) Rollback() {
	t.til.Close()
	t.finish()
}

func (t *WriteTxn) finish() {
	if t.closed {
		return
	}
	t.releaseCurrent()
	t.bm.epochs.Deregister(t.token)
	t.closed = true
}
