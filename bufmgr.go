package bufferpool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirixdb/sirix-go/internal/auxcache"
	"github.com/sirixdb/sirix-go/internal/bufferr"
	"github.com/sirixdb/sirix-go/internal/epoch"
	"github.com/sirixdb/sirix-go/internal/metrics"
	"github.com/sirixdb/sirix-go/internal/page"
	"github.com/sirixdb/sirix-go/internal/pagecache"
	"github.com/sirixdb/sirix-go/internal/segment"
	"github.com/sirixdb/sirix-go/internal/sweep"
	"github.com/sirixdb/sirix-go/internal/til"
	"github.com/sirixdb/sirix-go/internal/versioning"
)

// auxMaxEntries bounds each of the four fixed-size auxiliary caches
// (revision-root, path-summary, names, RBTree nodes) independent of the
// physical budget, per §4.9's weight-scaling rule: only the two
// segment-backed caches scale with budget, and they already do so
// through the allocator's own PhysicalBudgetBytes — there is no
// separate "weight" to compute for them beyond the configured budget
// itself, so no multiplier logic appears here.
const auxMaxEntries = 4096

// Deserializer turns raw backing-store bytes for ref into a fresh leaf
// page allocated from the buffer manager's segment allocator. Symmetric
// to til.Serializer. The on-disk page layout is out of this module's
// scope (§6), so a resource supplies its own at OpenResource.
type Deserializer func(alloc *segment.Allocator, ref PageReference, data []byte) (*page.LeafPage, error)

// BufferManager is the process-wide singleton composing the segment
// allocator, guarded page caches, sweepers, and revision tracker shared
// by every open resource (C9). The first OpenResource call initializes
// it; the last CloseResource tears it down, and a later OpenResource is
// free to initialize a fresh one.
type BufferManager struct {
	cfg     Config
	logger  Logger
	metrics *metrics.Registry
	alloc   *segment.Allocator

	pageCache     *pagecache.Cache
	fragmentCache *pagecache.Cache
	epochs        *epoch.Tracker
	pageSweeper   *sweep.Sweeper
	fragSweeper   *sweep.Sweeper

	mu        sync.Mutex
	resources map[resourceKey]*resourceState
}

type resourceKey struct {
	databaseID uint64
	resourceID uint64
}

type resourceState struct {
	databaseID, resourceID uint64
	cfg                    Config
	reader                 Reader
	writer                 Writer
	deserialize            Deserializer
	locator                FragmentLocator
	strategy               versioning.Strategy
	slotClass              segment.SizeClass

	revisionRoots *auxcache.Cache[int64, []byte]
	pathSummaries *auxcache.Cache[int64, []byte]
	names         *auxcache.Cache[int64, []byte]
	rbtreeNodes   *auxcache.Cache[int64, []byte]

	openHandles int
}

var (
	globalMu sync.Mutex
	global   *BufferManager
)

func newBufferManager(cfg Config, logger Logger) (*BufferManager, error) {
	alloc, err := segment.NewAllocator(cfg.PhysicalBudgetBytes)
	if err != nil {
		return nil, err
	}
	reg := metrics.NewRegistry(cfg.Shards)
	pageCache := pagecache.New(cfg.Shards, reg)
	fragmentCache := pagecache.New(cfg.Shards, reg)
	pageCache.Logger = logger
	fragmentCache.Logger = logger
	epochs := epoch.NewTracker()

	bm := &BufferManager{
		cfg:           cfg,
		logger:        logger,
		metrics:       reg,
		alloc:         alloc,
		pageCache:     pageCache,
		fragmentCache: fragmentCache,
		epochs:        epochs,
		resources:     make(map[resourceKey]*resourceState),
	}
	interval := time.Duration(cfg.SweeperIntervalMS) * time.Millisecond
	bm.pageSweeper = sweep.New(pageCache, interval, epochs.MinActiveRevision)
	bm.fragSweeper = sweep.New(fragmentCache, interval, epochs.MinActiveRevision)
	bm.pageSweeper.Start()
	bm.fragSweeper.Start()
	return bm, nil
}

func (bm *BufferManager) shutdown() {
	bm.pageSweeper.Stop()
	bm.fragSweeper.Stop()
	bm.alloc.ReleaseAll()
	bm.alloc.Close()
}

// ResourceOptions supplies everything about a resource that is out of
// this module's scope to infer: the backing store, the wire format, and
// (for versioned resources) fragment-chain discovery.
type ResourceOptions struct {
	Reader          Reader
	Writer          Writer
	Deserialize     Deserializer
	FragmentLocator FragmentLocator // nil for an unversioned resource
	SlotClass       segment.SizeClass
}

// Handle is the caller's handle on one open (database, resource) pair,
// obtained from OpenResource.
type Handle struct {
	bm       *BufferManager
	resource *resourceState
}

// OpenResource opens (databaseID, resourceID) under cfg, initializing
// the global buffer manager on the very first call in the process.
func OpenResource(databaseID, resourceID uint64, cfg Config, logger Logger, opts ResourceOptions) (*Handle, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if opts.Reader == nil || opts.Writer == nil || opts.Deserialize == nil {
		return nil, fmt.Errorf("bufferpool: OpenResource requires a Reader, Writer, and Deserializer")
	}

	globalMu.Lock()
	if global == nil {
		bm, err := newBufferManager(cfg, logger)
		if err != nil {
			globalMu.Unlock()
			return nil, err
		}
		global = bm
	}
	bm := global
	globalMu.Unlock()

	key := resourceKey{databaseID: databaseID, resourceID: resourceID}
	bm.mu.Lock()
	defer bm.mu.Unlock()
	rs, ok := bm.resources[key]
	if !ok {
		rs = &resourceState{
			databaseID:    databaseID,
			resourceID:    resourceID,
			cfg:           cfg,
			reader:        opts.Reader,
			writer:        opts.Writer,
			deserialize:   opts.Deserialize,
			locator:       opts.FragmentLocator,
			strategy:      strategyFor(cfg),
			slotClass:     opts.SlotClass,
			revisionRoots: auxcache.New[int64, []byte](auxMaxEntries),
			pathSummaries: auxcache.New[int64, []byte](auxMaxEntries),
			names:         auxcache.New[int64, []byte](auxMaxEntries),
			rbtreeNodes:   auxcache.New[int64, []byte](auxMaxEntries),
		}
		bm.resources[key] = rs
	}
	rs.openHandles++
	return &Handle{bm: bm, resource: rs}, nil
}

// CloseResource releases h. Once every handle on a resource has closed,
// its auxiliary caches are dropped; once every resource in the process
// has closed, the global buffer manager itself is torn down (sweepers
// stopped, every segment region unmapped), and the next OpenResource
// call starts fresh.
func CloseResource(h *Handle) {
	bm := h.bm
	key := resourceKey{databaseID: h.resource.databaseID, resourceID: h.resource.resourceID}

	globalMu.Lock()
	defer globalMu.Unlock()
	bm.mu.Lock()
	rs, ok := bm.resources[key]
	if ok {
		rs.openHandles--
		if rs.openHandles <= 0 {
			delete(bm.resources, key)
		}
	}
	empty := len(bm.resources) == 0
	bm.mu.Unlock()

	if empty && global == bm {
		bm.shutdown()
		global = nil
	}
}

func strategyFor(cfg Config) versioning.Strategy {
	switch cfg.VersioningType {
	case VersioningIncremental:
		return versioning.Incremental{}
	case VersioningDifferential:
		return versioning.Differential{}
	case VersioningSlidingSnapshot:
		return versioning.SlidingSnapshot{Window: cfg.SlidingWindow}
	default:
		return versioning.Full{}
	}
}

// BeginRead starts a read transaction pinned at revision: a live
// registration in the revision epoch tracker prevents the sweeper from
// reclaiming any page at or above this revision until the transaction
// is closed.
func (h *Handle) BeginRead(revision int64) *ReadTxn {
	token := h.bm.epochs.Register(h.resource.resourceID, revision)
	return &ReadTxn{
		cursor: cursor{bm: h.bm, resource: h.resource, revision: revision},
		token:  token,
	}
}

// BeginWrite starts a write transaction based on baseRevision, with its
// own exclusive intent log draining the resource's record-page and
// fragment caches on every Modify.
func (h *Handle) BeginWrite(baseRevision int64) *WriteTxn {
	token := h.bm.epochs.Register(h.resource.resourceID, baseRevision)
	log := til.New(h.bm.metrics, h.bm.pageCache, h.bm.fragmentCache)
	return &WriteTxn{
		cursor:       cursor{bm: h.bm, resource: h.resource, revision: baseRevision, til: log},
		token:        token,
		baseRevision: baseRevision,
	}
}

// recordPageLoader returns the pagecache.Loader used for the resource's
// record-page cache: an unversioned resource (no FragmentLocator) loads
// and deserializes a single page directly; a versioned resource locates
// its fragment chain, guards each fragment for the duration of
// combining (a local try-finally scope, per §4.8, independent of any
// cursor's current guard), and combines them via the resource's
// versioning strategy.
func (rs *resourceState) recordPageLoader(bm *BufferManager, revision int64) pagecache.Loader {
	return func(ctx context.Context, ref PageReference) (*page.LeafPage, error) {
		if rs.locator == nil {
			data, err := rs.reader.Load(ctx, ref)
			if err != nil {
				return nil, bufferr.WrapIO("record page load", err)
			}
			return rs.deserialize(bm.alloc, ref, data)
		}

		fragRefs := rs.locator(ref.PageOffset, revision)
		fragments := make([]*page.LeafPage, 0, len(fragRefs))
		for _, fref := range fragRefs {
			fp, err := bm.fragmentCache.GetAndGuard(ctx, fref, rs.fragmentLoader(bm))
			if err != nil {
				for _, held := range fragments {
					held.ReleaseGuard()
				}
				return nil, err
			}
			fragments = append(fragments, fp)
		}

		target := versioning.Target{
			PageKey:   ref.PageOffset,
			Revision:  int32(revision),
			SlotClass: rs.slotClass,
		}
		combined, err := rs.strategy.CombineForRead(bm.alloc, target, fragments)
		for _, held := range fragments {
			held.ReleaseGuard()
		}
		return combined, err
	}
}

func (rs *resourceState) fragmentLoader(bm *BufferManager) pagecache.Loader {
	return func(ctx context.Context, ref PageReference) (*page.LeafPage, error) {
		data, err := rs.reader.Load(ctx, ref)
		if err != nil {
			return nil, bufferr.WrapIO("fragment load", err)
		}
		return rs.deserialize(bm.alloc, ref, data)
	}
}
