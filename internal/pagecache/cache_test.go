package pagecache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/sirixdb/sirix-go/internal/metrics"
	"github.com/sirixdb/sirix-go/internal/page"
	"github.com/sirixdb/sirix-go/internal/pagekey"
	"github.com/sirixdb/sirix-go/internal/segment"
)

func testKey() pagekey.Key {
	return pagekey.Key{DatabaseID: 1, ResourceID: 2, LogKey: 3, PageOffset: 4}
}

// TestGetAndGuardCoalescesLoads reproduces scenario S5: two goroutines
// race a getAndGuard on the same cold key. Exactly one loader call must
// occur; both callers must end up with a guard on the same instance, so
// the instance's guard count is 2 on exit.
func TestGetAndGuardCoalescesLoads(t *testing.T) {
	alloc, err := segment.NewAllocator(int64(segment.LargestClass.Bytes()) * 4)
	if err != nil {
		t.Fatal(err)
	}
	defer alloc.Close()

	c := New(4, metrics.NewRegistry(4))
	key := testKey()

	var loaderCalls atomic.Int64
	release := make(chan struct{})
	loader := func(ctx context.Context, k pagekey.Key) (*page.LeafPage, error) {
		loaderCalls.Add(1)
		<-release
		return page.New(alloc, 42, 1, segment.Class4K, false, 0)
	}

	var wg sync.WaitGroup
	results := make([]*page.LeafPage, 2)
	wg.Add(2)
	for i := 0; i < 2; i++ {
		i := i
		go func() {
			defer wg.Done()
			p, err := c.GetAndGuard(context.Background(), key, loader)
			if err != nil {
				t.Error(err)
				return
			}
			results[i] = p
		}()
	}

	close(release)
	wg.Wait()

	if loaderCalls.Load() != 1 {
		t.Fatalf("loader called %d times, want 1", loaderCalls.Load())
	}
	if results[0] != results[1] {
		t.Fatal("expected both callers to observe the same page instance")
	}
	if got := results[0].GuardCount(); got != 2 {
		t.Fatalf("guard count = %d, want 2", got)
	}
}

func TestGetAndGuardHitPath(t *testing.T) {
	alloc, err := segment.NewAllocator(int64(segment.LargestClass.Bytes()) * 4)
	if err != nil {
		t.Fatal(err)
	}
	defer alloc.Close()

	c := New(4, metrics.NewRegistry(4))
	key := testKey()
	loaderCalls := 0
	loader := func(ctx context.Context, k pagekey.Key) (*page.LeafPage, error) {
		loaderCalls++
		return page.New(alloc, 42, 1, segment.Class4K, false, 0)
	}

	p1, err := c.GetAndGuard(context.Background(), key, loader)
	if err != nil {
		t.Fatal(err)
	}
	p2, err := c.GetAndGuard(context.Background(), key, loader)
	if err != nil {
		t.Fatal(err)
	}
	if p1 != p2 {
		t.Fatal("expected cache hit to return the same instance")
	}
	if loaderCalls != 1 {
		t.Fatalf("loader called %d times, want 1", loaderCalls)
	}
	if got := p1.GuardCount(); got != 2 {
		t.Fatalf("guard count = %d, want 2", got)
	}
}

// TestSweepShardSkipsGuardedPage reproduces the guard half of scenario
// S2: a guarded page with a revision below minActiveRevision survives a
// sweep; once unguarded, the next sweep evicts it.
func TestSweepShardSkipsGuardedPage(t *testing.T) {
	alloc, err := segment.NewAllocator(int64(segment.LargestClass.Bytes()) * 4)
	if err != nil {
		t.Fatal(err)
	}
	defer alloc.Close()

	c := New(4, metrics.NewRegistry(4))
	key := testKey()
	loader := func(ctx context.Context, k pagekey.Key) (*page.LeafPage, error) {
		return page.New(alloc, 42, 5, segment.Class4K, false, 0)
	}

	p, err := c.GetAndGuard(context.Background(), key, loader)
	if err != nil {
		t.Fatal(err)
	}

	minActive := func(resourceID uint64) int64 { return 10 }

	// Round 1: hot bit was set by AcquireGuard, so this round just
	// clears it (second chance) rather than evicting.
	c.SweepShard(int(key.Hash()&uint64(c.NumShards()-1)), minActive)
	if c.Peek(key) == nil {
		t.Fatal("page evicted on its hot round")
	}

	// Round 2: guardCount is still 1 (never released), so it must be
	// skipped even though hot is now clear and revision < minActive.
	c.SweepShard(int(key.Hash()&uint64(c.NumShards()-1)), minActive)
	if c.Peek(key) == nil {
		t.Fatal("guarded page was evicted")
	}

	p.ReleaseGuard()
	c.SweepShard(int(key.Hash()&uint64(c.NumShards()-1)), minActive)
	if c.Peek(key) != nil {
		t.Fatal("page should have been evicted once unguarded")
	}
}
