package versioning

import (
	"testing"

	"github.com/sirixdb/sirix-go/internal/page"
	"github.com/sirixdb/sirix-go/internal/segment"
)

func newFragment(t *testing.T, alloc *segment.Allocator, revision int32, slot int, payload string) *page.LeafPage {
	t.Helper()
	p, err := page.New(alloc, 7, revision, segment.Class4K, false, 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := p.PutRecord(slot, page.Record{Payload: []byte(payload)}); err != nil {
		t.Fatal(err)
	}
	return p
}

func testTarget() Target {
	return Target{PageKey: 7, Revision: 10, SlotClass: segment.Class4K}
}

func TestFullCombineUsesLatestOnly(t *testing.T) {
	alloc, err := segment.NewAllocator(int64(segment.LargestClass.Bytes()) * 8)
	if err != nil {
		t.Fatal(err)
	}
	defer alloc.Close()

	f1 := newFragment(t, alloc, 8, 0, "old")
	f2 := newFragment(t, alloc, 9, 0, "new")

	combined, err := Full{}.CombineForRead(alloc, testTarget(), []*page.LeafPage{f1, f2})
	if err != nil {
		t.Fatal(err)
	}
	rec, err := combined.GetRecord(0)
	if err != nil {
		t.Fatal(err)
	}
	if string(rec.Payload) != "new" {
		t.Fatalf("got %q, want %q", rec.Payload, "new")
	}
}

func TestIncrementalCombineAppliesInOrder(t *testing.T) {
	alloc, err := segment.NewAllocator(int64(segment.LargestClass.Bytes()) * 8)
	if err != nil {
		t.Fatal(err)
	}
	defer alloc.Close()

	f1 := newFragment(t, alloc, 8, 0, "a")
	f2 := newFragment(t, alloc, 9, 1, "b")

	combined, err := Incremental{}.CombineForRead(alloc, testTarget(), []*page.LeafPage{f1, f2})
	if err != nil {
		t.Fatal(err)
	}
	r0, _ := combined.GetRecord(0)
	r1, _ := combined.GetRecord(1)
	if string(r0.Payload) != "a" || string(r1.Payload) != "b" {
		t.Fatalf("got r0=%v r1=%v", r0, r1)
	}
}

// TestSlidingSnapshotNoIntermediateLeak is scenario S3: combine fragments
// for (pageKey=7, revision=10) with 3 fragments present under window=3.
// The intermediate page the strategy builds internally must be closed
// before CombineForModification returns, so physical bytes tracked by
// the allocator must not grow across repeated calls once warmed up.
func TestSlidingSnapshotNoIntermediateLeak(t *testing.T) {
	alloc, err := segment.NewAllocator(int64(segment.LargestClass.Bytes()) * 8)
	if err != nil {
		t.Fatal(err)
	}
	defer alloc.Close()

	strat := SlidingSnapshot{Window: 3}

	run := func() {
		f1 := newFragment(t, alloc, 8, 0, "a")
		f2 := newFragment(t, alloc, 9, 1, "b")
		f3 := newFragment(t, alloc, 10, 2, "c")

		complete, modified, err := strat.CombineForModification(alloc, testTarget(), []*page.LeafPage{f1, f2, f3})
		if err != nil {
			t.Fatal(err)
		}
		if complete != modified {
			t.Fatal("expected complete and modified to be the same instance")
		}
		for slot, want := range map[int]string{0: "a", 1: "b", 2: "c"} {
			rec, err := complete.GetRecord(slot)
			if err != nil {
				t.Fatal(err)
			}
			if rec == nil || string(rec.Payload) != want {
				t.Fatalf("slot %d = %v, want %q", slot, rec, want)
			}
		}

		f1.Close()
		f2.Close()
		f3.Close()
		complete.Close()
	}

	run()
	baseline := alloc.PhysicalBytes()
	for i := 0; i < 20; i++ {
		run()
	}
	if got := alloc.PhysicalBytes(); got != baseline {
		t.Fatalf("physical bytes grew from %d to %d across repeated combines: intermediate leak", baseline, got)
	}
}
