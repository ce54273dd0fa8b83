package auxcache

import "testing"

func TestPutGetRoundTrip(t *testing.T) {
	c := New[string, int](4)
	c.Put("a", 1)
	c.Put("b", 2)
	if v, ok := c.Get("a"); !ok || v != 1 {
		t.Fatalf("get a = %v, %v", v, ok)
	}
	if c.Len() != 2 {
		t.Fatalf("len = %d, want 2", c.Len())
	}
}

func TestEvictsOldestOnCapacity(t *testing.T) {
	c := New[string, int](3)
	c.Put("a", 1)
	c.Put("b", 2)
	c.Put("c", 3)
	// touch a and b so c is the oldest untouched entry
	c.Get("a")
	c.Get("b")
	c.Put("d", 4)

	if _, ok := c.Get("c"); ok {
		t.Fatal("expected c to have been evicted as the oldest entry")
	}
	if _, ok := c.Get("a"); !ok {
		t.Fatal("a should still be present")
	}
	if _, ok := c.Get("d"); !ok {
		t.Fatal("d should be present")
	}
	if c.Len() != 3 {
		t.Fatalf("len = %d, want 3", c.Len())
	}
}

func TestUpdateExistingKeyDoesNotEvict(t *testing.T) {
	c := New[int, string](2)
	c.Put(1, "x")
	c.Put(2, "y")
	c.Put(1, "x-updated")
	if c.Len() != 2 {
		t.Fatalf("len = %d, want 2", c.Len())
	}
	if v, _ := c.Get(1); v != "x-updated" {
		t.Fatalf("got %q, want x-updated", v)
	}
	if _, ok := c.Get(2); !ok {
		t.Fatal("2 should still be present")
	}
}

// TestSecondEvictionUsesLeftoverCandidates checks that the first eviction
// fills the candidate list from a full scan, and that the second eviction
// pops the next-oldest entry from what that fill left behind (no rescan)
// and still picks the correct oldest entry.
func TestSecondEvictionUsesLeftoverCandidates(t *testing.T) {
	c := New[int, int](5)
	for i := 0; i < 5; i++ {
		c.Put(i, i*10)
	}
	// age order currently: 0,1,2,3,4 (0 oldest)
	c.Put(5, 50) // evicts 0
	if _, ok := c.Get(0); ok {
		t.Fatal("expected 0 to be evicted")
	}
	c.Put(6, 60) // evicts 1
	if _, ok := c.Get(1); ok {
		t.Fatal("expected 1 to be evicted")
	}
	if c.Len() != 5 {
		t.Fatalf("len = %d, want 5", c.Len())
	}
}
