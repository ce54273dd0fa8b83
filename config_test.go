package bufferpool

import "testing"

func TestDefaultConfigValidates(t *testing.T) {
	if err := DefaultConfig().validate(); err != nil {
		t.Fatal(err)
	}
}

func TestLoadConfigFillsDefaults(t *testing.T) {
	cfg, err := LoadConfig([]byte("shards: 16\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Shards != 16 {
		t.Fatalf("shards = %d, want 16", cfg.Shards)
	}
	if cfg.PhysicalBudgetBytes != DefaultConfig().PhysicalBudgetBytes {
		t.Fatal("expected default budget to survive a partial document")
	}
}

func TestLoadConfigRejectsBadBudget(t *testing.T) {
	_, err := LoadConfig([]byte("physical_budget_bytes: 12345\n"))
	if err == nil {
		t.Fatal("expected an error for a budget that is not a multiple of the largest size class")
	}
}

func TestLoadConfigRejectsNonPowerOfTwoShards(t *testing.T) {
	_, err := LoadConfig([]byte("shards: 100\n"))
	if err == nil {
		t.Fatal("expected an error for a non-power-of-two shard count")
	}
}

func TestLoadConfigRejectsIncompleteSizeClasses(t *testing.T) {
	_, err := LoadConfig([]byte("size_classes: [\"4K\", \"8K\"]\n"))
	if err == nil {
		t.Fatal("expected an error for a size_classes list missing entries")
	}
}

func TestLoadConfigRejectsSlidingSnapshotWithoutWindow(t *testing.T) {
	_, err := LoadConfig([]byte("versioning_type: SlidingSnapshot\n"))
	if err == nil {
		t.Fatal("expected an error for SlidingSnapshot without sliding_window")
	}
}

func TestLoadConfigAcceptsSlidingSnapshotWithWindow(t *testing.T) {
	cfg, err := LoadConfig([]byte("versioning_type: SlidingSnapshot\nsliding_window: 5\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.SlidingWindow != 5 {
		t.Fatalf("sliding_window = %d, want 5", cfg.SlidingWindow)
	}
}
