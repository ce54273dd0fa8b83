// Package sweep implements the clock sweeper (C4): one background task
// per cache shard that periodically calls pagecache.Cache.SweepShard,
// plus an explicit Kick for out-of-band sweeps triggered by budget
// pressure (a physical high-water mark crossing).
package sweep

import (
	"sync"
	"time"

	"github.com/sirixdb/sirix-go/internal/pagecache"
)

// DefaultInterval is the default sweeper_interval_ms from §6.
const DefaultInterval = 100 * time.Millisecond

// Sweeper drives one clock-sweep task per shard of a pagecache.Cache.
type Sweeper struct {
	cache     *pagecache.Cache
	interval  time.Duration
	minActive pagecache.RevisionLookup

	kicks []chan struct{} // one per shard, so Kick fans out to all of them
	stop  chan struct{}
	wg    sync.WaitGroup
}

// New constructs a Sweeper for cache. minActive supplies the
// minActiveRevision watermark for a resource (normally bound to an
// epoch.Tracker). Call Start to launch the per-shard goroutines.
func New(cache *pagecache.Cache, interval time.Duration, minActive pagecache.RevisionLookup) *Sweeper {
	if interval <= 0 {
		interval = DefaultInterval
	}
	n := cache.NumShards()
	kicks := make([]chan struct{}, n)
	for i := range kicks {
		kicks[i] = make(chan struct{}, 1)
	}
	return &Sweeper{
		cache:     cache,
		interval:  interval,
		minActive: minActive,
		kicks:     kicks,
		stop:      make(chan struct{}),
	}
}

// Start launches one goroutine per shard. Each observes the shutdown
// flag between sweep passes (it finishes its current sweep pass before
// checking for shutdown, never mid-decision on a single entry).
func (s *Sweeper) Start() {
	n := s.cache.NumShards()
	s.wg.Add(n)
	for i := 0; i < n; i++ {
		go s.run(i)
	}
}

func (s *Sweeper) run(shard int) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.cache.SweepShard(shard, s.minActive)
		case <-s.kicks[shard]:
			s.cache.SweepShard(shard, s.minActive)
		}
	}
}

// Kick requests an immediate extra sweep pass on every shard, for
// callers that observe physical memory crossing a high-water mark and
// don't want to wait out the regular interval. Non-blocking per shard:
// if a kick is already pending for a shard it is coalesced rather than
// queued.
func (s *Sweeper) Kick() {
	for _, ch := range s.kicks {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Stop signals every shard goroutine to exit and waits for them to do
// so. Each goroutine only checks for shutdown between sweep passes, so
// Stop may block briefly for an in-progress pass to finish.
func (s *Sweeper) Stop() {
	close(s.stop)
	s.wg.Wait()
}
