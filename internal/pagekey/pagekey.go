// Package pagekey defines the composite identifier used as the cache key
// throughout the buffer pool, plus the shard-hash function the guarded
// cache and sweeper use to place it.
package pagekey

import (
	"encoding/binary"

	"github.com/dchest/siphash"
)

// Key is the composite identifier naming every page-addressable entity:
// (databaseId, resourceId, logKey, pageOffset). Database and resource IDs
// are allocated once at database creation and propagated by the reader
// into every reference during deserialization; only pageOffset is
// persisted on disk.
type Key struct {
	DatabaseID uint64
	ResourceID uint64
	LogKey     int32
	PageOffset int64
}

// shardSeed0/shardSeed1 are fixed siphash keys. They need not be secret
// (this hash only selects a shard, it is not used for any
// security-sensitive purpose) but must be stable across process restarts
// so that tests exercising a specific shard are deterministic.
const (
	shardSeed0 = 0x736972697864622d // "sirixdb-"
	shardSeed1 = 0x7061676b65792d2d // "pagkey--"
)

// Hash returns a siphash-2-4 digest of k, used by the guarded cache and
// sweeper to pick a shard (teacher's row-partitioning hash, vm/interphash.go,
// applied here to a fixed-width composite key instead of row data).
func (k Key) Hash() uint64 {
	var buf [32]byte
	binary.LittleEndian.PutUint64(buf[0:8], k.DatabaseID)
	binary.LittleEndian.PutUint64(buf[8:16], k.ResourceID)
	binary.LittleEndian.PutUint32(buf[16:20], uint32(k.LogKey))
	binary.LittleEndian.PutUint64(buf[20:28], uint64(k.PageOffset))
	return siphash.Hash(shardSeed0, shardSeed1, buf[:28])
}
