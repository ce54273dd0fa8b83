package bufferpool

import (
	"github.com/sirixdb/sirix-go/internal/page"
	"github.com/sirixdb/sirix-go/internal/pagekey"
	"github.com/sirixdb/sirix-go/internal/til"
)

// PageReference is the composite identifier naming every page-addressable
// entity: database, resource, log key, and on-disk page offset. Value
// equality is by the full composite key; it is the cache key throughout
// the buffer pool (internal/pagekey.Key, re-exported here since it is the
// public shape callers construct).
type PageReference = pagekey.Key

// PageContainer pairs the fully materialized base page with the page
// capturing uncommitted changes, used only inside a WriteTxn's intent
// log. When the versioning strategy produces them as the same instance,
// closing the container closes that instance exactly once.
type PageContainer = til.Container

// Record is one slot's worth of payload (and, for document-ordered
// indexes, its Dewey ID) inside a leaf page.
type Record = page.Record
