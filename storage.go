package bufferpool

import (
	"context"
	"fmt"

	"github.com/klauspost/compress/s2"
)

// Reader is the backing-store contract a resource's loader reads
// through: Load fetches the raw, on-disk bytes for ref. Deserialization,
// reference fixup (injecting databaseId/resourceId), and fragment
// combination happen above this interface, in the fetch path (C8).
//
// Context is threaded through (unlike spec.md's language-agnostic
// Load(ref) shape) to match the ambient convention used by every other
// blocking call in this module (internal/pagecache.Loader,
// internal/til.Writer): the only suspension points are syscalls,
// loader I/O, and fragment I/O, and all of them accept a context here.
type Reader interface {
	Load(ctx context.Context, ref PageReference) ([]byte, error)
}

// Writer is the backing-store contract the transaction intent log
// drains through on commit: Store durably persists data under ref.
type Writer interface {
	Store(ctx context.Context, ref PageReference, data []byte) error
}

// CompressingWriter wraps a Writer so committed page bytes are
// compressed in front of storage, without the transaction intent log
// itself knowing about compression. Grounded on the teacher's compr
// package's Compressor/Decompressor interface shape, narrowed to the
// one algorithm (s2) the teacher picks for latency-sensitive paths
// rather than its higher-ratio, higher-latency zstd option.
type CompressingWriter struct {
	Inner Writer
}

func (w CompressingWriter) Store(ctx context.Context, ref PageReference, data []byte) error {
	compressed := s2.Encode(nil, data)
	return w.Inner.Store(ctx, ref, compressed)
}

// CompressingReader is the read-side counterpart: it decompresses bytes
// read through Inner before returning them.
type CompressingReader struct {
	Inner Reader
}

func (r CompressingReader) Load(ctx context.Context, ref PageReference) ([]byte, error) {
	compressed, err := r.Inner.Load(ctx, ref)
	if err != nil {
		return nil, err
	}
	decoded, err := s2.Decode(nil, compressed)
	if err != nil {
		return nil, fmt.Errorf("bufferpool: s2 decompress: %w", err)
	}
	return decoded, nil
}
