package bufferpool

import "github.com/sirixdb/sirix-go/internal/bufferr"

// Re-exported sentinel errors (§7's taxonomy): callers outside this
// module match on these with errors.Is/errors.As rather than reaching
// into internal/bufferr directly.
var (
	ErrBudgetExceeded = bufferr.ErrBudgetExceeded
	ErrFrameReused    = bufferr.ErrFrameReused
	ErrCorruptPage    = bufferr.ErrCorruptPage
	ErrDualOwnership  = bufferr.ErrDualOwnership
	ErrClosed         = bufferr.ErrClosed
	ErrPageFull       = bufferr.ErrPageFull
	ErrInvalidSlot    = bufferr.ErrInvalidSlot
)

// IoError is returned when a Reader or Writer call fails; Unwrap exposes
// the underlying error for errors.Is/errors.As.
type IoError = bufferr.IoError
