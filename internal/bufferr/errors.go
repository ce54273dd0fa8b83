// Package bufferr defines the sentinel error taxonomy shared by every
// component of the buffer pool, so callers can errors.Is/errors.As across
// package boundaries instead of comparing package-local types.
package bufferr

import "errors"

// ErrBudgetExceeded is returned by the segment allocator when granting a
// request would exceed the configured physical budget even after
// reclaiming from fully-unused regions. Recoverable by retrying after the
// sweeper has made progress; fatal for the current transaction otherwise.
var ErrBudgetExceeded = errors.New("bufferpool: physical budget exceeded")

// ErrFrameReused is returned when a caller observes that a page's version
// no longer matches the version it last saw, meaning the frame backing the
// page was reset and possibly reused by another page. Not recoverable
// locally: the caller must re-fetch through the guarded cache.
var ErrFrameReused = errors.New("bufferpool: page frame was reused")

// ErrCorruptPage is returned when a slot's recorded offset and length do
// not fit within the owning segment. Fatal for the current operation; the
// page is marked poisoned and removed from the cache.
var ErrCorruptPage = errors.New("bufferpool: corrupt page: slot bounds violation")

// ErrDualOwnership is raised when the transaction intent log discovers
// that a key it is about to take exclusive ownership of is still present
// in the guarded cache after the drain step. This indicates a programming
// bug, not a recoverable runtime condition.
var ErrDualOwnership = errors.New("bufferpool: page present in both cache and intent log")

// ErrClosed is returned by operations attempted on a handle, transaction,
// or manager that has already been closed.
var ErrClosed = errors.New("bufferpool: use after close")

// ErrPageFull is returned by putRecord when a leaf page's slot memory has
// no room left for another record.
var ErrPageFull = errors.New("bufferpool: leaf page has no free slot memory")

// ErrInvalidSlot is returned when a slot index is outside [0, N).
var ErrInvalidSlot = errors.New("bufferpool: slot index out of range")

// IoError wraps an error encountered while reading or writing page bytes
// through the backing Reader/Writer contract.
type IoError struct {
	Op  string
	Err error
}

func (e *IoError) Error() string { return "bufferpool: io error during " + e.Op + ": " + e.Err.Error() }

func (e *IoError) Unwrap() error { return e.Err }

// WrapIO wraps err (if non-nil) as an *IoError tagged with the operation
// that produced it. Returns nil if err is nil.
func WrapIO(op string, err error) error {
	if err == nil {
		return nil
	}
	return &IoError{Op: op, Err: err}
}
