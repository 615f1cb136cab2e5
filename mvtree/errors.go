package mvtree

import "errors"

// ErrNotFound is returned by Get and GetInto when the key has no current
// value.
var ErrNotFound = errors.New("mvtree: not found")

// ErrFailed is returned when a Put or Remove's transaction aborted (e.g.
// the pool ran out of space). Both persistent and volatile state are left
// exactly as they were before the call.
var ErrFailed = errors.New("mvtree: operation failed")

// ErrBufferTooSmall is returned by GetInto when the caller's buffer cannot
// hold the stored value. The buffer is left untouched.
var ErrBufferTooSmall = errors.New("mvtree: buffer too small")
