// Package ecaterr defines the error taxonomy shared by the EtherCAT core
// packages (wire, index, frame, ecat). Kept separate from pkg/ecat so that
// pkg/frame and pkg/index can return these errors without importing the
// (much larger) transaction engine package.
package ecaterr

import "errors"

// ErrNoFreeIndex is returned by an index table when every slot is in use
// and the allocation retry budget has been exhausted. Transient: the
// caller may retry with backoff.
var ErrNoFreeIndex = errors.New("ecat: no free index slot")

// ErrFrameCorrupt indicates a frame-builder invariant was violated, e.g.
// append was called against a slot whose txlen didn't match the sum of
// its encoded subframes. This is a caller bug, not a wire-level failure.
var ErrFrameCorrupt = errors.New("ecat: frame corrupt")

// ErrBufferTooLarge is returned by setup/append when a payload would push
// the frame past the Ethernet MTU.
var ErrBufferTooLarge = errors.New("ecat: payload exceeds frame MTU")

// ErrBadTransition is returned by an index table when a state transition
// other than the five documented ones is attempted.
var ErrBadTransition = errors.New("ecat: invalid slot state transition")

// ErrInvalidIndex is returned when an index byte is outside the table's
// configured slot range.
var ErrInvalidIndex = errors.New("ecat: index out of range")
