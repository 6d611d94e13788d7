// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package flashq

import (
	"github.com/pkg/errors"
)

// Sentinel errors returned (possibly wrapped with call-site context via
// github.com/pkg/errors) by the operation layer. Per spec the caller-visible
// contract is the return VALUE (0 bytes, a nil handle) — these errors are
// additive precision for logging and diagnostics, never required reading for
// correctness.
var (
	// ErrBusy is returned by Open when a file id already has a handle open.
	ErrBusy = errors.New("flashq: file already open")

	// ErrUnknownFile is returned by Open when the PartitionTable has no
	// region for the requested file id.
	ErrUnknownFile = errors.New("flashq: no partition region for file id")

	// ErrBadGeometry is returned when a Geometry or partition region fails
	// validation (page size, page count, alignment).
	ErrBadGeometry = errors.New("flashq: invalid geometry")

	// ErrTooLarge categorizes a Write rejection: the payload cannot ever
	// fit (>= 0xFF bytes, or larger than an empty page can hold).
	ErrTooLarge = errors.New("flashq: payload too large for this file")

	// ErrNoSpace categorizes a Write rejection: the payload would fit on
	// an empty page but free_space is currently insufficient.
	ErrNoSpace = errors.New("flashq: insufficient free space")

	// ErrStalled categorizes a Write rejection: the write head is
	// hovering over a page that has not yet been erased.
	ErrStalled = errors.New("flashq: write head awaiting page erase")

	// ErrPowerLoss is returned by MemFlash operations that were
	// interrupted by a simulated power loss (see MemFlash.ArmFault).
	ErrPowerLoss = errors.New("flashq: power loss during flash operation")

	// ErrClosed is returned by operations on a File after Close.
	ErrClosed = errors.New("flashq: file handle is closed")
)

// cause unwraps a pkg/errors-wrapped error back to its root sentinel, the
// pkg/errors analogue of errors.Is for callers that branch on one of the
// sentinels above.
func cause(err error) error {
	return errors.Cause(err)
}
