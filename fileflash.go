// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// An os.File backed Flash, modelled on lldb.OSFiler/lldb.SimpleFileFiler.

package flashq

import (
	"os"
	"time"

	retry "github.com/avast/retry-go"
)

var _ Flash = (*FileFlash)(nil)

// FileFlash is an os.File-backed Flash for host-side integration testing
// and simulators: a region of a regular file stands in for a flash chip.
// FileFlash is not a power-failure simulator (use MemFlash for that) - it
// exists to let the engine run against real file I/O. Because an ordinary
// file cannot refuse to set bits back to 1, FileFlash relies on its callers
// never writing through any path except this type's Write/Erase to keep the
// AND-only discipline the engine assumes.
type FileFlash struct {
	f        *os.File
	base     int64 // absolute file offset of this Flash's byte 0
	pageSize int   // span an Erase call clears
}

// NewFileFlash returns a Flash backed by f, with byte 0 of the Flash mapped
// to absolute offset base in f, and pageSize matching the Geometry the
// engine will use over this device. The caller must have already sized f to
// cover at least base+size bytes (e.g. via Truncate), pre-filled with 0xFF
// for a fresh device.
func NewFileFlash(f *os.File, base int64, pageSize int) *FileFlash {
	return &FileFlash{f: f, base: base, pageSize: pageSize}
}

// Read implements Flash. Per the Flash contract, Read cannot fail; a
// bounded retry absorbs transient host I/O errors (e.g. a short read from
// an interrupted syscall) and, in the remaining unlikely case of a
// persistent host failure, returns a best-effort zero-value slice rather
// than panicking a library whose contract promises Read never fails.
func (f *FileFlash) Read(addr int64, n int) []byte {
	out := make([]byte, n)
	err := retry.Do(
		func() error {
			_, err := f.f.ReadAt(out, f.base+addr)
			return err
		},
		retry.Attempts(3),
		retry.Delay(5*time.Millisecond),
	)
	if err != nil {
		logger().Error("flashq: FileFlash.Read degraded to zero-fill after retries", "addr", addr, "n", n, "err", err)
	}
	return out
}

// Write implements Flash: AND-merges p into the file's existing contents.
func (f *FileFlash) Write(addr int64, p []byte) (int, error) {
	existing := f.Read(addr, len(p))
	merged := make([]byte, len(p))
	for i := range p {
		merged[i] = existing[i] & p[i]
	}

	err := retry.Do(
		func() error {
			_, err := f.f.WriteAt(merged, f.base+addr)
			return err
		},
		retry.Attempts(3),
		retry.Delay(5*time.Millisecond),
	)
	if err != nil {
		return 0, err
	}
	return len(p), nil
}

// Erase implements Flash: fills the configured pageSize bytes at pageAddr
// with 0xFF.
func (f *FileFlash) Erase(pageAddr int64) error {
	fill := make([]byte, f.pageSize)
	for i := range fill {
		fill[i] = 0xFF
	}
	return retry.Do(
		func() error {
			_, err := f.f.WriteAt(fill, f.base+pageAddr)
			return err
		},
		retry.Attempts(3),
		retry.Delay(5*time.Millisecond),
	)
}
