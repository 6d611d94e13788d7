// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

/*

Package flashq implements a persistent FIFO byte queue stored directly in
NOR flash memory.

A flashq "file" occupies a fixed, contiguous, page-aligned region of a
flash device. Within the file, pages form a logical ring. Records
("chunks") are appended at a write head, read non-destructively from a
raw read head, and destructively consumed from a destructive-read head
that trails the raw read head. Consuming past a page's last live chunk
erases that page, recycling it for future writes.

The package is built around three unusual constraints of NOR flash:
writes may only clear bits (1 -> 0), restoring bits requires erasing a
whole page, and only single-byte writes are guaranteed atomic across a
power failure. Every on-flash state transition is designed so a crash
at any point leaves either the old state or the new state, never
something unrecoverable; Open (via the unexported recovery routine)
reconstructs all in-memory pointers by scanning flash, with no
assistance from any state that might have existed in RAM before the
crash.

The core engine assumes a Flash device (see Flash) and a PartitionTable
mapping file identifiers to page ranges; both are supplied by the
caller. Concrete reference implementations (MemFlash, FileFlash,
MapPartition) are provided for testing and simple deployments.

No concurrency across goroutines is required or provided: an Engine and
its open Files assume single-threaded, synchronous use around the
underlying Flash device, exactly mirroring the single-tasked embedded
target this format was designed for.

*/
package flashq
