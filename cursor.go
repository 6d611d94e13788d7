// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// The ring pointer engine: one cursor abstraction serving both the raw and
// destructive read heads, per spec.md 9's design note.

package flashq

// atPageBoundary reports whether addr is exactly at the start of a page -
// i.e. sitting on a counter byte rather than a chunk header.
func (f *File) atPageBoundary(addr int64) bool {
	return addr%int64(f.pageSize) == 0
}

// pageIndex returns which page addr falls in.
func (f *File) pageIndex(addr int64) int {
	return int(addr / int64(f.pageSize))
}

// pageStart returns the address of page index's counter byte.
func (f *File) pageStart(index int) int64 {
	return int64(index) * int64(f.pageSize)
}

// pageBoundaryDistance returns the number of bytes from addr forward to the
// start of the next page (the dead tail of the current page, if addr is not
// already at a boundary).
func (f *File) pageBoundaryDistance(addr int64) int64 {
	next := (int64(f.pageIndex(addr)) + 1) * int64(f.pageSize)
	return next - addr
}

// nextPageChunkStart returns the address of the first chunk slot (just past
// the counter) of the page following addr's page, wrapping from the last
// page of the file back to page 0.
func (f *File) nextPageChunkStart(addr int64) int64 {
	next := (f.pageIndex(addr) + 1) % f.pagesPerFile
	return int64(next)*int64(f.pageSize) + int64(f.counterWidth)
}

// skipCounter returns the first chunk slot of the page addr is exactly at
// the boundary of.
func (f *File) skipCounter(addr int64) int64 {
	return addr + int64(f.counterWidth)
}

// readSize returns the size byte of the chunk header at addr.
func (f *File) readSize(addr int64) byte {
	return f.flash.Read(f.base+addr, 1)[0]
}

// readState returns the state byte of the chunk header at addr.
func (f *File) readState(addr int64) byte {
	return f.flash.Read(f.base+addr+1, 1)[0]
}

// seekNextChunk walks forward from a chunk-boundary address addr, skipping
// Invalid and Consumed chunks and dead page tails, until it lands on a Valid
// chunk or catches up to the write head. When reclaim is true (the
// destructive-read cursor) every skipped chunk and dead-tail byte is added
// back to free_space (a skipped page counter is not), and a page the cursor
// leaves behind is passed to maybeErasePage; the raw-read cursor (reclaim
// false) never touches free_space or flash. This single
// function implements both spec.md 4.D cursor families - the only
// behavioural difference between them is whether they reclaim.
func (f *File) seekNextChunk(addr int64, reclaim bool) int64 {
	for {
		if addr == f.writeOffset {
			return addr
		}
		if f.atPageBoundary(addr) {
			addr = f.skipCounter(addr)
			continue
		}

		size := f.readSize(addr)
		if size == sizeErased {
			d := f.pageBoundaryDistance(addr)
			if reclaim {
				f.freeSpace += d
				if readCounter(f.flash, f.base+f.pageStart(f.pageIndex(addr)), f.counterWidth) != counterFull(f.counterWidth) {
					f.maybeErasePage(addr, addr+d)
				}
			}
			addr = f.nextPageChunkStart(addr)
			continue
		}

		state := f.readState(addr)
		switch Classify(size, state) {
		case Valid:
			return addr
		case Invalid, Consumed:
			step := int64(size) + chunkHeaderSize
			if reclaim {
				f.freeSpace += step
				f.maybeErasePage(addr, addr+step)
			}
			addr += step
			if addr == f.regionSize() {
				addr = 0 // wrap: just consumed the ring's last chunk (spec.md 4.D)
			}
			continue
		default:
			// A Corrupt chunk here means recovery failed to repair
			// something; stop rather than loop forever.
			return addr
		}
	}
}

// occupiedBytesBetween sums the bytes "charged" against free_space for
// every chunk and dead-tail span walking forward from an address to another,
// without stopping early at a Valid chunk and without mutating any cursor.
// It is used once, at recovery time, to reconstruct free_space between the
// destructive-read landing position and the write head - content in that
// span is occupied regardless of its chunk state, because the destructive
// head has not yet passed over it (spec.md 4.D: reclamation happens only as
// the destructive head advances).
func (f *File) occupiedBytesBetween(from, to int64) int64 {
	var acc int64
	addr := from
	for addr != to {
		if f.atPageBoundary(addr) {
			addr = f.skipCounter(addr)
			continue
		}

		size := f.readSize(addr)
		if size == sizeErased {
			acc += f.pageBoundaryDistance(addr)
			addr = f.nextPageChunkStart(addr)
			continue
		}

		step := int64(size) + chunkHeaderSize
		acc += step
		addr += step
		if addr == f.regionSize() {
			addr = 0 // wrap: just accounted for the ring's last chunk
		}
	}
	return acc
}
