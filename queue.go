// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// The four public operations: Write, Read, Consume and Size (spec.md 4.E).

package flashq

import (
	"github.com/pkg/errors"
)

// Write appends p as one chunk. p must be between 1 and 254 bytes, and must
// fit on a freshly erased page (spec.md 4.E); larger payloads must be split
// by the caller. Write returns ErrTooLarge for an out-of-range or
// page-exceeding payload, ErrNoSpace if free_space cannot hold it, and
// ErrStalled if the write head rests on a page that is not yet erased and
// the caller must erase it (or wait for a consumer to) before writing can
// resume. A rejected Write leaves every cursor and free_space untouched.
func (f *File) Write(p []byte) (int, error) {
	if f.closed {
		return 0, ErrClosed
	}

	n := len(p)
	if n < minChunkPayload || n > maxChunkPayload {
		return 0, errors.Wrapf(ErrTooLarge, "payload length %d", n)
	}
	need := int64(n) + chunkHeaderSize
	if need > int64(f.pageSize-f.counterWidth) {
		return 0, errors.Wrapf(ErrTooLarge, "payload of %d bytes does not fit on an empty page", n)
	}

	if err := f.settleWriteHead(); err != nil {
		return 0, err
	}

	origOffset := f.writeOffset
	origFree := f.freeSpace

	// If the current page lacks room for the whole chunk, advance the
	// write head to the next page's first chunk slot, charging the
	// skipped dead-tail bytes against free_space (spec.md 4.E).
	pageBoundary := f.pageStart(f.pageIndex(f.writeOffset)) + int64(f.pageSize)
	if f.writeOffset+need > pageBoundary {
		dead := pageBoundary - f.writeOffset
		f.freeSpace -= dead
		f.writeOffset = pageBoundary
		if f.writeOffset == f.regionSize() {
			f.writeOffset = 0
		}
		if err := f.settleWriteHead(); err != nil {
			f.writeOffset = origOffset
			f.freeSpace = origFree
			return 0, err
		}
	}

	if need > f.freeSpace {
		f.writeOffset = origOffset
		f.freeSpace = origFree
		return 0, ErrNoSpace
	}

	addr := f.writeOffset
	header := EncodeHeader(byte(n))
	// Once the size byte has landed the slot holds a chunk, committed or not
	// (uncommitted it is Invalid and readers skip it), so a failure from
	// there on still moves the write head past the slot.
	if landed, err := f.flash.Write(f.base+addr, header[:]); err != nil {
		if landed > 0 {
			f.writeOffset, f.freeSpace = (addr+need)%f.regionSize(), f.freeSpace-need
		}
		return 0, errors.Wrap(err, "writing chunk header")
	}
	if _, err := f.flash.Write(f.base+addr+chunkHeaderSize, p); err != nil {
		f.writeOffset, f.freeSpace = (addr+need)%f.regionSize(), f.freeSpace-need
		return 0, errors.Wrap(err, "writing chunk payload")
	}
	if err := commitChunk(f.flash, f.base+addr); err != nil {
		f.writeOffset, f.freeSpace = (addr+need)%f.regionSize(), f.freeSpace-need
		return 0, errors.Wrap(err, "committing chunk")
	}

	f.writeOffset = addr + need
	f.freeSpace -= need
	if f.writeOffset == f.regionSize() {
		// Wrap: the ring's last byte was just claimed (spec.md 4.D "Wrap").
		f.writeOffset = 0
	}

	if f.atPageBoundary(f.writeOffset) {
		// The write head has run up against the next page; settle it now
		// so a subsequent Write observes a ready head rather than a
		// surprise ErrStalled. If the page is not free yet the head stays
		// on the boundary and the stall is deferred to the next call.
		if f.settleWriteHead() != nil {
			// Full ring: a read cursor on this same boundary is a whole
			// ring behind the writer, not caught up with it.
			if f.rawRead == f.writeOffset {
				f.rawRead = f.skipCounter(f.rawRead)
			}
			if f.destRead == f.writeOffset {
				f.destRead = f.skipCounter(f.destRead)
			}
		}
	}

	f.log.Debug("flashq: chunk written", "file", f.fileID, "addr", addr, "size", n)
	return n, nil
}

// settleWriteHead ensures writeOffset is ready to accept a chunk header. If
// writeOffset sits on a page boundary, the page must be erased (all 0xFF)
// before its counter can be claimed; if it is already erased, settleWriteHead
// claims the counter and advances writeOffset past it. Otherwise it returns
// ErrStalled: the caller (or a concurrent consumer freeing the page through
// Consume's erase trigger) must erase the page first.
func (f *File) settleWriteHead() error {
	if !f.atPageBoundary(f.writeOffset) {
		return nil
	}

	index := f.pageIndex(f.writeOffset)
	pc := classifyPage(f.flash, f.base, Geometry{PageSize: f.pageSize, PagesPerFile: f.pagesPerFile}, index)
	if !pc.erased {
		return ErrStalled
	}

	if err := writeCounter(f.flash, f.base+f.writeOffset, counterForRank(f.writeCount, f.counterWidth), f.counterWidth); err != nil {
		return errors.Wrap(err, "claiming page counter")
	}
	f.writeOffset += int64(f.counterWidth)
	f.freeSpace -= int64(f.counterWidth)
	f.writeCount = nextWriteCount(counterForRank(f.writeCount, f.counterWidth), f.counterWidth)
	return nil
}

// Read produces up to n bytes (and never more than len(buf)) of payload
// starting at the raw (non-destructive) read cursor, concatenating across
// as many valid chunks and pages as needed, stopping at the write head. It
// returns the number of bytes copied. Read may stop mid-chunk if n or
// len(buf) runs out first; the next Read call resumes exactly where this
// one left off, including partway through a chunk's payload (spec.md 4.E).
// Invalid chunks are skipped and never exposed.
func (f *File) Read(buf []byte, n int) int {
	if f.closed || n <= 0 || len(buf) == 0 {
		return 0
	}

	want := clampInt(n, 0, len(buf))

	delivered := 0
	for delivered < want {
		if f.rawPartial == 0 {
			addr := f.seekNextChunk(f.rawRead, false)
			f.rawRead = addr
			if addr == f.writeOffset {
				break
			}
		}

		size := int(f.readSize(f.rawRead))
		left := size - f.rawPartial
		take := want - delivered
		if take > left {
			take = left
		}

		payload := f.flash.Read(f.base+f.rawRead+chunkHeaderSize+int64(f.rawPartial), take)
		copy(buf[delivered:], payload)
		delivered += take
		f.rawPartial += take

		if f.rawPartial == size {
			next := f.rawRead + int64(size) + chunkHeaderSize
			if next == f.regionSize() {
				next = 0
			}
			f.rawRead = next
			f.rawPartial = 0
		}
	}
	return delivered
}

// Consume destroys the oldest whole chunks whose total payload is at most
// n, advancing the destructive-read head past each and attempting to erase
// any page it fully vacates (spec.md 4.C erase trigger). It never partially
// destroys a chunk: consumption stops as soon as the next chunk's size
// would exceed the remaining budget, or the destructive head catches the
// write head. Returns the total payload bytes actually consumed.
//
// If the destructive head reaches a chunk the raw read cursor had not yet
// reached, the raw cursor is pulled forward to match: per spec.md 8
// invariant 3 (destructive_read_offset <= raw_read_chunk_start), there is
// no unread data left behind a chunk once it no longer exists on flash.
// This lets Consume be called directly, with no preceding Read, exactly as
// spec.md 8 scenario 3 exercises.
func (f *File) Consume(n int) int {
	if f.closed || n <= 0 {
		return 0
	}

	// Normalize the raw-read cursor to an actual chunk header (or the write
	// head) before comparing against it below. At a fresh file, or right
	// after recovery, rawRead may still be sitting on a page boundary it
	// has never been walked off of; seekNextChunk is a no-op on a cursor
	// that is already normalized, since a Valid chunk returns immediately.
	f.rawRead = f.seekNextChunk(f.rawRead, false)

	remaining := n
	consumed := 0
	for remaining > 0 {
		addr := f.seekNextChunk(f.destRead, true)
		if addr == f.writeOffset {
			f.destRead = addr
			break
		}

		size := int(f.readSize(addr))
		if size > remaining {
			break // would split the tail chunk: no-op per spec.md 4.E
		}

		if err := markChunkConsumed(f.flash, f.base+addr); err != nil {
			f.log.Error("flashq: failed to mark chunk consumed", "file", f.fileID, "addr", addr, "err", err)
			break
		}

		step := int64(size) + chunkHeaderSize
		newDestRead := addr + step
		pulledRaw := addr == f.rawRead

		f.freeSpace += step
		f.maybeErasePage(addr, newDestRead)

		if newDestRead == f.regionSize() {
			newDestRead = 0
		}
		f.destRead = newDestRead
		if pulledRaw {
			// seekNextChunk normalizes past any dead counter/tail so the
			// next Consume call's addr == f.rawRead comparison stays valid.
			f.rawRead = f.seekNextChunk(newDestRead, false)
			f.rawPartial = 0
		}

		consumed += size
		remaining -= size
	}

	f.log.Debug("flashq: consume", "file", f.fileID, "bytes", consumed)
	return consumed
}

// maybeErasePage erases the page that chunkAddr was in if the destructive
// read cursor (about to become newDestRead) has now moved past every chunk
// that page held - i.e. every byte of that page has been reclaimed into
// free_space. Reclaiming the page's counter byte(s) at erase time (rather
// than when the cursor first crosses them) mirrors spec.md 4.E: the
// counter is "charged" for as long as the page's generation is the one
// currently occupying the ring.
func (f *File) maybeErasePage(chunkAddr, newDestRead int64) {
	index := f.pageIndex(chunkAddr)
	pageStart := f.pageStart(index)
	pageEnd := pageStart + int64(f.pageSize)

	if newDestRead < pageEnd {
		return // more chunks in this page remain to be consumed
	}
	if f.pageIndex(f.writeOffset) == index && f.writeOffset != pageStart {
		// The write head has already claimed this page's counter and
		// written into it this generation; never erase under it. A write
		// head resting exactly at pageStart is the wrapped-around stall
		// case (ErrStalled, waiting on this very erase) and must NOT be
		// mistaken for that - it has no claim on the page yet.
		return
	}

	f.erasePage(index)
}

// erasePage erases page index and gives its counter bytes back to
// free_space, since classifyPage no longer needs to account for them as
// occupied once the page reads all 0xFF.
func (f *File) erasePage(index int) {
	if err := f.flash.Erase(f.base + f.pageStart(index)); err != nil {
		f.log.Error("flashq: page erase failed", "file", f.fileID, "page", index, "err", err)
		return
	}
	f.freeSpace += int64(f.counterWidth)
	f.log.Debug("flashq: page erased", "file", f.fileID, "page", index)
}

// Size returns the number of bytes currently occupied by metadata plus live
// payload plus dead end-of-page bytes: FILE_SIZE - free_space (spec.md 4.E).
// This is not simply the sum of unconsumed payloads; every active page's
// counter byte(s) and every header and dead tail still charge against it
// until an erase or a destructive read reclaims them.
func (f *File) Size() int64 {
	return f.regionSize() - f.freeSpace
}
