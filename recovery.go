// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Recovery: reconstructing the three ring pointers and free_space from
// whatever is actually on flash after an unclean shutdown (spec.md 4.F, 5).

package flashq

import "github.com/pkg/errors"

// recoverFile runs at Open time, before a File is handed to its caller. It
// repairs corrupted pages, relocates the write head to the end of the
// current generation, walks the destructive-read head back to the oldest
// still-reachable chunk, and reconstructs free_space from scratch - never
// trusting any value that might have been in flight when power was lost.
func recoverFile(f *File) error {
	geom := Geometry{PageSize: f.pageSize, PagesPerFile: f.pagesPerFile}

	classes := make([]pageClassification, f.pagesPerFile)
	for i := 0; i < f.pagesPerFile; i++ {
		classes[i] = classifyPage(f.flash, f.base, geom, i)
	}

	// Step 1: repair corrupted pages by erasing them. A page can only be
	// corrupt from a crash mid-erase or mid-header-write; in both cases the
	// page holds no chunk any consumer has been told exists yet (spec.md
	// 5: a chunk is only "written" once Write returns, and Write never
	// returns across such a crash), so erasing it loses nothing.
	for i, pc := range classes {
		if !pc.corrupt {
			continue
		}
		if err := f.flash.Erase(f.base + f.pageStart(i)); err != nil {
			return errors.Wrapf(err, "repairing corrupt page %d", i)
		}
		classes[i] = pageClassification{index: i, counter: counterFull(f.counterWidth), erased: true}
	}

	// Step 2: find the "current" page - the highest-rank non-erased page,
	// i.e. the most recently claimed. If every page is erased this is a
	// brand new (or fully-drained) file.
	current := -1
	bestRank := -1
	for i, pc := range classes {
		if pc.erased {
			continue
		}
		r := rankOf(pc.counter, f.counterWidth)
		if r > bestRank {
			bestRank = r
			current = i
		}
	}

	if current == -1 {
		// Every page erased: an empty, freshly provisioned file. Claim page
		// 0 as rank 1 on the first Write via settleWriteHead; until then
		// the write head rests at page 0's boundary.
		f.writeOffset = 0
		f.writeCount = 1
		f.rawRead = 0
		f.destRead = 0
		f.freeSpace = f.regionSize()
		return nil
	}

	// Step 3: scan the current page's chunk stream forward to find the
	// write head: the first Erased chunk slot, or the page's end if the
	// page is entirely full of chunks.
	pageAddr := f.pageStart(current)
	pageEnd := pageAddr + int64(f.pageSize)
	addr := pageAddr + int64(f.counterWidth)
	for addr < pageEnd {
		size := f.readSize(addr)
		if size == sizeErased {
			break
		}
		state := f.readState(addr)
		switch Classify(size, state) {
		case Valid, Consumed, Invalid:
			// An Invalid chunk (a crash before its commit byte landed)
			// still occupies its slot: the write head goes past it, so
			// the next Write appends instead of ANDing over its bytes.
			addr += int64(size) + chunkHeaderSize
		default:
			// Corrupt should not occur here: classifyPage already vetted
			// this page's chunk stream. Stop defensively if it does.
			goto found
		}
	}
found:
	f.writeOffset = addr
	f.writeCount = nextWriteCount(classes[current].counter, f.counterWidth)

	// Step 4: walk the destructive-read head backward from the write head
	// through every still-populated page, landing just after the last
	// Consumed chunk that is immediately followed (with no intervening
	// Valid/Invalid chunk) by an unbroken run of Consumed chunks back to
	// some starting point - in other words, skip every trailing Consumed
	// chunk run starting from the write head, then stop at the first
	// Valid chunk encountered going backward. Since chunks can only be
	// walked forward on flash (there is no reverse chunk pointer), this is
	// done by scanning each candidate page forward from its counter and
	// remembering the last position a Consumed run ended, across pages in
	// rank order, oldest first.
	destRead, rawRead, err := recoverReadHeads(f, classes, current, f.writeOffset)
	if err != nil {
		return errors.Wrap(err, "reclaiming fully consumed pages")
	}
	f.destRead = destRead
	f.rawRead = rawRead

	// A head that ran to the very end of the region wraps to its start, as
	// it does during normal operation.
	for _, p := range []*int64{&f.writeOffset, &f.destRead, &f.rawRead} {
		if *p == f.regionSize() {
			*p = 0
		}
	}

	// Step 5: reconstruct free_space as the region size minus the counter
	// of every page that is not erased and minus every byte (chunk of any
	// state, or dead tail) between destRead and the write head.
	f.freeSpace = f.regionSize() - int64(f.counterWidth*countActivePages(classes)) - f.occupiedBytesBetween(f.destRead, f.writeOffset)

	f.log.Debug("flashq: recovered", "file", f.fileID, "current_page", current, "write_offset", f.writeOffset, "dest_read", f.destRead, "free_space", f.freeSpace)
	return nil
}

// regionSize returns the full byte span of f's region.
func (f *File) regionSize() int64 {
	return int64(f.pagesPerFile) * int64(f.pageSize)
}

// countActivePages returns the number of non-erased pages, each of which
// has counterWidth bytes permanently charged against free_space until it is
// erased (spec.md 4.E).
func countActivePages(classes []pageClassification) int {
	n := 0
	for _, c := range classes {
		if !c.erased {
			n++
		}
	}
	return n
}

// recoverReadHeads orders every non-erased page oldest-to-newest by rank and
// walks their chunk streams forward up to writeOffset (the write head),
// tracking the address immediately after the last Consumed chunk it meets.
// Consume always advances contiguously from the oldest chunk, so that
// address is the destructive-read head: everything before it is permanently
// gone, everything from it forward is still owed to a reader. With no
// Consumed chunk the head is the first chunk slot of the oldest page; with
// no chunk at all it is the write head.
// The raw-read head recovers to the same position: spec.md 4.C gives it no
// independent durability of its own, so after a restart it simply resumes
// from wherever the destructive head is, the most conservative (never
// skips unread data) choice available.
//
// Per spec.md 4.F, any non-current page found entirely Consumed during this
// walk is erased on the spot rather than left for some future Consume call
// to reclaim. Ordinarily Consume's own erasePage call does this as soon as
// the destructive head drains a page, but a crash landing in the narrow
// window between Consume's markChunkConsumed succeeding on a page's last
// chunk and its follow-up erase call leaves that page legally countered and
// entirely Consumed with nothing left to ever revisit it: destRead only
// ever moves forward past it, so without this step the page would stay
// permanently charged against free_space and, once the write head wrapped
// back around to it, permanently ErrStalled. classes is updated in place so
// the free_space reconstruction in recoverFile sees the reclaimed page.
func recoverReadHeads(f *File, classes []pageClassification, currentPage int, writeOffset int64) (destRead, rawRead int64, err error) {
	order := orderPagesByRank(classes, f.counterWidth)

	var lastConsumedBoundary int64 = -1
	var firstNonConsumedSeen bool

	for _, idx := range order {
		pageAddr := f.pageStart(idx)
		pageEnd := pageAddr + int64(f.pageSize)
		addr := pageAddr + int64(f.counterWidth)

		chunkSeen := false
		fullyConsumed := true

		for addr < pageEnd {
			if idx == currentPage && addr >= writeOffset {
				break
			}
			size := f.readSize(addr)
			if size == sizeErased {
				break
			}
			state := f.readState(addr)
			step := int64(size) + chunkHeaderSize
			switch Classify(size, state) {
			case Consumed:
				addr += step
				lastConsumedBoundary = addr
				chunkSeen = true
			case Valid, Invalid:
				addr += step
				firstNonConsumedSeen = true
				chunkSeen = true
				fullyConsumed = false
			default:
				addr += step
			}
		}

		if idx != currentPage && chunkSeen && fullyConsumed {
			if err := f.flash.Erase(f.base + pageAddr); err != nil {
				return 0, 0, errors.Wrapf(err, "erasing fully consumed page %d", idx)
			}
			classes[idx] = pageClassification{index: idx, counter: counterFull(f.counterWidth), erased: true}
			f.log.Debug("flashq: reclaimed fully consumed page at recovery", "file", f.fileID, "page", idx)
		}
	}

	if !firstNonConsumedSeen && lastConsumedBoundary == -1 {
		// Nothing has ever been written, or everything written has been
		// consumed with nothing left unread: both heads sit at the write
		// head.
		return writeOffset, writeOffset, nil
	}
	if lastConsumedBoundary == -1 {
		// Nothing consumed yet: both heads start at the very first chunk
		// of the oldest active page.
		first := order[0]
		return f.skipCounter(f.pageStart(first)), f.skipCounter(f.pageStart(first)), nil
	}
	return lastConsumedBoundary, lastConsumedBoundary, nil
}

// orderPagesByRank returns the indices of every non-erased page, oldest
// generation first, by sorting on rankOf with a simple insertion sort (at
// most 16 pages in any supported geometry, so O(n^2) is plenty fast enough
// and keeps this free of a stdlib sort.Slice closure-over-classes for no
// real benefit).
func orderPagesByRank(classes []pageClassification, width int) []int {
	var order []int
	for i, c := range classes {
		if !c.erased {
			order = append(order, i)
		}
	}
	for i := 1; i < len(order); i++ {
		j := i
		for j > 0 && rankOf(classes[order[j-1]].counter, width) > rankOf(classes[order[j]].counter, width) {
			order[j-1], order[j] = order[j], order[j-1]
			j--
		}
	}
	return order
}
