// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// The page manager: counter encoding, corrupted-page repair, erase trigger.

package flashq

import (
	"math/bits"

	"github.com/cznic/mathutil"
)

// counterWidth returns 1 for files of up to 8 pages (the 1-byte counter
// spec.md 3 defines) and 2 for larger files (spec.md 9's widened counter,
// resolved in SPEC_FULL.md 4.K), using the same left-shifted-mask
// construction either way.
func counterWidth(pagesPerFile int) int {
	if pagesPerFile > 8 {
		return 2
	}
	return 1
}

// counterFull is the all-ones value for a counter of the given byte width:
// 0xFF for width 1, 0xFFFF for width 2. It also IS the erased/free counter
// value.
func counterFull(width int) uint32 {
	return uint32(1)<<uint(8*width) - 1
}

// maxRank is the number of non-erased generations a counter of this width
// can express: 8 for width 1, 16 for width 2.
func maxRank(width int) int {
	return 8 * width
}

// counterForRank returns the on-flash counter value written when claiming a
// page for writeCount rank (1..maxRank(width)), by left-shifting the
// all-ones value: counter = (full << rank) & full. This is monotonically
// reachable from the erased value by clearing bits only, so advancing the
// counter never requires an erase.
func counterForRank(rank, width int) uint32 {
	full := counterFull(width)
	return (full << uint(rank)) & full
}

// legalCounters enumerates every value a non-corrupted counter of the given
// width can hold, including the erased value.
func legalCounters(width int) []uint32 {
	out := make([]uint32, 0, maxRank(width)+1)
	for rank := 0; rank <= maxRank(width); rank++ {
		out = append(out, counterForRank(rank, width))
	}
	return out
}

// isLegalCounter reports whether v is a value the engine itself could have
// written to a counter of the given width (the erased value or one of the
// maxRank(width) write-order ranks). Any other value means the page is
// corrupted - most often a power cut during Erase.
func isLegalCounter(v uint32, width int) bool {
	full := counterFull(width)
	if v == full {
		return true
	}
	for rank := 1; rank <= maxRank(width); rank++ {
		if v == counterForRank(rank, width) {
			return true
		}
	}
	return false
}

// popcount returns the number of set bits in v, using only the low 8*width
// bits.
func popcount(v uint32, width int) int {
	if width == 1 {
		return bits.OnesCount8(byte(v))
	}
	return bits.OnesCount16(uint16(v))
}

// nextWriteCount deduces, from a non-erased page's counter value, the
// write_count to use for the NEXT page claimed after it: maxRank(width)+1
// minus the counter's popcount, cycling back to 1 instead of continuing past
// maxRank(width). This is spec.md 4.F's "write_count = 9 - popcount(counter),
// cycling at 8->1" generalized to either counter width (SPEC_FULL.md 4.F/4.K).
func nextWriteCount(counter uint32, width int) int {
	wc := maxRank(width) + 1 - popcount(counter, width)
	if wc > maxRank(width) {
		wc = 1
	}
	return wc
}

// rankOf returns the write-order rank (1..maxRank(width)) that produced a
// non-erased counter value; smaller rank numerically corresponds to an
// earlier page, per the fewer-1-bits-is-later encoding spec.md 3 defines.
func rankOf(counter uint32, width int) int {
	return maxRank(width) - popcount(counter, width)
}

// pageClassification is the result of inspecting one page at Open time.
type pageClassification struct {
	index   int
	counter uint32
	erased  bool // counter == counterFull(width): page is free
	corrupt bool // counter illegal, or a chunk on the page is structurally impossible
}

// classifyPage reads page index's counter and, if it looks legal, scans its
// chunk stream for a structurally impossible (size, state) pair. Either
// check failing marks the page corrupt - a crash during Erase (illegal
// counter) or during a chunk header write that this particular page's
// layout could not have produced cleanly.
func classifyPage(fl Flash, base int64, geom Geometry, index int) pageClassification {
	width := counterWidth(geom.PagesPerFile)
	pageAddr := base + int64(index)*int64(geom.PageSize)
	counter := readCounter(fl, pageAddr, width)

	c := pageClassification{index: index, counter: counter}
	if !isLegalCounter(counter, width) {
		c.corrupt = true
		return c
	}
	if counter == counterFull(width) {
		c.erased = true
		return c
	}

	addr := pageAddr + int64(width)
	pageEnd := pageAddr + int64(geom.PageSize)
	for addr < pageEnd {
		size := fl.Read(addr, 1)[0]
		if size == sizeErased {
			state := fl.Read(addr+1, 1)[0]
			if Classify(size, state) == Corrupt {
				c.corrupt = true
				return c
			}
			break // rest of the page is legitimately unwritten tail
		}

		state := fl.Read(addr+1, 1)[0]
		if Classify(size, state) == Corrupt {
			c.corrupt = true
			return c
		}

		addr += int64(size) + chunkHeaderSize
		if addr > pageEnd {
			// A chunk claiming to extend past the page boundary is
			// structurally impossible; chunks never straddle pages.
			c.corrupt = true
			return c
		}
	}
	return c
}

// readCounter reads the width-byte counter at pageAddr as a big-endian
// value (network byte order, matching the teacher's handle-encoding
// convention for multi-byte on-flash integers).
func readCounter(fl Flash, pageAddr int64, width int) uint32 {
	b := fl.Read(pageAddr, width)
	if width == 1 {
		return uint32(b[0])
	}
	return uint32(b[0])<<8 | uint32(b[1])
}

// writeCounter ANDs the width-byte counter value at pageAddr. Because
// counterForRank values are only ever reached by clearing bits from the
// erased (all-ones) value, this is always a legal AND-only flash write.
func writeCounter(fl Flash, pageAddr int64, value uint32, width int) error {
	if width == 1 {
		_, err := fl.Write(pageAddr, []byte{byte(value)})
		return err
	}
	_, err := fl.Write(pageAddr, []byte{byte(value >> 8), byte(value)})
	return err
}

// clampInt is a thin mathutil.Min/Max-backed clamp used by free-space and
// cursor arithmetic elsewhere in the package.
func clampInt(v, lo, hi int) int {
	return mathutil.Max(lo, mathutil.Min(v, hi))
}
