// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package flashq

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestFile(t *testing.T, pages int) (*Engine, *File, *MemFlash) {
	t.Helper()
	geom := Geometry{PageSize: 16, PagesPerFile: pages}
	fl := NewMemFlash(geom.FileSize(pages), geom.PageSize)
	pt := MapPartition{"q": {Base: 0, Pages: pages}}
	e, err := NewEngine(fl, pt, geom, Options{Logger: NopLogger{}})
	require.NoError(t, err)
	f, err := e.Open("q")
	require.NoError(t, err)
	return e, f, fl
}

func TestWriteReadConsumeRoundTrip(t *testing.T) {
	_, f, _ := newTestFile(t, 3)

	n, err := f.Write([]byte("hello"))
	require.NoError(t, err)
	require.Equal(t, 5, n)

	buf := make([]byte, 16)
	got := f.Read(buf, len(buf))
	require.Equal(t, 5, got)
	require.Equal(t, "hello", string(buf[:got]))

	// Raw read does not advance the destructive cursor or shrink Size. Size
	// counts the claimed page counter byte plus the chunk's header and
	// payload: 1 + (2+5) = 8 (spec.md 4.E's used_byte_count).
	require.Equal(t, int64(8), f.Size())

	got = f.Consume(5)
	require.Equal(t, 5, got)
	// The chunk's bytes are reclaimed, but page 0's counter is still
	// charged until it is actually erased.
	require.Equal(t, int64(1), f.Size())
}

func TestReadAndConsumeReturnZeroWhenEmpty(t *testing.T) {
	_, f, _ := newTestFile(t, 3)
	buf := make([]byte, 8)
	require.Equal(t, 0, f.Read(buf, len(buf)))
	require.Equal(t, 0, f.Consume(8))
}

func TestWriteRejectsOutOfRangePayload(t *testing.T) {
	_, f, _ := newTestFile(t, 3)
	_, err := f.Write(nil)
	require.ErrorIs(t, cause(err), ErrTooLarge)

	big := make([]byte, 255)
	_, err = f.Write(big)
	require.ErrorIs(t, cause(err), ErrTooLarge)
}

func TestWriteFillsPageThenClaimsNextPage(t *testing.T) {
	// 16 byte pages, 3 pages, one byte counter: page 0 chunk region is 15
	// bytes. A 13 byte payload takes a 2 byte header + 13 = 15 bytes,
	// exactly filling the page's chunk area.
	_, f, _ := newTestFile(t, 3)

	_, err := f.Write(make([]byte, 13))
	require.NoError(t, err)

	// Page 0 is now full; writeOffset should have rolled onto page 1 and
	// already claimed its counter, since Write settles the head eagerly.
	require.Equal(t, int64(16+1), f.writeOffset)

	_, err = f.Write([]byte("x"))
	require.NoError(t, err)
}

func TestWriteSkipsDeadTailToNextPage(t *testing.T) {
	// A 12 byte payload (2+12=14 bytes) leaves 1 dead byte in page 0's
	// 15 byte chunk area. A second write that needs more than that 1 byte
	// must skip the dead tail rather than try to split across the boundary.
	_, f, _ := newTestFile(t, 3)

	_, err := f.Write(make([]byte, 12))
	require.NoError(t, err)
	require.Equal(t, int64(15), f.writeOffset)

	sizeBefore := f.Size()
	_, err = f.Write([]byte("x"))
	require.NoError(t, err)

	// The 1 dead byte plus the claimed page 1 counter are now charged, on
	// top of the new chunk's own 3 bytes.
	require.Equal(t, int64(16+1+3), f.writeOffset)
	require.Equal(t, sizeBefore+1+1+3, f.Size())
}

func TestConsumeTriggersPageErase(t *testing.T) {
	_, f, fl := newTestFile(t, 3)

	_, err := f.Write(make([]byte, 13)) // fills page 0's chunk area exactly
	require.NoError(t, err)

	got := f.Consume(13)
	require.Equal(t, 13, got)

	// Page 0's counter byte should have been erased back to 0xFF once the
	// destructive cursor passed entirely through it and the write head
	// moved on to page 1.
	require.Equal(t, byte(0xFF), fl.Read(0, 1)[0])
}

func TestConsumeNeverSplitsAChunk(t *testing.T) {
	_, f, _ := newTestFile(t, 3)

	_, err := f.Write([]byte("hello")) // 5 byte payload
	require.NoError(t, err)

	// Budget smaller than the chunk's payload: nothing may be consumed.
	require.Equal(t, 0, f.Consume(3))
	require.Equal(t, 5, f.Consume(5))
}

func TestConsumeWithoutReadPullsRawHeadForward(t *testing.T) {
	// spec.md 8 scenario 3: consume may be called directly, with no
	// preceding read, and must still succeed across every chunk.
	_, f, _ := newTestFile(t, 3)

	words := []string{"a", "bb", "ccc"}
	var total int
	for _, w := range words {
		_, err := f.Write([]byte(w))
		require.NoError(t, err)
		total += len(w)
	}

	got := f.Consume(total)
	require.Equal(t, total, got)

	// The raw read head must never trail behind a chunk that no longer
	// exists on flash (spec.md 8 invariant 3).
	require.Equal(t, f.destRead, f.rawRead)
	require.Equal(t, 0, f.rawPartial)
}

func TestReadCrossesMultipleChunksAndCanStopMidChunk(t *testing.T) {
	_, f, _ := newTestFile(t, 3)

	_, err := f.Write([]byte("ab"))
	require.NoError(t, err)
	_, err = f.Write([]byte("cde"))
	require.NoError(t, err)

	buf := make([]byte, 3)
	got := f.Read(buf, 3)
	require.Equal(t, 3, got)
	require.Equal(t, "abc", string(buf))
	// Stopped mid second chunk: a partial read position is retained.
	require.Equal(t, 1, f.rawPartial)

	got = f.Read(buf, 3)
	require.Equal(t, 2, got)
	require.Equal(t, "de", string(buf[:got]))
	require.Equal(t, 0, f.rawPartial)
}

func TestNoSpaceWhenFreeSpaceExhausted(t *testing.T) {
	_, f, _ := newTestFile(t, 3)

	// Total region is 48 bytes; once all 3 pages have claimed their
	// one-byte counters there are 45 bytes of chunk space, 15 per page.
	for i := 0; i < 3; i++ {
		_, err := f.Write(make([]byte, 13))
		if err != nil {
			// A stall is an acceptable outcome once every page's chunk
			// area and the next page's counter are both spoken for.
			require.ErrorIs(t, err, ErrStalled)
			return
		}
	}
	_, err := f.Write(make([]byte, 13))
	require.Error(t, err)
}

func TestCloseThenOpenAgainByAnotherHandle(t *testing.T) {
	e, f, _ := newTestFile(t, 3)
	require.NoError(t, f.Close())

	f2, err := e.Open("q")
	require.NoError(t, err)
	require.NotNil(t, f2)
}

func TestOpenTwiceIsBusy(t *testing.T) {
	e, _, _ := newTestFile(t, 3)
	_, err := e.Open("q")
	require.ErrorIs(t, cause(err), ErrBusy)
}

func TestOpenUnknownFile(t *testing.T) {
	e, _, _ := newTestFile(t, 3)
	_, err := e.Open("nope")
	require.ErrorIs(t, cause(err), ErrUnknownFile)
}

func TestMultipleChunksPreserveOrder(t *testing.T) {
	_, f, _ := newTestFile(t, 3)

	words := []string{"a", "bb", "ccc"}
	for _, w := range words {
		_, err := f.Write([]byte(w))
		require.NoError(t, err)
	}

	buf := make([]byte, 8)
	for _, w := range words {
		n := f.Read(buf, len(w))
		require.Equal(t, w, string(buf[:n]))
		require.Equal(t, len(w), f.Consume(len(w)))
	}
}

// A write interrupted partway through its header, with no Close/Open (and
// so no recovery) in between, must leave an Invalid chunk that the SAME
// handle's next write goes past and whose bytes are never read back.
func TestInterruptedWriteIsSkippedWithoutReopening(t *testing.T) {
	_, f, fl := newTestFile(t, 3)

	offsetBefore := f.writeOffset

	// Let the page counter claim (settleWriteHead, 1 byte) land normally,
	// then cut the chunk header write after its first (size) byte, leaving
	// the state byte at its erased value - an Invalid chunk.
	fl.ArmFault(2)
	_, err := f.Write([]byte{5, 6, 7, 8})
	require.Error(t, err)
	require.Equal(t, offsetBefore+1+chunkHeaderSize+4, f.writeOffset, "the write head must move past the claimed counter and the Invalid chunk")

	// No recovery: just bring the device back and keep driving the same
	// handle, exactly as spec.md 8 scenario 2 exercises.
	fl.Reboot()

	_, err = f.Write([]byte{9, 10, 11, 12})
	require.NoError(t, err)

	buf := make([]byte, 16)
	got := f.Read(buf, len(buf))
	require.Equal(t, []byte{9, 10, 11, 12}, buf[:got])
}

// Filling every page, draining the oldest one, and writing again must wrap
// the new chunk onto the freshly erased oldest page while the read cursors
// stay put in the page that is still unconsumed (spec.md 8 scenario 4).
func TestWriteWrapsOntoOldestErasedPage(t *testing.T) {
	_, f, fl := newTestFile(t, 3)

	// 13 byte payloads exactly fill each page's 15 byte chunk area, one
	// chunk per page; the third write rolls the head back onto page 0,
	// which is not erased yet, and stalls there.
	for i := 0; i < 3; i++ {
		_, err := f.Write(make([]byte, 13))
		require.NoError(t, err)
	}
	require.Equal(t, int64(0), f.writeOffset)

	// Drain page 0's one chunk entirely: this must erase page 0 and free
	// the stalled write head, even though the write head is itself
	// currently resting right at page 0's boundary.
	require.Equal(t, 13, f.Consume(13))

	destReadBefore, rawReadBefore := f.destRead, f.rawRead
	require.Equal(t, 1, f.pageIndex(destReadBefore))
	require.Equal(t, 1, f.pageIndex(rawReadBefore))

	n, err := f.Write([]byte{1, 2, 3})
	require.NoError(t, err)
	require.Equal(t, 3, n)

	// The new chunk's header landed at page 0 offset 1.
	require.Equal(t, byte(3), fl.Read(1, 1)[0])
	require.Equal(t, destReadBefore, f.destRead)
	require.Equal(t, rawReadBefore, f.rawRead)
}

// Recovery must pick the page with the most-cleared (highest rank) counter
// as current and derive the next write_count from it, matching spec.md 8
// scenario 6's concrete counter values (0xFE then 0xFC, write_count 3).
func TestRecoverySelectsHighestRankPageAsCurrent(t *testing.T) {
	e, f, fl := newTestFile(t, 3)

	_, err := f.Write(make([]byte, 13)) // fills page 0, rolls onto page 1
	require.NoError(t, err)
	_, err = f.Write([]byte("hi"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.Equal(t, byte(0xFE), fl.Read(0, 1)[0])
	require.Equal(t, byte(0xFC), fl.Read(16, 1)[0])

	f2, err := e.Open("q")
	require.NoError(t, err)
	require.Equal(t, 3, f2.writeCount)
	require.Equal(t, 1, f2.pageIndex(f2.writeOffset))
}
