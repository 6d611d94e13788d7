// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package flashq

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRecoveryFreshDeviceIsEmpty(t *testing.T) {
	_, f, _ := newTestFile(t, 3)
	require.Equal(t, int64(0), f.Size())
	require.Equal(t, int64(0), f.writeOffset)
	require.Equal(t, 1, f.writeCount)
}

func TestRecoveryAfterCleanCloseReopen(t *testing.T) {
	geom := Geometry{PageSize: 16, PagesPerFile: 3}
	fl := NewMemFlash(geom.FileSize(3), geom.PageSize)
	pt := MapPartition{"q": {Base: 0, Pages: 3}}

	e, err := NewEngine(fl, pt, geom, Options{Logger: NopLogger{}})
	require.NoError(t, err)
	f, err := e.Open("q")
	require.NoError(t, err)

	_, err = f.Write([]byte("hello"))
	require.NoError(t, err)
	_, err = f.Write([]byte("world"))
	require.NoError(t, err)

	buf := make([]byte, 8)
	n := f.Read(buf, 5)
	require.Equal(t, "hello", string(buf[:n]))
	require.Equal(t, 5, f.Consume(5))
	require.NoError(t, f.Close())

	// Reopen over the same flash image: must recover write head past
	// both chunks and destructive-read head past the consumed one. Size
	// still counts page 0's counter byte (not yet erased) plus the
	// unconsumed "world" chunk's header+payload: 1 + 7 = 8.
	f2, err := e.Open("q")
	require.NoError(t, err)
	require.Equal(t, int64(8), f2.Size())

	n = f2.Read(buf, 5)
	require.Equal(t, "world", string(buf[:n]))
	require.Equal(t, 5, f2.Consume(5))
}

func TestRecoveryRepairsCorruptPageCounter(t *testing.T) {
	geom := Geometry{PageSize: 16, PagesPerFile: 3}
	fl := NewMemFlash(geom.FileSize(3), geom.PageSize)
	// Simulate a crash mid-erase: page 1's counter lands on an illegal
	// value never producible by counterForRank.
	fl.Poke(16, 0x55)

	pt := MapPartition{"q": {Base: 0, Pages: 3}}
	e, err := NewEngine(fl, pt, geom, Options{Logger: NopLogger{}})
	require.NoError(t, err)
	f, err := e.Open("q")
	require.NoError(t, err)

	require.Equal(t, byte(0xFF), fl.Read(16, 1)[0])
	require.Equal(t, int64(0), f.Size())
}

func TestRecoveryAfterInterruptedWrite(t *testing.T) {
	geom := Geometry{PageSize: 16, PagesPerFile: 3}
	fl := NewMemFlash(geom.FileSize(3), geom.PageSize)
	pt := MapPartition{"q": {Base: 0, Pages: 3}}

	e, err := NewEngine(fl, pt, geom, Options{Logger: NopLogger{}})
	require.NoError(t, err)
	f, err := e.Open("q")
	require.NoError(t, err)

	_, err = f.Write([]byte("abc"))
	require.NoError(t, err)

	// Hand-craft an Invalid chunk (header written, commit never landed)
	// right after the first committed chunk, simulating a crash between
	// the payload write and the commit AND-write.
	addr := f.writeOffset
	h := EncodeHeader(4)
	_, err = fl.Write(f.base+addr, h[:])
	require.NoError(t, err)
	_, err = fl.Write(f.base+addr+chunkHeaderSize, []byte("dead"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	f2, err := e.Open("q")
	require.NoError(t, err)
	// The write head must recover to just past the Invalid chunk (header
	// plus 4 byte payload), so the next Write appends after it.
	require.Equal(t, addr+chunkHeaderSize+4, f2.writeOffset)

	buf := make([]byte, 8)
	n := f2.Read(buf, 3)
	require.Equal(t, "abc", string(buf[:n]))
	require.Equal(t, 3, f2.Consume(3))
	// The dangling Invalid chunk must never be handed to a reader.
	require.Equal(t, 0, f2.Read(buf, 8))
	require.Equal(t, 0, f2.Consume(8))
}
