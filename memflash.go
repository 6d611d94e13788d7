// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// A memory-only Flash, modelled on lldb.MemFiler, with power-failure
// injection hooks the engine's crash-recovery properties need a test double
// to offer.

package flashq

var _ Flash = (*MemFlash)(nil)

// MemFlash is an in-memory stand-in for a NOR flash chip. New devices start
// fully erased (all bytes 0xFF), matching a freshly manufactured/wiped part.
//
// MemFlash additionally supports fault injection for exercising the
// recovery routine: ArmFault arms a one-shot byte budget shared by the
// following Write and Erase calls; the call that would exceed it is
// truncated mid-operation and the device goes "dead"
// (every subsequent call fails) until Reboot is called, simulating a power
// cycle. Poke sets a single byte directly, bypassing the AND-merge
// semantics of Write, for hand-building corrupt flash images that a real
// crash could produce but that a correct engine would never itself write
// (e.g. a page counter with an illegal value).
type MemFlash struct {
	buf       []byte
	pageSize  int // erase span; 0 means "erase to end of device"
	dead      bool
	faultLeft int // bytes remaining before the next Write/Erase call gets cut; <0 means disarmed
}

// NewMemFlash returns a new, fully erased MemFlash of size bytes. pageSize
// is the span an Erase call clears; pass the same value as the Geometry the
// engine will use over this device.
func NewMemFlash(size int64, pageSize int) *MemFlash {
	buf := make([]byte, size)
	for i := range buf {
		buf[i] = 0xFF
	}
	return &MemFlash{buf: buf, pageSize: pageSize, faultLeft: -1}
}

// Size returns the device's total byte size.
func (m *MemFlash) Size() int64 { return int64(len(m.buf)) }

// Read implements Flash.
func (m *MemFlash) Read(addr int64, n int) []byte {
	out := make([]byte, n)
	copy(out, m.buf[addr:addr+int64(n)])
	return out
}

// Write implements Flash.
func (m *MemFlash) Write(addr int64, p []byte) (int, error) {
	if m.dead {
		return 0, ErrPowerLoss
	}

	n := len(p)
	if m.faultLeft >= 0 && m.faultLeft < n {
		applied := m.faultLeft
		for i := 0; i < applied; i++ {
			m.buf[addr+int64(i)] &= p[i]
		}
		m.dead = true
		m.faultLeft = -1
		return applied, ErrPowerLoss
	}

	for i := 0; i < n; i++ {
		m.buf[addr+int64(i)] &= p[i]
	}
	if m.faultLeft >= 0 {
		m.faultLeft -= n
	}
	return n, nil
}

// Erase implements Flash. Unlike Write, Erase is allowed to set bits back to
// 1 - on real hardware it is the only operation that can.
func (m *MemFlash) Erase(pageAddr int64) error {
	if m.dead {
		return ErrPowerLoss
	}

	n := m.pageSize
	if n <= 0 || pageAddr+int64(n) > int64(len(m.buf)) {
		n = len(m.buf) - int(pageAddr)
	}

	if m.faultLeft >= 0 && m.faultLeft < n {
		applied := m.faultLeft
		for i := 0; i < applied; i++ {
			m.buf[pageAddr+int64(i)] = 0xFF
		}
		m.dead = true
		m.faultLeft = -1
		return ErrPowerLoss
	}

	for i := 0; i < n; i++ {
		m.buf[pageAddr+int64(i)] = 0xFF
	}
	if m.faultLeft >= 0 {
		m.faultLeft -= n
	}
	return nil
}

// ArmFault arms a one-shot fault: Write and Erase calls may apply afterBytes
// bytes in total, and the call that would go past that budget is cut short
// after applying what is left of it, after which the device reports
// ErrPowerLoss on every subsequent call until Reboot.
func (m *MemFlash) ArmFault(afterBytes int) {
	m.faultLeft = afterBytes
}

// Reboot clears the simulated power-loss state without altering flash
// contents - the moment a caller then exercises by constructing a fresh
// Engine/File over the same MemFlash and calling Open.
func (m *MemFlash) Reboot() {
	m.dead = false
	m.faultLeft = -1
}

// Poke sets a single byte directly, bypassing Write's AND-merge semantics.
// It exists to hand-build flash images representing crash outcomes (e.g. an
// illegal page counter) that the engine itself would never produce but that
// real interrupted hardware erases can.
func (m *MemFlash) Poke(addr int64, b byte) {
	m.buf[addr] = b
}
