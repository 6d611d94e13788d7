// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// The operation layer's handle registry: an owned Engine value replacing
// the teacher's/spec's process-global open-handle counter (spec.md 9).

package flashq

import (
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// File is a handle onto one logical FIFO file within a Region. It carries
// the four pointers spec.md 4.B-D describe (write head, raw-read head,
// destructive-read head, and the page-erase cursor implied by write_count)
// plus the free_space accounting invariant (spec.md 4.E) that every
// operation must leave consistent.
//
// A File is not safe for concurrent use; spec.md 3 assumes a single caller
// drives each file's three pointers, matching how the teacher's Filer
// implementations assume single-threaded callers unless documented
// otherwise.
type File struct {
	engine *Engine
	fileID string
	id     uuid.UUID
	log    Logger

	flash        Flash
	base         int64
	pageSize     int
	pagesPerFile int
	counterWidth int

	// writeOffset is the address of the next chunk header to write, or
	// (when atPageBoundary) the address of a page awaiting erase before
	// writes may resume (spec.md 4.B, the "stalled" state).
	writeOffset int64
	// writeCount is the rank (1..maxRank) to stamp into the next page's
	// counter when writeOffset reaches it (spec.md 4.A/4.K).
	writeCount int

	rawRead    int64 // non-destructive read cursor: header address of the current/next chunk (spec.md 4.C)
	rawPartial int   // payload bytes of the chunk at rawRead already delivered by Read, 0 at a chunk boundary
	destRead   int64 // destructive read cursor (spec.md 4.C)

	// freeSpace is the number of bytes between destRead and writeOffset
	// available for new chunks: total region size minus every byte
	// "charged" to a still-unconsumed chunk, counter, or dead tail
	// (spec.md 4.E).
	freeSpace int64

	closed bool
}

// Engine owns one Flash device, the PartitionTable describing how its
// files are laid out, and the registry of currently open handles. Callers
// construct one Engine per physical (or simulated) flash device; several
// independent Engines - e.g. several simulated chips in one test binary -
// never interfere with each other, since the open-handle registry they
// replace a single package-level global with is a field on this value
// rather than process state.
type Engine struct {
	flash     Flash
	partition PartitionTable
	geometry  Geometry
	logger    Logger
	handles   map[string]*File
}

// NewEngine constructs an Engine over fl, using pt to resolve file ids to
// regions and geom as the shared device geometry. opts.Logger, if set,
// overrides the package default logger for every File this Engine opens.
func NewEngine(fl Flash, pt PartitionTable, geom Geometry, opts Options) (*Engine, error) {
	if err := geom.Validate(); err != nil {
		return nil, err
	}

	lg := opts.Logger
	if lg == nil {
		lg = logger()
	}

	return &Engine{
		flash:     fl,
		partition: pt,
		geometry:  geom,
		logger:    lg,
		handles:   map[string]*File{},
	}, nil
}

// Open constructs a handle for fileID and recovers its logical pointers
// from flash (spec.md 4.F). Open fails with ErrBusy if fileID already has a
// handle open, and with ErrUnknownFile if the PartitionTable has no region
// for it.
func (e *Engine) Open(fileID string) (*File, error) {
	if _, busy := e.handles[fileID]; busy {
		return nil, errors.Wrapf(ErrBusy, "file %q", fileID)
	}

	region, ok := e.partition.Region(fileID)
	if !ok {
		return nil, errors.Wrapf(ErrUnknownFile, "file %q", fileID)
	}
	if region.Pages < 3 {
		return nil, errors.Wrapf(ErrBadGeometry, "file %q: region has only %d pages, need >= 3", fileID, region.Pages)
	}

	f := &File{
		engine:       e,
		fileID:       fileID,
		id:           uuid.New(),
		flash:        e.flash,
		base:         region.Base,
		pageSize:     e.geometry.PageSize,
		pagesPerFile: region.Pages,
		counterWidth: counterWidth(region.Pages),
		log:          e.logger,
	}

	if err := recoverFile(f); err != nil {
		return nil, errors.Wrapf(err, "file %q: recovery", fileID)
	}

	e.handles[fileID] = f
	f.log.Info("flashq: file opened", "file", fileID, "handle", f.id, "write_offset", f.writeOffset, "free_space", f.freeSpace)
	return f, nil
}

// close removes fileID's handle from the registry. Called by File.Close.
func (e *Engine) close(fileID string) {
	delete(e.handles, fileID)
}

// Close releases f's handle, allowing the same file id to be Open'd again.
// Close does not flush anything to flash: every operation already leaves
// the device in a crash-consistent state (spec.md 5), so there is nothing
// buffered to lose.
func (f *File) Close() error {
	if f.closed {
		return nil
	}
	f.closed = true
	f.engine.close(f.fileID)
	f.log.Info("flashq: file closed", "file", f.fileID, "handle", f.id)
	return nil
}
