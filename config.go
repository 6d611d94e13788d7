// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Engine configuration, modelled on dbm.Options: a plain struct with an
// explicit validation step and a checked guard against re-validating.

package flashq

import (
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Geometry describes the physical layout shared by every file an Engine
// manages: the device's page size and the default page count new
// partitions are expected to use. Individual files may use a different
// page count via their Region, but must share PageSize with the Engine's
// Flash.
type Geometry struct {
	PageSize     int // bytes per page; device constant, typically >= 128
	PagesPerFile int // default pages per file; overridden per Region.Pages

	checked bool
}

// DefaultGeometry returns the geometry used throughout spec.md 8's
// concrete scenarios: 128 byte pages, 3 pages per file.
func DefaultGeometry() Geometry {
	return Geometry{PageSize: 128, PagesPerFile: 3}
}

// FileSize returns pages*PageSize for the given page count.
func (g Geometry) FileSize(pages int) int64 {
	return int64(pages) * int64(g.PageSize)
}

// Validate checks the geometry is usable: PAGES_PER_FILE >= 3 (spec.md 3:
// one page may be erasing, one writing, one reading at any moment) and a
// page size that can hold at least a one-byte chunk plus its header and
// counter.
func (g *Geometry) Validate() error {
	if g.checked {
		return nil
	}
	if g.PageSize < minChunkPayload+chunkHeaderSize+1 {
		return errors.Wrapf(ErrBadGeometry, "page size %d too small to hold any chunk", g.PageSize)
	}
	if g.PagesPerFile < 3 {
		return errors.Wrapf(ErrBadGeometry, "pages per file %d below the required minimum of 3", g.PagesPerFile)
	}
	g.checked = true
	return nil
}

// Options amends Engine behavior beyond raw geometry, mirroring the shape
// of dbm.Options (dbm/options.go): a struct passed to the constructor, with
// fields a caller sets and the engine reads, never the reverse.
type Options struct {
	// Logger receives structured diagnostics for page claims, erases,
	// repairs and rejected writes. A nil Logger uses the package default
	// (see log.go).
	Logger Logger
}

// LoadGeometryFromViper hydrates a Geometry from a *viper.Viper under keys
// "flashq.page_size" and "flashq.pages_per_file" (env var equivalents
// FLASHQ_PAGE_SIZE / FLASHQ_PAGES_PER_FILE once v.AutomaticEnv/SetEnvPrefix
// has been configured by the caller), falling back to DefaultGeometry for
// any key that is unset. This is sugar for host tooling that provisions many
// device profiles from one config file; the engine itself never reads
// viper directly.
func LoadGeometryFromViper(v *viper.Viper) Geometry {
	g := DefaultGeometry()
	if v == nil {
		return g
	}
	if v.IsSet("flashq.page_size") {
		g.PageSize = v.GetInt("flashq.page_size")
	}
	if v.IsSet("flashq.pages_per_file") {
		g.PagesPerFile = v.GetInt("flashq.pages_per_file")
	}
	return g
}
