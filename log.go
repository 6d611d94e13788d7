// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Structured logging for page claims, erases, repairs and recovery.

package flashq

import (
	"os"
	"sync"

	charmlog "github.com/charmbracelet/log"
)

// Logger is the small slice of charmbracelet/log's API the engine needs,
// kept as an interface so callers can substitute their own sink (or a
// no-op one in tests that don't want log noise) without pulling in the
// concrete charmbracelet type everywhere.
type Logger interface {
	Debug(msg interface{}, keyvals ...interface{})
	Info(msg interface{}, keyvals ...interface{})
	Error(msg interface{}, keyvals ...interface{})
}

var (
	defaultLoggerOnce sync.Once
	defaultLoggerInst Logger
)

// logger returns the package-wide default Logger, a charmbracelet/log
// writer to stderr at Info level, lazily constructed once.
func logger() Logger {
	defaultLoggerOnce.Do(func() {
		l := charmlog.NewWithOptions(os.Stderr, charmlog.Options{
			ReportTimestamp: true,
			Prefix:          "flashq",
		})
		l.SetLevel(charmlog.InfoLevel)
		defaultLoggerInst = l
	})
	return defaultLoggerInst
}

// NopLogger discards everything; useful for tests that exercise recovery
// repeatedly and don't want the noise.
type NopLogger struct{}

func (NopLogger) Debug(interface{}, ...interface{}) {}
func (NopLogger) Info(interface{}, ...interface{})  {}
func (NopLogger) Error(interface{}, ...interface{}) {}
