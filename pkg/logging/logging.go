// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package logging sets up the process-wide structured logger used by
// every subsystem of the agent core. Third-party library chatter is
// suppressed unless the level is debug, so an operator running at info
// sees only records logged from this module's own packages.
package logging

import (
	"context"
	"log/slog"
	"os"
	"runtime"
	"strings"
)

var defaultLogger *slog.Logger

const corePackagePrefix = "github.com/HelloEveryboby/Butler"

// ParseLevel converts a string log level to slog.Level. Unknown values
// fall back to warn rather than erroring, since this is almost always
// fed from a config file or environment variable at startup.
func ParseLevel(levelStr string) slog.Level {
	switch strings.ToLower(levelStr) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}

// noiseFilter wraps a slog handler and drops records originating outside
// the core package unless the minimum level is debug.
type noiseFilter struct {
	handler  slog.Handler
	minLevel slog.Level
}

func (h *noiseFilter) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.minLevel && h.handler.Enabled(ctx, level)
}

func (h *noiseFilter) Handle(ctx context.Context, record slog.Record) error {
	if h.minLevel <= slog.LevelDebug || h.fromCore(record.PC) {
		return h.handler.Handle(ctx, record)
	}
	return nil
}

func (h *noiseFilter) fromCore(pc uintptr) bool {
	if pc == 0 {
		return false
	}
	fn := runtime.FuncForPC(pc)
	if fn == nil {
		return false
	}
	file, _ := fn.FileLine(pc)
	return strings.Contains(fn.Name(), corePackagePrefix) || strings.Contains(file, "Butler/")
}

func (h *noiseFilter) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &noiseFilter{handler: h.handler.WithAttrs(attrs), minLevel: h.minLevel}
}

func (h *noiseFilter) WithGroup(name string) slog.Handler {
	return &noiseFilter{handler: h.handler.WithGroup(name), minLevel: h.minLevel}
}

// Init installs the process-wide logger at the given level, writing to
// output as plain text (one line per record, key=value attributes).
// Subsequent calls replace the previous logger; Init is meant to run
// once during process startup, before any Agent Loop is started.
func Init(level slog.Level, output *os.File) {
	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey && a.Value.String() == "WARNING" {
				return slog.String(slog.LevelKey, "WARN")
			}
			return a
		},
	}
	handler := &noiseFilter{handler: slog.NewTextHandler(output, opts), minLevel: level}
	defaultLogger = slog.New(handler)
	slog.SetDefault(defaultLogger)
}

// Get returns the process-wide logger, initializing a sensible default
// (info level, stderr) the first time it's called.
func Get() *slog.Logger {
	if defaultLogger == nil {
		Init(slog.LevelInfo, os.Stderr)
	}
	return defaultLogger
}
