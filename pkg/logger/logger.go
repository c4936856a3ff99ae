// Copyright 2026 Strand Authors
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

// Package logger configures the process-wide slog logger.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

var (
	defaultLogger *slog.Logger
	levelVar      slog.LevelVar
)

// ParseLevel converts a string log level to slog.Level.
// Valid levels: debug, info, warn, error. Unknown strings fall back to
// info.
func ParseLevel(levelStr string) slog.Level {
	switch strings.ToLower(levelStr) {
	case "debug":
		return slog.LevelDebug
	case "info", "":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func levelColor(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "\033[31m"
	case level >= slog.LevelWarn:
		return "\033[33m"
	case level >= slog.LevelInfo:
		return "\033[36m"
	default:
		return "\033[90m"
	}
}

func isTerminal(file *os.File) bool {
	if info, err := file.Stat(); err == nil {
		return (info.Mode() & os.ModeCharDevice) != 0
	}
	return false
}

func levelLabel(level slog.Level) string {
	s := strings.ToUpper(level.String())
	if s == "WARNING" {
		s = "WARN"
	}
	return s
}

// textHandler writes "LEVEL message key=value" lines, colorised when
// the output is a terminal and prefixed with a timestamp in verbose
// mode.
type textHandler struct {
	writer   io.Writer
	level    slog.Leveler
	useColor bool
	verbose  bool
	attrs    []slog.Attr
}

func (h *textHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *textHandler) Handle(_ context.Context, record slog.Record) error {
	var buf strings.Builder

	if h.verbose && !record.Time.IsZero() {
		buf.WriteString(record.Time.Format("2006/01/02 15:04:05 "))
	}
	if h.useColor {
		buf.WriteString(levelColor(record.Level))
		buf.WriteString(levelLabel(record.Level))
		buf.WriteString("\033[0m")
	} else {
		buf.WriteString(levelLabel(record.Level))
	}
	buf.WriteString(" ")
	buf.WriteString(record.Message)

	writeAttr := func(a slog.Attr) bool {
		buf.WriteString(" ")
		buf.WriteString(a.Key)
		buf.WriteString("=")
		buf.WriteString(a.Value.String())
		return true
	}
	for _, a := range h.attrs {
		writeAttr(a)
	}
	record.Attrs(writeAttr)
	buf.WriteString("\n")

	_, err := io.WriteString(h.writer, buf.String())
	return err
}

func (h *textHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := *h
	out.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &out
}

func (h *textHandler) WithGroup(string) slog.Handler {
	// Groups are flattened; the handler format has no nesting.
	return h
}

// Init installs the process-wide logger.
// format: "simple" (level + message, the default) or "verbose" (adds
// timestamps); any other value uses the standard slog text handler.
func Init(level slog.Level, output *os.File, format string) {
	levelVar.Set(level)
	var handler slog.Handler
	switch format {
	case "simple", "":
		handler = &textHandler{writer: output, level: &levelVar, useColor: isTerminal(output)}
	case "verbose":
		handler = &textHandler{writer: output, level: &levelVar, useColor: isTerminal(output), verbose: true}
	default:
		handler = slog.NewTextHandler(output, &slog.HandlerOptions{Level: &levelVar})
	}

	defaultLogger = slog.New(handler)
	slog.SetDefault(defaultLogger)
}

// SetLevel adjusts the level of the installed logger; config reloads
// use it to change verbosity without a restart.
func SetLevel(level slog.Level) {
	levelVar.Set(level)
}

// OpenLogFile opens or creates a log file for appending, returning the
// handle and its cleanup.
func OpenLogFile(path string) (*os.File, func(), error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, err
	}
	return file, func() { _ = file.Close() }, nil
}

// GetLogger returns the configured logger, initialising the default
// (info level, simple format, stderr) on first use.
func GetLogger() *slog.Logger {
	if defaultLogger == nil {
		Init(slog.LevelInfo, os.Stderr, "simple")
	}
	return defaultLogger
}
