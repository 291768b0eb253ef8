// Package logger provides process-wide structured logging on top of
// log/slog, with a simple/verbose text format and terminal coloring.
//
// Adapted from hector's pkg/logger (github.com/kadirpekel/hector, Apache
// License 2.0, Copyright 2025 Kadir Pekel — http://www.apache.org/licenses/LICENSE-2.0):
// the level-filtering/coloring idea is carried over, restructured around a
// level→style table and mattn/go-isatty's terminal check rather than the
// original's if/switch cascades and os.ModeCharDevice test.
package logger

import (
	"context"
	"log/slog"
	"os"
	"runtime"
	"strings"

	"github.com/mattn/go-isatty"
)

var defaultLogger *slog.Logger

const cubiclerPackagePrefix = "github.com/cubicler/cubicler"

// ParseLevel converts a string log level to slog.Level. Valid levels:
// debug, info, warn, error; anything else falls back to warn.
func ParseLevel(levelStr string) (slog.Level, error) {
	switch strings.ToLower(levelStr) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelWarn, nil
	}
}

// levelStyle is one entry of the level→ANSI-color table, evaluated in
// order so the first matching (highest) threshold wins.
type levelStyle struct {
	min  slog.Level
	ansi string
}

var levelStyles = []levelStyle{
	{slog.LevelError, "\033[31m"}, // red
	{slog.LevelWarn, "\033[33m"},  // yellow
	{slog.LevelInfo, "\033[36m"},  // cyan
	{slog.Level(-100), "\033[90m"}, // gray, catches debug and below
}

func colorFor(level slog.Level) string {
	for _, s := range levelStyles {
		if level >= s.min {
			return s.ansi
		}
	}
	return ""
}

const ansiReset = "\033[0m"

// normalizeLevelName collapses slog's "WARNING" spelling to "WARN" to match
// the short form every format below uses.
func normalizeLevelName(level slog.Level) string {
	name := strings.ToUpper(level.String())
	if name == "WARNING" {
		return "WARN"
	}
	return name
}

// writeAttrs appends each attribute as " key=value" to buf.
func writeAttrs(buf *strings.Builder, record slog.Record) {
	record.Attrs(func(a slog.Attr) bool {
		buf.WriteByte(' ')
		buf.WriteString(a.Key)
		buf.WriteByte('=')
		buf.WriteString(a.Value.String())
		return true
	})
}

// filteringHandler wraps a slog handler and suppresses third-party-library
// log records unless the configured level is debug or lower — Cubicler's
// own call sites always pass through.
type filteringHandler struct {
	handler  slog.Handler
	minLevel slog.Level
}

func (h *filteringHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.minLevel && h.handler.Enabled(ctx, level)
}

func (h *filteringHandler) Handle(ctx context.Context, record slog.Record) error {
	if h.minLevel <= slog.LevelDebug || h.fromCubicler(record.PC) {
		return h.handler.Handle(ctx, record)
	}
	return nil
}

func (h *filteringHandler) fromCubicler(pc uintptr) bool {
	if pc == 0 {
		return false
	}
	fn := runtime.FuncForPC(pc)
	if fn == nil {
		return false
	}
	file, _ := fn.FileLine(pc)
	return strings.Contains(fn.Name(), cubiclerPackagePrefix) || strings.Contains(file, "cubicler/")
}

func (h *filteringHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &filteringHandler{handler: h.handler.WithAttrs(attrs), minLevel: h.minLevel}
}

func (h *filteringHandler) WithGroup(name string) slog.Handler {
	return &filteringHandler{handler: h.handler.WithGroup(name), minLevel: h.minLevel}
}

// lineHandler renders one record as a single text line: optionally a
// timestamp, a (possibly colored) level tag, the message, and attributes.
// coloredTextHandler (terminal) and simpleTextHandler (non-terminal) both
// reduce to this with different options, instead of duplicating the
// attribute-writing loop per format.
type lineHandler struct {
	handler   slog.Handler
	writer    *os.File
	withTime  bool
	withColor bool
}

func (h *lineHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.handler.Enabled(ctx, level)
}

func (h *lineHandler) Handle(ctx context.Context, record slog.Record) error {
	var buf strings.Builder

	if h.withTime && !record.Time.IsZero() {
		buf.WriteString(record.Time.Format("2006/01/02 15:04:05 "))
	}

	levelName := normalizeLevelName(record.Level)
	if h.withColor {
		buf.WriteString(colorFor(record.Level))
		buf.WriteString(levelName)
		buf.WriteString(ansiReset)
	} else {
		buf.WriteString(levelName)
	}
	buf.WriteByte(' ')
	buf.WriteString(record.Message)
	writeAttrs(&buf, record)
	buf.WriteByte('\n')

	_, err := h.writer.WriteString(buf.String())
	return err
}

func (h *lineHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &lineHandler{handler: h.handler.WithAttrs(attrs), writer: h.writer, withTime: h.withTime, withColor: h.withColor}
}

func (h *lineHandler) WithGroup(name string) slog.Handler {
	return &lineHandler{handler: h.handler.WithGroup(name), writer: h.writer, withTime: h.withTime, withColor: h.withColor}
}

// isTerminal reports whether output is attached to a terminal, so Init can
// decide whether ANSI color codes are safe to emit.
func isTerminal(output *os.File) bool {
	return isatty.IsTerminal(output.Fd()) || isatty.IsCygwinTerminal(output.Fd())
}

// Init installs the process-wide slog default logger. format selects
// "simple" (level + message + attributes, the default), "verbose" (timestamp + level +
// message + attributes), or anything else (plain slog.TextHandler).
// Third-party library log records are suppressed unless level is debug.
// Color is enabled automatically when output is a terminal.
func Init(level slog.Level, output *os.File, format string) {
	simple := format == "simple" || format == ""
	verbose := format == "verbose"
	color := isTerminal(output)

	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey && a.Value.String() == "WARNING" {
				return slog.String("level", "WARN")
			}
			return a
		},
	}
	base := slog.NewTextHandler(output, opts)

	var handler slog.Handler = base
	switch {
	case simple || verbose:
		handler = &lineHandler{handler: base, writer: output, withTime: verbose, withColor: color}
	}

	defaultLogger = slog.New(&filteringHandler{handler: handler, minLevel: level})
	slog.SetDefault(defaultLogger)
}

// OpenLogFile opens or creates a log file at path for append-only writes.
func OpenLogFile(path string) (*os.File, func(), error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, err
	}
	return file, func() { file.Close() }, nil
}

// GetLogger returns the process-wide logger, initializing it with
// info/simple defaults on first use.
func GetLogger() *slog.Logger {
	if defaultLogger == nil {
		Init(slog.LevelInfo, os.Stderr, "simple")
	}
	return defaultLogger
}
