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

// Package logger provides the orchestrator's line-oriented colored logging:
// a severity tag ([INFO], [SUCCESS], [WARN], [ERROR], [VERBOSE]) and,
// for records carrying a "worker" attribute, a per-worker-id color so
// interleaved child-process output stays visually separable on a terminal.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/fatih/color"
)

var defaultLogger *slog.Logger

// WorkerKey is the slog attribute key that triggers per-worker colorization.
const WorkerKey = "worker"

// workerColors cycles through a fixed palette keyed by worker id modulo
// len(workerColors), so worker output stays visually distinct without
// needing to know num_workers ahead of time.
var workerColors = []*color.Color{
	color.New(color.FgGreen),
	color.New(color.FgMagenta),
	color.New(color.FgBlue),
	color.New(color.FgYellow),
	color.New(color.FgCyan),
	color.New(color.FgRed),
	color.New(color.FgHiGreen),
	color.New(color.FgHiMagenta),
}

// ParseLevel converts a string log level to slog.Level.
// Valid levels: debug, info, warn, error.
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
		return slog.LevelInfo, fmt.Errorf("invalid log level %q (valid: debug, info, warn, error)", levelStr)
	}
}

// levelTag returns the bracketed severity tag for a level, matching
// spec.md's required set: [INFO], [SUCCESS], [WARN], [ERROR], [VERBOSE].
// "SUCCESS" has no slog.Level of its own; callers mark it by logging at
// Info with a "success"=true attribute (see Success below).
func levelTag(level slog.Level, success bool) (string, *color.Color) {
	switch {
	case success:
		return "[SUCCESS]", color.New(color.FgGreen, color.Bold)
	case level >= slog.LevelError:
		return "[ERROR]", color.New(color.FgRed, color.Bold)
	case level >= slog.LevelWarn:
		return "[WARN]", color.New(color.FgYellow, color.Bold)
	case level >= slog.LevelInfo:
		return "[INFO]", color.New(color.FgCyan)
	default:
		return "[VERBOSE]", color.New(color.FgHiBlack)
	}
}

// coloredHandler renders records as "[TAG] message key=value ...", coloring
// the tag by severity and, when a worker attribute is present, coloring the
// whole line by worker id.
type coloredHandler struct {
	writer   io.Writer
	minLevel slog.Level
	useColor bool
	attrs    []slog.Attr
}

func (h *coloredHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.minLevel
}

func (h *coloredHandler) Handle(_ context.Context, record slog.Record) error {
	success := false
	var workerID = -1
	allAttrs := append([]slog.Attr{}, h.attrs...)
	record.Attrs(func(a slog.Attr) bool {
		if a.Key == "success" && a.Value.Kind() == slog.KindBool && a.Value.Bool() {
			success = true
			return true
		}
		if a.Key == WorkerKey && a.Value.Kind() == slog.KindInt64 {
			workerID = int(a.Value.Int64())
		}
		allAttrs = append(allAttrs, a)
		return true
	})

	tag, tagColor := levelTag(record.Level, success)

	var buf strings.Builder
	if h.useColor {
		buf.WriteString(tagColor.Sprint(tag))
	} else {
		buf.WriteString(tag)
	}
	buf.WriteString(" ")
	buf.WriteString(record.Message)
	for _, a := range allAttrs {
		buf.WriteString(" ")
		buf.WriteString(a.Key)
		buf.WriteString("=")
		buf.WriteString(a.Value.String())
	}

	line := buf.String()
	if h.useColor && workerID >= 0 {
		line = workerColors[workerID%len(workerColors)].Sprint(line)
	}

	_, err := io.WriteString(h.writer, line+"\n")
	return err
}

func (h *coloredHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &coloredHandler{
		writer:   h.writer,
		minLevel: h.minLevel,
		useColor: h.useColor,
		attrs:    append(append([]slog.Attr{}, h.attrs...), attrs...),
	}
}

func (h *coloredHandler) WithGroup(_ string) slog.Handler {
	return h
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}

// Init installs the process-wide default slog logger. format selects the
// handler: "json" uses slog's JSONHandler, "text" its TextHandler, and any
// other value uses coloredHandler, which emits color codes only when output
// is a terminal.
func Init(level slog.Level, output *os.File, format string) {
	var handler slog.Handler
	switch {
	case format == "json":
		handler = slog.NewJSONHandler(output, &slog.HandlerOptions{Level: level})
	case format == "text":
		handler = slog.NewTextHandler(output, &slog.HandlerOptions{Level: level})
	default:
		handler = &coloredHandler{
			writer:   output,
			minLevel: level,
			useColor: isTerminal(output),
		}
	}

	defaultLogger = slog.New(handler)
	slog.SetDefault(defaultLogger)
}

// Success logs a success-tagged line at Info level.
func Success(msg string, args ...any) {
	GetLogger().Info(msg, append(args, "success", true)...)
}

// ForWorker returns a logger that tags every record with the given worker
// id, so coloredHandler can colorize that worker's whole output stream.
func ForWorker(id int) *slog.Logger {
	return GetLogger().With(slog.Int(WorkerKey, id))
}

// OpenLogFile opens or creates a log file for appending.
func OpenLogFile(path string) (*os.File, func(), error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, err
	}
	return file, func() { _ = file.Close() }, nil
}

// GetLogger returns the process-wide default logger, initializing it with
// info/stderr/colored defaults on first use.
func GetLogger() *slog.Logger {
	if defaultLogger == nil {
		Init(slog.LevelInfo, os.Stderr, "colored")
	}
	return defaultLogger
}
