// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

// Package log is a small leveled-logging facade shared by pe, elf and ar.
// It exists so decoders can report permissive-mode anomalies uniformly
// without depending on a specific logging backend: callers plug in their
// own Logger (or use NewStdLogger), optionally narrowed by a level filter,
// and decoders only ever see the four Helper methods below.
package log

import (
	"fmt"
	"io"
	"log"
	"sync"
)

// Level is the severity of a log line.
type Level int

const (
	// LevelDebug is the most verbose level, for step-by-step decoding detail.
	LevelDebug Level = iota
	// LevelInfo is for routine, non-actionable progress.
	LevelInfo
	// LevelWarn is for recoverable anomalies that a permissive parse
	// tolerates and continues past.
	LevelWarn
	// LevelError is for failures that abort the current subsystem.
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Logger is the minimal backend interface. Log receives the level and a
// set of alternating key/value pairs followed by a "msg" key, mirroring
// the structured-logging convention used across the saferwall tooling.
type Logger interface {
	Log(level Level, keyvals ...interface{}) error
}

// stdLogger writes lines to an io.Writer via the standard library logger.
type stdLogger struct {
	mu  sync.Mutex
	std *log.Logger
}

// NewStdLogger returns a Logger that writes to w using the standard
// library's log.Logger, one line per call.
func NewStdLogger(w io.Writer) Logger {
	return &stdLogger{std: log.New(w, "", log.LstdFlags)}
}

func (s *stdLogger) Log(level Level, keyvals ...interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.std.Println(append([]interface{}{level.String()}, keyvals...)...)
	return nil
}

// filter wraps a Logger and drops any record below a minimum level.
type filter struct {
	next Logger
	min  Level
}

// Option configures a filter built by NewFilter.
type Option func(*filter)

// FilterLevel sets the minimum level a record must meet to pass through.
func FilterLevel(min Level) Option {
	return func(f *filter) { f.min = min }
}

// NewFilter wraps next with the given options, e.g.
// log.NewFilter(logger, log.FilterLevel(log.LevelWarn)).
func NewFilter(next Logger, opts ...Option) Logger {
	f := &filter{next: next, min: LevelDebug}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *filter) Log(level Level, keyvals ...interface{}) error {
	if level < f.min {
		return nil
	}
	return f.next.Log(level, keyvals...)
}

// Helper adapts a Logger to the printf-style Debugf/Infof/Warnf/Errorf
// methods that pe.File, elf.File and ar.Archive call directly.
type Helper struct {
	logger Logger
}

// NewHelper wraps logger in printf-style convenience methods.
func NewHelper(logger Logger) *Helper {
	return &Helper{logger: logger}
}

func (h *Helper) log(level Level, format string, args ...interface{}) {
	if h == nil || h.logger == nil {
		return
	}
	_ = h.logger.Log(level, "msg", fmt.Sprintf(format, args...))
}

// Debugf logs at LevelDebug.
func (h *Helper) Debugf(format string, args ...interface{}) { h.log(LevelDebug, format, args...) }

// Infof logs at LevelInfo.
func (h *Helper) Infof(format string, args ...interface{}) { h.log(LevelInfo, format, args...) }

// Warnf logs at LevelWarn.
func (h *Helper) Warnf(format string, args ...interface{}) { h.log(LevelWarn, format, args...) }

// Errorf logs at LevelError.
func (h *Helper) Errorf(format string, args ...interface{}) { h.log(LevelError, format, args...) }

func (h *Helper) print(level Level, args ...interface{}) {
	if h == nil || h.logger == nil {
		return
	}
	_ = h.logger.Log(level, "msg", fmt.Sprint(args...))
}

// Debug logs at LevelDebug without format verbs.
func (h *Helper) Debug(args ...interface{}) { h.print(LevelDebug, args...) }

// Info logs at LevelInfo without format verbs.
func (h *Helper) Info(args ...interface{}) { h.print(LevelInfo, args...) }

// Warn logs at LevelWarn without format verbs.
func (h *Helper) Warn(args ...interface{}) { h.print(LevelWarn, args...) }

// Error logs at LevelError without format verbs.
func (h *Helper) Error(args ...interface{}) { h.print(LevelError, args...) }
