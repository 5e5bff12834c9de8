// Leveled structured logging
//
// Loggers share one sink (writer, format, colors) and carry their own
// prefix, level and persistent fields. The level is held atomically so
// that hot paths can test Enabled without taking the sink lock.
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package log

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
)

// LogLevel represents the severity of a log message
type LogLevel int32

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
)

// String returns the string representation of the log level
func (l LogLevel) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel parses a string into a LogLevel, defaulting to INFO
func ParseLevel(s string) LogLevel {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return DEBUG
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	default:
		return INFO
	}
}

// OutputFormat specifies the output format for log messages
type OutputFormat int

const (
	FormatText OutputFormat = iota
	FormatJSON
)

// Fields is a map of structured logging fields
type Fields map[string]interface{}

// sink is the output shared by a logger and everything derived from it
type sink struct {
	mu         sync.Mutex
	writer     io.Writer
	format     OutputFormat
	colorize   bool
	caller     bool
	timeFormat string
}

// Logger writes leveled messages under a prefix
type Logger struct {
	out    *sink
	prefix string
	level  *atomic.Int32
	fields Fields
}

// New creates a logger with its own sink writing to stderr
func New(prefix string) *Logger {
	l := &Logger{
		out: &sink{
			writer:     os.Stderr,
			colorize:   os.Getenv("NO_COLOR") == "",
			timeFormat: "2006-01-02 15:04:05.000",
		},
		prefix: prefix,
		level:  new(atomic.Int32),
	}
	l.level.Store(int32(INFO))
	return l
}

// Named returns a logger sharing this logger's sink and level under a new prefix
func (l *Logger) Named(prefix string) *Logger {
	return &Logger{out: l.out, prefix: prefix, level: l.level, fields: l.fields}
}

// With returns a logger that attaches the given fields to every message
func (l *Logger) With(fields Fields) *Logger {
	merged := make(Fields, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &Logger{out: l.out, prefix: l.prefix, level: l.level, fields: merged}
}

// Prefix returns the logger's prefix
func (l *Logger) Prefix() string { return l.prefix }

// SetLevel sets the minimum level for this logger and the loggers sharing it
func (l *Logger) SetLevel(level LogLevel) { l.level.Store(int32(level)) }

// GetLevel returns the current minimum level
func (l *Logger) GetLevel() LogLevel { return LogLevel(l.level.Load()) }

// Enabled reports whether messages at level would be written
func (l *Logger) Enabled(level LogLevel) bool { return level >= l.GetLevel() }

// SetWriter sets the output writer
func (l *Logger) SetWriter(w io.Writer) {
	l.out.mu.Lock()
	l.out.writer = w
	l.out.mu.Unlock()
}

// SetFormat sets the output format
func (l *Logger) SetFormat(format OutputFormat) {
	l.out.mu.Lock()
	l.out.format = format
	l.out.mu.Unlock()
}

// SetColorize enables or disables ANSI colors in text output
func (l *Logger) SetColorize(enable bool) {
	l.out.mu.Lock()
	l.out.colorize = enable
	l.out.mu.Unlock()
}

// SetCaller enables or disables file:line annotations
func (l *Logger) SetCaller(enable bool) {
	l.out.mu.Lock()
	l.out.caller = enable
	l.out.mu.Unlock()
}

// WithField returns an Entry with the given field
func (l *Logger) WithField(key string, value interface{}) *Entry {
	return &Entry{logger: l, fields: Fields{key: value}}
}

// WithFields returns an Entry with the given fields
func (l *Logger) WithFields(fields Fields) *Entry {
	return &Entry{logger: l, fields: fields}
}

// WithError returns an Entry with the error field set
func (l *Logger) WithError(err error) *Entry {
	return l.WithField("error", err.Error())
}

func (l *Logger) Debug(msg string, args ...interface{}) { l.write(DEBUG, msg, args, nil) }
func (l *Logger) Info(msg string, args ...interface{})  { l.write(INFO, msg, args, nil) }
func (l *Logger) Warn(msg string, args ...interface{})  { l.write(WARN, msg, args, nil) }
func (l *Logger) Error(msg string, args ...interface{}) { l.write(ERROR, msg, args, nil) }

// write formats and emits one record. It must be called directly from the
// public logging methods so that the caller depth stays fixed.
func (l *Logger) write(level LogLevel, msg string, args []interface{}, fields Fields) {
	if !l.Enabled(level) {
		return
	}
	if len(args) > 0 {
		msg = fmt.Sprintf(msg, args...)
	}
	if len(l.fields) > 0 {
		merged := make(Fields, len(l.fields)+len(fields))
		for k, v := range l.fields {
			merged[k] = v
		}
		for k, v := range fields {
			merged[k] = v
		}
		fields = merged
	}

	l.out.mu.Lock()
	defer l.out.mu.Unlock()
	rec := record{level: level, prefix: l.prefix, msg: msg, fields: fields}
	if l.out.caller {
		rec.caller = callerOf(3)
	}
	var line string
	if l.out.format == FormatJSON {
		line = encodeJSON(rec)
	} else {
		line = encodeText(rec, l.out.timeFormat, l.out.colorize)
	}
	io.WriteString(l.out.writer, line)
}

// Entry is a pending log record carrying fields
type Entry struct {
	logger *Logger
	fields Fields
}

// WithField adds a field to the entry
func (e *Entry) WithField(key string, value interface{}) *Entry {
	return e.WithFields(Fields{key: value})
}

// WithFields adds multiple fields to the entry
func (e *Entry) WithFields(fields Fields) *Entry {
	merged := make(Fields, len(e.fields)+len(fields))
	for k, v := range e.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &Entry{logger: e.logger, fields: merged}
}

// WithError adds an error field to the entry
func (e *Entry) WithError(err error) *Entry {
	return e.WithField("error", err.Error())
}

func (e *Entry) Debug(msg string) { e.logger.write(DEBUG, msg, nil, e.fields) }
func (e *Entry) Info(msg string)  { e.logger.write(INFO, msg, nil, e.fields) }
func (e *Entry) Warn(msg string)  { e.logger.write(WARN, msg, nil, e.fields) }
func (e *Entry) Error(msg string) { e.logger.write(ERROR, msg, nil, e.fields) }

func (e *Entry) Debugf(format string, args ...interface{}) {
	e.logger.write(DEBUG, format, args, e.fields)
}

func (e *Entry) Infof(format string, args ...interface{}) {
	e.logger.write(INFO, format, args, e.fields)
}

func (e *Entry) Warnf(format string, args ...interface{}) {
	e.logger.write(WARN, format, args, e.fields)
}

func (e *Entry) Errorf(format string, args ...interface{}) {
	e.logger.write(ERROR, format, args, e.fields)
}
