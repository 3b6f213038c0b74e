package protomq

import (
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"strings"
)

// LogFields carries structured context alongside a log message.
type LogFields map[string]any

// Logger receives diagnostic events from a session. Implementations
// must be safe for concurrent use; the session calls them with its
// lock held, so they must not call back into the session.
type Logger interface {
	Debug(msg string, fields LogFields)
	Info(msg string, fields LogFields)
	Warn(msg string, fields LogFields)
	Error(msg string, fields LogFields)
}

// Field keys the session emits.
const (
	LogFieldClientID   = "client_id"
	LogFieldTopic      = "topic"
	LogFieldPacketID   = "packet_id"
	LogFieldQoS        = "qos"
	LogFieldReasonCode = "reason_code"
	LogFieldError      = "error"
	LogFieldVersion    = "version"
)

type noopLogger struct{}

// NewNoOpLogger returns a Logger that discards everything. Sessions
// use it unless WithLogger installs a real one.
func NewNoOpLogger() Logger { return noopLogger{} }

func (noopLogger) Debug(string, LogFields) {}
func (noopLogger) Info(string, LogFields)  {}
func (noopLogger) Warn(string, LogFields)  {}
func (noopLogger) Error(string, LogFields) {}

// LogLevel orders TextLogger severities.
type LogLevel int

const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelWarn
	LogLevelError
)

func (l LogLevel) String() string {
	switch l {
	case LogLevelDebug:
		return "DEBUG"
	case LogLevelInfo:
		return "INFO"
	case LogLevelWarn:
		return "WARN"
	case LogLevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// TextLogger writes one line per event through the standard log
// package, fields rendered as sorted key=value pairs.
type TextLogger struct {
	out *log.Logger
	min LogLevel
}

// NewTextLogger builds a TextLogger writing to w, dropping events
// below min. A nil w falls back to stderr.
func NewTextLogger(w io.Writer, min LogLevel) *TextLogger {
	if w == nil {
		w = os.Stderr
	}
	return &TextLogger{out: log.New(w, "", log.LstdFlags), min: min}
}

func (t *TextLogger) Debug(msg string, fields LogFields) { t.emit(LogLevelDebug, msg, fields) }
func (t *TextLogger) Info(msg string, fields LogFields)  { t.emit(LogLevelInfo, msg, fields) }
func (t *TextLogger) Warn(msg string, fields LogFields)  { t.emit(LogLevelWarn, msg, fields) }
func (t *TextLogger) Error(msg string, fields LogFields) { t.emit(LogLevelError, msg, fields) }

func (t *TextLogger) emit(level LogLevel, msg string, fields LogFields) {
	if level < t.min {
		return
	}
	if len(fields) == 0 {
		t.out.Printf("[%s] %s", level, msg)
		return
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, fields[k])
	}
	t.out.Printf("[%s] %s%s", level, msg, b.String())
}
