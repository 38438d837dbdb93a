package observe

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"
)

// LogLevel represents a logging level.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

// ParseLogLevel parses a string log level. Unknown values map to LevelInfo.
func ParseLogLevel(s string) LogLevel {
	switch s {
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "warn":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "info"
	}
}

// sink is shared by a logger and every logger derived from it with With,
// so concurrent writers never interleave lines.
type sink struct {
	mu sync.Mutex
	w  io.Writer
}

// structuredLogger writes one JSON object per line.
type structuredLogger struct {
	level     LogLevel
	out       *sink
	baseAttrs map[string]any
	now       func() time.Time
}

// NewLogger creates a new structured logger with the given level.
func NewLogger(level string) Logger {
	return NewLoggerWithWriter(level, os.Stderr)
}

// NewLoggerWithWriter creates a new structured logger with a custom writer.
func NewLoggerWithWriter(level string, w io.Writer) Logger {
	return &structuredLogger{
		level:     ParseLogLevel(level),
		out:       &sink{w: w},
		baseAttrs: make(map[string]any),
		now:       time.Now,
	}
}

// With returns a logger carrying fields on every entry. Redaction applies
// to scoped fields the same way it applies to per-call fields.
func (l *structuredLogger) With(fields ...Field) Logger {
	attrs := make(map[string]any, len(l.baseAttrs)+len(fields))
	for k, v := range l.baseAttrs {
		attrs[k] = v
	}
	for _, f := range fields {
		attrs[f.Key] = fieldValue(f)
	}

	return &structuredLogger{
		level:     l.level,
		out:       l.out,
		baseAttrs: attrs,
		now:       l.now,
	}
}

func (l *structuredLogger) Info(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, LevelInfo, msg, fields)
}

func (l *structuredLogger) Warn(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, LevelWarn, msg, fields)
}

func (l *structuredLogger) Error(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, LevelError, msg, fields)
}

func (l *structuredLogger) Debug(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, LevelDebug, msg, fields)
}

func (l *structuredLogger) log(_ context.Context, level LogLevel, msg string, fields []Field) {
	if level < l.level {
		return
	}

	entry := make(map[string]any, len(l.baseAttrs)+len(fields)+3)
	entry["timestamp"] = l.now().UTC().Format(time.RFC3339Nano)
	entry["level"] = level.String()
	entry["msg"] = msg

	for k, v := range l.baseAttrs {
		entry[k] = v
	}
	for _, f := range fields {
		entry[f.Key] = fieldValue(f)
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return // drop entries that cannot be encoded
	}
	data = append(data, '\n')

	l.out.mu.Lock()
	defer l.out.mu.Unlock()
	_, _ = l.out.w.Write(data)
}

func fieldValue(f Field) any {
	if isRedactedField(f.Key) {
		return "[REDACTED]"
	}
	if err, ok := f.Value.(error); ok && err != nil {
		return err.Error()
	}
	return f.Value
}

var redactedKeys = func() map[string]bool {
	m := make(map[string]bool, len(RedactedFields))
	for _, k := range RedactedFields {
		m[k] = true
	}
	return m
}()

// isRedactedField returns true if the field should be redacted.
func isRedactedField(key string) bool {
	return redactedKeys[key]
}

var _ Logger = (*structuredLogger)(nil)
