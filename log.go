package mls

import (
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with MLS-specific context. Every call site in
// this package logs group_id/epoch/leaf_index/message-type identifiers
// only — secret material (keys, path secrets, PSKs) is never a log
// argument.
type Logger struct {
	inner *slog.Logger
}

var defaultLogger *Logger

func init() {
	defaultLogger = New(slog.LevelInfo)
}

// New creates a Logger that writes JSON to stderr at the given level.
func New(level slog.Level) *Logger {
	h := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return &Logger{inner: slog.New(h)}
}

// NewWithHandler creates a Logger backed by the supplied slog.Handler,
// for tests or a custom destination.
func NewWithHandler(h slog.Handler) *Logger {
	return &Logger{inner: slog.New(h)}
}

// SetDefault replaces the package-level default logger.
func SetDefault(l *Logger) {
	if l != nil {
		defaultLogger = l
	}
}

// Default returns the current package-level default logger.
func Default() *Logger {
	return defaultLogger
}

// ForGroup returns a child logger scoped to one group, the primary way
// a CommitProcessor/GroupState call site obtains its contextual
// logger.
func (l *Logger) ForGroup(groupID []byte) *Logger {
	return &Logger{inner: l.inner.With("group_id", shortHex(groupID))}
}

// WithEpoch returns a child logger additionally scoped to an epoch.
func (l *Logger) WithEpoch(epoch uint64) *Logger {
	return &Logger{inner: l.inner.With("epoch", epoch)}
}

func (l *Logger) With(args ...any) *Logger { return &Logger{inner: l.inner.With(args...)} }

func (l *Logger) Debug(msg string, args ...any) { l.inner.Debug(msg, args...) }
func (l *Logger) Info(msg string, args ...any)  { l.inner.Info(msg, args...) }
func (l *Logger) Warn(msg string, args ...any)  { l.inner.Warn(msg, args...) }
func (l *Logger) Error(msg string, args ...any) { l.inner.Error(msg, args...) }

// shortHex renders an identifier's first 8 bytes as hex, enough to
// correlate log lines without dumping a full group_id/ref.
func shortHex(b []byte) string {
	if len(b) > 8 {
		b = b[:8]
	}
	const hexdigits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = hexdigits[c>>4]
		out[i*2+1] = hexdigits[c&0xf]
	}
	return string(out)
}
