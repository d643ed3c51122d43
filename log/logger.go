// Package log provides structured JSON logging tagged with the live
// session it reports for.
//
// Every entry carries the dataset and client and, once authenticated, the
// gateway session id; call-site fields are nested under "fields". A nil
// *Logger discards everything, so core packages accept one without checks.
package log

import (
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// SessionMeta identifies the session a logger reports for.
type SessionMeta struct {
	Dataset string
	Client  string
}

// Level is a minimum severity.
type Level = zapcore.Level

const (
	DebugLevel = zapcore.DebugLevel
	InfoLevel  = zapcore.InfoLevel
	WarnLevel  = zapcore.WarnLevel
	ErrorLevel = zapcore.ErrorLevel
)

// ParseLevel accepts debug, info, warn or error, ignoring case. The empty
// string is info.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(s) {
	case "", "info":
		return InfoLevel, nil
	case "debug":
		return DebugLevel, nil
	case "warn", "warning":
		return WarnLevel, nil
	case "error":
		return ErrorLevel, nil
	}
	return InfoLevel, fmt.Errorf("unknown log level %q (want debug, info, warn or error)", s)
}

// Logger writes structured entries with session context.
type Logger struct {
	zap    *zap.Logger
	level  zap.AtomicLevel
	fields []zap.Field
}

// NewLogger returns an info-level logger on os.Stderr.
func NewLogger(meta SessionMeta) *Logger {
	var ctx []zap.Field
	if meta.Dataset != "" {
		ctx = append(ctx, zap.String("dataset", meta.Dataset))
	}
	if meta.Client != "" {
		ctx = append(ctx, zap.String("client", meta.Client))
	}
	return build(os.Stderr, zap.NewAtomicLevelAt(InfoLevel), ctx)
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{zap: zap.NewNop(), level: zap.NewAtomicLevelAt(ErrorLevel + 1)}
}

func build(w io.Writer, level zap.AtomicLevel, fields []zap.Field) *Logger {
	enc := zapcore.NewJSONEncoder(zapcore.EncoderConfig{
		TimeKey:     "timestamp",
		LevelKey:    "level",
		MessageKey:  "message",
		EncodeTime:  zapcore.RFC3339NanoTimeEncoder,
		EncodeLevel: zapcore.LowercaseLevelEncoder,
	})
	core := zapcore.NewCore(enc, zapcore.AddSync(w), level)
	return &Logger{zap: zap.New(core).With(fields...), level: level, fields: fields}
}

// WithOutput returns a logger with the same context and level writing to w.
func (l *Logger) WithOutput(w io.Writer) *Logger {
	if l == nil {
		return nil
	}
	return build(w, l.level, l.fields)
}

// SetLevel changes the minimum level for l and every logger derived
// from it.
func (l *Logger) SetLevel(level Level) {
	if l != nil {
		l.level.SetLevel(level)
	}
}

// With returns a logger that adds fields to every entry.
func (l *Logger) With(fields map[string]any) *Logger {
	if l == nil {
		return nil
	}
	extra := make([]zap.Field, 0, len(fields))
	for k, v := range fields {
		extra = append(extra, zap.Any(k, v))
	}
	return &Logger{
		zap:    l.zap.With(extra...),
		level:  l.level,
		fields: append(append([]zap.Field(nil), l.fields...), extra...),
	}
}

// WithSession returns a logger tagged with the gateway session id.
func (l *Logger) WithSession(sessionID string) *Logger {
	return l.With(map[string]any{"session_id": sessionID})
}

func (l *Logger) write(level Level, msg string, fields map[string]any) {
	if l == nil {
		return
	}
	if ce := l.zap.Check(level, msg); ce != nil {
		ce.Write(zap.Any("fields", fields))
	}
}

func (l *Logger) Debug(msg string, fields map[string]any) { l.write(DebugLevel, msg, fields) }
func (l *Logger) Info(msg string, fields map[string]any)  { l.write(InfoLevel, msg, fields) }
func (l *Logger) Warn(msg string, fields map[string]any)  { l.write(WarnLevel, msg, fields) }
func (l *Logger) Error(msg string, fields map[string]any) { l.write(ErrorLevel, msg, fields) }

// Sync flushes buffered entries.
func (l *Logger) Sync() error {
	if l == nil {
		return nil
	}
	return l.zap.Sync()
}
