// file: logger/logger.go
package logger

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
)

var _ ILogger = (*Logger)(nil)
var _ LoggerEntry = (*entry)(nil)

// ----------------------------------------------------
// Interfaces
// ----------------------------------------------------

// ILogger is the structured logging contract used throughout the mesh.
// The concrete implementation is backed by zerolog; this interface keeps
// call sites independent of that choice and testable against a fake.
type ILogger interface {
	Debug(msg string)
	Info(msg string)
	Warn(msg string)
	Error(msg string, err error)

	WithContext(contextID string) ILogger
	With(key string, value any) LoggerEntry
	SetLevel(level string)
	Clone() ILogger
}

// LoggerEntry accumulates fields before emitting a single structured
// line, mirroring zerolog's own chained-event builder.
type LoggerEntry interface {
	With(key string, value any) LoggerEntry
	Debug(msg string)
	Info(msg string)
	Warn(msg string)
	Error(msg string, err error)
}

const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// Logger wraps a zerolog.Logger with the service name and an optional
// correlation (context) ID attached as structured fields.
type Logger struct {
	zl        zerolog.Logger
	service   string
	contextID string
}

// NewLogger builds a Logger writing to stderr at the given level, the
// default sink used outside of tests.
func NewLogger(serviceName, level string) ILogger {
	zerolog.SetGlobalLevel(parseLevel(level))
	zl := zerolog.New(os.Stderr).With().Timestamp().Str("service", serviceName).Logger()
	return &Logger{zl: zl, service: serviceName}
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func (l *Logger) SetLevel(level string) {
	zerolog.SetGlobalLevel(parseLevel(level))
}

func (l *Logger) WithContext(contextID string) ILogger {
	return &Logger{zl: l.zl, service: l.service, contextID: contextID}
}

func (l *Logger) Clone() ILogger {
	return &Logger{zl: l.zl, service: l.service, contextID: l.contextID}
}

func (l *Logger) With(key string, value any) LoggerEntry {
	return &entry{logger: l, fields: map[string]any{key: value}}
}

func (l *Logger) event(level zerolog.Level) *zerolog.Event {
	var ev *zerolog.Event
	switch level {
	case zerolog.DebugLevel:
		ev = l.zl.Debug()
	case zerolog.WarnLevel:
		ev = l.zl.Warn()
	case zerolog.ErrorLevel:
		ev = l.zl.Error()
	default:
		ev = l.zl.Info()
	}
	if l.contextID != "" {
		ev = ev.Str("contextID", l.contextID)
	}
	return ev
}

func (l *Logger) Debug(msg string) { l.event(zerolog.DebugLevel).Msg(msg) }
func (l *Logger) Info(msg string)  { l.event(zerolog.InfoLevel).Msg(msg) }
func (l *Logger) Warn(msg string)  { l.event(zerolog.WarnLevel).Msg(msg) }
func (l *Logger) Error(msg string, err error) {
	ev := l.event(zerolog.ErrorLevel)
	if err != nil {
		ev = ev.Err(err)
	}
	ev.Msg(msg)
}

// ----------------------------------------------------
// Entry (structured log builder)
// ----------------------------------------------------

type entry struct {
	logger *Logger
	fields map[string]any
}

func (e *entry) With(key string, value any) LoggerEntry {
	e.fields[key] = value
	return e
}

func (e *entry) build(level zerolog.Level) *zerolog.Event {
	ev := e.logger.event(level)
	for k, v := range e.fields {
		ev = ev.Interface(k, v)
	}
	return ev
}

func (e *entry) Debug(msg string) { e.build(zerolog.DebugLevel).Msg(msg) }
func (e *entry) Info(msg string)  { e.build(zerolog.InfoLevel).Msg(msg) }
func (e *entry) Warn(msg string)  { e.build(zerolog.WarnLevel).Msg(msg) }
func (e *entry) Error(msg string, err error) {
	ev := e.build(zerolog.ErrorLevel)
	if err != nil {
		ev = ev.Err(err)
	}
	ev.Msg(msg)
}
