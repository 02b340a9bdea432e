// Package logger is a thin zerolog wrapper shared by every package of the
// migrator. Call Initialize once from main; Get falls back to a console logger
// at info level.
package logger

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Fields are structured key/value pairs attached to one event.
type Fields map[string]any

// Config holds logger configuration.
type Config struct {
	Level       string // debug, info, warn, error
	Format      string // json, console
	Output      io.Writer
	EnableColor bool
}

// Logger wraps a zerolog.Logger.
type Logger struct {
	zl zerolog.Logger
}

var (
	mu     sync.RWMutex
	global *Logger
)

// New builds a Logger without touching the global one.
func New(cfg Config) *Logger {
	var out io.Writer = os.Stderr
	if cfg.Output != nil {
		out = cfg.Output
	}
	if cfg.Format == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339, NoColor: !cfg.EnableColor}
	}
	zl := zerolog.New(out).Level(ParseLevel(cfg.Level)).With().Timestamp().Logger()
	return &Logger{zl: zl}
}

// Initialize replaces the global logger.
func Initialize(cfg Config) {
	l := New(cfg)
	mu.Lock()
	global = l
	mu.Unlock()
}

// Get returns the global logger.
func Get() *Logger {
	mu.RLock()
	l := global
	mu.RUnlock()
	if l != nil {
		return l
	}
	Initialize(Config{Level: "info", Format: "console", EnableColor: true})
	return Get()
}

// Nop returns a logger that discards everything. Handy in tests.
func Nop() *Logger { return &Logger{zl: zerolog.Nop()} }

// ParseLevel maps a level name to a zerolog level; unknown names mean info.
func ParseLevel(s string) zerolog.Level {
	switch s {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// With returns a child logger carrying fields on every event.
func (l *Logger) With(fields Fields) *Logger {
	c := l.zl.With()
	for k, v := range fields {
		c = c.Interface(k, v)
	}
	return &Logger{zl: c.Logger()}
}

func emit(e *zerolog.Event, msg string, fields []Fields) {
	for _, f := range fields {
		for k, v := range f {
			e = e.Interface(k, v)
		}
	}
	e.Msg(msg)
}

func (l *Logger) Debug(msg string, fields ...Fields) { emit(l.zl.Debug(), msg, fields) }
func (l *Logger) Info(msg string, fields ...Fields)  { emit(l.zl.Info(), msg, fields) }
func (l *Logger) Warn(msg string, fields ...Fields)  { emit(l.zl.Warn(), msg, fields) }

// Error logs msg with err attached.
func (l *Logger) Error(msg string, err error, fields ...Fields) {
	emit(l.zl.Error().Err(err), msg, fields)
}

// Package-level shortcuts on the global logger.

func Debug(msg string, fields ...Fields)            { Get().Debug(msg, fields...) }
func Info(msg string, fields ...Fields)             { Get().Info(msg, fields...) }
func Warn(msg string, fields ...Fields)             { Get().Warn(msg, fields...) }
func Error(msg string, err error, fields ...Fields) { Get().Error(msg, err, fields...) }
