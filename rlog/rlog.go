// Package rlog is the structured logging facade used throughout the
// client. The Logger interface's shape (level, message, alternating
// key/value pairs) mirrors the logging calls a broker connection
// connection handling makes at every control-plane decision point; the
// default implementation is backed by zerolog instead of a hand-rolled
// writer.
package rlog

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// Level is a logging severity, ordered least to most severe.
type Level int8

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelNone
)

// Logger is implemented by anything that can receive leveled, structured
// log lines. Components in this module never log directly to stdout; they
// hold a Logger and call Log.
type Logger interface {
	Log(level Level, msg string, keyvals ...any)
	Level() Level
}

// nopLogger drops everything; used as the zero-value default so components
// can be constructed without a logger in tests.
type nopLogger struct{}

func (nopLogger) Log(Level, string, ...any) {}
func (nopLogger) Level() Level              { return LevelNone }

// Nop returns a Logger that discards all log lines.
func Nop() Logger { return nopLogger{} }

// zlogger adapts zerolog.Logger to the Logger interface.
type zlogger struct {
	zl    zerolog.Logger
	level Level
}

// New returns a Logger writing JSON lines to w at the given minimum level.
func New(w io.Writer, level Level) Logger {
	if w == nil {
		w = os.Stderr
	}
	return &zlogger{
		zl:    zerolog.New(w).With().Timestamp().Logger(),
		level: level,
	}
}

// Default returns a Logger writing to stderr at LevelInfo, suitable for use
// until a caller passes its own Logger to the components it constructs.
func Default() Logger { return New(os.Stderr, LevelInfo) }

func (l *zlogger) Level() Level { return l.level }

func (l *zlogger) Log(level Level, msg string, keyvals ...any) {
	if level < l.level {
		return
	}
	var ev *zerolog.Event
	switch level {
	case LevelDebug:
		ev = l.zl.Debug()
	case LevelWarn:
		ev = l.zl.Warn()
	case LevelError:
		ev = l.zl.Error()
	default:
		ev = l.zl.Info()
	}
	for i := 0; i+1 < len(keyvals); i += 2 {
		key, _ := keyvals[i].(string)
		if key == "" {
			key = "field"
		}
		ev = ev.Interface(key, keyvals[i+1])
	}
	ev.Msg(msg)
}
