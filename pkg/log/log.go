package log

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"
)

var (
	defaultLogger *Logger
	defaultLock   sync.RWMutex
)

func init() {
	zerolog.TimestampFieldName = "time"
	zerolog.MessageFieldName = "msg"
	defaultLogger = New(os.Stdout, LogLevelInfo)
}

type LogLevel int

const (
	LogLevelError LogLevel = iota
	LogLevelWarn
	LogLevelInfo
	LogLevelDebug
	LogLevelTrace
)

func (level LogLevel) String() string {
	switch level {
	case LogLevelError:
		return "error"
	case LogLevelWarn:
		return "warn"
	case LogLevelInfo:
		return "info"
	case LogLevelDebug:
		return "debug"
	case LogLevelTrace:
		return "trace"
	default:
		return "unknown"
	}
}

func (level LogLevel) zerolog() zerolog.Level {
	switch level {
	case LogLevelError:
		return zerolog.ErrorLevel
	case LogLevelWarn:
		return zerolog.WarnLevel
	case LogLevelInfo:
		return zerolog.InfoLevel
	case LogLevelDebug:
		return zerolog.DebugLevel
	default:
		return zerolog.TraceLevel
	}
}

// ParseLogLevel parses a log level string into a LogLevel.
// Valid log levels are: error, warn, info, debug, trace.
func ParseLogLevel(level string) (LogLevel, error) {
	switch level {
	case "error":
		return LogLevelError, nil
	case "warn":
		return LogLevelWarn, nil
	case "info":
		return LogLevelInfo, nil
	case "debug":
		return LogLevelDebug, nil
	case "trace":
		return LogLevelTrace, nil
	default:
		return LogLevelError, fmt.Errorf("unknown log level: %s", level)
	}
}

// Logger is a leveled JSON logger. Each entry carries the level, a formatted
// message and any fields attached with WithField.
type Logger struct {
	zl zerolog.Logger
}

func New(out io.Writer, level LogLevel) *Logger {
	return &Logger{
		zl: zerolog.New(out).Level(level.zerolog()).With().Timestamp().Logger(),
	}
}

// SetDefaultLogger replaces the logger used by the package-level functions.
func SetDefaultLogger(l *Logger) {
	defaultLock.Lock()
	defer defaultLock.Unlock()
	defaultLogger = l
}

func getDefaultLogger() *Logger {
	defaultLock.RLock()
	defer defaultLock.RUnlock()
	return defaultLogger
}

// WithField returns a child logger that adds key to every entry.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{zl: l.zl.With().Interface(key, value).Logger()}
}

func (l *Logger) Error(format string, args ...interface{}) {
	l.zl.Error().Msgf(format, args...)
}

func (l *Logger) Warn(format string, args ...interface{}) {
	l.zl.Warn().Msgf(format, args...)
}

func (l *Logger) Info(format string, args ...interface{}) {
	l.zl.Info().Msgf(format, args...)
}

func (l *Logger) Debug(format string, args ...interface{}) {
	l.zl.Debug().Msgf(format, args...)
}

func (l *Logger) Trace(format string, args ...interface{}) {
	l.zl.Trace().Msgf(format, args...)
}

func WithField(key string, value interface{}) *Logger {
	return getDefaultLogger().WithField(key, value)
}

func Info(format string, args ...interface{}) {
	getDefaultLogger().Info(format, args...)
}

func Error(format string, args ...interface{}) {
	getDefaultLogger().Error(format, args...)
}

func Warn(format string, args ...interface{}) {
	getDefaultLogger().Warn(format, args...)
}

func Debug(format string, args ...interface{}) {
	getDefaultLogger().Debug(format, args...)
}

func Trace(format string, args ...interface{}) {
	getDefaultLogger().Trace(format, args...)
}
