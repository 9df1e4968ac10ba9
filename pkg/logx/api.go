package logx

import (
	"context"
	"fmt"
	"io"
)

// defaultLogger backs the package-level functions. It is configured from
// the environment at init and replaced by SetDefaultLogger once the
// command has loaded its config.
var defaultLogger = NewLogger(LoadFromEnv())

// SetDefaultLogger sets the default logger
func SetDefaultLogger(logger *Logger) {
	defaultLogger = logger
}

// GetDefaultLogger returns the default logger
func GetDefaultLogger() *Logger {
	return defaultLogger
}

// SetLevel sets the log level for the default logger
func SetLevel(level Level) {
	defaultLogger.SetLevel(level)
}

// SetOutput sets the output for the default logger
func SetOutput(w io.Writer) {
	defaultLogger.SetOutput(w)
}

func Trace(msg string) { newEntry(defaultLogger).emit(LevelTrace, msg) }
func Debug(msg string) { newEntry(defaultLogger).emit(LevelDebug, msg) }
func Info(msg string)  { newEntry(defaultLogger).emit(LevelInfo, msg) }
func Warn(msg string)  { newEntry(defaultLogger).emit(LevelWarn, msg) }
func Error(msg string) { newEntry(defaultLogger).emit(LevelError, msg) }

// Fatal logs at fatal level and exits the process.
func Fatal(msg string) { newEntry(defaultLogger).emit(LevelFatal, msg) }

func Debugf(format string, args ...interface{}) {
	newEntry(defaultLogger).emit(LevelDebug, fmt.Sprintf(format, args...))
}

func Infof(format string, args ...interface{}) {
	newEntry(defaultLogger).emit(LevelInfo, fmt.Sprintf(format, args...))
}

func Warnf(format string, args ...interface{}) {
	newEntry(defaultLogger).emit(LevelWarn, fmt.Sprintf(format, args...))
}

func Errorf(format string, args ...interface{}) {
	newEntry(defaultLogger).emit(LevelError, fmt.Sprintf(format, args...))
}

func Fatalf(format string, args ...interface{}) {
	newEntry(defaultLogger).emit(LevelFatal, fmt.Sprintf(format, args...))
}

// WithFields creates a new logger entry with fields
func WithFields(fields Fields) *Entry {
	return defaultLogger.WithFields(fields)
}

// WithField creates a new logger entry with a single field
func WithField(key string, value interface{}) *Entry {
	return defaultLogger.WithField(key, value)
}

// WithContext creates an entry stamped with the fields carried by ctx.
func WithContext(ctx context.Context) *Entry {
	return defaultLogger.WithContext(ctx)
}

// WithError creates a new logger entry with an error field
func WithError(err error) *Entry {
	return defaultLogger.WithError(err)
}

// Named returns a child of the default logger stamped with fields
func Named(fields Fields) *Logger {
	return defaultLogger.Named(fields)
}
