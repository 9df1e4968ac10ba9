package logx

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"
)

// callerDepth skips getCaller, log, emit and the public level method.
const callerDepth = 4

// Logger writes formatted entries to a single writer. Children created with
// Named share the parent's writer, lock and level.
type Logger struct {
	config    *Config
	formatter Formatter
	out       *output
	exitFunc  func(int)
	base      Fields
}

type output struct {
	mu sync.Mutex
	w  io.Writer
}

// NewLogger creates a new logger with the given config
func NewLogger(config *Config) *Logger {
	if config == nil {
		config = DefaultConfig()
	}

	var formatter Formatter
	switch config.Format {
	case FormatJSON:
		formatter = NewJSONFormatter(config)
	default:
		formatter = NewConsoleFormatter(config)
	}

	w := config.Output
	if w == nil {
		w = os.Stderr
	}

	return &Logger{
		config:    config,
		formatter: formatter,
		out:       &output{w: w},
		exitFunc:  os.Exit,
	}
}

// Named returns a child logger that stamps every entry with the given
// fields on top of the parent's.
func (l *Logger) Named(fields Fields) *Logger {
	child := *l
	child.base = merge(l.base, fields)
	return &child
}

// ForContext is Named with the fields carried by ctx.
func (l *Logger) ForContext(ctx context.Context) *Logger {
	fields := FieldsFromContext(ctx)
	if len(fields) == 0 {
		return l
	}
	return l.Named(fields)
}

// SetLevel sets the log level
func (l *Logger) SetLevel(level Level) {
	l.out.mu.Lock()
	defer l.out.mu.Unlock()
	l.config.Level = level
}

// GetLevel returns the current log level
func (l *Logger) GetLevel() Level {
	l.out.mu.Lock()
	defer l.out.mu.Unlock()
	return l.config.Level
}

// SetOutput sets the output writer
func (l *Logger) SetOutput(w io.Writer) {
	l.out.mu.Lock()
	defer l.out.mu.Unlock()
	l.out.w = w
}

func (l *Logger) log(level Level, msg string, fields Fields, err error) {
	if !l.GetLevel().Enabled(level) {
		return
	}

	entry := &LogEntry{
		Level:     level,
		Message:   msg,
		Fields:    merge(l.base, fields),
		Error:     err,
		Timestamp: time.Now(),
	}
	if l.config.EnableCaller {
		entry.Caller = getCaller(callerDepth)
	}

	formatted, formatErr := l.formatter.Format(entry)
	if formatErr != nil {
		fmt.Fprintf(os.Stderr, "Error formatting log: %v\n", formatErr)
		return
	}

	l.out.mu.Lock()
	defer l.out.mu.Unlock()
	if _, writeErr := l.out.w.Write(formatted); writeErr != nil {
		fmt.Fprintf(os.Stderr, "Error writing log: %v\n", writeErr)
	}
}

// WithField creates a new entry with a field
func (l *Logger) WithField(key string, value interface{}) *Entry {
	return newEntry(l).WithField(key, value)
}

// WithFields creates a new entry with fields
func (l *Logger) WithFields(fields Fields) *Entry {
	return newEntry(l).WithFields(fields)
}

// WithError creates a new entry with an error
func (l *Logger) WithError(err error) *Entry {
	return newEntry(l).WithError(err)
}

// WithContext creates a new entry stamped with the fields carried by ctx
func (l *Logger) WithContext(ctx context.Context) *Entry {
	return newEntry(l).WithContext(ctx)
}

func (l *Logger) Debug(msg string) { newEntry(l).emit(LevelDebug, msg) }
func (l *Logger) Info(msg string)  { newEntry(l).emit(LevelInfo, msg) }
func (l *Logger) Warn(msg string)  { newEntry(l).emit(LevelWarn, msg) }
func (l *Logger) Error(msg string) { newEntry(l).emit(LevelError, msg) }

func (l *Logger) Debugf(format string, args ...interface{}) {
	newEntry(l).emit(LevelDebug, fmt.Sprintf(format, args...))
}

func (l *Logger) Infof(format string, args ...interface{}) {
	newEntry(l).emit(LevelInfo, fmt.Sprintf(format, args...))
}

func (l *Logger) Warnf(format string, args ...interface{}) {
	newEntry(l).emit(LevelWarn, fmt.Sprintf(format, args...))
}

func (l *Logger) exit(code int) {
	l.exitFunc(code)
}

// getCaller returns file:line of the frame skip levels up.
func getCaller(skip int) string {
	_, file, line, ok := runtime.Caller(skip)
	if !ok {
		return "???"
	}
	if i := strings.LastIndexByte(file, '/'); i >= 0 {
		file = file[i+1:]
	}
	return fmt.Sprintf("%s:%d", file, line)
}
