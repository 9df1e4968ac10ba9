package logx

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	colorReset = "\033[0m"
	colorRed   = "\033[31m"
	colorCyan  = "\033[36m"
	colorGray  = "\033[90m"
	colorWhite = "\033[97m"

	colorBoldRed    = "\033[1;31m"
	colorBoldYellow = "\033[1;33m"
	colorBoldCyan   = "\033[1;36m"
	colorBoldGreen  = "\033[1;32m"
)

var levelColors = map[Level]string{
	LevelTrace: colorGray,
	LevelDebug: colorBoldCyan,
	LevelInfo:  colorBoldGreen,
	LevelWarn:  colorBoldYellow,
	LevelError: colorBoldRed,
	LevelFatal: colorBoldRed,
}

// ConsoleFormatter renders one human-readable line per entry:
//
//	2025-01-02T15:04:05Z [INFO ] [engine.go:42] trajectory finished rounds=7 termination=answered
//
// Fields are sorted by key. An error goes on its own indented line.
type ConsoleFormatter struct {
	config *Config
}

// NewConsoleFormatter creates a new console formatter
func NewConsoleFormatter(config *Config) *ConsoleFormatter {
	return &ConsoleFormatter{config: config}
}

func (f *ConsoleFormatter) Format(entry *LogEntry) ([]byte, error) {
	var b strings.Builder

	if f.config.EnableTimestamp {
		f.paint(&b, colorGray, formatTimestamp(entry.Timestamp, f.config.TimeFormat))
		b.WriteByte(' ')
	}

	f.paint(&b, levelColors[entry.Level], f.levelTag(entry.Level))
	b.WriteByte(' ')

	if f.config.EnableCaller && entry.Caller != "" {
		f.paint(&b, colorGray, "["+entry.Caller+"]")
		b.WriteByte(' ')
	}

	f.paint(&b, colorWhite, entry.Message)

	if len(entry.Fields) > 0 {
		pairs := make([]string, 0, len(entry.Fields))
		for _, k := range entry.Fields.sortedKeys() {
			pairs = append(pairs, k+"="+consoleValue(entry.Fields[k]))
		}
		b.WriteByte(' ')
		f.paint(&b, colorCyan, strings.Join(pairs, " "))
	}

	if entry.Error != nil {
		b.WriteByte('\n')
		if f.config.EnableColors {
			f.paint(&b, colorRed, "  ╰─→ error: "+entry.Error.Error())
		} else {
			b.WriteString("  error: " + entry.Error.Error())
		}
	}

	b.WriteByte('\n')
	return []byte(b.String()), nil
}

// paint writes s, wrapped in color when colors are enabled.
func (f *ConsoleFormatter) paint(b *strings.Builder, color, s string) {
	if !f.config.EnableColors || color == "" {
		b.WriteString(s)
		return
	}
	b.WriteString(color)
	b.WriteString(s)
	b.WriteString(colorReset)
}

// levelTag pads to a fixed width when colored so messages line up.
func (f *ConsoleFormatter) levelTag(level Level) string {
	if !f.config.EnableColors {
		return "[" + level.String() + "]"
	}
	return fmt.Sprintf("[%-5s]", level.String())
}

// consoleValue quotes values that would break key=value parsing, such as
// question text.
func consoleValue(v interface{}) string {
	s := fmt.Sprint(v)
	if s == "" || strings.ContainsAny(s, " \t\n\"=") {
		return strconv.Quote(s)
	}
	return s
}
