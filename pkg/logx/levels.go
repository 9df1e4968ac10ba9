package logx

import "strings"

// Level is a logging severity. Higher values are more severe; LevelOff
// disables output.
type Level uint8

const (
	LevelTrace Level = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
	// LevelFatal logs and then exits the process.
	LevelFatal
	LevelOff
)

var levelNames = [...]string{"TRACE", "DEBUG", "INFO", "WARN", "ERROR", "FATAL", "OFF"}

func (l Level) String() string {
	if int(l) < len(levelNames) {
		return levelNames[l]
	}
	return "UNKNOWN"
}

// ParseLevel parses a level name case-insensitively. Unknown names map to
// LevelInfo.
func ParseLevel(level string) Level {
	name := strings.ToUpper(strings.TrimSpace(level))
	if name == "WARNING" {
		return LevelWarn
	}
	for i, n := range levelNames {
		if n == name {
			return Level(i)
		}
	}
	return LevelInfo
}

// Enabled reports whether a logger at level l emits target.
func (l Level) Enabled(target Level) bool {
	return l <= target
}

// MarshalText implements encoding.TextMarshaler so levels round-trip
// through YAML and JSON config files.
func (l Level) MarshalText() ([]byte, error) {
	return []byte(strings.ToLower(l.String())), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (l *Level) UnmarshalText(text []byte) error {
	*l = ParseLevel(string(text))
	return nil
}
