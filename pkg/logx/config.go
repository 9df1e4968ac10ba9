package logx

import (
	"io"
	"os"
	"strings"
	"time"
)

// Format represents the output format
type Format string

const (
	// FormatConsole outputs colored console logs (default)
	FormatConsole Format = "console"
	// FormatJSON outputs one JSON object per line
	FormatJSON Format = "json"
)

// Config holds the logger configuration
type Config struct {
	// Level is the minimum log level to output
	Level Level

	// Format is the output format
	Format Format

	// EnableColors enables colored output (only for console format)
	EnableColors bool

	// EnableCaller adds file and line number to logs
	EnableCaller bool

	// EnableTimestamp adds timestamp to logs
	EnableTimestamp bool

	// TimeFormat is the time format to use (defaults to RFC3339)
	TimeFormat string

	// Output is where to write logs (defaults to os.Stderr so stdout stays
	// free for piped rollout records)
	Output io.Writer
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Level:           LevelInfo,
		Format:          FormatConsole,
		EnableColors:    true,
		EnableCaller:    false,
		EnableTimestamp: true,
		TimeFormat:      time.RFC3339,
		Output:          os.Stderr,
	}
}

// ParseFormat maps "json" to FormatJSON and anything else to FormatConsole.
func ParseFormat(s string) Format {
	if strings.EqualFold(strings.TrimSpace(s), string(FormatJSON)) {
		return FormatJSON
	}
	return FormatConsole
}

var timeFormats = map[string]string{
	"RFC3339":     time.RFC3339,
	"RFC3339NANO": time.RFC3339Nano,
	"RFC822":      time.RFC822,
	"UNIX":        "unix",
	"UNIXMILLI":   "unixmilli",
}

// LoadFromEnv reads LOG_LEVEL, LOG_FORMAT, LOG_COLOR, LOG_CALLER and
// LOG_TIME_FORMAT over the defaults. Unset variables keep the default.
func LoadFromEnv() *Config {
	config := DefaultConfig()

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		config.Level = ParseLevel(v)
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		config.Format = ParseFormat(v)
	}
	if v := os.Getenv("LOG_COLOR"); v != "" {
		config.EnableColors = envTrue(v)
	}
	if v := os.Getenv("LOG_CALLER"); v != "" {
		config.EnableCaller = envTrue(v)
	}
	if v := os.Getenv("LOG_TIME_FORMAT"); v != "" {
		if named, ok := timeFormats[strings.ToUpper(v)]; ok {
			v = named
		}
		config.TimeFormat = v
	}

	return config
}

func envTrue(v string) bool {
	return strings.EqualFold(v, "true") || v == "1"
}
