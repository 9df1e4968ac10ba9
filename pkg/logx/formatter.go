package logx

import (
	"fmt"
	"sort"
	"time"
)

// Formatter renders one entry as a single output record.
type Formatter interface {
	Format(entry *LogEntry) ([]byte, error)
}

// LogEntry is what a Formatter sees. Fields already include the logger's
// base fields and any fields carried by the entry's context.
type LogEntry struct {
	Level     Level
	Message   string
	Fields    Fields
	Error     error
	Timestamp time.Time
	Caller    string
}

// Fields is a map of structured data
type Fields map[string]interface{}

// merge returns a new map holding every layer in order; later layers win.
func merge(layers ...Fields) Fields {
	n := 0
	for _, l := range layers {
		n += len(l)
	}
	if n == 0 {
		return nil
	}
	out := make(Fields, n)
	for _, l := range layers {
		for k, v := range l {
			out[k] = v
		}
	}
	return out
}

func (f Fields) sortedKeys() []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func formatTimestamp(t time.Time, format string) string {
	switch format {
	case "unix":
		return fmt.Sprintf("%d", t.Unix())
	case "unixmilli":
		return fmt.Sprintf("%d", t.UnixMilli())
	default:
		return t.Format(format)
	}
}
