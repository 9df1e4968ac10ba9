package logx

import (
	"encoding/json"
	"time"
)

// JSONFormatter writes one JSON object per line. Reserved keys (level,
// message, timestamp, caller, error) override fields of the same name.
type JSONFormatter struct {
	config *Config
}

// NewJSONFormatter creates a new JSON formatter
func NewJSONFormatter(config *Config) *JSONFormatter {
	return &JSONFormatter{config: config}
}

func (f *JSONFormatter) Format(entry *LogEntry) ([]byte, error) {
	obj := make(map[string]interface{}, len(entry.Fields)+5)
	for k, v := range entry.Fields {
		obj[k] = v
	}

	obj["level"] = entry.Level.String()
	obj["message"] = entry.Message
	if f.config.EnableTimestamp {
		obj["timestamp"] = f.timestamp(entry.Timestamp)
	}
	if f.config.EnableCaller && entry.Caller != "" {
		obj["caller"] = entry.Caller
	}
	if entry.Error != nil {
		obj["error"] = entry.Error.Error()
	}

	line, err := json.Marshal(obj)
	if err != nil {
		return nil, err
	}
	return append(line, '\n'), nil
}

// timestamp keeps unix formats numeric; anything else is RFC 3339.
func (f *JSONFormatter) timestamp(t time.Time) interface{} {
	switch f.config.TimeFormat {
	case "unix":
		return t.Unix()
	case "unixmilli":
		return t.UnixMilli()
	default:
		return t.Format(time.RFC3339Nano)
	}
}
