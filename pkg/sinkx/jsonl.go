package sinkx

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"

	"github.com/Abraxas-365/rollout/pkg/logx"
)

// JSONLStore appends records to a JSON Lines file. Each record is one
// Write call ending in a newline.
type JSONLStore struct {
	path string
	file *os.File
}

// OpenJSONL opens path for appending. Without resume an existing file is
// truncated.
func OpenJSONL(path string, resume bool) (*JSONLStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, sinkErrors.NewWithCause(ErrOpen, err).WithDetail("path", path)
		}
	}

	flags := os.O_CREATE | os.O_WRONLY | os.O_APPEND
	if !resume {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		return nil, sinkErrors.NewWithCause(ErrOpen, err).WithDetail("path", path)
	}
	return &JSONLStore{path: path, file: f}, nil
}

// Path returns the file the store writes to.
func (s *JSONLStore) Path() string { return s.path }

func (s *JSONLStore) Append(ctx context.Context, rec Record) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return sinkErrors.NewWithCause(ErrMarshal, err).WithDetail("rollout_index", rec.RolloutIndex)
	}
	line = append(line, '\n')
	if _, err := s.file.Write(line); err != nil {
		return sinkErrors.NewWithCause(ErrAppend, err).WithDetail("path", s.path)
	}
	return nil
}

// Load reads every decodable record. Lines that fail to decode, such as a
// line torn by a crash mid-write, are skipped with a warning.
func (s *JSONLStore) Load(ctx context.Context) ([]Record, error) {
	return ReadJSONL(s.path)
}

func (s *JSONLStore) Close() error {
	if err := s.file.Close(); err != nil {
		return sinkErrors.NewWithCause(ErrAppend, err).WithDetail("path", s.path)
	}
	return nil
}

// ReadJSONL reads the records in path. A missing file holds no records.
func ReadJSONL(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, sinkErrors.NewWithCause(ErrLoad, err).WithDetail("path", path)
	}
	defer f.Close()
	return DecodeJSONL(f, path)
}

// DecodeJSONL decodes records from r. source names r in log output.
func DecodeJSONL(r io.Reader, source string) ([]Record, error) {
	var records []Record
	reader := bufio.NewReader(r)
	lineNo := 0
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			lineNo++
			if trimmed := bytes.TrimSpace(line); len(trimmed) > 0 {
				var rec Record
				if derr := json.Unmarshal(trimmed, &rec); derr != nil {
					logx.WithFields(logx.Fields{
						"source": source,
						"line":   lineNo,
					}).WithError(sinkErrors.NewWithCause(ErrCorrupt, derr)).Warn("skipping undecodable record")
				} else {
					records = append(records, rec)
				}
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return records, nil
			}
			return records, sinkErrors.NewWithCause(ErrLoad, err).WithDetail("path", source)
		}
	}
}
