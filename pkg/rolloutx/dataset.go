package rolloutx

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"os"
	"strings"
)

// LoadQuestions reads a JSON Lines dataset of {question, answer} objects.
// Blank lines are ignored; a line without a question is an error.
func LoadQuestions(path string) ([]Question, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, rolloutErrors.NewWithCause(ErrDataset, err).WithDetail("path", path)
	}
	defer f.Close()
	return DecodeQuestions(f)
}

// DecodeQuestions reads questions from r.
func DecodeQuestions(r io.Reader) ([]Question, error) {
	var out []Question
	reader := bufio.NewReader(r)
	line := 0
	for {
		raw, err := reader.ReadString('\n')
		if len(raw) > 0 {
			line++
			if text := strings.TrimSpace(raw); text != "" {
				var q Question
				if derr := json.Unmarshal([]byte(text), &q); derr != nil {
					return nil, rolloutErrors.NewWithCause(ErrDataset, derr).WithDetail("line", line)
				}
				if strings.TrimSpace(q.Question) == "" {
					return nil, rolloutErrors.NewWithMessage(ErrDataset, "question is empty").WithDetail("line", line)
				}
				out = append(out, q)
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, rolloutErrors.NewWithCause(ErrDataset, err).WithDetail("line", line)
		}
	}
	if len(out) == 0 {
		return nil, rolloutErrors.New(ErrNoInputs)
	}
	return out, nil
}
