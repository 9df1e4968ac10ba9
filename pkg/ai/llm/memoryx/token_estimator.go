package memoryx

import (
	"strings"
	"sync"

	"github.com/Abraxas-365/rollout/pkg/ai/llm"
	"github.com/pkoukk/tiktoken-go"
)

// messageOverhead approximates role and separator tokens per message.
const messageOverhead = 4

const (
	defaultCharsPerToken = 4.0
	defaultSmoothing     = 0.3

	// Observed ratios outside this band come from mismatched usage reports
	// (cached prompts, wrong model, test doubles) and are discarded.
	minCharsPerToken = 1.0
	maxCharsPerToken = 8.0
)

// TokenEstimator estimates token counts for messages.
// The default implementation uses a calibrated character ratio.
// Provide a custom implementation for more accurate counting (e.g. tiktoken).
type TokenEstimator interface {
	EstimateTokens(messages []llm.Message) int
}

// Calibrator is implemented by estimators that learn from the provider's
// reported prompt token counts.
type Calibrator interface {
	RecordUsage(messages []llm.Message, promptTokens int)
}

// CharBasedEstimator estimates tokens using a characters-per-token ratio.
// The ratio starts at CharsPerToken (4 if zero) and moves toward observed
// ratios by an exponential moving average as RecordUsage sees real prompt
// counts. Observations outside [1, 8] chars per token are ignored, so one
// bad report cannot make estimates collapse. Always rounds up. Safe for
// concurrent use.
type CharBasedEstimator struct {
	CharsPerToken float64
	Smoothing     float64

	mu           sync.Mutex
	ratio        float64
	observations int
}

// NewCharBasedEstimator returns an estimator with the default ratio.
func NewCharBasedEstimator() *CharBasedEstimator {
	return &CharBasedEstimator{}
}

func (e *CharBasedEstimator) currentRatio() float64 {
	if e.observations > 0 && e.ratio > 0 {
		return e.ratio
	}
	if e.CharsPerToken > 0 {
		return e.CharsPerToken
	}
	return defaultCharsPerToken
}

func (e *CharBasedEstimator) EstimateTokens(messages []llm.Message) int {
	e.mu.Lock()
	ratio := e.currentRatio()
	e.mu.Unlock()

	total := 0
	for _, m := range messages {
		total += messageOverhead
		total += int(float64(messageChars(m))/ratio) + 1
	}
	return total
}

// RecordUsage calibrates the ratio from an actual prompt token count.
// Every accepted observation is blended into the current ratio; none
// replaces it outright.
func (e *CharBasedEstimator) RecordUsage(messages []llm.Message, promptTokens int) {
	if promptTokens <= 0 {
		return
	}
	chars := 0
	for _, m := range messages {
		chars += messageChars(m)
	}
	content := promptTokens - messageOverhead*len(messages)
	if chars == 0 || content <= 0 {
		return
	}
	observed := float64(chars) / float64(content)
	if observed < minCharsPerToken || observed > maxCharsPerToken {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	alpha := e.Smoothing
	if alpha <= 0 || alpha > 1 {
		alpha = defaultSmoothing
	}
	next := alpha*observed + (1-alpha)*e.currentRatio()
	e.ratio = min(max(next, minCharsPerToken), maxCharsPerToken)
	e.observations++
}

// Ratio returns the characters-per-token ratio currently in use.
func (e *CharBasedEstimator) Ratio() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.currentRatio()
}

func messageChars(m llm.Message) int {
	return len(m.Content) + len(m.Name)
}

// TiktokenEstimator counts tokens with a BPE encoding.
type TiktokenEstimator struct {
	enc *tiktoken.Tiktoken
}

// NewTiktokenEstimator loads the named encoding, e.g. "cl100k_base".
func NewTiktokenEstimator(encoding string) (*TiktokenEstimator, error) {
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, memoryErrors.NewWithCause(ErrTokenizer, err).
			WithDetail("encoding", encoding)
	}
	return &TiktokenEstimator{enc: enc}, nil
}

func (e *TiktokenEstimator) EstimateTokens(messages []llm.Message) int {
	total := 0
	for _, m := range messages {
		total += messageOverhead
		total += len(e.enc.Encode(m.Content, nil, nil))
		if m.Name != "" {
			total += len(e.enc.Encode(m.Name, nil, nil))
		}
	}
	return total
}

// NewTokenEstimator builds an estimator from a spec string: "chars" (or
// empty) or "tiktoken:<encoding>".
func NewTokenEstimator(spec string) (TokenEstimator, error) {
	switch {
	case spec == "" || spec == "chars":
		return NewCharBasedEstimator(), nil
	case strings.HasPrefix(spec, "tiktoken:"):
		return NewTiktokenEstimator(strings.TrimPrefix(spec, "tiktoken:"))
	default:
		return nil, memoryErrors.New(ErrTokenizer).WithDetail("tokenizer", spec)
	}
}
