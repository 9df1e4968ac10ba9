// Package entropyx scores how uncertain a model was while producing an
// output, from the top-N alternatives reported for every emitted token.
//
// The per-token signal is the Shannon entropy of the renormalized top-N
// distribution. A segment's score is exp(mean entropy) over the tokens that
// overlap the segment, which reads as an effective branching factor: 1 for
// a fully confident span, growing with hesitation.
package entropyx

import (
	"math"
	"strings"

	"github.com/Abraxas-365/rollout/pkg/ai/llm"
	"github.com/Abraxas-365/rollout/pkg/errx"
)

// NotApplicable is the score of a segment whose delimiters are absent.
const NotApplicable = -1.0

// Segment names a scored region of an output.
type Segment string

const (
	SegmentWhole     Segment = "whole"
	SegmentReasoning Segment = "reasoning"
	SegmentAction    Segment = "action"
)

// Delimiters bound a named region.
type Delimiters struct {
	Open  string
	Close string
}

// Scores holds the per-segment uncertainty of one output.
type Scores struct {
	Whole     float64 `json:"whole"`
	Reasoning float64 `json:"reasoning"`
	Action    float64 `json:"action"`
}

// Unscored is the value for outputs without token data.
var Unscored = Scores{Whole: NotApplicable, Reasoning: NotApplicable, Action: NotApplicable}

// For returns the score of seg.
func (s Scores) For(seg Segment) float64 {
	switch seg {
	case SegmentReasoning:
		return s.Reasoning
	case SegmentAction:
		return s.Action
	default:
		return s.Whole
	}
}

// Estimator computes Scores from token logprobs.
type Estimator struct {
	Reasoning Delimiters
	Action    Delimiters
}

// Option configures an Estimator.
type Option func(*Estimator)

// WithReasoningDelimiters overrides the reasoning markers.
func WithReasoningDelimiters(open, close string) Option {
	return func(e *Estimator) { e.Reasoning = Delimiters{Open: open, Close: close} }
}

// WithActionDelimiters overrides the action markers.
func WithActionDelimiters(open, close string) Option {
	return func(e *Estimator) { e.Action = Delimiters{Open: open, Close: close} }
}

// NewEstimator returns an estimator using <think> and <tool_call> markers.
func NewEstimator(opts ...Option) *Estimator {
	e := &Estimator{
		Reasoning: Delimiters{Open: "<think>", Close: "</think>"},
		Action:    Delimiters{Open: "<tool_call>", Close: "</tool_call>"},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// TokenEntropy returns the entropy of the renormalized top-N distribution
// at one position. A position without alternatives has entropy 0.
func TokenEntropy(tok llm.TokenLogprob) float64 {
	if len(tok.TopLogprobs) == 0 {
		return 0
	}
	probs := make([]float64, len(tok.TopLogprobs))
	var sum float64
	for i, alt := range tok.TopLogprobs {
		p := math.Exp(alt.Logprob)
		if math.IsNaN(p) || math.IsInf(p, 0) {
			p = 0
		}
		probs[i] = p
		sum += p
	}
	if sum <= 0 {
		return 0
	}
	var h float64
	for _, p := range probs {
		q := p / sum
		if q > 0 {
			h -= q * math.Log(q)
		}
	}
	return h
}

// Score computes whole, reasoning and action scores for one output.
func (e *Estimator) Score(tokens []llm.TokenLogprob) Scores {
	if len(tokens) == 0 {
		return Unscored
	}

	entropies := make([]float64, len(tokens))
	starts := make([]int, len(tokens))
	var sb strings.Builder
	for i, tok := range tokens {
		starts[i] = sb.Len()
		sb.WriteString(tok.Token)
		entropies[i] = TokenEntropy(tok)
	}
	text := sb.String()

	s := &span{text: text, starts: starts, entropies: entropies}
	return Scores{
		Whole:     s.score(0, len(text)),
		Reasoning: s.region(e.Reasoning),
		Action:    s.region(e.Action),
	}
}

type span struct {
	text      string
	starts    []int
	entropies []float64
}

// region scores the text between the last open marker and the close marker
// that follows it.
func (s *span) region(d Delimiters) float64 {
	if d.Open == "" || d.Close == "" {
		return NotApplicable
	}
	open := strings.LastIndex(s.text, d.Open)
	if open < 0 {
		return NotApplicable
	}
	from := open + len(d.Open)
	rel := strings.Index(s.text[from:], d.Close)
	if rel <= 0 {
		return NotApplicable
	}
	return s.score(from, from+rel)
}

// score is exp(mean entropy) over the tokens overlapping [from, to).
func (s *span) score(from, to int) float64 {
	var total float64
	n := 0
	for i, start := range s.starts {
		end := len(s.text)
		if i+1 < len(s.starts) {
			end = s.starts[i+1]
		}
		if end <= start {
			continue
		}
		if start < to && end > from {
			total += s.entropies[i]
			n++
		}
	}
	if n == 0 {
		return NotApplicable
	}
	return math.Exp(total / float64(n))
}

// Mode selects which segment ranks branch points.
type Mode string

const (
	ModeWhole     Mode = "whole"
	ModeReasoning Mode = "reasoning"
	ModeAction    Mode = "action"
	ModeMixed     Mode = "mixed"
)

var (
	entropyErrors = errx.NewRegistry("ENTROPY")

	ErrUnknownMode = entropyErrors.Register("UNKNOWN_MODE", errx.TypeValidation, "unknown uncertainty mode")
)

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeWhole, ModeReasoning, ModeAction, ModeMixed:
		return m, nil
	case "":
		return ModeWhole, nil
	default:
		return "", entropyErrors.New(ErrUnknownMode).WithDetail("mode", s)
	}
}
