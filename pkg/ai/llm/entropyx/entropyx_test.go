package entropyx_test

import (
	"math"
	"testing"

	"github.com/Abraxas-365/rollout/pkg/ai/llm"
	"github.com/Abraxas-365/rollout/pkg/ai/llm/entropyx"
	"github.com/Abraxas-365/rollout/pkg/errx"
)

// tok builds a token whose top alternatives have the given probabilities.
func tok(text string, probs ...float64) llm.TokenLogprob {
	t := llm.TokenLogprob{Token: text}
	for i, p := range probs {
		if i == 0 {
			t.Logprob = math.Log(p)
		}
		t.TopLogprobs = append(t.TopLogprobs, llm.TopLogprob{Token: text, Logprob: math.Log(p)})
	}
	return t
}

func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestTokenEntropy_Renormalizes(t *testing.T) {
	// Two equal alternatives summing to 0.5 renormalize to a fair coin.
	h := entropyx.TokenEntropy(tok("a", 0.25, 0.25))
	if !near(h, math.Log(2)) {
		t.Fatalf("expected ln 2, got %v", h)
	}
	if h := entropyx.TokenEntropy(tok("a", 1)); h != 0 {
		t.Fatalf("certain token should have zero entropy, got %v", h)
	}
	if h := entropyx.TokenEntropy(llm.TokenLogprob{Token: "a"}); h != 0 {
		t.Fatalf("token without alternatives should have zero entropy, got %v", h)
	}
}

func TestScore_Segments(t *testing.T) {
	e := entropyx.NewEstimator()
	tokens := []llm.TokenLogprob{
		tok("<think>", 1),
		tok("maybe", 0.5, 0.5),
		tok("</think>", 1),
		tok("<tool_call>", 1),
		tok(`{"name":"search"}`, 1),
		tok("</tool_call>", 1),
	}
	s := e.Score(tokens)

	if !near(s.Reasoning, 2) {
		t.Fatalf("reasoning = exp(ln 2) = 2, got %v", s.Reasoning)
	}
	if !near(s.Action, 1) {
		t.Fatalf("confident action should score 1, got %v", s.Action)
	}
	if s.Whole < 1 || s.Whole > 2 {
		t.Fatalf("whole score out of range: %v", s.Whole)
	}
}

func TestScore_MissingDelimitersAreNotApplicable(t *testing.T) {
	e := entropyx.NewEstimator()
	s := e.Score([]llm.TokenLogprob{tok("just", 0.5, 0.5), tok(" text", 1)})

	if s.Reasoning != entropyx.NotApplicable || s.Action != entropyx.NotApplicable {
		t.Fatalf("expected -1 for absent segments, got %+v", s)
	}
	if s.Whole < 0 {
		t.Fatalf("whole score must be non-negative, got %v", s.Whole)
	}

	unclosed := e.Score([]llm.TokenLogprob{tok("<think>", 1), tok("never closed", 0.5, 0.5)})
	if unclosed.Reasoning != entropyx.NotApplicable {
		t.Fatalf("unterminated segment should be -1, got %v", unclosed.Reasoning)
	}
}

func TestScore_UsesLastRegion(t *testing.T) {
	e := entropyx.NewEstimator()
	s := e.Score([]llm.TokenLogprob{
		tok("<think>", 1), tok("unsure", 0.5, 0.5), tok("</think>", 1),
		tok("<think>", 1), tok("sure", 1), tok("</think>", 1),
	})
	if !near(s.Reasoning, 1) {
		t.Fatalf("expected last region to be scored, got %v", s.Reasoning)
	}
}

func TestScore_MarkerSplitAcrossTokens(t *testing.T) {
	e := entropyx.NewEstimator()
	s := e.Score([]llm.TokenLogprob{
		tok("<th", 1), tok("ink>", 1), tok("hmm", 0.5, 0.5), tok("</", 1), tok("think>", 1),
	})
	if !near(s.Reasoning, 2) {
		t.Fatalf("expected 2, got %v", s.Reasoning)
	}
}

func TestScore_NoTokens(t *testing.T) {
	if got := entropyx.NewEstimator().Score(nil); got != entropyx.Unscored {
		t.Fatalf("expected unscored, got %+v", got)
	}
}

func candidates() []entropyx.Candidate {
	return []entropyx.Candidate{
		{Round: 1, Scores: entropyx.Scores{Whole: 1.5, Reasoning: 3.0, Action: 1.1}},
		{Round: 2, Scores: entropyx.Scores{Whole: 2.5, Reasoning: 1.0, Action: 2.0}},
		{Round: 3, Scores: entropyx.Scores{Whole: 2.5, Reasoning: 2.0, Action: 4.0}},
		{Round: 4, Scores: entropyx.Scores{Whole: 1.0, Reasoning: -1, Action: -1}},
	}
}

func rounds(bps []entropyx.BranchPoint) []int {
	out := make([]int, len(bps))
	for i, bp := range bps {
		out[i] = bp.Round
	}
	return out
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestSelect_Modes(t *testing.T) {
	tests := []struct {
		mode entropyx.Mode
		k    int
		want []int
	}{
		{entropyx.ModeWhole, 2, []int{2, 3}}, // tie broken by earlier round
		{entropyx.ModeReasoning, 2, []int{1, 3}},
		{entropyx.ModeAction, 1, []int{3}},
		{entropyx.ModeReasoning, 5, []int{1, 3, 2}}, // round 4 is ineligible
		{entropyx.ModeMixed, 3, []int{1, 3, 2}},     // 2 reasoning, then action skips 3
	}
	for _, tt := range tests {
		got := rounds(entropyx.Select(candidates(), tt.mode, tt.k))
		if !equalInts(got, tt.want) {
			t.Fatalf("%s k=%d: got %v, want %v", tt.mode, tt.k, got, tt.want)
		}
	}
}

func TestSelect_MixedFillsShortfall(t *testing.T) {
	cands := []entropyx.Candidate{
		{Round: 1, Scores: entropyx.Scores{Whole: 1, Reasoning: 2, Action: -1}},
		{Round: 2, Scores: entropyx.Scores{Whole: 1, Reasoning: 3, Action: -1}},
		{Round: 3, Scores: entropyx.Scores{Whole: 1, Reasoning: 1, Action: -1}},
	}
	got := rounds(entropyx.Select(cands, entropyx.ModeMixed, 3))
	if !equalInts(got, []int{2, 1, 3}) {
		t.Fatalf("expected reasoning ranking to fill the action share, got %v", got)
	}
}

func TestSelect_WholeScoreIsModeIndependent(t *testing.T) {
	e := entropyx.NewEstimator()
	tokens := []llm.TokenLogprob{tok("<think>", 1), tok("x", 0.3, 0.3, 0.4), tok("</think>", 1)}
	a := e.Score(tokens)
	b := entropyx.NewEstimator(entropyx.WithReasoningDelimiters("[r]", "[/r]")).Score(tokens)
	if a.Whole != b.Whole {
		t.Fatalf("whole score depends on segment config: %v vs %v", a.Whole, b.Whole)
	}
}

func TestParseMode(t *testing.T) {
	if m, err := entropyx.ParseMode("Mixed"); err != nil || m != entropyx.ModeMixed {
		t.Fatalf("got %q, %v", m, err)
	}
	if _, err := entropyx.ParseMode("median"); !errx.HasCode(err, entropyx.ErrUnknownMode) {
		t.Fatal("expected error for unknown mode")
	}
}
