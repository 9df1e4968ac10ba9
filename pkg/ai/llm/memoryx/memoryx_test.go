package memoryx_test

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/Abraxas-365/rollout/pkg/ai/llm"
	"github.com/Abraxas-365/rollout/pkg/ai/llm/memoryx"
	"github.com/Abraxas-365/rollout/pkg/errx"
)

// --- Conversation tests ---

func TestConversation_AddAndSnapshot(t *testing.T) {
	c := memoryx.NewConversation(llm.NewSystemMessage("You are helpful."))
	c.Add(llm.NewUserMessage("hello"), llm.NewAssistantMessage("hi"))

	msgs := c.Snapshot()
	if len(msgs) != 3 || msgs[0].Role != llm.RoleSystem || c.Len() != 3 {
		t.Fatalf("unexpected conversation %+v", msgs)
	}
}

func TestConversation_SeedIsCopied(t *testing.T) {
	seed := []llm.Message{llm.NewUserMessage("q").WithMeta(llm.MetaTurn, 1)}
	c := memoryx.NewConversation(seed...)
	seed[0].Metadata[llm.MetaTurn] = 7

	if turn, _ := c.Snapshot()[0].Turn(); turn != 1 {
		t.Fatalf("seed metadata shared, turn = %d", turn)
	}
}

func TestConversation_SnapshotIsDeepCopy(t *testing.T) {
	c := memoryx.NewConversation()
	c.Add(llm.NewUserMessage("hello").WithMeta(llm.MetaTurn, 1))

	msgs1 := c.Snapshot()
	msgs1[0].Content = "mutated"
	msgs1[0].Metadata[llm.MetaTurn] = 99

	msgs2 := c.Snapshot()
	if msgs2[0].Content != "hello" {
		t.Fatal("Snapshot did not return a copy")
	}
	if turn, _ := msgs2[0].Turn(); turn != 1 {
		t.Fatalf("metadata shared with caller, turn = %d", turn)
	}
}

func TestConversation_Replace(t *testing.T) {
	c := memoryx.NewConversation(llm.NewSystemMessage("system"))
	c.Add(llm.NewUserMessage("a"))
	c.Replace([]llm.Message{llm.NewSystemMessage("s2")})

	msgs := c.Snapshot()
	if len(msgs) != 1 || msgs[0].Content != "s2" {
		t.Fatalf("unexpected conversation after replace %+v", msgs)
	}
}

// --- TokenEstimator tests ---

func TestCharBasedEstimator(t *testing.T) {
	e := memoryx.NewCharBasedEstimator()
	msgs := []llm.Message{
		llm.NewUserMessage("hello world"), // 11 chars -> 2 + 1 + 4 overhead = 7
	}
	if got := e.EstimateTokens(msgs); got != 7 {
		t.Fatalf("expected 7 tokens, got %d", got)
	}
}

func TestCharBasedEstimator_Calibrates(t *testing.T) {
	e := memoryx.NewCharBasedEstimator()
	msgs := []llm.Message{llm.NewUserMessage(strings.Repeat("x", 200))}

	// 200 chars reported as 104 prompt tokens, 4 of which are overhead:
	// observed ratio 2 blends with the default 4 to 0.3*2 + 0.7*4 = 3.4.
	e.RecordUsage(msgs, 104)
	if r := e.Ratio(); r < 3.39 || r > 3.41 {
		t.Fatalf("expected EMA ratio 3.4, got %v", r)
	}

	// Observed ratio 4: 0.3*4 + 0.7*3.4 = 3.58
	e.RecordUsage(msgs, 54)
	if r := e.Ratio(); r < 3.57 || r > 3.59 {
		t.Fatalf("expected EMA ratio 3.58, got %v", r)
	}
}

func TestCharBasedEstimator_IgnoresImplausibleUsage(t *testing.T) {
	e := memoryx.NewCharBasedEstimator()
	msgs := []llm.Message{
		llm.NewSystemMessage(strings.Repeat("s", 4000)),
		llm.NewUserMessage(strings.Repeat("u", 4000)),
	}
	before := e.EstimateTokens(msgs)

	// 8000 chars reported as 10 prompt tokens.
	e.RecordUsage(msgs, 10)
	// 8000 chars reported as 20000 prompt tokens.
	e.RecordUsage(msgs, 20000)

	if r := e.Ratio(); r != 4.0 {
		t.Fatalf("implausible usage moved the ratio to %v", r)
	}
	if got := e.EstimateTokens(msgs); got != before {
		t.Fatalf("estimate changed from %d to %d", before, got)
	}
}

func TestCharBasedEstimator_RatioStaysInBand(t *testing.T) {
	e := &memoryx.CharBasedEstimator{Smoothing: 1}
	msgs := []llm.Message{llm.NewUserMessage(strings.Repeat("x", 800))}

	// Exactly 8 chars per token is the upper edge and is accepted.
	e.RecordUsage(msgs, 104)
	if r := e.Ratio(); r != 8.0 {
		t.Fatalf("expected ratio 8, got %v", r)
	}
	for range 10 {
		e.RecordUsage(msgs, 54) // 16 chars per token, discarded
	}
	if r := e.Ratio(); r != 8.0 {
		t.Fatalf("ratio left the band: %v", r)
	}
}

func TestCharBasedEstimator_IgnoresEmptyUsage(t *testing.T) {
	e := memoryx.NewCharBasedEstimator()
	e.RecordUsage([]llm.Message{llm.NewUserMessage("abc")}, 0)
	if r := e.Ratio(); r != 4.0 {
		t.Fatalf("expected default ratio, got %v", r)
	}
}

func TestNewTokenEstimator_Unknown(t *testing.T) {
	_, err := memoryx.NewTokenEstimator("sentencepiece")
	if !errx.HasCode(err, memoryx.ErrTokenizer) {
		t.Fatalf("expected ErrTokenizer, got %v", err)
	}
	e, err := memoryx.NewTokenEstimator("chars")
	if err != nil || e == nil {
		t.Fatalf("chars estimator: %v", err)
	}
}

// --- Ledger tests ---

func ledgerOf(t *testing.T, turns ...int) *memoryx.Ledger {
	t.Helper()
	l := memoryx.NewLedger()
	for _, turn := range turns {
		if err := l.Append(memoryx.Step{Start: turn, End: turn, Content: fmt.Sprintf("turn %d", turn)}); err != nil {
			t.Fatalf("append %d: %v", turn, err)
		}
	}
	return l
}

func TestLedger_AppendRejectsOutOfOrder(t *testing.T) {
	l := ledgerOf(t, 1, 2, 3)
	err := l.Append(memoryx.Step{Start: 3, End: 3})
	if !errx.HasCode(err, memoryx.ErrStepOrder) {
		t.Fatalf("expected ErrStepOrder, got %v", err)
	}
}

func TestLedger_FoldReducesStepCount(t *testing.T) {
	l := ledgerOf(t, 1, 2, 3, 4, 5)
	if err := l.Fold(2, 4, "summary of 2-4"); err != nil {
		t.Fatal(err)
	}
	// 3 steps in range collapse into 1.
	if l.Len() != 3 {
		t.Fatalf("expected 3 steps, got %d", l.Len())
	}
	steps := l.Steps()
	if steps[0].Start != 1 || steps[1].Start != 2 || steps[1].End != 4 || steps[2].Start != 5 {
		t.Fatalf("unexpected order: %+v", steps)
	}
	if !steps[1].Folded || steps[1].Content != "summary of 2-4" {
		t.Fatalf("expected folded summary step, got %+v", steps[1])
	}
}

func TestLedger_FoldIsIdempotent(t *testing.T) {
	l := ledgerOf(t, 1, 2, 3, 4)
	if err := l.Fold(1, 3, "s"); err != nil {
		t.Fatal(err)
	}
	once := l.Render()
	onceSteps := l.Steps()

	if err := l.Fold(1, 3, "s"); err != nil {
		t.Fatal(err)
	}
	if l.Render() != once {
		t.Fatalf("render changed after second fold:\n%s\nvs\n%s", l.Render(), once)
	}
	twice := l.Steps()
	if len(twice) != len(onceSteps) {
		t.Fatalf("step count changed: %d vs %d", len(twice), len(onceSteps))
	}
	for i := range twice {
		if twice[i] != onceSteps[i] {
			t.Fatalf("step %d differs: %+v vs %+v", i, twice[i], onceSteps[i])
		}
	}
}

func TestLedger_FoldEmptyRange(t *testing.T) {
	l := ledgerOf(t, 1, 2)
	err := l.Fold(5, 7, "nothing")
	if !errx.HasCode(err, memoryx.ErrEmptyFoldRange) {
		t.Fatalf("expected ErrEmptyFoldRange, got %v", err)
	}
	if l.Len() != 2 {
		t.Fatalf("ledger mutated by a rejected fold")
	}
}

func TestLedger_FoldCannotSplitStep(t *testing.T) {
	l := ledgerOf(t, 1, 2, 3, 4)
	if err := l.Fold(1, 3, "s"); err != nil {
		t.Fatal(err)
	}
	err := l.Fold(2, 4, "t")
	if !errx.HasCode(err, memoryx.ErrFoldSplitsStep) {
		t.Fatalf("expected ErrFoldSplitsStep, got %v", err)
	}
}

func TestLedger_RenderLabels(t *testing.T) {
	l := ledgerOf(t, 1, 2, 3, 4)
	if err := l.Fold(1, 2, "early work"); err != nil {
		t.Fatal(err)
	}
	got := l.Render()
	want := "[Steps 1-2, compressed]\nearly work\n\n" +
		"[Step 3, compressed]\nturn 3\n\n" +
		"[Step 4, live]\nturn 4"
	if got != want {
		t.Fatalf("unexpected render:\n%s\nwant:\n%s", got, want)
	}
	if l.Render() != got {
		t.Fatal("render is not deterministic")
	}
}

func TestLedger_RenderThrough(t *testing.T) {
	l := ledgerOf(t, 1, 2, 3)
	got := l.RenderThrough(2)
	if strings.Contains(got, "turn 3") || !strings.Contains(got, "turn 2") {
		t.Fatalf("unexpected prefix render: %s", got)
	}
}

// --- Compactor tests ---

// mockLLM is a fake LLM that returns a canned response.
type mockLLM struct {
	response string
	called   int
	last     []llm.Message
}

func (m *mockLLM) Chat(_ context.Context, messages []llm.Message, _ ...llm.Option) (llm.Response, error) {
	m.called++
	m.last = messages
	return llm.Response{Message: llm.NewAssistantMessage(m.response)}, nil
}

const (
	systemPrompt = "You are a careful research agent."
	question     = "Who designed the Eiffel Tower's elevators?"
)

// conversation builds [system, question] followed by rounds tool-call
// rounds, each an assistant turn and its observation.
func conversation(rounds int, obsSize int) ([]llm.Message, *memoryx.Ledger) {
	msgs := []llm.Message{
		llm.NewSystemMessage(systemPrompt),
		llm.NewUserMessage(question),
	}
	ledger := memoryx.NewLedger()
	for r := 1; r <= rounds; r++ {
		call := fmt.Sprintf(`<tool_call>{"name":"search","arguments":{"query":"q%d"}}</tool_call>`, r)
		obs := "<tool_response>" + strings.Repeat("o", obsSize) + "</tool_response>"
		msgs = append(msgs,
			llm.NewAssistantMessage(call).WithMeta(llm.MetaTurn, r),
			llm.NewUserMessage(obs).WithMeta(llm.MetaTurn, r).WithMeta(llm.MetaObservation, true),
		)
		ledger.Append(memoryx.Step{Start: r, End: r, Content: call})
	}
	return msgs, ledger
}

func TestCompactor_SoftCapTrigger(t *testing.T) {
	est := memoryx.NewCharBasedEstimator()
	c := memoryx.NewCompactor(&mockLLM{}, est, memoryx.WithSoftCap(200), memoryx.WithObservationCap(0))

	small, _ := conversation(1, 10)
	if got := c.ShouldCompact(1, small); got != memoryx.TriggerNone {
		t.Fatalf("expected no trigger, got %q", got)
	}
	big, _ := conversation(4, 400)
	if got := c.ShouldCompact(4, big); got != memoryx.TriggerSoftCap {
		t.Fatalf("expected soft cap trigger, got %q", got)
	}
}

func TestCompactor_IntervalAndObservationTriggers(t *testing.T) {
	c := memoryx.NewCompactor(&mockLLM{}, nil,
		memoryx.WithInterval(3),
		memoryx.WithSoftCap(0),
		memoryx.WithObservationCap(50),
	)
	msgs, _ := conversation(1, 10)
	if got := c.ShouldCompact(3, msgs); got != memoryx.TriggerInterval {
		t.Fatalf("expected interval trigger, got %q", got)
	}
	big, _ := conversation(1, 1000)
	if got := c.ShouldCompact(1, big); got != memoryx.TriggerObservation {
		t.Fatalf("expected observation trigger, got %q", got)
	}
}

func TestCompactor_RebuildKeepsHeadAndShrinks(t *testing.T) {
	mock := &mockLLM{response: "## Task\nelevators\n## Key findings\nOtis"}
	var compactions int
	c := memoryx.NewCompactor(mock, nil,
		memoryx.WithRecentToKeep(2),
		memoryx.WithOnCompact(func(memoryx.Compaction) { compactions++ }),
	)
	msgs, ledger := conversation(4, 400)

	out, err := c.Compact(context.Background(), 4, memoryx.TriggerSoftCap, msgs, ledger)
	if err != nil {
		t.Fatal(err)
	}
	if out.Deferred {
		t.Fatalf("unexpected deferral: %s", out.Reason)
	}
	if compactions != 1 {
		t.Fatalf("OnCompact called %d times", compactions)
	}

	got := out.Messages
	if got[0].Content != systemPrompt || got[1].Content != question {
		t.Fatalf("system prompt or question not kept verbatim: %+v", got[:2])
	}
	if !got[2].Flag(llm.MetaSummary) {
		t.Fatal("expected summary turn after the question")
	}
	// system + question + summary + 2 recent
	if len(got) != 5 {
		t.Fatalf("expected 5 messages, got %d", len(got))
	}
	if got[3].Role != llm.RoleAssistant {
		t.Fatalf("retained window must start at an assistant turn, got %s", got[3].Role)
	}
	if out.TokensAfter > out.TokensBefore {
		t.Fatalf("compaction grew the context: %d -> %d", out.TokensBefore, out.TokensAfter)
	}
	if out.Dropped != 6 {
		t.Fatalf("expected 6 dropped turns, got %d", out.Dropped)
	}

	// Rounds 1-3 folded into one step, round 4 still live.
	if ledger.Len() != 2 {
		t.Fatalf("expected 2 ledger steps, got %d: %+v", ledger.Len(), ledger.Steps())
	}
}

func TestCompactor_DigestRequestExcludesHead(t *testing.T) {
	mock := &mockLLM{response: "digest"}
	c := memoryx.NewCompactor(mock, nil, memoryx.WithRecentToKeep(2))
	msgs, _ := conversation(3, 50)

	if _, err := c.Compact(context.Background(), 3, memoryx.TriggerInterval, msgs, nil); err != nil {
		t.Fatal(err)
	}
	if mock.called != 1 {
		t.Fatalf("expected one digest call, got %d", mock.called)
	}
	for _, m := range mock.last {
		if strings.Contains(m.Content, systemPrompt) || strings.Contains(m.Content, question) {
			t.Fatalf("digest request leaked the head: %q", m.Content)
		}
	}
}

func TestCompactor_TailCharsClipsDigestInput(t *testing.T) {
	mock := &mockLLM{response: "digest"}
	c := memoryx.NewCompactor(mock, nil, memoryx.WithRecentToKeep(2), memoryx.WithTailChars(100))
	msgs, _ := conversation(4, 1000)

	if _, err := c.Compact(context.Background(), 4, memoryx.TriggerSoftCap, msgs, nil); err != nil {
		t.Fatal(err)
	}
	body := mock.last[len(mock.last)-1].Content
	if len(body) > 200 {
		t.Fatalf("digest input not clipped: %d chars", len(body))
	}
}

func TestCompactor_DefersWhenWindowTooSmall(t *testing.T) {
	mock := &mockLLM{response: "digest"}
	c := memoryx.NewCompactor(mock, nil, memoryx.WithRecentToKeep(1))
	msgs, _ := conversation(3, 50)

	out, err := c.Compact(context.Background(), 3, memoryx.TriggerSoftCap, msgs, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !out.Deferred || mock.called != 0 {
		t.Fatalf("expected deferral without a model call, got %+v (calls=%d)", out, mock.called)
	}
	if len(out.Messages) != len(msgs) {
		t.Fatal("deferred compaction changed the conversation")
	}
}

func TestCompactor_DefersWhenNothingOlderThanTail(t *testing.T) {
	c := memoryx.NewCompactor(&mockLLM{response: "digest"}, nil, memoryx.WithRecentToKeep(4))
	msgs, _ := conversation(2, 50)

	out, err := c.Compact(context.Background(), 2, memoryx.TriggerSoftCap, msgs, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !out.Deferred {
		t.Fatal("expected deferral")
	}
}

func TestCompactor_DiscardsGrowingRebuild(t *testing.T) {
	mock := &mockLLM{response: strings.Repeat("verbose ", 5000)}
	c := memoryx.NewCompactor(mock, nil, memoryx.WithRecentToKeep(2))
	msgs, ledger := conversation(3, 20)

	out, err := c.Compact(context.Background(), 3, memoryx.TriggerInterval, msgs, ledger)
	if err != nil {
		t.Fatal(err)
	}
	if !out.Deferred {
		t.Fatal("expected a growing rebuild to be discarded")
	}
	if ledger.Len() != 3 {
		t.Fatalf("discarded compaction folded the ledger: %+v", ledger.Steps())
	}
}

func TestCompactor_FoldStrategyRendersLedger(t *testing.T) {
	mock := &mockLLM{response: "rounds 1-2 digest"}
	c := memoryx.NewCompactor(mock, nil,
		memoryx.WithRecentToKeep(2),
		memoryx.WithStrategy(memoryx.StrategyFold),
	)
	msgs, ledger := conversation(3, 400)

	out, err := c.Compact(context.Background(), 3, memoryx.TriggerSoftCap, msgs, ledger)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.Summary.Content, "[Steps 1-2, compressed]") {
		t.Fatalf("expected ledger rendering in summary, got %q", out.Summary.Content)
	}
}

func TestCompactor_RollingReusesPreviousSummary(t *testing.T) {
	mock := &mockLLM{response: "first digest"}
	c := memoryx.NewCompactor(mock, nil, memoryx.WithRecentToKeep(2))
	msgs, ledger := conversation(3, 400)

	out, err := c.Compact(context.Background(), 3, memoryx.TriggerSoftCap, msgs, ledger)
	if err != nil {
		t.Fatal(err)
	}

	next := out.Messages
	for r := 4; r <= 6; r++ {
		next = append(next,
			llm.NewAssistantMessage(strings.Repeat("a", 400)).WithMeta(llm.MetaTurn, r),
			llm.NewUserMessage(strings.Repeat("o", 400)).WithMeta(llm.MetaTurn, r).WithMeta(llm.MetaObservation, true),
		)
		ledger.Append(memoryx.Step{Start: r, End: r, Content: "step"})
	}
	mock.response = "second digest"
	out, err = c.Compact(context.Background(), 6, memoryx.TriggerSoftCap, next, ledger)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(mock.last[1].Content, "first digest") {
		t.Fatal("previous digest not carried into the next digest request")
	}
	if n := len(out.Messages); n != 5 {
		t.Fatalf("expected 5 messages, got %d", n)
	}
	// Rolling absorbs the earlier fold: one folded step 1-5 plus live 6.
	if ledger.Len() != 2 {
		t.Fatalf("expected 2 ledger steps, got %+v", ledger.Steps())
	}
}
