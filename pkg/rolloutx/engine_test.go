package rolloutx_test

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Abraxas-365/rollout/pkg/ai/llm"
	"github.com/Abraxas-365/rollout/pkg/ai/llm/agentx"
	"github.com/Abraxas-365/rollout/pkg/ai/llm/branchx"
	"github.com/Abraxas-365/rollout/pkg/ai/llm/entropyx"
	"github.com/Abraxas-365/rollout/pkg/asyncx"
	"github.com/Abraxas-365/rollout/pkg/errx"
	"github.com/Abraxas-365/rollout/pkg/rolloutx"
	"github.com/Abraxas-365/rollout/pkg/sinkx"
)

// fakeRunner answers every task after one scored tool-call round unless fn
// overrides it.
type fakeRunner struct {
	mu    sync.Mutex
	tasks []agentx.Task
	fn    func(ctx context.Context, task agentx.Task) (*agentx.Result, error)
}

func (f *fakeRunner) Run(ctx context.Context, task agentx.Task) (*agentx.Result, error) {
	f.mu.Lock()
	f.tasks = append(f.tasks, task)
	f.mu.Unlock()
	if f.fn != nil {
		return f.fn(ctx, task)
	}
	return answered(task), nil
}

func (f *fakeRunner) ran() []agentx.Task {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]agentx.Task(nil), f.tasks...)
}

func answered(task agentx.Task) *agentx.Result {
	res := agentx.NewResult(task)
	res.Messages = []llm.Message{
		llm.NewSystemMessage("sys"),
		llm.NewUserMessage(task.Question),
		llm.NewAssistantMessage("<tool_call>{}</tool_call>").WithMeta(llm.MetaTurn, 1),
		llm.NewUserMessage("<tool_response>\nok\n</tool_response>").WithMeta(llm.MetaTurn, 1).WithMeta(llm.MetaObservation, true),
		llm.NewAssistantMessage("<answer>otis</answer>").WithMeta(llm.MetaTurn, 2),
	}
	res.Rounds = []agentx.Round{
		{Round: 1, MessageIndex: 2, Event: agentx.KindToolCall, Scores: entropyx.Scores{Whole: 0.5, Reasoning: -1, Action: 0.2}},
		{Round: 2, MessageIndex: 4, Event: agentx.KindAnswer, Scores: entropyx.Unscored},
	}
	res.Prediction = "otis"
	res.Termination = agentx.TerminationAnswered
	res.Duration = 10 * time.Millisecond
	return res
}

func newEngine(t *testing.T, runner rolloutx.TrajectoryRunner, budget branchx.Budget, store sinkx.Store, opts ...rolloutx.Option) (*rolloutx.Engine, *sinkx.Writer) {
	t.Helper()
	sched, err := branchx.NewScheduler(budget, entropyx.ModeWhole, 10)
	if err != nil {
		t.Fatalf("scheduler: %v", err)
	}
	w := sinkx.NewWriter(store)
	e, err := rolloutx.NewEngine(runner, sched, w, opts...)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	return e, w
}

func questions(n int) []rolloutx.Question {
	out := make([]rolloutx.Question, n)
	for i := range out {
		out[i] = rolloutx.Question{Question: "question " + string(rune('a'+i)), Answer: "otis"}
	}
	return out
}

func TestNewEngine_RequiresCollaborators(t *testing.T) {
	if _, err := rolloutx.NewEngine(nil, nil, nil); !errx.HasCode(err, rolloutx.ErrConfig) {
		t.Fatalf("expected config error, got %v", err)
	}
}

func TestEngine_PlainSampling(t *testing.T) {
	store := sinkx.NewMemoryStore()
	runner := &fakeRunner{}
	e, w := newEngine(t, runner, branchx.Budget{InitialRollouts: 3, Total: 3}, store, rolloutx.WithWorkers(4))

	progress, err := e.Run(context.Background(), questions(2))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if progress.Completed != 6 || progress.QuestionsDone != 2 || !progress.Finished {
		t.Fatalf("unexpected progress %+v", progress)
	}
	if progress.Terminations[agentx.TerminationAnswered] != 6 {
		t.Fatalf("unexpected terminations %+v", progress.Terminations)
	}
	if got := len(store.Records()); got != 6 {
		t.Fatalf("expected 6 records, got %d", got)
	}
}

func TestEngine_BranchRounds(t *testing.T) {
	store := sinkx.NewMemoryStore()
	runner := &fakeRunner{}
	budget := branchx.Budget{InitialRollouts: 2, TopK: 1, Rounds: 2, Repeats: 2, Total: 10}
	e, w := newEngine(t, runner, budget, store, rolloutx.WithWorkers(3))

	progress, err := e.Run(context.Background(), questions(1))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	_ = w.Close()

	if progress.Completed != 10 || progress.Planned != 10 {
		t.Fatalf("unexpected progress %+v", progress)
	}

	byIndex := map[int]sinkx.Record{}
	for _, rec := range store.Records() {
		if _, dup := byIndex[rec.RolloutIndex]; dup {
			t.Fatalf("index %d written twice", rec.RolloutIndex)
		}
		byIndex[rec.RolloutIndex] = rec
	}
	for i := 0; i < 10; i++ {
		if _, ok := byIndex[i]; !ok {
			t.Fatalf("index %d missing", i)
		}
	}

	// Round 1 branches from the initial rollouts.
	for i := 2; i < 6; i++ {
		rec := byIndex[i]
		if rec.Kind != agentx.TaskPartial || rec.BranchRound != 1 {
			t.Fatalf("index %d: unexpected record %+v", i, rec)
		}
		src := byIndex[(i-2)/2]
		if rec.ParentID != src.TaskID || rec.LineageID != src.LineageID {
			t.Fatalf("index %d should descend from index %d", i, (i-2)/2)
		}
	}

	// Round 2 branches from the lowest-index child of each position on ties.
	if byIndex[6].ParentID != byIndex[2].TaskID || byIndex[8].ParentID != byIndex[4].TaskID {
		t.Fatalf("round 2 picked unexpected sources")
	}

	for _, task := range runner.ran() {
		if task.Kind == agentx.TaskPartial && len(task.Prefix) != 2 {
			t.Fatalf("partial task should replay the prefix before round 1, got %d messages", len(task.Prefix))
		}
	}
}

func TestEngine_ResumeSkipsFinishedSlots(t *testing.T) {
	q := questions(1)[0]
	done := sinkx.FromResult(answered(agentx.Task{ID: "old-0", Question: q.Question, RolloutIndex: 0, LineageID: "lineage-0", Kind: agentx.TaskFull}))
	failed := sinkx.FromResult(agentx.ErrorResult(agentx.Task{ID: "old-1", Question: q.Question, RolloutIndex: 1, Kind: agentx.TaskFull}, nil))
	failed.Termination = agentx.TerminationLLMError

	store := sinkx.NewMemoryStore()
	runner := &fakeRunner{}
	budget := branchx.Budget{InitialRollouts: 2, TopK: 1, Rounds: 1, Repeats: 1, Total: 4}
	e, w := newEngine(t, runner, budget, store, rolloutx.WithResume(sinkx.NewIndex([]sinkx.Record{done, failed})))

	progress, err := e.Run(context.Background(), []rolloutx.Question{q})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	_ = w.Close()

	if progress.Resumed != 1 || progress.Completed != 3 {
		t.Fatalf("unexpected progress %+v", progress)
	}
	for _, task := range runner.ran() {
		if task.RolloutIndex == 0 {
			t.Fatalf("finished slot must not run again")
		}
	}

	// The resumed record is still a branch source.
	var child *sinkx.Record
	for _, rec := range store.Records() {
		if rec.RolloutIndex == 2 {
			child = &rec
		}
	}
	if child == nil || child.ParentID != "old-0" || child.LineageID != "lineage-0" {
		t.Fatalf("expected index 2 to branch from the resumed record, got %+v", child)
	}
}

func TestEngine_FullyResumed(t *testing.T) {
	q := questions(1)[0]
	rec := sinkx.FromResult(answered(agentx.Task{ID: "old", Question: q.Question, RolloutIndex: 0, Kind: agentx.TaskFull}))
	runner := &fakeRunner{}
	e, w := newEngine(t, runner, branchx.Budget{InitialRollouts: 1, Total: 1}, sinkx.NewMemoryStore(),
		rolloutx.WithResume(sinkx.NewIndex([]sinkx.Record{rec})))

	progress, err := e.Run(context.Background(), []rolloutx.Question{q})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	_ = w.Close()
	if progress.Resumed != 1 || progress.QuestionsDone != 1 || len(runner.ran()) != 0 {
		t.Fatalf("unexpected progress %+v", progress)
	}
}

func TestEngine_IdleWatchdogKeepsPartialResults(t *testing.T) {
	store := sinkx.NewMemoryStore()
	runner := &fakeRunner{fn: func(ctx context.Context, task agentx.Task) (*agentx.Result, error) {
		if task.RolloutIndex >= 2 {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return answered(task), nil
	}}
	e, w := newEngine(t, runner, branchx.Budget{InitialRollouts: 5, Total: 5}, store,
		rolloutx.WithWorkers(5),
		rolloutx.WithIdleTimeout(100*time.Millisecond),
	)

	progress, err := e.Run(context.Background(), questions(1))
	if !errx.HasCode(err, rolloutx.ErrStalled) {
		t.Fatalf("expected stalled error, got %v", err)
	}
	_ = w.Close()

	if !progress.Stalled || progress.Completed != 2 {
		t.Fatalf("expected 2 completed before the stall, got %+v", progress)
	}
	if got := len(store.Records()); got != 2 {
		t.Fatalf("expected 2 persisted records, got %d", got)
	}
}

func TestEngine_TaskPanicBecomesErrorRecord(t *testing.T) {
	store := sinkx.NewMemoryStore()
	runner := &fakeRunner{fn: func(ctx context.Context, task agentx.Task) (*agentx.Result, error) {
		if task.RolloutIndex == 1 {
			panic("tool exploded")
		}
		return answered(task), nil
	}}
	e, w := newEngine(t, runner, branchx.Budget{InitialRollouts: 3, Total: 3}, store, rolloutx.WithWorkers(3))

	progress, err := e.Run(context.Background(), questions(1))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	_ = w.Close()

	if progress.Terminations[agentx.TerminationError] != 1 || progress.Terminations[agentx.TerminationAnswered] != 2 {
		t.Fatalf("unexpected terminations %+v", progress.Terminations)
	}
	for _, rec := range store.Records() {
		if rec.RolloutIndex == 1 && !strings.Contains(rec.Error, "tool exploded") {
			t.Fatalf("panic should be recorded, got %q", rec.Error)
		}
	}
}

func TestEngine_TaskTimeout(t *testing.T) {
	store := sinkx.NewMemoryStore()
	runner := &fakeRunner{fn: func(ctx context.Context, task agentx.Task) (*agentx.Result, error) {
		time.Sleep(300 * time.Millisecond)
		return answered(task), nil
	}}
	e, w := newEngine(t, runner, branchx.Budget{InitialRollouts: 1, Total: 1}, store, rolloutx.WithTaskTimeout(30*time.Millisecond))

	if _, err := e.Run(context.Background(), questions(1)); err != nil {
		t.Fatalf("run: %v", err)
	}
	_ = w.Close()

	records := store.Records()
	if len(records) != 1 || records[0].Termination != agentx.TerminationTimeout {
		t.Fatalf("expected a timeout record, got %+v", records)
	}
}

// concurrentLLM answers after a delay and tracks overlapping calls.
type concurrentLLM struct {
	inflight atomic.Int64
	peak     atomic.Int64
	calls    atomic.Int64
}

func (c *concurrentLLM) Chat(ctx context.Context, _ []llm.Message, _ ...llm.Option) (llm.Response, error) {
	n := c.inflight.Add(1)
	defer c.inflight.Add(-1)
	c.calls.Add(1)
	for {
		p := c.peak.Load()
		if n <= p || c.peak.CompareAndSwap(p, n) {
			break
		}
	}
	select {
	case <-time.After(20 * time.Millisecond):
	case <-ctx.Done():
		return llm.Response{}, ctx.Err()
	}
	return llm.Response{Message: llm.NewAssistantMessage("<answer>otis</answer>")}, nil
}

func TestEngine_ModelAdmissionLimit(t *testing.T) {
	model := &concurrentLLM{}
	limiter := asyncx.NewLimiter(map[string]int{agentx.LimitModel: 3})
	runner := agentx.NewRunner(model, nil, agentx.WithLimiter(limiter), agentx.WithMaxTurns(2))

	store := sinkx.NewMemoryStore()
	e, w := newEngine(t, runner, branchx.Budget{InitialRollouts: 10, Total: 10}, store, rolloutx.WithWorkers(10))

	progress, err := e.Run(context.Background(), questions(1))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	_ = w.Close()

	if progress.Completed != 10 || model.calls.Load() != 10 {
		t.Fatalf("expected 10 trajectories and 10 calls, got %d and %d", progress.Completed, model.calls.Load())
	}
	if peak := model.peak.Load(); peak > 3 {
		t.Fatalf("model saw %d concurrent calls, limit is 3", peak)
	}
	if peak := limiter.Peak(agentx.LimitModel); peak > 3 || peak < 1 {
		t.Fatalf("unexpected limiter peak %d", peak)
	}
}

func TestEngine_NoQuestions(t *testing.T) {
	e, w := newEngine(t, &fakeRunner{}, branchx.Budget{InitialRollouts: 1, Total: 1}, sinkx.NewMemoryStore())
	defer w.Close()
	if _, err := e.Run(context.Background(), nil); !errx.HasCode(err, rolloutx.ErrNoInputs) {
		t.Fatalf("expected no inputs error, got %v", err)
	}
}

func TestObserve(t *testing.T) {
	// Observe must accept every event type without a label mismatch panic.
	for _, ev := range []agentx.Event{
		{Type: agentx.EventRound, Kind: agentx.KindToolCall},
		{Type: agentx.EventToolCall, ToolName: "search"},
		{Type: agentx.EventToolResult, ToolName: "search"},
		{Type: agentx.EventRetry},
		{Type: agentx.EventCompaction, TokensBefore: 900, TokensAfter: 300},
		{Type: agentx.EventTermination, Termination: agentx.TerminationAnswered},
	} {
		rolloutx.Observe(ev)
	}
	rolloutx.ObserveInFlight(agentx.LimitModel, 2)
}
