package agentx

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/Abraxas-365/rollout/pkg/ai/llm"
	"github.com/Abraxas-365/rollout/pkg/ai/llm/entropyx"
	"github.com/Abraxas-365/rollout/pkg/ai/llm/memoryx"
	"github.com/Abraxas-365/rollout/pkg/ai/llm/toolx"
	"github.com/Abraxas-365/rollout/pkg/asyncx"
	"github.com/Abraxas-365/rollout/pkg/logx"
)

// LimitModel is the admission kind of model calls.
const LimitModel = "model"

// Runner drives one trajectory at a time through think, act and observe
// rounds. A Runner holds no per-trajectory state and may run many
// trajectories concurrently.
type Runner struct {
	client    llm.Client
	tools     toolx.Dispatcher
	compactor *memoryx.Compactor
	estimator memoryx.TokenEstimator
	scorer    *entropyx.Estimator
	protocol  *Protocol
	retry     asyncx.RetryPolicy
	limiter   *asyncx.Limiter
	options   []llm.Option
	observer  Observer

	systemPrompt  string
	maxTurns      int
	timeout       time.Duration
	hardCap       int
	forceFinalize bool
	topLogprobs   int
}

// RunnerOption configures a Runner
type RunnerOption func(*Runner)

// WithOptions adds LLM options to every model call
func WithOptions(options ...llm.Option) RunnerOption {
	return func(r *Runner) {
		r.options = append(r.options, options...)
	}
}

// WithSystemPrompt sets the system prompt of full tasks
func WithSystemPrompt(prompt string) RunnerOption {
	return func(r *Runner) { r.systemPrompt = prompt }
}

// WithMaxTurns sets the default turn budget
func WithMaxTurns(n int) RunnerOption {
	return func(r *Runner) { r.maxTurns = n }
}

// WithTimeout sets the per-trajectory wall-clock budget
func WithTimeout(d time.Duration) RunnerOption {
	return func(r *Runner) { r.timeout = d }
}

// WithHardCap sets the token count past which no model call is issued
func WithHardCap(tokens int) RunnerOption {
	return func(r *Runner) { r.hardCap = tokens }
}

// WithForceFinalize toggles the forced-finalization turn
func WithForceFinalize(on bool) RunnerOption {
	return func(r *Runner) { r.forceFinalize = on }
}

// WithTopLogprobs requests per-token alternatives for uncertainty scoring
func WithTopLogprobs(n int) RunnerOption {
	return func(r *Runner) { r.topLogprobs = n }
}

// WithCompactor enables context compaction
func WithCompactor(c *memoryx.Compactor) RunnerOption {
	return func(r *Runner) { r.compactor = c }
}

// WithEstimator sets the token estimator used for the hard cap
func WithEstimator(e memoryx.TokenEstimator) RunnerOption {
	return func(r *Runner) { r.estimator = e }
}

// WithScorer sets the uncertainty estimator
func WithScorer(s *entropyx.Estimator) RunnerOption {
	return func(r *Runner) { r.scorer = s }
}

// WithProtocol sets the output protocol
func WithProtocol(p *Protocol) RunnerOption {
	return func(r *Runner) { r.protocol = p }
}

// WithRetryPolicy sets the policy for model calls
func WithRetryPolicy(p asyncx.RetryPolicy) RunnerOption {
	return func(r *Runner) { r.retry = p }
}

// WithLimiter routes model calls through the "model" admission limit
func WithLimiter(l *asyncx.Limiter) RunnerOption {
	return func(r *Runner) { r.limiter = l }
}

// WithObserver registers an event observer
func WithObserver(o Observer) RunnerOption {
	return func(r *Runner) { r.observer = o }
}

// NewRunner creates a runner
func NewRunner(client llm.Client, tools toolx.Dispatcher, opts ...RunnerOption) *Runner {
	r := &Runner{
		client:        client,
		tools:         tools,
		retry:         asyncx.DefaultRetryPolicy(),
		maxTurns:      30,
		hardCap:       32000,
		forceFinalize: true,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.protocol == nil {
		r.protocol = NewProtocol(DefaultMarkers())
	}
	if r.scorer == nil {
		m := r.protocol.Markers()
		r.scorer = entropyx.NewEstimator(
			entropyx.WithReasoningDelimiters(m.ThinkOpen, m.ThinkClose),
			entropyx.WithActionDelimiters(m.CallOpen, m.CallClose),
		)
	}
	if r.estimator == nil {
		if r.compactor != nil {
			r.estimator = r.compactor.Estimator()
		} else {
			r.estimator = memoryx.NewCharBasedEstimator()
		}
	}
	if r.systemPrompt == "" {
		r.systemPrompt = DefaultSystemPrompt(r.protocol.Markers(), "")
	}
	if r.retry.Retryable == nil {
		r.retry.Retryable = llm.IsRetryable
	}
	return r
}

// MaxTurns returns the default turn budget.
func (r *Runner) MaxTurns() int { return r.maxTurns }

// Timeout returns the per-trajectory wall-clock budget.
func (r *Runner) Timeout() time.Duration { return r.timeout }

// trajectory is the mutable state of one Run.
type trajectory struct {
	task       Task
	result     *Result
	transcript *memoryx.Conversation
	working    *memoryx.Conversation
	ledger     *memoryx.Ledger
	lastRound  int
	log        *logx.Logger
}

// Run executes task until it terminates. The returned Result is always
// non-nil; an error is returned only for an invalid task or when ctx was
// cancelled by the caller.
func (r *Runner) Run(ctx context.Context, task Task) (*Result, error) {
	started := time.Now()
	if strings.TrimSpace(task.Question) == "" {
		err := agentErrors.New(ErrInvalidTask).WithDetail("task_id", task.ID)
		return ErrorResult(task, err), err
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, started.Add(r.timeout))
		defer cancel()
	}

	ctx = logx.ContextWithFields(ctx, logx.Fields{
		"task_id":       task.ID,
		"rollout_index": task.RolloutIndex,
		"lineage":       task.LineageID,
	})
	t := r.newTrajectory(ctx, task)
	t.log.Info("trajectory started")

	err := r.loop(ctx, t)

	res := t.result
	res.Messages = t.transcript.Snapshot()
	res.Duration = time.Since(started)
	t.log.WithFields(logx.Fields{
		"termination": string(res.Termination),
		"rounds":      len(res.Rounds),
		"compactions": res.Compactions,
		"finalized":   res.Finalized,
		"duration":    res.Duration.String(),
	}).Info("trajectory finished")
	r.emit(Event{Type: EventTermination, TaskID: task.ID, Round: t.lastRound, Termination: res.Termination, Duration: res.Duration, Err: err})
	return res, err
}

func (r *Runner) newTrajectory(ctx context.Context, task Task) *trajectory {
	t := &trajectory{
		task:   task,
		result: NewResult(task),
		ledger: memoryx.NewLedger(),
		log:    logx.GetDefaultLogger().ForContext(ctx),
	}

	if len(task.Prefix) == 0 {
		seed := []llm.Message{llm.NewSystemMessage(r.systemPrompt), llm.NewUserMessage(task.Question)}
		t.transcript = memoryx.NewConversation(seed...)
		t.working = memoryx.NewConversation(seed...)
		return t
	}

	t.transcript = memoryx.NewConversation(task.Prefix...)
	t.working = memoryx.NewConversation(task.Prefix...)
	r.replayLedger(t, task.Prefix)
	return t
}

// replayLedger rebuilds the step ledger of a prefix. Round numbering of the
// new trajectory continues after the last round of the prefix.
func (r *Runner) replayLedger(t *trajectory, prefix []llm.Message) {
	for i, m := range prefix {
		turn, ok := m.Turn()
		if !ok {
			continue
		}
		if turn > t.lastRound {
			t.lastRound = turn
		}
		if m.Role != llm.RoleAssistant {
			continue
		}
		content := m.Content
		if i+1 < len(prefix) && prefix[i+1].Flag(llm.MetaObservation) {
			content += "\n" + prefix[i+1].Content
		} else {
			continue
		}
		if err := t.ledger.Append(memoryx.Step{Start: turn, End: turn, Content: content}); err != nil {
			t.log.WithError(err).Debug("prefix step skipped")
		}
	}
}

func (r *Runner) loop(ctx context.Context, t *trajectory) error {
	budget := t.task.MaxTurns
	if budget <= 0 {
		budget = r.maxTurns
	}

	for i := 0; i < budget; i++ {
		round := t.lastRound + 1

		// 1. wall clock
		if err := ctx.Err(); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				t.result.Termination = TerminationTimeout
				return nil
			}
			t.result.Termination = TerminationTimeout
			t.result.Error = err.Error()
			return err
		}

		// 2. hard cap
		working := t.working.Snapshot()
		if r.hardCap > 0 {
			if tokens := r.estimator.EstimateTokens(working); tokens > r.hardCap {
				t.log.WithFields(logx.Fields{"round": round, "tokens": tokens, "hard_cap": r.hardCap}).
					Warn("context over hard cap")
				t.result.Termination = TerminationMaxLengthExceeded
				if r.forceFinalize {
					r.finalize(ctx, t, minimalContext(working))
				}
				return nil
			}
		}

		// 3. model call
		resp, err := r.chat(ctx, t, round, working)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() != nil {
				t.result.Termination = TerminationTimeout
				return nil
			}
			if errors.Is(err, context.Canceled) && ctx.Err() != nil {
				t.result.Termination = TerminationTimeout
				t.result.Error = err.Error()
				return ctx.Err()
			}
			t.log.WithField("round", round).WithError(err).Error("model call failed")
			t.result.Termination = TerminationLLMError
			t.result.Error = err.Error()
			return nil
		}
		t.lastRound = round

		// 4. parse, dispatch, record
		kind, answer := r.step(ctx, t, round, resp, i == budget-1)

		// 5. answer
		if kind == KindAnswer {
			t.result.Termination = TerminationAnswered
			t.result.Prediction = answer
			return nil
		}

		// 6. compaction
		r.compact(ctx, t, round)
	}

	// 7. out of turns
	t.result.Termination = TerminationMaxTurnsExceeded
	if r.forceFinalize {
		working := t.working.Snapshot()
		if r.hardCap > 0 && r.estimator.EstimateTokens(working) > r.hardCap {
			working = minimalContext(working)
		}
		r.finalize(ctx, t, working)
	}
	return nil
}

// step applies one model output to the trajectory.
func (r *Runner) step(ctx context.Context, t *trajectory, round int, resp llm.Response, last bool) (Kind, string) {
	content := resp.Message.Content
	scores := r.scorer.Score(resp.Logprobs)

	assistant := llm.NewAssistantMessage(content).WithMeta(llm.MetaTurn, round)
	index := t.transcript.Len()
	t.transcript.Add(assistant)
	t.working.Add(assistant)

	ev := r.protocol.Parse(content)
	t.result.Rounds = append(t.result.Rounds, Round{Round: round, MessageIndex: index, Event: ev.Kind, Scores: scores})
	t.log.WithFields(logx.Fields{"round": round, "event": string(ev.Kind), "whole": scores.Whole}).Debug("round parsed")
	r.emit(Event{Type: EventRound, TaskID: t.task.ID, Round: round, Kind: ev.Kind})

	switch ev.Kind {
	case KindAnswer:
		return KindAnswer, ev.Answer

	case KindToolCall, KindMalformed:
		var obs string
		if ev.Kind == KindMalformed {
			obs = r.protocol.WrapObservation(ev.Problem)
		} else {
			obs = r.execute(ctx, t, round, ev.Calls)
		}
		observation := llm.NewUserMessage(obs).
			WithMeta(llm.MetaTurn, round).
			WithMeta(llm.MetaObservation, true)
		t.transcript.Add(observation)
		t.working.Add(observation)
		if err := t.ledger.Append(memoryx.Step{Start: round, End: round, Content: content + "\n" + obs}); err != nil {
			t.log.WithError(err).Warn("ledger append failed")
		}

	case KindReasoning:
		if !last {
			nudge := llm.NewUserMessage(nudgePrompt(r.protocol.Markers())).
				WithMeta(llm.MetaTurn, round).
				WithMeta(llm.MetaNudge, true)
			t.transcript.Add(nudge)
			t.working.Add(nudge)
		}
	}
	return ev.Kind, ""
}

// execute runs every call in order of appearance. A failing call does not
// stop the ones after it.
func (r *Runner) execute(ctx context.Context, t *trajectory, round int, calls []Call) string {
	obs := make([]string, 0, len(calls))
	for _, c := range calls {
		if c.Malformed() {
			obs = append(obs, c.Problem)
			continue
		}
		r.emit(Event{Type: EventToolCall, TaskID: t.task.ID, Round: round, ToolName: c.Name})
		out := r.tools.Dispatch(ctx, c.Name, c.Arguments)
		r.emit(Event{Type: EventToolResult, TaskID: t.task.ID, Round: round, ToolName: c.Name, ToolOutput: out})
		obs = append(obs, out)
	}
	return r.protocol.JoinObservations(obs)
}

func (r *Runner) compact(ctx context.Context, t *trajectory, round int) {
	if r.compactor == nil {
		return
	}
	working := t.working.Snapshot()
	trigger := r.compactor.ShouldCompact(round, working)
	if trigger == memoryx.TriggerNone {
		return
	}
	c, err := r.compactor.Compact(ctx, round, trigger, working, t.ledger)
	t.result.Usage.Add(c.Usage)
	if err != nil {
		t.log.WithField("round", round).WithError(err).Warn("compaction failed")
		return
	}
	if c.Deferred {
		t.log.WithFields(logx.Fields{"round": round, "reason": c.Reason}).Debug("compaction deferred")
		return
	}
	t.working.Replace(c.Messages)
	t.result.Compactions++
	r.emit(Event{Type: EventCompaction, TaskID: t.task.ID, Round: round, TokensBefore: c.TokensBefore, TokensAfter: c.TokensAfter})
}

// finalize issues the single forced-finalization call on msgs.
func (r *Runner) finalize(ctx context.Context, t *trajectory, msgs []llm.Message) {
	prompt := llm.NewUserMessage(finalizePrompt(r.protocol.Markers())).
		WithMeta(llm.MetaTurn, t.lastRound+1).
		WithMeta(llm.MetaFinalize, true)
	msgs = append(llm.CloneMessages(msgs), prompt)

	if r.hardCap > 0 && r.estimator.EstimateTokens(msgs) > r.hardCap {
		t.log.Warn("finalization skipped: minimal context over hard cap")
		return
	}
	if ctx.Err() != nil {
		return
	}

	resp, err := r.chat(ctx, t, t.lastRound+1, msgs)
	t.result.Finalized = true
	t.transcript.Add(prompt)
	if err != nil {
		t.log.WithError(err).Warn("forced finalization failed")
		if t.result.Error == "" {
			t.result.Error = err.Error()
		}
		return
	}
	content := resp.Message.Content
	t.transcript.Add(llm.NewAssistantMessage(content).
		WithMeta(llm.MetaTurn, t.lastRound+1).
		WithMeta(llm.MetaFinalize, true))

	if ev := r.protocol.Parse(content); ev.Kind == KindAnswer {
		t.result.Prediction = ev.Answer
	}
}

// chat calls the model under the central retry policy, holding one model
// admission slot per attempt.
func (r *Runner) chat(ctx context.Context, t *trajectory, round int, msgs []llm.Message) (llm.Response, error) {
	opts := r.options
	if r.topLogprobs > 0 {
		opts = append(append([]llm.Option(nil), r.options...), llm.WithTopLogprobs(r.topLogprobs))
	}

	policy := r.retry
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		t.log.WithFields(logx.Fields{
			"round":   round,
			"attempt": attempt,
			"delay":   delay.String(),
			"failure": string(llm.Classify(err)),
		}).WithError(err).Warn("retrying model call")
		r.emit(Event{Type: EventRetry, TaskID: t.task.ID, Round: round, Err: err, Duration: delay})
	}

	resp, err := asyncx.Retry(ctx, policy, func(ctx context.Context) (llm.Response, error) {
		release, err := r.limiter.Acquire(ctx, LimitModel)
		if err != nil {
			return llm.Response{}, err
		}
		defer release()

		resp, err := r.client.Chat(ctx, msgs, opts...)
		if err != nil {
			return resp, err
		}
		if strings.TrimSpace(resp.Message.Content) == "" {
			return resp, llm.NewEmptyResponseError("")
		}
		return resp, nil
	})
	if err != nil {
		return resp, err
	}

	t.result.Usage.Add(resp.Usage)
	if cal, ok := r.estimator.(memoryx.Calibrator); ok && resp.Usage.PromptTokens > 0 {
		cal.RecordUsage(msgs, resp.Usage.PromptTokens)
	}
	return resp, nil
}

func (r *Runner) emit(e Event) {
	if r.observer != nil {
		r.observer(e)
	}
}

// minimalContext keeps the system prompt, the question and the latest
// summary turn.
func minimalContext(working []llm.Message) []llm.Message {
	n := 2
	if len(working) < n {
		n = len(working)
	}
	out := llm.CloneMessages(working[:n])
	for i := len(working) - 1; i >= n; i-- {
		if working[i].Flag(llm.MetaSummary) {
			out = append(out, working[i])
			break
		}
	}
	return out
}
