package memoryx

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/Abraxas-365/rollout/pkg/ai/llm"
	"github.com/Abraxas-365/rollout/pkg/asyncx"
	"github.com/Abraxas-365/rollout/pkg/logx"
)

// Strategy selects what the summary turn holds after compaction.
type Strategy string

const (
	// StrategyRolling keeps the latest digest as the summary turn.
	StrategyRolling Strategy = "rolling"
	// StrategyFold renders every folded ledger step as the summary turn.
	StrategyFold Strategy = "fold"
)

// Trigger names the condition that fired a compaction.
type Trigger string

const (
	TriggerNone        Trigger = ""
	TriggerInterval    Trigger = "interval"
	TriggerSoftCap     Trigger = "soft_cap"
	TriggerObservation Trigger = "observation"
)

const digestPrompt = `You maintain the working notes of a research agent. Condense the history below into a digest with exactly these sections:

## Task
One or two sentences restating what is being solved.

## Key findings
Facts established so far.

## Evidence
- <handle>: supporting detail (URL, document title or query that produced it)

## Open questions
What is still unknown or worth checking next.

Keep every concrete name, number and URL that may matter for the final answer.`

// Compactor shrinks a working conversation when it grows past its limits.
// The conversation always has the shape
//
//	[system, question, (summary), raw turns...]
//
// and is rebuilt as [system, question, summary, last K raw turns].
type Compactor struct {
	client    llm.Client
	estimator TokenEstimator

	Interval       int
	SoftCap        int
	ObservationCap int
	KeepRecent     int
	TailChars      int
	Strategy       Strategy

	retry    asyncx.RetryPolicy
	limiter  *asyncx.Limiter
	chatOpts []llm.Option

	// OnCompact observes every accepted compaction.
	OnCompact func(c Compaction)
}

// CompactorOption configures a Compactor.
type CompactorOption func(*Compactor)

// WithInterval fires compaction every n rounds. 0 disables.
func WithInterval(n int) CompactorOption {
	return func(c *Compactor) { c.Interval = n }
}

// WithSoftCap fires compaction once the estimate exceeds n tokens.
func WithSoftCap(n int) CompactorOption {
	return func(c *Compactor) { c.SoftCap = n }
}

// WithObservationCap fires compaction when the last observation exceeds n tokens.
func WithObservationCap(n int) CompactorOption {
	return func(c *Compactor) { c.ObservationCap = n }
}

// WithRecentToKeep sets how many raw turns survive a compaction.
func WithRecentToKeep(n int) CompactorOption {
	return func(c *Compactor) { c.KeepRecent = n }
}

// WithTailChars clips the digest input to its last n characters.
func WithTailChars(n int) CompactorOption {
	return func(c *Compactor) { c.TailChars = n }
}

// WithStrategy sets the summary strategy.
func WithStrategy(s Strategy) CompactorOption {
	return func(c *Compactor) { c.Strategy = s }
}

// WithRetryPolicy sets the policy for digest calls.
func WithRetryPolicy(p asyncx.RetryPolicy) CompactorOption {
	return func(c *Compactor) { c.retry = p }
}

// WithLimiter routes digest calls through the "model" admission limit.
func WithLimiter(l *asyncx.Limiter) CompactorOption {
	return func(c *Compactor) { c.limiter = l }
}

// WithDigestOptions sets generation options for digest calls.
func WithDigestOptions(opts ...llm.Option) CompactorOption {
	return func(c *Compactor) { c.chatOpts = opts }
}

// WithOnCompact registers a callback for accepted compactions.
func WithOnCompact(fn func(c Compaction)) CompactorOption {
	return func(c *Compactor) { c.OnCompact = fn }
}

// NewCompactor creates a compactor that digests history with client.
func NewCompactor(client llm.Client, estimator TokenEstimator, opts ...CompactorOption) *Compactor {
	if estimator == nil {
		estimator = NewCharBasedEstimator()
	}
	c := &Compactor{
		client:         client,
		estimator:      estimator,
		SoftCap:        24000,
		ObservationCap: 6000,
		KeepRecent:     4,
		TailChars:      20000,
		Strategy:       StrategyRolling,
		retry:          asyncx.DefaultRetryPolicy(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.retry.Retryable == nil {
		c.retry.Retryable = llm.IsRetryable
	}
	return c
}

// Estimator returns the estimator used for trigger and size checks.
func (c *Compactor) Estimator() TokenEstimator {
	return c.estimator
}

// ShouldCompact evaluates the triggers after a round. The first one that
// holds is returned.
func (c *Compactor) ShouldCompact(round int, working []llm.Message) Trigger {
	if c.Interval > 0 && round > 0 && round%c.Interval == 0 {
		return TriggerInterval
	}
	if c.SoftCap > 0 && c.estimator.EstimateTokens(working) > c.SoftCap {
		return TriggerSoftCap
	}
	if c.ObservationCap > 0 && len(working) > 0 {
		last := working[len(working)-1]
		if last.Flag(llm.MetaObservation) &&
			c.estimator.EstimateTokens([]llm.Message{last}) > c.ObservationCap {
			return TriggerObservation
		}
	}
	return TriggerNone
}

// Compaction describes the outcome of one Compact call.
type Compaction struct {
	Trigger      Trigger
	Round        int
	Messages     []llm.Message
	Summary      llm.Message
	Digest       string
	Dropped      int
	TokensBefore int
	TokensAfter  int
	Usage        llm.Usage

	// Deferred is set when nothing was changed; Reason says why.
	Deferred bool
	Reason   string
}

// Compact digests the older raw turns of working and rebuilds the
// conversation. ledger, when non-nil, has the dropped turns folded into the
// digest. Only accepted compactions touch ledger.
//
// Compaction is deferred when the tail window cannot both hold K turns and
// start on an assistant turn, when there is nothing older than the tail,
// or when the rebuilt conversation would not be smaller.
func (c *Compactor) Compact(ctx context.Context, round int, trigger Trigger, working []llm.Message, ledger *Ledger) (Compaction, error) {
	out := Compaction{
		Trigger:      trigger,
		Round:        round,
		Messages:     working,
		TokensBefore: c.estimator.EstimateTokens(working),
	}
	out.TokensAfter = out.TokensBefore

	if len(working) < 2 {
		return deferred(out, "conversation has no question turn"), nil
	}
	head := working[:2]
	rest := working[2:]

	var previous *llm.Message
	if len(rest) > 0 && rest[0].Flag(llm.MetaSummary) {
		previous = &rest[0]
		rest = rest[1:]
	}

	if c.KeepRecent < 2 {
		return deferred(out, "retention window cannot hold a call and its response"), nil
	}
	cut := len(rest) - c.KeepRecent
	for cut > 0 && rest[cut].Role != llm.RoleAssistant {
		cut--
	}
	if cut <= 0 {
		return deferred(out, "nothing older than the retention window"), nil
	}
	dropped := rest[:cut]
	kept := rest[cut:]

	digest, usage, err := c.digest(ctx, previous, dropped)
	out.Usage = usage
	if err != nil {
		return out, err
	}

	staged := ledger
	if ledger != nil {
		staged = ledger.Clone()
		c.foldDropped(staged, dropped, digest)
	}

	body := digest
	if c.Strategy == StrategyFold && staged != nil {
		if last, ok := lastTurn(dropped); ok {
			if rendered := staged.RenderThrough(last); rendered != "" {
				body = rendered
			}
		}
	}
	summary := llm.NewUserMessage(fmt.Sprintf("[Orchestrator summary as of round %d. Treat as authoritative context.]\n%s", round, body)).
		WithMeta(llm.MetaSummary, true).
		WithMeta(llm.MetaTurn, round)

	rebuilt := make([]llm.Message, 0, len(head)+1+len(kept))
	rebuilt = append(rebuilt, head...)
	rebuilt = append(rebuilt, summary)
	rebuilt = append(rebuilt, kept...)

	after := c.estimator.EstimateTokens(rebuilt)
	if after > out.TokensBefore {
		logx.WithContext(ctx).WithFields(logx.Fields{
			"round":  round,
			"before": out.TokensBefore,
			"after":  after,
		}).Debug("compaction discarded: rebuilt context is larger")
		return deferred(out, "rebuilt conversation is not smaller"), nil
	}

	if ledger != nil {
		*ledger = *staged
	}
	out.Messages = rebuilt
	out.Summary = summary
	out.Digest = digest
	out.Dropped = len(dropped)
	out.TokensAfter = after

	logx.WithContext(ctx).WithFields(logx.Fields{
		"round":   round,
		"trigger": string(trigger),
		"dropped": out.Dropped,
		"before":  out.TokensBefore,
		"after":   out.TokensAfter,
	}).Info("context compacted")

	if c.OnCompact != nil {
		c.OnCompact(out)
	}
	return out, nil
}

func deferred(c Compaction, reason string) Compaction {
	c.Deferred = true
	c.Reason = reason
	return c
}

func (c *Compactor) digest(ctx context.Context, previous *llm.Message, dropped []llm.Message) (string, llm.Usage, error) {
	var sb strings.Builder
	if previous != nil {
		sb.WriteString("Previous digest:\n")
		sb.WriteString(previous.Content)
		sb.WriteString("\n\n")
	}
	sb.WriteString("History to condense:\n")
	sb.WriteString(clipTail(transcript(dropped), c.TailChars))

	request := []llm.Message{
		llm.NewSystemMessage(digestPrompt),
		llm.NewUserMessage(sb.String()),
	}

	resp, err := asyncx.Retry(ctx, c.retry, func(ctx context.Context) (llm.Response, error) {
		release, err := c.limiter.Acquire(ctx, "model")
		if err != nil {
			return llm.Response{}, err
		}
		defer release()
		resp, err := c.client.Chat(ctx, request, c.chatOpts...)
		if err != nil {
			return resp, err
		}
		if strings.TrimSpace(resp.Message.Content) == "" {
			return resp, llm.NewEmptyResponseError("")
		}
		return resp, nil
	})
	if err != nil {
		return "", resp.Usage, memoryErrors.NewWithCause(ErrDigestFailed, err)
	}
	return strings.TrimSpace(resp.Message.Content), resp.Usage, nil
}

// foldDropped folds the ledger range covered by dropped into digest. A
// rolling summary absorbs earlier folds as well, so its range starts at the
// first step.
func (c *Compactor) foldDropped(ledger *Ledger, dropped []llm.Message, digest string) {
	last, ok := lastTurn(dropped)
	if !ok {
		return
	}
	start, _ := firstTurn(dropped)
	if c.Strategy != StrategyFold {
		if first, ok := ledger.First(); ok && first.Start < start {
			start = first.Start
		}
	}
	if err := ledger.Fold(start, last, digest); err != nil {
		logx.WithError(err).Debug("ledger fold skipped")
	}
}

func firstTurn(msgs []llm.Message) (int, bool) {
	for _, m := range msgs {
		if t, ok := m.Turn(); ok {
			return t, true
		}
	}
	return 0, false
}

func lastTurn(msgs []llm.Message) (int, bool) {
	for i := len(msgs) - 1; i >= 0; i-- {
		if t, ok := msgs[i].Turn(); ok {
			return t, true
		}
	}
	return 0, false
}

func transcript(msgs []llm.Message) string {
	var sb strings.Builder
	for _, m := range msgs {
		sb.WriteString(m.Role)
		sb.WriteString(": ")
		sb.WriteString(m.Content)
		sb.WriteString("\n\n")
	}
	return sb.String()
}

func clipTail(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	i := len(s) - n
	for i < len(s) && !utf8.RuneStart(s[i]) {
		i++
	}
	return "..." + s[i:]
}
