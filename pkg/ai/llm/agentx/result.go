package agentx

import (
	"time"

	"github.com/Abraxas-365/rollout/pkg/ai/llm"
	"github.com/Abraxas-365/rollout/pkg/ai/llm/entropyx"
)

// Termination is why a trajectory stopped.
type Termination string

const (
	TerminationRunning           Termination = "running"
	TerminationAnswered          Termination = "answered"
	TerminationMaxTurnsExceeded  Termination = "max_turns_exceeded"
	TerminationMaxLengthExceeded Termination = "max_length_exceeded"
	TerminationLLMError          Termination = "llm_error"
	TerminationTimeout           Termination = "timeout"

	// TerminationError marks a task that failed outside the loop, e.g. a
	// panic caught by the supervisor.
	TerminationError Termination = "error"
)

// IsError reports whether t should be retried on resume.
func (t Termination) IsError() bool {
	return t == TerminationLLMError || t == TerminationError
}

// IsTerminal reports whether t is a final state.
func (t Termination) IsTerminal() bool {
	return t != "" && t != TerminationRunning
}

// TaskKind tells whether a task starts from scratch or from a prefix.
type TaskKind string

const (
	TaskFull    TaskKind = "full"
	TaskPartial TaskKind = "partial"
)

// Task is one scheduled trajectory. It is immutable once created.
type Task struct {
	ID           string   `json:"id"`
	Question     string   `json:"question"`
	Answer       string   `json:"answer,omitempty"`
	RolloutIndex int      `json:"rollout_index"`
	LineageID    string   `json:"lineage_id,omitempty"`
	ParentID     string   `json:"parent_id,omitempty"`
	Kind         TaskKind `json:"kind"`
	BranchRound  int      `json:"branch_round"`

	// Prefix is replayed verbatim before the first new round. Empty for
	// full tasks.
	Prefix []llm.Message `json:"prefix,omitempty"`

	// MaxTurns is the remaining turn budget. 0 uses the runner default.
	MaxTurns int `json:"max_turns,omitempty"`
}

// Round is the record of one model call inside the loop.
type Round struct {
	Round        int             `json:"round"`
	MessageIndex int             `json:"message_index"`
	Event        Kind            `json:"event"`
	Scores       entropyx.Scores `json:"scores"`
}

// Result is the outcome of one trajectory.
type Result struct {
	TaskID       string   `json:"task_id"`
	Question     string   `json:"question"`
	Answer       string   `json:"answer,omitempty"`
	RolloutIndex int      `json:"rollout_index"`
	LineageID    string   `json:"lineage_id,omitempty"`
	ParentID     string   `json:"parent_id,omitempty"`
	Kind         TaskKind `json:"kind"`
	BranchRound  int      `json:"branch_round"`

	Prediction  string        `json:"prediction"`
	Termination Termination   `json:"termination"`
	Messages    []llm.Message `json:"messages"`
	Rounds      []Round       `json:"rounds"`
	Usage       llm.Usage     `json:"token_usage"`
	Compactions int           `json:"compactions"`
	Finalized   bool          `json:"finalized"`
	Error       string        `json:"error,omitempty"`
	Duration    time.Duration `json:"duration"`
}

// NewResult starts a result for task.
func NewResult(task Task) *Result {
	return &Result{
		TaskID:       task.ID,
		Question:     task.Question,
		Answer:       task.Answer,
		RolloutIndex: task.RolloutIndex,
		LineageID:    task.LineageID,
		ParentID:     task.ParentID,
		Kind:         task.Kind,
		BranchRound:  task.BranchRound,
		Termination:  TerminationRunning,
	}
}

// ErrorResult records a task that failed outside the loop.
func ErrorResult(task Task, err error) *Result {
	r := NewResult(task)
	r.Termination = TerminationError
	if err != nil {
		r.Error = err.Error()
	}
	return r
}

// MaxWholeScore returns the highest whole-output score over all rounds,
// or entropyx.NotApplicable when no round was scored.
func (r *Result) MaxWholeScore() float64 {
	best := entropyx.NotApplicable
	for _, rd := range r.Rounds {
		if rd.Scores.Whole > best {
			best = rd.Scores.Whole
		}
	}
	return best
}

// LastRound returns the highest round number reached.
func (r *Result) LastRound() int {
	if len(r.Rounds) == 0 {
		return 0
	}
	return r.Rounds[len(r.Rounds)-1].Round
}
