// Package sinkx persists rollout records.
//
// A run owns one Writer. The Writer is the only goroutine that touches the
// stores: callers hand it records over a channel, it appends each one to the
// primary store and fans it out to any mirrors. Records are append-only; on
// resume the latest record per (question, rollout_index) wins.
package sinkx

import (
	"context"
	"time"

	"github.com/Abraxas-365/rollout/pkg/ai/llm"
	"github.com/Abraxas-365/rollout/pkg/ai/llm/agentx"
)

// Record is one finished trajectory as it is written to a store.
type Record struct {
	TaskID       string             `json:"task_id" db:"task_id"`
	Question     string             `json:"question" db:"question"`
	Answer       string             `json:"answer" db:"answer"`
	Prediction   string             `json:"prediction" db:"prediction"`
	Termination  agentx.Termination `json:"termination" db:"termination"`
	Messages     []llm.Message      `json:"messages" db:"-"`
	TokenUsage   *llm.Usage         `json:"token_usage,omitempty" db:"-"`
	RolloutIndex int                `json:"rollout_index" db:"rollout_index"`
	LineageID    string             `json:"lineage_id,omitempty" db:"lineage_id"`
	ParentID     string             `json:"parent_id,omitempty" db:"parent_id"`
	Kind         agentx.TaskKind    `json:"kind" db:"kind"`
	BranchRound  int                `json:"branch_round" db:"branch_round"`
	Rounds       []agentx.Round     `json:"rounds,omitempty" db:"-"`
	Compactions  int                `json:"compactions,omitempty" db:"compactions"`
	Finalized    bool               `json:"finalized,omitempty" db:"finalized"`
	Error        string             `json:"error,omitempty" db:"error"`
	DurationMS   int64              `json:"duration_ms" db:"duration_ms"`
	WrittenAt    time.Time          `json:"written_at" db:"written_at"`
}

// Key identifies the slot a record fills in a run.
type Key struct {
	Question     string
	RolloutIndex int
}

// Key returns the record's slot.
func (r Record) Key() Key {
	return Key{Question: r.Question, RolloutIndex: r.RolloutIndex}
}

// Done reports whether the slot needs no further work on resume.
func (r Record) Done() bool {
	return r.Termination.IsTerminal() && !r.Termination.IsError()
}

// FromResult converts a trajectory result into a record.
func FromResult(res *agentx.Result) Record {
	rec := Record{
		TaskID:       res.TaskID,
		Question:     res.Question,
		Answer:       res.Answer,
		Prediction:   res.Prediction,
		Termination:  res.Termination,
		Messages:     res.Messages,
		RolloutIndex: res.RolloutIndex,
		LineageID:    res.LineageID,
		ParentID:     res.ParentID,
		Kind:         res.Kind,
		BranchRound:  res.BranchRound,
		Rounds:       res.Rounds,
		Compactions:  res.Compactions,
		Finalized:    res.Finalized,
		Error:        res.Error,
		DurationMS:   res.Duration.Milliseconds(),
		WrittenAt:    time.Now().UTC(),
	}
	if rec.Messages == nil {
		rec.Messages = []llm.Message{}
	}
	if !res.Usage.IsZero() {
		usage := res.Usage
		rec.TokenUsage = &usage
	}
	return rec
}

// Result rebuilds the trajectory result a record was written from.
func (r Record) Result() *agentx.Result {
	res := &agentx.Result{
		TaskID:       r.TaskID,
		Question:     r.Question,
		Answer:       r.Answer,
		RolloutIndex: r.RolloutIndex,
		LineageID:    r.LineageID,
		ParentID:     r.ParentID,
		Kind:         r.Kind,
		BranchRound:  r.BranchRound,
		Prediction:   r.Prediction,
		Termination:  r.Termination,
		Messages:     r.Messages,
		Rounds:       r.Rounds,
		Compactions:  r.Compactions,
		Finalized:    r.Finalized,
		Error:        r.Error,
		Duration:     time.Duration(r.DurationMS) * time.Millisecond,
	}
	if r.TokenUsage != nil {
		res.Usage = *r.TokenUsage
	}
	return res
}

// Store is a destination for records.
type Store interface {
	// Append persists one record.
	Append(ctx context.Context, rec Record) error

	// Load returns every stored record in write order.
	Load(ctx context.Context) ([]Record, error)

	Close() error
}
