// Package branchx schedules branched re-sampling of agent trajectories.
//
// Each question starts with N full rollouts. Every branch round picks, per
// source trajectory, the K rounds where the model was least certain and
// re-samples each of them M times from a prefix truncated just before that
// round. A source with fewer than K usable rounds makes up the difference
// with full resamples, so every round emits exactly N·K·M tasks and a
// question never exceeds N + R·N·K·M rollouts.
package branchx

import (
	"github.com/Abraxas-365/rollout/pkg/ai/llm"
	"github.com/Abraxas-365/rollout/pkg/ai/llm/agentx"
	"github.com/Abraxas-365/rollout/pkg/ai/llm/entropyx"
	"github.com/Abraxas-365/rollout/pkg/logx"
	"github.com/google/uuid"
)

// RolloutTask is one scheduled trajectory.
type RolloutTask = agentx.Task

// Scheduler emits the rollout tasks of one run.
type Scheduler struct {
	budget   Budget
	mode     entropyx.Mode
	maxTurns int
}

// NewScheduler validates the budget before anything is scheduled.
func NewScheduler(budget Budget, mode entropyx.Mode, maxTurns int) (*Scheduler, error) {
	if err := budget.Validate(); err != nil {
		return nil, err
	}
	if mode == "" {
		mode = entropyx.ModeWhole
	}
	if maxTurns < 1 {
		maxTurns = 1
	}
	return &Scheduler{budget: budget, mode: mode, maxTurns: maxTurns}, nil
}

// Budget returns the validated budget.
func (s *Scheduler) Budget() Budget { return s.budget }

// Mode returns the ranking mode.
func (s *Scheduler) Mode() entropyx.Mode { return s.mode }

// Planned is the number of rollouts scheduled per question.
func (s *Scheduler) Planned() int { return s.budget.Required() }

// Rounds is the number of branch rounds.
func (s *Scheduler) Rounds() int {
	if !s.budget.Branching() {
		return 0
	}
	return s.budget.Rounds
}

// Index returns the rollout index of task j (0 ≤ j < K·M) emitted for
// lineage position pos in branch round round.
func (s *Scheduler) Index(round, pos, j int) int {
	b := s.budget
	return b.InitialRollouts + (round-1)*b.PerRound() + pos*b.TopK*b.Repeats + j
}

// Locate is the inverse of Index. Initial rollouts are round 0 and their
// position is their index.
func (s *Scheduler) Locate(index int) (round, pos int, ok bool) {
	b := s.budget
	if index < 0 || index >= s.Planned() {
		return 0, 0, false
	}
	if index < b.InitialRollouts {
		return 0, index, true
	}
	off := index - b.InitialRollouts
	round = off/b.PerRound() + 1
	pos = (off % b.PerRound()) / (b.TopK * b.Repeats)
	return round, pos, true
}

// Initial returns the N full tasks of a question.
func (s *Scheduler) Initial(question, answer string) []RolloutTask {
	tasks := make([]RolloutTask, 0, s.budget.InitialRollouts)
	for i := 0; i < s.budget.InitialRollouts; i++ {
		tasks = append(tasks, RolloutTask{
			ID:           uuid.NewString(),
			Question:     question,
			Answer:       answer,
			RolloutIndex: i,
			LineageID:    uuid.NewString(),
			Kind:         agentx.TaskFull,
			MaxTurns:     s.maxTurns,
		})
	}
	return tasks
}

// Points returns the branch points of src: its tool-call rounds ranked by
// the scheduler's mode, at most K of them.
func (s *Scheduler) Points(src *agentx.Result) []entropyx.BranchPoint {
	if src == nil {
		return nil
	}
	cands := make([]entropyx.Candidate, 0, len(src.Rounds))
	for _, rd := range src.Rounds {
		if rd.Event != agentx.KindToolCall {
			continue
		}
		if rd.MessageIndex <= 0 || rd.MessageIndex > len(src.Messages) {
			continue
		}
		cands = append(cands, entropyx.Candidate{Round: rd.Round, Scores: rd.Scores})
	}
	return entropyx.Select(cands, s.mode, s.budget.TopK)
}

// Branch emits the tasks of branch round round (1-based). sources holds one
// trajectory per lineage position; a nil source is resampled from scratch.
//
// For a source with E = min(K, eligible) branch points the round emits E·M
// partial tasks and (K−E)·M full tasks, K·M in total, so the round always
// emits N·K·M tasks. The count is checked before returning.
func (s *Scheduler) Branch(round int, question, answer string, sources []*agentx.Result) ([]RolloutTask, error) {
	b := s.budget
	if round < 1 || round > s.Rounds() {
		return nil, branchErrors.New(ErrRound).WithDetail("round", round).WithDetail("rounds", s.Rounds())
	}
	if len(sources) != b.InitialRollouts {
		return nil, branchErrors.New(ErrSources).
			WithDetail("sources", len(sources)).
			WithDetail("initial_rollouts", b.InitialRollouts)
	}

	tasks := make([]RolloutTask, 0, b.PerRound())
	for pos, src := range sources {
		lineage, parent := "", ""
		if src != nil {
			lineage, parent = src.LineageID, src.TaskID
		}
		if lineage == "" {
			lineage = uuid.NewString()
		}

		j := 0
		points := s.Points(src)
		for _, bp := range points {
			idx := s.messageIndex(src, bp.Round)
			prefix := llm.CloneMessages(src.Messages[:idx])
			for m := 0; m < b.Repeats; m++ {
				tasks = append(tasks, RolloutTask{
					ID:           uuid.NewString(),
					Question:     question,
					Answer:       answer,
					RolloutIndex: s.Index(round, pos, j),
					LineageID:    lineage,
					ParentID:     parent,
					Kind:         agentx.TaskPartial,
					BranchRound:  round,
					Prefix:       prefix,
					MaxTurns:     s.remaining(bp.Round),
				})
				j++
			}
		}

		shortfall := (b.TopK - len(points)) * b.Repeats
		for f := 0; f < shortfall; f++ {
			tasks = append(tasks, RolloutTask{
				ID:           uuid.NewString(),
				Question:     question,
				Answer:       answer,
				RolloutIndex: s.Index(round, pos, j),
				LineageID:    lineage,
				ParentID:     parent,
				Kind:         agentx.TaskFull,
				BranchRound:  round,
				MaxTurns:     s.maxTurns,
			})
			j++
		}

		if len(points) < b.TopK {
			logx.WithFields(logx.Fields{
				"round":     round,
				"position":  pos,
				"points":    len(points),
				"top_k":     b.TopK,
				"resamples": shortfall,
			}).Debug("branch shortfall redistributed to full resamples")
		}
	}

	if len(tasks) != b.PerRound() {
		return nil, branchErrors.New(ErrRedistribution).
			WithDetail("emitted", len(tasks)).
			WithDetail("expected", b.PerRound())
	}
	return tasks, nil
}

func (s *Scheduler) messageIndex(src *agentx.Result, round int) int {
	for _, rd := range src.Rounds {
		if rd.Round == round {
			return rd.MessageIndex
		}
	}
	return len(src.Messages)
}

// remaining is the turn budget of a continuation that re-samples round:
// the rounds before it are already spent.
func (s *Scheduler) remaining(round int) int {
	left := s.maxTurns - (round - 1)
	if left < 1 {
		return 1
	}
	return left
}

// NextSources picks the sources of the next branch round. For each lineage
// position it takes the child with the highest whole-output uncertainty,
// ties going to the lowest rollout index. Positions without a usable child
// keep their previous source.
func NextSources(previous []*agentx.Result, children [][]*agentx.Result) []*agentx.Result {
	next := make([]*agentx.Result, len(previous))
	copy(next, previous)
	for pos := range next {
		if pos >= len(children) {
			continue
		}
		var best *agentx.Result
		for _, c := range children[pos] {
			if c == nil || c.Termination.IsError() || len(c.Messages) == 0 {
				continue
			}
			if best == nil ||
				c.MaxWholeScore() > best.MaxWholeScore() ||
				(c.MaxWholeScore() == best.MaxWholeScore() && c.RolloutIndex < best.RolloutIndex) {
				best = c
			}
		}
		if best != nil {
			next[pos] = best
		}
	}
	return next
}
