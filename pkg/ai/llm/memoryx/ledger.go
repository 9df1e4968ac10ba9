package memoryx

import (
	"fmt"
	"sort"
	"strings"
)

// Step is one addressable entry of a Ledger. A step covers the inclusive
// turn range [Start, End]: a single original turn, or a folded range.
type Step struct {
	Start   int    `json:"start"`
	End     int    `json:"end"`
	Content string `json:"content"`
	Folded  bool   `json:"folded,omitempty"`
}

// Live reports whether s is the live step of a ledger whose max turn is
// maxTurn.
func (s Step) Live(maxTurn int) bool {
	return !s.Folded && s.Start == s.End && s.End == maxTurn
}

// Ledger is an order-preserving log of agent steps that can collapse a
// contiguous range of steps into one summary step. Steps never overlap and
// are kept sorted by Start. A Ledger is owned by a single trajectory and is
// not safe for concurrent use.
type Ledger struct {
	steps []Step
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{}
}

// Append adds a new live step. The step must start after every turn the
// ledger already covers.
func (l *Ledger) Append(step Step) error {
	if step.End < step.Start {
		return memoryErrors.New(ErrInvalidRange).
			WithDetail("start", step.Start).
			WithDetail("end", step.End)
	}
	if max, ok := l.MaxTurn(); ok && step.Start <= max {
		return memoryErrors.New(ErrStepOrder).
			WithDetail("start", step.Start).
			WithDetail("max_turn", max)
	}
	l.steps = append(l.steps, step)
	return nil
}

// Fold replaces every step whose Start lies in [start, end] with a single
// step holding summary. Folding the same range with the same summary twice
// leaves the ledger as one fold would.
func (l *Ledger) Fold(start, end int, summary string) error {
	if end < start {
		return memoryErrors.New(ErrInvalidRange).
			WithDetail("start", start).
			WithDetail("end", end)
	}

	kept := make([]Step, 0, len(l.steps))
	removed := 0
	for _, s := range l.steps {
		inRange := s.Start >= start && s.Start <= end
		if inRange && s.End > end {
			return memoryErrors.New(ErrFoldSplitsStep).
				WithDetail("step_start", s.Start).
				WithDetail("step_end", s.End)
		}
		if !inRange && s.Start < start && s.End >= start {
			return memoryErrors.New(ErrFoldSplitsStep).
				WithDetail("step_start", s.Start).
				WithDetail("step_end", s.End)
		}
		if inRange {
			removed++
			continue
		}
		kept = append(kept, s)
	}
	if removed == 0 {
		return memoryErrors.New(ErrEmptyFoldRange).
			WithDetail("start", start).
			WithDetail("end", end)
	}

	kept = append(kept, Step{Start: start, End: end, Content: summary, Folded: true})
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].Start < kept[j].Start })
	l.steps = kept
	return nil
}

// Steps returns a copy of the steps in ascending Start order.
func (l *Ledger) Steps() []Step {
	out := make([]Step, len(l.steps))
	copy(out, l.steps)
	return out
}

// Len returns the number of steps.
func (l *Ledger) Len() int {
	return len(l.steps)
}

// MaxTurn returns the highest turn covered by the ledger.
func (l *Ledger) MaxTurn() (int, bool) {
	if len(l.steps) == 0 {
		return 0, false
	}
	return l.steps[len(l.steps)-1].End, true
}

// First returns the earliest step.
func (l *Ledger) First() (Step, bool) {
	if len(l.steps) == 0 {
		return Step{}, false
	}
	return l.steps[0], true
}

// Clone returns an independent copy.
func (l *Ledger) Clone() *Ledger {
	return &Ledger{steps: l.Steps()}
}

// Render concatenates every step in ascending Start order.
func (l *Ledger) Render() string {
	max, _ := l.MaxTurn()
	return renderSteps(l.steps, max)
}

// RenderThrough renders the steps that end at or before turn.
func (l *Ledger) RenderThrough(turn int) string {
	max, _ := l.MaxTurn()
	n := sort.Search(len(l.steps), func(i int) bool { return l.steps[i].End > turn })
	return renderSteps(l.steps[:n], max)
}

func renderSteps(steps []Step, maxTurn int) string {
	var sb strings.Builder
	for i, s := range steps {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(stepLabel(s, maxTurn))
		sb.WriteByte('\n')
		sb.WriteString(s.Content)
	}
	return sb.String()
}

func stepLabel(s Step, maxTurn int) string {
	switch {
	case s.Live(maxTurn):
		return fmt.Sprintf("[Step %d, live]", s.Start)
	case s.Start == s.End:
		return fmt.Sprintf("[Step %d, compressed]", s.Start)
	default:
		return fmt.Sprintf("[Steps %d-%d, compressed]", s.Start, s.End)
	}
}
