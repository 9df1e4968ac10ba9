package entropyx

import "sort"

// Candidate is a round that may be branched from.
type Candidate struct {
	Round  int
	Scores Scores
}

// BranchPoint is a selected round.
type BranchPoint struct {
	Round   int     `json:"round"`
	Score   float64 `json:"score"`
	Segment Segment `json:"segment"`
}

// Select picks up to k branch points from candidates. Rounds are ranked by
// descending score, ties going to the earlier round, and rounds scoring
// NotApplicable are never picked.
//
// ModeMixed takes ceil(k/2) rounds from the reasoning ranking and floor(k/2)
// from the action ranking, never the same round twice. When one ranking runs
// out, the other fills the remainder.
func Select(candidates []Candidate, mode Mode, k int) []BranchPoint {
	if k <= 0 || len(candidates) == 0 {
		return nil
	}

	switch mode {
	case ModeReasoning:
		return newPicker(k).take(rank(candidates, SegmentReasoning), k).picked
	case ModeAction:
		return newPicker(k).take(rank(candidates, SegmentAction), k).picked
	case ModeMixed:
		reasoning := rank(candidates, SegmentReasoning)
		action := rank(candidates, SegmentAction)
		p := newPicker(k)
		p.take(reasoning, (k+1)/2)
		p.take(action, k/2)
		if short := k - len(p.picked); short > 0 {
			p.take(reasoning, short)
		}
		if short := k - len(p.picked); short > 0 {
			p.take(action, short)
		}
		return p.picked
	default:
		return newPicker(k).take(rank(candidates, SegmentWhole), k).picked
	}
}

func rank(candidates []Candidate, seg Segment) []BranchPoint {
	out := make([]BranchPoint, 0, len(candidates))
	for _, c := range candidates {
		if score := c.Scores.For(seg); score >= 0 {
			out = append(out, BranchPoint{Round: c.Round, Score: score, Segment: seg})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Round < out[j].Round
	})
	return out
}

type picker struct {
	seen   map[int]bool
	picked []BranchPoint
}

func newPicker(k int) *picker {
	return &picker{seen: make(map[int]bool, k), picked: make([]BranchPoint, 0, k)}
}

func (p *picker) take(ranked []BranchPoint, n int) *picker {
	for _, bp := range ranked {
		if n <= 0 {
			break
		}
		if p.seen[bp.Round] {
			continue
		}
		p.seen[bp.Round] = true
		p.picked = append(p.picked, bp)
		n--
	}
	return p
}
