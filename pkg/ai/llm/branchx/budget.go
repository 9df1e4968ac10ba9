package branchx

import "github.com/Abraxas-365/rollout/pkg/errx"

// Budget apportions the rollouts of one question between initial
// trajectories and branched continuations.
type Budget struct {
	InitialRollouts int `yaml:"initial_rollouts" json:"initial_rollouts"` // N
	TopK            int `yaml:"top_k" json:"top_k"`                       // K
	Rounds          int `yaml:"rounds" json:"rounds"`                     // R
	Repeats         int `yaml:"repeats" json:"repeats"`                   // M
	Total           int `yaml:"budget" json:"budget"`                     // B
}

// PerRound is the number of tasks one branch round emits: N·K·M.
func (b Budget) PerRound() int {
	return b.InitialRollouts * b.TopK * b.Repeats
}

// Branching reports whether any branch round will run.
func (b Budget) Branching() bool {
	return b.TopK > 0 && b.Rounds > 0 && b.Repeats > 0
}

// Required is the number of rollouts a question consumes: N + N·K·R·M.
func (b Budget) Required() int {
	if !b.Branching() {
		return b.InitialRollouts
	}
	return b.InitialRollouts + b.Rounds*b.PerRound()
}

// Validate fails when the budget cannot hold every scheduled rollout.
func (b Budget) Validate() error {
	if b.InitialRollouts < 1 {
		return branchErrors.NewWithMessage(ErrBudget, "at least one initial rollout is required").
			WithDetail("initial_rollouts", b.InitialRollouts)
	}
	if b.TopK < 0 || b.Rounds < 0 || b.Repeats < 0 {
		return branchErrors.NewWithMessage(ErrBudget, "branch parameters must not be negative").
			WithDetails(b.details())
	}
	if b.Total < b.Required() {
		return branchErrors.New(ErrBudget).
			WithDetails(b.details()).
			WithDetail("required", b.Required())
	}
	return nil
}

func (b Budget) details() map[string]interface{} {
	return map[string]interface{}{
		"initial_rollouts": b.InitialRollouts,
		"top_k":            b.TopK,
		"rounds":           b.Rounds,
		"repeats":          b.Repeats,
		"budget":           b.Total,
	}
}

var branchErrors = errx.NewRegistry("BRANCHX")

var (
	ErrBudget         = branchErrors.Register("BUDGET", errx.TypeBudget, "Sampling budget is smaller than N + N*K*R*M")
	ErrSources        = branchErrors.Register("SOURCES", errx.TypeValidation, "Branch round needs exactly one source per initial rollout")
	ErrRound          = branchErrors.Register("ROUND", errx.TypeValidation, "Branch round out of range")
	ErrRedistribution = branchErrors.Register("REDISTRIBUTION", errx.TypeInternal, "Branch round emitted the wrong number of tasks")
)
