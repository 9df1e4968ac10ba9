package config

import "github.com/Abraxas-365/rollout/pkg/ai/llm/branchx"

// BranchConfig configures sampling and branching for every question.
type BranchConfig struct {
	branchx.Budget `yaml:",inline"`

	Mode        string `yaml:"mode"`
	TopLogprobs int    `yaml:"top_logprobs"`
}

func defaultBranchConfig() BranchConfig {
	return BranchConfig{
		Budget:      branchx.Budget{InitialRollouts: 1, Repeats: 1},
		Mode:        "whole",
		TopLogprobs: 5,
	}
}

func (c *BranchConfig) loadEnv() {
	c.InitialRollouts = getEnvInt("BRANCH_INITIAL_ROLLOUTS", c.InitialRollouts)
	c.TopK = getEnvInt("BRANCH_TOPK", c.TopK)
	c.Rounds = getEnvInt("BRANCH_ROUNDS", c.Rounds)
	c.Repeats = getEnvInt("BRANCH_REPEATS", c.Repeats)
	c.Total = getEnvInt("BRANCH_BUDGET", c.Total)
	c.Mode = getEnv("BRANCH_MODE", c.Mode)
	c.TopLogprobs = getEnvInt("BRANCH_TOP_LOGPROBS", c.TopLogprobs)
}

// fillBudget defaults an unset budget to exactly what the schedule needs.
func (c *BranchConfig) fillBudget() {
	if c.Total == 0 {
		c.Total = c.Required()
	}
}
