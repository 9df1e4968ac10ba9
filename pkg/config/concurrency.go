package config

import (
	"time"

	"github.com/Abraxas-365/rollout/pkg/asyncx"
)

// ConcurrencyConfig bounds trajectories and collaborator calls.
type ConcurrencyConfig struct {
	Trajectories int            `yaml:"trajectories"`
	Model        int            `yaml:"model"`
	ModelRPS     float64        `yaml:"model_rps"`
	Tools        map[string]int `yaml:"tools"`
	IdleTimeout  time.Duration  `yaml:"idle_timeout"`
}

func defaultConcurrencyConfig() ConcurrencyConfig {
	return ConcurrencyConfig{
		Trajectories: 8,
		Model:        8,
		Tools:        map[string]int{"search": 4, "browse": 2},
		IdleTimeout:  10 * time.Minute,
	}
}

func (c *ConcurrencyConfig) loadEnv() {
	c.Trajectories = getEnvInt("CONCURRENCY_TRAJECTORIES", c.Trajectories)
	c.Model = getEnvInt("CONCURRENCY_MODEL", c.Model)
	c.ModelRPS = getEnvFloat("CONCURRENCY_MODEL_RPS", c.ModelRPS)
	c.Tools = getEnvIntMap("CONCURRENCY_TOOLS", c.Tools)
	c.IdleTimeout = getEnvDuration("CONCURRENCY_IDLE_TIMEOUT", c.IdleTimeout)
}

// Limits returns the admission limits keyed by kind, "model" included.
func (c ConcurrencyConfig) Limits() map[string]int {
	out := make(map[string]int, len(c.Tools)+1)
	for kind, n := range c.Tools {
		out[kind] = n
	}
	out["model"] = c.Model
	return out
}

// RetryConfig is the one retry curve shared by model, tool and digest calls.
type RetryConfig struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
}

func defaultRetryConfig() RetryConfig {
	p := asyncx.DefaultRetryPolicy()
	return RetryConfig{
		MaxAttempts:  p.MaxAttempts,
		InitialDelay: p.InitialDelay,
		MaxDelay:     p.MaxDelay,
	}
}

func (c *RetryConfig) loadEnv() {
	c.MaxAttempts = getEnvInt("RETRY_MAX_ATTEMPTS", c.MaxAttempts)
	c.InitialDelay = getEnvDuration("RETRY_INITIAL_DELAY", c.InitialDelay)
	c.MaxDelay = getEnvDuration("RETRY_MAX_DELAY", c.MaxDelay)
}

// Policy builds the retry policy. The caller sets Retryable.
func (c RetryConfig) Policy() asyncx.RetryPolicy {
	p := asyncx.DefaultRetryPolicy()
	p.MaxAttempts = c.MaxAttempts
	p.InitialDelay = c.InitialDelay
	p.MaxDelay = c.MaxDelay
	return p
}
