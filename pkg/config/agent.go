package config

import "time"

// AgentConfig configures one trajectory.
type AgentConfig struct {
	MaxTurns      int           `yaml:"max_turns"`
	TaskTimeout   time.Duration `yaml:"task_timeout"`
	ForceFinalize bool          `yaml:"force_finalize"`
	SystemPrompt  string        `yaml:"system_prompt"`
}

func defaultAgentConfig() AgentConfig {
	return AgentConfig{
		MaxTurns:      30,
		TaskTimeout:   30 * time.Minute,
		ForceFinalize: true,
	}
}

func (c *AgentConfig) loadEnv() {
	c.MaxTurns = getEnvInt("AGENT_MAX_TURNS", c.MaxTurns)
	c.TaskTimeout = getEnvDuration("AGENT_TASK_TIMEOUT", c.TaskTimeout)
	c.ForceFinalize = getEnvBool("AGENT_FORCE_FINALIZE", c.ForceFinalize)
	c.SystemPrompt = getEnv("AGENT_SYSTEM_PROMPT", c.SystemPrompt)
}

// CompressionConfig configures context compaction and the token caps.
type CompressionConfig struct {
	SoftCap        int    `yaml:"soft_cap"`
	HardCap        int    `yaml:"hard_cap"`
	Interval       int    `yaml:"interval"`
	ObservationCap int    `yaml:"observation_cap"`
	KeepRecent     int    `yaml:"keep_recent"`
	TailChars      int    `yaml:"tail_chars"`
	Strategy       string `yaml:"strategy"`
	Tokenizer      string `yaml:"tokenizer"`
}

func defaultCompressionConfig() CompressionConfig {
	return CompressionConfig{
		SoftCap:        24000,
		HardCap:        32000,
		ObservationCap: 6000,
		KeepRecent:     4,
		TailChars:      20000,
		Strategy:       "rolling",
		Tokenizer:      "chars",
	}
}

func (c *CompressionConfig) loadEnv() {
	c.SoftCap = getEnvInt("TOKENS_SOFT_CAP", c.SoftCap)
	c.HardCap = getEnvInt("TOKENS_HARD_CAP", c.HardCap)
	c.Interval = getEnvInt("COMPRESSION_INTERVAL", c.Interval)
	c.ObservationCap = getEnvInt("COMPRESSION_OBSERVATION_CAP", c.ObservationCap)
	c.KeepRecent = getEnvInt("COMPRESSION_KEEP_RECENT", c.KeepRecent)
	c.TailChars = getEnvInt("COMPRESSION_TAIL_CHARS", c.TailChars)
	c.Strategy = getEnv("COMPRESSION_STRATEGY", c.Strategy)
	c.Tokenizer = getEnv("TOKENIZER", c.Tokenizer)
}
