// Package config loads the run configuration. Defaults are overlaid by an
// optional YAML file, which environment variables override in turn.
package config

import (
	"os"
	"strings"

	"github.com/Abraxas-365/rollout/pkg/ai/llm/entropyx"
	"github.com/Abraxas-365/rollout/pkg/ai/llm/memoryx"
	"github.com/Abraxas-365/rollout/pkg/ai/llm/toolx"
	"github.com/Abraxas-365/rollout/pkg/errx"
	"gopkg.in/yaml.v3"
)

var configErrors = errx.NewRegistry("CONFIG")

var (
	ErrFile    = configErrors.Register("FILE", errx.TypeValidation, "Configuration file could not be read")
	ErrInvalid = configErrors.Register("INVALID", errx.TypeValidation, "Configuration value is invalid")
)

// Config is the full run configuration.
type Config struct {
	Agent       AgentConfig       `yaml:"agent"`
	Compression CompressionConfig `yaml:"compression"`
	Branch      BranchConfig      `yaml:"branch"`
	Concurrency ConcurrencyConfig `yaml:"concurrency"`
	Retry       RetryConfig       `yaml:"retry"`
	Model       ModelConfig       `yaml:"model"`
	Sink        SinkConfig        `yaml:"sink"`
	Redis       RedisConfig       `yaml:"redis"`
	Database    DatabaseConfig    `yaml:"database"`
	Server      ServerConfig      `yaml:"server"`
	Tools       ToolsConfig       `yaml:"tools"`
	Log         LogConfig         `yaml:"log"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Agent:       defaultAgentConfig(),
		Compression: defaultCompressionConfig(),
		Branch:      defaultBranchConfig(),
		Concurrency: defaultConcurrencyConfig(),
		Retry:       defaultRetryConfig(),
		Model:       defaultModelConfig(),
		Sink:        defaultSinkConfig(),
		Redis:       defaultRedisConfig(),
		Database:    defaultDatabaseConfig(),
		Server:      defaultServerConfig(),
		Tools:       defaultToolsConfig(),
		Log:         defaultLogConfig(),
	}
}

// Load builds the configuration from defaults, the YAML file at path (if
// any) and the environment, then validates it.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, configErrors.NewWithCause(ErrFile, err).WithDetail("path", path)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, configErrors.NewWithCause(ErrFile, err).WithDetail("path", path)
		}
	}
	cfg.loadEnv()
	cfg.Branch.fillBudget()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadEnv() {
	c.Agent.loadEnv()
	c.Compression.loadEnv()
	c.Branch.loadEnv()
	c.Concurrency.loadEnv()
	c.Retry.loadEnv()
	c.Model.loadEnv()
	c.Sink.loadEnv()
	c.Redis.loadEnv()
	c.Database.loadEnv()
	c.Server.loadEnv()
	c.Tools.loadEnv()
	c.Log.loadEnv()
}

// Validate rejects configurations that cannot run. Budget problems surface
// with the branch scheduler's own error code.
func (c *Config) Validate() error {
	if err := c.Branch.Validate(); err != nil {
		return err
	}
	if _, err := entropyx.ParseMode(c.Branch.Mode); err != nil {
		return err
	}
	if c.Branch.Branching() && c.Branch.TopLogprobs < 1 {
		return invalid("branch.top_logprobs", c.Branch.TopLogprobs, "branching needs token logprobs")
	}

	if c.Agent.MaxTurns < 1 {
		return invalid("agent.max_turns", c.Agent.MaxTurns, "at least one turn is required")
	}
	if c.Compression.HardCap < 1 {
		return invalid("compression.hard_cap", c.Compression.HardCap, "hard cap must be positive")
	}
	if c.Compression.SoftCap < 1 || c.Compression.SoftCap > c.Compression.HardCap {
		return invalid("compression.soft_cap", c.Compression.SoftCap, "soft cap must be positive and not above the hard cap")
	}
	switch memoryx.Strategy(c.Compression.Strategy) {
	case memoryx.StrategyRolling, memoryx.StrategyFold:
	default:
		return invalid("compression.strategy", c.Compression.Strategy, "use rolling or fold")
	}
	if tk := c.Compression.Tokenizer; tk != "" && tk != "chars" && !strings.HasPrefix(tk, "tiktoken:") {
		return invalid("compression.tokenizer", tk, "use chars or tiktoken:<encoding>")
	}

	if c.Concurrency.Trajectories < 1 {
		return invalid("concurrency.trajectories", c.Concurrency.Trajectories, "at least one worker is required")
	}
	if c.Concurrency.Model < 1 {
		return invalid("concurrency.model", c.Concurrency.Model, "model limit must be positive")
	}
	for kind, n := range c.Concurrency.Tools {
		if n < 1 {
			return invalid("concurrency.tools."+kind, n, "tool limit must be positive")
		}
	}
	if c.Retry.MaxAttempts < 1 {
		return invalid("retry.max_attempts", c.Retry.MaxAttempts, "at least one attempt is required")
	}

	switch c.Model.Provider {
	case "openai", "anthropic":
	default:
		return invalid("model.provider", c.Model.Provider, "use openai or anthropic")
	}

	if c.Sink.OutputPath == "" {
		return invalid("sink.output_path", c.Sink.OutputPath, "output path is required")
	}
	for _, m := range c.Sink.Mirrors {
		if m != "redis" && m != "postgres" {
			return invalid("sink.mirrors", m, "use redis or postgres")
		}
	}
	if _, err := toolx.ParseEndpoints(c.Tools.Endpoints); err != nil {
		return err
	}
	return nil
}

func invalid(key string, value interface{}, msg string) error {
	return configErrors.NewWithMessage(ErrInvalid, msg).
		WithDetail("key", key).
		WithDetail("value", value)
}
