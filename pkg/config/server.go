package config

import "time"

// ServerConfig configures the status server. An empty Addr disables it.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{ShutdownTimeout: 10 * time.Second}
}

func (c *ServerConfig) loadEnv() {
	c.Addr = getEnv("SERVER_ADDR", c.Addr)
	c.ShutdownTimeout = getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", c.ShutdownTimeout)
}

// ToolsConfig lists the HTTP tool endpoints as "name=kind@url" entries.
type ToolsConfig struct {
	Endpoints   []string      `yaml:"endpoints"`
	CallTimeout time.Duration `yaml:"call_timeout"`
}

func defaultToolsConfig() ToolsConfig {
	return ToolsConfig{CallTimeout: 2 * time.Minute}
}

func (c *ToolsConfig) loadEnv() {
	c.Endpoints = getEnvStringSlice("TOOL_ENDPOINTS", c.Endpoints)
	c.CallTimeout = getEnvDuration("TOOL_CALL_TIMEOUT", c.CallTimeout)
}

// LogConfig configures logx.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func defaultLogConfig() LogConfig {
	return LogConfig{Level: "info", Format: "console"}
}

func (c *LogConfig) loadEnv() {
	c.Level = getEnv("LOG_LEVEL", c.Level)
	c.Format = getEnv("LOG_FORMAT", c.Format)
}
