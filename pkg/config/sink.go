package config

import (
	"fmt"
	"time"
)

// SinkConfig configures where rollout records go.
type SinkConfig struct {
	OutputPath string   `yaml:"output_path"`
	Mirrors    []string `yaml:"mirrors"`
	Resume     bool     `yaml:"resume"`
	RunID      string   `yaml:"run_id"`
	Buffer     int      `yaml:"buffer"`
}

func defaultSinkConfig() SinkConfig {
	return SinkConfig{
		OutputPath: "rollouts.jsonl",
		RunID:      "default",
		Buffer:     64,
	}
}

func (c *SinkConfig) loadEnv() {
	c.OutputPath = getEnv("OUTPUT_PATH", c.OutputPath)
	c.Mirrors = getEnvStringSlice("SINK_MIRROR", c.Mirrors)
	c.Resume = getEnvBool("SINK_RESUME", c.Resume)
	c.RunID = getEnv("SINK_RUN_ID", c.RunID)
	c.Buffer = getEnvInt("SINK_BUFFER", c.Buffer)
}

// Mirrored reports whether the named mirror is enabled.
func (c SinkConfig) Mirrored(name string) bool {
	for _, m := range c.Mirrors {
		if m == name {
			return true
		}
	}
	return false
}

// RedisConfig configures the Redis mirror.
type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

func defaultRedisConfig() RedisConfig {
	return RedisConfig{Host: "localhost", Port: 6379}
}

func (c *RedisConfig) loadEnv() {
	c.Host = getEnv("REDIS_HOST", c.Host)
	c.Port = getEnvInt("REDIS_PORT", c.Port)
	c.Password = getEnv("REDIS_PASSWORD", c.Password)
	c.DB = getEnvInt("REDIS_DB", c.DB)
}

// Address returns host:port.
func (c RedisConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig configures the Postgres mirror.
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Name            string        `yaml:"name"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

func defaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Host:            "localhost",
		Port:            5432,
		User:            "postgres",
		Name:            "rollout",
		SSLMode:         "disable",
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

func (c *DatabaseConfig) loadEnv() {
	c.Host = getEnv("DB_HOST", c.Host)
	c.Port = getEnvInt("DB_PORT", c.Port)
	c.User = getEnv("DB_USER", c.User)
	c.Password = getEnv("DB_PASSWORD", c.Password)
	c.Name = getEnv("DB_NAME", c.Name)
	c.SSLMode = getEnv("DB_SSLMODE", c.SSLMode)
	c.MaxOpenConns = getEnvInt("DB_MAX_OPEN_CONNS", c.MaxOpenConns)
	c.MaxIdleConns = getEnvInt("DB_MAX_IDLE_CONNS", c.MaxIdleConns)
	c.ConnMaxLifetime = getEnvDuration("DB_CONN_MAX_LIFETIME", c.ConnMaxLifetime)
}

// DSN returns the lib/pq connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
}
