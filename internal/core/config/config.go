package config

import (
	redisclient "github.com/fatihaltiok/Agentus-Timus-sub001/internal/infra/redis"
	"github.com/fatihaltiok/Agentus-Timus-sub001/internal/infra/storage/postgres"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server   ServerConfig       `yaml:"server"`
	Agent    AgentConfig        `yaml:"agent"`
	Redis    redisclient.Config `yaml:"redis"`
	Logging  LoggingConfig      `yaml:"logging"`
	Database postgres.Config    `yaml:"database"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// AgentConfig holds the execution core settings.
type AgentConfig struct {
	HeartbeatIntervalMinutes int `yaml:"heartbeat_interval_minutes"`
	SelfModelRefreshMinutes  int `yaml:"self_model_refresh_minutes"`
	MemorySyncEvery          int `yaml:"memory_sync_every"`

	MaxAttempts           int `yaml:"max_attempts"`
	AttemptTimeoutMinutes int `yaml:"attempt_timeout_minutes"`
	WorkerPollSeconds     int `yaml:"worker_poll_seconds"`

	// DefaultHandler receives tasks without an explicit target
	DefaultHandler string `yaml:"default_handler"`

	// Failover maps a handler to its ordered fallback chain
	Failover map[string][]string `yaml:"failover"`

	// BackoffSeconds overrides per-category backoffs, keyed by failure
	// kind (rate_limit, timeout, server_error, ...)
	BackoffSeconds map[string]int `yaml:"backoff_seconds"`
}
