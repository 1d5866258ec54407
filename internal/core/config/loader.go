package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}

	a := &cfg.Agent
	if a.HeartbeatIntervalMinutes == 0 {
		a.HeartbeatIntervalMinutes = 15
	}
	if a.SelfModelRefreshMinutes == 0 {
		a.SelfModelRefreshMinutes = 360
	}
	if a.MemorySyncEvery == 0 {
		a.MemorySyncEvery = 4
	}
	if a.MaxAttempts == 0 {
		a.MaxAttempts = 3
	}
	if a.AttemptTimeoutMinutes == 0 {
		a.AttemptTimeoutMinutes = 10
	}
	if a.WorkerPollSeconds == 0 {
		a.WorkerPollSeconds = 60
	}
	if a.DefaultHandler == "" {
		a.DefaultHandler = "assistant"
	}
}
