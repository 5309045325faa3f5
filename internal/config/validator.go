package config

import (
	"fmt"
	"strings"
)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateAgents checks that both logical agents are configured exactly once.
func (v *Validator) ValidateAgents(agents []AgentConfig) error {
	if len(agents) != 2 {
		return fmt.Errorf("exactly two agents required (front, back), got %d", len(agents))
	}

	seen := map[string]bool{}
	for _, agent := range agents {
		if agent.ID != AgentFront && agent.ID != AgentBack {
			return fmt.Errorf("invalid agent id: %s (must be %s or %s)", agent.ID, AgentFront, AgentBack)
		}
		if seen[agent.ID] {
			return fmt.Errorf("duplicate agent id: %s", agent.ID)
		}
		seen[agent.ID] = true

		if agent.Model == "" {
			return fmt.Errorf("agent %s: model cannot be empty", agent.ID)
		}
	}

	return nil
}

// ValidateHost validates the backend host URL
func (v *Validator) ValidateHost(host string) error {
	if host == "" {
		return fmt.Errorf("backend host cannot be empty")
	}
	if !strings.HasPrefix(host, "http://") && !strings.HasPrefix(host, "https://") {
		return fmt.Errorf("backend host must start with http:// or https://")
	}
	return nil
}

// ValidateRetry validates retry policy bounds
func (v *Validator) ValidateRetry(retry RetryConfig) error {
	if retry.MaxAttempts < 1 {
		return fmt.Errorf("retry max_attempts must be >= 1, got %d", retry.MaxAttempts)
	}
	if retry.MaxAttempts > 10 {
		return fmt.Errorf("retry max_attempts too large (max 10), got %d", retry.MaxAttempts)
	}
	if retry.BaseDelayMs < 0 {
		return fmt.Errorf("retry base_delay_ms must be >= 0, got %d", retry.BaseDelayMs)
	}
	return nil
}

// ValidateQueue validates overflow queue bounds
func (v *Validator) ValidateQueue(queue QueueConfig) error {
	if queue.Capacity < 1 {
		return fmt.Errorf("queue capacity must be >= 1, got %d", queue.Capacity)
	}
	if queue.Workers < 1 {
		return fmt.Errorf("queue workers must be >= 1, got %d", queue.Workers)
	}
	if queue.Workers > 8 {
		return fmt.Errorf("queue workers too large (max 8), got %d", queue.Workers)
	}
	return nil
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	for _, valid := range validLevels {
		if level == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// ValidateConfig performs comprehensive validation
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errors []error

	if err := v.ValidateHost(cfg.Backend.Host); err != nil {
		errors = append(errors, err)
	}

	if err := v.ValidateAgents(cfg.Agents); err != nil {
		errors = append(errors, err)
	}

	if err := v.ValidateRetry(cfg.Retry); err != nil {
		errors = append(errors, err)
	}

	if err := v.ValidateQueue(cfg.Queue); err != nil {
		errors = append(errors, err)
	}

	if cfg.Batch.IntervalMs < 1 {
		errors = append(errors, fmt.Errorf("batch interval_ms must be >= 1, got %d", cfg.Batch.IntervalMs))
	}

	if cfg.Keepalive.Enabled {
		if cfg.Keepalive.IntervalSec < 1 {
			errors = append(errors, fmt.Errorf("keepalive interval_sec must be >= 1, got %d", cfg.Keepalive.IntervalSec))
		}
		if cfg.Keepalive.HeartbeatSec < 1 {
			errors = append(errors, fmt.Errorf("keepalive heartbeat_sec must be >= 1, got %d", cfg.Keepalive.HeartbeatSec))
		}
	}

	if cfg.History.AgentLimit < 1 {
		errors = append(errors, fmt.Errorf("history agent_limit must be >= 1, got %d", cfg.History.AgentLimit))
	}
	if cfg.History.SharedLimit < 1 {
		errors = append(errors, fmt.Errorf("history shared_limit must be >= 1, got %d", cfg.History.SharedLimit))
	}

	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errors = append(errors, err)
	}

	return errors
}
