package config

// Agent identifiers understood by the dispatcher. Exactly these two logical
// agents share the inference backend.
const (
	AgentFront = "front"
	AgentBack  = "back"
)

// Config represents the main swarm configuration
type Config struct {
	// Backend holds inference backend connection settings
	Backend BackendConfig `json:"backend" mapstructure:"backend"`

	// Agents configures the two logical agents
	Agents []AgentConfig `json:"agents" mapstructure:"agents"`

	// Retry policy for backend calls
	Retry RetryConfig `json:"retry" mapstructure:"retry"`

	// Queue configures the overflow queue
	Queue QueueConfig `json:"queue" mapstructure:"queue"`

	// Batch configures token batching
	Batch BatchConfig `json:"batch" mapstructure:"batch"`

	// Keepalive configures periodic warmup and the health heartbeat
	Keepalive KeepaliveConfig `json:"keepalive" mapstructure:"keepalive"`

	// History bounds the context store
	History HistoryConfig `json:"history" mapstructure:"history"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Metrics holds the observability endpoint settings
	Metrics MetricsConfig `json:"metrics" mapstructure:"metrics"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// BackendConfig holds inference backend settings
type BackendConfig struct {
	Host              string `json:"host" mapstructure:"host"`
	ProbeTimeoutMs    int    `json:"probe_timeout_ms" mapstructure:"probe_timeout_ms"`
	ProbeCacheTTLMs   int    `json:"probe_cache_ttl_ms" mapstructure:"probe_cache_ttl_ms"`
	RequestTimeoutSec int    `json:"request_timeout_sec" mapstructure:"request_timeout_sec"`
}

// AgentConfig binds a logical agent to a model and identity prompt
type AgentConfig struct {
	ID       string `json:"id" mapstructure:"id"` // front, back
	Model    string `json:"model" mapstructure:"model"`
	Identity string `json:"identity" mapstructure:"identity"`
}

// RetryConfig holds retry and backoff settings
type RetryConfig struct {
	MaxAttempts int `json:"max_attempts" mapstructure:"max_attempts"`
	BaseDelayMs int `json:"base_delay_ms" mapstructure:"base_delay_ms"`
}

// QueueConfig holds overflow queue settings
type QueueConfig struct {
	Capacity int `json:"capacity" mapstructure:"capacity"`
	Workers  int `json:"workers" mapstructure:"workers"`
}

// BatchConfig holds token batcher settings
type BatchConfig struct {
	IntervalMs int `json:"interval_ms" mapstructure:"interval_ms"`
}

// KeepaliveConfig holds warmup and heartbeat settings
type KeepaliveConfig struct {
	Enabled          bool `json:"enabled" mapstructure:"enabled"`
	IntervalSec      int  `json:"interval_sec" mapstructure:"interval_sec"`
	HeartbeatSec     int  `json:"heartbeat_sec" mapstructure:"heartbeat_sec"`
	WarmupTimeoutSec int  `json:"warmup_timeout_sec" mapstructure:"warmup_timeout_sec"`
}

// HistoryConfig bounds per-agent history and the shared context ring
type HistoryConfig struct {
	AgentLimit  int `json:"agent_limit" mapstructure:"agent_limit"`
	SharedLimit int `json:"shared_limit" mapstructure:"shared_limit"`
	ExcerptLen  int `json:"excerpt_len" mapstructure:"excerpt_len"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level   string `json:"level" mapstructure:"level"`
	File    string `json:"file" mapstructure:"file"`
	Console bool   `json:"console" mapstructure:"console"`
	Pretty  bool   `json:"pretty" mapstructure:"pretty"`
}

// MetricsConfig holds the metrics/status HTTP endpoint settings
type MetricsConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Host    string `json:"host" mapstructure:"host"`
	Port    int    `json:"port" mapstructure:"port"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Backend: BackendConfig{
			Host:              "http://localhost:11434",
			ProbeTimeoutMs:    2000,
			ProbeCacheTTLMs:   5000,
			RequestTimeoutSec: 45,
		},
		Agents: []AgentConfig{
			{
				ID:       AgentFront,
				Model:    "qwen2.5:3b",
				Identity: "You are the primary responder. Answer the user directly and concisely.",
			},
			{
				ID:       AgentBack,
				Model:    "qwen2.5:3b",
				Identity: "You are the verifier. Review the other agent's output and confirm or flag problems.",
			},
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			BaseDelayMs: 500,
		},
		Queue: QueueConfig{
			Capacity: 16,
			Workers:  2,
		},
		Batch: BatchConfig{
			IntervalMs: 25,
		},
		Keepalive: KeepaliveConfig{
			Enabled:          true,
			IntervalSec:      120,
			HeartbeatSec:     5,
			WarmupTimeoutSec: 30,
		},
		History: HistoryConfig{
			AgentLimit:  20,
			SharedLimit: 10,
			ExcerptLen:  160,
		},
		Logging: LoggingConfig{
			Level:   "info",
			Console: true,
			Pretty:  true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    9790,
		},
	}
}

// AgentByID returns the agent config for the given id, or nil.
func (c *Config) AgentByID(id string) *AgentConfig {
	for i := range c.Agents {
		if c.Agents[i].ID == id {
			return &c.Agents[i]
		}
	}
	return nil
}

// OtherAgent returns the alternate agent's config for failover, or nil.
func (c *Config) OtherAgent(id string) *AgentConfig {
	for i := range c.Agents {
		if c.Agents[i].ID != id {
			return &c.Agents[i]
		}
	}
	return nil
}
