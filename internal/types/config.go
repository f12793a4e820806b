package types

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables recognized by the server
const (
	EnvConfigPath = "MARCUS_CONFIG_PATH"
	EnvDataDir    = "MARCUS_DATA_DIR"
)

// PersistenceBackend selects the storage implementation
type PersistenceBackend string

const (
	BackendRelational PersistenceBackend = "relational"
	BackendFile       PersistenceBackend = "file"
	BackendMemory     PersistenceBackend = "memory"
)

// KanbanProvider selects the downstream board integration
type KanbanProvider string

const (
	KanbanNone   KanbanProvider = "none"
	KanbanPlanka KanbanProvider = "planka"
	KanbanGitHub KanbanProvider = "github"
	KanbanLinear KanbanProvider = "linear"
)

// PersistenceConfig configures the collection store
type PersistenceConfig struct {
	Backend  PersistenceBackend `yaml:"backend"`
	Path     string             `yaml:"path"`
	PoolSize int                `yaml:"pool_size"`
}

// ContextCacheConfig bounds resident project contexts
type ContextCacheConfig struct {
	Capacity int `yaml:"capacity"`
}

// LeaseConfig controls lease TTLs and the reclaim loop
type LeaseConfig struct {
	DefaultTTLSeconds      int `yaml:"default_ttl_seconds"`
	ReclaimIntervalSeconds int `yaml:"reclaim_interval_seconds"`
}

// EventBusConfig controls history and persistence of events
type EventBusConfig struct {
	HistorySize   int  `yaml:"history_size"`
	PersistEvents bool `yaml:"persist_events"`
}

// CircuitBreakerConfig controls breaker trip and recovery
type CircuitBreakerConfig struct {
	FailureThreshold       int `yaml:"failure_threshold"`
	RecoveryTimeoutSeconds int `yaml:"recovery_timeout_seconds"`
}

// RetryConfig controls exponential backoff for external calls
type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts"`
	BaseDelaySeconds float64 `yaml:"base_delay_seconds"`
	MaxDelaySeconds  float64 `yaml:"max_delay_seconds"`
	Jitter           *bool   `yaml:"jitter"`
}

// ClassifierConfig controls the AI-assisted rescoring collaborator
type ClassifierConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
}

// KanbanConfig configures the board sink
type KanbanConfig struct {
	Provider    KanbanProvider    `yaml:"provider"`
	Credentials map[string]string `yaml:"credentials"`
}

// NotifyChannelConfig configures one notification channel
type NotifyChannelConfig struct {
	Type        string   `yaml:"type"` // terminal, slack, discord, email, toast
	WebhookURL  string   `yaml:"webhook_url"`
	Recipients  []string `yaml:"recipients"`
	MinSeverity string   `yaml:"min_severity"`
}

// NATSConfig configures the embedded broker for downstream consumers
type NATSConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Config is the full server configuration
type Config struct {
	Port           int                   `yaml:"port"`
	DataDir        string                `yaml:"data_dir"`
	Persistence    PersistenceConfig     `yaml:"persistence"`
	ContextCache   ContextCacheConfig    `yaml:"context_cache"`
	Lease          LeaseConfig           `yaml:"lease"`
	EventBus       EventBusConfig        `yaml:"event_bus"`
	CircuitBreaker CircuitBreakerConfig  `yaml:"circuit_breaker"`
	Retry          RetryConfig           `yaml:"retry"`
	Classifier     ClassifierConfig      `yaml:"classifier"`
	Kanban         KanbanConfig          `yaml:"kanban"`
	NATS           NATSConfig            `yaml:"nats"`
	Notifications  []NotifyChannelConfig `yaml:"notifications"`
}

// DefaultConfig returns the documented defaults
func DefaultConfig() *Config {
	jitter := true
	return &Config{
		Port:    3000,
		DataDir: "data",
		Persistence: PersistenceConfig{
			Backend:  BackendRelational,
			PoolSize: 4,
		},
		ContextCache: ContextCacheConfig{Capacity: 10},
		Lease: LeaseConfig{
			DefaultTTLSeconds:      3600,
			ReclaimIntervalSeconds: 30,
		},
		EventBus: EventBusConfig{
			HistorySize:   1000,
			PersistEvents: true,
		},
		CircuitBreaker: CircuitBreakerConfig{
			FailureThreshold:       5,
			RecoveryTimeoutSeconds: 60,
		},
		Retry: RetryConfig{
			MaxAttempts:      3,
			BaseDelaySeconds: 1.0,
			MaxDelaySeconds:  60.0,
			Jitter:           &jitter,
		},
		Kanban: KanbanConfig{Provider: KanbanNone},
		NATS:   NATSConfig{Enabled: false, Port: 4222},
	}
}

// LoadConfig reads the YAML config from path, falling back to defaults for
// anything unset. MARCUS_CONFIG_PATH overrides path when set;
// MARCUS_DATA_DIR overrides the data directory.
func LoadConfig(path string) (*Config, error) {
	if env := os.Getenv(EnvConfigPath); env != "" {
		path = env
	}

	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
			// Missing file means defaults
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if env := os.Getenv(EnvDataDir); env != "" {
		cfg.DataDir = env
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills zero values the YAML left unset
func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.Port == 0 {
		c.Port = d.Port
	}
	if c.DataDir == "" {
		c.DataDir = d.DataDir
	}
	if c.Persistence.Backend == "" {
		c.Persistence.Backend = d.Persistence.Backend
	}
	if c.Persistence.PoolSize == 0 {
		c.Persistence.PoolSize = d.Persistence.PoolSize
	}
	if c.Persistence.Path == "" {
		c.Persistence.Path = filepath.Join(c.DataDir, "marcus.db")
	}
	if c.ContextCache.Capacity == 0 {
		c.ContextCache.Capacity = d.ContextCache.Capacity
	}
	if c.Lease.DefaultTTLSeconds == 0 {
		c.Lease.DefaultTTLSeconds = d.Lease.DefaultTTLSeconds
	}
	if c.Lease.ReclaimIntervalSeconds == 0 {
		c.Lease.ReclaimIntervalSeconds = d.Lease.ReclaimIntervalSeconds
	}
	if c.EventBus.HistorySize == 0 {
		c.EventBus.HistorySize = d.EventBus.HistorySize
	}
	if c.CircuitBreaker.FailureThreshold == 0 {
		c.CircuitBreaker.FailureThreshold = d.CircuitBreaker.FailureThreshold
	}
	if c.CircuitBreaker.RecoveryTimeoutSeconds == 0 {
		c.CircuitBreaker.RecoveryTimeoutSeconds = d.CircuitBreaker.RecoveryTimeoutSeconds
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = d.Retry.MaxAttempts
	}
	if c.Retry.BaseDelaySeconds == 0 {
		c.Retry.BaseDelaySeconds = d.Retry.BaseDelaySeconds
	}
	if c.Retry.MaxDelaySeconds == 0 {
		c.Retry.MaxDelaySeconds = d.Retry.MaxDelaySeconds
	}
	if c.Retry.Jitter == nil {
		c.Retry.Jitter = d.Retry.Jitter
	}
	if c.Kanban.Provider == "" {
		c.Kanban.Provider = KanbanNone
	}
	if c.NATS.Port == 0 {
		c.NATS.Port = d.NATS.Port
	}
}

// Validate checks option values that cannot be defaulted away
func (c *Config) Validate() error {
	switch c.Persistence.Backend {
	case BackendRelational, BackendFile, BackendMemory:
	default:
		return fmt.Errorf("persistence.backend must be relational, file, or memory (got %q)", c.Persistence.Backend)
	}
	switch c.Kanban.Provider {
	case KanbanNone, KanbanPlanka, KanbanGitHub, KanbanLinear:
	default:
		return fmt.Errorf("kanban.provider must be none, planka, github, or linear (got %q)", c.Kanban.Provider)
	}
	if c.Persistence.Backend != BackendMemory && c.Persistence.Path == "" {
		return fmt.Errorf("persistence.path is required for the %s backend", c.Persistence.Backend)
	}
	if c.ContextCache.Capacity < 1 {
		return fmt.Errorf("context_cache.capacity must be at least 1")
	}
	if c.Lease.DefaultTTLSeconds < 1 {
		return fmt.Errorf("lease.default_ttl_seconds must be at least 1")
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1")
	}
	return nil
}

// LeaseTTL returns the default lease duration
func (c *Config) LeaseTTL() time.Duration {
	return time.Duration(c.Lease.DefaultTTLSeconds) * time.Second
}

// ReclaimInterval returns the reclaim loop period
func (c *Config) ReclaimInterval() time.Duration {
	return time.Duration(c.Lease.ReclaimIntervalSeconds) * time.Second
}
