package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	internal "github.com/ZanzyTHEbar/dialog-core/dcore"

	"github.com/spf13/viper"
)

// Config stores all configuration of the application.
// The values are read by viper from a config file or environment variables.
type Config struct {
	Engine       EngineConfig       `mapstructure:"engine"`
	Conversation ConversationConfig `mapstructure:"conversation"`
	Runtime      RuntimeConfig      `mapstructure:"runtime"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Bridge       BridgeConfig       `mapstructure:"bridge"`
	Workspace    WorkspaceConfig    `mapstructure:"workspace"`
}

// EngineConfig identifies the durable-execution engine this controller is
// deployed against. The engine is an external collaborator; these values
// label persisted conversation metadata and are never dialed from here.
type EngineConfig struct {
	Address      string `mapstructure:"address"`
	Namespace    string `mapstructure:"namespace"`
	TaskQueue    string `mapstructure:"task_queue"`
	WorkflowType string `mapstructure:"workflow_type"`
}

// ConversationConfig stores the per-conversation state machine knobs.
type ConversationConfig struct {
	MaxTurnsBeforeCompaction int           `mapstructure:"max_turns_before_compaction"` // user turns per epoch before rollover
	HistoryTrimSize          int           `mapstructure:"history_trim_size"`           // max items carried across a compaction
	GeneratorTimeout         time.Duration `mapstructure:"generator_timeout"`           // hard timeout per generator call
	GeneratorRetries         uint64        `mapstructure:"generator_retries"`           // additional attempts after the first
	RetryBackoff             time.Duration `mapstructure:"retry_backoff"`               // base delay between generator retries
	PollInterval             time.Duration `mapstructure:"poll_interval"`               // reply-poll cadence
	PollTimeout              time.Duration `mapstructure:"poll_timeout"`                // reply-poll give-up deadline
}

// RuntimeConfig stores controller runtime adapter toggles.
type RuntimeConfig struct {
	// Cache settings
	CacheEnabled    bool `mapstructure:"cache_enabled"`     // Enable completion caching
	CacheCapacity   int  `mapstructure:"cache_capacity"`    // LRU cache capacity
	CacheTTLSeconds int  `mapstructure:"cache_ttl_seconds"` // Cache entry TTL

	// Rate limiting
	RateLimitEnabled    bool          `mapstructure:"rate_limit_enabled"`     // Enable generator rate limiting
	RateLimitCapacity   int           `mapstructure:"rate_limit_capacity"`    // Token bucket capacity
	RateLimitRefillRate time.Duration `mapstructure:"rate_limit_refill_rate"` // Refill rate

	// Telemetry
	EnableTracing bool `mapstructure:"enable_tracing"` // Enable structured logging/tracing
}

// DatabaseConfig stores transcript store connection details.
type DatabaseConfig struct {
	Path string `mapstructure:"path"` // Path to .db file; empty selects the in-memory store
}

// BridgeConfig stores HTTP bridge configurations.
type BridgeConfig struct {
	ListenAddr   string        `mapstructure:"listen_addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	Debug        bool          `mapstructure:"debug"`
}

// WorkspaceConfig locates the workspace the system prompt is assembled from.
type WorkspaceConfig struct {
	Root string `mapstructure:"root"`
}

var AppConfig Config

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath(filepath.Join("etc", internal.DefaultAppName))
		v.AddConfigPath(internal.DefaultConfigPath)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("DIALOG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Engine defaults
	v.SetDefault("engine.address", internal.DefaultEngineAddress)
	v.SetDefault("engine.namespace", internal.DefaultNamespace)
	v.SetDefault("engine.task_queue", internal.DefaultTaskQueue)
	v.SetDefault("engine.workflow_type", internal.DefaultWorkflowType)

	// Conversation defaults
	v.SetDefault("conversation.max_turns_before_compaction", 6)
	v.SetDefault("conversation.history_trim_size", 40)
	v.SetDefault("conversation.generator_timeout", "30s")
	v.SetDefault("conversation.generator_retries", 3)
	v.SetDefault("conversation.retry_backoff", "100ms")
	v.SetDefault("conversation.poll_interval", "1s")
	v.SetDefault("conversation.poll_timeout", "60s")

	// Runtime defaults
	v.SetDefault("runtime.cache_enabled", false)
	v.SetDefault("runtime.cache_capacity", 1000)
	v.SetDefault("runtime.cache_ttl_seconds", 3600)
	v.SetDefault("runtime.rate_limit_enabled", false)
	v.SetDefault("runtime.rate_limit_capacity", 10)
	v.SetDefault("runtime.rate_limit_refill_rate", "1s")
	v.SetDefault("runtime.enable_tracing", true)

	// Database defaults
	v.SetDefault("database.path", internal.DefaultDatabasePath)

	// Bridge defaults
	v.SetDefault("bridge.listen_addr", internal.DefaultBridgeAddr)
	v.SetDefault("bridge.read_timeout", "30s")
	v.SetDefault("bridge.write_timeout", "90s")
	v.SetDefault("bridge.debug", false)

	// Workspace defaults
	v.SetDefault("workspace.root", internal.DefaultWorkspaceRoot)

	if err := v.ReadInConfig(); err != nil {
		// A config file missing from the search path is fine; defaults and
		// environment cover it. A malformed file, or an explicit path that
		// cannot be read, is not.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	AppConfig = cfg
	return &cfg, nil
}

// Validate clamps and rejects nonsensical values.
func (c *Config) Validate() error {
	if c.Conversation.MaxTurnsBeforeCompaction < 1 {
		return fmt.Errorf("conversation.max_turns_before_compaction must be >= 1, got %d", c.Conversation.MaxTurnsBeforeCompaction)
	}
	if c.Conversation.HistoryTrimSize < 2 {
		return fmt.Errorf("conversation.history_trim_size must be >= 2 to hold a full turn, got %d", c.Conversation.HistoryTrimSize)
	}
	if c.Conversation.HistoryTrimSize%2 != 0 {
		return fmt.Errorf("conversation.history_trim_size must be even so the kept window holds whole turns, got %d", c.Conversation.HistoryTrimSize)
	}
	if c.Conversation.GeneratorTimeout <= 0 {
		return fmt.Errorf("conversation.generator_timeout must be positive, got %s", c.Conversation.GeneratorTimeout)
	}
	if c.Conversation.PollInterval <= 0 {
		return fmt.Errorf("conversation.poll_interval must be positive, got %s", c.Conversation.PollInterval)
	}
	return nil
}
