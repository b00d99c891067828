// Package config loads the markgraph runtime configuration from a YAML file
// and MARKGRAPH_* environment variables.
package config

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"
	"golang.org/x/time/rate"

	"github.com/shubhambiswas2196/markgraph/agent"
	"github.com/shubhambiswas2196/markgraph/core"
	"github.com/shubhambiswas2196/markgraph/engine"
	"github.com/shubhambiswas2196/markgraph/guard"
	"github.com/shubhambiswas2196/markgraph/tool"
	"github.com/shubhambiswas2196/markgraph/toolexec"
)

// EnvPrefix prefixes every environment override, e.g.
// MARKGRAPH_CACHE_TTL=10m or MARKGRAPH_CHECKPOINT_BACKEND=redis.
const EnvPrefix = "MARKGRAPH"

// Backends accepted by the checkpoint, blob and model sections.
var (
	CheckpointBackends = []string{"memory", "file", "sqlite", "postgres", "redis"}
	BlobBackends       = []string{"memory", "s3"}
	ModelProviders     = []string{"openai", "anthropic", "mock"}
	LogBackends        = []string{"slog", "zap"}
)

type ModelConfig struct {
	Provider       string        `mapstructure:"provider"`
	Name           string        `mapstructure:"name"`
	APIKey         string        `mapstructure:"api_key"`
	BaseURL        string        `mapstructure:"base_url"`
	Temperature    float64       `mapstructure:"temperature"`
	MaxTokens      int64         `mapstructure:"max_tokens"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
	// RateLimit is the sustained model calls per second; zero disables pacing.
	RateLimit float64 `mapstructure:"rate_limit"`
	Burst     int     `mapstructure:"burst"`
	Stream    bool    `mapstructure:"stream"`
}

type EngineConfig struct {
	MaxIterations            int   `mapstructure:"max_iterations"`
	MaxConcurrentInvocations int64 `mapstructure:"max_concurrent_invocations"`
	EventBufferSize          int   `mapstructure:"event_buffer_size"`
	LoopWindow               int   `mapstructure:"loop_window"`
}

type CacheConfig struct {
	TTL           time.Duration     `mapstructure:"ttl"`
	MaxChars      int               `mapstructure:"max_chars"`
	PreviewChars  int               `mapstructure:"preview_chars"`
	ReadPageChars int               `mapstructure:"read_page_chars"`
	ToolTimeout   time.Duration     `mapstructure:"tool_timeout"`
	Concurrency   int               `mapstructure:"concurrency"`
	ResourcePaths map[string]string `mapstructure:"resource_paths"`
}

type ApprovalConfig struct {
	Sentinel       string   `mapstructure:"sentinel"`
	SensitiveTools []string `mapstructure:"sensitive_tools"`
}

type CheckpointConfig struct {
	Backend string        `mapstructure:"backend"`
	Timeout time.Duration `mapstructure:"timeout"`
	// Dir is used by the file backend.
	Dir string `mapstructure:"dir"`
	// DSN is used by the sqlite and postgres backends.
	DSN   string `mapstructure:"dsn"`
	Table string `mapstructure:"table"`
	Redis struct {
		Addr     string        `mapstructure:"addr"`
		Password string        `mapstructure:"password"`
		DB       int           `mapstructure:"db"`
		Prefix   string        `mapstructure:"prefix"`
		TTL      time.Duration `mapstructure:"ttl"`
	} `mapstructure:"redis"`
}

type BlobConfig struct {
	Backend    string `mapstructure:"backend"`
	MaxEntries int    `mapstructure:"max_entries"`
	MaxBytes   int64  `mapstructure:"max_bytes"`
	S3         struct {
		Bucket       string `mapstructure:"bucket"`
		Region       string `mapstructure:"region"`
		Endpoint     string `mapstructure:"endpoint"`
		Prefix       string `mapstructure:"prefix"`
		UsePathStyle bool   `mapstructure:"use_path_style"`
	} `mapstructure:"s3"`
}

type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	Format  string `mapstructure:"format"`
	Backend string `mapstructure:"backend"`
}

type MetricsConfig struct {
	// Addr serves /metrics when set, e.g. ":9090".
	Addr string `mapstructure:"addr"`
}

// Config is the complete runtime configuration.
type Config struct {
	Model      ModelConfig      `mapstructure:"model"`
	Engine     EngineConfig     `mapstructure:"engine"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Approval   ApprovalConfig   `mapstructure:"approval"`
	Checkpoint CheckpointConfig `mapstructure:"checkpoint"`
	Blobs      BlobConfig       `mapstructure:"blobs"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
}

// SetDefaults registers the default of every key on v. Keys without a
// default are invisible to environment overrides.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("model.provider", "mock")
	v.SetDefault("model.name", "")
	v.SetDefault("model.api_key", "")
	v.SetDefault("model.base_url", "")
	v.SetDefault("model.temperature", 0.0)
	v.SetDefault("model.max_tokens", 0)
	v.SetDefault("model.timeout", agent.DefaultModelTimeout)
	v.SetDefault("model.max_attempts", agent.DefaultMaxAttempts)
	v.SetDefault("model.initial_backoff", agent.DefaultInitialBackoff)
	v.SetDefault("model.max_backoff", agent.DefaultMaxBackoff)
	v.SetDefault("model.rate_limit", 0.0)
	v.SetDefault("model.burst", 1)
	v.SetDefault("model.stream", true)

	v.SetDefault("engine.max_iterations", engine.DefaultConfig.MaxIterations)
	v.SetDefault("engine.max_concurrent_invocations", engine.DefaultConfig.MaxConcurrentInvocations)
	v.SetDefault("engine.event_buffer_size", engine.DefaultConfig.EventBufferSize)
	v.SetDefault("engine.loop_window", guard.DefaultLoopWindow)

	v.SetDefault("cache.ttl", toolexec.DefaultTTL)
	v.SetDefault("cache.max_chars", toolexec.DefaultMaxChars)
	v.SetDefault("cache.preview_chars", toolexec.DefaultPreviewChars)
	v.SetDefault("cache.read_page_chars", tool.DefaultReadPageChars)
	v.SetDefault("cache.tool_timeout", toolexec.DefaultTimeout)
	v.SetDefault("cache.concurrency", toolexec.DefaultConcurrency)
	v.SetDefault("cache.resource_paths", toolexec.DefaultResourcePaths)

	v.SetDefault("approval.sentinel", guard.DefaultSentinel)
	v.SetDefault("approval.sensitive_tools", []string{})

	v.SetDefault("checkpoint.backend", "memory")
	v.SetDefault("checkpoint.timeout", engine.DefaultConfig.CheckpointTimeout)
	v.SetDefault("checkpoint.dir", ".markgraph/checkpoints")
	v.SetDefault("checkpoint.dsn", "")
	v.SetDefault("checkpoint.table", "checkpoints")
	v.SetDefault("checkpoint.redis.addr", "localhost:6379")
	v.SetDefault("checkpoint.redis.password", "")
	v.SetDefault("checkpoint.redis.db", 0)
	v.SetDefault("checkpoint.redis.prefix", "markgraph:checkpoint:")
	v.SetDefault("checkpoint.redis.ttl", time.Duration(0))

	v.SetDefault("blobs.backend", "memory")
	v.SetDefault("blobs.max_entries", 1024)
	v.SetDefault("blobs.max_bytes", int64(256<<20))
	v.SetDefault("blobs.s3.bucket", "")
	v.SetDefault("blobs.s3.region", "")
	v.SetDefault("blobs.s3.endpoint", "")
	v.SetDefault("blobs.s3.prefix", "markgraph")
	v.SetDefault("blobs.s3.use_path_style", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.backend", "slog")

	v.SetDefault("metrics.addr", "")
}

// New returns a viper instance with defaults and environment overrides
// registered.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads path (optional) and returns the validated configuration.
func Load(path string) (*Config, error) {
	v, err := read(path)
	if err != nil {
		return nil, err
	}
	return FromViper(v)
}

// Settings returns the effective key/value tree with secrets redacted.
func Settings(path string) (map[string]any, error) {
	v, err := read(path)
	if err != nil {
		return nil, err
	}
	for _, key := range secretKeys {
		if v.GetString(key) != "" {
			v.Set(key, "***")
		}
	}
	return v.AllSettings(), nil
}

var secretKeys = []string{"model.api_key", "checkpoint.dsn", "checkpoint.redis.password"}

func read(path string) (*viper.Viper, error) {
	v := New()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return v, nil
}

// FromViper decodes and validates v.
func FromViper(v *viper.Viper) (*Config, error) {
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Default returns the configuration with every default applied.
func Default() *Config {
	c, err := FromViper(New())
	if err != nil {
		panic(err)
	}
	return c
}

// Validate rejects inconsistent settings with a *core.ConfigurationError.
func (c *Config) Validate() error {
	switch {
	case !slices.Contains(ModelProviders, c.Model.Provider):
		return core.NewConfigurationError("model.provider", "unsupported provider %q (want one of %v)", c.Model.Provider, ModelProviders)
	case c.Model.Provider != "mock" && c.Model.Timeout <= 0:
		return core.NewConfigurationError("model.timeout", "must be positive")
	case c.Model.MaxAttempts < 1:
		return core.NewConfigurationError("model.max_attempts", "must be at least 1")
	case c.Model.InitialBackoff < 0 || c.Model.MaxBackoff < c.Model.InitialBackoff:
		return core.NewConfigurationError("model.max_backoff", "must not be below model.initial_backoff")
	case c.Model.RateLimit < 0:
		return core.NewConfigurationError("model.rate_limit", "must not be negative")

	case c.Engine.MaxIterations < 1:
		return core.NewConfigurationError("engine.max_iterations", "must be at least 1")
	case c.Engine.LoopWindow < 1:
		return core.NewConfigurationError("engine.loop_window", "must be at least 1")
	case c.Engine.MaxConcurrentInvocations < 0:
		return core.NewConfigurationError("engine.max_concurrent_invocations", "must not be negative")

	case c.Cache.TTL <= 0:
		return core.NewConfigurationError("cache.ttl", "must be positive")
	case c.Cache.MaxChars <= 0:
		return core.NewConfigurationError("cache.max_chars", "must be positive")
	case c.Cache.PreviewChars <= 0 || c.Cache.PreviewChars >= c.Cache.MaxChars:
		return core.NewConfigurationError("cache.preview_chars", "must be positive and below cache.max_chars")
	case c.Cache.ToolTimeout <= 0:
		return core.NewConfigurationError("cache.tool_timeout", "must be positive")

	case strings.TrimSpace(c.Approval.Sentinel) == "":
		return core.NewConfigurationError("approval.sentinel", "must not be empty")

	case !slices.Contains(CheckpointBackends, c.Checkpoint.Backend):
		return core.NewConfigurationError("checkpoint.backend", "unsupported backend %q (want one of %v)", c.Checkpoint.Backend, CheckpointBackends)
	case c.Checkpoint.Timeout <= 0:
		return core.NewConfigurationError("checkpoint.timeout", "must be positive")
	case c.Checkpoint.Backend == "file" && c.Checkpoint.Dir == "":
		return core.NewConfigurationError("checkpoint.dir", "required by the file backend")
	case (c.Checkpoint.Backend == "sqlite" || c.Checkpoint.Backend == "postgres") && c.Checkpoint.DSN == "":
		return core.NewConfigurationError("checkpoint.dsn", "required by the %s backend", c.Checkpoint.Backend)
	case c.Checkpoint.Backend == "redis" && c.Checkpoint.Redis.Addr == "":
		return core.NewConfigurationError("checkpoint.redis.addr", "required by the redis backend")

	case !slices.Contains(BlobBackends, c.Blobs.Backend):
		return core.NewConfigurationError("blobs.backend", "unsupported backend %q (want one of %v)", c.Blobs.Backend, BlobBackends)
	case c.Blobs.Backend == "s3" && c.Blobs.S3.Bucket == "":
		return core.NewConfigurationError("blobs.s3.bucket", "required by the s3 backend")

	case !slices.Contains(LogBackends, c.Logging.Backend):
		return core.NewConfigurationError("logging.backend", "unsupported backend %q (want one of %v)", c.Logging.Backend, LogBackends)
	}
	return nil
}

// EngineOptions maps the configuration onto engine options.
func (c *Config) EngineOptions() func(o *engine.Options) {
	return func(o *engine.Options) {
		o.Config.MaxIterations = c.Engine.MaxIterations
		o.Config.MaxConcurrentInvocations = c.Engine.MaxConcurrentInvocations
		o.Config.EventBufferSize = c.Engine.EventBufferSize
		o.Config.LoopWindow = c.Engine.LoopWindow
		o.Config.CheckpointTimeout = c.Checkpoint.Timeout
		o.Config.ReadPageChars = c.Cache.ReadPageChars
		o.ToolOptions = append(o.ToolOptions, c.ToolOptions())
	}
}

// ToolOptions maps the cache section onto executor options.
func (c *Config) ToolOptions() func(o *toolexec.Options) {
	return func(o *toolexec.Options) {
		o.TTL = c.Cache.TTL
		o.MaxChars = c.Cache.MaxChars
		o.PreviewChars = c.Cache.PreviewChars
		o.Timeout = c.Cache.ToolTimeout
		o.Concurrency = c.Cache.Concurrency
		if len(c.Cache.ResourcePaths) > 0 {
			o.ResourcePaths = c.Cache.ResourcePaths
		}
	}
}

// ApprovalPolicy builds the approval gate.
func (c *Config) ApprovalPolicy() *guard.ApprovalPolicy {
	return guard.NewApprovalPolicy(func(o *guard.ApprovalOptions) {
		o.Sentinel = c.Approval.Sentinel
		o.SensitiveTools = c.Approval.SensitiveTools
	})
}

// InvokerOptions maps the model section onto the model call policy. Every
// invoker built from the returned option shares one rate limiter.
func (c *Config) InvokerOptions() func(o *agent.InvokerOptions) {
	var limiter *rate.Limiter
	if c.Model.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(c.Model.RateLimit), max(c.Model.Burst, 1))
	}
	return func(o *agent.InvokerOptions) {
		o.Limiter = limiter
		o.MaxAttempts = c.Model.MaxAttempts
		o.InitialBackoff = c.Model.InitialBackoff
		o.MaxBackoff = c.Model.MaxBackoff
		o.Timeout = c.Model.Timeout
		o.Stream = c.Model.Stream
	}
}
