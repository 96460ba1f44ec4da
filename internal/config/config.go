package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultKeepAlive is how long an idle server waits for the next connection.
const DefaultKeepAlive = 10 * time.Minute

// DefaultPollInterval is the disconnect polling interval of a serving connection.
const DefaultPollInterval = 100 * time.Millisecond

// Config represents the host configuration.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Engine       EngineConfig       `yaml:"engine"`
	Isolation    IsolationConfig    `yaml:"isolation"`
	ProjectCache ProjectCacheConfig `yaml:"project_cache"`
	Journal      JournalConfig      `yaml:"journal"`
	Events       EventsConfig       `yaml:"events"`
	Logging      LoggingConfig      `yaml:"logging"`
	Tracing      TracingConfig      `yaml:"tracing"`
}

// ServerConfig tunes the persistent build server.
type ServerConfig struct {
	// KeepAlive is the idle timeout; 0 serves exactly one request.
	KeepAlive      *Duration `yaml:"keep_alive,omitempty"`
	PollInterval   Duration  `yaml:"poll_interval,omitempty"`
	MaxConnections int       `yaml:"max_connections,omitempty"`
	MetricsAddr    string    `yaml:"metrics_addr,omitempty"`
}

// EngineConfig tunes the generation engine.
type EngineConfig struct {
	SourceExtension string `yaml:"source_extension,omitempty"`
	MaxParallel     int    `yaml:"max_parallel,omitempty"`
}

// IsolationConfig controls the generator execution environments.
type IsolationConfig struct {
	WasmEnabled    bool     `yaml:"wasm_enabled"`
	JanitorEvery   Duration `yaml:"janitor_interval,omitempty"`
	IdleEvictAfter Duration `yaml:"idle_evict_after,omitempty"`
}

// ProjectCacheConfig controls reuse of loaded project models.
type ProjectCacheConfig struct {
	Watch bool `yaml:"watch"`
}

// JournalConfig enables the SQLite run journal when Path is set.
type JournalConfig struct {
	Path string `yaml:"path,omitempty"`
}

// EventsConfig enables NATS generation events when URL is set.
type EventsConfig struct {
	NATSURL string `yaml:"nats_url,omitempty"`
	Subject string `yaml:"subject,omitempty"`
}

// TracingConfig selects the span exporter: "none" or "stdout".
type TracingConfig struct {
	Exporter string `yaml:"exporter,omitempty"`
}

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level,omitempty"`
	Format string `yaml:"format,omitempty"`
}

// Duration is a time.Duration that unmarshals from Go duration strings or integer seconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var seconds int64
	if err := node.Decode(&seconds); err == nil {
		*d = Duration(time.Duration(seconds) * time.Second)
		return nil
	}
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load loads configuration from the specified file. A missing file yields the defaults.
func Load(configPath string) (*Config, error) {
	if err := loadEnvFile(); err != nil && !errors.Is(err, errNoEnvFile) {
		return nil, err
	}

	if configPath == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(configPath)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", configPath, err)
	}
	return cfg, nil
}

// Parse decodes YAML configuration, expanding ${ENV} references first.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.KeepAlive == nil {
		d := Duration(DefaultKeepAlive)
		c.Server.KeepAlive = &d
	}
	if c.Server.PollInterval == 0 {
		c.Server.PollInterval = Duration(DefaultPollInterval)
	}
	if c.Server.MaxConnections == 0 {
		c.Server.MaxConnections = 64
	}
	if c.Engine.SourceExtension == "" {
		c.Engine.SourceExtension = "go"
	}
	if c.Isolation.JanitorEvery == 0 {
		c.Isolation.JanitorEvery = Duration(time.Minute)
	}
	if c.Isolation.IdleEvictAfter == 0 {
		c.Isolation.IdleEvictAfter = Duration(30 * time.Minute)
	}
	if c.Events.Subject == "" {
		c.Events.Subject = "srcgenhost.generation"
	}
	c.Tracing.Exporter = strings.ToLower(strings.TrimSpace(c.Tracing.Exporter))
	if c.Tracing.Exporter == "" {
		c.Tracing.Exporter = "none"
	}
	c.Logging.Level = string(NormalizeLogLevel(c.Logging.Level))
	c.Logging.Format = string(NormalizeLogFormat(c.Logging.Format))
}

// Validate checks invariants that defaults cannot repair.
func (c *Config) Validate() error {
	if c.Server.KeepAlive != nil && *c.Server.KeepAlive < 0 {
		return fmt.Errorf("server.keep_alive cannot be negative")
	}
	if c.Server.PollInterval < 0 {
		return fmt.Errorf("server.poll_interval cannot be negative")
	}
	if c.Server.MaxConnections < 0 {
		return fmt.Errorf("server.max_connections cannot be negative")
	}
	if c.Engine.MaxParallel < 0 {
		return fmt.Errorf("engine.max_parallel cannot be negative")
	}
	switch c.Tracing.Exporter {
	case "", "none", "stdout":
	default:
		return fmt.Errorf("tracing.exporter must be none or stdout, got %q", c.Tracing.Exporter)
	}
	return nil
}
