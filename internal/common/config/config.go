// Package config provides configuration management for swarmd.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for swarmd.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	RPC       RPCConfig       `mapstructure:"rpc"`
	Database  DatabaseConfig  `mapstructure:"database"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Runner    RunnerConfig    `mapstructure:"runner"`
	Workspace WorkspaceConfig `mapstructure:"workspace"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`  // in seconds
	WriteTimeout int    `mapstructure:"writeTimeout"` // in seconds
}

// RPCConfig holds the RPC (MCP) server configuration.
type RPCConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// DatabaseConfig holds persistence configuration. The default driver is
// sqlite backed by a single file; postgres is selected by setting driver
// and dsn.
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"` // sqlite, postgres
	Path     string `mapstructure:"path"`   // sqlite database file
	DSN      string `mapstructure:"dsn"`    // postgres connection string
	MaxConns int    `mapstructure:"maxConns"`
	MinConns int    `mapstructure:"minConns"`
}

// NATSConfig holds NATS messaging configuration.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	ClientID      string `mapstructure:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// EngineConfig holds orchestration engine tuning.
type EngineConfig struct {
	MaxWorkflows           int `mapstructure:"maxWorkflows"`           // soft cap on active workflows
	EventIntervalSeconds   int `mapstructure:"eventIntervalSeconds"`   // pending handoff processor period
	CleanupIntervalMinutes int `mapstructure:"cleanupIntervalMinutes"` // scheduled cleanup sweeper period
	StaleThresholdMinutes  int `mapstructure:"staleThresholdMinutes"`  // active workflow age before stale
	RetentionDays          int `mapstructure:"retentionDays"`          // stale workflow retention before purge
	ApprovedCleanupDelay   int `mapstructure:"approvedCleanupDelayMinutes"`
}

// RunnerConfig holds agent runner tuning.
type RunnerConfig struct {
	MaxConcurrent       int      `mapstructure:"maxConcurrent"`
	PollIntervalSeconds int      `mapstructure:"pollIntervalSeconds"`
	WorkerCommand       []string `mapstructure:"workerCommand"` // argv prefix; prompt file path is appended
	ShutdownGraceSecs   int      `mapstructure:"shutdownGraceSeconds"`
}

// WorkspaceConfig holds git workspace configuration.
type WorkspaceConfig struct {
	Dir            string `mapstructure:"dir"`      // root for per-agent worktrees
	RepoPath       string `mapstructure:"repoPath"` // source repository worktrees are created from
	DefaultBaseRef string `mapstructure:"defaultBaseRef"`
}

// ReadTimeoutDuration returns the read timeout as a time.Duration.
func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a time.Duration.
func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// EventInterval returns the handoff processor period.
func (e *EngineConfig) EventInterval() time.Duration {
	return time.Duration(e.EventIntervalSeconds) * time.Second
}

// CleanupInterval returns the cleanup sweeper period.
func (e *EngineConfig) CleanupInterval() time.Duration {
	return time.Duration(e.CleanupIntervalMinutes) * time.Minute
}

// StaleThreshold returns the active-workflow age before it is marked stale.
func (e *EngineConfig) StaleThreshold() time.Duration {
	return time.Duration(e.StaleThresholdMinutes) * time.Minute
}

// Retention returns how long stale workflows are kept before purge.
func (e *EngineConfig) Retention() time.Duration {
	return time.Duration(e.RetentionDays) * 24 * time.Hour
}

// ApprovedCleanupDelayDuration returns the delay between workflow approval
// and the scheduled workspace cleanup.
func (e *EngineConfig) ApprovedCleanupDelayDuration() time.Duration {
	return time.Duration(e.ApprovedCleanupDelay) * time.Minute
}

// PollInterval returns the runner poll period.
func (r *RunnerConfig) PollInterval() time.Duration {
	return time.Duration(r.PollIntervalSeconds) * time.Second
}

// ShutdownGrace returns the bounded wait after SIGTERM before SIGKILL.
func (r *RunnerConfig) ShutdownGrace() time.Duration {
	return time.Duration(r.ShutdownGraceSecs) * time.Second
}

// detectDefaultLogFormat returns the appropriate log format based on environment.
// Returns "json" if running in Kubernetes or other production environments.
// Returns "text" for terminal/development use (human-readable console format).
func detectDefaultLogFormat() string {
	// Check if running in Kubernetes
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}

	// Check for explicit production environment
	if env := os.Getenv("SWARMD_ENV"); env == "production" || env == "prod" {
		return "json"
	}

	// Default to text format for terminal use (more readable than JSON)
	return "text"
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)

	// RPC defaults
	v.SetDefault("rpc.enabled", true)
	v.SetDefault("rpc.port", 9090)

	// Database defaults
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", filepath.Join("data", "swarmd.db"))
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.maxConns", 25)
	v.SetDefault("database.minConns", 5)

	// NATS defaults - empty URL means use in-memory event bus
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.clientId", "swarmd")
	v.SetDefault("nats.maxReconnects", 10)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")

	// Engine defaults
	v.SetDefault("engine.maxWorkflows", 50)
	v.SetDefault("engine.eventIntervalSeconds", 5)
	v.SetDefault("engine.cleanupIntervalMinutes", 5)
	v.SetDefault("engine.staleThresholdMinutes", 120)
	v.SetDefault("engine.retentionDays", 7)
	v.SetDefault("engine.approvedCleanupDelayMinutes", 15)

	// Runner defaults
	v.SetDefault("runner.maxConcurrent", 3)
	v.SetDefault("runner.pollIntervalSeconds", 10)
	v.SetDefault("runner.workerCommand", []string{})
	v.SetDefault("runner.shutdownGraceSeconds", 10)

	// Workspace defaults
	v.SetDefault("workspace.dir", "workspaces")
	v.SetDefault("workspace.repoPath", ".")
	v.SetDefault("workspace.defaultBaseRef", "main")
}

// Load reads configuration from environment variables, config file, and defaults.
// Environment variables use the prefix SWARMD_ with snake_case naming.
// Config file should be named config.yaml and placed in the current directory or /etc/swarmd/.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults first
	setDefaults(v)

	// Configure environment variables
	v.SetEnvPrefix("SWARMD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit bindings for the flat env vars the deployment contract names.
	// AutomaticEnv does not handle camelCase keys or unprefixed names,
	// so we bind them here; the prefixed form always works too.
	_ = v.BindEnv("database.path", "DATABASE_PATH", "SWARMD_DATABASE_PATH")
	_ = v.BindEnv("workspace.dir", "WORKSPACES_DIR", "SWARMD_WORKSPACE_DIR")
	_ = v.BindEnv("engine.maxWorkflows", "MAX_WORKFLOWS", "SWARMD_ENGINE_MAX_WORKFLOWS")
	_ = v.BindEnv("engine.cleanupIntervalMinutes", "CLEANUP_INTERVAL_MINUTES", "SWARMD_ENGINE_CLEANUP_INTERVAL_MINUTES")
	_ = v.BindEnv("runner.maxConcurrent", "MAX_AGENTS", "SWARMD_RUNNER_MAX_CONCURRENT")
	_ = v.BindEnv("logging.level", "LOG_LEVEL", "SWARMD_LOGGING_LEVEL")
	_ = v.BindEnv("logging.outputPath", "LOG_FILE", "SWARMD_LOGGING_OUTPUT_PATH")

	// Configure config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/swarmd/")

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validate checks that all required configuration fields are set.
func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}
	if cfg.RPC.Enabled && (cfg.RPC.Port <= 0 || cfg.RPC.Port > 65535) {
		errs = append(errs, "rpc.port must be between 1 and 65535")
	}

	switch strings.ToLower(cfg.Database.Driver) {
	case "sqlite":
		if cfg.Database.Path == "" {
			errs = append(errs, "database.path is required for the sqlite driver")
		}
	case "postgres":
		if cfg.Database.DSN == "" {
			errs = append(errs, "database.dsn is required for the postgres driver")
		}
	default:
		errs = append(errs, "database.driver must be one of: sqlite, postgres")
	}

	// NATS validation - optional (uses in-memory event bus if not set)

	if cfg.Engine.MaxWorkflows <= 0 {
		errs = append(errs, "engine.maxWorkflows must be positive")
	}
	if cfg.Engine.EventIntervalSeconds <= 0 {
		errs = append(errs, "engine.eventIntervalSeconds must be positive")
	}
	if cfg.Engine.CleanupIntervalMinutes <= 0 {
		errs = append(errs, "engine.cleanupIntervalMinutes must be positive")
	}
	if cfg.Runner.MaxConcurrent <= 0 {
		errs = append(errs, "runner.maxConcurrent must be positive")
	}
	if cfg.Runner.PollIntervalSeconds <= 0 {
		errs = append(errs, "runner.pollIntervalSeconds must be positive")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}

	return nil
}
