package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Config holds all Sentinel configuration
type Config struct {
	// Server settings (HTTP API)
	Server ServerConfig `json:"server"`

	// Agent loop settings
	Agent AgentConfig `json:"agent"`

	// Alert delivery over MQTT
	MQTT MQTTConfig `json:"mqtt"`

	// Reviewer API authentication
	Auth AuthConfig `json:"auth"`

	// Paths for models, queue, metrics and reports
	Paths PathsConfig `json:"paths"`

	// Scheduler configuration for cycle jobs
	Scheduler SchedulerConfig `json:"scheduler,omitempty"`
}

type ServerConfig struct {
	Port     int    `json:"port"`
	LogLevel string `json:"logLevel"`
}

// AgentConfig controls the diagnose→decide→execute loop.
type AgentConfig struct {
	// CheckIntervalSec is the sleep between cycles in continuous mode.
	CheckIntervalSec int `json:"checkIntervalSec"`

	// DryRun simulates action execution without side effects.
	DryRun bool `json:"dryRun"`

	// AutoApproveLowRisk forces requiresApproval=false for low-risk actions.
	AutoApproveLowRisk bool `json:"autoApproveLowRisk"`

	// PolicyPath points to the YAML diagnosis policy. Built-in defaults
	// apply when empty.
	PolicyPath string `json:"policyPath,omitempty"`

	// TemplatesPath points to the TOML action template file (optional).
	TemplatesPath string `json:"templatesPath,omitempty"`

	// RetrainCommand is the training-pipeline invocation; success is exit
	// code 0. First element is the binary, the rest are arguments.
	RetrainCommand []string `json:"retrainCommand,omitempty"`

	// RetrainTimeoutSec bounds the retrain subprocess.
	RetrainTimeoutSec int `json:"retrainTimeoutSec"`
}

type MQTTConfig struct {
	Enabled  bool   `json:"enabled"`
	Broker   string `json:"broker"` // e.g. "tcp://localhost:1883"
	Topic    string `json:"topic"`
	ClientID string `json:"clientId,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

type AuthConfig struct {
	// JWTSecret signs reviewer tokens (HS256). Empty disables auth; the
	// server logs a warning in that case.
	JWTSecret string `json:"jwtSecret,omitempty"`

	// TokenTTLHours is the lifetime of minted reviewer tokens.
	TokenTTLHours int `json:"tokenTtlHours"`
}

type PathsConfig struct {
	DataDir            string `json:"dataDir"`
	ProductionModelDir string `json:"productionModelDir"`
	QueueFile          string `json:"queueFile"`
	MetricsDB          string `json:"metricsDb"`
	ReportsDir         string `json:"reportsDir"`
	DiagnosticsDir     string `json:"diagnosticsDir"`
	ReferenceData      string `json:"referenceData,omitempty"`
}

// SchedulerConfig holds cycle scheduling configuration
type SchedulerConfig struct {
	Enabled bool                 `json:"enabled"`
	Jobs    []SchedulerJobConfig `json:"jobs"`
}

// SchedulerJobConfig defines a scheduled job
type SchedulerJobConfig struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Task     string         `json:"task"` // "cycle", "cleanup", "report"
	Schedule ScheduleConfig `json:"schedule"`
	Enabled  bool           `json:"enabled"`
}

// ScheduleConfig defines when a job runs
type ScheduleConfig struct {
	Kind       string `json:"kind"` // "interval", "cron"
	IntervalMs int64  `json:"intervalMs,omitempty"`
	Expr       string `json:"expr,omitempty"` // cron expression
}

// DefaultConfig returns a sensible default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:     8431,
			LogLevel: "info",
		},
		Agent: AgentConfig{
			CheckIntervalSec:   300,
			DryRun:             false,
			AutoApproveLowRisk: true,
			RetrainTimeoutSec:  3600,
		},
		MQTT: MQTTConfig{
			Enabled: false,
			Broker:  "tcp://localhost:1883",
			Topic:   "sentinel/alerts",
		},
		Auth: AuthConfig{
			TokenTTLHours: 24,
		},
		Paths: PathsConfig{
			DataDir:            "./data",
			ProductionModelDir: "./models/production",
			QueueFile:          "./data/approval_queue.jsonl",
			MetricsDB:          "./data/metrics.db",
			ReportsDir:         "./data/reports",
			DiagnosticsDir:     "./data/diagnostics",
		},
	}
}

// Load reads config from a JSON file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// Ensure data directory exists
	if err := os.MkdirAll(cfg.Paths.DataDir, 0750); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	return cfg, nil
}

// Save writes config to a JSON file
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0640)
}
