// Package config loads coflow's runtime configuration: a YAML file parsed
// with gopkg.in/yaml.v3, then overlaid with environment variables via
// github.com/caarlos0/env/v11 (env wins, matching the teacher's layering
// implied by verify_moonshot.go's nested config.Config{Agents, Providers}
// construction — coflow generalizes that shape to
// Config{Server, Session, Database, Engine, Logging}).
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// ServerConfig controls the HTTP/WebSocket listener.
type ServerConfig struct {
	Addr            string        `yaml:"addr" env:"COFLOW_SERVER_ADDR" envDefault:":8080"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"COFLOW_SERVER_READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"COFLOW_SERVER_WRITE_TIMEOUT" envDefault:"15s"`
	AllowedOrigins  []string      `yaml:"allowed_origins" env:"COFLOW_SERVER_ALLOWED_ORIGINS" envSeparator:","`
	APIBearerTokens []string      `yaml:"api_bearer_tokens" env:"COFLOW_SERVER_API_BEARER_TOKENS" envSeparator:","`
}

// SessionConfig controls edit-session lifecycle defaults.
type SessionConfig struct {
	MailboxCapacity   int           `yaml:"mailbox_capacity" env:"COFLOW_SESSION_MAILBOX_CAPACITY" envDefault:"256"`
	IdleShutdownAfter time.Duration `yaml:"idle_shutdown_after" env:"COFLOW_SESSION_IDLE_SHUTDOWN_AFTER" envDefault:"10m"`
	// OperationBufferMin and OperationBufferMaxAge are loaded but not read:
	// the edit-session operation buffer is fixed at 1000 ops and one hour.
	OperationBufferMin int          `yaml:"operation_buffer_min" env:"COFLOW_SESSION_OPERATION_BUFFER_MIN" envDefault:"1000"`
	OperationBufferMaxAge time.Duration `yaml:"operation_buffer_max_age" env:"COFLOW_SESSION_OPERATION_BUFFER_MAX_AGE" envDefault:"1h"`
}

// DatabaseConfig controls the relational store.
type DatabaseConfig struct {
	Driver string `yaml:"driver" env:"COFLOW_DB_DRIVER" envDefault:"sqlite3"`
	DSN    string `yaml:"dsn" env:"COFLOW_DB_DSN" envDefault:"coflow.db"`
}

// EngineConfig controls execution-engine defaults.
type EngineConfig struct {
	MaxConcurrency        int64         `yaml:"max_concurrency" env:"COFLOW_ENGINE_MAX_CONCURRENCY" envDefault:"8"`
	StepTimeout           time.Duration `yaml:"step_timeout" env:"COFLOW_ENGINE_STEP_TIMEOUT" envDefault:"30s"`
	MaxExecutionDuration  time.Duration `yaml:"max_execution_duration" env:"COFLOW_ENGINE_MAX_EXECUTION_DURATION" envDefault:"15m"`
}

// LoggingConfig controls the logger's verbosity.
type LoggingConfig struct {
	Level string `yaml:"level" env:"COFLOW_LOG_LEVEL" envDefault:"info"`
}

// Config is coflow's top-level configuration tree.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Session  SessionConfig  `yaml:"session"`
	Database DatabaseConfig `yaml:"database"`
	Engine   EngineConfig   `yaml:"engine"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// Load reads path (if non-empty and present) as YAML into defaults, then
// overlays any COFLOW_* environment variables on top. A missing path is not
// an error — env vars and struct defaults alone produce a usable Config.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("config: parsing %s: %w", path, err)
			}
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: parsing environment: %w", err)
	}
	return cfg, nil
}
