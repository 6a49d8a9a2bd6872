package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete runtime configuration, loaded from YAML.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Server   ServerConfig   `yaml:"server"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// DatabaseConfig locates the cutoff database and its backups.
type DatabaseConfig struct {
	Path       string `yaml:"path"`        // Primary JSON file
	BackupDir  string `yaml:"backup_dir"`  // Defaults to <dir of path>/backups
	MaxBackups int    `yaml:"max_backups"` // Retention limit, default 10
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Host        string        `yaml:"host"`
	Port        int           `yaml:"port"`
	ReadTimeout time.Duration `yaml:"read_timeout"`
	IdleTimeout time.Duration `yaml:"idle_timeout"`
	RateRPS     float64       `yaml:"rate_rps"`   // Token bucket refill rate
	RateBurst   int           `yaml:"rate_burst"` // Token bucket capacity
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug|info|warn|error
}

// Default returns the configuration used when no file is supplied.
func Default() Config {
	return Config{
		Database: DatabaseConfig{
			Path:       "data/cutoffs.json",
			MaxBackups: 10,
		},
		Server: ServerConfig{
			Host:        "127.0.0.1",
			Port:        8080,
			ReadTimeout: 10 * time.Second,
			IdleTimeout: 60 * time.Second,
			RateRPS:     20,
			RateBurst:   40,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads configuration from a YAML file, filling unset fields with
// defaults. An empty path returns the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate ensures the configuration is usable.
func (c Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Database.MaxBackups < 1 {
		return fmt.Errorf("database.max_backups must be at least 1, got %d", c.Database.MaxBackups)
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Server.RateRPS <= 0 {
		return fmt.Errorf("server.rate_rps must be positive, got %v", c.Server.RateRPS)
	}
	if c.Server.RateBurst < 1 {
		return fmt.Errorf("server.rate_burst must be at least 1, got %d", c.Server.RateBurst)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug|info|warn|error", c.Logging.Level)
	}
	return nil
}
