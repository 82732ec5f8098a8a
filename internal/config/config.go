package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"scale-task-dashboard/internal/otel"
)

const (
	PersistDetached = "detached"
	PersistTemporal = "temporal"

	defaultPort         = 3000
	defaultMaxBodyBytes = 1 << 20
	defaultTaskQueue    = "SCALE_TASK_QUEUE"
	defaultTemporalHost = "localhost:7233"
)

// PersistConfig selects how callback upserts run after the response is sent.
type PersistConfig struct {
	// Mode is "detached" (in-process goroutine) or "temporal" (PersistTask workflow).
	Mode             string `yaml:"mode"`
	TemporalHostPort string `yaml:"temporal_host_port"`
	TaskQueue        string `yaml:"task_queue"`
}

type Config struct {
	// Path is the file the config was read from, empty when env-only.
	Path string `yaml:"-"`

	StoreURI        string `yaml:"store_uri"`
	Port            int    `yaml:"port"`
	CallbackAuthKey string `yaml:"callback_auth_key"`
	LogLevel        string `yaml:"log_level"`
	MaxBodyBytes    int64  `yaml:"max_body_bytes"`

	Persist PersistConfig `yaml:"persist"`
	OTel    otel.Config   `yaml:"otel"`
}

func defaultConfig() Config {
	return Config{
		Port:         defaultPort,
		LogLevel:     "info",
		MaxBodyBytes: defaultMaxBodyBytes,
		Persist: PersistConfig{
			Mode:             PersistDetached,
			TemporalHostPort: defaultTemporalHost,
			TaskQueue:        defaultTaskQueue,
		},
	}
}

// Load reads path (when non-empty), then applies environment overrides.
func Load(path string) (Config, error) {
	cfg := defaultConfig()
	cfg.Path = path

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if len(data) > 0 {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return cfg, err
	}
	normalize(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) error {
	if raw := os.Getenv("MONGODB_URI"); raw != "" {
		cfg.StoreURI = raw
	}
	if raw := os.Getenv("STORE_URI"); raw != "" {
		cfg.StoreURI = raw
	}
	if raw := os.Getenv("PORT"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("parse PORT: %w", err)
		}
		cfg.Port = v
	}
	if raw := os.Getenv("SCALE_CALLBACK_AUTH_KEY"); raw != "" {
		cfg.CallbackAuthKey = raw
	}
	if raw := os.Getenv("LOG_LEVEL"); raw != "" {
		cfg.LogLevel = raw
	}
	if raw := os.Getenv("PERSIST_MODE"); raw != "" {
		cfg.Persist.Mode = raw
	}
	if raw := os.Getenv("TEMPORAL_HOSTPORT"); raw != "" {
		cfg.Persist.TemporalHostPort = raw
	}
	return nil
}

func normalize(cfg *Config) {
	cfg.StoreURI = strings.TrimSpace(cfg.StoreURI)
	cfg.Persist.Mode = strings.ToLower(strings.TrimSpace(cfg.Persist.Mode))
	if cfg.Persist.Mode == "" {
		cfg.Persist.Mode = PersistDetached
	}
	if cfg.Persist.TaskQueue == "" {
		cfg.Persist.TaskQueue = defaultTaskQueue
	}
	if cfg.Persist.TemporalHostPort == "" {
		cfg.Persist.TemporalHostPort = defaultTemporalHost
	}
	if cfg.Port == 0 {
		cfg.Port = defaultPort
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
}

func validate(cfg Config) error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return fmt.Errorf("port %d out of range", cfg.Port)
	}
	switch cfg.Persist.Mode {
	case PersistDetached, PersistTemporal:
	default:
		return fmt.Errorf("unknown persist mode %q (supported: detached, temporal)", cfg.Persist.Mode)
	}
	return nil
}

// Addr is the listen address for the HTTP server.
func (c Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}
