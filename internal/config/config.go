package config

import (
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
)

// Config holds dagflow's own runtime knobs: engine defaults, the store
// backend used for history persistence, and observer (OTel) wiring.
type Config struct {
	Engine   EngineConfig   `toml:"engine"`
	Store    StoreConfig    `toml:"store"`
	Observer ObserverConfig `toml:"observer"`
}

// EngineConfig mirrors dagflow.Config, expressed in TOML-friendly form so it
// can be loaded from a file without importing the root package here.
type EngineConfig struct {
	RetryAttempts   int  `toml:"retry_attempts"`
	TimeoutMs       int  `toml:"timeout_ms"`
	MaxDynamicSteps int  `toml:"max_dynamic_steps"`
	RetryBackoff    bool `toml:"retry_backoff"`
}

// StoreConfig selects and configures the HistorySink backend.
type StoreConfig struct {
	Driver string `toml:"driver"` // "sqlite", "postgres", or "" (none)
	DSN    string `toml:"dsn"`
}

// ObserverConfig toggles OTel wiring.
type ObserverConfig struct {
	Enabled bool `toml:"enabled"`
}

// Default returns a Config with all defaults applied.
func Default() Config {
	return Config{
		Engine: EngineConfig{
			RetryAttempts:   1,
			MaxDynamicSteps: 50,
		},
		Store: StoreConfig{
			Driver: "sqlite",
			DSN:    "dagflow.db",
		},
	}
}

// Load reads config: defaults -> TOML file -> env vars (env wins).
func Load(path string) Config {
	cfg := Default()

	if path == "" {
		path = "dagflow.toml"
	}
	if data, err := os.ReadFile(path); err == nil {
		_ = toml.Unmarshal(data, &cfg)
	}

	if v := os.Getenv("DAGFLOW_RETRY_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Engine.RetryAttempts = n
		}
	}
	if v := os.Getenv("DAGFLOW_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Engine.TimeoutMs = n
		}
	}
	if v := os.Getenv("DAGFLOW_MAX_DYNAMIC_STEPS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Engine.MaxDynamicSteps = n
		}
	}
	if v := os.Getenv("DAGFLOW_RETRY_BACKOFF"); v == "true" || v == "1" {
		cfg.Engine.RetryBackoff = true
	}
	if v := os.Getenv("DAGFLOW_STORE_DRIVER"); v != "" {
		cfg.Store.Driver = v
	}
	if v := os.Getenv("DAGFLOW_STORE_DSN"); v != "" {
		cfg.Store.DSN = v
	}
	if v := os.Getenv("DAGFLOW_OBSERVER_ENABLED"); v == "true" || v == "1" {
		cfg.Observer.Enabled = true
	}

	return cfg
}
