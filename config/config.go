// Package config loads runtime configuration from a TOML file with
// environment-variable overrides. Environment always wins over the file,
// and both fall back to built-in defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
)

// Config is the full daemon configuration.
type Config struct {
	HTTP      HTTPConfig      `toml:"http"`
	Catalog   CatalogConfig   `toml:"catalog"`
	Toggles   TogglesConfig   `toml:"toggles"`
	Lifecycle LifecycleConfig `toml:"lifecycle"`
	Record    RecordConfig    `toml:"record"`
}

type HTTPConfig struct {
	Addr string `toml:"addr" env:"SOULMESH_HTTP_ADDR"`
}

type CatalogConfig struct {
	Path  string `toml:"path" env:"SOULMESH_CATALOG_PATH"`
	Watch bool   `toml:"watch" env:"SOULMESH_CATALOG_WATCH"`
}

type TogglesConfig struct {
	// DBPath is the SQLite file holding per-user toggle state. Empty
	// keeps toggles in memory.
	DBPath string `toml:"db_path" env:"SOULMESH_TOGGLES_DB"`
	UserID string `toml:"user_id" env:"SOULMESH_USER_ID"`
}

type LifecycleConfig struct {
	IntegrityFloor   float64  `toml:"integrity_floor" env:"SOULMESH_INTEGRITY_FLOOR"`
	QuarantineFloor  float64  `toml:"quarantine_floor" env:"SOULMESH_QUARANTINE_FLOOR"`
	IdleTimeout      Duration `toml:"idle_timeout" env:"SOULMESH_IDLE_TIMEOUT"`
	PurgeInterval    Duration `toml:"purge_interval" env:"SOULMESH_PURGE_INTERVAL"`
	PurgeAge         Duration `toml:"purge_age" env:"SOULMESH_PURGE_AGE"`
	BaseErrorPenalty float64  `toml:"base_error_penalty" env:"SOULMESH_BASE_ERROR_PENALTY"`
}

// Duration decodes "5m"-style strings from both TOML and the environment.
type Duration time.Duration

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return fmt.Errorf("bad duration %q: %w", b, err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

type RecordConfig struct {
	Capacity int `toml:"capacity" env:"SOULMESH_RECORD_CAPACITY"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		HTTP:    HTTPConfig{Addr: ":8642"},
		Catalog: CatalogConfig{Path: "catalog.yaml", Watch: true},
		Toggles: TogglesConfig{UserID: "local"},
		Lifecycle: LifecycleConfig{
			IntegrityFloor:   0.6,
			QuarantineFloor:  0.3,
			IdleTimeout:      Duration(5 * time.Minute),
			PurgeInterval:    Duration(2 * time.Minute),
			PurgeAge:         Duration(10 * time.Minute),
			BaseErrorPenalty: 0.05,
		},
		Record: RecordConfig{Capacity: 1000},
	}
}

// Load layers the TOML file at path (if it exists) and the environment
// over the defaults. A missing file is not an error; a malformed one is.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return Config{}, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Record.Capacity <= 0 {
		return fmt.Errorf("record capacity must be positive, got %d", c.Record.Capacity)
	}
	if c.Lifecycle.IntegrityFloor < 0 || c.Lifecycle.IntegrityFloor > 1 {
		return fmt.Errorf("integrity floor must be within [0,1], got %g", c.Lifecycle.IntegrityFloor)
	}
	if c.Lifecycle.QuarantineFloor < 0 || c.Lifecycle.QuarantineFloor > c.Lifecycle.IntegrityFloor {
		return fmt.Errorf("quarantine floor must be within [0, integrity floor], got %g", c.Lifecycle.QuarantineFloor)
	}
	if c.Toggles.UserID == "" {
		return errors.New("toggles user id must not be empty")
	}
	return nil
}
