// Package config loads agent settings from defaults, an optional YAML or
// TOML file, and DIPTRACK_* environment variables, in that order.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/diptrack/diptrack/internal/api"
	"github.com/diptrack/diptrack/internal/engine"
	"github.com/diptrack/diptrack/internal/network"
	"github.com/diptrack/diptrack/internal/store"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "DIPTRACK_"

// Config is the full agent configuration.
type Config struct {
	API       API       `yaml:"api" toml:"api" envPrefix:"API_"`
	Network   Network   `yaml:"network" toml:"network" envPrefix:"NETWORK_"`
	Sync      Sync      `yaml:"sync" toml:"sync" envPrefix:"SYNC_"`
	Storage   Storage   `yaml:"storage" toml:"storage" envPrefix:"STORAGE_"`
	Status    Status    `yaml:"status" toml:"status" envPrefix:"STATUS_"`
	Telemetry Telemetry `yaml:"telemetry" toml:"telemetry" envPrefix:"TELEMETRY_"`
}

type API struct {
	BaseURL        string   `yaml:"base_url" toml:"base_url" env:"BASE_URL"`
	RequestTimeout Duration `yaml:"request_timeout" toml:"request_timeout" env:"REQUEST_TIMEOUT"`

	// MaxResponseBytes caps a response body. Larger 2xx bodies fail the request.
	MaxResponseBytes int64 `yaml:"max_response_bytes" toml:"max_response_bytes" env:"MAX_RESPONSE_BYTES"`
}

type Network struct {
	ProbeInterval   Duration `yaml:"probe_interval" toml:"probe_interval" env:"PROBE_INTERVAL"`
	ProbeTimeout    Duration `yaml:"probe_timeout" toml:"probe_timeout" env:"PROBE_TIMEOUT"`
	InitiallyOnline bool     `yaml:"initially_online" toml:"initially_online" env:"INITIALLY_ONLINE"`
}

type Sync struct {
	RetryInterval  Duration `yaml:"retry_interval" toml:"retry_interval" env:"RETRY_INTERVAL"`
	MaxAttempts    int      `yaml:"max_attempts" toml:"max_attempts" env:"MAX_ATTEMPTS"`
	BackoffInitial Duration `yaml:"backoff_initial" toml:"backoff_initial" env:"BACKOFF_INITIAL"`
	BackoffMax     Duration `yaml:"backoff_max" toml:"backoff_max" env:"BACKOFF_MAX"`
	BackoffJitter  float64  `yaml:"backoff_jitter" toml:"backoff_jitter" env:"BACKOFF_JITTER"`

	// ReplayRate caps dispatches per second during a pass. Zero means unlimited.
	ReplayRate float64 `yaml:"replay_rate" toml:"replay_rate" env:"REPLAY_RATE"`
}

type Storage struct {
	Driver   store.Driver `yaml:"driver" toml:"driver" env:"DRIVER"`
	Path     string       `yaml:"path" toml:"path" env:"PATH"`
	RedisURL string       `yaml:"redis_url" toml:"redis_url" env:"REDIS_URL"`
}

// DSN returns the connection string for the configured driver.
func (s Storage) DSN() string {
	if s.Driver == store.DriverRedis {
		return s.RedisURL
	}
	return s.Path
}

type Status struct {
	// Addr is the status server listen address. Empty disables the server.
	Addr string `yaml:"addr" toml:"addr" env:"ADDR"`
}

type Telemetry struct {
	Enabled      bool   `yaml:"enabled" toml:"enabled" env:"ENABLED"`
	OTLPEndpoint string `yaml:"otlp_endpoint" toml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		API: API{
			BaseURL:          "http://localhost:3000",
			RequestTimeout:   Duration(engine.DefaultRequestTimeout),
			MaxResponseBytes: api.DefaultMaxResponseBytes,
		},
		Network: Network{
			ProbeInterval:   Duration(network.DefaultProbeInterval),
			ProbeTimeout:    Duration(network.DefaultProbeTimeout),
			InitiallyOnline: true,
		},
		Sync: Sync{
			RetryInterval:  Duration(engine.DefaultRetryInterval),
			MaxAttempts:    engine.DefaultMaxAttempts,
			BackoffInitial: Duration(engine.DefaultBackoffInitial),
			BackoffMax:     Duration(engine.DefaultBackoffMax),
			BackoffJitter:  engine.DefaultBackoffJitter,
		},
		Storage: Storage{
			Driver: store.DriverSQLite,
			Path:   "diptrack.db",
		},
		Status: Status{
			Addr: "127.0.0.1:8787",
		},
	}
}

// Load builds a Config from defaults, the file at path (skipped when path
// is empty) and the environment.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("parse %s: %w", path, err)
		}
	case ".toml":
		dec := toml.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(cfg); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		return fmt.Errorf("unsupported config format %q (want .yaml, .yml or .toml)", ext)
	}
	return nil
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.API.BaseURL) == "" {
		errs = append(errs, errors.New("api.base_url is required"))
	}

	for _, f := range []struct {
		name string
		d    Duration
	}{
		{"api.request_timeout", c.API.RequestTimeout},
		{"network.probe_interval", c.Network.ProbeInterval},
		{"network.probe_timeout", c.Network.ProbeTimeout},
		{"sync.retry_interval", c.Sync.RetryInterval},
		{"sync.backoff_initial", c.Sync.BackoffInitial},
		{"sync.backoff_max", c.Sync.BackoffMax},
	} {
		if f.d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", f.name, f.d))
		}
	}
	if c.Sync.BackoffMax < c.Sync.BackoffInitial {
		errs = append(errs, errors.New("sync.backoff_max must not be below sync.backoff_initial"))
	}
	if c.API.MaxResponseBytes <= 0 {
		errs = append(errs, fmt.Errorf("api.max_response_bytes must be positive, got %d", c.API.MaxResponseBytes))
	}
	if c.Sync.MaxAttempts <= 0 {
		errs = append(errs, fmt.Errorf("sync.max_attempts must be positive, got %d", c.Sync.MaxAttempts))
	}
	if c.Sync.BackoffJitter < 0 || c.Sync.BackoffJitter >= 1 {
		errs = append(errs, fmt.Errorf("sync.backoff_jitter must be in [0, 1), got %g", c.Sync.BackoffJitter))
	}
	if c.Sync.ReplayRate < 0 {
		errs = append(errs, fmt.Errorf("sync.replay_rate must not be negative, got %g", c.Sync.ReplayRate))
	}

	switch c.Storage.Driver {
	case store.DriverSQLite:
		if c.Storage.Path == "" {
			errs = append(errs, errors.New("storage.path is required for sqlite"))
		}
	case store.DriverRedis:
		if c.Storage.RedisURL == "" {
			errs = append(errs, errors.New("storage.redis_url is required for redis"))
		}
	case store.DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown storage.driver %q (want sqlite, memory or redis)", c.Storage.Driver))
	}

	if c.Telemetry.Enabled && c.Telemetry.OTLPEndpoint == "" {
		errs = append(errs, errors.New("telemetry.otlp_endpoint is required when telemetry is enabled"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// Duration is a time.Duration written as "30s" in YAML, TOML and env vars.
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(v)
	return nil
}
