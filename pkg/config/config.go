// Package config loads runtime settings from UNDERVOLT_* environment
// variables and offset profiles from YAML files.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/caarlos0/env/v11"
)

// Config holds runtime settings. Command-line flags override these.
type Config struct {
	MSRRoot     string     `env:"UNDERVOLT_MSR_ROOT" envDefault:"/dev/cpu"`
	Register    RegisterID `env:"UNDERVOLT_MSR_REGISTER" envDefault:"0x150"`
	Cores       int        `env:"UNDERVOLT_CORES" envDefault:"0"`
	Parallelism int        `env:"UNDERVOLT_PARALLELISM" envDefault:"0"`
	Factor      float64    `env:"UNDERVOLT_FACTOR" envDefault:"1.024"`
	LogLevel    slog.Level `env:"UNDERVOLT_LOG_LEVEL" envDefault:"info"`
	RecordPath  string     `env:"UNDERVOLT_RECORD_PATH"`
	MetricsFile string     `env:"UNDERVOLT_METRICS_FILE"`
	StressCmd   string     `env:"UNDERVOLT_STRESS_CMD"`
}

// RegisterID is an MSR address; decimal, 0x hex and 0o octal are accepted.
type RegisterID uint32

func (r *RegisterID) UnmarshalText(b []byte) error {
	v, err := strconv.ParseUint(strings.TrimSpace(string(b)), 0, 32)
	if err != nil {
		return fmt.Errorf("register id: %w", err)
	}
	*r = RegisterID(v)
	return nil
}

func (r RegisterID) String() string { return fmt.Sprintf("%#x", uint32(r)) }

// Load parses the environment, applying defaults.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings no component can work with.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.MSRRoot) == "" {
		errs = append(errs, errors.New("UNDERVOLT_MSR_ROOT must not be empty"))
	}
	if c.Cores < 0 {
		errs = append(errs, errors.New("UNDERVOLT_CORES must be >= 0"))
	}
	if c.Parallelism < 0 {
		errs = append(errs, errors.New("UNDERVOLT_PARALLELISM must be >= 0"))
	}
	if c.Factor <= 0 {
		errs = append(errs, errors.New("UNDERVOLT_FACTOR must be > 0"))
	}
	return errors.Join(errs...)
}
