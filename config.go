package valuation

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the typed configuration of the valuation core. The host
// application decides where it comes from; LoadConfig reads the YAML form.
type Config struct {
	// ReportingCurrency is the single currency every amount is normalized
	// into. Defaults to EUR.
	ReportingCurrency string `yaml:"reporting_currency"`
	// DatabasePath is the SQLite file holding runs, batches and the rate
	// cache. ":memory:" gives an ephemeral store.
	DatabasePath string   `yaml:"database_path"`
	FX           FXConfig `yaml:"fx"`
}

// FXConfig tunes the only network-bound component.
type FXConfig struct {
	BaseURL string `yaml:"base_url"`
	// Attempts bounds the retries per (date, symbols) fetch.
	Attempts int `yaml:"attempts"`
	// InitialDelay is the first backoff delay; it doubles per attempt.
	InitialDelay time.Duration `yaml:"initial_delay"`
	// Timeout applies per fetch attempt.
	Timeout time.Duration `yaml:"timeout"`
}

// UnmarshalYAML decodes durations from their human form ("250ms", "4s")
// and leaves fields absent from the document at their current value.
func (f *FXConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		BaseURL      string `yaml:"base_url"`
		Attempts     int    `yaml:"attempts"`
		InitialDelay string `yaml:"initial_delay"`
		Timeout      string `yaml:"timeout"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	if raw.BaseURL != "" {
		f.BaseURL = raw.BaseURL
	}
	if raw.Attempts != 0 {
		f.Attempts = raw.Attempts
	}
	if raw.InitialDelay != "" {
		d, err := time.ParseDuration(raw.InitialDelay)
		if err != nil {
			return fmt.Errorf("invalid fx.initial_delay: %w", err)
		}
		f.InitialDelay = d
	}
	if raw.Timeout != "" {
		d, err := time.ParseDuration(raw.Timeout)
		if err != nil {
			return fmt.Errorf("invalid fx.timeout: %w", err)
		}
		f.Timeout = d
	}
	return nil
}

// DefaultConfig returns the configuration used when the host provides none.
func DefaultConfig() Config {
	return Config{
		ReportingCurrency: "EUR",
		DatabasePath:      "valuation.db",
		FX: FXConfig{
			BaseURL:      DefaultFXBaseURL,
			Attempts:     3,
			InitialDelay: time.Second,
			Timeout:      10 * time.Second,
		},
	}
}

// LoadConfig reads a YAML configuration file, filling unset fields from
// DefaultConfig.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	content, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration for obvious mistakes.
func (c Config) Validate() error {
	if err := ValidateCurrency(c.ReportingCurrency); err != nil {
		return fmt.Errorf("invalid reporting currency: %w", err)
	}
	if c.DatabasePath == "" {
		return fmt.Errorf("database_path is required")
	}
	if c.FX.Attempts < 0 {
		return fmt.Errorf("fx.attempts must not be negative")
	}
	return nil
}
