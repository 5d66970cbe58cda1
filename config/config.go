package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/kilianp07/clinicflow/core/engine"
	"github.com/kilianp07/clinicflow/core/metrics"
	"github.com/kilianp07/clinicflow/core/model"
	"github.com/kilianp07/clinicflow/infra/logger"
	"github.com/kilianp07/clinicflow/infra/mqtt"
)

type Config struct {
	Scheduler  model.SchedulerParams `json:"scheduler"`
	Clinic     ClinicConfig          `json:"clinic"`
	Engine     engine.Config         `json:"engine"`
	Simulation SimulationConfig      `json:"simulation"`
	History    HistoryConfig         `json:"history"`
	Logging    logger.Config         `json:"logging"`
	Metrics    metrics.Config        `json:"metrics"`
	MQTT       mqtt.Config           `json:"mqtt"`
	Sentry     SentryConfig          `json:"sentry"`
	API        APIConfig             `json:"api"`
}

// APIConfig enables the JSON status API.
type APIConfig struct {
	// Addr is the listen address, e.g. ":8080". Empty disables the API.
	Addr string `json:"addr"`
	// Token, when set, is required as a bearer token on every request.
	Token string `json:"token"`
}

// SentryConfig defines settings for Sentry error monitoring.
type SentryConfig struct {
	DSN              string  `json:"dsn"`
	Environment      string  `json:"environment"`
	TracesSampleRate float64 `json:"traces_sample_rate"`
	Release          string  `json:"release"`
}

// Load reads a YAML or JSON file, applies K_ prefixed environment overrides
// (K_CLINIC__OPEN=07:30 sets clinic.open) and validates the result.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	ext := strings.ToLower(filepath.Ext(path))
	var parser koanf.Parser
	switch ext {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, err
	}
	// Optional environment overrides
	if err := k.Load(env.Provider("K_", "__", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), "k_")
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration equivalent to an empty file.
func Default() *Config {
	var cfg Config
	cfg.SetDefaults()
	return &cfg
}

// SetDefaults fills every unset section.
func (c *Config) SetDefaults() {
	c.Scheduler = c.Scheduler.WithDefaults()
	c.Clinic.SetDefaults()
	c.Simulation.SetDefaults()
	c.History.SetDefaults()
	if c.MQTT.Enabled() {
		c.MQTT.SetDefaults()
	}
}

// Validate checks every section.
func (c Config) Validate() error {
	if err := c.Scheduler.Validate(); err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	if err := c.Clinic.Validate(); err != nil {
		return fmt.Errorf("clinic: %w", err)
	}
	if err := c.Simulation.Validate(); err != nil {
		return fmt.Errorf("simulation: %w", err)
	}
	if err := c.History.Validate(); err != nil {
		return fmt.Errorf("history: %w", err)
	}
	if c.MQTT.Enabled() {
		if err := c.MQTT.Validate(); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}
	return nil
}
