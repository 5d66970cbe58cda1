package config

import (
	"fmt"

	"github.com/kilianp07/clinicflow/core/prediction"
	"github.com/kilianp07/clinicflow/core/simulator"
)

// SimulationConfig controls Monte Carlo runs.
type SimulationConfig struct {
	Scenarios int `json:"scenarios"`
	// Seed makes runs reproducible. Zero selects the synthetic-history seed.
	Seed int64 `json:"seed"`
}

// SetDefaults applies sane defaults.
func (c *SimulationConfig) SetDefaults() {
	if c.Scenarios <= 0 {
		c.Scenarios = simulator.DefaultScenarios
	}
	if c.Seed == 0 {
		c.Seed = prediction.SyntheticSeed
	}
}

func (c SimulationConfig) Validate() error {
	if c.Scenarios < 1 {
		return fmt.Errorf("scenarios must be positive")
	}
	return nil
}

// History sources.
const (
	HistoryMock   = "mock"
	HistoryFile   = "file"
	HistorySQLite = "sqlite"
)

// HistoryConfig selects where predictors learn from.
type HistoryConfig struct {
	// Source is "mock", "file" (YAML or JSON) or "sqlite".
	Source string `json:"source"`
	Path   string `json:"path"`
}

// SetDefaults applies sane defaults.
func (c *HistoryConfig) SetDefaults() {
	if c.Source == "" {
		c.Source = HistoryMock
	}
}

// Validate checks mandatory fields.
func (c HistoryConfig) Validate() error {
	switch c.Source {
	case HistoryMock:
		return nil
	case HistoryFile, HistorySQLite:
		if c.Path == "" {
			return fmt.Errorf("path is required for %s history", c.Source)
		}
		return nil
	}
	return fmt.Errorf("unknown history source %s", c.Source)
}
