package history

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kilianp07/clinicflow/core/model"
)

// LoadFile reads historical data from a YAML or JSON document with
// top-level "arrivals" and "consultations" lists.
func LoadFile(path string) (*model.HistoricalData, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var h model.HistoricalData
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &h)
	case ".json":
		err = json.Unmarshal(data, &h)
	default:
		return nil, fmt.Errorf("unsupported history format: %s", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return &h, nil
}
