package metrics

import (
	"fmt"
	"sync"

	"github.com/mitchellh/mapstructure"
)

// ModuleConfig contains the type name and raw configuration for a sink.
type ModuleConfig struct {
	Type string         `json:"type"`
	Conf map[string]any `json:"conf"`
}

// Factory constructs a sink from its raw configuration.
type Factory func(map[string]any) (MetricsSink, error)

type registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

var sinkRegistry = &registry{factories: make(map[string]Factory)}

// RegisterMetricsSink adds a sink factory identified by name.
func RegisterMetricsSink(name string, f Factory) error {
	if f == nil {
		return fmt.Errorf("factory nil for %s", name)
	}
	sinkRegistry.mu.Lock()
	defer sinkRegistry.mu.Unlock()
	if _, ok := sinkRegistry.factories[name]; ok {
		return fmt.Errorf("factory already registered for %s", name)
	}
	sinkRegistry.factories[name] = f
	return nil
}

func create(cfg ModuleConfig) (MetricsSink, error) {
	sinkRegistry.mu.RLock()
	f, ok := sinkRegistry.factories[cfg.Type]
	sinkRegistry.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown metrics sink type %s", cfg.Type)
	}
	return f(cfg.Conf)
}

// NewMetricsSink creates a MetricsSink from the provided configuration.
func NewMetricsSink(cfgs []ModuleConfig) (MetricsSink, error) {
	if len(cfgs) == 0 {
		return NopSink{}, nil
	}
	if len(cfgs) == 1 {
		return create(cfgs[0])
	}
	sinks := make([]MetricsSink, len(cfgs))
	for i, c := range cfgs {
		s, err := create(c)
		if err != nil {
			return nil, fmt.Errorf("sink %d (%s): %w", i, c.Type, err)
		}
		sinks[i] = s
	}
	return NewMultiSink(sinks...), nil
}

// Decode fills out the provided struct using json tags.
func Decode(data map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	return dec.Decode(data)
}
