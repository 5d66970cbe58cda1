package metrics

// Config defines settings for metrics sinks.
type Config struct {
	Sinks []ModuleConfig `json:"sinks"`
	// PrometheusAddr enables the /metrics endpoint when non-empty, e.g. ":9090".
	PrometheusAddr string `json:"prometheus_addr"`
}
