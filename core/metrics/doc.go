// Package metrics defines the sinks that record scheduler activity. A sink
// must implement MetricsSink and may implement the optional recorder
// interfaces; callers type-assert before using them. NewMetricsSink builds
// sinks from configuration and wraps several of them in a MultiSink.
package metrics
