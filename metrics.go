package discovery

import "context"

// MetricsRegistry is an optional sink the discovery client emits
// counters, gauges and histograms through when one is registered.
// Modeled on core.MetricsRegistry: a bare interface with no
// third-party dependency, so an otel- or statsd-backed implementation
// lives entirely outside this module and is wired in at process
// start-up via SetMetricsRegistry, avoiding a circular or mandatory
// dependency from this package onto any particular metrics backend.
type MetricsRegistry interface {
	Counter(name string, labels ...string)
	Gauge(name string, value float64, labels ...string)
	Histogram(name string, value float64, labels ...string)
	EmitWithContext(ctx context.Context, name string, value float64, labels ...string)
}

var globalMetricsRegistry MetricsRegistry

// SetMetricsRegistry registers the process-wide metrics sink. Passing
// nil disables metrics emission.
func SetMetricsRegistry(registry MetricsRegistry) {
	globalMetricsRegistry = registry
}

// GetGlobalMetricsRegistry returns the registered sink, or nil if none
// has been set. Callers must nil-check before use:
//
//	if m := GetGlobalMetricsRegistry(); m != nil {
//	    m.Counter("discovery.lookups", "service", name)
//	}
func GetGlobalMetricsRegistry() MetricsRegistry {
	return globalMetricsRegistry
}
