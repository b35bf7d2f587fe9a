// Package metrics holds the Prometheus side of DittoFTP: the shared registry,
// the collector interfaces listeners and backends report to, and the
// operator HTTP endpoint.
//
// Collection is opt-in. Until InitRegistry runs, constructors hand back nil
// or no-op collectors and nothing is recorded.
package metrics

import (
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	registry     atomic.Pointer[prometheus.Registry]
	registryOnce sync.Once
)

// InitRegistry creates the process-wide registry with the Go runtime and
// process collectors attached. Later calls are no-ops.
func InitRegistry() {
	registryOnce.Do(func() {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		registry.Store(reg)
	})
}

// GetRegistry returns nil while metrics are disabled.
func GetRegistry() *prometheus.Registry {
	return registry.Load()
}

// IsEnabled reports whether InitRegistry has run.
func IsEnabled() bool {
	return registry.Load() != nil
}
