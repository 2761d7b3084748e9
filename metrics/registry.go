// Package metrics provides optional Prometheus metrics for block devices and
// their caches.
//
// Metrics are off until InitRegistry is called. Before that New returns nil
// and every component falls back to its no-op recorder:
//
//	metrics.InitRegistry()
//	reg := fs.NewRegistry(fs.Options{Metrics: metrics.New()})
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registry     *prometheus.Registry
	registryOnce sync.Once
)

// InitRegistry creates the global registry. Calls after the first are
// ignored.
func InitRegistry() {
	registryOnce.Do(func() {
		registry = prometheus.NewRegistry()
	})
}

// GetRegistry returns the global registry, or nil while metrics are
// disabled.
func GetRegistry() *prometheus.Registry {
	return registry
}

func IsEnabled() bool {
	return GetRegistry() != nil
}
