// Package metrics provides Prometheus-backed instrumentation for the
// broker's transfer engine, session manager and message router.
//
// Every metrics struct is safe to use as a nil receiver: when metrics are
// disabled (Init is never called), callers get back a nil *TransferMetrics/
// *SessionMetrics/*RouterMetrics and every method becomes a no-op. This
// keeps call sites free of "if enabled" branches.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	mu       sync.Mutex
	registry *prometheus.Registry
)

// Init creates the process-wide registry. Safe to call more than once;
// later calls are no-ops. Passing nil to every New*Metrics constructor
// before Init has been called returns disabled (nil) metrics.
func Init() *prometheus.Registry {
	mu.Lock()
	defer mu.Unlock()
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	return registry
}

// IsEnabled reports whether Init has been called.
func IsEnabled() bool {
	mu.Lock()
	defer mu.Unlock()
	return registry != nil
}

// Registry returns the process-wide registry, or nil if Init was never
// called.
func Registry() *prometheus.Registry {
	mu.Lock()
	defer mu.Unlock()
	return registry
}
