// Invariants are conditions that hold because our own code makes them hold, e.g. a doubly linked node
// pointing back at its predecessor. A violated invariant is a bug: it's logged, counted in the
// `invariants_total` metric and, in test builds, turned into a panic so that tests fail loudly.
// Callers still have to handle the erroneous case themselves (early return, fallback value, etc).
//
// Don't raise invariants on bad user input or I/O failures; return an error instead.

package utils

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	promclient "github.com/prometheus/client_model/go"
)

var invariantsMetric = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "invariants_total",
	Help: "The total number of invariant violations",
}, []string{
	"module", // The module in which this invariant occurred.
	"type",   // The type of the invariant that occurred.
})

// RaiseInvariant records a violated invariant of `invariantType` inside `module`.
func RaiseInvariant(module, invariantType, msg string, args ...any) {
	invariantsMetric.WithLabelValues(module, invariantType).Inc()
	slog.With("invariant", invariantType, "module", module).Error(msg, args...)
	if IsTestMode {
		panic("invariant violated: " + invariantType)
	}
}

// GetCounterValue reads the current value of a counter; used by tests to observe metrics.
func GetCounterValue(counter prometheus.Counter) int {
	metric := &promclient.Metric{}
	if err := counter.Write(metric); err != nil {
		slog.Error("Failed to read counter.", "error", err)
		return 0
	}
	return int(metric.GetCounter().GetValue())
}

// GetMetricValue returns the number of violations recorded for the given `module` and `invariantType`.
func GetMetricValue(module, invariantType string) int {
	return GetCounterValue(invariantsMetric.WithLabelValues(module, invariantType))
}
