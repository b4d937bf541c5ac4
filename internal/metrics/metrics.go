// Package metrics tracks process-wide and per-mapping synchronization
// counters and exposes them in Prometheus text format.
//
// Registry is an explicit value built once by the CLI and threaded through
// the orchestrator and the control API's /metrics handler rather than a
// package-level singleton registered against prometheus.DefaultRegisterer,
// so tests can build registries in isolation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "snowflake_to_falkordb"

// Registry holds every counter this service reports.
type Registry struct {
	reg *prometheus.Registry

	Runs        prometheus.Counter
	FailedRuns  prometheus.Counter
	RowsFetched prometheus.Counter
	RowsWritten prometheus.Counter
	RowsDeleted prometheus.Counter

	MappingRuns        *prometheus.CounterVec
	MappingFailedRuns  *prometheus.CounterVec
	MappingRowsFetched *prometheus.CounterVec
	MappingRowsWritten *prometheus.CounterVec
	MappingRowsDeleted *prometheus.CounterVec
}

// New creates a Registry backed by a fresh prometheus.Registry (not the
// global DefaultRegisterer), registering every counter under it.
func New() *Registry {
	reg := prometheus.NewRegistry()
	fac := promauto.With(reg)

	return &Registry{
		reg: reg,

		Runs: fac.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "runs", Help: "Total number of synchronization runs started.",
		}),
		FailedRuns: fac.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "failed_runs", Help: "Total number of synchronization runs that failed.",
		}),
		RowsFetched: fac.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "rows_fetched", Help: "Total number of source rows fetched.",
		}),
		RowsWritten: fac.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "rows_written", Help: "Total number of node/edge upserts written.",
		}),
		RowsDeleted: fac.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "rows_deleted", Help: "Total number of node/edge deletes written.",
		}),

		MappingRuns: fac.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "mapping_runs", Help: "Total number of times a mapping has been processed.",
		}, []string{"mapping"}),
		MappingFailedRuns: fac.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "mapping_failed_runs", Help: "Total number of times a mapping failed to process.",
		}, []string{"mapping"}),
		MappingRowsFetched: fac.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "mapping_rows_fetched", Help: "Total rows fetched, by mapping.",
		}, []string{"mapping"}),
		MappingRowsWritten: fac.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "mapping_rows_written", Help: "Total rows written, by mapping.",
		}, []string{"mapping"}),
		MappingRowsDeleted: fac.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "mapping_rows_deleted", Help: "Total rows deleted, by mapping.",
		}, []string{"mapping"}),
	}
}

// Gatherer exposes the underlying prometheus.Registry for promhttp.Handler.
func (r *Registry) Gatherer() *prometheus.Registry { return r.reg }

// AddRowsFetched increments both the global and per-mapping fetched counters.
func (r *Registry) AddRowsFetched(mapping string, n int) {
	r.RowsFetched.Add(float64(n))
	r.MappingRowsFetched.WithLabelValues(mapping).Add(float64(n))
}

// AddRowsWritten increments both the global and per-mapping written counters.
func (r *Registry) AddRowsWritten(mapping string, n int) {
	r.RowsWritten.Add(float64(n))
	r.MappingRowsWritten.WithLabelValues(mapping).Add(float64(n))
}

// AddRowsDeleted increments both the global and per-mapping deleted counters.
func (r *Registry) AddRowsDeleted(mapping string, n int) {
	r.RowsDeleted.Add(float64(n))
	r.MappingRowsDeleted.WithLabelValues(mapping).Add(float64(n))
}

// IncRun increments the per-mapping run counter. The global Runs counter is
// incremented once per sync pass, not per mapping.
func (r *Registry) IncRun(mapping string) {
	r.MappingRuns.WithLabelValues(mapping).Inc()
}

// IncFailedRun increments the per-mapping failed-run counter. The global
// FailedRuns counter is incremented once per failed sync pass by the daemon
// loop.
func (r *Registry) IncFailedRun(mapping string) {
	r.MappingFailedRuns.WithLabelValues(mapping).Inc()
}
