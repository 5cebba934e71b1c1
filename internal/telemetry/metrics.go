// Package telemetry holds the process-wide Prometheus metrics.
package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	JobsProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notesq_jobs_processed_total",
		Help: "Queue lines handled by the worker, by result status",
	}, []string{"status"})
	JobsDenied = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notesq_jobs_denied_total",
		Help: "Jobs denied by validation, by result code",
	}, []string{"code"})
	MalformedLines = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notesq_malformed_lines_total",
		Help: "Queue lines dropped because they were not JSON objects",
	})
	Cycles = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notesq_worker_cycles_total",
		Help: "Worker poll cycles, by outcome",
	}, []string{"outcome"})
	VersionConflicts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notesq_version_conflicts_total",
		Help: "Conditional writes rejected because another writer interleaved",
	}, []string{"file"})
	QueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "notesq_queue_depth",
		Help: "Job lines in the queue file at the last fetch",
	})
	SinkDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "notesq_sink_duration_seconds",
		Help:    "Time spent creating notes",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})
	Enqueued = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notesq_jobs_enqueued_total",
		Help: "Signed jobs appended to the queue by this process",
	})
	IngressRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notesq_ingress_requests_total",
		Help: "Ingress requests, by outcome",
	}, []string{"outcome"})
)

// Handler exposes /metrics with the default registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			JobsProcessed,
			JobsDenied,
			MalformedLines,
			Cycles,
			VersionConflicts,
			QueueDepth,
			SinkDuration,
			Enqueued,
			IngressRequests,
		)
	})
	return promhttp.Handler()
}
