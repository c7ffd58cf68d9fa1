// Package metrics provides Prometheus instrumentation for the message hub.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics (admin surface).
var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "msghub_http_requests_total",
		Help: "Total number of HTTP requests.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "msghub_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})
)

// Store metrics.
var (
	Messages = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "msghub_messages",
		Help: "Number of messages currently held in the store.",
	})

	OperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "msghub_operations_total",
		Help: "Total number of store operations by outcome.",
	}, []string{"op", "outcome"})

	DispatchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "msghub_dispatch_total",
		Help: "Total number of lifecycle events dispatched to notifiers.",
	}, []string{"event"})
)

// Plugin metrics.
var (
	PluginFaultsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "msghub_plugin_faults_total",
		Help: "Total number of exceptions caught at the plugin boundary.",
	}, []string{"host", "plugin"})
)

// Persistence metrics.
var (
	DocumentWritesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "msghub_document_writes_total",
		Help: "Total number of physical document writes by replace mode.",
	}, []string{"mode"})

	ArchiveFlushesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "msghub_archive_flushes_total",
		Help: "Total number of archive batch flushes.",
	})

	ArchivePendingEvents = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "msghub_archive_pending_events",
		Help: "Number of archive events buffered and not yet flushed.",
	})
)
