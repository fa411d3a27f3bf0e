// Package monitoring holds the Prometheus metrics every ChainGraph
// process registers, grounded on the teacher's
// infrastructure/monitoring/metrics.go (same promauto-vec-per-concern
// shape), trimmed to the core's own concerns (HTTP ingress, commands,
// tasks, node execution, the bus, and the store) in place of the
// teacher's run/LLM/tool metrics.
package monitoring

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus metric a ChainGraph process exposes.
// Only cmd/controlplane constructs a Metrics, and only the HTTP request
// metrics are recorded (through middleware.Metrics); the command, task,
// execution, node, event, stream and store metrics are registered but no
// process populates them. All share one registry namespace.
type Metrics struct {
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	CommandsReceivedTotal *prometheus.CounterVec
	CommandsDedupedTotal  *prometheus.CounterVec

	TasksPublishedTotal *prometheus.CounterVec
	TasksClaimedTotal   *prometheus.CounterVec

	ExecutionsActive  prometheus.Gauge
	ExecutionDuration *prometheus.HistogramVec
	ExecutionsTotal   *prometheus.CounterVec

	NodesExecutedTotal *prometheus.CounterVec
	NodeDuration       *prometheus.HistogramVec
	NodeErrorsTotal    *prometheus.CounterVec

	EventsPublishedTotal *prometheus.CounterVec
	EventsConsumedTotal  *prometheus.CounterVec

	StreamConnectionsActive prometheus.Gauge
	StreamSubscriptionsActive prometheus.Gauge

	StoreQueriesTotal  *prometheus.CounterVec
	StoreQueryDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers every metric under namespace
// (defaults to "chaingraph").
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "chaingraph"
	}

	return &Metrics{
		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		CommandsReceivedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "commands_received_total",
				Help:      "Total number of commands accepted by the control plane",
			},
			[]string{"command"},
		),
		CommandsDedupedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "commands_deduped_total",
				Help:      "Total number of commands dropped as duplicates",
			},
			[]string{"command"},
		),

		TasksPublishedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tasks_published_total",
				Help:      "Total number of tasks published to the task topic",
			},
			[]string{"flow_id"},
		),
		TasksClaimedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tasks_claimed_total",
				Help:      "Total number of tasks claimed by a worker",
			},
			[]string{"worker_id"},
		),

		ExecutionsActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "executions_active",
				Help:      "Number of executions currently running on this worker",
			},
		),
		ExecutionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "execution_duration_seconds",
				Help:      "Execution duration in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.1, 2, 14),
			},
			[]string{"status"},
		),
		ExecutionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "executions_total",
				Help:      "Total number of executions reaching a terminal status",
			},
			[]string{"status"},
		),

		NodesExecutedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "nodes_executed_total",
				Help:      "Total number of node executions",
			},
			[]string{"node_type", "status"},
		),
		NodeDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "node_duration_seconds",
				Help:      "Node execution duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"node_type"},
		),
		NodeErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "node_errors_total",
				Help:      "Total number of node execution errors",
			},
			[]string{"node_type"},
		),

		EventsPublishedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_published_total",
				Help:      "Total number of events published to the event topic",
			},
			[]string{"event_type"},
		),
		EventsConsumedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_consumed_total",
				Help:      "Total number of events consumed off the event topic",
			},
			[]string{"event_type"},
		),

		StreamConnectionsActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "stream_connections_active",
				Help:      "Number of open Event Stream Service websocket connections",
			},
		),
		StreamSubscriptionsActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "stream_subscriptions_active",
				Help:      "Number of active execution subscriptions across all connections",
			},
		),

		StoreQueriesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "store_queries_total",
				Help:      "Total number of Execution Store queries",
			},
			[]string{"operation"},
		),
		StoreQueryDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "store_query_duration_seconds",
				Help:      "Execution Store query duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

// RecordHTTPRequest records one HTTP request/response cycle.
func (m *Metrics) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordCommand records an accepted or deduped command.
func (m *Metrics) RecordCommand(command string, deduped bool) {
	if deduped {
		m.CommandsDedupedTotal.WithLabelValues(command).Inc()
		return
	}
	m.CommandsReceivedTotal.WithLabelValues(command).Inc()
}

// RecordNodeExecution records one node's execution outcome.
func (m *Metrics) RecordNodeExecution(nodeType, status string, duration time.Duration) {
	m.NodesExecutedTotal.WithLabelValues(nodeType, status).Inc()
	m.NodeDuration.WithLabelValues(nodeType).Observe(duration.Seconds())
	if status != "ok" {
		m.NodeErrorsTotal.WithLabelValues(nodeType).Inc()
	}
}

// RecordExecutionStarted increments the active-executions gauge.
func (m *Metrics) RecordExecutionStarted() {
	m.ExecutionsActive.Inc()
}

// RecordExecutionFinished records a terminal execution outcome.
func (m *Metrics) RecordExecutionFinished(status string, duration time.Duration) {
	m.ExecutionsActive.Dec()
	m.ExecutionsTotal.WithLabelValues(status).Inc()
	m.ExecutionDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordStoreQuery records one Execution Store round-trip.
func (m *Metrics) RecordStoreQuery(operation string, duration time.Duration) {
	m.StoreQueriesTotal.WithLabelValues(operation).Inc()
	m.StoreQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
}
