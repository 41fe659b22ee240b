package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// NodeStatus is 1 for the current status of each node, 0 for the others
	NodeStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nodepool_node_status",
			Help: "Current connection status per node",
		},
		[]string{"group", "node", "host", "status"},
	)

	// NodeHeight tracks the last reported height per node
	NodeHeight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nodepool_node_height",
			Help: "Last chain height reported by the node",
		},
		[]string{"group", "node", "host"},
	)

	// NodePing tracks the last measured round trip per node
	NodePing = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nodepool_node_ping_seconds",
			Help: "Last probe round trip in seconds",
		},
		[]string{"group", "node", "host"},
	)

	// AllowedNodes tracks the size of the allowed projection per group
	AllowedNodes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nodepool_allowed_nodes",
			Help: "Number of nodes currently eligible for routing",
		},
		[]string{"group"},
	)

	// ProbeDuration tracks single probe latency
	ProbeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nodepool_probe_duration_seconds",
			Help:    "Probe latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"group", "result"},
	)

	// HealthChecksTotal counts probing rounds per group
	HealthChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nodepool_health_checks_total",
			Help: "Total number of health check rounds",
		},
		[]string{"group"},
	)

	// RequestsTotal counts routed requests by outcome
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nodepool_requests_total",
			Help: "Total number of routed requests",
		},
		[]string{"group", "result"},
	)

	// RequestAttempts counts per-node attempts inside routed requests
	RequestAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nodepool_request_attempts_total",
			Help: "Total number of per-node request attempts",
		},
		[]string{"group", "result"},
	)

	// StatusTransitions counts node status changes
	StatusTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nodepool_status_transitions_total",
			Help: "Total number of node status transitions",
		},
		[]string{"group", "from", "to"},
	)

	// SchedulerInterval exposes the armed health check interval
	SchedulerInterval = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nodepool_scheduler_interval_seconds",
			Help: "Current health check interval per group",
		},
		[]string{"group"},
	)
)

// DBConnectionPoolUsage tracks the share of open connections in percent
var DBConnectionPoolUsage = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "nodepool_db_connection_pool_usage",
		Help: "Database connection pool usage percentage",
	},
)
