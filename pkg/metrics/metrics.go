package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Ledger metrics
	LedgerTasksTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "burrow_ledger_tasks_total",
			Help: "Number of persistent tasks in the current ledger",
		},
	)

	LedgerVersion = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "burrow_ledger_version",
			Help: "Version of the last applied ledger",
		},
	)

	// Coordinator metrics
	LocalTasks = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "burrow_local_tasks",
			Help: "Persistent tasks tracked by this node's coordinator, by state",
		},
		[]string{"state"},
	)

	TasksStarted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "burrow_tasks_started_total",
			Help: "Total number of persistent task executions started on this node",
		},
	)

	TasksCancelled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "burrow_tasks_cancelled_total",
			Help: "Total number of persistent tasks cancelled because they left this node",
		},
	)

	TasksCompleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_tasks_completed_total",
			Help: "Total number of finished executions by result",
		},
		[]string{"result"},
	)

	UnknownActions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "burrow_unknown_actions_total",
			Help: "Total number of assigned tasks whose action type is not registered",
		},
	)

	NotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_completion_notifications_total",
			Help: "Completion notifications sent to the authority by outcome",
		},
		[]string{"outcome"},
	)

	CancellationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_cancellation_requests_total",
			Help: "Cancellation requests sent by outcome",
		},
		[]string{"outcome"},
	)

	ReconciliationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "burrow_reconciliation_duration_seconds",
			Help:    "Time taken to reconcile one ledger change",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReconciliationCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "burrow_reconciliation_cycles_total",
			Help: "Total number of ledger changes reconciled",
		},
	)

	ActionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "burrow_action_duration_seconds",
			Help:    "Run time of persistent action executions",
			Buckets: []float64{0.1, 1, 10, 60, 300, 1800, 3600},
		},
		[]string{"action"},
	)

	// Placement metrics
	TasksPlaced = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_tasks_placed_total",
			Help: "Tasks assigned by the leader's placement recheck, by reason",
		},
		[]string{"reason"},
	)

	// Raft metrics
	RaftLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "burrow_raft_is_leader",
			Help: "Whether this node is the Raft leader (1 = leader, 0 = follower)",
		},
	)

	RaftAppliedIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "burrow_raft_applied_index",
			Help: "Last applied Raft log index",
		},
	)

	RaftLastLogIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "burrow_raft_last_log_index",
			Help: "Last Raft log index",
		},
	)

	// Node metrics
	NodesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "burrow_nodes_total",
			Help: "Registered nodes by status",
		},
		[]string{"status"},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)
)

func init() {
	prometheus.MustRegister(LedgerTasksTotal)
	prometheus.MustRegister(LedgerVersion)
	prometheus.MustRegister(LocalTasks)
	prometheus.MustRegister(TasksStarted)
	prometheus.MustRegister(TasksCancelled)
	prometheus.MustRegister(TasksCompleted)
	prometheus.MustRegister(UnknownActions)
	prometheus.MustRegister(NotificationsTotal)
	prometheus.MustRegister(CancellationsTotal)
	prometheus.MustRegister(ReconciliationDuration)
	prometheus.MustRegister(ReconciliationCyclesTotal)
	prometheus.MustRegister(ActionDuration)
	prometheus.MustRegister(TasksPlaced)
	prometheus.MustRegister(RaftLeader)
	prometheus.MustRegister(RaftAppliedIndex)
	prometheus.MustRegister(RaftLastLogIndex)
	prometheus.MustRegister(NodesTotal)
	prometheus.MustRegister(APIRequestsTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
