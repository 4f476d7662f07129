/*
Package metrics defines the Prometheus metrics a burrow node exports, along
with the health and readiness checks served next to them.

All metrics are registered with the default registry at init time and
exposed through Handler on the node's HTTP address under /metrics.

# Metrics

Ledger:

	burrow_ledger_tasks_total          persistent tasks in the current ledger
	burrow_ledger_version              version of the last applied ledger

Coordinator:

	burrow_local_tasks{state}                      tracked tasks by local state
	burrow_tasks_started_total                     executions started here
	burrow_tasks_cancelled_total                   tasks cancelled because they moved away
	burrow_tasks_completed_total{result}           finished executions, success or failure
	burrow_unknown_actions_total                   assignments naming an unregistered action
	burrow_completion_notifications_total{outcome} completion notifications sent
	burrow_cancellation_requests_total{outcome}    cancellation requests sent
	burrow_reconciliation_duration_seconds         time to process one ledger change
	burrow_reconciliation_cycles_total             ledger changes processed
	burrow_action_duration_seconds{action}         run time of each execution

Placement and cluster:

	burrow_tasks_placed_total{reason}  tasks placed by the leader's recheck
	burrow_raft_is_leader              1 on the leader, 0 elsewhere
	burrow_raft_applied_index          last applied Raft index
	burrow_raft_last_log_index         last Raft log index
	burrow_nodes_total{status}         registered nodes by status
	burrow_api_requests_total{method,status}

# Collector

Gauges that mirror authority state are refreshed by a Collector polling a
Source every interval:

	c := metrics.NewCollector(auth, 15*time.Second)
	c.Start()
	defer c.Stop()

# Timing

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ReconciliationDuration)

# Health

HealthChecker aggregates component status. Components named as critical
must be healthy for /ready to return 200; /health reports liveness only.
*/
package metrics
