/*
Package api exposes a burrow node over gRPC and HTTP.

# gRPC

The burrow.PersistentTasks service is described by ServiceDesc and carries
plain Go structs encoded as JSON (content subtype "json"), so no generated
code is involved. Clients built with NewPersistentTasksClient select the
codec automatically.

	CancelTask      cancel a task running on the serving node
	CompleteTask    report an allocation's outcome to the authority
	CreateTask      add a persistent task to the ledger
	RemoveTask      drop a persistent task
	ReassignTask    move a persistent task to another node
	ListTasks       the ledger as applied on the serving node
	ListLocalTasks  the serving node's coordinator bookkeeping
	JoinCluster     add a node to raft and to placement

Writes reach raft only on the leader. A follower refuses them with
codes.FailedPrecondition and, when it knows the leader's API address, sets
it in the LeaderTrailer trailer so clients can retry there.

Domain errors map to status codes: unknown tasks to NotFound, completions
for a replaced allocation to Aborted.

# HTTP

HealthServer serves

	GET /health      liveness, from metrics.HealthChecker
	GET /ready       readiness of the critical components
	GET /metrics     Prometheus metrics
	GET /tasks       local persistent tasks with their phase
	GET /tasks/{id}  status value of one local task, {"state":"STARTED"}
	                 or {"state":"CANCELLED"}
	GET /events      recent lifecycle events, ?limit=N keeps the newest N
*/
package api
