/*
Package coordinator keeps the persistent tasks running on one node in line
with the cluster-wide ledger.

Every ledger change is delivered as an Event carrying the previous and the
current ledger. For each entry assigned to the local node that has no
bookkeeping yet, the coordinator registers a cancellable task with the
task manager and hands it to the executor. Entries that disappear or move
elsewhere are marked CANCELLED and a cancellation request goes out through
the ActionService.

When an action finishes, its outcome is reported back to the authority as a
completion notification. A notification that fails is resent, with the same
outcome, on every later ledger change that still assigns the task here.
Local bookkeeping is released once the ledger no longer lists the
allocation and nothing is waiting on it.

Bookkeeping is keyed by persistent task id and allocation id, so a task
moved away and back is started again as a new allocation while the old
execution winds down on its own.

# Usage

	coord := coordinator.NewCoordinator(nodeID, service, reg, tasks, exec)
	coord.SetBroker(broker)
	auth.AddListener(coord)

Events must be delivered one at a time, in the order the ledger changed.
Completion and acknowledgement callbacks may arrive from any goroutine.
*/
package coordinator
