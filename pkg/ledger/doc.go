/*
Package ledger implements the cluster-wide record of persistent tasks.

A Ledger maps a persistent task id to its Entry: the action type, the
opaque request, policy flags and the node the task is assigned to. Ledgers
are values. Every mutation goes through a Builder (or the AddTask,
ReassignTask and RemoveTask shortcuts) and yields a new *Ledger, leaving the
old one valid, which is what lets a node diff the previous snapshot against
the current one without copying either:

	prev := current
	next, id := prev.AddTask("reindex", ledger.Request(`{"index":"logs"}`), ledger.Flags{}, "node-2")
	// prev still has no task id

Ids are handed out from a counter stored in the ledger and are never reused.
Each assignment also carries an allocation id which changes on every
ReassignTask, including a reassignment to the node that already holds the
task; nodes key their local bookkeeping on (id, allocation id) so a task
coming back to them is treated as a new assignment.

Mutating an id that is not present fails with ErrNoSuchTask.
*/
package ledger
