/*
Package authority owns the cluster-wide ledger of persistent tasks.

Writes are raft commands (create, reassign, remove and complete a task,
register and deregister a node) applied by FSM. Every member applies the
same commands in the same order and hands each resulting ledger change to
its listeners as a (previous, current) pair, which is the stream node
coordinators reconcile against.

Tasks created without a node are placed by SelectNode on the ready node
with the fewest tasks. A deregistered node's tasks move to the remaining
nodes the same way.

Completions carry the allocation they report on. A completion for an
allocation that has since been replaced is rejected with
ErrStaleAllocation, so a slow node cannot remove a task that now runs
elsewhere.

LocalService is the in-process delivery path for cancellations and
completion notifications used by single-node deployments.
*/
package authority
