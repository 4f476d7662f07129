/*
Package reconciler rechecks persistent task placement on the raft leader.

The authority places a task when it is created and when its node
deregisters. Tasks can still end up without a usable node: they are created
while no node is ready, or their node is marked down or draining, or it left
the cluster while the task was pinned to it. The reconciler periodically
walks the ledger and reassigns each such task to the least loaded ready
node, one reassignment at a time so every choice sees the ones before it.

Followers skip the pass. Trigger forces an immediate recheck, for example
after a node registers.
*/
package reconciler
