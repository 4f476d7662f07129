/*
Package storage persists the authority's state in BoltDB.

BoltStore keeps three buckets in <dataDir>/burrow.db:

	ledger       the current ledger, JSON encoded under a fixed key
	nodes        registered nodes, keyed by node ID
	completions  completion history, keyed by bucket sequence

The raft log remains the source of truth. The store lets a restarted
authority serve reads before raft has replayed, and keeps a completion
history that outlives the ledger entries it describes.
*/
package storage
