/*
Package node assembles a burrow cluster member.

A node owns one authority replica and one coordinator. The coordinator is
registered as a listener on the authority, so every applied ledger change
reconciles the tasks running locally. Cancellations and completion
notifications travel over the node's own gRPC API, which forwards writes to
the raft leader. In-memory nodes skip the network hop and talk to the
authority directly.

	cfg, _ := config.Load("burrow.yaml")
	n, err := node.New(cfg, version)
	if err != nil {
		return err
	}
	return n.Run(ctx)

Run blocks until ctx is cancelled, then stops the servers, the authority
and finally the running actions.
*/
package node
