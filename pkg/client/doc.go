/*
Package client is the Go client for the burrow node API.

A Client talks to one node. Reads are answered by that node; writes that
land on a raft follower are retried once against the leader the follower
names, so callers can point a client at any member.

Client also implements the coordinator's action service. A node's
coordinator uses a client connected to its own API: cancellations are
served by the node's task manager and completion notifications are
forwarded to the authority.

	c, err := client.NewClient("127.0.0.1:7947")
	if err != nil {
		return err
	}
	defer c.Close()

	id, err := c.CreateTask("sleep", []byte(`{"duration":"30s"}`), ledger.Flags{}, "")
*/
package client
