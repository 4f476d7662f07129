/*
Package events provides an in-memory broker for persistent task lifecycle
events.

The coordinator publishes an event whenever it starts, cancels or finishes a
local task, when a ledger entry names an action this node does not know, and
when a completion notification could not be delivered. Subscribers (the
status endpoint, tests, operators tailing a node) receive them on buffered
channels.

Delivery is best effort. Publish never blocks the caller: when the broker
backlog or a subscriber buffer is full the event is dropped. Nothing in the
reconciliation protocol depends on an event being seen; the ledger and the
coordinator's own bookkeeping are the sources of truth.

Every published event is also kept in a fixed-size history, which the node
serves under /events. Subscribers may name the event types they want:

	failures := broker.Subscribe(events.EventTaskFailed, events.EventNotificationFailed)

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	for ev := range sub {
		fmt.Println(ev.Type, ev.Metadata["persistent_task_id"])
	}
*/
package events
