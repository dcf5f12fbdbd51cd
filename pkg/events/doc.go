/*
Package events is a small in-process pub/sub broker for connection lifecycle
events.

The controller publishes one event per state transition (EventStateChanged)
plus higher-level events callers usually wait for:

	client.ready         Connected, heartbeat running
	client.retrying      a reconnect attempt is scheduled
	client.disconnected  the connection was torn down
	client.exhausted     retries used up, waiting for an explicit trigger
	client.disposed      Close was called

Messages pushed by the worker without a request id arrive as
EventWorkerNotification with the raw params in Payload.

Usage:

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)
	for ev := range sub {
		fmt.Println(ev.Type, ev.State)
	}

Delivery is best effort. Publish never blocks; a full queue or a slow
subscriber loses events.
*/
package events
