/*
Package controller keeps one connection to a Power Query worker alive.

A Controller moves through a small state machine:

	Idle -> Starting -> AwaitingPort -> Connecting -> Connected
	                                                     |
	      Retrying <----- Disconnecting <----------------+
	         |
	         +--> Exhausted (after MaxRetries automatic attempts)

Connect is the explicit trigger. It resets the attempt counter and, when a
connection is live, first sends ForceShutdown to the old worker (takeover)
before the supervisor is asked to start the new one. Triggers that arrive
while a cycle is running are remembered and applied when the cycle settles.

Once Connected, a heartbeat pings the worker every HeartbeatInterval. A
closed socket or HeartbeatFailures missed pings in a row tear the connection
down, reject every pending request with a transport error, and schedule a
reconnect after ReconnectDelay. After Exhausted nothing happens until the
next explicit trigger.

Lifecycle changes are published on an events.Broker and, when a store is
configured, journaled into bbolt.
*/
package controller
