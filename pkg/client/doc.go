/*
Package client is the typed surface over a worker connection.

Each method builds the request parameters from its arguments and ambient
state, then issues the request on a Backend (normally a
*controller.Controller):

	c := client.New(ctrl, client.Options{
		ConnectorPath: "/src/MyConnector/bin/MyConnector.mez",
		Workspace:     ws,
	})
	if err := c.EnsureReady(ctx); err != nil {
		return err
	}
	result, err := c.RunTestBattery(ctx, "MyConnector.query.pq")

Every request carries the controller's session id. Evaluation calls also
send the connector path and the workspace's first folder as working
directory; with an empty query file name the active unsaved document is
sent inline instead.

Calls never queue. While the controller is not Connected they fail at once
with *protocol.NotReadyError, which also matches
protocol.ErrSupervisionExhausted after retries gave up. EnsureReady forces
one connection cycle for callers that want to try before giving up.
*/
package client
