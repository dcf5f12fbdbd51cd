/*
Package supervisor makes sure a worker process is running for a location and
discovers the loopback port it listens on.

The worker advertises itself through two lock files next to its executable:

	<location>/PQServiceHost.pid    process id
	<location>/PQServiceHost.port   listening TCP port

Neither value is trusted. EnsureWorkerRunning reads the pid and checks that the
process exists; if not, it starts <location>/PQServiceHost detached from the
calling process. It then polls the port file, and a round only succeeds when
the port parses and a connection to 127.0.0.1:<port> is accepted. After
Config.PollRounds failed rounds it returns a *SupervisionError, which matches
protocol.ErrSupervisionExhausted.
*/
package supervisor
