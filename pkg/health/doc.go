/*
Package health provides the probes used to decide whether a local worker
process is usable.

Three checkers share the Checker interface:

	┌──────────────────────────────────────────────────────────┐
	│                     Checker Interface                    │
	│  • Check(ctx) Result                                     │
	│  • Type() CheckType                                      │
	└────────┬─────────────────────────────────────────────────┘
	         │
	    ┌────┴──────┬──────────────┐
	    ▼           ▼              ▼
	┌─────────┐ ┌──────────┐ ┌──────────┐
	│ Process │ │   Port   │ │   Ping   │
	│ Checker │ │ Checker  │ │ Checker  │
	└─────────┘ └──────────┘ └──────────┘
	     │           │             │
	     ▼           ▼             ▼
	  signal 0   connect to    request round
	  on pid     127.0.0.1:p   trip (heartbeat)

The supervisor uses ProcessChecker and PortChecker against the values read
from the worker's lock files; both values may be stale, so neither is trusted
until probed. The controller wraps its Ping request in a PingChecker and feeds
each result to a Tracker, which trips once Policy.Threshold consecutive checks
fail. DefaultPolicy holds the controller's heartbeat defaults.

# Known limitations

ProcessChecker only proves that some process owns the pid. A pid recycled by
an unrelated program is reported as alive; the subsequent port probe is what
eventually rejects such a worker.

An exited child that was never waited for also answers signal 0, so the
supervisor's spawner reaps every worker it starts.
*/
package health
