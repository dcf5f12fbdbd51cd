/*
Package log provides structured logging for pqhost using zerolog.

A single global Logger is configured once by Init, normally from the CLI
flags or the config file's log section:

	log.Init(log.Config{
		Level:      log.ParseLevel("debug"),
		JSONOutput: false,
		Output:     os.Stderr,
	})

Console output is human readable with RFC3339 timestamps; JSON output is
meant for log shippers.

# Child Loggers

Components take a zerolog.Logger rather than using the global directly, so
tests can pass zerolog.Nop(). The defaults come from the helpers here:

	logger := log.WithComponent("supervisor")
	logger.Info().
		Str("worker_location", location).
		Int("port", port).
		Msg("Worker port verified")

WithLocation, WithSessionID and WithRequestID add the fields used to follow
one worker, one controller session or one request through the logs.

# Levels

	debug  state transitions, deferred triggers, individual requests
	info   connections, takeovers, config reloads
	warn   failed supervision rounds, lost connections, heartbeat misses
	error  giving up after the reconnect budget is spent

The CLI defaults to warn so command output stays readable; "pqhost run"
users usually want info.
*/
package log
