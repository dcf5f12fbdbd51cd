/*
Package storage keeps the connection journal in a BoltDB file
(<state-dir>/pqhost.db).

Two buckets are used:

	workers       location → WorkerRecord (JSON), the last worker connected there
	transitions   big-endian sequence → Transition (JSON), capped, oldest trimmed

The journal is informational. The controller writes to it when a Store is
configured; `pqhost status` opens it read-only.
*/
package storage
