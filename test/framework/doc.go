// Package framework provides test doubles for the worker process: a fake
// worker speaking the wire protocol over loopback TCP and writing real lock
// files, a spawner that starts fake workers instead of executables, and
// waiters and assertions built around a shared call log.
package framework
