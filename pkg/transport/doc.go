// Package transport carries framed JSON messages between pqhost and a worker
// listening on a loopback port. TCP connections use a pluggable Framer
// (Content-Length headers by default, or newline-delimited); the WebSocket
// variant sends one text message per document.
package transport
