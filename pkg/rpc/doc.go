// Package rpc correlates worker requests with their responses. Each request
// gets an id of the form <session>-<counter>; Dispatch settles the waiting
// caller when a response with that id arrives, in any order.
package rpc
