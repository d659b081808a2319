// Package session owns host-to-host session helpers.
//
// Ownership boundary:
// - hello/hello.ack handshake control messages
// - connect/read/write timeouts and queue depth
// - retry/backoff primitives
package session
