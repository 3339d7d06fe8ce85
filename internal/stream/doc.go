// Package stream provides device session management and lifecycle handling.
// It owns one segment assembler per device session, queues completed segments,
// and expires datagram sessions that have been silent longer than the configured timeout.
package stream
