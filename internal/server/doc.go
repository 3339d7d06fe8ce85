// Package server implements the network edges of the relay: the UDP and TCP
// listeners that receive device audio, the viewer WebSocket gateway, and the
// HTTP API that serves monitoring endpoints on the same port as the gateway.
package server
