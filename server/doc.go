// Package server implements the Redis protocol front end.
//
// Each accepted connection is served by one goroutine that buffers inbound
// bytes and decodes them frame by frame, so pipelined commands are answered
// in order without waiting for the peer to read replies. On master nodes
// the same connection handler terminates the replica handshake: after a
// successful PSYNC the connection is handed to the replication registry
// and the handler only consumes REPLCONF ACK frames from then on.
package server
