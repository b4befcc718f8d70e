// Package protocol implements the Redis Serialization Protocol (RESP)
// for parsing and writing Redis protocol messages.
//
// Two decoding surfaces are provided. Decode works on a byte buffer and
// distinguishes incomplete frames (ErrIncomplete, a retry signal) from
// malformed ones (MalformedError, connection-fatal), which makes it suitable
// for pipelined connection handlers that accumulate reads. Reader wraps an
// io.Reader and blocks for more bytes, which suits the replica-side
// replication stream.
//
// Basic usage:
//
//	value, n, err := protocol.Decode(buf)
//	if err == protocol.ErrIncomplete {
//		// read more bytes and retry
//	}
//
// The package supports all RESP2 data types plus the RESP3 map, set and
// push aggregates. Encode is the exact inverse of Decode for every
// representable value.
package protocol
