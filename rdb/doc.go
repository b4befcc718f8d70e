// Package rdb implements the snapshot format exchanged during full
// resynchronization.
//
// The format is a deliberately small slice of the RDB file format: string
// values, millisecond expiry opcodes, auxiliary header fields, and the
// EOF marker followed by a Redis-compatible CRC64 checksum. The magic and
// checksum let the parser reject truncated or garbled snapshots instead of
// silently loading a partial keyspace.
package rdb
