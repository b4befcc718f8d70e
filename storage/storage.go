package storage

import "time"

// Storage defines the keyspace operations the server executes commands
// against. Implementations must be safe for concurrent readers and writers.
type Storage interface {
	// String operations
	Get(key string) ([]byte, bool)
	Set(key string, value []byte, expiry *time.Time) error
	Del(keys ...string) int64
	Exists(keys ...string) int64

	// Expiration operations
	PTTL(key string) time.Duration

	// Key operations
	Keys(pattern string) []string
	KeyCount() int64
	Type(key string) string
	FlushAll() error

	// ForEach visits every live entry; the snapshot codec feeds off it.
	// The callback must not retain the value slice across calls.
	ForEach(fn func(key string, value []byte, expiry *time.Time) error) error

	// Shutdown
	Close() error
}
