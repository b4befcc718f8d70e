package storage

import "time"

// Entry is a stored value with its optional absolute expiry.
type Entry struct {
	Value  []byte
	Expiry *time.Time
}

// IsExpiredAt reports whether the entry is expired at the given instant.
// Expiry is inclusive: an entry whose expiry equals now is already expired.
func (e *Entry) IsExpiredAt(now time.Time) bool {
	return e.Expiry != nil && !now.Before(*e.Expiry)
}

// TTL sentinels, matching the Redis convention for TTL/PTTL replies.
const (
	// TTLPersistent is returned for keys that exist without an expiry.
	TTLPersistent = time.Duration(-1)
	// TTLMissing is returned for keys that do not exist (or have expired).
	TTLMissing = time.Duration(-2)
)
