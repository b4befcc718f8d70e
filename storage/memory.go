package storage

import (
	randv2 "math/rand"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

// shard represents a single shard of the keyspace with its own lock
type shard struct {
	mu   sync.RWMutex
	data map[string]*Entry
}

// MemoryStorage implements an in-memory sharded keyspace. Keys are routed to
// shards by xxhash so independent connections rarely contend on the same lock.
type MemoryStorage struct {
	shards    []shard
	shardMask uint64

	// Background cleanup
	cleanupStop chan struct{}
	cleanupDone chan struct{}
	closeOnce   sync.Once

	cleanupConfig CleanupConfig

	rngMu sync.Mutex
	rng   *randv2.Rand
}

// CleanupConfig holds configuration for the incremental expired-key sweep.
// The sweep is an optimization for memory reclamation promptness only;
// reads never observe an expired entry regardless of its settings.
type CleanupConfig struct {
	// Interval between cleanup cycles
	Interval time.Duration
	// SampleSize is the number of keys to sample per round
	SampleSize int
	// MaxRounds is the maximum number of rounds per cleanup cycle
	MaxRounds int
	// ExpiredThreshold continues cleanup if this fraction of sampled keys are expired
	ExpiredThreshold float64
}

// CleanupConfigDefault mirrors the native Redis active-expiry pacing.
var CleanupConfigDefault = CleanupConfig{
	Interval:         100 * time.Millisecond,
	SampleSize:       20,
	MaxRounds:        4,
	ExpiredThreshold: 0.25,
}

// MemoryOption is a function that configures a MemoryStorage instance
type MemoryOption func(*MemoryStorage)

// WithShardCount sets the number of shards for the storage.
// The number is rounded up to the next power of 2.
func WithShardCount(count int) MemoryOption {
	return func(s *MemoryStorage) {
		if count > 0 {
			n := nextPowerOf2(count)
			s.shards = make([]shard, n)
			s.shardMask = uint64(n - 1)
		}
	}
}

// WithCleanupConfig overrides the background sweep configuration.
func WithCleanupConfig(cfg CleanupConfig) MemoryOption {
	return func(s *MemoryStorage) {
		if cfg.Interval > 0 && cfg.SampleSize > 0 && cfg.MaxRounds > 0 {
			s.cleanupConfig = cfg
		}
	}
}

// NewMemory creates a new in-memory storage instance with 64 shards by default
func NewMemory(opts ...MemoryOption) *MemoryStorage {
	s := &MemoryStorage{
		shards:        make([]shard, 64),
		shardMask:     63,
		cleanupStop:   make(chan struct{}),
		cleanupDone:   make(chan struct{}),
		cleanupConfig: CleanupConfigDefault,
		rng:           randv2.New(randv2.NewSource(time.Now().UnixNano())),
	}

	for _, opt := range opts {
		opt(s)
	}

	for i := range s.shards {
		s.shards[i].data = make(map[string]*Entry)
	}

	go s.cleanupExpiredKeys()

	return s
}

// nextPowerOf2 returns the next power of 2 >= n
func nextPowerOf2(n int) int {
	if n <= 1 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	return n + 1
}

// shardFor computes the shard a key lives in
func (s *MemoryStorage) shardFor(key string) *shard {
	return &s.shards[xxhash.Sum64String(key)&s.shardMask]
}

// Get retrieves a value by key. An entry whose expiry has passed is treated
// as absent and evicted as a side effect of the read.
func (s *MemoryStorage) Get(key string) ([]byte, bool) {
	sh := s.shardFor(key)

	sh.mu.RLock()
	entry, exists := sh.data[key]
	if !exists {
		sh.mu.RUnlock()
		return nil, false
	}

	if entry.IsExpiredAt(time.Now()) {
		sh.mu.RUnlock()
		s.deleteIfExpired(sh, key)
		return nil, false
	}

	result := make([]byte, len(entry.Value))
	copy(result, entry.Value)
	sh.mu.RUnlock()

	return result, true
}

// deleteIfExpired re-checks under the write lock before removing, since the
// entry may have been overwritten between lock transitions.
func (s *MemoryStorage) deleteIfExpired(sh *shard, key string) {
	sh.mu.Lock()
	if entry, exists := sh.data[key]; exists && entry.IsExpiredAt(time.Now()) {
		delete(sh.data, key)
	}
	sh.mu.Unlock()
}

// Set stores a value with an optional absolute expiry. A nil expiry clears
// any expiry a previous entry carried.
func (s *MemoryStorage) Set(key string, value []byte, expiry *time.Time) error {
	entry := &Entry{
		Value: append([]byte(nil), value...),
	}
	if expiry != nil {
		t := *expiry
		entry.Expiry = &t
	}

	sh := s.shardFor(key)
	sh.mu.Lock()
	sh.data[key] = entry
	sh.mu.Unlock()

	return nil
}

// Del deletes one or more keys and returns the number removed
func (s *MemoryStorage) Del(keys ...string) int64 {
	deleted := int64(0)
	for _, key := range keys {
		sh := s.shardFor(key)
		sh.mu.Lock()
		if entry, exists := sh.data[key]; exists {
			live := !entry.IsExpiredAt(time.Now())
			delete(sh.data, key)
			if live {
				deleted++
			}
		}
		sh.mu.Unlock()
	}
	return deleted
}

// Exists returns how many of the given keys exist, counting duplicates
func (s *MemoryStorage) Exists(keys ...string) int64 {
	count := int64(0)
	now := time.Now()
	for _, key := range keys {
		sh := s.shardFor(key)
		sh.mu.RLock()
		entry, exists := sh.data[key]
		if exists && !entry.IsExpiredAt(now) {
			count++
		}
		sh.mu.RUnlock()
	}
	return count
}

// PTTL returns the remaining lifetime of a key, TTLPersistent for keys
// without expiry and TTLMissing for absent or expired keys.
func (s *MemoryStorage) PTTL(key string) time.Duration {
	sh := s.shardFor(key)
	now := time.Now()

	sh.mu.RLock()
	entry, exists := sh.data[key]
	if !exists || entry.IsExpiredAt(now) {
		sh.mu.RUnlock()
		return TTLMissing
	}
	if entry.Expiry == nil {
		sh.mu.RUnlock()
		return TTLPersistent
	}
	remaining := entry.Expiry.Sub(now)
	sh.mu.RUnlock()

	return remaining
}

// Keys returns all live keys matching the glob pattern
func (s *MemoryStorage) Keys(pattern string) []string {
	var result []string
	now := time.Now()

	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.RLock()
		for key, entry := range sh.data {
			if entry.IsExpiredAt(now) {
				continue
			}
			if MatchPattern(key, pattern) {
				result = append(result, key)
			}
		}
		sh.mu.RUnlock()
	}

	return result
}

// KeyCount returns the number of live keys
func (s *MemoryStorage) KeyCount() int64 {
	count := int64(0)
	now := time.Now()

	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.RLock()
		for _, entry := range sh.data {
			if !entry.IsExpiredAt(now) {
				count++
			}
		}
		sh.mu.RUnlock()
	}

	return count
}

// Type returns the Redis type name of a key: "string" or "none".
// Only byte-string values are stored.
func (s *MemoryStorage) Type(key string) string {
	if _, exists := s.Get(key); exists {
		return "string"
	}
	return "none"
}

// FlushAll removes every key. Used by full resynchronization, which replaces
// the keyspace wholesale rather than merging.
func (s *MemoryStorage) FlushAll() error {
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		sh.data = make(map[string]*Entry)
		sh.mu.Unlock()
	}
	return nil
}

// ForEach visits every live entry shard by shard
func (s *MemoryStorage) ForEach(fn func(key string, value []byte, expiry *time.Time) error) error {
	now := time.Now()

	for i := range s.shards {
		sh := &s.shards[i]

		// Copy entries out so the callback runs without holding the lock.
		sh.mu.RLock()
		type kv struct {
			key   string
			entry *Entry
		}
		entries := make([]kv, 0, len(sh.data))
		for key, entry := range sh.data {
			if !entry.IsExpiredAt(now) {
				entries = append(entries, kv{key, entry})
			}
		}
		sh.mu.RUnlock()

		for _, e := range entries {
			if err := fn(e.key, e.entry.Value, e.entry.Expiry); err != nil {
				return err
			}
		}
	}

	return nil
}

// Close stops the background cleanup goroutine
func (s *MemoryStorage) Close() error {
	s.closeOnce.Do(func() {
		close(s.cleanupStop)
		<-s.cleanupDone
	})
	return nil
}

// cleanupExpiredKeys runs the Redis-style sampling sweep: pick a random
// shard, sample keys, delete the expired ones, and keep going while a large
// fraction of the sample was expired.
func (s *MemoryStorage) cleanupExpiredKeys() {
	defer close(s.cleanupDone)

	ticker := time.NewTicker(s.cleanupConfig.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.cleanupStop:
			return
		case <-ticker.C:
			s.runCleanupCycle()
		}
	}
}

func (s *MemoryStorage) runCleanupCycle() {
	for round := 0; round < s.cleanupConfig.MaxRounds; round++ {
		sampled, expired := s.sweepShard(s.pickShard())
		if sampled == 0 {
			return
		}
		if float64(expired)/float64(sampled) < s.cleanupConfig.ExpiredThreshold {
			return
		}
	}
}

func (s *MemoryStorage) pickShard() *shard {
	s.rngMu.Lock()
	idx := s.rng.Intn(len(s.shards))
	s.rngMu.Unlock()
	return &s.shards[idx]
}

// sweepShard samples up to SampleSize keys from one shard and deletes the
// expired ones, returning how many were sampled and how many were expired.
func (s *MemoryStorage) sweepShard(sh *shard) (sampled, expired int) {
	now := time.Now()

	sh.mu.Lock()
	for key, entry := range sh.data {
		if sampled >= s.cleanupConfig.SampleSize {
			break
		}
		sampled++
		if entry.IsExpiredAt(now) {
			delete(sh.data, key)
			expired++
		}
	}
	sh.mu.Unlock()

	return sampled, expired
}
