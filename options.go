package redisserver

import (
	"time"

	"github.com/raniellyferreira/redis-inmemory-server/storage"
)

// config holds the configuration for a Node
type config struct {
	// Server settings
	listenAddr string
	password   string

	// Replication settings: empty masterAddr means this node is a master
	masterAddr string

	// Storage settings
	shardCount    int
	cleanupConfig *storage.CleanupConfig

	// Timeouts
	syncTimeout    time.Duration
	connectTimeout time.Duration

	// Observability
	logger  Logger
	metrics MetricsCollector
}

// defaultConfig returns a configuration with sensible defaults
func defaultConfig() *config {
	return &config{
		listenAddr:     ":6379",
		syncTimeout:    30 * time.Second,
		connectTimeout: 5 * time.Second,
		logger:         &defaultLogger{},
	}
}

// Option represents a configuration option for a Node
type Option func(*config) error

// WithListenAddr sets the address the server listens on
//
// Example:
//
//	WithListenAddr(":6380")
//	WithListenAddr("0.0.0.0:6379")
func WithListenAddr(addr string) Option {
	return func(c *config) error {
		if addr == "" {
			return ErrInvalidConfig
		}
		c.listenAddr = addr
		return nil
	}
}

// WithReplicaOf makes the node a replica of the given master address.
// Without this option the node runs as a master.
//
// Example:
//
//	WithReplicaOf("localhost:6379")
func WithReplicaOf(masterAddr string) Option {
	return func(c *config) error {
		if masterAddr == "" {
			return ErrInvalidConfig
		}
		c.masterAddr = masterAddr
		return nil
	}
}

// WithPassword sets the authentication password for client connections
//
// Example:
//
//	WithPassword("secret")
func WithPassword(password string) Option {
	return func(c *config) error {
		c.password = password
		return nil
	}
}

// WithShardCount sets the number of storage shards (rounded up to a power
// of two)
//
// Example:
//
//	WithShardCount(128)
func WithShardCount(count int) Option {
	return func(c *config) error {
		if count <= 0 {
			return ErrInvalidConfig
		}
		c.shardCount = count
		return nil
	}
}

// WithCleanupConfig tunes the background expired-key cleanup
//
// Example:
//
//	WithCleanupConfig(storage.CleanupConfig{Interval: time.Second, SampleSize: 20})
func WithCleanupConfig(cfg storage.CleanupConfig) Option {
	return func(c *config) error {
		c.cleanupConfig = &cfg
		return nil
	}
}

// WithSyncTimeout sets the initial synchronization timeout for replicas
//
// Example:
//
//	WithSyncTimeout(60 * time.Second)
func WithSyncTimeout(timeout time.Duration) Option {
	return func(c *config) error {
		if timeout <= 0 {
			return ErrInvalidConfig
		}
		c.syncTimeout = timeout
		return nil
	}
}

// WithConnectTimeout sets the connection timeout for the master connection
//
// Example:
//
//	WithConnectTimeout(10 * time.Second)
func WithConnectTimeout(timeout time.Duration) Option {
	return func(c *config) error {
		if timeout <= 0 {
			return ErrInvalidConfig
		}
		c.connectTimeout = timeout
		return nil
	}
}

// WithLogger sets a custom logger for the node
//
// Example:
//
//	WithLogger(myCustomLogger)
func WithLogger(logger Logger) Option {
	return func(c *config) error {
		if logger == nil {
			return ErrInvalidConfig
		}
		c.logger = logger
		return nil
	}
}

// WithMetrics enables metrics collection with the provided collector
//
// Example:
//
//	WithMetrics(myMetricsCollector)
func WithMetrics(collector MetricsCollector) Option {
	return func(c *config) error {
		c.metrics = collector
		return nil
	}
}
