package redisserver

import (
	"context"
	"sync"

	"github.com/raniellyferreira/redis-inmemory-server/replication"
	"github.com/raniellyferreira/redis-inmemory-server/server"
	"github.com/raniellyferreira/redis-inmemory-server/storage"
)

// Node is an in-memory Redis-compatible server. It runs either as a
// master, accepting writes and streaming them to replicas, or as a
// replica of a configured master, serving reads from the synchronized
// keyspace.
type Node struct {
	// Configuration
	config *config

	// Components
	storage *storage.MemoryStorage
	state   *replication.State
	master  *replication.Master // nil on replicas
	client  *replication.Client // nil on masters
	server  *server.Server

	// State
	mu      sync.RWMutex
	started bool
	closed  bool

	syncDone   chan struct{}
	syncedOnce sync.Once

	syncCallbacks []func()
}

// New creates a new Node with the given options
//
// The node is created but not started. Use Start() to begin serving.
//
// Example:
//
//	node, err := redisserver.New(
//		redisserver.WithListenAddr(":6380"),
//		redisserver.WithReplicaOf("localhost:6379"),
//	)
//	if err != nil {
//		log.Fatal(err)
//	}
func New(opts ...Option) (*Node, error) {
	cfg := defaultConfig()

	// Apply options
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	// Create storage
	var memOpts []storage.MemoryOption
	if cfg.shardCount > 0 {
		memOpts = append(memOpts, storage.WithShardCount(cfg.shardCount))
	}
	if cfg.cleanupConfig != nil {
		memOpts = append(memOpts, storage.WithCleanupConfig(*cfg.cleanupConfig))
	}
	stor := storage.NewMemory(memOpts...)

	// Create replication state
	var state *replication.State
	if cfg.masterAddr == "" {
		state = replication.NewMasterState()
	} else {
		state = replication.NewReplicaState(cfg.masterAddr)
	}

	logAdapter := &loggerAdapter{logger: cfg.logger}
	var metrics replication.MetricsCollector
	if cfg.metrics != nil {
		metrics = &metricsAdapter{metrics: cfg.metrics}
	}

	node := &Node{
		config:   cfg,
		storage:  stor,
		state:    state,
		syncDone: make(chan struct{}),
	}

	// Create server
	node.server = server.NewServer(cfg.listenAddr, stor, state)
	node.server.SetLogger(logAdapter)
	if cfg.password != "" {
		node.server.SetPassword(cfg.password)
	}

	// Masters get a replica registry; replicas get their client at Start,
	// once the listening port is known.
	if cfg.masterAddr == "" {
		node.master = replication.NewMaster(state, replication.SnapshotterFromRDB(stor), logAdapter, metrics)
		node.server.SetMaster(node.master)
	}

	return node, nil
}

// Start begins serving clients and, on replicas, starts replication
//
// The method returns once the server is listening. On replicas the
// initial synchronization continues in the background; use WaitForSync()
// to block until the keyspace is loaded.
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()

	if n.closed {
		n.mu.Unlock()
		return ErrClosed
	}
	if n.started {
		n.mu.Unlock()
		return nil // Already started
	}

	if err := n.server.Start(); err != nil {
		n.mu.Unlock()
		return err
	}
	n.started = true

	if n.state.Role() == replication.RoleMaster {
		n.mu.Unlock()
		// Nothing to synchronize with
		n.notifySynced()
		return nil
	}

	logAdapter := &loggerAdapter{logger: n.config.logger}
	var metrics replication.MetricsCollector
	if n.config.metrics != nil {
		metrics = &metricsAdapter{metrics: n.config.metrics}
	}

	client := replication.NewClient(
		n.config.masterAddr, n.server.Port(), n.storage, n.state, logAdapter, metrics)
	client.SetSyncTimeout(n.config.syncTimeout)
	client.SetConnectTimeout(n.config.connectTimeout)
	client.OnSyncComplete(n.notifySynced)
	n.client = client
	n.mu.Unlock()

	go func() {
		if err := client.Start(); err != nil {
			n.config.logger.Error("replication startup failed",
				Field{Key: "master", Value: n.config.masterAddr}, Field{Key: "error", Value: err})
		}
	}()

	return nil
}

func (n *Node) notifySynced() {
	n.syncedOnce.Do(func() { close(n.syncDone) })

	n.mu.RLock()
	callbacks := make([]func(), len(n.syncCallbacks))
	copy(callbacks, n.syncCallbacks)
	n.mu.RUnlock()
	for _, fn := range callbacks {
		fn()
	}
}

// WaitForSync blocks until the initial synchronization completed or the
// context is cancelled. On masters it returns immediately after Start.
func (n *Node) WaitForSync(ctx context.Context) error {
	if !n.isStarted() {
		return ErrNotStarted
	}

	select {
	case <-n.syncDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OnSyncComplete registers a callback for when initial sync completes.
// If sync already completed the callback runs immediately.
func (n *Node) OnSyncComplete(fn func()) {
	n.mu.Lock()
	n.syncCallbacks = append(n.syncCallbacks, fn)
	n.mu.Unlock()

	select {
	case <-n.syncDone:
		fn()
	default:
	}
}

// Close gracefully shuts down the node
//
// The server stops accepting clients, replication stops, and storage is
// released. The node cannot be restarted.
func (n *Node) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return nil
	}
	n.closed = true

	if n.started {
		if err := n.server.Stop(); err != nil {
			n.config.logger.Error("error stopping server", Field{Key: "error", Value: err})
		}
	}

	if n.client != nil {
		if err := n.client.Stop(); err != nil {
			n.config.logger.Error("error stopping replication", Field{Key: "error", Value: err})
		}
	}

	if n.master != nil {
		n.master.Close()
	}

	return n.storage.Close()
}

// Addr returns the address the server is listening on
func (n *Node) Addr() string {
	return n.server.Addr()
}

// Role returns the node's replication role
func (n *Node) Role() replication.Role {
	return n.state.Role()
}

// Storage returns the underlying storage for direct access
//
// Most users should use the Redis-compatible server interface instead.
func (n *Node) Storage() storage.Storage {
	return n.storage
}

// IsConnected reports whether a replica's link to its master is up.
// Masters always report true once started.
func (n *Node) IsConnected() bool {
	if n.state.Role() == replication.RoleMaster {
		return n.isStarted()
	}
	n.mu.RLock()
	client := n.client
	n.mu.RUnlock()
	return client != nil && client.Connected()
}

// ReplicaCount returns the number of replicas streaming from this master
func (n *Node) ReplicaCount() int {
	if n.master == nil {
		return 0
	}
	return n.master.ReplicaCount()
}

// GetInfo returns detailed information about the node
//
// Example:
//
//	info := node.GetInfo()
//	fmt.Printf("Key count: %v\n", info["keys"])
func (n *Node) GetInfo() map[string]interface{} {
	info := map[string]interface{}{
		"keys":    n.storage.KeyCount(),
		"role":    n.state.Role().String(),
		"version": VersionInfo(),
	}

	info["replication"] = map[string]interface{}{
		"replication_id":     n.state.ReplID(),
		"replication_offset": n.state.Offset(),
		"connected_replicas": n.ReplicaCount(),
		"connected":          n.IsConnected(),
		"master_addr":        n.state.MasterAddr(),
	}

	return info
}

// isStarted returns true if the node is started (thread-safe)
func (n *Node) isStarted() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.started && !n.closed
}
