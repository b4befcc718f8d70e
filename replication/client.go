package replication

import (
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/raniellyferreira/redis-inmemory-server/protocol"
	"github.com/raniellyferreira/redis-inmemory-server/rdb"
	"github.com/raniellyferreira/redis-inmemory-server/storage"
)

// HandshakeError reports which step of the replication handshake failed.
// The handshake is strictly ordered, so the step name alone usually tells
// the operator what the master rejected.
type HandshakeError struct {
	Step string
	Err  error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("replication handshake failed at %s: %v", e.Step, e.Err)
}

func (e *HandshakeError) Unwrap() error {
	return e.Err
}

// Client connects to a master, performs the PSYNC handshake and applies
// the replicated command stream to local storage. It reconnects with
// backoff when the link drops; each reconnect restarts from a full resync.
type Client struct {
	masterAddr    string
	listeningPort string
	storage       storage.Storage
	state         *State
	logger        Logger
	metrics       MetricsCollector

	connectTimeout time.Duration
	syncTimeout    time.Duration
	writeTimeout   time.Duration

	mu        sync.RWMutex
	conn      net.Conn
	reader    *protocol.Reader
	writer    *protocol.Writer
	connected bool

	synced         chan struct{}
	syncedOnce     sync.Once
	onSyncComplete []func()

	stopChan chan struct{}
	doneChan chan struct{}
	stopped  int32
	runEnded int32
}

// NewClient creates a replication client for the given master. The
// listening port is announced during the handshake so the master can
// report it in INFO; it is the port this server accepts clients on, not
// the outgoing connection's port.
func NewClient(masterAddr, listeningPort string, stor storage.Storage, state *State, logger Logger, metrics MetricsCollector) *Client {
	if logger == nil {
		logger = noopLogger{}
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Client{
		masterAddr:     masterAddr,
		listeningPort:  listeningPort,
		storage:        stor,
		state:          state,
		logger:         logger,
		metrics:        metrics,
		connectTimeout: 5 * time.Second,
		syncTimeout:    30 * time.Second,
		writeTimeout:   10 * time.Second,
		synced:         make(chan struct{}),
		stopChan:       make(chan struct{}),
		doneChan:       make(chan struct{}),
	}
}

// SetConnectTimeout sets the connection timeout
func (c *Client) SetConnectTimeout(timeout time.Duration) {
	c.connectTimeout = timeout
}

// SetSyncTimeout sets the initial synchronization timeout
func (c *Client) SetSyncTimeout(timeout time.Duration) {
	c.syncTimeout = timeout
}

// OnSyncComplete registers a callback invoked after each full resync
func (c *Client) OnSyncComplete(fn func()) {
	c.mu.Lock()
	c.onSyncComplete = append(c.onSyncComplete, fn)
	c.mu.Unlock()
}

// Start begins replication in the background and waits for the initial
// synchronization to complete, the timeout to expire, or Stop.
func (c *Client) Start() error {
	c.logger.Info("starting replication client", "master", c.masterAddr)

	go c.run()

	select {
	case <-c.synced:
		return nil
	case <-time.After(c.syncTimeout):
		return fmt.Errorf("initial sync timeout after %v", c.syncTimeout)
	case <-c.doneChan:
		return fmt.Errorf("replication stopped before initial sync")
	}
}

// Stop stops replication and waits for the run loop to exit
func (c *Client) Stop() error {
	if !atomic.CompareAndSwapInt32(&c.stopped, 0, 1) {
		return nil
	}

	c.logger.Info("stopping replication client")
	close(c.stopChan)
	c.disconnect()

	select {
	case <-c.doneChan:
		return nil
	case <-time.After(5 * time.Second):
		return fmt.Errorf("stop timeout")
	}
}

// Connected reports whether the replication link is up
func (c *Client) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// run is the main replication loop: connect, handshake, full sync,
// stream, and start over on any failure.
func (c *Client) run() {
	defer func() {
		if atomic.CompareAndSwapInt32(&c.runEnded, 0, 1) {
			close(c.doneChan)
		}
	}()

	backoff := time.Second
	for {
		select {
		case <-c.stopChan:
			c.disconnect()
			return
		default:
		}

		if err := c.connect(); err != nil {
			c.logger.Error("connection failed", "master", c.masterAddr, "error", err)
			c.metrics.RecordError("connection")
			select {
			case <-time.After(backoff):
			case <-c.stopChan:
				return
			}
			continue
		}

		if err := c.handshake(); err != nil {
			c.logger.Error("handshake failed", "error", err)
			c.metrics.RecordError("handshake")
			c.disconnect()
			// A reachable endpoint that rejects the handshake would
			// otherwise be redialed in a hot loop.
			select {
			case <-time.After(backoff):
			case <-c.stopChan:
				return
			}
			continue
		}

		if err := c.fullSync(); err != nil {
			c.logger.Error("full sync failed", "error", err)
			c.metrics.RecordError("sync")
			c.disconnect()
			select {
			case <-time.After(backoff):
			case <-c.stopChan:
				return
			}
			continue
		}

		c.notifySynced()

		if err := c.streamCommands(); err != nil {
			select {
			case <-c.stopChan:
				return
			default:
			}
			c.logger.Error("streaming failed", "error", err)
			c.metrics.RecordError("streaming")
			c.disconnect()
		}
	}
}

// connect establishes the connection to the master
func (c *Client) connect() error {
	c.logger.Debug("connecting to master", "addr", c.masterAddr)

	dialer := &net.Dialer{Timeout: c.connectTimeout}
	conn, err := dialer.Dial("tcp", c.masterAddr)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.reader = protocol.NewReader(conn)
	c.writer = protocol.NewWriter(conn)
	c.connected = true
	c.mu.Unlock()

	c.metrics.RecordReconnection()
	return nil
}

// disconnect closes the connection
func (c *Client) disconnect() {
	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connected = false
	c.mu.Unlock()
}

func (c *Client) notifySynced() {
	c.syncedOnce.Do(func() { close(c.synced) })

	c.mu.RLock()
	callbacks := make([]func(), len(c.onSyncComplete))
	copy(callbacks, c.onSyncComplete)
	c.mu.RUnlock()
	for _, fn := range callbacks {
		fn()
	}
}

// exchange sends one command and reads the single reply
func (c *Client) exchange(name string, args ...string) (protocol.Value, error) {
	if err := c.writer.WriteCommand(name, args...); err != nil {
		return protocol.Value{}, err
	}
	if err := c.writer.Flush(); err != nil {
		return protocol.Value{}, err
	}
	reply, err := c.reader.ReadNext()
	if err != nil {
		if err == io.EOF {
			return protocol.Value{}, fmt.Errorf("connection closed by master")
		}
		return protocol.Value{}, err
	}
	if reply.IsError() {
		return protocol.Value{}, fmt.Errorf("master replied: %s", reply.Error())
	}
	return reply, nil
}

// handshake runs the four-step PSYNC handshake. Each step must complete
// before the next is sent; any error aborts the connection.
func (c *Client) handshake() error {
	if _, err := c.exchange("PING"); err != nil {
		return &HandshakeError{Step: "PING", Err: err}
	}

	if _, err := c.exchange("REPLCONF", "listening-port", c.listeningPort); err != nil {
		return &HandshakeError{Step: "REPLCONF listening-port", Err: err}
	}

	if _, err := c.exchange("REPLCONF", "capa", "psync2"); err != nil {
		return &HandshakeError{Step: "REPLCONF capa", Err: err}
	}

	reply, err := c.exchange("PSYNC", "?", "-1")
	if err != nil {
		return &HandshakeError{Step: "PSYNC", Err: err}
	}

	// Expected: +FULLRESYNC <replid> <offset>
	parts := strings.Fields(reply.String())
	if len(parts) != 3 || parts[0] != "FULLRESYNC" {
		return &HandshakeError{Step: "PSYNC", Err: fmt.Errorf("unexpected reply %q", reply.String())}
	}
	offset, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return &HandshakeError{Step: "PSYNC", Err: fmt.Errorf("invalid offset %q", parts[2])}
	}

	c.state.SetReplID(parts[1])
	c.state.offset.Store(offset)

	c.logger.Info("full resync accepted", "replid", parts[1], "offset", offset)
	return nil
}

// snapshotLoader buffers parsed entries and commits them only once the
// snapshot verified end to end, so a corrupt or truncated snapshot never
// destroys the data already held locally.
type snapshotLoader struct {
	storage storage.Storage
	logger  Logger
	now     time.Time

	keys     []string
	values   [][]byte
	expiries []*time.Time
}

func (l *snapshotLoader) OnAux(key, value []byte) error {
	l.logger.Debug("snapshot aux field", "key", string(key), "value", string(value))
	return nil
}

func (l *snapshotLoader) OnKey(key, value []byte, expiry *time.Time) error {
	// Entries already dead at load time are skipped rather than stored
	if expiry != nil && !l.now.Before(*expiry) {
		return nil
	}
	l.keys = append(l.keys, string(key))
	l.values = append(l.values, value)
	l.expiries = append(l.expiries, expiry)
	return nil
}

func (l *snapshotLoader) OnEnd() error {
	if err := l.storage.FlushAll(); err != nil {
		return err
	}
	for i, key := range l.keys {
		if err := l.storage.Set(key, l.values[i], l.expiries[i]); err != nil {
			return err
		}
	}
	return nil
}

// fullSync reads the snapshot payload the master sends after FULLRESYNC
// and replaces the local keyspace with its contents.
func (c *Client) fullSync() error {
	start := time.Now()
	c.logger.Debug("reading snapshot stream")

	var buf []byte
	err := c.reader.ReadSnapshot(func(chunk []byte) error {
		buf = append(buf, chunk...)
		return nil
	})
	if err != nil {
		return fmt.Errorf("reading snapshot: %w", err)
	}
	c.metrics.RecordNetworkBytes(int64(len(buf)))

	loader := &snapshotLoader{
		storage: c.storage,
		logger:  c.logger,
		now:     time.Now(),
	}
	if err := rdb.Parse(buf, loader); err != nil {
		return fmt.Errorf("parsing snapshot: %w", err)
	}

	c.metrics.RecordSyncDuration(time.Since(start))
	c.logger.Info("full sync completed",
		"bytes", len(buf), "keys", len(loader.keys), "duration", time.Since(start))
	return nil
}

// streamCommands applies the replicated command stream. The replication
// offset advances by the encoded length of every frame read, including
// PING and REPLCONF GETACK, and the stream never produces replies except
// REPLCONF ACK.
func (c *Client) streamCommands() error {
	c.logger.Debug("streaming commands from master")

	for {
		select {
		case <-c.stopChan:
			return nil
		default:
		}

		value, err := c.reader.ReadNext()
		if err != nil {
			if err == io.EOF {
				return fmt.Errorf("connection closed by master")
			}
			return fmt.Errorf("reading stream: %w", err)
		}

		frameLen := protocol.EncodedLen(value)

		cmd, err := protocol.ParseCommand(value)
		if err != nil {
			return fmt.Errorf("malformed stream frame: %w", err)
		}

		// The frame is counted before the command executes so a GETACK
		// reply reports an offset that includes the GETACK itself.
		offset := c.state.Advance(frameLen)
		c.metrics.RecordNetworkBytes(frameLen)

		if err := c.applyCommand(cmd, offset); err != nil {
			c.logger.Error("applying replicated command failed", "command", cmd.Name, "error", err)
		}
	}
}

// applyCommand executes one replicated command against local storage
func (c *Client) applyCommand(cmd *protocol.Command, offset int64) error {
	start := time.Now()
	defer func() {
		c.metrics.RecordCommandProcessed(cmd.Name, time.Since(start))
	}()

	switch cmd.Name {
	case "SET":
		if len(cmd.Args) < 2 {
			return fmt.Errorf("SET requires at least 2 arguments")
		}
		expiry, err := parseSetExpiry(cmd.Args[2:])
		if err != nil {
			return err
		}
		return c.storage.Set(string(cmd.Args[0]), cmd.Args[1], expiry)

	case "DEL":
		keys := make([]string, len(cmd.Args))
		for i, arg := range cmd.Args {
			keys[i] = string(arg)
		}
		c.storage.Del(keys...)
		return nil

	case "REPLCONF":
		if len(cmd.Args) == 2 && strings.EqualFold(string(cmd.Args[0]), "GETACK") {
			return c.sendAck(offset)
		}
		return nil

	case "PING", "SELECT":
		// Heartbeats and database selection carry no data in a
		// single-database keyspace.
		return nil

	case "FLUSHALL":
		return c.storage.FlushAll()

	default:
		c.logger.Debug("ignoring replicated command", "command", cmd.Name)
		return nil
	}
}

// sendAck reports the current replication offset back to the master
func (c *Client) sendAck(offset int64) error {
	c.mu.RLock()
	conn := c.conn
	writer := c.writer
	c.mu.RUnlock()
	if conn == nil {
		return fmt.Errorf("not connected")
	}

	if c.writeTimeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
		defer conn.SetWriteDeadline(time.Time{})
	}

	if err := writer.WriteCommand("REPLCONF", "ACK", strconv.FormatInt(offset, 10)); err != nil {
		return err
	}
	return writer.Flush()
}

// parseSetExpiry extracts the expiry from replicated SET options. Only
// PX and EX reach the stream; relative times are resolved against the
// replica's clock.
func parseSetExpiry(opts [][]byte) (*time.Time, error) {
	for i := 0; i < len(opts); i++ {
		switch strings.ToUpper(string(opts[i])) {
		case "PX":
			if i+1 >= len(opts) {
				return nil, fmt.Errorf("PX requires a value")
			}
			ms, err := strconv.ParseInt(string(opts[i+1]), 10, 64)
			if err != nil || ms < 0 {
				return nil, fmt.Errorf("invalid PX value %q", opts[i+1])
			}
			t := time.Now().Add(time.Duration(ms) * time.Millisecond)
			return &t, nil
		case "EX":
			if i+1 >= len(opts) {
				return nil, fmt.Errorf("EX requires a value")
			}
			secs, err := strconv.ParseInt(string(opts[i+1]), 10, 64)
			if err != nil || secs < 0 {
				return nil, fmt.Errorf("invalid EX value %q", opts[i+1])
			}
			t := time.Now().Add(time.Duration(secs) * time.Second)
			return &t, nil
		}
	}
	return nil, nil
}
