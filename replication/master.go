package replication

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/raniellyferreira/redis-inmemory-server/protocol"
	"github.com/raniellyferreira/redis-inmemory-server/rdb"
)

// HandshakeStage tracks a replica connection through the PSYNC handshake as
// observed from the master side. Stages only move forward; any command that
// does not fit the current stage resets the session to StageIdle.
type HandshakeStage int

const (
	// StageIdle marks an ordinary client connection. Nothing about it is
	// replica-specific yet.
	StageIdle HandshakeStage = iota

	// StageAwaitingReplConf means at least one REPLCONF was accepted and
	// the master now expects the remaining REPLCONF options.
	StageAwaitingReplConf

	// StageAwaitingPsync means both listening-port and capa were announced
	// and the master now expects a PSYNC.
	StageAwaitingPsync

	// StageStreaming means PSYNC was accepted, the snapshot was sent and
	// the connection now carries the command stream.
	StageStreaming
)

func (s HandshakeStage) String() string {
	switch s {
	case StageAwaitingReplConf:
		return "awaiting-replconf"
	case StageAwaitingPsync:
		return "awaiting-psync"
	case StageStreaming:
		return "streaming"
	default:
		return "idle"
	}
}

// Session is the per-connection handshake state machine on the master.
// Each client connection owns exactly one Session; it stays in StageIdle
// for normal clients and only advances when the client speaks REPLCONF
// and PSYNC in order.
type Session struct {
	stage         HandshakeStage
	listeningPort string
	gotCapa       bool
}

// NewSession returns a session in StageIdle
func NewSession() *Session {
	return &Session{stage: StageIdle}
}

// Stage returns the current handshake stage
func (s *Session) Stage() HandshakeStage {
	return s.stage
}

// Streaming reports whether the handshake completed and the connection
// carries the replication stream.
func (s *Session) Streaming() bool {
	return s.stage == StageStreaming
}

// ListeningPort returns the port announced via REPLCONF listening-port,
// or "" if none was announced.
func (s *Session) ListeningPort() string {
	return s.listeningPort
}

// HandleReplConf processes a REPLCONF from the client and advances the
// session. The listening-port and capa options may arrive in either order;
// once both were seen the session awaits PSYNC. Unknown REPLCONF options
// are accepted and ignored, matching Redis, so that newer replicas can
// talk to older masters.
func (s *Session) HandleReplConf(args [][]byte) error {
	if s.stage == StageStreaming {
		return fmt.Errorf("REPLCONF not allowed after PSYNC")
	}
	if len(args)%2 != 0 {
		return fmt.Errorf("wrong number of arguments for REPLCONF")
	}
	for i := 0; i+1 < len(args); i += 2 {
		opt := strings.ToLower(string(args[i]))
		switch opt {
		case "listening-port":
			s.listeningPort = string(args[i+1])
		case "capa":
			s.gotCapa = true
		case "ip-address":
			// acknowledged, nothing to record
		}
	}
	if s.listeningPort != "" && s.gotCapa {
		s.stage = StageAwaitingPsync
	} else {
		s.stage = StageAwaitingReplConf
	}
	return nil
}

// HandlePsync validates a PSYNC request against the session stage. PSYNC
// before the handshake announced both options resets the session and
// fails; only a full resync request ("?" with offset -1) is supported.
func (s *Session) HandlePsync(args [][]byte) error {
	if s.stage != StageAwaitingPsync {
		s.stage = StageIdle
		s.listeningPort = ""
		s.gotCapa = false
		return fmt.Errorf("PSYNC requires a completed REPLCONF handshake")
	}
	if len(args) != 2 {
		return fmt.Errorf("wrong number of arguments for PSYNC")
	}
	if string(args[0]) != "?" || string(args[1]) != "-1" {
		return fmt.Errorf("only full resynchronization is supported")
	}
	s.stage = StageStreaming
	return nil
}

// outboxSize bounds the per-replica write queue. A replica that falls this
// many frames behind is dropped rather than allowed to stall propagation.
const outboxSize = 1024

// replicaHandle is the master's view of one connected replica: a buffered
// outbox drained by a dedicated writer goroutine so that one slow replica
// never blocks the others.
type replicaHandle struct {
	conn      io.Writer
	addr      string
	outbox    chan []byte
	done      chan struct{}
	closeOnce sync.Once

	mu        sync.Mutex
	ackOffset int64
}

func (h *replicaHandle) close() {
	h.closeOnce.Do(func() { close(h.done) })
}

func (h *replicaHandle) writeLoop(onDead func(*replicaHandle)) {
	for {
		select {
		case <-h.done:
			return
		case frame := <-h.outbox:
			if _, err := h.conn.Write(frame); err != nil {
				onDead(h)
				return
			}
		}
	}
}

// setAck records the offset the replica acknowledged; stale ACKs that
// would move the offset backwards are ignored.
func (h *replicaHandle) setAck(offset int64) {
	h.mu.Lock()
	if offset > h.ackOffset {
		h.ackOffset = offset
	}
	h.mu.Unlock()
}

func (h *replicaHandle) ack() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ackOffset
}

// Snapshotter produces the point-in-time snapshot sent on full resync.
type Snapshotter interface {
	Snapshot() ([]byte, error)
}

// snapshotFunc adapts a plain function to the Snapshotter interface
type snapshotFunc func() ([]byte, error)

func (f snapshotFunc) Snapshot() ([]byte, error) { return f() }

// SnapshotterFromRDB builds a Snapshotter that serializes the given
// keyspace with the RDB codec.
func SnapshotterFromRDB(snap rdb.Snapshot) Snapshotter {
	return snapshotFunc(func() ([]byte, error) {
		return rdb.Serialize(snap)
	})
}

// Master tracks connected replicas and fans the write stream out to them.
// Propagation is ordered: every replica observes the same frame sequence
// in the same order the master applied it.
type Master struct {
	state    *State
	snapshot Snapshotter
	logger   Logger
	metrics  MetricsCollector

	mu       sync.Mutex
	replicas map[*replicaHandle]struct{}
}

// NewMaster creates the replica registry for a master node
func NewMaster(state *State, snapshot Snapshotter, logger Logger, metrics MetricsCollector) *Master {
	if logger == nil {
		logger = noopLogger{}
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Master{
		state:    state,
		snapshot: snapshot,
		logger:   logger,
		metrics:  metrics,
		replicas: make(map[*replicaHandle]struct{}),
	}
}

// FullResyncReply renders the +FULLRESYNC line announcing the master's
// replication ID and current offset.
func (m *Master) FullResyncReply() string {
	return fmt.Sprintf("FULLRESYNC %s %d", m.state.ReplID(), m.state.Offset())
}

// Register completes a PSYNC: it serializes the current keyspace, writes
// the FULLRESYNC line and the snapshot to the connection, and then starts
// streaming. The snapshot and the registry insertion happen under the
// registry lock, so a write lands either in the snapshot or in the outbox,
// never in the gap between them. The caller hands over the connection;
// after Register returns the master owns all writes to it.
func (m *Master) Register(conn io.Writer, addr string) (*ReplicaConn, error) {
	h := &replicaHandle{
		conn:   conn,
		addr:   addr,
		outbox: make(chan []byte, outboxSize),
		done:   make(chan struct{}),
	}

	m.mu.Lock()
	data, err := m.snapshot.Snapshot()
	if err != nil {
		m.mu.Unlock()
		return nil, fmt.Errorf("serializing snapshot: %w", err)
	}
	resync := m.FullResyncReply()
	m.replicas[h] = struct{}{}
	count := len(m.replicas)
	m.mu.Unlock()

	// Writes issued while the snapshot is on the wire buffer in the
	// outbox; the write loop starts draining only after the snapshot.
	w := protocol.NewWriter(conn)
	w.WriteSimpleString(resync)
	w.WriteSnapshot(data)
	if err := w.Flush(); err != nil {
		m.drop(h)
		return nil, fmt.Errorf("sending full resync: %w", err)
	}

	go h.writeLoop(m.drop)

	m.logger.Info("replica registered", "addr", addr, "snapshot_bytes", len(data), "replicas", count)
	m.metrics.ReplicaConnected(addr)
	return &ReplicaConn{master: m, handle: h}, nil
}

// drop removes a replica whose connection died or whose outbox overflowed
func (m *Master) drop(h *replicaHandle) {
	m.mu.Lock()
	_, present := m.replicas[h]
	delete(m.replicas, h)
	count := len(m.replicas)
	m.mu.Unlock()

	h.close()
	if present {
		m.logger.Info("replica dropped", "addr", h.addr, "replicas", count)
		m.metrics.ReplicaDisconnected(h.addr)
	}
}

// ReplicaCount returns the number of connected replicas
func (m *Master) ReplicaCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.replicas)
}

// Apply runs a keyspace mutation and enqueues its frame to every
// connected replica under the registry lock. Holding one lock across the
// mutation, the offset bump, and the enqueue guarantees the stream order
// every replica sees is the order the writes hit the master's keyspace —
// two racing clients cannot apply in one order and propagate in another.
// It also serializes against Register, which snapshots under the same
// lock. The mutation's error aborts the propagation.
func (m *Master) Apply(cmd protocol.Value, apply func() error) error {
	frame := protocol.Encode(cmd)

	m.mu.Lock()
	if apply != nil {
		if err := apply(); err != nil {
			m.mu.Unlock()
			return err
		}
	}
	m.state.Advance(int64(len(frame)))
	var overflowed []*replicaHandle
	for h := range m.replicas {
		select {
		case h.outbox <- frame:
		default:
			overflowed = append(overflowed, h)
		}
	}
	m.mu.Unlock()

	for _, h := range overflowed {
		m.logger.Error("replica outbox overflow", "addr", h.addr)
		m.drop(h)
	}
	m.metrics.CommandPropagated(len(frame))
	return nil
}

// Propagate enqueues an already-applied write. Callers that need the
// mutation ordered with the stream use Apply instead.
func (m *Master) Propagate(cmd protocol.Value) {
	m.Apply(cmd, nil)
}

// RequestAcks broadcasts REPLCONF GETACK * to all replicas. GETACK frames
// do not advance the master's own offset; the replica counts them on its
// side before answering.
func (m *Master) RequestAcks() {
	getack := &protocol.Command{
		Name: "REPLCONF",
		Args: [][]byte{[]byte("GETACK"), []byte("*")},
	}
	frame := protocol.Encode(getack.Value())

	m.mu.Lock()
	for h := range m.replicas {
		select {
		case h.outbox <- frame:
		default:
		}
	}
	m.mu.Unlock()
}

// AckedReplicas counts replicas whose acknowledged offset has reached
// at least target.
func (m *Master) AckedReplicas(target int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for h := range m.replicas {
		if h.ack() >= target {
			n++
		}
	}
	return n
}

// Close drops all replicas
func (m *Master) Close() {
	m.mu.Lock()
	handles := make([]*replicaHandle, 0, len(m.replicas))
	for h := range m.replicas {
		handles = append(handles, h)
	}
	m.mu.Unlock()
	for _, h := range handles {
		m.drop(h)
	}
}

// ReplicaConn is the handle the connection goroutine keeps after PSYNC.
// It records ACKs read from the replica and unregisters on close.
type ReplicaConn struct {
	master *Master
	handle *replicaHandle
}

// RecordAck stores an offset the replica reported via REPLCONF ACK
func (c *ReplicaConn) RecordAck(offset int64) {
	c.handle.setAck(offset)
	c.master.metrics.ReplicaAck(c.handle.addr, offset)
}

// AckOffset returns the last offset this replica acknowledged
func (c *ReplicaConn) AckOffset() int64 {
	return c.handle.ack()
}

// Close removes the replica from the propagation set
func (c *ReplicaConn) Close() {
	c.master.drop(c.handle)
}
