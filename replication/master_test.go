package replication

import (
	"bytes"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/raniellyferreira/redis-inmemory-server/protocol"
	"github.com/raniellyferreira/redis-inmemory-server/rdb"
	"github.com/raniellyferreira/redis-inmemory-server/storage"
)

func TestSessionHandshakeOrder(t *testing.T) {
	s := NewSession()

	if s.Stage() != StageIdle {
		t.Fatalf("new session should be idle, got %v", s.Stage())
	}

	err := s.HandleReplConf([][]byte{[]byte("listening-port"), []byte("6380")})
	if err != nil {
		t.Fatalf("REPLCONF listening-port failed: %v", err)
	}
	if s.Stage() != StageAwaitingReplConf {
		t.Errorf("stage after REPLCONF = %v, want awaiting-replconf", s.Stage())
	}
	if s.ListeningPort() != "6380" {
		t.Errorf("listening port = %q, want 6380", s.ListeningPort())
	}

	err = s.HandleReplConf([][]byte{[]byte("capa"), []byte("psync2")})
	if err != nil {
		t.Fatalf("REPLCONF capa failed: %v", err)
	}
	if s.Stage() != StageAwaitingPsync {
		t.Errorf("stage after both REPLCONFs = %v, want awaiting-psync", s.Stage())
	}

	err = s.HandlePsync([][]byte{[]byte("?"), []byte("-1")})
	if err != nil {
		t.Fatalf("PSYNC failed: %v", err)
	}
	if !s.Streaming() {
		t.Error("session should be streaming after PSYNC")
	}
}

func TestSessionPsyncWithoutReplConf(t *testing.T) {
	s := NewSession()

	if err := s.HandlePsync([][]byte{[]byte("?"), []byte("-1")}); err == nil {
		t.Fatal("PSYNC without REPLCONF should fail")
	}
	if s.Stage() != StageIdle {
		t.Errorf("failed PSYNC should reset session to idle, got %v", s.Stage())
	}
}

func completeReplConf(t *testing.T, s *Session) {
	t.Helper()
	if err := s.HandleReplConf([][]byte{[]byte("listening-port"), []byte("6380")}); err != nil {
		t.Fatal(err)
	}
	if err := s.HandleReplConf([][]byte{[]byte("capa"), []byte("psync2")}); err != nil {
		t.Fatal(err)
	}
}

func TestSessionRejectsPartialResync(t *testing.T) {
	s := NewSession()
	completeReplConf(t, s)

	err := s.HandlePsync([][]byte{[]byte("8371b4fb1155b71f4a04d3e1bc3e18c4a990aeeb"), []byte("100")})
	if err == nil {
		t.Fatal("partial resync request should be rejected")
	}
}

func TestSessionPsyncBeforeCapaResets(t *testing.T) {
	s := NewSession()
	if err := s.HandleReplConf([][]byte{[]byte("listening-port"), []byte("6380")}); err != nil {
		t.Fatal(err)
	}

	if err := s.HandlePsync([][]byte{[]byte("?"), []byte("-1")}); err == nil {
		t.Fatal("PSYNC with incomplete REPLCONF handshake should fail")
	}
	if s.Stage() != StageIdle {
		t.Errorf("failed PSYNC should reset session to idle, got %v", s.Stage())
	}
}

func TestSessionUnknownReplConfOptionAccepted(t *testing.T) {
	s := NewSession()
	err := s.HandleReplConf([][]byte{[]byte("some-future-option"), []byte("value")})
	if err != nil {
		t.Fatalf("unknown REPLCONF option should be accepted: %v", err)
	}
	if s.Stage() != StageAwaitingReplConf {
		t.Errorf("stage = %v, want awaiting-replconf", s.Stage())
	}
}

func TestSessionReplConfAfterPsyncRejected(t *testing.T) {
	s := NewSession()
	completeReplConf(t, s)
	if err := s.HandlePsync([][]byte{[]byte("?"), []byte("-1")}); err != nil {
		t.Fatal(err)
	}

	if err := s.HandleReplConf([][]byte{[]byte("capa"), []byte("psync2")}); err == nil {
		t.Fatal("REPLCONF after PSYNC should fail")
	}
}

// syncBuffer is a goroutine-safe io.Writer standing in for a replica
// connection.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]byte, b.buf.Len())
	copy(out, b.buf.Bytes())
	return out
}

// waitFor polls until the condition holds or the deadline passes
func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func newTestMaster(t *testing.T) (*Master, *storage.MemoryStorage) {
	t.Helper()
	store := storage.NewMemory()
	t.Cleanup(func() { store.Close() })

	state := NewMasterState()
	master := NewMaster(state, SnapshotterFromRDB(store), nil, nil)
	t.Cleanup(master.Close)
	return master, store
}

func TestMasterRegisterSendsFullResync(t *testing.T) {
	master, store := newTestMaster(t)
	if err := store.Set("hello", []byte("world"), nil); err != nil {
		t.Fatal(err)
	}

	conn := &syncBuffer{}
	rc, err := master.Register(conn, "127.0.0.1:50000")
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	defer rc.Close()

	if master.ReplicaCount() != 1 {
		t.Errorf("replica count = %d, want 1", master.ReplicaCount())
	}

	r := protocol.NewReader(bytes.NewReader(conn.Bytes()))
	reply, err := r.ReadNext()
	if err != nil {
		t.Fatalf("reading FULLRESYNC line: %v", err)
	}
	parts := strings.Fields(reply.String())
	if len(parts) != 3 || parts[0] != "FULLRESYNC" {
		t.Fatalf("unexpected reply %q", reply.String())
	}
	if len(parts[1]) != 40 {
		t.Errorf("replication ID %q is not 40 chars", parts[1])
	}
	if parts[2] != "0" {
		t.Errorf("initial offset = %s, want 0", parts[2])
	}

	var snapshot []byte
	err = r.ReadSnapshot(func(chunk []byte) error {
		snapshot = append(snapshot, chunk...)
		return nil
	})
	if err != nil {
		t.Fatalf("reading snapshot: %v", err)
	}
	if !bytes.HasPrefix(snapshot, []byte("REDIS0009")) {
		t.Errorf("snapshot does not start with magic: %q", snapshot[:9])
	}
	if !bytes.Contains(snapshot, []byte("hello")) || !bytes.Contains(snapshot, []byte("world")) {
		t.Error("snapshot does not contain the stored entry")
	}
}

func TestMasterPropagateOrderAndOffset(t *testing.T) {
	master, _ := newTestMaster(t)

	conn := &syncBuffer{}
	rc, err := master.Register(conn, "127.0.0.1:50000")
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()
	baseline := len(conn.Bytes())

	cmds := []*protocol.Command{
		{Name: "SET", Args: [][]byte{[]byte("a"), []byte("1")}},
		{Name: "SET", Args: [][]byte{[]byte("b"), []byte("2")}},
		{Name: "DEL", Args: [][]byte{[]byte("a")}},
	}
	var wantOffset int64
	var wantStream []byte
	for _, cmd := range cmds {
		frame := protocol.Encode(cmd.Value())
		wantOffset += int64(len(frame))
		wantStream = append(wantStream, frame...)
		master.Propagate(cmd.Value())
	}

	if got := master.state.Offset(); got != wantOffset {
		t.Errorf("master offset = %d, want %d", got, wantOffset)
	}

	waitFor(t, func() bool {
		return len(conn.Bytes()) >= baseline+len(wantStream)
	}, "propagated frames")

	got := conn.Bytes()[baseline:]
	if !bytes.Equal(got, wantStream) {
		t.Errorf("propagated stream mismatch:\n got %q\nwant %q", got, wantStream)
	}
}

func TestMasterApplyKeepsStreamInApplyOrder(t *testing.T) {
	master, store := newTestMaster(t)

	conn := &syncBuffer{}
	rc, err := master.Register(conn, "127.0.0.1:50000")
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()
	baseline := len(conn.Bytes())

	// Racing writers to one key: the stream's last frame must agree
	// with the keyspace, which only holds if mutation and enqueue are
	// atomic with respect to each other.
	const writers = 4
	const perWriter = 50
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				value := []byte(fmt.Sprintf("w%d-%d", w, i))
				cmd := &protocol.Command{Name: "SET", Args: [][]byte{[]byte("contended"), value}}
				err := master.Apply(cmd.Value(), func() error {
					return store.Set("contended", value, nil)
				})
				if err != nil {
					t.Errorf("Apply failed: %v", err)
				}
			}
		}(w)
	}
	wg.Wait()

	countFrames := func(buf []byte) int {
		n := 0
		for len(buf) > 0 {
			_, consumed, err := protocol.Decode(buf)
			if err != nil {
				return n
			}
			buf = buf[consumed:]
			n++
		}
		return n
	}
	waitFor(t, func() bool {
		return countFrames(conn.Bytes()[baseline:]) == writers*perWriter
	}, "all frames to reach the replica")

	stream := conn.Bytes()[baseline:]
	if got := master.state.Offset(); got != int64(len(stream)) {
		t.Errorf("master offset = %d, want stream length %d", got, len(stream))
	}

	var last []byte
	for len(stream) > 0 {
		value, consumed, err := protocol.Decode(stream)
		if err != nil {
			t.Fatalf("undecodable frame in stream: %v", err)
		}
		cmd, err := protocol.ParseCommand(value)
		if err != nil {
			t.Fatal(err)
		}
		last = cmd.Args[1]
		stream = stream[consumed:]
	}

	got, ok := store.Get("contended")
	if !ok || !bytes.Equal(got, last) {
		t.Errorf("keyspace holds %q but the stream's last write is %q", got, last)
	}
}

func TestMasterApplyErrorSkipsPropagation(t *testing.T) {
	master, _ := newTestMaster(t)

	conn := &syncBuffer{}
	rc, err := master.Register(conn, "127.0.0.1:50000")
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()
	baseline := len(conn.Bytes())

	cmd := &protocol.Command{Name: "SET", Args: [][]byte{[]byte("k"), []byte("v")}}
	applyErr := fmt.Errorf("shard unavailable")
	if err := master.Apply(cmd.Value(), func() error { return applyErr }); err != applyErr {
		t.Fatalf("Apply returned %v, want the mutation error", err)
	}

	if got := master.state.Offset(); got != 0 {
		t.Errorf("offset advanced to %d for a failed write", got)
	}
	time.Sleep(50 * time.Millisecond)
	if got := len(conn.Bytes()); got != baseline {
		t.Errorf("failed write reached the replica: %d bytes past baseline", got-baseline)
	}
}

func TestMasterRegisterDoesNotLoseConcurrentWrites(t *testing.T) {
	store := storage.NewMemory()
	t.Cleanup(func() { store.Close() })
	state := NewMasterState()

	// Stall the snapshot so a write races the registration
	snapshotStarted := make(chan struct{})
	release := make(chan struct{})
	snap := snapshotFunc(func() ([]byte, error) {
		close(snapshotStarted)
		<-release
		return rdb.Serialize(store)
	})
	master := NewMaster(state, snap, nil, nil)
	t.Cleanup(master.Close)

	cmd := &protocol.Command{Name: "SET", Args: [][]byte{[]byte("racer"), []byte("1")}}
	applied := make(chan error, 1)
	go func() {
		<-snapshotStarted
		go func() {
			applied <- master.Apply(cmd.Value(), func() error {
				return store.Set("racer", []byte("1"), nil)
			})
		}()
		// Let the write block on the registry lock before the
		// snapshot completes
		time.Sleep(20 * time.Millisecond)
		close(release)
	}()

	conn := &syncBuffer{}
	rc, err := master.Register(conn, "127.0.0.1:50000")
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()

	if err := <-applied; err != nil {
		t.Fatal(err)
	}

	// The racing write must arrive over the snapshot or the stream;
	// before registration was covered by the lock it could miss both.
	frame := protocol.Encode(cmd.Value())
	waitFor(t, func() bool {
		data := conn.Bytes()
		return bytes.Contains(data, frame) || bytes.Contains(data, []byte("racer"))
	}, "racing write to reach the replica")
}

func TestMasterRequestAcksDoesNotAdvanceOffset(t *testing.T) {
	master, _ := newTestMaster(t)

	conn := &syncBuffer{}
	rc, err := master.Register(conn, "127.0.0.1:50000")
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()
	baseline := len(conn.Bytes())

	master.RequestAcks()

	if got := master.state.Offset(); got != 0 {
		t.Errorf("GETACK advanced master offset to %d", got)
	}

	want := "*3\r\n$8\r\nREPLCONF\r\n$6\r\nGETACK\r\n$1\r\n*\r\n"
	waitFor(t, func() bool {
		return len(conn.Bytes()) >= baseline+len(want)
	}, "GETACK frame")
	if got := string(conn.Bytes()[baseline:]); got != want {
		t.Errorf("GETACK frame = %q, want %q", got, want)
	}
}

func TestMasterAckTracking(t *testing.T) {
	master, _ := newTestMaster(t)

	var conns []*ReplicaConn
	for i := 0; i < 3; i++ {
		rc, err := master.Register(&syncBuffer{}, fmt.Sprintf("127.0.0.1:%d", 50000+i))
		if err != nil {
			t.Fatal(err)
		}
		defer rc.Close()
		conns = append(conns, rc)
	}

	conns[0].RecordAck(100)
	conns[1].RecordAck(50)

	if got := master.AckedReplicas(100); got != 1 {
		t.Errorf("AckedReplicas(100) = %d, want 1", got)
	}
	if got := master.AckedReplicas(50); got != 2 {
		t.Errorf("AckedReplicas(50) = %d, want 2", got)
	}
	if got := master.AckedReplicas(0); got != 3 {
		t.Errorf("AckedReplicas(0) = %d, want 3", got)
	}

	// Stale ACKs never move the offset backwards
	conns[0].RecordAck(40)
	if got := conns[0].AckOffset(); got != 100 {
		t.Errorf("ack offset regressed to %d", got)
	}
}

func TestMasterUnregister(t *testing.T) {
	master, _ := newTestMaster(t)

	rc, err := master.Register(&syncBuffer{}, "127.0.0.1:50000")
	if err != nil {
		t.Fatal(err)
	}

	rc.Close()
	if got := master.ReplicaCount(); got != 0 {
		t.Errorf("replica count after close = %d, want 0", got)
	}

	// Closing twice is harmless
	rc.Close()
}
