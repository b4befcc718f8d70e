package replication

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"sync/atomic"
)

// Role identifies which side of the replication link this process is on.
// The two roles run disjoint state machines and are fixed at startup.
type Role int

const (
	RoleMaster Role = iota
	RoleReplica
)

// String returns the role name as INFO reports it
func (r Role) String() string {
	if r == RoleReplica {
		return "slave"
	}
	return "master"
}

// State is the process-wide replication state: the role, the replication ID
// generated once at startup, and the global monotonically non-decreasing
// offset. There is exactly one State per server instance.
type State struct {
	role       Role
	masterAddr string

	mu     sync.RWMutex
	replID string

	offset atomic.Int64
}

// NewMasterState creates the state for a master node with a fresh
// replication ID.
func NewMasterState() *State {
	return &State{
		role:   RoleMaster,
		replID: generateReplID(),
	}
}

// NewReplicaState creates the state for a replica of the given master.
// The replication ID is learned from the master during FULLRESYNC.
func NewReplicaState(masterAddr string) *State {
	return &State{
		role:       RoleReplica,
		masterAddr: masterAddr,
	}
}

// generateReplID returns 40 hex characters of crypto-grade randomness,
// the same shape Redis uses for run IDs.
func generateReplID() string {
	raw := make([]byte, 20)
	if _, err := rand.Read(raw); err != nil {
		// crypto/rand only fails when the platform entropy source is
		// broken; there is no useful recovery for a server identity.
		panic(fmt.Sprintf("replication: cannot generate replication ID: %v", err))
	}
	return hex.EncodeToString(raw)
}

// Role returns the node's replication role
func (s *State) Role() Role {
	return s.role
}

// MasterAddr returns the configured master address (replicas only)
func (s *State) MasterAddr() string {
	return s.masterAddr
}

// ReplID returns the current replication ID
func (s *State) ReplID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.replID
}

// SetReplID records the replication ID a replica learned from FULLRESYNC
func (s *State) SetReplID(id string) {
	s.mu.Lock()
	s.replID = id
	s.mu.Unlock()
}

// Offset returns the current replication offset
func (s *State) Offset() int64 {
	return s.offset.Load()
}

// Advance grows the replication offset by n bytes and returns the new
// value. The offset never decreases.
func (s *State) Advance(n int64) int64 {
	return s.offset.Add(n)
}

// InfoReplication renders the replication section of INFO. The field names
// role, master_replid and master_repl_offset are a contract with external
// tools and must not change.
func (s *State) InfoReplication() string {
	return fmt.Sprintf(
		"# Replication\r\nrole:%s\r\nmaster_replid:%s\r\nmaster_repl_offset:%d\r\n",
		s.role, s.ReplID(), s.Offset(),
	)
}
