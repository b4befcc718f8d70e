package replication

import (
	"strings"
	"testing"
)

func TestNewMasterState(t *testing.T) {
	s := NewMasterState()

	if s.Role() != RoleMaster {
		t.Errorf("expected master role, got %v", s.Role())
	}
	if len(s.ReplID()) != 40 {
		t.Errorf("expected 40-char replication ID, got %d chars: %q", len(s.ReplID()), s.ReplID())
	}
	for _, c := range s.ReplID() {
		if !strings.ContainsRune("0123456789abcdef", c) {
			t.Errorf("replication ID contains non-hex char %q", c)
		}
	}
	if s.Offset() != 0 {
		t.Errorf("expected initial offset 0, got %d", s.Offset())
	}
}

func TestReplIDsAreUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := generateReplID()
		if seen[id] {
			t.Fatalf("duplicate replication ID %q", id)
		}
		seen[id] = true
	}
}

func TestReplicaState(t *testing.T) {
	s := NewReplicaState("localhost:6379")

	if s.Role() != RoleReplica {
		t.Errorf("expected replica role, got %v", s.Role())
	}
	if s.MasterAddr() != "localhost:6379" {
		t.Errorf("unexpected master addr %q", s.MasterAddr())
	}
	if s.ReplID() != "" {
		t.Errorf("replica should not have a replication ID before sync, got %q", s.ReplID())
	}

	s.SetReplID("8371b4fb1155b71f4a04d3e1bc3e18c4a990aeeb")
	if s.ReplID() != "8371b4fb1155b71f4a04d3e1bc3e18c4a990aeeb" {
		t.Errorf("SetReplID not applied, got %q", s.ReplID())
	}
}

func TestOffsetAdvances(t *testing.T) {
	s := NewMasterState()

	if got := s.Advance(31); got != 31 {
		t.Errorf("Advance(31) = %d, want 31", got)
	}
	if got := s.Advance(25); got != 56 {
		t.Errorf("Advance(25) = %d, want 56", got)
	}
	if s.Offset() != 56 {
		t.Errorf("Offset() = %d, want 56", s.Offset())
	}
}

func TestInfoReplicationFields(t *testing.T) {
	master := NewMasterState()
	info := master.InfoReplication()

	if !strings.HasPrefix(info, "# Replication\r\n") {
		t.Errorf("missing section header: %q", info)
	}
	if !strings.Contains(info, "role:master\r\n") {
		t.Errorf("missing role field: %q", info)
	}
	if !strings.Contains(info, "master_replid:"+master.ReplID()+"\r\n") {
		t.Errorf("missing master_replid field: %q", info)
	}
	if !strings.Contains(info, "master_repl_offset:0\r\n") {
		t.Errorf("missing master_repl_offset field: %q", info)
	}

	replica := NewReplicaState("localhost:6379")
	replica.Advance(120)
	info = replica.InfoReplication()
	if !strings.Contains(info, "role:slave\r\n") {
		t.Errorf("missing replica role field: %q", info)
	}
	if !strings.Contains(info, "master_repl_offset:120\r\n") {
		t.Errorf("offset not reflected: %q", info)
	}
}
