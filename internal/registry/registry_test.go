package registry

import (
	"testing"

	"github.com/nodeway/gatewayd/internal/gwerrors"
	"github.com/nodeway/gatewayd/internal/protocol"
)

func TestRegister_DuplicateRejected(t *testing.T) {
	r := New()
	caps := protocol.Capabilities{AgentTypes: []string{"research"}}

	if err := r.Register("n1", caps, 1); err != nil {
		t.Fatalf("first register: %v", err)
	}
	err := r.Register("n1", caps, 2)
	if err == nil {
		t.Fatal("expected an error re-registering a live node")
	}
	gwErr, ok := err.(*gwerrors.GatewayError)
	if !ok || gwErr.Code != gwerrors.CodeNodeAlreadyRegistered {
		t.Errorf("got %v, want CodeNodeAlreadyRegistered", err)
	}
}

func TestRegister_BuildsAgentIndex(t *testing.T) {
	r := New()
	caps := protocol.Capabilities{AgentTypes: []string{"research", "support"}}
	if err := r.Register("n1", caps, 1); err != nil {
		t.Fatalf("register: %v", err)
	}

	nodeID, ok := r.ResolveAgent("research")
	if !ok || nodeID != "n1" {
		t.Errorf("ResolveAgent(research) = (%q, %v), want (n1, true)", nodeID, ok)
	}
	if _, ok := r.ResolveAgent("unknown"); ok {
		t.Error("ResolveAgent(unknown) should not resolve")
	}
}

func TestUpdateCapabilities_LastWriteWinsOnConflict(t *testing.T) {
	r := New()
	_ = r.Register("n1", protocol.Capabilities{AgentTypes: []string{"research"}}, 1)
	_ = r.Register("n2", protocol.Capabilities{AgentTypes: []string{"support"}}, 1)

	if err := r.UpdateCapabilities("n2", protocol.Capabilities{AgentTypes: []string{"research"}}); err != nil {
		t.Fatalf("update: %v", err)
	}

	nodeID, ok := r.ResolveAgent("research")
	if !ok || nodeID != "n2" {
		t.Errorf("ResolveAgent(research) = (%q, %v), want (n2, true)", nodeID, ok)
	}
}

func TestDeregister_ClearsAgentIndex(t *testing.T) {
	r := New()
	_ = r.Register("n1", protocol.Capabilities{AgentTypes: []string{"research"}}, 1)
	r.Deregister("n1")

	if _, ok := r.Get("n1"); ok {
		t.Error("node should be gone after deregister")
	}
	if _, ok := r.ResolveAgent("research"); ok {
		t.Error("agent index entry should be cleared on deregister")
	}
}

func TestMarkSeenAndMarkDead(t *testing.T) {
	r := New()
	_ = r.Register("n1", protocol.Capabilities{}, 1)

	r.MarkDead("n1")
	n, _ := r.Get("n1")
	if n.IsAlive {
		t.Error("node should be marked dead")
	}

	r.MarkSeen("n1", 42)
	n, _ = r.Get("n1")
	if !n.IsAlive || n.LastSeenAt != 42 {
		t.Errorf("node = %+v, want alive with lastSeenAt=42", n)
	}
}

func TestSnapshot_ReturnsAllNodes(t *testing.T) {
	r := New()
	_ = r.Register("n1", protocol.Capabilities{}, 1)
	_ = r.Register("n2", protocol.Capabilities{}, 1)

	if got := len(r.Snapshot()); got != 2 {
		t.Errorf("Snapshot len = %d, want 2", got)
	}
	if got := r.Count(); got != 2 {
		t.Errorf("Count = %d, want 2", got)
	}
}
