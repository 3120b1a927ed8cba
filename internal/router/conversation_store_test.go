package router

import (
	"testing"
	"time"
)

func TestBindGet_RoundTrip(t *testing.T) {
	s := NewConversationStore(10, 0)
	s.Bind("conv1", "n1")

	nodeID, ok := s.Get("conv1")
	if !ok || nodeID != "n1" {
		t.Fatalf("Get = (%q, %v), want (n1, true)", nodeID, ok)
	}
}

func TestBind_RebindingMovesReverseIndex(t *testing.T) {
	s := NewConversationStore(10, 0)
	s.Bind("conv1", "n1")
	s.Bind("conv1", "n2")

	nodeID, _ := s.Get("conv1")
	if nodeID != "n2" {
		t.Fatalf("nodeID = %q, want n2 after rebind", nodeID)
	}

	s.EvictNode("n1")
	if _, ok := s.Get("conv1"); !ok {
		t.Error("conv1 should survive evicting n1 since it was rebound to n2")
	}

	s.EvictNode("n2")
	if _, ok := s.Get("conv1"); ok {
		t.Error("conv1 should be gone after evicting n2")
	}
}

func TestBind_OverflowEvictsOldestAccessed(t *testing.T) {
	s := NewConversationStore(2, 0)
	s.Bind("conv1", "n1")
	s.Bind("conv2", "n1")
	s.Bind("conv3", "n1")

	if s.Len() != 2 {
		t.Fatalf("Len = %d, want 2", s.Len())
	}
	if _, ok := s.Get("conv1"); ok {
		t.Error("conv1 should have been evicted as the oldest entry")
	}
}

func TestEvictNode_RemovesEveryBoundKey(t *testing.T) {
	s := NewConversationStore(10, 0)
	s.Bind("conv1", "n1")
	s.Bind("conv2", "n1")
	s.Bind("conv3", "n2")

	s.EvictNode("n1")

	if _, ok := s.Get("conv1"); ok {
		t.Error("conv1 should be gone")
	}
	if _, ok := s.Get("conv2"); ok {
		t.Error("conv2 should be gone")
	}
	if _, ok := s.Get("conv3"); !ok {
		t.Error("conv3 belongs to n2 and should survive")
	}
}

func TestSweep_RemovesExpiredEntries(t *testing.T) {
	s := NewConversationStore(10, 10*time.Millisecond)
	s.Bind("conv1", "n1")

	time.Sleep(30 * time.Millisecond)
	removed := s.Sweep()
	if removed != 1 {
		t.Fatalf("Sweep removed %d, want 1", removed)
	}
	if _, ok := s.Get("conv1"); ok {
		t.Error("conv1 should be gone after sweeping past its ttl")
	}
}

func TestSweep_ZeroTTLIsNoop(t *testing.T) {
	s := NewConversationStore(10, 0)
	s.Bind("conv1", "n1")
	if removed := s.Sweep(); removed != 0 {
		t.Fatalf("Sweep with zero ttl removed %d, want 0", removed)
	}
}
