package delivery

import (
	"testing"
	"time"
)

func TestTrackAck_RoundTrip(t *testing.T) {
	tr := New(10)
	tr.Track("n1", "m1", time.Now())

	if got := tr.PendingCount("n1"); got != 1 {
		t.Fatalf("PendingCount = %d, want 1", got)
	}
	if !tr.Ack("n1", "m1") {
		t.Fatal("expected ack to succeed")
	}
	if got := tr.PendingCount("n1"); got != 0 {
		t.Fatalf("PendingCount after ack = %d, want 0", got)
	}
}

func TestAck_UnknownMessage(t *testing.T) {
	tr := New(10)
	tr.Track("n1", "m1", time.Now())
	if tr.Ack("n1", "m2") {
		t.Fatal("ack of an untracked message should return false")
	}
}

func TestTrack_OverflowEvictsOldest(t *testing.T) {
	tr := New(2)
	tr.Track("n1", "m1", time.Now())
	tr.Track("n1", "m2", time.Now())
	tr.Track("n1", "m3", time.Now())

	unacked := tr.Unacked("n1")
	if len(unacked) != 2 {
		t.Fatalf("Unacked = %v, want 2 entries", unacked)
	}
	if unacked[0] != "m2" || unacked[1] != "m3" {
		t.Errorf("Unacked = %v, want [m2 m3]", unacked)
	}
}

func TestTrack_DuplicateIDOverwrites(t *testing.T) {
	tr := New(10)
	first := time.Now()
	tr.Track("n1", "m1", first)
	tr.Track("n1", "m1", first.Add(time.Minute))

	if got := tr.PendingCount("n1"); got != 1 {
		t.Fatalf("PendingCount = %d, want 1 (no duplicate entries)", got)
	}
}

func TestRemoveNode_DropsAllPending(t *testing.T) {
	tr := New(10)
	tr.Track("n1", "m1", time.Now())
	tr.Track("n1", "m2", time.Now())
	tr.RemoveNode("n1")

	if got := tr.PendingCount("n1"); got != 0 {
		t.Fatalf("PendingCount = %d, want 0 after RemoveNode", got)
	}
}

func TestClear_DropsEveryNode(t *testing.T) {
	tr := New(10)
	tr.Track("n1", "m1", time.Now())
	tr.Track("n2", "m2", time.Now())
	tr.Clear()

	if tr.PendingCount("n1") != 0 || tr.PendingCount("n2") != 0 {
		t.Fatal("Clear should drop pending entries for every node")
	}
}
