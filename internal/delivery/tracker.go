// Package delivery implements the per-node pending-delivery tracker:
// insertion-ordered, capped, ack-driven at-least-once bookkeeping.
package delivery

import (
	"container/list"
	"sync"
	"time"
)

type entry struct {
	messageID string
	sentAt    time.Time
}

type nodeTracker struct {
	order *list.List // of *entry, oldest at Front
	index map[string]*list.Element
}

// Tracker is the process-wide delivery tracker, one FIFO+index pair per
// node, capped at maxPending with oldest-first eviction on overflow.
type Tracker struct {
	mu         sync.Mutex
	maxPending int
	nodes      map[string]*nodeTracker
}

// New builds a tracker capping each node's pending set at maxPending.
func New(maxPending int) *Tracker {
	return &Tracker{
		maxPending: maxPending,
		nodes:      make(map[string]*nodeTracker),
	}
}

func (t *Tracker) nodeFor(nodeID string) *nodeTracker {
	nt, ok := t.nodes[nodeID]
	if !ok {
		nt = &nodeTracker{order: list.New(), index: make(map[string]*list.Element)}
		t.nodes[nodeID] = nt
	}
	return nt
}

// Track records a sent message, overwriting any existing entry for the same
// id. On overflow the oldest unacked entry is evicted without ack.
func (t *Tracker) Track(nodeID, messageID string, sentAt time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	nt := t.nodeFor(nodeID)

	if el, ok := nt.index[messageID]; ok {
		nt.order.Remove(el)
		delete(nt.index, messageID)
	}

	el := nt.order.PushBack(&entry{messageID: messageID, sentAt: sentAt})
	nt.index[messageID] = el

	if t.maxPending > 0 {
		for nt.order.Len() > t.maxPending {
			front := nt.order.Front()
			if front == nil {
				break
			}
			oldest := front.Value.(*entry)
			delete(nt.index, oldest.messageID)
			nt.order.Remove(front)
		}
	}
}

// Ack removes a tracked entry, returning true iff it was present.
func (t *Tracker) Ack(nodeID, messageID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	nt, ok := t.nodes[nodeID]
	if !ok {
		return false
	}
	el, ok := nt.index[messageID]
	if !ok {
		return false
	}
	nt.order.Remove(el)
	delete(nt.index, messageID)
	if nt.order.Len() == 0 {
		delete(t.nodes, nodeID)
	}
	return true
}

// Unacked returns pending entries for nodeID ordered by sentAt ascending.
func (t *Tracker) Unacked(nodeID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	nt, ok := t.nodes[nodeID]
	if !ok {
		return nil
	}
	out := make([]string, 0, nt.order.Len())
	for el := nt.order.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.(*entry).messageID)
	}
	return out
}

// PendingCount returns 0 for unknown nodes.
func (t *Tracker) PendingCount(nodeID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	nt, ok := t.nodes[nodeID]
	if !ok {
		return 0
	}
	return nt.order.Len()
}

// RemoveNode discards all pending entries for a node (e.g. on deregister).
func (t *Tracker) RemoveNode(nodeID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.nodes, nodeID)
}

// Clear discards all tracked state across every node.
func (t *Tracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nodes = make(map[string]*nodeTracker)
}
