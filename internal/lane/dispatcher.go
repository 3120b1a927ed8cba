// Package lane implements the three-priority FIFO dispatcher: steer,
// collect, and followup queues per node, each bounded by laneCapacity with
// drop-oldest overflow semantics.
package lane

import (
	"container/list"
	"sync"

	"github.com/nodeway/gatewayd/internal/protocol"
)

// Name is a lane identifier.
type Name string

const (
	Steer    Name = "steer"
	Collect  Name = "collect"
	Followup Name = "followup"
)

// Priority order lanes are consumed in by the worker.
var Priority = []Name{Steer, Collect, Followup}

// OverflowEvent is emitted when a lane drops its oldest message.
type OverflowEvent struct {
	Lane     Name
	NodeID   string
	Capacity int
}

type nodeQueues struct {
	queues map[Name]*list.List
}

// Dispatcher holds bounded per-node, per-lane queues.
type Dispatcher struct {
	mu       sync.Mutex
	capacity int
	nodes    map[string]*nodeQueues
	onOverflow func(OverflowEvent)
}

// New builds a dispatcher with the given per-lane capacity. onOverflow, if
// non-nil, is invoked (outside the dispatcher's lock) whenever a lane drops
// its oldest message.
func New(capacity int, onOverflow func(OverflowEvent)) *Dispatcher {
	return &Dispatcher{
		capacity:   capacity,
		nodes:      make(map[string]*nodeQueues),
		onOverflow: onOverflow,
	}
}

func (d *Dispatcher) nodeFor(nodeID string) *nodeQueues {
	nq, ok := d.nodes[nodeID]
	if !ok {
		nq = &nodeQueues{queues: map[Name]*list.List{
			Steer:    list.New(),
			Collect:  list.New(),
			Followup: list.New(),
		}}
		d.nodes[nodeID] = nq
	}
	return nq
}

// Enqueue appends msg to nodeID's lane queue, dropping the oldest message in
// that lane if it is at capacity. Returns true iff a drop occurred.
func (d *Dispatcher) Enqueue(nodeID string, lane Name, msg protocol.LaneMessage) bool {
	d.mu.Lock()
	nq := d.nodeFor(nodeID)
	q := q(nq, lane)

	dropped := false
	if d.capacity > 0 && q.Len() >= d.capacity {
		q.Remove(q.Front())
		dropped = true
	}
	q.PushBack(msg)
	capacity := d.capacity
	d.mu.Unlock()

	if dropped && d.onOverflow != nil {
		d.onOverflow(OverflowEvent{Lane: lane, NodeID: nodeID, Capacity: capacity})
	}
	return dropped
}

func q(nq *nodeQueues, lane Name) *list.List {
	return nq.queues[lane]
}

// Dequeue pops the oldest message of the node's first non-empty lane, in
// steer>collect>followup priority order, one message per call.
func (d *Dispatcher) Dequeue(nodeID string) (protocol.LaneMessage, Name, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	nq, ok := d.nodes[nodeID]
	if !ok {
		return protocol.LaneMessage{}, "", false
	}
	for _, ln := range Priority {
		ql := nq.queues[ln]
		if ql.Len() > 0 {
			front := ql.Front()
			ql.Remove(front)
			return front.Value.(protocol.LaneMessage), ln, true
		}
	}
	return protocol.LaneMessage{}, "", false
}

// QueueSize returns the current length of a single lane for nodeID.
func (d *Dispatcher) QueueSize(nodeID string, lane Name) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	nq, ok := d.nodes[nodeID]
	if !ok {
		return 0
	}
	return nq.queues[lane].Len()
}

// TotalQueued returns the sum of all lane lengths for nodeID.
func (d *Dispatcher) TotalQueued(nodeID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	nq, ok := d.nodes[nodeID]
	if !ok {
		return 0
	}
	total := 0
	for _, ln := range Priority {
		total += nq.queues[ln].Len()
	}
	return total
}

// Drain removes and returns every queued message for nodeID across all
// lanes, in priority order, used on deregistration.
func (d *Dispatcher) Drain(nodeID string) []protocol.LaneMessage {
	d.mu.Lock()
	defer d.mu.Unlock()
	nq, ok := d.nodes[nodeID]
	if !ok {
		return nil
	}
	var out []protocol.LaneMessage
	for _, ln := range Priority {
		ql := nq.queues[ln]
		for el := ql.Front(); el != nil; el = el.Next() {
			out = append(out, el.Value.(protocol.LaneMessage))
		}
	}
	delete(d.nodes, nodeID)
	return out
}

// Clear discards every node's queues, used on gateway shutdown.
func (d *Dispatcher) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nodes = make(map[string]*nodeQueues)
}
