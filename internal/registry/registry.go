// Package registry holds the authoritative set of registered worker nodes
// and the agent-id → node-id index derived from it.
package registry

import (
	"log/slog"
	"sync"

	"github.com/nodeway/gatewayd/internal/gwerrors"
	"github.com/nodeway/gatewayd/internal/protocol"
)

// Node is a registered worker node.
type Node struct {
	NodeID       string
	Capabilities protocol.Capabilities
	AgentIDs     map[string]struct{}
	LastSeenAt   int64
	IsAlive      bool
}

// Registry is the process-wide node registry plus agent index. Guarded by
// a single RWMutex, acquired second, after auth, in the gateway's lock-ordering rule
// (auth → registry → session → dispatcher → tracker → router →
// conversationStore → pairingGuard).
type Registry struct {
	mu         sync.RWMutex
	nodes      map[string]*Node
	agentIndex map[string]string // agentId -> nodeId
}

// New builds an empty registry.
func New() *Registry {
	return &Registry{
		nodes:      make(map[string]*Node),
		agentIndex: make(map[string]string),
	}
}

// Register adds a new node. It fails with NODE_ALREADY_REGISTERED if the
// node id is already present.
func (r *Registry) Register(nodeID string, caps protocol.Capabilities, now int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.nodes[nodeID]; exists {
		return gwerrors.Newf(gwerrors.CodeNodeAlreadyRegistered, "node %q already registered", nodeID)
	}

	agentIDs := make(map[string]struct{}, len(caps.AgentTypes))
	for _, id := range caps.AgentTypes {
		agentIDs[id] = struct{}{}
	}

	r.nodes[nodeID] = &Node{
		NodeID:       nodeID,
		Capabilities: caps,
		AgentIDs:     agentIDs,
		LastSeenAt:   now,
		IsAlive:      true,
	}
	for agentID := range agentIDs {
		r.bindAgentLocked(agentID, nodeID)
	}
	return nil
}

// bindAgentLocked installs the last-write-wins agent index entry, logging a
// warning when it takes the agent over from another node. Caller must hold
// the write lock.
func (r *Registry) bindAgentLocked(agentID, nodeID string) {
	if prev, ok := r.agentIndex[agentID]; ok && prev != nodeID {
		slog.Warn("registry.agent_conflict", "agentId", agentID, "previousNodeId", prev, "nodeId", nodeID)
	}
	r.agentIndex[agentID] = nodeID
}

// Deregister removes a node and every agent-index pointer that still points
// at it.
func (r *Registry) Deregister(nodeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.nodes[nodeID]; !ok {
		return
	}
	delete(r.nodes, nodeID)
	for agentID, nid := range r.agentIndex {
		if nid == nodeID {
			delete(r.agentIndex, agentID)
		}
	}
}

// Get returns the node for nodeID, if registered.
func (r *Registry) Get(nodeID string) (*Node, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.nodes[nodeID]
	return n, ok
}

// Count returns the number of registered nodes.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.nodes)
}

// UpdateCapabilities replaces a registered node's advertised capabilities
// and re-derives its agentIndex bindings (last-write-wins on conflict).
func (r *Registry) UpdateCapabilities(nodeID string, caps protocol.Capabilities) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.nodes[nodeID]
	if !ok {
		return gwerrors.Newf(gwerrors.CodeNodeNotFound, "node %q not found", nodeID)
	}
	n.Capabilities = caps
	for id := range n.AgentIDs {
		if r.agentIndex[id] == nodeID {
			delete(r.agentIndex, id)
		}
	}
	agentIDs := make(map[string]struct{}, len(caps.AgentTypes))
	for _, id := range caps.AgentTypes {
		agentIDs[id] = struct{}{}
		r.bindAgentLocked(id, nodeID)
	}
	n.AgentIDs = agentIDs
	return nil
}

// ResolveAgent implements the AgentNodeResolver seam the router depends on.
func (r *Registry) ResolveAgent(agentID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	nodeID, ok := r.agentIndex[agentID]
	return nodeID, ok
}

// MarkSeen updates a node's lastSeenAt/isAlive, used by the health monitor.
func (r *Registry) MarkSeen(nodeID string, now int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n, ok := r.nodes[nodeID]; ok {
		n.LastSeenAt = now
		n.IsAlive = true
	}
}

// MarkDead flips a node's isAlive flag without removing it, used when a
// heartbeat deadline has elapsed but the three-miss eviction threshold has
// not yet been reached.
func (r *Registry) MarkDead(nodeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n, ok := r.nodes[nodeID]; ok {
		n.IsAlive = false
	}
}

// Snapshot returns a shallow copy of all registered node ids and their
// lastSeenAt, for the health monitor's per-tick fan-out.
func (r *Registry) Snapshot() []Node {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Node, 0, len(r.nodes))
	for _, n := range r.nodes {
		out = append(out, *n)
	}
	return out
}

// Clear removes every registered node and index entry, used on gateway
// shutdown.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nodes = make(map[string]*Node)
	r.agentIndex = make(map[string]string)
}
