// Package gateway wires every component — protocol, auth, registry,
// session, delivery, lane, binding, router, pairing, health, transport —
// into the running gateway and dispatches inbound frames by kind.
package gateway

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"log/slog"
	"sync"
	"time"

	"github.com/nodeway/gatewayd/internal/auth"
	"github.com/nodeway/gatewayd/internal/binding"
	"github.com/nodeway/gatewayd/internal/collab"
	"github.com/nodeway/gatewayd/internal/config"
	"github.com/nodeway/gatewayd/internal/delivery"
	"github.com/nodeway/gatewayd/internal/health"
	"github.com/nodeway/gatewayd/internal/lane"
	"github.com/nodeway/gatewayd/internal/pairing"
	"github.com/nodeway/gatewayd/internal/protocol"
	"github.com/nodeway/gatewayd/internal/registry"
	"github.com/nodeway/gatewayd/internal/router"
	"github.com/nodeway/gatewayd/internal/session"
	"github.com/nodeway/gatewayd/internal/transport"
)

// Gateway owns one instance of every routing/lifecycle component and
// dispatches inbound frames by kind.
type Gateway struct {
	cfg *config.Config

	Registry      *registry.Registry
	Sessions      *session.Manager
	Tracker       *delivery.Tracker
	Dispatcher    *lane.Dispatcher
	Resolver      *binding.Resolver
	Router        *router.Router
	Conversations *router.ConversationStore
	Pairing       *pairing.Guard
	Verifier      *auth.Verifier
	Health        *health.Monitor
	Events        *EventPublisher

	Memory    collab.MemoryStore
	Manifests collab.ManifestProvider
	Identity  collab.IdentityUpstream

	transport *transport.Server

	mu       sync.RWMutex
	connNode map[string]string // connId -> nodeId
	nodeConn map[string]string // nodeId -> connId

	pongMu   sync.Mutex
	pongWait map[string]chan struct{}

	maxFramesPerSecond int
}

// New builds a fully wired Gateway from cfg. Collaborators default to
// no-op stubs when nil (they run in separate services).
func New(cfg *config.Config, memory collab.MemoryStore, manifests collab.ManifestProvider, identity collab.IdentityUpstream) *Gateway {
	if memory == nil {
		memory = collab.NoopMemoryStore{}
	}
	if manifests == nil {
		manifests = collab.NoopManifestProvider{}
	}
	if identity == nil {
		identity = collab.NoopIdentityUpstream{}
	}

	g := &Gateway{
		cfg:       cfg,
		Registry:  registry.New(),
		Tracker:   delivery.New(1000),
		Resolver:  binding.New(),
		Events:    NewEventPublisher(),
		Memory:    memory,
		Manifests: manifests,
		Identity:  identity,
		connNode:  make(map[string]string),
		nodeConn:  make(map[string]string),
		pongWait:  make(map[string]chan struct{}),
		maxFramesPerSecond: cfg.MaxFramesPerSecond,
	}

	g.Dispatcher = lane.New(cfg.LaneCapacity, g.onLaneOverflow)

	g.Sessions = session.New(g.onIdleTimer, g.onSuspendTimer)

	g.Conversations = router.NewConversationStore(cfg.MaxConversations, time.Duration(cfg.ConversationTtlMs)*time.Millisecond)

	g.Router = router.New(g.Dispatcher, g.hasDispatcher, g.scopeFor)
	g.Router.Resolver = g.Resolver
	g.Router.AgentResolver = g.Registry.ResolveAgent
	g.Router.Conversations = g.Conversations
	g.Router.OnDegradation = g.onRouteDegraded
	g.Router.UpdateBindings(cfg.SnapshotBindings())

	knownKeys := make(map[string]ed25519.PublicKey, len(cfg.Auth.DeviceAuth.KnownKeys))
	for nodeID, encoded := range cfg.Auth.DeviceAuth.KnownKeys {
		if raw, err := base64.StdEncoding.DecodeString(encoded); err == nil {
			knownKeys[nodeID] = ed25519.PublicKey(raw)
		}
	}
	g.Verifier = auth.New(auth.Config{
		Mode:          auth.Mode(cfg.Auth.Mode),
		SharedSecret:  cfg.Auth.SharedSecret,
		AllowTofu:     cfg.Auth.DeviceAuth.AllowTofu,
		MaxDeviceKeys: cfg.Auth.DeviceAuth.MaxDeviceKeys,
		JWTMaxAge:     time.Duration(cfg.Auth.DeviceAuth.JWTMaxAgeMs) * time.Millisecond,
		KnownKeys:     knownKeys,
	})

	g.Pairing = pairing.New(cfg.Pairing.Channels, time.Duration(cfg.Pairing.ExpiryMs)*time.Millisecond, cfg.Pairing.MaxAttempts)

	g.Health = health.New(
		time.Duration(cfg.HealthCheckIntervalMs)*time.Millisecond,
		g.listNodeIDs,
		g.pingNode,
		g.onNodeSuspendByHealth,
		g.onNodeDeregisterByHealth,
		g.sweepConversations,
		g.sweepPairing,
	)

	g.transport = transport.New(transport.Config{
		Host:           "0.0.0.0",
		Port:           cfg.Port,
		AllowedOrigins: cfg.AllowedOrigins,
		BearerToken:    cfg.Auth.SharedSecret,
		RequireBearer:  auth.Mode(cfg.Auth.Mode) != auth.ModeEd25519,
	}, g.HandleFrame, g.handleDisconnect)

	return g
}

// UpdateBindings atomically re-installs the binding table, e.g. after a
// config reload.
func (g *Gateway) UpdateBindings(bindings []config.AgentBinding) {
	g.Resolver.UpdateBindings(bindings)
}

// Start begins serving WebSocket connections and the health-monitor tick.
func (g *Gateway) Start(ctx context.Context) error {
	g.Health.Start(ctx)
	return g.transport.Start(ctx)
}

// Stop is idempotent: it stops the health monitor, closes every live
// connection with close code 1001 (going away), waits for every in-flight
// frame-handling goroutine to drain, and only then clears all process-wide
// state.
func (g *Gateway) Stop(ctx context.Context) {
	g.Health.Stop()
	g.transport.CloseAll(1001, "gateway shutting down")
	g.transport.Wait()

	g.Registry.Clear()
	g.Sessions.Clear()
	g.Dispatcher.Clear()
	g.Tracker.Clear()
	g.Conversations.Clear()
	g.Pairing.Clear()
}

func (g *Gateway) encode(frame interface{}) ([]byte, error) {
	return protocol.Encode(frame)
}

func (g *Gateway) connForNode(nodeID string) string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.nodeConn[nodeID]
}

func (g *Gateway) nodeForConn(connID string) (string, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	nodeID, ok := g.connNode[connID]
	return nodeID, ok
}

func (g *Gateway) bindConnNode(connID, nodeID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.connNode[connID] = nodeID
	g.nodeConn[nodeID] = connID
}

func (g *Gateway) unbindConn(connID string) (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	nodeID, ok := g.connNode[connID]
	if !ok {
		return "", false
	}
	delete(g.connNode, connID)
	if g.nodeConn[nodeID] == connID {
		delete(g.nodeConn, nodeID)
	}
	return nodeID, true
}

func (g *Gateway) hasDispatcher(nodeID string) bool {
	_, ok := g.Registry.Get(nodeID)
	return ok
}

func (g *Gateway) scopeFor(agentID string) string {
	return g.cfg.EffectiveScope(agentID)
}

func (g *Gateway) listNodeIDs() []string {
	nodes := g.Registry.Snapshot()
	ids := make([]string, len(nodes))
	for i, n := range nodes {
		ids[i] = n.NodeID
	}
	return ids
}

func (g *Gateway) onRouteDegraded(agentID string, warnings []string) {
	slog.Warn("router.degraded", "agentId", agentID, "warnings", warnings)
}
