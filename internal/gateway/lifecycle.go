package gateway

import (
	"context"
	"log/slog"
	"time"

	"github.com/nodeway/gatewayd/internal/gwerrors"
	"github.com/nodeway/gatewayd/internal/lane"
	"github.com/nodeway/gatewayd/internal/protocol"
	"github.com/nodeway/gatewayd/internal/session"
)

// pingNode sends a heartbeat.ping to nodeID and waits for the matching
// heartbeat.pong, up to one health-check interval. Satisfies health.Pinger; a
// timeout or unresolvable connection counts as a missed beat for that tick.
func (g *Gateway) pingNode(ctx context.Context, nodeID string) error {
	connID := g.connForNode(nodeID)
	if connID == "" {
		return gwerrors.Newf(gwerrors.CodeNodeNotFound, "node %q has no live connection", nodeID)
	}

	wait := make(chan struct{})
	g.pongMu.Lock()
	g.pongWait[nodeID] = wait
	g.pongMu.Unlock()
	defer func() {
		g.pongMu.Lock()
		delete(g.pongWait, nodeID)
		g.pongMu.Unlock()
	}()

	raw, err := g.encode(protocol.HeartbeatPing{Kind: protocol.KindHeartbeatPing, Timestamp: time.Now().UnixMilli()})
	if err != nil {
		return err
	}
	g.transport.SendFrame(connID, raw)

	timeout := time.NewTimer(g.healthCheckInterval())
	defer timeout.Stop()

	select {
	case <-wait:
		g.Registry.MarkSeen(nodeID, time.Now().UnixMilli())
		return nil
	case <-timeout.C:
		return gwerrors.New(gwerrors.CodeHeartbeatTimeout, "no pong received")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// resolvePong wakes up a pingNode call waiting on nodeID's pong channel, if
// any is outstanding.
func (g *Gateway) resolvePong(nodeID string) {
	g.pongMu.Lock()
	ch, ok := g.pongWait[nodeID]
	if ok {
		delete(g.pongWait, nodeID)
	}
	g.pongMu.Unlock()
	if ok {
		close(ch)
	}
}

// onIdleTimer fires when a connected session's idle timer elapses, per the
// session FSM's connected -> idle transition.
func (g *Gateway) onIdleTimer(nodeID string) {
	s, err := g.Sessions.ToIdle(nodeID)
	if err != nil {
		return
	}
	g.broadcastSessionUpdate(nodeID, s.SessionID, s.State)
}

// onSuspendTimer fires when a suspended session's suspend timer elapses
// without a reconnect: the node is torn down entirely.
func (g *Gateway) onSuspendTimer(nodeID string) {
	g.teardownNode(nodeID, "suspend timeout elapsed")
}

// onLaneOverflow is wired as the lane dispatcher's overflow callback.
func (g *Gateway) onLaneOverflow(ev lane.OverflowEvent) {
	slog.Warn("lane.overflow", "lane", ev.Lane, "nodeId", ev.NodeID, "capacity", ev.Capacity)
	g.Events.Broadcast(Event{Name: protocol.EventLaneOverflow, Payload: ev})
}

// onNodeSuspendByHealth fires on a node's second consecutive missed heartbeat: the
// session moves to suspended but the node's queued state is retained.
func (g *Gateway) onNodeSuspendByHealth(nodeID string) {
	g.Registry.MarkDead(nodeID)
	if s, err := g.Sessions.Disconnect(nodeID); err == nil {
		g.broadcastSessionUpdate(nodeID, s.SessionID, s.State)
	}
}

// onNodeDeregisterByHealth fires once a node has missed three consecutive
// heartbeats: it is torn down unconditionally.
func (g *Gateway) onNodeDeregisterByHealth(nodeID string) {
	g.teardownNode(nodeID, "heartbeat timeout")
}

// teardownNode discards every piece of process-wide state for nodeID,
// honoring the lock ordering auth -> registry -> session -> dispatcher ->
// tracker -> router -> conversationStore -> pairingGuard.
func (g *Gateway) teardownNode(nodeID string, reason string) {
	g.Verifier.Keys().MarkDisconnected(nodeID)
	g.Registry.Deregister(nodeID)
	g.Sessions.Deregister(nodeID)
	g.Dispatcher.Drain(nodeID)
	g.Tracker.RemoveNode(nodeID)
	g.Conversations.EvictNode(nodeID)

	connID := g.connForNode(nodeID)
	if connID != "" {
		g.unbindConn(connID)
		g.transport.CloseClient(connID, 1001, reason)
	}
	slog.Info("node torn down", "nodeId", nodeID, "reason", reason)
}

// handleDisconnect is wired as the transport server's DisconnectHandler; a
// raw socket close (network drop, client exit) is treated the same as a
// missed-heartbeat suspend, giving the node a chance to reconnect within its
// suspend window before teardownNode runs.
func (g *Gateway) handleDisconnect(connID string, code int, reason string) {
	nodeID, ok := g.unbindConn(connID)
	if !ok {
		return
	}
	if s, err := g.Sessions.Disconnect(nodeID); err == nil {
		g.broadcastSessionUpdate(nodeID, s.SessionID, s.State)
	}
}

func (g *Gateway) broadcastSessionUpdate(nodeID, sessionID string, state session.State) {
	frame := protocol.SessionUpdate{
		Kind:      protocol.KindSessionUpdate,
		NodeID:    nodeID,
		SessionID: sessionID,
		State:     string(state),
	}
	raw, err := g.encode(frame)
	if err != nil {
		return
	}
	if connID := g.connForNode(nodeID); connID != "" {
		g.transport.SendFrame(connID, raw)
	}
	g.Events.Broadcast(Event{Name: "session.update", Payload: frame})
}

// sweepConversations prunes expired conversation bindings, piggybacked on
// the health monitor's tick.
func (g *Gateway) sweepConversations() {
	if n := g.Conversations.Sweep(); n > 0 {
		slog.Debug("conversation store swept", "removed", n)
	}
}

// sweepPairing prunes expired one-shot pairing codes, piggybacked on the
// health monitor's tick.
func (g *Gateway) sweepPairing() {
	if n := g.Pairing.Sweep(); n > 0 {
		slog.Debug("pairing guard swept", "removed", n)
	}
}
