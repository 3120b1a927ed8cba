package gateway

import (
	"log/slog"
	"time"

	"github.com/nodeway/gatewayd/internal/auth"
	"github.com/nodeway/gatewayd/internal/binding"
	"github.com/nodeway/gatewayd/internal/gwerrors"
	"github.com/nodeway/gatewayd/internal/lane"
	"github.com/nodeway/gatewayd/internal/protocol"
	"github.com/nodeway/gatewayd/internal/session"
)

// HandleFrame is the transport layer's onFrame callback: it peeks the
// frame's kind, decodes its typed body, and dispatches to the matching
// handler. Handlers compute a list of Effects rather than writing to the
// socket directly, so routing logic stays testable without a live
// connection (per the design note on side-effect-free handlers).
func (g *Gateway) HandleFrame(connID string, raw []byte) {
	kind, err := protocol.Peek(raw)
	if err != nil {
		g.reportFrameError(connID, err)
		return
	}

	var effects []Effect
	var decoded bool
	switch kind {
	case protocol.KindNodeRegister:
		effects, decoded = g.handleNodeRegister(connID, raw)
	case protocol.KindNodeDeregister:
		effects, decoded = g.handleNodeDeregister(connID, raw)
	case protocol.KindHeartbeatPong:
		effects, decoded = g.handleHeartbeatPong(connID, raw)
	case protocol.KindLaneMessage:
		effects, decoded = g.handleLaneMessage(connID, raw)
	case protocol.KindLaneMessageAck:
		effects, decoded = g.handleLaneMessageAck(connID, raw)
	case protocol.KindSessionIdentityUpdate:
		effects, decoded = g.handleIdentityUpdate(connID, raw)
	case protocol.KindDelegationRequest, protocol.KindDelegationAccept,
		protocol.KindDelegationResult, protocol.KindDelegationCancel:
		effects, decoded = g.handleDelegationRelay(connID, kind, raw)
	default:
		g.reportFrameError(connID, gwerrors.Newf(gwerrors.CodeSchemaError, "unhandled kind %q", kind))
		return
	}

	// NoteValidFrame must only fire for a frame whose body actually decoded;
	// reportFrameError already bumped the schema-error counter for a
	// malformed body, and resetting it here would make the consecutive-error
	// threshold unreachable for a known kind with a bad payload.
	if decoded {
		if c, ok := g.transportClient(connID); ok {
			c.NoteValidFrame()
		}
	}
	g.applyEffects(effects)
}

// reportFrameError records a schema/parse failure against the connection's
// consecutive-error counter and sends an `error` frame; the connection is
// force-closed only once the threshold is crossed.
func (g *Gateway) reportFrameError(connID string, err error) {
	gwErr, ok := err.(*gwerrors.GatewayError)
	if !ok {
		gwErr = gwerrors.New(gwerrors.CodeSchemaError, err.Error())
	}

	raw, encErr := g.encode(protocol.NewErrorFrame(string(gwErr.Code), gwErr.Status, gwErr.Detail))
	if encErr == nil {
		g.transport.SendFrame(connID, raw)
	}

	c, ok := g.transportClient(connID)
	if !ok {
		return
	}
	if c.NoteSchemaError() {
		g.transport.CloseClient(connID, 4400, "too many malformed frames")
	}
}

func (g *Gateway) transportClient(connID string) (clientLike, bool) {
	c, ok := g.transport.Client(connID)
	if !ok {
		return nil, false
	}
	return c, true
}

// clientLike narrows *transport.Client to the two methods handlers need,
// letting tests swap in a fake without importing the transport package.
type clientLike interface {
	NoteSchemaError() bool
	NoteValidFrame()
}

func (g *Gateway) handleNodeRegister(connID string, raw []byte) ([]Effect, bool) {
	var frame protocol.NodeRegister
	if err := protocol.Decode(raw, &frame); err != nil {
		g.reportFrameError(connID, err)
		return nil, false
	}

	creds := auth.Credentials{
		NodeID:    frame.NodeID,
		Token:     frame.Token,
		Signature: frame.Signature,
		PublicKey: frame.PublicKey,
	}
	if err := g.Verifier.Verify(creds); err != nil {
		closeCode := 4401
		if gwErr, ok := err.(*gwerrors.GatewayError); ok && gwErr.Status == 403 {
			closeCode = 4403
		}
		return []Effect{{Kind: EffectClose, ConnID: connID, CloseCode: closeCode, CloseReason: "authentication failed"}}, true
	}

	now := time.Now().UnixMilli()
	existing, hadSession := g.Sessions.Get(frame.NodeID)

	if hadSession && existing.State != session.StateSuspended {
		return []Effect{{Kind: EffectClose, ConnID: connID, CloseCode: 4403, CloseReason: "node already registered"}}, true
	}

	var sess *session.Session
	if hadSession && existing.State == session.StateSuspended {
		var err error
		sess, err = g.Sessions.Reconnect(frame.NodeID)
		if err != nil {
			return []Effect{{Kind: EffectClose, ConnID: connID, CloseCode: 4403, CloseReason: "reconnect failed"}}, true
		}
		_ = g.Registry.UpdateCapabilities(frame.NodeID, frame.Capabilities)
	} else {
		if err := g.Registry.Register(frame.NodeID, frame.Capabilities, now); err != nil {
			return []Effect{{Kind: EffectClose, ConnID: connID, CloseCode: 4403, CloseReason: "node already registered"}}, true
		}
		sess = g.Sessions.Register(frame.NodeID, g.sessionTimeout(), g.suspendTimeout())
	}

	g.bindConnNode(connID, frame.NodeID)
	g.Verifier.Keys().MarkConnected(frame.NodeID)
	g.Registry.MarkSeen(frame.NodeID, now)

	slog.Info("node registered", "nodeId", frame.NodeID, "connId", connID)

	return []Effect{{
		Kind:   EffectSendFrame,
		ConnID: connID,
		Frame: protocol.NodeRegisterAck{
			Kind:      protocol.KindNodeRegisterAck,
			NodeID:    frame.NodeID,
			SessionID: sess.SessionID,
		},
	}}, true
}

func (g *Gateway) handleNodeDeregister(connID string, raw []byte) ([]Effect, bool) {
	var frame protocol.NodeDeregister
	if err := protocol.Decode(raw, &frame); err != nil {
		g.reportFrameError(connID, err)
		return nil, false
	}

	boundNodeID, ok := g.nodeForConn(connID)
	if !ok {
		return g.errorEffect(connID, gwerrors.New(gwerrors.CodeAuthForbidden, "connection is not registered")), true
	}
	if frame.NodeID != boundNodeID {
		return []Effect{{Kind: EffectClose, ConnID: connID, CloseCode: 4403, CloseReason: "cross-node deregister"}}, true
	}

	g.teardownNode(boundNodeID, frame.Reason)
	return []Effect{{Kind: EffectClose, ConnID: connID, CloseCode: 1000, CloseReason: "deregistered"}}, true
}

func (g *Gateway) handleHeartbeatPong(connID string, raw []byte) ([]Effect, bool) {
	var frame protocol.HeartbeatPong
	if err := protocol.Decode(raw, &frame); err != nil {
		g.reportFrameError(connID, err)
		return nil, false
	}
	nodeID, ok := g.nodeForConn(connID)
	if !ok {
		return nil, true
	}
	g.Sessions.Touch(nodeID)
	g.resolvePong(nodeID)
	return nil, true
}

// handleLaneMessage accepts a message from a registered node and routes it
// to its destination node's lane queue. An unregistered connection cannot
// originate traffic (403); a message that cannot be routed to any node
// fails with MESSAGE_ROUTING_FAILED (500).
func (g *Gateway) handleLaneMessage(connID string, raw []byte) ([]Effect, bool) {
	var frame protocol.LaneMessageFrame
	if err := protocol.Decode(raw, &frame); err != nil {
		g.reportFrameError(connID, err)
		return nil, false
	}

	nodeID, ok := g.nodeForConn(connID)
	if !ok {
		return g.errorEffect(connID, gwerrors.New(gwerrors.CodeAuthForbidden, "connection is not registered")), true
	}

	msg := frame.Message
	if msg.Lane == "" {
		msg.Lane = frame.Lane
	}

	if msg.RoutingContext != nil && msg.RoutingContext.PeerID != "" {
		status := g.Pairing.CheckSender(nodeID, msg.ChannelID, msg.RoutingContext.PeerID, pairingPayload(msg))
		if status == "blocked" || status == "rate_limited" || status == "expired_code" {
			return g.errorEffect(connID, gwerrors.Newf(gwerrors.CodePairingRequired, "pairing status %s", status)), true
		}
	}

	agentID, _ := g.Resolver.Resolve(attrsFromLaneMessage(msg))

	result, err := g.Router.RouteWithScope(msg, agentID)
	if err != nil {
		return g.errorEffect(connID, gwerrors.Newf(gwerrors.CodeRoutingFailed, "message routing failed: %v", err)), true
	}

	g.Tracker.Track(result.NodeID, msg.ID, time.Now())

	return []Effect{{
		Kind:   EffectSendFrame,
		NodeID: result.NodeID,
		Frame: protocol.LaneMessageFrame{
			Kind:    protocol.KindLaneMessage,
			Lane:    string(lane.Name(msg.Lane)),
			Message: msg,
		},
	}}, true
}

func attrsFromLaneMessage(msg protocol.LaneMessage) binding.Attrs {
	a := binding.Attrs{ChannelID: msg.ChannelID}
	if msg.RoutingContext != nil {
		a.MessageType = msg.RoutingContext.MessageType
		a.PeerID = msg.RoutingContext.PeerID
		a.GroupID = msg.RoutingContext.GroupID
	}
	return a
}

func pairingPayload(msg protocol.LaneMessage) string {
	if s, ok := msg.Payload.(string); ok {
		return s
	}
	return ""
}

func (g *Gateway) handleLaneMessageAck(connID string, raw []byte) ([]Effect, bool) {
	var frame protocol.LaneMessageAck
	if err := protocol.Decode(raw, &frame); err != nil {
		g.reportFrameError(connID, err)
		return nil, false
	}
	nodeID, ok := g.nodeForConn(connID)
	if !ok {
		return nil, true
	}
	g.Tracker.Ack(nodeID, frame.MessageID)
	return nil, true
}

func (g *Gateway) handleIdentityUpdate(connID string, raw []byte) ([]Effect, bool) {
	var frame protocol.SessionIdentityUpdate
	if err := protocol.Decode(raw, &frame); err != nil {
		g.reportFrameError(connID, err)
		return nil, false
	}
	nodeID, ok := g.nodeForConn(connID)
	if !ok {
		return g.errorEffect(connID, gwerrors.New(gwerrors.CodeAuthForbidden, "connection is not registered")), true
	}
	changed, err := g.Sessions.UpdateIdentity(nodeID, frame.Identity)
	if err != nil || !changed {
		return nil, true
	}
	g.Events.Broadcast(Event{Name: "session.identity.update", Payload: frame})
	return nil, true
}

// handleDelegationRelay re-encodes a decoded delegation.* frame and sends it
// on: a request goes to the node currently serving its target agent (an
// error frame if none does); accept, result and cancel go to the sender's
// own node.
func (g *Gateway) handleDelegationRelay(connID string, kind string, raw []byte) ([]Effect, bool) {
	var delegationID, toAgentID string
	var payload interface{}

	switch kind {
	case protocol.KindDelegationRequest:
		var f protocol.DelegationRequest
		if err := protocol.Decode(raw, &f); err != nil {
			g.reportFrameError(connID, err)
			return nil, false
		}
		delegationID, toAgentID, payload = f.DelegationID, f.ToAgentID, f
	case protocol.KindDelegationAccept:
		var f protocol.DelegationAccept
		if err := protocol.Decode(raw, &f); err != nil {
			g.reportFrameError(connID, err)
			return nil, false
		}
		delegationID, payload = f.DelegationID, f
	case protocol.KindDelegationResult:
		var f protocol.DelegationResult
		if err := protocol.Decode(raw, &f); err != nil {
			g.reportFrameError(connID, err)
			return nil, false
		}
		delegationID, payload = f.DelegationID, f
	case protocol.KindDelegationCancel:
		var f protocol.DelegationCancel
		if err := protocol.Decode(raw, &f); err != nil {
			g.reportFrameError(connID, err)
			return nil, false
		}
		delegationID, payload = f.DelegationID, f
	}

	if toAgentID == "" {
		// accept/result/cancel relay back to whoever originated the delegation;
		// without a correlation table the gateway just echoes to the sender's
		// own node, which is correct when delegation stays within one node.
		if nodeID, ok := g.nodeForConn(connID); ok {
			return []Effect{{Kind: EffectSendFrame, NodeID: nodeID, Frame: payload}}, true
		}
		return nil, true
	}

	targetNode, ok := g.Registry.ResolveAgent(toAgentID)
	if !ok {
		return g.errorEffect(connID, gwerrors.Newf(gwerrors.CodeAgentNotFound, "delegation %s: agent %q has no serving node", delegationID, toAgentID)), true
	}
	return []Effect{{Kind: EffectSendFrame, NodeID: targetNode, Frame: payload}}, true
}

func (g *Gateway) errorEffect(connID string, err error) []Effect {
	gwErr, ok := err.(*gwerrors.GatewayError)
	if !ok {
		gwErr = gwerrors.New(gwerrors.CodeRoutingFailed, err.Error())
	}
	return []Effect{{
		Kind:   EffectSendFrame,
		ConnID: connID,
		Frame:  protocol.NewErrorFrame(string(gwErr.Code), gwErr.Status, gwErr.Detail),
	}}
}

func (g *Gateway) sessionTimeout() time.Duration {
	return time.Duration(g.cfg.SessionTimeoutMs) * time.Millisecond
}

func (g *Gateway) suspendTimeout() time.Duration {
	return time.Duration(g.cfg.SuspendTimeoutMs) * time.Millisecond
}

func (g *Gateway) healthCheckInterval() time.Duration {
	return time.Duration(g.cfg.HealthCheckIntervalMs) * time.Millisecond
}
