// Package router resolves an inbound lane message to a target node and,
// when scoped conversation routing is requested, a conversation key —
// owning the channel-binding table, an optional agent-binding resolver, and
// the conversation store.
package router

import (
	"fmt"

	"github.com/nodeway/gatewayd/internal/binding"
	"github.com/nodeway/gatewayd/internal/gwerrors"
	"github.com/nodeway/gatewayd/internal/lane"
	"github.com/nodeway/gatewayd/internal/protocol"
)

// AgentNodeResolver maps an agent id to the node currently serving it. The
// node registry satisfies this.
type AgentNodeResolver func(agentID string) (nodeID string, ok bool)

// DispatcherExists reports whether a dispatcher is wired for nodeID (i.e.
// the node is registered and has live queues).
type DispatcherExists func(nodeID string) bool

// ScopeResolver returns the effective conversation scope for an agent id.
type ScopeResolver func(agentID string) string

// DegradationFunc is invoked when routeWithScope had to downgrade the
// requested scope.
type DegradationFunc func(agentID string, warnings []string)

// Router owns channel bindings, the optional agent-binding resolver, and the
// conversation store.
type Router struct {
	channelBindings map[string]string

	Resolver         *binding.Resolver // optional
	AgentResolver    AgentNodeResolver // optional
	HasDispatcher    DispatcherExists
	Dispatcher       *lane.Dispatcher
	Conversations    *ConversationStore // optional
	Scope            ScopeResolver
	OnDegradation    DegradationFunc
}

// New builds a router. Resolver, AgentResolver, Conversations, and
// OnDegradation may be left nil/unset for a router that only uses static
// channel bindings.
func New(dispatcher *lane.Dispatcher, hasDispatcher DispatcherExists, scope ScopeResolver) *Router {
	return &Router{
		channelBindings: make(map[string]string),
		Dispatcher:      dispatcher,
		HasDispatcher:   hasDispatcher,
		Scope:           scope,
	}
}

// SetChannelBinding installs a static channelId -> nodeId mapping.
func (r *Router) SetChannelBinding(channelID, nodeID string) {
	r.channelBindings[channelID] = nodeID
}

// RouteResult is returned by RouteWithScope.
type RouteResult struct {
	NodeID         string
	Key            string
	EffectiveScope string
	Degraded       bool
	Warnings       []string
}

// Route resolves msg to a target node id and enqueues it on the selected
// lane. Precedence: binding resolver -> agent index -> channel bindings.
func (r *Router) Route(msg protocol.LaneMessage) (string, error) {
	nodeID, err := r.resolveNode(msg)
	if err != nil {
		return "", err
	}
	r.Dispatcher.Enqueue(nodeID, lane.Name(msg.Lane), msg)
	return nodeID, nil
}

func (r *Router) resolveNode(msg protocol.LaneMessage) (string, error) {
	if r.Resolver != nil && r.AgentResolver != nil {
		attrs := attrsFromMessage(msg)
		if agentID, ok := r.Resolver.Resolve(attrs); ok {
			nodeID, ok := r.AgentResolver(agentID)
			if !ok {
				return "", gwerrors.Newf(gwerrors.CodeAgentNotFound, "agent %q has no serving node", agentID)
			}
			if r.HasDispatcher != nil && !r.HasDispatcher(nodeID) {
				return "", gwerrors.Newf(gwerrors.CodeNodeNotFound, "node %q has no dispatcher", nodeID)
			}
			return nodeID, nil
		}
	}

	nodeID, ok := r.channelBindings[msg.ChannelID]
	if !ok {
		return "", gwerrors.Newf(gwerrors.CodeNodeNotFound, "no binding for channel %q", msg.ChannelID)
	}
	if r.HasDispatcher != nil && !r.HasDispatcher(nodeID) {
		return "", gwerrors.Newf(gwerrors.CodeNodeNotFound, "node %q has no dispatcher", nodeID)
	}
	return nodeID, nil
}

func attrsFromMessage(msg protocol.LaneMessage) binding.Attrs {
	a := binding.Attrs{ChannelID: msg.ChannelID}
	if msg.RoutingContext != nil {
		a.MessageType = msg.RoutingContext.MessageType
		a.PeerID = msg.RoutingContext.PeerID
		a.GroupID = msg.RoutingContext.GroupID
	}
	return a
}

// RouteWithScope performs Route and additionally establishes a conversation
// binding in the store, keyed by the effective scope for agentID.
func (r *Router) RouteWithScope(msg protocol.LaneMessage, agentID string) (RouteResult, error) {
	nodeID, err := r.Route(msg)
	if err != nil {
		return RouteResult{}, err
	}

	key, effectiveScope, degraded, warnings, err := r.scopeKey(msg, agentID)
	if err != nil {
		return RouteResult{}, err
	}

	if r.Conversations != nil {
		r.Conversations.Bind(key, nodeID)
	}

	if degraded && r.OnDegradation != nil {
		r.OnDegradation(agentID, warnings)
	}

	return RouteResult{
		NodeID:         nodeID,
		Key:            key,
		EffectiveScope: effectiveScope,
		Degraded:       degraded,
		Warnings:       warnings,
	}, nil
}

// ResolveConversation returns the scope key without performing routing or
// establishing a binding.
func (r *Router) ResolveConversation(msg protocol.LaneMessage, agentID string) (string, error) {
	key, _, _, _, err := r.scopeKey(msg, agentID)
	return key, err
}

func (r *Router) scopeKey(msg protocol.LaneMessage, agentID string) (key, effectiveScope string, degraded bool, warnings []string, err error) {
	scope := "main"
	if r.Scope != nil {
		scope = r.Scope(agentID)
	}
	effectiveScope = scope

	var peerOrGroup, messageType, channelID, accountID string
	if msg.RoutingContext != nil {
		messageType = msg.RoutingContext.MessageType
		channelID = msg.ChannelID
		accountID = msg.RoutingContext.AccountID
		if messageType == "group" {
			peerOrGroup = msg.RoutingContext.GroupID
		} else {
			peerOrGroup = msg.RoutingContext.PeerID
		}
	} else {
		channelID = msg.ChannelID
	}

	switch scope {
	case "main":
		key = fmt.Sprintf("agent:%s:main", agentID)
		return key, effectiveScope, false, nil, nil

	case "per-peer":
		if peerOrGroup == "" {
			return "", effectiveScope, false, nil, gwerrors.New(gwerrors.CodeMissingPeerID, "missing peerId")
		}
		key = fmt.Sprintf("agent:%s:%s:%s", agentID, messageType, peerOrGroup)
		return key, effectiveScope, false, nil, nil

	case "per-channel-peer":
		if peerOrGroup == "" {
			return "", effectiveScope, false, nil, gwerrors.New(gwerrors.CodeMissingPeerID, "missing peerId")
		}
		key = fmt.Sprintf("agent:%s:%s:%s:%s", agentID, channelID, messageType, peerOrGroup)
		return key, effectiveScope, false, nil, nil

	case "per-account-channel-peer":
		if peerOrGroup == "" {
			return "", effectiveScope, false, nil, gwerrors.New(gwerrors.CodeMissingPeerID, "missing peerId")
		}
		if accountID == "" {
			// Degrade to per-channel-peer and record a warning.
			effectiveScope = "per-channel-peer"
			key = fmt.Sprintf("agent:%s:%s:%s:%s", agentID, channelID, messageType, peerOrGroup)
			warnings = []string{"missing accountId: degraded to per-channel-peer"}
			return key, effectiveScope, true, warnings, nil
		}
		key = fmt.Sprintf("agent:%s:%s:%s:%s:%s", agentID, accountID, channelID, messageType, peerOrGroup)
		return key, effectiveScope, false, nil, nil

	default:
		key = fmt.Sprintf("agent:%s:main", agentID)
		effectiveScope = "main"
		return key, effectiveScope, false, nil, nil
	}
}
