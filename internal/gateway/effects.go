package gateway

// EffectKind enumerates what a frame handler asked the transport layer to
// do. Handlers are pure functions over (connectionId, frame, *Gateway) that
// return effects instead of performing I/O themselves, keeping handler
// logic independently testable without a live socket.
type EffectKind string

const (
	EffectSendFrame EffectKind = "sendFrame"
	EffectClose     EffectKind = "close"
)

// Effect is one action for the gateway's applyEffects to execute.
type Effect struct {
	Kind        EffectKind
	ConnID      string
	NodeID      string // when set, sendFrame targets the node's connection instead of ConnID
	Frame       interface{}
	CloseCode   int
	CloseReason string
}

// applyEffects executes effects against the transport layer. Called once
// per inbound frame, after the pure handler has run.
func (g *Gateway) applyEffects(effects []Effect) {
	for _, eff := range effects {
		switch eff.Kind {
		case EffectSendFrame:
			g.sendFrame(eff, eff.Frame)
		case EffectClose:
			connID := eff.ConnID
			if connID == "" {
				connID = g.connForNode(eff.NodeID)
			}
			if connID != "" {
				g.transport.CloseClient(connID, eff.CloseCode, eff.CloseReason)
			}
		}
	}
}

func (g *Gateway) sendFrame(eff Effect, frame interface{}) {
	connID := eff.ConnID
	if connID == "" {
		connID = g.connForNode(eff.NodeID)
	}
	if connID == "" {
		return
	}
	raw, err := g.encode(frame)
	if err != nil {
		return
	}
	g.transport.SendFrame(connID, raw)
}
