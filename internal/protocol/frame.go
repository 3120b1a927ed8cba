package protocol

// Capabilities describes what a worker node offers at registration time.
type Capabilities struct {
	AgentTypes     []string `json:"agentTypes,omitempty"`
	Tools          []string `json:"tools,omitempty"`
	MaxConcurrency int      `json:"maxConcurrency,omitempty"`
	Channels       []string `json:"channels,omitempty"`
}

// NodeRegister is the `node.register` inbound frame.
type NodeRegister struct {
	Kind         string       `json:"kind"`
	NodeID       string       `json:"nodeId"`
	Capabilities Capabilities `json:"capabilities"`
	Token        string       `json:"token,omitempty"`
	Signature    string       `json:"signature,omitempty"`
	PublicKey    string       `json:"publicKey,omitempty"`
}

// NodeRegisterAck is the `node.register.ack` outbound frame.
type NodeRegisterAck struct {
	Kind      string `json:"kind"`
	NodeID    string `json:"nodeId"`
	SessionID string `json:"sessionId"`
}

// NodeDeregister is the `node.deregister` inbound frame.
type NodeDeregister struct {
	Kind   string `json:"kind"`
	NodeID string `json:"nodeId"`
	Reason string `json:"reason,omitempty"`
}

// HeartbeatPing is the `heartbeat.ping` outbound frame.
type HeartbeatPing struct {
	Kind      string `json:"kind"`
	Timestamp int64  `json:"timestamp"`
}

// HeartbeatPong is the `heartbeat.pong` inbound frame.
type HeartbeatPong struct {
	Kind      string `json:"kind"`
	Timestamp int64  `json:"timestamp"`
}

// RoutingContext carries the attributes the router and binding resolver
// match against.
type RoutingContext struct {
	PeerID      string `json:"peerId,omitempty"`
	GroupID     string `json:"groupId,omitempty"`
	AccountID   string `json:"accountId,omitempty"`
	MessageType string `json:"messageType,omitempty"` // "dm" or "group"
}

// LaneMessage is the queued-message payload shared by inbound/outbound
// `lane.message` frames.
type LaneMessage struct {
	ID             string          `json:"id"`
	Lane           string          `json:"lane"` // "steer", "collect", "followup"
	ChannelID      string          `json:"channelId"`
	Payload        interface{}     `json:"payload"`
	Timestamp      int64           `json:"timestamp"`
	RoutingContext *RoutingContext `json:"routingContext,omitempty"`
}

// LaneMessageFrame is the `lane.message` in/out frame.
type LaneMessageFrame struct {
	Kind    string      `json:"kind"`
	Lane    string      `json:"lane"`
	Message LaneMessage `json:"message"`
}

// LaneMessageAck is the `lane.message.ack` inbound frame.
type LaneMessageAck struct {
	Kind      string `json:"kind"`
	MessageID string `json:"messageId"`
}

// SessionUpdate is the `session.update` outbound frame.
type SessionUpdate struct {
	Kind      string `json:"kind"`
	NodeID    string `json:"nodeId"`
	SessionID string `json:"sessionId"`
	State     string `json:"state"`
}

// Identity is the small worker-supplied identity record.
type Identity struct {
	DisplayName string `json:"displayName,omitempty"`
	Avatar      string `json:"avatar,omitempty"`
	ChannelType string `json:"channelType,omitempty"`
	AgentID     string `json:"agentId,omitempty"`
}

// SessionIdentityUpdate is the `session.identity.update` in/out frame.
type SessionIdentityUpdate struct {
	Kind     string   `json:"kind"`
	NodeID   string   `json:"nodeId"`
	Identity Identity `json:"identity"`
}

// ErrorDetail is the body of an `error` frame.
type ErrorDetail struct {
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// ErrorFrame is the `error` outbound frame.
type ErrorFrame struct {
	Kind  string      `json:"kind"`
	Error ErrorDetail `json:"error"`
}

// DelegationRequest is the `delegation.request` in/out frame.
type DelegationRequest struct {
	Kind           string      `json:"kind"`
	DelegationID   string      `json:"delegationId"`
	FromAgentID    string      `json:"fromAgentId"`
	ToAgentID      string      `json:"toAgentId"`
	Task           interface{} `json:"task"`
}

// DelegationAccept is the `delegation.accept` in/out frame.
type DelegationAccept struct {
	Kind         string `json:"kind"`
	DelegationID string `json:"delegationId"`
}

// DelegationResult is the `delegation.result` in/out frame.
type DelegationResult struct {
	Kind         string      `json:"kind"`
	DelegationID string      `json:"delegationId"`
	Result       interface{} `json:"result,omitempty"`
	Error        string      `json:"error,omitempty"`
}

// DelegationCancel is the `delegation.cancel` in/out frame.
type DelegationCancel struct {
	Kind         string `json:"kind"`
	DelegationID string `json:"delegationId"`
	Reason       string `json:"reason,omitempty"`
}

// NewErrorFrame builds an `error` frame for a given HTTP-style status/title.
func NewErrorFrame(title string, status int, detail string) ErrorFrame {
	return ErrorFrame{
		Kind: KindError,
		Error: ErrorDetail{
			Title:  title,
			Status: status,
			Detail: detail,
		},
	}
}
