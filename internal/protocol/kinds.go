package protocol

// Frame kinds, the tagged-union discriminator carried in every wire frame's
// "kind" field.
const (
	KindNodeRegister          = "node.register"
	KindNodeRegisterAck       = "node.register.ack"
	KindNodeDeregister        = "node.deregister"
	KindHeartbeatPing         = "heartbeat.ping"
	KindHeartbeatPong         = "heartbeat.pong"
	KindLaneMessage           = "lane.message"
	KindLaneMessageAck        = "lane.message.ack"
	KindSessionUpdate         = "session.update"
	KindSessionIdentityUpdate = "session.identity.update"
	KindError                 = "error"
	KindDelegationRequest     = "delegation.request"
	KindDelegationAccept      = "delegation.accept"
	KindDelegationResult      = "delegation.result"
	KindDelegationCancel      = "delegation.cancel"
)

var knownKinds = map[string]bool{
	KindNodeRegister:          true,
	KindNodeRegisterAck:       true,
	KindNodeDeregister:        true,
	KindHeartbeatPing:         true,
	KindHeartbeatPong:         true,
	KindLaneMessage:           true,
	KindLaneMessageAck:        true,
	KindSessionUpdate:         true,
	KindSessionIdentityUpdate: true,
	KindError:                 true,
	KindDelegationRequest:     true,
	KindDelegationAccept:      true,
	KindDelegationResult:      true,
	KindDelegationCancel:      true,
}

// IsKnownKind reports whether kind is a recognized frame kind.
func IsKnownKind(kind string) bool {
	return knownKinds[kind]
}

// RPC method names for device pairing and liveness; the node/lane/session/
// delegation frame kinds above cover everything else this gateway handles.
const (
	MethodPairingRequest = "device.pair.request"
	MethodPairingApprove = "device.pair.approve"
	MethodPairingList    = "device.pair.list"
	MethodPairingRevoke  = "device.pair.revoke"
	MethodHeartbeat      = "heartbeat"
)

// Internal/outbound event names for node pairing and liveness concerns.
const (
	EventNodePairRequested = "node.pair.requested"
	EventNodePairResolved  = "node.pair.resolved"
	EventDevicePairReq     = "device.pair.requested"
	EventDevicePairRes     = "device.pair.resolved"
	EventConnectChallenge  = "connect.challenge"
	EventHeartbeat         = "heartbeat"

	// EventLaneOverflow is emitted when a lane dispatcher drops the oldest
	// queued message on overflow.
	EventLaneOverflow = "lane.overflow"
)
