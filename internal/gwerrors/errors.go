// Package gwerrors is the flat error taxonomy used across the gateway.
//
// Every error the gateway core emits is identified by an uppercase Code and
// carries the HTTP-style status, gRPC-style code, and domain an observer
// pipeline needs to classify it, plus an IsExpected flag distinguishing
// routine rejections (bad auth, full lane) from genuine bugs.
package gwerrors

import "fmt"

// Code is one member of the flat error taxonomy.
type Code string

const (
	// Auth domain
	CodeAuthTokenMissing   Code = "AUTH_TOKEN_MISSING"
	CodeAuthTokenInvalid   Code = "AUTH_TOKEN_INVALID"
	CodeAuthTokenExpired   Code = "AUTH_TOKEN_EXPIRED"
	CodeAuthInsufficient   Code = "AUTH_INSUFFICIENT_SCOPE"
	CodeAuthForbidden      Code = "AUTH_FORBIDDEN"
	CodeAuthKeyMismatch    Code = "AUTH_KEY_MISMATCH"
	CodeAuthTofuDisabled   Code = "AUTH_TOFU_DISABLED"

	// Registration domain
	CodeNodeAlreadyRegistered Code = "NODE_ALREADY_REGISTERED"
	CodeNodeNotFound          Code = "NODE_NOT_FOUND"
	CodeAgentNotFound         Code = "AGENT_NOT_FOUND"
	CodeCrossNodeDeregister   Code = "CROSS_NODE_DEREGISTER"
	CodeHeartbeatTimeout      Code = "HEARTBEAT_TIMEOUT"

	// Routing domain
	CodeLaneOverflow       Code = "LANE_OVERFLOW"
	CodeRoutingFailed      Code = "MESSAGE_ROUTING_FAILED"
	CodePairingRequired    Code = "PAIRING_REQUIRED"
	CodePairingExpired     Code = "PAIRING_EXPIRED"
	CodeRateLimited        Code = "RATE_LIMITED"

	// Session domain
	CodeInvalidTransition Code = "INVALID_TRANSITION"
	CodeSessionExpired    Code = "SESSION_EXPIRED"

	// Conversation domain
	CodeMissingPeerID    Code = "MISSING_PEER_ID"
	CodeMissingAccountID Code = "MISSING_ACCOUNT_ID"

	// Protocol domain
	CodeParseError        Code = "PARSE_ERROR"
	CodeSchemaError       Code = "SCHEMA_ERROR"
	CodeFrameTooLarge     Code = "FRAME_TOO_LARGE"
	CodeConnectionLimit   Code = "CONNECTION_LIMIT_REACHED"

	// Config domain
	CodeInvalidConfig Code = "INVALID_CONFIG"
	CodeReloadFailed  Code = "RELOAD_FAILED"
)

// Domain groups codes for the observer pipeline.
type Domain string

const (
	DomainAuth         Domain = "auth"
	DomainRegistration Domain = "registration"
	DomainRouting      Domain = "routing"
	DomainSession      Domain = "session"
	DomainConversation Domain = "conversation"
	DomainProtocol     Domain = "protocol"
	DomainConfig       Domain = "config"
)

// GatewayError is the concrete error type every taxonomy entry produces.
type GatewayError struct {
	Code       Code
	Status     int
	GRPCCode   string
	Domain     Domain
	IsExpected bool
	Detail     string
}

func (e *GatewayError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Detail)
	}
	return string(e.Code)
}

// Is supports errors.Is(err, &gwerrors.GatewayError{Code: ...}) style matching on Code.
func (e *GatewayError) Is(target error) bool {
	other, ok := target.(*GatewayError)
	if !ok {
		return false
	}
	return other.Code == e.Code
}

type def struct {
	status     int
	grpc       string
	domain     Domain
	isExpected bool
}

var catalog = map[Code]def{
	CodeAuthTokenMissing:      {401, "UNAUTHENTICATED", DomainAuth, true},
	CodeAuthTokenInvalid:      {401, "UNAUTHENTICATED", DomainAuth, true},
	CodeAuthTokenExpired:      {401, "UNAUTHENTICATED", DomainAuth, true},
	CodeAuthInsufficient:      {403, "PERMISSION_DENIED", DomainAuth, true},
	CodeAuthForbidden:         {403, "PERMISSION_DENIED", DomainAuth, true},
	CodeAuthKeyMismatch:       {403, "PERMISSION_DENIED", DomainAuth, true},
	CodeAuthTofuDisabled:      {403, "PERMISSION_DENIED", DomainAuth, true},
	CodeNodeAlreadyRegistered: {409, "ALREADY_EXISTS", DomainRegistration, true},
	CodeNodeNotFound:          {404, "NOT_FOUND", DomainRegistration, true},
	CodeAgentNotFound:         {404, "NOT_FOUND", DomainRegistration, true},
	CodeCrossNodeDeregister:   {403, "PERMISSION_DENIED", DomainRegistration, true},
	CodeHeartbeatTimeout:      {408, "DEADLINE_EXCEEDED", DomainRegistration, false},
	CodeLaneOverflow:          {503, "RESOURCE_EXHAUSTED", DomainRouting, true},
	CodeRoutingFailed:         {500, "INTERNAL", DomainRouting, false},
	CodePairingRequired:       {403, "PERMISSION_DENIED", DomainRouting, true},
	CodePairingExpired:        {410, "FAILED_PRECONDITION", DomainRouting, true},
	CodeRateLimited:           {429, "RESOURCE_EXHAUSTED", DomainRouting, true},
	CodeInvalidTransition:     {409, "FAILED_PRECONDITION", DomainSession, false},
	CodeSessionExpired:        {410, "FAILED_PRECONDITION", DomainSession, true},
	CodeMissingPeerID:         {500, "INVALID_ARGUMENT", DomainConversation, false},
	CodeMissingAccountID:      {200, "OK", DomainConversation, true},
	CodeParseError:            {400, "INVALID_ARGUMENT", DomainProtocol, true},
	CodeSchemaError:           {422, "INVALID_ARGUMENT", DomainProtocol, true},
	CodeFrameTooLarge:         {413, "INVALID_ARGUMENT", DomainProtocol, true},
	CodeConnectionLimit:       {503, "RESOURCE_EXHAUSTED", DomainProtocol, true},
	CodeInvalidConfig:         {400, "INVALID_ARGUMENT", DomainConfig, false},
	CodeReloadFailed:          {500, "INTERNAL", DomainConfig, false},
}

// New builds a GatewayError for code with an optional detail message.
func New(code Code, detail string) *GatewayError {
	d, ok := catalog[code]
	if !ok {
		d = def{status: 500, grpc: "UNKNOWN", domain: DomainProtocol, isExpected: false}
	}
	return &GatewayError{
		Code:       code,
		Status:     d.status,
		GRPCCode:   d.grpc,
		Domain:     d.domain,
		IsExpected: d.isExpected,
		Detail:     detail,
	}
}

// Newf is New with fmt.Sprintf-style detail formatting.
func Newf(code Code, format string, args ...interface{}) *GatewayError {
	return New(code, fmt.Sprintf(format, args...))
}
