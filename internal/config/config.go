// Package config holds the gateway's root configuration: JSON5 file plus
// environment overlay, with an atomic hot-reload path for the fields that
// must never be observed half-updated (bindings, conversation scope).
package config

import (
	"encoding/json"
	"fmt"
	"sync"
)

// FlexibleStringSlice accepts both ["str"] and [123] in JSON.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

// Config is the root configuration for the gateway.
type Config struct {
	Port        int    `json:"port"`
	NexusURL    string `json:"nexusUrl,omitempty"`
	NexusAPIKey string `json:"-"` // from env GATEWAYD_NEXUS_API_KEY only

	SessionTimeoutMs      int `json:"sessionTimeoutMs,omitempty"`
	SuspendTimeoutMs      int `json:"suspendTimeoutMs,omitempty"`
	HealthCheckIntervalMs int `json:"healthCheckIntervalMs,omitempty"`

	LaneCapacity       int `json:"laneCapacity,omitempty"`
	MaxConnections     int `json:"maxConnections,omitempty"`
	MaxFramesPerSecond int `json:"maxFramesPerSecond,omitempty"`

	DefaultConversationScope string            `json:"defaultConversationScope,omitempty"`
	AgentConversationScopes  map[string]string `json:"agentConversationScopes,omitempty"`
	MaxConversations         int               `json:"maxConversations,omitempty"`
	ConversationTtlMs        int               `json:"conversationTtlMs,omitempty"`

	Auth    AuthConfig    `json:"auth"`
	Pairing PairingConfig `json:"pairing,omitempty"`

	Bindings []AgentBinding `json:"bindings,omitempty"`

	AllowedOrigins []string `json:"allowedOrigins,omitempty"`

	mu sync.RWMutex
}

// AuthConfig selects and parameterizes the connection-acceptance mode.
type AuthConfig struct {
	Mode         string           `json:"mode"` // "legacy", "ed25519", "dual"
	SharedSecret string           `json:"-"`    // from env GATEWAYD_SHARED_SECRET only
	DeviceAuth   DeviceAuthConfig `json:"deviceAuth,omitempty"`
}

// DeviceAuthConfig parameterizes ed25519/dual mode key management.
type DeviceAuthConfig struct {
	AllowTofu     bool              `json:"allowTofu,omitempty"`
	MaxDeviceKeys int               `json:"maxDeviceKeys,omitempty"`
	JWTMaxAgeMs   int               `json:"jwtMaxAgeMs,omitempty"`
	KnownKeys     map[string]string `json:"knownKeys,omitempty"` // nodeId -> base64 ed25519 public key
}

// PairingConfig parameterizes the out-of-band DM pairing gate.
type PairingConfig struct {
	Enabled     bool     `json:"enabled,omitempty"`
	Channels    []string `json:"channels,omitempty"`
	ExpiryMs    int      `json:"expiryMs,omitempty"`
	MaxAttempts int      `json:"maxAttempts,omitempty"`
}

// AgentBinding maps a channel/peer pattern to a specific agent.
type AgentBinding struct {
	AgentID string       `json:"agentId"`
	Match   BindingMatch `json:"match"`
}

// BindingMatch specifies what messages a binding applies to. Each non-empty
// field is a pattern: exact string, prefix (`foo-*`), suffix (`*-bar`), or
// catch-all (`*`). An empty BindingMatch matches everything.
type BindingMatch struct {
	Channel     string `json:"channel,omitempty"`
	MessageType string `json:"messageType,omitempty"` // "dm" or "group"
	PeerIDGlob  string `json:"peerIdGlob,omitempty"`
	GroupIDGlob string `json:"groupIdGlob,omitempty"`
}

// ReplaceFrom copies all data fields from src into c, preserving c's mutex.
// Callers that depend on bindings/conversation-scope hot-reload being atomic
// must go through this rather than assigning fields individually.
func (c *Config) ReplaceFrom(src *Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Port = src.Port
	c.NexusURL = src.NexusURL
	c.NexusAPIKey = src.NexusAPIKey
	c.SessionTimeoutMs = src.SessionTimeoutMs
	c.SuspendTimeoutMs = src.SuspendTimeoutMs
	c.HealthCheckIntervalMs = src.HealthCheckIntervalMs
	c.LaneCapacity = src.LaneCapacity
	c.MaxConnections = src.MaxConnections
	c.MaxFramesPerSecond = src.MaxFramesPerSecond
	c.DefaultConversationScope = src.DefaultConversationScope
	c.AgentConversationScopes = src.AgentConversationScopes
	c.MaxConversations = src.MaxConversations
	c.ConversationTtlMs = src.ConversationTtlMs
	c.Auth = src.Auth
	c.Pairing = src.Pairing
	c.Bindings = src.Bindings
	c.AllowedOrigins = src.AllowedOrigins
}

// EffectiveScope returns the conversation scope for agentID: a per-agent
// override if one is configured, otherwise the gateway default.
func (c *Config) EffectiveScope(agentID string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if scope, ok := c.AgentConversationScopes[agentID]; ok && scope != "" {
		return scope
	}
	return c.DefaultConversationScope
}

// SnapshotBindings returns a copy of the current binding list for the
// binding resolver to compile.
func (c *Config) SnapshotBindings() []AgentBinding {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]AgentBinding, len(c.Bindings))
	copy(out, c.Bindings)
	return out
}
