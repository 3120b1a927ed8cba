// Package auth implements the connection-acceptance verifier: shared-secret
// ("legacy"), Ed25519 JWT with Trust-On-First-Use ("ed25519"), or both
// ("dual").
package auth

import (
	"crypto/ed25519"
	"crypto/subtle"
	"encoding/base64"
	"log/slog"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/nodeway/gatewayd/internal/gwerrors"
)

// Mode selects which credential types the verifier accepts.
type Mode string

const (
	ModeLegacy  Mode = "legacy"
	ModeEd25519 Mode = "ed25519"
	ModeDual    Mode = "dual"
)

// Credentials is the subset of a node.register frame the verifier needs.
type Credentials struct {
	NodeID    string
	Token     string // legacy shared secret
	Signature string // ed25519 JWT
	PublicKey string // base64-encoded ed25519 public key, first-seen only
}

// Verifier validates node registration credentials per the configured mode.
type Verifier struct {
	mode         Mode
	sharedSecret string
	allowTofu    bool
	jwtMaxAge    time.Duration
	keys         *KeyStore

	warnedMu sync.Mutex
	warned   map[string]struct{}
}

// Config parameterizes a Verifier.
type Config struct {
	Mode          Mode
	SharedSecret  string
	AllowTofu     bool
	MaxDeviceKeys int
	JWTMaxAge     time.Duration
	KnownKeys     map[string]ed25519.PublicKey
}

// New builds a Verifier, pre-seeding the key store with any known keys.
func New(cfg Config) *Verifier {
	ks := NewKeyStore(cfg.MaxDeviceKeys)
	for nodeID, key := range cfg.KnownKeys {
		ks.Pin(nodeID, key)
	}
	return &Verifier{
		mode:         cfg.Mode,
		sharedSecret: cfg.SharedSecret,
		allowTofu:    cfg.AllowTofu,
		jwtMaxAge:    cfg.JWTMaxAge,
		keys:         ks,
		warned:       make(map[string]struct{}),
	}
}

// Verify validates creds against the configured mode, returning nil on
// success or a *gwerrors.GatewayError describing the failure.
func (v *Verifier) Verify(creds Credentials) error {
	switch v.mode {
	case ModeLegacy:
		return v.verifyLegacy(creds)
	case ModeEd25519:
		return v.verifyEd25519(creds)
	case ModeDual:
		if creds.Signature != "" {
			return v.verifyEd25519(creds)
		}
		if err := v.verifyLegacy(creds); err != nil {
			return err
		}
		v.warnLegacyOnce(creds.NodeID)
		return nil
	default:
		return gwerrors.Newf(gwerrors.CodeInvalidConfig, "unknown auth mode %q", v.mode)
	}
}

func (v *Verifier) verifyLegacy(creds Credentials) error {
	if creds.Token == "" {
		return gwerrors.New(gwerrors.CodeAuthTokenMissing, "token required")
	}
	if subtle.ConstantTimeCompare([]byte(creds.Token), []byte(v.sharedSecret)) != 1 {
		return gwerrors.New(gwerrors.CodeAuthTokenInvalid, "token mismatch")
	}
	return nil
}

type nodeClaims struct {
	jwt.RegisteredClaims
}

func (v *Verifier) verifyEd25519(creds Credentials) error {
	if creds.Signature == "" {
		return gwerrors.New(gwerrors.CodeAuthTokenMissing, "signature required")
	}

	pinned, ok := v.keys.Get(creds.NodeID)
	if !ok {
		if creds.PublicKey == "" {
			return gwerrors.New(gwerrors.CodeAuthTokenInvalid, "no public key presented")
		}
		if !v.allowTofu {
			return gwerrors.New(gwerrors.CodeAuthTofuDisabled, "unknown node and TOFU disabled")
		}
		key, err := decodePublicKey(creds.PublicKey)
		if err != nil {
			return gwerrors.Newf(gwerrors.CodeAuthTokenInvalid, "invalid public key: %v", err)
		}
		v.keys.Pin(creds.NodeID, key)
		pinned = key
	} else if creds.PublicKey != "" {
		presented, err := decodePublicKey(creds.PublicKey)
		if err != nil || !ed25519.PublicKey(presented).Equal(pinned) {
			return gwerrors.New(gwerrors.CodeAuthKeyMismatch, "key mismatch")
		}
	}

	var claims nodeClaims
	_, err := jwt.ParseWithClaims(creds.Signature, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, gwerrors.New(gwerrors.CodeAuthTokenInvalid, "unexpected signing method")
		}
		return pinned, nil
	})
	if err != nil {
		return gwerrors.Newf(gwerrors.CodeAuthTokenInvalid, "jwt verification failed: %v", err)
	}
	if claims.Subject != creds.NodeID {
		return gwerrors.New(gwerrors.CodeAuthTokenInvalid, "subject does not match nodeId")
	}
	if claims.IssuedAt != nil && v.jwtMaxAge > 0 {
		if time.Since(claims.IssuedAt.Time) > v.jwtMaxAge {
			return gwerrors.New(gwerrors.CodeAuthTokenExpired, "jwt exceeds max age")
		}
	}
	return nil
}

func (v *Verifier) warnLegacyOnce(nodeID string) {
	v.warnedMu.Lock()
	defer v.warnedMu.Unlock()
	if _, ok := v.warned[nodeID]; ok {
		return
	}
	v.warned[nodeID] = struct{}{}
	slog.Warn("auth.legacy_deprecated", "nodeId", nodeID)
}

// Keys exposes the underlying key store so the gateway can mark
// connected/disconnected state for eviction protection.
func (v *Verifier) Keys() *KeyStore {
	return v.keys
}

func decodePublicKey(encoded string) (ed25519.PublicKey, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, err
	}
	return ed25519.PublicKey(raw), nil
}
