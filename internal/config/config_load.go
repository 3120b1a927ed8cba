package config

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults for a single-process
// deployment.
func Default() *Config {
	return &Config{
		Port:                     18790,
		SessionTimeoutMs:         300_000,
		SuspendTimeoutMs:         120_000,
		HealthCheckIntervalMs:    30_000,
		LaneCapacity:             100,
		MaxConnections:           1024,
		MaxFramesPerSecond:       50,
		DefaultConversationScope: "per-channel-peer",
		MaxConversations:         10_000,
		ConversationTtlMs:        int((24 * 3_600_000)),
		Auth: AuthConfig{
			Mode: "legacy",
			DeviceAuth: DeviceAuthConfig{
				AllowTofu:     true,
				MaxDeviceKeys: 500,
				JWTMaxAgeMs:   300_000,
			},
		},
		Pairing: PairingConfig{
			ExpiryMs:    600_000,
			MaxAttempts: 5,
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars. A missing
// file is not an error: defaults plus env overrides are returned.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config. Env vars take
// precedence over file values and are the only source for secrets.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	envStr("GATEWAYD_NEXUS_URL", &c.NexusURL)
	envStr("GATEWAYD_NEXUS_API_KEY", &c.NexusAPIKey)
	envStr("GATEWAYD_SHARED_SECRET", &c.Auth.SharedSecret)
	envStr("GATEWAYD_AUTH_MODE", &c.Auth.Mode)

	if v := os.Getenv("GATEWAYD_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.Port = port
		}
	}
	if v := os.Getenv("GATEWAYD_ALLOWED_ORIGINS"); v != "" {
		c.AllowedOrigins = strings.Split(v, ",")
	}
	if v := os.Getenv("GATEWAYD_TOFU"); v != "" {
		c.Auth.DeviceAuth.AllowTofu = v == "true" || v == "1"
	}
}

// Save writes the config to a JSON file.
func Save(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// Hash returns a SHA-256 hash of the config for optimistic concurrency /
// change detection on reload.
func (c *Config) Hash() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, _ := json.Marshal(c)
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:8])
}
