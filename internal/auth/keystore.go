package auth

import (
	"crypto/ed25519"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// KeyStore is the nodeId → ed25519 public key pin table. Backed by an LRU
// cache capped at maxDeviceKeys; an OnEvict callback consults the live set
// of connected node ids so an actively connected node's key is never
// evicted — instead it is immediately re-inserted.
type KeyStore struct {
	mu        sync.Mutex
	cache     *lru.Cache[string, ed25519.PublicKey]
	connected map[string]struct{}
}

// NewKeyStore builds a key store capped at maxDeviceKeys (0 means
// unbounded — falls back to a large cap since the underlying LRU requires
// a positive size).
func NewKeyStore(maxDeviceKeys int) *KeyStore {
	if maxDeviceKeys <= 0 {
		maxDeviceKeys = 1 << 20
	}
	ks := &KeyStore{connected: make(map[string]struct{})}
	cache, _ := lru.NewWithEvict(maxDeviceKeys, ks.onEvict)
	ks.cache = cache
	return ks
}

func (ks *KeyStore) onEvict(nodeID string, key ed25519.PublicKey) {
	ks.mu.Lock()
	_, stillConnected := ks.connected[nodeID]
	ks.mu.Unlock()
	if stillConnected {
		// Re-insert: an actively connected node's pinned key must survive
		// LRU pressure. add() re-triggers eviction bookkeeping but will not
		// immediately re-evict the entry we just touched.
		ks.cache.Add(nodeID, key)
	}
}

// MarkConnected records that nodeID currently has a live connection,
// protecting its pinned key from eviction.
func (ks *KeyStore) MarkConnected(nodeID string) {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	ks.connected[nodeID] = struct{}{}
}

// MarkDisconnected clears the live-connection protection for nodeID.
func (ks *KeyStore) MarkDisconnected(nodeID string) {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	delete(ks.connected, nodeID)
}

// Get returns the pinned public key for nodeID, if any.
func (ks *KeyStore) Get(nodeID string) (ed25519.PublicKey, bool) {
	return ks.cache.Get(nodeID)
}

// Pin installs a public key for nodeID (first-seen TOFU pin, or a
// pre-registered known key).
func (ks *KeyStore) Pin(nodeID string, key ed25519.PublicKey) {
	ks.cache.Add(nodeID, key)
}
