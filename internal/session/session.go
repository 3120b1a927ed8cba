// Package session implements the per-node session finite state machine:
// connected ⇄ idle, connected/idle → suspended → connected (reconnect), and
// any state → disconnected (deregister), plus the small worker-supplied
// identity record.
package session

import (
	"reflect"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nodeway/gatewayd/internal/gwerrors"
	"github.com/nodeway/gatewayd/internal/protocol"
)

// State is one of the session FSM's states.
type State string

const (
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateIdle         State = "idle"
	StateSuspended    State = "suspended"
	StateDisconnected State = "disconnected"
)

// Session is the per-node session record.
type Session struct {
	SessionID       string
	NodeID          string
	State           State
	Identity        *protocol.Identity
	ConnectedAt     time.Time
	LastActivityAt  time.Time
	SessionTimeout  time.Duration
	SuspendTimeout  time.Duration

	mu          sync.Mutex
	idleTimer   *time.Timer
	suspendTimer *time.Timer
}

// Effect describes a side effect the manager wants the gateway to perform;
// the session/manager packages stay pure and independently testable, and
// effects are executed by the caller (gateway wiring), per the design note
// on keeping handlers side-effect-free.
type Effect struct {
	Kind           string // "sessionUpdate", "identityUpdate", "idleTimer", "suspendTimer"
	NodeID         string
	SessionID      string
	State          State
	Identity       protocol.Identity
}

// Manager owns every live session, keyed by nodeId.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	onIdleTimer    func(nodeID string)
	onSuspendTimer func(nodeID string)
}

// New builds an empty session manager. onIdleTimer/onSuspendTimer are
// invoked from the timer goroutine when a session's idle/suspend deadline
// elapses; the gateway wires them to its own effect dispatch.
func New(onIdleTimer, onSuspendTimer func(nodeID string)) *Manager {
	return &Manager{
		sessions:       make(map[string]*Session),
		onIdleTimer:    onIdleTimer,
		onSuspendTimer: onSuspendTimer,
	}
}

// Register creates a new connected session for nodeID, assigning a fresh
// session id and starting the idle timer.
func (m *Manager) Register(nodeID string, sessionTimeout, suspendTimeout time.Duration) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	s := &Session{
		SessionID:      uuid.NewString(),
		NodeID:         nodeID,
		State:          StateConnected,
		ConnectedAt:    now,
		LastActivityAt: now,
		SessionTimeout: sessionTimeout,
		SuspendTimeout: suspendTimeout,
	}
	m.sessions[nodeID] = s
	m.armIdleTimer(s)
	return s
}

func (m *Manager) armIdleTimer(s *Session) {
	if s.idleTimer != nil {
		s.idleTimer.Stop()
	}
	if m.onIdleTimer == nil || s.SessionTimeout <= 0 {
		return
	}
	nodeID := s.NodeID
	s.idleTimer = time.AfterFunc(s.SessionTimeout, func() {
		m.onIdleTimer(nodeID)
	})
}

func (m *Manager) armSuspendTimer(s *Session) {
	if s.suspendTimer != nil {
		s.suspendTimer.Stop()
	}
	if m.onSuspendTimer == nil || s.SuspendTimeout <= 0 {
		return
	}
	nodeID := s.NodeID
	s.suspendTimer = time.AfterFunc(s.SuspendTimeout, func() {
		m.onSuspendTimer(nodeID)
	})
}

// Get returns the session for nodeID.
func (m *Manager) Get(nodeID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[nodeID]
	return s, ok
}

// ToIdle transitions a connected session to idle on idle-timer expiry.
func (m *Manager) ToIdle(nodeID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[nodeID]
	if !ok {
		return nil, gwerrors.Newf(gwerrors.CodeNodeNotFound, "node %q not found", nodeID)
	}
	if s.State != StateConnected {
		return nil, gwerrors.Newf(gwerrors.CodeInvalidTransition, "cannot idle from %s", s.State)
	}
	s.State = StateIdle
	return s, nil
}

// Touch records activity, resetting the idle timer and, if the session was
// idle, returning it to connected.
func (m *Manager) Touch(nodeID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[nodeID]
	if !ok {
		return
	}
	s.LastActivityAt = time.Now()
	if s.State == StateIdle {
		s.State = StateConnected
	}
	m.armIdleTimer(s)
}

// Disconnect transitions connected/idle → suspended, starting the suspend
// timer and holding queues (the lane dispatcher is unaffected; the gateway
// simply stops delivering until the node reconnects).
func (m *Manager) Disconnect(nodeID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[nodeID]
	if !ok {
		return nil, gwerrors.Newf(gwerrors.CodeNodeNotFound, "node %q not found", nodeID)
	}
	if s.State != StateConnected && s.State != StateIdle {
		return nil, gwerrors.Newf(gwerrors.CodeInvalidTransition, "cannot suspend from %s", s.State)
	}
	s.State = StateSuspended
	m.armSuspendTimer(s)
	return s, nil
}

// Reconnect transitions suspended → connected for the same node id,
// canceling the suspend timer and resuming delivery.
func (m *Manager) Reconnect(nodeID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[nodeID]
	if !ok {
		return nil, gwerrors.Newf(gwerrors.CodeNodeNotFound, "node %q not found", nodeID)
	}
	if s.State != StateSuspended {
		return nil, gwerrors.Newf(gwerrors.CodeInvalidTransition, "cannot reconnect from %s", s.State)
	}
	if s.suspendTimer != nil {
		s.suspendTimer.Stop()
	}
	s.State = StateConnected
	s.LastActivityAt = time.Now()
	m.armIdleTimer(s)
	return s, nil
}

// Deregister tears down a session unconditionally, from any state.
func (m *Manager) Deregister(nodeID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[nodeID]
	if !ok {
		return
	}
	if s.idleTimer != nil {
		s.idleTimer.Stop()
	}
	if s.suspendTimer != nil {
		s.suspendTimer.Stop()
	}
	s.State = StateDisconnected
	s.Identity = nil
	delete(m.sessions, nodeID)
}

// UpdateIdentity stores identity if it differs (deep equality) from the
// prior value, returning true iff it changed — the caller should emit
// `session.identity.update` only on a true return.
func (m *Manager) UpdateIdentity(nodeID string, identity protocol.Identity) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[nodeID]
	if !ok {
		return false, gwerrors.Newf(gwerrors.CodeNodeNotFound, "node %q not found", nodeID)
	}
	if s.Identity != nil && reflect.DeepEqual(*s.Identity, identity) {
		return false, nil
	}
	s.Identity = &identity
	return true, nil
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Clear stops every live timer and discards all sessions, used on gateway
// shutdown.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.idleTimer != nil {
			s.idleTimer.Stop()
		}
		if s.suspendTimer != nil {
			s.suspendTimer.Stop()
		}
	}
	m.sessions = make(map[string]*Session)
}
