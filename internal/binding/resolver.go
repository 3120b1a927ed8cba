// Package binding compiles AgentBinding match patterns into predicates and
// resolves a channel/peer/group attribute tuple to an agent id.
package binding

import (
	"strings"
	"sync/atomic"

	"github.com/nodeway/gatewayd/internal/config"
)

// Attrs is the tuple a binding match predicate is evaluated against.
type Attrs struct {
	ChannelID   string
	MessageType string // "dm" or "group"
	PeerID      string
	GroupID     string
}

type compiledBinding struct {
	agentID string
	match   func(Attrs) bool
}

// Resolver holds the currently-installed compiled binding table behind an
// atomic pointer so in-flight Resolve calls never observe a half-updated
// table, so a reload can never be observed half-applied.
type Resolver struct {
	table atomic.Pointer[[]compiledBinding]
}

// New builds a resolver with no bindings installed.
func New() *Resolver {
	r := &Resolver{}
	empty := []compiledBinding{}
	r.table.Store(&empty)
	return r
}

// UpdateBindings compiles a new binding list and installs it atomically.
func (r *Resolver) UpdateBindings(bindings []config.AgentBinding) {
	compiled := make([]compiledBinding, 0, len(bindings))
	for _, b := range bindings {
		compiled = append(compiled, compiledBinding{
			agentID: b.AgentID,
			match:   compileMatch(b.Match),
		})
	}
	r.table.Store(&compiled)
}

// Resolve scans bindings in insertion order and returns the first match's
// agent id, or ("", false) if none match.
func (r *Resolver) Resolve(attrs Attrs) (string, bool) {
	table := r.table.Load()
	if table == nil {
		return "", false
	}
	for _, cb := range *table {
		if cb.match(attrs) {
			return cb.agentID, true
		}
	}
	return "", false
}

func compileMatch(m config.BindingMatch) func(Attrs) bool {
	channelPred := compilePattern(m.Channel)
	typePred := compilePattern(m.MessageType)
	peerPred := compilePattern(m.PeerIDGlob)
	groupPred := compilePattern(m.GroupIDGlob)
	return func(a Attrs) bool {
		return channelPred(a.ChannelID) && typePred(a.MessageType) && peerPred(a.PeerID) && groupPred(a.GroupID)
	}
}

// compilePattern compiles a single glob-ish pattern into a predicate.
// Empty pattern matches anything (field not constrained by this binding).
func compilePattern(pattern string) func(string) bool {
	if pattern == "" || pattern == "*" {
		return func(string) bool { return true }
	}
	if strings.HasSuffix(pattern, "*") {
		prefix := strings.TrimSuffix(pattern, "*")
		return func(v string) bool { return strings.HasPrefix(v, prefix) }
	}
	if strings.HasPrefix(pattern, "*") {
		suffix := strings.TrimPrefix(pattern, "*")
		return func(v string) bool { return strings.HasSuffix(v, suffix) }
	}
	return func(v string) bool { return v == pattern }
}
