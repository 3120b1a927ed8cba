package binding

import (
	"testing"

	"github.com/nodeway/gatewayd/internal/config"
)

func TestResolve_NoBindings(t *testing.T) {
	r := New()
	if _, ok := r.Resolve(Attrs{ChannelID: "slack"}); ok {
		t.Fatal("expected no match with an empty binding table")
	}
}

func TestResolve_FirstMatchWins(t *testing.T) {
	r := New()
	r.UpdateBindings([]config.AgentBinding{
		{AgentID: "general", Match: config.BindingMatch{Channel: "slack"}},
		{AgentID: "research", Match: config.BindingMatch{Channel: "slack", PeerIDGlob: "u-research-*"}},
	})

	agentID, ok := r.Resolve(Attrs{ChannelID: "slack", PeerID: "u-research-42"})
	if !ok || agentID != "general" {
		t.Errorf("Resolve = (%q, %v), want (general, true) since bindings are scanned in order", agentID, ok)
	}
}

func TestResolve_GlobPrefixAndSuffix(t *testing.T) {
	r := New()
	r.UpdateBindings([]config.AgentBinding{
		{AgentID: "research", Match: config.BindingMatch{PeerIDGlob: "u-research-*"}},
		{AgentID: "support", Match: config.BindingMatch{GroupIDGlob: "*-support"}},
	})

	if agentID, ok := r.Resolve(Attrs{PeerID: "u-research-42"}); !ok || agentID != "research" {
		t.Errorf("prefix glob: got (%q, %v)", agentID, ok)
	}
	if agentID, ok := r.Resolve(Attrs{GroupID: "team-support"}); !ok || agentID != "support" {
		t.Errorf("suffix glob: got (%q, %v)", agentID, ok)
	}
	if _, ok := r.Resolve(Attrs{PeerID: "u-other-1"}); ok {
		t.Error("non-matching peer id should not resolve")
	}
}

func TestResolve_EmptyPatternMatchesAnything(t *testing.T) {
	r := New()
	r.UpdateBindings([]config.AgentBinding{
		{AgentID: "catchall", Match: config.BindingMatch{}},
	})

	agentID, ok := r.Resolve(Attrs{ChannelID: "anything", PeerID: "whoever"})
	if !ok || agentID != "catchall" {
		t.Errorf("Resolve = (%q, %v), want (catchall, true)", agentID, ok)
	}
}

func TestUpdateBindings_ReplacesTableAtomically(t *testing.T) {
	r := New()
	r.UpdateBindings([]config.AgentBinding{
		{AgentID: "old", Match: config.BindingMatch{Channel: "slack"}},
	})
	r.UpdateBindings([]config.AgentBinding{
		{AgentID: "new", Match: config.BindingMatch{Channel: "slack"}},
	})

	agentID, ok := r.Resolve(Attrs{ChannelID: "slack"})
	if !ok || agentID != "new" {
		t.Errorf("Resolve = (%q, %v), want (new, true) after replacing the table", agentID, ok)
	}
}
