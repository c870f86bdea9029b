package call

import (
	"testing"

	"github.com/callyx/callyx/internal/agent"
)

func registrySession(callID string) *Session {
	stream := newFakeStream(callID, "default", nil)
	return NewSession(stream, agent.Config{ID: "default"}, Deps{}, Config{})
}

// TestRegistry_AddGetRemove verifies the live-session bookkeeping the
// readiness endpoint and graceful shutdown rely on.
func TestRegistry_AddGetRemove(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	if reg.Len() != 0 {
		t.Fatalf("fresh registry: want 0 sessions, got %d", reg.Len())
	}

	a := registrySession("call-a")
	b := registrySession("call-b")
	reg.Add(a)
	reg.Add(b)

	if reg.Len() != 2 {
		t.Errorf("after two adds: want 2 sessions, got %d", reg.Len())
	}
	if got, ok := reg.Get("call-a"); !ok || got != a {
		t.Errorf("Get(call-a): want the registered session, got %v (ok=%v)", got, ok)
	}
	if _, ok := reg.Get("call-x"); ok {
		t.Error("Get(call-x): want a miss")
	}

	reg.Remove("call-a")
	if _, ok := reg.Get("call-a"); ok {
		t.Error("Get after Remove: want a miss")
	}
	if reg.Len() != 1 {
		t.Errorf("after remove: want 1 session, got %d", reg.Len())
	}
	reg.Remove("call-a") // removing twice is a no-op
	if reg.Len() != 1 {
		t.Errorf("after double remove: want 1 session, got %d", reg.Len())
	}
}

// TestRegistry_AddReplacesSameCallID verifies that a second stream claiming
// an already-registered call ID takes over the entry.
func TestRegistry_AddReplacesSameCallID(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	first := registrySession("call-a")
	second := registrySession("call-a")
	reg.Add(first)
	reg.Add(second)

	if reg.Len() != 1 {
		t.Fatalf("want 1 session after replacement, got %d", reg.Len())
	}
	if got, _ := reg.Get("call-a"); got != second {
		t.Error("Get(call-a): want the replacing session")
	}
}
