package webhook

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// ─────────────────────────────────────────────────────────────────────────────
// helpers
// ─────────────────────────────────────────────────────────────────────────────

// capture is an httptest handler that records every payload it receives.
type capture struct {
	mu       sync.Mutex
	payloads []payload
	status   int
}

func (c *capture) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	var p payload
	_ = json.Unmarshal(body, &p)

	c.mu.Lock()
	c.payloads = append(c.payloads, p)
	status := c.status
	c.mu.Unlock()

	if status != 0 {
		w.WriteHeader(status)
	}
}

func (c *capture) received() []payload {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]payload, len(c.payloads))
	copy(out, c.payloads)
	return out
}

// ─────────────────────────────────────────────────────────────────────────────
// tests
// ─────────────────────────────────────────────────────────────────────────────

func TestDispatcher_Delivers(t *testing.T) {
	t.Parallel()

	sink := &capture{}
	srv := httptest.NewServer(sink)
	defer srv.Close()

	d := NewDispatcher(Config{DefaultURL: srv.URL})
	e := d.Bind("CA123", "agent-1", "")

	e.Emit(EventCallStarted, map[string]any{"phone_number": "+15550100"})
	e.Emit(EventCallEnded, map[string]any{"reason": "user_goodbye"})
	d.Close()

	got := sink.received()
	if len(got) != 2 {
		t.Fatalf("received %d payloads, want 2", len(got))
	}
	first := got[0]
	if first.Event != EventCallStarted {
		t.Errorf("event = %q, want %q", first.Event, EventCallStarted)
	}
	if first.CallID != "CA123" || first.AgentID != "agent-1" {
		t.Errorf("ids = %q/%q, want CA123/agent-1", first.CallID, first.AgentID)
	}
	if _, err := time.Parse(time.RFC3339, first.Timestamp); err != nil {
		t.Errorf("timestamp %q is not RFC3339: %v", first.Timestamp, err)
	}
	if first.Data["phone_number"] != "+15550100" {
		t.Errorf("data = %v, want phone_number preserved", first.Data)
	}
	if got[1].Event != EventCallEnded {
		t.Errorf("second event = %q, want %q (delivery order)", got[1].Event, EventCallEnded)
	}
}

func TestDispatcher_PerCallURLOverridesDefault(t *testing.T) {
	t.Parallel()

	def := &capture{}
	defSrv := httptest.NewServer(def)
	defer defSrv.Close()
	agent := &capture{}
	agentSrv := httptest.NewServer(agent)
	defer agentSrv.Close()

	d := NewDispatcher(Config{DefaultURL: defSrv.URL})
	d.Bind("CA1", "agent-1", agentSrv.URL).Emit(EventToolCalled, nil)
	d.Close()

	if n := len(def.received()); n != 0 {
		t.Errorf("default endpoint received %d payloads, want 0", n)
	}
	if n := len(agent.received()); n != 1 {
		t.Errorf("agent endpoint received %d payloads, want 1", n)
	}
}

func TestDispatcher_NoURLDiscards(t *testing.T) {
	t.Parallel()

	d := NewDispatcher(Config{})
	e := d.Bind("CA1", "agent-1", "")

	// Must neither block nor panic with nowhere to deliver.
	e.Emit(EventCallStarted, nil)
	d.Close()
}

func TestDispatcher_InvalidSchemeDiscards(t *testing.T) {
	t.Parallel()

	sink := &capture{}
	srv := httptest.NewServer(sink)
	defer srv.Close()

	d := NewDispatcher(Config{})
	d.Bind("CA1", "agent-1", "ftp://example.com/hook").Emit(EventCallStarted, nil)
	d.Close()

	if n := len(sink.received()); n != 0 {
		t.Errorf("received %d payloads, want 0 for non-HTTP scheme", n)
	}
}

func TestDispatcher_NonSuccessStatusTolerated(t *testing.T) {
	t.Parallel()

	sink := &capture{status: http.StatusBadGateway}
	srv := httptest.NewServer(sink)
	defer srv.Close()

	d := NewDispatcher(Config{DefaultURL: srv.URL})
	e := d.Bind("CA1", "agent-1", "")
	e.Emit(EventCallStarted, nil)
	e.Emit(EventCallEnded, nil)
	d.Close()

	// Both were posted; neither was retried.
	if n := len(sink.received()); n != 2 {
		t.Errorf("received %d payloads, want 2", n)
	}
}

func TestDispatcher_DropsWhenSaturated(t *testing.T) {
	t.Parallel()

	entered := make(chan struct{})
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		entered <- struct{}{}
		<-release
	}))
	defer srv.Close()

	var dropped atomic.Int32
	var droppedEvent atomic.Value
	d := NewDispatcher(Config{
		DefaultURL: srv.URL,
		QueueSize:  1,
		OnDrop: func(event string) {
			dropped.Add(1)
			droppedEvent.Store(event)
		},
	})
	e := d.Bind("CA1", "agent-1", "")

	// First event occupies the worker (handler blocks), second fills the
	// queue, third has nowhere to go.
	e.Emit(EventCallStarted, nil)
	<-entered
	e.Emit(EventAgentResponse, nil)
	e.Emit(EventUserInterrupted, nil)

	if got := dropped.Load(); got != 1 {
		t.Errorf("dropped %d events, want 1", got)
	}
	if got, _ := droppedEvent.Load().(string); got != EventUserInterrupted {
		t.Errorf("dropped event = %q, want %q", got, EventUserInterrupted)
	}

	close(release)
	go func() {
		for range entered { // unblock remaining deliveries
		}
	}()
	d.Close()
	close(entered)
}

func TestDispatcher_EmitAfterClose(t *testing.T) {
	t.Parallel()

	sink := &capture{}
	srv := httptest.NewServer(sink)
	defer srv.Close()

	d := NewDispatcher(Config{DefaultURL: srv.URL})
	e := d.Bind("CA1", "agent-1", "")
	d.Close()
	d.Close() // idempotent

	e.Emit(EventCallEnded, nil) // discarded, no panic
	if n := len(sink.received()); n != 0 {
		t.Errorf("received %d payloads after Close, want 0", n)
	}
}
