// Package webhook delivers call lifecycle events to external HTTP endpoints.
//
// Delivery is fire-and-forget: events are queued on a bounded channel and
// posted by a single background worker. A saturated queue drops the event
// with a warning rather than blocking the call pipeline, and a failed POST is
// logged and forgotten. Nothing in the call path ever waits on a webhook.
package webhook

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

// Event names posted to webhook endpoints.
const (
	EventCallInitiated   = "call.initiated"
	EventCallStarted     = "call.started"
	EventCallEnded       = "call.ended"
	EventCallFailed      = "call.failed"
	EventTranscriptFinal = "transcript.final"
	EventAgentResponse   = "agent.response"
	EventToolCalled      = "tool.called"
	EventUserInterrupted = "user.interrupted"
)

// Queue and delivery defaults; see [Config].
const (
	DefaultQueueSize = 128
	DefaultTimeout   = 10 * time.Second
)

// Emitter is the per-call event sink held by a session. Emit never blocks
// and never fails; the data map must not be mutated after the call.
type Emitter interface {
	Emit(event string, data map[string]any)
}

// Discard is an Emitter that drops every event. Sessions fall back to it
// when no dispatcher is configured.
var Discard Emitter = discardEmitter{}

type discardEmitter struct{}

func (discardEmitter) Emit(string, map[string]any) {}

// Config configures a Dispatcher.
type Config struct {
	// DefaultURL receives events for agents without their own webhook_url.
	// Empty disables delivery for those agents.
	DefaultURL string

	// QueueSize bounds the delivery queue. Zero means DefaultQueueSize.
	QueueSize int

	// Timeout bounds each POST. Zero means DefaultTimeout.
	Timeout time.Duration

	// OnDrop, when non-nil, is called with the event name each time a
	// saturated queue drops an event.
	OnDrop func(event string)
}

// payload is the JSON body posted to the endpoint.
type payload struct {
	Event     string         `json:"event"`
	CallID    string         `json:"call_id"`
	AgentID   string         `json:"agent_id"`
	Timestamp string         `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// delivery is one queued POST.
type delivery struct {
	url     string
	event   string
	callID  string
	agentID string
	data    map[string]any
	at      time.Time
}

// Dispatcher owns the delivery queue and worker. One instance serves the
// whole server; per-call emitters are created with [Dispatcher.Bind].
type Dispatcher struct {
	client     *http.Client
	defaultURL string
	onDrop     func(event string)

	queue  chan delivery
	stop   chan struct{}
	done   chan struct{}
	closed atomic.Bool
}

// NewDispatcher creates a Dispatcher and starts its delivery worker.
func NewDispatcher(cfg Config) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	d := &Dispatcher{
		client:     &http.Client{Timeout: cfg.Timeout},
		defaultURL: cfg.DefaultURL,
		onDrop:     cfg.OnDrop,
		queue:      make(chan delivery, cfg.QueueSize),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	go d.run()
	return d
}

// Bind returns the Emitter for one call. url is the agent's webhook_url;
// empty falls back to the server default. An emitter with no URL at all
// silently discards its events.
func (d *Dispatcher) Bind(callID, agentID, url string) Emitter {
	if url == "" {
		url = d.defaultURL
	}
	return &boundEmitter{d: d, url: url, callID: callID, agentID: agentID}
}

// Close stops the worker after draining already-queued deliveries. Emit
// calls made after Close are discarded. Safe to call more than once.
func (d *Dispatcher) Close() {
	if d.closed.Swap(true) {
		<-d.done
		return
	}
	close(d.stop)
	<-d.done
}

type boundEmitter struct {
	d       *Dispatcher
	url     string
	callID  string
	agentID string
}

func (e *boundEmitter) Emit(event string, data map[string]any) {
	e.d.enqueue(delivery{
		url:     e.url,
		event:   event,
		callID:  e.callID,
		agentID: e.agentID,
		data:    data,
		at:      time.Now().UTC(),
	})
}

func (d *Dispatcher) enqueue(del delivery) {
	if del.url == "" || d.closed.Load() {
		return
	}
	if !strings.HasPrefix(del.url, "http://") && !strings.HasPrefix(del.url, "https://") {
		slog.Warn("webhook: invalid endpoint URL, dropping event",
			"event", del.event, "url", del.url)
		return
	}
	select {
	case d.queue <- del:
	default:
		// Queue full — drop the event rather than block the call pipeline.
		slog.Warn("webhook: queue saturated, dropping event",
			"event", del.event, "call_id", del.callID)
		if d.onDrop != nil {
			d.onDrop(del.event)
		}
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for {
		select {
		case <-d.stop:
			// Drain whatever was queued before Close.
			for {
				select {
				case del := <-d.queue:
					d.send(del)
				default:
					return
				}
			}
		case del := <-d.queue:
			d.send(del)
		}
	}
}

func (d *Dispatcher) send(del delivery) {
	body, err := json.Marshal(payload{
		Event:     del.event,
		CallID:    del.callID,
		AgentID:   del.agentID,
		Timestamp: del.at.Format(time.RFC3339),
		Data:      del.data,
	})
	if err != nil {
		slog.Warn("webhook: payload marshal failed", "event", del.event, "err", err)
		return
	}

	req, err := http.NewRequest(http.MethodPost, del.url, bytes.NewReader(body))
	if err != nil {
		slog.Warn("webhook: request build failed", "event", del.event, "err", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		slog.Warn("webhook: delivery failed",
			"event", del.event, "call_id", del.callID, "err", err)
		return
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		slog.Warn("webhook: endpoint rejected event",
			"event", del.event, "call_id", del.callID, "status", resp.StatusCode)
		return
	}
	slog.Debug("webhook: delivered", "event", del.event, "call_id", del.callID)
}
