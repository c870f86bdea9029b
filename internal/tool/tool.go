// Package tool parses and executes the bracketed tool markers an LLM emits
// inline in its responses.
//
// A marker is a directive like [TOOL:transfer_call(department="sales")] or
// its confirmation-gated twin [CONFIRM_TOOL:...]. Markers follow a strict
// grammar ([Extract]); anything malformed is rejected rather than
// best-effort-parsed, and the carrying sentence is spoken unchanged.
//
// Execution goes through a [Registry] keyed by tool name. The three
// built-ins ([RegisterBuiltins]) cover ending the call, transferring to a
// department, and generic webhook invocation; the mcp subpackage bridges
// Model Context Protocol servers into the same namespace.
package tool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// ErrUnknownTool is returned by [Registry.Execute] when no tool is registered
// under the requested name.
var ErrUnknownTool = errors.New("unknown tool")

// Call is a parsed tool invocation.
type Call struct {
	// Name is the registered tool identifier.
	Name string

	// Params holds the marker's key=value parameters. Unknown keys are
	// preserved and passed through to the executor; each tool validates the
	// keys it cares about at execution time.
	Params map[string]string

	// Confirm is true for [CONFIRM_TOOL:...] markers: the session must hold
	// the call until the caller answers yes.
	Confirm bool

	// Meta carries call-scoped context, filled in by the session just before
	// execution.
	Meta Meta
}

// Meta is the call-scoped context available to every tool execution.
type Meta struct {
	CallID      string
	AgentID     string
	PhoneNumber string

	// WebhookURL is the agent's outbound tool endpoint, used by the
	// call_webhook built-in. Empty when the agent has none configured.
	WebhookURL string

	// Vars are the dynamic variables supplied by the carrier's start event.
	Vars map[string]string
}

// Result is the outcome of a successful tool execution.
type Result struct {
	// Speech is the synthetic assistant sentence to speak to the caller.
	// May be empty (end_call says nothing of its own).
	Speech string

	// EndCall signals the session to transition to Ending once Speech has
	// been played out.
	EndCall bool
}

// Func executes a single tool call.
type Func func(ctx context.Context, call Call) (Result, error)

// Executor runs tool calls. Implemented by [Registry]; sessions depend on
// this interface so tests can substitute doubles.
type Executor interface {
	Execute(ctx context.Context, call Call) (Result, error)
}

// Registry maps tool names to their implementations. Safe for concurrent
// use: registration happens at startup, execution on live calls.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Func
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Func)}
}

// Register installs fn under name, replacing any previous registration.
// Later registrations win so MCP servers can shadow a built-in deliberately;
// the replacement is logged.
func (r *Registry) Register(name string, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		slog.Warn("tool: replacing existing registration", "tool", name)
	}
	r.tools[name] = fn
}

// Execute runs the named tool. It returns [ErrUnknownTool] when the name is
// not registered.
func (r *Registry) Execute(ctx context.Context, call Call) (Result, error) {
	r.mu.RLock()
	fn, ok := r.tools[call.Name]
	r.mu.RUnlock()
	if !ok {
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownTool, call.Name)
	}
	return fn(ctx, call)
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
