package call

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/callyx/callyx/internal/agent"
	"github.com/callyx/callyx/internal/telephony"
	"github.com/callyx/callyx/internal/webhook"
)

// Handler turns started media streams into call sessions. It implements
// [telephony.Handler]; one instance serves every call.
type Handler struct {
	deps     Deps
	cfg      Config
	registry *Registry
}

// NewHandler validates the required dependencies and returns a Handler.
// Retriever, Webhooks, and Metrics may be nil; everything else must be set.
func NewHandler(deps Deps, cfg Config) (*Handler, error) {
	var missing []string
	if deps.STT == nil {
		missing = append(missing, "stt")
	}
	if deps.TTS == nil {
		missing = append(missing, "tts")
	}
	if deps.LLM == nil {
		missing = append(missing, "llm")
	}
	if deps.Tools == nil {
		missing = append(missing, "tools")
	}
	if deps.Conversations == nil {
		missing = append(missing, "conversations")
	}
	if deps.Agents == nil {
		missing = append(missing, "agents")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("call: handler missing dependencies: %s", strings.Join(missing, ", "))
	}
	return &Handler{
		deps:     deps,
		cfg:      cfg.withDefaults(),
		registry: NewRegistry(),
	}, nil
}

// Registry exposes the live-session registry for readiness reporting.
func (h *Handler) Registry() *Registry { return h.registry }

// HandleCall runs one call to completion. It blocks until the session ends;
// the telephony server closes the socket afterwards.
func (h *Handler) HandleCall(ctx context.Context, stream *telephony.Stream) {
	h.handle(ctx, stream)
}

// handle is HandleCall behind the MediaStream interface, so session wiring
// is testable without a live websocket.
func (h *Handler) handle(ctx context.Context, stream MediaStream) {
	info := stream.Info()

	agentCfg, err := h.resolveAgent(ctx, info.AgentID)
	if err != nil {
		slog.Error("call: agent resolution failed, rejecting stream",
			"call_id", info.CallID, "agent_id", info.AgentID, "err", err)
		if h.deps.Webhooks != nil {
			h.deps.Webhooks.Bind(info.CallID, info.AgentID, "").Emit(
				webhook.EventCallFailed, map[string]any{"reason": "unknown agent"})
		}
		stream.Close(fmt.Errorf("call: no agent configuration: %w", err))
		return
	}

	if h.deps.Webhooks != nil {
		h.deps.Webhooks.Bind(info.CallID, agentCfg.ID, agentCfg.WebhookURL).Emit(
			webhook.EventCallInitiated, map[string]any{
				"phone_number": info.PhoneNumber,
				"agent_id":     agentCfg.ID,
			})
	}

	sess := NewSession(stream, agentCfg, h.deps, h.cfg)
	h.registry.Add(sess)
	defer h.registry.Remove(sess.CallID())

	if err := sess.Run(ctx); err != nil {
		slog.Error("call: session failed", "call_id", sess.CallID(), "err", err)
	}
}

// resolveAgent maps the carrier's agent_id parameter to a configuration:
// empty means the default agent, and an unknown ID falls back to the default
// with a warning so a carrier-side typo degrades instead of dropping calls.
func (h *Handler) resolveAgent(ctx context.Context, agentID string) (agent.Config, error) {
	if agentID == "" {
		agentID = agent.DefaultAgentID
	}
	cfg, err := h.deps.Agents.Get(ctx, agentID)
	if err == nil {
		return cfg, nil
	}
	if agentID != agent.DefaultAgentID && errors.Is(err, agent.ErrNotFound) {
		slog.Warn("call: unknown agent, falling back to default", "agent_id", agentID)
		return h.deps.Agents.Get(ctx, agent.DefaultAgentID)
	}
	return agent.Config{}, err
}
