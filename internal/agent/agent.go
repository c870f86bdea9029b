// Package agent defines the agent configuration consumed by call sessions —
// the system prompt, greeting and farewell lines, voice and model selection,
// and per-agent pipeline overrides — together with the Store interface that
// resolves an agent ID from the carrier's start event to its configuration.
//
// Two Store implementations exist: [StaticStore], fed from the server's YAML
// configuration, and [PostgresStore], backed by an agents table for
// deployments that manage agents out of band. Both are safe for concurrent
// use.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
)

// ErrNotFound is returned by Store.Get for an unknown agent ID.
var ErrNotFound = errors.New("agent: not found")

// DefaultAgentID is the agent used when the carrier start event carries no
// agent_id parameter.
const DefaultAgentID = "default"

// Config is one agent's full declarative configuration. Zero values inherit
// the server-wide pipeline defaults.
type Config struct {
	// ID uniquely identifies the agent; the carrier selects it via the
	// agent_id custom parameter.
	ID string `yaml:"id" json:"id"`

	// Name is the agent's display name, used in logs only.
	Name string `yaml:"name" json:"name"`

	// SystemPrompt is the persona and instruction block injected at the top
	// of every generation prompt. {{key}} placeholders are substituted from
	// the call's dynamic variables.
	SystemPrompt string `yaml:"system_prompt" json:"system_prompt"`

	// FirstMessage is spoken as soon as the media stream starts. Empty skips
	// the greeting and the session opens listening. Supports {{key}}
	// placeholders.
	FirstMessage string `yaml:"first_message" json:"first_message"`

	// FarewellMessage is spoken when the caller says goodbye. Empty uses the
	// built-in farewell.
	FarewellMessage string `yaml:"farewell_message" json:"farewell_message"`

	// VoiceID selects the TTS voice (provider-specific identifier).
	VoiceID string `yaml:"voice_id" json:"voice_id"`

	// ModelName overrides the server's LLM model for this agent's turns.
	ModelName string `yaml:"model_name" json:"model_name"`

	// WebhookURL receives this agent's call events, overriding the server
	// default. The call_webhook built-in tool posts here too.
	WebhookURL string `yaml:"webhook_url" json:"webhook_url"`

	// InterruptEnabled overrides the pipeline's barge-in switch per agent.
	// nil inherits the pipeline setting.
	InterruptEnabled *bool `yaml:"interrupt_enabled" json:"interrupt_enabled"`

	// SilenceThresholdSec overrides the end-of-turn silence gate per agent.
	// Zero inherits the pipeline setting.
	SilenceThresholdSec float64 `yaml:"silence_threshold_sec" json:"silence_threshold_sec"`
}

// Validate checks the Config for logical consistency. It returns a joined
// error describing every violation found, or nil if the config is valid.
func (c *Config) Validate() error {
	var errs []error

	if c.ID == "" {
		errs = append(errs, fmt.Errorf("agent: id must not be empty"))
	}
	if strings.ContainsAny(c.ID, " \t\n") {
		errs = append(errs, fmt.Errorf("agent: id must not contain whitespace, got %q", c.ID))
	}
	if c.SilenceThresholdSec < 0 || c.SilenceThresholdSec > 5 {
		errs = append(errs, fmt.Errorf("agent: silence_threshold_sec must be in [0, 5], got %g", c.SilenceThresholdSec))
	}
	if c.WebhookURL != "" && !strings.HasPrefix(c.WebhookURL, "http://") && !strings.HasPrefix(c.WebhookURL, "https://") {
		errs = append(errs, fmt.Errorf("agent: webhook_url must be an HTTP(S) URL, got %q", c.WebhookURL))
	}

	return errors.Join(errs...)
}

// placeholderRe matches {{key}} substitutions in prompts and messages.
var placeholderRe = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_]+)\s*\}\}`)

// Render substitutes {{key}} placeholders in s from the call's dynamic
// variables. A key with no variable renders as empty and logs a warning, so
// a caller never hears a literal placeholder.
func Render(s string, vars map[string]string) string {
	if !strings.Contains(s, "{{") {
		return s
	}
	return placeholderRe.ReplaceAllStringFunc(s, func(m string) string {
		key := placeholderRe.FindStringSubmatch(m)[1]
		if v, ok := vars[key]; ok {
			return v
		}
		slog.Warn("agent: unresolved placeholder rendered empty", "key", key)
		return ""
	})
}

// Store resolves agent configurations. Implementations must be safe for
// concurrent use.
type Store interface {
	// Get retrieves the configuration for id. Returns ErrNotFound (possibly
	// wrapped) for an unknown agent.
	Get(ctx context.Context, id string) (Config, error)

	// List returns all known agent configurations, ordered by ID.
	List(ctx context.Context) ([]Config, error)
}
