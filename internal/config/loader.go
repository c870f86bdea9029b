package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/callyx/callyx/internal/agent"
	"github.com/callyx/callyx/internal/tool/mcp"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt":        {"deepgram"},
	"tts":        {"deepgram", "elevenlabs"},
	"llm":        {"openai", "anthropic", "gemini", "ollama", "groq"},
	"embeddings": {"openai", "ollama"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader expands ${ENV_VAR} references in the YAML read from r,
// decodes it strictly (unknown fields are errors), and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}

	cfg := &Config{}
	dec := yaml.NewDecoder(strings.NewReader(expandEnv(string(raw))))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envRe matches ${NAME} environment references. Only the braced form is
// expanded so YAML values containing a bare dollar sign pass through intact.
var envRe = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnv substitutes ${NAME} references in s from the process environment.
// An unset variable expands to the empty string and logs a warning.
func expandEnv(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return envRe.ReplaceAllStringFunc(s, func(m string) string {
		name := envRe.FindStringSubmatch(m)[1]
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		slog.Warn("config: environment variable is not set, expanding to empty", "name", name)
		return ""
	})
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
// Suspicious-but-legal values are logged at Warn instead.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, fmt.Errorf("server.tls requires both cert_file and key_file"))
		}
	}

	// Providers. STT, TTS and LLM are the pipeline itself; a server without
	// them cannot take calls. Embeddings stay optional and merely disable
	// knowledge retrieval.
	if cfg.Providers.STT.Name == "" {
		errs = append(errs, fmt.Errorf("providers.stt.name is required"))
	}
	if cfg.Providers.TTS.Name == "" {
		errs = append(errs, fmt.Errorf("providers.tts.name is required"))
	}
	if cfg.Providers.LLM.Name == "" {
		errs = append(errs, fmt.Errorf("providers.llm.name is required"))
	}
	validateProviderEntry("stt", cfg.Providers.STT, &errs)
	validateProviderEntry("tts", cfg.Providers.TTS, &errs)
	validateProviderEntry("llm", cfg.Providers.LLM, &errs)
	validateProviderEntry("embeddings", cfg.Providers.Embeddings, &errs)

	if cfg.Providers.Embeddings.Name == "" && len(cfg.Agents) > 0 {
		slog.Warn("no embeddings provider configured; agents will answer without the knowledge base")
	}

	// Store. Calls, transcripts and agents persist here; there is no
	// in-memory substitute.
	if cfg.Store.PostgresDSN == "" {
		errs = append(errs, fmt.Errorf("store.postgres_dsn is required"))
	}
	if cfg.Providers.Embeddings.Name != "" && cfg.Store.EmbeddingDimensions <= 0 {
		slog.Warn("providers.embeddings is configured but store.embedding_dimensions is not set; defaulting to 1536")
	}

	validatePipeline(cfg.Pipeline, &errs)

	// Webhooks
	if u := cfg.Webhooks.DefaultURL; u != "" && !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
		errs = append(errs, fmt.Errorf("webhooks.default_url must be an HTTP(S) URL, got %q", u))
	}
	if cfg.Webhooks.QueueSize < 0 {
		errs = append(errs, fmt.Errorf("webhooks.queue_size must not be negative, got %d", cfg.Webhooks.QueueSize))
	}

	// MCP servers
	mcpNamesSeen := make(map[string]int, len(cfg.MCP.Servers))
	for i, srv := range cfg.MCP.Servers {
		prefix := fmt.Sprintf("mcp.servers[%d]", i)
		if srv.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		} else {
			if prev, ok := mcpNamesSeen[srv.Name]; ok {
				errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of mcp.servers[%d]", prefix, srv.Name, prev))
			}
			mcpNamesSeen[srv.Name] = i
		}
		switch srv.Transport {
		case mcp.TransportStdio:
			if len(srv.Command) == 0 {
				errs = append(errs, fmt.Errorf("%s.command is required when transport is stdio", prefix))
			}
		case mcp.TransportStreamableHTTP:
			if srv.URL == "" {
				errs = append(errs, fmt.Errorf("%s.url is required when transport is streamable-http", prefix))
			}
		default:
			errs = append(errs, fmt.Errorf("%s.transport %q is invalid; valid values: stdio, streamable-http", prefix, srv.Transport))
		}
	}

	// Agents
	agentIDsSeen := make(map[string]int, len(cfg.Agents))
	hasDefault := false
	for i, a := range cfg.Agents {
		prefix := fmt.Sprintf("agents[%d]", i)
		if a.ID != "" {
			if prev, ok := agentIDsSeen[a.ID]; ok {
				errs = append(errs, fmt.Errorf("%s.id %q is a duplicate of agents[%d]", prefix, a.ID, prev))
			}
			agentIDsSeen[a.ID] = i
		}
		if a.ID == agent.DefaultAgentID {
			hasDefault = true
		}
		if err := a.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", prefix, err))
		}
	}
	if len(cfg.Agents) > 0 && !hasDefault {
		slog.Warn("no agent has the default id; calls without an agent_id parameter will be rejected",
			"default_id", agent.DefaultAgentID,
		)
	}

	return errors.Join(errs...)
}

// validatePipeline range-checks the tuning knobs. Zero means "use the
// default" everywhere, so only negative or absurd values are rejected.
func validatePipeline(p PipelineConfig, errs *[]error) {
	if p.Interrupt.MinEnergy < 0 {
		*errs = append(*errs, fmt.Errorf("pipeline.interrupt.min_energy must not be negative, got %g", p.Interrupt.MinEnergy))
	}
	if p.Interrupt.BaselineFactor < 0 {
		*errs = append(*errs, fmt.Errorf("pipeline.interrupt.baseline_factor must not be negative, got %g", p.Interrupt.BaselineFactor))
	}
	if p.Interrupt.MinSpeechMS < 0 {
		*errs = append(*errs, fmt.Errorf("pipeline.interrupt.min_speech_ms must not be negative, got %d", p.Interrupt.MinSpeechMS))
	}
	if p.Interrupt.DebounceMS < 0 {
		*errs = append(*errs, fmt.Errorf("pipeline.interrupt.debounce_ms must not be negative, got %d", p.Interrupt.DebounceMS))
	}
	if p.Interrupt.RequiredSamples < 0 {
		*errs = append(*errs, fmt.Errorf("pipeline.interrupt.required_samples must not be negative, got %d", p.Interrupt.RequiredSamples))
	}
	if p.Turn.SilenceThresholdSec < 0 || p.Turn.SilenceThresholdSec > 5 {
		*errs = append(*errs, fmt.Errorf("pipeline.turn.silence_threshold_sec %g is out of range [0, 5]", p.Turn.SilenceThresholdSec))
	} else if s := p.Turn.SilenceThresholdSec; s != 0 && (s < 0.1 || s > 1.5) {
		slog.Warn("pipeline.turn.silence_threshold_sec is outside the usual range; turn taking may feel sluggish or jumpy",
			"value", s, "usual_min", 0.1, "usual_max", 1.5,
		)
	}
	if p.Turn.InterimMinLength < 0 {
		*errs = append(*errs, fmt.Errorf("pipeline.turn.interim_min_length must not be negative, got %d", p.Turn.InterimMinLength))
	}
	if p.Turn.InterimSilenceSec < 0 {
		*errs = append(*errs, fmt.Errorf("pipeline.turn.interim_silence_sec must not be negative, got %g", p.Turn.InterimSilenceSec))
	}
	if p.RAG.K < 0 {
		*errs = append(*errs, fmt.Errorf("pipeline.rag.k must not be negative, got %d", p.RAG.K))
	}
	if p.RAG.RelevanceThreshold < 0 {
		*errs = append(*errs, fmt.Errorf("pipeline.rag.relevance_threshold must not be negative, got %g", p.RAG.RelevanceThreshold))
	}
	if p.RAG.ContextTop < 0 {
		*errs = append(*errs, fmt.Errorf("pipeline.rag.context_top must not be negative, got %d", p.RAG.ContextTop))
	}
	if p.RAG.K > 0 && p.RAG.ContextTop > p.RAG.K {
		slog.Warn("pipeline.rag.context_top exceeds rag.k; effective context is capped at k",
			"context_top", p.RAG.ContextTop, "k", p.RAG.K,
		)
	}
	if p.LLMMaxTokens < 0 {
		*errs = append(*errs, fmt.Errorf("pipeline.llm_max_tokens must not be negative, got %d", p.LLMMaxTokens))
	}
	if p.HistoryWindow < 0 {
		*errs = append(*errs, fmt.Errorf("pipeline.history_window must not be negative, got %d", p.HistoryWindow))
	}
	if p.CallInactivityTimeoutSec < 0 {
		*errs = append(*errs, fmt.Errorf("pipeline.call_inactivity_timeout_sec must not be negative, got %g", p.CallInactivityTimeoutSec))
	}
}

// validateProviderEntry checks one providers.* block: the fallback list must
// carry names and cannot nest, and unknown provider names are warned about.
func validateProviderEntry(kind string, e ProviderEntry, errs *[]error) {
	validateProviderName(kind, e.Name)
	for i, fb := range e.Fallbacks {
		if fb.Name == "" {
			*errs = append(*errs, fmt.Errorf("providers.%s.fallbacks[%d].name is required", kind, i))
			continue
		}
		validateProviderName(kind, fb.Name)
		if len(fb.Fallbacks) > 0 {
			*errs = append(*errs, fmt.Errorf("providers.%s.fallbacks[%d] must not declare fallbacks of its own", kind, i))
		}
	}
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
