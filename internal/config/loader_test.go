package config_test

import (
	"strings"
	"testing"
	"time"

	"github.com/callyx/callyx/internal/config"
)

// ── Environment expansion ─────────────────────────────────────────────────────

func TestLoadFromReader_ExpandsEnvReferences(t *testing.T) {
	t.Setenv("CALLYX_TEST_DG_KEY", "dg-from-env")
	yaml := `
providers:
  stt:
    name: deepgram
    api_key: ${CALLYX_TEST_DG_KEY}
  tts: {name: deepgram}
  llm: {name: openai}
store:
  postgres_dsn: postgres://localhost/callyx
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Providers.STT.APIKey != "dg-from-env" {
		t.Errorf("api_key: got %q, want dg-from-env", cfg.Providers.STT.APIKey)
	}
}

func TestLoadFromReader_UnsetEnvExpandsEmpty(t *testing.T) {
	yaml := `
providers:
  stt:
    name: deepgram
    api_key: "${CALLYX_TEST_SURELY_UNSET_93187}"
  tts: {name: deepgram}
  llm: {name: openai}
store:
  postgres_dsn: postgres://localhost/callyx
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Providers.STT.APIKey != "" {
		t.Errorf("api_key: got %q, want empty", cfg.Providers.STT.APIKey)
	}
}

func TestLoadFromReader_BareDollarSurvives(t *testing.T) {
	// Only the braced ${NAME} form expands; prompts quoting prices or shell
	// variables must come through untouched.
	yaml := `
providers:
  stt: {name: deepgram}
  tts: {name: deepgram}
  llm: {name: openai}
store:
  postgres_dsn: postgres://localhost/callyx
agents:
  - id: default
    system_prompt: "Offer the $5 coupon. Never read $HOME aloud."
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := cfg.Agents[0].SystemPrompt
	if !strings.Contains(got, "$5") || !strings.Contains(got, "$HOME") {
		t.Errorf("bare dollar text was mangled: %q", got)
	}
}

// ── Conversions ───────────────────────────────────────────────────────────────

func TestPipelineConfig_CallConfig(t *testing.T) {
	t.Parallel()
	p := config.PipelineConfig{
		Interrupt: config.InterruptConfig{
			MinEnergy:       650,
			BaselineFactor:  2.5,
			MinSpeechMS:     120,
			DebounceMS:      250,
			RequiredSamples: 3,
		},
		Turn: config.TurnConfig{
			SilenceThresholdSec:      0.8,
			InterimProcessingEnabled: true,
			InterimMinLength:         8,
			InterimSilenceSec:        0.05,
		},
		LLMMaxTokens:             900,
		HistoryWindow:            4,
		CallInactivityTimeoutSec: 45,
	}

	cc := p.CallConfig()
	if !cc.Interrupt.Enabled {
		t.Error("interrupt should default to enabled when omitted")
	}
	if cc.Interrupt.MinEnergy != 650 {
		t.Errorf("MinEnergy: got %g, want 650", cc.Interrupt.MinEnergy)
	}
	if cc.Interrupt.MinSpeech != 120*time.Millisecond {
		t.Errorf("MinSpeech: got %v, want 120ms", cc.Interrupt.MinSpeech)
	}
	if cc.Interrupt.Debounce != 250*time.Millisecond {
		t.Errorf("Debounce: got %v, want 250ms", cc.Interrupt.Debounce)
	}
	if cc.Turn.SilenceThreshold != 800*time.Millisecond {
		t.Errorf("SilenceThreshold: got %v, want 800ms", cc.Turn.SilenceThreshold)
	}
	if !cc.Turn.InterimEnabled {
		t.Error("InterimEnabled should carry over")
	}
	if cc.Turn.InterimSilence != 50*time.Millisecond {
		t.Errorf("InterimSilence: got %v, want 50ms", cc.Turn.InterimSilence)
	}
	if cc.LLMMaxTokens != 900 || cc.HistoryWindow != 4 {
		t.Errorf("token/history: got %d/%d, want 900/4", cc.LLMMaxTokens, cc.HistoryWindow)
	}
	if cc.InactivityTimeout != 45*time.Second {
		t.Errorf("InactivityTimeout: got %v, want 45s", cc.InactivityTimeout)
	}
}

func TestPipelineConfig_CallConfigExplicitOff(t *testing.T) {
	t.Parallel()
	off := false
	p := config.PipelineConfig{Interrupt: config.InterruptConfig{Enabled: &off}}
	if p.CallConfig().Interrupt.Enabled {
		t.Error("explicit interrupt.enabled: false must stick")
	}
}

func TestRAGConfig_RetrieverConfig(t *testing.T) {
	t.Parallel()
	r := config.RAGConfig{K: 12, RelevanceThreshold: 0.7, ContextTop: 5}
	rc := r.RetrieverConfig()
	if rc.K != 12 || rc.RelevanceThreshold != 0.7 || rc.ContextTop != 5 {
		t.Errorf("conversion mismatch: %+v", rc)
	}
}

func TestMCPServerConfig_ToolServer(t *testing.T) {
	t.Parallel()
	s := config.MCPServerConfig{
		Name:      "crm",
		Transport: "stdio",
		Command:   []string{"/usr/local/bin/crm-mcp", "--readonly"},
		Env:       map[string]string{"CRM_TOKEN": "t"},
	}
	srv := s.ToolServer()
	if srv.Name != "crm" || srv.Transport != "stdio" {
		t.Errorf("name/transport mismatch: %+v", srv)
	}
	if len(srv.Command) != 2 || srv.Command[1] != "--readonly" {
		t.Errorf("command mismatch: %v", srv.Command)
	}
	if srv.Env["CRM_TOKEN"] != "t" {
		t.Errorf("env mismatch: %v", srv.Env)
	}
}

// ── Provider name table ───────────────────────────────────────────────────────

func TestValidProviderNames(t *testing.T) {
	t.Parallel()
	// Sanity-check that the map is populated for every pipeline stage.
	for _, kind := range []string{"stt", "tts", "llm", "embeddings"} {
		if len(config.ValidProviderNames[kind]) == 0 {
			t.Errorf("ValidProviderNames[%q] should not be empty", kind)
		}
	}
	found := false
	for _, n := range config.ValidProviderNames["llm"] {
		if n == "openai" {
			found = true
			break
		}
	}
	if !found {
		t.Error(`ValidProviderNames["llm"] should contain "openai"`)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()
	_, err := config.Load("/definitely/missing/callyx.yaml")
	if err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
	if !strings.Contains(err.Error(), "open") {
		t.Errorf("error should mention open, got: %v", err)
	}
}
