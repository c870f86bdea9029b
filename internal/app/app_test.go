package app_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/callyx/callyx/internal/agent"
	"github.com/callyx/callyx/internal/app"
	"github.com/callyx/callyx/internal/config"
	llmmock "github.com/callyx/callyx/pkg/provider/llm/mock"
	sttmock "github.com/callyx/callyx/pkg/provider/stt/mock"
	ttsmock "github.com/callyx/callyx/pkg/provider/tts/mock"
	storemock "github.com/callyx/callyx/pkg/store/mock"
)

// testConfig returns a minimal config with one static agent for tests.
func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			ListenAddr: "127.0.0.1:0",
			LogLevel:   config.LogInfo,
		},
		Agents: []agent.Config{
			{ID: "default", Name: "Test Agent", SystemPrompt: "You are a test agent."},
		},
	}
}

// testProviders fills the three required provider slots with mocks.
func testProviders() *app.Providers {
	return &app.Providers{
		STT: &sttmock.Provider{},
		TTS: &ttsmock.Provider{},
		LLM: &llmmock.Provider{},
	}
}

// testOptions injects in-memory stores so New never dials PostgreSQL.
func testOptions() []app.Option {
	return []app.Option{
		app.WithConversationStore(&storemock.ConversationStore{}),
		app.WithVectorStore(&storemock.VectorStore{}),
	}
}

func TestNew_WithMocks(t *testing.T) {
	t.Parallel()

	application, err := app.New(context.Background(), testConfig(), testProviders(), testOptions()...)
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	if application == nil {
		t.Fatal("New() returned nil app")
	}
}

func TestNew_NilProviders(t *testing.T) {
	t.Parallel()

	if _, err := app.New(context.Background(), testConfig(), nil, testOptions()...); err == nil {
		t.Fatal("New() with nil providers should fail")
	}
}

func TestNew_MissingProvider(t *testing.T) {
	t.Parallel()

	providers := testProviders()
	providers.TTS = nil

	if _, err := app.New(context.Background(), testConfig(), providers, testOptions()...); err == nil {
		t.Fatal("New() without a TTS provider should fail")
	}
}

func TestNew_RequiresDSNWithoutInjectedStores(t *testing.T) {
	t.Parallel()

	_, err := app.New(context.Background(), testConfig(), testProviders())
	if err == nil {
		t.Fatal("New() without injected stores or a DSN should fail")
	}
	if !strings.Contains(err.Error(), "postgres_dsn") {
		t.Errorf("error = %v, want mention of postgres_dsn", err)
	}
}

func TestNew_InvalidAgentConfig(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Agents[0].ID = "has whitespace"

	if _, err := app.New(context.Background(), cfg, testProviders(), testOptions()...); err == nil {
		t.Fatal("New() with an invalid agent id should fail")
	}
}

func TestApp_ShutdownIdempotent(t *testing.T) {
	t.Parallel()

	application, err := app.New(context.Background(), testConfig(), testProviders(), testOptions()...)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := application.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}
	// Second call must be a no-op.
	if err := application.Shutdown(ctx); err != nil {
		t.Fatalf("second Shutdown() error: %v", err)
	}
}

func TestApp_RunAndShutdown(t *testing.T) {
	t.Parallel()

	application, err := app.New(context.Background(), testConfig(), testProviders(), testOptions()...)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	// Run in background.
	errCh := make(chan error, 1)
	go func() {
		errCh <- application.Run(ctx)
	}()

	// Give the listener a moment to bind.
	time.Sleep(50 * time.Millisecond)

	// Cancel context to trigger shutdown.
	cancel()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Fatalf("Run() returned unexpected error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return within 5s after context cancellation")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := application.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}
}

func TestApp_Run_ListenError(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Server.ListenAddr = "127.0.0.1:-1"

	application, err := app.New(context.Background(), cfg, testProviders(), testOptions()...)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	if err := application.Run(context.Background()); err == nil {
		t.Fatal("Run() with an invalid listen address should fail")
	}
}
