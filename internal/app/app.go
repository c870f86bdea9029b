// Package app wires all Callyx subsystems into a running server.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves the media WebSocket plus the health and metrics
// endpoints, and Shutdown tears everything down in order.
//
// For testing, inject mock implementations via functional options
// (WithConversationStore, WithVectorStore, etc.). When an option is not
// provided, New creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/callyx/callyx/internal/agent"
	"github.com/callyx/callyx/internal/call"
	"github.com/callyx/callyx/internal/config"
	"github.com/callyx/callyx/internal/health"
	"github.com/callyx/callyx/internal/observe"
	"github.com/callyx/callyx/internal/rag"
	"github.com/callyx/callyx/internal/telephony"
	"github.com/callyx/callyx/internal/tool"
	"github.com/callyx/callyx/internal/tool/mcp"
	"github.com/callyx/callyx/internal/webhook"
	"github.com/callyx/callyx/pkg/provider/embeddings"
	"github.com/callyx/callyx/pkg/provider/llm"
	"github.com/callyx/callyx/pkg/provider/stt"
	"github.com/callyx/callyx/pkg/provider/tts"
	"github.com/callyx/callyx/pkg/store"
	"github.com/callyx/callyx/pkg/store/postgres"
)

// drainTimeout bounds how long Run waits for the HTTP listener to close
// after its context is cancelled.
const drainTimeout = 10 * time.Second

// defaultEmbeddingDimensions matches OpenAI text-embedding-3-small.
const defaultEmbeddingDimensions = 1536

// Providers holds one interface value per provider slot. STT, TTS and LLM
// are required; a nil Embeddings disables knowledge retrieval. Populated by
// main.go via the config registry.
type Providers struct {
	STT        stt.Provider
	TTS        tts.Provider
	LLM        llm.Provider
	Embeddings embeddings.Provider
}

// App owns all subsystem lifetimes and serves the Callyx voice pipeline.
type App struct {
	cfg       *config.Config
	providers *Providers

	// Subsystems — initialised in New, torn down in Shutdown.
	store         *postgres.Store
	conversations store.ConversationStore
	vectors       store.VectorStore
	agents        agent.Store
	retriever     *rag.Retriever
	tools         *tool.Registry
	bridge        *mcp.Bridge
	webhooks      *webhook.Dispatcher
	metrics       *observe.Metrics
	handler       *call.Handler
	routes        http.Handler

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithConversationStore injects a conversation store instead of connecting
// to PostgreSQL.
func WithConversationStore(s store.ConversationStore) Option {
	return func(a *App) { a.conversations = s }
}

// WithVectorStore injects a vector store instead of connecting to PostgreSQL.
func WithVectorStore(s store.VectorStore) Option {
	return func(a *App) { a.vectors = s }
}

// WithAgentStore injects an agent store instead of building one from config.
func WithAgentStore(s agent.Store) Option {
	return func(a *App) { a.agents = s }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry). Use Option functions
// to inject test doubles for any store.
//
// New performs all initialisation synchronously: PostgreSQL connection, agent
// store selection, retriever construction, tool registration + MCP server
// connection, webhook dispatcher and call handler assembly.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		return nil, errors.New("app: providers must not be nil")
	}

	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}

	// ── 1. Store ─────────────────────────────────────────────────────────
	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}

	// ── 2. Agent store ───────────────────────────────────────────────────
	if err := a.initAgents(ctx); err != nil {
		return nil, fmt.Errorf("app: init agents: %w", err)
	}

	// ── 3. Knowledge retrieval ───────────────────────────────────────────
	a.initRetrieval()

	// ── 4. Tools ─────────────────────────────────────────────────────────
	if err := a.initTools(ctx); err != nil {
		return nil, fmt.Errorf("app: init tools: %w", err)
	}

	// ── 5. Webhooks ──────────────────────────────────────────────────────
	a.initWebhooks()

	// ── 6. Call handler ──────────────────────────────────────────────────
	handler, err := call.NewHandler(call.Deps{
		STT:           providers.STT,
		TTS:           providers.TTS,
		LLM:           providers.LLM,
		Retriever:     a.retriever,
		Tools:         a.tools,
		Conversations: a.conversations,
		Agents:        a.agents,
		Webhooks:      a.webhooks,
		Metrics:       a.metrics,
	}, cfg.Pipeline.CallConfig())
	if err != nil {
		return nil, fmt.Errorf("app: init call handler: %w", err)
	}
	a.handler = handler

	// ── 7. HTTP routes ───────────────────────────────────────────────────
	a.routes = a.buildRoutes()

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initStore connects to PostgreSQL unless every consumer of it was injected:
// the conversation store, the vector store (only needed with an embeddings
// provider) and the agent store (only needed when no agents are configured
// in YAML).
func (a *App) initStore(ctx context.Context) error {
	injected := a.conversations != nil &&
		(a.vectors != nil || a.providers.Embeddings == nil) &&
		(a.agents != nil || len(a.cfg.Agents) > 0)
	if injected {
		return nil
	}

	dsn := a.cfg.Store.PostgresDSN
	if dsn == "" {
		return fmt.Errorf("store.postgres_dsn is required when stores are not injected")
	}

	dims := a.cfg.Store.EmbeddingDimensions
	if dims == 0 {
		dims = defaultEmbeddingDimensions
	}

	st, err := postgres.NewStore(ctx, dsn, dims)
	if err != nil {
		return err
	}
	a.store = st

	if a.conversations == nil {
		a.conversations = st.Conversations()
	}
	if a.vectors == nil {
		a.vectors = st.Vectors()
	}

	a.closers = append(a.closers, func() error {
		st.Close()
		return nil
	})
	return nil
}

// initAgents picks the agent store: injected, static from YAML, or the
// agents table in PostgreSQL when the YAML has none.
func (a *App) initAgents(ctx context.Context) error {
	if a.agents != nil {
		return nil // injected
	}

	if len(a.cfg.Agents) > 0 {
		st, err := agent.NewStaticStore(a.cfg.Agents)
		if err != nil {
			return err
		}
		a.agents = st
		slog.Info("serving agents from configuration", "count", len(a.cfg.Agents))
		return nil
	}

	pg := agent.NewPostgresStore(a.store.Pool())
	if err := pg.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate agents table: %w", err)
	}
	a.agents = pg
	slog.Info("serving agents from PostgreSQL")
	return nil
}

// initRetrieval builds the knowledge retriever when an embeddings provider
// is configured. Without one, every turn runs with an empty context.
func (a *App) initRetrieval() {
	if a.providers.Embeddings == nil {
		slog.Info("no embeddings provider configured, knowledge retrieval disabled")
		return
	}
	a.retriever = rag.NewRetriever(a.providers.Embeddings, a.vectors, a.cfg.Pipeline.RAG.RetrieverConfig())
}

// initTools registers the built-in tools and connects configured MCP servers.
func (a *App) initTools(ctx context.Context) error {
	a.tools = tool.NewRegistry()
	tool.RegisterBuiltins(a.tools, nil)

	if len(a.cfg.MCP.Servers) == 0 {
		return nil
	}

	a.bridge = mcp.NewBridge()
	a.closers = append(a.closers, a.bridge.Close)

	for _, srv := range a.cfg.MCP.Servers {
		names, err := a.bridge.Connect(ctx, srv.ToolServer(), a.tools)
		if err != nil {
			return fmt.Errorf("connect mcp server %q: %w", srv.Name, err)
		}
		slog.Info("connected MCP server", "name", srv.Name, "tools", names)
	}
	return nil
}

// initWebhooks builds the event dispatcher. Queue saturation increments the
// drop counter; the dispatcher itself logs the dropped event.
func (a *App) initWebhooks() {
	a.metrics = observe.DefaultMetrics()
	m := a.metrics

	a.webhooks = webhook.NewDispatcher(webhook.Config{
		DefaultURL: a.cfg.Webhooks.DefaultURL,
		QueueSize:  a.cfg.Webhooks.QueueSize,
		OnDrop: func(string) {
			m.WebhookDrops.Add(context.Background(), 1)
		},
	})

	a.closers = append(a.closers, func() error {
		a.webhooks.Close()
		return nil
	})
}

// buildRoutes assembles the HTTP surface: the carrier media WebSocket,
// health and readiness probes, and the Prometheus scrape endpoint.
func (a *App) buildRoutes() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("GET /media-stream", telephony.NewServer(a.handler))

	checks := []health.Checker{
		{Name: "providers", Check: a.checkProviders},
	}
	if a.store != nil {
		checks = append(checks, health.Checker{Name: "postgres", Check: a.store.Ping})
	}
	health.New(checks...).Register(mux)

	mux.Handle("GET /metrics", promhttp.Handler())

	return observe.Middleware(a.metrics)(mux)
}

// checkProviders reports readiness of the required provider slots.
func (a *App) checkProviders(context.Context) error {
	if a.providers.STT == nil || a.providers.TTS == nil || a.providers.LLM == nil {
		return errors.New("stt, tts and llm providers are required")
	}
	return nil
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP on the configured listen address and blocks until ctx is
// cancelled or the listener fails.
//
// Request contexts derive from ctx, so cancelling it also cancels every live
// call session (the media WebSocket handler blocks inside ServeHTTP for the
// whole call). Run then gives the listener drainTimeout to close before
// returning; Shutdown waits for the cancelled sessions to finish persisting.
func (a *App) Run(ctx context.Context) error {
	addr := a.cfg.Server.ListenAddr
	if addr == "" {
		addr = ":8080"
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           a.routes,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if tc := a.cfg.Server.TLS; tc != nil {
			err = srv.ListenAndServeTLS(tc.CertFile, tc.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		errCh <- err
	}()

	slog.Info("app running", "addr", addr, "tls", a.cfg.Server.TLS != nil)

	select {
	case err := <-errCh:
		return fmt.Errorf("app: serve: %w", err)
	case <-ctx.Done():
	}

	sctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		slog.Warn("listener shutdown error", "err", err)
	}
	return ctx.Err()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in order. It first waits for live call
// sessions to finish persisting (they were cancelled when Run's context
// ended), then runs the closers. It respects the context deadline: if ctx
// expires before all closers finish, remaining closers are skipped and the
// context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		a.drainCalls(ctx)

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// drainCalls polls the session registry until it empties or ctx expires.
// Sessions unregister after persisting their final conversation state, so
// the stores must stay open until the registry is empty.
func (a *App) drainCalls(ctx context.Context) {
	if a.handler == nil || a.handler.Registry().Len() == 0 {
		return
	}
	slog.Info("waiting for live calls to finish", "count", a.handler.Registry().Len())

	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for a.handler.Registry().Len() > 0 {
		select {
		case <-ctx.Done():
			slog.Warn("shutdown deadline reached with live calls", "count", a.handler.Registry().Len())
			return
		case <-tick.C:
		}
	}
}
