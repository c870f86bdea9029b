// Package mcp bridges Model Context Protocol servers into the call tool
// registry.
//
// Each configured server is dialled once at startup (stdio subprocess or
// streamable HTTP) using the official MCP Go SDK. Every tool the server
// advertises is registered on the shared [tool.Registry] under its own name,
// so the LLM invokes MCP tools with the same marker syntax as built-ins. The
// tool's text output becomes the spoken result.
package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/callyx/callyx/internal/tool"
)

// Transport names accepted in server configuration.
const (
	TransportStdio          = "stdio"
	TransportStreamableHTTP = "streamable-http"
)

// ServerConfig describes one MCP server to connect to.
type ServerConfig struct {
	// Name identifies the server in logs and errors. Must be unique.
	Name string

	// Transport is "stdio" or "streamable-http".
	Transport string

	// Command is the executable and its arguments for stdio transport.
	Command []string

	// URL is the endpoint for streamable-http transport.
	URL string

	// Env holds extra environment variables for the stdio subprocess.
	Env map[string]string
}

// Bridge owns the SDK client and its per-server sessions.
//
// Connect all servers during startup, then leave the Bridge alone until
// shutdown: tool invocations go through the registry, not the Bridge.
type Bridge struct {
	mu       sync.Mutex
	client   *mcpsdk.Client
	sessions map[string]*mcpsdk.ClientSession
}

// NewBridge returns a Bridge with no connections.
func NewBridge() *Bridge {
	return &Bridge{
		client: mcpsdk.NewClient(
			&mcpsdk.Implementation{Name: "callyx", Version: "1.0.0"},
			nil,
		),
		sessions: make(map[string]*mcpsdk.ClientSession),
	}
}

// Connect dials the server described by cfg, discovers its tools, and
// registers each one on reg. It returns the discovered tool names.
// Reconnecting a server with a known name replaces the old session.
func (b *Bridge) Connect(ctx context.Context, cfg ServerConfig, reg *tool.Registry) ([]string, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("mcp: server config must have a non-empty name")
	}

	var transport mcpsdk.Transport
	switch cfg.Transport {
	case TransportStdio:
		if len(cfg.Command) == 0 {
			return nil, fmt.Errorf("mcp: stdio server %q requires a command", cfg.Name)
		}
		cmd := exec.CommandContext(ctx, cfg.Command[0], cfg.Command[1:]...)
		if len(cfg.Env) > 0 {
			cmd.Env = os.Environ()
			for k, v := range cfg.Env {
				cmd.Env = append(cmd.Env, k+"="+v)
			}
		}
		transport = &mcpsdk.CommandTransport{Command: cmd}

	case TransportStreamableHTTP:
		if cfg.URL == "" {
			return nil, fmt.Errorf("mcp: streamable-http server %q requires a URL", cfg.Name)
		}
		transport = &mcpsdk.StreamableClientTransport{Endpoint: cfg.URL}

	default:
		return nil, fmt.Errorf("mcp: unknown transport %q for server %q", cfg.Transport, cfg.Name)
	}

	session, err := b.client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("mcp: connect to server %q: %w", cfg.Name, err)
	}

	var names []string
	for t, err := range session.Tools(ctx, nil) {
		if err != nil {
			_ = session.Close()
			return nil, fmt.Errorf("mcp: list tools for server %q: %w", cfg.Name, err)
		}
		names = append(names, t.Name)
		reg.Register(t.Name, b.executor(cfg.Name, t.Name))
	}

	b.mu.Lock()
	if old, ok := b.sessions[cfg.Name]; ok {
		_ = old.Close()
	}
	b.sessions[cfg.Name] = session
	b.mu.Unlock()

	slog.Info("mcp: server connected", "server", cfg.Name, "tools", names)
	return names, nil
}

// executor returns the registry function that routes a call to the named
// tool on the named server.
func (b *Bridge) executor(server, toolName string) tool.Func {
	return func(ctx context.Context, call tool.Call) (tool.Result, error) {
		b.mu.Lock()
		session, ok := b.sessions[server]
		b.mu.Unlock()
		if !ok {
			return tool.Result{}, fmt.Errorf("mcp: server %q not connected for tool %q", server, toolName)
		}

		args := make(map[string]any, len(call.Params))
		for k, v := range call.Params {
			args[k] = v
		}

		res, err := session.CallTool(ctx, &mcpsdk.CallToolParams{
			Name:      toolName,
			Arguments: args,
		})
		if err != nil {
			return tool.Result{}, fmt.Errorf("mcp: tool %q: %w", toolName, err)
		}

		var sb strings.Builder
		for _, c := range res.Content {
			if tc, ok := c.(*mcpsdk.TextContent); ok {
				sb.WriteString(tc.Text)
			}
		}
		if res.IsError {
			return tool.Result{}, fmt.Errorf("mcp: tool %q reported an error: %s", toolName, sb.String())
		}
		return tool.Result{Speech: sb.String()}, nil
	}
}

// Close shuts down every server session. The Bridge must not be used after
// Close.
func (b *Bridge) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var firstErr error
	for name, session := range b.sessions {
		if err := session.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("mcp: close server %q: %w", name, err)
		}
		delete(b.sessions, name)
	}
	return firstErr
}
