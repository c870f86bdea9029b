// Command kbload populates an agent's knowledge base: it chunks text
// documents into overlapping word windows, embeds them in batches and
// upserts the vectors into the PostgreSQL store the server searches at
// call time.
//
// Usage:
//
//	kbload -config config.yaml -agent default -path ./docs
//	kbload -config config.yaml -agent default -path faq.md -replace
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/callyx/callyx/internal/config"
	"github.com/callyx/callyx/internal/rag"
	"github.com/callyx/callyx/pkg/provider/embeddings"
	ollamaembed "github.com/callyx/callyx/pkg/provider/embeddings/ollama"
	oaembed "github.com/callyx/callyx/pkg/provider/embeddings/openai"
	"github.com/callyx/callyx/pkg/store"
	"github.com/callyx/callyx/pkg/store/postgres"
)

// loadableExtensions are the file types picked up when -path is a directory.
var loadableExtensions = map[string]bool{
	".txt": true,
	".md":  true,
}

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	agentID := flag.String("agent", "", "agent ID the documents belong to")
	docPath := flag.String("path", "", "document file or directory to load")
	replace := flag.Bool("replace", false, "delete the agent's existing chunks first")
	chunkSize := flag.Int("chunk-size", rag.DefaultChunkSize, "chunk window size in words")
	overlap := flag.Int("overlap", rag.DefaultChunkOverlap, "chunk window overlap in words")
	flag.Parse()

	if *agentID == "" || *docPath == "" {
		fmt.Fprintln(os.Stderr, "kbload: -agent and -path are required")
		flag.Usage()
		return 2
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "kbload: %v\n", err)
		return 1
	}

	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Embeddings provider ───────────────────────────────────────────────────
	if cfg.Providers.Embeddings.Name == "" {
		slog.Error("an embeddings provider is required to load a knowledge base")
		return 1
	}
	embedder, err := buildEmbeddings(cfg.Providers.Embeddings)
	if err != nil {
		slog.Error("failed to build embeddings provider", "err", err)
		return 1
	}

	// ── Store ─────────────────────────────────────────────────────────────────
	dims := cfg.Store.EmbeddingDimensions
	if dims == 0 {
		dims = embedder.Dimensions()
	}
	if dims == 0 {
		slog.Error("embedding dimensions unknown, set store.embedding_dimensions",
			"model", embedder.ModelID())
		return 1
	}
	if d := embedder.Dimensions(); d != 0 && d != dims {
		slog.Error("embedding dimensions mismatch",
			"store", dims, "model", d, "model_id", embedder.ModelID())
		return 1
	}

	st, err := postgres.NewStore(ctx, cfg.Store.PostgresDSN, dims)
	if err != nil {
		slog.Error("failed to connect store", "err", err)
		return 1
	}
	defer st.Close()

	// ── Load ──────────────────────────────────────────────────────────────────
	if *replace {
		if err := st.Vectors().DeleteAgent(ctx, *agentID); err != nil {
			slog.Error("failed to delete existing chunks", "agent", *agentID, "err", err)
			return 1
		}
		slog.Info("deleted existing chunks", "agent", *agentID)
	}

	files, err := collectFiles(*docPath)
	if err != nil {
		slog.Error("failed to collect documents", "path", *docPath, "err", err)
		return 1
	}
	if len(files) == 0 {
		slog.Error("no loadable documents found", "path", *docPath)
		return 1
	}

	start := time.Now()
	total := 0
	for _, file := range files {
		n, err := loadFile(ctx, st.Vectors(), embedder, *agentID, file, *chunkSize, *overlap)
		if err != nil {
			slog.Error("failed to load document", "file", file, "err", err)
			return 1
		}
		slog.Info("document loaded", "file", file, "chunks", n)
		total += n
	}

	slog.Info("knowledge base loaded",
		"agent", *agentID,
		"files", len(files),
		"chunks", total,
		"model", embedder.ModelID(),
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	return 0
}

// collectFiles resolves path to the list of documents to load. A file is
// returned as-is; a directory is walked for loadable extensions.
func collectFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	var files []string
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if loadableExtensions[strings.ToLower(filepath.Ext(p))] {
			files = append(files, p)
		}
		return nil
	})
	return files, err
}

// loadFile chunks one document, embeds the chunks in a single batch and
// upserts them. Chunk IDs derive from the agent, source path and ordinal so
// re-loading a document replaces its chunks in place.
func loadFile(ctx context.Context, vectors store.VectorStore, embedder embeddings.Provider, agentID, file string, size, overlap int) (int, error) {
	raw, err := os.ReadFile(file)
	if err != nil {
		return 0, err
	}

	texts := rag.Chunk(string(raw), size, overlap)
	if len(texts) == 0 {
		return 0, errors.New("document is empty")
	}

	vecs, err := embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("embed batch: %w", err)
	}

	chunks := make([]store.Chunk, len(texts))
	for i, text := range texts {
		chunks[i] = store.Chunk{
			ID:        fmt.Sprintf("%s:%s:%d", agentID, file, i),
			AgentID:   agentID,
			Content:   text,
			Embedding: vecs[i],
			Source:    file,
			Ordinal:   i,
		}
	}

	if err := vectors.Upsert(ctx, chunks); err != nil {
		return 0, fmt.Errorf("upsert: %w", err)
	}
	return len(chunks), nil
}

// buildEmbeddings constructs the embeddings provider named in the entry.
// kbload supports the same two providers as the server.
func buildEmbeddings(entry config.ProviderEntry) (embeddings.Provider, error) {
	switch entry.Name {
	case "openai":
		var opts []oaembed.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaembed.WithBaseURL(entry.BaseURL))
		}
		return oaembed.New(entry.APIKey, entry.Model, opts...)
	case "ollama":
		var opts []ollamaembed.Option
		if dims, ok := entry.Options["dimensions"].(int); ok && dims > 0 {
			opts = append(opts, ollamaembed.WithDimensions(dims))
		}
		return ollamaembed.New(entry.BaseURL, entry.Model, opts...)
	default:
		return nil, fmt.Errorf("unknown embeddings provider %q", entry.Name)
	}
}

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
