// Package rag implements retrieval-augmented generation support for call
// turns: embedding the caller's utterance, searching the per-agent knowledge
// base, and assembling the prompt sent to the LLM.
//
// Retrieval is deliberately forgiving: an unreachable vector store or a
// failed embedding degrades to an empty context block rather than failing
// the turn. The prompt then directs the model to say it does not have the
// information.
package rag

import (
	"context"
	"log/slog"
	"strings"

	"github.com/callyx/callyx/pkg/provider/embeddings"
	"github.com/callyx/callyx/pkg/store"
)

// Retrieval defaults; see [Config].
const (
	DefaultK                  = 6
	DefaultRelevanceThreshold = 1.0
	DefaultContextTop         = 3
)

// contextSeparator joins the retained chunks into one context block.
const contextSeparator = "\n\n---\n\n"

// Config bounds a retrieval pass.
type Config struct {
	// K is how many nearest chunks to fetch from the vector store.
	K int

	// RelevanceThreshold is the maximum cosine distance a chunk may have to
	// be considered relevant.
	RelevanceThreshold float64

	// ContextTop is how many of the relevant chunks end up in the prompt.
	ContextTop int
}

func (c Config) withDefaults() Config {
	if c.K <= 0 {
		c.K = DefaultK
	}
	if c.RelevanceThreshold <= 0 {
		c.RelevanceThreshold = DefaultRelevanceThreshold
	}
	if c.ContextTop <= 0 {
		c.ContextTop = DefaultContextTop
	}
	return c
}

// Retriever turns a caller utterance into a knowledge context block.
// Safe for concurrent use; one instance is shared by all call sessions.
type Retriever struct {
	embedder embeddings.Provider
	vectors  store.VectorStore
	cfg      Config
}

// NewRetriever returns a Retriever over the given embedding provider and
// vector store. Zero fields in cfg fall back to the package defaults.
func NewRetriever(embedder embeddings.Provider, vectors store.VectorStore, cfg Config) *Retriever {
	return &Retriever{
		embedder: embedder,
		vectors:  vectors,
		cfg:      cfg.withDefaults(),
	}
}

// Retrieve embeds utterance, fetches the K nearest chunks for agentID, keeps
// those within the relevance threshold, and joins the top ContextTop into a
// single block. It returns "" when nothing relevant is found — and on any
// embedding or store failure, which is logged but never fails the turn.
func (r *Retriever) Retrieve(ctx context.Context, agentID, utterance string) string {
	vec, err := r.embedder.Embed(ctx, utterance)
	if err != nil {
		slog.Warn("rag: embedding failed, continuing without context",
			"agent_id", agentID, "err", err)
		return ""
	}

	hits, err := r.vectors.Search(ctx, agentID, vec, r.cfg.K)
	if err != nil {
		slog.Warn("rag: vector search failed, continuing without context",
			"agent_id", agentID, "err", err)
		return ""
	}

	var kept []string
	for _, h := range hits {
		if h.Distance > r.cfg.RelevanceThreshold {
			continue
		}
		kept = append(kept, h.Content)
		if len(kept) == r.cfg.ContextTop {
			break
		}
	}
	return strings.Join(kept, contextSeparator)
}
