package rag

import (
	"context"
	"errors"
	"testing"

	embedmock "github.com/callyx/callyx/pkg/provider/embeddings/mock"
	"github.com/callyx/callyx/pkg/store"
	storemock "github.com/callyx/callyx/pkg/store/mock"
)

// ─────────────────────────────────────────────────────────────────────────────
// helpers
// ─────────────────────────────────────────────────────────────────────────────

func scored(content string, distance float64) store.ScoredChunk {
	return store.ScoredChunk{
		Chunk:    store.Chunk{Content: content},
		Distance: distance,
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// tests
// ─────────────────────────────────────────────────────────────────────────────

func TestRetrieve_JoinsTopChunks(t *testing.T) {
	t.Parallel()

	embedder := &embedmock.Provider{EmbedResult: []float32{0.1, 0.2, 0.3}}
	vectors := &storemock.VectorStore{
		SearchResults: []store.ScoredChunk{
			scored("alpha", 0.2),
			scored("beta", 0.4),
			scored("gamma", 0.6),
			scored("delta", 0.8),
			scored("epsilon", 1.2),
		},
	}
	r := NewRetriever(embedder, vectors, Config{})

	got := r.Retrieve(context.Background(), "agent-1", "what are your hours")

	want := "alpha\n\n---\n\nbeta\n\n---\n\ngamma"
	if got != want {
		t.Errorf("Retrieve() = %q, want %q", got, want)
	}

	if len(vectors.SearchCalls) != 1 {
		t.Fatalf("Search called %d times, want 1", len(vectors.SearchCalls))
	}
	call := vectors.SearchCalls[0]
	if call.AgentID != "agent-1" {
		t.Errorf("Search agentID = %q, want %q", call.AgentID, "agent-1")
	}
	if call.K != DefaultK {
		t.Errorf("Search k = %d, want %d", call.K, DefaultK)
	}
	if len(call.Vector) != 3 || call.Vector[0] != 0.1 {
		t.Errorf("Search vector = %v, want the embedded query vector", call.Vector)
	}

	if len(embedder.EmbedCalls) != 1 || embedder.EmbedCalls[0] != "what are your hours" {
		t.Errorf("Embed calls = %+v, want one call with the utterance", embedder.EmbedCalls)
	}
}

func TestRetrieve_FiltersByDistance(t *testing.T) {
	t.Parallel()

	embedder := &embedmock.Provider{EmbedResult: []float32{1}}
	vectors := &storemock.VectorStore{
		SearchResults: []store.ScoredChunk{
			scored("near", 0.5),
			scored("far", 1.05),
			scored("close enough", 1.0),
		},
	}
	r := NewRetriever(embedder, vectors, Config{})

	got := r.Retrieve(context.Background(), "agent-1", "hi")

	want := "near\n\n---\n\nclose enough"
	if got != want {
		t.Errorf("Retrieve() = %q, want %q", got, want)
	}
}

func TestRetrieve_NoHits(t *testing.T) {
	t.Parallel()

	embedder := &embedmock.Provider{EmbedResult: []float32{1}}
	vectors := &storemock.VectorStore{}
	r := NewRetriever(embedder, vectors, Config{})

	if got := r.Retrieve(context.Background(), "agent-1", "hi"); got != "" {
		t.Errorf("Retrieve() = %q, want empty context", got)
	}
}

func TestRetrieve_EmbedErrorDegrades(t *testing.T) {
	t.Parallel()

	embedder := &embedmock.Provider{EmbedErr: errors.New("model offline")}
	vectors := &storemock.VectorStore{
		SearchResults: []store.ScoredChunk{scored("alpha", 0.1)},
	}
	r := NewRetriever(embedder, vectors, Config{})

	if got := r.Retrieve(context.Background(), "agent-1", "hi"); got != "" {
		t.Errorf("Retrieve() = %q, want empty context on embed failure", got)
	}
	if len(vectors.SearchCalls) != 0 {
		t.Errorf("Search called %d times after embed failure, want 0", len(vectors.SearchCalls))
	}
}

func TestRetrieve_SearchErrorDegrades(t *testing.T) {
	t.Parallel()

	embedder := &embedmock.Provider{EmbedResult: []float32{1}}
	vectors := &storemock.VectorStore{SearchErr: errors.New("connection refused")}
	r := NewRetriever(embedder, vectors, Config{})

	if got := r.Retrieve(context.Background(), "agent-1", "hi"); got != "" {
		t.Errorf("Retrieve() = %q, want empty context on search failure", got)
	}
}

func TestRetrieve_ConfigOverrides(t *testing.T) {
	t.Parallel()

	embedder := &embedmock.Provider{EmbedResult: []float32{1}}
	vectors := &storemock.VectorStore{
		SearchResults: []store.ScoredChunk{
			scored("alpha", 0.1),
			scored("beta", 0.2),
		},
	}
	r := NewRetriever(embedder, vectors, Config{K: 2, RelevanceThreshold: 0.5, ContextTop: 1})

	got := r.Retrieve(context.Background(), "agent-1", "hi")
	if got != "alpha" {
		t.Errorf("Retrieve() = %q, want only the single top chunk", got)
	}
	if k := vectors.SearchCalls[0].K; k != 2 {
		t.Errorf("Search k = %d, want 2", k)
	}
}
