// Package embeddings abstracts text-to-vector backends. The knowledge base
// is embedded once at load time (kbload) and every caller utterance is
// embedded again at query time; retrieval only works when both sides used
// the same model, so a Provider is pinned to one model for its lifetime.
package embeddings

import "context"

// Provider maps text to dense float32 vectors.
//
// Every vector a single Provider returns has the same length, reported by
// Dimensions. Vectors from different Provider instances are only comparable
// when ModelID matches; the store enforces this per agent, not the Provider.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// Embed returns the vector for one text. Text goes to the backend
	// verbatim: any model-specific framing ("query: " prefixes and the
	// like) is the caller's job.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch embeds texts in one backend call. The result is
	// positionally aligned with texts. There are no partial results: any
	// failure returns (nil, err).
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions is the fixed width of every vector this Provider
	// produces, constant for its lifetime.
	Dimensions() int

	// ModelID identifies the underlying model, for logging and for the
	// ingest/query consistency check.
	ModelID() string
}
