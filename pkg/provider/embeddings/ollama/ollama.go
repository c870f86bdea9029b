// Package ollama implements [embeddings.Provider] against a local or
// self-hosted Ollama server (https://ollama.com).
//
// Knowledge-base vectors are produced by Ollama's /api/embed endpoint, which
// accepts a batch of inputs and returns one float32 vector per input. Typical
// models are nomic-embed-text (768 dims), mxbai-embed-large (1024) and
// all-minilm (384); any embedding model pulled into the server works, unknown
// ones have their dimension probed on demand.
//
//	p, err := ollama.New("", "nomic-embed-text") // http://localhost:11434
//	if err != nil { ... }
//	vec, err := p.Embed(ctx, "what are your opening hours?")
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/callyx/callyx/pkg/provider/embeddings"
)

// DefaultBaseURL points at a stock local Ollama install.
const DefaultBaseURL = "http://localhost:11434"

// probeTimeout bounds the on-demand dimension probe so a wedged server cannot
// stall knowledge-base loading indefinitely.
const probeTimeout = 10 * time.Second

var _ embeddings.Provider = (*Provider)(nil)

// Provider talks to one Ollama server with one fixed embedding model. It is
// safe for concurrent use.
type Provider struct {
	baseURL string
	model   string
	client  *http.Client

	// dims caches the resolved vector width. Zero means not yet known; unlike
	// a sync.Once a failed probe leaves it zero so the next Dimensions call
	// retries, which matters when the loader races an Ollama that is still
	// pulling the model.
	dims atomic.Int32
}

// Option adjusts a Provider during construction.
type Option func(*Provider)

// WithTimeout caps each HTTP round trip. Zero or negative leaves the client
// unbounded, which is the default because batch embeds of large documents can
// legitimately take a while on CPU-only hosts.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.client.Timeout = d
		}
	}
}

// WithDimensions fixes the vector width up front so Dimensions never has to
// consult the model table or probe the server. Required when the store schema
// was created for a width that differs from the model default.
func WithDimensions(dims int) Option {
	return func(p *Provider) {
		if dims > 0 {
			p.dims.Store(int32(dims))
		}
	}
}

// New builds a Provider for the given server and model. An empty baseURL
// selects DefaultBaseURL; model must name an embedding model available on the
// server, optionally with a tag ("nomic-embed-text:v1.5").
func New(baseURL, model string, opts ...Option) (*Provider, error) {
	if model == "" {
		return nil, fmt.Errorf("ollama: embedding model name is required")
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	p := &Provider{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  &http.Client{},
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.dims.Load() == 0 {
		if d, ok := modelDims[baseModelName(model)]; ok {
			p.dims.Store(int32(d))
		}
	}
	return p, nil
}

// Embed returns the vector for a single text. The text goes to the model
// verbatim; callers that use prefix-sensitive models (nomic's "search_query: "
// convention and friends) must add the prefix themselves.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.post(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("ollama: embed: %w", err)
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("ollama: embed: server returned no vectors")
	}
	return vecs[0], nil
}

// EmbedBatch embeds all texts in one round trip. The result is positionally
// aligned with texts; a nil or empty input short-circuits to (nil, nil). Any
// failure discards the whole batch rather than returning partial vectors.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vecs, err := p.post(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("ollama: embed batch: %w", err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("ollama: embed batch: sent %d inputs, got %d vectors", len(texts), len(vecs))
	}
	return vecs, nil
}

// Dimensions reports the vector width this provider produces. Resolution is
// layered: an explicit WithDimensions value, then the built-in model table,
// then a live probe against the server whose result is cached. When even the
// probe fails it returns 0 and will probe again on the next call.
func (p *Provider) Dimensions() int {
	if d := p.dims.Load(); d != 0 {
		return int(d)
	}
	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()
	vecs, err := p.post(ctx, []string{"dimension probe"})
	if err != nil || len(vecs) == 0 || len(vecs[0]) == 0 {
		return 0
	}
	// Concurrent probes may race; first writer wins and they all agree anyway.
	p.dims.CompareAndSwap(0, int32(len(vecs[0])))
	return len(vecs[0])
}

// ModelID returns the model name as given to New, tag included.
func (p *Provider) ModelID() string {
	return p.model
}

// post performs one /api/embed call and returns the raw vectors.
func (p *Provider) post(ctx context.Context, inputs []string) ([][]float32, error) {
	payload, err := json.Marshal(struct {
		Model    string   `json:"model"`
		Input    []string `json:"input"`
		Truncate bool     `json:"truncate"`
	}{
		Model: p.model,
		Input: inputs,
		// Oversized chunks are truncated to the model context rather than
		// failing the whole batch; chunking upstream keeps this rare.
		Truncate: true,
	})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/embed", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp)
	}

	var out struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(out.Embeddings) == 0 {
		return nil, fmt.Errorf("response contained no embeddings")
	}
	return out.Embeddings, nil
}

// apiError extracts Ollama's {"error": "..."} body so a misspelled or
// un-pulled model surfaces as a readable message, not just a status code.
func apiError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, e.Error)
	}
	return fmt.Errorf("server returned %d", resp.StatusCode)
}

// modelDims maps base model names (tag stripped) to their fixed output width.
// Missing entries fall through to the live probe in Dimensions.
var modelDims = map[string]int{
	"nomic-embed-text":       768,
	"mxbai-embed-large":      1024,
	"all-minilm":             384,
	"snowflake-arctic-embed": 1024,
	"bge-m3":                 1024,
}

// baseModelName strips an Ollama tag suffix: "nomic-embed-text:v1.5" and
// "nomic-embed-text:latest" both resolve as "nomic-embed-text".
func baseModelName(model string) string {
	base, _, _ := strings.Cut(model, ":")
	return base
}
