// Package openai implements [embeddings.Provider] on the OpenAI embeddings
// API. It is the default vectorizer for knowledge-base content: kbload uses
// it to embed documents at ingest time and the retriever uses the same model
// for query vectors, which is what makes the cosine distances comparable.
package openai

import (
	"context"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/callyx/callyx/pkg/provider/embeddings"
)

// DefaultModel is used when no model is configured. text-embedding-3-small
// is the cheapest current-generation model and its 1536 dims match the
// store's default vector width.
const DefaultModel = oai.EmbeddingModelTextEmbedding3Small

var _ embeddings.Provider = (*Provider)(nil)

// Provider calls the OpenAI embeddings endpoint with one fixed model.
type Provider struct {
	client oai.Client
	model  string

	// dims, when non-zero, is sent as the API's dimensions parameter and
	// reported by Dimensions.
	dims int

	reqOpts []option.RequestOption
}

// Option adjusts a Provider during construction.
type Option func(*Provider)

// WithBaseURL points the client at an OpenAI-compatible server instead of
// api.openai.com.
func WithBaseURL(url string) Option {
	return func(p *Provider) {
		p.reqOpts = append(p.reqOpts, option.WithBaseURL(url))
	}
}

// WithOrganization attaches an OpenAI organization ID to every request.
func WithOrganization(org string) Option {
	return func(p *Provider) {
		p.reqOpts = append(p.reqOpts, option.WithOrganization(org))
	}
}

// WithTimeout caps each HTTP round trip.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.reqOpts = append(p.reqOpts, option.WithHTTPClient(&http.Client{Timeout: d}))
	}
}

// WithDimensions asks the API to return vectors of exactly this width and
// makes Dimensions report it. Only the text-embedding-3 family honours the
// parameter; older models reject it. Use this when the store schema was
// created narrower than the model default.
func WithDimensions(dims int) Option {
	return func(p *Provider) {
		if dims > 0 {
			p.dims = dims
		}
	}
}

// New builds a Provider. An empty model selects DefaultModel.
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: embeddings api key is required")
	}
	if model == "" {
		model = DefaultModel
	}

	p := &Provider{
		model:   model,
		reqOpts: []option.RequestOption{option.WithAPIKey(apiKey)},
	}
	for _, opt := range opts {
		opt(p)
	}
	p.client = oai.NewClient(p.reqOpts...)
	return p, nil
}

// Embed returns the vector for one text.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	rows, err := p.request(ctx, oai.EmbeddingNewParamsInputUnion{
		OfString: param.NewOpt(text),
	}, 1)
	if err != nil {
		return nil, fmt.Errorf("openai: embed: %w", err)
	}
	return rows[0], nil
}

// EmbedBatch embeds all texts in one API call. The result is positionally
// aligned with texts; nil or empty input returns (nil, nil) without a
// request.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	rows, err := p.request(ctx, oai.EmbeddingNewParamsInputUnion{
		OfArrayOfStrings: texts,
	}, len(texts))
	if err != nil {
		return nil, fmt.Errorf("openai: embed batch: %w", err)
	}
	return rows, nil
}

// request performs one embeddings call and reassembles the rows in input
// order using the per-row index the API reports.
func (p *Provider) request(ctx context.Context, input oai.EmbeddingNewParamsInputUnion, n int) ([][]float32, error) {
	params := oai.EmbeddingNewParams{
		Model: p.model,
		Input: input,
	}
	if p.dims > 0 {
		params.Dimensions = param.NewOpt(int64(p.dims))
	}

	resp, err := p.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, err
	}
	if len(resp.Data) != n {
		return nil, fmt.Errorf("sent %d inputs, got %d vectors", n, len(resp.Data))
	}

	rows := make([][]float32, n)
	for _, e := range resp.Data {
		if e.Index < 0 || int(e.Index) >= n {
			return nil, fmt.Errorf("vector index %d out of range", e.Index)
		}
		rows[e.Index] = narrow(e.Embedding)
	}
	for i, row := range rows {
		if row == nil {
			return nil, fmt.Errorf("no vector returned for input %d", i)
		}
	}
	return rows, nil
}

// Dimensions reports the vector width: the explicit WithDimensions value
// when set, otherwise the model's native width.
func (p *Provider) Dimensions() int {
	if p.dims > 0 {
		return p.dims
	}
	if d, ok := nativeDims[p.model]; ok {
		return d
	}
	// Unknown models are almost certainly 3-small compatibles.
	return 1536
}

// ModelID reports the model name in use.
func (p *Provider) ModelID() string {
	return p.model
}

// nativeDims holds the fixed output widths of the published models.
var nativeDims = map[string]int{
	oai.EmbeddingModelTextEmbedding3Large: 3072,
	oai.EmbeddingModelTextEmbedding3Small: 1536,
	oai.EmbeddingModelTextEmbeddingAda002: 1536,
}

// narrow converts the API's float64 rows to the float32 the vector store
// keeps. Embedding models are trained and served in low precision, so
// nothing real is lost.
func narrow(in []float64) []float32 {
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = float32(v)
	}
	return out
}
