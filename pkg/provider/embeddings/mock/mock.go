// Package mock is a canned-response embeddings.Provider for tests. Configure
// the exported fields, pass the Provider where an embedder is expected, then
// assert on the recorded inputs:
//
//	p := &mock.Provider{EmbedResult: []float32{0.1, 0.2, 0.3}, DimensionsValue: 3}
//	vec, _ := p.Embed(ctx, "hello")
//	// p.EmbedCalls[0] == "hello"
package mock

import (
	"context"
	"sync"

	"github.com/callyx/callyx/pkg/provider/embeddings"
)

var _ embeddings.Provider = (*Provider)(nil)

// Provider returns fixed vectors and records every text it is asked to
// embed. The zero value is usable; all methods are safe for concurrent use.
type Provider struct {
	mu sync.Mutex

	// EmbedResult is the vector Embed returns. When EmbedBatchResult is
	// unset, EmbedBatch also returns one copy of it per input text.
	EmbedResult []float32

	// EmbedErr makes Embed fail.
	EmbedErr error

	// EmbedBatchResult, when set, is returned verbatim by EmbedBatch.
	EmbedBatchResult [][]float32

	// EmbedBatchErr makes EmbedBatch fail.
	EmbedBatchErr error

	// DimensionsValue is what Dimensions reports.
	DimensionsValue int

	// ModelIDValue is what ModelID reports.
	ModelIDValue string

	// EmbedCalls holds the texts passed to Embed, in order.
	EmbedCalls []string

	// EmbedBatchCalls holds a copy of each slice passed to EmbedBatch.
	EmbedBatchCalls [][]string
}

func (p *Provider) Embed(_ context.Context, text string) ([]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.EmbedCalls = append(p.EmbedCalls, text)
	if p.EmbedErr != nil {
		return nil, p.EmbedErr
	}
	return p.EmbedResult, nil
}

func (p *Provider) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := make([]string, len(texts))
	copy(cp, texts)
	p.EmbedBatchCalls = append(p.EmbedBatchCalls, cp)

	if p.EmbedBatchErr != nil {
		return nil, p.EmbedBatchErr
	}
	if p.EmbedBatchResult != nil {
		return p.EmbedBatchResult, nil
	}
	rows := make([][]float32, len(texts))
	for i := range rows {
		rows[i] = p.EmbedResult
	}
	return rows, nil
}

func (p *Provider) Dimensions() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.DimensionsValue
}

func (p *Provider) ModelID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ModelIDValue
}

// EmbedCallCount reports how many times Embed has run.
func (p *Provider) EmbedCallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.EmbedCalls)
}
