package resilience

import (
	"context"

	"github.com/callyx/callyx/pkg/provider/llm"
)

var _ llm.Provider = (*LLMFallback)(nil)

// LLMFallback is an [llm.Provider] that fails over across several language
// model backends, each behind its own breaker.
type LLMFallback struct {
	chain *Failover[llm.Provider]
}

// NewLLMFallback builds the chain with primary as the preferred model.
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig) *LLMFallback {
	return &LLMFallback{chain: NewFailover(primary, primaryName, cfg)}
}

// AddFallback appends another model backend to try when earlier ones fail.
func (f *LLMFallback) AddFallback(name string, provider llm.Provider) {
	f.chain.AddFallback(name, provider)
}

// StreamCompletion opens a token stream on the first healthy backend.
// Failover covers opening the stream only; once tokens are flowing, a
// mid-stream failure surfaces as a chunk with FinishReason "error" and is
// the caller's problem, since replaying a half-spoken answer on another
// model would have the agent repeat itself.
func (f *LLMFallback) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	return TryResult(f.chain, func(p llm.Provider) (<-chan llm.Chunk, error) {
		return p.StreamCompletion(ctx, req)
	})
}
