// Package mock is an in-memory llm.Provider for tests. Configure the chunks
// it should stream, run the code under test, then assert on the recorded
// completion requests.
package mock

import (
	"context"
	"sync"

	"github.com/callyx/callyx/pkg/provider/llm"
)

var _ llm.Provider = (*Provider)(nil)

// StreamCall is one recorded completion request.
type StreamCall struct {
	Req llm.CompletionRequest
}

// Provider implements llm.Provider from canned data. Set the response fields
// before use; the call records are safe to read once the code under test has
// gone quiet. The zero value streams nothing and closes immediately.
type Provider struct {
	mu sync.Mutex

	// StreamChunks is replayed, in order, on the channel returned by every
	// StreamCompletion call.
	StreamChunks []llm.Chunk

	// StreamErr makes StreamCompletion fail up front instead of streaming.
	StreamErr error

	// ChunkDelay, when set, gates each chunk: emission waits for the returned
	// channel to fire, so a test can hold the stream mid-reply (to trigger an
	// interruption, say) and then let it run.
	ChunkDelay func() <-chan struct{}

	// StreamCalls holds every completion request in arrival order.
	StreamCalls []StreamCall
}

// StreamCompletion records the request, then streams StreamChunks on the
// returned channel. The stream stops early if ctx is cancelled.
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	p.mu.Lock()
	p.StreamCalls = append(p.StreamCalls, StreamCall{Req: req})
	err := p.StreamErr
	chunks := append([]llm.Chunk(nil), p.StreamChunks...)
	delay := p.ChunkDelay
	p.mu.Unlock()

	if err != nil {
		return nil, err
	}

	ch := make(chan llm.Chunk, len(chunks))
	go func() {
		defer close(ch)
		for _, c := range chunks {
			if delay != nil {
				select {
				case <-delay():
				case <-ctx.Done():
					return
				}
			}
			select {
			case ch <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// StreamCallCount reports how many completion requests have arrived.
func (p *Provider) StreamCallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.StreamCalls)
}

// LastStreamCall returns the most recent request, or a zero value when none
// have been made.
func (p *Provider) LastStreamCall() StreamCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.StreamCalls) == 0 {
		return StreamCall{}
	}
	return p.StreamCalls[len(p.StreamCalls)-1]
}
