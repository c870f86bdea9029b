// Package mock is an in-memory tts.Provider for tests. Configure the audio
// it should emit, run the code under test, then assert on the recorded
// synthesis requests.
package mock

import (
	"context"
	"sync"

	"github.com/callyx/callyx/pkg/provider/tts"
	"github.com/callyx/callyx/pkg/types"
)

var _ tts.Provider = (*Provider)(nil)

// SynthesizeCall is one recorded synthesis request.
type SynthesizeCall struct {
	Text  string
	Voice types.VoiceProfile
}

// Provider implements tts.Provider from canned data. Set the response fields
// before use; the call records are safe to read once the code under test has
// gone quiet. The zero value synthesises silence: no chunks, no error.
type Provider struct {
	mu sync.Mutex

	// SynthesizeChunks is replayed, in order, on the channel returned by
	// every Synthesize call.
	SynthesizeChunks [][]byte

	// SynthesizeErr makes Synthesize fail up front instead of streaming.
	SynthesizeErr error

	// ListVoicesResult and ListVoicesErr are returned verbatim by ListVoices.
	ListVoicesResult []types.VoiceProfile
	ListVoicesErr    error

	// SynthesizeCalls holds every synthesis request in arrival order.
	SynthesizeCalls []SynthesizeCall
}

// Synthesize records the request, then streams SynthesizeChunks on the
// returned channel. The stream stops early if ctx is cancelled.
func (p *Provider) Synthesize(ctx context.Context, text string, voice types.VoiceProfile) (<-chan []byte, error) {
	p.mu.Lock()
	p.SynthesizeCalls = append(p.SynthesizeCalls, SynthesizeCall{Text: text, Voice: voice})
	err := p.SynthesizeErr
	chunks := append([][]byte(nil), p.SynthesizeChunks...)
	p.mu.Unlock()

	if err != nil {
		return nil, err
	}

	ch := make(chan []byte, len(chunks))
	go func() {
		defer close(ch)
		for _, pcm := range chunks {
			select {
			case ch <- pcm:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// ListVoices returns the configured catalogue.
func (p *Provider) ListVoices(context.Context) ([]types.VoiceProfile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ListVoicesResult, p.ListVoicesErr
}

// SynthesizeCallCount reports how many synthesis requests have arrived.
func (p *Provider) SynthesizeCallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.SynthesizeCalls)
}
