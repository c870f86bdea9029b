package resilience

import (
	"context"

	"github.com/callyx/callyx/pkg/provider/tts"
	"github.com/callyx/callyx/pkg/types"
)

var _ tts.Provider = (*TTSFallback)(nil)

// TTSFallback is a [tts.Provider] that fails over across several synthesis
// backends, each behind its own breaker.
type TTSFallback struct {
	chain *Failover[tts.Provider]
}

// NewTTSFallback builds the chain with primary as the preferred synthesizer.
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSFallback {
	return &TTSFallback{chain: NewFailover(primary, primaryName, cfg)}
}

// AddFallback appends another synthesizer to try when earlier ones fail.
func (f *TTSFallback) AddFallback(name string, provider tts.Provider) {
	f.chain.AddFallback(name, provider)
}

// Synthesize starts synthesis of one sentence on the first healthy backend.
// Failover covers stream setup only; mid-stream errors belong to the caller.
//
// Voice IDs do not transfer between vendors, so a sentence served by a
// fallback speaks in that vendor's default voice. A mid-reply voice change
// beats dead air.
func (f *TTSFallback) Synthesize(ctx context.Context, text string, voice types.VoiceProfile) (<-chan []byte, error) {
	return TryResult(f.chain, func(p tts.Provider) (<-chan []byte, error) {
		return p.Synthesize(ctx, text, voice)
	})
}

// ListVoices reports the voices of the first backend that answers.
func (f *TTSFallback) ListVoices(ctx context.Context) ([]types.VoiceProfile, error) {
	return TryResult(f.chain, func(p tts.Provider) ([]types.VoiceProfile, error) {
		return p.ListVoices(ctx)
	})
}
