package resilience

import (
	"context"

	"github.com/callyx/callyx/pkg/provider/stt"
)

var _ stt.Provider = (*STTFallback)(nil)

// STTFallback is an [stt.Provider] that fails over across several speech
// recognizers, each behind its own breaker.
type STTFallback struct {
	chain *Failover[stt.Provider]
}

// NewSTTFallback builds the chain with primary as the preferred recognizer.
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FallbackConfig) *STTFallback {
	return &STTFallback{chain: NewFailover(primary, primaryName, cfg)}
}

// AddFallback appends another recognizer to try when earlier ones fail.
func (f *STTFallback) AddFallback(name string, provider stt.Provider) {
	f.chain.AddFallback(name, provider)
}

// StartStream opens a transcription session on the first healthy recognizer.
// Failover covers session setup only; if an established session later drops,
// the call owning it reconnects through this provider again, which is when an
// opened breaker pays off.
func (f *STTFallback) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	return TryResult(f.chain, func(p stt.Provider) (stt.SessionHandle, error) {
		return p.StartStream(ctx, cfg)
	})
}
