// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service (e.g., Deepgram Aura or
// ElevenLabs) and presents a uniform streaming interface. The primary entry
// point is Synthesize, which converts one sentence of text into a channel of
// raw PCM audio chunks as they become available — enabling the speaker worker
// to start writing audio to the caller before synthesis of the full sentence
// has finished.
//
// All providers emit linear PCM, 16 kHz, mono, 16-bit little-endian. The
// caller owns downstream resampling and telephony encoding.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"

	"github.com/callyx/callyx/pkg/types"
)

// Provider is the abstraction over any TTS backend.
//
// Implementations must be safe for concurrent use. Multiple synthesis requests
// may run in parallel (e.g., several calls speaking at once).
type Provider interface {
	// Synthesize converts a single sentence into speech and returns a channel
	// that emits raw PCM audio byte slices as they are synthesised. Chunks are
	// not guaranteed to be sample-aligned; callers must buffer across chunk
	// boundaries.
	//
	// The returned channel is closed by the implementation when synthesis is
	// complete or when ctx is cancelled. The caller must drain the channel to
	// avoid blocking the provider's internal goroutines. Errors encountered
	// mid-stream are signalled by closing the channel early; callers should
	// check ctx.Err() to distinguish cancellation from provider errors.
	//
	// voice selects the voice to synthesise with. Providers should return an
	// error if the requested voice is not available.
	//
	// Returns a non-nil error only if the stream cannot be started.
	Synthesize(ctx context.Context, text string, voice types.VoiceProfile) (<-chan []byte, error)

	// ListVoices returns all voice profiles available from this provider. The
	// list reflects the provider's current catalogue and may change between
	// calls if the underlying service adds or removes voices.
	//
	// Returns an error if the provider cannot be reached or if ctx is cancelled
	// before the list is retrieved.
	ListVoices(ctx context.Context) ([]types.VoiceProfile, error)
}
