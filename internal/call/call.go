// Package call implements the per-call real-time voice pipeline.
//
// For every started media stream the telephony handler creates one [Session]
// holding six cooperating workers:
//
//   - media intake: decodes inbound µ-law frames, tracks the noise baseline,
//     and feeds the barge-in detector and the audio ring
//   - STT forwarder: upsamples ring audio to 16 kHz and streams it to the
//     speech-to-text session
//   - turn assembly: folds partial/final transcripts into the turn buffer and
//     fires the end-of-turn gate
//   - generation: intent check, knowledge retrieval, streaming completion,
//     sentence splitting, tool markers
//   - speaker: per-sentence streaming synthesis, 16→8 kHz resample, µ-law
//     re-encode, 20 ms frame emission
//   - watchdog: whole-call inactivity timeout
//
// Control flows against the audio: the barge-in detector cancels the live
// turn, which aborts the completion stream, drains the sentence queue, stops
// synthesis, and sends clear to the carrier. All cross-worker coordination
// goes through the turn context, the sentence queue, and the phase value;
// workers never share other mutable state.
package call

import (
	"context"
	"errors"

	"github.com/callyx/callyx/internal/telephony"
)

// ErrSessionEnded is the sentinel a session's worker group unwinds with when
// the call reached a terminal status through the normal flow (goodbye,
// end_call tool, carrier stop, watchdog). Callers of [Session.Run] treat it
// as success.
var ErrSessionEnded = errors.New("call: session ended")

// Canonical speech lines. The caller never hears an engineering-flavoured
// error; these are the only fallback strings the pipeline speaks on its own.
const (
	// Apology is spoken when a turn cannot be generated (LLM failure, dead
	// STT after a failed reopen).
	Apology = "I'm having trouble responding right now. Could you repeat that?"

	// DefaultFarewell closes the call on a goodbye intent when the agent has
	// no farewell_message configured.
	DefaultFarewell = "Thanks for your time. Have a great day."

	// DenyAck acknowledges a rejected tool confirmation.
	DenyAck = "Understood, cancelled. How else can I help?"

	// ReaskLine is spoken when a pending confirmation gets an answer that is
	// neither a yes nor a no and is too short to be a new request.
	ReaskLine = "Could you please confirm yes or no?"
)

// Phase is the session's position in the per-call state machine.
type Phase int32

const (
	// PhaseGreeting is the instant between stream start and the first
	// phase decision (speak first_message or go straight to listening).
	PhaseGreeting Phase = iota

	// PhaseListening means the turn assembler owns the floor: transcripts
	// accumulate and the end-of-turn gate may fire.
	PhaseListening

	// PhaseResponding means a generation task and/or synthesis is live and
	// the barge-in detector is armed.
	PhaseResponding

	// PhaseAwaitingConfirmation means a tool call is pending and the next
	// utterance is interpreted as a yes/no answer first.
	PhaseAwaitingConfirmation

	// PhaseEnding means the session is draining its last speech and tearing
	// down.
	PhaseEnding
)

// String returns the lowercase phase name used in logs.
func (p Phase) String() string {
	switch p {
	case PhaseGreeting:
		return "greeting"
	case PhaseListening:
		return "listening"
	case PhaseResponding:
		return "responding"
	case PhaseAwaitingConfirmation:
		return "awaiting-confirmation"
	case PhaseEnding:
		return "ending"
	default:
		return "unknown"
	}
}

// MediaStream is the carrier-facing surface a session drives: a frame
// source, a media/clear/mark sink, and a stop signal. *telephony.Stream is
// the production implementation; tests script their own.
type MediaStream interface {
	// Info returns the call identity from the carrier's start event.
	Info() telephony.StartInfo

	// Frames is the inbound 20 ms media frame channel. It closes when the
	// stream stops.
	Frames() <-chan telephony.Frame

	// Marks is the carrier's mark acknowledgement channel: a name sent with
	// SendMark comes back once playback reaches it. Closes when the stream
	// stops.
	Marks() <-chan string

	// SendMedia writes one outbound media frame (base64 µ-law payload).
	SendMedia(ctx context.Context, payloadB64 string) error

	// SendClear tells the carrier to drop its buffered outbound audio.
	SendClear(ctx context.Context) error

	// SendMark writes a named mark event.
	SendMark(ctx context.Context, name string) error

	// Stopped closes when the carrier sent stop or the socket died.
	Stopped() <-chan struct{}

	// Err reports why the stream finished; nil for a clean carrier stop.
	Err() error

	// Close tears the stream down. err colours the websocket close frame.
	Close(err error)
}

var _ MediaStream = (*telephony.Stream)(nil)
