// Package types defines the shared types used across all Callyx packages.
//
// These types form the lingua franca between the telephony transport, the
// speech providers, the retrieval layer, and the per-call pipeline. They are
// intentionally minimal — each package defines its own domain types, but
// cross-cutting data structures live here to avoid circular imports.
package types

import (
	"strings"
	"time"
)

// Transcript represents a speech-to-text result from an STT provider.
// Both partial (interim) and final transcripts use this type.
type Transcript struct {
	// Text is the transcribed speech content.
	Text string

	// IsFinal indicates whether this is a final (authoritative) or partial
	// (interim) transcript.
	IsFinal bool

	// Confidence is the overall confidence score (0.0–1.0). May be zero if
	// the provider does not report confidence.
	Confidence float64

	// Start is the offset of the utterance start, relative to session start.
	Start time.Duration

	// End is the offset of the utterance end, relative to session start.
	End time.Duration
}

// Turn is one completed user/assistant exchange. Turns are appended to the
// in-session history and to the persisted conversation record, exactly once
// per user utterance.
type Turn struct {
	// User is the utterance that triggered the turn.
	User string

	// Assistant is the full cleaned assistant reply (markers and markdown
	// stripped), even when playback was interrupted mid-speech.
	Assistant string

	// ToolName is set when a tool was invoked as part of this turn.
	ToolName string

	// At is when the turn was finalised.
	At time.Time
}

// Message represents a single message in an LLM conversation history.
type Message struct {
	// Role is one of "system", "user" or "assistant".
	Role string

	// Content is the text content of the message.
	Content string
}

// VoiceProfile describes a TTS voice configuration for an agent.
type VoiceProfile struct {
	// ID is the provider-specific voice identifier
	// (e.g. "aura-2-thalia-en" or an ElevenLabs voice UUID).
	ID string

	// Name is the human-readable voice name.
	Name string

	// Provider identifies which TTS provider this voice belongs to.
	Provider string

	// SpeedFactor adjusts speaking rate (0.5–2.0, 1.0 = default).
	SpeedFactor float64

	// Metadata holds provider-specific voice attributes.
	Metadata map[string]string
}

// CallStatus is the terminal (or in-flight) status of a call's conversation
// record.
type CallStatus string

const (
	// StatusInProgress marks a live call whose record was just created.
	StatusInProgress CallStatus = "in-progress"

	// StatusCompleted marks a call that ended through the normal flow
	// (goodbye intent, end_call tool, or carrier stop after a clean turn).
	StatusCompleted CallStatus = "completed"

	// StatusFailed marks a call torn down by an unrecoverable error.
	StatusFailed CallStatus = "failed"

	// StatusDisconnected marks a call whose media stream dropped without a
	// stop event or closing turn.
	StatusDisconnected CallStatus = "disconnected"

	// StatusTimeout marks a call ended by the inactivity watchdog.
	StatusTimeout CallStatus = "timeout"
)

// IsValid reports whether s is a recognised call status.
func (s CallStatus) IsValid() bool {
	switch s {
	case StatusInProgress, StatusCompleted, StatusFailed, StatusDisconnected, StatusTimeout:
		return true
	}
	return false
}

// IsTerminal reports whether s is a final status (anything but in-progress).
func (s CallStatus) IsTerminal() bool {
	return s.IsValid() && s != StatusInProgress
}

// FormatTranscript renders a turn history as the canonical persisted
// transcript: one "User:" and one "Assistant:" line per turn, in order.
func FormatTranscript(turns []Turn) string {
	var sb strings.Builder
	for i, t := range turns {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString("User: ")
		sb.WriteString(t.User)
		sb.WriteString("\nAssistant: ")
		sb.WriteString(t.Assistant)
	}
	return sb.String()
}
