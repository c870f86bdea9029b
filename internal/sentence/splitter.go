// Package sentence turns a token-level LLM stream into speakable sentences.
//
// The [Splitter] accumulates streamed text and emits a sentence whenever the
// buffer reaches a terminator ('.', '!' or '?') or grows past a soft length
// limit without one, so TTS can start on the first sentence while the model
// is still generating. [CleanForSpeech] strips markdown formatting that a
// voice would otherwise read aloud.
package sentence

import "strings"

// SoftLimit is the buffer length at which an unterminated sentence is flushed
// anyway. Long enumerations and run-on model output would otherwise delay TTS
// indefinitely.
const SoftLimit = 200

// Splitter is a streaming sentence boundary detector.
//
// Feed it token chunks with [Splitter.Push]; it returns completed sentences as
// they form. Call [Splitter.Flush] when the stream ends to obtain any residual
// fragment. A Splitter is not safe for concurrent use; each generation task
// owns its own.
//
// Splitting is deterministic: re-feeding the emitted sentences produces the
// same sequence again.
type Splitter struct {
	pending   string
	softLimit int
}

// NewSplitter returns a Splitter with the default [SoftLimit].
func NewSplitter() *Splitter {
	return &Splitter{softLimit: SoftLimit}
}

// Push appends chunk to the internal buffer and returns all sentences
// completed by it, trimmed of surrounding whitespace. Empty residues are
// dropped. The returned slice is nil when no boundary was reached.
func (s *Splitter) Push(chunk string) []string {
	s.pending += chunk
	var out []string
	for {
		cut := boundary(s.pending)
		if cut < 0 {
			if len(s.pending) < s.softLimit {
				break
			}
			// Soft limit: flush the whole unterminated buffer.
			cut = len(s.pending) - 1
		}
		emitted := strings.TrimSpace(s.pending[:cut+1])
		s.pending = strings.TrimLeft(s.pending[cut+1:], " \t\n\r")
		if emitted != "" {
			out = append(out, emitted)
		}
	}
	return out
}

// Flush returns the residual fragment (trimmed) and resets the buffer. It
// returns "" when nothing is pending.
func (s *Splitter) Flush() string {
	tail := strings.TrimSpace(s.pending)
	s.pending = ""
	return tail
}

// Reset discards any buffered text. Called when generation is cancelled
// mid-stream so the next turn starts clean.
func (s *Splitter) Reset() {
	s.pending = ""
}

// boundary returns the index of the first '.', '!' or '?' that is either the
// last byte of s or immediately followed by whitespace. Returns -1 if s holds
// no complete sentence.
func boundary(s string) int {
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '.', '!', '?':
			if i == len(s)-1 {
				return i
			}
			switch s[i+1] {
			case ' ', '\n', '\r', '\t':
				return i
			}
		}
	}
	return -1
}
