package call

import (
	"strings"
	"sync"
	"time"
)

// partialGap guards the gate against firing while the provider is still
// revising: a new partial within this window postpones dispatch.
const partialGap = 300 * time.Millisecond

// TurnAssembler folds streaming transcript events into one caller utterance
// and decides when that utterance is complete.
//
// Partials overwrite the buffer while no final has landed; finals append
// (continuation of the same breath) or replace (the previous text already
// ended in terminal punctuation). The end-of-turn gate then waits for enough
// silence after the last event before releasing the text.
//
// Safe for concurrent use: the STT reader writes, the gate ticker reads.
type TurnAssembler struct {
	cfg TurnConfig

	mu          sync.Mutex
	text        string
	isFinal     bool
	lastSpeech  time.Time
	lastPartial time.Time
}

// NewTurnAssembler returns an empty assembler with the given gate tuning.
func NewTurnAssembler(cfg TurnConfig) *TurnAssembler {
	return &TurnAssembler{cfg: cfg}
}

// OnPartial records an interim hypothesis. It overwrites the buffered text
// only while the buffer is empty or still interim; a partial never clobbers
// committed final text.
func (a *TurnAssembler) OnPartial(text string, now time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.lastSpeech = now
	a.lastPartial = now
	if text == "" {
		return
	}
	if a.text == "" || !a.isFinal {
		a.text = text
	}
}

// OnFinal records a committed recognition result. Non-empty finals extend
// the buffer: when the buffered text lacks terminal punctuation the new text
// continues the same utterance, otherwise it replaces it. Empty finals only
// refresh the silence clock so they can never produce an empty dispatch.
func (a *TurnAssembler) OnFinal(text string, now time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.lastSpeech = now
	if text == "" {
		return
	}
	if a.text != "" && !endsTerminal(a.text) {
		a.text += " " + text
	} else {
		a.text = text
	}
	a.isFinal = true
}

// TryFire evaluates the end-of-turn gate at the given instant. When the gate
// is open it resets the buffer atomically and returns the utterance; the
// caller owns dispatch. Otherwise it returns ("", false).
//
// A finalised buffer dispatches after SilenceThreshold of quiet, with a
// further 300 ms guard since the last partial so a revision in flight is
// never cut off. The interim fast path — enabled, and the buffered partial
// at least InterimMinLength bytes — dispatches after just InterimSilence;
// it deliberately skips the partial guard, trading accuracy for latency.
func (a *TurnAssembler) TryFire(now time.Time) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.text == "" {
		return "", false
	}

	switch {
	case a.isFinal:
		if now.Sub(a.lastSpeech) < a.cfg.SilenceThreshold {
			return "", false
		}
		if !a.lastPartial.IsZero() && now.Sub(a.lastPartial) < partialGap {
			return "", false
		}
	case a.cfg.InterimEnabled && len(a.text) >= a.cfg.InterimMinLength:
		if now.Sub(a.lastSpeech) < a.cfg.InterimSilence {
			return "", false
		}
	default:
		return "", false
	}

	text := strings.TrimSpace(a.text)
	a.reset()
	if text == "" {
		return "", false
	}
	return text, true
}

// Reset clears the buffer. Called on every transition into listening so a
// new turn never inherits stale speech.
func (a *TurnAssembler) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reset()
}

func (a *TurnAssembler) reset() {
	a.text = ""
	a.isFinal = false
	a.lastSpeech = time.Time{}
	a.lastPartial = time.Time{}
}

// endsTerminal reports whether s already reads as a finished sentence.
func endsTerminal(s string) bool {
	s = strings.TrimRight(s, " ")
	if s == "" {
		return false
	}
	switch s[len(s)-1] {
	case '.', '!', '?':
		return true
	}
	return false
}
