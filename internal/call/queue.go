package call

import (
	"context"

	"github.com/callyx/callyx/pkg/types"
)

// queueCapacity is the default sentence queue depth. Generation runs ahead
// of synthesis by at most this many sentences; a full queue applies
// backpressure to the completion stream.
const queueCapacity = 8

// Sentence is one unit of agent speech awaiting synthesis. Besides spoken
// text the queue carries two control markers the speaker acts on in order:
// a turn-end marker (the response is fully scheduled; decide the next phase)
// and an end-call marker (speak everything before it, then end the session).
type Sentence struct {
	// Text is the cleaned, speakable sentence. Empty on control markers.
	Text string

	// seq stamps the turn that queued the sentence. The speaker ignores
	// anything stamped by a turn that has since been cancelled, which closes
	// the window where a dying generation slips one last sentence past the
	// cancel drain.
	seq int64

	turnEnd   bool
	endStatus types.CallStatus
}

// turnEndMarker signals that every sentence of the current response has been
// queued ahead of it.
func turnEndMarker() Sentence { return Sentence{turnEnd: true} }

// endMarker signals the session to finish with status once the queue ahead
// of it has been spoken.
func endMarker(status types.CallStatus) Sentence { return Sentence{endStatus: status} }

// SentenceQueue is the bounded FIFO between generation and synthesis.
// Safe for concurrent use.
type SentenceQueue struct {
	ch chan Sentence
}

// NewSentenceQueue returns a queue holding up to capacity sentences. A
// capacity of zero or less uses the package default.
func NewSentenceQueue(capacity int) *SentenceQueue {
	if capacity <= 0 {
		capacity = queueCapacity
	}
	return &SentenceQueue{ch: make(chan Sentence, capacity)}
}

// Push appends s, blocking while the queue is full. It returns ctx.Err()
// when the context ends first, which is how a cancelled generation bails out
// of a stalled queue.
func (q *SentenceQueue) Push(ctx context.Context, s Sentence) error {
	select {
	case q.ch <- s:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pop removes and returns the oldest sentence, blocking until one arrives.
// It returns ctx.Err() when the context ends first.
func (q *SentenceQueue) Pop(ctx context.Context) (Sentence, error) {
	select {
	case s := <-q.ch:
		return s, nil
	case <-ctx.Done():
		return Sentence{}, ctx.Err()
	}
}

// Drain discards everything currently queued and reports how many sentences
// were dropped. The cancel handler drains before the next turn may queue so
// stale speech never outlives an interruption.
func (q *SentenceQueue) Drain() int {
	n := 0
	for {
		select {
		case <-q.ch:
			n++
		default:
			return n
		}
	}
}

// Len reports how many sentences are queued.
func (q *SentenceQueue) Len() int { return len(q.ch) }
