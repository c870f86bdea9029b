package call

import (
	"context"
	"sync"
)

// ringCapacity is the default AudioRing size: 64 frames ≈ 1.28 s of audio.
// A forwarder that falls further behind loses the oldest frames, which is
// the right trade — stale audio only delays recognition of what the caller
// is saying now.
const ringCapacity = 64

// AudioRing buffers inbound µ-law frames between the media intake and the
// STT forwarder. Push never blocks: when the ring is full the oldest frame
// is dropped. Pop blocks until a frame is available or ctx is done.
//
// Safe for concurrent use by one producer and one consumer (and incidentally
// by more).
type AudioRing struct {
	mu      sync.Mutex
	buf     [][]byte
	head    int // index of the oldest frame
	n       int // frames currently stored
	dropped uint64
	ready   chan struct{} // 1-slot wakeup for a waiting Pop
}

// NewAudioRing returns a ring holding up to capacity frames. A capacity of
// zero or less uses the package default.
func NewAudioRing(capacity int) *AudioRing {
	if capacity <= 0 {
		capacity = ringCapacity
	}
	return &AudioRing{
		buf:   make([][]byte, capacity),
		ready: make(chan struct{}, 1),
	}
}

// Push stores frame, evicting the oldest one when the ring is full. The
// slice is stored as-is; callers must not reuse it.
func (r *AudioRing) Push(frame []byte) {
	r.mu.Lock()
	if r.n == len(r.buf) {
		// Overwrite the oldest slot.
		r.head = (r.head + 1) % len(r.buf)
		r.n--
		r.dropped++
	}
	r.buf[(r.head+r.n)%len(r.buf)] = frame
	r.n++
	r.mu.Unlock()

	select {
	case r.ready <- struct{}{}:
	default:
	}
}

// Pop removes and returns the oldest frame, blocking until one is available.
// It returns ctx.Err() when the context ends first.
func (r *AudioRing) Pop(ctx context.Context) ([]byte, error) {
	for {
		r.mu.Lock()
		if r.n > 0 {
			frame := r.buf[r.head]
			r.buf[r.head] = nil
			r.head = (r.head + 1) % len(r.buf)
			r.n--
			more := r.n > 0
			r.mu.Unlock()
			if more {
				// Keep a waiting sibling (or our next Pop) awake.
				select {
				case r.ready <- struct{}{}:
				default:
				}
			}
			return frame, nil
		}
		r.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-r.ready:
		}
	}
}

// Len reports how many frames are buffered.
func (r *AudioRing) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.n
}

// Dropped reports how many frames overflow has evicted since creation.
func (r *AudioRing) Dropped() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}
