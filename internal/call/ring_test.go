package call

import (
	"bytes"
	"context"
	"testing"
	"time"
)

// ─── TestAudioRing_FIFOOrder ─────────────────────────────────────────────────

// TestAudioRing_FIFOOrder verifies that frames come back out in the order
// they were pushed.
func TestAudioRing_FIFOOrder(t *testing.T) {
	t.Parallel()

	r := NewAudioRing(8)
	r.Push([]byte{1})
	r.Push([]byte{2})
	r.Push([]byte{3})

	ctx := context.Background()
	for want := byte(1); want <= 3; want++ {
		frame, err := r.Pop(ctx)
		if err != nil {
			t.Fatalf("Pop: unexpected error: %v", err)
		}
		if !bytes.Equal(frame, []byte{want}) {
			t.Errorf("Pop: want [%d], got %v", want, frame)
		}
	}
	if r.Len() != 0 {
		t.Errorf("Len after draining: want 0, got %d", r.Len())
	}
}

// ─── TestAudioRing_OverflowDropsOldest ───────────────────────────────────────

// TestAudioRing_OverflowDropsOldest verifies that pushing past capacity
// evicts the oldest frames, keeps the newest, and counts the losses.
func TestAudioRing_OverflowDropsOldest(t *testing.T) {
	t.Parallel()

	r := NewAudioRing(4)
	for i := byte(0); i < 6; i++ {
		r.Push([]byte{i})
	}

	if r.Len() != 4 {
		t.Errorf("Len: want 4, got %d", r.Len())
	}
	if r.Dropped() != 2 {
		t.Errorf("Dropped: want 2, got %d", r.Dropped())
	}

	ctx := context.Background()
	for want := byte(2); want <= 5; want++ {
		frame, err := r.Pop(ctx)
		if err != nil {
			t.Fatalf("Pop: unexpected error: %v", err)
		}
		if !bytes.Equal(frame, []byte{want}) {
			t.Errorf("Pop after overflow: want [%d], got %v", want, frame)
		}
	}
}

// ─── TestAudioRing_PopBlocksUntilPush ────────────────────────────────────────

// TestAudioRing_PopBlocksUntilPush verifies that Pop waits for a frame
// instead of returning empty-handed.
func TestAudioRing_PopBlocksUntilPush(t *testing.T) {
	t.Parallel()

	r := NewAudioRing(4)
	got := make(chan []byte, 1)

	go func() {
		frame, err := r.Pop(context.Background())
		if err != nil {
			return
		}
		got <- frame
	}()

	// Give the Pop a moment to park.
	time.Sleep(20 * time.Millisecond)
	r.Push([]byte{42})

	select {
	case frame := <-got:
		if !bytes.Equal(frame, []byte{42}) {
			t.Errorf("Pop: want [42], got %v", frame)
		}
	case <-time.After(time.Second):
		t.Fatal("Pop did not wake after Push")
	}
}

// ─── TestAudioRing_PopHonoursContext ─────────────────────────────────────────

// TestAudioRing_PopHonoursContext verifies that a cancelled context unblocks
// a waiting Pop with the context's error.
func TestAudioRing_PopHonoursContext(t *testing.T) {
	t.Parallel()

	r := NewAudioRing(4)
	ctx, cancel := context.WithCancel(context.Background())

	errc := make(chan error, 1)
	go func() {
		_, err := r.Pop(ctx)
		errc <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errc:
		if err != context.Canceled {
			t.Errorf("Pop error: want context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Pop did not return after cancel")
	}
}

// ─── TestAudioRing_DefaultCapacity ───────────────────────────────────────────

// TestAudioRing_DefaultCapacity verifies that a non-positive capacity falls
// back to the package default.
func TestAudioRing_DefaultCapacity(t *testing.T) {
	t.Parallel()

	r := NewAudioRing(0)
	for i := 0; i < ringCapacity+1; i++ {
		r.Push([]byte{byte(i)})
	}
	if r.Len() != ringCapacity {
		t.Errorf("Len: want %d, got %d", ringCapacity, r.Len())
	}
	if r.Dropped() != 1 {
		t.Errorf("Dropped: want 1, got %d", r.Dropped())
	}
}
