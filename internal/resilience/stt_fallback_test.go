package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/callyx/callyx/pkg/provider/stt"
	sttmock "github.com/callyx/callyx/pkg/provider/stt/mock"
)

func TestSTTFallbackPrefersPrimary(t *testing.T) {
	primary := &sttmock.Provider{Session: sttmock.NewSession()}
	secondary := &sttmock.Provider{}

	fb := NewSTTFallback(primary, "deepgram", FallbackConfig{})
	fb.AddFallback("whisper", secondary)

	handle, err := fb.StartStream(context.Background(), stt.StreamConfig{SampleRate: 16000})
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	if handle == nil {
		t.Fatal("StartStream returned a nil session")
	}
	defer handle.Close()

	if n := primary.StartStreamCallCount(); n != 1 {
		t.Errorf("primary sessions = %d, want 1", n)
	}
	if n := secondary.StartStreamCallCount(); n != 0 {
		t.Errorf("secondary sessions = %d, want 0", n)
	}
}

func TestSTTFallbackMovesToSecondary(t *testing.T) {
	primary := &sttmock.Provider{StartStreamErr: errors.New("dial tcp: connection refused")}
	secondary := &sttmock.Provider{Session: sttmock.NewSession()}

	fb := NewSTTFallback(primary, "deepgram", FallbackConfig{})
	fb.AddFallback("whisper", secondary)

	handle, err := fb.StartStream(context.Background(), stt.StreamConfig{SampleRate: 16000})
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	defer handle.Close()

	if n := secondary.StartStreamCallCount(); n != 1 {
		t.Errorf("secondary sessions = %d, want 1", n)
	}
}

func TestSTTFallbackForwardsStreamConfig(t *testing.T) {
	primary := &sttmock.Provider{Session: sttmock.NewSession()}
	fb := NewSTTFallback(primary, "deepgram", FallbackConfig{})

	cfg := stt.StreamConfig{SampleRate: 16000, Language: "en"}
	handle, err := fb.StartStream(context.Background(), cfg)
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	defer handle.Close()

	got := primary.StartStreamCalls[0]
	if got.SampleRate != 16000 || got.Language != "en" {
		t.Errorf("forwarded config = %+v, want %+v", got, cfg)
	}
}

func TestSTTFallbackExhausted(t *testing.T) {
	primary := &sttmock.Provider{StartStreamErr: errors.New("primary down")}
	secondary := &sttmock.Provider{StartStreamErr: errors.New("secondary down")}

	fb := NewSTTFallback(primary, "deepgram", FallbackConfig{})
	fb.AddFallback("whisper", secondary)

	_, err := fb.StartStream(context.Background(), stt.StreamConfig{})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}
