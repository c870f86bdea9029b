// Package mock holds scriptable fakes for the stt interfaces. Tests feed
// transcripts into a [Session]'s channels to play the part of a recognizer,
// and read back which audio the code under test sent upstream.
package mock

import (
	"context"
	"sync"

	"github.com/callyx/callyx/pkg/provider/stt"
	"github.com/callyx/callyx/pkg/types"
)

var (
	_ stt.Provider      = (*Provider)(nil)
	_ stt.SessionHandle = (*Session)(nil)
)

// Provider fakes stt.Provider. Configure it through its fields before use;
// the zero value hands out a fresh buffered Session per StartStream.
type Provider struct {
	mu sync.Mutex

	// Session, when set, is returned by every StartStream call. Tests that
	// need to drive transcripts set this to a Session they keep a handle on.
	Session stt.SessionHandle

	// StartStreamErr fails StartStream without producing a session.
	StartStreamErr error

	// StartStreamCalls collects the StreamConfig of each StartStream call,
	// in order.
	StartStreamCalls []stt.StreamConfig
}

func (p *Provider) StartStream(_ context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StartStreamCalls = append(p.StartStreamCalls, cfg)
	if p.StartStreamErr != nil {
		return nil, p.StartStreamErr
	}
	if p.Session != nil {
		return p.Session, nil
	}
	return NewSession(), nil
}

// StartStreamCallCount reports how many sessions were requested so far.
func (p *Provider) StartStreamCallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.StartStreamCalls)
}

// Session fakes stt.SessionHandle. The test owns PartialsCh and FinalsCh:
// it sends the transcripts it wants the consumer to see and closes them to
// end the stream. Audio written by the code under test accumulates in
// SendAudioCalls as defensive copies.
type Session struct {
	mu sync.Mutex

	PartialsCh chan types.Transcript
	FinalsCh   chan types.Transcript

	// SendAudioErr is returned by every SendAudio call once set.
	SendAudioErr error
	// CloseErr is returned by Close.
	CloseErr error

	SendAudioCalls [][]byte
	CloseCallCount int
}

// NewSession returns a Session with channels buffered enough that a test can
// preload a handful of transcripts before the consumer starts reading.
func NewSession() *Session {
	return &Session{
		PartialsCh: make(chan types.Transcript, 16),
		FinalsCh:   make(chan types.Transcript, 16),
	}
}

func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	s.SendAudioCalls = append(s.SendAudioCalls, cp)
	return s.SendAudioErr
}

func (s *Session) Partials() <-chan types.Transcript { return s.PartialsCh }

func (s *Session) Finals() <-chan types.Transcript { return s.FinalsCh }

// SendAudioCallCount reports how many audio chunks arrived so far.
func (s *Session) SendAudioCallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.SendAudioCalls)
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	return s.CloseErr
}
