package call

import (
	"context"
	"encoding/base64"
	"log/slog"
	"strings"
	"time"

	"github.com/callyx/callyx/internal/telephony"
	"github.com/callyx/callyx/internal/webhook"
	"github.com/callyx/callyx/pkg/audio"
	"github.com/callyx/callyx/pkg/provider/stt"
	"github.com/callyx/callyx/pkg/types"
)

// runIntake consumes inbound media frames until the carrier stops or the
// socket dies. Per frame it refreshes the liveness clocks, measures RMS
// energy for the barge-in detector (agent speaking) or the noise baseline
// (caller's floor), and buffers the µ-law bytes for the STT forwarder.
func (s *Session) runIntake(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame, ok := <-s.stream.Frames():
			if !ok {
				if err := s.stream.Err(); err != nil {
					slog.Warn("call: media stream failed",
						"call_id", s.callID, "err", err)
					s.end(types.StatusDisconnected)
				} else {
					s.end(types.StatusCompleted)
				}
				return nil
			}
			s.onFrame(ctx, frame)
		}
	}
}

// onFrame handles one 20 ms inbound frame.
func (s *Session) onFrame(ctx context.Context, frame telephony.Frame) {
	s.touch()
	s.lastFrameAt.Store(time.Now().UnixNano())

	raw, err := base64.StdEncoding.DecodeString(frame.Payload)
	if err != nil {
		slog.Debug("call: undecodable media payload, dropping",
			"call_id", s.callID, "err", err)
		return
	}
	if len(raw) == 0 {
		return
	}
	s.metrics.FramesIn.Add(ctx, 1)

	energy := audio.RMS(audio.DecodeMuLaw(raw))
	if s.Phase() == PhaseResponding {
		// The baseline is frozen while the agent speaks so its own echo
		// cannot drag the threshold up; the caller's energy rides against
		// the floor measured before the response started.
		if s.detector.Observe(energy, s.energy.Baseline(), time.Now()) {
			s.cancelResponse(cancelBargeIn)
		}
	} else {
		s.energy.Update(energy)
	}

	// Audio flows to STT in every phase: recognition keeps running under
	// agent speech, which is what turns a barge-in into words.
	s.ring.Push(raw)
}

// runForwarder drains the audio ring, upsamples to the provider rate, and
// streams PCM into the live STT session. The resampler carries interpolation
// state across frames so chunk boundaries stay seamless.
func (s *Session) runForwarder(ctx context.Context) error {
	up := audio.NewResampler(audio.TelephonyRate, audio.SynthesisRate)
	for {
		frame, err := s.ring.Pop(ctx)
		if err != nil {
			return err
		}

		up16 := up.Resample(audio.DecodeMuLaw(frame))
		if len(up16) == 0 {
			continue
		}

		handle, gen := s.sttSession()
		if handle == nil {
			// Degraded: recognition is gone, audio is swallowed.
			continue
		}
		if err := handle.SendAudio(audio.Bytes(up16)); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.Debug("call: stt send failed", "call_id", s.callID, "err", err)
			if !s.reopenSTT(ctx, gen) {
				s.degradeOnce.Do(func() { s.degradeSTT(ctx) })
			}
			// The frame that hit the error is gone either way.
		}
	}
}

// runSTTReader pumps transcript events from the live STT session into the
// turn assembler. When the provider drops the stream mid-call the reader
// swaps to the reopened session; a second failure degrades the call for
// good and the reader parks until teardown.
func (s *Session) runSTTReader(ctx context.Context) error {
	for {
		handle, gen := s.sttSession()
		if handle == nil {
			<-ctx.Done()
			return ctx.Err()
		}
		if err := s.readTranscripts(ctx, handle); err != nil {
			return err
		}
		// Both channels closed: the upstream ended without our Close.
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !s.reopenSTT(ctx, gen) {
			s.degradeOnce.Do(func() { s.degradeSTT(ctx) })
			<-ctx.Done()
			return ctx.Err()
		}
	}
}

// readTranscripts consumes one STT session's partial and final channels
// until both close (returns nil) or ctx ends (returns its error).
func (s *Session) readTranscripts(ctx context.Context, h stt.SessionHandle) error {
	partials, finals := h.Partials(), h.Finals()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case tr, ok := <-partials:
			if !ok {
				partials = nil
				if finals == nil {
					return nil
				}
				continue
			}
			s.onTranscript(ctx, tr, false)
		case tr, ok := <-finals:
			if !ok {
				finals = nil
				if partials == nil {
					return nil
				}
				continue
			}
			s.onTranscript(ctx, tr, true)
		}
	}
}

// onTranscript feeds one recognition event into the turn assembler and the
// observability surfaces.
func (s *Session) onTranscript(ctx context.Context, tr types.Transcript, final bool) {
	s.touch()
	if at := s.lastFrameAt.Load(); at > 0 {
		s.metrics.STTLatency.Record(ctx, time.Since(time.Unix(0, at)).Seconds())
	}

	now := time.Now()
	if !final {
		s.assembler.OnPartial(tr.Text, now)
		return
	}

	s.assembler.OnFinal(tr.Text, now)
	if text := strings.TrimSpace(tr.Text); text != "" {
		slog.Debug("call: transcript final",
			"call_id", s.callID, "confidence", tr.Confidence, "chars", len(text))
		s.events.Emit(webhook.EventTranscriptFinal, map[string]any{
			"text":       tr.Text,
			"confidence": tr.Confidence,
		})
	}
}

// runGate periodically evaluates the end-of-turn gate while the session is
// expecting caller speech. Dispatch happens only from listening or
// awaiting-confirmation, which serialises turns: a new utterance cannot
// start a generation while another response is live.
func (s *Session) runGate(ctx context.Context) error {
	tick := time.NewTicker(gatePeriod)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-tick.C:
			switch s.Phase() {
			case PhaseListening, PhaseAwaitingConfirmation:
			default:
				continue
			}
			if utterance, ok := s.assembler.TryFire(now); ok {
				s.dispatch(utterance)
			}
		}
	}
}
