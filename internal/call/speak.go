package call

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"time"

	"github.com/callyx/callyx/pkg/audio"
	"github.com/callyx/callyx/pkg/types"
)

// fadeSamples is the ramp length for sentence starts and stops: 160 samples
// at 8 kHz is one 20 ms frame, enough to kill the switching click without
// being audible as a fade.
const fadeSamples = audio.FrameSamples

// runSpeaker pops sentences off the queue and plays them out. Control
// markers travel the same queue, so by the time one is popped every sentence
// queued before it has been synthesised and sent — that ordering is what
// lets a marker decide the next phase safely.
func (s *Session) runSpeaker(ctx context.Context) error {
	for {
		snt, err := s.sentences.Pop(ctx)
		if err != nil {
			return err
		}

		turnCtx, seq := s.currentTurn()
		if snt.seq != seq {
			// Queued by a turn that has since been cancelled.
			continue
		}

		switch {
		case snt.turnEnd:
			if s.hasPending() {
				s.setPhase(PhaseAwaitingConfirmation)
			} else {
				s.setPhase(PhaseListening)
			}
		case snt.endStatus != "":
			s.setPhase(PhaseEnding)
			s.awaitPlayout(ctx)
			s.end(snt.endStatus)
			return nil
		default:
			s.speak(turnCtx, snt.Text)
		}
	}
}

// speak synthesises one sentence and streams it to the carrier as 20 ms
// µ-law frames: 16 kHz provider PCM is resampled to 8 kHz, faded in at the
// start and out at the end, re-encoded, and sent frame by frame. A tail of
// fadeSamples is held back during streaming so the final ramp has material
// to work on whenever the provider decides to stop.
func (s *Session) speak(ctx context.Context, text string) {
	if ctx == nil || ctx.Err() != nil {
		return
	}

	// Own cancel for the synthesis stream so abandoning the sentence
	// releases the provider without touching the turn.
	sctx, cancelSynth := context.WithCancel(ctx)
	defer cancelSynth()

	start := time.Now()
	chunks, err := s.deps.TTS.Synthesize(sctx, text, s.voice())
	if err != nil {
		slog.Error("call: synthesis start failed",
			"call_id", s.callID, "err", err)
		s.metrics.RecordProviderError(ctx, "tts", "start")
		return
	}
	defer audio.Drain(chunks)

	down := audio.NewResampler(audio.SynthesisRate, audio.TelephonyRate)
	var (
		carry   []byte  // odd trailing PCM byte between chunks
		backlog []int16 // 8 kHz samples awaiting frame emission
		first   = true
		faded   = false
	)

	for chunk := range chunks {
		if ctx.Err() != nil {
			return
		}
		if len(chunk) == 0 {
			continue
		}
		if first {
			s.metrics.TTSFirstByte.Record(ctx, time.Since(start).Seconds())
			first = false
		}

		carry = append(carry, chunk...)
		n := len(carry) &^ 1
		if n == 0 {
			continue
		}
		in := audio.Samples(carry[:n])
		if n < len(carry) {
			carry = []byte{carry[n]}
		} else {
			carry = carry[:0]
		}

		out := down.Resample(in)
		if len(out) == 0 {
			continue
		}
		if !faded {
			audio.FadeIn(out, fadeSamples)
			faded = true
		}
		backlog = append(backlog, out...)
		if !s.emitFrames(ctx, &backlog, false) {
			return
		}
	}
	if ctx.Err() != nil {
		return
	}

	// Synthesis complete: ramp the held-back tail down and flush, padding
	// the final partial frame with µ-law silence.
	audio.FadeOut(backlog, fadeSamples)
	s.emitFrames(ctx, &backlog, true)
}

// emitFrames sends complete 20 ms frames from the backlog. While the
// sentence is still streaming (final false) it retains fadeSamples so the
// closing ramp always has a tail; with final true it drains everything.
// It reports false when sending failed or the turn was cancelled.
func (s *Session) emitFrames(ctx context.Context, backlog *[]int16, final bool) bool {
	b := *backlog
	if final {
		*backlog = nil
		if len(b) == 0 {
			return true
		}
		for _, frame := range audio.Frames(audio.EncodeMuLaw(b)) {
			if !s.sendFrame(ctx, frame) {
				return false
			}
		}
		return true
	}

	for len(b)-audio.FrameSamples >= fadeSamples {
		frame := audio.EncodeMuLaw(b[:audio.FrameSamples])
		b = b[audio.FrameSamples:]
		if !s.sendFrame(ctx, frame) {
			*backlog = b
			return false
		}
	}
	*backlog = b
	return true
}

// sendFrame writes one µ-law frame to the carrier, bounded by sendTimeout.
// A timeout abandons just this sentence; a transport error cancels the whole
// response, and a second transport error within sendFailWindow fails the
// call.
func (s *Session) sendFrame(ctx context.Context, ulaw []byte) bool {
	sctx, cancel := context.WithTimeout(ctx, sendTimeout)
	err := s.stream.SendMedia(sctx, base64.StdEncoding.EncodeToString(ulaw))
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		if errors.Is(err, context.DeadlineExceeded) {
			slog.Warn("call: outbound frame timed out, dropping sentence",
				"call_id", s.callID)
			return false
		}
		s.onSendError(err)
		return false
	}

	s.metrics.FramesOut.Add(ctx, 1)
	if s.awaitFirst.CompareAndSwap(true, false) {
		if at := s.turnStart.Load(); at > 0 {
			s.metrics.TurnLatency.Record(ctx, time.Since(time.Unix(0, at)).Seconds())
		}
	}
	return true
}

// playoutMark is the mark name used to detect that the carrier has finished
// playing the final sentence; playoutTimeout caps the wait for carriers that
// never echo marks.
const (
	playoutMark    = "playout"
	playoutTimeout = 10 * time.Second
)

// awaitPlayout places a mark after the last queued audio and waits for the
// carrier to echo it, so the farewell is actually heard before the session
// ends. Sends complete far ahead of real-time playback; the mark echo is
// the wire's only playback clock.
func (s *Session) awaitPlayout(ctx context.Context) {
	mctx, cancel := context.WithTimeout(ctx, playoutTimeout)
	defer cancel()

	if err := s.stream.SendMark(mctx, playoutMark); err != nil {
		return
	}
	for {
		select {
		case <-mctx.Done():
			return
		case <-s.stream.Stopped():
			return
		case name, ok := <-s.stream.Marks():
			if !ok || name == playoutMark {
				return
			}
		}
	}
}

// onSendError handles a failed media write: the response is cancelled so
// the pipeline does not keep synthesising into a broken socket, and a
// repeat failure in short order ends the call as failed.
func (s *Session) onSendError(err error) {
	slog.Warn("call: media send failed", "call_id", s.callID, "err", err)

	s.sendMu.Lock()
	repeat := !s.lastSendErr.IsZero() && time.Since(s.lastSendErr) < sendFailWindow
	s.lastSendErr = time.Now()
	s.sendMu.Unlock()

	s.cancelResponse(cancelTransport)
	if repeat {
		s.end(types.StatusFailed)
	}
}

// voice is the agent's TTS voice selection.
func (s *Session) voice() types.VoiceProfile {
	return types.VoiceProfile{ID: s.agent.VoiceID}
}
