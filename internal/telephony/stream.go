// Package telephony implements the carrier-facing media WebSocket: the JSON
// wire protocol, the per-call Stream that the call pipeline reads frames
// from and writes audio to, and the HTTP server that accepts new streams.
//
// The package is deliberately thin. It parses and emits wire messages and
// manages socket lifecycle; all audio and conversation semantics live in
// internal/call.
package telephony

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// ErrStreamClosed is returned by sends after the stream has stopped.
var ErrStreamClosed = errors.New("telephony: stream is closed")

// frameBuffer bounds the inbound frame channel. At 20 ms per frame this is
// over a second of audio; a consumer that falls further behind loses the
// oldest unread frames' successors rather than blocking the socket reader.
const frameBuffer = 64

// markBuffer bounds the mark acknowledgement channel. Marks are rare (one
// per sentence at most); an unread backlog this deep means nobody is
// listening and dropping is fine.
const markBuffer = 8

// StartInfo is the call identity extracted from the start event.
type StartInfo struct {
	// StreamID is the carrier's media stream identifier (streamSid). Every
	// outbound message echoes it.
	StreamID string

	// CallID identifies the call. Taken from the call_id custom parameter,
	// falling back to the carrier's callSid.
	CallID string

	// AgentID selects the agent configuration. Empty when the carrier did
	// not forward one; the session layer applies its default.
	AgentID string

	// PhoneNumber is the caller's number, when forwarded.
	PhoneNumber string

	// Vars holds the remaining custom parameters: the dynamic-variable bag
	// substituted into the agent's prompt and first message.
	Vars map[string]string
}

// Frame is one inbound 20 ms media frame. Payload is still base64-encoded
// µ-law; the media intake owns decoding.
type Frame struct {
	Payload   string
	Timestamp string
}

// Stream is one live carrier media socket. It satisfies the call pipeline's
// MediaStream dependency: a frame source, an audio/clear/mark sink, and a
// stop signal.
//
// All methods are safe for concurrent use.
type Stream struct {
	conn *websocket.Conn
	info StartInfo

	frames  chan Frame
	marks   chan string
	stopped chan struct{}

	wmu sync.Mutex // serialises writes so clear/media interleaving is explicit

	mu   sync.Mutex
	err  error
	once sync.Once

	closeOnce sync.Once
}

// AwaitStart consumes carrier events until the start event arrives, then
// returns a running Stream. Media frames seen before start have no stream
// identity and are discarded. A stop, read error, or startTimeout before
// start fails the handshake. ctx governs the stream's whole read life, not
// just the handshake.
func AwaitStart(ctx context.Context, conn *websocket.Conn) (*Stream, error) {
	handshakeCtx, cancel := context.WithTimeout(ctx, startTimeout)
	defer cancel()

	for {
		_, data, err := conn.Read(handshakeCtx)
		if err != nil {
			return nil, fmt.Errorf("telephony: awaiting start: %w", err)
		}
		var msg inboundMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Debug("telephony: malformed message before start, ignoring", "err", err)
			continue
		}

		switch msg.Event {
		case eventConnected:
			// Protocol preamble.
		case eventMedia:
			// No stream identity yet — discard.
		case eventStop:
			return nil, errors.New("telephony: stream stopped before start")
		case eventStart:
			if msg.Start == nil || msg.Start.StreamSid == "" {
				return nil, errors.New("telephony: start event missing stream identity")
			}
			s := newStream(conn, parseStartInfo(msg.Start))
			go s.readLoop(ctx)
			return s, nil
		default:
			slog.Debug("telephony: unexpected event before start, ignoring", "event", msg.Event)
		}
	}
}

func newStream(conn *websocket.Conn, info StartInfo) *Stream {
	return &Stream{
		conn:    conn,
		info:    info,
		frames:  make(chan Frame, frameBuffer),
		marks:   make(chan string, markBuffer),
		stopped: make(chan struct{}),
	}
}

// parseStartInfo splits the custom parameters into the well-known identity
// fields and the dynamic-variable bag.
func parseStartInfo(start *startPayload) StartInfo {
	info := StartInfo{
		StreamID: start.StreamSid,
		CallID:   start.CallSid,
		Vars:     make(map[string]string),
	}
	for k, v := range start.CustomParameters {
		switch k {
		case "call_id":
			if v != "" {
				info.CallID = v
			}
		case "agent_id":
			info.AgentID = v
		case "phone_number":
			info.PhoneNumber = v
		default:
			info.Vars[k] = v
		}
	}
	return info
}

// Info returns the identity from the start event.
func (s *Stream) Info() StartInfo { return s.info }

// Frames returns the inbound media frame channel. It is closed when the
// stream stops for any reason.
func (s *Stream) Frames() <-chan Frame { return s.frames }

// Marks returns the mark acknowledgement channel. The carrier echoes a mark
// once its playback reaches the point where [Stream.SendMark] placed it,
// which is the only playback clock the wire offers. Closed when the stream
// stops.
func (s *Stream) Marks() <-chan string { return s.marks }

// Stopped is closed when the carrier sends stop, the socket fails, or Close
// is called. Check Err afterwards to distinguish a clean stop.
func (s *Stream) Stopped() <-chan struct{} { return s.stopped }

// Err reports how the stream ended: nil for a clean carrier stop, otherwise
// the read/close error. Only meaningful once Stopped is closed.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// SendMedia sends one base64 µ-law payload as a media message.
func (s *Stream) SendMedia(ctx context.Context, payloadB64 string) error {
	return s.write(ctx, outboundMedia{
		Event:     eventMedia,
		StreamSid: s.info.StreamID,
		Media:     mediaPayload{Payload: payloadB64},
	})
}

// SendClear tells the carrier to drop its buffered playback immediately.
func (s *Stream) SendClear(ctx context.Context) error {
	return s.write(ctx, outboundClear{Event: eventClear, StreamSid: s.info.StreamID})
}

// SendMark asks the carrier to acknowledge when playback reaches this point.
func (s *Stream) SendMark(ctx context.Context, name string) error {
	return s.write(ctx, outboundMark{
		Event:     eventMark,
		StreamSid: s.info.StreamID,
		Mark:      markPayload{Name: name},
	})
}

func (s *Stream) write(ctx context.Context, v any) error {
	select {
	case <-s.stopped:
		return ErrStreamClosed
	default:
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("telephony: marshal outbound message: %w", err)
	}

	s.wmu.Lock()
	defer s.wmu.Unlock()
	if err := s.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("telephony: media socket write: %w", err)
	}
	return nil
}

// Close stops the stream and closes the socket. err records why (nil for a
// normal end of call). The first of carrier stop, read failure, or Close
// wins; later calls only close the socket. Safe to call more than once.
func (s *Stream) Close(err error) {
	s.finish(err)
	s.closeOnce.Do(func() {
		_ = s.conn.Close(websocket.StatusNormalClosure, "call ended")
	})
}

// finish records the stream outcome and fires Stopped exactly once.
func (s *Stream) finish(err error) {
	s.once.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.stopped)
	})
}

// readLoop parses inbound messages until stop or socket failure. Malformed
// messages and unknown events are logged and skipped, never fatal.
func (s *Stream) readLoop(ctx context.Context) {
	defer close(s.frames)
	defer close(s.marks)
	for {
		_, data, err := s.conn.Read(ctx)
		if err != nil {
			// If Close already ran, finish is a no-op and the recorded
			// outcome stands; otherwise the carrier dropped the socket.
			s.finish(fmt.Errorf("telephony: media socket read: %w", err))
			return
		}

		var msg inboundMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Debug("telephony: malformed message, ignoring",
				"stream_sid", s.info.StreamID, "err", err)
			continue
		}

		switch msg.Event {
		case eventMedia:
			if msg.Media == nil || msg.Media.Payload == "" {
				continue
			}
			select {
			case s.frames <- Frame{Payload: msg.Media.Payload, Timestamp: msg.Media.Timestamp}:
			default:
				// Consumer behind — drop rather than stall the socket.
				slog.Debug("telephony: inbound frame buffer full, dropping frame",
					"stream_sid", s.info.StreamID)
			}
		case eventStop:
			slog.Info("telephony: stream stopped by carrier",
				"stream_sid", s.info.StreamID, "call_id", s.info.CallID)
			s.finish(nil)
			return
		case eventMark:
			if msg.Mark == nil || msg.Mark.Name == "" {
				continue
			}
			select {
			case s.marks <- msg.Mark.Name:
			default:
				slog.Debug("telephony: mark acknowledgement dropped",
					"stream_sid", s.info.StreamID, "name", msg.Mark.Name)
			}
		case eventConnected, eventStart:
			// Duplicate preamble mid-call; ignore.
		default:
			slog.Debug("telephony: unknown event, ignoring",
				"stream_sid", s.info.StreamID, "event", msg.Event)
		}
	}
}
