// Package deepgram implements [stt.Provider] on Deepgram's live
// transcription WebSocket. Audio goes up as binary frames; Results frames
// come back as JSON and are split into the partial and final transcript
// channels the call pipeline consumes.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/callyx/callyx/pkg/provider/stt"
	"github.com/callyx/callyx/pkg/types"
)

const (
	defaultEndpoint    = "wss://api.deepgram.com/v1/listen"
	defaultModel       = "nova-2"
	defaultLanguage    = "en"
	defaultSampleRate  = 16000
	defaultEndpointing = 300 // ms of trailing silence before Deepgram finalises

	// Deepgram drops the socket after ~10s without client traffic, so an
	// idle session has to say KeepAlive.
	keepAliveEvery = 5 * time.Second

	// writeBudget bounds every socket write; a stalled connection surfaces
	// as a SendAudio error instead of a wedged call.
	writeBudget = 10 * time.Second

	// closeGrace is how long Close waits for the server to flush trailing
	// results after CloseStream before cutting the connection.
	closeGrace = 3 * time.Second
)

var (
	closeStreamMsg = []byte(`{"type":"CloseStream"}`)
	keepAliveMsg   = []byte(`{"type":"KeepAlive"}`)
)

var _ stt.Provider = (*Provider)(nil)

// Provider opens Deepgram live transcription sessions.
type Provider struct {
	apiKey        string
	endpoint      string
	model         string
	language      string
	endpointingMS int
}

// Option adjusts a Provider during construction.
type Option func(*Provider)

// WithModel selects the Deepgram model (e.g. "nova-2", "nova-3").
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithLanguage sets the default BCP-47 recognition language (e.g. "en",
// "de"). A per-stream language in StreamConfig wins over this.
func WithLanguage(language string) Option {
	return func(p *Provider) { p.language = language }
}

// WithEndpointing sets the default endpointing window in milliseconds.
func WithEndpointing(ms int) Option {
	return func(p *Provider) { p.endpointingMS = ms }
}

// WithEndpoint overrides the Deepgram listen URL, for self-hosted
// deployments.
func WithEndpoint(wsURL string) Option {
	return func(p *Provider) { p.endpoint = wsURL }
}

// New builds a Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:        apiKey,
		endpoint:      defaultEndpoint,
		model:         defaultModel,
		language:      defaultLanguage,
		endpointingMS: defaultEndpointing,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// StartStream dials the listen endpoint and returns a live session. The
// returned handle accepts audio immediately; ctx governs the lifetime of the
// connection's read side.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	wsURL, err := p.listenURL(cfg)
	if err != nil {
		return nil, fmt.Errorf("deepgram: listen url: %w", err)
	}

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": {"Token " + p.apiKey}},
	})
	if err != nil {
		return nil, fmt.Errorf("deepgram: dial: %w", err)
	}

	s := &session{
		conn:      conn,
		partials:  make(chan types.Transcript, 64),
		finals:    make(chan types.Transcript, 64),
		done:      make(chan struct{}),
		lastWrite: time.Now(),
	}
	s.wg.Add(2)
	go s.listen(ctx)
	go s.pulse()
	return s, nil
}

// listenURL renders the endpoint URL for one stream. Stream-level settings
// win over provider defaults; the encoding is pinned to what the media
// pipeline produces (16-bit mono linear PCM).
func (p *Provider) listenURL(cfg stt.StreamConfig) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}

	lang := cfg.Language
	if lang == "" {
		lang = p.language
	}
	sr := cfg.SampleRate
	if sr == 0 {
		sr = defaultSampleRate
	}
	ep := cfg.EndpointingMS
	if ep == 0 {
		ep = p.endpointingMS
	}

	u.RawQuery = url.Values{
		"model":           {p.model},
		"language":        {lang},
		"encoding":        {"linear16"},
		"channels":        {"1"},
		"sample_rate":     {strconv.Itoa(sr)},
		"punctuate":       {"true"},
		"interim_results": {"true"},
		"endpointing":     {strconv.Itoa(ep)},
	}.Encode()
	return u.String(), nil
}

// session is one live transcription stream. Writes go straight to the
// socket under a mutex; there is no send queue, so backpressure from a dead
// connection reaches the caller as an error.
type session struct {
	conn *websocket.Conn

	partials chan types.Transcript
	finals   chan types.Transcript

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup

	writeMu   sync.Mutex
	lastWrite time.Time
}

// write serializes socket writes and stamps lastWrite for the keepalive.
func (s *session) write(typ websocket.MessageType, data []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), writeBudget)
	defer cancel()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.lastWrite = time.Now()
	return s.conn.Write(ctx, typ, data)
}

// SendAudio ships one PCM chunk upstream.
func (s *session) SendAudio(chunk []byte) error {
	select {
	case <-s.done:
		return stt.ErrSessionClosed
	default:
	}
	if err := s.write(websocket.MessageBinary, chunk); err != nil {
		return fmt.Errorf("deepgram: send audio: %w", err)
	}
	return nil
}

// Partials returns the interim transcript channel.
func (s *session) Partials() <-chan types.Transcript { return s.partials }

// Finals returns the committed transcript channel.
func (s *session) Finals() <-chan types.Transcript { return s.finals }

// Close tells Deepgram to flush, drains the trailing results, and tears the
// connection down. Safe to call more than once.
func (s *session) Close() error {
	s.once.Do(func() {
		close(s.done)
		_ = s.write(websocket.MessageText, closeStreamMsg)

		// The server answers CloseStream with any buffered finals and then
		// closes from its side; cut it off if that takes too long.
		force := time.AfterFunc(closeGrace, func() {
			s.conn.Close(websocket.StatusNormalClosure, "drain timeout")
		})
		s.wg.Wait()
		force.Stop()
		s.conn.Close(websocket.StatusNormalClosure, "session closed")
	})
	return nil
}

// pulse keeps an idle connection alive. Audio frames count as traffic, so
// the KeepAlive only goes out when nothing else has been written for a full
// interval.
func (s *session) pulse() {
	defer s.wg.Done()
	tick := time.NewTicker(keepAliveEvery)
	defer tick.Stop()

	for {
		select {
		case <-tick.C:
			s.writeMu.Lock()
			idle := time.Since(s.lastWrite)
			s.writeMu.Unlock()
			if idle < keepAliveEvery {
				continue
			}
			if s.write(websocket.MessageText, keepAliveMsg) != nil {
				return
			}
		case <-s.done:
			return
		}
	}
}

// listen consumes server frames until the connection ends, routing Results
// into the partial or final channel. Both channels close on exit, which is
// how consumers learn the stream is over.
func (s *session) listen(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.partials)
	defer close(s.finals)

	for {
		_, data, err := s.conn.Read(ctx)
		if err != nil {
			return
		}
		s.dispatch(data)
	}
}

func (s *session) dispatch(data []byte) {
	var frame resultFrame
	if err := json.Unmarshal(data, &frame); err != nil || frame.Type != "Results" {
		return
	}
	tr, ok := frame.transcript()
	if !ok {
		return
	}

	out := s.partials
	if tr.IsFinal {
		out = s.finals
	}
	// Deliver while there is buffer room. Only a closing session with a
	// consumer that stopped reading gets results dropped.
	select {
	case out <- tr:
		return
	default:
	}
	select {
	case out <- tr:
	case <-s.done:
	}
}

// resultFrame is the slice of Deepgram's Results message the pipeline needs.
type resultFrame struct {
	Type     string  `json:"type"`
	IsFinal  bool    `json:"is_final"`
	Start    float64 `json:"start"`
	Duration float64 `json:"duration"`
	Channel  struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// transcript converts the frame's best alternative, reporting false for
// frames with nothing usable in them.
func (f *resultFrame) transcript() (types.Transcript, bool) {
	if len(f.Channel.Alternatives) == 0 {
		return types.Transcript{}, false
	}
	best := f.Channel.Alternatives[0]
	start := time.Duration(f.Start * float64(time.Second))
	return types.Transcript{
		Text:       best.Transcript,
		IsFinal:    f.IsFinal,
		Confidence: best.Confidence,
		Start:      start,
		End:        start + time.Duration(f.Duration*float64(time.Second)),
	}, true
}
