// Package deepgram provides a Deepgram Aura-backed TTS provider using the
// Deepgram speak REST API. It implements the tts.Provider interface.
//
// Synthesis is performed via POST /v1/speak with a chunked audio response:
// PCM bytes are emitted on the returned channel as they arrive from the
// network, so playback can begin before the full sentence has been
// synthesised.
package deepgram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/callyx/callyx/pkg/provider/tts"
	"github.com/callyx/callyx/pkg/types"
)

// Compile-time interface assertion.
var _ tts.Provider = (*Provider)(nil)

const (
	defaultBaseURL = "https://api.deepgram.com"
	speakEndpoint  = "/v1/speak"
	modelsEndpoint = "/v1/models"

	defaultVoice      = "aura-2-thalia-en"
	defaultSampleRate = 16000
	defaultTimeout    = 30 * time.Second

	// readChunkSize is how many bytes are read from the HTTP response per
	// iteration. 3200 bytes = 100 ms of 16 kHz 16-bit mono audio.
	readChunkSize = 3200

	// audioChanBuf is the buffer depth of the returned audio channel.
	audioChanBuf = 64
)

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithVoice sets the default Aura voice model used when the VoiceProfile
// passed to Synthesize has an empty ID (e.g. "aura-2-thalia-en").
func WithVoice(voice string) Option {
	return func(p *Provider) {
		p.voice = voice
	}
}

// WithSampleRate sets the PCM sample rate requested from Deepgram.
func WithSampleRate(rate int) Option {
	return func(p *Provider) {
		p.sampleRate = rate
	}
}

// WithTimeout sets the per-request HTTP timeout for synthesis calls.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.httpClient.Timeout = d
	}
}

// WithBaseURL overrides the Deepgram API host, e.g. for a self-hosted
// deployment.
func WithBaseURL(baseURL string) Option {
	return func(p *Provider) {
		p.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// Provider implements tts.Provider backed by the Deepgram speak API.
// It is safe for concurrent use; multiple Synthesize calls may run in parallel.
type Provider struct {
	apiKey     string
	baseURL    string
	voice      string
	sampleRate int
	httpClient *http.Client
}

// New creates a new Deepgram TTS Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		voice:      defaultVoice,
		sampleRate: defaultSampleRate,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// speakRequest is the JSON body sent to POST /v1/speak.
type speakRequest struct {
	Text string `json:"text"`
}

// Synthesize issues a streaming POST /v1/speak request and returns a channel
// emitting raw PCM chunks as they arrive. The channel is closed when the
// response body is exhausted, an error occurs, or ctx is cancelled.
func (p *Provider) Synthesize(ctx context.Context, text string, voice types.VoiceProfile) (<-chan []byte, error) {
	if text == "" {
		return nil, errors.New("deepgram: text must not be empty")
	}

	body, err := json.Marshal(speakRequest{Text: text})
	if err != nil {
		return nil, fmt.Errorf("deepgram: marshal speak request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.buildSpeakURL(voice), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("deepgram: create speak request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+p.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("deepgram: POST /v1/speak: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("deepgram: POST /v1/speak returned status %d", resp.StatusCode)
	}

	audioCh := make(chan []byte, audioChanBuf)

	go func() {
		defer close(audioCh)
		defer resp.Body.Close()

		for {
			buf := make([]byte, readChunkSize)
			n, err := resp.Body.Read(buf)
			if n > 0 {
				select {
				case audioCh <- buf[:n]:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				// io.EOF ends the stream normally; any other error ends it
				// early and the caller falls back per its failure policy.
				return
			}
		}
	}()

	return audioCh, nil
}

// buildSpeakURL constructs the speak endpoint URL for the given voice.
// voice.ID overrides the provider-level default model.
func (p *Provider) buildSpeakURL(voice types.VoiceProfile) string {
	model := voice.ID
	if model == "" {
		model = p.voice
	}

	q := url.Values{}
	q.Set("model", model)
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(p.sampleRate))
	q.Set("container", "none")

	return p.baseURL + speakEndpoint + "?" + q.Encode()
}

// ---- ListVoices ----

// modelsResponse is the top-level response from GET /v1/models.
type modelsResponse struct {
	TTS []ttsModel `json:"tts"`
}

// ttsModel is a single TTS voice entry from the Deepgram models API.
type ttsModel struct {
	Name          string   `json:"name"`
	CanonicalName string   `json:"canonical_name"`
	Architecture  string   `json:"architecture"`
	Languages     []string `json:"languages"`
}

// ListVoices returns the Aura voice catalogue from GET /v1/models.
func (p *Provider) ListVoices(ctx context.Context) ([]types.VoiceProfile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+modelsEndpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("deepgram: create list-voices request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+p.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("deepgram: GET /v1/models: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("deepgram: GET /v1/models returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("deepgram: read models response: %w", err)
	}
	return parseModelsResponse(data)
}

// parseModelsResponse parses a raw JSON byte slice (matching the Deepgram
// /v1/models response) into a slice of VoiceProfile values.
func parseModelsResponse(data []byte) ([]types.VoiceProfile, error) {
	var mr modelsResponse
	if err := json.Unmarshal(data, &mr); err != nil {
		return nil, fmt.Errorf("deepgram: decode models response: %w", err)
	}

	profiles := make([]types.VoiceProfile, 0, len(mr.TTS))
	for _, m := range mr.TTS {
		meta := map[string]string{}
		if m.Architecture != "" {
			meta["architecture"] = m.Architecture
		}
		if len(m.Languages) > 0 {
			meta["language"] = m.Languages[0]
		}
		profiles = append(profiles, types.VoiceProfile{
			ID:       m.CanonicalName,
			Name:     m.Name,
			Provider: "deepgram",
			Metadata: meta,
		})
	}
	return profiles, nil
}
