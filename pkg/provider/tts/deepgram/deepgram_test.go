package deepgram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/callyx/callyx/pkg/types"
)

func mustNew(t *testing.T, opts ...Option) *Provider {
	t.Helper()
	p, err := New("test-key", opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

// drainAudio reads the audio channel to completion and returns the concatenated PCM.
func drainAudio(ch <-chan []byte) []byte {
	var out []byte
	for chunk := range ch {
		out = append(out, chunk...)
	}
	return out
}

// ---- constructor tests ----

func TestNew_EmptyAPIKey(t *testing.T) {
	_, err := New("")
	if err == nil {
		t.Error("expected error for empty API key")
	}
}

func TestNew_Defaults(t *testing.T) {
	p := mustNew(t)
	if p.voice != defaultVoice {
		t.Errorf("voice = %q, want %q", p.voice, defaultVoice)
	}
	if p.sampleRate != defaultSampleRate {
		t.Errorf("sampleRate = %d, want %d", p.sampleRate, defaultSampleRate)
	}
	if p.baseURL != defaultBaseURL {
		t.Errorf("baseURL = %q, want %q", p.baseURL, defaultBaseURL)
	}
}

// ---- URL tests ----

func TestBuildSpeakURL_Defaults(t *testing.T) {
	p := mustNew(t)
	raw := p.buildSpeakURL(types.VoiceProfile{})

	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse URL: %v", err)
	}
	q := u.Query()

	if q.Get("model") != defaultVoice {
		t.Errorf("model = %q, want %q", q.Get("model"), defaultVoice)
	}
	if q.Get("encoding") != "linear16" {
		t.Errorf("encoding = %q, want linear16", q.Get("encoding"))
	}
	if q.Get("sample_rate") != "16000" {
		t.Errorf("sample_rate = %q, want 16000", q.Get("sample_rate"))
	}
	if q.Get("container") != "none" {
		t.Errorf("container = %q, want none", q.Get("container"))
	}
}

func TestBuildSpeakURL_VoiceOverride(t *testing.T) {
	p := mustNew(t, WithVoice("aura-2-orion-en"))

	u, _ := url.Parse(p.buildSpeakURL(types.VoiceProfile{ID: "aura-2-luna-en"}))
	if got := u.Query().Get("model"); got != "aura-2-luna-en" {
		t.Errorf("model = %q, want voice.ID to win", got)
	}

	u, _ = url.Parse(p.buildSpeakURL(types.VoiceProfile{}))
	if got := u.Query().Get("model"); got != "aura-2-orion-en" {
		t.Errorf("model = %q, want provider default", got)
	}
}

// ---- Synthesize tests ----

func TestSynthesize_StreamsChunks(t *testing.T) {
	// PCM payload: 7000 bytes of 0x42, forcing multiple read chunks.
	wantPCM := make([]byte, 7000)
	for i := range wantPCM {
		wantPCM[i] = 0x42
	}

	var (
		reqMu    sync.Mutex
		gotBody  speakRequest
		gotQuery url.Values
		gotAuth  string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != speakEndpoint {
			http.NotFound(w, r)
			return
		}
		reqMu.Lock()
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		gotQuery = r.URL.Query()
		gotAuth = r.Header.Get("Authorization")
		reqMu.Unlock()
		w.Header().Set("Content-Type", "audio/l16")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(wantPCM)
	}))
	defer srv.Close()

	p := mustNew(t, WithBaseURL(srv.URL))
	ch, err := p.Synthesize(context.Background(), "Hello there.", types.VoiceProfile{ID: "aura-2-thalia-en"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}

	pcm := drainAudio(ch)
	if len(pcm) != len(wantPCM) {
		t.Errorf("total PCM bytes = %d, want %d", len(pcm), len(wantPCM))
	}
	for i, b := range pcm {
		if b != 0x42 {
			t.Errorf("pcm[%d] = %02x, want 0x42", i, b)
			break
		}
	}

	reqMu.Lock()
	defer reqMu.Unlock()
	if gotBody.Text != "Hello there." {
		t.Errorf("request text = %q, want %q", gotBody.Text, "Hello there.")
	}
	if gotQuery.Get("model") != "aura-2-thalia-en" {
		t.Errorf("model = %q", gotQuery.Get("model"))
	}
	if !strings.HasPrefix(gotAuth, "Token ") {
		t.Errorf("Authorization = %q, want Token prefix", gotAuth)
	}
}

func TestSynthesize_EmptyText(t *testing.T) {
	p := mustNew(t)
	if _, err := p.Synthesize(context.Background(), "", types.VoiceProfile{}); err == nil {
		t.Error("expected error for empty text")
	}
}

func TestSynthesize_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "internal error", http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := mustNew(t, WithBaseURL(srv.URL))
	if _, err := p.Synthesize(context.Background(), "A sentence.", types.VoiceProfile{}); err == nil {
		t.Error("expected error for 500 response")
	}
}

func TestSynthesize_ContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Trickle the response so the context cancels mid-stream.
		w.WriteHeader(http.StatusOK)
		if f, ok := w.(http.Flusher); ok {
			for i := 0; i < 100; i++ {
				_, _ = w.Write(make([]byte, 320))
				f.Flush()
				time.Sleep(10 * time.Millisecond)
			}
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	p := mustNew(t, WithBaseURL(srv.URL))
	ch, err := p.Synthesize(ctx, "A long sentence being spoken.", types.VoiceProfile{})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}

	// Read one chunk, then cancel.
	<-ch
	cancel()

	done := make(chan struct{})
	go func() {
		drainAudio(ch)
		close(done)
	}()

	select {
	case <-done:
		// Channel closed promptly after cancellation.
	case <-time.After(2 * time.Second):
		t.Error("audio channel did not close within 2 s after cancellation")
	}
}

// ---- ListVoices tests ----

func TestParseModelsResponse(t *testing.T) {
	raw := []byte(`{
		"tts": [
			{"name": "thalia", "canonical_name": "aura-2-thalia-en", "architecture": "aura-2", "languages": ["en"]},
			{"name": "helios", "canonical_name": "aura-helios-en", "architecture": "aura", "languages": ["en"]}
		]
	}`)

	profiles, err := parseModelsResponse(raw)
	if err != nil {
		t.Fatalf("parseModelsResponse: %v", err)
	}
	if len(profiles) != 2 {
		t.Fatalf("got %d profiles, want 2", len(profiles))
	}
	if profiles[0].ID != "aura-2-thalia-en" {
		t.Errorf("ID = %q, want aura-2-thalia-en", profiles[0].ID)
	}
	if profiles[0].Name != "thalia" {
		t.Errorf("Name = %q, want thalia", profiles[0].Name)
	}
	if profiles[0].Provider != "deepgram" {
		t.Errorf("Provider = %q, want deepgram", profiles[0].Provider)
	}
	if profiles[0].Metadata["architecture"] != "aura-2" {
		t.Errorf("architecture = %q", profiles[0].Metadata["architecture"])
	}
	if profiles[1].Metadata["language"] != "en" {
		t.Errorf("language = %q", profiles[1].Metadata["language"])
	}
}

func TestParseModelsResponse_InvalidJSON(t *testing.T) {
	if _, err := parseModelsResponse([]byte(`{invalid`)); err == nil {
		t.Error("expected error for invalid JSON")
	}
}

func TestListVoices_MockServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != modelsEndpoint {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"tts":[{"name":"thalia","canonical_name":"aura-2-thalia-en"}]}`))
	}))
	defer srv.Close()

	p := mustNew(t, WithBaseURL(srv.URL))
	voices, err := p.ListVoices(context.Background())
	if err != nil {
		t.Fatalf("ListVoices: %v", err)
	}
	if len(voices) != 1 || voices[0].ID != "aura-2-thalia-en" {
		t.Errorf("unexpected voices: %+v", voices)
	}
}
