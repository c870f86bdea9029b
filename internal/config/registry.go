package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/callyx/callyx/pkg/provider/embeddings"
	"github.com/callyx/callyx/pkg/provider/llm"
	"github.com/callyx/callyx/pkg/provider/stt"
	"github.com/callyx/callyx/pkg/provider/tts"
)

// ErrProviderNotRegistered is returned by the Create methods when the
// configuration names a provider the binary never registered.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Factory builds one provider instance from its configuration entry.
type Factory[T any] func(ProviderEntry) (T, error)

// catalog is one name-to-factory table. Registration overwrites; lookups
// release the lock before the factory runs, so factories may block on
// network probes without stalling other lookups.
type catalog[T any] struct {
	kind string
	mu   sync.RWMutex
	m    map[string]Factory[T]
}

func (c *catalog[T]) register(name string, f Factory[T]) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.m == nil {
		c.m = make(map[string]Factory[T])
	}
	c.m[name] = f
}

func (c *catalog[T]) create(entry ProviderEntry) (T, error) {
	c.mu.RLock()
	f, ok := c.m[entry.Name]
	c.mu.RUnlock()
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, c.kind, entry.Name)
	}
	return f(entry)
}

// Registry holds the provider factories the binary linked in, one catalog
// per provider kind. main registers everything at startup and the config
// layer selects by name, so adding a backend never touches wiring code.
// Safe for concurrent use.
type Registry struct {
	stt        catalog[stt.Provider]
	tts        catalog[tts.Provider]
	llm        catalog[llm.Provider]
	embeddings catalog[embeddings.Provider]
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		stt:        catalog[stt.Provider]{kind: "stt"},
		tts:        catalog[tts.Provider]{kind: "tts"},
		llm:        catalog[llm.Provider]{kind: "llm"},
		embeddings: catalog[embeddings.Provider]{kind: "embeddings"},
	}
}

// RegisterSTT adds a speech-to-text factory under name, replacing any
// previous registration.
func (r *Registry) RegisterSTT(name string, f Factory[stt.Provider]) { r.stt.register(name, f) }

// RegisterTTS adds a text-to-speech factory under name.
func (r *Registry) RegisterTTS(name string, f Factory[tts.Provider]) { r.tts.register(name, f) }

// RegisterLLM adds a language-model factory under name.
func (r *Registry) RegisterLLM(name string, f Factory[llm.Provider]) { r.llm.register(name, f) }

// RegisterEmbeddings adds an embeddings factory under name.
func (r *Registry) RegisterEmbeddings(name string, f Factory[embeddings.Provider]) {
	r.embeddings.register(name, f)
}

// CreateSTT builds the speech-to-text provider entry.Name selects.
// The error is ErrProviderNotRegistered when the name is unknown.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Provider, error) { return r.stt.create(entry) }

// CreateTTS builds the text-to-speech provider entry.Name selects.
func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Provider, error) { return r.tts.create(entry) }

// CreateLLM builds the language-model provider entry.Name selects.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) { return r.llm.create(entry) }

// CreateEmbeddings builds the embeddings provider entry.Name selects.
func (r *Registry) CreateEmbeddings(entry ProviderEntry) (embeddings.Provider, error) {
	return r.embeddings.create(entry)
}
