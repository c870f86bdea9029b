package call

import (
	"time"

	"github.com/callyx/callyx/internal/agent"
)

// Pipeline defaults. Every knob is overridable via configuration; the
// interrupt and silence settings additionally accept per-agent overrides.
const (
	DefaultMinEnergy         = 500.0
	DefaultBaselineFactor    = 2.0
	DefaultMinSpeech         = 100 * time.Millisecond
	DefaultDebounce          = 300 * time.Millisecond
	DefaultRequiredSamples   = 2
	DefaultSilenceThreshold  = 800 * time.Millisecond
	DefaultInterimMinLength  = 5
	DefaultInterimSilence    = 50 * time.Millisecond
	DefaultLLMMaxTokens      = 1200
	DefaultHistoryWindow     = 6
	DefaultInactivityTimeout = 30 * time.Second
)

// gatePeriod is how often the end-of-turn gate re-evaluates the turn buffer.
const gatePeriod = 20 * time.Millisecond

// InterruptConfig tunes the barge-in detector.
type InterruptConfig struct {
	// Enabled arms the detector while the agent speaks. Agents can override
	// it per call via [agent.Config.InterruptEnabled].
	Enabled bool

	// MinEnergy is the absolute RMS floor below which speech never triggers,
	// however quiet the line noise baseline is.
	MinEnergy float64

	// BaselineFactor multiplies the rolling noise baseline into the adaptive
	// threshold: threshold = max(MinEnergy, baseline·BaselineFactor).
	BaselineFactor float64

	// MinSpeech is how long above-threshold energy must be sustained.
	MinSpeech time.Duration

	// Debounce is the minimum gap between two triggers.
	Debounce time.Duration

	// RequiredSamples is how many consecutive frames must exceed the
	// threshold.
	RequiredSamples int
}

// TurnConfig tunes the end-of-turn gate.
type TurnConfig struct {
	// SilenceThreshold is the quiet period after the last transcript event
	// before a finalised buffer is dispatched.
	SilenceThreshold time.Duration

	// InterimEnabled allows dispatching on a long-enough partial without
	// waiting for a final result (latency over accuracy).
	InterimEnabled bool

	// InterimMinLength is the minimum partial length, in bytes, for the fast
	// path.
	InterimMinLength int

	// InterimSilence replaces SilenceThreshold on the fast path.
	InterimSilence time.Duration
}

// Config carries the server-wide pipeline tuning. Zero values inherit the
// package defaults; see withDefaults.
type Config struct {
	Interrupt InterruptConfig
	Turn      TurnConfig

	// LLMMaxTokens caps completion length per turn.
	LLMMaxTokens int

	// HistoryWindow is how many past turns ride along in the prompt.
	HistoryWindow int

	// InactivityTimeout ends the call when no audio and no transcript events
	// arrive for this long.
	InactivityTimeout time.Duration
}

// withDefaults fills zero fields with the package defaults. Interrupt.Enabled
// is a plain bool and stays as given; the config layer defaults it to true.
func (c Config) withDefaults() Config {
	if c.Interrupt.MinEnergy <= 0 {
		c.Interrupt.MinEnergy = DefaultMinEnergy
	}
	if c.Interrupt.BaselineFactor <= 0 {
		c.Interrupt.BaselineFactor = DefaultBaselineFactor
	}
	if c.Interrupt.MinSpeech <= 0 {
		c.Interrupt.MinSpeech = DefaultMinSpeech
	}
	if c.Interrupt.Debounce <= 0 {
		c.Interrupt.Debounce = DefaultDebounce
	}
	if c.Interrupt.RequiredSamples <= 0 {
		c.Interrupt.RequiredSamples = DefaultRequiredSamples
	}
	if c.Turn.SilenceThreshold <= 0 {
		c.Turn.SilenceThreshold = DefaultSilenceThreshold
	}
	if c.Turn.InterimMinLength <= 0 {
		c.Turn.InterimMinLength = DefaultInterimMinLength
	}
	if c.Turn.InterimSilence <= 0 {
		c.Turn.InterimSilence = DefaultInterimSilence
	}
	if c.LLMMaxTokens <= 0 {
		c.LLMMaxTokens = DefaultLLMMaxTokens
	}
	if c.HistoryWindow <= 0 {
		c.HistoryWindow = DefaultHistoryWindow
	}
	if c.InactivityTimeout <= 0 {
		c.InactivityTimeout = DefaultInactivityTimeout
	}
	return c
}

// forAgent applies the per-agent overrides on top of the pipeline defaults.
func (c Config) forAgent(a agent.Config) Config {
	c = c.withDefaults()
	if a.InterruptEnabled != nil {
		c.Interrupt.Enabled = *a.InterruptEnabled
	}
	if a.SilenceThresholdSec > 0 {
		c.Turn.SilenceThreshold = time.Duration(a.SilenceThresholdSec * float64(time.Second))
	}
	return c
}
