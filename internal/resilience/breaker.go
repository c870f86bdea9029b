// Package resilience keeps a call alive when a speech or language backend
// misbehaves. A [Breaker] guards one backend and stops hammering it after
// repeated failures; a [Failover] chains several backends of the same kind
// behind one interface so the call pipeline silently moves to the next
// healthy one.
//
// Everything here is safe for concurrent use; a single breaker is shared by
// all active calls that use its backend.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen reports that a breaker rejected the call without attempting
// the backend because it is cooling down from earlier failures.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Defaults applied by NewBreaker for zero-valued settings. Five consecutive
// failures is late enough to ride out transient blips and early enough that
// live callers are not kept waiting on a dead vendor for long.
const (
	defaultTripThreshold = 5
	defaultCooldown      = 30 * time.Second
	defaultProbeQuota    = 3
)

// State is the breaker's operating mode.
type State int

const (
	// StateClosed: traffic flows, failures are being counted.
	StateClosed State = iota
	// StateOpen: the backend is presumed down, calls are rejected until the
	// cooldown elapses.
	StateOpen
	// StateHalfOpen: cooldown elapsed, a bounded number of probe calls decide
	// whether to close again or trip back open.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes a [Breaker]. Zero values select the package defaults.
type BreakerConfig struct {
	// Name labels the breaker in logs, normally the provider name from the
	// runtime configuration ("deepgram", "openai", ...).
	Name string

	// TripThreshold is how many consecutive failures open the breaker.
	TripThreshold int

	// Cooldown is how long an open breaker rejects calls before letting
	// probes through.
	Cooldown time.Duration

	// ProbeQuota is both the number of calls admitted while half-open and
	// the number of successes required to close again.
	ProbeQuota int
}

// Breaker is a consecutive-failure circuit breaker. It admits or rejects
// calls via [Breaker.Do] and moves between closed, open and half-open as
// outcomes accumulate.
type Breaker struct {
	name     string
	trip     int
	cooldown time.Duration
	quota    int

	mu        sync.Mutex
	state     State
	failures  int       // consecutive failures while closed
	trippedAt time.Time // when the breaker last opened
	probes    int       // probe calls admitted this half-open round
	probeWins int       // probe calls that succeeded this round
}

// NewBreaker builds a Breaker from cfg, substituting defaults for zero or
// negative settings.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.TripThreshold <= 0 {
		cfg.TripThreshold = defaultTripThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = defaultCooldown
	}
	if cfg.ProbeQuota <= 0 {
		cfg.ProbeQuota = defaultProbeQuota
	}
	return &Breaker{
		name:     cfg.Name,
		trip:     cfg.TripThreshold,
		cooldown: cfg.Cooldown,
		quota:    cfg.ProbeQuota,
	}
}

// Do runs fn if the breaker admits the call and folds the outcome back into
// the breaker state. While open it returns [ErrCircuitOpen] without touching
// the backend; otherwise it returns whatever fn returned.
func (b *Breaker) Do(fn func() error) error {
	probe, err := b.admit()
	if err != nil {
		return err
	}
	err = fn()
	b.settle(probe, err)
	return err
}

// admit decides whether a call may proceed. It reports whether the call runs
// as a half-open probe, which settle needs for its accounting.
func (b *Breaker) admit() (probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return false, nil

	case StateOpen:
		if time.Since(b.trippedAt) < b.cooldown {
			return false, ErrCircuitOpen
		}
		b.state = StateHalfOpen
		b.probes = 0
		b.probeWins = 0
		slog.Info("breaker cooldown elapsed, probing backend", "breaker", b.name)
		fallthrough

	case StateHalfOpen:
		if b.probes >= b.quota {
			return false, ErrCircuitOpen
		}
		b.probes++
		return true, nil

	default:
		return false, nil
	}
}

// settle records the outcome of an admitted call.
func (b *Breaker) settle(probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		if probe && b.state == StateHalfOpen {
			b.probeWins++
			if b.probeWins >= b.quota {
				b.state = StateClosed
				b.failures = 0
				slog.Info("breaker closed, backend recovered", "breaker", b.name)
			}
			return
		}
		b.failures = 0
		return
	}

	if probe && b.state == StateHalfOpen {
		// One failed probe sends it straight back to open and restarts
		// the cooldown clock.
		b.state = StateOpen
		b.trippedAt = time.Now()
		slog.Warn("breaker re-opened, probe failed", "breaker", b.name)
		return
	}

	b.failures++
	b.trippedAt = time.Now()
	if b.state == StateClosed && b.failures >= b.trip {
		b.state = StateOpen
		slog.Warn("breaker opened, backend failing",
			"breaker", b.name, "consecutive_failures", b.failures)
	}
}

// State reports the current mode. An open breaker whose cooldown has elapsed
// reports half-open even though the transition itself happens lazily on the
// next Do.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && time.Since(b.trippedAt) >= b.cooldown {
		return StateHalfOpen
	}
	return b.state
}

// Reset forces the breaker closed and clears all counters, regardless of the
// backend's actual health.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failures = 0
	b.probes = 0
	b.probeWins = 0
	slog.Info("breaker reset", "breaker", b.name)
}
