package resilience

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed reports that every backend in a [Failover] either failed or
// was skipped because its breaker is open.
var ErrAllFailed = errors.New("all providers failed")

// FallbackConfig carries the breaker settings stamped onto every backend
// registered with a [Failover]. The zero value uses the breaker defaults.
type FallbackConfig struct {
	Breaker BreakerConfig
}

// link is one backend in the failover order plus its dedicated breaker.
type link[T any] struct {
	name    string
	backend T
	breaker *Breaker
}

// Failover tries a primary backend first and walks down the registered
// fallbacks until one answers. Each backend gets its own [Breaker], so a
// vendor outage trips only that link and later attempts skip it outright
// instead of paying a timeout per call.
//
// Failover may be shared across calls; AddFallback is not safe to run
// concurrently with Try and is meant for wiring at startup.
type Failover[T any] struct {
	links []link[T]
	cfg   FallbackConfig
}

// NewFailover starts a chain with primary as its first backend.
func NewFailover[T any](primary T, name string, cfg FallbackConfig) *Failover[T] {
	f := &Failover[T]{cfg: cfg}
	f.links = append(f.links, f.newLink(name, primary))
	return f
}

// AddFallback appends a backend to the end of the chain.
func (f *Failover[T]) AddFallback(name string, backend T) {
	f.links = append(f.links, f.newLink(name, backend))
}

func (f *Failover[T]) newLink(name string, backend T) link[T] {
	bc := f.cfg.Breaker
	bc.Name = name
	return link[T]{name: name, backend: backend, breaker: NewBreaker(bc)}
}

// Try runs fn against each backend in order and stops at the first success.
// Backends with open breakers are skipped. When the whole chain fails, the
// returned error wraps [ErrAllFailed] together with every per-backend error,
// so logs show which vendor said what.
func (f *Failover[T]) Try(fn func(T) error) error {
	var errs []error
	for i := range f.links {
		l := &f.links[i]
		err := l.breaker.Do(func() error { return fn(l.backend) })
		if err == nil {
			return nil
		}
		f.note(l.name, err)
		errs = append(errs, fmt.Errorf("%s: %w", l.name, err))
	}
	return fmt.Errorf("%w: %w", ErrAllFailed, errors.Join(errs...))
}

// TryResult is [Failover.Try] for operations that produce a value. It lives
// at package level because Go methods cannot introduce the result type
// parameter.
func TryResult[T, R any](f *Failover[T], fn func(T) (R, error)) (R, error) {
	var errs []error
	for i := range f.links {
		l := &f.links[i]
		var out R
		err := l.breaker.Do(func() error {
			var inner error
			out, inner = fn(l.backend)
			return inner
		})
		if err == nil {
			return out, nil
		}
		f.note(l.name, err)
		errs = append(errs, fmt.Errorf("%s: %w", l.name, err))
	}
	var zero R
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, errors.Join(errs...))
}

// note logs one failed attempt at the severity it deserves: a skip over an
// open breaker is routine, an actual backend failure is worth a warning.
func (f *Failover[T]) note(name string, err error) {
	if errors.Is(err, ErrCircuitOpen) {
		slog.Debug("failover: skipping backend, breaker open", "backend", name)
		return
	}
	slog.Warn("failover: backend failed, trying next", "backend", name, "error", err)
}
