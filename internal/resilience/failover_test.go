package resilience

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func twoBackends(t *testing.T, cfg FallbackConfig) *Failover[string] {
	t.Helper()
	f := NewFailover("primary", "primary", cfg)
	f.AddFallback("secondary", "secondary")
	return f
}

// ─── Try ─────────────────────────────────────────────────────────────────────

func TestTryStopsAtPrimary(t *testing.T) {
	f := twoBackends(t, FallbackConfig{})

	var used []string
	err := f.Try(func(v string) error {
		used = append(used, v)
		return nil
	})
	if err != nil {
		t.Fatalf("Try: %v", err)
	}
	if len(used) != 1 || used[0] != "primary" {
		t.Fatalf("backends used = %v, want just the primary", used)
	}
}

func TestTryWalksToFallback(t *testing.T) {
	f := twoBackends(t, FallbackConfig{})

	var used []string
	err := f.Try(func(v string) error {
		used = append(used, v)
		if v == "primary" {
			return errBackend
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Try: %v", err)
	}
	if len(used) != 2 || used[1] != "secondary" {
		t.Fatalf("backends used = %v, want primary then secondary", used)
	}
}

func TestTryReportsEveryFailure(t *testing.T) {
	f := twoBackends(t, FallbackConfig{})

	err := f.Try(func(v string) error {
		return errors.New(v + " exploded")
	})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
	// Both backend names and both messages should be in the joined error.
	for _, want := range []string{"primary exploded", "secondary exploded"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err, want)
		}
	}
}

func TestTrySkipsOpenBreaker(t *testing.T) {
	f := twoBackends(t, FallbackConfig{
		Breaker: BreakerConfig{TripThreshold: 2, Cooldown: time.Hour},
	})

	// Two rounds where only the primary fails: its breaker trips.
	for i := 0; i < 2; i++ {
		_ = f.Try(func(v string) error {
			if v == "primary" {
				return errBackend
			}
			return nil
		})
	}

	// Third round: primary must be skipped without running.
	var used []string
	err := f.Try(func(v string) error {
		used = append(used, v)
		return nil
	})
	if err != nil {
		t.Fatalf("Try: %v", err)
	}
	if len(used) != 1 || used[0] != "secondary" {
		t.Fatalf("backends used = %v, want only secondary while primary is open", used)
	}
}

// ─── TryResult ───────────────────────────────────────────────────────────────

func TestTryResultPrimaryValue(t *testing.T) {
	f := NewFailover(10, "ten", FallbackConfig{})
	f.AddFallback("twenty", 20)

	got, err := TryResult(f, func(v int) (string, error) {
		return strings.Repeat("x", v), nil
	})
	if err != nil {
		t.Fatalf("TryResult: %v", err)
	}
	if len(got) != 10 {
		t.Fatalf("result length = %d, want 10 (from primary)", len(got))
	}
}

func TestTryResultFailsOver(t *testing.T) {
	f := NewFailover(10, "ten", FallbackConfig{})
	f.AddFallback("twenty", 20)

	got, err := TryResult(f, func(v int) (int, error) {
		if v == 10 {
			return 0, errBackend
		}
		return v * 2, nil
	})
	if err != nil {
		t.Fatalf("TryResult: %v", err)
	}
	if got != 40 {
		t.Fatalf("result = %d, want 40 (from fallback)", got)
	}
}

func TestTryResultAllFailedZeroValue(t *testing.T) {
	f := NewFailover(10, "ten", FallbackConfig{})

	got, err := TryResult(f, func(int) (string, error) {
		return "partial", errBackend
	})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
	if got != "" {
		t.Fatalf("result = %q, want zero value on total failure", got)
	}
}

func TestTryResultOpenBreakerInError(t *testing.T) {
	f := NewFailover("only", "only", FallbackConfig{
		Breaker: BreakerConfig{TripThreshold: 1, Cooldown: time.Hour},
	})
	_, _ = TryResult(f, func(string) (int, error) { return 0, errBackend })

	// Breaker is now open; the chain error should say so.
	_, err := TryResult(f, func(string) (int, error) { return 1, nil })
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, should wrap ErrCircuitOpen for the skipped backend", err)
	}
}
