package call

import (
	"sync"
	"time"
)

// Baseline smoothing. The noise floor follows the line with a one-pole
// filter so a loud environment raises the barge-in threshold instead of
// producing a storm of false triggers.
const (
	baselineDecay = 0.95
	baselineFloor = 50.0
)

// energyWindow bounds the high-energy sample window. Eight 20 ms frames is
// plenty for every sane RequiredSamples setting.
const energyWindow = 8

// EnergyStats tracks the rolling noise baseline of the inbound line. The
// media intake updates it on every frame while the agent is not speaking;
// during agent speech the baseline is frozen so the agent's own echo cannot
// drag it up.
type EnergyStats struct {
	mu       sync.Mutex
	baseline float64
}

// NewEnergyStats returns stats with the baseline at the noise floor.
func NewEnergyStats() *EnergyStats {
	return &EnergyStats{baseline: baselineFloor}
}

// Update folds one frame's RMS energy into the baseline:
// b ← 0.95·b + 0.05·energy, clamped to the floor.
func (e *EnergyStats) Update(energy float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.baseline = baselineDecay*e.baseline + (1-baselineDecay)*energy
	if e.baseline < baselineFloor {
		e.baseline = baselineFloor
	}
}

// Baseline returns the current noise floor estimate.
func (e *EnergyStats) Baseline() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.baseline
}

// Detector recognises barge-in: sustained caller energy well above the noise
// baseline while the agent is speaking. It is armed on each transition into
// the responding phase and fires at most once per arming; the session must
// re-arm it before it can fire again.
type Detector struct {
	cfg InterruptConfig

	mu            sync.Mutex
	armed         bool
	window        []float64 // consecutive above-threshold energies, newest last
	speechStart   time.Time // when the current high-energy run began
	lastInterrupt time.Time // debounce anchor
}

// NewDetector returns a disarmed detector with the given tuning.
func NewDetector(cfg InterruptConfig) *Detector {
	return &Detector{cfg: cfg}
}

// Arm enables the detector for one responding phase and clears the
// high-energy window.
func (d *Detector) Arm() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.armed = true
	d.window = d.window[:0]
	d.speechStart = time.Time{}
}

// Disarm disables the detector until the next Arm.
func (d *Detector) Disarm() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.armed = false
	d.window = d.window[:0]
	d.speechStart = time.Time{}
}

// Armed reports whether the detector may fire.
func (d *Detector) Armed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.armed
}

// Observe feeds one frame's RMS energy against the current baseline and
// reports whether barge-in fired. A firing detector disarms itself.
//
// The adaptive threshold is max(MinEnergy, baseline·BaselineFactor). A
// below-threshold frame clears the run; the detector fires when the last
// RequiredSamples frames all exceeded the threshold, the run has lasted at
// least MinSpeech, and Debounce has passed since the previous trigger.
func (d *Detector) Observe(energy, baseline float64, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.armed || !d.cfg.Enabled {
		return false
	}

	threshold := d.cfg.MinEnergy
	if adaptive := baseline * d.cfg.BaselineFactor; adaptive > threshold {
		threshold = adaptive
	}

	if energy <= threshold {
		d.window = d.window[:0]
		d.speechStart = time.Time{}
		return false
	}

	if len(d.window) == energyWindow {
		copy(d.window, d.window[1:])
		d.window = d.window[:energyWindow-1]
	}
	d.window = append(d.window, energy)
	if d.speechStart.IsZero() {
		d.speechStart = now
	}

	if len(d.window) < d.cfg.RequiredSamples {
		return false
	}
	if now.Sub(d.speechStart) < d.cfg.MinSpeech {
		return false
	}
	if !d.lastInterrupt.IsZero() && now.Sub(d.lastInterrupt) < d.cfg.Debounce {
		return false
	}

	d.lastInterrupt = now
	d.window = d.window[:0]
	d.speechStart = time.Time{}
	d.armed = false
	return true
}
