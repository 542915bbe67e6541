package mode

import "time"

// Flags are the per-cycle observations that feed a decision.
type Flags struct {
	FixAcquired      bool
	MovementDetected bool
}

// Plan is the outcome of a mode decision for one cycle.
type Plan struct {
	// Sleep is the wait after publishing.
	Sleep time.Duration
	// SearchGPS is false when location search is disabled.
	SearchGPS  bool
	GPSTimeout time.Duration
	// AwaitTrigger is true in passive mode when no movement has been seen
	// yet; the cycle waits for motion, a button or the movement timeout.
	AwaitTrigger bool
}

// Decide derives the cycle plan from the configuration and flags.
func Decide(cfg DeviceConfig, f Flags) Plan {
	p := Plan{
		Sleep:        cfg.PassiveWait,
		SearchGPS:    cfg.GPSTimeout > 0,
		GPSTimeout:   cfg.GPSTimeout,
		AwaitTrigger: !cfg.Active && !f.MovementDetected,
	}
	if cfg.Active {
		p.Sleep = cfg.ActiveWait
	}
	return p
}

// MovementTimer tracks the movement-timeout deadline. In passive mode an
// expired deadline wakes the device even without motion; in active mode
// expirations are absorbed.
type MovementTimer struct {
	last time.Time
}

// NewMovementTimer starts the timer at now.
func NewMovementTimer(now time.Time) *MovementTimer {
	return &MovementTimer{last: now}
}

// Reset restarts the deadline, e.g. after a motion trigger.
func (m *MovementTimer) Reset(now time.Time) {
	m.last = now
}

// Remaining returns the time until the deadline, or false if the timeout is
// disabled (<= 0).
func (m *MovementTimer) Remaining(now time.Time, cfg DeviceConfig) (time.Duration, bool) {
	if cfg.MovementTimeout <= 0 {
		return 0, false
	}
	left := cfg.MovementTimeout - now.Sub(m.last)
	if left < 0 {
		left = 0
	}
	return left, true
}

// Check returns true if the deadline has passed in passive mode. An expired
// deadline is restarted in either mode.
func (m *MovementTimer) Check(now time.Time, cfg DeviceConfig) bool {
	if cfg.MovementTimeout <= 0 {
		return false
	}
	if now.Sub(m.last) < cfg.MovementTimeout {
		return false
	}
	m.last = now
	return !cfg.Active
}
