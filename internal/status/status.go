// Package status provides a thread-safe status tracker for the tracker daemon.
// It is written by the device and session loops and read by HTTP handlers.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/cat-tracker/internal/clock"
	"github.com/sweeney/cat-tracker/internal/mode"
	"github.com/sweeney/cat-tracker/internal/publish"
	"github.com/sweeney/cat-tracker/internal/ring"
	"github.com/sweeney/cat-tracker/internal/telemetry"
)

// Config contains daemon configuration for display.
type Config struct {
	ClientID string
	Broker   string
	Encoding string
	HTTPAddr string
	Simulate bool
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	Session     string
	Retries     int
	Device      mode.DeviceConfig
	Buffers     [len(telemetry.Classes)]ring.Stats
	Publish     publish.Stats
	LastPublish time.Time
	LastError   string
	Fix         telemetry.Location
	FixTime     time.Time
	HasFix      bool
	StartTime   time.Time
	Now         time.Time
	Config      Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu    sync.RWMutex
	snap  Snapshot
	clock clock.Clock
}

// NewTracker creates a Tracker with the given start time and config.
// A nil clock uses the wall clock.
func NewTracker(startTime time.Time, cfg Config, clk clock.Clock) *Tracker {
	if clk == nil {
		clk = clock.Real()
	}
	return &Tracker{
		clock: clk,
		snap: Snapshot{
			Session:   "disconnected",
			StartTime: startTime,
			Config:    cfg,
		},
	}
}

// SetSession records the connection state.
func (t *Tracker) SetSession(state string, retries int) {
	t.mu.Lock()
	t.snap.Session = state
	t.snap.Retries = retries
	t.mu.Unlock()
}

// SetDevice records the active device configuration.
func (t *Tracker) SetDevice(cfg mode.DeviceConfig) {
	t.mu.Lock()
	t.snap.Device = cfg
	t.mu.Unlock()
}

// SetBuffers records ring occupancy, one entry per class.
func (t *Tracker) SetBuffers(store *ring.Store) {
	var stats [len(telemetry.Classes)]ring.Stats
	for i, c := range telemetry.Classes {
		stats[i] = store.Stats(c)
	}
	t.mu.Lock()
	t.snap.Buffers = stats
	t.mu.Unlock()
}

// SetPublish records publish counters and the outcome of the last publish.
func (t *Tracker) SetPublish(stats publish.Stats, at time.Time, err error) {
	t.mu.Lock()
	t.snap.Publish = stats
	if err != nil {
		t.snap.LastError = err.Error()
	} else {
		t.snap.LastPublish = at
		t.snap.LastError = ""
	}
	t.mu.Unlock()
}

// SetFix records the latest GPS fix.
func (t *Tracker) SetFix(loc telemetry.Location, at time.Time) {
	t.mu.Lock()
	t.snap.Fix = loc
	t.snap.FixTime = at
	t.snap.HasFix = true
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	s.Now = t.clock.Now()
	return s
}
