package sensor

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/sweeney/cat-tracker/internal/clock"
	"github.com/sweeney/cat-tracker/internal/telemetry"
)

// SimOptions configures a Sim.
type SimOptions struct {
	Clock  clock.Clock
	Logger *slog.Logger
	Seed   uint64
	IMEI   string

	// FixDelay is how long a GPS search takes to produce a fix.
	FixDelay time.Duration

	// MotionEvery is the interval between simulated movements.
	MotionEvery time.Duration
}

// Sim simulates every collaborator so the tracker can run without hardware.
// A cat wanders around a home position, the battery drains slowly and the
// accelerometer reports a jolt now and then.
type Sim struct {
	clock  clock.Clock
	logger *slog.Logger
	imei   string

	fixDelay    time.Duration
	motionEvery time.Duration

	mu        sync.Mutex
	rng       *rand.Rand
	pos       telemetry.Location
	millivolt int
	temp      float64
	threshold float64
	cancelGPS context.CancelFunc

	gpsC    chan GPSEvent
	motionC chan telemetry.Motion
	rsrpC   chan uint8
}

// NewSim creates a simulator.
func NewSim(opts SimOptions) *Sim {
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	imei := opts.IMEI
	if imei == "" {
		imei = "350457790000001"
	}
	fixDelay := opts.FixDelay
	if fixDelay <= 0 {
		fixDelay = 20 * time.Second
	}
	motionEvery := opts.MotionEvery
	if motionEvery <= 0 {
		motionEvery = 45 * time.Second
	}
	return &Sim{
		clock:       clk,
		logger:      logger,
		imei:        imei,
		fixDelay:    fixDelay,
		motionEvery: motionEvery,
		rng:         rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15)),
		pos:         telemetry.Location{Latitude: 51.4934, Longitude: -0.0098, Altitude: 12, Accuracy: 8},
		millivolt:   4150,
		temp:        21,
		gpsC:        make(chan GPSEvent, 1),
		motionC:     make(chan telemetry.Motion, 4),
		rsrpC:       make(chan uint8, 1),
	}
}

// Set returns the simulated collaborators.
func (s *Sim) Set() Set {
	return Set{
		GPS:           simGPS{s},
		Modem:         simModem{s},
		Battery:       simBattery{s},
		Environment:   simEnvironment{s},
		Accelerometer: simAccelerometer{s},
	}
}

// Run generates motion and signal strength events until ctx is done.
func (s *Sim) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.clock.After(s.motionEvery):
		}

		s.mu.Lock()
		m := telemetry.Motion{
			X: s.rng.NormFloat64() * 150,
			Y: s.rng.NormFloat64() * 150,
			Z: s.rng.NormFloat64() * 150,
		}
		threshold := s.threshold
		rsrp := uint8(30 + s.rng.IntN(40))
		s.mu.Unlock()

		if m.Magnitude() >= threshold {
			select {
			case s.motionC <- m:
			default:
				s.logger.Debug("sim: motion event dropped")
			}
		}
		select {
		case s.rsrpC <- rsrp:
		default:
		}
	}
}

// wander moves the simulated position a little and returns it.
func (s *Sim) wander() telemetry.Location {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pos.Latitude += s.rng.NormFloat64() * 0.0002
	s.pos.Longitude += s.rng.NormFloat64() * 0.0003
	s.pos.Speed = s.rng.Float64() * 2
	s.pos.Heading = s.rng.Float64() * 360
	return s.pos
}

type simGPS struct{ s *Sim }

func (g simGPS) Start(ctx context.Context, timeout time.Duration) error {
	s := g.s
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	if s.cancelGPS != nil {
		s.cancelGPS()
	}
	s.cancelGPS = cancel
	s.mu.Unlock()

	go func() {
		var ev GPSEvent
		select {
		case <-ctx.Done():
			return
		case <-s.clock.After(timeout):
			ev = GPSEvent{Kind: GPSTimeout}
		case <-s.clock.After(s.fixDelay):
			ev = GPSEvent{Kind: GPSFix, Fix: s.wander()}
		}
		select {
		case s.gpsC <- ev:
		case <-ctx.Done():
		}
	}()
	return nil
}

func (g simGPS) Stop() {
	g.s.mu.Lock()
	defer g.s.mu.Unlock()
	if g.s.cancelGPS != nil {
		g.s.cancelGPS()
		g.s.cancelGPS = nil
	}
}

func (g simGPS) Events() <-chan GPSEvent { return g.s.gpsC }

type simModem struct{ s *Sim }

func (m simModem) Sample() (telemetry.Modem, error) {
	s := m.s
	s.mu.Lock()
	defer s.mu.Unlock()
	return telemetry.Modem{
		Static: telemetry.ModemStatic{
			AppVersion: "sim",
			Board:      "sim",
			Firmware:   "sim",
			ICCID:      "8931080000000000001",
			LTEM:       true,
			GPS:        true,
		},
		Dynamic: telemetry.ModemDynamic{
			IP:     "10.0.0.2",
			Cell:   uint32(0x1a2b00 + s.rng.IntN(4)),
			MCCMNC: "23410",
			Area:   0x2f,
			Band:   20,
			RSRP:   uint8(30 + s.rng.IntN(40)),
		},
	}, nil
}

func (m simModem) IMEI() (string, error) { return m.s.imei, nil }

func (m simModem) RSRP() <-chan uint8 { return m.s.rsrpC }

type simBattery struct{ s *Sim }

func (b simBattery) Sample() (telemetry.Battery, error) {
	s := b.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.millivolt > 3300 {
		s.millivolt -= s.rng.IntN(3)
	}
	return telemetry.Battery{Millivolts: s.millivolt}, nil
}

type simEnvironment struct{ s *Sim }

func (e simEnvironment) Sample() (telemetry.Environment, error) {
	s := e.s
	s.mu.Lock()
	defer s.mu.Unlock()
	s.temp += s.rng.NormFloat64() * 0.2
	return telemetry.Environment{Temperature: s.temp, Humidity: 40 + s.rng.Float64()*20}, nil
}

type simAccelerometer struct{ s *Sim }

func (a simAccelerometer) Events() <-chan telemetry.Motion { return a.s.motionC }

func (a simAccelerometer) SetThreshold(threshold float64) error {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	a.s.threshold = threshold
	return nil
}
