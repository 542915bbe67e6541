// Package device runs the tracker's main control loop.
//
// Each cycle waits for a trigger in passive mode, searches for a GPS fix,
// samples the modem, battery and environment sensors, publishes, and sleeps.
// Every wait also services accelerometer and button events, session
// reconnects, configuration changes and signal strength updates, so the
// loop is the only goroutine that touches the ring store.
package device

import (
	"context"
	"log/slog"
	"time"

	"github.com/sweeney/cat-tracker/internal/clock"
	"github.com/sweeney/cat-tracker/internal/mode"
	"github.com/sweeney/cat-tracker/internal/publish"
	"github.com/sweeney/cat-tracker/internal/ring"
	"github.com/sweeney/cat-tracker/internal/sensor"
	"github.com/sweeney/cat-tracker/internal/status"
	"github.com/sweeney/cat-tracker/internal/telemetry"
)

// Default timing.
const (
	DefaultGPSGrace       = 10 * time.Second
	DefaultButtonInterval = 2 * time.Second
)

// Session reports successful connects.
type Session interface {
	Connected() <-chan struct{}
}

// Options configures a Device.
type Options struct {
	Sensors   sensor.Set
	Store     *ring.Store
	Scheduler *publish.Scheduler
	Config    *mode.Cell
	Session   Session
	Clock     clock.Clock
	Logger    *slog.Logger

	// Buttons delivers button numbers, see gpio.Watch. May be nil.
	Buttons <-chan int

	// Tracker, if set, receives status updates.
	Tracker *status.Tracker

	GPSGrace       time.Duration
	ButtonInterval time.Duration
}

// Device is the main control loop. Not safe for concurrent use.
type Device struct {
	sensors  sensor.Set
	store    *ring.Store
	sched    *publish.Scheduler
	cell     *mode.Cell
	clock    clock.Clock
	logger   *slog.Logger
	tracker  *status.Tracker
	buttons  <-chan int
	sessionC <-chan struct{}

	gpsGrace       time.Duration
	buttonInterval time.Duration

	cfg        mode.DeviceConfig
	fix        bool
	movement   bool
	moveTimer  *mode.MovementTimer
	lastButton time.Time
	started    bool
}

// New creates a Device.
func New(opts Options) *Device {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real()
	}
	grace := opts.GPSGrace
	if grace <= 0 {
		grace = DefaultGPSGrace
	}
	interval := opts.ButtonInterval
	if interval <= 0 {
		interval = DefaultButtonInterval
	}
	var sessionC <-chan struct{}
	if opts.Session != nil {
		sessionC = opts.Session.Connected()
	}
	return &Device{
		sensors:        opts.Sensors,
		store:          opts.Store,
		sched:          opts.Scheduler,
		cell:           opts.Config,
		clock:          clk,
		logger:         logger,
		tracker:        opts.Tracker,
		buttons:        opts.Buttons,
		sessionC:       sessionC,
		gpsGrace:       grace,
		buttonInterval: interval,
	}
}

// Run executes cycles until ctx is done.
func (d *Device) Run(ctx context.Context) error {
	for {
		sleep, err := d.RunCycle(ctx)
		if err != nil {
			return err
		}
		if err := d.Sleep(ctx, sleep); err != nil {
			return err
		}
	}
}

func (d *Device) start() {
	if d.started {
		return
	}
	d.started = true
	d.moveTimer = mode.NewMovementTimer(d.clock.Now())
	d.applyConfig()
}

// RunCycle runs one cycle up to and including the publish and returns how
// long to sleep before the next one.
func (d *Device) RunCycle(ctx context.Context) (time.Duration, error) {
	d.start()

	plan := d.plan()
	if plan.AwaitTrigger {
		if err := d.awaitTrigger(ctx); err != nil {
			return 0, err
		}
		plan = d.plan()
	}
	d.movement = false

	if plan.SearchGPS {
		if err := d.searchGPS(ctx, plan.GPSTimeout); err != nil {
			return 0, err
		}
	}

	d.sample()
	d.publish(ctx)
	d.fix = false

	// Absorbs expirations in active mode.
	d.moveTimer.Check(d.clock.Now(), d.cfg)

	return d.plan().Sleep, nil
}

func (d *Device) plan() mode.Plan {
	return mode.Decide(d.cfg, mode.Flags{FixAcquired: d.fix, MovementDetected: d.movement})
}

type wake int

const (
	wakeTimer wake = iota
	wakeTrigger
	wakeGPS
	wakeConfig
)

// wait blocks until the timer fires, a GPS result arrives, a trigger is
// accepted or the configuration changes. Session reconnects and RSRP
// notifications are handled in place. A nil timer or gps channel never
// fires.
func (d *Device) wait(ctx context.Context, timer <-chan time.Time, gps <-chan sensor.GPSEvent) (wake, sensor.GPSEvent, error) {
	for {
		select {
		case <-ctx.Done():
			return 0, sensor.GPSEvent{}, ctx.Err()

		case <-timer:
			return wakeTimer, sensor.GPSEvent{}, nil

		case ev := <-gps:
			return wakeGPS, ev, nil

		case m := <-d.sensors.Accelerometer.Events():
			d.recordMotion(m)
			return wakeTrigger, sensor.GPSEvent{}, nil

		case b := <-d.buttons:
			if d.handleButton(ctx, b) {
				return wakeTrigger, sensor.GPSEvent{}, nil
			}

		case <-d.cell.Changed():
			d.applyConfig()
			return wakeConfig, sensor.GPSEvent{}, nil

		case <-d.sessionC:
			d.logger.Info("device: cloud connected, publishing")
			d.publish(ctx)

		case rsrp := <-d.sensors.Modem.RSRP():
			if !d.store.UpdateRSRP(rsrp) {
				d.logger.Debug("device: ignoring rsrp", "rsrp", rsrp)
			}
		}
	}
}

// awaitTrigger waits for motion, a button press or the movement timeout.
// It returns early if the device is switched to active mode.
func (d *Device) awaitTrigger(ctx context.Context) error {
	d.logger.Debug("device: waiting for movement")
	for {
		var (
			timer clock.Timer
			fired <-chan time.Time
		)
		if left, ok := d.moveTimer.Remaining(d.clock.Now(), d.cfg); ok {
			timer = d.clock.NewTimer(left)
			fired = timer.C()
		}

		w, _, err := d.wait(ctx, fired, nil)
		if timer != nil {
			timer.Stop()
		}
		if err != nil {
			return err
		}

		switch w {
		case wakeTrigger:
			return nil
		case wakeTimer:
			if d.moveTimer.Check(d.clock.Now(), d.cfg) {
				d.logger.Info("device: movement timeout")
				return nil
			}
		case wakeConfig:
			if d.cfg.Active {
				return nil
			}
		}
	}
}

// searchGPS starts a search and waits for its result, bounded by timeout
// plus a grace period.
func (d *Device) searchGPS(ctx context.Context, timeout time.Duration) error {
	events := d.sensors.GPS.Events()
	for drained := false; !drained; {
		select {
		case <-events:
		default:
			drained = true
		}
	}

	if err := d.sensors.GPS.Start(ctx, timeout); err != nil {
		d.logger.Warn("device: gps start failed", "err", err)
		return nil
	}
	timer := d.clock.NewTimer(timeout + d.gpsGrace)
	defer timer.Stop()

	for {
		w, ev, err := d.wait(ctx, timer.C(), events)
		if err != nil {
			d.sensors.GPS.Stop()
			return err
		}
		switch w {
		case wakeGPS:
			switch ev.Kind {
			case sensor.GPSFix:
				now := d.clock.Now()
				d.store.Location.Record(now, ev.Fix)
				d.fix = true
				if d.tracker != nil {
					d.tracker.SetFix(ev.Fix, now)
				}
				d.logger.Info("device: gps fix", "lat", ev.Fix.Latitude, "lng", ev.Fix.Longitude, "acc", ev.Fix.Accuracy)
			case sensor.GPSTimeout:
				d.logger.Info("device: gps timeout", "timeout", timeout)
			default:
				d.logger.Warn("device: gps search failed", "err", ev.Err)
			}
			return nil
		case wakeTimer:
			d.logger.Warn("device: gps did not report, stopping search", "timeout", timeout)
			d.sensors.GPS.Stop()
			return nil
		}
	}
}

// sample records the modem, battery and environment readings. A failed
// reading is logged and skipped.
func (d *Device) sample() {
	now := d.clock.Now()
	if m, err := d.sensors.Modem.Sample(); err != nil {
		d.logger.Warn("device: modem sample failed", "err", err)
	} else {
		d.store.Modem.Record(now, m)
	}
	if b, err := d.sensors.Battery.Sample(); err != nil {
		d.logger.Warn("device: battery sample failed", "err", err)
	} else {
		d.store.Battery.Record(now, b)
	}
	if e, err := d.sensors.Environment.Sample(); err != nil {
		d.logger.Warn("device: environment sample failed", "err", err)
	} else {
		d.store.Environment.Record(now, e)
	}
}

func (d *Device) publish(ctx context.Context) {
	rep, err := d.sched.Publish(ctx, publish.Cycle{Active: d.cfg.Active, Fix: d.fix})
	if err != nil {
		d.logger.Warn("device: publish failed", "schema", rep.Schema.String(), "err", err)
	} else {
		d.logger.Debug("device: published", "schema", rep.Schema.String(), "batches", rep.Batches, "entries", rep.Entries)
	}
	d.track(err)
}

func (d *Device) track(err error) {
	if d.tracker == nil {
		return
	}
	d.tracker.SetPublish(d.sched.Stats(), d.clock.Now(), err)
	d.tracker.SetBuffers(d.store)
}

// Sleep waits for d. A configuration change re-plans the remaining sleep
// from the same starting point.
func (d *Device) Sleep(ctx context.Context, sleep time.Duration) error {
	start := d.clock.Now()
	for {
		left := sleep - d.clock.Now().Sub(start)
		if left <= 0 {
			return nil
		}
		timer := d.clock.NewTimer(left)
		w, _, err := d.wait(ctx, timer.C(), nil)
		timer.Stop()
		if err != nil {
			return err
		}
		switch w {
		case wakeTimer:
			return nil
		case wakeConfig:
			sleep = d.plan().Sleep
		}
	}
}

func (d *Device) recordMotion(m telemetry.Motion) {
	now := d.clock.Now()
	if _, stored := d.store.Motion.Record(now, m); stored {
		d.logger.Debug("device: motion buffered", "magnitude", m.Magnitude())
	}
	d.movement = true
	d.moveTimer.Reset(now)
}

// handleButton records a press and sends it right away. Presses closer
// together than the button interval are dropped.
func (d *Device) handleButton(ctx context.Context, b int) bool {
	now := d.clock.Now()
	if !d.lastButton.IsZero() && now.Sub(d.lastButton) < d.buttonInterval {
		d.logger.Debug("device: button press ignored", "button", b)
		return false
	}
	d.lastButton = now

	d.store.UserInput.Record(now, telemetry.UserInput{Button: b})
	d.movement = true
	d.moveTimer.Reset(now)
	err := d.sched.SendUserInput(ctx)
	if err != nil {
		d.logger.Warn("device: button message failed", "button", b, "err", err)
	}
	d.track(err)
	return true
}

func (d *Device) applyConfig() {
	d.cfg = d.cell.Load()
	if err := d.sensors.Accelerometer.SetThreshold(d.cfg.AccelThreshold); err != nil {
		d.logger.Warn("device: set accelerometer threshold failed", "err", err)
	}
	if d.tracker != nil {
		d.tracker.SetDevice(d.cfg)
	}
	d.logger.Info("device: configuration applied", "mode", d.cfg.ModeString())
}
