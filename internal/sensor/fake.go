package sensor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sweeney/cat-tracker/internal/telemetry"
)

// ErrNoSample is returned by a FakeSampler with nothing scripted.
var ErrNoSample = errors.New("sensor: no sample configured")

// FakeSampler is a test double that returns scripted samples.
// Each call to Sample consumes the next one; once exhausted the last
// sample is returned repeatedly.
type FakeSampler[T any] struct {
	mu      sync.Mutex
	queue   []T
	last    T
	hasLast bool
	err     error
	calls   int
}

// NewFakeSampler creates a FakeSampler with the given samples.
func NewFakeSampler[T any](samples ...T) *FakeSampler[T] {
	return &FakeSampler[T]{queue: samples}
}

// Sample returns the next scripted sample.
func (f *FakeSampler[T]) Sample() (T, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++

	var zero T
	if f.err != nil {
		return zero, f.err
	}
	if len(f.queue) > 0 {
		f.last, f.hasLast = f.queue[0], true
		f.queue = f.queue[1:]
	}
	if !f.hasLast {
		return zero, ErrNoSample
	}
	return f.last, nil
}

// Push appends samples to the script.
func (f *FakeSampler[T]) Push(samples ...T) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queue = append(f.queue, samples...)
}

// SetError makes every Sample call fail with err until cleared with nil.
func (f *FakeSampler[T]) SetError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

// Calls returns the number of Sample calls.
func (f *FakeSampler[T]) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// FakeModem is a scripted modem.
type FakeModem struct {
	*FakeSampler[telemetry.Modem]

	imei    string
	imeiErr error
	rsrp    chan uint8
}

// NewFakeModem creates a FakeModem with the given IMEI and samples.
func NewFakeModem(imei string, samples ...telemetry.Modem) *FakeModem {
	return &FakeModem{
		FakeSampler: NewFakeSampler(samples...),
		imei:        imei,
		rsrp:        make(chan uint8, 8),
	}
}

func (f *FakeModem) IMEI() (string, error) {
	if f.imeiErr != nil {
		return "", f.imeiErr
	}
	return f.imei, nil
}

// SetIMEIError makes IMEI fail.
func (f *FakeModem) SetIMEIError(err error) { f.imeiErr = err }

func (f *FakeModem) RSRP() <-chan uint8 { return f.rsrp }

// NotifyRSRP queues a signal strength notification.
func (f *FakeModem) NotifyRSRP(v uint8) { f.rsrp <- v }

// FakeGPS records searches; tests deliver results with Emit.
type FakeGPS struct {
	mu       sync.Mutex
	events   chan GPSEvent
	started  chan time.Duration
	timeouts []time.Duration
	stops    int
	startErr error
}

// NewFakeGPS creates an idle FakeGPS.
func NewFakeGPS() *FakeGPS {
	return &FakeGPS{
		events:  make(chan GPSEvent, 8),
		started: make(chan time.Duration, 8),
	}
}

func (f *FakeGPS) Start(ctx context.Context, timeout time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.timeouts = append(f.timeouts, timeout)
	select {
	case f.started <- timeout:
	default:
	}
	return nil
}

func (f *FakeGPS) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
}

func (f *FakeGPS) Events() <-chan GPSEvent { return f.events }

// Emit delivers a search result.
func (f *FakeGPS) Emit(ev GPSEvent) { f.events <- ev }

// StartedC receives the timeout of every started search.
func (f *FakeGPS) StartedC() <-chan time.Duration { return f.started }

// SetStartError makes Start fail.
func (f *FakeGPS) SetStartError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startErr = err
}

// Searches returns the timeouts of all started searches.
func (f *FakeGPS) Searches() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Duration(nil), f.timeouts...)
}

// Stops returns the number of Stop calls.
func (f *FakeGPS) Stops() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stops
}

// FakeAccelerometer delivers motion pushed by tests.
type FakeAccelerometer struct {
	mu         sync.Mutex
	events     chan telemetry.Motion
	thresholds []float64
	setErr     error
}

// NewFakeAccelerometer creates an idle FakeAccelerometer.
func NewFakeAccelerometer() *FakeAccelerometer {
	return &FakeAccelerometer{events: make(chan telemetry.Motion, 16)}
}

func (f *FakeAccelerometer) Events() <-chan telemetry.Motion { return f.events }

func (f *FakeAccelerometer) SetThreshold(threshold float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setErr != nil {
		return f.setErr
	}
	f.thresholds = append(f.thresholds, threshold)
	return nil
}

// Move delivers a motion event.
func (f *FakeAccelerometer) Move(m telemetry.Motion) { f.events <- m }

// Thresholds returns every threshold that was set.
func (f *FakeAccelerometer) Thresholds() []float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]float64(nil), f.thresholds...)
}

// SetThresholdError makes SetThreshold fail.
func (f *FakeAccelerometer) SetThresholdError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setErr = err
}
