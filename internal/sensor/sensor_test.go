package sensor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sweeney/cat-tracker/internal/clock"
	"github.com/sweeney/cat-tracker/internal/telemetry"
)

var t0 = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func TestFakeSamplerSequence(t *testing.T) {
	f := NewFakeSampler(telemetry.Battery{Millivolts: 4000}, telemetry.Battery{Millivolts: 3990})

	for i, want := range []int{4000, 3990, 3990} {
		got, err := f.Sample()
		if err != nil {
			t.Fatalf("sample %d: %v", i, err)
		}
		if got.Millivolts != want {
			t.Errorf("sample %d: got %d, want %d", i, got.Millivolts, want)
		}
	}

	f.Push(telemetry.Battery{Millivolts: 3980})
	if got, _ := f.Sample(); got.Millivolts != 3980 {
		t.Errorf("after push: got %d, want 3980", got.Millivolts)
	}
	if f.Calls() != 4 {
		t.Errorf("calls: got %d, want 4", f.Calls())
	}
}

func TestFakeSamplerErrors(t *testing.T) {
	f := NewFakeSampler[telemetry.Environment]()
	if _, err := f.Sample(); !errors.Is(err, ErrNoSample) {
		t.Errorf("expected ErrNoSample, got %v", err)
	}

	f.Push(telemetry.Environment{Temperature: 19})
	sensorErr := errors.New("i2c nack")
	f.SetError(sensorErr)
	if _, err := f.Sample(); !errors.Is(err, sensorErr) {
		t.Errorf("expected scripted error, got %v", err)
	}

	f.SetError(nil)
	if got, err := f.Sample(); err != nil || got.Temperature != 19 {
		t.Errorf("got %+v, %v", got, err)
	}
}

func TestFakeModem(t *testing.T) {
	m := NewFakeModem("351234567890123")
	imei, err := m.IMEI()
	if err != nil || imei != "351234567890123" {
		t.Errorf("IMEI: got %q, %v", imei, err)
	}

	m.SetIMEIError(errors.New("at timeout"))
	if _, err := m.IMEI(); err == nil {
		t.Error("expected IMEI error")
	}

	m.NotifyRSRP(42)
	if got := <-m.RSRP(); got != 42 {
		t.Errorf("rsrp: got %d", got)
	}
}

func TestFakeGPS(t *testing.T) {
	g := NewFakeGPS()
	if err := g.Start(context.Background(), time.Minute); err != nil {
		t.Fatalf("start: %v", err)
	}
	if got := <-g.StartedC(); got != time.Minute {
		t.Errorf("started with %v", got)
	}
	g.Emit(GPSEvent{Kind: GPSFix, Fix: telemetry.Location{Latitude: 1}})
	if ev := <-g.Events(); ev.Kind != GPSFix || ev.Fix.Latitude != 1 {
		t.Errorf("unexpected event %+v", ev)
	}
	g.Stop()
	if g.Stops() != 1 || len(g.Searches()) != 1 {
		t.Errorf("stops %d searches %d", g.Stops(), len(g.Searches()))
	}

	g.SetStartError(errors.New("no antenna"))
	if err := g.Start(context.Background(), time.Minute); err == nil {
		t.Error("expected start error")
	}
}

func TestFakeAccelerometer(t *testing.T) {
	a := NewFakeAccelerometer()
	if err := a.SetThreshold(120); err != nil {
		t.Fatalf("set threshold: %v", err)
	}
	a.SetThresholdError(errors.New("spi"))
	if err := a.SetThreshold(50); err == nil {
		t.Error("expected error")
	}
	if th := a.Thresholds(); len(th) != 1 || th[0] != 120 {
		t.Errorf("thresholds: %v", th)
	}
}

func TestGPSEventKindString(t *testing.T) {
	tests := map[GPSEventKind]string{
		GPSFix:           "fix",
		GPSTimeout:       "timeout",
		GPSError:         "error",
		GPSEventKind(42): "unknown",
	}
	for k, want := range tests {
		if got := k.String(); got != want {
			t.Errorf("%d: got %q, want %q", int(k), got, want)
		}
	}
}

func recvGPS(t *testing.T, g GPS) GPSEvent {
	t.Helper()
	select {
	case ev := <-g.Events():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for gps event")
	}
	return GPSEvent{}
}

func TestSimGPSFix(t *testing.T) {
	clk := clock.NewFake(t0)
	set := NewSim(SimOptions{Clock: clk, Seed: 1, FixDelay: 10 * time.Second}).Set()

	if err := set.GPS.Start(context.Background(), time.Minute); err != nil {
		t.Fatalf("start: %v", err)
	}
	clk.WaitForTimers(2)
	clk.Advance(10 * time.Second)

	ev := recvGPS(t, set.GPS)
	if ev.Kind != GPSFix {
		t.Fatalf("got %s, want fix", ev.Kind)
	}
	if ev.Fix.Latitude == 0 || ev.Fix.Longitude == 0 {
		t.Errorf("fix has no position: %+v", ev.Fix)
	}
}

func TestSimGPSTimeout(t *testing.T) {
	clk := clock.NewFake(t0)
	set := NewSim(SimOptions{Clock: clk, FixDelay: time.Minute}).Set()

	set.GPS.Start(context.Background(), 5*time.Second)
	clk.WaitForTimers(2)
	clk.Advance(5 * time.Second)

	if ev := recvGPS(t, set.GPS); ev.Kind != GPSTimeout {
		t.Errorf("got %s, want timeout", ev.Kind)
	}
}

func TestSimGPSStop(t *testing.T) {
	clk := clock.NewFake(t0)
	set := NewSim(SimOptions{Clock: clk, FixDelay: time.Second}).Set()

	set.GPS.Start(context.Background(), time.Minute)
	clk.WaitForTimers(2)
	set.GPS.Stop()
	clk.Advance(time.Minute)

	select {
	case ev := <-set.GPS.Events():
		t.Errorf("stopped search delivered %s", ev.Kind)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSimRunRespectsThreshold(t *testing.T) {
	clk := clock.NewFake(t0)
	sim := NewSim(SimOptions{Clock: clk, Seed: 7, MotionEvery: time.Second})
	set := sim.Set()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sim.Run(ctx)

	clk.WaitForTimers(1)
	clk.Advance(time.Second)
	select {
	case <-set.Accelerometer.Events():
	case <-time.After(2 * time.Second):
		t.Fatal("expected motion with zero threshold")
	}
	<-set.Modem.RSRP()

	set.Accelerometer.SetThreshold(1e9)
	clk.WaitForTimers(1)
	clk.Advance(time.Second)
	select {
	case rsrp := <-set.Modem.RSRP():
		if rsrp > telemetry.MaxRSRP {
			t.Errorf("rsrp out of range: %d", rsrp)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected rsrp notification")
	}
	select {
	case m := <-set.Accelerometer.Events():
		t.Errorf("motion below threshold delivered: %+v", m)
	default:
	}
}

func TestSimBatteryDrains(t *testing.T) {
	set := NewSim(SimOptions{Seed: 3}).Set()
	first, _ := set.Battery.Sample()
	var last telemetry.Battery
	for i := 0; i < 50; i++ {
		last, _ = set.Battery.Sample()
	}
	if last.Millivolts > first.Millivolts {
		t.Errorf("battery charged: %d -> %d", first.Millivolts, last.Millivolts)
	}
	imei, err := set.Modem.IMEI()
	if err != nil || imei == "" {
		t.Errorf("imei: %q, %v", imei, err)
	}
}
