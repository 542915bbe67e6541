package internal

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sweeney/cat-tracker/internal/clock"
	"github.com/sweeney/cat-tracker/internal/codec"
	"github.com/sweeney/cat-tracker/internal/device"
	"github.com/sweeney/cat-tracker/internal/mode"
	"github.com/sweeney/cat-tracker/internal/mqtt"
	"github.com/sweeney/cat-tracker/internal/publish"
	"github.com/sweeney/cat-tracker/internal/ring"
	"github.com/sweeney/cat-tracker/internal/sensor"
	"github.com/sweeney/cat-tracker/internal/session"
	"github.com/sweeney/cat-tracker/internal/status"
	"github.com/sweeney/cat-tracker/internal/telemetry"
)

const waitTimeout = 5 * time.Second

var t0 = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

// tracker wires the session, scheduler and device loop over fakes.
type tracker struct {
	clk     *clock.FakeClock
	tr      *mqtt.FakeTransport
	cell    *mode.Cell
	mgr     *session.Manager
	status  *status.Tracker
	accel   *sensor.FakeAccelerometer
	buttons chan int
	cancel  context.CancelFunc
}

func newTracker(t *testing.T) *tracker {
	t.Helper()
	c, err := codec.New(codec.Options{Format: codec.FormatJSON})
	require.NoError(t, err)

	cfg := mode.Default()
	cfg.GPSTimeout = 0

	tk := &tracker{
		clk:     clock.NewFake(t0),
		tr:      mqtt.NewFakeTransport(time.Hour),
		cell:    mode.NewCell(cfg),
		accel:   sensor.NewFakeAccelerometer(),
		buttons: make(chan int),
	}
	tk.status = status.NewTracker(t0, status.Config{ClientID: "cat-1"}, tk.clk)

	tk.mgr = session.New(session.Options{
		Transport: tk.tr,
		Codec:     c,
		Config:    tk.cell,
		Clock:     tk.clk,
		Policy:    session.DefaultPolicy(),
		Fatal:     func(err error) { t.Errorf("unexpected fatal error: %v", err) },
		OnState:   func(s session.State) { tk.status.SetSession(s.String(), 0) },
	})

	store := ring.NewStore(ring.DefaultCapacities(), time.Second, nil)
	sched := publish.New(publish.Options{Store: store, Encoder: c, Sender: tk.mgr, BatchSize: 5})
	dev := device.New(device.Options{
		Sensors: sensor.Set{
			GPS: sensor.NewFakeGPS(),
			Modem: sensor.NewFakeModem("cat-1", telemetry.Modem{
				Static:  telemetry.ModemStatic{Firmware: "1.0", LTEM: true},
				Dynamic: telemetry.ModemDynamic{Cell: 9, RSRP: 45},
			}),
			Battery:       sensor.NewFakeSampler(telemetry.Battery{Millivolts: 3950}),
			Environment:   sensor.NewFakeSampler(telemetry.Environment{Temperature: 18, Humidity: 60}),
			Accelerometer: tk.accel,
		},
		Store:     store,
		Scheduler: sched,
		Config:    tk.cell,
		Session:   tk.mgr,
		Clock:     tk.clk,
		Buttons:   tk.buttons,
		Tracker:   tk.status,
	})

	ctx, cancel := context.WithCancel(context.Background())
	tk.cancel = cancel
	mgrDone := make(chan struct{})
	devDone := make(chan struct{})
	go func() { tk.mgr.Run(ctx); close(mgrDone) }()
	go func() { dev.Run(ctx); close(devDone) }()
	t.Cleanup(func() {
		cancel()
		for _, done := range []chan struct{}{mgrDone, devDone} {
			select {
			case <-done:
			case <-time.After(waitTimeout):
				t.Error("tracker did not stop")
			}
		}
	})
	return tk
}

// awaitSent returns the first sent message matching match.
func (tk *tracker) awaitSent(t *testing.T, what string, match func(mqtt.Message) bool) mqtt.Message {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case msg := <-tk.tr.SentC():
			if match(msg) {
				return msg
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
			return mqtt.Message{}
		}
	}
}

func batchOf(class telemetry.Class) func(mqtt.Message) bool {
	return func(msg mqtt.Message) bool {
		if msg.Endpoint != mqtt.EndpointBatch {
			return false
		}
		var b struct {
			Class string `json:"cls"`
		}
		return json.Unmarshal(msg.Payload, &b) == nil && b.Class == class.String()
	}
}

func dataContaining(key string) func(mqtt.Message) bool {
	return func(msg mqtt.Message) bool {
		return msg.Endpoint == mqtt.EndpointData && strings.Contains(string(msg.Payload), key)
	}
}

// TestIntegrationOfflineThenConnect buffers a cycle and a button press
// while the network is down and delivers both once the session comes up.
func TestIntegrationOfflineThenConnect(t *testing.T) {
	tk := newTracker(t)

	require.Eventually(t, func() bool {
		return tk.status.Snapshot().LastError != ""
	}, waitTimeout, 5*time.Millisecond, "first publish should fail while offline")

	select {
	case tk.buttons <- 2:
	case <-time.After(waitTimeout):
		t.Fatal("device did not read the button")
	}
	require.Eventually(t, func() bool {
		return tk.status.Snapshot().Buffers[telemetry.ClassUserInput].Queued == 1
	}, waitTimeout, 5*time.Millisecond)
	require.Empty(t, tk.tr.Sent())

	tk.mgr.NetworkReady()

	tk.awaitSent(t, "config request", func(m mqtt.Message) bool { return m.Endpoint == mqtt.EndpointState })
	tk.awaitSent(t, "full snapshot", dataContaining(`"mstat"`))
	tk.awaitSent(t, "user input batch", batchOf(telemetry.ClassUserInput))

	require.Eventually(t, func() bool {
		snap := tk.status.Snapshot()
		return snap.Session == session.Connected.String() &&
			snap.Buffers[telemetry.ClassUserInput].Queued == 0
	}, waitTimeout, 5*time.Millisecond)
}

// TestIntegrationCloudSwitchesToPassive applies a cloud configuration that
// puts the device in passive mode, then moves the cat and expects the
// motion block in the next snapshot.
func TestIntegrationCloudSwitchesToPassive(t *testing.T) {
	tk := newTracker(t)
	tk.mgr.NetworkReady()
	tk.awaitSent(t, "full snapshot", dataContaining(`"mstat"`))

	tk.tr.Deliver(mqtt.Inbound{Endpoint: mqtt.EndpointConfig, Payload: []byte(`{"act":false,"pasw":120}`)})
	tk.awaitSent(t, "config report", dataContaining(`"act":false`))
	require.Eventually(t, func() bool {
		return !tk.status.Snapshot().Device.Active
	}, waitTimeout, 5*time.Millisecond)

	tk.accel.Move(telemetry.Motion{X: 300, Y: 10, Z: 5})
	require.Eventually(t, func() bool {
		return len(tk.accel.Events()) == 0
	}, waitTimeout, 5*time.Millisecond)

	// Session keepalive plus the device sleep.
	tk.clk.WaitForTimers(2)
	tk.clk.Advance(120 * time.Second)

	tk.awaitSent(t, "passive snapshot", dataContaining(`"acc"`))
}

// TestIntegrationButtonMessage sends a button press straight to the
// messages endpoint.
func TestIntegrationButtonMessage(t *testing.T) {
	tk := newTracker(t)
	tk.mgr.NetworkReady()
	tk.awaitSent(t, "full snapshot", dataContaining(`"mstat"`))

	select {
	case tk.buttons <- 1:
	case <-time.After(waitTimeout):
		t.Fatal("device did not read the button")
	}

	msg := tk.awaitSent(t, "button message", func(m mqtt.Message) bool { return m.Endpoint == mqtt.EndpointMessages })
	require.Contains(t, string(msg.Payload), `"btn"`)
}
