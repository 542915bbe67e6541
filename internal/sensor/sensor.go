// Package sensor defines the hardware collaborators the device loop samples:
// GPS receiver, cellular modem, battery gauge, environment sensor and
// accelerometer. Fakes for tests and a simulator for running without
// hardware live alongside the interfaces.
package sensor

import (
	"context"
	"time"

	"github.com/sweeney/cat-tracker/internal/telemetry"
)

// GPSEventKind identifies what a GPS search produced.
type GPSEventKind int

const (
	GPSFix GPSEventKind = iota
	GPSTimeout
	GPSError
)

func (k GPSEventKind) String() string {
	switch k {
	case GPSFix:
		return "fix"
	case GPSTimeout:
		return "timeout"
	case GPSError:
		return "error"
	}
	return "unknown"
}

// GPSEvent is delivered once per search.
type GPSEvent struct {
	Kind GPSEventKind
	Fix  telemetry.Location
	Err  error
}

// GPS searches for a position fix.
type GPS interface {
	// Start begins a search that gives up after timeout.
	Start(ctx context.Context, timeout time.Duration) error
	// Stop aborts a running search. No event is sent for a stopped search.
	Stop()
	Events() <-chan GPSEvent
}

// Modem reports network status and the device identity.
type Modem interface {
	Sample() (telemetry.Modem, error)
	IMEI() (string, error)
	// RSRP delivers raw signal strength notifications.
	RSRP() <-chan uint8
}

// Battery reads the battery voltage.
type Battery interface {
	Sample() (telemetry.Battery, error)
}

// Environment reads temperature and humidity.
type Environment interface {
	Sample() (telemetry.Environment, error)
}

// Accelerometer delivers motion above the configured threshold.
type Accelerometer interface {
	Events() <-chan telemetry.Motion
	SetThreshold(threshold float64) error
}

// Set groups the collaborators for one device.
type Set struct {
	GPS           GPS
	Modem         Modem
	Battery       Battery
	Environment   Environment
	Accelerometer Accelerometer
}
