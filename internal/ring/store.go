package ring

import (
	"log/slog"
	"time"

	"github.com/sweeney/cat-tracker/internal/telemetry"
)

// Capacities sets the number of slots per signal class.
type Capacities struct {
	Location    int `yaml:"location"`
	Motion      int `yaml:"motion"`
	Modem       int `yaml:"modem"`
	Environment int `yaml:"environment"`
	Battery     int `yaml:"battery"`
	UserInput   int `yaml:"user_input"`
}

// DefaultCapacities returns the default ring sizes.
func DefaultCapacities() Capacities {
	return Capacities{
		Location:    10,
		Motion:      10,
		Modem:       10,
		Environment: 10,
		Battery:     10,
		UserInput:   10,
	}
}

// Store owns one ring per signal class. Location, modem, environment,
// battery and user-input rings are round-robin; the motion ring keeps the
// highest-magnitude samples.
type Store struct {
	Location    *Ring[telemetry.Location]
	Motion      *Ring[telemetry.Motion]
	Modem       *Ring[telemetry.Modem]
	Environment *Ring[telemetry.Environment]
	Battery     *Ring[telemetry.Battery]
	UserInput   *Ring[telemetry.UserInput]
}

// NewStore allocates every ring.
func NewStore(c Capacities, motionMinInterval time.Duration, logger *slog.Logger) *Store {
	opts := func(class telemetry.Class) Options {
		return Options{Name: class.String(), Logger: logger, MinInterval: motionMinInterval}
	}
	return &Store{
		Location:    NewRoundRobin[telemetry.Location](c.Location, opts(telemetry.ClassLocation)),
		Motion:      NewKeepHighest(c.Motion, telemetry.Motion.Magnitude, opts(telemetry.ClassMotion)),
		Modem:       NewRoundRobin[telemetry.Modem](c.Modem, opts(telemetry.ClassModem)),
		Environment: NewRoundRobin[telemetry.Environment](c.Environment, opts(telemetry.ClassEnvironment)),
		Battery:     NewRoundRobin[telemetry.Battery](c.Battery, opts(telemetry.ClassBattery)),
		UserInput:   NewRoundRobin[telemetry.UserInput](c.UserInput, opts(telemetry.ClassUserInput)),
	}
}

// Queued returns the number of undelivered entries for class.
func (s *Store) Queued(class telemetry.Class) int {
	switch class {
	case telemetry.ClassLocation:
		return s.Location.Queued()
	case telemetry.ClassMotion:
		return s.Motion.Queued()
	case telemetry.ClassModem:
		return s.Modem.Queued()
	case telemetry.ClassEnvironment:
		return s.Environment.Queued()
	case telemetry.ClassBattery:
		return s.Battery.Queued()
	case telemetry.ClassUserInput:
		return s.UserInput.Queued()
	}
	return 0
}

// Confirm clears the queued flag of delivered entries of class.
func (s *Store) Confirm(class telemetry.Class, ids ...uint64) int {
	switch class {
	case telemetry.ClassLocation:
		return s.Location.Confirm(ids...)
	case telemetry.ClassMotion:
		return s.Motion.Confirm(ids...)
	case telemetry.ClassModem:
		return s.Modem.Confirm(ids...)
	case telemetry.ClassEnvironment:
		return s.Environment.Confirm(ids...)
	case telemetry.ClassBattery:
		return s.Battery.Confirm(ids...)
	case telemetry.ClassUserInput:
		return s.UserInput.Confirm(ids...)
	}
	return 0
}

// Stats returns ring statistics for class.
func (s *Store) Stats(class telemetry.Class) Stats {
	switch class {
	case telemetry.ClassLocation:
		return s.Location.Stats()
	case telemetry.ClassMotion:
		return s.Motion.Stats()
	case telemetry.ClassModem:
		return s.Modem.Stats()
	case telemetry.ClassEnvironment:
		return s.Environment.Stats()
	case telemetry.ClassBattery:
		return s.Battery.Stats()
	case telemetry.ClassUserInput:
		return s.UserInput.Stats()
	}
	return Stats{}
}

// UpdateRSRP stores a signal strength notification in the current modem
// sample. Raw values above telemetry.MaxRSRP do not represent a signal and
// are ignored.
func (s *Store) UpdateRSRP(rsrp uint8) bool {
	if rsrp > telemetry.MaxRSRP {
		return false
	}
	return s.Modem.UpdateLatest(func(m *telemetry.Modem) {
		m.Dynamic.RSRP = rsrp
	})
}
