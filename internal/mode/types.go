// Package mode contains the device configuration and the pure decisions
// derived from it: how long to sleep, whether to search for a fix, and
// whether to wait for a motion trigger. Time is always injected.
package mode

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrNegativeInterval is returned when a configuration delta would leave an
// interval below zero.
var ErrNegativeInterval = errors.New("negative interval")

// ErrIntervalRange is returned when a delta interval does not fit in a
// time.Duration.
var ErrIntervalRange = errors.New("interval out of range")

// maxSeconds is the largest interval, in seconds, a time.Duration can hold.
const maxSeconds = math.MaxInt64 / int64(time.Second)

// DeviceConfig is the runtime behavior configuration, shared between the
// session task (writer) and the main loop (reader) through a Cell.
type DeviceConfig struct {
	// GPSTimeout bounds a fix search. Zero disables location search.
	GPSTimeout time.Duration `yaml:"gps_timeout"`
	// Active selects active mode: periodic publishing without waiting for
	// motion.
	Active bool `yaml:"active"`
	// ActiveWait is the sleep between cycles in active mode.
	ActiveWait time.Duration `yaml:"active_wait"`
	// PassiveWait is the sleep between cycles in passive mode.
	PassiveWait time.Duration `yaml:"passive_wait"`
	// MovementTimeout forces a passive-mode cycle even without motion.
	MovementTimeout time.Duration `yaml:"movement_timeout"`
	// AccelThreshold is the accelerometer trigger threshold.
	AccelThreshold float64 `yaml:"accel_threshold"`
}

// Default returns the factory configuration.
func Default() DeviceConfig {
	return DeviceConfig{
		GPSTimeout:      60 * time.Second,
		Active:          true,
		ActiveWait:      60 * time.Second,
		PassiveWait:     60 * time.Second,
		MovementTimeout: 3600 * time.Second,
		AccelThreshold:  100,
	}
}

// Validate checks that every interval is non-negative.
func (c DeviceConfig) Validate() error {
	checks := []struct {
		name string
		d    time.Duration
	}{
		{"gps timeout", c.GPSTimeout},
		{"active wait", c.ActiveWait},
		{"passive wait", c.PassiveWait},
		{"movement timeout", c.MovementTimeout},
	}
	for _, ch := range checks {
		if ch.d < 0 {
			return fmt.Errorf("%s %v: %w", ch.name, ch.d, ErrNegativeInterval)
		}
	}
	return nil
}

// ModeString returns "active" or "passive".
func (c DeviceConfig) ModeString() string {
	if c.Active {
		return "active"
	}
	return "passive"
}

// Delta is a partial configuration update as received from the cloud.
// Intervals are whole seconds. Nil fields are left unchanged.
type Delta struct {
	GPSTimeout      *int64   `json:"gpst,omitempty"`
	Active          *bool    `json:"act,omitempty"`
	ActiveWait      *int64   `json:"actw,omitempty"`
	PassiveWait     *int64   `json:"pasw,omitempty"`
	MovementTimeout *int64   `json:"movt,omitempty"`
	AccelThreshold  *float64 `json:"acct,omitempty"`
}

// Empty reports whether the delta carries no fields.
func (d Delta) Empty() bool {
	return d.GPSTimeout == nil && d.Active == nil && d.ActiveWait == nil &&
		d.PassiveWait == nil && d.MovementTimeout == nil && d.AccelThreshold == nil
}

// Apply returns cfg with the delta's fields applied. If the result has a
// negative interval the delta is rejected whole and cfg is returned
// unchanged along with the error.
func (d Delta) Apply(cfg DeviceConfig) (DeviceConfig, error) {
	next := cfg
	fields := []struct {
		name string
		dst  *time.Duration
		src  *int64
	}{
		{"gps timeout", &next.GPSTimeout, d.GPSTimeout},
		{"active wait", &next.ActiveWait, d.ActiveWait},
		{"passive wait", &next.PassiveWait, d.PassiveWait},
		{"movement timeout", &next.MovementTimeout, d.MovementTimeout},
	}
	for _, f := range fields {
		if err := setSeconds(f.dst, f.src); err != nil {
			return cfg, fmt.Errorf("apply config delta: %s: %w", f.name, err)
		}
	}
	if d.Active != nil {
		next.Active = *d.Active
	}
	if d.AccelThreshold != nil {
		next.AccelThreshold = *d.AccelThreshold
	}
	if err := next.Validate(); err != nil {
		return cfg, fmt.Errorf("apply config delta: %w", err)
	}
	return next, nil
}

func setSeconds(dst *time.Duration, src *int64) error {
	switch {
	case src == nil:
		return nil
	case *src < 0:
		return fmt.Errorf("%d s: %w", *src, ErrNegativeInterval)
	case *src > maxSeconds:
		return fmt.Errorf("%d s: %w", *src, ErrIntervalRange)
	}
	*dst = time.Duration(*src) * time.Second
	return nil
}

// Report returns the full configuration as a delta with every field set,
// which is the form reported back to the cloud.
func (c DeviceConfig) Report() Delta {
	secs := func(d time.Duration) *int64 {
		s := int64(d / time.Second)
		return &s
	}
	active := c.Active
	acct := c.AccelThreshold
	return Delta{
		GPSTimeout:      secs(c.GPSTimeout),
		Active:          &active,
		ActiveWait:      secs(c.ActiveWait),
		PassiveWait:     secs(c.PassiveWait),
		MovementTimeout: secs(c.MovementTimeout),
		AccelThreshold:  &acct,
	}
}
