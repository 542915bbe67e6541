// Package session keeps the cloud connection alive across network loss.
//
// The Manager runs a small explicit state machine (Disconnected, Connecting,
// Connected, Backoff) on its own goroutine. Other goroutines hand it
// messages through Send; configuration received from the cloud is applied
// to the shared mode.Cell.
package session

import (
	"errors"
	"time"
)

var (
	// ErrNotConnected is returned by Send when there is no session.
	ErrNotConnected = errors.New("session not connected")

	// ErrRetriesExhausted is returned by Run after too many consecutive
	// connect failures.
	ErrRetriesExhausted = errors.New("connect retries exhausted")
)

// State is the connection state.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Backoff
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Backoff:
		return "backoff"
	}
	return "unknown"
}

// Event drives state transitions.
type Event int

const (
	NetworkReady Event = iota
	BackoffExpired
	ConnectOK
	ConnectFailed
	TransportClosed
	ProtocolError
)

func (e Event) String() string {
	switch e {
	case NetworkReady:
		return "network_ready"
	case BackoffExpired:
		return "backoff_expired"
	case ConnectOK:
		return "connect_ok"
	case ConnectFailed:
		return "connect_failed"
	case TransportClosed:
		return "transport_closed"
	case ProtocolError:
		return "protocol_error"
	}
	return "unknown"
}

type transition struct {
	from State
	on   Event
}

var transitions = map[transition]State{
	{Disconnected, NetworkReady}:   Connecting,
	{Disconnected, BackoffExpired}: Connecting,
	{Connecting, ConnectOK}:        Connected,
	{Connecting, ConnectFailed}:    Backoff,
	{Backoff, BackoffExpired}:      Connecting,
	{Connected, TransportClosed}:   Disconnected,
	{Connected, ProtocolError}:     Disconnected,
}

// Next returns the state reached from s on e. ok is false if e is not
// valid in s.
func Next(s State, e Event) (next State, ok bool) {
	next, ok = transitions[transition{s, e}]
	return next, ok
}

// Policy controls reconnection.
type Policy struct {
	// Base is the delay before the first retry.
	Base time.Duration `yaml:"backoff_base"`
	// MaxDelay caps any single delay.
	MaxDelay time.Duration `yaml:"backoff_max"`
	// MaxRetries is the number of consecutive connect failures after which
	// the session gives up. Zero retries forever.
	MaxRetries int `yaml:"max_retries"`
}

// DefaultPolicy waits 10 s plus retries⁴ seconds, at most
// an hour, giving up after 10 consecutive failures.
func DefaultPolicy() Policy {
	return Policy{
		Base:       10 * time.Second,
		MaxDelay:   time.Hour,
		MaxRetries: 10,
	}
}

// Delay returns the wait before reconnecting after retries previous
// consecutive failures: Base + retries⁴ seconds, capped at MaxDelay. It
// never decreases as retries grows.
func (p Policy) Delay(retries int) time.Duration {
	if retries < 0 {
		retries = 0
	}
	limit := p.MaxDelay
	if limit <= 0 {
		limit = time.Duration(1<<63 - 1)
	}
	// Stay well below the point where retries⁴ seconds overflows.
	if retries > 100 {
		return limit
	}
	r := time.Duration(retries)
	d := p.Base + r*r*r*r*time.Second
	if d > limit {
		return limit
	}
	return d
}
