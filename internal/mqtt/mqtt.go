// Package mqtt provides the cloud transport with an abstraction for testing.
package mqtt

import (
	"context"
	"errors"
	"time"
)

// ErrNotConnected is returned by operations that need an open connection.
var ErrNotConnected = errors.New("not connected")

// Endpoint is a logical message destination.
type Endpoint int

const (
	// EndpointConfig carries configuration updates from the cloud.
	EndpointConfig Endpoint = iota
	// EndpointState is the configuration request endpoint. An empty
	// message asks the cloud to send the desired configuration.
	EndpointState
	// EndpointData receives snapshots and configuration reports.
	EndpointData
	// EndpointBatch receives buffered samples.
	EndpointBatch
	// EndpointMessages receives user-input messages.
	EndpointMessages
)

func (e Endpoint) String() string {
	switch e {
	case EndpointConfig:
		return "config"
	case EndpointState:
		return "state"
	case EndpointData:
		return "data"
	case EndpointBatch:
		return "batch"
	case EndpointMessages:
		return "messages"
	}
	return "unknown"
}

// Message is an outbound message.
type Message struct {
	Endpoint Endpoint
	QoS      byte
	Payload  []byte
}

// Inbound is a message received from the cloud.
type Inbound struct {
	Endpoint Endpoint
	Topic    string
	Payload  []byte
}

// Readiness is a connection condition reported by the transport.
type Readiness int

const (
	// Readable means inbound data is waiting; call Input.
	Readable Readiness = iota
	// Hangup means the peer closed the connection.
	Hangup
	// Invalid means the connection failed or is no longer usable.
	Invalid
)

func (r Readiness) String() string {
	switch r {
	case Readable:
		return "readable"
	case Hangup:
		return "hangup"
	case Invalid:
		return "invalid"
	}
	return "unknown"
}

// Transport is a message-oriented cloud connection. Implementations need
// not be safe for concurrent use except for Ready, which may be read from
// another goroutine.
type Transport interface {
	// Connect opens the connection and subscribes to the config endpoint.
	Connect(ctx context.Context) error

	// Disconnect closes the connection. Safe to call when not connected.
	Disconnect()

	// Send publishes msg. Returns ErrNotConnected if there is no open
	// connection.
	Send(ctx context.Context, msg Message) error

	// Ping checks the connection is alive. It returns ErrNotConnected once
	// the transport has seen the connection drop. Implementations whose
	// client library runs its own keepalive exchange may answer from the
	// connection state without a network round trip; a silently dead peer
	// is then reported through Ready as Hangup when that exchange times out.
	Ping(ctx context.Context) error

	// Ready reports connection conditions.
	Ready() <-chan Readiness

	// Input processes pending inbound messages, calling handle for each.
	Input(handle func(Inbound)) error

	// Keepalive is the inactivity window after which Ping should be
	// called.
	Keepalive() time.Duration
}

// Topics is the topic layout for one device.
type Topics struct {
	Config      string
	ConfigDelta string
	State       string
	Data        string
	Batch       string
	Messages    string
}

// NewTopics derives the topic layout from the client id.
func NewTopics(clientID string) Topics {
	shadow := "$aws/things/" + clientID + "/shadow"
	return Topics{
		Config:      shadow + "/get/accepted/desired/cfg",
		ConfigDelta: shadow + "/update/delta",
		State:       shadow + "/get",
		Data:        shadow + "/update",
		Batch:       clientID + "/batch",
		Messages:    clientID + "/messages",
	}
}

// For returns the publish topic of an endpoint.
func (t Topics) For(e Endpoint) string {
	switch e {
	case EndpointConfig:
		return t.Config
	case EndpointState:
		return t.State
	case EndpointData:
		return t.Data
	case EndpointBatch:
		return t.Batch
	case EndpointMessages:
		return t.Messages
	}
	return ""
}

// Subscriptions returns the topics to subscribe to after connecting.
func (t Topics) Subscriptions() []string {
	return []string{t.Config, t.ConfigDelta}
}

// Endpoint maps an inbound topic to its endpoint.
func (t Topics) Endpoint(topic string) (Endpoint, bool) {
	switch topic {
	case t.Config, t.ConfigDelta:
		return EndpointConfig, true
	case t.State:
		return EndpointState, true
	case t.Data:
		return EndpointData, true
	case t.Batch:
		return EndpointBatch, true
	case t.Messages:
		return EndpointMessages, true
	}
	return 0, false
}
