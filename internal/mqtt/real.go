package mqtt

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

// maxPendingInbound bounds the inbound queue between Input calls.
const maxPendingInbound = 32

// RealOptions configures a RealTransport.
type RealOptions struct {
	Broker         string
	ClientID       string
	Username       string
	Password       string
	Keepalive      time.Duration
	ConnectTimeout time.Duration
	Logger         *slog.Logger
}

// RealTransport talks to an actual MQTT broker. Reconnection is left to
// the caller: the client never reconnects on its own.
type RealTransport struct {
	opts   RealOptions
	topics Topics
	logger *slog.Logger
	ready  chan Readiness

	mu      sync.Mutex
	client  paho.Client
	inbound []Inbound
}

// NewRealTransport creates an unconnected transport.
func NewRealTransport(opts RealOptions) *RealTransport {
	if opts.Keepalive <= 0 {
		opts.Keepalive = 60 * time.Second
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 30 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &RealTransport{
		opts:   opts,
		topics: NewTopics(opts.ClientID),
		logger: logger,
		ready:  make(chan Readiness, 8),
	}
}

// Topics returns the topic layout in use.
func (t *RealTransport) Topics() Topics { return t.topics }

// Connect opens the connection and subscribes to the config topics.
func (t *RealTransport) Connect(ctx context.Context) error {
	t.Disconnect()
	t.drainReady()

	opts := paho.NewClientOptions().
		AddBroker(t.opts.Broker).
		SetClientID(t.opts.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(false).
		SetConnectRetry(false).
		SetKeepAlive(t.opts.Keepalive).
		SetConnectTimeout(t.opts.ConnectTimeout).
		SetOrderMatters(false).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			t.logger.Warn("mqtt: connection lost", "err", err)
			t.signal(Hangup)
		})
	if t.opts.Username != "" {
		opts.SetUsername(t.opts.Username).SetPassword(t.opts.Password)
	}

	client := paho.NewClient(opts)
	if err := wait(ctx, client.Connect()); err != nil {
		return fmt.Errorf("connect to broker: %w", err)
	}

	for _, topic := range t.topics.Subscriptions() {
		if err := wait(ctx, client.Subscribe(topic, 1, t.receive)); err != nil {
			client.Disconnect(250)
			return fmt.Errorf("subscribe %s: %w", topic, err)
		}
	}

	t.mu.Lock()
	t.client = client
	t.inbound = nil
	t.mu.Unlock()
	return nil
}

func (t *RealTransport) receive(_ paho.Client, m paho.Message) {
	endpoint, ok := t.topics.Endpoint(m.Topic())
	if !ok {
		return
	}
	t.mu.Lock()
	if len(t.inbound) >= maxPendingInbound {
		t.mu.Unlock()
		t.logger.Warn("mqtt: inbound queue full, dropping message", "topic", m.Topic())
		return
	}
	t.inbound = append(t.inbound, Inbound{Endpoint: endpoint, Topic: m.Topic(), Payload: m.Payload()})
	t.mu.Unlock()
	t.signal(Readable)
}

func (t *RealTransport) signal(r Readiness) {
	select {
	case t.ready <- r:
	default:
	}
}

func (t *RealTransport) drainReady() {
	for {
		select {
		case <-t.ready:
		default:
			return
		}
	}
}

func (t *RealTransport) connectedClient() paho.Client {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client == nil || !t.client.IsConnectionOpen() {
		return nil
	}
	return t.client
}

// Disconnect closes the connection.
func (t *RealTransport) Disconnect() {
	t.mu.Lock()
	client := t.client
	t.client = nil
	t.inbound = nil
	t.mu.Unlock()
	if client != nil {
		client.Disconnect(250)
	}
}

// Send publishes msg on the endpoint's topic.
func (t *RealTransport) Send(ctx context.Context, msg Message) error {
	client := t.connectedClient()
	if client == nil {
		return ErrNotConnected
	}
	topic := t.topics.For(msg.Endpoint)
	if err := wait(ctx, client.Publish(topic, msg.QoS, false, msg.Payload)); err != nil {
		return fmt.Errorf("publish %s: %w", msg.Endpoint, err)
	}
	return nil
}

// Ping reports whether the connection is still open. It does not send
// anything: paho exchanges PINGREQ/PINGRESP on its own every keepalive
// interval and closes the connection when a PINGRESP is missed, which is
// what Ping then observes.
func (t *RealTransport) Ping(ctx context.Context) error {
	if t.connectedClient() == nil {
		return ErrNotConnected
	}
	return ctx.Err()
}

// Ready reports connection conditions.
func (t *RealTransport) Ready() <-chan Readiness { return t.ready }

// Input hands pending inbound messages to handle.
func (t *RealTransport) Input(handle func(Inbound)) error {
	t.mu.Lock()
	pending := t.inbound
	t.inbound = nil
	t.mu.Unlock()
	for _, in := range pending {
		handle(in)
	}
	return nil
}

// Keepalive returns the configured keepalive window.
func (t *RealTransport) Keepalive() time.Duration { return t.opts.Keepalive }

func wait(ctx context.Context, tok paho.Token) error {
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
