package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sweeney/cat-tracker/internal/clock"
	"github.com/sweeney/cat-tracker/internal/mode"
	"github.com/sweeney/cat-tracker/internal/mqtt"
)

// ConfigCodec encodes configuration reports and decodes updates.
type ConfigCodec interface {
	EncodeConfig(cfg mode.DeviceConfig) ([]byte, error)
	DecodeConfig(payload []byte) (mode.Delta, error)
}

// Options configures a Manager.
type Options struct {
	Transport mqtt.Transport
	Codec     ConfigCodec
	Config    *mode.Cell
	Clock     clock.Clock
	Policy    Policy
	Logger    *slog.Logger

	// Fatal is called once when the session gives up.
	Fatal func(error)

	// OnState, if set, is called on every state change from the session
	// goroutine.
	OnState func(State)
}

type request struct {
	ctx   context.Context
	msg   mqtt.Message
	reply chan error
}

// Manager owns the connection state machine.
type Manager struct {
	transport mqtt.Transport
	codec     ConfigCodec
	cfg       *mode.Cell
	clock     clock.Clock
	policy    Policy
	logger    *slog.Logger
	fatal     func(error)
	onState   func(State)

	sendC      chan request
	networkC   chan struct{}
	connectedC chan struct{}
	done       chan struct{}

	state     atomic.Int32
	retries   int
	dropped   bool
	reported  *mode.DeviceConfig
	fatalOnce sync.Once
}

// New creates a Manager in the Disconnected state.
func New(opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real()
	}
	fatal := opts.Fatal
	if fatal == nil {
		fatal = func(error) {}
	}
	return &Manager{
		transport:  opts.Transport,
		codec:      opts.Codec,
		cfg:        opts.Config,
		clock:      clk,
		policy:     opts.Policy,
		logger:     logger,
		fatal:      fatal,
		onState:    opts.OnState,
		sendC:      make(chan request),
		networkC:   make(chan struct{}, 1),
		connectedC: make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
}

// State returns the current connection state.
func (m *Manager) State() State { return State(m.state.Load()) }

// Retries returns the number of consecutive connect failures.
// Only meaningful from the session goroutine or after Run returns.
func (m *Manager) Retries() int { return m.retries }

// NetworkReady signals that the network is registered. Signals do not
// accumulate beyond one.
func (m *Manager) NetworkReady() {
	select {
	case m.networkC <- struct{}{}:
	default:
	}
}

// NetworkLost withdraws a pending NetworkReady signal.
func (m *Manager) NetworkLost() {
	select {
	case <-m.networkC:
	default:
	}
}

// Connected receives a value after every successful connect, once the
// configuration exchange has been sent.
func (m *Manager) Connected() <-chan struct{} { return m.connectedC }

// Send hands msg to the session goroutine and waits for the transport's
// answer. Returns ErrNotConnected unless the session is connected.
func (m *Manager) Send(ctx context.Context, msg mqtt.Message) error {
	if m.State() != Connected {
		return ErrNotConnected
	}
	req := request{ctx: ctx, msg: msg, reply: make(chan error, 1)}
	select {
	case m.sendC <- req:
	case <-m.done:
		return ErrNotConnected
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run drives the state machine until ctx is cancelled or retries are
// exhausted.
func (m *Manager) Run(ctx context.Context) error {
	defer close(m.done)
	defer m.transport.Disconnect()

	for {
		var (
			ev  Event
			err error
		)
		switch m.State() {
		case Disconnected:
			ev, err = m.waitNetwork(ctx)
		case Connecting:
			ev, err = m.connect(ctx)
		case Backoff:
			ev, err = m.backoff(ctx)
		case Connected:
			ev, err = m.serve(ctx)
		}
		if err != nil {
			return err
		}

		next, ok := Next(m.State(), ev)
		if !ok {
			m.logger.Error("session: invalid transition", "state", m.State(), "event", ev)
			continue
		}
		m.logger.Debug("session: transition", "from", m.State(), "event", ev, "to", next)
		m.setState(next)
	}
}

func (m *Manager) setState(s State) {
	m.state.Store(int32(s))
	if m.onState != nil {
		m.onState(s)
	}
}

// reject answers sends while there is no connection.
func (m *Manager) reject(req request) {
	req.reply <- ErrNotConnected
}

func (m *Manager) waitNetwork(ctx context.Context) (Event, error) {
	var expired <-chan time.Time
	if m.dropped {
		delay := m.policy.Delay(m.retries)
		m.logger.Info("session: reconnecting after delay", "delay", delay)
		t := m.clock.NewTimer(delay)
		defer t.Stop()
		expired = t.C()
	}

	for {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case req := <-m.sendC:
			m.reject(req)
		case <-m.networkC:
			return NetworkReady, nil
		case <-expired:
			return BackoffExpired, nil
		}
	}
}

func (m *Manager) connect(ctx context.Context) (Event, error) {
	err := m.transport.Connect(ctx)
	if err == nil {
		m.logger.Info("session: connected")
		return ConnectOK, nil
	}
	if ctx.Err() != nil {
		return 0, ctx.Err()
	}
	m.logger.Warn("session: connect failed", "attempt", m.retries+1, "err", err)
	if err := m.countFailure(); err != nil {
		return 0, err
	}
	return ConnectFailed, nil
}

// countFailure records a failed attempt. The counter is only cleared once a
// session has exchanged its configuration.
func (m *Manager) countFailure() error {
	m.retries++
	if m.policy.MaxRetries > 0 && m.retries >= m.policy.MaxRetries {
		fatalErr := fmt.Errorf("connect to cloud after %d attempts: %w", m.retries, ErrRetriesExhausted)
		m.fatalOnce.Do(func() { m.fatal(fatalErr) })
		return fatalErr
	}
	return nil
}

func (m *Manager) backoff(ctx context.Context) (Event, error) {
	delay := m.policy.Delay(m.retries - 1)
	m.logger.Info("session: backing off", "delay", delay, "retries", m.retries)
	t := m.clock.NewTimer(delay)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case req := <-m.sendC:
			m.reject(req)
		case <-t.C():
			return BackoffExpired, nil
		}
	}
}

func (m *Manager) serve(ctx context.Context) (Event, error) {
	m.dropped = true

	if err := m.requestConfig(ctx); err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		m.logger.Warn("session: config request failed", "attempt", m.retries+1, "err", err)
		m.transport.Disconnect()
		if err := m.countFailure(); err != nil {
			return 0, err
		}
		return TransportClosed, nil
	}
	m.retries = 0
	select {
	case m.connectedC <- struct{}{}:
	default:
	}

	keepalive := m.transport.Keepalive()
	t := m.clock.NewTimer(keepalive)
	resetKeepalive := func() {
		t.Stop()
		t = m.clock.NewTimer(keepalive)
	}
	defer func() { t.Stop() }()

	for {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()

		case req := <-m.sendC:
			err := m.transport.Send(req.ctx, req.msg)
			req.reply <- err
			if err == nil {
				resetKeepalive()
				continue
			}
			if req.ctx.Err() != nil {
				continue
			}
			m.logger.Warn("session: send failed", "endpoint", req.msg.Endpoint, "err", err)
			m.transport.Disconnect()
			return TransportClosed, nil

		case r := <-m.transport.Ready():
			if r != mqtt.Readable {
				m.logger.Warn("session: connection closed", "reason", r)
				m.transport.Disconnect()
				return TransportClosed, nil
			}
			var reportErr error
			err := m.transport.Input(func(in mqtt.Inbound) {
				if e := m.handleInbound(ctx, in); e != nil && reportErr == nil {
					reportErr = e
				}
			})
			if err = errors.Join(err, reportErr); err != nil {
				m.logger.Warn("session: input failed", "err", err)
				m.transport.Disconnect()
				return ProtocolError, nil
			}
			resetKeepalive()

		case <-t.C():
			if err := m.transport.Ping(ctx); err != nil {
				if ctx.Err() != nil {
					return 0, ctx.Err()
				}
				m.logger.Warn("session: keepalive ping failed", "err", err)
				m.transport.Disconnect()
				return TransportClosed, nil
			}
			resetKeepalive()
		}
	}
}

// requestConfig asks the cloud for the desired configuration and reports
// the current one.
func (m *Manager) requestConfig(ctx context.Context) error {
	if err := m.transport.Send(ctx, mqtt.Message{Endpoint: mqtt.EndpointState, QoS: 1}); err != nil {
		return fmt.Errorf("send config request: %w", err)
	}
	return m.reportConfig(ctx)
}

// reportConfig sends the current configuration unless it equals the last
// one reported.
func (m *Manager) reportConfig(ctx context.Context) error {
	cfg := m.cfg.Load()
	if m.reported != nil && *m.reported == cfg {
		m.logger.Debug("session: no change in device configuration")
		return nil
	}
	payload, err := m.codec.EncodeConfig(cfg)
	if err != nil {
		return fmt.Errorf("encode config report: %w", err)
	}
	if err := m.transport.Send(ctx, mqtt.Message{Endpoint: mqtt.EndpointData, QoS: 1, Payload: payload}); err != nil {
		return fmt.Errorf("send config report: %w", err)
	}
	m.reported = &cfg
	return nil
}

// handleInbound applies a configuration update. Bad updates are logged and
// ignored; only a failed report is returned.
func (m *Manager) handleInbound(ctx context.Context, in mqtt.Inbound) error {
	if in.Endpoint != mqtt.EndpointConfig {
		m.logger.Debug("session: ignoring inbound message", "topic", in.Topic)
		return nil
	}
	delta, err := m.codec.DecodeConfig(in.Payload)
	if err != nil {
		m.logger.Warn("session: ignoring config update", "err", err)
		return nil
	}
	cfg, err := m.cfg.Apply(delta)
	if err != nil {
		m.logger.Warn("session: rejecting config update", "err", err)
		return nil
	}
	m.logger.Info("session: config updated", "mode", cfg.ModeString(),
		"gps_timeout", cfg.GPSTimeout, "active_wait", cfg.ActiveWait,
		"passive_wait", cfg.PassiveWait, "movement_timeout", cfg.MovementTimeout,
		"accel_threshold", cfg.AccelThreshold)
	return m.reportConfig(ctx)
}
