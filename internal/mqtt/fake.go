package mqtt

import (
	"context"
	"sync"
	"time"
)

// FakeTransport records sent messages for test assertions. Safe for
// concurrent use.
type FakeTransport struct {
	mu sync.Mutex

	connected   bool
	connects    int
	disconnects int
	pings       int
	sent        []Message
	inbound     []Inbound

	// connectErrs are returned by successive Connect calls; nil entries and
	// an exhausted list mean success.
	connectErrs []error
	sendErr     error
	pingErr     error
	keepalive   time.Duration

	ready chan Readiness
	sentC chan Message
	connC chan struct{}
}

// NewFakeTransport creates a FakeTransport with the given keepalive window.
func NewFakeTransport(keepalive time.Duration) *FakeTransport {
	return &FakeTransport{
		keepalive: keepalive,
		ready:     make(chan Readiness, 16),
		sentC:     make(chan Message, 256),
		connC:     make(chan struct{}, 64),
	}
}

// Connect succeeds unless an error was queued with FailConnects.
func (f *FakeTransport) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	select {
	case f.connC <- struct{}{}:
	default:
	}
	if len(f.connectErrs) > 0 {
		err := f.connectErrs[0]
		f.connectErrs = f.connectErrs[1:]
		if err != nil {
			return err
		}
	}
	f.connected = true
	return nil
}

// Disconnect marks the transport as disconnected.
func (f *FakeTransport) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connected {
		f.disconnects++
	}
	f.connected = false
	f.inbound = nil
}

// Send records msg.
func (f *FakeTransport) Send(ctx context.Context, msg Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return ErrNotConnected
	}
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, msg)
	select {
	case f.sentC <- msg:
	default:
	}
	return nil
}

// Ping counts pings and returns the configured ping error.
func (f *FakeTransport) Ping(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pings++
	if !f.connected {
		return ErrNotConnected
	}
	return f.pingErr
}

// Ready reports conditions signalled with Deliver, Hangup and Invalidate.
func (f *FakeTransport) Ready() <-chan Readiness { return f.ready }

// Input hands queued inbound messages to handle.
func (f *FakeTransport) Input(handle func(Inbound)) error {
	f.mu.Lock()
	pending := f.inbound
	f.inbound = nil
	f.mu.Unlock()
	for _, in := range pending {
		handle(in)
	}
	return nil
}

// Keepalive returns the configured window.
func (f *FakeTransport) Keepalive() time.Duration { return f.keepalive }

// FailConnects queues errors for the next Connect calls.
func (f *FakeTransport) FailConnects(errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectErrs = append(f.connectErrs, errs...)
}

// SetSendError makes Send fail with err (nil restores success).
func (f *FakeTransport) SetSendError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendErr = err
}

// SetPingError makes Ping fail with err (nil restores success).
func (f *FakeTransport) SetPingError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pingErr = err
}

// Deliver queues an inbound message and signals Readable.
func (f *FakeTransport) Deliver(in Inbound) {
	f.mu.Lock()
	f.inbound = append(f.inbound, in)
	f.mu.Unlock()
	f.ready <- Readable
}

// Hangup simulates the peer closing the connection.
func (f *FakeTransport) Hangup() {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
	f.ready <- Hangup
}

// Invalidate simulates a socket error.
func (f *FakeTransport) Invalidate() {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
	f.ready <- Invalid
}

// Sent returns a copy of every message sent so far.
func (f *FakeTransport) Sent() []Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Message, len(f.sent))
	copy(out, f.sent)
	return out
}

// SentTo returns the messages sent to endpoint e.
func (f *FakeTransport) SentTo(e Endpoint) []Message {
	var out []Message
	for _, m := range f.Sent() {
		if m.Endpoint == e {
			out = append(out, m)
		}
	}
	return out
}

// SentC receives every sent message.
func (f *FakeTransport) SentC() <-chan Message { return f.sentC }

// ConnectC receives a value on every Connect call.
func (f *FakeTransport) ConnectC() <-chan struct{} { return f.connC }

// Connects returns the number of Connect calls.
func (f *FakeTransport) Connects() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects
}

// Disconnects returns the number of disconnects from a connected state.
func (f *FakeTransport) Disconnects() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disconnects
}

// Pings returns the number of Ping calls.
func (f *FakeTransport) Pings() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pings
}

// IsConnected reports whether the fake is "connected".
func (f *FakeTransport) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

// Reset clears recorded messages and counters.
func (f *FakeTransport) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = nil
	f.connects = 0
	f.disconnects = 0
	f.pings = 0
	f.sendErr = nil
	f.pingErr = nil
	f.connectErrs = nil
}
