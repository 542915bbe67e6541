package mqtt

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/mochi-mqtt/server/v2/packets"
	"github.com/stretchr/testify/require"
)

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func startBroker(t *testing.T) (*mochi.Server, string) {
	t.Helper()
	addr := freeAddr(t)

	server := mochi.New(&mochi.Options{InlineClient: true})
	require.NoError(t, server.AddHook(new(auth.AllowHook), nil))
	require.NoError(t, server.AddListener(listeners.NewTCP(listeners.Config{
		Type:    "tcp",
		ID:      "t1",
		Address: addr,
	})))
	require.NoError(t, server.Serve())
	t.Cleanup(func() { server.Close() })

	return server, "tcp://" + addr
}

func TestRealTransportSend(t *testing.T) {
	server, broker := startBroker(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tr := NewRealTransport(RealOptions{
		Broker:    broker,
		ClientID:  "tracker-1",
		Keepalive: 30 * time.Second,
	})
	require.Equal(t, 30*time.Second, tr.Keepalive())
	require.ErrorIs(t, tr.Send(ctx, Message{Endpoint: EndpointBatch}), ErrNotConnected)

	got := make(chan []byte, 1)
	require.NoError(t, server.Subscribe(tr.Topics().Batch, 1,
		func(_ *mochi.Client, _ packets.Subscription, pk packets.Packet) {
			got <- pk.Payload
		}))

	require.NoError(t, tr.Connect(ctx))
	t.Cleanup(tr.Disconnect)
	require.NoError(t, tr.Ping(ctx))

	require.NoError(t, tr.Send(ctx, Message{Endpoint: EndpointBatch, QoS: 1, Payload: []byte("hello")}))
	select {
	case p := <-got:
		require.Equal(t, "hello", string(p))
	case <-ctx.Done():
		t.Fatal("batch message not received by broker")
	}

	tr.Disconnect()
	require.ErrorIs(t, tr.Ping(ctx), ErrNotConnected)
}

func TestRealTransportPingSeesBrokerDrop(t *testing.T) {
	server, broker := startBroker(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tr := NewRealTransport(RealOptions{Broker: broker, ClientID: "tracker-4"})
	require.NoError(t, tr.Connect(ctx))
	t.Cleanup(tr.Disconnect)
	require.NoError(t, tr.Ping(ctx))

	cl, ok := server.Clients.Get("tracker-4")
	require.True(t, ok)
	cl.Stop(errors.New("kicked"))

	require.Eventually(t, func() bool {
		return errors.Is(tr.Ping(ctx), ErrNotConnected)
	}, 5*time.Second, 10*time.Millisecond)
}

func TestRealTransportReceivesConfig(t *testing.T) {
	server, broker := startBroker(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tr := NewRealTransport(RealOptions{Broker: broker, ClientID: "tracker-2"})
	require.NoError(t, tr.Connect(ctx))
	t.Cleanup(tr.Disconnect)

	require.NoError(t, server.Publish(tr.Topics().ConfigDelta, []byte(`{"act":false}`), false, 1))

	select {
	case r := <-tr.Ready():
		require.Equal(t, Readable, r)
	case <-ctx.Done():
		t.Fatal("no readiness signal")
	}

	var got []Inbound
	require.NoError(t, tr.Input(func(in Inbound) { got = append(got, in) }))
	require.Len(t, got, 1)
	require.Equal(t, EndpointConfig, got[0].Endpoint)
	require.Equal(t, `{"act":false}`, string(got[0].Payload))
}

func TestRealTransportConnectFailure(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tr := NewRealTransport(RealOptions{
		Broker:         "tcp://" + freeAddr(t),
		ClientID:       "tracker-3",
		ConnectTimeout: time.Second,
	})
	require.Error(t, tr.Connect(ctx))
	require.ErrorIs(t, tr.Ping(ctx), ErrNotConnected)
}
