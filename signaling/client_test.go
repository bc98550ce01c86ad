package signaling

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/opd-ai/peercall/interfaces"
	simtest "github.com/opd-ai/peercall/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const waitFor = time.Second

// countingDialer records heartbeat writes made through its channels.
type countingDialer struct {
	interfaces.ISignalingDialer
	heartbeats atomic.Int32
}

func (d *countingDialer) Dial(ctx context.Context, peerID, token string) (interfaces.ISignalingChannel, error) {
	ch, err := d.ISignalingDialer.Dial(ctx, peerID, token)
	if err != nil {
		return nil, err
	}
	return &countingChannel{ISignalingChannel: ch, d: d}, nil
}

type countingChannel struct {
	interfaces.ISignalingChannel
	d *countingDialer
}

func (c *countingChannel) WriteFrame(ctx context.Context, frame []byte) error {
	if msg, err := Decode(frame); err == nil && msg.Type == TypeHeartbeat {
		c.d.heartbeats.Add(1)
	}
	return c.ISignalingChannel.WriteFrame(ctx, frame)
}

func newTestClient(t *testing.T, dialer interfaces.ISignalingDialer, clk clock.Clock) *Client {
	t.Helper()
	c, err := NewClient(dialer, Config{
		HeartbeatInterval: 5 * time.Second,
		ReconnectDelay:    3 * time.Second,
		DialTimeout:       time.Second,
		Clock:             clk,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestNewClientNilDialer(t *testing.T) {
	_, err := NewClient(nil, DefaultConfig())
	assert.Error(t, err)
}

func TestClientOpen(t *testing.T) {
	broker := simtest.NewSimulatedBroker()
	c := newTestClient(t, broker.Dialer(), clock.NewMock())

	var opened atomic.Value
	c.OnOpen(func(id string) { opened.Store(id) })

	require.NoError(t, c.Open(context.Background(), "alice_demo_com"))
	assert.True(t, c.IsOpen())
	assert.Equal(t, "alice_demo_com", c.ID())
	assert.Equal(t, "alice_demo_com", opened.Load())
	assert.True(t, broker.IsOnline("alice_demo_com"))
}

func TestClientOpenIDTaken(t *testing.T) {
	broker := simtest.NewSimulatedBroker()
	first := newTestClient(t, broker.Dialer(), clock.NewMock())
	require.NoError(t, first.Open(context.Background(), "alice"))

	second := newTestClient(t, broker.Dialer(), clock.NewMock())
	err := second.Open(context.Background(), "alice")
	assert.ErrorIs(t, err, ErrIDTaken)
	assert.False(t, second.IsOpen())
}

func TestClientOpenDialFailure(t *testing.T) {
	broker := simtest.NewSimulatedBroker()
	broker.RefuseDials(true)
	c := newTestClient(t, broker.Dialer(), clock.NewMock())

	err := c.Open(context.Background(), "alice")
	assert.ErrorIs(t, err, ErrNetwork)
}

func TestClientReopenReplacesSession(t *testing.T) {
	broker := simtest.NewSimulatedBroker()
	c := newTestClient(t, broker.Dialer(), clock.NewMock())

	require.NoError(t, c.Open(context.Background(), "alice"))
	require.NoError(t, c.Open(context.Background(), "alice"))
	assert.True(t, c.IsOpen())
	assert.Equal(t, 2, broker.DialCount())
}

func TestClientRelaysMessages(t *testing.T) {
	broker := simtest.NewSimulatedBroker()
	alice := newTestClient(t, broker.Dialer(), clock.NewMock())
	bob := newTestClient(t, broker.Dialer(), clock.NewMock())

	received := make(chan Message, 1)
	bob.OnMessage(func(m Message) { received <- m })

	require.NoError(t, alice.Open(context.Background(), "alice"))
	require.NoError(t, bob.Open(context.Background(), "bob"))

	msg, err := NewMessage(TypeOffer, "bob", OfferPayload{Type: ConnectionTypeMedia, ConnectionID: "mc_1"})
	require.NoError(t, err)
	require.NoError(t, alice.Send(context.Background(), msg))

	select {
	case m := <-received:
		assert.Equal(t, TypeOffer, m.Type)
		assert.Equal(t, "alice", m.Src)
	case <-time.After(waitFor):
		t.Fatal("offer not delivered")
	}
}

func TestClientOfferToOfflinePeerExpires(t *testing.T) {
	broker := simtest.NewSimulatedBroker()
	alice := newTestClient(t, broker.Dialer(), clock.NewMock())

	received := make(chan Message, 1)
	alice.OnMessage(func(m Message) { received <- m })
	require.NoError(t, alice.Open(context.Background(), "alice"))

	msg, err := NewMessage(TypeOffer, "nobody", OfferPayload{ConnectionID: "mc_1"})
	require.NoError(t, err)
	require.NoError(t, alice.Send(context.Background(), msg))

	select {
	case m := <-received:
		assert.Equal(t, TypeExpire, m.Type)
		assert.Equal(t, "nobody", m.Src)
	case <-time.After(waitFor):
		t.Fatal("EXPIRE not delivered")
	}
}

func TestClientSendBeforeOpen(t *testing.T) {
	c := newTestClient(t, simtest.NewSimulatedBroker().Dialer(), clock.NewMock())
	err := c.Send(context.Background(), Message{Type: TypeLeave, Dst: "bob"})
	assert.ErrorIs(t, err, ErrNotOpen)
}

func TestClientHeartbeat(t *testing.T) {
	mock := clock.NewMock()
	dialer := &countingDialer{ISignalingDialer: simtest.NewSimulatedBroker().Dialer()}
	c := newTestClient(t, dialer, mock)
	require.NoError(t, c.Open(context.Background(), "alice"))

	// let the heartbeat goroutine register its ticker
	time.Sleep(10 * time.Millisecond)
	mock.Add(5 * time.Second)
	assert.Eventually(t, func() bool { return dialer.heartbeats.Load() >= 1 }, waitFor, 5*time.Millisecond)
}

func TestClientReconnectsOnceAfterDrop(t *testing.T) {
	mock := clock.NewMock()
	broker := simtest.NewSimulatedBroker()
	c := newTestClient(t, broker.Dialer(), mock)

	var opens, drops atomic.Int32
	c.OnOpen(func(string) { opens.Add(1) })
	c.OnDisconnected(func() { drops.Add(1) })

	require.NoError(t, c.Open(context.Background(), "alice"))
	require.True(t, broker.Drop("alice"))

	assert.Eventually(t, func() bool { return drops.Load() == 1 }, waitFor, 5*time.Millisecond)
	assert.False(t, c.IsOpen())

	mock.Add(3 * time.Second)
	assert.Eventually(t, func() bool { return c.IsOpen() }, waitFor, 5*time.Millisecond)
	assert.Equal(t, int32(2), opens.Load())
	assert.Equal(t, 2, broker.DialCount())
}

func TestClientReconnectFailureIsReportedOnce(t *testing.T) {
	mock := clock.NewMock()
	broker := simtest.NewSimulatedBroker()
	c := newTestClient(t, broker.Dialer(), mock)

	var mu sync.Mutex
	var errs []error
	c.OnError(func(err error) {
		mu.Lock()
		defer mu.Unlock()
		errs = append(errs, err)
	})
	var drops atomic.Int32
	c.OnDisconnected(func() { drops.Add(1) })

	require.NoError(t, c.Open(context.Background(), "alice"))
	broker.RefuseDials(true)
	broker.Drop("alice")
	assert.Eventually(t, func() bool { return drops.Load() == 1 }, waitFor, 5*time.Millisecond)

	mock.Add(3 * time.Second)
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(errs) == 1
	}, waitFor, 5*time.Millisecond)

	mock.Add(time.Minute)
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], ErrReconnectFailed)
	assert.ErrorIs(t, errs[0], ErrNetwork)
	assert.Equal(t, 2, broker.DialCount())
}

func TestClientCloseCancelsPendingReconnect(t *testing.T) {
	mock := clock.NewMock()
	broker := simtest.NewSimulatedBroker()
	c := newTestClient(t, broker.Dialer(), mock)

	var drops atomic.Int32
	c.OnDisconnected(func() { drops.Add(1) })
	require.NoError(t, c.Open(context.Background(), "alice"))
	broker.Drop("alice")
	assert.Eventually(t, func() bool { return drops.Load() == 1 }, waitFor, 5*time.Millisecond)

	require.NoError(t, c.Close())
	mock.Add(time.Minute)
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, 1, broker.DialCount())
	assert.False(t, c.IsOpen())
}

func TestClientCloseIsIdempotent(t *testing.T) {
	broker := simtest.NewSimulatedBroker()
	c := newTestClient(t, broker.Dialer(), clock.NewMock())
	require.NoError(t, c.Open(context.Background(), "alice"))

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.False(t, broker.IsOnline("alice"))

	err := c.Open(context.Background(), "alice")
	assert.True(t, errors.Is(err, ErrClientClosed))
}
