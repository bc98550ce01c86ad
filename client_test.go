package peercall

import (
	"context"
	"testing"
	"time"

	"github.com/opd-ai/peercall/av"
	"github.com/opd-ai/peercall/factory"
	"github.com/opd-ai/peercall/media"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func simulationOptions() *Options {
	opts := NewOptions()
	opts.UseSimulation = true
	opts.ICEServers = nil
	opts.FallbackDomain = "example.com"
	return opts
}

func newSimulatedPair(t *testing.T) (*Client, *Client, *factory.SignalingFactory) {
	t.Helper()
	opts := simulationOptions()
	f, err := factory.NewSignalingFactory(opts.SignalingConfig())
	require.NoError(t, err)

	alice, err := New(opts, WithSignalingFactory(f))
	require.NoError(t, err)
	t.Cleanup(func() { _ = alice.Close() })

	bob, err := New(opts, WithSignalingFactory(f))
	require.NoError(t, err)
	t.Cleanup(func() { _ = bob.Close() })

	ctx := context.Background()
	require.NoError(t, alice.Login(ctx, "alice@example.com"))
	require.NoError(t, bob.Login(ctx, "bob@example.com"))
	return alice, bob, f
}

func waitFor(t *testing.T, c *Client, cond func(av.Snapshot) bool) av.Snapshot {
	t.Helper()
	require.Eventually(t, func() bool { return cond(c.Snapshot()) }, 5*time.Second, 10*time.Millisecond)
	return c.Snapshot()
}

func TestNewRejectsInvalidOptions(t *testing.T) {
	opts := NewOptions()
	opts.CallTimeout = 0
	_, err := New(opts)
	assert.ErrorIs(t, err, ErrInvalidOptions)
}

func TestLoginRegistersWithBroker(t *testing.T) {
	alice, _, f := newSimulatedPair(t)

	snap := alice.Snapshot()
	assert.True(t, snap.Ready)
	assert.Equal(t, "alice_example_com", snap.LocalPeerID)
	assert.True(t, f.Broker().IsOnline("alice_example_com"))
	assert.True(t, f.Broker().IsOnline("bob_example_com"))
	assert.Same(t, f, alice.Factory())
}

func TestCallDeclinedAcrossBroker(t *testing.T) {
	alice, bob, _ := newSimulatedPair(t)

	require.NoError(t, alice.Call(context.Background(), "bob", media.KindAudio))

	incoming := waitFor(t, bob, func(s av.Snapshot) bool { return s.Phase() == av.PhaseIncoming })
	assert.Equal(t, "alice_example_com", incoming.RemotePeerID)
	assert.Equal(t, media.KindAudio, incoming.Kind)

	require.NoError(t, bob.Reject())

	snap := waitFor(t, alice, func(s av.Snapshot) bool { return s.Notice != nil })
	assert.Equal(t, av.StateRejected, snap.Notice.State)
	assert.True(t, snap.Notice.Retryable)
	assert.Equal(t, av.StateIdle, snap.State)
}

func TestCallToUnregisteredPeerIsOffline(t *testing.T) {
	alice, _, _ := newSimulatedPair(t)

	require.NoError(t, alice.Call(context.Background(), "carol@example.com", media.KindAudio))

	snap := waitFor(t, alice, func(s av.Snapshot) bool { return s.Notice != nil })
	assert.Equal(t, av.StateOffline, snap.Notice.State)
	assert.Equal(t, av.ClassPeerUnavailable, snap.Notice.Class)
}

func TestCallerHangUpClearsIncomingCall(t *testing.T) {
	alice, bob, _ := newSimulatedPair(t)

	require.NoError(t, alice.Call(context.Background(), "bob@example.com", media.KindVideo))
	waitFor(t, bob, func(s av.Snapshot) bool { return s.Phase() == av.PhaseIncoming })

	require.NoError(t, alice.HangUp())

	snap := waitFor(t, bob, func(s av.Snapshot) bool { return s.State == av.StateIdle })
	require.NotNil(t, snap.Notice)
	assert.Equal(t, av.StateEnded, snap.Notice.State)
	assert.Eventually(t, func() bool { return len(bob.History().Records()) == 1 }, time.Second, 10*time.Millisecond)
}

func TestAcceptedCallConnectsBothSides(t *testing.T) {
	alice, bob, _ := newSimulatedPair(t)
	ctx := context.Background()

	require.NoError(t, alice.Call(ctx, "bob@example.com", media.KindVideo))
	waitFor(t, bob, func(s av.Snapshot) bool { return s.Phase() == av.PhaseIncoming })
	require.NoError(t, bob.Accept(ctx))

	connected := func(c *Client) av.Snapshot {
		require.Eventually(t, func() bool { return c.Snapshot().State == av.StateConnected }, 15*time.Second, 20*time.Millisecond)
		return c.Snapshot()
	}
	callee := connected(bob)
	caller := connected(alice)
	assert.Equal(t, media.KindVideo, callee.Kind)
	assert.Equal(t, media.KindVideo, caller.Kind)
	assert.Equal(t, "bob_example_com", caller.RemotePeerID)

	require.NoError(t, alice.HangUp())
	snap := waitFor(t, bob, func(s av.Snapshot) bool { return s.State == av.StateIdle })
	require.NotNil(t, snap.Notice)
	assert.Equal(t, av.StateEnded, snap.Notice.State)
	assert.False(t, snap.Notice.Retryable)
}

func TestCloseIsIdempotent(t *testing.T) {
	opts := simulationOptions()
	c, err := New(opts)
	require.NoError(t, err)

	assert.NoError(t, c.Close())
	assert.NoError(t, c.Close())
}
