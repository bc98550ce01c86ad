package testing

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/opd-ai/peercall/interfaces"
)

func dial(t *testing.T, b *SimulatedBroker, id string) interfaces.ISignalingChannel {
	t.Helper()
	ch, err := b.Dialer().Dial(context.Background(), id, "token")
	if err != nil {
		t.Fatalf("Dial(%s) failed: %v", id, err)
	}
	return ch
}

func nextType(t *testing.T, ch interfaces.ISignalingChannel) envelope {
	t.Helper()
	select {
	case f := <-ch.Frames():
		var env envelope
		if err := json.Unmarshal(f, &env); err != nil {
			t.Fatalf("bad frame %q: %v", f, err)
		}
		return env
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for frame")
		return envelope{}
	}
}

func TestSimulatedDialerIsSimulation(t *testing.T) {
	if !NewSimulatedBroker().Dialer().IsSimulation() {
		t.Error("IsSimulation should return true")
	}
}

func TestBrokerOpenAndIDTaken(t *testing.T) {
	b := NewSimulatedBroker()

	first := dial(t, b, "alice")
	if env := nextType(t, first); env.Type != "OPEN" {
		t.Fatalf("first dial got %s, want OPEN", env.Type)
	}

	second := dial(t, b, "alice")
	if env := nextType(t, second); env.Type != "ID-TAKEN" {
		t.Fatalf("second dial got %s, want ID-TAKEN", env.Type)
	}
	if err := second.WriteFrame(context.Background(), []byte(`{"type":"OFFER","dst":"bob"}`)); err == nil {
		t.Error("rejected registration should not be able to relay")
	}
	if b.DialCount() != 2 {
		t.Errorf("DialCount = %d, want 2", b.DialCount())
	}
}

func TestBrokerRelaysWithSource(t *testing.T) {
	b := NewSimulatedBroker()
	alice := dial(t, b, "alice")
	bob := dial(t, b, "bob")
	nextType(t, alice)
	nextType(t, bob)

	err := alice.WriteFrame(context.Background(), []byte(`{"type":"OFFER","src":"spoofed","dst":"bob","payload":{"sdp":"x"}}`))
	if err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}

	env := nextType(t, bob)
	if env.Type != "OFFER" || env.Src != "alice" {
		t.Errorf("bob got %s from %q, want OFFER from alice", env.Type, env.Src)
	}
	if string(env.Payload) != `{"sdp":"x"}` {
		t.Errorf("payload = %s", env.Payload)
	}
}

func TestBrokerExpiresOfferToOfflinePeer(t *testing.T) {
	b := NewSimulatedBroker()
	alice := dial(t, b, "alice")
	nextType(t, alice)

	if err := alice.WriteFrame(context.Background(), []byte(`{"type":"OFFER","dst":"ghost"}`)); err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}
	env := nextType(t, alice)
	if env.Type != "EXPIRE" || env.Src != "ghost" {
		t.Errorf("got %s from %q, want EXPIRE from ghost", env.Type, env.Src)
	}

	log := b.GetRelayLog()
	if len(log) != 1 || log[0].Delivered {
		t.Errorf("relay log = %+v, want one undelivered record", log)
	}
}

func TestBrokerHeartbeatNotRelayed(t *testing.T) {
	b := NewSimulatedBroker()
	alice := dial(t, b, "alice")
	nextType(t, alice)

	if err := alice.WriteFrame(context.Background(), []byte(`{"type":"HEARTBEAT"}`)); err != nil {
		t.Fatalf("heartbeat failed: %v", err)
	}
	if len(b.GetRelayLog()) != 0 {
		t.Error("heartbeat should not be logged as a relay")
	}
}

func TestBrokerDropAndPresence(t *testing.T) {
	b := NewSimulatedBroker()
	alice := dial(t, b, "alice")
	nextType(t, alice)

	if !b.IsOnline("alice") {
		t.Fatal("alice should be online")
	}
	if !b.Drop("alice") {
		t.Fatal("Drop should report an existing registration")
	}

	select {
	case <-alice.Done():
	case <-time.After(time.Second):
		t.Fatal("Done not closed after Drop")
	}
	if alice.Err() != ErrSimulatedDrop {
		t.Errorf("Err = %v, want ErrSimulatedDrop", alice.Err())
	}
	if b.IsOnline("alice") {
		t.Error("alice should be offline after Drop")
	}
	if b.Drop("alice") {
		t.Error("second Drop should report nothing to drop")
	}
}

func TestBrokerCloseFreesID(t *testing.T) {
	b := NewSimulatedBroker()
	alice := dial(t, b, "alice")
	nextType(t, alice)
	_ = alice.Close()

	if alice.Err() != nil {
		t.Errorf("local close Err = %v, want nil", alice.Err())
	}
	again := dial(t, b, "alice")
	if env := nextType(t, again); env.Type != "OPEN" {
		t.Errorf("re-dial got %s, want OPEN", env.Type)
	}
}

func TestBrokerRefuseDials(t *testing.T) {
	b := NewSimulatedBroker()
	b.RefuseDials(true)
	if _, err := b.Dialer().Dial(context.Background(), "alice", "t"); err != ErrDialRefused {
		t.Errorf("Dial error = %v, want ErrDialRefused", err)
	}
	b.RefuseDials(false)
	dial(t, b, "alice")
}

func TestBrokerStats(t *testing.T) {
	b := NewSimulatedBroker()
	alice := dial(t, b, "alice")
	bob := dial(t, b, "bob")
	nextType(t, alice)
	nextType(t, bob)
	_ = alice.WriteFrame(context.Background(), []byte(`{"type":"LEAVE","dst":"bob"}`))
	_ = alice.WriteFrame(context.Background(), []byte(`{"type":"LEAVE","dst":"ghost"}`))

	stats := b.GetStats()
	if stats["registered_peers"] != 2 || stats["total_relays"] != 2 || stats["delivered"] != 1 {
		t.Errorf("unexpected stats: %v", stats)
	}
}
