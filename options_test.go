package peercall

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/opd-ai/peercall/av"
	"github.com/opd-ai/peercall/factory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewOptionsIsValid(t *testing.T) {
	opts := NewOptions()
	require.NoError(t, opts.Validate())
	assert.Equal(t, av.DefaultCallTimeout, opts.CallTimeout)
	assert.Equal(t, "demo.com", opts.FallbackDomain)
	assert.False(t, opts.UseSimulation)
}

func TestLoadOptionsFromEnvironment(t *testing.T) {
	t.Setenv("PEERCALL_CALL_TIMEOUT", "45s")
	t.Setenv("PEERCALL_REINIT_ATTEMPTS", "5")
	t.Setenv("PEERCALL_ICE_SERVERS", "stun:stun.example.com:3478,turn:turn.example.com:3478")
	t.Setenv("PEERCALL_TURN_USERNAME", "user")
	t.Setenv("PEERCALL_TURN_CREDENTIAL", "secret")
	t.Setenv("PEERCALL_USE_SIMULATION", "true")

	opts, err := LoadOptions("")
	require.NoError(t, err)

	assert.Equal(t, 45*time.Second, opts.CallTimeout)
	assert.Equal(t, av.DefaultRingTimeout, opts.RingTimeout, "unset variables keep defaults")
	assert.Equal(t, 5, opts.ReinitAttempts)
	assert.True(t, opts.UseSimulation)

	ice := opts.ICE()
	require.Len(t, ice, 2)
	assert.Empty(t, ice[0].Username, "stun servers carry no credentials")
	assert.Equal(t, "user", ice[1].Username)
	assert.Equal(t, "secret", ice[1].Credential)
}

func TestLoadOptionsFromEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "peercall.env")
	require.NoError(t, os.WriteFile(path, []byte("PEERCALL_BROKER_URL=ws://localhost:9000/peerjs\nPEERCALL_LOG_LEVEL=debug\n"), 0o600))
	t.Cleanup(func() {
		os.Unsetenv("PEERCALL_BROKER_URL")
		os.Unsetenv("PEERCALL_LOG_LEVEL")
	})

	opts, err := LoadOptions(path)
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:9000/peerjs", opts.BrokerURL)
	assert.Equal(t, "debug", opts.LogLevel)

	cfg := opts.SignalingConfig()
	assert.Equal(t, "ws://localhost:9000/peerjs", cfg.BrokerURL)
	assert.Equal(t, 5000, cfg.HeartbeatInterval)
	assert.Equal(t, 3000, cfg.ReconnectDelay)
}

func TestDialTimeoutReachesDialerAndSession(t *testing.T) {
	t.Setenv("PEERCALL_DIAL_TIMEOUT", "7s")
	t.Setenv("PEERCALL_WRITE_TIMEOUT", "750ms")

	opts, err := LoadOptions("")
	require.NoError(t, err)

	f, err := factory.NewSignalingFactory(opts.SignalingConfig())
	require.NoError(t, err)
	assert.Equal(t, 7000, f.Config().DialTimeout)
	assert.Equal(t, 750, f.Config().WriteTimeout)

	cfg := opts.transportConfig(f.ClientConfig())
	assert.Equal(t, 7*time.Second, cfg.Signaling.DialTimeout)
	assert.Equal(t, opts.HeartbeatInterval, cfg.Signaling.HeartbeatInterval)
	assert.Equal(t, opts.ReconnectDelay, cfg.Signaling.ReconnectDelay)
	assert.False(t, cfg.IncludeLoopback)
}

func TestLoadOptionsMissingEnvFile(t *testing.T) {
	_, err := LoadOptions(filepath.Join(t.TempDir(), "absent.env"))
	assert.Error(t, err)
}

func TestOptionsValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Options)
	}{
		{"zero call timeout", func(o *Options) { o.CallTimeout = 0 }},
		{"negative reconnect delay", func(o *Options) { o.ReconnectDelay = -time.Second }},
		{"negative reinit attempts", func(o *Options) { o.ReinitAttempts = -1 }},
		{"empty fallback domain", func(o *Options) { o.FallbackDomain = "" }},
		{"unknown log level", func(o *Options) { o.LogLevel = "loud" }},
		{"http broker", func(o *Options) { o.BrokerURL = "http://broker.example.com" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := NewOptions()
			tt.modify(opts)
			assert.ErrorIs(t, opts.Validate(), ErrInvalidOptions)
		})
	}

	opts := NewOptions()
	opts.BrokerURL = ""
	opts.UseSimulation = true
	assert.NoError(t, opts.Validate(), "simulation needs no broker url")
}

func TestLoadOptionsRejectsInvalidEnvironment(t *testing.T) {
	t.Setenv("PEERCALL_RING_TIMEOUT", "soon")
	_, err := LoadOptions("")
	assert.Error(t, err)
}
