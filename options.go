package peercall

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/opd-ai/peercall/av"
	"github.com/opd-ai/peercall/identity"
	"github.com/opd-ai/peercall/interfaces"
	"github.com/opd-ai/peercall/signaling"
	"github.com/opd-ai/peercall/transport"
	"github.com/sirupsen/logrus"
)

// EnvPrefix prefixes every Options environment variable.
const EnvPrefix = "PEERCALL_"

// DefaultEnvFile is loaded by LoadOptions when present.
const DefaultEnvFile = ".env"

var (
	// ErrInvalidOptions indicates options that fail validation.
	ErrInvalidOptions = errors.New("invalid options")
)

// Options contains configuration for creating a Client.
type Options struct {
	// Signaling broker.
	BrokerURL     string `env:"BROKER_URL"`
	BrokerKey     string `env:"BROKER_KEY"`
	UseSimulation bool   `env:"USE_SIMULATION"`

	// ICE servers as comma-separated URLs. TURN credentials apply to turn:
	// and turns: URLs only.
	ICEServers     []string `env:"ICE_SERVERS" envSeparator:","`
	TURNUsername   string   `env:"TURN_USERNAME"`
	TURNCredential string   `env:"TURN_CREDENTIAL"`

	CallTimeout       time.Duration `env:"CALL_TIMEOUT"`
	RingTimeout       time.Duration `env:"RING_TIMEOUT"`
	ConnectTimeout    time.Duration `env:"CONNECT_TIMEOUT"`
	DialTimeout       time.Duration `env:"DIAL_TIMEOUT"`
	WriteTimeout      time.Duration `env:"WRITE_TIMEOUT"`
	HeartbeatInterval time.Duration `env:"HEARTBEAT_INTERVAL"`
	ReconnectDelay    time.Duration `env:"RECONNECT_DELAY"`
	ReinitDelay       time.Duration `env:"REINIT_DELAY"`
	ReinitAttempts    int           `env:"REINIT_ATTEMPTS"`

	// Directory.
	FallbackDomain string `env:"FALLBACK_DOMAIN"`
	UsersFile      string `env:"USERS_FILE"`
	MaxHistory     int    `env:"MAX_HISTORY"`

	LogLevel string `env:"LOG_LEVEL"`
}

// NewOptions returns the default options.
func NewOptions() *Options {
	return &Options{
		BrokerURL:         "wss://0.peerjs.com/peerjs",
		BrokerKey:         "peerjs",
		ICEServers:        []string{"stun:stun.l.google.com:19302"},
		CallTimeout:       av.DefaultCallTimeout,
		RingTimeout:       av.DefaultRingTimeout,
		ConnectTimeout:    av.DefaultConnectTimeout,
		DialTimeout:       10 * time.Second,
		WriteTimeout:      2 * time.Second,
		HeartbeatInterval: 5 * time.Second,
		ReconnectDelay:    3 * time.Second,
		ReinitDelay:       av.DefaultReinitDelay,
		ReinitAttempts:    av.DefaultReinitAttempts,
		FallbackDomain:    identity.DefaultFallbackDomain,
		MaxHistory:        av.DefaultMaxHistory,
		LogLevel:          "info",
	}
}

// LoadOptions starts from NewOptions, loads envFile (or .env when empty and
// present) into the environment, then applies PEERCALL_ variables.
func LoadOptions(envFile string) (*Options, error) {
	if err := loadEnvFile(envFile); err != nil {
		return nil, err
	}

	opts := NewOptions()
	if err := env.ParseWithOptions(opts, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function":       "LoadOptions",
		"env_file":       envFile,
		"use_simulation": opts.UseSimulation,
		"broker_url":     opts.BrokerURL,
		"ice_servers":    len(opts.ICEServers),
		"users_file":     opts.UsersFile,
	}).Debug("Options loaded")

	return opts, nil
}

func loadEnvFile(path string) error {
	if path == "" {
		if _, err := os.Stat(DefaultEnvFile); err != nil {
			return nil
		}
		path = DefaultEnvFile
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Validate checks values no component can use.
func (o *Options) Validate() error {
	durations := []struct {
		name string
		d    time.Duration
	}{
		{"call timeout", o.CallTimeout},
		{"ring timeout", o.RingTimeout},
		{"connect timeout", o.ConnectTimeout},
		{"dial timeout", o.DialTimeout},
		{"write timeout", o.WriteTimeout},
		{"heartbeat interval", o.HeartbeatInterval},
		{"reconnect delay", o.ReconnectDelay},
		{"reinit delay", o.ReinitDelay},
	}
	for _, d := range durations {
		if d.d <= 0 {
			return fmt.Errorf("%w: %s must be positive, got %s", ErrInvalidOptions, d.name, d.d)
		}
	}
	if o.ReinitAttempts < 0 {
		return fmt.Errorf("%w: reinit attempts must not be negative", ErrInvalidOptions)
	}
	if o.FallbackDomain == "" {
		return fmt.Errorf("%w: fallback domain is empty", ErrInvalidOptions)
	}
	if _, err := logrus.ParseLevel(o.LogLevel); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}
	if err := o.SignalingConfig().Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}
	return nil
}

// ApplyLogLevel sets the global logrus level from LogLevel.
func (o *Options) ApplyLogLevel() {
	level, err := logrus.ParseLevel(o.LogLevel)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":  "Options.ApplyLogLevel",
			"log_level": o.LogLevel,
		}).Warn("Unknown log level, keeping current level")
		return
	}
	logrus.SetLevel(level)
}

// SignalingConfig returns the channel settings for a signaling factory.
func (o *Options) SignalingConfig() *interfaces.SignalingConfig {
	return &interfaces.SignalingConfig{
		UseSimulation:     o.UseSimulation,
		BrokerURL:         o.BrokerURL,
		Key:               o.BrokerKey,
		DialTimeout:       int(o.DialTimeout / time.Millisecond),
		WriteTimeout:      int(o.WriteTimeout / time.Millisecond),
		HeartbeatInterval: int(o.HeartbeatInterval / time.Millisecond),
		ReconnectDelay:    int(o.ReconnectDelay / time.Millisecond),
	}
}

// ICE returns the configured ICE servers.
func (o *Options) ICE() []transport.ICEServer {
	return transport.ICEServersFromURLs(o.ICEServers, o.TURNUsername, o.TURNCredential)
}

// transportConfig pairs the broker session timings sig with the ICE
// settings of o.
func (o *Options) transportConfig(sig signaling.Config) transport.Config {
	cfg := transport.DefaultConfig()
	cfg.Signaling = sig
	cfg.IncludeLoopback = o.UseSimulation
	return cfg
}

func (o *Options) managerConfig(dir av.Directory) av.Config {
	cfg := av.DefaultConfig()
	cfg.CallTimeout = o.CallTimeout
	cfg.RingTimeout = o.RingTimeout
	cfg.ConnectTimeout = o.ConnectTimeout
	cfg.ReinitDelay = o.ReinitDelay
	cfg.ReinitAttempts = o.ReinitAttempts
	cfg.ICEServers = o.ICE()
	cfg.Directory = dir
	cfg.History = av.NewCallHistory(o.MaxHistory)
	return cfg
}
