package factory

import (
	"errors"
	"sync"
	"time"

	"github.com/opd-ai/peercall/interfaces"
	"github.com/opd-ai/peercall/real"
	"github.com/opd-ai/peercall/signaling"
	"github.com/opd-ai/peercall/testing"
	"github.com/sirupsen/logrus"
)

// SignalingFactory creates signaling dialers based on configuration.
// It is safe for concurrent use.
type SignalingFactory struct {
	config interfaces.SignalingConfig

	mu     sync.Mutex
	broker *testing.SimulatedBroker
}

// NewSignalingFactory creates a factory for config.
func NewSignalingFactory(config *interfaces.SignalingConfig) (*SignalingFactory, error) {
	if config == nil {
		return nil, errors.New("config cannot be nil")
	}
	if err := config.Validate(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "NewSignalingFactory",
			"error":    err.Error(),
		}).Error("Signaling configuration invalid")
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function":           "NewSignalingFactory",
		"use_simulation":     config.UseSimulation,
		"broker_url":         config.BrokerURL,
		"dial_timeout":       config.DialTimeout,
		"write_timeout":      config.WriteTimeout,
		"heartbeat_interval": config.HeartbeatInterval,
		"reconnect_delay":    config.ReconnectDelay,
	}).Info("Created signaling factory with configuration")

	return &SignalingFactory{config: *config}, nil
}

// Config returns a copy of the factory configuration.
func (f *SignalingFactory) Config() interfaces.SignalingConfig {
	return f.config
}

// ClientConfig returns the session timing for a signaling.Client that dials
// through this factory. The dial timeout matches the one the dialer uses.
func (f *SignalingFactory) ClientConfig() signaling.Config {
	cfg := signaling.DefaultConfig()
	cfg.HeartbeatInterval = millis(f.config.HeartbeatInterval)
	cfg.ReconnectDelay = millis(f.config.ReconnectDelay)
	cfg.DialTimeout = millis(f.config.DialTimeout)
	return cfg
}

func millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// CreateDialer creates a dialer for the factory configuration. Simulation
// dialers from one factory share a broker.
func (f *SignalingFactory) CreateDialer() (interfaces.ISignalingDialer, error) {
	if f.config.UseSimulation {
		logrus.WithFields(logrus.Fields{
			"function": "SignalingFactory.CreateDialer",
			"type":     "simulation",
		}).Info("Creating simulated signaling dialer")
		return f.Broker().Dialer(), nil
	}

	logrus.WithFields(logrus.Fields{
		"function":   "SignalingFactory.CreateDialer",
		"type":       "real",
		"broker_url": f.config.BrokerURL,
	}).Info("Creating WebSocket signaling dialer")

	cfg := f.config
	return real.NewWebSocketDialer(&cfg), nil
}

// Broker returns the simulated broker shared by this factory's simulation
// dialers, creating it on first use.
func (f *SignalingFactory) Broker() *testing.SimulatedBroker {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.broker == nil {
		f.broker = testing.NewSimulatedBroker()
	}
	return f.broker
}
