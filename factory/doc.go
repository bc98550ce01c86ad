// Package factory creates signaling dialers, switching between the real
// WebSocket broker connection and the in-memory simulated broker without
// changing consuming code.
//
// # Usage
//
//	f, err := factory.NewSignalingFactory(&interfaces.SignalingConfig{
//	    BrokerURL:         "wss://0.peerjs.com/peerjs",
//	    Key:               "peerjs",
//	    DialTimeout:       5000,
//	    WriteTimeout:      2000,
//	    HeartbeatInterval: 5000,
//	    ReconnectDelay:    3000,
//	})
//	dialer, err := f.CreateDialer()
//	client, err := signaling.NewClient(dialer, f.ClientConfig())
//
// ClientConfig carries the same heartbeat, reconnect and dial timings, so
// the dialer and the broker session never disagree.
//
// # Testing Support
//
// In simulation mode every dialer from one factory shares a single
// testing.SimulatedBroker, so several clients in one process can call each
// other.
package factory
