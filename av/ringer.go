package av

import "github.com/sirupsen/logrus"

// Direction tells a Ringer which tone to play.
type Direction int

const (
	// RingOutbound is the ring-back tone heard by the caller.
	RingOutbound Direction = iota
	// RingInbound is the ringtone heard by the callee.
	RingInbound
)

func (d Direction) String() string {
	if d == RingInbound {
		return "inbound"
	}
	return "outbound"
}

// Ringer plays ring tones. Start is followed by exactly one Stop.
type Ringer interface {
	Start(dir Direction)
	Stop()
}

// NopRinger plays nothing.
type NopRinger struct{}

func (NopRinger) Start(Direction) {}
func (NopRinger) Stop()           {}

// LogRinger logs ring tones instead of playing them.
type LogRinger struct{}

func (LogRinger) Start(dir Direction) {
	logrus.WithFields(logrus.Fields{
		"function":  "LogRinger.Start",
		"direction": dir.String(),
	}).Info("Ringing")
}

func (LogRinger) Stop() {
	logrus.WithFields(logrus.Fields{
		"function": "LogRinger.Stop",
	}).Debug("Ringing stopped")
}
