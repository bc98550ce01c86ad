package audio

import (
	"errors"
	"fmt"
	"sync"

	"github.com/pion/opus"
	"github.com/sirupsen/logrus"
)

// decodeBufferSize holds 60ms of 48kHz mono int16 PCM, the longest Opus frame.
const decodeBufferSize = 2880 * 2

// ErrEmptyPayload indicates an empty RTP payload.
var ErrEmptyPayload = errors.New("empty audio payload")

// Stats summarizes what a LevelMeter has seen.
type Stats struct {
	Frames        uint64
	DecodeErrors  uint64
	LastBandwidth string
	Level         float64
}

// LevelMeter tracks the peak level of a remote Opus stream.
type LevelMeter struct {
	mu      sync.Mutex
	decoder *opus.Decoder
	out     []byte
	stats   Stats
}

// NewLevelMeter creates a meter with a fresh decoder.
func NewLevelMeter() *LevelMeter {
	decoder := opus.NewDecoder()
	return &LevelMeter{
		decoder: &decoder,
		out:     make([]byte, decodeBufferSize),
	}
}

// Write decodes one Opus payload and updates the level.
func (m *LevelMeter) Write(payload []byte) error {
	if len(payload) == 0 {
		return ErrEmptyPayload
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.out {
		m.out[i] = 0
	}
	bandwidth, isStereo, err := m.decoder.Decode(payload, m.out)
	if err != nil {
		m.stats.DecodeErrors++
		if m.stats.DecodeErrors == 1 {
			logrus.WithFields(logrus.Fields{
				"function": "LevelMeter.Write",
				"error":    err.Error(),
			}).Debug("Opus payload not decodable, level unchanged")
		}
		return fmt.Errorf("opus decode failed: %w", err)
	}

	m.stats.Frames++
	m.stats.LastBandwidth = bandwidth.String()
	m.stats.Level = peakLevel(m.out)

	if m.stats.Frames == 1 {
		logrus.WithFields(logrus.Fields{
			"function":  "LevelMeter.Write",
			"bandwidth": bandwidth.String(),
			"is_stereo": isStereo,
		}).Debug("First remote audio frame decoded")
	}
	return nil
}

// Level returns the most recent peak level in [0, 1].
func (m *LevelMeter) Level() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats.Level
}

// Stats returns a copy of the meter statistics.
func (m *LevelMeter) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

// peakLevel returns the largest absolute little-endian int16 sample in pcm,
// scaled to [0, 1].
func peakLevel(pcm []byte) float64 {
	var peak int32
	for i := 0; i+1 < len(pcm); i += 2 {
		s := int32(int16(uint16(pcm[i]) | uint16(pcm[i+1])<<8))
		if s < 0 {
			s = -s
		}
		if s > peak {
			peak = s
		}
	}
	if peak > 32767 {
		peak = 32767
	}
	return float64(peak) / 32767
}
