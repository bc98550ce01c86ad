package av

import (
	"sync"
	"time"

	"github.com/opd-ai/peercall/media"
	"github.com/sirupsen/logrus"
)

// DefaultMaxHistory is the number of finished calls a CallHistory keeps.
const DefaultMaxHistory = 100

// CallRecord describes one finished call.
type CallRecord struct {
	PeerID    string
	Name      string
	Role      Role
	Kind      media.Kind
	State     State
	Class     ErrorClass
	StartedAt time.Time // zero when the call never connected
	EndedAt   time.Time
	Duration  time.Duration
}

// CallStats aggregates every call recorded since creation, including those
// that have rolled out of the history window.
type CallStats struct {
	TotalCalls      uint64
	ConnectedCalls  uint64
	MissedCalls     uint64
	ByState         map[State]uint64
	ByClass         map[ErrorClass]uint64
	AverageDuration time.Duration
	LastUpdate      time.Time
}

// CallHistory keeps a rolling log of finished calls.
//
// Example usage:
//
//	mgr.History().OnRecord(func(r av.CallRecord) {
//	    log.Printf("call with %s ended: %s after %s", r.Name, r.State, r.Duration)
//	})
type CallHistory struct {
	mu            sync.RWMutex
	records       []CallRecord
	maxHistory    int
	stats         CallStats
	totalDuration time.Duration
	onRecord      func(CallRecord)
}

// NewCallHistory creates a history keeping at most maxHistory records.
func NewCallHistory(maxHistory int) *CallHistory {
	if maxHistory <= 0 {
		maxHistory = DefaultMaxHistory
	}
	return &CallHistory{
		records:    make([]CallRecord, 0, maxHistory),
		maxHistory: maxHistory,
		stats: CallStats{
			ByState: make(map[State]uint64),
			ByClass: make(map[ErrorClass]uint64),
		},
	}
}

// OnRecord registers fn to run after each recorded call.
func (h *CallHistory) OnRecord(fn func(CallRecord)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onRecord = fn
}

// Record appends r and updates the statistics.
func (h *CallHistory) Record(r CallRecord) {
	h.mu.Lock()
	h.records = append(h.records, r)
	if len(h.records) > h.maxHistory {
		h.records = h.records[1:]
	}

	h.stats.TotalCalls++
	h.stats.ByState[r.State]++
	if r.Class != ClassNone {
		h.stats.ByClass[r.Class]++
	}
	if !r.StartedAt.IsZero() {
		h.stats.ConnectedCalls++
		h.totalDuration += r.Duration
		h.stats.AverageDuration = time.Duration(int64(h.totalDuration) / int64(h.stats.ConnectedCalls))
	}
	if r.Role == RoleCallee && r.StartedAt.IsZero() {
		h.stats.MissedCalls++
	}
	h.stats.LastUpdate = r.EndedAt
	fn := h.onRecord
	h.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "CallHistory.Record",
		"peer_id":  r.PeerID,
		"role":     r.Role.String(),
		"state":    r.State.String(),
		"duration": r.Duration,
	}).Debug("Call recorded")

	if fn != nil {
		fn(r)
	}
}

// Records returns the kept records, oldest first.
func (h *CallHistory) Records() []CallRecord {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]CallRecord, len(h.records))
	copy(out, h.records)
	return out
}

// Stats returns a copy of the aggregated statistics.
func (h *CallHistory) Stats() CallStats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := h.stats
	out.ByState = make(map[State]uint64, len(h.stats.ByState))
	for k, v := range h.stats.ByState {
		out.ByState[k] = v
	}
	out.ByClass = make(map[ErrorClass]uint64, len(h.stats.ByClass))
	for k, v := range h.stats.ByClass {
		out.ByClass[k] = v
	}
	return out
}
