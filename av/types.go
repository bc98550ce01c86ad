package av

import (
	"time"

	"github.com/opd-ai/peercall/media"
)

// State is a call session state.
type State int

const (
	// StateIdle means no call exists.
	StateIdle State = iota
	// StatePlacing means local media is being acquired for an outbound call.
	StatePlacing
	// StateRinging means the offer is out and the callee has not answered.
	StateRinging
	// StateNegotiating means an inbound call is pending or being answered.
	StateNegotiating
	// StateConnected means remote media is flowing.
	StateConnected
	// StateEnded means the call finished normally.
	StateEnded
	// StateFailed means the call failed.
	StateFailed
	// StateRejected means the callee declined.
	StateRejected
	// StateNoAnswer means the callee did not answer in time.
	StateNoAnswer
	// StateOffline means the callee is not registered.
	StateOffline
)

var stateNames = map[State]string{
	StateIdle:        "idle",
	StatePlacing:     "placing",
	StateRinging:     "ringing",
	StateNegotiating: "negotiating",
	StateConnected:   "connected",
	StateEnded:       "ended",
	StateFailed:      "failed",
	StateRejected:    "rejected",
	StateNoAnswer:    "no-answer",
	StateOffline:     "offline",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// IsTerminal reports whether s ends a session.
func (s State) IsTerminal() bool {
	return s >= StateEnded
}

// Role is the local side of a call.
type Role int

const (
	RoleNone Role = iota
	RoleCaller
	RoleCallee
)

func (r Role) String() string {
	switch r {
	case RoleCaller:
		return "caller"
	case RoleCallee:
		return "callee"
	default:
		return "none"
	}
}

// PhaseIncoming is the Phase of an inbound call that has not been accepted.
const PhaseIncoming = "incoming"

// Notice is the dismissable message left behind by a finished call.
type Notice struct {
	State     State
	Class     ErrorClass
	Message   string
	PeerID    string
	Retryable bool
	At        time.Time
}

// Snapshot is the observable state of a Manager.
type Snapshot struct {
	Generation uint64
	State      State
	Role       Role
	Kind       media.Kind
	Accepted   bool

	LocalPeerID  string
	RemotePeerID string
	RemoteName   string

	StartedAt time.Time
	Duration  time.Duration

	LastError  error
	ErrorClass ErrorClass

	AudioEnabled  bool
	VideoEnabled  bool
	ScreenSharing bool

	// Ready reports whether the transport can place calls.
	Ready  bool
	Notice *Notice
}

// Phase returns the state name as shown to the user. An inbound call that
// has not been accepted is "incoming".
func (s Snapshot) Phase() string {
	if s.State == StateNegotiating && s.Role == RoleCallee && !s.Accepted {
		return PhaseIncoming
	}
	return s.State.String()
}
