package av

import (
	"errors"
	"fmt"

	"github.com/opd-ai/peercall/identity"
	"github.com/opd-ai/peercall/media"
	"github.com/opd-ai/peercall/signaling"
	"github.com/opd-ai/peercall/transport"
)

// Call initiation errors.
var (
	// ErrTransportNotReady indicates the broker session is not open.
	ErrTransportNotReady = errors.New("transport not ready")

	// ErrCallAlreadyActive indicates another session is in progress.
	ErrCallAlreadyActive = errors.New("a call is already active")

	// ErrInvalidTarget indicates the call target cannot be routed.
	ErrInvalidTarget = errors.New("invalid call target")

	// ErrSelfCall indicates the target is the local user.
	ErrSelfCall = errors.New("cannot call yourself")

	// ErrNothingToRetry indicates Retry with no retryable notice.
	ErrNothingToRetry = errors.New("nothing to retry")
)

// Call control errors.
var (
	// ErrNoActiveCall indicates no session exists.
	ErrNoActiveCall = errors.New("no active call")

	// ErrNoIncomingCall indicates no unaccepted inbound call is pending.
	ErrNoIncomingCall = errors.New("no incoming call")

	// ErrNotConnected indicates an operation that needs a connected call.
	ErrNotConnected = errors.New("call not connected")

	// ErrCallCanceled indicates the session ended while an operation on it
	// was in flight.
	ErrCallCanceled = errors.New("call canceled")
)

// Call outcome errors.
var (
	// ErrNoAnswer indicates the no-answer timer fired.
	ErrNoAnswer = errors.New("no answer")

	// ErrMissedCall indicates an inbound call rang out.
	ErrMissedCall = errors.New("missed call")

	// ErrConnectTimeout indicates an accepted call never received media.
	ErrConnectTimeout = errors.New("timed out connecting call")
)

// Manager state errors.
var (
	// ErrNotStarted indicates Start has not been called.
	ErrNotStarted = errors.New("manager not started")

	// ErrManagerClosed indicates Close has been called.
	ErrManagerClosed = errors.New("manager closed")
)

// ErrorClass is the user-facing category of a call or transport error.
type ErrorClass int

const (
	ClassNone ErrorClass = iota
	ClassMediaPermissionDenied
	ClassMediaDeviceNotFound
	ClassMediaDeviceBusy
	ClassPeerUnavailable
	ClassNoAnswer
	ClassRejected
	ClassNetwork
	ClassDisconnected
	ClassTransportInit
	ClassUnknown
)

var classNames = map[ErrorClass]string{
	ClassNone:                  "none",
	ClassMediaPermissionDenied: "media-permission-denied",
	ClassMediaDeviceNotFound:   "media-device-not-found",
	ClassMediaDeviceBusy:       "media-device-busy",
	ClassPeerUnavailable:       "peer-unavailable",
	ClassNoAnswer:              "no-answer",
	ClassRejected:              "rejected",
	ClassNetwork:               "network",
	ClassDisconnected:          "disconnected",
	ClassTransportInit:         "transport-init",
	ClassUnknown:               "unknown",
}

func (c ErrorClass) String() string {
	if name, ok := classNames[c]; ok {
		return name
	}
	return "unknown"
}

// Message returns the user-visible text for the class.
func (c ErrorClass) Message() string {
	switch c {
	case ClassNone:
		return ""
	case ClassMediaPermissionDenied:
		return "Camera or microphone access was denied. Check your system privacy settings."
	case ClassMediaDeviceNotFound:
		return "No camera or microphone was found."
	case ClassMediaDeviceBusy:
		return "Your camera or microphone is in use by another application."
	case ClassPeerUnavailable:
		return "The person you are calling is offline."
	case ClassNoAnswer:
		return "No answer."
	case ClassRejected:
		return "The call was declined."
	case ClassNetwork:
		return "A network problem interrupted the call."
	case ClassDisconnected:
		return "Lost connection to the call service."
	case ClassTransportInit:
		return "Could not connect to the call service."
	default:
		return "The call failed."
	}
}

// Classify maps err onto an ErrorClass.
func Classify(err error) ErrorClass {
	if err == nil {
		return ClassNone
	}
	var ce *CallError
	if errors.As(err, &ce) {
		return ce.Class
	}

	switch {
	case errors.Is(err, media.ErrPermissionDenied):
		return ClassMediaPermissionDenied
	case errors.Is(err, media.ErrDeviceNotFound):
		return ClassMediaDeviceNotFound
	case errors.Is(err, media.ErrDeviceBusy):
		return ClassMediaDeviceBusy
	case errors.Is(err, transport.ErrPeerUnavailable):
		return ClassPeerUnavailable
	case errors.Is(err, ErrNoAnswer), errors.Is(err, ErrMissedCall):
		return ClassNoAnswer
	case errors.Is(err, transport.ErrCallRejected), errors.Is(err, transport.ErrPeerBusy):
		return ClassRejected
	case errors.Is(err, signaling.ErrIDTaken), errors.Is(err, signaling.ErrBroker),
		errors.Is(err, transport.ErrInvalidPeerID), errors.Is(err, identity.ErrInvalidAddress):
		return ClassTransportInit
	case errors.Is(err, signaling.ErrReconnectFailed), errors.Is(err, transport.ErrNotReady):
		return ClassDisconnected
	case errors.Is(err, signaling.ErrNetwork), errors.Is(err, transport.ErrConnectionFailed),
		errors.Is(err, ErrConnectTimeout):
		return ClassNetwork
	default:
		return ClassUnknown
	}
}

// CallError is the error that ended a call.
type CallError struct {
	Class ErrorClass
	Err   error
}

// NewCallError classifies err.
func NewCallError(err error) *CallError {
	return &CallError{Class: Classify(err), Err: err}
}

func (e *CallError) Error() string {
	return fmt.Sprintf("%s: %v", e.Class, e.Err)
}

func (e *CallError) Unwrap() error {
	return e.Err
}

// noticeMessage builds the Notice text for a finished session.
func noticeMessage(state State, class ErrorClass, err error, name string) string {
	switch {
	case errors.Is(err, transport.ErrPeerBusy):
		return fmt.Sprintf("%s is on another call.", name)
	case errors.Is(err, ErrMissedCall):
		return fmt.Sprintf("Missed call from %s.", name)
	case state == StateOffline:
		return fmt.Sprintf("%s is offline.", name)
	case state == StateNoAnswer:
		return fmt.Sprintf("%s did not answer.", name)
	case state == StateRejected:
		return fmt.Sprintf("%s declined the call.", name)
	case class != ClassNone:
		return class.Message()
	default:
		return "Call ended."
	}
}
