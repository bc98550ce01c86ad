package media

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Kind identifies both a track's media type and a call's kind. A video call
// carries audio and video tracks; an audio call carries audio only.
type Kind int

const (
	// KindAudio is an audio track or an audio-only call.
	KindAudio Kind = iota
	// KindVideo is a video track or a call with video.
	KindVideo
)

// String returns the wire name of the kind.
func (k Kind) String() string {
	switch k {
	case KindAudio:
		return "audio"
	case KindVideo:
		return "video"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind parses a wire name produced by Kind.String.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "audio":
		return KindAudio, nil
	case "video":
		return KindVideo, nil
	default:
		return KindAudio, fmt.Errorf("unknown media kind %q", s)
	}
}

// Track is a single audio or video track.
type Track interface {
	ID() string
	Kind() Kind
	Enabled() bool
	SetEnabled(enabled bool)
	// Stop ends the track permanently. It is idempotent.
	Stop()
	Stopped() bool
	// OnEnded registers fn to run once when the track stops. If the track
	// has already stopped fn runs immediately.
	OnEnded(fn func())
}

// BaseTrack is a Track with no media of its own. Platform and transport
// tracks embed it and pass a stop hook that releases the real resource.
type BaseTrack struct {
	id   string
	kind Kind

	mu       sync.Mutex
	enabled  bool
	stopped  bool
	stopFn   func()
	ended    []func()
	onToggle []func(bool)
}

// NewTrack creates an enabled track with a random ID.
func NewTrack(kind Kind) *BaseTrack {
	return NewTrackWithStop(kind, uuid.NewString(), nil)
}

// NewTrackWithStop creates an enabled track that calls stop exactly once
// when the track is stopped.
func NewTrackWithStop(kind Kind, id string, stop func()) *BaseTrack {
	if id == "" {
		id = uuid.NewString()
	}
	return &BaseTrack{id: id, kind: kind, enabled: true, stopFn: stop}
}

// ID returns the track identifier.
func (t *BaseTrack) ID() string { return t.id }

// Kind returns the media type of the track.
func (t *BaseTrack) Kind() Kind { return t.kind }

// Enabled reports whether the track is unmuted.
func (t *BaseTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

// SetEnabled mutes or unmutes the track. Hooks registered with
// OnEnabledChange run when the value changes.
func (t *BaseTrack) SetEnabled(enabled bool) {
	t.mu.Lock()
	if t.enabled == enabled || t.stopped {
		t.mu.Unlock()
		return
	}
	t.enabled = enabled
	hooks := append([]func(bool){}, t.onToggle...)
	t.mu.Unlock()

	for _, fn := range hooks {
		fn(enabled)
	}
}

// OnEnabledChange registers fn to run whenever the enabled flag changes.
func (t *BaseTrack) OnEnabledChange(fn func(enabled bool)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onToggle = append(t.onToggle, fn)
}

// Stop ends the track and runs the ended callbacks once.
func (t *BaseTrack) Stop() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.stopped = true
	stop := t.stopFn
	ended := t.ended
	t.ended = nil
	t.mu.Unlock()

	if stop != nil {
		stop()
	}
	for _, fn := range ended {
		fn()
	}
}

// Stopped reports whether Stop has been called.
func (t *BaseTrack) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

// OnEnded registers fn to run when the track stops.
func (t *BaseTrack) OnEnded(fn func()) {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		fn()
		return
	}
	t.ended = append(t.ended, fn)
	t.mu.Unlock()
}
