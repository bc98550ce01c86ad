package media

import (
	"sync"

	"github.com/google/uuid"
)

// Stream is an ordered set of tracks owned by a single holder.
type Stream struct {
	id string

	mu     sync.RWMutex
	tracks []Track
}

// NewStream creates a stream with a random ID holding tracks.
func NewStream(tracks ...Track) *Stream {
	return NewStreamWithID(uuid.NewString(), tracks...)
}

// NewStreamWithID creates a stream with a known ID, as announced by a remote peer.
func NewStreamWithID(id string, tracks ...Track) *Stream {
	return &Stream{id: id, tracks: append([]Track(nil), tracks...)}
}

// ID returns the stream identifier.
func (s *Stream) ID() string { return s.id }

// AddTrack appends a track unless one with the same ID is already present.
func (s *Stream) AddTrack(t Track) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.tracks {
		if existing.ID() == t.ID() {
			return
		}
	}
	s.tracks = append(s.tracks, t)
}

// Tracks returns a copy of the track list.
func (s *Stream) Tracks() []Track {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Track(nil), s.tracks...)
}

// TracksOf returns the tracks of the given kind.
func (s *Stream) TracksOf(kind Kind) []Track {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Track
	for _, t := range s.tracks {
		if t.Kind() == kind {
			out = append(out, t)
		}
	}
	return out
}

// HasVideo reports whether the stream carries at least one video track.
func (s *Stream) HasVideo() bool {
	return len(s.TracksOf(KindVideo)) > 0
}

// Stop stops every track. Calling it again has no further effect.
func (s *Stream) Stop() {
	for _, t := range s.Tracks() {
		t.Stop()
	}
}

// Stopped reports whether every track has stopped.
func (s *Stream) Stopped() bool {
	for _, t := range s.Tracks() {
		if !t.Stopped() {
			return false
		}
	}
	return true
}
