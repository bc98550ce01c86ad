package av

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opd-ai/peercall/limits"
	"github.com/opd-ai/peercall/media"
)

var (
	// ErrNoMetadata indicates an offer without a metadata bag.
	ErrNoMetadata = errors.New("no call metadata")

	// ErrInvalidMetadata indicates a metadata bag that does not match the schema.
	ErrInvalidMetadata = errors.New("invalid call metadata")
)

// Metadata is the bag a caller attaches to an offer.
type Metadata struct {
	Kind      string `json:"kind"`
	Timestamp int64  `json:"timestamp"`
	Caller    string `json:"caller"`
}

// NewMetadata describes a call of kind placed by caller at t.
func NewMetadata(kind media.Kind, caller string, t time.Time) Metadata {
	return Metadata{Kind: kind.String(), Timestamp: t.UnixMilli(), Caller: caller}
}

// Encode serializes the bag.
func (m Metadata) Encode() (json.RawMessage, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	if err := limits.ValidateMetadata(data); err != nil {
		return nil, err
	}
	return data, nil
}

// ParseMetadata validates raw and returns the bag and its call kind.
func ParseMetadata(raw json.RawMessage) (Metadata, media.Kind, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return Metadata{}, media.KindAudio, ErrNoMetadata
	}
	if err := limits.ValidateMetadata(raw); err != nil {
		return Metadata{}, media.KindAudio, fmt.Errorf("%w: %v", ErrInvalidMetadata, err)
	}

	var m Metadata
	if err := json.Unmarshal(raw, &m); err != nil {
		return Metadata{}, media.KindAudio, fmt.Errorf("%w: %v", ErrInvalidMetadata, err)
	}
	kind, err := media.ParseKind(m.Kind)
	if err != nil {
		return m, media.KindAudio, fmt.Errorf("%w: %v", ErrInvalidMetadata, err)
	}
	return m, kind, nil
}
