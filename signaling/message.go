package signaling

import (
	"encoding/json"
	"fmt"

	"github.com/opd-ai/peercall/limits"
)

// MessageType is the envelope "type" field.
type MessageType string

// Broker protocol message types.
const (
	TypeOpen      MessageType = "OPEN"
	TypeIDTaken   MessageType = "ID-TAKEN"
	TypeError     MessageType = "ERROR"
	TypeOffer     MessageType = "OFFER"
	TypeAnswer    MessageType = "ANSWER"
	TypeCandidate MessageType = "CANDIDATE"
	TypeLeave     MessageType = "LEAVE"
	TypeExpire    MessageType = "EXPIRE"
	TypeHeartbeat MessageType = "HEARTBEAT"
)

// ConnectionTypeMedia marks an offer as an audio/video call.
const ConnectionTypeMedia = "media"

// Leave reasons carried in LeavePayload.
const (
	LeaveReasonHangup   = ""
	LeaveReasonBusy     = "busy"
	LeaveReasonDeclined = "declined"
)

// Message is one broker frame.
type Message struct {
	Type    MessageType     `json:"type"`
	Src     string          `json:"src,omitempty"`
	Dst     string          `json:"dst,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// SessionDescription is an SDP offer or answer.
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// OfferPayload starts a call.
type OfferPayload struct {
	SDP          SessionDescription `json:"sdp"`
	Type         string             `json:"type"`
	ConnectionID string             `json:"connectionId"`
	Metadata     json.RawMessage    `json:"metadata,omitempty"`
}

// AnswerPayload accepts a call.
type AnswerPayload struct {
	SDP          SessionDescription `json:"sdp"`
	Type         string             `json:"type"`
	ConnectionID string             `json:"connectionId"`
}

// CandidatePayload trickles one ICE candidate. Candidate is the JSON form of
// an ICE candidate init as produced by the WebRTC stack.
type CandidatePayload struct {
	Candidate    json.RawMessage `json:"candidate"`
	Type         string          `json:"type"`
	ConnectionID string          `json:"connectionId"`
}

// LeavePayload ends a call. An empty Reason is a normal hang-up.
type LeavePayload struct {
	ConnectionID string `json:"connectionId"`
	Reason       string `json:"reason,omitempty"`
}

// ErrorPayload carries a broker error description.
type ErrorPayload struct {
	Msg string `json:"msg"`
}

// NewMessage builds a message with payload encoded as JSON.
func NewMessage(t MessageType, dst string, payload interface{}) (Message, error) {
	msg := Message{Type: t, Dst: dst}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Message{}, fmt.Errorf("encode %s payload: %w", t, err)
		}
		msg.Payload = data
	}
	return msg, nil
}

// Encode serializes a message to a frame.
func Encode(m Message) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	if err := limits.ValidateSignalingFrame(data); err != nil {
		return nil, err
	}
	return data, nil
}

// Decode parses a frame.
func Decode(frame []byte) (Message, error) {
	if err := limits.ValidateSignalingFrame(frame); err != nil {
		return Message{}, err
	}
	var m Message
	if err := json.Unmarshal(frame, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if m.Type == "" {
		return Message{}, fmt.Errorf("%w: missing type", ErrMalformedMessage)
	}
	return m, nil
}

// DecodePayload unmarshals the message payload into v.
func (m Message) DecodePayload(v interface{}) error {
	if len(m.Payload) == 0 {
		return fmt.Errorf("%w: %s has no payload", ErrMalformedMessage, m.Type)
	}
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("%w: %s payload: %v", ErrMalformedMessage, m.Type, err)
	}
	return nil
}
