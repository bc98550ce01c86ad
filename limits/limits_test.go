package limits

import (
	"errors"
	"strings"
	"testing"
)

// TestValidateSignalingFrame tests the broker frame validation function
func TestValidateSignalingFrame(t *testing.T) {
	tests := []struct {
		name    string
		frame   []byte
		wantErr error
	}{
		{
			name:    "empty frame",
			frame:   []byte{},
			wantErr: ErrMessageEmpty,
		},
		{
			name:    "nil frame",
			frame:   nil,
			wantErr: ErrMessageEmpty,
		},
		{
			name:    "valid small frame",
			frame:   []byte(`{"type":"HEARTBEAT"}`),
			wantErr: nil,
		},
		{
			name:    "valid max-size frame",
			frame:   make([]byte, MaxSignalingFrame),
			wantErr: nil,
		},
		{
			name:    "frame too large",
			frame:   make([]byte, MaxSignalingFrame+1),
			wantErr: ErrMessageTooLarge,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSignalingFrame(tt.frame)
			if !errors.Is(err, tt.wantErr) || (tt.wantErr == nil && err != nil) {
				t.Errorf("ValidateSignalingFrame() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

// TestValidateMetadata checks that an absent bag is allowed but an oversized one is not
func TestValidateMetadata(t *testing.T) {
	if err := ValidateMetadata(nil); err != nil {
		t.Errorf("ValidateMetadata(nil) = %v, want nil", err)
	}
	if err := ValidateMetadata(make([]byte, MaxMetadataSize)); err != nil {
		t.Errorf("ValidateMetadata(max) = %v, want nil", err)
	}
	err := ValidateMetadata(make([]byte, MaxMetadataSize+1))
	if !errors.Is(err, ErrMessageTooLarge) {
		t.Errorf("ValidateMetadata(max+1) = %v, want ErrMessageTooLarge", err)
	}
}

// TestValidatePeerID tests peer identifier length bounds
func TestValidatePeerID(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr error
	}{
		{"empty", "", ErrMessageEmpty},
		{"short", "alice_example_com", nil},
		{"max length", strings.Repeat("a", MaxPeerIDLength), nil},
		{"too long", strings.Repeat("a", MaxPeerIDLength+1), ErrMessageTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePeerID(tt.id)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("ValidatePeerID(%q) = %v, want nil", tt.id, err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidatePeerID(%q) = %v, want %v", tt.id, err, tt.wantErr)
			}
		})
	}
}

// TestValidateMessageSizeErrorContext verifies the wrapped error reports both sizes
func TestValidateMessageSizeErrorContext(t *testing.T) {
	err := ValidateMessageSize(make([]byte, 11), 10)
	if err == nil {
		t.Fatal("expected error for oversized message")
	}
	if !strings.Contains(err.Error(), "11") || !strings.Contains(err.Error(), "10") {
		t.Errorf("error %q should mention actual and maximum sizes", err.Error())
	}
}
