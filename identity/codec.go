package identity

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/opd-ai/peercall/limits"
)

// Separator replaces '@' and '.' in peer identifiers.
const Separator = "_"

var (
	// ErrInvalidAddress indicates an address with characters that cannot be encoded.
	ErrInvalidAddress = errors.New("invalid address")

	// ErrEmptyAddress indicates an empty address or username.
	ErrEmptyAddress = errors.New("empty address")
)

var (
	addressPattern = regexp.MustCompile(`^[a-z0-9._@-]+$`)
	peerIDPattern  = regexp.MustCompile(`^[A-Za-z0-9]+(?:[_-][A-Za-z0-9]+)*$`)
)

// ToPeerID converts an e-mail address to a broker-safe peer identifier.
func ToPeerID(email string) (string, error) {
	addr := strings.ToLower(strings.TrimSpace(email))
	if addr == "" {
		return "", ErrEmptyAddress
	}
	if !addressPattern.MatchString(addr) {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, email)
	}

	id := strings.NewReplacer("@", Separator, ".", Separator).Replace(addr)
	if err := limits.ValidatePeerID(id); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if !peerIDPattern.MatchString(id) {
		return "", fmt.Errorf("%w: %q has adjacent or edge separators", ErrInvalidAddress, email)
	}
	return id, nil
}

// ToEmail reconstructs an address from a peer identifier. The first separator
// becomes '@' and the remaining ones become '.'.
func ToEmail(peerID string) string {
	local, domain, found := strings.Cut(peerID, Separator)
	if !found {
		return peerID
	}
	return local + "@" + strings.ReplaceAll(domain, Separator, ".")
}

// ValidPeerID reports whether id is acceptable to the broker: alphanumeric
// runs joined by single '_' or '-' separators.
func ValidPeerID(id string) bool {
	if limits.ValidatePeerID(id) != nil {
		return false
	}
	return peerIDPattern.MatchString(id)
}
