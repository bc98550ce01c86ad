package identity

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// DefaultFallbackDomain is appended to bare usernames that the directory
// cannot resolve.
const DefaultFallbackDomain = "demo.com"

// User is one entry of the known-users list.
type User struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

// Directory is the known-users list. It is safe for concurrent use.
type Directory struct {
	mu             sync.RWMutex
	users          []User
	byPeerID       map[string]User
	fallbackDomain string
}

// NewDirectory creates a directory holding users. An empty fallbackDomain
// selects DefaultFallbackDomain.
func NewDirectory(fallbackDomain string, users ...User) *Directory {
	if fallbackDomain == "" {
		fallbackDomain = DefaultFallbackDomain
	}
	d := &Directory{fallbackDomain: strings.ToLower(fallbackDomain)}
	d.Replace(users)
	return d
}

// Replace swaps the user list. Entries whose address cannot be encoded are
// skipped with a warning.
func (d *Directory) Replace(users []User) {
	index := make(map[string]User, len(users))
	kept := make([]User, 0, len(users))
	for _, u := range users {
		id, err := ToPeerID(u.Email)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Directory.Replace",
				"email":    u.Email,
				"error":    err.Error(),
			}).Warn("Skipping directory entry with unroutable address")
			continue
		}
		index[id] = u
		kept = append(kept, u)
	}

	d.mu.Lock()
	d.users = kept
	d.byPeerID = index
	d.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":   "Directory.Replace",
		"user_count": len(kept),
		"skipped":    len(users) - len(kept),
	}).Debug("Directory updated")
}

// Load replaces the user list from a JSON array of users.
func (d *Directory) Load(r io.Reader) error {
	var users []User
	if err := json.NewDecoder(r).Decode(&users); err != nil {
		return fmt.Errorf("decode users: %w", err)
	}
	d.Replace(users)
	return nil
}

// Users returns a copy of the user list.
func (d *Directory) Users() []User {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]User, len(d.users))
	copy(out, d.users)
	return out
}

// Lookup returns the user registered under peerID.
func (d *Directory) Lookup(peerID string) (User, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.byPeerID[peerID]
	return u, ok
}

// DisplayName resolves a human-readable name for peerID, falling back to
// the decoded address when no user matches.
func (d *Directory) DisplayName(peerID string) string {
	if u, ok := d.Lookup(peerID); ok {
		if u.Name != "" {
			return u.Name
		}
		return strings.ToLower(u.Email)
	}
	return ToEmail(peerID)
}

// RoutingKey resolves a call target to a peer identifier. Addresses are
// encoded directly. Bare usernames are matched against the directory by
// local part or by name; unmatched names are routed to the fallback domain.
func (d *Directory) RoutingKey(target string) (string, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return "", ErrEmptyAddress
	}
	if strings.Contains(target, "@") {
		return ToPeerID(target)
	}

	d.mu.RLock()
	var match string
	for _, u := range d.users {
		local, _, _ := strings.Cut(u.Email, "@")
		if strings.EqualFold(local, target) || strings.EqualFold(u.Name, target) {
			match = u.Email
			break
		}
	}
	domain := d.fallbackDomain
	d.mu.RUnlock()

	if match != "" {
		return ToPeerID(match)
	}

	logrus.WithFields(logrus.Fields{
		"function": "Directory.RoutingKey",
		"target":   target,
		"domain":   domain,
	}).Debug("Username not in directory, using fallback domain")

	return ToPeerID(target + "@" + domain)
}
