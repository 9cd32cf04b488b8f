// Package identity decides which signed-in users may use the editor.
package identity

import (
	"errors"
	"strings"
)

// ErrRejected is returned when an identity is not on the allow-list.
var ErrRejected = errors.New("identity is not allowed")

// Identity is the acting user as reported by the identity provider.
type Identity struct {
	UserKey     string `json:"userKey"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email"`
	SlackID     string `json:"slackId,omitempty"`
}

// Gate checks identities against a static e-mail allow-list.
type Gate struct {
	allowed map[string]struct{}
}

// NewGate builds a Gate. Entries are normalised the same way as incoming
// e-mails; blank entries are ignored.
func NewGate(allowed []string) *Gate {
	g := &Gate{allowed: make(map[string]struct{}, len(allowed))}
	for _, e := range allowed {
		if n := NormalizeEmail(e); n != "" {
			g.allowed[n] = struct{}{}
		}
	}
	return g
}

// NormalizeEmail returns the comparable form of an e-mail address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Authorize returns the stable user key for id, or ErrRejected. It fails
// closed when the allow-list is empty or id carries no e-mail.
// The key is the provider's subject id, or the normalised e-mail when the
// provider did not supply one.
func (g *Gate) Authorize(id Identity) (string, error) {
	email := NormalizeEmail(id.Email)
	if email == "" || len(g.allowed) == 0 {
		return "", ErrRejected
	}
	if _, ok := g.allowed[email]; !ok {
		return "", ErrRejected
	}
	if key := strings.TrimSpace(id.UserKey); key != "" {
		return key, nil
	}
	return email, nil
}
