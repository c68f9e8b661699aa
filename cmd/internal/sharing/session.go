package sharing

import (
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	v1 "github.com/Avinash-006/sdp-kubernetes/shared/contracts/realtime/v1"
)

const (
	// DefaultSessionTTL is how long a session accepts joins and uploads.
	DefaultSessionTTL = 24 * time.Hour

	maxPasskeyChars  = 128
	maxUsernameChars = 64
)

// Session is a passkey-addressed, time-boxed sharing group.
//
// Members keeps join order; the creator is always Members[0] and a username
// appears at most once.
type Session struct {
	ID        string
	Passkey   string
	Members   []string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// ActiveAt reports whether the session still accepts joins and uploads at now.
func (s Session) ActiveAt(now time.Time) bool {
	return now.Before(s.ExpiresAt)
}

// HasMember reports whether username already belongs to the session.
func (s Session) HasMember(username string) bool {
	return slices.Contains(s.Members, username)
}

// Clone returns a copy that shares no mutable state with s.
func (s Session) Clone() Session {
	s.Members = slices.Clone(s.Members)
	return s
}

// SessionTopic is the broadcast topic carrying upload notices for a session.
func SessionTopic(passkey string) string {
	return v1.SessionTopic(passkey)
}

// PasskeyFromTopic extracts the passkey from a session topic.
func PasskeyFromTopic(topic string) (string, bool) {
	p, ok := strings.CutPrefix(topic, v1.SessionTopicPrefix)
	if !ok || p == "" || strings.Contains(p, "/") {
		return "", false
	}
	return p, true
}

// NormalizePasskey trims and validates a passkey. Passkeys are case-sensitive.
// An accepted passkey always yields a session topic that subscribers can use.
func NormalizePasskey(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" || utf8.RuneCountInString(s) > maxPasskeyChars || strings.ContainsAny(s, "/ \t\r\n") {
		return "", false
	}
	if v1.ValidateTopic(SessionTopic(s)) != nil {
		return "", false
	}
	return s, true
}

// NormalizeUsername trims and validates a username.
func NormalizeUsername(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" || utf8.RuneCountInString(s) > maxUsernameChars {
		return "", false
	}
	return s, true
}
