package session

import (
	"errors"
	"regexp"
	"strings"

	"line-relay/internal/domain"
)

const (
	// UnknownKey is returned for sources that cannot be mapped to a session.
	UnknownKey = "unknown"

	DefaultMarker   = "@danny"
	DefaultGreeting = "嗨～"
)

// Key derives the session key for src. Groups and rooms share one history
// across all participants; individual chats use the counterpart's user ID.
func Key(src domain.Source) string {
	var key string
	switch src.Kind {
	case domain.SourceUser:
		key = src.UserID
	case domain.SourceGroup:
		key = src.GroupID
	case domain.SourceRoom:
		key = src.RoomID
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return UnknownKey
	}
	return key
}

// Gate decides whether a message in a shared chat addresses the bot.
type Gate struct {
	pattern  *regexp.Regexp
	greeting string
}

// NewGate builds a Gate for the activation marker. greeting replaces a
// message that is empty once the marker is stripped.
func NewGate(marker, greeting string) (*Gate, error) {
	marker = strings.TrimSpace(marker)
	if marker == "" {
		return nil, errors.New("session: marker must not be empty")
	}
	if strings.TrimSpace(greeting) == "" {
		return nil, errors.New("session: greeting must not be empty")
	}
	return &Gate{
		pattern:  regexp.MustCompile("(?i)" + regexp.QuoteMeta(marker)),
		greeting: greeting,
	}, nil
}

// Admit returns the text to forward and true, or false when no reply should
// be produced. Individual chats are never gated.
func (g *Gate) Admit(kind domain.SourceKind, text string) (string, bool) {
	text = strings.TrimSpace(text)
	if !kind.Shared() {
		return text, true
	}
	if !g.pattern.MatchString(text) {
		return "", false
	}
	stripped := strings.TrimSpace(g.pattern.ReplaceAllString(text, ""))
	if stripped == "" {
		return g.greeting, true
	}
	return stripped, true
}
