// Package interaction implements the content then time then ready dialogue
// that plugins use to collect a piece of text and a point in time across
// several messages and button presses.
package interaction

import (
	"time"

	"github.com/google/uuid"

	"github.com/shouya/fondbot/internal/chat"
)

// Stage is the position of a session in the dialogue.
type Stage int

const (
	AwaitingContent Stage = iota
	AwaitingTime
	Ready
)

func (s Stage) String() string {
	switch s {
	case AwaitingContent:
		return "awaiting_content"
	case AwaitingTime:
		return "awaiting_time"
	case Ready:
		return "ready"
	}
	return "unknown"
}

// Session is one in-flight dialogue. Ready implies Content and Target are set.
type Session struct {
	ID uuid.UUID

	// Origin is the message that triggered the dialogue.
	Origin chat.MessageRef
	From   chat.User

	Stage   Stage
	Content string

	// Base is the reference point deltas apply to; Candidate is the time
	// currently shown to the user; Target is fixed on commit.
	Base      time.Time
	Candidate time.Time
	Target    time.Time

	// Prompt is the bot message the user is expected to reply to or press
	// buttons on.
	Prompt chat.MessageRef

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (s *Session) expired(now time.Time, ttl time.Duration) bool {
	return ttl > 0 && now.Sub(s.UpdatedAt) > ttl
}
