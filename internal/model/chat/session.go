package chat

import "time"

// Session groups an ordered conversation under a stable identifier.
type Session struct {
	SessionID    string    `json:"session_id"`
	Name         string    `json:"name"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
}

// SessionSummary is a Session annotated with its persisted message count,
// as returned by the session list endpoint.
type SessionSummary struct {
	Session
	MessageCount int `json:"message_count"`
}

// DefaultName derives the display name used when a session is created
// without an explicit one.
func DefaultName(sessionID string) string {
	short := sessionID
	if len(short) > 8 {
		short = short[:8]
	}
	return "Chat " + short
}
