package chat

import "time"

// Message roles. Every stored turn is one or the other.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single persisted conversation turn. SequenceNumber is
// unique within a session and strictly increasing in creation order, so
// replaying messages sorted by it reconstructs the exact history fed to
// the model.
type Message struct {
	SessionID      string    `json:"session_id"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	SequenceNumber int       `json:"sequence_number"`
	CreatedAt      time.Time `json:"created_at"`
}
