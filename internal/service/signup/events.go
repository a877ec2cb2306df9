package signup

import "time"

// EventType names a signup lifecycle transition.
type EventType string

const (
	EventCreated EventType = "signup.created"
	EventDeleted EventType = "signup.deleted"

	// HeaderEventType carries the EventType on published messages.
	HeaderEventType = "event-type"
)

// Event is published after a signup is created or deleted. ID is unique per
// publication so consumers can drop redeliveries.
type Event struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	SignupID   string    `json:"signup_id"`
	EntryID    string    `json:"entry_id,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}
