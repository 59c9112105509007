package bus

import "time"

// Kind tags a change hint.
type Kind string

const (
	KindMessageInserted     Kind = "message_inserted"
	KindConversationTouched Kind = "conversation_touched"
)

// Event is a change notification pushed to connected clients. It is a
// hint, not state: delivery is at-least-once and possibly out of order,
// and consumers always re-fetch the referenced conversation from source
// rather than trusting the payload.
type Event struct {
	Kind           Kind      `json:"kind"`
	ConversationID string    `json:"conversation_id"`
	Participants   []string  `json:"participants"`
	OccurredAt     time.Time `json:"occurred_at"`
}
