package chat

import "time"

type ConversationCreated struct {
	ConversationID ConversationID `json:"conversation_id"`
	ListingID      ListingID      `json:"listing_id"`
	Initiator      string         `json:"initiator_id"`
	Owner          string         `json:"owner_id"`
	At             time.Time      `json:"at"`
}

func (e ConversationCreated) EventName() string     { return "chat.conversation_created" }
func (e ConversationCreated) AggregateID() string   { return string(e.ConversationID) }
func (e ConversationCreated) OccurredAt() time.Time { return e.At }

type MessageInserted struct {
	MessageID      MessageID      `json:"message_id"`
	ConversationID ConversationID `json:"conversation_id"`
	ListingID      ListingID      `json:"listing_id"`
	SenderID       string         `json:"sender_id"`
	ReceiverID     string         `json:"receiver_id"`
	At             time.Time      `json:"at"`
}

func (e MessageInserted) EventName() string     { return "chat.message_inserted" }
func (e MessageInserted) AggregateID() string   { return string(e.ConversationID) }
func (e MessageInserted) OccurredAt() time.Time { return e.At }

// ConversationTouched signals that registry state for a thread changed
// (recency advanced, read markers moved, block flag flipped). It is a hint
// only; consumers re-derive the row from the store.
type ConversationTouched struct {
	ConversationID ConversationID `json:"conversation_id"`
	Participants   []string       `json:"participants"`
	At             time.Time      `json:"at"`
}

func (e ConversationTouched) EventName() string     { return "chat.conversation_touched" }
func (e ConversationTouched) AggregateID() string   { return string(e.ConversationID) }
func (e ConversationTouched) OccurredAt() time.Time { return e.At }
