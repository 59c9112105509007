package dto

import "time"

// Counterpart is the other participant's display identity. Placeholder is
// true when the profile lookup failed and a stub identity was emitted.
type Counterpart struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	Placeholder bool   `json:"placeholder,omitempty"`
}

// ConversationRow is one display-ready inbox entry: registry row joined
// with counterpart identity, last-message snippet and unread count.
type ConversationRow struct {
	ID                 string      `json:"id"`
	ListingID          string      `json:"listing_id"`
	Counterpart        Counterpart `json:"counterpart"`
	LastMessageAt      time.Time   `json:"last_message_at"`
	LastMessageSnippet string      `json:"last_message_snippet,omitempty"`
	LastMessageSender  string      `json:"last_message_sender_id,omitempty"`
	UnreadCount        int64       `json:"unread_count"`
	BlockedByMe        bool        `json:"blocked_by_me"`
	CreatedAt          time.Time   `json:"created_at"`
}

// ConversationList is a paginated inbox page.
type ConversationList struct {
	Items      []ConversationRow `json:"items"`
	NextCursor string            `json:"next_cursor,omitempty"`
}

// ChatMessage contains a single message payload.
type ChatMessage struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	ReceiverID     string    `json:"receiver_id"`
	Body           string    `json:"body"`
	IsRead         bool      `json:"is_read"`
	CreatedAt      time.Time `json:"created_at"`
}

// ChatMessageList is a paginated message page, oldest first.
type ChatMessageList struct {
	Items      []ChatMessage `json:"items"`
	NextCursor string        `json:"next_cursor,omitempty"`
}

// UnreadSummary carries the per-user aggregate badge value and its
// per-conversation breakdown.
type UnreadSummary struct {
	Total          int64            `json:"total"`
	ByConversation map[string]int64 `json:"by_conversation,omitempty"`
}

// MarkReadResult reports how many messages a mark-read call transitioned.
type MarkReadResult struct {
	Transitioned int64     `json:"transitioned"`
	ReadAt       time.Time `json:"read_at"`
}
