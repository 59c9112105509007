package chat

import (
	"errors"
	"strings"
	"time"
)

var (
	ErrEmptyBody       = errors.New("chat: message body is empty")
	ErrBodyTooLong     = errors.New("chat: message body exceeds limit")
	ErrMessageNotFound = errors.New("chat: message not found")
)

const (
	// MaxBodyRunes bounds a single message body.
	MaxBodyRunes = 4000
	snippetRunes = 500
)

type MessageID string

// Message is an immutable chat entry; only IsRead may change after
// creation, false to true, and only the receiver drives that transition.
type Message struct {
	ID             MessageID
	ConversationID ConversationID
	SenderID       string
	ReceiverID     string
	ListingID      ListingID
	Body           string
	IsRead         bool
	CreatedAt      time.Time
}

type CreateMessageParams struct {
	ID       MessageID
	SenderID string
	Body     string
	Now      time.Time
}

// NewMessage validates and builds a message inside the given conversation.
// The receiver is derived as the participant that is not the sender.
func NewMessage(conv *Conversation, params CreateMessageParams) (*Message, error) {
	if conv == nil {
		return nil, ErrConversationNotFound
	}
	body := strings.TrimSpace(params.Body)
	if body == "" {
		return nil, ErrEmptyBody
	}
	if len([]rune(body)) > MaxBodyRunes {
		return nil, ErrBodyTooLong
	}
	receiver, err := conv.Counterpart(params.SenderID)
	if err != nil {
		return nil, err
	}
	if conv.BlockedAgainst(params.SenderID) {
		return nil, ErrBlocked
	}
	now := params.Now
	if now.IsZero() {
		now = time.Now()
	}
	return &Message{
		ID:             params.ID,
		ConversationID: conv.ID,
		SenderID:       params.SenderID,
		ReceiverID:     receiver,
		ListingID:      conv.ListingID,
		Body:           body,
		CreatedAt:      now.UTC(),
	}, nil
}

// Snippet trims a body down to a preview of at most max runes.
func Snippet(text string, max int) string {
	if max <= 0 {
		return ""
	}
	runes := []rune(strings.TrimSpace(text))
	if len(runes) <= max {
		return string(runes)
	}
	return string(runes[:max])
}
