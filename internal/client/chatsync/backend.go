package chatsync

import (
	"context"
	"errors"

	"marketchat/internal/app/dto"
	domainchat "marketchat/internal/domain/chat"
	"marketchat/internal/infra/bus"
)

// Backend is the server surface the session syncs against. The in-process
// implementation dispatches to the application buses; a remote client would
// satisfy it over HTTP.
type Backend interface {
	Inbox(ctx context.Context, limit int, cursor string) (*dto.ConversationList, error)
	Messages(ctx context.Context, conversationID, cursor string, limit int) (*dto.ChatMessageList, error)
	Unread(ctx context.Context) (*dto.UnreadSummary, error)
	Send(ctx context.Context, conversationID, body, idempotencyKey string) (*dto.ChatMessage, error)
	MarkRead(ctx context.Context, conversationID string) (*dto.MarkReadResult, error)
}

// ConnectFunc opens the change event stream. The returned channel closing
// signals a stream disconnect and sends the session back to syncing.
type ConnectFunc func(ctx context.Context) (<-chan bus.Event, error)

// permanent reports whether an error can never succeed on retry. Everything
// else is treated as transient and retried with backoff.
func permanent(err error) bool {
	switch {
	case errors.Is(err, domainchat.ErrBlocked),
		errors.Is(err, domainchat.ErrNotParticipant),
		errors.Is(err, domainchat.ErrConversationNotFound),
		errors.Is(err, domainchat.ErrEmptyBody),
		errors.Is(err, domainchat.ErrBodyTooLong),
		errors.Is(err, domainchat.ErrInvalidCursor),
		errors.Is(err, domainchat.ErrSelfConversation):
		return true
	}
	return false
}
