package chat

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrConversationExists is returned by Create when another writer already
// inserted a row for the same (listing, pair) key.
var ErrConversationExists = errors.New("chat: conversation already exists for this listing and pair")

// ErrInvalidCursor marks an unparsable pagination cursor.
var ErrInvalidCursor = errors.New("chat: invalid cursor")

// ConversationRepository is the registry of threads. Create must fail with
// ErrConversationExists on a pair-key collision rather than inserting a
// duplicate; callers resolve the race by re-reading.
type ConversationRepository interface {
	ByID(ctx context.Context, id ConversationID) (*Conversation, error)
	ByPairKey(ctx context.Context, key string) (*Conversation, error)
	Create(ctx context.Context, conv *Conversation) error
	Save(ctx context.Context, conv *Conversation) error
	ListForUser(ctx context.Context, userID string) ([]*Conversation, error)
}

// MessagePage is one slice of a conversation's history, oldest first.
type MessagePage struct {
	Items      []*Message
	NextCursor string
}

type MessageRepository interface {
	Insert(ctx context.Context, msg *Message) error
	// ListPage returns messages ordered by creation time ascending,
	// starting after the opaque cursor.
	ListPage(ctx context.Context, conversationID ConversationID, cursor string, limit int) (MessagePage, error)
	// MarkRead flips is_read on every unread message addressed to readerID
	// in the conversation and reports how many transitioned. Idempotent.
	MarkRead(ctx context.Context, conversationID ConversationID, readerID string, at time.Time) (int64, error)
	// CountUnread recomputes one pair's unread count straight from stored
	// messages. This is the reconciliation source of truth.
	CountUnread(ctx context.Context, userID string, conversationID ConversationID) (int64, error)
	UnreadByConversation(ctx context.Context, userID string) (map[ConversationID]int64, error)
}

// UnreadRepository holds the incrementally maintained counters. All
// mutations ride the same unit of work as the message mutation that caused
// them; Replace exists so a reconciliation pass can overwrite drift with
// values recomputed from MessageRepository.
type UnreadRepository interface {
	Increment(ctx context.Context, userID string, conversationID ConversationID, delta int64) error
	Zero(ctx context.Context, userID string, conversationID ConversationID) error
	Count(ctx context.Context, userID string, conversationID ConversationID) (int64, error)
	CountAll(ctx context.Context, userID string) (map[ConversationID]int64, error)
	Aggregate(ctx context.Context, userID string) (int64, error)
	Replace(ctx context.Context, userID string, counts map[ConversationID]int64) error
}

// EncodeCursor builds the opaque pagination cursor from a row's creation
// time and id.
func EncodeCursor(at time.Time, id string) string {
	return fmt.Sprintf("%d|%s", at.UTC().UnixNano(), id)
}

// ParseCursor splits an opaque cursor back into its position. An empty
// cursor means "from the beginning".
func ParseCursor(raw string) (time.Time, string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return time.Time{}, "", nil
	}
	parts := strings.SplitN(trimmed, "|", 2)
	if len(parts) != 2 || parts[1] == "" {
		return time.Time{}, "", ErrInvalidCursor
	}
	nanos, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return time.Time{}, "", ErrInvalidCursor
	}
	return time.Unix(0, nanos).UTC(), parts[1], nil
}
