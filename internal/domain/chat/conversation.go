package chat

import (
	"errors"
	"strings"
	"time"

	"marketchat/internal/domain/shared/events"
)

var (
	ErrListingRequired      = errors.New("chat: listing id is required")
	ErrParticipantsRequired = errors.New("chat: both participants are required")
	ErrSelfConversation     = errors.New("chat: cannot open a conversation with yourself")
	ErrNotParticipant       = errors.New("chat: user is not a conversation participant")
	ErrBlocked              = errors.New("chat: receiver has blocked the sender")
	ErrConversationNotFound = errors.New("chat: conversation not found")
)

type ConversationID string
type ListingID string

// Conversation is a durable two-party thread attached to a single listing.
// Initiator is the side that opened the thread (the interested party),
// Owner is the listing owner. Both are fixed at creation.
type Conversation struct {
	ID                 ConversationID
	ListingID          ListingID
	Initiator          string
	Owner              string
	BlockedByInitiator bool
	BlockedByOwner     bool
	LastMessageAt      time.Time
	LastMessageText    string
	LastSenderID       string
	CreatedAt          time.Time
	events.EventRecorder
}

type CreateConversationParams struct {
	ID        ConversationID
	ListingID ListingID
	Initiator string
	Owner     string
	Now       time.Time
}

func NewConversation(params CreateConversationParams) (*Conversation, error) {
	initiator := strings.TrimSpace(params.Initiator)
	owner := strings.TrimSpace(params.Owner)
	if strings.TrimSpace(string(params.ListingID)) == "" {
		return nil, ErrListingRequired
	}
	if initiator == "" || owner == "" {
		return nil, ErrParticipantsRequired
	}
	if initiator == owner {
		return nil, ErrSelfConversation
	}
	now := params.Now
	if now.IsZero() {
		now = time.Now()
	}
	now = now.UTC()
	conv := &Conversation{
		ID:            params.ID,
		ListingID:     params.ListingID,
		Initiator:     initiator,
		Owner:         owner,
		CreatedAt:     now,
		LastMessageAt: now,
	}
	conv.Record(ConversationCreated{
		ConversationID: conv.ID,
		ListingID:      conv.ListingID,
		Initiator:      conv.Initiator,
		Owner:          conv.Owner,
		At:             now,
	})
	return conv, nil
}

// PairKey identifies a conversation by listing and unordered participant
// pair. The registry enforces uniqueness on this key, which is what makes
// concurrent getOrCreate calls from both sides converge on one row.
func (c *Conversation) PairKey() string {
	return PairKey(c.ListingID, c.Initiator, c.Owner)
}

func PairKey(listing ListingID, a, b string) string {
	a = strings.TrimSpace(a)
	b = strings.TrimSpace(b)
	if b < a {
		a, b = b, a
	}
	return string(listing) + "|" + a + "|" + b
}

func (c *Conversation) HasParticipant(userID string) bool {
	return userID != "" && (userID == c.Initiator || userID == c.Owner)
}

// Counterpart returns the other participant, or an error when the user is
// not part of the thread.
func (c *Conversation) Counterpart(userID string) (string, error) {
	switch userID {
	case c.Initiator:
		return c.Owner, nil
	case c.Owner:
		return c.Initiator, nil
	default:
		return "", ErrNotParticipant
	}
}

// BlockedAgainst reports whether a message from senderID must be rejected,
// i.e. the receiving side has its block flag raised. Existing history stays
// readable either way; blocking only suppresses new sends.
func (c *Conversation) BlockedAgainst(senderID string) bool {
	switch senderID {
	case c.Initiator:
		return c.BlockedByOwner
	case c.Owner:
		return c.BlockedByInitiator
	default:
		return false
	}
}

// SetBlocked raises or clears the caller's own block flag. Each side's flag
// is independent.
func (c *Conversation) SetBlocked(byParticipant string, blocked bool, now time.Time) error {
	if now.IsZero() {
		now = time.Now()
	}
	switch byParticipant {
	case c.Initiator:
		if c.BlockedByInitiator == blocked {
			return nil
		}
		c.BlockedByInitiator = blocked
	case c.Owner:
		if c.BlockedByOwner == blocked {
			return nil
		}
		c.BlockedByOwner = blocked
	default:
		return ErrNotParticipant
	}
	c.Record(ConversationTouched{ConversationID: c.ID, Participants: c.Participants(), At: now.UTC()})
	return nil
}

// Advance moves the recency fields after a successful append. It must only
// be called with the created_at of a message that was persisted in the same
// unit of work, so last_message_at never points ahead of stored history.
func (c *Conversation) Advance(msg *Message) {
	c.LastMessageAt = msg.CreatedAt
	c.LastSenderID = msg.SenderID
	c.LastMessageText = Snippet(msg.Body, snippetRunes)
	c.Record(ConversationTouched{ConversationID: c.ID, Participants: c.Participants(), At: msg.CreatedAt})
}

func (c *Conversation) Participants() []string {
	return []string{c.Initiator, c.Owner}
}
