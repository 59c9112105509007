package chat

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"marketchat/internal/app/dto"
	"marketchat/internal/app/outbox"
	"marketchat/internal/app/policies"
	"marketchat/internal/app/uow"
	domainchat "marketchat/internal/domain/chat"
	"marketchat/internal/domain/shared/events"
)

const sendMessageKey = "chat.send_message"

// SendMessageCommand appends one message to a conversation. Clients retry
// timed-out sends with the same IdempotencyKeyV so the append happens once.
type SendMessageCommand struct {
	ConversationID  string
	SenderID        string
	Body            string
	IdempotencyKeyV string
}

func (c SendMessageCommand) Key() string { return sendMessageKey }

func (c SendMessageCommand) IdempotencyKey() string { return c.IdempotencyKeyV }

func (c SendMessageCommand) ResultPrototype() any { return &SendMessageResult{} }

func (c SendMessageCommand) Validate() error {
	if strings.TrimSpace(c.ConversationID) == "" {
		return domainchat.ErrConversationNotFound
	}
	if strings.TrimSpace(c.SenderID) == "" {
		return domainchat.ErrParticipantsRequired
	}
	if strings.TrimSpace(c.Body) == "" {
		return domainchat.ErrEmptyBody
	}
	return nil
}

type SendMessageResult struct {
	Message dto.ChatMessage `json:"message"`
}

type SendMessageHandler struct {
	UoWFactory uow.UoWFactory
	Listings   policies.ListingsPort
	Outbox     outbox.Outbox
	Encoder    outbox.EventEncoder
	Now        func() time.Time
}

// Handle persists the message, advances the conversation's recency and
// bumps the receiver's unread counter in one unit of work. A message never
// exists without the registry update, and the registry never advances
// without a backing message.
func (h *SendMessageHandler) Handle(ctx context.Context, cmd SendMessageCommand) (*SendMessageResult, error) {
	unit, ctx, finish, err := uow.Resolve(ctx, h.UoWFactory, uow.TxOptions{})
	if err != nil {
		return nil, err
	}
	result, err := h.send(ctx, unit, cmd)
	return result, finish(err)
}

func (h *SendMessageHandler) send(ctx context.Context, unit uow.UnitOfWork, cmd SendMessageCommand) (*SendMessageResult, error) {
	conv, err := unit.Conversations().ByID(ctx, domainchat.ConversationID(cmd.ConversationID))
	if err != nil {
		return nil, err
	}
	if h.Listings != nil {
		if _, err := h.Listings.ByID(ctx, string(conv.ListingID)); err != nil {
			return nil, err
		}
	}

	now := h.now()
	msg, err := domainchat.NewMessage(conv, domainchat.CreateMessageParams{
		ID:       domainchat.MessageID(uuid.NewString()),
		SenderID: cmd.SenderID,
		Body:     cmd.Body,
		Now:      now,
	})
	if err != nil {
		return nil, err
	}

	if err := unit.Messages().Insert(ctx, msg); err != nil {
		return nil, err
	}
	conv.Advance(msg)
	if err := unit.Conversations().Save(ctx, conv); err != nil {
		return nil, err
	}
	if err := unit.Unread().Increment(ctx, msg.ReceiverID, conv.ID, 1); err != nil {
		return nil, err
	}

	pending := append(conv.PendingEvents(), events.DomainEvent(domainchat.MessageInserted{
		MessageID:      msg.ID,
		ConversationID: conv.ID,
		ListingID:      conv.ListingID,
		SenderID:       msg.SenderID,
		ReceiverID:     msg.ReceiverID,
		At:             msg.CreatedAt,
	}))
	if err := outbox.RecordDomainEvents(ctx, h.Outbox, h.Encoder, pending); err != nil {
		return nil, err
	}
	conv.ClearEvents()

	return &SendMessageResult{Message: toChatMessage(msg)}, nil
}

func (h *SendMessageHandler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now().UTC()
}

func toChatMessage(msg *domainchat.Message) dto.ChatMessage {
	return dto.ChatMessage{
		ID:             string(msg.ID),
		ConversationID: string(msg.ConversationID),
		SenderID:       msg.SenderID,
		ReceiverID:     msg.ReceiverID,
		Body:           msg.Body,
		IsRead:         msg.IsRead,
		CreatedAt:      msg.CreatedAt,
	}
}
