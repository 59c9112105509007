package chat

import (
	"context"
	"strings"
	"time"

	"marketchat/internal/app/dto"
	"marketchat/internal/app/outbox"
	"marketchat/internal/app/uow"
	domainchat "marketchat/internal/domain/chat"
	"marketchat/internal/domain/shared/events"
)

const markReadKey = "chat.mark_read"

// MarkReadCommand flips every unread message addressed to the reader in
// one conversation. Naturally idempotent: a repeat transitions nothing.
type MarkReadCommand struct {
	ConversationID string
	ReaderID       string
}

func (c MarkReadCommand) Key() string { return markReadKey }

func (c MarkReadCommand) Validate() error {
	if strings.TrimSpace(c.ConversationID) == "" {
		return domainchat.ErrConversationNotFound
	}
	if strings.TrimSpace(c.ReaderID) == "" {
		return domainchat.ErrParticipantsRequired
	}
	return nil
}

type MarkReadHandler struct {
	UoWFactory uow.UoWFactory
	Outbox     outbox.Outbox
	Encoder    outbox.EventEncoder
	Now        func() time.Time
}

func (h *MarkReadHandler) Handle(ctx context.Context, cmd MarkReadCommand) (*dto.MarkReadResult, error) {
	unit, ctx, finish, err := uow.Resolve(ctx, h.UoWFactory, uow.TxOptions{})
	if err != nil {
		return nil, err
	}
	result, err := h.markRead(ctx, unit, cmd)
	return result, finish(err)
}

func (h *MarkReadHandler) markRead(ctx context.Context, unit uow.UnitOfWork, cmd MarkReadCommand) (*dto.MarkReadResult, error) {
	conv, err := unit.Conversations().ByID(ctx, domainchat.ConversationID(cmd.ConversationID))
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(cmd.ReaderID) {
		return nil, domainchat.ErrNotParticipant
	}

	now := h.now()
	transitioned, err := unit.Messages().MarkRead(ctx, conv.ID, cmd.ReaderID, now)
	if err != nil {
		return nil, err
	}
	// Zeroing rides the same unit of work as the message flips, so the
	// counter cannot drift from the flags even on a crash in between.
	if err := unit.Unread().Zero(ctx, cmd.ReaderID, conv.ID); err != nil {
		return nil, err
	}
	if transitioned > 0 {
		touched := []events.DomainEvent{domainchat.ConversationTouched{
			ConversationID: conv.ID,
			Participants:   conv.Participants(),
			At:             now,
		}}
		if err := outbox.RecordDomainEvents(ctx, h.Outbox, h.Encoder, touched); err != nil {
			return nil, err
		}
	}
	return &dto.MarkReadResult{Transitioned: transitioned, ReadAt: now}, nil
}

func (h *MarkReadHandler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now().UTC()
}
