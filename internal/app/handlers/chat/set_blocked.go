package chat

import (
	"context"
	"strings"
	"time"

	"marketchat/internal/app/outbox"
	"marketchat/internal/app/uow"
	domainchat "marketchat/internal/domain/chat"
)

const setBlockedKey = "chat.set_blocked"

// SetBlockedCommand raises or clears the caller's block flag on a thread.
// Blocking suppresses new sends from the other side only; history stays.
type SetBlockedCommand struct {
	ConversationID string
	ByParticipant  string
	Blocked        bool
}

func (c SetBlockedCommand) Key() string { return setBlockedKey }

func (c SetBlockedCommand) Validate() error {
	if strings.TrimSpace(c.ConversationID) == "" {
		return domainchat.ErrConversationNotFound
	}
	if strings.TrimSpace(c.ByParticipant) == "" {
		return domainchat.ErrParticipantsRequired
	}
	return nil
}

type SetBlockedResult struct {
	ConversationID string `json:"conversation_id"`
	Blocked        bool   `json:"blocked"`
}

type SetBlockedHandler struct {
	UoWFactory uow.UoWFactory
	Outbox     outbox.Outbox
	Encoder    outbox.EventEncoder
	Now        func() time.Time
}

func (h *SetBlockedHandler) Handle(ctx context.Context, cmd SetBlockedCommand) (*SetBlockedResult, error) {
	unit, ctx, finish, err := uow.Resolve(ctx, h.UoWFactory, uow.TxOptions{})
	if err != nil {
		return nil, err
	}
	result, err := h.setBlocked(ctx, unit, cmd)
	return result, finish(err)
}

func (h *SetBlockedHandler) setBlocked(ctx context.Context, unit uow.UnitOfWork, cmd SetBlockedCommand) (*SetBlockedResult, error) {
	conv, err := unit.Conversations().ByID(ctx, domainchat.ConversationID(cmd.ConversationID))
	if err != nil {
		return nil, err
	}
	now := h.now()
	if err := conv.SetBlocked(cmd.ByParticipant, cmd.Blocked, now); err != nil {
		return nil, err
	}
	if err := unit.Conversations().Save(ctx, conv); err != nil {
		return nil, err
	}
	if err := outbox.RecordDomainEvents(ctx, h.Outbox, h.Encoder, conv.PendingEvents()); err != nil {
		return nil, err
	}
	conv.ClearEvents()
	return &SetBlockedResult{ConversationID: string(conv.ID), Blocked: cmd.Blocked}, nil
}

func (h *SetBlockedHandler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now().UTC()
}
