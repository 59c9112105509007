package chat

import (
	"context"

	"marketchat/internal/app/dto"
	"marketchat/internal/app/uow"
	domainchat "marketchat/internal/domain/chat"
)

const listMessagesKey = "chat.list_messages"

// ListMessagesQuery pages through one conversation's history, oldest
// first. The cursor is opaque and restartable.
type ListMessagesQuery struct {
	ConversationID string
	RequesterID    string
	Cursor         string
	Limit          int
}

func (q ListMessagesQuery) Key() string { return listMessagesKey }

type ListMessagesHandler struct {
	UoWFactory uow.UoWFactory
}

func (h *ListMessagesHandler) Handle(ctx context.Context, q ListMessagesQuery) (*dto.ChatMessageList, error) {
	unit, ctx, finish, err := uow.Resolve(ctx, h.UoWFactory, uow.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, err
	}
	list, err := h.list(ctx, unit, q)
	return list, finish(err)
}

func (h *ListMessagesHandler) list(ctx context.Context, unit uow.UnitOfWork, q ListMessagesQuery) (*dto.ChatMessageList, error) {
	conv, err := unit.Conversations().ByID(ctx, domainchat.ConversationID(q.ConversationID))
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(q.RequesterID) {
		return nil, domainchat.ErrNotParticipant
	}
	limit := normalizeLimit(q.Limit, 50, 200)
	page, err := unit.Messages().ListPage(ctx, conv.ID, q.Cursor, limit)
	if err != nil {
		return nil, err
	}
	list := &dto.ChatMessageList{
		Items:      make([]dto.ChatMessage, 0, len(page.Items)),
		NextCursor: page.NextCursor,
	}
	for _, msg := range page.Items {
		list.Items = append(list.Items, toChatMessage(msg))
	}
	return list, nil
}
