package chat

import (
	"context"
	"strings"

	"marketchat/internal/app/dto"
	"marketchat/internal/app/uow"
	domainchat "marketchat/internal/domain/chat"
)

const (
	unreadKey          = "chat.unread"
	reconcileUnreadKey = "chat.reconcile_unread"
)

// UnreadQuery reads the maintained counters: the badge aggregate and its
// per-conversation breakdown. The aggregate is the sum of the breakdown by
// construction.
type UnreadQuery struct {
	UserID string
}

func (q UnreadQuery) Key() string { return unreadKey }

type UnreadHandler struct {
	UoWFactory uow.UoWFactory
}

func (h *UnreadHandler) Handle(ctx context.Context, q UnreadQuery) (*dto.UnreadSummary, error) {
	unit, ctx, finish, err := uow.Resolve(ctx, h.UoWFactory, uow.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, err
	}
	summary, err := buildUnreadSummary(ctx, unit, q.UserID)
	return summary, finish(err)
}

func buildUnreadSummary(ctx context.Context, unit uow.UnitOfWork, userID string) (*dto.UnreadSummary, error) {
	counts, err := unit.Unread().CountAll(ctx, userID)
	if err != nil {
		return nil, err
	}
	summary := &dto.UnreadSummary{ByConversation: make(map[string]int64, len(counts))}
	for conv, n := range counts {
		if n == 0 {
			continue
		}
		summary.ByConversation[string(conv)] = n
		summary.Total += n
	}
	return summary, nil
}

// ReconcileUnreadCommand recomputes one user's counters straight from the
// message store and overwrites the maintained values. This is the drift
// correction pass; after it runs, counters equal what a scan would yield.
type ReconcileUnreadCommand struct {
	UserID string
}

func (c ReconcileUnreadCommand) Key() string { return reconcileUnreadKey }

func (c ReconcileUnreadCommand) Validate() error {
	if strings.TrimSpace(c.UserID) == "" {
		return domainchat.ErrParticipantsRequired
	}
	return nil
}

type ReconcileUnreadHandler struct {
	UoWFactory uow.UoWFactory
}

func (h *ReconcileUnreadHandler) Handle(ctx context.Context, cmd ReconcileUnreadCommand) (*dto.UnreadSummary, error) {
	unit, ctx, finish, err := uow.Resolve(ctx, h.UoWFactory, uow.TxOptions{})
	if err != nil {
		return nil, err
	}
	summary, err := h.reconcile(ctx, unit, cmd)
	return summary, finish(err)
}

func (h *ReconcileUnreadHandler) reconcile(ctx context.Context, unit uow.UnitOfWork, cmd ReconcileUnreadCommand) (*dto.UnreadSummary, error) {
	recomputed, err := unit.Messages().UnreadByConversation(ctx, cmd.UserID)
	if err != nil {
		return nil, err
	}
	if err := unit.Unread().Replace(ctx, cmd.UserID, recomputed); err != nil {
		return nil, err
	}
	summary := &dto.UnreadSummary{ByConversation: make(map[string]int64, len(recomputed))}
	for conv, n := range recomputed {
		if n == 0 {
			continue
		}
		summary.ByConversation[string(conv)] = n
		summary.Total += n
	}
	return summary, nil
}
