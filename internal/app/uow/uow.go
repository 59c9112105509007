package uow

import (
	"context"

	domainchat "marketchat/internal/domain/chat"
)

// UnitOfWork coordinates the chat repositories inside one transaction
// boundary. A message insert, the registry recency update and the unread
// counter bump all commit or roll back together.
type UnitOfWork interface {
	Conversations() domainchat.ConversationRepository
	Messages() domainchat.MessageRepository
	Unread() domainchat.UnreadRepository

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// UoWFactory starts unit of work instances.
type UoWFactory interface {
	Begin(ctx context.Context, opts TxOptions) (UnitOfWork, error)
}

// TxOptions configure transaction boundaries.
type TxOptions struct {
	ReadOnly bool
}
