package memory

import (
	"context"
	"errors"

	"marketchat/internal/app/uow"
	domainchat "marketchat/internal/domain/chat"
)

// Factory wires in-memory repositories into a unit-of-work boundary.
type Factory struct {
	ConversationsRepo domainchat.ConversationRepository
	MessagesRepo      domainchat.MessageRepository
	UnreadRepo        domainchat.UnreadRepository
}

// ErrFactoryMisconfigured indicates missing repositories.
var ErrFactoryMisconfigured = errors.New("memory: unit of work factory misconfigured")

// NewFactory builds a factory over a fresh set of stores, handy for tests.
func NewFactory() Factory {
	return Factory{
		ConversationsRepo: NewConversationRepository(),
		MessagesRepo:      NewMessageRepository(),
		UnreadRepo:        NewUnreadRepository(),
	}
}

// Begin starts a lightweight transaction boundary. No isolation is
// provided but the abstraction matches the application ports.
func (f Factory) Begin(ctx context.Context, opts uow.TxOptions) (uow.UnitOfWork, error) {
	if f.ConversationsRepo == nil || f.MessagesRepo == nil || f.UnreadRepo == nil {
		return nil, ErrFactoryMisconfigured
	}
	return &Unit{
		conversations: f.ConversationsRepo,
		messages:      f.MessagesRepo,
		unread:        f.UnreadRepo,
	}, nil
}

// Unit is a lightweight uow.UnitOfWork backed by in-memory stores.
type Unit struct {
	conversations domainchat.ConversationRepository
	messages      domainchat.MessageRepository
	unread        domainchat.UnreadRepository
}

func (u *Unit) Conversations() domainchat.ConversationRepository {
	return u.conversations
}

func (u *Unit) Messages() domainchat.MessageRepository {
	return u.messages
}

func (u *Unit) Unread() domainchat.UnreadRepository {
	return u.unread
}

func (u *Unit) Commit(ctx context.Context) error {
	return nil
}

func (u *Unit) Rollback(ctx context.Context) error {
	return nil
}
