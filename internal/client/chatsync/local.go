package chatsync

import (
	"context"

	"marketchat/internal/app/commands"
	"marketchat/internal/app/dto"
	chathandlers "marketchat/internal/app/handlers/chat"
	"marketchat/internal/app/queries"
	"marketchat/internal/infra/bus"
)

// LocalBackend serves the sync contract in-process by dispatching straight
// to the application buses. Used by tests and by the embedded client.
type LocalBackend struct {
	UserID   string
	Commands commands.Bus
	Queries  queries.Bus
}

func (b LocalBackend) Inbox(ctx context.Context, limit int, cursor string) (*dto.ConversationList, error) {
	return queries.Ask[chathandlers.InboxQuery, *dto.ConversationList](ctx, b.Queries, chathandlers.InboxQuery{
		UserID: b.UserID,
		Limit:  limit,
		Cursor: cursor,
	})
}

func (b LocalBackend) Messages(ctx context.Context, conversationID, cursor string, limit int) (*dto.ChatMessageList, error) {
	return queries.Ask[chathandlers.ListMessagesQuery, *dto.ChatMessageList](ctx, b.Queries, chathandlers.ListMessagesQuery{
		ConversationID: conversationID,
		RequesterID:    b.UserID,
		Cursor:         cursor,
		Limit:          limit,
	})
}

func (b LocalBackend) Unread(ctx context.Context) (*dto.UnreadSummary, error) {
	return queries.Ask[chathandlers.UnreadQuery, *dto.UnreadSummary](ctx, b.Queries, chathandlers.UnreadQuery{UserID: b.UserID})
}

func (b LocalBackend) Send(ctx context.Context, conversationID, body, idempotencyKey string) (*dto.ChatMessage, error) {
	result, err := commands.Dispatch[chathandlers.SendMessageCommand, *chathandlers.SendMessageResult](ctx, b.Commands, chathandlers.SendMessageCommand{
		ConversationID:  conversationID,
		SenderID:        b.UserID,
		Body:            body,
		IdempotencyKeyV: idempotencyKey,
	})
	if err != nil {
		return nil, err
	}
	msg := result.Message
	return &msg, nil
}

func (b LocalBackend) MarkRead(ctx context.Context, conversationID string) (*dto.MarkReadResult, error) {
	return commands.Dispatch[chathandlers.MarkReadCommand, *dto.MarkReadResult](ctx, b.Commands, chathandlers.MarkReadCommand{
		ConversationID: conversationID,
		ReaderID:       b.UserID,
	})
}

// LocalConnect subscribes to the in-process hub. The subscription is torn
// down when the session context ends, which closes the event channel.
func LocalConnect(hub *bus.Hub, userID string) ConnectFunc {
	return func(ctx context.Context) (<-chan bus.Event, error) {
		sub := hub.Subscribe(userID)
		go func() {
			<-ctx.Done()
			sub.Close()
		}()
		return sub.C, nil
	}
}

var _ Backend = LocalBackend{}
