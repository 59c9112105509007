package chat

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"marketchat/internal/app/commands"
	"marketchat/internal/app/middleware"
	"marketchat/internal/app/policies"
	"marketchat/internal/app/uow"
	domainchat "marketchat/internal/domain/chat"
	"marketchat/internal/infra/storage/memory"
)

type fixture struct {
	factory  memory.Factory
	outbox   *memory.Outbox
	listings *memory.ListingDirectory
	profiles *memory.ProfileDirectory

	open      *OpenConversationHandler
	send      *SendMessageHandler
	markRead  *MarkReadHandler
	block     *SetBlockedHandler
	inbox     *InboxHandler
	unread    *UnreadHandler
	reconcile *ReconcileUnreadHandler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		factory:  memory.NewFactory(),
		outbox:   memory.NewOutbox(),
		listings: memory.NewListingDirectory(),
		profiles: memory.NewProfileDirectory(),
	}
	f.listings.Put(policies.ListingSummary{ID: "lst-1", OwnerID: "seller", Title: "Road bike", Slug: "road-bike"})
	f.profiles.Put(policies.CounterpartProfile{ID: "seller", DisplayName: "Seller S."})
	f.profiles.Put(policies.CounterpartProfile{ID: "buyer", DisplayName: "Buyer B."})

	f.open = &OpenConversationHandler{UoWFactory: f.factory, Listings: f.listings, Outbox: f.outbox}
	f.send = &SendMessageHandler{UoWFactory: f.factory, Listings: f.listings, Outbox: f.outbox}
	f.markRead = &MarkReadHandler{UoWFactory: f.factory, Outbox: f.outbox}
	f.block = &SetBlockedHandler{UoWFactory: f.factory, Outbox: f.outbox}
	f.inbox = &InboxHandler{UoWFactory: f.factory, Profiles: f.profiles}
	f.unread = &UnreadHandler{UoWFactory: f.factory}
	f.reconcile = &ReconcileUnreadHandler{UoWFactory: f.factory}
	return f
}

func (f *fixture) openConversation(t *testing.T, caller string) string {
	t.Helper()
	result, err := f.open.Handle(context.Background(), OpenConversationCommand{ListingID: "lst-1", CallerID: caller})
	require.NoError(t, err)
	return result.ConversationID
}

func TestOpenConversationCreatesThenReuses(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.open.Handle(ctx, OpenConversationCommand{ListingID: "lst-1", CallerID: "buyer"})
	require.NoError(t, err)
	require.True(t, first.Created)
	require.Equal(t, "buyer", first.Initiator)
	require.Equal(t, "seller", first.Owner)

	second, err := f.open.Handle(ctx, OpenConversationCommand{ListingID: "lst-1", CallerID: "buyer"})
	require.NoError(t, err)
	require.False(t, second.Created)
	require.Equal(t, first.ConversationID, second.ConversationID)
}

func TestOpenConversationRejectsOwner(t *testing.T) {
	f := newFixture(t)
	_, err := f.open.Handle(context.Background(), OpenConversationCommand{ListingID: "lst-1", CallerID: "seller"})
	require.ErrorIs(t, err, domainchat.ErrSelfConversation)
}

func TestOpenConversationUnknownListing(t *testing.T) {
	f := newFixture(t)
	_, err := f.open.Handle(context.Background(), OpenConversationCommand{ListingID: "lst-404", CallerID: "buyer"})
	require.ErrorIs(t, err, policies.ErrListingNotFound)
}

func TestSendMessageUpdatesRegistryAndUnreadTogether(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	convID := f.openConversation(t, "buyer")

	sent, err := f.send.Handle(ctx, SendMessageCommand{ConversationID: convID, SenderID: "buyer", Body: "still available?"})
	require.NoError(t, err)
	require.Equal(t, "seller", sent.Message.ReceiverID)

	unit, err := f.factory.Begin(ctx, uow.TxOptions{})
	require.NoError(t, err)
	defer unit.Rollback(ctx)

	conv, err := unit.Conversations().ByID(ctx, domainchat.ConversationID(convID))
	require.NoError(t, err)
	require.True(t, conv.LastMessageAt.Equal(sent.Message.CreatedAt))
	require.Equal(t, "still available?", conv.LastMessageText)
	require.Equal(t, "buyer", conv.LastSenderID)

	count, err := unit.Unread().Count(ctx, "seller", conv.ID)
	require.NoError(t, err)
	require.EqualValues(t, 1, count)

	page, err := unit.Messages().ListPage(ctx, conv.ID, "", 10)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
}

func TestSendMessageBlockedLeavesNoTrace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	convID := f.openConversation(t, "buyer")

	_, err := f.block.Handle(ctx, SetBlockedCommand{ConversationID: convID, ByParticipant: "seller", Blocked: true})
	require.NoError(t, err)

	_, err = f.send.Handle(ctx, SendMessageCommand{ConversationID: convID, SenderID: "buyer", Body: "hello?"})
	require.ErrorIs(t, err, domainchat.ErrBlocked)

	unit, err := f.factory.Begin(ctx, uow.TxOptions{})
	require.NoError(t, err)
	defer unit.Rollback(ctx)

	page, err := unit.Messages().ListPage(ctx, domainchat.ConversationID(convID), "", 10)
	require.NoError(t, err)
	require.Empty(t, page.Items)

	count, err := unit.Unread().Count(ctx, "seller", domainchat.ConversationID(convID))
	require.NoError(t, err)
	require.Zero(t, count)

	// Unblocking restores the path.
	_, err = f.block.Handle(ctx, SetBlockedCommand{ConversationID: convID, ByParticipant: "seller", Blocked: false})
	require.NoError(t, err)
	_, err = f.send.Handle(ctx, SendMessageCommand{ConversationID: convID, SenderID: "buyer", Body: "hello again"})
	require.NoError(t, err)
}

func TestMarkReadTransitionsOnceAndCountsFollow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	convID := f.openConversation(t, "buyer")

	for i := 0; i < 3; i++ {
		_, err := f.send.Handle(ctx, SendMessageCommand{ConversationID: convID, SenderID: "buyer", Body: "ping"})
		require.NoError(t, err)
	}
	summary, err := f.unread.Handle(ctx, UnreadQuery{UserID: "seller"})
	require.NoError(t, err)
	require.EqualValues(t, 3, summary.Total)

	result, err := f.markRead.Handle(ctx, MarkReadCommand{ConversationID: convID, ReaderID: "seller"})
	require.NoError(t, err)
	require.EqualValues(t, 3, result.Transitioned)

	summary, err = f.unread.Handle(ctx, UnreadQuery{UserID: "seller"})
	require.NoError(t, err)
	require.Zero(t, summary.Total)

	// Second call transitions nothing and does not fail.
	result, err = f.markRead.Handle(ctx, MarkReadCommand{ConversationID: convID, ReaderID: "seller"})
	require.NoError(t, err)
	require.Zero(t, result.Transitioned)

	// A fresh message makes the thread unread again.
	_, err = f.send.Handle(ctx, SendMessageCommand{ConversationID: convID, SenderID: "buyer", Body: "one more"})
	require.NoError(t, err)
	summary, err = f.unread.Handle(ctx, UnreadQuery{UserID: "seller"})
	require.NoError(t, err)
	require.EqualValues(t, 1, summary.Total)
	require.EqualValues(t, 1, summary.ByConversation[convID])
}

func TestMarkReadRequiresParticipant(t *testing.T) {
	f := newFixture(t)
	convID := f.openConversation(t, "buyer")
	_, err := f.markRead.Handle(context.Background(), MarkReadCommand{ConversationID: convID, ReaderID: "stranger"})
	require.ErrorIs(t, err, domainchat.ErrNotParticipant)
}

func TestInboxOrdersByActivityAndJoinsUnread(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.listings.Put(policies.ListingSummary{ID: "lst-2", OwnerID: "seller", Title: "Desk", Slug: "desk"})

	firstResult, err := f.open.Handle(ctx, OpenConversationCommand{ListingID: "lst-1", CallerID: "buyer"})
	require.NoError(t, err)
	secondResult, err := f.open.Handle(ctx, OpenConversationCommand{ListingID: "lst-2", CallerID: "buyer"})
	require.NoError(t, err)

	_, err = f.send.Handle(ctx, SendMessageCommand{ConversationID: firstResult.ConversationID, SenderID: "buyer", Body: "about the bike"})
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	_, err = f.send.Handle(ctx, SendMessageCommand{ConversationID: secondResult.ConversationID, SenderID: "buyer", Body: "about the desk"})
	require.NoError(t, err)

	list, err := f.inbox.Handle(ctx, InboxQuery{UserID: "seller"})
	require.NoError(t, err)
	require.Len(t, list.Items, 2)
	require.Equal(t, secondResult.ConversationID, list.Items[0].ID)
	require.Equal(t, firstResult.ConversationID, list.Items[1].ID)
	require.EqualValues(t, 1, list.Items[0].UnreadCount)
	require.Equal(t, "Buyer B.", list.Items[0].Counterpart.DisplayName)
	require.Equal(t, "about the desk", list.Items[0].LastMessageSnippet)
}

type failingProfiles struct{}

func (failingProfiles) Batch(context.Context, []string) (map[string]policies.CounterpartProfile, error) {
	return nil, errors.New("profiles down")
}

func TestInboxDegradesToPlaceholderOnProfileFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	convID := f.openConversation(t, "buyer")
	_, err := f.send.Handle(ctx, SendMessageCommand{ConversationID: convID, SenderID: "buyer", Body: "hi"})
	require.NoError(t, err)

	broken := &InboxHandler{UoWFactory: f.factory, Profiles: failingProfiles{}}
	list, err := broken.Handle(ctx, InboxQuery{UserID: "seller"})
	require.NoError(t, err)
	require.Len(t, list.Items, 1)
	require.True(t, list.Items[0].Counterpart.Placeholder)
	require.Equal(t, "buyer", list.Items[0].Counterpart.ID)
}

func TestInboxPagination(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, id := range []string{"lst-1", "lst-2", "lst-3"} {
		if id != "lst-1" {
			f.listings.Put(policies.ListingSummary{ID: id, OwnerID: "seller"})
		}
		result, err := f.open.Handle(ctx, OpenConversationCommand{ListingID: id, CallerID: "buyer"})
		require.NoError(t, err)
		_, err = f.send.Handle(ctx, SendMessageCommand{ConversationID: result.ConversationID, SenderID: "buyer", Body: "msg"})
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond)
	}

	page, err := f.inbox.Handle(ctx, InboxQuery{UserID: "seller", Limit: 2})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	require.NotEmpty(t, page.NextCursor)

	rest, err := f.inbox.Handle(ctx, InboxQuery{UserID: "seller", Limit: 2, Cursor: page.NextCursor})
	require.NoError(t, err)
	require.Len(t, rest.Items, 1)
	require.NotEqual(t, page.Items[0].ID, rest.Items[0].ID)
	require.NotEqual(t, page.Items[1].ID, rest.Items[0].ID)
}

func TestReconcileUnreadMatchesIncrementalCounters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	convID := f.openConversation(t, "buyer")
	for i := 0; i < 2; i++ {
		_, err := f.send.Handle(ctx, SendMessageCommand{ConversationID: convID, SenderID: "buyer", Body: "hey"})
		require.NoError(t, err)
	}

	before, err := f.unread.Handle(ctx, UnreadQuery{UserID: "seller"})
	require.NoError(t, err)

	// Inject drift directly into the counter store.
	require.NoError(t, f.factory.UnreadRepo.Increment(ctx, "seller", domainchat.ConversationID(convID), 5))

	after, err := f.reconcile.Handle(ctx, ReconcileUnreadCommand{UserID: "seller"})
	require.NoError(t, err)
	require.Equal(t, before.Total, after.Total)
	require.EqualValues(t, 2, after.Total)
}

func TestSendMessageRetriedWithSameKeyAppendsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	convID := f.openConversation(t, "buyer")

	bus := commands.NewInMemoryBus()
	commands.RegisterHandler(bus, SendMessageCommand{}.Key(), f.send)
	chained := middleware.ChainCommands(
		bus,
		middleware.Validation(),
		middleware.Idempotency(memory.NewIdempotencyStore(), nil),
		middleware.Transaction(f.factory, nil),
		middleware.OutboxFlush(f.outbox),
	)

	cmd := SendMessageCommand{
		ConversationID:  convID,
		SenderID:        "buyer",
		Body:            "exactly once",
		IdempotencyKeyV: "retry-key-1",
	}
	first, err := commands.Dispatch[SendMessageCommand, *SendMessageResult](ctx, chained, cmd)
	require.NoError(t, err)
	second, err := commands.Dispatch[SendMessageCommand, *SendMessageResult](ctx, chained, cmd)
	require.NoError(t, err)
	require.Equal(t, first.Message.ID, second.Message.ID)

	unit, err := f.factory.Begin(ctx, uow.TxOptions{})
	require.NoError(t, err)
	defer unit.Rollback(ctx)
	page, err := unit.Messages().ListPage(ctx, domainchat.ConversationID(convID), "", 10)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)

	count, err := unit.Unread().Count(ctx, "seller", domainchat.ConversationID(convID))
	require.NoError(t, err)
	require.EqualValues(t, 1, count)
}

func TestSendMessageFailureNotReplayedForSameKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	convID := f.openConversation(t, "buyer")

	bus := commands.NewInMemoryBus()
	commands.RegisterHandler(bus, SendMessageCommand{}.Key(), f.send)
	chained := middleware.ChainCommands(
		bus,
		middleware.Validation(),
		middleware.Idempotency(memory.NewIdempotencyStore(), nil),
		middleware.Transaction(f.factory, nil),
		middleware.OutboxFlush(f.outbox),
	)

	_, err := f.block.Handle(ctx, SetBlockedCommand{ConversationID: convID, ByParticipant: "seller", Blocked: true})
	require.NoError(t, err)

	cmd := SendMessageCommand{
		ConversationID:  convID,
		SenderID:        "buyer",
		Body:            "hello",
		IdempotencyKeyV: "retry-key-2",
	}
	_, err = commands.Dispatch[SendMessageCommand, *SendMessageResult](ctx, chained, cmd)
	require.ErrorIs(t, err, domainchat.ErrBlocked)

	// The rejection must not poison the key: retrying the same key after
	// the seller unblocks succeeds, and the sentinel keeps its identity
	// on the failed attempt rather than flattening to a cached string.
	_, err = f.block.Handle(ctx, SetBlockedCommand{ConversationID: convID, ByParticipant: "seller", Blocked: false})
	require.NoError(t, err)

	sent, err := commands.Dispatch[SendMessageCommand, *SendMessageResult](ctx, chained, cmd)
	require.NoError(t, err)
	require.NotEmpty(t, sent.Message.ID)

	again, err := commands.Dispatch[SendMessageCommand, *SendMessageResult](ctx, chained, cmd)
	require.NoError(t, err)
	require.Equal(t, sent.Message.ID, again.Message.ID)
}

func TestInboxPaginationStableWhenActivityTies(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	at := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	ids := []string{"conv-a", "conv-b", "conv-c"}
	for _, id := range ids {
		conv := &domainchat.Conversation{
			ID:            domainchat.ConversationID(id),
			ListingID:     domainchat.ListingID("lst-" + id),
			Initiator:     "buyer",
			Owner:         "seller",
			LastMessageAt: at,
			CreatedAt:     at,
		}
		require.NoError(t, f.factory.ConversationsRepo.Create(ctx, conv))
	}

	seen := map[string]int{}
	cursor := ""
	for range ids {
		page, err := f.inbox.Handle(ctx, InboxQuery{UserID: "seller", Limit: 1, Cursor: cursor})
		require.NoError(t, err)
		require.Len(t, page.Items, 1)
		seen[page.Items[0].ID]++
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}
	require.Len(t, seen, len(ids))
	for id, hits := range seen {
		require.Equal(t, 1, hits, id)
	}
}
