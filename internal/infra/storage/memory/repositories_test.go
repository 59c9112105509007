package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	domainchat "marketchat/internal/domain/chat"
)

func testConversation(t *testing.T, id, listing, initiator, owner string) *domainchat.Conversation {
	t.Helper()
	conv, err := domainchat.NewConversation(domainchat.CreateConversationParams{
		ID:        domainchat.ConversationID(id),
		ListingID: domainchat.ListingID(listing),
		Initiator: initiator,
		Owner:     owner,
		Now:       time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	return conv
}

func TestConversationCreateEnforcesPairUniqueness(t *testing.T) {
	repo := NewConversationRepository()
	ctx := context.Background()

	first := testConversation(t, "conv-1", "lst-1", "buyer", "seller")
	require.NoError(t, repo.Create(ctx, first))

	// Same listing and pair from the other side collides.
	second := testConversation(t, "conv-2", "lst-1", "seller", "buyer")
	require.ErrorIs(t, repo.Create(ctx, second), domainchat.ErrConversationExists)

	// A different listing for the same pair is a new thread.
	third := testConversation(t, "conv-3", "lst-2", "buyer", "seller")
	require.NoError(t, repo.Create(ctx, third))
}

func TestConversationCreateConcurrentProducesSingleRow(t *testing.T) {
	repo := NewConversationRepository()
	ctx := context.Background()

	const writers = 32
	var wg sync.WaitGroup
	created := make(chan domainchat.ConversationID, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			conv := testConversation(t, fmt.Sprintf("conv-%d", n), "lst-1", "buyer", "seller")
			if err := repo.Create(ctx, conv); err == nil {
				created <- conv.ID
			}
		}(i)
	}
	wg.Wait()
	close(created)

	var winners []domainchat.ConversationID
	for id := range created {
		winners = append(winners, id)
	}
	require.Len(t, winners, 1)

	found, err := repo.ByPairKey(ctx, domainchat.PairKey("lst-1", "seller", "buyer"))
	require.NoError(t, err)
	require.Equal(t, winners[0], found.ID)
}

func TestConversationReadsReturnCopies(t *testing.T) {
	repo := NewConversationRepository()
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, testConversation(t, "conv-1", "lst-1", "buyer", "seller")))

	got, err := repo.ByID(ctx, "conv-1")
	require.NoError(t, err)
	got.BlockedByOwner = true

	again, err := repo.ByID(ctx, "conv-1")
	require.NoError(t, err)
	require.False(t, again.BlockedByOwner)
}

func insertMessage(t *testing.T, repo *MessageRepository, conv *domainchat.Conversation, id, sender string, at time.Time) *domainchat.Message {
	t.Helper()
	msg, err := domainchat.NewMessage(conv, domainchat.CreateMessageParams{
		ID:       domainchat.MessageID(id),
		SenderID: sender,
		Body:     "message " + id,
		Now:      at,
	})
	require.NoError(t, err)
	require.NoError(t, repo.Insert(context.Background(), msg))
	return msg
}

func TestMessageListPagePaginatesOldestFirst(t *testing.T) {
	repo := NewMessageRepository()
	conv := testConversation(t, "conv-1", "lst-1", "buyer", "seller")
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		insertMessage(t, repo, conv, fmt.Sprintf("msg-%d", i), "buyer", base.Add(time.Duration(i)*time.Minute))
	}

	page, err := repo.ListPage(context.Background(), conv.ID, "", 2)
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	require.Equal(t, domainchat.MessageID("msg-0"), page.Items[0].ID)
	require.NotEmpty(t, page.NextCursor)

	page, err = repo.ListPage(context.Background(), conv.ID, page.NextCursor, 10)
	require.NoError(t, err)
	require.Len(t, page.Items, 3)
	require.Equal(t, domainchat.MessageID("msg-2"), page.Items[0].ID)
	require.Empty(t, page.NextCursor)
}

func TestMessageMarkReadIsIdempotent(t *testing.T) {
	repo := NewMessageRepository()
	conv := testConversation(t, "conv-1", "lst-1", "buyer", "seller")
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	insertMessage(t, repo, conv, "msg-0", "buyer", base)
	insertMessage(t, repo, conv, "msg-1", "buyer", base.Add(time.Minute))
	insertMessage(t, repo, conv, "msg-2", "seller", base.Add(2*time.Minute))

	transitioned, err := repo.MarkRead(context.Background(), conv.ID, "seller", base.Add(3*time.Minute))
	require.NoError(t, err)
	require.EqualValues(t, 2, transitioned)

	count, err := repo.CountUnread(context.Background(), "seller", conv.ID)
	require.NoError(t, err)
	require.Zero(t, count)

	transitioned, err = repo.MarkRead(context.Background(), conv.ID, "seller", base.Add(4*time.Minute))
	require.NoError(t, err)
	require.Zero(t, transitioned)

	// The buyer's unread message is untouched.
	count, err = repo.CountUnread(context.Background(), "buyer", conv.ID)
	require.NoError(t, err)
	require.EqualValues(t, 1, count)
}

func TestUnreadAggregateEqualsSumOfCounts(t *testing.T) {
	repo := NewUnreadRepository()
	ctx := context.Background()
	require.NoError(t, repo.Increment(ctx, "seller", "conv-1", 3))
	require.NoError(t, repo.Increment(ctx, "seller", "conv-2", 2))
	require.NoError(t, repo.Increment(ctx, "seller", "conv-2", 1))

	all, err := repo.CountAll(ctx, "seller")
	require.NoError(t, err)
	var sum int64
	for _, n := range all {
		sum += n
	}
	total, err := repo.Aggregate(ctx, "seller")
	require.NoError(t, err)
	require.Equal(t, sum, total)
	require.EqualValues(t, 6, total)
}

func TestUnreadIncrementClampsAtZero(t *testing.T) {
	repo := NewUnreadRepository()
	ctx := context.Background()
	require.NoError(t, repo.Increment(ctx, "seller", "conv-1", -5))
	count, err := repo.Count(ctx, "seller", "conv-1")
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestUnreadReplaceOverwritesDrift(t *testing.T) {
	unread := NewUnreadRepository()
	messages := NewMessageRepository()
	ctx := context.Background()
	conv := testConversation(t, "conv-1", "lst-1", "buyer", "seller")
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	insertMessage(t, messages, conv, "msg-0", "buyer", base)
	insertMessage(t, messages, conv, "msg-1", "buyer", base.Add(time.Minute))

	// Simulate drifted counters.
	require.NoError(t, unread.Increment(ctx, "seller", conv.ID, 7))

	recomputed, err := messages.UnreadByConversation(ctx, "seller")
	require.NoError(t, err)
	require.NoError(t, unread.Replace(ctx, "seller", recomputed))

	total, err := unread.Aggregate(ctx, "seller")
	require.NoError(t, err)
	require.EqualValues(t, 2, total)
}
