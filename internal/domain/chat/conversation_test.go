package chat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestConversation(t *testing.T) *Conversation {
	t.Helper()
	conv, err := NewConversation(CreateConversationParams{
		ID:        "conv-1",
		ListingID: "lst-1",
		Initiator: "buyer",
		Owner:     "seller",
		Now:       time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	return conv
}

func TestNewConversationValidation(t *testing.T) {
	_, err := NewConversation(CreateConversationParams{ID: "c", Initiator: "a", Owner: "b"})
	require.ErrorIs(t, err, ErrListingRequired)

	_, err = NewConversation(CreateConversationParams{ID: "c", ListingID: "l", Initiator: "a"})
	require.ErrorIs(t, err, ErrParticipantsRequired)

	_, err = NewConversation(CreateConversationParams{ID: "c", ListingID: "l", Initiator: "a", Owner: "a"})
	require.ErrorIs(t, err, ErrSelfConversation)
}

func TestNewConversationRecordsCreatedEvent(t *testing.T) {
	conv := newTestConversation(t)
	pending := conv.PendingEvents()
	require.Len(t, pending, 1)
	require.Equal(t, "chat.conversation_created", pending[0].EventName())
}

func TestPairKeyIsOrderInsensitive(t *testing.T) {
	require.Equal(t, PairKey("lst-1", "buyer", "seller"), PairKey("lst-1", "seller", "buyer"))
	require.NotEqual(t, PairKey("lst-1", "buyer", "seller"), PairKey("lst-2", "buyer", "seller"))
}

func TestCounterpart(t *testing.T) {
	conv := newTestConversation(t)

	other, err := conv.Counterpart("buyer")
	require.NoError(t, err)
	require.Equal(t, "seller", other)

	other, err = conv.Counterpart("seller")
	require.NoError(t, err)
	require.Equal(t, "buyer", other)

	_, err = conv.Counterpart("stranger")
	require.ErrorIs(t, err, ErrNotParticipant)
}

func TestBlockFlagsAreIndependent(t *testing.T) {
	conv := newTestConversation(t)
	now := time.Now()

	require.NoError(t, conv.SetBlocked("seller", true, now))
	require.True(t, conv.BlockedAgainst("buyer"))
	require.False(t, conv.BlockedAgainst("seller"))

	require.NoError(t, conv.SetBlocked("buyer", true, now))
	require.True(t, conv.BlockedAgainst("seller"))

	require.NoError(t, conv.SetBlocked("seller", false, now))
	require.False(t, conv.BlockedAgainst("buyer"))
	require.True(t, conv.BlockedAgainst("seller"))
}

func TestSetBlockedByStrangerFails(t *testing.T) {
	conv := newTestConversation(t)
	require.ErrorIs(t, conv.SetBlocked("stranger", true, time.Now()), ErrNotParticipant)
}

func TestSetBlockedNoopDoesNotRecordEvent(t *testing.T) {
	conv := newTestConversation(t)
	conv.ClearEvents()
	require.NoError(t, conv.SetBlocked("seller", false, time.Now()))
	require.Empty(t, conv.PendingEvents())
}

func TestAdvanceTracksLastMessage(t *testing.T) {
	conv := newTestConversation(t)
	msg, err := NewMessage(conv, CreateMessageParams{
		ID:       "msg-1",
		SenderID: "buyer",
		Body:     "is this still available?",
		Now:      conv.CreatedAt.Add(time.Minute),
	})
	require.NoError(t, err)

	conv.Advance(msg)
	require.Equal(t, msg.CreatedAt, conv.LastMessageAt)
	require.Equal(t, "buyer", conv.LastSenderID)
	require.Equal(t, "is this still available?", conv.LastMessageText)
}
