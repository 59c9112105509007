package chat

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"marketchat/internal/app/outbox"
	"marketchat/internal/app/policies"
	"marketchat/internal/app/uow"
	domainchat "marketchat/internal/domain/chat"
)

const openConversationKey = "chat.open_conversation"

// OpenConversationCommand gets or creates the caller's thread with a
// listing's owner.
type OpenConversationCommand struct {
	ListingID string
	CallerID  string
}

func (c OpenConversationCommand) Key() string { return openConversationKey }

func (c OpenConversationCommand) Validate() error {
	if strings.TrimSpace(c.ListingID) == "" {
		return domainchat.ErrListingRequired
	}
	if strings.TrimSpace(c.CallerID) == "" {
		return domainchat.ErrParticipantsRequired
	}
	return nil
}

type OpenConversationResult struct {
	ConversationID string    `json:"conversation_id"`
	ListingID      string    `json:"listing_id"`
	Initiator      string    `json:"initiator_id"`
	Owner          string    `json:"owner_id"`
	CreatedAt      time.Time `json:"created_at"`
	LastMessageAt  time.Time `json:"last_message_at"`
	Created        bool      `json:"created"`
}

type OpenConversationHandler struct {
	UoWFactory uow.UoWFactory
	Listings   policies.ListingsPort
	Outbox     outbox.Outbox
	Encoder    outbox.EventEncoder
	Now        func() time.Time
}

// Handle resolves the (listing, unordered pair) key to a single thread. The
// create path relies on the repository's uniqueness guarantee, not on the
// lookup above it: when two writers race, the loser's Create fails with
// ErrConversationExists and the existing row is re-read.
func (h *OpenConversationHandler) Handle(ctx context.Context, cmd OpenConversationCommand) (*OpenConversationResult, error) {
	listing, err := h.Listings.ByID(ctx, cmd.ListingID)
	if err != nil {
		return nil, err
	}
	if listing.OwnerID == cmd.CallerID {
		return nil, domainchat.ErrSelfConversation
	}

	unit, ctx, finish, err := uow.Resolve(ctx, h.UoWFactory, uow.TxOptions{})
	if err != nil {
		return nil, err
	}
	result, err := h.open(ctx, unit, cmd, listing.OwnerID)
	return result, finish(err)
}

func (h *OpenConversationHandler) open(ctx context.Context, unit uow.UnitOfWork, cmd OpenConversationCommand, ownerID string) (*OpenConversationResult, error) {
	key := domainchat.PairKey(domainchat.ListingID(cmd.ListingID), cmd.CallerID, ownerID)
	existing, err := unit.Conversations().ByPairKey(ctx, key)
	if err != nil && !errors.Is(err, domainchat.ErrConversationNotFound) {
		return nil, err
	}
	if existing != nil {
		return toOpenResult(existing, false), nil
	}

	now := h.now()
	conv, err := domainchat.NewConversation(domainchat.CreateConversationParams{
		ID:        domainchat.ConversationID(uuid.NewString()),
		ListingID: domainchat.ListingID(cmd.ListingID),
		Initiator: cmd.CallerID,
		Owner:     ownerID,
		Now:       now,
	})
	if err != nil {
		return nil, err
	}
	if err := unit.Conversations().Create(ctx, conv); err != nil {
		if errors.Is(err, domainchat.ErrConversationExists) {
			winner, lookupErr := unit.Conversations().ByPairKey(ctx, key)
			if lookupErr != nil {
				return nil, lookupErr
			}
			return toOpenResult(winner, false), nil
		}
		return nil, err
	}
	if err := outbox.RecordDomainEvents(ctx, h.Outbox, h.Encoder, conv.PendingEvents()); err != nil {
		return nil, err
	}
	conv.ClearEvents()
	return toOpenResult(conv, true), nil
}

func (h *OpenConversationHandler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now().UTC()
}

func toOpenResult(conv *domainchat.Conversation, created bool) *OpenConversationResult {
	return &OpenConversationResult{
		ConversationID: string(conv.ID),
		ListingID:      string(conv.ListingID),
		Initiator:      conv.Initiator,
		Owner:          conv.Owner,
		CreatedAt:      conv.CreatedAt,
		LastMessageAt:  conv.LastMessageAt,
		Created:        created,
	}
}
