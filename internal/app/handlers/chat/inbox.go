package chat

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"marketchat/internal/app/dto"
	"marketchat/internal/app/policies"
	"marketchat/internal/app/uow"
	domainchat "marketchat/internal/domain/chat"
)

const inboxKey = "chat.inbox"

// InboxQuery builds the display-ready conversation list for one user,
// ordered by last activity descending.
type InboxQuery struct {
	UserID string
	Limit  int
	Cursor string
}

func (q InboxQuery) Key() string { return inboxKey }

// InboxHandler joins registry rows with unread counts and counterpart
// profiles. Every recomputation is a full re-derivation from source state;
// nothing here patches a previously built row.
type InboxHandler struct {
	UoWFactory uow.UoWFactory
	Profiles   policies.ProfilesPort
	Logger     *slog.Logger
}

func (h *InboxHandler) Handle(ctx context.Context, q InboxQuery) (*dto.ConversationList, error) {
	unit, ctx, finish, err := uow.Resolve(ctx, h.UoWFactory, uow.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, err
	}
	list, err := h.build(ctx, unit, q)
	return list, finish(err)
}

func (h *InboxHandler) build(ctx context.Context, unit uow.UnitOfWork, q InboxQuery) (*dto.ConversationList, error) {
	conversations, err := unit.Conversations().ListForUser(ctx, q.UserID)
	if err != nil {
		return nil, err
	}
	unread, err := unit.Unread().CountAll(ctx, q.UserID)
	if err != nil {
		return nil, err
	}

	// Tie-break equal activity times by ID so the cursor skip below sees
	// the same total order on every page.
	sort.Slice(conversations, func(i, j int) bool {
		ai, aj := lastActivity(conversations[i]), lastActivity(conversations[j])
		if ai.Equal(aj) {
			return conversations[i].ID > conversations[j].ID
		}
		return ai.After(aj)
	})

	cursorTime, cursorID, err := domainchat.ParseCursor(q.Cursor)
	if err != nil {
		return nil, err
	}
	limit := normalizeLimit(q.Limit, 20, 100)

	page := make([]*domainchat.Conversation, 0, limit)
	for _, conv := range conversations {
		if cursorID != "" {
			activity := lastActivity(conv)
			if activity.After(cursorTime) {
				continue
			}
			if activity.Equal(cursorTime) && string(conv.ID) >= cursorID {
				continue
			}
		}
		page = append(page, conv)
		if len(page) == limit {
			break
		}
	}

	profiles := h.lookupProfiles(ctx, q.UserID, page)

	list := &dto.ConversationList{Items: make([]dto.ConversationRow, 0, len(page))}
	for _, conv := range page {
		counterpartID, err := conv.Counterpart(q.UserID)
		if err != nil {
			return nil, err
		}
		profile, ok := profiles[counterpartID]
		if !ok {
			profile = policies.PlaceholderProfile(counterpartID)
		}
		blockedByMe := (q.UserID == conv.Initiator && conv.BlockedByInitiator) ||
			(q.UserID == conv.Owner && conv.BlockedByOwner)
		list.Items = append(list.Items, dto.ConversationRow{
			ID:        string(conv.ID),
			ListingID: string(conv.ListingID),
			Counterpart: dto.Counterpart{
				ID:          profile.ID,
				DisplayName: profile.DisplayName,
				AvatarURL:   profile.AvatarURL,
				Placeholder: profile.Placeholder,
			},
			LastMessageAt:      conv.LastMessageAt,
			LastMessageSnippet: conv.LastMessageText,
			LastMessageSender:  conv.LastSenderID,
			UnreadCount:        unread[conv.ID],
			BlockedByMe:        blockedByMe,
			CreatedAt:          conv.CreatedAt,
		})
	}
	if len(list.Items) == limit {
		last := page[len(page)-1]
		list.NextCursor = domainchat.EncodeCursor(lastActivity(last), string(last.ID))
	}
	return list, nil
}

// lookupProfiles batches the counterpart lookup for the whole page. A
// failed lookup degrades to placeholders; the list is still emitted.
func (h *InboxHandler) lookupProfiles(ctx context.Context, userID string, page []*domainchat.Conversation) map[string]policies.CounterpartProfile {
	if h.Profiles == nil || len(page) == 0 {
		return map[string]policies.CounterpartProfile{}
	}
	seen := make(map[string]struct{}, len(page))
	ids := make([]string, 0, len(page))
	for _, conv := range page {
		counterpart, err := conv.Counterpart(userID)
		if err != nil {
			continue
		}
		if _, ok := seen[counterpart]; ok {
			continue
		}
		seen[counterpart] = struct{}{}
		ids = append(ids, counterpart)
	}
	profiles, err := h.Profiles.Batch(ctx, ids)
	if err != nil {
		if h.Logger != nil {
			h.Logger.Warn("counterpart profile lookup failed", "error", err, "user_id", userID)
		}
		return map[string]policies.CounterpartProfile{}
	}
	return profiles
}

func lastActivity(c *domainchat.Conversation) time.Time {
	if !c.LastMessageAt.IsZero() {
		return c.LastMessageAt
	}
	return c.CreatedAt
}
