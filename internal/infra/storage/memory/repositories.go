package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	domainchat "marketchat/internal/domain/chat"
)

// ConversationRepository keeps the registry in process memory. The pair
// index plays the role of the unique (listing, unordered pair) constraint:
// Create fails under the lock when the key is taken, so two racing writers
// converge on one row.
type ConversationRepository struct {
	mu     sync.RWMutex
	items  map[domainchat.ConversationID]*domainchat.Conversation
	byPair map[string]domainchat.ConversationID
}

func NewConversationRepository() *ConversationRepository {
	return &ConversationRepository{
		items:  make(map[domainchat.ConversationID]*domainchat.Conversation),
		byPair: make(map[string]domainchat.ConversationID),
	}
}

func (r *ConversationRepository) ByID(ctx context.Context, id domainchat.ConversationID) (*domainchat.Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conv, ok := r.items[id]
	if !ok {
		return nil, domainchat.ErrConversationNotFound
	}
	return cloneConversation(conv), nil
}

func (r *ConversationRepository) ByPairKey(ctx context.Context, key string) (*domainchat.Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byPair[key]
	if !ok {
		return nil, domainchat.ErrConversationNotFound
	}
	return cloneConversation(r.items[id]), nil
}

func (r *ConversationRepository) Create(ctx context.Context, conv *domainchat.Conversation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := conv.PairKey()
	if _, ok := r.byPair[key]; ok {
		return domainchat.ErrConversationExists
	}
	r.items[conv.ID] = cloneConversation(conv)
	r.byPair[key] = conv.ID
	return nil
}

func (r *ConversationRepository) Save(ctx context.Context, conv *domainchat.Conversation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[conv.ID]; !ok {
		return domainchat.ErrConversationNotFound
	}
	r.items[conv.ID] = cloneConversation(conv)
	return nil
}

func (r *ConversationRepository) ListForUser(ctx context.Context, userID string) ([]*domainchat.Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	matches := make([]*domainchat.Conversation, 0)
	for _, conv := range r.items {
		if conv.HasParticipant(userID) {
			matches = append(matches, cloneConversation(conv))
		}
	}
	return matches, nil
}

func cloneConversation(conv *domainchat.Conversation) *domainchat.Conversation {
	if conv == nil {
		return nil
	}
	copied := *conv
	copied.ClearEvents()
	return &copied
}

// MessageRepository is the in-memory append-only log, ordered per
// conversation by creation time.
type MessageRepository struct {
	mu     sync.RWMutex
	byConv map[domainchat.ConversationID][]*domainchat.Message
}

func NewMessageRepository() *MessageRepository {
	return &MessageRepository{byConv: make(map[domainchat.ConversationID][]*domainchat.Message)}
}

func (r *MessageRepository) Insert(ctx context.Context, msg *domainchat.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *msg
	log := append(r.byConv[msg.ConversationID], &copied)
	sort.SliceStable(log, func(i, j int) bool {
		if log[i].CreatedAt.Equal(log[j].CreatedAt) {
			return log[i].ID < log[j].ID
		}
		return log[i].CreatedAt.Before(log[j].CreatedAt)
	})
	r.byConv[msg.ConversationID] = log
	return nil
}

func (r *MessageRepository) ListPage(ctx context.Context, conversationID domainchat.ConversationID, cursor string, limit int) (domainchat.MessagePage, error) {
	afterTime, afterID, err := domainchat.ParseCursor(cursor)
	if err != nil {
		return domainchat.MessagePage{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if limit <= 0 {
		limit = 50
	}
	page := domainchat.MessagePage{Items: make([]*domainchat.Message, 0, limit)}
	for _, msg := range r.byConv[conversationID] {
		if afterID != "" {
			if msg.CreatedAt.Before(afterTime) {
				continue
			}
			if msg.CreatedAt.Equal(afterTime) && string(msg.ID) <= afterID {
				continue
			}
		}
		copied := *msg
		page.Items = append(page.Items, &copied)
		if len(page.Items) == limit {
			break
		}
	}
	if len(page.Items) == limit {
		last := page.Items[len(page.Items)-1]
		page.NextCursor = domainchat.EncodeCursor(last.CreatedAt, string(last.ID))
	}
	return page, nil
}

func (r *MessageRepository) MarkRead(ctx context.Context, conversationID domainchat.ConversationID, readerID string, at time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var transitioned int64
	for _, msg := range r.byConv[conversationID] {
		if msg.ReceiverID == readerID && !msg.IsRead {
			msg.IsRead = true
			transitioned++
		}
	}
	return transitioned, nil
}

func (r *MessageRepository) CountUnread(ctx context.Context, userID string, conversationID domainchat.ConversationID) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var count int64
	for _, msg := range r.byConv[conversationID] {
		if msg.ReceiverID == userID && !msg.IsRead {
			count++
		}
	}
	return count, nil
}

func (r *MessageRepository) UnreadByConversation(ctx context.Context, userID string) (map[domainchat.ConversationID]int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	counts := make(map[domainchat.ConversationID]int64)
	for convID, log := range r.byConv {
		for _, msg := range log {
			if msg.ReceiverID == userID && !msg.IsRead {
				counts[convID]++
			}
		}
	}
	return counts, nil
}

// UnreadRepository maintains the incremental counters.
type UnreadRepository struct {
	mu     sync.RWMutex
	counts map[string]map[domainchat.ConversationID]int64
}

func NewUnreadRepository() *UnreadRepository {
	return &UnreadRepository{counts: make(map[string]map[domainchat.ConversationID]int64)}
}

func (r *UnreadRepository) Increment(ctx context.Context, userID string, conversationID domainchat.ConversationID, delta int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	byConv, ok := r.counts[userID]
	if !ok {
		byConv = make(map[domainchat.ConversationID]int64)
		r.counts[userID] = byConv
	}
	next := byConv[conversationID] + delta
	if next < 0 {
		next = 0
	}
	byConv[conversationID] = next
	return nil
}

func (r *UnreadRepository) Zero(ctx context.Context, userID string, conversationID domainchat.ConversationID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if byConv, ok := r.counts[userID]; ok {
		delete(byConv, conversationID)
	}
	return nil
}

func (r *UnreadRepository) Count(ctx context.Context, userID string, conversationID domainchat.ConversationID) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.counts[userID][conversationID], nil
}

func (r *UnreadRepository) CountAll(ctx context.Context, userID string) (map[domainchat.ConversationID]int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[domainchat.ConversationID]int64, len(r.counts[userID]))
	for conv, n := range r.counts[userID] {
		out[conv] = n
	}
	return out, nil
}

func (r *UnreadRepository) Aggregate(ctx context.Context, userID string) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var total int64
	for _, n := range r.counts[userID] {
		total += n
	}
	return total, nil
}

func (r *UnreadRepository) Replace(ctx context.Context, userID string, counts map[domainchat.ConversationID]int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	fresh := make(map[domainchat.ConversationID]int64, len(counts))
	for conv, n := range counts {
		if n > 0 {
			fresh[conv] = n
		}
	}
	r.counts[userID] = fresh
	return nil
}
