package chatsync

import (
	"context"

	"marketchat/internal/app/dto"
)

// refreshSlot tracks one in-flight per-conversation refresh. A second
// request for the same conversation awaits the in-flight one instead of
// racing it.
type refreshSlot struct {
	done chan struct{}
}

// RefreshConversation re-derives one inbox row from the server. Overlapping
// calls for the same conversation coalesce onto a single fetch, and the
// result is merged by row timestamp so a stale fetch can never overwrite a
// fresher one.
func (s *Session) RefreshConversation(ctx context.Context, conversationID string) {
	s.mu.Lock()
	if slot, inFlight := s.refreshes[conversationID]; inFlight {
		done := slot.done
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}
	slot := &refreshSlot{done: make(chan struct{})}
	s.refreshes[conversationID] = slot
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.refreshes, conversationID)
		s.mu.Unlock()
		close(slot.done)
	}()

	row, found, err := s.fetchRow(ctx, conversationID)
	if err != nil {
		s.logWarn("conversation refresh failed", err)
		return
	}
	s.mu.Lock()
	if !found {
		// Conversation vanished server-side; drop it from the list.
		delete(s.snapshot.Rows, conversationID)
	} else {
		current, exists := s.snapshot.Rows[conversationID]
		if !exists || !row.LastMessageAt.Before(current.LastMessageAt) {
			s.snapshot.Rows[conversationID] = row
		}
	}
	snap := s.snapshot.clone()
	s.mu.Unlock()
	s.notifySnapshot(snap)
}

// fetchRow walks the inbox pages until it finds the conversation. The
// server has no single-row endpoint; rows are only ever full re-derivations
// of the aggregated view.
func (s *Session) fetchRow(ctx context.Context, conversationID string) (dto.ConversationRow, bool, error) {
	cursor := ""
	for {
		page, err := s.backend.Inbox(ctx, s.opts.PageLimit, cursor)
		if err != nil {
			return dto.ConversationRow{}, false, err
		}
		for _, row := range page.Items {
			if row.ID == conversationID {
				return row, true, nil
			}
		}
		if page.NextCursor == "" {
			return dto.ConversationRow{}, false, nil
		}
		cursor = page.NextCursor
	}
}
