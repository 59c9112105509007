package chatsync

import (
	"context"

	"marketchat/internal/app/dto"
)

// Send appends a message, retrying transient failures with backoff. One
// idempotency key covers every attempt, so a retry after a timed-out
// request can never create a duplicate row server-side.
func (s *Session) Send(ctx context.Context, conversationID, body string) (*dto.ChatMessage, error) {
	key := s.opts.KeyGen()
	var lastErr error
	for attempt := 0; attempt <= len(s.opts.SendBackoff); attempt++ {
		if attempt > 0 {
			if !sleep(ctx, s.opts.SendBackoff[attempt-1]) {
				return nil, ctx.Err()
			}
		}
		msg, err := s.backend.Send(ctx, conversationID, body, key)
		if err == nil {
			s.RefreshConversation(ctx, conversationID)
			return msg, nil
		}
		if permanent(err) {
			return nil, err
		}
		lastErr = err
		s.logWarn("send attempt failed", err)
	}
	return nil, lastErr
}

// MarkRead clears the caller's unread state for one conversation. While
// the session is not live the intent is queued and replayed on the next
// syncing → live transition rather than dropped; mark-read is naturally
// idempotent, so replaying after an uncertain outcome is safe.
func (s *Session) MarkRead(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	live := s.state == StateLive
	if !live {
		s.queuedReads[conversationID] = struct{}{}
	}
	s.mu.Unlock()
	if !live {
		return nil
	}
	if _, err := s.backend.MarkRead(ctx, conversationID); err != nil {
		if permanent(err) {
			return err
		}
		s.mu.Lock()
		s.queuedReads[conversationID] = struct{}{}
		s.mu.Unlock()
		return nil
	}
	s.refreshUnread(ctx)
	s.RefreshConversation(ctx, conversationID)
	return nil
}

// QueuedReads reports conversations with a pending offline mark-read.
func (s *Session) QueuedReads() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.queuedReads))
	for id := range s.queuedReads {
		out = append(out, id)
	}
	return out
}

func (s *Session) replayQueuedReads(ctx context.Context) {
	s.mu.Lock()
	pending := make([]string, 0, len(s.queuedReads))
	for id := range s.queuedReads {
		pending = append(pending, id)
	}
	s.queuedReads = map[string]struct{}{}
	s.mu.Unlock()

	for _, id := range pending {
		if _, err := s.backend.MarkRead(ctx, id); err != nil {
			if permanent(err) {
				continue
			}
			s.mu.Lock()
			s.queuedReads[id] = struct{}{}
			s.mu.Unlock()
		}
	}
}

// Messages pages one conversation's history for display, oldest first.
func (s *Session) Messages(ctx context.Context, conversationID, cursor string, limit int) (*dto.ChatMessageList, error) {
	return s.backend.Messages(ctx, conversationID, cursor, limit)
}
