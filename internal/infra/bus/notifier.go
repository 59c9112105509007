package bus

import (
	"context"
	"encoding/json"
	"strings"
	"time"
)

// Publisher is what the notifier pushes translated hints into.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// OutboxNotifier adapts the outbox worker's producer contract onto the
// change bus: it unwraps the CloudEvents envelope the worker emits and
// republishes the change as a client-facing hint. Because it hangs off the
// outbox, bus delivery inherits the outbox's at-least-once guarantee.
type OutboxNotifier struct {
	Bus Publisher
}

type envelope struct {
	Type string          `json:"type"`
	Time time.Time       `json:"time"`
	Data json.RawMessage `json:"data"`
}

type changeData struct {
	ConversationID string   `json:"conversation_id"`
	Participants   []string `json:"participants"`
	SenderID       string   `json:"sender_id"`
	ReceiverID     string   `json:"receiver_id"`
	Initiator      string   `json:"initiator_id"`
	Owner          string   `json:"owner_id"`
}

func (n OutboxNotifier) Publish(ctx context.Context, topic string, key string, payload []byte, headers map[string]string) error {
	if n.Bus == nil {
		return nil
	}
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return err
	}
	var data changeData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return err
	}
	event := Event{
		ConversationID: data.ConversationID,
		Participants:   data.Participants,
		OccurredAt:     env.Time,
	}
	switch {
	case strings.HasPrefix(env.Type, "chat.message_inserted"):
		event.Kind = KindMessageInserted
		event.Participants = []string{data.SenderID, data.ReceiverID}
	case strings.HasPrefix(env.Type, "chat.conversation_created"):
		event.Kind = KindConversationTouched
		event.Participants = []string{data.Initiator, data.Owner}
	default:
		event.Kind = KindConversationTouched
	}
	return n.Bus.Publish(ctx, event)
}
