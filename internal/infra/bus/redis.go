package bus

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// Fanout replicates change events across service instances over a redis
// pub/sub channel. Publish goes to redis; every instance (this one
// included) receives it back on the subscription and hands it to its local
// hub, so each event is delivered exactly once per instance.
type Fanout struct {
	rdb     *redis.Client
	hub     *Hub
	channel string
	logger  *slog.Logger
}

func NewFanout(rdb *redis.Client, hub *Hub, channel string, logger *slog.Logger) *Fanout {
	if channel == "" {
		channel = "marketchat.changes"
	}
	return &Fanout{rdb: rdb, hub: hub, channel: channel, logger: logger}
}

// Publish sends the event into the fanout. Without redis (single-instance
// runs, tests) it degrades to direct local delivery.
func (f *Fanout) Publish(ctx context.Context, event Event) error {
	if f.rdb == nil {
		f.hub.Deliver(event)
		return nil
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return f.rdb.Publish(ctx, f.channel, payload).Err()
}

// Run consumes the redis channel and feeds the local hub until the context
// is cancelled. Callers run it in its own goroutine.
func (f *Fanout) Run(ctx context.Context) error {
	if f.rdb == nil {
		<-ctx.Done()
		return ctx.Err()
	}
	pubsub := f.rdb.Subscribe(ctx, f.channel)
	defer pubsub.Close()
	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				if f.logger != nil {
					f.logger.Warn("malformed change event on fanout channel", "error", err)
				}
				continue
			}
			f.hub.Deliver(event)
		}
	}
}
