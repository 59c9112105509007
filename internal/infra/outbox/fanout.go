package outbox

import (
	"context"
	"log/slog"
)

// FanoutProducer publishes each event to a primary producer and then to a
// set of best-effort secondaries. Only the primary's error fails the
// publish; secondary failures are logged and swallowed, so a flaky change
// bus cannot wedge the outbox.
type FanoutProducer struct {
	Primary    Producer
	BestEffort []Producer
	Logger     *slog.Logger
}

func (f FanoutProducer) Publish(ctx context.Context, topic string, key string, payload []byte, headers map[string]string) error {
	if f.Primary != nil {
		if err := f.Primary.Publish(ctx, topic, key, payload, headers); err != nil {
			return err
		}
	}
	for _, p := range f.BestEffort {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, topic, key, payload, headers); err != nil && f.Logger != nil {
			f.Logger.Warn("best-effort publish failed", "topic", topic, "error", err)
		}
	}
	return nil
}
