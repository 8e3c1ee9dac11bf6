package research

import (
	"context"
	"encoding/json"

	"github.com/odvcencio/scout/pkg/bus"
	"github.com/odvcencio/scout/pkg/logging"
)

// BusBridge republishes a job's progress events onto the message bus so
// external consumers can follow jobs without holding the HTTP stream. The
// bridge tees: the caller still receives every event.
type BusBridge struct {
	bus    bus.MessageBus
	logger *logging.Logger
}

// NewBusBridge creates a bridge over the given bus.
func NewBusBridge(b bus.MessageBus, logger *logging.Logger) *BusBridge {
	return &BusBridge{bus: b, logger: logger}
}

// Tee forwards every event from in to the job's bus subject and re-emits it
// on the returned channel. The returned channel closes when in closes or the
// context is cancelled. Publish failures are logged once and do not
// interrupt the stream.
func (b *BusBridge) Tee(ctx context.Context, jobID string, in <-chan Event) <-chan Event {
	out := make(chan Event)

	go func() {
		defer close(out)

		subject := bus.JobEventSubject(jobID)
		publishFailed := false

		for ev := range in {
			if data, err := json.Marshal(ev); err == nil {
				if err := b.bus.Publish(ctx, subject, data); err != nil && !publishFailed {
					publishFailed = true
					b.logger.Warn(logging.CategoryNetwork, "bus_publish_failed", err.Error(), map[string]any{
						"subject": subject,
					})
				}
			}

			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}
