package memory

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/drblury/eventflow/internal/cloudevents"
)

// acker is the memory backend's delivery resolution. Delivery already removed
// the event from the queue at receive time (at-most-once), so ack only counts.
// Nack republishes the event when RequeueOnNack is set; the republish produces
// fresh deliveries with fresh tokens, never a reset of this one.
type acker struct {
	broker  *Broker
	channel string
	event   *cloudevents.Event
	requeue bool
}

func (a *acker) Ack(ctx context.Context) error {
	a.broker.collector.Acked(a.channel)
	return nil
}

func (a *acker) Nack(ctx context.Context) error {
	a.broker.collector.Nacked(a.channel)
	if !a.requeue {
		return nil
	}

	if err := a.broker.publish(ctx, a.channel, a.event); err != nil {
		// Requeue is best effort: the nack itself still resolves.
		a.broker.logger.Error("requeue on nack failed", err, watermill.LogFields{
			"channel":  a.channel,
			"event_id": a.event.ID,
		})
	}
	return nil
}
