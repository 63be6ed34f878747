package worker

import (
	"context"
	"errors"
	"log/slog"

	"finrank/internal/amqp"
	"finrank/internal/core"
	"finrank/internal/services"
)

type EventApplier interface {
	ApplyEvent(ctx context.Context, ev core.ScoreEvent) (services.ApplyResult, error)
}

// EventWorker feeds score events consumed from AMQP into the ranking engine.
type EventWorker struct {
	applier EventApplier
}

func NewEventWorker(applier EventApplier) *EventWorker {
	return &EventWorker{applier: applier}
}

// HandleScoreEvent applies one message. Invalid events are logged and dropped,
// since redelivering them cannot succeed. Any other failure is returned so the
// message is requeued.
func (w *EventWorker) HandleScoreEvent(ctx context.Context, msg *amqp.ScoreEventMessage) error {
	ev := msg.ToEvent()
	res, err := w.applier.ApplyEvent(ctx, ev)
	switch {
	case errors.Is(err, core.ErrInvalidEvent), errors.Is(err, core.ErrInvalidEventKind):
		slog.WarnContext(ctx, "Dropping invalid score event",
			"event_id", msg.EventID,
			"user_id", msg.UserID,
			"kind", msg.Kind,
			"error", err)
		return nil
	case err != nil:
		return err
	}

	if res.Absorbed {
		slog.InfoContext(ctx, "Score event already applied", "event_id", msg.EventID, "user_id", msg.UserID)
	}
	return nil
}
