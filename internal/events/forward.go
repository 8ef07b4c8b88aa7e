package events

import (
	"context"
	"log/slog"

	"github.com/fairyhunter13/ielts-writing-coach/internal/adapter/observability"
	"github.com/fairyhunter13/ielts-writing-coach/internal/domain"
)

// ForwardSubmissions relays submission events from the bus to pub. Publish
// failures are logged and counted; they never reach the publisher of the event.
func ForwardSubmissions(bus *Bus, pub domain.EventPublisher) (unsubscribe func()) {
	h := func(ctx context.Context, ev Event) {
		se, ok := ev.Payload.(domain.SubmissionEvent)
		if !ok {
			return
		}
		err := pub.Publish(ctx, se)
		observability.ObservePublish(se.Type, err)
		if err != nil {
			observability.LoggerFromContext(ctx).Warn("submission event not published",
				slog.String("event", se.Type),
				slog.String("submission_id", se.SubmissionID),
				slog.Any("error", err))
		}
	}
	offCreated := bus.Subscribe(domain.EventSubmissionCreated, h)
	offDeleted := bus.Subscribe(domain.EventSubmissionDeleted, h)
	return func() {
		offCreated()
		offDeleted()
	}
}
