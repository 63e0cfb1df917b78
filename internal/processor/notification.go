package processor

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"mcp-core/internal/message"
	"mcp-core/internal/notify"
)

// NotificationProcessor delivers queued alerts to the notification sinks
// and to realtime clients.
type NotificationProcessor struct {
	sink        notify.Sink
	broadcaster Broadcaster
	log         zerolog.Logger
}

func NewNotificationProcessor(sink notify.Sink, b Broadcaster, log zerolog.Logger) *NotificationProcessor {
	return &NotificationProcessor{sink: sink, broadcaster: orNop(b), log: log}
}

func (p *NotificationProcessor) Name() string  { return "notification" }
func (p *NotificationProcessor) Queue() string { return message.QueueNotifications }

func (p *NotificationProcessor) Process(ctx context.Context, msg message.Message) error {
	payload, ok := msg.Payload.(message.NotificationPayload)
	if !ok {
		return fmt.Errorf("%w: %T on %s", ErrUnexpectedPayload, msg.Payload, p.Queue())
	}
	alert := notify.FromPayload(payload)

	if msg.Target != "" {
		p.broadcaster.SendToUser(msg.Target, EventNotification, payload)
	} else {
		p.broadcaster.Broadcast(EventNotification, payload)
	}

	if p.sink == nil {
		return nil
	}
	if err := p.sink.Notify(ctx, alert); err != nil {
		return fmt.Errorf("deliver %s notification: %w", alert.Event, err)
	}
	return nil
}
