package processor

import (
	"context"
	"fmt"

	"github.com/equilens/equilens/internal/queue"
)

// NotificationProcessor dispatches notifications by channel. Delivery
// failures are retryable up to the notification lane's (higher) attempt
// ceiling; an unknown channel is rejected without retries.
type NotificationProcessor struct {
	email   EmailSender
	webhook WebhookDispatcher
	push    PushSender
}

// NewNotificationProcessor constructs a NotificationProcessor.
func NewNotificationProcessor(email EmailSender, webhook WebhookDispatcher, push PushSender) *NotificationProcessor {
	return &NotificationProcessor{email: email, webhook: webhook, push: push}
}

// Handle delivers one notification job.
func (p *NotificationProcessor) Handle(ctx context.Context, job *queue.Job[queue.NotificationJob]) error {
	payload := job.Payload
	switch payload.Type {
	case queue.NotificationEmail:
		if errSend := p.email.SendEmail(ctx, payload.UserID, payload.Template, payload.Data); errSend != nil {
			return fmt.Errorf("notification email %q: %w", payload.Template, errSend)
		}
	case queue.NotificationWebhook:
		if errDeliver := p.webhook.DeliverWebhook(ctx, payload.OrganizationID, payload.Template, payload.Data); errDeliver != nil {
			return fmt.Errorf("notification webhook %q: %w", payload.Template, errDeliver)
		}
	case queue.NotificationPush:
		if errSend := p.push.SendPush(ctx, payload.UserID, payload.Template, payload.Data); errSend != nil {
			return fmt.Errorf("notification push %q: %w", payload.Template, errSend)
		}
	default:
		return queue.Fatal(fmt.Errorf("notification: unknown type %q", payload.Type))
	}
	return nil
}
