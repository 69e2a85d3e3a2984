package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"chain-relay.backend/internal/config"
	"chain-relay.backend/internal/domain/entities"
	"chain-relay.backend/internal/domain/repositories"
	"chain-relay.backend/pkg/logger"
	"chain-relay.backend/pkg/metrics"
)

const dispatchBatchSize = 50

// WebhookDispatcher drains the notifier outbox to the configured endpoint.
// Delivery is at-least-once: an event is marked delivered only after a 2xx
// response, and a crash mid-batch redelivers on the next cycle.
type WebhookDispatcher struct {
	outbox   repositories.WebhookEventRepository
	provider *config.Provider
	http     *resty.Client
}

// NewWebhookDispatcher creates a new webhook dispatcher worker
func NewWebhookDispatcher(outbox repositories.WebhookEventRepository, provider *config.Provider) *WebhookDispatcher {
	return &WebhookDispatcher{
		outbox:   outbox,
		provider: provider,
		http:     resty.New().SetTimeout(10 * time.Second),
	}
}

func (d *WebhookDispatcher) Name() string { return "webhook-dispatcher" }

// RunOnce delivers one batch of undelivered events in creation order
func (d *WebhookDispatcher) RunOnce(ctx context.Context) {
	snap := d.provider.Current()
	if snap.WebhookURL == "" {
		return
	}

	events, err := d.outbox.ListUndelivered(ctx, dispatchBatchSize)
	if err != nil {
		logger.Error(ctx, "failed to list undelivered webhook events", zap.Error(err))
		return
	}

	for _, event := range events {
		if err := d.deliver(ctx, snap.WebhookURL, event); err != nil {
			metrics.WebhooksDelivered.WithLabelValues("failed").Inc()
			logger.Warn(ctx, "webhook delivery failed",
				zap.String("event_id", event.ID.String()),
				zap.String("event_type", string(event.EventType)),
				zap.Error(err))
			if markErr := d.outbox.RecordAttempt(ctx, event.ID); markErr != nil {
				logger.Error(ctx, "failed to record webhook attempt",
					zap.String("event_id", event.ID.String()), zap.Error(markErr))
			}
			continue
		}
		if err := d.outbox.MarkDelivered(ctx, event.ID); err != nil {
			logger.Error(ctx, "failed to mark webhook delivered",
				zap.String("event_id", event.ID.String()), zap.Error(err))
			continue
		}
		metrics.WebhooksDelivered.WithLabelValues("delivered").Inc()
	}
}

// deliver posts one event, retrying transient failures within the cycle
func (d *WebhookDispatcher) deliver(ctx context.Context, url string, event *entities.WebhookEvent) error {
	body := map[string]interface{}{
		"id":        event.ID,
		"eventType": event.EventType,
		"payload":   event.Payload,
		"createdAt": event.CreatedAt,
	}
	if event.QueueID != nil {
		body["queueId"] = event.QueueID
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	return backoff.Retry(func() error {
		resp, err := d.http.R().
			SetContext(ctx).
			SetHeader("Content-Type", "application/json").
			SetBody(body).
			Post(url)
		if err != nil {
			return err
		}
		if resp.IsError() {
			status := resp.StatusCode()
			if status >= 400 && status < 500 {
				// The endpoint rejected the payload; retrying wastes the cycle.
				return backoff.Permanent(fmt.Errorf("webhook endpoint returned %d", status))
			}
			return fmt.Errorf("webhook endpoint returned %d", status)
		}
		return nil
	}, policy)
}
