package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/rasuna-dev/backend-antar/internal/lock"
	"github.com/rasuna-dev/backend-antar/internal/obs"
)

// Worker executes webhook deliveries pulled off the task queue. Retries and
// backoff are asynq's; the worker keeps the delivery row's state current and
// parks exhausted deliveries in the DLQ state.
type Worker struct {
	Store   Store
	Sender  *Sender
	Locker  lock.Locker
	LockTTL time.Duration
}

// HandleWebhookDelivery is the asynq handler for TaskWebhookDelivery tasks.
func (w Worker) HandleWebhookDelivery(ctx context.Context, t *asynq.Task) error {
	if w.Store == nil || w.Sender == nil {
		return errors.New("notify: worker not configured")
	}
	var payload webhookTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("decode task payload: %v: %w", err, asynq.SkipRetry)
	}
	deliveryID, err := uuid.Parse(payload.DeliveryID)
	if err != nil {
		return fmt.Errorf("invalid delivery id %q: %w", payload.DeliveryID, asynq.SkipRetry)
	}

	run := func(ctx context.Context) error { return w.process(ctx, deliveryID) }
	if w.Locker.R == nil {
		return run(ctx)
	}
	ttl := w.LockTTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return w.Locker.WithLock(ctx, lock.Key("webhook", deliveryID.String()), ttl, run)
}

func (w Worker) process(ctx context.Context, deliveryID uuid.UUID) error {
	del, err := w.Store.GetDelivery(ctx, deliveryID)
	if err != nil {
		if errors.Is(err, ErrDeliveryNotFound) {
			return fmt.Errorf("delivery %s gone: %w", deliveryID, asynq.SkipRetry)
		}
		return err
	}
	switch del.Status {
	case DeliveryDelivered:
		// Task re-delivered after success; nothing to do.
		return nil
	case DeliveryDLQ:
		return fmt.Errorf("delivery %s already in dlq: %w", deliveryID, asynq.SkipRetry)
	}

	endpoint, err := w.Store.GetEndpoint(ctx, del.EndpointID)
	if err != nil {
		return w.fail(ctx, del, fmt.Errorf("load endpoint: %w", err))
	}
	event, err := w.Store.GetEvent(ctx, del.EventID)
	if err != nil {
		return w.fail(ctx, del, fmt.Errorf("load event: %w", err))
	}

	if err := w.Store.MarkDelivering(ctx, del.ID); err != nil {
		return err
	}
	attemptStart := time.Now()
	status, respBody, deliverErr := w.Sender.Deliver(ctx, endpoint, event, del)
	if deliverErr == nil && status >= 200 && status < 300 {
		w.countDelivery("delivered", attemptStart)
		return w.Store.MarkDelivered(ctx, del.ID, status, respBody)
	}
	reason := fmt.Sprintf("status=%d err=%v", status, deliverErr)
	if status == http.StatusGone {
		// 410 means the subscriber asked to stop; don't burn retries on it.
		w.countDelivery("dlq", attemptStart)
		if obs.WebhookDispatchDLQ != nil {
			obs.WebhookDispatchDLQ.Inc()
		}
		if err := w.Store.MoveToDLQ(ctx, del.ID, reason); err != nil {
			return err
		}
		return fmt.Errorf("endpoint gone: %w", asynq.SkipRetry)
	}
	return w.fail(ctx, del, errors.New(reason))
}

// fail records the failed attempt. The last allowed attempt moves the
// delivery to the DLQ state and stops asynq from retrying further.
func (w Worker) fail(ctx context.Context, del Delivery, cause error) error {
	reason := cause.Error()
	if del.Attempt+1 >= del.MaxAttempt {
		w.countDelivery("dlq", time.Time{})
		if obs.WebhookDispatchDLQ != nil {
			obs.WebhookDispatchDLQ.Inc()
		}
		if err := w.Store.MoveToDLQ(ctx, del.ID, reason); err != nil {
			return err
		}
		return fmt.Errorf("delivery %s exhausted after %d attempts: %w", del.ID, del.Attempt+1, asynq.SkipRetry)
	}
	w.countDelivery("failed", time.Time{})
	if err := w.Store.MarkFailed(ctx, del.ID, reason); err != nil {
		return err
	}
	return cause
}

func (w Worker) countDelivery(result string, start time.Time) {
	if obs.WebhookDeliveriesTotal != nil {
		obs.WebhookDeliveriesTotal.WithLabelValues(result).Inc()
	}
	if obs.WebhookAttemptLatency != nil && !start.IsZero() {
		obs.WebhookAttemptLatency.WithLabelValues(result).Observe(obs.DurationMillis(time.Since(start)))
	}
}
