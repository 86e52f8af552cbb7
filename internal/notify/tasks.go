package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/rasuna-dev/backend-antar/internal/events"
)

// TaskWebhookDelivery is the asynq task type for webhook deliveries.
const TaskWebhookDelivery = "notify:webhook"

// QueueWebhooks is the asynq queue webhook tasks run on.
const QueueWebhooks = "webhooks"

type webhookTaskPayload struct {
	DeliveryID string `json:"deliveryId"`
}

// NewWebhookTask builds the asynq task carrying a delivery ID.
func NewWebhookTask(deliveryID uuid.UUID) (*asynq.Task, error) {
	payload, err := json.Marshal(webhookTaskPayload{DeliveryID: deliveryID.String()})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskWebhookDelivery, payload), nil
}

// TaskClient is the slice of *asynq.Client the enqueuer needs.
type TaskClient interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Enqueuer fans emitted events out to subscribed endpoints: one delivery row
// plus one queued task per endpoint. It implements events.DeliveryScheduler.
type Enqueuer struct {
	Store       Store
	Client      TaskClient
	Inspector   *asynq.Inspector
	MaxAttempts int
	Enabled     bool
}

// Schedule creates deliveries for every active endpoint subscribed to the
// event's topic and enqueues a task for each.
func (e *Enqueuer) Schedule(ctx context.Context, ev events.Event) error {
	if e == nil || !e.Enabled || e.Store == nil || e.Client == nil {
		return nil
	}
	if strings.TrimSpace(ev.Topic) == "" {
		return nil
	}
	endpoints, err := e.Store.ListActiveEndpointsForTopic(ctx, ev.Topic)
	if err != nil {
		return err
	}
	var joined error
	for _, ep := range endpoints {
		del, err := e.Store.ScheduleDelivery(ctx, ep.ID, ev.ID, e.maxAttempts())
		if errors.Is(err, ErrAlreadyScheduled) {
			continue
		}
		if err != nil {
			joined = errors.Join(joined, fmt.Errorf("schedule delivery for %s: %w", ep.ID, err))
			continue
		}
		if err := e.Requeue(ctx, del.ID); err != nil {
			joined = errors.Join(joined, fmt.Errorf("enqueue delivery %s: %w", del.ID, err))
		}
	}
	return joined
}

// Requeue pushes the task for an existing delivery row. A task-ID conflict
// means the delivery is already queued and is not an error.
func (e *Enqueuer) Requeue(ctx context.Context, deliveryID uuid.UUID) error {
	task, err := NewWebhookTask(deliveryID)
	if err != nil {
		return err
	}
	_, err = e.Client.EnqueueContext(ctx, task,
		asynq.Queue(QueueWebhooks),
		asynq.TaskID(deliveryID.String()),
		asynq.MaxRetry(e.maxAttempts()-1),
		asynq.Timeout(time.Minute),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	return err
}

// Replay queues a delivery again after an admin reset. A dead-lettered run
// leaves its archived task holding the task ID, which would make a plain
// Requeue conflict and silently drop the replay, so any stale task is removed
// first.
func (e *Enqueuer) Replay(ctx context.Context, deliveryID uuid.UUID) error {
	if e.Inspector != nil {
		err := e.Inspector.DeleteTask(QueueWebhooks, deliveryID.String())
		if err != nil && !errors.Is(err, asynq.ErrTaskNotFound) && !errors.Is(err, asynq.ErrQueueNotFound) {
			return fmt.Errorf("remove stale task %s: %w", deliveryID, err)
		}
	}
	return e.Requeue(ctx, deliveryID)
}

func (e *Enqueuer) maxAttempts() int {
	if e.MaxAttempts > 0 {
		return e.MaxAttempts
	}
	return 6
}
