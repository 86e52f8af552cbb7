package notify_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/rasuna-dev/backend-antar/internal/events"
	"github.com/rasuna-dev/backend-antar/internal/notify"
	"github.com/rasuna-dev/backend-antar/internal/resilience"
)

func testSender(srv *httptest.Server) *notify.Sender {
	return &notify.Sender{HTTP: &resilience.HTTPClient{Client: srv.Client()}}
}

type fakeStore struct {
	endpoints []notify.Endpoint
	endpoint  notify.Endpoint
	event     events.Event
	delivery  notify.Delivery

	scheduleErrs []error
	scheduled    int
	delivering   int
	delivered    []int
	failed       []string
	dlq          []string
}

func (f *fakeStore) CreateEndpoint(context.Context, notify.Endpoint) (notify.Endpoint, error) {
	return notify.Endpoint{}, errors.New("not implemented")
}

func (f *fakeStore) UpdateEndpoint(context.Context, notify.Endpoint) (notify.Endpoint, error) {
	return notify.Endpoint{}, errors.New("not implemented")
}

func (f *fakeStore) GetEndpoint(context.Context, uuid.UUID) (notify.Endpoint, error) {
	return f.endpoint, nil
}

func (f *fakeStore) ListEndpoints(context.Context, int, int) ([]notify.Endpoint, error) {
	return f.endpoints, nil
}

func (f *fakeStore) DeleteEndpoint(context.Context, uuid.UUID) error { return nil }

func (f *fakeStore) ListActiveEndpointsForTopic(context.Context, string) ([]notify.Endpoint, error) {
	return f.endpoints, nil
}

func (f *fakeStore) ScheduleDelivery(_ context.Context, endpointID, eventID uuid.UUID, maxAttempt int) (notify.Delivery, error) {
	call := f.scheduled
	f.scheduled++
	if call < len(f.scheduleErrs) && f.scheduleErrs[call] != nil {
		return notify.Delivery{}, f.scheduleErrs[call]
	}
	return notify.Delivery{ID: uuid.New(), EndpointID: endpointID, EventID: eventID, Status: notify.DeliveryPending, MaxAttempt: maxAttempt}, nil
}

func (f *fakeStore) GetDelivery(context.Context, uuid.UUID) (notify.Delivery, error) {
	return f.delivery, nil
}

func (f *fakeStore) MarkDelivering(context.Context, uuid.UUID) error {
	f.delivering++
	return nil
}

func (f *fakeStore) MarkDelivered(_ context.Context, _ uuid.UUID, responseStatus int, _ string) error {
	f.delivered = append(f.delivered, responseStatus)
	f.delivery.Status = notify.DeliveryDelivered
	f.delivery.Attempt++
	return nil
}

func (f *fakeStore) MarkFailed(_ context.Context, _ uuid.UUID, lastError string) error {
	f.failed = append(f.failed, lastError)
	f.delivery.Status = notify.DeliveryFailed
	f.delivery.Attempt++
	return nil
}

func (f *fakeStore) MoveToDLQ(_ context.Context, _ uuid.UUID, lastError string) error {
	f.dlq = append(f.dlq, lastError)
	f.delivery.Status = notify.DeliveryDLQ
	f.delivery.Attempt++
	return nil
}

func (f *fakeStore) ResetForReplay(context.Context, uuid.UUID) (notify.Delivery, error) {
	f.delivery.Status = notify.DeliveryPending
	f.delivery.Attempt = 0
	return f.delivery, nil
}

func (f *fakeStore) ListDeliveries(context.Context, notify.DeliveryFilter, int, int) ([]notify.Delivery, int64, error) {
	return nil, 0, nil
}

func (f *fakeStore) GetEvent(context.Context, uuid.UUID) (events.Event, error) {
	return f.event, nil
}

type fakeTaskClient struct {
	enqueued []string
	err      error
}

func (f *fakeTaskClient) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.enqueued = append(f.enqueued, task.Type())
	return &asynq.TaskInfo{}, nil
}

func sampleEvent() events.Event {
	return events.Event{
		ID:          uuid.New(),
		Topic:       events.TopicDeliveryStatusChanged,
		AggregateID: uuid.New(),
		Payload:     []byte(`{"from":"assigned","to":"picked_up"}`),
		OccurredAt:  time.Now(),
	}
}

func TestSignatureAndHeaders(t *testing.T) {
	type recorded struct {
		req  *http.Request
		body []byte
	}
	received := make(chan recorded, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		received <- recorded{req: r, body: body}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	sender := testSender(srv)
	endpoint := notify.Endpoint{ID: uuid.New(), URL: srv.URL, Secret: "secret"}
	event := sampleEvent()
	delivery := notify.Delivery{ID: uuid.New()}

	status, _, err := sender.Deliver(context.Background(), endpoint, event, delivery)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, status)

	record := <-received
	req := record.req
	require.Equal(t, "application/json", req.Header.Get("Content-Type"))
	require.Equal(t, event.ID.String(), req.Header.Get("X-Event-ID"))
	require.Equal(t, delivery.ID.String(), req.Header.Get("X-Idempotency-Key"))
	timestamp := req.Header.Get("X-Timestamp")
	require.NotEmpty(t, timestamp)
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	require.NoError(t, err)
	require.Equal(t, notify.ComputeSignature(endpoint.Secret, ts, event.ID.String(), record.body), req.Header.Get("X-Signature"))
}

func TestDeliverSuppressesReplay(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	sender := &notify.Sender{
		HTTP:      &resilience.HTTPClient{Client: srv.Client()},
		Replay:    notify.RedisReplayProtector{Client: rdb},
		ReplayTTL: time.Minute,
	}
	endpoint := notify.Endpoint{ID: uuid.New(), URL: srv.URL, Secret: "secret"}
	event := sampleEvent()

	status, _, err := sender.Deliver(context.Background(), endpoint, event, notify.Delivery{ID: uuid.New()})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, status)

	status, body, err := sender.Deliver(context.Background(), endpoint, event, notify.Delivery{ID: uuid.New()})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "replay-suppressed", body)
	require.EqualValues(t, 1, hits.Load())
}

func TestDeliverFailsFastWhenBreakerOpen(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	breaker := resilience.NewBreaker("webhook-test", 1, 0.5, time.Hour)
	breaker.Report(context.Background(), false)

	sender := &notify.Sender{HTTP: &resilience.HTTPClient{Client: srv.Client(), Breaker: breaker}}
	endpoint := notify.Endpoint{ID: uuid.New(), URL: srv.URL, Secret: "secret"}

	_, _, err := sender.Deliver(context.Background(), endpoint, sampleEvent(), notify.Delivery{ID: uuid.New()})
	require.ErrorIs(t, err, resilience.ErrOpenCircuit)
	require.Zero(t, hits.Load(), "open breaker must not reach the endpoint")
}

func webhookTask(t *testing.T, deliveryID uuid.UUID) *asynq.Task {
	t.Helper()
	task, err := notify.NewWebhookTask(deliveryID)
	require.NoError(t, err)
	return task
}

func TestWorkerMarksDelivered(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	deliveryID := uuid.New()
	store := &fakeStore{
		endpoint: notify.Endpoint{ID: uuid.New(), URL: srv.URL, Secret: "secret"},
		event:    sampleEvent(),
		delivery: notify.Delivery{ID: deliveryID, Status: notify.DeliveryPending, MaxAttempt: 2},
	}
	worker := notify.Worker{Store: store, Sender: testSender(srv)}

	require.NoError(t, worker.HandleWebhookDelivery(context.Background(), webhookTask(t, deliveryID)))
	require.Equal(t, 1, store.delivering)
	require.Equal(t, []int{http.StatusOK}, store.delivered)
	require.Equal(t, notify.DeliveryDelivered, store.delivery.Status)
}

func TestWorkerRetryThenDLQ(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	deliveryID := uuid.New()
	store := &fakeStore{
		endpoint: notify.Endpoint{ID: uuid.New(), URL: srv.URL, Secret: "secret"},
		event:    sampleEvent(),
		delivery: notify.Delivery{ID: deliveryID, Status: notify.DeliveryPending, MaxAttempt: 2},
	}
	worker := notify.Worker{Store: store, Sender: testSender(srv)}

	err := worker.HandleWebhookDelivery(context.Background(), webhookTask(t, deliveryID))
	require.Error(t, err)
	require.NotErrorIs(t, err, asynq.SkipRetry)
	require.Len(t, store.failed, 1)

	err = worker.HandleWebhookDelivery(context.Background(), webhookTask(t, deliveryID))
	require.ErrorIs(t, err, asynq.SkipRetry)
	require.Len(t, store.dlq, 1)
	require.Equal(t, notify.DeliveryDLQ, store.delivery.Status)
}

func TestWorkerSkipsCompletedDelivery(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	t.Cleanup(srv.Close)

	deliveryID := uuid.New()
	store := &fakeStore{
		endpoint: notify.Endpoint{ID: uuid.New(), URL: srv.URL, Secret: "secret"},
		event:    sampleEvent(),
		delivery: notify.Delivery{ID: deliveryID, Status: notify.DeliveryDelivered, MaxAttempt: 2},
	}
	worker := notify.Worker{Store: store, Sender: testSender(srv)}

	require.NoError(t, worker.HandleWebhookDelivery(context.Background(), webhookTask(t, deliveryID)))
	require.Zero(t, hits.Load())
	require.Zero(t, store.delivering)
}

func TestWorkerParksGoneEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGone)
	}))
	t.Cleanup(srv.Close)

	deliveryID := uuid.New()
	store := &fakeStore{
		endpoint: notify.Endpoint{ID: uuid.New(), URL: srv.URL, Secret: "secret"},
		event:    sampleEvent(),
		delivery: notify.Delivery{ID: deliveryID, Status: notify.DeliveryPending, MaxAttempt: 6},
	}
	worker := notify.Worker{Store: store, Sender: testSender(srv)}

	err := worker.HandleWebhookDelivery(context.Background(), webhookTask(t, deliveryID))
	require.ErrorIs(t, err, asynq.SkipRetry)
	require.Len(t, store.dlq, 1)
}

func TestScheduleFansOutPerEndpoint(t *testing.T) {
	store := &fakeStore{
		endpoints: []notify.Endpoint{{ID: uuid.New()}, {ID: uuid.New()}},
	}
	client := &fakeTaskClient{}
	enqueuer := &notify.Enqueuer{Store: store, Client: client, Enabled: true}

	require.NoError(t, enqueuer.Schedule(context.Background(), sampleEvent()))
	require.Equal(t, 2, store.scheduled)
	require.Equal(t, []string{notify.TaskWebhookDelivery, notify.TaskWebhookDelivery}, client.enqueued)
}

func TestScheduleSkipsExistingDeliveries(t *testing.T) {
	store := &fakeStore{
		endpoints:    []notify.Endpoint{{ID: uuid.New()}, {ID: uuid.New()}},
		scheduleErrs: []error{notify.ErrAlreadyScheduled, nil},
	}
	client := &fakeTaskClient{}
	enqueuer := &notify.Enqueuer{Store: store, Client: client, Enabled: true}

	require.NoError(t, enqueuer.Schedule(context.Background(), sampleEvent()))
	require.Equal(t, 2, store.scheduled)
	require.Len(t, client.enqueued, 1)
}

func TestScheduleDisabledIsNoop(t *testing.T) {
	store := &fakeStore{endpoints: []notify.Endpoint{{ID: uuid.New()}}}
	enqueuer := &notify.Enqueuer{Store: store, Client: &fakeTaskClient{}, Enabled: false}

	require.NoError(t, enqueuer.Schedule(context.Background(), sampleEvent()))
	require.Zero(t, store.scheduled)
}
