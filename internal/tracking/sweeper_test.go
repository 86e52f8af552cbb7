package tracking

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/rasuna-dev/backend-antar/internal/events"
)

func TestSweepOnceMarksStaleDriversOffline(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	store := newMemStore()
	staleDriver := uuid.New()
	freshDriver := uuid.New()
	now := time.Now().UTC()
	require.NoError(t, store.TouchPresence(context.Background(), staleDriver, now.Add(-10*time.Minute)))
	require.NoError(t, store.TouchPresence(context.Background(), freshDriver, now))
	require.NoError(t, rdb.Set(context.Background(), positionKey(staleDriver), `{"lat":-6.2}`, time.Minute).Err())

	evStore := &stubEventStore{}
	sweeper := Sweeper{
		Store: store,
		Redis: rdb,
		Bus:   &events.Bus{Store: evStore},
	}
	require.NoError(t, sweeper.SweepOnce(context.Background(), 3*time.Minute))

	store.mu.Lock()
	require.False(t, store.online[staleDriver])
	require.True(t, store.online[freshDriver])
	store.mu.Unlock()

	require.False(t, mr.Exists(positionKey(staleDriver)))
	require.Equal(t, []string{events.TopicDriverOffline}, evStore.emitted())
}

func TestSweepOnceNoStaleDrivers(t *testing.T) {
	store := newMemStore()
	require.NoError(t, store.TouchPresence(context.Background(), uuid.New(), time.Now().UTC()))

	evStore := &stubEventStore{}
	sweeper := Sweeper{Store: store, Bus: &events.Bus{Store: evStore}}
	require.NoError(t, sweeper.SweepOnce(context.Background(), 3*time.Minute))
	require.Empty(t, evStore.emitted())
}

func TestRunStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	sweeper := Sweeper{Store: newMemStore(), Interval: 10 * time.Millisecond}

	done := make(chan error, 1)
	go func() { done <- sweeper.Run(ctx) }()
	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop after cancel")
	}
}
