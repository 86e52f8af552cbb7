package agent

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rasuna-dev/backend-antar/internal/battery"
)

type stubPoster struct {
	mu    sync.Mutex
	pings []Ping
	err   error
}

func (s *stubPoster) PostLocation(_ context.Context, p Ping) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.pings = append(s.pings, p)
	return nil
}

func (s *stubPoster) posted() []Ping {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Ping(nil), s.pings...)
}

func newTestMonitor(t *testing.T, sample battery.Sample) *battery.Monitor {
	t.Helper()
	mon, err := battery.NewMonitor(battery.MonitorConfig{
		Source:       battery.FixedSource{Sample: sample},
		PollInterval: time.Hour,
	})
	require.NoError(t, err)
	require.NoError(t, mon.Start(context.Background()))
	t.Cleanup(func() { _ = mon.Close() })
	return mon
}

func TestCyclePostsFixWithBatteryState(t *testing.T) {
	poster := &stubPoster{}
	src, err := NewWaypointSource(jakartaRoute, false)
	require.NoError(t, err)
	runner := &Runner{
		Poster:  poster,
		Source:  src,
		Monitor: newTestMonitor(t, battery.Sample{Percent: 80}),
	}

	require.NoError(t, runner.Cycle(context.Background(), battery.DefaultSettings()))

	pings := poster.posted()
	require.Len(t, pings, 1)
	require.Equal(t, jakartaRoute[0].Lat, pings[0].Lat)
	require.Equal(t, jakartaRoute[0].Lng, pings[0].Lng)
	require.Equal(t, 80, pings[0].BatteryPct)
	require.False(t, pings[0].Charging)
	require.False(t, pings[0].RecordedAt.IsZero())
}

func TestCycleHonorsDistanceFilter(t *testing.T) {
	// Second point is ~3m from the first, third is ~110m further.
	route := []Waypoint{
		{Lat: -6.2001, Lng: 106.8166},
		{Lat: -6.2001, Lng: 106.81663},
		{Lat: -6.2011, Lng: 106.8166},
	}
	poster := &stubPoster{}
	src, err := NewWaypointSource(route, false)
	require.NoError(t, err)
	runner := &Runner{
		Poster:  poster,
		Source:  src,
		Monitor: newTestMonitor(t, battery.Sample{Percent: 90}),
	}

	defaults := battery.DefaultSettings() // 10m filter
	require.NoError(t, runner.Cycle(context.Background(), defaults))
	require.NoError(t, runner.Cycle(context.Background(), defaults))
	require.NoError(t, runner.Cycle(context.Background(), defaults))

	pings := poster.posted()
	require.Len(t, pings, 2, "3m hop must not be reported")
	require.Equal(t, route[0].Lat, pings[0].Lat)
	require.Equal(t, route[2].Lat, pings[1].Lat)
}

func TestCycleAppliesPowerSavingSettings(t *testing.T) {
	poster := &stubPoster{}
	src, err := NewWaypointSource(jakartaRoute, false)
	require.NoError(t, err)
	runner := &Runner{
		Poster:  poster,
		Source:  src,
		Monitor: newTestMonitor(t, battery.Sample{Percent: 8}),
	}

	require.NoError(t, runner.Cycle(context.Background(), battery.DefaultSettings()))

	pings := poster.posted()
	require.Len(t, pings, 1)
	require.Equal(t, 50.0, pings[0].AccuracyM, "critical band requests lowest accuracy")
	require.Equal(t, 8, pings[0].BatteryPct)
}

func TestCyclePropagatesPostFailure(t *testing.T) {
	poster := &stubPoster{err: errors.New("api unreachable")}
	src, err := NewWaypointSource(jakartaRoute, false)
	require.NoError(t, err)
	runner := &Runner{
		Poster:  poster,
		Source:  src,
		Monitor: newTestMonitor(t, battery.Sample{Percent: 90}),
	}

	err = runner.Cycle(context.Background(), battery.DefaultSettings())
	require.ErrorContains(t, err, "api unreachable")
	require.Empty(t, poster.posted())
}

func TestRunStopsWhenRouteEnds(t *testing.T) {
	poster := &stubPoster{}
	src, err := NewWaypointSource(jakartaRoute, false)
	require.NoError(t, err)
	runner := &Runner{
		Poster:   poster,
		Source:   src,
		Monitor:  newTestMonitor(t, battery.Sample{Percent: 90}),
		Interval: time.Millisecond,
	}

	done := make(chan error, 1)
	go func() { done <- runner.Run(context.Background()) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop after the route ended")
	}
	require.Len(t, poster.posted(), len(jakartaRoute))
}

func TestRunStopsOnContextCancel(t *testing.T) {
	poster := &stubPoster{}
	src, err := NewWaypointSource(jakartaRoute, true)
	require.NoError(t, err)
	runner := &Runner{
		Poster:   poster,
		Source:   src,
		Monitor:  newTestMonitor(t, battery.Sample{Percent: 90}),
		Interval: 10 * time.Millisecond,
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runner.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("runner did not stop on cancel")
	}
}
