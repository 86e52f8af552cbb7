package battery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	mu      sync.Mutex
	sample  Sample
	readErr error
	events  chan Sample
}

func (f *fakeSource) set(sample Sample, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sample = sample
	f.readErr = err
}

func (f *fakeSource) Read(context.Context) (Sample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readErr != nil {
		return Sample{}, f.readErr
	}
	return f.sample, nil
}

func (f *fakeSource) Events(context.Context) (<-chan Sample, error) {
	if f.events == nil {
		return nil, ErrEventsUnsupported
	}
	return f.events, nil
}

type changeRecorder struct {
	mu     sync.Mutex
	states []State
}

func (c *changeRecorder) record(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.states = append(c.states, s)
}

func (c *changeRecorder) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.states)
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestMonitorInitialReadAndTier(t *testing.T) {
	src := &fakeSource{sample: Sample{Percent: 80}}
	m, err := NewMonitor(MonitorConfig{
		Source:       src,
		Profile:      DeviceProfile{Platform: "android", OSVersion: "8.0"},
		PollInterval: time.Hour,
	})
	require.NoError(t, err)
	require.NoError(t, m.Start(context.Background()))
	defer func() { _ = m.Close() }()

	state := m.State()
	require.Equal(t, 80, state.Percent)
	require.False(t, state.Charging)
	require.Equal(t, TierLow, state.Tier)
	require.Equal(t, TierLow, m.Tier())
}

func TestMonitorPushUpdates(t *testing.T) {
	src := &fakeSource{sample: Sample{Percent: 60}, events: make(chan Sample, 1)}
	rec := &changeRecorder{}
	m, err := NewMonitor(MonitorConfig{Source: src, PollInterval: time.Hour, OnChange: rec.record})
	require.NoError(t, err)
	require.NoError(t, m.Start(context.Background()))
	defer func() { _ = m.Close() }()

	src.events <- Sample{Percent: 60, Charging: true}
	waitUntil(t, time.Second, func() bool { return m.State().Charging })
	require.Equal(t, 60, m.State().Percent)
}

func TestMonitorPollEmitsOnlyOnChange(t *testing.T) {
	src := &fakeSource{sample: Sample{Percent: 55}}
	rec := &changeRecorder{}
	m, err := NewMonitor(MonitorConfig{Source: src, PollInterval: 10 * time.Millisecond, OnChange: rec.record})
	require.NoError(t, err)
	require.NoError(t, m.Start(context.Background()))
	defer func() { _ = m.Close() }()

	// Initial read moves the assumed-full state to 55, one change.
	waitUntil(t, time.Second, func() bool { return rec.count() == 1 })
	time.Sleep(60 * time.Millisecond)
	require.Equal(t, 1, rec.count(), "steady polls must not emit")

	src.set(Sample{Percent: 54}, nil)
	waitUntil(t, time.Second, func() bool { return rec.count() == 2 })
	require.Equal(t, 54, m.State().Percent)
}

func TestMonitorReadFailureKeepsLastState(t *testing.T) {
	src := &fakeSource{sample: Sample{Percent: 70}}
	m, err := NewMonitor(MonitorConfig{Source: src, PollInterval: 10 * time.Millisecond})
	require.NoError(t, err)
	require.NoError(t, m.Start(context.Background()))
	defer func() { _ = m.Close() }()

	waitUntil(t, time.Second, func() bool { return m.State().Percent == 70 })
	src.set(Sample{}, errors.New("platform unavailable"))
	time.Sleep(60 * time.Millisecond)
	require.Equal(t, 70, m.State().Percent, "failed reads must retain the last value")
}

func TestMonitorInitialReadFailureAssumesFull(t *testing.T) {
	src := &fakeSource{readErr: errors.New("no battery")}
	m, err := NewMonitor(MonitorConfig{Source: src, PollInterval: time.Hour})
	require.NoError(t, err)
	require.NoError(t, m.Start(context.Background()))
	defer func() { _ = m.Close() }()

	require.Equal(t, 100, m.State().Percent)
	require.Equal(t, DefaultSettings(), m.Recommended(DefaultSettings()))
}

func TestMonitorCloseIdempotent(t *testing.T) {
	src := &fakeSource{sample: Sample{Percent: 40}}
	rec := &changeRecorder{}
	m, err := NewMonitor(MonitorConfig{Source: src, PollInterval: 10 * time.Millisecond, OnChange: rec.record})
	require.NoError(t, err)
	require.NoError(t, m.Start(context.Background()))

	waitUntil(t, time.Second, func() bool { return rec.count() == 1 })
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())

	emitted := rec.count()
	src.set(Sample{Percent: 10}, nil)
	time.Sleep(60 * time.Millisecond)
	require.Equal(t, emitted, rec.count(), "no events after close")
	require.Equal(t, 40, m.State().Percent, "state frozen after close")

	require.Error(t, m.Start(context.Background()))
}

func TestMonitorRecommendationsTrackState(t *testing.T) {
	src := &fakeSource{sample: Sample{Percent: 5}}
	m, err := NewMonitor(MonitorConfig{Source: src, PollInterval: time.Hour})
	require.NoError(t, err)
	require.NoError(t, m.Start(context.Background()))
	defer func() { _ = m.Close() }()

	settings := m.Recommended(DefaultSettings())
	require.Equal(t, AccuracyLowest, settings.Accuracy)
	require.Equal(t, 50, settings.DistanceFilter)
	require.Equal(t, 60*time.Second, m.RecommendedInterval(15*time.Second))
}

func TestMonitorRequiresSource(t *testing.T) {
	_, err := NewMonitor(MonitorConfig{})
	require.Error(t, err)
}
