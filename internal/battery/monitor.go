package battery

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Sample is a single power reading from a Source.
type Sample struct {
	Percent  int
	Charging bool
}

// Source reads power state from the platform. Read returns the current
// sample. Events delivers pushed samples (typically charger plug/unplug
// transitions) until the context is cancelled; sources that cannot push
// return ErrEventsUnsupported and the monitor relies on polling alone.
type Source interface {
	Read(ctx context.Context) (Sample, error)
	Events(ctx context.Context) (<-chan Sample, error)
}

// ErrEventsUnsupported marks a Source without a push stream.
var ErrEventsUnsupported = errors.New("battery: events not supported")

const defaultPollInterval = 60 * time.Second

// Monitor caches the latest power state and keeps it fresh through a push
// subscription and a periodic poll. Platform read failures never surface to
// callers; the monitor keeps serving the last observed state and the next
// poll tick is the retry. Consumers read derived recommendations only and
// never write the state themselves.
type Monitor struct {
	src      Source
	tier     DeviceTier
	poll     time.Duration
	onChange func(State)
	log      zerolog.Logger

	mu      sync.RWMutex
	state   Sample
	started bool
	closed  bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// MonitorConfig configures a Monitor.
type MonitorConfig struct {
	Source       Source
	Profile      DeviceProfile
	PollInterval time.Duration
	// OnChange is invoked outside the state lock whenever an observed sample
	// differs from the cached one.
	OnChange func(State)
	Logger   *zerolog.Logger
}

// NewMonitor constructs a Monitor. The device tier is classified once here
// and cached for the monitor's lifetime.
func NewMonitor(cfg MonitorConfig) (*Monitor, error) {
	if cfg.Source == nil {
		return nil, errors.New("battery: source is required")
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}
	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	return &Monitor{
		src:      cfg.Source,
		tier:     ClassifyTier(cfg.Profile),
		poll:     poll,
		onChange: cfg.OnChange,
		log:      logger,
		// Until the first successful read the battery is assumed full so an
		// unreadable platform degrades to default sampling, not power saving.
		state: Sample{Percent: 100},
	}, nil
}

// Start reads the battery once synchronously, then launches the push consumer
// and the poll loop. It returns an error only on misuse; platform failures
// are absorbed.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return errors.New("battery: monitor closed")
	}
	if m.started {
		m.mu.Unlock()
		return errors.New("battery: monitor already started")
	}
	m.started = true
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.mu.Unlock()

	if sample, err := m.src.Read(runCtx); err != nil {
		m.log.Warn().Err(err).Msg("initial battery read failed")
	} else {
		m.apply(sample)
	}

	events, err := m.src.Events(runCtx)
	switch {
	case err == nil && events != nil:
		m.wg.Add(1)
		go m.consume(runCtx, events)
	case errors.Is(err, ErrEventsUnsupported):
		m.log.Debug().Msg("battery source has no push stream, polling only")
	case err != nil:
		m.log.Warn().Err(err).Msg("battery event stream unavailable")
	}

	m.wg.Add(1)
	go m.pollLoop(runCtx)
	return nil
}

func (m *Monitor) consume(ctx context.Context, events <-chan Sample) {
	defer m.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case sample, ok := <-events:
			if !ok {
				return
			}
			m.apply(sample)
		}
	}
}

func (m *Monitor) pollLoop(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sample, err := m.src.Read(ctx)
			if err != nil {
				m.log.Debug().Err(err).Msg("battery poll failed, keeping last state")
				continue
			}
			m.apply(sample)
		}
	}
}

func (m *Monitor) apply(sample Sample) {
	m.mu.Lock()
	changed := sample != m.state
	m.state = sample
	m.mu.Unlock()
	if changed && m.onChange != nil {
		m.onChange(State{Percent: sample.Percent, Charging: sample.Charging, Tier: m.tier})
	}
}

// State returns the cached power state.
func (m *Monitor) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return State{Percent: m.state.Percent, Charging: m.state.Charging, Tier: m.tier}
}

// Tier returns the cached device tier classification.
func (m *Monitor) Tier() DeviceTier { return m.tier }

// Recommended evaluates the sampling policy against the current state.
func (m *Monitor) Recommended(defaults Settings) Settings {
	return Recommend(m.State(), defaults)
}

// RecommendedInterval evaluates the interval policy against the current state.
func (m *Monitor) RecommendedInterval(defaultInterval time.Duration) time.Duration {
	return RecommendInterval(m.State(), defaultInterval)
}

// Close cancels the push subscription and the poll loop and waits for both to
// exit. It is safe to call repeatedly; after the first call the monitor is
// inert and State keeps returning the last cached value.
func (m *Monitor) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	cancel := m.cancel
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	m.wg.Wait()
	return nil
}
