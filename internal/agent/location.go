package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/rasuna-dev/backend-antar/internal/battery"
)

// Fix is a single position sample produced by a location source.
type Fix struct {
	Lat       float64
	Lng       float64
	SpeedKph  float64
	Heading   float64
	AccuracyM float64
}

// LocationSource produces position fixes. Implementations honor the sampling
// settings they are handed where the platform allows it.
type LocationSource interface {
	Next(ctx context.Context, settings battery.Settings) (Fix, error)
}

// ErrRouteDone signals that a replayed route has no more fixes.
var ErrRouteDone = errors.New("agent: route complete")

// Waypoint is one point of a replayed route. Heading is optional; when absent
// the source derives it from the bearing towards the next waypoint.
type Waypoint struct {
	Lat      float64  `json:"lat"`
	Lng      float64  `json:"lng"`
	SpeedKph float64  `json:"speedKph"`
	Heading  *float64 `json:"heading,omitempty"`
}

// LoadWaypoints reads a JSON array of waypoints from disk.
func LoadWaypoints(path string) ([]Waypoint, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("agent: read route file: %w", err)
	}
	var points []Waypoint
	if err := json.Unmarshal(raw, &points); err != nil {
		return nil, fmt.Errorf("agent: decode route file: %w", err)
	}
	if len(points) == 0 {
		return nil, errors.New("agent: route file has no waypoints")
	}
	return points, nil
}

// WaypointSource replays a fixed route, one waypoint per Next call. With Loop
// enabled it wraps around instead of finishing.
type WaypointSource struct {
	mu     sync.Mutex
	points []Waypoint
	idx    int
	loop   bool
}

// NewWaypointSource builds a replay source over the given route.
func NewWaypointSource(points []Waypoint, loop bool) (*WaypointSource, error) {
	if len(points) == 0 {
		return nil, errors.New("agent: at least one waypoint is required")
	}
	return &WaypointSource{points: points, loop: loop}, nil
}

// Next returns the next waypoint as a fix. The reported accuracy is simulated
// from the requested accuracy tier, mirroring how a real receiver degrades.
func (s *WaypointSource) Next(ctx context.Context, settings battery.Settings) (Fix, error) {
	if err := ctx.Err(); err != nil {
		return Fix{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.idx >= len(s.points) {
		if !s.loop {
			return Fix{}, ErrRouteDone
		}
		s.idx = 0
	}
	point := s.points[s.idx]

	heading := 0.0
	switch {
	case point.Heading != nil:
		heading = *point.Heading
	case s.idx+1 < len(s.points):
		next := s.points[s.idx+1]
		heading = bearingDegrees(point.Lat, point.Lng, next.Lat, next.Lng)
	case s.loop && len(s.points) > 1:
		first := s.points[0]
		heading = bearingDegrees(point.Lat, point.Lng, first.Lat, first.Lng)
	}

	s.idx++
	return Fix{
		Lat:       point.Lat,
		Lng:       point.Lng,
		SpeedKph:  point.SpeedKph,
		Heading:   heading,
		AccuracyM: simulatedAccuracy(settings.Accuracy),
	}, nil
}

func simulatedAccuracy(a battery.Accuracy) float64 {
	switch a {
	case battery.AccuracyBest:
		return 5
	case battery.AccuracyHigh:
		return 10
	case battery.AccuracyMedium:
		return 25
	case battery.AccuracyLowest:
		return 50
	default:
		return 10
	}
}
