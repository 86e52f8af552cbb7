package agent

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rasuna-dev/backend-antar/internal/battery"
)

var jakartaRoute = []Waypoint{
	{Lat: -6.2001, Lng: 106.8166, SpeedKph: 18},
	{Lat: -6.2010, Lng: 106.8166, SpeedKph: 22},
	{Lat: -6.2010, Lng: 106.8180, SpeedKph: 25},
}

func TestWaypointReplayOrderAndCompletion(t *testing.T) {
	src, err := NewWaypointSource(jakartaRoute, false)
	require.NoError(t, err)

	settings := battery.DefaultSettings()
	for i, want := range jakartaRoute {
		fix, err := src.Next(context.Background(), settings)
		require.NoError(t, err, "waypoint %d", i)
		require.Equal(t, want.Lat, fix.Lat)
		require.Equal(t, want.Lng, fix.Lng)
		require.Equal(t, want.SpeedKph, fix.SpeedKph)
	}

	_, err = src.Next(context.Background(), settings)
	require.ErrorIs(t, err, ErrRouteDone)
}

func TestWaypointReplayLoops(t *testing.T) {
	src, err := NewWaypointSource(jakartaRoute[:2], true)
	require.NoError(t, err)

	settings := battery.DefaultSettings()
	for i := 0; i < 5; i++ {
		fix, err := src.Next(context.Background(), settings)
		require.NoError(t, err)
		require.Equal(t, jakartaRoute[i%2].Lat, fix.Lat)
	}
}

func TestWaypointHeadingDerivedFromRoute(t *testing.T) {
	// Second point is due south of the first, third is due east of the second.
	src, err := NewWaypointSource(jakartaRoute, false)
	require.NoError(t, err)

	settings := battery.DefaultSettings()
	first, err := src.Next(context.Background(), settings)
	require.NoError(t, err)
	require.InDelta(t, 180, first.Heading, 0.5)

	second, err := src.Next(context.Background(), settings)
	require.NoError(t, err)
	require.InDelta(t, 90, second.Heading, 0.5)
}

func TestWaypointHeadingFromFileWins(t *testing.T) {
	heading := 45.0
	points := []Waypoint{
		{Lat: -6.2, Lng: 106.8, Heading: &heading},
		{Lat: -6.3, Lng: 106.8},
	}
	src, err := NewWaypointSource(points, false)
	require.NoError(t, err)

	fix, err := src.Next(context.Background(), battery.DefaultSettings())
	require.NoError(t, err)
	require.Equal(t, heading, fix.Heading)
}

func TestSimulatedAccuracyFollowsSettings(t *testing.T) {
	src, err := NewWaypointSource(jakartaRoute, true)
	require.NoError(t, err)

	cases := []struct {
		accuracy battery.Accuracy
		want     float64
	}{
		{battery.AccuracyBest, 5},
		{battery.AccuracyHigh, 10},
		{battery.AccuracyMedium, 25},
		{battery.AccuracyLowest, 50},
	}
	for _, tc := range cases {
		fix, err := src.Next(context.Background(), battery.Settings{Accuracy: tc.accuracy})
		require.NoError(t, err)
		require.Equal(t, tc.want, fix.AccuracyM, "accuracy %s", tc.accuracy)
	}
}

func TestLoadWaypoints(t *testing.T) {
	path := filepath.Join(t.TempDir(), "route.json")
	payload := `[{"lat":-6.2,"lng":106.8,"speedKph":20},{"lat":-6.21,"lng":106.81}]`
	require.NoError(t, os.WriteFile(path, []byte(payload), 0o600))

	points, err := LoadWaypoints(path)
	require.NoError(t, err)
	require.Len(t, points, 2)
	require.Equal(t, 20.0, points[0].SpeedKph)
}

func TestLoadWaypointsRejectsEmptyRoute(t *testing.T) {
	path := filepath.Join(t.TempDir(), "route.json")
	require.NoError(t, os.WriteFile(path, []byte(`[]`), 0o600))

	_, err := LoadWaypoints(path)
	require.Error(t, err)
}

func TestDistanceMeters(t *testing.T) {
	// One thousandth of a degree of latitude is about 111 meters.
	d := distanceMeters(-6.2000, 106.8166, -6.2010, 106.8166)
	require.InDelta(t, 111.2, d, 1.0)

	require.Zero(t, distanceMeters(-6.2, 106.8, -6.2, 106.8))
}

func TestBearingDegrees(t *testing.T) {
	require.InDelta(t, 0, bearingDegrees(-6.21, 106.8, -6.20, 106.8), 0.5)
	east := bearingDegrees(-6.2, 106.80, -6.2, 106.81)
	require.InDelta(t, 90, east, 0.5)
	require.False(t, math.Signbit(east))
}
