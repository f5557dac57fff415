package relay

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/rewards/internal/domain"
)

func workoutEvent() Event {
	return Event{
		ID:        "ev-1",
		PubKey:    "npub-runner",
		CreatedAt: 1756627200,
		Kind:      KindWorkoutRecord,
		Tags: [][]string{
			{"d", "record-1"},
			{"exercise", "running"},
			{"start", "1756623600"},
			{"end", "1756625400"},
			{"distance", "5.2", "km"},
			{"calories", "340"},
			{"heart_rate_avg", "148"},
			{"client", "zap-run"},
		},
	}
}

func TestWorkoutFromEvent(t *testing.T) {
	w, err := WorkoutFromEvent(workoutEvent())
	require.NoError(t, err)

	require.Equal(t, "ev-1", w.ID)
	require.Equal(t, "npub-runner", w.UserID)
	require.Equal(t, "Running", w.ActivityType)
	require.Equal(t, time.Unix(1756623600, 0).UTC(), w.StartedAt)
	require.Equal(t, 30*time.Minute, w.Duration)
	require.InDelta(t, 5200, w.DistanceMeters, 0.5)
	require.Equal(t, float64(340), w.Calories)
	require.Equal(t, float64(148), w.AvgHeartRate)
	require.Equal(t, domain.SourceNostr, w.Source)
	require.Equal(t, "zap-run", w.SourceName)
}

func TestWorkoutFromEventRejectsWrongKind(t *testing.T) {
	e := workoutEvent()
	e.Kind = 1
	_, err := WorkoutFromEvent(e)
	require.Error(t, err)
}

func TestWorkoutFromEventRequiresStart(t *testing.T) {
	e := workoutEvent()
	e.Tags = [][]string{{"exercise", "running"}}
	_, err := WorkoutFromEvent(e)
	require.Error(t, err)
}

func TestWorkoutFromEventMissingMetricsStayZero(t *testing.T) {
	e := Event{
		ID:     "ev-2",
		PubKey: "npub-walker",
		Kind:   KindWorkoutRecord,
		Tags: [][]string{
			{"exercise", "walking"},
			{"start", "1756623600"},
		},
	}
	w, err := WorkoutFromEvent(e)
	require.NoError(t, err)
	require.Zero(t, w.DistanceMeters)
	require.Zero(t, w.Calories)
	require.Zero(t, w.AvgHeartRate)
	require.Zero(t, w.Duration)
}

func TestDistanceUnits(t *testing.T) {
	require.InDelta(t, 1609.344, toMeters(1, "mi"), 0.001)
	require.Equal(t, float64(3000), toMeters(3, "km"))
	require.Equal(t, float64(400), toMeters(400, "m"))
	require.Equal(t, float64(400), toMeters(400, ""))
}
