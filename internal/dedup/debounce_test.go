package dedup

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/rewards/internal/domain"
)

func TestDebouncerSuppressesRepeatSightings(t *testing.T) {
	now := time.Date(2026, time.August, 30, 7, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	d := NewDebouncer(5*time.Second, 5*time.Minute, WithDebouncerClock(clock), WithDebouncerLogger(quietLogger()))

	w := baseRun("w-1", domain.SourceHealthKit)

	first := d.FilterUnique([]domain.Workout{w}, "push")
	require.Len(t, first, 1)

	now = now.Add(2 * time.Second)
	second := d.FilterUnique([]domain.Workout{w}, "summary")
	require.Empty(t, second)
}

func TestDebouncerWindowExtendsFromLatestSighting(t *testing.T) {
	now := time.Date(2026, time.August, 30, 7, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	d := NewDebouncer(5*time.Second, 5*time.Minute, WithDebouncerClock(clock), WithDebouncerLogger(quietLogger()))

	w := baseRun("w-1", domain.SourceHealthKit)
	d.FilterUnique([]domain.Workout{w}, "push")

	// Each suppressed sighting restamps the entry, so the window slides.
	now = now.Add(4 * time.Second)
	require.Empty(t, d.FilterUnique([]domain.Workout{w}, "anchored"))

	now = now.Add(4 * time.Second)
	require.Empty(t, d.FilterUnique([]domain.Workout{w}, "summary"))

	now = now.Add(6 * time.Second)
	require.Len(t, d.FilterUnique([]domain.Workout{w}, "push"), 1)
}

func TestDebouncerSuppressesSameIDWithRefinedMetrics(t *testing.T) {
	now := time.Date(2026, time.August, 30, 7, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	d := NewDebouncer(5*time.Second, 5*time.Minute, WithDebouncerClock(clock), WithDebouncerLogger(quietLogger()))

	w := baseRun("w-1", domain.SourceHealthKit)
	d.FilterUnique([]domain.Workout{w}, "push")

	// A second mechanism reports the same id with a refined distance: still
	// the same workout, still a repeat inside the window.
	revised := w
	revised.DistanceMeters = 5200
	now = now.Add(2 * time.Second)
	require.Empty(t, d.FilterUnique([]domain.Workout{revised}, "anchored"))
}

func TestDebouncerSuppressesSameContentEchoUnderNewID(t *testing.T) {
	now := time.Date(2026, time.August, 30, 7, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	d := NewDebouncer(5*time.Second, 5*time.Minute, WithDebouncerClock(clock), WithDebouncerLogger(quietLogger()))

	d.FilterUnique([]domain.Workout{baseRun("w-1", domain.SourceHealthKit)}, "push")

	echo := baseRun("w-echo", domain.SourceHealthKit)
	now = now.Add(2 * time.Second)
	require.Empty(t, d.FilterUnique([]domain.Workout{echo}, "summary"))

	// Past the window the same shape is a legitimate new sighting.
	now = now.Add(6 * time.Second)
	require.Len(t, d.FilterUnique([]domain.Workout{echo}, "summary"), 1)
}

func TestDebouncerSweepPurgesExpired(t *testing.T) {
	now := time.Date(2026, time.August, 30, 7, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	d := NewDebouncer(5*time.Second, 5*time.Minute, WithDebouncerClock(clock), WithDebouncerLogger(quietLogger()))

	w2 := baseRun("w-2", domain.SourceGarmin)
	w2.StartedAt = w2.StartedAt.Add(time.Hour)
	d.FilterUnique([]domain.Workout{baseRun("w-1", domain.SourceHealthKit)}, "push")
	d.FilterUnique([]domain.Workout{w2}, "push")
	// One id entry and one signature entry per workout.
	require.Equal(t, 4, d.Size())

	now = now.Add(6 * time.Minute)
	require.Equal(t, 4, d.Sweep())
	require.Equal(t, 0, d.Size())
}
