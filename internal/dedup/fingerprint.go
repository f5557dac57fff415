// Package dedup detects and collapses duplicate workout observations, both
// within a short processing window and across sync sources.
package dedup

import (
	"fmt"
	"math"
	"time"

	"example.com/rewards/internal/domain"
)

// Fingerprint is a coarse, tolerance-rounded identity for a workout. Two
// reports of the same physical workout land on identical fingerprints when
// their measurement noise stays inside the rounding buckets; the similarity
// predicate in Tolerances covers the cases where it does not.
type Fingerprint struct {
	ActivityType string
	StartMinute  int64
	DurationMin  int64
	Distance100m int64
	Calories10   int64
	Key          string
}

// FingerprintOf derives the fingerprint for a workout. Deterministic and pure.
func FingerprintOf(w domain.Workout) Fingerprint {
	fp := Fingerprint{
		ActivityType: domain.NormalizeActivityType(w.ActivityType),
		StartMinute:  w.StartedAt.Unix() / 60,
		DurationMin:  int64(w.Duration / time.Minute),
		Distance100m: int64(w.DistanceMeters / 100),
		Calories10:   int64(w.Calories / 10),
	}
	fp.Key = fmt.Sprintf("%s|%d|%d|%d|%d", fp.ActivityType, fp.StartMinute, fp.DurationMin, fp.Distance100m, fp.Calories10)
	return fp
}

// Tolerances holds the fuzzy-match windows used to decide whether two workout
// records describe the same physical event. They are configuration, not
// constants, so tests can probe edge-of-window behaviour precisely.
type Tolerances struct {
	StartWindow      time.Duration
	DurationFloor    time.Duration
	DurationFraction float64
	DistanceFloorM   float64
	DistanceFraction float64
	CaloriesFloor    float64
	CaloriesFraction float64
}

// DefaultTolerances returns the production windows.
func DefaultTolerances() Tolerances {
	return Tolerances{
		StartWindow:      5 * time.Minute,
		DurationFloor:    2 * time.Minute,
		DurationFraction: 0.10,
		DistanceFloorM:   100,
		DistanceFraction: 0.05,
		CaloriesFloor:    50,
		CaloriesFraction: 0.15,
	}
}

// Match reports whether a and b plausibly describe the same physical workout.
// Metrics one side is missing (zero) never veto a match; every metric both
// sides carry must land inside its window. The predicate is symmetric.
func (t Tolerances) Match(a, b domain.Workout) bool {
	if domain.NormalizeActivityType(a.ActivityType) != domain.NormalizeActivityType(b.ActivityType) {
		return false
	}

	startDelta := a.StartedAt.Sub(b.StartedAt)
	if startDelta < 0 {
		startDelta = -startDelta
	}
	if startDelta > t.StartWindow {
		return false
	}

	if a.Duration > 0 && b.Duration > 0 {
		allowed := time.Duration(t.DurationFraction * float64(minDuration(a.Duration, b.Duration)))
		if allowed < t.DurationFloor {
			allowed = t.DurationFloor
		}
		delta := a.Duration - b.Duration
		if delta < 0 {
			delta = -delta
		}
		if delta > allowed {
			return false
		}
	}

	if a.DistanceMeters > 0 && b.DistanceMeters > 0 {
		if !within(a.DistanceMeters, b.DistanceMeters, t.DistanceFloorM, t.DistanceFraction) {
			return false
		}
	}

	if a.Calories > 0 && b.Calories > 0 {
		if !within(a.Calories, b.Calories, t.CaloriesFloor, t.CaloriesFraction) {
			return false
		}
	}

	return true
}

func within(a, b, floor, fraction float64) bool {
	allowed := fraction * math.Min(a, b)
	if allowed < floor {
		allowed = floor
	}
	return math.Abs(a-b) <= allowed
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
