// Package detect runs the redundant detection mechanisms against the
// health-data source and funnels newly observed workouts into the pipeline.
package detect

import (
	"context"
	"errors"
	"time"

	"example.com/rewards/internal/domain"
)

// ErrUnauthorized means the health-data source has not granted read access.
// This is a fatal precondition for detection, not something to retry.
var ErrUnauthorized = errors.New("health data access not authorized")

// ErrQueryTimeout marks a health-data query that exceeded its deadline. The
// mechanism that hit it simply waits for its next trigger.
var ErrQueryTimeout = errors.New("health data query timed out")

// Source models the health-data collaborator. Implementations live outside
// this package; detection only depends on this surface.
type Source interface {
	// Authorized reports whether workout read access has been granted.
	Authorized(ctx context.Context) (bool, error)

	// WorkoutTriggers delivers a signal whenever new workout samples are
	// added. The returned release func unsubscribes; it must be safe to
	// call once.
	WorkoutTriggers(ctx context.Context) (<-chan struct{}, func(), error)

	// SummaryTriggers delivers a signal whenever a daily activity summary
	// changes. A coarser, earlier hint than WorkoutTriggers.
	SummaryTriggers(ctx context.Context) (<-chan struct{}, func(), error)

	// AnchorTriggers delivers a signal whenever the incremental query has
	// new results to collect.
	AnchorTriggers(ctx context.Context) (<-chan struct{}, func(), error)

	// RecentWorkouts returns the most recent workouts, newest first.
	RecentWorkouts(ctx context.Context, limit int) ([]domain.Workout, error)

	// WorkoutsSince returns samples added since the opaque anchor along
	// with the advanced anchor. An empty batch still returns a new anchor.
	WorkoutsSince(ctx context.Context, anchor []byte) ([]domain.Workout, []byte, error)
}

// MarkerStore persists the high-water mark and the incremental-query anchor
// so a restart neither reprocesses nor skips workouts.
type MarkerStore interface {
	HighWaterMark(ctx context.Context, userID string) (time.Time, error)
	SetHighWaterMark(ctx context.Context, userID string, ts time.Time) error
	Anchor(ctx context.Context, userID string) ([]byte, error)
	SetAnchor(ctx context.Context, userID string, anchor []byte) error
}

// Sink receives the workouts that survive the high-water mark filter and the
// temporal debouncer.
type Sink interface {
	WorkoutsDetected(ctx context.Context, workouts []domain.Workout, via string) error
}
