package pipeline

import (
	"context"
	"io"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/rewards/internal/dedup"
	"example.com/rewards/internal/domain"
)

type fakeRepo struct {
	stored     []domain.Workout
	inserted   []string
	superseded map[string]string // replacedID -> replacement ID
	vias       []string
}

func (r *fakeRepo) ListSince(_ context.Context, userID string, since time.Time) ([]domain.Workout, error) {
	out := make([]domain.Workout, 0, len(r.stored))
	for _, w := range r.stored {
		if w.UserID == userID && !w.StartedAt.Before(since) {
			out = append(out, w)
		}
	}
	return out, nil
}

func (r *fakeRepo) InsertCanonical(_ context.Context, w domain.Workout, via string) error {
	r.stored = append(r.stored, w)
	r.inserted = append(r.inserted, w.ID)
	r.vias = append(r.vias, via)
	return nil
}

func (r *fakeRepo) Supersede(_ context.Context, replacedID string, replacement domain.Workout, via string) error {
	if r.superseded == nil {
		r.superseded = make(map[string]string)
	}
	r.superseded[replacedID] = replacement.ID
	for i, w := range r.stored {
		if w.ID == replacedID {
			r.stored[i] = replacement
		}
	}
	r.vias = append(r.vias, via)
	return nil
}

func newTestService(repo *fakeRepo) *Service {
	quiet := log.New(io.Discard, "", 0)
	deduplicator := dedup.NewDeduplicator(dedup.DefaultTolerances(), dedup.WithDeduplicatorLogger(quiet))
	return NewService(repo, deduplicator, WithLogger(quiet))
}

func runAt(id string, source domain.SyncSource, started time.Time) domain.Workout {
	return domain.Workout{
		ID:             id,
		UserID:         "user-1",
		ActivityType:   "Running",
		StartedAt:      started,
		EndedAt:        started.Add(30 * time.Minute),
		Duration:       30 * time.Minute,
		DistanceMeters: 5000,
		Calories:       320,
		Source:         source,
	}
}

func TestIngestBatchInsertsNewWorkouts(t *testing.T) {
	repo := &fakeRepo{}
	svc := newTestService(repo)

	started := time.Date(2026, time.August, 30, 7, 0, 0, 0, time.UTC)
	batch := []domain.Workout{
		runAt("w-1", domain.SourceHealthKit, started),
		runAt("w-2", domain.SourceHealthKit, started.Add(4*time.Hour)),
	}

	result, err := svc.IngestBatch(context.Background(), "user-1", batch, "push")
	require.NoError(t, err)
	require.Equal(t, 2, result.Inserted)
	require.Zero(t, result.Replaced)
	require.Zero(t, result.Duplicates)
	require.ElementsMatch(t, []string{"w-1", "w-2"}, repo.inserted)
}

func TestIngestBatchDropsLowerPriorityDuplicate(t *testing.T) {
	started := time.Date(2026, time.August, 30, 7, 0, 0, 0, time.UTC)
	repo := &fakeRepo{stored: []domain.Workout{runAt("stored", domain.SourceHealthKit, started)}}
	svc := newTestService(repo)

	nostr := runAt("nostr", domain.SourceNostr, started.Add(time.Minute))

	result, err := svc.IngestBatch(context.Background(), "user-1", []domain.Workout{nostr}, "push")
	require.NoError(t, err)
	require.Zero(t, result.Inserted)
	require.Zero(t, result.Replaced)
	require.Equal(t, 1, result.Duplicates)
	require.Empty(t, repo.inserted)
}

func TestIngestBatchSupersedesStoredWorkout(t *testing.T) {
	started := time.Date(2026, time.August, 30, 7, 0, 0, 0, time.UTC)
	stored := runAt("stored", domain.SourceNostr, started)
	stored.DistanceMeters = 0
	stored.Calories = 0
	repo := &fakeRepo{stored: []domain.Workout{stored}}
	svc := newTestService(repo)

	watch := runAt("watch", domain.SourceHealthKit, started.Add(time.Minute))

	result, err := svc.IngestBatch(context.Background(), "user-1", []domain.Workout{watch}, "anchored")
	require.NoError(t, err)
	require.Equal(t, 1, result.Replaced)
	require.Zero(t, result.Inserted)
	require.Equal(t, "watch", repo.superseded["stored"])
	require.Equal(t, []string{"anchored"}, repo.vias)
}

func TestIngestBatchIdempotentOnReplay(t *testing.T) {
	started := time.Date(2026, time.August, 30, 7, 0, 0, 0, time.UTC)
	repo := &fakeRepo{}
	svc := newTestService(repo)

	batch := []domain.Workout{runAt("w-1", domain.SourceHealthKit, started)}

	first, err := svc.IngestBatch(context.Background(), "user-1", batch, "push")
	require.NoError(t, err)
	require.Equal(t, 1, first.Inserted)

	second, err := svc.IngestBatch(context.Background(), "user-1", batch, "summary")
	require.NoError(t, err)
	require.Zero(t, second.Inserted)
	require.Zero(t, second.Replaced)
	require.Len(t, repo.inserted, 1)
}

func TestIngestBatchReReportedStoredWorkoutDoesNotBlockNewInserts(t *testing.T) {
	started := time.Date(2026, time.August, 30, 7, 0, 0, 0, time.UTC)
	repo := &fakeRepo{stored: []domain.Workout{runAt("w-a", domain.SourceHealthKit, started)}}
	svc := newTestService(repo)

	// The source re-reports the stored workout under the same id with a
	// slightly shifted start, alongside a genuinely new workout.
	reReport := runAt("w-a", domain.SourceHealthKit, started.Add(time.Minute))
	fresh := runAt("w-b", domain.SourceHealthKit, started.Add(4*time.Hour))

	var result IngestResult
	var err error
	done := make(chan struct{})
	go func() {
		result, err = svc.IngestBatch(context.Background(), "user-1", []domain.Workout{reReport, fresh}, "anchored")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("IngestBatch did not return")
	}

	require.NoError(t, err)
	require.Equal(t, 1, result.Inserted)
	require.Zero(t, result.Replaced)
	require.Equal(t, []string{"w-b"}, repo.inserted)
}

func TestWorkoutsDetectedSplitsByUser(t *testing.T) {
	started := time.Date(2026, time.August, 30, 7, 0, 0, 0, time.UTC)
	repo := &fakeRepo{}
	svc := newTestService(repo)

	a := runAt("a", domain.SourceHealthKit, started)
	b := runAt("b", domain.SourceHealthKit, started)
	b.UserID = "user-2"

	require.NoError(t, svc.WorkoutsDetected(context.Background(), []domain.Workout{a, b}, "push"))
	require.ElementsMatch(t, []string{"a", "b"}, repo.inserted)
}

func TestIngestBatchEmptyIsNoop(t *testing.T) {
	repo := &fakeRepo{}
	svc := newTestService(repo)

	result, err := svc.IngestBatch(context.Background(), "user-1", nil, "push")
	require.NoError(t, err)
	require.Zero(t, result.Inserted)
	require.Empty(t, repo.inserted)
}
