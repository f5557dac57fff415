package detect

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/rewards/internal/dedup"
	"example.com/rewards/internal/domain"
)

type fakeSource struct {
	authorized bool
	authErr    error

	pushCh    chan struct{}
	anchorCh  chan struct{}
	summaryCh chan struct{}

	pushErr    error
	anchorErr  error
	summaryErr error

	mu      sync.Mutex
	recent  []domain.Workout
	since   []domain.Workout
	anchors [][]byte
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		authorized: true,
		pushCh:     make(chan struct{}, 1),
		anchorCh:   make(chan struct{}, 1),
		summaryCh:  make(chan struct{}, 1),
	}
}

func (f *fakeSource) Authorized(context.Context) (bool, error) {
	return f.authorized, f.authErr
}

func (f *fakeSource) WorkoutTriggers(context.Context) (<-chan struct{}, func(), error) {
	if f.pushErr != nil {
		return nil, nil, f.pushErr
	}
	return f.pushCh, func() { close(f.pushCh) }, nil
}

func (f *fakeSource) SummaryTriggers(context.Context) (<-chan struct{}, func(), error) {
	if f.summaryErr != nil {
		return nil, nil, f.summaryErr
	}
	return f.summaryCh, func() { close(f.summaryCh) }, nil
}

func (f *fakeSource) AnchorTriggers(context.Context) (<-chan struct{}, func(), error) {
	if f.anchorErr != nil {
		return nil, nil, f.anchorErr
	}
	return f.anchorCh, func() { close(f.anchorCh) }, nil
}

func (f *fakeSource) RecentWorkouts(context.Context, int) ([]domain.Workout, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Workout, len(f.recent))
	copy(out, f.recent)
	return out, nil
}

func (f *fakeSource) WorkoutsSince(_ context.Context, anchor []byte) ([]domain.Workout, []byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.anchors = append(f.anchors, anchor)
	out := make([]domain.Workout, len(f.since))
	copy(out, f.since)
	return out, []byte("advanced"), nil
}

type memMarkers struct {
	mu     sync.Mutex
	mark   time.Time
	anchor []byte
}

func (m *memMarkers) HighWaterMark(context.Context, string) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mark, nil
}

func (m *memMarkers) SetHighWaterMark(_ context.Context, _ string, ts time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ts.After(m.mark) {
		m.mark = ts
	}
	return nil
}

func (m *memMarkers) Anchor(context.Context, string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.anchor, nil
}

func (m *memMarkers) SetAnchor(_ context.Context, _ string, anchor []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.anchor = anchor
	return nil
}

type collectSink struct {
	mu      sync.Mutex
	batches [][]domain.Workout
	vias    []string
}

func (s *collectSink) WorkoutsDetected(_ context.Context, workouts []domain.Workout, via string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, workouts)
	s.vias = append(s.vias, via)
	return nil
}

func (s *collectSink) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, batch := range s.batches {
		n += len(batch)
	}
	return n
}

func testWorkout(id string, started time.Time) domain.Workout {
	return domain.Workout{
		ID:             id,
		UserID:         "user-1",
		ActivityType:   "Running",
		StartedAt:      started,
		EndedAt:        started.Add(30 * time.Minute),
		Duration:       30 * time.Minute,
		DistanceMeters: 5000,
		Source:         domain.SourceHealthKit,
	}
}

func newTestOrchestrator(source Source, markers MarkerStore, sink Sink) *Orchestrator {
	debouncer := dedup.NewDebouncer(5*time.Second, 5*time.Minute,
		dedup.WithDebouncerLogger(log.New(io.Discard, "", 0)))
	return NewOrchestrator(
		Config{UserID: "user-1", RecentLimit: 20, QueryTimeout: time.Second},
		source, markers, debouncer, sink,
		WithLogger(log.New(io.Discard, "", 0)),
	)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestStartRequiresAuthorization(t *testing.T) {
	source := newFakeSource()
	source.authorized = false

	o := newTestOrchestrator(source, &memMarkers{}, &collectSink{})
	err := o.Start(context.Background())
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestStartFailsWhenEveryMechanismDegraded(t *testing.T) {
	source := newFakeSource()
	source.pushErr = errors.New("no push")
	source.anchorErr = errors.New("no anchor")
	source.summaryErr = errors.New("no summary")

	o := newTestOrchestrator(source, &memMarkers{}, &collectSink{})
	require.Error(t, o.Start(context.Background()))
}

func TestPushTriggerDeliversFreshWorkouts(t *testing.T) {
	source := newFakeSource()
	source.anchorErr = errors.New("no anchor")
	source.summaryErr = errors.New("no summary")

	started := time.Now().Add(-time.Hour)
	source.recent = []domain.Workout{testWorkout("w-1", started)}

	sink := &collectSink{}
	o := newTestOrchestrator(source, &memMarkers{}, sink)
	require.NoError(t, o.Start(context.Background()))
	defer o.Stop()

	source.pushCh <- struct{}{}
	waitFor(t, func() bool { return sink.total() == 1 })

	require.Equal(t, []string{MechanismPush}, sink.vias)
}

func TestHighWaterMarkFiltersAlreadyProcessed(t *testing.T) {
	source := newFakeSource()
	source.anchorErr = errors.New("no anchor")
	source.summaryErr = errors.New("no summary")

	old := time.Now().Add(-3 * time.Hour)
	fresh := time.Now().Add(-time.Hour)
	source.recent = []domain.Workout{testWorkout("old", old), testWorkout("new", fresh)}

	markers := &memMarkers{mark: old.Add(time.Minute)}
	sink := &collectSink{}
	o := newTestOrchestrator(source, markers, sink)
	require.NoError(t, o.Start(context.Background()))
	defer o.Stop()

	source.pushCh <- struct{}{}
	waitFor(t, func() bool { return sink.total() == 1 })

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Equal(t, "new", sink.batches[0][0].ID)
}

func TestConcurrentMechanismsDebounceToOneDelivery(t *testing.T) {
	source := newFakeSource()
	source.anchorErr = errors.New("no anchor")

	started := time.Now().Add(-time.Hour)
	source.recent = []domain.Workout{testWorkout("w-1", started)}

	sink := &collectSink{}
	o := newTestOrchestrator(source, &memMarkers{}, sink)
	require.NoError(t, o.Start(context.Background()))
	defer o.Stop()

	// Summary fires a fetch on start; the push trigger races it for the
	// same workout.
	source.pushCh <- struct{}{}
	source.summaryCh <- struct{}{}

	waitFor(t, func() bool { return sink.total() >= 1 })
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 1, sink.total())
}

func TestAnchoredMechanismAdvancesAnchor(t *testing.T) {
	source := newFakeSource()
	source.pushErr = errors.New("no push")
	source.summaryErr = errors.New("no summary")

	started := time.Now().Add(-time.Hour)
	source.since = []domain.Workout{testWorkout("w-1", started)}

	markers := &memMarkers{anchor: []byte("persisted")}
	sink := &collectSink{}
	o := newTestOrchestrator(source, markers, sink)
	require.NoError(t, o.Start(context.Background()))
	defer o.Stop()

	waitFor(t, func() bool { return sink.total() == 1 })

	source.mu.Lock()
	firstAnchor := source.anchors[0]
	source.mu.Unlock()
	require.Equal(t, []byte("persisted"), firstAnchor)

	waitFor(t, func() bool {
		anchor, _ := markers.Anchor(context.Background(), "user-1")
		return string(anchor) == "advanced"
	})
	require.Equal(t, []string{MechanismAnchored}, sink.vias)
}

func TestHighWaterMarkPersistedAfterDelivery(t *testing.T) {
	source := newFakeSource()
	source.anchorErr = errors.New("no anchor")
	source.summaryErr = errors.New("no summary")

	started := time.Now().Add(-time.Hour).Truncate(time.Second)
	source.recent = []domain.Workout{testWorkout("w-1", started)}

	markers := &memMarkers{}
	o := newTestOrchestrator(source, markers, &collectSink{})
	require.NoError(t, o.Start(context.Background()))
	defer o.Stop()

	source.pushCh <- struct{}{}
	waitFor(t, func() bool {
		mark, _ := markers.HighWaterMark(context.Background(), "user-1")
		return mark.Equal(started)
	})
	require.True(t, o.LastProcessed().Equal(started))
}
