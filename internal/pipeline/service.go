// Package pipeline resolves detected workout batches against the canonical
// store: cross-source deduplication decides what survives, the repository
// records it and emits the outbox events downstream consumers run on.
package pipeline

import (
	"context"
	"fmt"
	"log"
	"time"

	"example.com/rewards/internal/dedup"
	"example.com/rewards/internal/domain"
	"example.com/rewards/internal/observability"
)

const defaultLookback = 6 * time.Hour

// WorkoutRepository captures the persistence operations the pipeline needs.
type WorkoutRepository interface {
	// ListSince returns canonical workouts for the user starting at or
	// after the given time.
	ListSince(ctx context.Context, userID string, since time.Time) ([]domain.Workout, error)
	// InsertCanonical stores a new canonical workout and records its
	// workout.added outbox event in the same transaction.
	InsertCanonical(ctx context.Context, w domain.Workout, via string) error
	// Supersede replaces a stored canonical workout with a higher-ranked
	// duplicate, transactionally with the outbox event.
	Supersede(ctx context.Context, replacedID string, replacement domain.Workout, via string) error
}

// Service owns one dedup pass per detected batch.
type Service struct {
	repo     WorkoutRepository
	dedup    *dedup.Deduplicator
	lookback time.Duration
	logger   *log.Logger
}

// Option configures optional behaviour.
type Option func(*Service)

// WithLookback overrides how far back stored workouts are merged into a
// dedup pass. The window only needs to cover the start-time tolerance plus
// source reporting lag.
func WithLookback(d time.Duration) Option {
	return func(s *Service) {
		s.lookback = d
	}
}

// WithLogger overrides the logger.
func WithLogger(logger *log.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// NewService constructs a Service.
func NewService(repo WorkoutRepository, deduplicator *dedup.Deduplicator, opts ...Option) *Service {
	s := &Service{
		repo:     repo,
		dedup:    deduplicator,
		lookback: defaultLookback,
		logger:   log.New(log.Writer(), "[pipeline] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IngestResult summarizes one batch pass.
type IngestResult struct {
	Inserted   int
	Replaced   int
	Duplicates int
	Report     dedup.Report
}

// WorkoutsDetected implements the detection sink: batches may mix users, so
// they are ingested per user.
func (s *Service) WorkoutsDetected(ctx context.Context, workouts []domain.Workout, via string) error {
	byUser := make(map[string][]domain.Workout)
	for _, w := range workouts {
		byUser[w.UserID] = append(byUser[w.UserID], w)
	}
	for userID, batch := range byUser {
		if _, err := s.IngestBatch(ctx, userID, batch, via); err != nil {
			return fmt.Errorf("ingesting batch for user %s: %w", userID, err)
		}
	}
	return nil
}

// IngestBatch merges the fetched batch with recently stored canonical
// workouts, deduplicates across sources, and persists what survives.
func (s *Service) IngestBatch(ctx context.Context, userID string, batch []domain.Workout, via string) (IngestResult, error) {
	if len(batch) == 0 {
		return IngestResult{}, nil
	}

	minStart := batch[0].StartedAt
	for _, w := range batch[1:] {
		if w.StartedAt.Before(minStart) {
			minStart = w.StartedAt
		}
	}

	existing, err := s.repo.ListSince(ctx, userID, minStart.Add(-s.lookback))
	if err != nil {
		return IngestResult{}, fmt.Errorf("listing stored workouts: %w", err)
	}

	existingIDs := make(map[string]bool, len(existing))
	for _, w := range existing {
		existingIDs[w.ID] = true
	}

	combined := make([]domain.Workout, 0, len(existing)+len(batch))
	combined = append(combined, existing...)
	combined = append(combined, batch...)

	outcome := s.dedup.Dedup(combined)

	result := IngestResult{Report: outcome.Report}
	canonicalIDs := make(map[string]bool, len(outcome.Canonical))
	for _, w := range outcome.Canonical {
		canonicalIDs[w.ID] = true
	}
	for _, w := range batch {
		if !canonicalIDs[w.ID] {
			result.Duplicates++
		}
	}

	for _, w := range outcome.Canonical {
		if existingIDs[w.ID] {
			continue
		}

		replacedID := s.replacedStoredID(outcome.Report.Replaced, existingIDs, w.ID)
		if replacedID != "" {
			if err := s.repo.Supersede(ctx, replacedID, w, via); err != nil {
				return result, fmt.Errorf("superseding workout %s: %w", replacedID, err)
			}
			result.Replaced++
			continue
		}

		if err := s.repo.InsertCanonical(ctx, w, via); err != nil {
			return result, fmt.Errorf("inserting workout %s: %w", w.ID, err)
		}
		result.Inserted++
	}

	if result.Inserted > 0 || result.Replaced > 0 {
		observability.RecordWorkoutPersisted(time.Now())
	}

	if result.Inserted > 0 || result.Replaced > 0 || result.Duplicates > 0 {
		s.logger.Printf("ingested batch (user=%s, via=%s): %d inserted, %d replaced, %d duplicates",
			userID, via, result.Inserted, result.Replaced, result.Duplicates)
	}
	return result, nil
}

// replacedStoredID finds the stored workout the canonical winner displaced,
// following replacement chains to their end. Visited ids bound the walk so a
// malformed chain cannot loop.
func (s *Service) replacedStoredID(replaced map[string]string, existingIDs map[string]bool, winnerID string) string {
	for removedID := range replaced {
		if !existingIDs[removedID] {
			continue
		}
		final := removedID
		visited := map[string]bool{removedID: true}
		for {
			next, ok := replaced[final]
			if !ok || visited[next] {
				break
			}
			visited[next] = true
			final = next
		}
		if final == winnerID {
			return removedID
		}
	}
	return ""
}
