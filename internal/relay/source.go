package relay

import (
	"context"
	"errors"
	"log"
	"sort"
	"strconv"
	"sync"

	"example.com/rewards/internal/domain"
)

// ErrNoSummaryChannel marks the trigger kind relays cannot deliver. Relay
// events are per-workout; there is no daily summary surface.
var ErrNoSummaryChannel = errors.New("relay source has no summary channel")

const bufferCap = 512

// Source adapts a relay subscription to the detection source surface. Events
// accumulate in a bounded buffer; detection drains them through the push and
// anchored mechanisms.
type Source struct {
	sub    *Subscriber
	logger *log.Logger

	mu      sync.Mutex
	buffer  []domain.Workout
	maxSeen int64

	pushTriggers   chan struct{}
	anchorTriggers chan struct{}
	once           sync.Once
	cancel         context.CancelFunc
}

func NewSource(sub *Subscriber, logger *log.Logger) *Source {
	if logger == nil {
		logger = log.Default()
	}
	return &Source{
		sub:            sub,
		logger:         logger,
		pushTriggers:   make(chan struct{}, 1),
		anchorTriggers: make(chan struct{}, 1),
	}
}

// Start launches the subscription loop. Safe to call once; detection calls
// it before subscribing to triggers.
func (s *Source) Start(ctx context.Context) {
	s.once.Do(func() {
		runCtx, cancel := context.WithCancel(ctx)
		s.cancel = cancel
		go func() {
			if err := s.sub.Run(runCtx, s.onEvent); err != nil && runCtx.Err() == nil {
				s.logger.Printf("[relay] subscription loop ended: %v", err)
			}
		}()
	})
}

// Close stops the subscription loop.
func (s *Source) Close() {
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Source) onEvent(event Event, stored bool) {
	w, err := WorkoutFromEvent(event)
	if err != nil {
		s.logger.Printf("[relay] skipping event: %v", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.buffer = append(s.buffer, w)
	if len(s.buffer) > bufferCap {
		s.buffer = s.buffer[len(s.buffer)-bufferCap:]
	}
	if event.CreatedAt > s.maxSeen {
		s.maxSeen = event.CreatedAt
	}

	// Stored history arrives in a burst; one pending trigger per channel
	// covers it. Released channels are nil here and skipped.
	for _, ch := range []chan struct{}{s.pushTriggers, s.anchorTriggers} {
		if ch == nil {
			continue
		}
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Authorized is always true: relays are public read surfaces.
func (s *Source) Authorized(ctx context.Context) (bool, error) {
	return true, nil
}

// WorkoutTriggers hands out the push trigger channel. The release closes it,
// ending any consumer ranging over it.
func (s *Source) WorkoutTriggers(ctx context.Context) (<-chan struct{}, func(), error) {
	s.Start(ctx)
	s.mu.Lock()
	ch := s.pushTriggers
	s.mu.Unlock()
	return ch, func() { s.releaseTrigger(&s.pushTriggers) }, nil
}

func (s *Source) SummaryTriggers(ctx context.Context) (<-chan struct{}, func(), error) {
	return nil, nil, ErrNoSummaryChannel
}

func (s *Source) AnchorTriggers(ctx context.Context) (<-chan struct{}, func(), error) {
	s.Start(ctx)
	s.mu.Lock()
	ch := s.anchorTriggers
	s.mu.Unlock()
	return ch, func() { s.releaseTrigger(&s.anchorTriggers) }, nil
}

// releaseTrigger closes a trigger channel and nils it out so onEvent stops
// signalling it. Idempotent.
func (s *Source) releaseTrigger(ch *chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if *ch != nil {
		close(*ch)
		*ch = nil
	}
}

// RecentWorkouts returns the newest buffered workouts, newest first.
func (s *Source) RecentWorkouts(ctx context.Context, limit int) ([]domain.Workout, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Workout, len(s.buffer))
	copy(out, s.buffer)
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// WorkoutsSince returns buffered workouts that started after the anchor,
// which is the unix timestamp of the newest event already collected.
func (s *Source) WorkoutsSince(ctx context.Context, anchor []byte) ([]domain.Workout, []byte, error) {
	var since int64
	if len(anchor) > 0 {
		if v, err := strconv.ParseInt(string(anchor), 10, 64); err == nil {
			since = v
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Workout
	for _, w := range s.buffer {
		if w.StartedAt.Unix() > since {
			out = append(out, w)
		}
	}

	next := anchor
	if s.maxSeen > since {
		next = []byte(strconv.FormatInt(s.maxSeen, 10))
	}
	return out, next, nil
}
