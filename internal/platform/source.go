package platform

import (
	"context"
	"errors"
	"strconv"
	"time"

	"golang.org/x/oauth2"

	"example.com/rewards/internal/domain"
)

// ErrNoPushChannel marks trigger kinds the platform cannot deliver. The
// detection orchestrator degrades gracefully and keeps the mechanisms that
// did subscribe.
var ErrNoPushChannel = errors.New("platform source has no push channel")

// DefaultPollInterval is how often the incremental query runs against a
// platform that only supports polling.
const DefaultPollInterval = 5 * time.Minute

// PollSource adapts a platform Client to the detection source surface.
// Platforms expose no realtime observers, so only the anchored mechanism is
// available and it fires on a timer.
type PollSource struct {
	client      *Client
	tokenSource oauth2.TokenSource
	interval    time.Duration
}

// NewPollSource wires a Client into detection. A non-positive interval falls
// back to DefaultPollInterval.
func NewPollSource(client *Client, tokenSource oauth2.TokenSource, interval time.Duration) *PollSource {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &PollSource{client: client, tokenSource: tokenSource, interval: interval}
}

// Authorized reports whether a usable OAuth token is available.
func (s *PollSource) Authorized(ctx context.Context) (bool, error) {
	token, err := s.tokenSource.Token()
	if err != nil {
		return false, err
	}
	return token.Valid(), nil
}

func (s *PollSource) WorkoutTriggers(ctx context.Context) (<-chan struct{}, func(), error) {
	return nil, nil, ErrNoPushChannel
}

func (s *PollSource) SummaryTriggers(ctx context.Context) (<-chan struct{}, func(), error) {
	return nil, nil, ErrNoPushChannel
}

// AnchorTriggers fires on the poll interval until released. The trigger
// channel closes when the loop exits so consumers ranging over it terminate.
func (s *PollSource) AnchorTriggers(ctx context.Context) (<-chan struct{}, func(), error) {
	signals := make(chan struct{}, 1)
	done := make(chan struct{})

	go func() {
		defer close(signals)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				select {
				case signals <- struct{}{}:
				default:
				}
			case <-done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	release := func() { close(done) }
	return signals, release, nil
}

func (s *PollSource) RecentWorkouts(ctx context.Context, limit int) ([]domain.Workout, error) {
	return s.client.Activities(ctx, time.Time{}, 1, limit)
}

// WorkoutsSince treats the anchor as the unix timestamp of the newest
// activity already collected. An empty batch returns the anchor unchanged.
func (s *PollSource) WorkoutsSince(ctx context.Context, anchor []byte) ([]domain.Workout, []byte, error) {
	var after time.Time
	if len(anchor) > 0 {
		secs, err := strconv.ParseInt(string(anchor), 10, 64)
		if err == nil {
			after = time.Unix(secs, 0)
		}
	}

	workouts, err := s.client.AllActivitiesSince(ctx, after)
	if err != nil {
		return nil, nil, err
	}

	newest := after
	for _, w := range workouts {
		if w.StartedAt.After(newest) {
			newest = w.StartedAt
		}
	}

	next := anchor
	if !newest.IsZero() && newest.After(after) {
		next = []byte(strconv.FormatInt(newest.Unix(), 10))
	}
	return workouts, next, nil
}
