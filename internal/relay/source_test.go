package relay

import (
	"context"
	"io"
	"log"
	"testing"

	"github.com/stretchr/testify/require"
)

func newIdleSource() (*Source, context.Context) {
	// A pre-canceled context keeps the subscription loop from dialing out.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	quiet := log.New(io.Discard, "", 0)
	return NewSource(NewSubscriber("ws://127.0.0.1:0", Filter{}, quiet), quiet), ctx
}

func requireClosed(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		default:
			t.Fatal("trigger channel still open after release")
		}
	}
}

func TestSourceReleaseClosesTriggerChannels(t *testing.T) {
	s, ctx := newIdleSource()

	pushCh, releasePush, err := s.WorkoutTriggers(ctx)
	require.NoError(t, err)
	anchorCh, releaseAnchor, err := s.AnchorTriggers(ctx)
	require.NoError(t, err)

	releasePush()
	releasePush()
	releaseAnchor()

	requireClosed(t, pushCh)
	requireClosed(t, anchorCh)
}

func TestSourceEventAfterReleaseDoesNotSignalClosedChannel(t *testing.T) {
	s, ctx := newIdleSource()

	_, releasePush, err := s.WorkoutTriggers(ctx)
	require.NoError(t, err)
	anchorCh, _, err := s.AnchorTriggers(ctx)
	require.NoError(t, err)

	releasePush()

	s.onEvent(workoutEvent(), false)

	// The still-subscribed anchored channel keeps receiving signals.
	select {
	case <-anchorCh:
	default:
		t.Fatal("expected anchored trigger after event")
	}

	workouts, err := s.RecentWorkouts(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, workouts, 1)
}
