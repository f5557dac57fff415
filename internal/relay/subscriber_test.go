package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// fakeRelay accepts one subscription, replays stored events, sends EOSE,
// then one live event.
func fakeRelay(t *testing.T, stored []Event, live []Event) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		ctx := r.Context()

		var req []json.RawMessage
		if err := wsjson.Read(ctx, conn, &req); err != nil {
			return
		}
		require.GreaterOrEqual(t, len(req), 3)
		var verb, subID string
		require.NoError(t, json.Unmarshal(req[0], &verb))
		require.NoError(t, json.Unmarshal(req[1], &subID))
		require.Equal(t, "REQ", verb)

		for _, e := range stored {
			wsjson.Write(ctx, conn, []any{"EVENT", subID, e})
		}
		wsjson.Write(ctx, conn, []any{"EOSE", subID})
		for _, e := range live {
			wsjson.Write(ctx, conn, []any{"EVENT", subID, e})
		}

		// Hold the connection open until the client goes away.
		wsjson.Read(ctx, conn, &req)
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestSubscriberDeliversStoredThenLive(t *testing.T) {
	storedEv := workoutEvent()
	liveEv := workoutEvent()
	liveEv.ID = "ev-live"

	srv := fakeRelay(t, []Event{storedEv}, []Event{liveEv})
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	type delivery struct {
		event  Event
		stored bool
	}
	got := make(chan delivery, 4)
	sub := NewSubscriber(wsURL(srv), Filter{}, nil)

	go sub.Run(ctx, func(e Event, stored bool) {
		got <- delivery{e, stored}
		if e.ID == "ev-live" {
			cancel()
		}
	})

	first := <-got
	require.Equal(t, "ev-1", first.event.ID)
	require.True(t, first.stored)

	second := <-got
	require.Equal(t, "ev-live", second.event.ID)
	require.False(t, second.stored)
}

func TestSourceBuffersAndAnchors(t *testing.T) {
	srv := fakeRelay(t, []Event{workoutEvent()}, nil)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	source := NewSource(NewSubscriber(wsURL(srv), Filter{}, nil), nil)
	defer source.Close()

	triggers, release, err := source.WorkoutTriggers(ctx)
	require.NoError(t, err)
	defer release()

	select {
	case <-triggers:
	case <-ctx.Done():
		t.Fatal("no trigger before deadline")
	}

	recent, err := source.RecentWorkouts(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)

	workouts, anchor, err := source.WorkoutsSince(ctx, nil)
	require.NoError(t, err)
	require.Len(t, workouts, 1)
	require.NotEmpty(t, anchor)

	// Anchor excludes everything already collected.
	workouts, _, err = source.WorkoutsSince(ctx, anchor)
	require.NoError(t, err)
	require.Empty(t, workouts)
}

func TestSourceAuthorizedAlwaysTrue(t *testing.T) {
	source := NewSource(NewSubscriber("ws://unused", Filter{}, nil), nil)
	ok, err := source.Authorized(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
}
