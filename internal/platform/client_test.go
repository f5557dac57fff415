package platform

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"example.com/rewards/internal/domain"
)

func staticToken() oauth2.TokenSource {
	return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "test-token"})
}

func TestActivitiesMapsToWorkouts(t *testing.T) {
	started := time.Date(2026, 8, 30, 7, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/athlete/activities", r.URL.Path)
		require.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode([]Activity{{
			ID:               42,
			Type:             "Run",
			StartDate:        started,
			ElapsedSeconds:   1800,
			DistanceMeters:   5000,
			Calories:         320,
			AverageHeartRate: 142,
			DeviceName:       "Forerunner 255",
		}})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, domain.SourceGarmin, staticToken())
	workouts, err := client.Activities(context.Background(), time.Time{}, 1, 20)
	require.NoError(t, err)
	require.Len(t, workouts, 1)

	w := workouts[0]
	require.Equal(t, "garmin-42", w.ID)
	require.Equal(t, "Running", w.ActivityType)
	require.Equal(t, 30*time.Minute, w.Duration)
	require.Equal(t, started.Add(30*time.Minute), w.EndedAt)
	require.Equal(t, domain.SourceGarmin, w.Source)
	require.Equal(t, "Forerunner 255", w.SourceName)
}

func TestAllActivitiesSincePaginates(t *testing.T) {
	pages := map[string][]Activity{
		"1": make([]Activity, 100),
		"2": {{ID: 200, Type: "Ride", StartDate: time.Now().UTC()}},
	}
	for i := range pages["1"] {
		pages["1"][i] = Activity{ID: int64(i), Type: "Run", StartDate: time.Now().UTC()}
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(pages[r.URL.Query().Get("page")])
	}))
	defer srv.Close()

	client := NewClient(srv.URL, domain.SourceGarmin, staticToken())
	client.rateLimiter.minInterval = 0
	workouts, err := client.AllActivitiesSince(context.Background(), time.Time{})
	require.NoError(t, err)
	require.Len(t, workouts, 101)
}

func TestRateLimiterUpdatesFromHeaders(t *testing.T) {
	limiter := NewRateLimiter(DefaultLimits())
	header := http.Header{}
	header.Set("X-RateLimit-Limit", "100,1000")
	header.Set("X-RateLimit-Usage", "34,512")
	limiter.UpdateFromHeaders(header)

	shortRemaining, dailyRemaining := limiter.Status()
	require.Equal(t, 66, shortRemaining)
	require.Equal(t, 488, dailyRemaining)
}

func TestPollSourceAnchor(t *testing.T) {
	started := time.Date(2026, 8, 31, 18, 0, 0, 0, time.UTC)
	var after string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		after = r.URL.Query().Get("after")
		if after == strconv.FormatInt(started.Unix(), 10) {
			json.NewEncoder(w).Encode([]Activity{})
			return
		}
		json.NewEncoder(w).Encode([]Activity{{ID: 7, Type: "Run", StartDate: started, ElapsedSeconds: 600}})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, domain.SourceGoogleFit, staticToken())
	client.rateLimiter.minInterval = 0
	source := NewPollSource(client, staticToken(), time.Minute)

	ok, err := source.Authorized(context.Background())
	require.NoError(t, err)
	require.True(t, ok)

	workouts, anchor, err := source.WorkoutsSince(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, workouts, 1)
	require.Equal(t, strconv.FormatInt(started.Unix(), 10), string(anchor))

	// No new activity after the anchor leaves it unchanged.
	workouts, anchor2, err := source.WorkoutsSince(context.Background(), anchor)
	require.NoError(t, err)
	require.Empty(t, workouts)
	require.Equal(t, anchor, anchor2)
}
