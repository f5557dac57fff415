// Package platform is the client for external fitness platform APIs
// (Garmin, Google Fit). These sources have no push channel, so detection
// falls back to polling through the incremental-query mechanism.
package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/oauth2"

	"example.com/rewards/internal/domain"
)

// Activity is the platform's wire representation of a completed workout.
type Activity struct {
	ID               int64     `json:"id"`
	Type             string    `json:"type"`
	StartDate        time.Time `json:"start_date"`
	ElapsedSeconds   int64     `json:"elapsed_time"`
	DistanceMeters   float64   `json:"distance"`
	Calories         float64   `json:"calories"`
	AverageHeartRate float64   `json:"average_heartrate"`
	DeviceName       string    `json:"device_name"`
}

// Client is an authenticated, rate-limited platform API client.
type Client struct {
	baseURL     string
	source      domain.SyncSource
	httpClient  *http.Client
	rateLimiter *RateLimiter
}

// NewClient builds a Client. tokenSource supplies OAuth access tokens and
// handles refresh transparently.
func NewClient(baseURL string, source domain.SyncSource, tokenSource oauth2.TokenSource) *Client {
	return &Client{
		baseURL:     baseURL,
		source:      source,
		httpClient:  oauth2.NewClient(context.Background(), tokenSource),
		rateLimiter: NewRateLimiter(DefaultLimits()),
	}
}

// Activities fetches one page of activities started after 'after'.
func (c *Client) Activities(ctx context.Context, after time.Time, page, perPage int) ([]domain.Workout, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, err
	}

	params := url.Values{}
	if !after.IsZero() {
		params.Set("after", strconv.FormatInt(after.Unix(), 10))
	}
	params.Set("page", strconv.Itoa(page))
	params.Set("per_page", strconv.Itoa(perPage))

	resp, err := c.get(ctx, "/athlete/activities", params)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var activities []Activity
	if err := json.NewDecoder(resp.Body).Decode(&activities); err != nil {
		return nil, fmt.Errorf("decoding activities: %w", err)
	}

	workouts := make([]domain.Workout, 0, len(activities))
	for _, a := range activities {
		workouts = append(workouts, c.toWorkout(a))
	}
	return workouts, nil
}

// AllActivitiesSince pages through every activity after 'after', respecting
// rate limits between pages.
func (c *Client) AllActivitiesSince(ctx context.Context, after time.Time) ([]domain.Workout, error) {
	var all []domain.Workout
	page := 1
	const perPage = 100

	for {
		batch, err := c.Activities(ctx, after, page, perPage)
		if err != nil {
			return all, fmt.Errorf("fetching page %d: %w", page, err)
		}
		if len(batch) == 0 {
			break
		}
		all = append(all, batch...)
		if len(batch) < perPage {
			break
		}
		page++
	}
	return all, nil
}

// RateLimitStatus returns remaining quota in the short and daily windows.
func (c *Client) RateLimitStatus() (shortRemaining, dailyRemaining int) {
	return c.rateLimiter.Status()
}

func (c *Client) toWorkout(a Activity) domain.Workout {
	duration := time.Duration(a.ElapsedSeconds) * time.Second
	return domain.Workout{
		ID:             fmt.Sprintf("%s-%d", c.source, a.ID),
		ActivityType:   domain.NormalizeActivityType(a.Type),
		StartedAt:      a.StartDate,
		EndedAt:        a.StartDate.Add(duration),
		Duration:       duration,
		DistanceMeters: a.DistanceMeters,
		Calories:       a.Calories,
		AvgHeartRate:   a.AverageHeartRate,
		Source:         c.source,
		SourceName:     a.DeviceName,
	}
}

func (c *Client) get(ctx context.Context, path string, params url.Values) (*http.Response, error) {
	reqURL := c.baseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}

	c.rateLimiter.UpdateFromHeaders(resp.Header)

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, fmt.Errorf("platform api error %d: %s", resp.StatusCode, string(body))
	}
	return resp, nil
}
