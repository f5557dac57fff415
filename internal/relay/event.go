// Package relay subscribes to decentralized relays for workout record events
// published by clients outside the centralized platforms.
package relay

import (
	"fmt"
	"strconv"
	"time"

	"example.com/rewards/internal/domain"
)

// KindWorkoutRecord is the event kind for a completed workout record.
const KindWorkoutRecord = 1301

// Event is the relay wire format.
type Event struct {
	ID        string     `json:"id"`
	PubKey    string     `json:"pubkey"`
	CreatedAt int64      `json:"created_at"`
	Kind      int        `json:"kind"`
	Tags      [][]string `json:"tags"`
	Content   string     `json:"content"`
	Sig       string     `json:"sig"`
}

// Filter is the subscription filter sent with a REQ.
type Filter struct {
	Kinds   []int    `json:"kinds,omitempty"`
	Authors []string `json:"authors,omitempty"`
	Since   int64    `json:"since,omitempty"`
	Limit   int      `json:"limit,omitempty"`
}

func (e Event) tag(name string) (string, bool) {
	for _, t := range e.Tags {
		if len(t) >= 2 && t[0] == name {
			return t[1], true
		}
	}
	return "", false
}

func (e Event) tagWithUnit(name string) (string, string, bool) {
	for _, t := range e.Tags {
		if len(t) >= 2 && t[0] == name {
			unit := ""
			if len(t) >= 3 {
				unit = t[2]
			}
			return t[1], unit, true
		}
	}
	return "", "", false
}

// WorkoutFromEvent converts a workout record event into the domain shape.
// Records carry their measurements in tags; absent tags map to zero values,
// which downstream matching treats as "metric not reported".
func WorkoutFromEvent(e Event) (domain.Workout, error) {
	if e.Kind != KindWorkoutRecord {
		return domain.Workout{}, fmt.Errorf("event %s has kind %d, want %d", e.ID, e.Kind, KindWorkoutRecord)
	}

	startRaw, ok := e.tag("start")
	if !ok {
		return domain.Workout{}, fmt.Errorf("event %s missing start tag", e.ID)
	}
	startSecs, err := strconv.ParseInt(startRaw, 10, 64)
	if err != nil {
		return domain.Workout{}, fmt.Errorf("event %s start tag: %w", e.ID, err)
	}
	started := time.Unix(startSecs, 0).UTC()

	ended := started
	if endRaw, ok := e.tag("end"); ok {
		if endSecs, err := strconv.ParseInt(endRaw, 10, 64); err == nil && endSecs > startSecs {
			ended = time.Unix(endSecs, 0).UTC()
		}
	}

	activity := "Other"
	if t, ok := e.tag("exercise"); ok {
		activity = t
	} else if t, ok := e.tag("type"); ok {
		activity = t
	}

	w := domain.Workout{
		ID:           e.ID,
		UserID:       e.PubKey,
		ActivityType: domain.NormalizeActivityType(activity),
		StartedAt:    started,
		EndedAt:      ended,
		Duration:     ended.Sub(started),
		Source:       domain.SourceNostr,
	}
	if name, ok := e.tag("client"); ok {
		w.SourceName = name
	}

	if raw, unit, ok := e.tagWithUnit("distance"); ok {
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			w.DistanceMeters = toMeters(v, unit)
		}
	}
	if raw, ok := e.tag("calories"); ok {
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			w.Calories = v
		}
	}
	if raw, ok := e.tag("heart_rate_avg"); ok {
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			w.AvgHeartRate = v
		}
	}
	return w, nil
}

func toMeters(value float64, unit string) float64 {
	switch unit {
	case "km":
		return value * 1000
	case "mi":
		return value * 1609.344
	default:
		return value
	}
}
