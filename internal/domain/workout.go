package domain

import (
	"strings"
	"time"
)

// SyncSource identifies the system a workout was observed through. Each source
// carries a fixed priority used when the same physical workout arrives from
// more than one of them.
type SyncSource string

const (
	SourceHealthKit SyncSource = "healthkit"
	SourceGarmin    SyncSource = "garmin"
	SourceGoogleFit SyncSource = "googlefit"
	SourceNostr     SyncSource = "nostr"
)

// Priority orders sources for conflict resolution. Higher wins.
func (s SyncSource) Priority() int {
	switch s {
	case SourceHealthKit:
		return 3
	case SourceGarmin, SourceGoogleFit:
		return 2
	case SourceNostr:
		return 1
	default:
		return 0
	}
}

// DisplayName returns the human-readable source label.
func (s SyncSource) DisplayName() string {
	switch s {
	case SourceHealthKit:
		return "Apple Health"
	case SourceGarmin:
		return "Garmin Connect"
	case SourceGoogleFit:
		return "Google Fit"
	case SourceNostr:
		return "Nostr relay"
	default:
		return string(s)
	}
}

// Workout is the canonical unit flowing through the pipeline. Instances are
// immutable once constructed; a duplicate is resolved by replacing the whole
// record, never by mutating it.
type Workout struct {
	ID             string
	UserID         string
	ActivityType   string // normalized display form, see NormalizeActivityType
	StartedAt      time.Time
	EndedAt        time.Time
	Duration       time.Duration
	DistanceMeters float64 // 0 when the source reported none
	Calories       float64 // kilocalories, 0 when the source reported none
	AvgHeartRate   float64 // bpm, 0 when unknown
	Source         SyncSource
	SourceName     string // device or app name as reported by the source system
	Metadata       map[string]string
}

// Cursor is an opaque pagination position over time-ordered workout or
// reward listings.
type Cursor struct {
	StartedAt time.Time
	ID        string
}

// CompletenessScore counts how much of the workout is actually filled in.
// Watch-recorded and manually entered workouts get a bump because their
// metrics tend to be authoritative rather than inferred.
func (w Workout) CompletenessScore() int {
	score := 0
	if w.Duration > 0 {
		score++
	}
	if w.DistanceMeters > 0 {
		score++
	}
	if w.Calories > 0 {
		score++
	}
	lowered := strings.ToLower(w.SourceName)
	if strings.Contains(lowered, "manual") || strings.Contains(lowered, "watch") {
		score++
	}
	return score
}

// NormalizeActivityType collapses the activity-type spellings the different
// sources use into one display form so cross-source comparison is stable.
func NormalizeActivityType(raw string) string {
	key := strings.ToLower(strings.TrimSpace(raw))
	key = strings.ReplaceAll(key, "_", " ")
	switch key {
	case "run", "running", "treadmill run", "trail run", "virtualrun", "virtual run":
		return "Running"
	case "walk", "walking", "hike", "hiking":
		return "Walking"
	case "ride", "bike", "biking", "cycle", "cycling", "virtualride", "virtual ride":
		return "Cycling"
	case "swim", "swimming", "open water swim":
		return "Swimming"
	case "strength", "strength training", "weighttraining", "weight training", "functional strength training", "traditional strength training":
		return "Strength Training"
	case "yoga":
		return "Yoga"
	case "":
		return "Other"
	}
	// Unknown types keep their own name, title-cased per word.
	words := strings.Fields(key)
	for i, word := range words {
		words[i] = strings.ToUpper(word[:1]) + word[1:]
	}
	return strings.Join(words, " ")
}
