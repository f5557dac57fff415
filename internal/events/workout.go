// Package events defines the payloads carried between the detection pipeline
// and the reward workers.
package events

import "time"

// WorkoutAdded is emitted when a canonical workout enters the store, after
// cross-source deduplication.
type WorkoutAdded struct {
	WorkoutID      string    `json:"workout_id"`
	UserID         string    `json:"user_id"`
	ActivityType   string    `json:"activity_type"`
	StartedAt      time.Time `json:"started_at"`
	DurationSec    int64     `json:"duration_sec"`
	DistanceMeters float64   `json:"distance_meters,omitempty"`
	Calories       float64   `json:"calories,omitempty"`
	AvgHeartRate   float64   `json:"avg_heart_rate,omitempty"`
	Source         string    `json:"source"`
	DetectedVia    string    `json:"detected_via"`
	Version        string    `json:"version"`
}

// RewardPaid is emitted after a reward payout settles on the wallet provider.
type RewardPaid struct {
	RewardID    string    `json:"reward_id"`
	WorkoutID   string    `json:"workout_id"`
	UserID      string    `json:"user_id"`
	RewardType  string    `json:"reward_type"`
	BaseSats    int64     `json:"base_sats"`
	BonusSats   int64     `json:"bonus_sats,omitempty"`
	TotalSats   int64     `json:"total_sats"`
	PaymentHash string    `json:"payment_hash,omitempty"`
	PaidAt      time.Time `json:"paid_at"`
}
