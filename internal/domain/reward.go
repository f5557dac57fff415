package domain

import (
	"errors"
	"time"
)

// ErrDuplicateReward is returned when a reward for the same workout and
// reward type already exists. One workout earns at most one reward per type.
var ErrDuplicateReward = errors.New("reward already recorded for workout")

// RewardType distinguishes the bonus policy a reward was computed under.
type RewardType string

const (
	RewardTypeIndividual RewardType = "individual"
	RewardTypeTeam       RewardType = "team"
	RewardTypeEvent      RewardType = "event"
	RewardTypeStreak     RewardType = "streak"
)

// RewardState tracks delivery of a computed reward.
type RewardState string

const (
	RewardStatePending RewardState = "pending"
	RewardStatePaid    RewardState = "paid"
	RewardStateFailed  RewardState = "failed"
)

// RewardRecord is the accounting entry produced for one canonical workout.
// TotalSats is always BaseSats + BonusSats.
type RewardRecord struct {
	ID            string
	WorkoutID     string
	UserID        string
	TeamID        string // empty unless Type is team
	BaseSats      int64
	BonusSats     int64
	TotalSats     int64
	Type          RewardType
	State         RewardState
	CalculatedAt  time.Time
	PaidAt        *time.Time
	PaymentHash   string
	FailureReason string
	Metadata      map[string]string
}
