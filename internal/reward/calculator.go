// Package reward computes sats rewards for canonical workouts. Everything in
// here is pure accounting over well-formed input: malformed values are
// clamped, never raised, because this code runs inside detection callbacks
// that must not crash.
package reward

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"example.com/rewards/internal/domain"
)

// Reasons a workout is ineligible for a reward. Ineligibility is a normal
// outcome, not a fault.
const (
	ReasonTooShort  = "too_short"
	ReasonNoMetrics = "no_metrics"
	ReasonTooOld    = "too_old"
)

// Config holds the reward policy constants.
type Config struct {
	SatsPerMinute      float64
	RunCycleMultiplier float64
	StrengthMultiplier float64
	WalkMultiplier     float64
	DefaultMultiplier  float64
	MaxEventBonus      int64
	StreakBonusPerDay  int64
	MaxStreakBonus     int64
	MinDuration        time.Duration
	MaxWorkoutAge      time.Duration
}

// DefaultConfig returns the production reward policy.
func DefaultConfig() Config {
	return Config{
		SatsPerMinute:      1,
		RunCycleMultiplier: 1.5,
		StrengthMultiplier: 1.3,
		WalkMultiplier:     1.0,
		DefaultMultiplier:  1.2,
		MaxEventBonus:      50,
		StreakBonusPerDay:  2,
		MaxStreakBonus:     20,
		MinDuration:        5 * time.Minute,
		MaxWorkoutAge:      24 * time.Hour,
	}
}

// Bonus is one of the pluggable bonus policies applied on top of the base
// reward.
type Bonus interface {
	Type() domain.RewardType
	sats(baseSats int64, cfg Config) int64
	annotate(meta map[string]string)
}

// IndividualBonus scales the base reward by a flat multiplier.
type IndividualBonus struct {
	Multiplier float64
}

func (b IndividualBonus) Type() domain.RewardType { return domain.RewardTypeIndividual }

func (b IndividualBonus) sats(baseSats int64, _ Config) int64 {
	if b.Multiplier <= 1 {
		return 0
	}
	return int64(math.Floor(float64(baseSats) * (b.Multiplier - 1)))
}

func (b IndividualBonus) annotate(meta map[string]string) {
	meta["bonus_multiplier"] = fmt.Sprintf("%.2f", b.Multiplier)
}

// TeamBonus grants a share of a team prize pool. The contribution weight is
// an explicit policy input computed outside this package.
type TeamBonus struct {
	TeamID             string
	PrizePoolSats      int64
	ContributionWeight float64
}

func (b TeamBonus) Type() domain.RewardType { return domain.RewardTypeTeam }

func (b TeamBonus) sats(_ int64, _ Config) int64 {
	if b.PrizePoolSats <= 0 || b.ContributionWeight <= 0 {
		return 0
	}
	return int64(math.Floor(float64(b.PrizePoolSats) * b.ContributionWeight))
}

func (b TeamBonus) annotate(meta map[string]string) {
	meta["team_id"] = b.TeamID
	meta["prize_pool_sats"] = fmt.Sprintf("%d", b.PrizePoolSats)
	meta["contribution_weight"] = fmt.Sprintf("%.4f", b.ContributionWeight)
}

// EventBonus rewards event placement: first place takes the full event bonus,
// last place a 1/N share.
type EventBonus struct {
	EventID           string
	Placement         int
	TotalParticipants int
}

func (b EventBonus) Type() domain.RewardType { return domain.RewardTypeEvent }

func (b EventBonus) sats(_ int64, cfg Config) int64 {
	if b.TotalParticipants <= 0 || b.Placement < 1 || b.Placement > b.TotalParticipants {
		return 0
	}
	share := float64(b.TotalParticipants-b.Placement+1) / float64(b.TotalParticipants)
	return int64(math.Floor(float64(cfg.MaxEventBonus) * share))
}

func (b EventBonus) annotate(meta map[string]string) {
	meta["event_id"] = b.EventID
	meta["placement"] = fmt.Sprintf("%d", b.Placement)
	meta["total_participants"] = fmt.Sprintf("%d", b.TotalParticipants)
}

// StreakBonus rewards consecutive workout days, capped.
type StreakBonus struct {
	Days int
}

func (b StreakBonus) Type() domain.RewardType { return domain.RewardTypeStreak }

func (b StreakBonus) sats(_ int64, cfg Config) int64 {
	if b.Days <= 0 {
		return 0
	}
	bonus := cfg.StreakBonusPerDay * int64(b.Days)
	if bonus > cfg.MaxStreakBonus {
		bonus = cfg.MaxStreakBonus
	}
	return bonus
}

func (b StreakBonus) annotate(meta map[string]string) {
	meta["streak_days"] = fmt.Sprintf("%d", b.Days)
}

// Outcome is the result of a reward calculation. When Eligible is false the
// workout simply earns nothing and Reason says why.
type Outcome struct {
	Eligible bool
	Reason   string
	Record   *domain.RewardRecord
}

// Calculator computes rewards. It has no side effects; delivering the sats is
// the retry manager's job.
type Calculator struct {
	cfg Config
	now func() time.Time
}

// CalculatorOption configures optional behaviour.
type CalculatorOption func(*Calculator)

// WithCalculatorClock injects a clock, for tests.
func WithCalculatorClock(now func() time.Time) CalculatorOption {
	return func(c *Calculator) {
		c.now = now
	}
}

// NewCalculator constructs a Calculator.
func NewCalculator(cfg Config, opts ...CalculatorOption) *Calculator {
	c := &Calculator{cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Validate reports whether the workout is reward-eligible, and if not, why.
func (c *Calculator) Validate(w domain.Workout) (bool, string) {
	if w.Duration < c.cfg.MinDuration {
		return false, ReasonTooShort
	}
	if w.Calories <= 0 && w.DistanceMeters <= 0 {
		return false, ReasonNoMetrics
	}
	if w.StartedAt.Before(c.now().Add(-c.cfg.MaxWorkoutAge)) {
		return false, ReasonTooOld
	}
	return true, ""
}

// Calculate validates the workout and, when eligible, produces the reward
// record for it under the supplied bonus policy.
func (c *Calculator) Calculate(w domain.Workout, bonus Bonus) Outcome {
	if ok, reason := c.Validate(w); !ok {
		recordIneligible(reason)
		return Outcome{Eligible: false, Reason: reason}
	}
	if bonus == nil {
		bonus = IndividualBonus{Multiplier: 1}
	}

	activityMult := c.activityMultiplier(w.ActivityType)
	intensityMult := intensityMultiplier(w.AvgHeartRate)

	minuteSats := math.Floor(w.Duration.Minutes() * c.cfg.SatsPerMinute)
	baseSats := int64(math.Floor(minuteSats * activityMult * intensityMult))
	if baseSats < 1 {
		baseSats = 1
	}

	bonusSats := bonus.sats(baseSats, c.cfg)
	if bonusSats < 0 {
		bonusSats = 0
	}

	meta := map[string]string{
		"activity_type":        domain.NormalizeActivityType(w.ActivityType),
		"duration_minutes":     fmt.Sprintf("%.1f", w.Duration.Minutes()),
		"activity_multiplier":  fmt.Sprintf("%.2f", activityMult),
		"intensity_multiplier": fmt.Sprintf("%.2f", intensityMult),
		"sync_source":          string(w.Source),
	}
	if w.AvgHeartRate > 0 {
		meta["avg_heart_rate"] = fmt.Sprintf("%.0f", w.AvgHeartRate)
	}
	bonus.annotate(meta)

	record := &domain.RewardRecord{
		ID:           uuid.NewString(),
		WorkoutID:    w.ID,
		UserID:       w.UserID,
		BaseSats:     baseSats,
		BonusSats:    bonusSats,
		TotalSats:    baseSats + bonusSats,
		Type:         bonus.Type(),
		State:        domain.RewardStatePending,
		CalculatedAt: c.now().UTC(),
		Metadata:     meta,
	}
	if team, ok := bonus.(TeamBonus); ok {
		record.TeamID = team.TeamID
	}

	recordCalculated(string(record.Type), record.TotalSats)
	return Outcome{Eligible: true, Record: record}
}

func (c *Calculator) activityMultiplier(activityType string) float64 {
	switch normalized := domain.NormalizeActivityType(activityType); {
	case normalized == "Running" || normalized == "Cycling":
		return c.cfg.RunCycleMultiplier
	case strings.Contains(normalized, "Strength"):
		return c.cfg.StrengthMultiplier
	case normalized == "Walking":
		return c.cfg.WalkMultiplier
	default:
		return c.cfg.DefaultMultiplier
	}
}

func intensityMultiplier(avgHeartRate float64) float64 {
	switch {
	case avgHeartRate >= 150:
		return 1.5
	case avgHeartRate >= 120:
		return 1.3
	case avgHeartRate >= 100:
		return 1.1
	default:
		return 1.0
	}
}
