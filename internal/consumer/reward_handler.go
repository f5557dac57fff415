package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"example.com/rewards/internal/domain"
	"example.com/rewards/internal/events"
	"example.com/rewards/internal/lightning"
	"example.com/rewards/internal/observability"
	"example.com/rewards/internal/outbox"
	"example.com/rewards/internal/retry"
	"example.com/rewards/internal/reward"
)

// RewardStore persists reward records and resolves payout destinations.
type RewardStore interface {
	InsertReward(ctx context.Context, record *domain.RewardRecord) error
	RewardByWorkout(ctx context.Context, workoutID string) (*domain.RewardRecord, error)
	MarkRewardPaid(ctx context.Context, rewardID, paymentHash string, paidAt time.Time) error
	MarkRewardFailed(ctx context.Context, rewardID, reason string) error
	ResetRewardToPending(ctx context.Context, rewardID string) error
	StreakDays(ctx context.Context, userID string, asOf time.Time) (int, error)
	WalletFor(ctx context.Context, userID string) (string, error)
}

// Payer executes the payout.
type Payer interface {
	SendReward(ctx context.Context, toUsername string, amountSats int64, memo string) (lightning.PaymentResult, error)
}

// RewardHandler turns workout.added events into reward records and payouts.
// Payment failures are handed to the retry manager rather than bounced back
// to Kafka, so the consumer keeps draining the topic while payouts recover
// on their own schedule.
type RewardHandler struct {
	calc     *reward.Calculator
	store    RewardStore
	payer    Payer
	retryMgr *retry.Manager
	logger   *log.Logger
	now      func() time.Time
}

// RewardHandlerOption configures optional behaviour.
type RewardHandlerOption func(*RewardHandler)

// WithRewardHandlerClock overrides the clock, for tests.
func WithRewardHandlerClock(now func() time.Time) RewardHandlerOption {
	return func(h *RewardHandler) {
		h.now = now
	}
}

// WithRewardHandlerLogger overrides the logger.
func WithRewardHandlerLogger(logger *log.Logger) RewardHandlerOption {
	return func(h *RewardHandler) {
		h.logger = logger
	}
}

// NewRewardHandler constructs a handler. retryMgr may be nil, in which case
// payment failures are terminal.
func NewRewardHandler(calc *reward.Calculator, store RewardStore, payer Payer, retryMgr *retry.Manager, opts ...RewardHandlerOption) *RewardHandler {
	h := &RewardHandler{
		calc:     calc,
		store:    store,
		payer:    payer,
		retryMgr: retryMgr,
		logger:   log.New(log.Writer(), "[rewardworker] ", log.LstdFlags),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Handle processes one decoded Kafka message.
func (h *RewardHandler) Handle(ctx context.Context, msg Message) error {
	if msg.EventType != outbox.EventWorkoutAdded {
		return nil
	}

	var ev events.WorkoutAdded
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		// Validated upstream, so an unmarshal failure here is a poison
		// pill. Drop it instead of blocking the partition.
		h.logger.Printf("dropping undecodable workout.added payload (offset=%d): %v", msg.Offset, err)
		return nil
	}

	w := workoutFromEvent(ev)

	bonus, err := h.streakBonus(ctx, w)
	if err != nil {
		return fmt.Errorf("resolving streak for user %s: %w", w.UserID, err)
	}

	outcome := h.calc.Calculate(w, bonus)
	if !outcome.Eligible {
		h.logger.Printf("workout %s ineligible: %s", w.ID, outcome.Reason)
		return nil
	}

	record := outcome.Record
	if record.ID == "" {
		record.ID = uuid.NewString()
	}

	if err := h.store.InsertReward(ctx, record); err != nil {
		if errors.Is(err, domain.ErrDuplicateReward) {
			h.logger.Printf("reward for workout %s already exists, skipping", w.ID)
			return nil
		}
		return fmt.Errorf("persisting reward for workout %s: %w", w.ID, err)
	}

	return h.pay(ctx, record, w)
}

func (h *RewardHandler) pay(ctx context.Context, record *domain.RewardRecord, w domain.Workout) error {
	payErr := h.settle(ctx, record, w)
	if payErr == nil {
		return nil
	}
	var marked *markError
	if errors.As(payErr, &marked) {
		return payErr
	}
	if h.retryMgr != nil && isRetryable(payErr) {
		h.retryMgr.RecordFailure(w, record.UserID, string(w.Source), payErr)
		return nil
	}
	h.logger.Printf("payout for reward %s failed permanently: %v", record.ID, payErr)
	return nil
}

// Redeliver is the retry manager's delivery hook: it re-arms the failed
// reward and attempts the payout again, returning the payment error so the
// manager can keep backing off.
func (h *RewardHandler) Redeliver(ctx context.Context, rec retry.FailedSync) error {
	record, err := h.store.RewardByWorkout(ctx, rec.Workout.ID)
	if err != nil {
		return fmt.Errorf("loading reward for workout %s: %w", rec.Workout.ID, err)
	}
	if record == nil || record.State == domain.RewardStatePaid {
		return nil
	}

	if err := h.store.ResetRewardToPending(ctx, record.ID); err != nil {
		return fmt.Errorf("re-arming reward %s: %w", record.ID, err)
	}
	record.State = domain.RewardStatePending

	return h.settle(ctx, record, rec.Workout)
}

// markError wraps store faults that happen after the payment succeeded, so
// callers can tell them apart from payment failures.
type markError struct {
	err error
}

func (e *markError) Error() string { return e.err.Error() }
func (e *markError) Unwrap() error { return e.err }

// settle performs one payout attempt end to end. A returned error is the
// payment failure (already recorded on the reward row) unless it is a
// *markError, which means the sats moved but the ledger update failed.
func (h *RewardHandler) settle(ctx context.Context, record *domain.RewardRecord, w domain.Workout) error {
	wallet, err := h.store.WalletFor(ctx, record.UserID)
	if err != nil {
		return fmt.Errorf("resolving wallet for user %s: %w", record.UserID, err)
	}

	memo := fmt.Sprintf("%s reward: %s", record.Type, w.ActivityType)
	result, payErr := h.payer.SendReward(ctx, wallet, record.TotalSats, memo)
	if payErr != nil {
		if markErr := h.store.MarkRewardFailed(ctx, record.ID, payErr.Error()); markErr != nil {
			h.logger.Printf("marking reward %s failed: %v", record.ID, markErr)
		}
		return payErr
	}

	paidAt := h.now().UTC()
	if err := h.store.MarkRewardPaid(ctx, record.ID, result.Hash, paidAt); err != nil {
		return &markError{err: fmt.Errorf("marking reward %s paid: %w", record.ID, err)}
	}
	observability.RecordRewardPaid(paidAt)
	return nil
}

func (h *RewardHandler) streakBonus(ctx context.Context, w domain.Workout) (reward.Bonus, error) {
	days, err := h.store.StreakDays(ctx, w.UserID, w.StartedAt)
	if err != nil {
		return nil, err
	}
	if days <= 1 {
		return nil, nil
	}
	return reward.StreakBonus{Days: days}, nil
}

func isRetryable(err error) bool {
	var apiErr *lightning.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	// Network failures and timeouts are worth retrying.
	return true
}

func workoutFromEvent(ev events.WorkoutAdded) domain.Workout {
	duration := time.Duration(ev.DurationSec) * time.Second
	return domain.Workout{
		ID:             ev.WorkoutID,
		UserID:         ev.UserID,
		ActivityType:   ev.ActivityType,
		StartedAt:      ev.StartedAt,
		EndedAt:        ev.StartedAt.Add(duration),
		Duration:       duration,
		DistanceMeters: ev.DistanceMeters,
		Calories:       ev.Calories,
		AvgHeartRate:   ev.AvgHeartRate,
		Source:         domain.SyncSource(ev.Source),
	}
}
