// Package postgres provides the Postgres-backed store for canonical
// workouts, reward records, sync markers, and the transactional outbox.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/rewards/internal/domain"
	"example.com/rewards/internal/events"
	"example.com/rewards/internal/outbox"
)

const eventVersion = "1"

// Repository provides Postgres-backed persistence for the reward pipeline.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// InsertCanonical stores a new canonical workout and records the
// workout.added outbox event in the same transaction.
func (r *Repository) InsertCanonical(ctx context.Context, w domain.Workout, via string) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	if err = insertWorkout(ctx, tx, w, via); err != nil {
		return err
	}
	if err = insertWorkoutAddedEvent(ctx, tx, w, via); err != nil {
		return err
	}

	err = tx.Commit(ctx)
	return err
}

// Supersede replaces a stored canonical workout with a higher-ranked
// duplicate from another source. The replaced row stays for auditing with a
// pointer to its replacement; no new workout.added event is emitted because
// the canonical workout identity does not change for reward purposes.
func (r *Repository) Supersede(ctx context.Context, replacedID string, replacement domain.Workout, via string) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	if err = insertWorkout(ctx, tx, replacement, via); err != nil {
		return err
	}

	tag, execErr := tx.Exec(ctx,
		`UPDATE workouts SET superseded_by = $1, superseded_at = NOW() WHERE workout_id = $2 AND superseded_by IS NULL`,
		replacement.ID, replacedID)
	if execErr != nil {
		err = execErr
		return err
	}
	if tag.RowsAffected() == 0 {
		err = fmt.Errorf("workout %s not found or already superseded", replacedID)
		return err
	}

	err = tx.Commit(ctx)
	return err
}

func insertWorkout(ctx context.Context, tx pgx.Tx, w domain.Workout, via string) error {
	meta, err := json.Marshal(w.Metadata)
	if err != nil {
		return err
	}

	const stmt = `INSERT INTO workouts (workout_id, user_id, activity_type, started_at, ended_at, duration_sec, distance_meters, calories, avg_heart_rate, source, source_name, detected_via, metadata, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,NOW())`

	_, err = tx.Exec(ctx, stmt,
		w.ID,
		w.UserID,
		w.ActivityType,
		w.StartedAt,
		w.EndedAt,
		int64(w.Duration.Seconds()),
		w.DistanceMeters,
		w.Calories,
		w.AvgHeartRate,
		string(w.Source),
		nullIfEmpty(w.SourceName),
		via,
		meta,
	)
	return err
}

func insertWorkoutAddedEvent(ctx context.Context, tx pgx.Tx, w domain.Workout, via string) error {
	payload := events.WorkoutAdded{
		WorkoutID:      w.ID,
		UserID:         w.UserID,
		ActivityType:   w.ActivityType,
		StartedAt:      w.StartedAt.UTC(),
		DurationSec:    int64(w.Duration.Seconds()),
		DistanceMeters: w.DistanceMeters,
		Calories:       w.Calories,
		AvgHeartRate:   w.AvgHeartRate,
		Source:         string(w.Source),
		DetectedVia:    via,
		Version:        eventVersion,
	}
	return insertOutbox(ctx, tx, "workout", w.ID, outbox.EventWorkoutAdded, outbox.TopicWorkoutEvents, w.UserID, payload)
}

func insertOutbox(ctx context.Context, tx pgx.Tx, aggregateType, aggregateID, eventType, topic, partitionKey string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	dedupeKey := fmt.Sprintf("%s:%s", aggregateID, eventType)

	const stmt = `INSERT INTO outbox (aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload, dedupe_key)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`

	_, err = tx.Exec(ctx, stmt,
		aggregateType,
		aggregateID,
		eventType,
		topic,
		topic+"-value",
		partitionKey,
		body,
		dedupeKey,
	)
	return err
}

const workoutColumns = `workout_id, user_id, activity_type, started_at, ended_at, duration_sec, distance_meters, calories, avg_heart_rate, source, source_name, detected_via, metadata`

func scanWorkout(row pgx.Row) (domain.Workout, error) {
	var (
		w           domain.Workout
		durationSec int64
		sourceName  *string
		via         string
		meta        []byte
	)
	if err := row.Scan(&w.ID, &w.UserID, &w.ActivityType, &w.StartedAt, &w.EndedAt, &durationSec, &w.DistanceMeters, &w.Calories, &w.AvgHeartRate, &w.Source, &sourceName, &via, &meta); err != nil {
		return domain.Workout{}, err
	}
	w.Duration = time.Duration(durationSec) * time.Second
	if sourceName != nil {
		w.SourceName = *sourceName
	}
	if len(meta) > 0 {
		_ = json.Unmarshal(meta, &w.Metadata)
	}
	return w, nil
}

// GetWorkout retrieves a canonical workout by ID. Returns nil when absent.
func (r *Repository) GetWorkout(ctx context.Context, workoutID string) (*domain.Workout, error) {
	query := `SELECT ` + workoutColumns + ` FROM workouts WHERE workout_id=$1 AND superseded_by IS NULL`

	w, err := scanWorkout(r.pool.QueryRow(ctx, query, workoutID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &w, nil
}

// ListSince returns canonical workouts for the user starting at or after
// 'since', oldest first. Superseded rows are excluded.
func (r *Repository) ListSince(ctx context.Context, userID string, since time.Time) ([]domain.Workout, error) {
	query := `SELECT ` + workoutColumns + ` FROM workouts
        WHERE user_id=$1 AND started_at >= $2 AND superseded_by IS NULL
        ORDER BY started_at ASC, workout_id ASC`

	rows, err := r.pool.Query(ctx, query, userID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []domain.Workout
	for rows.Next() {
		w, err := scanWorkout(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, w)
	}
	return results, rows.Err()
}

// ListByUser returns canonical workouts for a user, newest first, with
// keyset pagination.
func (r *Repository) ListByUser(ctx context.Context, userID string, cursor *domain.Cursor, limit int) ([]domain.Workout, *domain.Cursor, error) {
	args := []any{userID, limit}
	query := `SELECT ` + workoutColumns + ` FROM workouts
        WHERE user_id=$1 AND superseded_by IS NULL`

	if cursor != nil {
		query += ` AND (started_at, workout_id) < ($3, $4)`
		args = append(args, cursor.StartedAt, cursor.ID)
	}

	query += ` ORDER BY started_at DESC, workout_id DESC LIMIT $2`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	results := make([]domain.Workout, 0, limit)
	for rows.Next() {
		w, err := scanWorkout(rows)
		if err != nil {
			return nil, nil, err
		}
		results = append(results, w)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	var nextCursor *domain.Cursor
	if len(results) == limit {
		last := results[len(results)-1]
		nextCursor = &domain.Cursor{StartedAt: last.StartedAt, ID: last.ID}
	}
	return results, nextCursor, nil
}

// HighWaterMark returns the newest workout start time already processed for
// the user. Zero time when the user has never synced.
func (r *Repository) HighWaterMark(ctx context.Context, userID string) (time.Time, error) {
	var ts *time.Time
	err := r.pool.QueryRow(ctx, `SELECT high_water_mark FROM sync_markers WHERE user_id=$1`, userID).Scan(&ts)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	if ts == nil {
		return time.Time{}, nil
	}
	return *ts, nil
}

// SetHighWaterMark advances the user's high-water mark. It never moves
// backwards.
func (r *Repository) SetHighWaterMark(ctx context.Context, userID string, ts time.Time) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO sync_markers (user_id, high_water_mark, updated_at) VALUES ($1, $2, NOW())
         ON CONFLICT (user_id) DO UPDATE
            SET high_water_mark = GREATEST(sync_markers.high_water_mark, EXCLUDED.high_water_mark),
                updated_at = NOW()`,
		userID, ts)
	return err
}

// Anchor returns the user's opaque incremental-query anchor, nil when unset.
func (r *Repository) Anchor(ctx context.Context, userID string) ([]byte, error) {
	var anchor []byte
	err := r.pool.QueryRow(ctx, `SELECT anchor FROM sync_markers WHERE user_id=$1`, userID).Scan(&anchor)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return anchor, nil
}

// SetAnchor persists the incremental-query anchor for the user.
func (r *Repository) SetAnchor(ctx context.Context, userID string, anchor []byte) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO sync_markers (user_id, anchor, updated_at) VALUES ($1, $2, NOW())
         ON CONFLICT (user_id) DO UPDATE SET anchor = EXCLUDED.anchor, updated_at = NOW()`,
		userID, anchor)
	return err
}

// InsertReward stores a pending reward record. A second reward of the same
// type for the same workout returns domain.ErrDuplicateReward.
func (r *Repository) InsertReward(ctx context.Context, record *domain.RewardRecord) error {
	meta, err := json.Marshal(record.Metadata)
	if err != nil {
		return err
	}

	const stmt = `INSERT INTO rewards (reward_id, workout_id, user_id, team_id, base_sats, bonus_sats, total_sats, reward_type, state, calculated_at, metadata)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`

	_, err = r.pool.Exec(ctx, stmt,
		record.ID,
		record.WorkoutID,
		record.UserID,
		nullIfEmpty(record.TeamID),
		record.BaseSats,
		record.BonusSats,
		record.TotalSats,
		string(record.Type),
		string(record.State),
		record.CalculatedAt,
		meta,
	)
	if isUniqueViolation(err) {
		return domain.ErrDuplicateReward
	}
	return err
}

// RewardByWorkout returns the reward recorded for the workout, or nil when
// none exists.
func (r *Repository) RewardByWorkout(ctx context.Context, workoutID string) (*domain.RewardRecord, error) {
	const query = `SELECT reward_id, workout_id, user_id, COALESCE(team_id, ''), base_sats, bonus_sats, total_sats, reward_type, state, calculated_at, paid_at, COALESCE(payment_hash, ''), COALESCE(failure_reason, ''), metadata
        FROM rewards WHERE workout_id=$1 ORDER BY calculated_at DESC LIMIT 1`

	var (
		rec  domain.RewardRecord
		meta []byte
	)
	err := r.pool.QueryRow(ctx, query, workoutID).Scan(
		&rec.ID, &rec.WorkoutID, &rec.UserID, &rec.TeamID,
		&rec.BaseSats, &rec.BonusSats, &rec.TotalSats,
		&rec.Type, &rec.State, &rec.CalculatedAt,
		&rec.PaidAt, &rec.PaymentHash, &rec.FailureReason, &meta,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(meta) > 0 {
		_ = json.Unmarshal(meta, &rec.Metadata)
	}
	return &rec, nil
}

// MarkRewardPaid transitions the reward to paid and records the reward.paid
// outbox event in the same transaction.
func (r *Repository) MarkRewardPaid(ctx context.Context, rewardID, paymentHash string, paidAt time.Time) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	row := tx.QueryRow(ctx,
		`UPDATE rewards SET state='paid', payment_hash=$1, paid_at=$2 WHERE reward_id=$3 AND state='pending'
         RETURNING workout_id, user_id, reward_type, base_sats, bonus_sats, total_sats`,
		nullIfEmpty(paymentHash), paidAt, rewardID)

	var (
		workoutID, userID, rewardType  string
		baseSats, bonusSats, totalSats int64
	)
	if err = row.Scan(&workoutID, &userID, &rewardType, &baseSats, &bonusSats, &totalSats); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = fmt.Errorf("reward %s not found or not pending", rewardID)
		}
		return err
	}

	payload := events.RewardPaid{
		RewardID:    rewardID,
		WorkoutID:   workoutID,
		UserID:      userID,
		RewardType:  rewardType,
		BaseSats:    baseSats,
		BonusSats:   bonusSats,
		TotalSats:   totalSats,
		PaymentHash: paymentHash,
		PaidAt:      paidAt.UTC(),
	}
	if err = insertOutbox(ctx, tx, "reward", rewardID, outbox.EventRewardPaid, outbox.TopicRewardEvents, userID, payload); err != nil {
		return err
	}

	err = tx.Commit(ctx)
	return err
}

// MarkRewardFailed records a payout failure. The reward stays addressable so
// a later retry can still settle it through MarkRewardPaid after the state
// is reset.
func (r *Repository) MarkRewardFailed(ctx context.Context, rewardID, reason string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE rewards SET state='failed', failure_reason=$1 WHERE reward_id=$2`,
		reason, rewardID)
	return err
}

// ResetRewardToPending re-arms a failed reward before a retry attempt.
func (r *Repository) ResetRewardToPending(ctx context.Context, rewardID string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE rewards SET state='pending', failure_reason=NULL WHERE reward_id=$1 AND state='failed'`,
		rewardID)
	return err
}

// ListRewardsByUser returns reward records newest first with keyset
// pagination on (calculated_at, reward_id).
func (r *Repository) ListRewardsByUser(ctx context.Context, userID string, cursor *domain.Cursor, limit int) ([]domain.RewardRecord, *domain.Cursor, error) {
	args := []any{userID, limit}
	query := `SELECT reward_id, workout_id, user_id, COALESCE(team_id, ''), base_sats, bonus_sats, total_sats, reward_type, state, calculated_at, paid_at, COALESCE(payment_hash, ''), COALESCE(failure_reason, ''), metadata
        FROM rewards WHERE user_id=$1`

	if cursor != nil {
		query += ` AND (calculated_at, reward_id) < ($3, $4)`
		args = append(args, cursor.StartedAt, cursor.ID)
	}

	query += ` ORDER BY calculated_at DESC, reward_id DESC LIMIT $2`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	results := make([]domain.RewardRecord, 0, limit)
	for rows.Next() {
		var (
			rec  domain.RewardRecord
			meta []byte
		)
		if err := rows.Scan(&rec.ID, &rec.WorkoutID, &rec.UserID, &rec.TeamID, &rec.BaseSats, &rec.BonusSats, &rec.TotalSats, &rec.Type, &rec.State, &rec.CalculatedAt, &rec.PaidAt, &rec.PaymentHash, &rec.FailureReason, &meta); err != nil {
			return nil, nil, err
		}
		if len(meta) > 0 {
			_ = json.Unmarshal(meta, &rec.Metadata)
		}
		results = append(results, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	var nextCursor *domain.Cursor
	if len(results) == limit {
		last := results[len(results)-1]
		nextCursor = &domain.Cursor{StartedAt: last.CalculatedAt, ID: last.ID}
	}
	return results, nextCursor, nil
}

// StreakDays counts consecutive calendar days ending at asOf on which the
// user has at least one canonical workout.
func (r *Repository) StreakDays(ctx context.Context, userID string, asOf time.Time) (int, error) {
	const query = `SELECT DISTINCT started_at::date AS day FROM workouts
        WHERE user_id=$1 AND started_at::date <= $2::date AND superseded_by IS NULL
        ORDER BY day DESC
        LIMIT 366`

	rows, err := r.pool.Query(ctx, query, userID, asOf)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	streak := 0
	expected := asOf.Truncate(24 * time.Hour)
	for rows.Next() {
		var day time.Time
		if err := rows.Scan(&day); err != nil {
			return 0, err
		}
		day = day.Truncate(24 * time.Hour)
		if !day.Equal(expected) {
			break
		}
		streak++
		expected = expected.AddDate(0, 0, -1)
	}
	return streak, rows.Err()
}

// WalletFor resolves the wallet username rewards are paid to.
func (r *Repository) WalletFor(ctx context.Context, userID string) (string, error) {
	var wallet string
	err := r.pool.QueryRow(ctx, `SELECT wallet_username FROM user_wallets WHERE user_id=$1`, userID).Scan(&wallet)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("no wallet registered for user %s", userID)
	}
	if err != nil {
		return "", err
	}
	return wallet, nil
}

// RegisterWallet stores or replaces the user's payout wallet.
func (r *Repository) RegisterWallet(ctx context.Context, userID, walletUsername string) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO user_wallets (user_id, wallet_username, updated_at) VALUES ($1, $2, NOW())
         ON CONFLICT (user_id) DO UPDATE SET wallet_username = EXCLUDED.wallet_username, updated_at = NOW()`,
		userID, walletUsername)
	return err
}

func nullIfEmpty(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
