// Package api exposes the HTTP read surface of the reward pipeline.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"example.com/rewards/internal/auth"
	"example.com/rewards/internal/domain"
	"example.com/rewards/internal/persistence"
)

// Store is the persistence surface the handlers read from.
type Store interface {
	GetWorkout(ctx context.Context, workoutID string) (*domain.Workout, error)
	ListByUser(ctx context.Context, userID string, cursor *domain.Cursor, limit int) ([]domain.Workout, *domain.Cursor, error)
	ListRewardsByUser(ctx context.Context, userID string, cursor *domain.Cursor, limit int) ([]domain.RewardRecord, *domain.Cursor, error)
	WalletFor(ctx context.Context, userID string) (string, error)
	RegisterWallet(ctx context.Context, userID, walletUsername string) error
}

// Handler coordinates HTTP requests with the store.
type Handler struct {
	store Store
}

// NewHandler builds a Handler.
func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/workouts", h.listWorkouts)
	mux.HandleFunc("/v1/workouts/", h.workoutByID)
	mux.HandleFunc("/v1/rewards", h.listRewards)
	mux.HandleFunc("/v1/wallet", h.wallet)
	mux.HandleFunc("/healthz", healthz)
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) listWorkouts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}
	if !claims.HasScope(auth.ScopeWorkoutsRead) {
		writeError(w, http.StatusForbidden, "forbidden", "scope workouts:read required")
		return
	}

	limit := parseLimit(r, 20)

	cursor, err := persistence.DecodeCursor(r.URL.Query().Get("cursor"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "invalid cursor")
		return
	}

	workouts, next, err := h.store.ListByUser(r.Context(), claims.Subject, cursor, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	items := make([]WorkoutView, 0, len(workouts))
	for _, workout := range workouts {
		items = append(items, toWorkoutView(workout))
	}

	writeJSON(w, http.StatusOK, ListWorkoutsResponse{
		Items:      items,
		NextCursor: persistence.EncodeCursor(next),
	})
}

func (h *Handler) workoutByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/v1/workouts/")
	if id == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "missing workout id")
		return
	}

	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}
	if !claims.HasScope(auth.ScopeWorkoutsRead) {
		writeError(w, http.StatusForbidden, "forbidden", "scope workouts:read required")
		return
	}

	workout, err := h.store.GetWorkout(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	if workout == nil || workout.UserID != claims.Subject {
		writeError(w, http.StatusNotFound, "not_found", "workout not found")
		return
	}

	writeJSON(w, http.StatusOK, toWorkoutView(*workout))
}

func (h *Handler) listRewards(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}
	if !claims.HasScope(auth.ScopeRewardsRead) {
		writeError(w, http.StatusForbidden, "forbidden", "scope rewards:read required")
		return
	}

	limit := parseLimit(r, 20)

	cursor, err := persistence.DecodeCursor(r.URL.Query().Get("cursor"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "invalid cursor")
		return
	}

	rewards, next, err := h.store.ListRewardsByUser(r.Context(), claims.Subject, cursor, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	items := make([]RewardView, 0, len(rewards))
	var totalSats int64
	for _, record := range rewards {
		items = append(items, toRewardView(record))
		if record.State == domain.RewardStatePaid {
			totalSats += record.TotalSats
		}
	}

	writeJSON(w, http.StatusOK, ListRewardsResponse{
		Items:        items,
		PagePaidSats: totalSats,
		NextCursor:   persistence.EncodeCursor(next),
	})
}

func (h *Handler) wallet(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}

	switch r.Method {
	case http.MethodGet:
		if !claims.HasScope(auth.ScopeRewardsRead) && !claims.HasScope(auth.ScopeWalletsManage) {
			writeError(w, http.StatusForbidden, "forbidden", "scope rewards:read required")
			return
		}
		username, err := h.store.WalletFor(r.Context(), claims.Subject)
		if err != nil {
			writeError(w, http.StatusNotFound, "not_found", "no wallet registered")
			return
		}
		writeJSON(w, http.StatusOK, WalletView{WalletUsername: username})
	case http.MethodPut:
		if !claims.HasScope(auth.ScopeWalletsManage) {
			writeError(w, http.StatusForbidden, "forbidden", "scope wallets:manage required")
			return
		}
		var req RegisterWalletRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
			return
		}
		if err := req.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
			return
		}
		if err := h.store.RegisterWallet(r.Context(), claims.Subject, req.WalletUsername); err != nil {
			writeError(w, http.StatusInternalServerError, "server_error", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, WalletView{WalletUsername: req.WalletUsername})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

func parseLimit(r *http.Request, fallback int) int {
	limit := fallback
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			if parsed > 100 {
				parsed = 100
			}
			limit = parsed
		}
	}
	return limit
}

// WorkoutView exposes full details about a canonical workout.
type WorkoutView struct {
	WorkoutID      string    `json:"workout_id"`
	UserID         string    `json:"user_id"`
	ActivityType   string    `json:"activity_type"`
	StartedAt      time.Time `json:"started_at"`
	EndedAt        time.Time `json:"ended_at"`
	DurationSec    int64     `json:"duration_sec"`
	DistanceMeters float64   `json:"distance_meters,omitempty"`
	Calories       float64   `json:"calories,omitempty"`
	AvgHeartRate   float64   `json:"avg_heart_rate,omitempty"`
	Source         string    `json:"source"`
	SourceDisplay  string    `json:"source_display"`
	SourceName     string    `json:"source_name,omitempty"`
}

// ListWorkoutsResponse packages list results.
type ListWorkoutsResponse struct {
	Items      []WorkoutView `json:"items"`
	NextCursor string        `json:"next_cursor,omitempty"`
}

// RewardView exposes a single reward ledger entry.
type RewardView struct {
	RewardID      string     `json:"reward_id"`
	WorkoutID     string     `json:"workout_id"`
	RewardType    string     `json:"reward_type"`
	BaseSats      int64      `json:"base_sats"`
	BonusSats     int64      `json:"bonus_sats"`
	TotalSats     int64      `json:"total_sats"`
	State         string     `json:"state"`
	CalculatedAt  time.Time  `json:"calculated_at"`
	PaidAt        *time.Time `json:"paid_at,omitempty"`
	PaymentHash   string     `json:"payment_hash,omitempty"`
	FailureReason string     `json:"failure_reason,omitempty"`
}

// ListRewardsResponse packages reward list results.
type ListRewardsResponse struct {
	Items        []RewardView `json:"items"`
	PagePaidSats int64        `json:"page_paid_sats"`
	NextCursor   string       `json:"next_cursor,omitempty"`
}

// RegisterWalletRequest is the payload for PUT /v1/wallet.
type RegisterWalletRequest struct {
	WalletUsername string `json:"wallet_username"`
}

// Validate ensures request correctness.
func (r RegisterWalletRequest) Validate() error {
	if strings.TrimSpace(r.WalletUsername) == "" {
		return errors.New("wallet_username is required")
	}
	return nil
}

// WalletView describes the registered payout wallet.
type WalletView struct {
	WalletUsername string `json:"wallet_username"`
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func toWorkoutView(w domain.Workout) WorkoutView {
	return WorkoutView{
		WorkoutID:      w.ID,
		UserID:         w.UserID,
		ActivityType:   w.ActivityType,
		StartedAt:      w.StartedAt,
		EndedAt:        w.EndedAt,
		DurationSec:    int64(w.Duration / time.Second),
		DistanceMeters: w.DistanceMeters,
		Calories:       w.Calories,
		AvgHeartRate:   w.AvgHeartRate,
		Source:         string(w.Source),
		SourceDisplay:  w.Source.DisplayName(),
		SourceName:     w.SourceName,
	}
}

func toRewardView(r domain.RewardRecord) RewardView {
	view := RewardView{
		RewardID:     r.ID,
		WorkoutID:    r.WorkoutID,
		RewardType:   string(r.Type),
		BaseSats:     r.BaseSats,
		BonusSats:    r.BonusSats,
		TotalSats:    r.TotalSats,
		State:        string(r.State),
		CalculatedAt: r.CalculatedAt,
	}
	view.PaymentHash = r.PaymentHash
	view.FailureReason = r.FailureReason
	view.PaidAt = r.PaidAt
	return view
}
