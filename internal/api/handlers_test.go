package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"example.com/rewards/internal/auth"
	"example.com/rewards/internal/domain"
)

func TestListWorkoutsSuccess(t *testing.T) {
	now := time.Date(2026, time.August, 30, 18, 0, 0, 0, time.UTC)
	store := &mockStore{
		workouts: []domain.Workout{
			{
				ID:             "w-1",
				UserID:         "user-1",
				ActivityType:   "Running",
				StartedAt:      now.Add(-2 * time.Hour),
				EndedAt:        now.Add(-90 * time.Minute),
				Duration:       30 * time.Minute,
				DistanceMeters: 5000,
				Calories:       320,
				Source:         domain.SourceHealthKit,
				SourceName:     "Apple Watch",
			},
			{
				ID:           "w-2",
				UserID:       "user-1",
				ActivityType: "Yoga",
				StartedAt:    now.Add(-26 * time.Hour),
				EndedAt:      now.Add(-25 * time.Hour),
				Duration:     time.Hour,
				Source:       domain.SourceNostr,
			},
		},
	}
	handler := NewHandler(store)

	req := authedRequest(http.MethodGet, "/v1/workouts?limit=10", "user-1", auth.ScopeWorkoutsRead)
	rr := httptest.NewRecorder()
	handler.listWorkouts(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rr.Code, rr.Body.String())
	}

	var resp ListWorkoutsResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Items) != 2 {
		t.Fatalf("expected 2 items got %d", len(resp.Items))
	}
	if resp.Items[0].WorkoutID != "w-1" {
		t.Fatalf("unexpected first workout id %s", resp.Items[0].WorkoutID)
	}
	if resp.Items[0].DurationSec != 1800 {
		t.Fatalf("unexpected duration %d", resp.Items[0].DurationSec)
	}
	if resp.Items[0].SourceDisplay != "Apple Health" {
		t.Fatalf("unexpected source display %s", resp.Items[0].SourceDisplay)
	}
	if store.listUserID != "user-1" {
		t.Fatalf("expected list keyed to token subject, got %s", store.listUserID)
	}
}

func TestListWorkoutsRequiresScope(t *testing.T) {
	handler := NewHandler(&mockStore{})

	req := authedRequest(http.MethodGet, "/v1/workouts", "user-1", auth.ScopeRewardsRead)
	rr := httptest.NewRecorder()
	handler.listWorkouts(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 got %d", rr.Code)
	}
}

func TestListWorkoutsRejectsInvalidCursor(t *testing.T) {
	handler := NewHandler(&mockStore{})

	req := authedRequest(http.MethodGet, "/v1/workouts?cursor=%21%21not-base64", "user-1", auth.ScopeWorkoutsRead)
	rr := httptest.NewRecorder()
	handler.listWorkouts(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rr.Code)
	}
}

func TestGetWorkoutHidesOtherUsers(t *testing.T) {
	store := &mockStore{
		workouts: []domain.Workout{
			{ID: "w-1", UserID: "someone-else", ActivityType: "Running"},
		},
	}
	handler := NewHandler(store)

	req := authedRequest(http.MethodGet, "/v1/workouts/w-1", "user-1", auth.ScopeWorkoutsRead)
	rr := httptest.NewRecorder()
	handler.workoutByID(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", rr.Code)
	}
}

func TestListRewardsSumsPaidPage(t *testing.T) {
	paidAt := time.Date(2026, time.August, 29, 7, 30, 0, 0, time.UTC)
	store := &mockStore{
		rewards: []domain.RewardRecord{
			{
				ID:           "r-1",
				WorkoutID:    "w-1",
				UserID:       "user-1",
				BaseSats:     30,
				BonusSats:    10,
				TotalSats:    40,
				Type:         domain.RewardTypeStreak,
				State:        domain.RewardStatePaid,
				CalculatedAt: paidAt.Add(-time.Minute),
				PaidAt:       &paidAt,
				PaymentHash:  "hash-1",
			},
			{
				ID:            "r-2",
				WorkoutID:     "w-2",
				UserID:        "user-1",
				BaseSats:      25,
				TotalSats:     25,
				Type:          domain.RewardTypeIndividual,
				State:         domain.RewardStateFailed,
				CalculatedAt:  paidAt.Add(-time.Hour),
				FailureReason: "provider timeout",
			},
		},
	}
	handler := NewHandler(store)

	req := authedRequest(http.MethodGet, "/v1/rewards", "user-1", auth.ScopeRewardsRead)
	rr := httptest.NewRecorder()
	handler.listRewards(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rr.Code, rr.Body.String())
	}

	var resp ListRewardsResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.PagePaidSats != 40 {
		t.Fatalf("expected page_paid_sats 40 got %d", resp.PagePaidSats)
	}
	if resp.Items[0].PaymentHash != "hash-1" {
		t.Fatalf("unexpected payment hash %q", resp.Items[0].PaymentHash)
	}
	if resp.Items[1].FailureReason != "provider timeout" {
		t.Fatalf("unexpected failure reason %q", resp.Items[1].FailureReason)
	}
}

func TestWalletRegisterAndFetch(t *testing.T) {
	store := &mockStore{}
	handler := NewHandler(store)

	body := strings.NewReader(`{"wallet_username":"athlete-1"}`)
	req := httptest.NewRequest(http.MethodPut, "/v1/wallet", body)
	req = req.WithContext(auth.WithClaims(req.Context(), testClaims("user-1", auth.ScopeWalletsManage)))

	rr := httptest.NewRecorder()
	handler.wallet(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rr.Code, rr.Body.String())
	}
	if store.wallets["user-1"] != "athlete-1" {
		t.Fatalf("wallet not stored: %v", store.wallets)
	}

	get := authedRequest(http.MethodGet, "/v1/wallet", "user-1", auth.ScopeRewardsRead)
	rr = httptest.NewRecorder()
	handler.wallet(rr, get)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rr.Code)
	}

	var view WalletView
	if err := json.Unmarshal(rr.Body.Bytes(), &view); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if view.WalletUsername != "athlete-1" {
		t.Fatalf("unexpected wallet %q", view.WalletUsername)
	}
}

func TestWalletRejectsEmptyUsername(t *testing.T) {
	handler := NewHandler(&mockStore{})

	req := httptest.NewRequest(http.MethodPut, "/v1/wallet", strings.NewReader(`{"wallet_username":"  "}`))
	req = req.WithContext(auth.WithClaims(req.Context(), testClaims("user-1", auth.ScopeWalletsManage)))

	rr := httptest.NewRecorder()
	handler.wallet(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rr.Code)
	}
}

func authedRequest(method, target, subject string, scopes ...string) *http.Request {
	req := httptest.NewRequest(method, target, nil)
	return req.WithContext(auth.WithClaims(req.Context(), testClaims(subject, scopes...)))
}

func testClaims(subject string, scopes ...string) *auth.Claims {
	scopeSet := make(map[string]struct{}, len(scopes))
	for _, scope := range scopes {
		scopeSet[scope] = struct{}{}
	}
	return &auth.Claims{
		Subject:   subject,
		Scopes:    scopeSet,
		ExpiresAt: time.Now().Add(time.Hour),
	}
}

type mockStore struct {
	workouts   []domain.Workout
	rewards    []domain.RewardRecord
	wallets    map[string]string
	listUserID string
}

func (m *mockStore) GetWorkout(ctx context.Context, workoutID string) (*domain.Workout, error) {
	for _, w := range m.workouts {
		if w.ID == workoutID {
			copied := w
			return &copied, nil
		}
	}
	return nil, nil
}

func (m *mockStore) ListByUser(ctx context.Context, userID string, cursor *domain.Cursor, limit int) ([]domain.Workout, *domain.Cursor, error) {
	m.listUserID = userID
	if limit > len(m.workouts) {
		limit = len(m.workouts)
	}
	out := make([]domain.Workout, limit)
	copy(out, m.workouts[:limit])
	return out, nil, nil
}

func (m *mockStore) ListRewardsByUser(ctx context.Context, userID string, cursor *domain.Cursor, limit int) ([]domain.RewardRecord, *domain.Cursor, error) {
	if limit > len(m.rewards) {
		limit = len(m.rewards)
	}
	out := make([]domain.RewardRecord, limit)
	copy(out, m.rewards[:limit])
	return out, nil, nil
}

func (m *mockStore) WalletFor(ctx context.Context, userID string) (string, error) {
	if wallet, ok := m.wallets[userID]; ok {
		return wallet, nil
	}
	return "", errors.New("no wallet registered")
}

func (m *mockStore) RegisterWallet(ctx context.Context, userID, walletUsername string) error {
	if m.wallets == nil {
		m.wallets = make(map[string]string)
	}
	m.wallets[userID] = walletUsername
	return nil
}
