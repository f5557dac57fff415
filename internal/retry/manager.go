// Package retry provides at-least-once delivery of reward payouts against an
// unreliable payment collaborator, with bounded exponential backoff and a
// dead-letter path once the attempt budget is spent.
package retry

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"example.com/rewards/internal/domain"
)

// FailedSync is the bookkeeping for one workout whose reward delivery failed.
type FailedSync struct {
	Workout      domain.Workout
	UserID       string
	Source       string
	Err          string
	FirstFailure time.Time
	LastAttempt  time.Time
	Attempts     int
}

// DeliveryFunc re-attempts the full reward delivery for a workout. It must be
// safe to call repeatedly: the payment collaborator is expected to handle
// idempotent invoice/payment semantics on its side.
type DeliveryFunc func(ctx context.Context, rec FailedSync) error

// Config holds the retry policy.
type Config struct {
	MaxAttempts   int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	SweepInterval time.Duration
}

// DefaultConfig returns the production retry policy.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:   3,
		BaseDelay:     2 * time.Second,
		MaxDelay:      60 * time.Second,
		SweepInterval: 30 * time.Second,
	}
}

// Status is a point-in-time view of the retry backlog.
type Status struct {
	TotalFailed  int
	ReadyToRetry int
	Waiting      int
}

// Manager owns the failed-sync map. All map access is serialized through its
// mutex; delivery calls happen outside the critical section.
type Manager struct {
	cfg         Config
	deliver     DeliveryFunc
	now         func() time.Time
	logger      *log.Logger
	onSuccess   func(FailedSync)
	onPermanent func(FailedSync)

	mu       sync.Mutex
	failed   map[string]*FailedSync
	inflight map[string]struct{}
	timers   map[string]*time.Timer
	closed   bool
}

// Option configures optional behaviour.
type Option func(*Manager)

// WithClock injects a clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// WithLogger overrides the logger.
func WithLogger(logger *log.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithSuccessHandler observes recovered deliveries.
func WithSuccessHandler(fn func(FailedSync)) Option {
	return func(m *Manager) {
		m.onSuccess = fn
	}
}

// WithPermanentFailureHandler observes deliveries that exhausted their
// attempt budget. These are never silently dropped: the handler is the hook
// for alerting and out-of-band remediation.
func WithPermanentFailureHandler(fn func(FailedSync)) Option {
	return func(m *Manager) {
		m.onPermanent = fn
	}
}

// NewManager constructs a Manager. Non-positive config values fall back to
// the defaults.
func NewManager(cfg Config, deliver DeliveryFunc, opts ...Option) *Manager {
	def := DefaultConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = def.SweepInterval
	}

	m := &Manager{
		cfg:      cfg,
		deliver:  deliver,
		now:      time.Now,
		logger:   log.New(log.Writer(), "[retry] ", log.LstdFlags),
		failed:   make(map[string]*FailedSync),
		inflight: make(map[string]struct{}),
		timers:   make(map[string]*time.Timer),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RecordFailure registers a failed delivery for the workout. The first
// failure schedules one deferred retry at the base delay; subsequent sweep
// cycles take over from there. Re-recording an already tracked workout only
// refreshes its error, it does not reset the attempt count.
func (m *Manager) RecordFailure(w domain.Workout, userID, source string, cause error) {
	now := m.now()

	m.mu.Lock()
	if existing, ok := m.failed[w.ID]; ok {
		existing.Err = cause.Error()
		m.mu.Unlock()
		return
	}

	rec := &FailedSync{
		Workout:      w,
		UserID:       userID,
		Source:       source,
		Err:          cause.Error(),
		FirstFailure: now,
		LastAttempt:  now,
		Attempts:     1,
	}
	m.failed[w.ID] = rec
	recordFailureTracked()
	updateBacklogGauge(len(m.failed))

	if !m.closed {
		id := w.ID
		m.timers[id] = time.AfterFunc(m.cfg.BaseDelay, func() {
			m.retryOne(context.Background(), id)
		})
	}
	m.mu.Unlock()

	m.logger.Printf("tracking failed reward delivery (workout=%s, user=%s, source=%s): %v", w.ID, userID, source, cause)
}

// Run sweeps the backlog until the context is cancelled.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.stopTimers()
			return
		case <-ticker.C:
			if retried, err := m.RunOnce(ctx); err != nil {
				m.logger.Printf("sweep error: %v", err)
			} else if retried > 0 {
				m.logger.Printf("sweep retried %d deliveries", retried)
			}
		}
	}
}

// RunOnce retries every tracked delivery whose backoff has elapsed and
// returns the count of attempts made. Individual delivery errors stay inside
// the backlog; only unexpected faults are returned.
func (m *Manager) RunOnce(ctx context.Context) (int, error) {
	now := m.now()

	m.mu.Lock()
	due := make([]string, 0)
	for id, rec := range m.failed {
		if _, busy := m.inflight[id]; busy {
			continue
		}
		if now.Sub(rec.LastAttempt) >= m.backoffDelay(rec.Attempts) {
			due = append(due, id)
		}
	}
	m.mu.Unlock()

	var errs error
	retried := 0
	for _, id := range due {
		if err := ctx.Err(); err != nil {
			errs = errors.Join(errs, err)
			break
		}
		if m.retryOne(ctx, id) {
			retried++
		}
	}
	return retried, errs
}

// retryOne performs a single delivery attempt for the tracked workout.
// Returns false when the record is gone or already in flight.
func (m *Manager) retryOne(ctx context.Context, id string) bool {
	m.mu.Lock()
	rec, ok := m.failed[id]
	if !ok {
		m.mu.Unlock()
		return false
	}
	if _, busy := m.inflight[id]; busy {
		m.mu.Unlock()
		return false
	}
	m.inflight[id] = struct{}{}
	attempt := *rec
	m.mu.Unlock()

	err := m.deliver(ctx, attempt)

	m.mu.Lock()
	delete(m.inflight, id)
	rec, ok = m.failed[id]
	if !ok {
		m.mu.Unlock()
		return true
	}

	if err == nil {
		delete(m.failed, id)
		m.clearTimer(id)
		updateBacklogGauge(len(m.failed))
		recovered := *rec
		m.mu.Unlock()

		recordRecovered()
		m.logger.Printf("reward delivery recovered (workout=%s, attempts=%d)", id, recovered.Attempts)
		if m.onSuccess != nil {
			m.onSuccess(recovered)
		}
		return true
	}

	rec.Attempts++
	rec.LastAttempt = m.now()
	rec.Err = err.Error()
	recordRetryFailed()

	if rec.Attempts >= m.cfg.MaxAttempts {
		delete(m.failed, id)
		m.clearTimer(id)
		updateBacklogGauge(len(m.failed))
		dead := *rec
		m.mu.Unlock()

		recordPermanentFailure()
		m.logger.Printf("reward delivery permanently failed (workout=%s, attempts=%d): %s", id, dead.Attempts, dead.Err)
		if m.onPermanent != nil {
			m.onPermanent(dead)
		}
		return true
	}

	next := m.backoffDelay(rec.Attempts)
	m.mu.Unlock()

	m.logger.Printf("reward delivery retry failed (workout=%s, attempt=%d, next in %s): %v", id, rec.Attempts, next, err)
	return true
}

// Status reports backlog counts for observability.
func (m *Manager) Status() Status {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	status := Status{TotalFailed: len(m.failed)}
	for id, rec := range m.failed {
		if _, busy := m.inflight[id]; busy {
			status.Waiting++
			continue
		}
		if now.Sub(rec.LastAttempt) >= m.backoffDelay(rec.Attempts) {
			status.ReadyToRetry++
		} else {
			status.Waiting++
		}
	}
	return status
}

// backoffDelay computes min(2^(n-1) * base, cap).
func (m *Manager) backoffDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	shift := uint(attempt - 1)
	if shift > 16 {
		shift = 16
	}
	delay := time.Duration(1<<shift) * m.cfg.BaseDelay
	if delay > m.cfg.MaxDelay {
		delay = m.cfg.MaxDelay
	}
	return delay
}

func (m *Manager) stopTimers() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	for id, timer := range m.timers {
		timer.Stop()
		delete(m.timers, id)
	}
}

// clearTimer must be called with the mutex held.
func (m *Manager) clearTimer(id string) {
	if timer, ok := m.timers[id]; ok {
		timer.Stop()
		delete(m.timers, id)
	}
}
