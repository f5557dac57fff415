package dedup

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"example.com/rewards/internal/domain"
)

const (
	// DefaultDebounceWindow suppresses repeat sightings of the same workout
	// arriving from concurrent detection mechanisms.
	DefaultDebounceWindow = 5 * time.Second
	// DefaultDebounceMaxAge bounds how long an entry survives before the
	// sweep purges it.
	DefaultDebounceMaxAge = 5 * time.Minute
	// DefaultSweepInterval is how often the background sweep runs.
	DefaultSweepInterval = 2 * time.Minute
)

// Debouncer is a short-horizon, in-memory filter that stops the same workout
// from being processed more than once when multiple detection mechanisms
// observe it nearly simultaneously. Losing its state on restart is fine:
// the cross-source deduplicator is the durable correctness backstop.
type Debouncer struct {
	window time.Duration
	maxAge time.Duration
	sweep  time.Duration
	now    func() time.Time
	logger *log.Logger

	mu   sync.Mutex
	seen map[string]time.Time
}

// DebouncerOption configures optional behaviour.
type DebouncerOption func(*Debouncer)

// WithDebouncerClock injects a clock, for tests.
func WithDebouncerClock(now func() time.Time) DebouncerOption {
	return func(d *Debouncer) {
		d.now = now
	}
}

// WithDebouncerLogger overrides the logger.
func WithDebouncerLogger(logger *log.Logger) DebouncerOption {
	return func(d *Debouncer) {
		d.logger = logger
	}
}

// NewDebouncer constructs a Debouncer. Non-positive durations fall back to
// the defaults.
func NewDebouncer(window, maxAge time.Duration, opts ...DebouncerOption) *Debouncer {
	if window <= 0 {
		window = DefaultDebounceWindow
	}
	if maxAge <= 0 {
		maxAge = DefaultDebounceMaxAge
	}
	d := &Debouncer{
		window: window,
		maxAge: maxAge,
		sweep:  DefaultSweepInterval,
		now:    time.Now,
		logger: log.New(log.Writer(), "[debounce] ", log.LstdFlags),
		seen:   make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// FilterUnique returns the workouts that have not been seen within the
// debounce window. A sighting is a repeat when either its id or its content
// signature was seen inside the window: same-id re-reports with refined
// metrics and same-content echoes under a different id are both suppressed.
// Every workout restamps both entries to now, whether accepted or not, so the
// suppression window always extends from the latest sighting.
func (d *Debouncer) FilterUnique(workouts []domain.Workout, source string) []domain.Workout {
	now := d.now()

	d.mu.Lock()
	defer d.mu.Unlock()

	accepted := make([]domain.Workout, 0, len(workouts))
	for _, w := range workouts {
		idKey := "id|" + w.ID
		sigKey := "sig|" + contentSignature(w)
		lastID, sawID := d.seen[idKey]
		lastSig, sawSig := d.seen[sigKey]
		d.seen[idKey] = now
		d.seen[sigKey] = now
		if (sawID && now.Sub(lastID) < d.window) || (sawSig && now.Sub(lastSig) < d.window) {
			recordDebounceSuppressed(source)
			d.logger.Printf("suppressed workout %s (source=%s)", w.ID, source)
			continue
		}
		accepted = append(accepted, w)
	}
	return accepted
}

// Run sweeps expired entries until the context is cancelled.
func (d *Debouncer) Run(ctx context.Context) {
	ticker := time.NewTicker(d.sweep)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if purged := d.Sweep(); purged > 0 {
				d.logger.Printf("purged %d expired entries", purged)
			}
		}
	}
}

// Sweep removes entries older than the max age and returns how many it purged.
func (d *Debouncer) Sweep() int {
	cutoff := d.now().Add(-d.maxAge)

	d.mu.Lock()
	defer d.mu.Unlock()

	purged := 0
	for key, last := range d.seen {
		if last.Before(cutoff) {
			delete(d.seen, key)
			purged++
		}
	}
	return purged
}

// Size reports how many entries are currently tracked.
func (d *Debouncer) Size() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}

// contentSignature summarizes a workout's observable shape, independent of
// the id the reporting source assigned it.
func contentSignature(w domain.Workout) string {
	return fmt.Sprintf("%d|%.0f|%.0f|%s",
		w.StartedAt.Unix(),
		w.Duration.Seconds(),
		w.DistanceMeters,
		domain.NormalizeActivityType(w.ActivityType),
	)
}
