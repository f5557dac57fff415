package detect

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"example.com/rewards/internal/dedup"
	"example.com/rewards/internal/domain"
)

// Detection mechanism labels, used for logging, metrics, and debounce keys.
const (
	MechanismPush     = "push"
	MechanismAnchored = "anchored"
	MechanismSummary  = "summary"
)

const (
	defaultRecentLimit  = 20
	defaultQueryTimeout = 30 * time.Second
)

// Config tunes the orchestrator.
type Config struct {
	UserID       string
	RecentLimit  int
	QueryTimeout time.Duration
}

// Orchestrator runs three redundant detection mechanisms against the health
// source. The mechanisms deliberately race; the debouncer makes the race
// safe, and the high-water mark keeps "new" bounded.
type Orchestrator struct {
	cfg       Config
	source    Source
	markers   MarkerStore
	debouncer *dedup.Debouncer
	sink      Sink
	logger    *log.Logger

	// mu guards lastProcessed and anchor. Held only for the in-memory
	// read-modify-write; never across a source or store call.
	mu            sync.Mutex
	lastProcessed time.Time
	anchor        []byte

	stopOnce sync.Once
	releases []func()
	wg       sync.WaitGroup
}

// Option configures optional behaviour.
type Option func(*Orchestrator)

// WithLogger overrides the logger.
func WithLogger(logger *log.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// NewOrchestrator constructs an Orchestrator.
func NewOrchestrator(cfg Config, source Source, markers MarkerStore, debouncer *dedup.Debouncer, sink Sink, opts ...Option) *Orchestrator {
	if cfg.RecentLimit <= 0 {
		cfg.RecentLimit = defaultRecentLimit
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = defaultQueryTimeout
	}
	o := &Orchestrator{
		cfg:       cfg,
		source:    source,
		markers:   markers,
		debouncer: debouncer,
		sink:      sink,
		logger:    log.New(log.Writer(), "[detector] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Start checks authorization, restores persisted markers, and launches the
// three mechanisms. A mechanism whose subscription fails is logged and
// skipped; Start only errors when authorization is missing or every
// mechanism failed to come up.
func (o *Orchestrator) Start(ctx context.Context) error {
	ok, err := o.source.Authorized(ctx)
	if err != nil {
		return fmt.Errorf("checking authorization: %w", err)
	}
	if !ok {
		return ErrUnauthorized
	}

	mark, err := o.markers.HighWaterMark(ctx, o.cfg.UserID)
	if err != nil {
		return fmt.Errorf("loading high-water mark: %w", err)
	}
	anchor, err := o.markers.Anchor(ctx, o.cfg.UserID)
	if err != nil {
		return fmt.Errorf("loading anchor: %w", err)
	}

	o.mu.Lock()
	o.lastProcessed = mark
	o.anchor = anchor
	o.mu.Unlock()

	active := 0

	if ch, release, subErr := o.source.WorkoutTriggers(ctx); subErr != nil {
		o.logger.Printf("push mechanism degraded: %v", subErr)
	} else {
		o.releases = append(o.releases, release)
		active++
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			for range ch {
				recordTrigger(MechanismPush)
				o.fetchRecent(ctx, MechanismPush)
			}
		}()
	}

	if ch, release, subErr := o.source.AnchorTriggers(ctx); subErr != nil {
		o.logger.Printf("anchored mechanism degraded: %v", subErr)
	} else {
		o.releases = append(o.releases, release)
		active++
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			o.runAnchored(ctx)
			for range ch {
				recordTrigger(MechanismAnchored)
				o.runAnchored(ctx)
			}
		}()
	}

	if ch, release, subErr := o.source.SummaryTriggers(ctx); subErr != nil {
		o.logger.Printf("summary mechanism degraded: %v", subErr)
	} else {
		o.releases = append(o.releases, release)
		active++
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			o.fetchRecent(ctx, MechanismSummary)
			for range ch {
				recordTrigger(MechanismSummary)
				o.fetchRecent(ctx, MechanismSummary)
			}
		}()
	}

	if active == 0 {
		return errors.New("no detection mechanism could be started")
	}

	o.logger.Printf("detection started (user=%s, mechanisms=%d/3, high-water mark=%s)", o.cfg.UserID, active, mark.Format(time.RFC3339))
	return nil
}

// Stop releases every active subscription exactly once and waits for the
// mechanism goroutines to drain. Safe to call more than once.
func (o *Orchestrator) Stop() {
	o.stopOnce.Do(func() {
		for _, release := range o.releases {
			release()
		}
		o.wg.Wait()
		o.logger.Printf("detection stopped")
	})
}

// LastProcessed returns the current high-water mark.
func (o *Orchestrator) LastProcessed() time.Time {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastProcessed
}

// fetchRecent pulls the bounded recent-workout window and runs it through
// processing. Transient errors are logged; the mechanism's next trigger is
// the retry.
func (o *Orchestrator) fetchRecent(ctx context.Context, via string) {
	qctx, cancel := context.WithTimeout(ctx, o.cfg.QueryTimeout)
	workouts, err := o.source.RecentWorkouts(qctx, o.cfg.RecentLimit)
	cancel()
	if err != nil {
		recordFetchError(via)
		o.logger.Printf("%s fetch failed: %v", via, classifyQueryErr(err))
		return
	}
	o.processNew(ctx, workouts, via)
}

// runAnchored performs one incremental query and advances the anchor
// unconditionally, empty batch or not, so the cursor never re-reads.
func (o *Orchestrator) runAnchored(ctx context.Context) {
	o.mu.Lock()
	anchor := o.anchor
	o.mu.Unlock()

	qctx, cancel := context.WithTimeout(ctx, o.cfg.QueryTimeout)
	workouts, newAnchor, err := o.source.WorkoutsSince(qctx, anchor)
	cancel()
	if err != nil {
		recordFetchError(MechanismAnchored)
		o.logger.Printf("anchored fetch failed: %v", classifyQueryErr(err))
		return
	}

	o.mu.Lock()
	o.anchor = newAnchor
	o.mu.Unlock()

	if err := o.markers.SetAnchor(ctx, o.cfg.UserID, newAnchor); err != nil {
		o.logger.Printf("persisting anchor failed: %v", err)
	}

	if len(workouts) > 0 {
		o.processNew(ctx, workouts, MechanismAnchored)
	}
}

// processNew is the shared funnel every mechanism converges on: high-water
// mark filter, debounce, mark advance, then hand-off to the sink.
func (o *Orchestrator) processNew(ctx context.Context, fetched []domain.Workout, via string) {
	o.mu.Lock()
	mark := o.lastProcessed
	o.mu.Unlock()

	fresh := make([]domain.Workout, 0, len(fetched))
	for _, w := range fetched {
		if w.StartedAt.After(mark) {
			fresh = append(fresh, w)
		}
	}
	if len(fresh) == 0 {
		return
	}

	survivors := o.debouncer.FilterUnique(fresh, via)
	if len(survivors) == 0 {
		return
	}

	maxStart := survivors[0].StartedAt
	for _, w := range survivors[1:] {
		if w.StartedAt.After(maxStart) {
			maxStart = w.StartedAt
		}
	}

	advanced := false
	o.mu.Lock()
	if maxStart.After(o.lastProcessed) {
		o.lastProcessed = maxStart
		advanced = true
	}
	o.mu.Unlock()

	if advanced {
		if err := o.markers.SetHighWaterMark(ctx, o.cfg.UserID, maxStart); err != nil {
			o.logger.Printf("persisting high-water mark failed: %v", err)
		}
		recordWatermark(maxStart)
	}

	recordDetected(via, len(survivors))
	if err := o.sink.WorkoutsDetected(ctx, survivors, via); err != nil {
		o.logger.Printf("%s hand-off failed for %d workouts: %v", via, len(survivors), err)
	}
}

func classifyQueryErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrQueryTimeout, err)
	}
	return err
}
