package dedup

import (
	"log"
	"sort"

	"example.com/rewards/internal/domain"
)

// Deduplicator resolves duplicate workouts across sync sources, keeping one
// canonical record per physical event.
type Deduplicator struct {
	tol    Tolerances
	logger *log.Logger
}

// DeduplicatorOption configures optional behaviour.
type DeduplicatorOption func(*Deduplicator)

// WithDeduplicatorLogger overrides the logger.
func WithDeduplicatorLogger(logger *log.Logger) DeduplicatorOption {
	return func(d *Deduplicator) {
		d.logger = logger
	}
}

// NewDeduplicator constructs a Deduplicator with the given tolerances.
func NewDeduplicator(tol Tolerances, opts ...DeduplicatorOption) *Deduplicator {
	d := &Deduplicator{
		tol:    tol,
		logger: log.New(log.Writer(), "[dedup] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// SourceCounts tracks per-source totals for a dedup pass.
type SourceCounts struct {
	Original int
	Final    int
	Removed  int
}

// Report describes what a dedup pass did, for observability.
type Report struct {
	Original  int
	Final     int
	Removed   int
	PerSource map[domain.SyncSource]SourceCounts
	// Replaced maps each removed workout id to the id of the canonical
	// workout that stood in for it.
	Replaced map[string]string
}

// Result pairs the canonical set with its report.
type Result struct {
	Canonical []domain.Workout
	Report    Report
}

type candidate struct {
	workout domain.Workout
	fp      Fingerprint
}

// Dedup collapses the input to one canonical workout per physical event.
// Input order does not matter: candidates are considered highest-priority,
// most-recent first, and conflicts resolve by source priority, then
// completeness, then recency.
func (d *Deduplicator) Dedup(workouts []domain.Workout) Result {
	sorted := make([]domain.Workout, len(workouts))
	copy(sorted, workouts)
	sort.SliceStable(sorted, func(i, j int) bool {
		pi, pj := sorted[i].Source.Priority(), sorted[j].Source.Priority()
		if pi != pj {
			return pi > pj
		}
		return sorted[i].StartedAt.After(sorted[j].StartedAt)
	})

	report := Report{
		Original:  len(workouts),
		PerSource: make(map[domain.SyncSource]SourceCounts),
		Replaced:  make(map[string]string),
	}
	for _, w := range workouts {
		counts := report.PerSource[w.Source]
		counts.Original++
		report.PerSource[w.Source] = counts
	}

	accepted := make([]candidate, 0, len(sorted))
	for _, w := range sorted {
		fp := FingerprintOf(w)

		matchIdx := -1
		for i, existing := range accepted {
			if existing.fp.Key == fp.Key || d.tol.Match(existing.workout, w) {
				matchIdx = i
				break
			}
		}

		if matchIdx < 0 {
			accepted = append(accepted, candidate{workout: w, fp: fp})
			continue
		}

		existing := accepted[matchIdx].workout
		if shouldReplace(existing, w) {
			accepted[matchIdx] = candidate{workout: w, fp: fp}
			// A re-report under the same id is refreshed in place, not
			// replaced; a self-entry would make the replacement chain cyclic.
			if existing.ID != w.ID {
				report.Replaced[existing.ID] = w.ID
			}
			d.markRemoved(&report, existing)
			d.logger.Printf("replaced duplicate workout %s (%s) with %s (%s)", existing.ID, existing.Source, w.ID, w.Source)
		} else {
			if existing.ID != w.ID {
				report.Replaced[w.ID] = existing.ID
			}
			d.markRemoved(&report, w)
		}
	}

	canonical := make([]domain.Workout, 0, len(accepted))
	for _, c := range accepted {
		canonical = append(canonical, c.workout)
		counts := report.PerSource[c.workout.Source]
		counts.Final++
		report.PerSource[c.workout.Source] = counts
	}
	report.Final = len(canonical)
	report.Removed = report.Original - report.Final

	return Result{Canonical: canonical, Report: report}
}

func (d *Deduplicator) markRemoved(report *Report, w domain.Workout) {
	counts := report.PerSource[w.Source]
	counts.Removed++
	report.PerSource[w.Source] = counts
	recordDuplicateRemoved(string(w.Source))
}

// shouldReplace decides whether candidate displaces the already accepted
// workout for the same physical event: strictly higher source priority wins
// outright, equal priority falls through to completeness, then recency.
func shouldReplace(existing, candidate domain.Workout) bool {
	ep, cp := existing.Source.Priority(), candidate.Source.Priority()
	if cp != ep {
		return cp > ep
	}
	ec, cc := existing.CompletenessScore(), candidate.CompletenessScore()
	if cc != ec {
		return cc > ec
	}
	return candidate.StartedAt.After(existing.StartedAt)
}
