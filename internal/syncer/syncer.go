// Package syncer reconciles a filtered set of source calendar events into a
// destination event store. The engine keeps no state between runs: managed
// destination events carry a marker in their notes recording the source
// fingerprint, and each run rebuilds the full picture by re-reading those
// markers. Re-running with an unchanged source is a no-op.
package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"calsync/internal/fingerprint"
	"calsync/internal/models"
)

// EventSource lists events from a source calendar provider.
type EventSource interface {
	// ListEvents returns events in [from, to) from the named calendar, in
	// start-time order. It returns *models.CalendarNotFoundError when no
	// calendar matches the name.
	ListEvents(ctx context.Context, calendarName string, from, to time.Time) ([]*models.Event, error)
}

// EventStore is the destination calendar the engine reconciles into. Every
// operation returns a single error value; a nil error means the operation
// committed.
type EventStore interface {
	ListEvents(ctx context.Context, from, to time.Time) ([]*models.Event, error)
	CreateEvent(ctx context.Context, event *models.Event) error
	UpdateEvent(ctx context.Context, event *models.Event) error
	DeleteEvent(ctx context.Context, event *models.Event) error
}

// OperationError records a single failed store operation. Failures never
// abort the run; they accumulate on the report.
type OperationError struct {
	Op          string // "create", "update" or "delete"
	Fingerprint string
	Title       string
	Err         error
}

func (e OperationError) Error() string {
	return fmt.Sprintf("%s %q (%s): %v", e.Op, e.Title, e.Fingerprint, e.Err)
}

func (e OperationError) Unwrap() error { return e.Err }

// Report summarizes one reconciliation pass. It is the engine's only
// feedback mechanism: no operation is retried internally.
type Report struct {
	Created   int
	Updated   int
	Deleted   int
	Conflicts []string // fingerprints that appeared more than once in the source
	Errors    []OperationError
}

// ConflictPolicy decides what happens when two source events share a
// fingerprint within one batch.
type ConflictPolicy int

const (
	// ConflictFirstWins keeps the first occurrence and records the
	// duplicate on the report. The default.
	ConflictFirstWins ConflictPolicy = iota
	// ConflictReject aborts the whole batch before any write.
	ConflictReject
)

// Options tunes engine behavior.
type Options struct {
	// DryRun counts operations without committing them.
	DryRun bool
	// OnConflict selects the duplicate-fingerprint policy.
	OnConflict ConflictPolicy
}

// Engine computes and applies the minimal create/update/delete set that
// makes the destination store mirror the source events.
type Engine struct {
	store  EventStore
	logger *slog.Logger
	opts   Options
}

// NewEngine creates an engine writing to the given destination store.
func NewEngine(logger *slog.Logger, store EventStore, opts Options) *Engine {
	return &Engine{store: store, logger: logger, opts: opts}
}

// Reconcile performs one full pass: index the source events by
// fingerprint, scan the destination window for managed events, then apply
// creates, updates and deletes one at a time. from/to is the window the
// source events were queried with; it bounds the destination scan when the
// source is empty, so an empty source wipes every managed event in it.
//
// Only failure to list the destination is fatal. Individual operation
// failures are recorded on the report and do not block later operations.
func (e *Engine) Reconcile(ctx context.Context, source []*models.Event, from, to time.Time) (*Report, error) {
	report := &Report{}

	// Index source events by fingerprint, first occurrence wins. The
	// ordered slice keeps apply order deterministic, so a run killed
	// midway has applied a prefix of the plan rather than an arbitrary
	// subset.
	sourceIndex := make(map[string]*models.Event, len(source))
	var order []string
	for _, ev := range source {
		fp := fingerprint.Fingerprint(ev)
		if _, dup := sourceIndex[fp]; dup {
			if e.opts.OnConflict == ConflictReject {
				return nil, fmt.Errorf("duplicate source event %q (%s): batch rejected", ev.Title, fp)
			}
			e.logger.Warn("Duplicate fingerprint in source, keeping first occurrence.", "title", ev.Title, "fingerprint", fp)
			report.Conflicts = append(report.Conflicts, fp)
			continue
		}
		sourceIndex[fp] = ev
		order = append(order, fp)
	}

	// The destination scan covers the span of the source events; with no
	// source events the original query window stands, which deletes
	// everything previously synced into it.
	if len(source) > 0 {
		from, to = sourceSpan(source)
	}

	destEvents, err := e.store.ListEvents(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to list destination events: %w", err)
	}

	// Index managed destination events by the fingerprint parsed from
	// their marker. Events without a marker are foreign and stay
	// untouched.
	destIndex := make(map[string]*models.Event)
	var destOrder []string
	for _, ev := range destEvents {
		fp, _, ok := fingerprint.ParseMarker(ev.Notes)
		if !ok {
			continue
		}
		destIndex[fp] = ev
		destOrder = append(destOrder, fp)
	}

	e.logger.Info("Comparing source events with destination.",
		"source", len(sourceIndex), "destination", len(destIndex))

	for _, fp := range order {
		src := sourceIndex[fp]
		if dest, exists := destIndex[fp]; exists {
			e.updateIfChanged(ctx, report, fp, src, dest)
		} else {
			e.create(ctx, report, fp, src)
		}
	}

	for _, fp := range destOrder {
		if _, exists := sourceIndex[fp]; exists {
			continue
		}
		e.delete(ctx, report, fp, destIndex[fp])
	}

	return report, nil
}

// sourceSpan returns the window covering every source event.
func sourceSpan(events []*models.Event) (from, to time.Time) {
	from, to = events[0].StartTime, events[0].EndTime
	for _, ev := range events[1:] {
		if ev.StartTime.Before(from) {
			from = ev.StartTime
		}
		if ev.EndTime.After(to) {
			to = ev.EndTime
		}
	}
	return from, to
}

// updateIfChanged compares the identity fields and commits an update only
// when one differs; skipping unchanged events is what makes repeated runs
// write-free. Location is copied on every update but never triggers one.
func (e *Engine) updateIfChanged(ctx context.Context, report *Report, fp string, src, dest *models.Event) {
	changed := dest.Title != src.Title ||
		!dest.StartTime.Equal(src.StartTime) ||
		!dest.EndTime.Equal(src.EndTime)
	if !changed {
		e.logger.Debug("Event unchanged, skipping.", "title", src.Title, "fingerprint", fp)
		return
	}

	dest.Title = src.Title
	dest.StartTime = src.StartTime
	dest.EndTime = src.EndTime
	dest.Location = src.Location
	dest.Notes = fingerprint.FormatMarker(fp, src.Notes)
	dest.Attendees = src.Attendees

	if e.opts.DryRun {
		e.logger.Info("[DRY RUN] Would update event.", "title", src.Title, "fingerprint", fp)
		report.Updated++
		return
	}

	if err := e.store.UpdateEvent(ctx, dest); err != nil {
		e.logger.Error("Failed to update event", "title", src.Title, "error", err)
		report.Errors = append(report.Errors, OperationError{Op: "update", Fingerprint: fp, Title: src.Title, Err: err})
		return
	}
	report.Updated++
}

func (e *Engine) create(ctx context.Context, report *Report, fp string, src *models.Event) {
	event := &models.Event{
		Title:     src.Title,
		StartTime: src.StartTime,
		EndTime:   src.EndTime,
		Location:  src.Location,
		AllDay:    src.AllDay,
		Notes:     fingerprint.FormatMarker(fp, src.Notes),
		Attendees: src.Attendees,
	}

	if e.opts.DryRun {
		e.logger.Info("[DRY RUN] Would create event.", "title", src.Title, "fingerprint", fp)
		report.Created++
		return
	}

	if err := e.store.CreateEvent(ctx, event); err != nil {
		e.logger.Error("Failed to create event", "title", src.Title, "error", err)
		report.Errors = append(report.Errors, OperationError{Op: "create", Fingerprint: fp, Title: src.Title, Err: err})
		return
	}
	report.Created++
}

func (e *Engine) delete(ctx context.Context, report *Report, fp string, dest *models.Event) {
	if e.opts.DryRun {
		e.logger.Info("[DRY RUN] Would delete event.", "title", dest.Title, "fingerprint", fp)
		report.Deleted++
		return
	}

	if err := e.store.DeleteEvent(ctx, dest); err != nil {
		e.logger.Error("Failed to delete event", "title", dest.Title, "error", err)
		report.Errors = append(report.Errors, OperationError{Op: "delete", Fingerprint: fp, Title: dest.Title, Err: err})
		return
	}
	report.Deleted++
}
