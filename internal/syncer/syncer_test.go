package syncer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calsync/internal/fingerprint"
	"calsync/internal/models"
)

// fakeStore is an in-memory EventStore. Operations can be made to fail by
// title to exercise partial-failure behavior.
type fakeStore struct {
	events  []*models.Event
	nextUID int

	listErr    error
	failCreate map[string]error
	failUpdate map[string]error
	failDelete map[string]error

	ops []string // "create Title", "update Title", "delete Title" in apply order
}

func (s *fakeStore) ListEvents(ctx context.Context, from, to time.Time) ([]*models.Event, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []*models.Event
	for _, e := range s.events {
		if e.StartTime.Before(to) && e.EndTime.After(from) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *fakeStore) CreateEvent(ctx context.Context, event *models.Event) error {
	s.ops = append(s.ops, "create "+event.Title)
	if err := s.failCreate[event.Title]; err != nil {
		return err
	}
	s.nextUID++
	event.UID = fmt.Sprintf("uid-%d", s.nextUID)
	s.events = append(s.events, event)
	return nil
}

func (s *fakeStore) UpdateEvent(ctx context.Context, event *models.Event) error {
	s.ops = append(s.ops, "update "+event.Title)
	if err := s.failUpdate[event.Title]; err != nil {
		return err
	}
	for i, e := range s.events {
		if e.UID == event.UID {
			s.events[i] = event
			return nil
		}
	}
	return fmt.Errorf("no event with UID %s", event.UID)
}

func (s *fakeStore) DeleteEvent(ctx context.Context, event *models.Event) error {
	s.ops = append(s.ops, "delete "+event.Title)
	if err := s.failDelete[event.Title]; err != nil {
		return err
	}
	for i, e := range s.events {
		if e.UID == event.UID {
			s.events = append(s.events[:i], s.events[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("no event with UID %s", event.UID)
}

func testEngine(store EventStore) *Engine {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewEngine(logger, store, Options{})
}

func day(hour, min int) time.Time {
	return time.Date(2026, time.March, 2, hour, min, 0, 0, time.UTC)
}

func sourceEvent(title string, start, end time.Time) *models.Event {
	return &models.Event{Title: title, StartTime: start, EndTime: end}
}

var window = struct{ from, to time.Time }{
	from: time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC),
	to:   time.Date(2026, time.March, 8, 0, 0, 0, 0, time.UTC),
}

func TestReconcileLifecycle(t *testing.T) {
	ctx := context.Background()
	store := &fakeStore{}
	engine := testEngine(store)

	// Create: one source event against an empty destination.
	standup := sourceEvent("Standup", day(9, 0), day(9, 15))
	report, err := engine.Reconcile(ctx, []*models.Event{standup}, window.from, window.to)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Created)
	assert.Equal(t, 0, report.Updated)
	assert.Equal(t, 0, report.Deleted)
	require.Len(t, store.events, 1)
	assert.Equal(t, "Standup", store.events[0].Title)

	// Idempotence: an unchanged source yields no operations.
	report, err = engine.Reconcile(ctx, []*models.Event{sourceEvent("Standup", day(9, 0), day(9, 15))}, window.from, window.to)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Created)
	assert.Equal(t, 0, report.Updated)
	assert.Equal(t, 0, report.Deleted)

	// Changing the end time changes the identity, so the destination
	// converges by replacing the event: create of the new identity plus
	// delete of the old one.
	report, err = engine.Reconcile(ctx, []*models.Event{sourceEvent("Standup", day(9, 0), day(9, 30))}, window.from, window.to)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Created)
	assert.Equal(t, 1, report.Deleted)
	require.Len(t, store.events, 1)

	// Removing the event from source deletes it from the destination.
	report, err = engine.Reconcile(ctx, nil, window.from, window.to)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Created)
	assert.Equal(t, 0, report.Updated)
	assert.Equal(t, 1, report.Deleted)
	assert.Empty(t, store.events)
}

func TestReconcileUpdateInPlace(t *testing.T) {
	// A destination event whose marker fingerprint matches but whose
	// stored fields drifted (edited by hand on the destination) is
	// repaired in place.
	ctx := context.Background()
	src := sourceEvent("Planning", day(10, 0), day(11, 0))
	src.Location = "Room 4"
	src.Notes = "agenda attached"
	fp := fingerprint.Fingerprint(src)

	store := &fakeStore{events: []*models.Event{{
		Title:     "Planning (edited)",
		StartTime: day(10, 0),
		EndTime:   day(11, 0),
		Notes:     fingerprint.FormatMarker(fp, "agenda attached"),
		UID:       "uid-1",
	}}}
	engine := testEngine(store)

	report, err := engine.Reconcile(ctx, []*models.Event{src}, window.from, window.to)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Created)
	assert.Equal(t, 1, report.Updated)
	assert.Equal(t, 0, report.Deleted)

	require.Len(t, store.events, 1)
	got := store.events[0]
	assert.Equal(t, "Planning", got.Title)
	assert.Equal(t, "Room 4", got.Location)
	assert.Equal(t, fingerprint.FormatMarker(fp, "agenda attached"), got.Notes)
	assert.Equal(t, "uid-1", got.UID)
}

func TestReconcileLocationAloneDoesNotTriggerUpdate(t *testing.T) {
	ctx := context.Background()
	src := sourceEvent("Review", day(14, 0), day(15, 0))
	src.Location = "New room"
	fp := fingerprint.Fingerprint(src)

	store := &fakeStore{events: []*models.Event{{
		Title:     "Review",
		StartTime: day(14, 0),
		EndTime:   day(15, 0),
		Location:  "Old room",
		Notes:     fingerprint.FormatMarker(fp, ""),
		UID:       "uid-1",
	}}}
	engine := testEngine(store)

	report, err := engine.Reconcile(ctx, []*models.Event{src}, window.from, window.to)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Updated)
	assert.Empty(t, store.ops)
}

func TestReconcileEmptySourceWipesWindow(t *testing.T) {
	ctx := context.Background()
	var events []*models.Event
	for i := 0; i < 3; i++ {
		e := sourceEvent(fmt.Sprintf("Meeting %d", i), day(9+i, 0), day(10+i, 0))
		fp := fingerprint.Fingerprint(e)
		e.Notes = fingerprint.FormatMarker(fp, "")
		e.UID = fmt.Sprintf("uid-%d", i)
		events = append(events, e)
	}
	store := &fakeStore{events: events, nextUID: 3}
	engine := testEngine(store)

	report, err := engine.Reconcile(ctx, nil, window.from, window.to)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Created)
	assert.Equal(t, 0, report.Updated)
	assert.Equal(t, 3, report.Deleted)
	assert.Empty(t, store.events)
}

func TestReconcileIgnoresForeignEvents(t *testing.T) {
	ctx := context.Background()
	foreign := &models.Event{
		Title:     "Dentist",
		StartTime: day(16, 0),
		EndTime:   day(17, 0),
		Notes:     "bring insurance card",
		UID:       "uid-foreign",
	}
	store := &fakeStore{events: []*models.Event{foreign}}
	engine := testEngine(store)

	// Empty source: a managed event would be wiped, a foreign one stays.
	report, err := engine.Reconcile(ctx, nil, window.from, window.to)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Deleted)
	require.Len(t, store.events, 1)
	assert.Equal(t, "bring insurance card", store.events[0].Notes)

	// A source event colliding in time with the foreign event creates a
	// new managed event instead of touching the foreign one.
	report, err = engine.Reconcile(ctx, []*models.Event{sourceEvent("Dentist", day(16, 0), day(17, 0))}, window.from, window.to)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Created)
	assert.Len(t, store.events, 2)
}

func TestReconcilePartialFailureContinues(t *testing.T) {
	ctx := context.Background()
	store := &fakeStore{failCreate: map[string]error{"B": fmt.Errorf("server says no")}}
	engine := testEngine(store)

	source := []*models.Event{
		sourceEvent("A", day(9, 0), day(10, 0)),
		sourceEvent("B", day(10, 0), day(11, 0)),
		sourceEvent("C", day(11, 0), day(12, 0)),
	}
	report, err := engine.Reconcile(ctx, source, window.from, window.to)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Created)
	require.Len(t, report.Errors, 1)
	assert.Equal(t, "create", report.Errors[0].Op)
	assert.Equal(t, "B", report.Errors[0].Title)
	assert.ErrorContains(t, report.Errors[0], "server says no")

	// Every operation was attempted, in source order.
	assert.Equal(t, []string{"create A", "create B", "create C"}, store.ops)
}

func TestReconcileDuplicateFingerprintFirstWins(t *testing.T) {
	ctx := context.Background()
	store := &fakeStore{}
	engine := testEngine(store)

	first := sourceEvent("Standup", day(9, 0), day(9, 15))
	first.Location = "Room A"
	second := sourceEvent("Standup", day(9, 0), day(9, 15))
	second.Location = "Room B"

	report, err := engine.Reconcile(ctx, []*models.Event{first, second}, window.from, window.to)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Created)
	require.Len(t, report.Conflicts, 1)
	assert.Equal(t, fingerprint.Fingerprint(first), report.Conflicts[0])
	require.Len(t, store.events, 1)
	assert.Equal(t, "Room A", store.events[0].Location)
}

func TestReconcileListFailureIsFatal(t *testing.T) {
	ctx := context.Background()
	store := &fakeStore{listErr: fmt.Errorf("store unavailable")}
	engine := testEngine(store)

	_, err := engine.Reconcile(ctx, []*models.Event{sourceEvent("A", day(9, 0), day(10, 0))}, window.from, window.to)
	require.Error(t, err)
	assert.ErrorContains(t, err, "store unavailable")
	assert.Empty(t, store.ops)
}

func TestReconcileDryRunMakesNoChanges(t *testing.T) {
	ctx := context.Background()
	store := &fakeStore{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := NewEngine(logger, store, Options{DryRun: true})

	report, err := engine.Reconcile(ctx, []*models.Event{sourceEvent("Standup", day(9, 0), day(9, 15))}, window.from, window.to)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Created)
	assert.Empty(t, store.events)
	assert.Empty(t, store.ops)
}

func TestReconcileRejectPolicyAbortsBatch(t *testing.T) {
	ctx := context.Background()
	store := &fakeStore{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := NewEngine(logger, store, Options{OnConflict: ConflictReject})

	source := []*models.Event{
		sourceEvent("Standup", day(9, 0), day(9, 15)),
		sourceEvent("Standup", day(9, 0), day(9, 15)),
	}
	_, err := engine.Reconcile(ctx, source, window.from, window.to)
	require.Error(t, err)
	assert.ErrorContains(t, err, "batch rejected")
	assert.Empty(t, store.ops)
}

func TestReconcileCopiesAvailabilityFields(t *testing.T) {
	ctx := context.Background()
	store := &fakeStore{}
	engine := testEngine(store)

	declined := sourceEvent("Optional sync", day(13, 0), day(14, 0))
	declined.Attendees = []models.Attendee{{Email: "me@example.com", Status: models.StatusDeclined, IsCurrentUser: true}}

	report, err := engine.Reconcile(ctx, []*models.Event{declined}, window.from, window.to)
	require.NoError(t, err)
	require.Equal(t, 1, report.Created)
	require.Len(t, store.events, 1)
	assert.Equal(t, models.AvailabilityFree, store.events[0].UserParticipation().Availability())
}
