package icloud

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav"
	"github.com/emersion/go-webdav/caldav"
	"github.com/google/uuid"

	"calsync/internal/models"
)

const (
	iCloudCalDAVEndpoint = "https://caldav.icloud.com/"
)

// customTransport handles adding Basic Auth and custom headers to requests.
type customTransport struct {
	Username  string
	Password  string
	Transport http.RoundTripper
}

// RoundTrip adds required headers and authentication to each request.
func (t *customTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.SetBasicAuth(t.Username, t.Password)
	req.Header.Set("User-Agent", "calsync/1.0")
	return t.Transport.RoundTrip(req)
}

// CalDAVClient is a destination event store backed by a CalDAV server
// (iCloud). It implements the syncer.EventStore contract.
type CalDAVClient struct {
	caldavClient *caldav.Client
	webdavClient *webdav.Client
	logger       *slog.Logger
	calendarPath string
	username     string
}

// NewClient creates and initializes a new CalDAVClient for iCloud. Failure
// to resolve the named calendar is fatal: the syncer must not start a run
// against a store it cannot write to.
func NewClient(logger *slog.Logger, username, password, calendarName string) (*CalDAVClient, error) {
	transport := &customTransport{
		Username:  username,
		Password:  password,
		Transport: http.DefaultTransport,
	}
	httpClient := &http.Client{Transport: transport}

	caldavClient, err := caldav.NewClient(httpClient, iCloudCalDAVEndpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create caldav client: %w", err)
	}

	webdavClient, err := webdav.NewClient(httpClient, iCloudCalDAVEndpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create webdav client: %w", err)
	}

	c := &CalDAVClient{
		caldavClient: caldavClient,
		webdavClient: webdavClient,
		logger:       logger,
		username:     username,
	}

	logger.Info("Finding iCloud calendar", "calendarName", calendarName)
	calendarPath, err := c.findCalendar(context.Background(), calendarName)
	if err != nil {
		return nil, err
	}
	c.calendarPath = calendarPath
	logger.Info("Successfully found iCloud calendar", "path", calendarPath)

	return c, nil
}

// ListEvents returns the destination events whose span intersects
// [from, to). Events the syncer did not create are returned as-is; the
// caller decides what is managed by inspecting the notes.
func (c *CalDAVClient) ListEvents(ctx context.Context, from, to time.Time) ([]*models.Event, error) {
	query := &caldav.CalendarQuery{
		CompRequest: caldav.CalendarCompRequest{
			Name: ical.CompCalendar,
			Comps: []caldav.CalendarCompRequest{{
				Name:     ical.CompEvent,
				AllProps: true,
			}},
		},
		CompFilter: caldav.CompFilter{
			Name: ical.CompCalendar,
			Comps: []caldav.CompFilter{{
				Name:  ical.CompEvent,
				Start: from.UTC(),
				End:   to.UTC(),
			}},
		},
	}

	objects, err := c.caldavClient.QueryCalendar(ctx, c.calendarPath, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query calendar: %w", err)
	}

	var events []*models.Event
	for _, obj := range objects {
		if obj.Data == nil {
			continue
		}
		for _, ve := range obj.Data.Events() {
			event, err := c.toEvent(ve)
			if err != nil {
				c.logger.Warn("Skipping undecodable calendar object.", "path", obj.Path, "error", err)
				continue
			}
			events = append(events, event)
		}
	}

	c.logger.Debug("Listed destination events", "count", len(events), "from", from, "to", to)
	return events, nil
}

// CreateEvent writes a new event object to the calendar. The object is
// named after its UID so that later updates and deletes can address it
// without extra lookups.
func (c *CalDAVClient) CreateEvent(ctx context.Context, event *models.Event) error {
	if event.UID == "" {
		event.UID = GenerateUID()
	}
	return c.put(ctx, event)
}

// UpdateEvent overwrites the stored object for an event previously
// returned by ListEvents.
func (c *CalDAVClient) UpdateEvent(ctx context.Context, event *models.Event) error {
	if event.UID == "" {
		return fmt.Errorf("cannot update event %q: missing UID", event.Title)
	}
	return c.put(ctx, event)
}

// DeleteEvent removes the stored object for an event previously returned
// by ListEvents.
func (c *CalDAVClient) DeleteEvent(ctx context.Context, event *models.Event) error {
	if event.UID == "" {
		return fmt.Errorf("cannot delete event %q: missing UID", event.Title)
	}
	if err := c.webdavClient.RemoveAll(ctx, c.eventPath(event.UID)); err != nil {
		return fmt.Errorf("failed to delete event on CalDAV server: %w", err)
	}
	c.logger.Info("Deleted event from iCloud", "eventTitle", event.Title)
	return nil
}

// put encodes the event as a single-VEVENT calendar and writes it to the
// object path derived from its UID. PUT both creates and overwrites.
func (c *CalDAVClient) put(ctx context.Context, event *models.Event) error {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, "-//calsync//EN")
	cal.Children = append(cal.Children, c.toICal(event))

	writer, err := c.webdavClient.Create(ctx, c.eventPath(event.UID))
	if err != nil {
		return fmt.Errorf("failed to create event on CalDAV server: %w", err)
	}
	defer writer.Close()

	if err := ical.NewEncoder(writer).Encode(cal); err != nil {
		return fmt.Errorf("failed to encode event to iCal format: %w", err)
	}

	c.logger.Info("Wrote event to iCloud", "eventTitle", event.Title, "uid", event.UID)
	return nil
}

// eventPath returns the object path for a UID, relative to the endpoint as
// the webdav client expects.
func (c *CalDAVClient) eventPath(uid string) string {
	return path.Join(strings.TrimPrefix(c.calendarPath, iCloudCalDAVEndpoint), fmt.Sprintf("%s.ics", uid))
}

// toICal converts an internal Event model to an ical.Component (VEVENT).
func (c *CalDAVClient) toICal(event *models.Event) *ical.Component {
	ve := ical.NewComponent(ical.CompEvent)
	ve.Props.SetText(ical.PropUID, event.UID)
	ve.Props.SetText(ical.PropSummary, event.Title)
	ve.Props.SetDateTime(ical.PropDateTimeStamp, time.Now().UTC())

	if event.AllDay {
		setDateProp(ve, ical.PropDateTimeStart, event.StartTime)
		setDateProp(ve, ical.PropDateTimeEnd, event.EndTime)
	} else {
		ve.Props.SetDateTime(ical.PropDateTimeStart, event.StartTime)
		ve.Props.SetDateTime(ical.PropDateTimeEnd, event.EndTime)
	}

	if event.Notes != "" {
		ve.Props.SetText(ical.PropDescription, event.Notes)
	}
	if event.Location != "" {
		ve.Props.SetText(ical.PropLocation, event.Location)
	}

	// Declined events must not block time on the destination.
	if event.UserParticipation().Availability() == models.AvailabilityFree {
		ve.Props.SetText(ical.PropTransparency, "TRANSPARENT")
	} else {
		ve.Props.SetText(ical.PropTransparency, "OPAQUE")
	}

	return ve
}

// setDateProp writes a VALUE=DATE property, used for all-day events.
func setDateProp(ve *ical.Component, name string, t time.Time) {
	p := ical.NewProp(name)
	p.SetValueType(ical.ValueDate)
	p.Value = t.Format("20060102")
	ve.Props.Set(p)
}

// toEvent converts a VEVENT read back from the server to the internal
// Event model.
func (c *CalDAVClient) toEvent(ve ical.Event) (*models.Event, error) {
	uid, err := ve.Props.Text(ical.PropUID)
	if err != nil {
		return nil, fmt.Errorf("failed to read UID: %w", err)
	}
	if uid == "" {
		return nil, fmt.Errorf("event has no UID")
	}

	start, err := ve.DateTimeStart(time.UTC)
	if err != nil {
		return nil, fmt.Errorf("failed to parse start time: %w", err)
	}
	end, err := ve.DateTimeEnd(time.UTC)
	if err != nil {
		return nil, fmt.Errorf("failed to parse end time: %w", err)
	}

	title, _ := ve.Props.Text(ical.PropSummary)
	location, _ := ve.Props.Text(ical.PropLocation)
	notes, _ := ve.Props.Text(ical.PropDescription)

	allDay := false
	if p := ve.Props.Get(ical.PropDateTimeStart); p != nil {
		allDay = p.ValueType() == ical.ValueDate
	}

	return &models.Event{
		Title:     title,
		StartTime: start,
		EndTime:   end,
		Location:  location,
		AllDay:    allDay,
		Notes:     notes,
		UID:       uid,
	}, nil
}

// findCalendar discovers the user's calendars and returns the path of the
// one with the matching name.
func (c *CalDAVClient) findCalendar(ctx context.Context, name string) (string, error) {
	principalPath, err := c.caldavClient.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to find principal path: %w", err)
	}

	homeSetPath, err := c.caldavClient.FindCalendarHomeSet(ctx, principalPath)
	if err != nil {
		return "", fmt.Errorf("failed to find calendar home set: %w", err)
	}

	calendars, err := c.caldavClient.FindCalendars(ctx, homeSetPath)
	if err != nil {
		return "", fmt.Errorf("failed to find calendars: %w", err)
	}

	var available []string
	for _, cal := range calendars {
		if cal.Name == name {
			return cal.Path, nil
		}
		available = append(available, cal.Name)
	}

	return "", &models.CalendarNotFoundError{Name: name, Available: available}
}

// GenerateUID creates a new unique identifier for an event.
func GenerateUID() string {
	return uuid.New().String()
}
