// Package icloud writes timetable events to a CalDAV calendar such as iCloud.
package icloud

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav/caldav"

	"ttsync/internal/icsfile"
	"ttsync/internal/logging"
	"ttsync/internal/models"
)

// Endpoint is iCloud's CalDAV root.
const Endpoint = "https://caldav.icloud.com/"

// customTransport handles adding Basic Auth and custom headers to requests.
type customTransport struct {
	Username  string
	Password  string
	Transport http.RoundTripper
}

// RoundTrip adds required headers and authentication to each request.
func (t *customTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.SetBasicAuth(t.Username, t.Password)
	req.Header.Set("User-Agent", "ttsync/1.0")
	return t.Transport.RoundTrip(req)
}

// CalDAVClient is a client for interacting with a CalDAV server (iCloud).
// Calendar IDs are calendar collection paths as returned by FindCalendar.
type CalDAVClient struct {
	caldavClient *caldav.Client
	httpClient   *http.Client
	endpoint     *url.URL
	logger       *slog.Logger
	now          func() time.Time
}

// NewClient creates a CalDAVClient for endpoint; an empty endpoint means iCloud.
func NewClient(logger *slog.Logger, endpoint, username, password string) (*CalDAVClient, error) {
	if endpoint == "" {
		endpoint = Endpoint
	}
	httpClient := &http.Client{Transport: &customTransport{
		Username:  username,
		Password:  password,
		Transport: http.DefaultTransport,
	}}

	base, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid CalDAV endpoint %q: %w", endpoint, err)
	}

	caldavClient, err := caldav.NewClient(httpClient, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create caldav client: %w", err)
	}

	return &CalDAVClient{
		caldavClient: caldavClient,
		httpClient:   httpClient,
		endpoint:     base,
		logger:       logging.OrDefault(logger),
		now:          time.Now,
	}, nil
}

// ListCalendars discovers the user's calendars.
func (c *CalDAVClient) ListCalendars(ctx context.Context) ([]models.CalendarInfo, error) {
	principalPath, err := c.caldavClient.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to find principal path: %w", err)
	}

	homeSetPath, err := c.caldavClient.FindCalendarHomeSet(ctx, principalPath)
	if err != nil {
		return nil, fmt.Errorf("failed to find calendar home set: %w", err)
	}

	calendars, err := c.caldavClient.FindCalendars(ctx, homeSetPath)
	if err != nil {
		return nil, fmt.Errorf("failed to find calendars: %w", err)
	}

	out := make([]models.CalendarInfo, 0, len(calendars))
	for _, cal := range calendars {
		out = append(out, models.CalendarInfo{
			ID:          cal.Path,
			Summary:     cal.Name,
			Description: cal.Description,
			AccessRole:  "owner",
		})
	}
	return out, nil
}

// FindCalendar returns the path of the calendar called name.
func (c *CalDAVClient) FindCalendar(ctx context.Context, name string) (string, error) {
	c.logger.Info("Finding CalDAV calendar", "calendarName", name)
	calendars, err := c.ListCalendars(ctx)
	if err != nil {
		return "", err
	}
	for _, cal := range calendars {
		if cal.Summary == name {
			c.logger.Info("Successfully found CalDAV calendar", "path", cal.ID)
			return cal.ID, nil
		}
	}
	return "", fmt.Errorf("no calendar found with name '%s'", name)
}

// CreateEvent stores p as a new calendar object and returns its UID.
func (c *CalDAVClient) CreateEvent(ctx context.Context, calendarPath string, p models.CalendarEventPayload) (string, error) {
	uid := icsfile.UID(p)
	cal := icsfile.NewCalendar()
	cal.Children = append(cal.Children, icsfile.Event(p, uid, c.now()))

	if _, err := c.caldavClient.PutCalendarObject(ctx, objectPath(calendarPath, uid), cal); err != nil {
		return "", fmt.Errorf("failed to create event on CalDAV server: %w", err)
	}
	c.logger.Debug("Created CalDAV event.", "title", p.Summary, "uid", uid)
	return uid, nil
}

// ListEvents returns the events in calendarPath overlapping [from, to].
func (c *CalDAVClient) ListEvents(ctx context.Context, calendarPath string, from, to time.Time) ([]models.ExistingEvent, error) {
	query := &caldav.CalendarQuery{
		CompRequest: caldav.CalendarCompRequest{
			Name:  ical.CompCalendar,
			Comps: []caldav.CalendarCompRequest{{Name: ical.CompEvent, AllProps: true}},
		},
		CompFilter: caldav.CompFilter{
			Name:  ical.CompCalendar,
			Comps: []caldav.CompFilter{{Name: ical.CompEvent, Start: from, End: to}},
		},
	}

	objects, err := c.caldavClient.QueryCalendar(ctx, calendarPath, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query calendar: %w", err)
	}

	var out []models.ExistingEvent
	for _, obj := range objects {
		if obj.Data == nil {
			continue
		}
		for _, child := range obj.Data.Children {
			if child.Name != ical.CompEvent {
				continue
			}
			start, err := child.Props.DateTime(ical.PropDateTimeStart, time.UTC)
			if err != nil {
				continue
			}
			end, _ := child.Props.DateTime(ical.PropDateTimeEnd, time.UTC)
			title, _ := child.Props.Text(ical.PropSummary)
			uid, _ := child.Props.Text(ical.PropUID)
			out = append(out, models.ExistingEvent{ID: uid, Title: title, Start: start, End: end})
		}
	}
	return out, nil
}

// DeleteEvent removes the object for uid. A missing object counts as deleted.
func (c *CalDAVClient) DeleteEvent(ctx context.Context, calendarPath, uid string) error {
	target := *c.endpoint
	target.Path = objectPath(calendarPath, uid)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, target.String(), nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to delete event on CalDAV server: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound, resp.StatusCode == http.StatusGone:
		c.logger.Debug("CalDAV event already deleted.", "uid", uid)
		return nil
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return fmt.Errorf("failed to delete event on CalDAV server: HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}
	return nil
}

func objectPath(calendarPath, uid string) string {
	return path.Join("/", calendarPath, uid+".ics")
}
