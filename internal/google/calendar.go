package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"ttsync/internal/logging"
	"ttsync/internal/models"
)

// sourceKey tags created events with the timetable event they came from.
const sourceKey = "ttsyncEventId"

// APIError is a failed Calendar API call.
type APIError struct {
	Op         string
	StatusCode int
	Message    string
	err        error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: HTTP %d: %s", e.Op, e.StatusCode, e.Message)
}

// Unwrap exposes ErrAuthRequired for 401 responses alongside the underlying error.
func (e *APIError) Unwrap() []error {
	if e.StatusCode == http.StatusUnauthorized {
		return []error{ErrAuthRequired, e.err}
	}
	return []error{e.err}
}

// CalendarClient provides a client for interacting with the Google Calendar API.
type CalendarClient struct {
	service *calendar.Service
	tokens  oauth2.TokenSource
	logger  *slog.Logger
}

// NewClient creates a new Google Calendar client authorized by tokens.
// Extra options are appended, so tests can point it at another endpoint.
func NewClient(ctx context.Context, logger *slog.Logger, tokens oauth2.TokenSource, opts ...option.ClientOption) (*CalendarClient, error) {
	base := []option.ClientOption{option.WithHTTPClient(oauth2.NewClient(ctx, tokens))}
	service, err := calendar.NewService(ctx, append(base, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar service: %w", err)
	}
	return &CalendarClient{service: service, tokens: tokens, logger: logging.OrDefault(logger)}, nil
}

// Authenticate checks that a valid token is available.
func (c *CalendarClient) Authenticate(ctx context.Context) error {
	if _, err := c.tokens.Token(); err != nil {
		if errors.Is(err, ErrAuthRequired) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrAuthRequired, err)
	}
	return nil
}

// ListCalendars returns every calendar in the user's calendar list.
func (c *CalendarClient) ListCalendars(ctx context.Context) ([]models.CalendarInfo, error) {
	var out []models.CalendarInfo
	err := c.service.CalendarList.List().Context(ctx).Pages(ctx, func(page *calendar.CalendarList) error {
		for _, item := range page.Items {
			out = append(out, models.CalendarInfo{
				ID:          item.Id,
				Summary:     item.Summary,
				Description: item.Description,
				Primary:     item.Primary,
				AccessRole:  item.AccessRole,
				TimeZone:    item.TimeZone,
			})
		}
		return nil
	})
	if err != nil {
		return nil, wrapErr("list calendars", err)
	}
	c.logger.Debug("Fetched calendar list.", "count", len(out))
	return out, nil
}

// CreateCalendar creates a secondary calendar and returns its ID.
func (c *CalendarClient) CreateCalendar(ctx context.Context, summary, timeZone string) (string, error) {
	cal, err := c.service.Calendars.Insert(&calendar.Calendar{Summary: summary, TimeZone: timeZone}).Context(ctx).Do()
	if err != nil {
		return "", wrapErr("create calendar", err)
	}
	c.logger.Info("Created calendar.", "summary", summary, "id", cal.Id)
	return cal.Id, nil
}

// CreateEvent inserts p into calendarID and returns the new event's ID.
func (c *CalendarClient) CreateEvent(ctx context.Context, calendarID string, p models.CalendarEventPayload) (string, error) {
	ev, err := c.service.Events.Insert(calendarID, toGoogleEvent(p)).Context(ctx).Do()
	if err != nil {
		return "", wrapErr("create event", err)
	}
	return ev.Id, nil
}

// ListEvents returns the timed events overlapping [from, to], with
// recurring events expanded.
func (c *CalendarClient) ListEvents(ctx context.Context, calendarID string, from, to time.Time) ([]models.ExistingEvent, error) {
	var out []models.ExistingEvent
	call := c.service.Events.List(calendarID).
		ShowDeleted(false).
		SingleEvents(true).
		TimeMin(from.Format(time.RFC3339)).
		TimeMax(to.Format(time.RFC3339)).
		OrderBy("startTime").
		Context(ctx)

	err := call.Pages(ctx, func(page *calendar.Events) error {
		for _, item := range page.Items {
			// All-day events have no DateTime.
			if item.Start == nil || item.Start.DateTime == "" {
				continue
			}
			start, err := time.Parse(time.RFC3339, item.Start.DateTime)
			if err != nil {
				c.logger.Debug("Skipping event with unreadable start", "id", item.Id, "start", item.Start.DateTime)
				continue
			}
			var end time.Time
			if item.End != nil {
				end, _ = time.Parse(time.RFC3339, item.End.DateTime)
			}
			out = append(out, models.ExistingEvent{ID: item.Id, Title: item.Summary, Start: start, End: end})
		}
		return nil
	})
	if err != nil {
		return nil, wrapErr("list events", err)
	}
	return out, nil
}

// DeleteEvent removes an event. Events that are already gone count as deleted.
func (c *CalendarClient) DeleteEvent(ctx context.Context, calendarID, eventID string) error {
	err := c.service.Events.Delete(calendarID, eventID).Context(ctx).Do()
	if err == nil {
		return nil
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && (gerr.Code == http.StatusNotFound || gerr.Code == http.StatusGone) {
		c.logger.Debug("Event already deleted.", "id", eventID)
		return nil
	}
	return wrapErr("delete event", err)
}

func toGoogleEvent(p models.CalendarEventPayload) *calendar.Event {
	ev := &calendar.Event{
		Summary:     p.Summary,
		Description: p.Description,
		Location:    p.Location,
		Start:       &calendar.EventDateTime{DateTime: p.Start.Format(time.RFC3339), TimeZone: p.TimeZone},
		End:         &calendar.EventDateTime{DateTime: p.End.Format(time.RFC3339), TimeZone: p.TimeZone},
		ColorId:     p.ColorID,
		Recurrence:  p.Recurrence,
		Visibility:  p.Visibility,
		Reminders: &calendar.EventReminders{
			UseDefault:      false,
			ForceSendFields: []string{"UseDefault"},
		},
	}
	for _, r := range p.Reminders {
		ev.Reminders.Overrides = append(ev.Reminders.Overrides, &calendar.EventReminder{
			Method:  string(r.Method),
			Minutes: int64(r.Minutes),
		})
	}
	if p.EventID != "" {
		ev.ExtendedProperties = &calendar.EventExtendedProperties{
			Private: map[string]string{sourceKey: p.EventID},
		}
	}
	return ev
}

func wrapErr(op string, err error) error {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return fmt.Errorf("%s: %w", op, err)
	}
	msg := gerr.Message
	if msg == "" {
		msg = http.StatusText(gerr.Code)
	}
	return &APIError{Op: op, StatusCode: gerr.Code, Message: msg, err: err}
}
