// Package mapper converts normalized timetable events into calendar
// event payloads that any calendar target can write.
package mapper

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/teambition/rrule-go"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"ttsync/internal/models"
	"ttsync/internal/timetable"
)

// ErrInvalidTimeRange is returned when an event's time is not two HH:MM
// values separated by " - " with the end after the start.
var ErrInvalidTimeRange = errors.New("invalid time range")

// DefaultAttribution ends every generated description.
const DefaultAttribution = "Created by ttsync"

// Colors maps event types to Google Calendar color ids.
var Colors = map[string]string{
	"lecture":  "9",
	"lab":      "10",
	"tutorial": "5",
	"exam":     "11",
	"meeting":  "7",
	"break":    "8",
}

// DefaultReminders is one email a day ahead and one popup ten minutes ahead.
func DefaultReminders() []models.Reminder {
	return []models.Reminder{
		{Method: models.ReminderEmail, Minutes: 24 * 60},
		{Method: models.ReminderPopup, Minutes: 10},
	}
}

// Mapper builds CalendarEventPayloads in one time zone.
type Mapper struct {
	loc         *time.Location
	reminders   []models.Reminder
	repeatWeeks int
	attribution string
}

// Option configures a Mapper.
type Option func(*Mapper)

// WithReminders overrides the default reminder set. An empty, non-nil
// slice disables reminders.
func WithReminders(r []models.Reminder) Option {
	return func(m *Mapper) { m.reminders = r }
}

// WithRepeatWeeks makes each event recur weekly for n occurrences.
func WithRepeatWeeks(n int) Option {
	return func(m *Mapper) { m.repeatWeeks = n }
}

// WithAttribution replaces the last line of the description.
func WithAttribution(s string) Option {
	return func(m *Mapper) { m.attribution = s }
}

// New creates a Mapper for loc; nil means UTC.
func New(loc *time.Location, opts ...Option) *Mapper {
	if loc == nil {
		loc = time.UTC
	}
	m := &Mapper{
		loc:         loc,
		attribution: DefaultAttribution,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.reminders == nil {
		m.reminders = DefaultReminders()
	}
	return m
}

// Location returns the time zone payloads are built in.
func (m *Mapper) Location() *time.Location {
	return m.loc
}

// ToPayload maps ev to a calendar payload.
func (m *Mapper) ToPayload(ev models.TimetableEvent) (models.CalendarEventPayload, error) {
	start, end, err := m.Times(ev)
	if err != nil {
		return models.CalendarEventPayload{}, err
	}

	p := models.CalendarEventPayload{
		EventID:     ev.ID,
		Summary:     ev.Title,
		Description: m.description(ev),
		Start:       start,
		End:         end,
		TimeZone:    m.loc.String(),
		ColorID:     ColorFor(string(ev.Type)),
		Reminders:   append([]models.Reminder(nil), m.reminders...),
		Visibility:  "default",
	}
	if loc := strings.TrimSpace(ev.Location); loc != "" && loc != timetable.DefaultLocation {
		p.Location = loc
	}
	if m.repeatWeeks > 1 {
		rule := rrule.ROption{Freq: rrule.WEEKLY, Count: m.repeatWeeks}
		p.Recurrence = []string{"RRULE:" + rule.RRuleString()}
	}
	return p, nil
}

// Times resolves ev's date and time range to absolute instants.
func (m *Mapper) Times(ev models.TimetableEvent) (start, end time.Time, err error) {
	parts := strings.Split(ev.Time, " - ")
	if len(parts) != 2 {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: %q", ErrInvalidTimeRange, ev.Time)
	}

	date := strings.TrimSpace(ev.Date)
	start, err = time.ParseInLocation("2006-01-02 15:04", date+" "+strings.TrimSpace(parts[0]), m.loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: start %q on %q", ErrInvalidTimeRange, parts[0], date)
	}
	end, err = time.ParseInLocation("2006-01-02 15:04", date+" "+strings.TrimSpace(parts[1]), m.loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: end %q on %q", ErrInvalidTimeRange, parts[1], date)
	}
	if !end.After(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: %q ends before it starts", ErrInvalidTimeRange, ev.Time)
	}
	return start, end, nil
}

func (m *Mapper) description(ev models.TimetableEvent) string {
	var b strings.Builder
	b.WriteString(ev.Title + "\n\n")
	if ev.Type != "" {
		fmt.Fprintf(&b, "Type: %s\n", cases.Title(language.English).String(string(ev.Type)))
	}
	if ev.Duration != "" {
		fmt.Fprintf(&b, "Duration: %s\n", ev.Duration)
	}
	for _, f := range []struct{ label, value string }{
		{"Instructor", ev.Instructor},
		{"Course code", ev.CourseCode},
		{"Room", ev.Room},
		{"Building", ev.Building},
	} {
		if v := strings.TrimSpace(f.value); v != "" {
			fmt.Fprintf(&b, "%s: %s\n", f.label, v)
		}
	}
	if m.attribution != "" {
		b.WriteString("\n" + m.attribution)
	}
	return strings.TrimRight(b.String(), "\n")
}

// ColorFor returns the color id for an event type, falling back to the lecture color.
func ColorFor(eventType string) string {
	if c, ok := Colors[strings.ToLower(strings.TrimSpace(eventType))]; ok {
		return c
	}
	return Colors["lecture"]
}

// FromPayload reconstructs the date and time range of a payload in its
// own time zone.
func FromPayload(p models.CalendarEventPayload) (date, timeRange string) {
	loc := time.UTC
	if l, err := time.LoadLocation(p.TimeZone); err == nil {
		loc = l
	}
	start, end := p.Start.In(loc), p.End.In(loc)
	return start.Format("2006-01-02"), start.Format("15:04") + " - " + end.Format("15:04")
}
