// Package icsfile renders calendar payloads as iCalendar data.
package icsfile

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/google/uuid"

	"ttsync/internal/models"
)

// ProductID identifies files written by this tool.
const ProductID = "-//ttsync//Timetable Sync//EN"

const uidDomain = "ttsync"

// UID returns a stable UID for payloads built from a timetable event and
// a random one otherwise.
func UID(p models.CalendarEventPayload) string {
	if p.EventID != "" {
		return p.EventID + "@" + uidDomain
	}
	return uuid.NewString() + "@" + uidDomain
}

// NewCalendar returns an empty VCALENDAR with the required properties.
func NewCalendar() *ical.Calendar {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, ProductID)
	return cal
}

// Event converts a payload to a VEVENT. Times are written in UTC so the
// output needs no VTIMEZONE.
func Event(p models.CalendarEventPayload, uid string, stamp time.Time) *ical.Component {
	ve := ical.NewComponent(ical.CompEvent)
	ve.Props.SetText(ical.PropUID, uid)
	ve.Props.SetDateTime(ical.PropDateTimeStamp, stamp.UTC())
	ve.Props.SetDateTime(ical.PropDateTimeStart, p.Start.UTC())
	ve.Props.SetDateTime(ical.PropDateTimeEnd, p.End.UTC())
	ve.Props.SetText(ical.PropSummary, p.Summary)

	if p.Description != "" {
		ve.Props.SetText(ical.PropDescription, p.Description)
	}
	if p.Location != "" {
		ve.Props.SetText(ical.PropLocation, p.Location)
	}
	for _, line := range p.Recurrence {
		name, value, ok := strings.Cut(line, ":")
		if !ok || !strings.EqualFold(name, ical.PropRecurrenceRule) {
			continue
		}
		prop := ical.NewProp(ical.PropRecurrenceRule)
		prop.Value = value
		ve.Props.Add(prop)
	}
	for _, r := range p.Reminders {
		ve.Children = append(ve.Children, alarm(r, p.Summary))
	}
	return ve
}

func alarm(r models.Reminder, summary string) *ical.Component {
	va := ical.NewComponent(ical.CompAlarm)
	action := "DISPLAY"
	if r.Method == models.ReminderEmail {
		action = "EMAIL"
		va.Props.SetText(ical.PropSummary, summary)
	}
	va.Props.SetText(ical.PropAction, action)

	trigger := ical.NewProp(ical.PropTrigger)
	trigger.Value = fmt.Sprintf("-PT%dM", r.Minutes)
	va.Props.Add(trigger)

	va.Props.SetText(ical.PropDescription, summary)
	return va
}

// Write encodes payloads as one VCALENDAR.
func Write(w io.Writer, payloads []models.CalendarEventPayload, stamp time.Time) error {
	cal := NewCalendar()
	for _, p := range payloads {
		cal.Children = append(cal.Children, Event(p, UID(p), stamp))
	}
	if err := ical.NewEncoder(w).Encode(cal); err != nil {
		return fmt.Errorf("failed to encode calendar: %w", err)
	}
	return nil
}
