package models

import "time"

// ReminderMethod is how a calendar reminder is delivered.
type ReminderMethod string

const (
	ReminderEmail ReminderMethod = "email"
	ReminderPopup ReminderMethod = "popup"
)

// Reminder fires Minutes before the event starts.
type Reminder struct {
	Method  ReminderMethod `json:"method"`
	Minutes int            `json:"minutes"`
}

// CalendarEventPayload is a timetable event resolved into absolute times,
// ready to be written to a calendar service.
type CalendarEventPayload struct {
	EventID     string // ID of the TimetableEvent it was built from
	Summary     string
	Description string
	Location    string
	Start       time.Time
	End         time.Time
	TimeZone    string
	ColorID     string
	Reminders   []Reminder
	Recurrence  []string // RFC 5545 lines, e.g. "RRULE:FREQ=WEEKLY;COUNT=12"
	Visibility  string
}

// ExistingEvent is an event already present in a target calendar.
type ExistingEvent struct {
	ID    string
	Title string
	Start time.Time
	End   time.Time
}

// CalendarInfo describes one calendar from the user's calendar list.
type CalendarInfo struct {
	ID          string `json:"id"`
	Summary     string `json:"summary"`
	Description string `json:"description,omitempty"`
	Primary     bool   `json:"primary,omitempty"`
	AccessRole  string `json:"accessRole"`
	TimeZone    string `json:"timeZone,omitempty"`
}
