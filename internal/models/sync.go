package models

// SyncError records why one event could not be written.
type SyncError struct {
	EventID string `json:"eventId"`
	Error   string `json:"error"`
}

// SyncResult is the outcome of a single sync run.
type SyncResult struct {
	Success       bool        `json:"success"`
	EventsCreated int         `json:"eventsCreated"`
	EventsUpdated int         `json:"eventsUpdated"`
	EventsFailed  int         `json:"eventsFailed"`
	Errors        []SyncError `json:"errors"`
	CalendarID    string      `json:"calendarId"`
	// Created maps timetable event IDs to the IDs the calendar assigned.
	Created map[string]string `json:"created,omitempty"`
}

// Progress is reported before each event is sent and once more when the run is done.
type Progress struct {
	Completed    int    `json:"completed"`
	Total        int    `json:"total"`
	CurrentEvent string `json:"currentEvent"`
	Done         bool   `json:"done"`
}
