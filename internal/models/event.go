package models

// EventType classifies a timetable entry.
type EventType string

const (
	TypeLecture  EventType = "lecture"
	TypeLab      EventType = "lab"
	TypeTutorial EventType = "tutorial"
	TypeMeeting  EventType = "meeting"
	TypeBreak    EventType = "break"
)

// Valid reports whether t is one of the known event types.
func (t EventType) Valid() bool {
	switch t {
	case TypeLecture, TypeLab, TypeTutorial, TypeMeeting, TypeBreak:
		return true
	}
	return false
}

// Row is a single header-keyed record taken from a CSV file or spreadsheet.
// Keys are lower-cased and trimmed.
type Row map[string]string

// TimetableEvent is the normalized record produced by the parsers.
// It is independent of any calendar provider.
type TimetableEvent struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Time       string    `json:"time"` // "HH:MM - HH:MM", 24-hour
	Date       string    `json:"date"` // YYYY-MM-DD
	Location   string    `json:"location"`
	Type       EventType `json:"type"`
	Duration   string    `json:"duration"` // e.g. "1h 30m"
	Instructor string    `json:"instructor,omitempty"`
	CourseCode string    `json:"courseCode,omitempty"`
	Room       string    `json:"room,omitempty"`
	Building   string    `json:"building,omitempty"`
}

// ParseResult is what the AI parser and the orchestrator hand back to callers.
type ParseResult struct {
	Success        bool             `json:"success"`
	Events         []TimetableEvent `json:"events"`
	Confidence     int              `json:"confidence"`
	Errors         []string         `json:"errors,omitempty"`
	Duplicates     []string         `json:"duplicates,omitempty"`
	EnhancedFields []string         `json:"enhancedFields,omitempty"`
}
