package ai

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"ttsync/internal/models"
)

const (
	maxPromptText  = 12000
	maxSampleRows  = 10
	eventFieldHint = `{"id": string, "title": string, "time": "HH:MM - HH:MM" (24-hour), "date": "YYYY-MM-DD", "location": string, "type": "lecture"|"lab"|"tutorial"|"meeting"|"break", "duration": string, "instructor": string, "courseCode": string, "room": string, "building": string}`
)

func parsePrompt(text string, now time.Time) string {
	text = truncate(text, maxPromptText)

	var b strings.Builder
	fmt.Fprintf(&b, "Today is %s (%s).\n", now.Format("2006-01-02"), now.Weekday())
	b.WriteString("Extract every class, lab, tutorial, meeting and break from the timetable text below.\n")
	b.WriteString("Resolve weekday names to the next future date after today.\n")
	b.WriteString("Respond with a single JSON object of the form:\n")
	fmt.Fprintf(&b, `{"events": [%s], "confidence": 0-100}`+"\n\n", eventFieldHint)
	b.WriteString("Timetable text:\n")
	b.WriteString(text)
	return b.String()
}

func enhancePrompt(events []models.TimetableEvent, rows []models.Row, now time.Time) string {
	evJSON, _ := json.MarshalIndent(events, "", "  ")
	if len(rows) > maxSampleRows {
		rows = rows[:maxSampleRows]
	}
	rowJSON, _ := json.MarshalIndent(rows, "", "  ")

	var b strings.Builder
	fmt.Fprintf(&b, "Today is %s (%s).\n", now.Format("2006-01-02"), now.Weekday())
	b.WriteString("The events below were parsed from a timetable by simple column matching.\n")
	b.WriteString("Correct titles, times, dates, locations and types using the raw rows, fill in missing fields and flag duplicates.\n")
	b.WriteString("Keep the original ids where the event is the same.\n")
	b.WriteString("Respond with a single JSON object of the form:\n")
	fmt.Fprintf(&b, `{"enhancedEvents": [%s], "duplicates": [string], "enhancedFields": [string], "confidence": 0-100}`+"\n\n", eventFieldHint)
	b.WriteString("Parsed events:\n")
	b.Write(evJSON)
	b.WriteString("\n\nRaw rows (sample):\n")
	b.Write(rowJSON)
	return b.String()
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
