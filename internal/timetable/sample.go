package timetable

import (
	"fmt"
	"time"

	"ttsync/internal/models"
)

type sampleEntry struct {
	title, timeRange, location, instructor, code string
	kind                                         models.EventType
	day                                          time.Weekday
}

var sampleEntries = []sampleEntry{
	{"Introduction to Computer Science", "09:00 - 10:30", "Room 101, Science Building", "Dr. Smith", "CS101", models.TypeLecture, time.Monday},
	{"Data Structures Lab", "11:00 - 13:00", "Lab 3, Engineering Building", "Prof. Johnson", "CS201", models.TypeLab, time.Monday},
	{"Calculus Tutorial", "14:00 - 15:00", "Room 205, Mathematics Building", "Ms. Davis", "MATH150", models.TypeTutorial, time.Tuesday},
	{"Project Team Meeting", "16:00 - 17:00", "Library Study Room 2", "", "", models.TypeMeeting, time.Wednesday},
	{"Lunch Break", "12:00 - 13:00", "Student Center", "", "", models.TypeBreak, time.Thursday},
}

// SampleEvents returns the demonstration timetable offered when nothing
// could be parsed from an upload.
func SampleEvents(norm *Normalizer) []models.TimetableEvent {
	if norm == nil {
		norm = NewNormalizer(nil)
	}
	now := norm.Now()
	events := make([]models.TimetableEvent, 0, len(sampleEntries))
	for i, s := range sampleEntries {
		room, building := SplitLocation(s.location)
		events = append(events, models.TimetableEvent{
			ID:         fmt.Sprintf("sample-%d", i+1),
			Title:      s.title,
			Time:       s.timeRange,
			Date:       NextWeekday(now, s.day).Format(dateLayout),
			Location:   s.location,
			Type:       s.kind,
			Duration:   Duration(s.timeRange),
			Instructor: s.instructor,
			CourseCode: s.code,
			Room:       room,
			Building:   building,
		})
	}
	return events
}
