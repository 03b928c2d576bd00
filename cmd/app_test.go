package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ttsync/internal/config"
	"ttsync/internal/models"
	"ttsync/internal/timetable"
)

func testApp(t *testing.T) *app {
	t.Helper()
	now := time.Date(2026, 10, 14, 10, 0, 0, 0, time.UTC)
	return &app{
		cfg:  config.DefaultConfig(),
		loc:  time.UTC,
		norm: timetable.NewNormalizer(func() time.Time { return now }),
	}
}

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadReviewed_Array(t *testing.T) {
	a := testApp(t)
	path := writeFile(t, "events.json", `[
		{"id":"a","title":"  Data   Structures ","time":"09:00 - 10:30","date":"Tuesday","location":"Room 101, Science Building","type":"lecture"}
	]`)

	events, err := a.loadReviewed(path)
	require.NoError(t, err)
	require.Len(t, events, 1)

	ev := events[0]
	assert.Equal(t, "Data Structures", ev.Title)
	assert.Equal(t, "2026-10-20", ev.Date)
	assert.Equal(t, "1h 30m", ev.Duration)
	assert.Equal(t, models.EventType("lecture"), ev.Type)
}

func TestLoadReviewed_ParseOutput(t *testing.T) {
	a := testApp(t)
	path := writeFile(t, "outcome.json", `{"state":"complete","source":"local","events":[
		{"id":"a","title":"Lab","time":"14:00 - 16:00","date":"2026-10-21","location":"TBD","type":"lab"},
		{"id":"b","title":"Exam","time":"10:00 - 12:00","date":"2026-10-22","location":"Hall","type":"exam"}
	]}`)

	events, err := a.loadReviewed(path)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "b", events[1].ID)
	assert.Equal(t, "2h", events[0].Duration)
}

func TestLoadReviewed_Errors(t *testing.T) {
	a := testApp(t)

	_, err := a.loadReviewed(writeFile(t, "empty.json", `[]`))
	assert.Error(t, err)

	_, err = a.loadReviewed(writeFile(t, "bad.json", `not json`))
	assert.Error(t, err)

	_, err = a.loadReviewed(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestMapper_RepeatWeeksFallsBackToConfig(t *testing.T) {
	a := testApp(t)
	a.cfg.Sync.RepeatWeeks = 4
	ev := models.TimetableEvent{ID: "a", Title: "Lecture", Time: "09:00 - 10:30", Date: "2026-10-19", Location: "TBD", Type: "lecture"}

	p, err := a.mapper(0).ToPayload(ev)
	require.NoError(t, err)
	assert.Equal(t, []string{"RRULE:FREQ=WEEKLY;COUNT=4"}, p.Recurrence)

	p, err = a.mapper(2).ToPayload(ev)
	require.NoError(t, err)
	assert.Equal(t, []string{"RRULE:FREQ=WEEKLY;COUNT=2"}, p.Recurrence)
}

func TestLoadReviewed_AssignsMissingIDs(t *testing.T) {
	a := testApp(t)
	path := writeFile(t, "events.json", `[
		{"title":"A","time":"09:00 - 10:00","date":"2026-10-19"},
		{"title":"B","time":"11:00 - 12:00","date":"2026-10-19"},
		{"id":"x","title":"C","time":"13:00 - 14:00","date":"2026-10-19"},
		{"id":"x","title":"D","time":"15:00 - 16:00","date":"2026-10-19"}
	]`)

	events, err := a.loadReviewed(path)
	require.NoError(t, err)
	require.Len(t, events, 4)
	assert.Equal(t, "event-1", events[0].ID)
	assert.Equal(t, "event-2", events[1].ID)
	assert.Equal(t, "x", events[2].ID)
	assert.Equal(t, "x-4", events[3].ID)
}

func TestZonedClock_WeekdayFollowsConfiguredZone(t *testing.T) {
	// Sunday evening in UTC is already Monday morning in UTC+9.
	host := func() time.Time { return time.Date(2026, 10, 18, 20, 0, 0, 0, time.UTC) }
	tokyo := time.FixedZone("JST", 9*60*60)

	norm := timetable.NewNormalizer(zonedClock(host, tokyo))
	assert.Equal(t, "2026-10-26", norm.Date("Monday"))
	assert.Equal(t, "2026-10-20", norm.Date("Tuesday"))

	assert.Equal(t, "2026-10-19", timetable.NewNormalizer(host).Date("Monday"))
}
