package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ttsync/internal/ai"
	"ttsync/internal/extract"
	"ttsync/internal/models"
	"ttsync/internal/timetable"
)

var fixedNow = time.Date(2026, 10, 14, 10, 0, 0, 0, time.UTC)

const timetableCSV = "course,time,day,room\n" +
	"Algorithms,09:00-10:30,Monday,\"101, CS Building\"\n" +
	"Databases,,Tuesday,Lab 2\n" +
	", ,Wednesday,303\n"

type fakeProvider struct {
	reply string
	err   error
}

func (f fakeProvider) Name() string { return "fake" }

func (f fakeProvider) Generate(context.Context, string) (string, error) { return f.reply, f.err }

type panicExtractor struct{}

func (panicExtractor) Extract(context.Context, extract.File) (*extract.Content, error) {
	panic("corrupt archive")
}

func newOrchestrator(p ai.Provider) *Orchestrator {
	norm := timetable.NewNormalizer(func() time.Time { return fixedNow })
	var aiParser AIParser
	if p != nil {
		aiParser = ai.NewParser(nil, p, norm)
	}
	return New(nil, extract.New(nil), timetable.NewParser(nil, norm), aiParser, norm)
}

func collect(updates *[]State) func(Update) {
	return func(u Update) { *updates = append(*updates, u.State) }
}

func csvFile() extract.File {
	return extract.File{Name: "timetable.csv", MIMEType: "text/csv", Data: []byte(timetableCSV)}
}

func TestProcess_LocalOnly(t *testing.T) {
	var states []State
	out, err := newOrchestrator(nil).Process(context.Background(), csvFile(), collect(&states))
	require.NoError(t, err)

	assert.Equal(t, []State{StateLocal, StateComplete}, states)
	assert.Equal(t, StateComplete, out.State)
	assert.Equal(t, SourceLocal, out.Source)
	assert.Equal(t, extract.FormatCSV, out.Format)
	assert.Equal(t, LocalConfidence, out.Confidence)
	require.Len(t, out.Events, 2)

	first := out.Events[0]
	assert.Equal(t, models.TypeLecture, first.Type)
	assert.Equal(t, "101", first.Room)
	assert.Equal(t, "CS Building", first.Building)
	assert.Equal(t, "1h 30m", first.Duration)
	assert.Equal(t, "09:00 - 10:30", out.Events[1].Time)
}

func TestProcess_EnhanceSucceeds(t *testing.T) {
	reply := `{"enhancedEvents": [
		{"id": "x1", "title": "Algorithms I", "time": "09:00 - 10:30", "date": "2026-10-19", "location": "101, CS Building", "type": "lecture", "instructor": "Dr. Knuth"}
	], "duplicates": [], "enhancedFields": ["instructor"], "confidence": 93}`

	var states []State
	out, err := newOrchestrator(fakeProvider{reply: reply}).Process(context.Background(), csvFile(), collect(&states))
	require.NoError(t, err)

	assert.Equal(t, []State{StateLocal, StateAIEnhance, StateComplete}, states)
	assert.Equal(t, SourceAIEnhanced, out.Source)
	assert.Equal(t, 93, out.Confidence)
	require.Len(t, out.Events, 1)
	assert.Equal(t, "Dr. Knuth", out.Events[0].Instructor)
	assert.Equal(t, []string{"instructor"}, out.EnhancedFields)
}

func TestProcess_EnhanceFailureKeepsLocalEvents(t *testing.T) {
	local, err := newOrchestrator(nil).Process(context.Background(), csvFile(), nil)
	require.NoError(t, err)

	out, err := newOrchestrator(fakeProvider{err: errors.New("connection reset")}).Process(context.Background(), csvFile(), nil)
	require.NoError(t, err)

	assert.Equal(t, SourceLocal, out.Source)
	assert.Equal(t, ai.EnhanceFallbackConfidence, out.Confidence)
	require.Len(t, out.Events, len(local.Events))
	for i := range out.Events {
		assert.Equal(t, local.Events[i].Title, out.Events[i].Title)
		assert.Equal(t, local.Events[i].Time, out.Events[i].Time)
		assert.Equal(t, local.Events[i].Date, out.Events[i].Date)
	}
	require.NotEmpty(t, out.Warnings)
	assert.Contains(t, out.Warnings[0], "connection reset")
}

func TestProcess_TextParsedByAI(t *testing.T) {
	reply := `{"events": [{"title": "Physics", "time": "2pm - 3pm", "date": "Friday", "location": "Hall A", "type": "lecture"}], "confidence": 77}`
	f := extract.File{Name: "notes.txt", Data: []byte("Physics Friday 2pm-3pm Hall A")}

	var states []State
	out, err := newOrchestrator(fakeProvider{reply: reply}).Process(context.Background(), f, collect(&states))
	require.NoError(t, err)

	assert.Equal(t, []State{StateLocal, StateAIFallback, StateComplete}, states)
	assert.Equal(t, SourceAI, out.Source)
	assert.Equal(t, 77, out.Confidence)
	require.Len(t, out.Events, 1)
	assert.Equal(t, "14:00 - 15:00", out.Events[0].Time)
	assert.Equal(t, "2026-10-16", out.Events[0].Date)
}

func TestProcess_FallsBackToSamples(t *testing.T) {
	f := extract.File{Name: "notes.txt", Data: []byte("nothing useful here")}

	cases := map[string]ai.Provider{
		"ai fails":       fakeProvider{reply: "not json"},
		"no ai provider": nil,
	}
	for name, p := range cases {
		t.Run(name, func(t *testing.T) {
			var states []State
			out, err := newOrchestrator(p).Process(context.Background(), f, collect(&states))
			require.NoError(t, err)

			assert.Equal(t, StateComplete, out.State)
			assert.Contains(t, states, StateAIFallback)
			assert.Equal(t, SourceSample, out.Source)
			assert.Len(t, out.Events, 5)
			assert.Equal(t, "sample-1", out.Events[0].ID)
			assert.NotEmpty(t, out.Warnings)
			assert.NotEmpty(t, out.Message)
		})
	}
}

func TestProcess_NoProviderMessage(t *testing.T) {
	f := extract.File{Name: "notes.txt", Data: []byte("nothing useful here")}
	out, err := newOrchestrator(nil).Process(context.Background(), f, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{ai.ErrNoProvider.Error()}, out.Warnings)
	assert.Contains(t, out.Message, "no AI key configured")
}

func TestProcess_ExtractionError(t *testing.T) {
	f := extract.File{Name: "movie.mkv", MIMEType: "video/x-matroska"}

	var updates []Update
	out, err := newOrchestrator(nil).Process(context.Background(), f, func(u Update) { updates = append(updates, u) })
	require.Error(t, err)
	assert.ErrorIs(t, err, extract.ErrUnsupportedFormat)

	assert.Equal(t, StateError, out.State)
	assert.Equal(t, err.Error(), out.Message)
	assert.Empty(t, out.Events)
	require.Len(t, updates, 1)
	assert.Equal(t, StateError, updates[0].State)
}

func TestProcess_ExtractorPanic(t *testing.T) {
	norm := timetable.NewNormalizer(func() time.Time { return fixedNow })
	o := New(nil, panicExtractor{}, timetable.NewParser(nil, norm), nil, norm)

	out, err := o.Process(context.Background(), csvFile(), nil)
	require.Error(t, err)
	assert.Equal(t, StateError, out.State)
	assert.Contains(t, out.Message, "corrupt archive")
}
