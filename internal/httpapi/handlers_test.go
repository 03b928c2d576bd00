package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ttsync/internal/extract"
	"ttsync/internal/google"
	"ttsync/internal/models"
	"ttsync/internal/pipeline"
	"ttsync/internal/syncer"
	"ttsync/internal/timetable"
)

type mockSyncer struct {
	gotCalendar string
	gotEvents   []models.TimetableEvent
	dupes       map[string]bool
	err         error
}

func (m *mockSyncer) Sync(_ context.Context, calendarID string, events []models.TimetableEvent, _ syncer.ProgressFunc) (*models.SyncResult, error) {
	m.gotCalendar, m.gotEvents = calendarID, events
	if m.err != nil {
		return nil, m.err
	}
	return &models.SyncResult{Success: true, EventsCreated: len(events), CalendarID: calendarID, Errors: []models.SyncError{}}, nil
}

func (m *mockSyncer) CheckExistingEvents(context.Context, string, []models.TimetableEvent) map[string]bool {
	return m.dupes
}

type mockCalendars struct {
	cals []models.CalendarInfo
	err  error
}

func (m mockCalendars) ListCalendars(context.Context) ([]models.CalendarInfo, error) {
	return m.cals, m.err
}

func newServer(s *Server) *gin.Engine {
	gin.SetMode(gin.TestMode)
	if s.Parser == nil {
		norm := timetable.NewNormalizer(func() time.Time { return time.Date(2026, 10, 14, 10, 0, 0, 0, time.UTC) })
		s.Parser = pipeline.New(nil, extract.New(nil), timetable.NewParser(nil, norm), nil, norm)
	}
	return s.Router()
}

func upload(t *testing.T, name string, content []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/parse", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestHealth(t *testing.T) {
	router := newServer(&Server{Version: "1.2.3"})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "1.2.3", resp.Version)
	assert.Equal(t, "not configured", resp.Calendar)
}

func TestParse_CSV(t *testing.T) {
	router := newServer(&Server{})
	csv := "course,time,day,room\nAlgorithms,09:00-10:30,Monday,\"101, CS Building\"\nDatabases,,Tuesday,Lab 2\n"

	w := httptest.NewRecorder()
	router.ServeHTTP(w, upload(t, "timetable.csv", []byte(csv)))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var out pipeline.Outcome
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.Equal(t, pipeline.StateComplete, out.State)
	assert.Equal(t, pipeline.SourceLocal, out.Source)
	require.Len(t, out.Events, 2)
	assert.Equal(t, "Algorithms", out.Events[0].Title)
	assert.Equal(t, "2026-10-19", out.Events[0].Date)
}

func TestParse_Errors(t *testing.T) {
	router := newServer(&Server{})

	t.Run("missing file", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/parse", nil))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unsupported format", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, upload(t, "movie.mkv", nil))
		assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)

		var resp ErrorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Contains(t, resp.Error, "unsupported format")
	})

	t.Run("too large", func(t *testing.T) {
		small := newServer(&Server{MaxUpload: 8})
		w := httptest.NewRecorder()
		small.ServeHTTP(w, upload(t, "timetable.csv", []byte("course,time\nAlgorithms,9am\n")))
		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	})
}

func TestSync(t *testing.T) {
	sync := &mockSyncer{dupes: map[string]bool{"b": true}}
	router := newServer(&Server{Syncer: sync})

	body := `{"calendarId":"uni","skipDuplicates":true,"events":[
		{"id":"a","title":"One","time":"09:00 - 10:00","date":"2026-10-19","type":"lecture"},
		{"id":"b","title":"Two","time":"11:00 - 12:00","date":"2026-10-19","type":"lab"}
	]}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/sync", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp SyncResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotNil(t, resp.SyncResult)
	assert.True(t, resp.Success)
	assert.Equal(t, 1, resp.EventsCreated)
	assert.Equal(t, []string{"b"}, resp.Skipped)
	assert.Equal(t, "uni", sync.gotCalendar)
	require.Len(t, sync.gotEvents, 1)
	assert.Equal(t, "a", sync.gotEvents[0].ID)
}

func TestSync_EventsWithoutIDs(t *testing.T) {
	sync := &mockSyncer{dupes: map[string]bool{"event-1": true}}
	router := newServer(&Server{Syncer: sync})

	body := `{"skipDuplicates":true,"events":[
		{"title":"  One ","time":"9am - 10am","date":"2026-10-19"},
		{"title":"Two","time":"11:00 - 12:00","date":"2026-10-19"}
	]}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/sync", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp SyncResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, []string{"event-1"}, resp.Skipped)
	require.Len(t, sync.gotEvents, 1)
	assert.Equal(t, "event-2", sync.gotEvents[0].ID)
	assert.Equal(t, "Two", sync.gotEvents[0].Title)
	assert.Equal(t, "1h", sync.gotEvents[0].Duration)
}

func TestSync_NormalizesEditedEvents(t *testing.T) {
	sync := &mockSyncer{}
	router := newServer(&Server{Syncer: sync})

	body := `{"events":[{"id":"a","title":"  Data   Structures ","time":"2:30 PM","date":"2026-10-19","type":"LAB session"}]}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/sync", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	require.Len(t, sync.gotEvents, 1)
	ev := sync.gotEvents[0]
	assert.Equal(t, "Data Structures", ev.Title)
	assert.Equal(t, "14:30 - 16:00", ev.Time)
	assert.Equal(t, models.TypeLab, ev.Type)
	assert.Equal(t, "TBD", ev.Location)
}

func TestSync_DefaultsToPrimaryCalendar(t *testing.T) {
	sync := &mockSyncer{}
	router := newServer(&Server{Syncer: sync})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/sync", bytes.NewBufferString(`{"events":[{"id":"a","title":"One"}]}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "primary", sync.gotCalendar)
}

func TestSync_Errors(t *testing.T) {
	cases := []struct {
		name   string
		server *Server
		body   string
		status int
	}{
		{"not configured", &Server{}, `{"events":[{"id":"a"}]}`, http.StatusServiceUnavailable},
		{"bad json", &Server{Syncer: &mockSyncer{}}, `{"events":`, http.StatusBadRequest},
		{"no events", &Server{Syncer: &mockSyncer{}}, `{"events":[]}`, http.StatusBadRequest},
		{"auth required", &Server{Syncer: &mockSyncer{err: fmt.Errorf("authentication required before sync: %w", google.ErrAuthRequired)}}, `{"events":[{"id":"a"}]}`, http.StatusUnauthorized},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router := newServer(tc.server)
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/api/sync", bytes.NewBufferString(tc.body))
			req.Header.Set("Content-Type", "application/json")
			router.ServeHTTP(w, req)
			assert.Equal(t, tc.status, w.Code, w.Body.String())
		})
	}
}

func TestListCalendars(t *testing.T) {
	router := newServer(&Server{Calendars: mockCalendars{cals: []models.CalendarInfo{
		{ID: "primary", Summary: "Me", Primary: true, AccessRole: "owner"},
	}}})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/calendars", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Calendars []models.CalendarInfo `json:"calendars"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Calendars, 1)
	assert.True(t, resp.Calendars[0].Primary)
}

func TestListCalendars_Errors(t *testing.T) {
	cases := map[string]struct {
		err    error
		status int
	}{
		"auth":     {google.ErrAuthRequired, http.StatusUnauthorized},
		"upstream": {errors.New("list calendars: HTTP 500: backend error"), http.StatusBadGateway},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			router := newServer(&Server{Calendars: mockCalendars{err: tc.err}})
			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/calendars", nil))
			assert.Equal(t, tc.status, w.Code)
		})
	}

	router := newServer(&Server{})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/calendars", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
