package httpapi

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"ttsync/internal/extract"
	"ttsync/internal/google"
	"ttsync/internal/models"
	"ttsync/internal/syncer"
)

// Parse runs an uploaded file through the parse pipeline.
// POST /api/parse (multipart field "file")
func (s *Server) Parse(c *gin.Context) {
	header, err := c.FormFile("file")
	if err != nil {
		respondError(c, http.StatusBadRequest, "missing file upload")
		return
	}
	if header.Size > s.MaxUpload {
		respondError(c, http.StatusRequestEntityTooLarge, fmt.Sprintf("file exceeds %d bytes", s.MaxUpload))
		return
	}

	f, err := header.Open()
	if err != nil {
		respondError(c, http.StatusBadRequest, "could not read upload")
		return
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, s.MaxUpload+1))
	if err != nil {
		respondError(c, http.StatusBadRequest, "could not read upload")
		return
	}

	out, err := s.Parser.Process(c.Request.Context(), extract.File{
		Name:     header.Filename,
		MIMEType: header.Header.Get("Content-Type"),
		Data:     data,
	}, nil)
	switch {
	case errors.Is(err, extract.ErrUnsupportedFormat):
		respondError(c, http.StatusUnsupportedMediaType, err.Error())
	case err != nil:
		c.JSON(http.StatusUnprocessableEntity, out)
	default:
		c.JSON(http.StatusOK, out)
	}
}

// SyncRequest is the body of POST /api/sync.
type SyncRequest struct {
	CalendarID     string                  `json:"calendarId"`
	Events         []models.TimetableEvent `json:"events"`
	SkipDuplicates bool                    `json:"skipDuplicates"`
}

// SyncResponse is the sync result plus the IDs skipped as duplicates.
type SyncResponse struct {
	*models.SyncResult
	Skipped []string `json:"skipped,omitempty"`
}

// Sync writes reviewed events to a calendar.
// POST /api/sync
func (s *Server) Sync(c *gin.Context) {
	if s.Syncer == nil {
		respondError(c, http.StatusServiceUnavailable, "no calendar configured")
		return
	}

	var req SyncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Events) == 0 {
		respondError(c, http.StatusBadRequest, "no events to sync")
		return
	}
	if strings.TrimSpace(req.CalendarID) == "" {
		req.CalendarID = "primary"
	}

	ctx := c.Request.Context()
	events := make([]models.TimetableEvent, len(req.Events))
	for i, ev := range req.Events {
		events[i] = s.Normalizer.Event(ev)
	}
	events = syncer.UniqueIDs(events)
	var skipped []string
	if req.SkipDuplicates {
		dupes := s.Syncer.CheckExistingEvents(ctx, req.CalendarID, events)
		for _, ev := range events {
			if dupes[ev.ID] {
				skipped = append(skipped, ev.ID)
			}
		}
		events = syncer.WithoutDuplicates(events, dupes)
	}

	result, err := s.Syncer.Sync(ctx, req.CalendarID, events, nil)
	if err != nil {
		s.respondCalendarError(c, err)
		return
	}
	c.JSON(http.StatusOK, SyncResponse{SyncResult: result, Skipped: skipped})
}

// ListCalendars returns the calendars events can be synced to.
// GET /api/calendars
func (s *Server) ListCalendars(c *gin.Context) {
	if s.Calendars == nil {
		respondError(c, http.StatusServiceUnavailable, "no calendar configured")
		return
	}
	cals, err := s.Calendars.ListCalendars(c.Request.Context())
	if err != nil {
		s.respondCalendarError(c, err)
		return
	}
	if cals == nil {
		cals = []models.CalendarInfo{}
	}
	c.JSON(http.StatusOK, gin.H{"calendars": cals})
}

func (s *Server) respondCalendarError(c *gin.Context, err error) {
	if errors.Is(err, google.ErrAuthRequired) {
		respondError(c, http.StatusUnauthorized, err.Error())
		return
	}
	s.Logger.Error("Calendar request failed", "path", c.FullPath(), "error", err)
	respondError(c, http.StatusBadGateway, err.Error())
}
