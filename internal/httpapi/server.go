// Package httpapi exposes parsing and syncing over a small JSON API.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"ttsync/internal/extract"
	"ttsync/internal/logging"
	"ttsync/internal/models"
	"ttsync/internal/pipeline"
	"ttsync/internal/syncer"
	"ttsync/internal/timetable"
)

// DefaultMaxUpload limits uploaded timetable files.
const DefaultMaxUpload = 10 << 20

// Parser turns an uploaded file into reviewable events.
type Parser interface {
	Process(ctx context.Context, f extract.File, onUpdate func(pipeline.Update)) (*pipeline.Outcome, error)
}

// Syncer writes events to a calendar and reports which already exist.
type Syncer interface {
	Sync(ctx context.Context, calendarID string, events []models.TimetableEvent, onProgress syncer.ProgressFunc) (*models.SyncResult, error)
	CheckExistingEvents(ctx context.Context, calendarID string, events []models.TimetableEvent) map[string]bool
}

// CalendarLister lists the calendars of the configured target.
type CalendarLister interface {
	ListCalendars(ctx context.Context) ([]models.CalendarInfo, error)
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Server holds the dependencies of the handlers. Syncer and Calendars may
// be nil when no calendar target is configured.
type Server struct {
	Parser    Parser
	Syncer    Syncer
	Calendars CalendarLister
	// Normalizer re-applies field rules to events edited by the client.
	Normalizer *timetable.Normalizer
	Logger     *slog.Logger
	MaxUpload  int64
	Version    string
}

// Router builds the gin engine.
func (s *Server) Router() *gin.Engine {
	s.Logger = logging.OrDefault(s.Logger)
	if s.Normalizer == nil {
		s.Normalizer = timetable.NewNormalizer(nil)
	}
	if s.MaxUpload <= 0 {
		s.MaxUpload = DefaultMaxUpload
	}

	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())
	r.MaxMultipartMemory = s.MaxUpload

	r.GET("/health", s.Health)
	api := r.Group("/api")
	api.POST("/parse", s.Parse)
	api.POST("/sync", s.Sync)
	api.GET("/calendars", s.ListCalendars)
	return r
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.Logger.Info("Handled request.",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status   string `json:"status"`
	Time     string `json:"time"`
	Version  string `json:"version,omitempty"`
	Calendar string `json:"calendar"`
}

// Health reports liveness and whether a calendar target is configured.
// GET /health
func (s *Server) Health(c *gin.Context) {
	calendar := "configured"
	if s.Syncer == nil {
		calendar = "not configured"
	}
	c.JSON(http.StatusOK, HealthResponse{
		Status:   "healthy",
		Time:     time.Now().Format(time.RFC3339),
		Version:  s.Version,
		Calendar: calendar,
	})
}

func respondError(c *gin.Context, status int, message string) {
	c.JSON(status, ErrorResponse{Error: message})
}
