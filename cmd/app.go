package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"ttsync/internal/ai"
	"ttsync/internal/config"
	"ttsync/internal/extract"
	"ttsync/internal/google"
	"ttsync/internal/icloud"
	"ttsync/internal/logging"
	"ttsync/internal/mapper"
	"ttsync/internal/models"
	"ttsync/internal/pipeline"
	"ttsync/internal/syncer"
	"ttsync/internal/timetable"
)

// calendarTarget is what every command needs from a calendar backend.
type calendarTarget interface {
	syncer.EventCreator
	ListCalendars(ctx context.Context) ([]models.CalendarInfo, error)
}

// app carries the state shared by the commands.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	loc    *time.Location
	norm   *timetable.Normalizer
}

func newApp(c *cli.Context) (*app, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	if c.IsSet("log-level") {
		cfg.Log.Level = c.String("log-level")
	}
	if c.IsSet("log-format") {
		cfg.Log.Format = c.String("log-format")
	}

	logger := setupLogger(cfg.Log)
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	return &app{cfg: cfg, logger: logger, loc: loc, norm: timetable.NewNormalizer(zonedClock(time.Now, loc))}, nil
}

// zonedClock reads now in loc, so weekday rules follow the configured zone
// rather than the host's.
func zonedClock(now func() time.Time, loc *time.Location) func() time.Time {
	return func() time.Time { return now().In(loc) }
}

// setupLogger configures the process-wide logger.
func setupLogger(cfg config.Log) *slog.Logger {
	logger := logging.New(os.Stderr, cfg.Level, cfg.Format)
	slog.SetDefault(logger)
	return logger
}

func (a *app) tokenProvider() (*google.TokenProvider, error) {
	oc, err := google.OAuthConfig(a.cfg.Google.ClientID, a.cfg.Google.ClientSecret, a.cfg.Google.RedirectURL)
	if err != nil {
		return nil, err
	}
	return google.NewTokenProvider(a.logger, oc, google.FileTokenStore{Path: a.cfg.Google.TokenFile}), nil
}

func (a *app) googleClient(ctx context.Context) (*google.CalendarClient, error) {
	tokens, err := a.tokenProvider()
	if err != nil {
		return nil, err
	}
	return google.NewClient(ctx, a.logger, tokens)
}

func (a *app) target(ctx context.Context, name string) (calendarTarget, error) {
	switch strings.ToLower(name) {
	case "", "google":
		client, err := a.googleClient(ctx)
		if err != nil {
			return nil, err
		}
		return client, nil
	case "icloud", "caldav":
		if a.cfg.ICloud.Username == "" || a.cfg.ICloud.Password == "" {
			return nil, errors.New("ICLOUD_USERNAME and ICLOUD_APP_SPECIFIC_PASSWORD must be set")
		}
		client, err := icloud.NewClient(a.logger, a.cfg.ICloud.Endpoint, a.cfg.ICloud.Username, a.cfg.ICloud.Password)
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unknown target '%s'", name)
	}
}

// resolveCalendar turns the --calendar and --create-calendar flags into the
// identifier the target expects.
func (a *app) resolveCalendar(ctx context.Context, t calendarTarget, calendar, create string, dryRun bool) (string, error) {
	if create != "" {
		creator, ok := t.(interface {
			CreateCalendar(ctx context.Context, summary, timeZone string) (string, error)
		})
		if !ok {
			return "", errors.New("--create-calendar is only supported for the google target")
		}
		if dryRun {
			a.logger.Info("[Dry Run] Would create calendar.", "name", create)
			return create, nil
		}
		id, err := creator.CreateCalendar(ctx, create, a.cfg.TimeZone)
		if err != nil {
			return "", fmt.Errorf("failed to create calendar: %w", err)
		}
		a.logger.Info("Created calendar.", "name", create, "id", id)
		return id, nil
	}

	dav, ok := t.(*icloud.CalDAVClient)
	if !ok {
		return calendar, nil
	}
	name := calendar
	if name == "primary" && a.cfg.ICloud.CalendarName != "" {
		name = a.cfg.ICloud.CalendarName
	}
	return dav.FindCalendar(ctx, name)
}

func (a *app) orchestrator() *pipeline.Orchestrator {
	ex := extract.New(a.logger, extract.WithLocation(a.loc))
	rp := timetable.NewParser(a.logger, a.norm)

	var aiParser pipeline.AIParser
	if a.cfg.AIConfigured() {
		provider, err := ai.NewProvider(a.cfg.AI, nil)
		if err != nil {
			a.logger.Warn("AI provider unavailable", "error", err)
		} else {
			a.logger.Debug("Using AI provider.", "provider", provider.Name())
			aiParser = ai.NewParser(a.logger, provider, a.norm)
		}
	}
	return pipeline.New(a.logger, ex, rp, aiParser, a.norm)
}

func (a *app) parseFile(ctx context.Context, path string) (*pipeline.Outcome, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read %s: %w", path, err)
	}
	f := extract.File{Name: filepath.Base(path), Data: data}

	out, err := a.orchestrator().Process(ctx, f, func(u pipeline.Update) {
		a.logger.Info("Parsing.", "state", u.State, "events", len(u.Events))
	})
	if err != nil {
		return nil, err
	}
	for _, w := range out.Warnings {
		a.logger.Warn(w)
	}
	return out, nil
}

// loadEvents reads FILE. A .json file holds events already reviewed
// (the output of parse, or a bare array). Anything else is parsed.
func (a *app) loadEvents(ctx context.Context, path string) ([]models.TimetableEvent, error) {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return a.loadReviewed(path)
	}

	out, err := a.parseFile(ctx, path)
	if err != nil {
		return nil, err
	}
	if out.Source == pipeline.SourceSample {
		return nil, fmt.Errorf("no events could be parsed from %s: %s", path, out.Message)
	}
	if len(out.Events) == 0 {
		return nil, fmt.Errorf("no events found in %s", path)
	}
	return out.Events, nil
}

func (a *app) loadReviewed(path string) ([]models.TimetableEvent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read %s: %w", path, err)
	}

	var events []models.TimetableEvent
	if err := json.Unmarshal(data, &events); err != nil {
		var wrapped struct {
			Events []models.TimetableEvent `json:"events"`
		}
		if err2 := json.Unmarshal(data, &wrapped); err2 != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		events = wrapped.Events
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("no events found in %s", path)
	}

	// Edited fields go through the same normalization as parsed ones.
	for i := range events {
		events[i] = a.norm.Event(events[i])
	}
	return syncer.UniqueIDs(events), nil
}

func (a *app) mapper(repeatWeeks int) *mapper.Mapper {
	if repeatWeeks <= 0 {
		repeatWeeks = a.cfg.Sync.RepeatWeeks
	}
	return mapper.New(a.loc, mapper.WithRepeatWeeks(repeatWeeks))
}

func (a *app) syncer(t calendarTarget, repeatWeeks int, dryRun bool) *syncer.Syncer {
	return syncer.NewSyncer(a.logger, t, a.mapper(repeatWeeks), syncer.Options{
		BatchSize:    a.cfg.Sync.BatchSize,
		RequestDelay: time.Duration(a.cfg.Sync.RequestDelay),
		BatchDelay:   time.Duration(a.cfg.Sync.BatchDelay),
		DryRun:       dryRun,
	})
}

func (a *app) recordState(path, calendarID string, created map[string]string) error {
	st, err := syncer.LoadState(path)
	if err != nil {
		return err
	}
	st.Record(calendarID, created)
	if err := st.Save(path); err != nil {
		return err
	}
	a.logger.Info("Sync state saved.", "file", path, "events", len(st.Events))
	return nil
}
