// Package syncer writes mapped timetable events to a calendar in paced,
// concurrent batches, isolating failures per event.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"ttsync/internal/logging"
	"ttsync/internal/mapper"
	"ttsync/internal/models"
)

// EventCreator is the minimum a sync target must support.
type EventCreator interface {
	CreateEvent(ctx context.Context, calendarID string, p models.CalendarEventPayload) (string, error)
}

// EventLister is implemented by targets that can be checked for duplicates.
type EventLister interface {
	ListEvents(ctx context.Context, calendarID string, from, to time.Time) ([]models.ExistingEvent, error)
}

// EventDeleter is implemented by targets that support deletion.
type EventDeleter interface {
	DeleteEvent(ctx context.Context, calendarID, eventID string) error
}

// Authenticator is implemented by targets that need a valid credential
// before anything is sent. A failure aborts the whole run.
type Authenticator interface {
	Authenticate(ctx context.Context) error
}

// ErrDeleteUnsupported is returned by DeleteEvent when the target cannot delete.
var ErrDeleteUnsupported = errors.New("target does not support deleting events")

// Options controls batch pacing.
type Options struct {
	BatchSize    int
	RequestDelay time.Duration // stagger between calls inside a batch
	BatchDelay   time.Duration // pause between batches
	DryRun       bool
}

// DefaultOptions returns batches of 5, 200ms apart inside a batch and 1s between batches.
func DefaultOptions() Options {
	return Options{BatchSize: 5, RequestDelay: 200 * time.Millisecond, BatchDelay: time.Second}
}

// ProgressFunc receives progress updates. Calls are serialized.
type ProgressFunc func(models.Progress)

// Syncer orchestrates writing timetable events to one calendar target.
type Syncer struct {
	logger *slog.Logger
	target EventCreator
	mapper *mapper.Mapper
	opts   Options
}

// NewSyncer creates a new Syncer. A nil mapper maps in UTC with default reminders.
func NewSyncer(logger *slog.Logger, target EventCreator, m *mapper.Mapper, opts Options) *Syncer {
	if m == nil {
		m = mapper.New(nil)
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultOptions().BatchSize
	}
	return &Syncer{
		logger: logging.OrDefault(logger),
		target: target,
		mapper: m,
		opts:   opts,
	}
}

type job struct {
	index   int
	event   models.TimetableEvent
	payload models.CalendarEventPayload
	mapErr  error
}

type outcome struct {
	remoteID string
	err      error
}

// Sync writes events to calendarID. The returned error is non-nil only when
// the target refuses authentication; per-event failures are reported in the
// result.
func (s *Syncer) Sync(ctx context.Context, calendarID string, events []models.TimetableEvent, onProgress ProgressFunc) (*models.SyncResult, error) {
	if auth, ok := s.target.(Authenticator); ok && !s.opts.DryRun {
		if err := auth.Authenticate(ctx); err != nil {
			return nil, fmt.Errorf("authentication required before sync: %w", err)
		}
	}

	events = UniqueIDs(events)
	s.logger.Info("Starting sync.", "calendar", calendarID, "events", len(events), "dryRun", s.opts.DryRun)

	jobs := make([]job, len(events))
	for i, ev := range events {
		p, err := s.mapper.ToPayload(ev)
		jobs[i] = job{index: i, event: ev, payload: p, mapErr: err}
	}

	var progressMu sync.Mutex
	report := func(p models.Progress) {
		if onProgress == nil {
			return
		}
		progressMu.Lock()
		defer progressMu.Unlock()
		onProgress(p)
	}

	outcomes := make([]outcome, len(jobs))
	batches := (len(jobs) + s.opts.BatchSize - 1) / s.opts.BatchSize

	for b := 0; b < batches; b++ {
		lo := b * s.opts.BatchSize
		hi := min(lo+s.opts.BatchSize, len(jobs))

		var wg sync.WaitGroup
		for k, j := range jobs[lo:hi] {
			wg.Add(1)
			go func(k int, j job) {
				defer wg.Done()
				if k > 0 {
					sleep(ctx, time.Duration(k)*s.opts.RequestDelay)
				}
				report(models.Progress{Completed: j.index, Total: len(jobs), CurrentEvent: j.event.Title})
				outcomes[j.index] = s.send(ctx, calendarID, j)
			}(k, j)
		}
		wg.Wait()

		s.logger.Debug("Finished batch.", "batch", b+1, "of", batches)
		if b < batches-1 {
			sleep(ctx, s.opts.BatchDelay)
		}
	}

	result := &models.SyncResult{
		CalendarID: calendarID,
		Errors:     []models.SyncError{},
		Created:    make(map[string]string),
	}
	for i, o := range outcomes {
		if o.err != nil {
			result.EventsFailed++
			result.Errors = append(result.Errors, models.SyncError{EventID: jobs[i].event.ID, Error: o.err.Error()})
			continue
		}
		result.EventsCreated++
		if o.remoteID != "" {
			result.Created[jobs[i].event.ID] = o.remoteID
		}
	}
	result.Success = result.EventsFailed == 0

	report(models.Progress{Completed: len(jobs), Total: len(jobs), Done: true})
	s.logger.Info("Sync finished.", "created", result.EventsCreated, "failed", result.EventsFailed)
	return result, nil
}

func (s *Syncer) send(ctx context.Context, calendarID string, j job) outcome {
	if j.mapErr != nil {
		s.logger.Error("Failed to map event", "title", j.event.Title, "id", j.event.ID, "error", j.mapErr)
		return outcome{err: j.mapErr}
	}

	if s.opts.DryRun {
		s.logger.Info("[DRY RUN] Would create event", "title", j.payload.Summary, "start", j.payload.Start)
		return outcome{}
	}

	id, err := s.target.CreateEvent(ctx, calendarID, j.payload)
	if err != nil {
		s.logger.Error("Failed to create event", "title", j.event.Title, "id", j.event.ID, "error", err)
		return outcome{err: err}
	}
	s.logger.Debug("Created event.", "title", j.event.Title, "remoteID", id)
	return outcome{remoteID: id}
}

// CheckExistingEvents returns the IDs of events whose title and start time
// exactly match an event already in the calendar. Any failure is logged and
// treated as no duplicates.
func (s *Syncer) CheckExistingEvents(ctx context.Context, calendarID string, events []models.TimetableEvent) map[string]bool {
	dupes := make(map[string]bool)
	events = UniqueIDs(events)

	lister, ok := s.target.(EventLister)
	if !ok {
		s.logger.Debug("Target cannot list events, skipping duplicate check.")
		return dupes
	}

	type key struct {
		title string
		start int64
	}
	wanted := make(map[key][]string)
	var from, to time.Time
	for _, ev := range events {
		start, end, err := s.mapper.Times(ev)
		if err != nil {
			continue
		}
		if from.IsZero() || start.Before(from) {
			from = start
		}
		if end.After(to) {
			to = end
		}
		k := key{ev.Title, start.Unix()}
		wanted[k] = append(wanted[k], ev.ID)
	}
	if len(wanted) == 0 {
		return dupes
	}

	existing, err := lister.ListEvents(ctx, calendarID, from, to)
	if err != nil {
		s.logger.Warn("Could not check for existing events, assuming none", "calendar", calendarID, "error", err)
		return dupes
	}

	for _, e := range existing {
		for _, id := range wanted[key{e.Title, e.Start.Unix()}] {
			dupes[id] = true
		}
	}
	if len(dupes) > 0 {
		s.logger.Info("Found events already in calendar.", "count", len(dupes))
	}
	return dupes
}

// WithoutDuplicates drops events whose ID is in dupes. IDs are assigned with
// UniqueIDs first, so dupes from CheckExistingEvents on the same slice line up.
func WithoutDuplicates(events []models.TimetableEvent, dupes map[string]bool) []models.TimetableEvent {
	out := make([]models.TimetableEvent, 0, len(events))
	for _, ev := range UniqueIDs(events) {
		if !dupes[ev.ID] {
			out = append(out, ev)
		}
	}
	return out
}

// DeleteEvent removes an event from the calendar. Deleting an event that
// no longer exists succeeds.
func (s *Syncer) DeleteEvent(ctx context.Context, calendarID, eventID string) error {
	deleter, ok := s.target.(EventDeleter)
	if !ok {
		return ErrDeleteUnsupported
	}
	if s.opts.DryRun {
		s.logger.Info("[DRY RUN] Would delete event", "id", eventID)
		return nil
	}
	if err := deleter.DeleteEvent(ctx, calendarID, eventID); err != nil {
		return fmt.Errorf("failed to delete event %s: %w", eventID, err)
	}
	return nil
}

// UniqueIDs returns a copy of events in which every ID is set and distinct.
// Empty and repeated IDs are replaced by one derived from the event's
// position, so the same input always gets the same IDs.
func UniqueIDs(events []models.TimetableEvent) []models.TimetableEvent {
	taken := make(map[string]bool, len(events))
	for _, ev := range events {
		if ev.ID != "" {
			taken[ev.ID] = true
		}
	}

	out := make([]models.TimetableEvent, len(events))
	seen := make(map[string]bool, len(events))
	for i, ev := range events {
		if ev.ID == "" || seen[ev.ID] {
			base := ev.ID
			if base == "" {
				base = "event"
			}
			id := fmt.Sprintf("%s-%d", base, i+1)
			for n := 2; taken[id]; n++ {
				id = fmt.Sprintf("%s-%d-%d", base, i+1, n)
			}
			ev.ID = id
			taken[id] = true
		}
		seen[ev.ID] = true
		out[i] = ev
	}
	return out
}

func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
