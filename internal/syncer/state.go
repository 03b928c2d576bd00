package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// DefaultStateFile records what the last sync created so it can be undone.
const DefaultStateFile = "sync-state.json"

// State keeps track of which events have been synced to which calendar.
// Events maps timetable event IDs to the IDs assigned by the calendar.
type State struct {
	CalendarID string            `json:"calendarId"`
	Events     map[string]string `json:"events"`
}

// LoadState reads a state file. A missing file gives an empty state.
func LoadState(path string) (*State, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return &State{Events: map[string]string{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read sync state: %w", err)
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("failed to parse sync state %s: %w", path, err)
	}
	if st.Events == nil {
		st.Events = map[string]string{}
	}
	return &st, nil
}

// Save writes the state file.
func (st *State) Save(path string) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal sync state: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o644)
}

// Record merges the events created by a sync run into the state. A run
// against a different calendar starts the state over.
func (st *State) Record(calendarID string, created map[string]string) {
	if st.CalendarID != calendarID || st.Events == nil {
		st.CalendarID = calendarID
		st.Events = map[string]string{}
	}
	for local, remote := range created {
		st.Events[local] = remote
	}
}

// Undo deletes every event recorded in st and forgets the ones that were
// removed. It returns how many were deleted and the failures.
func (s *Syncer) Undo(ctx context.Context, st *State) (int, []error) {
	ids := make([]string, 0, len(st.Events))
	for local := range st.Events {
		ids = append(ids, local)
	}
	sort.Strings(ids)

	var (
		deleted int
		errs    []error
	)
	for _, local := range ids {
		if err := s.DeleteEvent(ctx, st.CalendarID, st.Events[local]); err != nil {
			s.logger.Error("Failed to delete synced event", "id", local, "error", err)
			errs = append(errs, err)
			continue
		}
		if !s.opts.DryRun {
			delete(st.Events, local)
		}
		deleted++
	}
	s.logger.Info("Undo finished.", "deleted", deleted, "failed", len(errs))
	return deleted, errs
}
