// Package pipeline runs an uploaded file through extraction, structured
// parsing and the optional AI stages, and always ends with a reviewable
// event set or an explicit error.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"ttsync/internal/ai"
	"ttsync/internal/extract"
	"ttsync/internal/logging"
	"ttsync/internal/models"
	"ttsync/internal/timetable"
)

// State is a step of the parse flow.
type State string

const (
	StateLocal      State = "local"
	StateAIEnhance  State = "ai-enhance"
	StateAIFallback State = "ai-fallback"
	StateComplete   State = "complete"
	StateError      State = "error"
)

// Source says where the final events came from.
type Source string

const (
	SourceLocal      Source = "local"
	SourceAIEnhanced Source = "ai-enhanced"
	SourceAI         Source = "ai"
	SourceSample     Source = "sample"
)

// LocalConfidence is reported for structured results that were not enhanced.
const LocalConfidence = 80

// Extractor turns an upload into text and rows.
type Extractor interface {
	Extract(ctx context.Context, f extract.File) (*extract.Content, error)
}

// RowParser turns header-keyed rows into events.
type RowParser interface {
	ParseRows(rows []models.Row) []models.TimetableEvent
}

// AIParser is the model-backed parser. Its methods never fail; problems
// are reported in the result.
type AIParser interface {
	ParseFromText(ctx context.Context, text string) *models.ParseResult
	Enhance(ctx context.Context, events []models.TimetableEvent, rows []models.Row) *models.ParseResult
}

// Update is sent on every state change. Events holds the current best set.
type Update struct {
	State   State                   `json:"state"`
	Events  []models.TimetableEvent `json:"events,omitempty"`
	Message string                  `json:"message,omitempty"`
}

// Outcome is the final result of Process.
type Outcome struct {
	State          State                   `json:"state"`
	Source         Source                  `json:"source,omitempty"`
	Format         extract.Format          `json:"format,omitempty"`
	Events         []models.TimetableEvent `json:"events"`
	Confidence     int                     `json:"confidence"`
	Message        string                  `json:"message,omitempty"`
	Warnings       []string                `json:"warnings,omitempty"`
	Duplicates     []string                `json:"duplicates,omitempty"`
	EnhancedFields []string                `json:"enhancedFields,omitempty"`
}

// Orchestrator wires the stages together. The AI parser is optional.
type Orchestrator struct {
	extractor Extractor
	parser    RowParser
	ai        AIParser
	norm      *timetable.Normalizer
	logger    *slog.Logger
}

// New creates an Orchestrator. Pass a nil aiParser when no provider is configured.
func New(logger *slog.Logger, ex Extractor, rp RowParser, aiParser AIParser, norm *timetable.Normalizer) *Orchestrator {
	if norm == nil {
		norm = timetable.NewNormalizer(nil)
	}
	return &Orchestrator{
		extractor: ex,
		parser:    rp,
		ai:        aiParser,
		norm:      norm,
		logger:    logging.OrDefault(logger),
	}
}

// Process parses f. The error is non-nil only when extraction failed, in
// which case the outcome is in StateError with the message captured.
func (o *Orchestrator) Process(ctx context.Context, f extract.File, onUpdate func(Update)) (*Outcome, error) {
	notify := func(u Update) {
		o.logger.Debug("Parse state changed.", "state", u.State, "events", len(u.Events), "message", u.Message)
		if onUpdate != nil {
			onUpdate(u)
		}
	}

	content, err := o.extract(ctx, f)
	if err != nil {
		o.logger.Error("Failed to extract file", "name", f.Name, "error", err)
		notify(Update{State: StateError, Message: err.Error()})
		return &Outcome{State: StateError, Events: []models.TimetableEvent{}, Message: err.Error()}, err
	}

	events := o.parser.ParseRows(content.Rows)
	notify(Update{State: StateLocal, Events: events, Message: fmt.Sprintf("Parsed %d events from %s", len(events), content.Format)})

	var out *Outcome
	if len(events) > 0 {
		out = o.enhance(ctx, content, events, notify)
	} else {
		out = o.fallback(ctx, content, notify)
	}
	out.State = StateComplete
	out.Format = content.Format

	notify(Update{State: StateComplete, Events: out.Events, Message: out.Message})
	o.logger.Info("Parsed timetable.", "name", f.Name, "source", out.Source, "events", len(out.Events), "confidence", out.Confidence)
	return out, nil
}

func (o *Orchestrator) extract(ctx context.Context, f extract.File) (content *extract.Content, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("unexpected failure reading %q: %v", f.Name, r)
		}
	}()
	return o.extractor.Extract(ctx, f)
}

func (o *Orchestrator) enhance(ctx context.Context, content *extract.Content, events []models.TimetableEvent, notify func(Update)) *Outcome {
	out := &Outcome{
		Source:     SourceLocal,
		Events:     events,
		Confidence: LocalConfidence,
		Message:    fmt.Sprintf("Found %d events", len(events)),
	}
	if o.ai == nil {
		return out
	}

	notify(Update{State: StateAIEnhance, Events: events, Message: "Enhancing events with AI"})
	res := o.ai.Enhance(ctx, events, content.Rows)
	if !res.Success {
		// Enhancement is best effort: keep the structured result.
		out.Confidence = res.Confidence
		out.Warnings = res.Errors
		return out
	}

	out.Source = SourceAIEnhanced
	out.Events = res.Events
	out.Confidence = res.Confidence
	out.Duplicates = res.Duplicates
	out.EnhancedFields = res.EnhancedFields
	out.Message = fmt.Sprintf("Found %d events (AI enhanced)", len(res.Events))
	return out
}

func (o *Orchestrator) fallback(ctx context.Context, content *extract.Content, notify func(Update)) *Outcome {
	var warnings []string

	switch {
	case o.ai == nil:
		warnings = append(warnings, ai.ErrNoProvider.Error())
	case strings.TrimSpace(content.Text) == "":
		warnings = append(warnings, "no readable text in file")
	default:
		notify(Update{State: StateAIFallback, Message: "Parsing with AI"})
		res := o.ai.ParseFromText(ctx, content.Text)
		if res.Success && len(res.Events) > 0 {
			return &Outcome{
				Source:     SourceAI,
				Events:     res.Events,
				Confidence: res.Confidence,
				Message:    fmt.Sprintf("Found %d events (AI)", len(res.Events)),
			}
		}
		warnings = append(warnings, res.Errors...)
	}

	samples := timetable.SampleEvents(o.norm)
	msg := "Could not read any events, showing sample timetable"
	if len(warnings) > 0 {
		msg += ": " + warnings[0]
	}
	notify(Update{State: StateAIFallback, Events: samples, Message: msg})
	return &Outcome{
		Source:   SourceSample,
		Events:   samples,
		Message:  msg,
		Warnings: warnings,
	}
}
