// Package ai turns timetable content into events with a hosted language
// model, and cleans up events the structured parser already produced.
// Every model reply is treated as untrusted and revalidated.
package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"ttsync/internal/logging"
	"ttsync/internal/models"
	"ttsync/internal/timetable"
)

const (
	// EnhanceFallbackConfidence is reported when enhancement fails and the
	// input events are handed back untouched.
	EnhanceFallbackConfidence = 70

	defaultParseConfidence   = 75
	defaultEnhanceConfidence = 90
	untitledEvent            = "Untitled Event"
)

// Parser runs the parse and enhance operations against a Provider.
type Parser struct {
	provider Provider
	norm     *timetable.Normalizer
	logger   *slog.Logger
}

// NewParser creates a Parser. provider may be nil, in which case every
// call reports ErrNoProvider through its result.
func NewParser(logger *slog.Logger, provider Provider, norm *timetable.Normalizer) *Parser {
	if norm == nil {
		norm = timetable.NewNormalizer(nil)
	}
	return &Parser{provider: provider, norm: norm, logger: logging.OrDefault(logger)}
}

type parsePayload struct {
	Events     []map[string]any `json:"events"`
	Confidence any              `json:"confidence"`
}

type enhancePayload struct {
	EnhancedEvents []map[string]any  `json:"enhancedEvents"`
	Duplicates     []json.RawMessage `json:"duplicates"`
	EnhancedFields []json.RawMessage `json:"enhancedFields"`
	Confidence     any               `json:"confidence"`
}

// ParseFromText asks the model for events found in free text. It never
// returns an error: failures come back as an unsuccessful result.
func (p *Parser) ParseFromText(ctx context.Context, text string) *models.ParseResult {
	if p.provider == nil {
		return failed(ErrNoProvider.Error())
	}

	reply, err := p.provider.Generate(ctx, parsePrompt(text, p.norm.Now()))
	if err != nil {
		p.logger.Warn("AI parse failed", "provider", p.provider.Name(), "error", err)
		return failed(fmt.Sprintf("AI parse failed: %v", err))
	}

	var payload parsePayload
	if err := json.Unmarshal([]byte(extractJSON(reply)), &payload); err != nil {
		p.logger.Warn("AI parse returned invalid JSON", "provider", p.provider.Name(), "error", err)
		return failed(fmt.Sprintf("invalid JSON from %s: %v", p.provider.Name(), err))
	}

	events := p.validate(payload.Events)
	if len(events) == 0 {
		return failed("no events found in text")
	}

	p.logger.Debug("AI parse complete", "provider", p.provider.Name(), "events", len(events))
	return &models.ParseResult{
		Success:    true,
		Events:     events,
		Confidence: confidence(payload.Confidence, defaultParseConfidence),
	}
}

// Enhance asks the model to correct events produced by the structured
// parser. On any failure the input events are returned as they are with
// EnhanceFallbackConfidence.
func (p *Parser) Enhance(ctx context.Context, events []models.TimetableEvent, rows []models.Row) *models.ParseResult {
	fallback := func(reason string) *models.ParseResult {
		return &models.ParseResult{
			Success:    false,
			Events:     events,
			Confidence: EnhanceFallbackConfidence,
			Errors:     []string{reason},
		}
	}

	if p.provider == nil {
		return fallback(ErrNoProvider.Error())
	}

	reply, err := p.provider.Generate(ctx, enhancePrompt(events, rows, p.norm.Now()))
	if err != nil {
		p.logger.Warn("AI enhance failed", "provider", p.provider.Name(), "error", err)
		return fallback(fmt.Sprintf("AI enhance failed: %v", err))
	}

	var payload enhancePayload
	if err := json.Unmarshal([]byte(extractJSON(reply)), &payload); err != nil {
		p.logger.Warn("AI enhance returned invalid JSON", "provider", p.provider.Name(), "error", err)
		return fallback(fmt.Sprintf("invalid JSON from %s: %v", p.provider.Name(), err))
	}

	enhanced := p.validate(payload.EnhancedEvents)
	if len(enhanced) == 0 {
		return fallback("AI enhance returned no events")
	}

	return &models.ParseResult{
		Success:        true,
		Events:         enhanced,
		Confidence:     confidence(payload.Confidence, defaultEnhanceConfidence),
		Duplicates:     rawStrings(payload.Duplicates),
		EnhancedFields: rawStrings(payload.EnhancedFields),
	}
}

func failed(reason string) *models.ParseResult {
	return &models.ParseResult{
		Success: false,
		Events:  []models.TimetableEvent{},
		Errors:  []string{reason},
	}
}

// validate applies the same field rules as the structured parser to
// loosely typed model output. Missing or repeated ids are replaced.
func (p *Parser) validate(raw []map[string]any) []models.TimetableEvent {
	events := make([]models.TimetableEvent, 0, len(raw))
	seen := make(map[string]bool, len(raw))

	for _, m := range raw {
		if m == nil {
			continue
		}
		ev := models.TimetableEvent{
			ID:         str(m["id"]),
			Title:      timetable.NormalizeTitle(str(m["title"])),
			Time:       timetable.NormalizeTime(str(m["time"])),
			Date:       p.norm.Date(str(m["date"])),
			Location:   str(m["location"]),
			Type:       timetable.NormalizeType(str(m["type"])),
			Instructor: str(m["instructor"]),
			CourseCode: str(m["courseCode"]),
			Room:       str(m["room"]),
			Building:   str(m["building"]),
		}
		if ev.Title == "" {
			ev.Title = untitledEvent
		}
		if ev.Location == "" {
			ev.Location = timetable.DefaultLocation
		}
		if ev.Room == "" && ev.Building == "" {
			ev.Room, ev.Building = timetable.SplitLocation(ev.Location)
		}
		ev.Duration = duration(ev.Time, str(m["duration"]))

		if ev.ID == "" || seen[ev.ID] {
			ev.ID = "ai-" + uuid.NewString()
		}
		seen[ev.ID] = true

		events = append(events, ev)
	}
	return events
}

// duration prefers the length of the normalized range and only trusts the
// model's own value when the range is unusable.
func duration(timeRange, provided string) string {
	if start, end, ok := timetable.SplitRange(timeRange); ok && end.After(start) {
		return timetable.FormatDuration(end.Sub(start))
	}
	if d, ok := timetable.ParseHumanDuration(provided); ok {
		return timetable.FormatDuration(d)
	}
	return timetable.Duration(timeRange)
}

// extractJSON strips markdown fences and any prose around the outermost object.
func extractJSON(reply string) string {
	s := strings.TrimSpace(reply)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```JSON")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
		s = strings.TrimSpace(s)
	}
	if !strings.HasPrefix(s, "{") {
		start, end := strings.Index(s, "{"), strings.LastIndex(s, "}")
		if start >= 0 && end > start {
			s = s[start : end+1]
		}
	}
	return s
}

func confidence(v any, def int) int {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(x), "%"), 64)
		if err != nil {
			return def
		}
		f = parsed
	default:
		return def
	}
	if f > 0 && f < 1 {
		f *= 100
	}
	return int(math.Round(math.Max(0, math.Min(100, f))))
}

func str(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return strings.TrimSpace(fmt.Sprint(x))
	}
}

func rawStrings(raw []json.RawMessage) []string {
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		var s string
		if json.Unmarshal(r, &s) == nil {
			if s != "" {
				out = append(out, s)
			}
			continue
		}
		out = append(out, string(r))
	}
	return out
}
