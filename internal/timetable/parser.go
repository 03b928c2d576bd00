package timetable

import (
	"fmt"
	"log/slog"
	"strings"

	"ttsync/internal/logging"
	"ttsync/internal/models"
)

// Field is a semantic column of a timetable.
type Field string

const (
	FieldTitle      Field = "title"
	FieldTime       Field = "time"
	FieldStart      Field = "start"
	FieldEnd        Field = "end"
	FieldDate       Field = "date"
	FieldLocation   Field = "location"
	FieldType       Field = "type"
	FieldInstructor Field = "instructor"
	FieldCourseCode Field = "courseCode"
	FieldDuration   Field = "duration"
	FieldRoom       Field = "room"
	FieldBuilding   Field = "building"
)

// Aliases lists, in priority order, the header names accepted for each field.
var Aliases = map[Field][]string{
	FieldTitle:      {"title", "course", "subject", "event", "name", "course name", "event name", "class", "module"},
	FieldTime:       {"time", "time slot", "class time", "hours", "period"},
	FieldStart:      {"start time", "start", "from", "begins"},
	FieldEnd:        {"end time", "end", "until", "finish"},
	FieldDate:       {"date", "day", "weekday", "day of week"},
	FieldLocation:   {"location", "venue", "room", "place", "where", "classroom"},
	FieldType:       {"type", "event type", "class type", "kind", "category", "format"},
	FieldInstructor: {"instructor", "teacher", "lecturer", "professor", "tutor", "staff", "taught by"},
	FieldCourseCode: {"course code", "code", "module code", "subject code", "course id"},
	FieldDuration:   {"duration", "length"},
	FieldRoom:       {"room number", "room no"},
	FieldBuilding:   {"building", "building name"},
}

// Resolve returns the first non-empty value among the aliases of f. Each
// alias also matches its variants with spaces removed or replaced by underscores.
func Resolve(row models.Row, f Field) string {
	for _, alias := range Aliases[f] {
		for _, key := range aliasVariants(alias) {
			if v := strings.TrimSpace(row[key]); v != "" {
				return v
			}
		}
	}
	return ""
}

func aliasVariants(alias string) []string {
	if !strings.Contains(alias, " ") {
		return []string{alias}
	}
	return []string{
		alias,
		strings.ReplaceAll(alias, " ", ""),
		strings.ReplaceAll(alias, " ", "_"),
	}
}

// Parser turns header-keyed rows into timetable events.
type Parser struct {
	norm   *Normalizer
	logger *slog.Logger
}

// NewParser creates a new Parser.
func NewParser(logger *slog.Logger, norm *Normalizer) *Parser {
	if norm == nil {
		norm = NewNormalizer(nil)
	}
	return &Parser{norm: norm, logger: logging.OrDefault(logger)}
}

// ParseRows converts rows to events. Rows without a title are dropped.
// Event ids are unique within one call.
func (p *Parser) ParseRows(rows []models.Row) []models.TimetableEvent {
	session := p.norm.Now().UnixMilli()
	events := make([]models.TimetableEvent, 0, len(rows))
	dropped := 0

	for i, raw := range rows {
		ev, ok := p.parseRow(lowerKeys(raw))
		if !ok {
			dropped++
			continue
		}
		ev.ID = fmt.Sprintf("event-%d-%d", session, i)
		events = append(events, ev)
	}

	p.logger.Debug("Parsed timetable rows.", "rows", len(rows), "events", len(events), "dropped", dropped)
	return events
}

func (p *Parser) parseRow(row models.Row) (models.TimetableEvent, bool) {
	title := NormalizeTitle(Resolve(row, FieldTitle))
	if title == "" {
		return models.TimetableEvent{}, false
	}

	rawTime := Resolve(row, FieldTime)
	if rawTime == "" {
		start, end := Resolve(row, FieldStart), Resolve(row, FieldEnd)
		switch {
		case start != "" && end != "":
			rawTime = start + rangeSep + end
		case start != "":
			rawTime = start
		}
	}

	length := DefaultDuration
	if d := Resolve(row, FieldDuration); d != "" {
		if parsed, ok := parseHumanDuration(d); ok {
			length = parsed
		}
	}
	timeRange := normalizeTimeWithLength(rawTime, length)

	location := Resolve(row, FieldLocation)
	if location == "" {
		location = DefaultLocation
	}
	room, building := SplitLocation(location)
	if v := Resolve(row, FieldRoom); v != "" {
		room = v
	}
	if v := Resolve(row, FieldBuilding); v != "" {
		building = v
	}

	return models.TimetableEvent{
		Title:      title,
		Time:       timeRange,
		Date:       p.norm.Date(Resolve(row, FieldDate)),
		Location:   location,
		Type:       NormalizeType(Resolve(row, FieldType)),
		Duration:   Duration(timeRange),
		Instructor: NormalizeTitle(Resolve(row, FieldInstructor)),
		CourseCode: strings.TrimSpace(Resolve(row, FieldCourseCode)),
		Room:       room,
		Building:   building,
	}, true
}

func lowerKeys(row models.Row) models.Row {
	out := make(models.Row, len(row))
	for k, v := range row {
		out[strings.ToLower(strings.TrimSpace(k))] = v
	}
	return out
}
