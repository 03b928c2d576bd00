package timetable

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"ttsync/internal/models"
)

const (
	// DefaultTimeRange is used when a row carries no usable time at all.
	DefaultTimeRange = "09:00 - 10:30"
	// DefaultDuration is the length given to a bare start time.
	DefaultDuration = 90 * time.Minute
	// DefaultLocation stands in for a missing location.
	DefaultLocation = "TBD"

	dateLayout  = "2006-01-02"
	clockLayout = "15:04"
	rangeSep    = " - "
)

var (
	clockRe = regexp.MustCompile(`^(\d{1,2})(?:[:.h]?(\d{2}))?\s*([ap])\.?\s*m?\.?$|^(\d{1,2})(?:[:.h]?(\d{2}))?$`)
	rangeRe = regexp.MustCompile(`^(.+?)\s*(?:-|–|—|\bto\b|\buntil\b)\s*(.+)$`)
)

var weekdays = map[string]time.Weekday{
	"sunday": time.Sunday, "sun": time.Sunday,
	"monday": time.Monday, "mon": time.Monday,
	"tuesday": time.Tuesday, "tue": time.Tuesday, "tues": time.Tuesday,
	"wednesday": time.Wednesday, "wed": time.Wednesday,
	"thursday": time.Thursday, "thu": time.Thursday, "thur": time.Thursday, "thurs": time.Thursday,
	"friday": time.Friday, "fri": time.Friday,
	"saturday": time.Saturday, "sat": time.Saturday,
}

var dateLayouts = []string{
	dateLayout,
	"2006/01/02",
	"20060102",
	"01/02/2006",
	"1/2/2006",
	"01-02-2006",
	"02.01.2006",
	"2.1.2006",
	"Jan 2, 2006",
	"January 2, 2006",
	"Jan 2 2006",
	"January 2 2006",
	"2 Jan 2006",
	"2 January 2006",
	"Mon, Jan 2, 2006",
	"Monday, January 2, 2006",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// Normalizer applies the timetable defaulting rules. Rules that depend on
// the current date use the injected clock.
type Normalizer struct {
	now func() time.Time
}

// NewNormalizer returns a Normalizer using now as its clock; nil means time.Now.
func NewNormalizer(now func() time.Time) *Normalizer {
	if now == nil {
		now = time.Now
	}
	return &Normalizer{now: now}
}

// Now returns the normalizer's current time.
func (n *Normalizer) Now() time.Time {
	return n.now()
}

// Event re-applies every field rule to ev. Already normalized events come back unchanged.
func (n *Normalizer) Event(ev models.TimetableEvent) models.TimetableEvent {
	ev.Title = NormalizeTitle(ev.Title)
	ev.Time = NormalizeTime(ev.Time)
	ev.Date = n.Date(ev.Date)
	ev.Location = strings.TrimSpace(ev.Location)
	if ev.Location == "" {
		ev.Location = DefaultLocation
	}
	if ev.Room == "" && ev.Building == "" {
		ev.Room, ev.Building = SplitLocation(ev.Location)
	}
	ev.Type = NormalizeType(string(ev.Type))
	ev.Duration = Duration(ev.Time)
	return ev
}

// NormalizeTitle trims and collapses internal whitespace.
func NormalizeTitle(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// NormalizeTime turns a free-form time or time range into "HH:MM - HH:MM".
// A single time is treated as a start time and given DefaultDuration.
// Empty or unreadable values become DefaultTimeRange.
func NormalizeTime(s string) string {
	return normalizeTimeWithLength(s, DefaultDuration)
}

func normalizeTimeWithLength(s string, length time.Duration) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return DefaultTimeRange
	}

	if m := rangeRe.FindStringSubmatch(s); m != nil {
		start, startMer, okStart := parseClock(m[1])
		end, endMer, okEnd := parseClock(m[2])
		if okStart && okEnd {
			// "9:00 - 10:30 AM": the start borrows the end's meridiem.
			if startMer == "" && endMer != "" {
				if shifted, ok := applyMeridiem(start, endMer); ok {
					start = shifted
					if start > end {
						start, _ = applyMeridiem(start%(12*60), flip(endMer))
					}
				}
			}
			return formatClock(start) + rangeSep + formatClock(end)
		}
	}

	start, _, ok := parseClock(s)
	if !ok {
		return DefaultTimeRange
	}
	if length <= 0 {
		length = DefaultDuration
	}
	end := start + int(length/time.Minute)
	if end >= 24*60 {
		end = 24*60 - 1
	}
	return formatClock(start) + rangeSep + formatClock(end)
}

// To24Hour converts a single clock value such as "2:30 PM" to "14:30".
func To24Hour(s string) (string, bool) {
	mins, _, ok := parseClock(s)
	if !ok {
		return "", false
	}
	return formatClock(mins), true
}

// parseClock returns minutes after midnight and the meridiem marker ("a", "p" or "").
func parseClock(s string) (int, string, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	m := clockRe.FindStringSubmatch(s)
	if m == nil {
		return 0, "", false
	}

	hourStr, minStr, mer := m[1], m[2], m[3]
	if hourStr == "" {
		hourStr, minStr = m[4], m[5]
	}
	hour, err := strconv.Atoi(hourStr)
	if err != nil {
		return 0, "", false
	}
	minute := 0
	if minStr != "" {
		if minute, err = strconv.Atoi(minStr); err != nil || minute > 59 {
			return 0, "", false
		}
	}

	if mer != "" {
		if hour < 1 || hour > 12 {
			return 0, "", false
		}
		mins, _ := applyMeridiem(hour*60+minute, mer)
		return mins, mer, true
	}
	if hour > 23 {
		return 0, "", false
	}
	return hour*60 + minute, "", true
}

// applyMeridiem converts a 12-hour clock reading in minutes to 24-hour minutes.
func applyMeridiem(mins int, mer string) (int, bool) {
	hour, minute := mins/60, mins%60
	if hour < 1 || hour > 12 {
		return mins, false
	}
	switch mer {
	case "a":
		if hour == 12 {
			hour = 0
		}
	case "p":
		if hour != 12 {
			hour += 12
		}
	}
	return hour*60 + minute, true
}

func flip(mer string) string {
	if mer == "a" {
		return "p"
	}
	return "a"
}

func formatClock(mins int) string {
	return fmt.Sprintf("%02d:%02d", mins/60, mins%60)
}

// Date resolves a weekday name to its next occurrence, parses calendar
// dates, and falls back to the next Monday.
func (n *Normalizer) Date(s string) string {
	now := n.now()
	s = strings.TrimSpace(s)
	if s == "" {
		return NextWeekday(now, time.Monday).Format(dateLayout)
	}
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, now.Location()); err == nil {
			return t.Format(dateLayout)
		}
	}
	if wd, ok := weekdayName(s); ok {
		return NextWeekday(now, wd).Format(dateLayout)
	}
	return NextWeekday(now, time.Monday).Format(dateLayout)
}

// NextWeekday returns the date of the next wd strictly after now, 1 to 7 days ahead.
func NextWeekday(now time.Time, wd time.Weekday) time.Time {
	days := (int(wd) - int(now.Weekday()) + 7) % 7
	if days == 0 {
		days = 7
	}
	y, m, d := now.Date()
	return time.Date(y, m, d+days, 0, 0, 0, 0, now.Location())
}

func weekdayName(s string) (time.Weekday, bool) {
	word := strings.ToLower(s)
	if i := strings.IndexFunc(word, func(r rune) bool { return r < 'a' || r > 'z' }); i >= 0 {
		word = word[:i]
	}
	wd, ok := weekdays[word]
	return wd, ok
}

// NormalizeType maps a free-form type label to one of the known event types.
func NormalizeType(s string) models.EventType {
	v := strings.ToLower(s)
	switch {
	case strings.Contains(v, "lab"):
		return models.TypeLab
	case strings.Contains(v, "tutorial"), strings.Contains(v, "seminar"):
		return models.TypeTutorial
	case strings.Contains(v, "meeting"):
		return models.TypeMeeting
	case strings.Contains(v, "break"):
		return models.TypeBreak
	default:
		return models.TypeLecture
	}
}

// SplitLocation derives room and building from a location string.
// "101, CS Building" gives both; "Room 5" gives a room; anything else is a building.
func SplitLocation(loc string) (room, building string) {
	loc = strings.TrimSpace(loc)
	if loc == "" || loc == DefaultLocation {
		return "", ""
	}
	parts := strings.Split(loc, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	if len(parts) >= 2 {
		return parts[0], strings.Join(parts[1:], ", ")
	}
	if strings.Contains(strings.ToLower(parts[0]), "room") {
		return parts[0], ""
	}
	return "", parts[0]
}

// Duration renders the length of a "HH:MM - HH:MM" range, e.g. "1h 30m".
// Malformed or non-positive ranges give "1h 30m".
func Duration(timeRange string) string {
	start, end, ok := SplitRange(timeRange)
	if !ok || !end.After(start) {
		return FormatDuration(DefaultDuration)
	}
	return FormatDuration(end.Sub(start))
}

// SplitRange parses both ends of a normalized range.
func SplitRange(timeRange string) (start, end time.Time, ok bool) {
	parts := strings.Split(timeRange, rangeSep)
	if len(parts) != 2 {
		return time.Time{}, time.Time{}, false
	}
	start, err := time.Parse(clockLayout, strings.TrimSpace(parts[0]))
	if err != nil {
		return time.Time{}, time.Time{}, false
	}
	end, err = time.Parse(clockLayout, strings.TrimSpace(parts[1]))
	if err != nil {
		return time.Time{}, time.Time{}, false
	}
	return start, end, true
}

// FormatDuration renders d as "Xh Ym", "Xh" or "Ym".
func FormatDuration(d time.Duration) string {
	total := int(d / time.Minute)
	h, m := total/60, total%60
	switch {
	case h > 0 && m > 0:
		return fmt.Sprintf("%dh %dm", h, m)
	case h > 0:
		return fmt.Sprintf("%dh", h)
	default:
		return fmt.Sprintf("%dm", m)
	}
}
