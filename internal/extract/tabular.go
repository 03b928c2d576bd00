package extract

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/xuri/excelize/v2"

	"ttsync/internal/models"
)

func parseCSV(text string) ([]models.Row, error) {
	reader := csv.NewReader(strings.NewReader(text))
	reader.FieldsPerRecord = -1 // Allow variable number of fields
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	if firstLine, _, _ := strings.Cut(text, "\n"); strings.Count(firstLine, "\t") > strings.Count(firstLine, ",") {
		reader.Comma = '\t'
	}

	var records [][]string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read csv: %w", err)
		}
		records = append(records, record)
	}
	return rowsFromRecords(records), nil
}

func parseSpreadsheet(data []byte) ([]models.Row, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("workbook has no sheets")
	}
	records, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheets[0], err)
	}
	return rowsFromRecords(records), nil
}

// rowsFromRecords keys every record by the first non-empty record, lower-cased and trimmed.
func rowsFromRecords(records [][]string) []models.Row {
	var header []string
	var rows []models.Row

	for _, record := range records {
		if isBlank(record) {
			continue
		}
		if header == nil {
			header = make([]string, len(record))
			for i, h := range record {
				header[i] = strings.ToLower(strings.TrimSpace(h))
			}
			continue
		}

		row := make(models.Row, len(header))
		for i, key := range header {
			if key == "" || i >= len(record) {
				continue
			}
			row[key] = strings.TrimSpace(record[i])
		}
		rows = append(rows, row)
	}
	return rows
}

func isBlank(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// parseICS maps each VEVENT onto the same columns a timetable CSV would use.
func parseICS(data []byte, loc *time.Location) ([]models.Row, error) {
	cal, err := ical.ParseCalendar(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse calendar: %w", err)
	}

	var rows []models.Row
	for _, ev := range cal.Events() {
		start, err := ev.GetStartAt()
		if err != nil {
			continue
		}
		row := models.Row{
			"title":       propValue(ev, ical.ComponentPropertySummary),
			"location":    propValue(ev, ical.ComponentPropertyLocation),
			"description": propValue(ev, ical.ComponentPropertyDescription),
			"date":        start.In(loc).Format("2006-01-02"),
		}
		if end, err := ev.GetEndAt(); err == nil && end.After(start) {
			row["time"] = start.In(loc).Format("15:04") + " - " + end.In(loc).Format("15:04")
		} else {
			row["time"] = start.In(loc).Format("15:04")
		}
		if cats := propValue(ev, ical.ComponentPropertyCategories); cats != "" {
			row["type"] = cats
		}
		rows = append(rows, row)
	}
	return rows, nil
}

var icsUnescaper = strings.NewReplacer(`\\`, `\`, `\,`, ",", `\;`, ";", `\n`, "\n", `\N`, "\n")

func propValue(ev *ical.VEvent, p ical.ComponentProperty) string {
	if prop := ev.GetProperty(p); prop != nil {
		return strings.TrimSpace(icsUnescaper.Replace(prop.Value))
	}
	return ""
}

// rowsToText renders rows as "key: value" lines for the language model.
func rowsToText(rows []models.Row) string {
	var b strings.Builder
	for _, row := range rows {
		first := true
		keys := make([]string, 0, len(row))
		for key := range row {
			keys = append(keys, key)
		}
		slices.Sort(keys)
		for _, key := range keys {
			if row[key] == "" {
				continue
			}
			if !first {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s: %s", key, row[key])
			first = false
		}
		b.WriteString("\n")
	}
	return b.String()
}
