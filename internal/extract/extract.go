// Package extract turns uploaded timetable files into raw text and header-keyed rows.
//
// Supported formats:
//   - CSV and plain text, read as UTF-8
//   - spreadsheets (.xlsx/.xlsm), first sheet only
//   - iCalendar (.ics), one row per VEVENT
//   - PDF and images, through an injected TextRecognizer
package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"ttsync/internal/logging"
	"ttsync/internal/models"
)

// ErrUnsupportedFormat is returned when a file cannot be classified.
var ErrUnsupportedFormat = errors.New("unsupported format")

// Format is the classified kind of an uploaded file.
type Format string

const (
	FormatCSV         Format = "csv"
	FormatSpreadsheet Format = "spreadsheet"
	FormatText        Format = "text"
	FormatPDF         Format = "pdf"
	FormatImage       Format = "image"
	FormatICS         Format = "ics"
)

// Structured reports whether the format yields header-keyed rows.
func (f Format) Structured() bool {
	return f == FormatCSV || f == FormatSpreadsheet || f == FormatICS
}

// File is an uploaded file with its declared MIME type.
type File struct {
	Name     string
	MIMEType string
	Data     []byte
}

// Content is the raw material handed to the parsers.
type Content struct {
	Format Format
	Text   string
	Rows   []models.Row
}

// Extractor dispatches extraction by detected format.
type Extractor struct {
	recognizer TextRecognizer
	location   *time.Location
	logger     *slog.Logger
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithRecognizer sets the capability used for PDF and image files.
func WithRecognizer(r TextRecognizer) Option {
	return func(e *Extractor) {
		e.recognizer = r
	}
}

// WithLocation sets the zone calendar imports are converted to.
func WithLocation(loc *time.Location) Option {
	return func(e *Extractor) {
		e.location = loc
	}
}

// New creates an Extractor. Without WithRecognizer, PDF and image files get
// placeholder text.
func New(logger *slog.Logger, opts ...Option) *Extractor {
	e := &Extractor{
		recognizer: PlaceholderRecognizer{},
		location:   time.UTC,
		logger:     logging.OrDefault(logger),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract classifies f and produces its text and, for tabular formats, rows.
func (e *Extractor) Extract(ctx context.Context, f File) (*Content, error) {
	format, err := Detect(f.Name, f.MIMEType, f.Data)
	if err != nil {
		return nil, err
	}
	e.logger.Debug("Extracting file.", "name", f.Name, "format", format, "bytes", len(f.Data))

	content := &Content{Format: format}
	switch format {
	case FormatCSV:
		content.Text = decodeText(f.Data)
		content.Rows, err = parseCSV(content.Text)
	case FormatText:
		content.Text = decodeText(f.Data)
	case FormatSpreadsheet:
		content.Rows, err = parseSpreadsheet(f.Data)
		if err == nil {
			content.Text = rowsToText(content.Rows)
		}
	case FormatICS:
		content.Text = decodeText(f.Data)
		content.Rows, err = parseICS(f.Data, e.location)
	case FormatPDF, FormatImage:
		content.Text, err = e.recognizer.Recognize(ctx, f, format)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to extract %s file %q: %w", format, f.Name, err)
	}

	e.logger.Info("Extracted file.", "name", f.Name, "format", format, "rows", len(content.Rows), "chars", len(content.Text))
	return content, nil
}

// Detect classifies a file by extension, then declared MIME type, then content sniffing.
// Legacy .xls workbooks are rejected since only OOXML spreadsheets can be read.
func Detect(name, declaredMIME string, data []byte) (Format, error) {
	ext := strings.ToLower(filepath.Ext(name))
	if ext == ".xls" {
		return "", legacyWorkbook(name)
	}
	if f, ok := formatFromExtension(ext); ok {
		return f, nil
	}
	if mt, _, _ := mime.ParseMediaType(declaredMIME); mt == legacyExcelMIME {
		return "", legacyWorkbook(name)
	}
	if f, ok := formatFromMIME(declaredMIME); ok {
		return f, nil
	}
	if len(data) > 0 {
		sniffed := mimetype.Detect(data)
		if sniffed.Is(legacyExcelMIME) {
			return "", legacyWorkbook(name)
		}
		if f, ok := formatFromExtension(sniffed.Extension()); ok {
			return f, nil
		}
		if f, ok := formatFromMIME(sniffed.String()); ok {
			return f, nil
		}
	}
	return "", fmt.Errorf("%w: name=%q mime=%q", ErrUnsupportedFormat, name, declaredMIME)
}

const legacyExcelMIME = "application/vnd.ms-excel"

func legacyWorkbook(name string) error {
	return fmt.Errorf("%w: %q is a legacy .xls workbook, save it as .xlsx or .csv", ErrUnsupportedFormat, name)
}

func formatFromExtension(ext string) (Format, bool) {
	switch strings.ToLower(ext) {
	case ".csv", ".tsv":
		return FormatCSV, true
	case ".xlsx", ".xlsm", ".xltx", ".xltm":
		return FormatSpreadsheet, true
	case ".txt", ".text", ".md":
		return FormatText, true
	case ".ics", ".ical", ".ifb":
		return FormatICS, true
	case ".pdf":
		return FormatPDF, true
	case ".png", ".jpg", ".jpeg", ".gif", ".webp", ".bmp", ".tif", ".tiff", ".heic":
		return FormatImage, true
	}
	return "", false
}

func formatFromMIME(declared string) (Format, bool) {
	if declared == "" {
		return "", false
	}
	mt, _, err := mime.ParseMediaType(declared)
	if err != nil {
		mt = strings.ToLower(strings.TrimSpace(declared))
	}
	switch {
	case mt == "text/csv", mt == "application/csv", mt == "text/tab-separated-values":
		return FormatCSV, true
	case mt == "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		mt == "application/vnd.ms-excel.sheet.macroenabled.12":
		return FormatSpreadsheet, true
	case mt == "text/calendar":
		return FormatICS, true
	case mt == "application/pdf":
		return FormatPDF, true
	case strings.HasPrefix(mt, "image/"):
		return FormatImage, true
	case mt == "text/plain", mt == "text/markdown":
		return FormatText, true
	}
	return "", false
}

// decodeText reads data as UTF-8, dropping a byte-order mark.
func decodeText(data []byte) string {
	return strings.TrimPrefix(strings.ToValidUTF8(string(data), "\uFFFD"), "\ufeff")
}
