package extract

import (
	"context"
	"time"
)

// TextRecognizer pulls text out of files that carry no machine-readable
// structure, such as scanned timetables and PDFs. Production deployments
// plug an OCR or PDF-text service in here.
type TextRecognizer interface {
	Recognize(ctx context.Context, f File, format Format) (string, error)
}

// RecognizerFunc adapts a function to TextRecognizer.
type RecognizerFunc func(ctx context.Context, f File, format Format) (string, error)

// Recognize implements TextRecognizer.
func (fn RecognizerFunc) Recognize(ctx context.Context, f File, format Format) (string, error) {
	return fn(ctx, f, format)
}

// PlaceholderText is what PlaceholderRecognizer returns for every file.
const PlaceholderText = `Weekly Class Schedule

Monday 09:00 - 10:30 Introduction to Programming (CS101) Lecture, Room 101, Science Building, Dr. Smith
Monday 11:00 - 13:00 Programming Lab (CS101L) Lab, Lab 3, Engineering Building, Prof. Johnson
Tuesday 14:00 - 15:00 Linear Algebra Tutorial (MATH210) Tutorial, Room 205, Mathematics Building, Ms. Davis
Wednesday 10:00 - 11:30 Database Systems (CS230) Lecture, Room 110, Science Building, Dr. Lee
Thursday 16:00 - 17:00 Project Group Meeting, Library Study Room 2
Friday 12:00 - 13:00 Lunch Break, Student Center`

// PlaceholderRecognizer stands in for a real OCR backend: after Delay it
// returns PlaceholderText regardless of the input.
type PlaceholderRecognizer struct {
	Delay time.Duration
}

// Recognize implements TextRecognizer.
func (p PlaceholderRecognizer) Recognize(ctx context.Context, _ File, _ Format) (string, error) {
	if p.Delay > 0 {
		t := time.NewTimer(p.Delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-t.C:
		}
	}
	return PlaceholderText, nil
}
