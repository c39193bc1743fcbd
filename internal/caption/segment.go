package caption

import (
	"fmt"
	"strings"
	"time"
)

// DefaultTimeLayout renders timestamps the way an en-US locale time string does.
const DefaultTimeLayout = "3:04:05 PM"

type Segment struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	IsFinal   bool      `json:"is_final"`
}

// FormatLine renders one export line.
func (s Segment) FormatLine(withTimestamp bool, layout string) string {
	text := strings.TrimSpace(s.Text)
	if !withTimestamp {
		return text
	}
	if layout == "" {
		layout = DefaultTimeLayout
	}
	return fmt.Sprintf("[%s] %s", s.Timestamp.Local().Format(layout), text)
}

// TranscriptText renders the export artifact: one line per finalized segment.
func TranscriptText(segments []Segment, withTimestamps bool, layout string) string {
	lines := make([]string, 0, len(segments))
	for _, seg := range segments {
		lines = append(lines, seg.FormatLine(withTimestamps, layout))
	}
	return strings.Join(lines, "\n")
}

// FullTranscript joins segment texts with single spaces, no timestamps.
func FullTranscript(segments []Segment) string {
	texts := make([]string, 0, len(segments))
	for _, seg := range segments {
		texts = append(texts, seg.Text)
	}
	return strings.Join(texts, " ")
}

// ExportFilename returns the default export name for the given instant.
func ExportFilename(now time.Time) string {
	return "captions-" + now.UTC().Format("2006-01-02") + ".txt"
}
