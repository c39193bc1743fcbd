package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sjawhar/live-captioner/internal/caption"
)

// Exporter writes transcript exports into a directory.
type Exporter struct {
	dir    string
	layout string
	now    func() time.Time
	mu     sync.Mutex
}

func NewExporter(dir, timeLayout string) *Exporter {
	if dir == "" {
		dir = filepath.Join("data", "exports")
	}
	return &Exporter{dir: dir, layout: timeLayout, now: time.Now}
}

// Export writes the segments as captions-<date>.txt, replacing an earlier
// export from the same day, and returns the file path.
func (e *Exporter) Export(segments []caption.Segment, withTimestamps bool) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return "", fmt.Errorf("mkdir %s: %w", e.dir, err)
	}

	path := filepath.Join(e.dir, caption.ExportFilename(e.now()))
	content := caption.TranscriptText(segments, withTimestamps, e.layout)

	tmp, err := os.CreateTemp(e.dir, ".export-*")
	if err != nil {
		return "", fmt.Errorf("create temp export: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.WriteString(content); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("rename export to %s: %w", path, err)
	}

	return path, nil
}
