package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/sjawhar/live-captioner/internal/caption"
	"github.com/sjawhar/live-captioner/internal/settings"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")
	store, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})

	return store
}

func TestSQLitePragmas(t *testing.T) {
	store := newTestSQLiteStore(t)

	var mode string
	if err := store.DB().QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("PRAGMA journal_mode failed: %v", err)
	}
	if mode != "wal" {
		t.Fatalf("expected journal_mode wal, got %q", mode)
	}

	var timeout int
	if err := store.DB().QueryRow("PRAGMA busy_timeout").Scan(&timeout); err != nil {
		t.Fatalf("PRAGMA busy_timeout failed: %v", err)
	}
	if timeout < 5000 {
		t.Fatalf("expected busy_timeout >= 5000, got %d", timeout)
	}
}

func TestSQLiteSegmentsRoundTrip(t *testing.T) {
	store := newTestSQLiteStore(t)

	ts := time.Date(2026, 2, 26, 10, 0, 0, 0, time.UTC)
	segments := []caption.Segment{
		{ID: "b", Text: "Hello", Timestamp: ts, IsFinal: true},
		{ID: "a", Text: "world", Timestamp: ts.Add(5 * time.Second), IsFinal: true},
	}
	if err := store.SaveSegments(segments); err != nil {
		t.Fatalf("SaveSegments failed: %v", err)
	}

	got, err := store.LoadSegments()
	if err != nil {
		t.Fatalf("LoadSegments failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 segments, got %d", len(got))
	}
	// Order follows the saved slice, not the ids.
	if got[0].ID != "b" || got[1].ID != "a" {
		t.Fatalf("unexpected order %+v", got)
	}
	if !got[0].Timestamp.Equal(ts) || !got[0].IsFinal || got[0].Text != "Hello" {
		t.Fatalf("unexpected first segment %+v", got[0])
	}

	if err := store.SaveSegments(segments[1:]); err != nil {
		t.Fatalf("SaveSegments failed: %v", err)
	}
	got, _ = store.LoadSegments()
	if len(got) != 1 || got[0].ID != "a" {
		t.Fatalf("expected replacement to leave one segment, got %+v", got)
	}

	if err := store.SaveSegments(nil); err != nil {
		t.Fatalf("SaveSegments(nil) failed: %v", err)
	}
	got, _ = store.LoadSegments()
	if len(got) != 0 {
		t.Fatalf("expected no segments after clear, got %d", len(got))
	}
}

func TestSQLiteSaveSegmentsRollsBack(t *testing.T) {
	store := newTestSQLiteStore(t)

	ts := time.Now()
	if err := store.SaveSegments([]caption.Segment{{ID: "keep", Text: "kept", Timestamp: ts, IsFinal: true}}); err != nil {
		t.Fatalf("SaveSegments failed: %v", err)
	}

	bad := []caption.Segment{
		{ID: "x", Text: "one", Timestamp: ts, IsFinal: true},
		{ID: "x", Text: "duplicate", Timestamp: ts, IsFinal: true},
	}
	if err := store.SaveSegments(bad); err == nil {
		t.Fatal("expected duplicate ids to fail")
	}

	got, _ := store.LoadSegments()
	if len(got) != 1 || got[0].ID != "keep" {
		t.Fatalf("expected previous contents after rollback, got %+v", got)
	}
}

func TestSQLiteAppendSegment(t *testing.T) {
	store := newTestSQLiteStore(t)

	ts := time.Date(2026, 2, 26, 10, 0, 0, 0, time.UTC)
	if err := store.SaveSegments([]caption.Segment{{ID: "a", Text: "first", Timestamp: ts, IsFinal: true}}); err != nil {
		t.Fatalf("SaveSegments failed: %v", err)
	}
	if err := store.AppendSegment(caption.Segment{ID: "b", Text: "second", Timestamp: ts.Add(time.Second), IsFinal: true}, 1); err != nil {
		t.Fatalf("AppendSegment failed: %v", err)
	}

	got, err := store.LoadSegments()
	if err != nil {
		t.Fatalf("LoadSegments failed: %v", err)
	}
	if len(got) != 2 || got[0].ID != "a" || got[1].Text != "second" {
		t.Fatalf("unexpected segments %+v", got)
	}

	if err := store.AppendSegment(caption.Segment{ID: "b", Text: "dup", Timestamp: ts, IsFinal: true}, 2); err == nil {
		t.Fatal("expected duplicate id to fail")
	}
	if err := store.AppendSegment(caption.Segment{Text: "no id"}, 2); err == nil {
		t.Fatal("expected missing id to fail")
	}
}

func TestSQLiteUserInitiated(t *testing.T) {
	store := newTestSQLiteStore(t)

	v, err := store.LoadUserInitiated()
	if err != nil || v {
		t.Fatalf("expected false default, got %v, %v", v, err)
	}

	if err := store.SaveUserInitiated(true); err != nil {
		t.Fatalf("SaveUserInitiated failed: %v", err)
	}
	if v, _ := store.LoadUserInitiated(); !v {
		t.Fatal("expected true after save")
	}
	if err := store.SaveUserInitiated(false); err != nil {
		t.Fatalf("SaveUserInitiated failed: %v", err)
	}
	if v, _ := store.LoadUserInitiated(); v {
		t.Fatal("expected false after second save")
	}
}

func TestSQLitePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "captions.db")
	store, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	ts := time.Date(2026, 2, 26, 10, 0, 0, 0, time.UTC)
	_ = store.SaveSegments([]caption.Segment{{ID: "a", Text: "persisted", Timestamp: ts, IsFinal: true}})
	_ = store.SaveUserInitiated(true)
	_ = store.Close()

	reopened, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer func() { _ = reopened.Close() }()

	segs, _ := reopened.LoadSegments()
	if len(segs) != 1 || segs[0].Text != "persisted" {
		t.Fatalf("unexpected segments after reopen %+v", segs)
	}
	if v, _ := reopened.LoadUserInitiated(); !v {
		t.Fatal("expected user-initiated flag to survive reopen")
	}
}

func TestSQLitePreferences(t *testing.T) {
	store := newTestSQLiteStore(t)

	prefs, err := store.LoadPreferences()
	if err != nil {
		t.Fatalf("LoadPreferences failed: %v", err)
	}
	if prefs != settings.Defaults() {
		t.Fatalf("expected defaults, got %+v", prefs)
	}

	prefs.Language = "fr-FR"
	prefs.FontSize = settings.FontSmall
	prefs.AutoScroll = false
	if err := store.SavePreferences(prefs); err != nil {
		t.Fatalf("SavePreferences failed: %v", err)
	}

	got, err := store.LoadPreferences()
	if err != nil {
		t.Fatalf("LoadPreferences failed: %v", err)
	}
	if got != prefs {
		t.Fatalf("expected %+v, got %+v", prefs, got)
	}
}

func TestSQLiteSeedPreferences(t *testing.T) {
	store := newTestSQLiteStore(t)

	seed := settings.Defaults()
	seed.Language = "de-DE"
	if err := store.SeedPreferences(seed); err != nil {
		t.Fatalf("SeedPreferences failed: %v", err)
	}
	got, err := store.LoadPreferences()
	if err != nil {
		t.Fatalf("LoadPreferences failed: %v", err)
	}
	if got.Language != "de-DE" {
		t.Fatalf("expected seeded language, got %q", got.Language)
	}

	saved := seed
	saved.Language = "ja-JP"
	if err := store.SavePreferences(saved); err != nil {
		t.Fatalf("SavePreferences failed: %v", err)
	}
	if err := store.SeedPreferences(seed); err != nil {
		t.Fatalf("SeedPreferences failed: %v", err)
	}
	got, err = store.LoadPreferences()
	if err != nil {
		t.Fatalf("LoadPreferences failed: %v", err)
	}
	if got.Language != "ja-JP" {
		t.Fatalf("expected saved preferences to survive seeding, got %q", got.Language)
	}
}

func TestSQLiteSummaries(t *testing.T) {
	store := newTestSQLiteStore(t)

	if _, ok, err := store.LatestSummary(); err != nil || ok {
		t.Fatalf("expected no summary yet, got %v, %v", ok, err)
	}

	created := time.Date(2026, 2, 26, 11, 0, 0, 0, time.UTC)
	_ = store.SaveSummary(Summary{Text: "first", Model: "gpt-4o-mini", TranscriptHash: "h1", CreatedAt: created})
	_ = store.SaveSummary(Summary{Text: "second", Model: "gpt-4o-mini", TranscriptHash: "h2", CreatedAt: created.Add(time.Minute)})

	sum, ok, err := store.LatestSummary()
	if err != nil || !ok {
		t.Fatalf("LatestSummary failed: %v, %v", ok, err)
	}
	if sum.Text != "second" || !sum.CreatedAt.Equal(created.Add(time.Minute)) {
		t.Fatalf("unexpected summary %+v", sum)
	}

	found, ok, err := store.FindSummary("h1")
	if err != nil || !ok || found.Text != "first" {
		t.Fatalf("FindSummary(h1) = %+v, %v, %v", found, ok, err)
	}
	if _, ok, err := store.FindSummary("missing"); err != nil || ok {
		t.Fatalf("expected no summary for unknown hash, got %v, %v", ok, err)
	}
}
