package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/sjawhar/live-captioner/internal/caption"
	"github.com/sjawhar/live-captioner/internal/settings"
)

const (
	keyUserInitiated = "user_initiated"
	keyPreferences   = "preferences"
)

// Summary is a stored transcript summary. TranscriptHash identifies the
// transcript it was generated from.
type Summary struct {
	Text           string    `json:"text"`
	Model          string    `json:"model"`
	TranscriptHash string    `json:"transcript_hash"`
	CreatedAt      time.Time `json:"created_at"`
}

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if strings.TrimSpace(dbPath) == "" {
		dbPath = filepath.Join("data", "live-captioner.db")
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) init() error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("apply pragma %q: %w", p, err)
		}
	}

	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS segments (
			id TEXT PRIMARY KEY,
			position INTEGER NOT NULL,
			text TEXT NOT NULL,
			timestamp TEXT NOT NULL,
			is_final INTEGER NOT NULL DEFAULT 1
		);
	`); err != nil {
		return fmt.Errorf("create segments table: %w", err)
	}

	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS app_state (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);
	`); err != nil {
		return fmt.Errorf("create app_state table: %w", err)
	}

	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS summaries (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			text TEXT NOT NULL,
			model TEXT NOT NULL DEFAULT '',
			transcript_hash TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		);
	`); err != nil {
		return fmt.Errorf("create summaries table: %w", err)
	}

	if _, err := s.db.Exec("CREATE INDEX IF NOT EXISTS idx_segments_position ON segments(position)"); err != nil {
		return fmt.Errorf("create segments index: %w", err)
	}
	if _, err := s.db.Exec("CREATE INDEX IF NOT EXISTS idx_summaries_hash ON summaries(transcript_hash)"); err != nil {
		return fmt.Errorf("create summaries index: %w", err)
	}

	return nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// LoadSegments returns the persisted captions in display order.
func (s *SQLiteStore) LoadSegments() ([]caption.Segment, error) {
	rows, err := s.db.Query(`SELECT id, text, timestamp, is_final FROM segments ORDER BY position ASC`)
	if err != nil {
		return nil, fmt.Errorf("query segments: %w", err)
	}
	defer func() { _ = rows.Close() }()

	segments := make([]caption.Segment, 0, 32)
	for rows.Next() {
		var seg caption.Segment
		var ts string
		if err := rows.Scan(&seg.ID, &seg.Text, &ts, &seg.IsFinal); err != nil {
			return nil, fmt.Errorf("scan segment: %w", err)
		}

		parsedTS, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("parse segment %s timestamp: %w", seg.ID, err)
		}
		seg.Timestamp = parsedTS

		segments = append(segments, seg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate segment rows: %w", err)
	}

	return segments, nil
}

// SaveSegments replaces the stored captions with segments in one transaction.
func (s *SQLiteStore) SaveSegments(segments []caption.Segment) (err error) {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin segments transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.Exec(`DELETE FROM segments`); err != nil {
		return fmt.Errorf("clear segments: %w", err)
	}

	stmt, err := tx.Prepare(`INSERT INTO segments(id, position, text, timestamp, is_final) VALUES(?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare segment insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for i, seg := range segments {
		if strings.TrimSpace(seg.ID) == "" {
			err = errors.New("segment id is required")
			return err
		}
		if _, err = stmt.Exec(seg.ID, i, seg.Text, seg.Timestamp.UTC().Format(time.RFC3339Nano), seg.IsFinal); err != nil {
			return fmt.Errorf("insert segment %s: %w", seg.ID, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit segments: %w", err)
	}
	return nil
}

// AppendSegment inserts one finalized caption at position without touching
// the rows before it.
func (s *SQLiteStore) AppendSegment(seg caption.Segment, position int) error {
	if strings.TrimSpace(seg.ID) == "" {
		return errors.New("segment id is required")
	}
	_, err := s.db.Exec(
		`INSERT INTO segments(id, position, text, timestamp, is_final) VALUES(?, ?, ?, ?, ?)`,
		seg.ID,
		position,
		seg.Text,
		seg.Timestamp.UTC().Format(time.RFC3339Nano),
		seg.IsFinal,
	)
	if err != nil {
		return fmt.Errorf("append segment %s: %w", seg.ID, err)
	}
	return nil
}

// LoadUserInitiated reports whether capture was requested when the app last
// ran. A missing value reads as false.
func (s *SQLiteStore) LoadUserInitiated() (bool, error) {
	raw, ok, err := s.getState(keyUserInitiated)
	if err != nil || !ok {
		return false, err
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("parse %s: %w", keyUserInitiated, err)
	}
	return v, nil
}

func (s *SQLiteStore) SaveUserInitiated(v bool) error {
	return s.setState(keyUserInitiated, strconv.FormatBool(v))
}

// LoadPreferences returns the stored preferences, or defaults when none are stored.
func (s *SQLiteStore) LoadPreferences() (settings.Preferences, error) {
	prefs := settings.Defaults()
	raw, ok, err := s.getState(keyPreferences)
	if err != nil || !ok {
		return prefs, err
	}
	if err := json.Unmarshal([]byte(raw), &prefs); err != nil {
		return settings.Defaults(), fmt.Errorf("decode preferences: %w", err)
	}
	return prefs, nil
}

func (s *SQLiteStore) SavePreferences(prefs settings.Preferences) error {
	data, err := json.Marshal(prefs)
	if err != nil {
		return fmt.Errorf("encode preferences: %w", err)
	}
	return s.setState(keyPreferences, string(data))
}

// SeedPreferences stores prefs only if no preferences were saved before.
func (s *SQLiteStore) SeedPreferences(prefs settings.Preferences) error {
	data, err := json.Marshal(prefs)
	if err != nil {
		return fmt.Errorf("encode preferences: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO app_state(key, value) VALUES(?, ?) ON CONFLICT(key) DO NOTHING`,
		keyPreferences,
		string(data),
	)
	if err != nil {
		return fmt.Errorf("seed preferences: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SaveSummary(sum Summary) error {
	_, err := s.db.Exec(
		`INSERT INTO summaries(text, model, transcript_hash, created_at) VALUES(?, ?, ?, ?)`,
		sum.Text,
		sum.Model,
		sum.TranscriptHash,
		sum.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert summary: %w", err)
	}
	return nil
}

// LatestSummary returns the most recent summary; ok is false when none exist.
func (s *SQLiteStore) LatestSummary() (Summary, bool, error) {
	row := s.db.QueryRow(`SELECT text, model, transcript_hash, created_at FROM summaries ORDER BY id DESC LIMIT 1`)
	sum, err := scanSummary(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Summary{}, false, nil
	}
	if err != nil {
		return Summary{}, false, fmt.Errorf("query latest summary: %w", err)
	}
	return sum, true, nil
}

// FindSummary returns the newest summary generated from the transcript with
// the given hash.
func (s *SQLiteStore) FindSummary(transcriptHash string) (Summary, bool, error) {
	row := s.db.QueryRow(
		`SELECT text, model, transcript_hash, created_at FROM summaries WHERE transcript_hash = ? ORDER BY id DESC LIMIT 1`,
		transcriptHash,
	)
	sum, err := scanSummary(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Summary{}, false, nil
	}
	if err != nil {
		return Summary{}, false, fmt.Errorf("query summary %s: %w", transcriptHash, err)
	}
	return sum, true, nil
}

func scanSummary(row *sql.Row) (Summary, error) {
	var sum Summary
	var createdAt string
	if err := row.Scan(&sum.Text, &sum.Model, &sum.TranscriptHash, &createdAt); err != nil {
		return Summary{}, err
	}

	parsed, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return Summary{}, fmt.Errorf("parse summary created_at: %w", err)
	}
	sum.CreatedAt = parsed
	return sum, nil
}

func (s *SQLiteStore) getState(key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM app_state WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("query app state %s: %w", key, err)
	}
	return value, true, nil
}

func (s *SQLiteStore) setState(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO app_state(key, value) VALUES(?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key,
		value,
	)
	if err != nil {
		return fmt.Errorf("save app state %s: %w", key, err)
	}
	return nil
}
