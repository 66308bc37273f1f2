package localstore

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/kestrel-ai/banter/internal/tools"
)

// Store is the local-first durable state: session snapshots, tool
// settings, and the tool call audit log, all in one SQLite file.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open opens or creates the SQLite database at the given path.
func Open(dbPath string, logger *zap.Logger) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=foreign_keys(on)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	s := &Store{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id         TEXT PRIMARY KEY,
		payload    TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS tool_settings (
		session_id TEXT PRIMARY KEY,
		payload    TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS audit_records (
		id         TEXT PRIMARY KEY,
		type       TEXT NOT NULL,
		content    TEXT NOT NULL,
		timestamp  TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_records(timestamp DESC);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveSession stores a session snapshot, replacing any previous copy.
func (s *Store) SaveSession(id string, payload []byte) error {
	_, err := s.db.Exec(`
		INSERT INTO sessions (id, payload, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET payload = excluded.payload,
			updated_at = excluded.updated_at`,
		id, string(payload), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// LoadSession returns the stored snapshot, or nil when absent.
func (s *Store) LoadSession(id string) ([]byte, error) {
	var payload string
	err := s.db.QueryRow(
		`SELECT payload FROM sessions WHERE id = ?`, id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	return []byte(payload), nil
}

// DeleteSession removes the stored snapshot.
func (s *Store) DeleteSession(id string) error {
	if _, err := s.db.Exec(`DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// LoadSettings implements tools.SettingsStore. A missing or corrupt
// record yields the defaults.
func (s *Store) LoadSettings(sessionID string) (tools.Settings, error) {
	var payload string
	err := s.db.QueryRow(
		`SELECT payload FROM tool_settings WHERE session_id = ?`, sessionID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return tools.DefaultSettings(), nil
	}
	if err != nil {
		return tools.Settings{}, fmt.Errorf("load tool settings: %w", err)
	}

	var settings tools.Settings
	if err := json.Unmarshal([]byte(payload), &settings); err != nil {
		s.logger.Warn("corrupt tool settings, using defaults",
			zap.String("session", sessionID))
		return tools.DefaultSettings(), nil
	}
	return settings, nil
}

// SaveSettings implements tools.SettingsStore.
func (s *Store) SaveSettings(sessionID string, settings tools.Settings) error {
	payload, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("marshal tool settings: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO tool_settings (session_id, payload) VALUES (?, ?)
		ON CONFLICT(session_id) DO UPDATE SET payload = excluded.payload`,
		sessionID, string(payload))
	if err != nil {
		return fmt.Errorf("save tool settings: %w", err)
	}
	return nil
}

// Record implements tools.Recorder. Persistence failures are logged,
// never surfaced: an audit write must not fail the call it records.
func (s *Store) Record(rec tools.Record) {
	_, err := s.db.Exec(`
		INSERT INTO audit_records (id, type, content, timestamp)
		VALUES (?, ?, ?, ?)`,
		rec.ID, rec.Type, rec.Content, rec.Timestamp.Format(time.RFC3339Nano))
	if err != nil {
		s.logger.Error("audit record write failed",
			zap.String("id", rec.ID), zap.Error(err))
	}
}

// RecentRecords returns the newest audit records, newest first.
func (s *Store) RecentRecords(n int) ([]tools.Record, error) {
	if n <= 0 {
		n = 50
	}
	rows, err := s.db.Query(`
		SELECT id, type, content, timestamp FROM audit_records
		ORDER BY timestamp DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("recent audit records: %w", err)
	}
	defer rows.Close()

	var out []tools.Record
	for rows.Next() {
		var rec tools.Record
		var ts string
		if err := rows.Scan(&rec.ID, &rec.Type, &rec.Content, &ts); err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		rec.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		out = append(out, rec)
	}
	return out, rows.Err()
}
