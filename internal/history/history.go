// Package history provides a SQLite-backed log of completed sync cycles.
// Writes are best-effort: a failed insert is logged and dropped so history
// never slows down or breaks a running session.
package history

import (
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/rdevtools/rdev/internal/session"
)

// schemaVersion is incremented when the cycles table layout changes. An
// outdated table is dropped and rebuilt; history is diagnostic data, not a
// system of record.
const schemaVersion = 1

// Entry is one recorded sync cycle.
type Entry struct {
	ID           int64     `json:"id"`
	SessionID    string    `json:"session_id"`
	Name         string    `json:"name"`
	Server       string    `json:"server"`
	Method       string    `json:"method"`
	FallbackUsed bool      `json:"fallback_used"`
	ExitCode     int       `json:"exit_code"`
	Success      bool      `json:"success"`
	Error        string    `json:"error,omitempty"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
}

// Store persists cycle records to a SQLite database.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens or creates the history database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// WAL mode keeps concurrent session writers from blocking each other.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, err
	}

	if err := createSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS metadata (key TEXT PRIMARY KEY, value TEXT)`)
	if err != nil {
		return err
	}

	var currentVersion int
	row := db.QueryRow("SELECT value FROM metadata WHERE key = 'schema_version'")
	if err := row.Scan(&currentVersion); err != nil {
		currentVersion = 0
	}

	if currentVersion != 0 && currentVersion < schemaVersion {
		log.Info().
			Int("old_version", currentVersion).
			Int("new_version", schemaVersion).
			Msg("schema version changed, rebuilding cycle history")
		_, _ = db.Exec("DROP TABLE IF EXISTS cycles")
	}

	schema := `
		CREATE TABLE IF NOT EXISTS cycles (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			name TEXT NOT NULL,
			server TEXT NOT NULL,
			method TEXT NOT NULL,
			fallback_used INTEGER NOT NULL,
			exit_code INTEGER NOT NULL,
			success INTEGER NOT NULL,
			error TEXT NOT NULL DEFAULT '',
			started_at TEXT NOT NULL,
			finished_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_cycles_session ON cycles(session_id);
		CREATE INDEX IF NOT EXISTS idx_cycles_finished ON cycles(finished_at DESC);
	`
	if _, err := db.Exec(schema); err != nil {
		return err
	}

	_, err = db.Exec(
		"INSERT OR REPLACE INTO metadata (key, value) VALUES ('schema_version', ?)",
		schemaVersion,
	)
	return err
}

// Record implements session.Recorder. Failures are logged, never returned.
func (s *Store) Record(rec session.CycleRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO cycles
			(session_id, name, server, method, fallback_used, exit_code, success, error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.SessionID,
		rec.Name,
		rec.Server,
		rec.Method,
		boolToInt(rec.FallbackUsed),
		rec.ExitCode,
		boolToInt(rec.Success),
		rec.Error,
		rec.StartedAt.UTC().Format(time.RFC3339Nano),
		rec.FinishedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		log.Warn().Err(err).Str("session_id", rec.SessionID).Msg("failed to record cycle")
	}
}

// Recent returns the most recent cycles across all sessions, newest first.
func (s *Store) Recent(limit int) ([]Entry, error) {
	return s.query(
		`SELECT id, session_id, name, server, method, fallback_used, exit_code, success, error, started_at, finished_at
		 FROM cycles ORDER BY id DESC LIMIT ?`, limit)
}

// BySession returns the most recent cycles for one session, newest first.
func (s *Store) BySession(sessionID string, limit int) ([]Entry, error) {
	return s.query(
		`SELECT id, session_id, name, server, method, fallback_used, exit_code, success, error, started_at, finished_at
		 FROM cycles WHERE session_id = ? ORDER BY id DESC LIMIT ?`, sessionID, limit)
}

func (s *Store) query(stmt string, args ...any) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(stmt, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var fallback, success int
		var started, finished string
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Name, &e.Server, &e.Method,
			&fallback, &e.ExitCode, &success, &e.Error, &started, &finished); err != nil {
			return nil, err
		}
		e.FallbackUsed = fallback != 0
		e.Success = success != 0
		e.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
		e.FinishedAt, _ = time.Parse(time.RFC3339Nano, finished)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
