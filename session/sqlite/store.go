// Package sqlite implements the durable core.SessionStore on SQLite. One
// process owns the database file; per-session mutexes serialize appends for
// the same session while distinct sessions proceed in parallel.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hupe1980/sentinelmesh/core"
	"github.com/hupe1980/sentinelmesh/session"
)

// Store implements core.SessionStore using SQLite.
type Store struct {
	db         *sql.DB
	summarizer *session.Summarizer

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Options configure the store.
type Options struct {
	// Summarizer enables history compaction on append. Nil disables it.
	Summarizer *session.Summarizer
}

// NewStore opens (or creates) the database at dsn and runs migrations.
func NewStore(dsn string, optFns ...func(o *Options)) (*Store, error) {
	var opts Options
	for _, fn := range optFns {
		fn(&opts)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	s := &Store{db: db, summarizer: opts.Summarizer, locks: make(map[string]*sync.Mutex)}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// migrate runs database migrations.
func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			created_at DATETIME NOT NULL,
			last_active_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS turns (
			turn_id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			role TEXT NOT NULL,
			agent TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			is_summary INTEGER NOT NULL DEFAULT 0,
			FOREIGN KEY (session_id) REFERENCES sessions(session_id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_turns_session ON turns(session_id, turn_id)`,
	}
	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return err
		}
	}
	return nil
}

// sessionLock returns the mutex serializing writes for sessionID.
func (s *Store) sessionLock(sessionID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[sessionID] = lock
	}
	return lock
}

// Create implements core.SessionStore.
func (s *Store) Create(ctx context.Context) (string, error) {
	id := core.NewSessionID()
	now := time.Now().UTC()
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (session_id, created_at, last_active_at) VALUES (?, ?, ?)`,
		id, now, now,
	); err != nil {
		return "", fmt.Errorf("%w: create session: %v", core.ErrPersistence, err)
	}
	return id, nil
}

// Append implements core.SessionStore. Appends to the same session are
// serialized; the summarizer, when configured, compacts over-budget
// histories inside the same critical section so readers never observe a
// half-compacted log.
func (s *Store) Append(ctx context.Context, sessionID string, turn core.Turn) error {
	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET last_active_at = ? WHERE session_id = ?`,
		time.Now().UTC(), sessionID,
	)
	if err != nil {
		return fmt.Errorf("%w: touch session: %v", core.ErrPersistence, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", core.ErrSessionNotFound, sessionID)
	}

	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO turns (session_id, role, agent, content, created_at, is_summary)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		sessionID, string(turn.Role), string(turn.Agent), turn.Content, turn.Timestamp, turn.Summary,
	); err != nil {
		return fmt.Errorf("%w: append turn: %v", core.ErrPersistence, err)
	}

	if s.summarizer == nil {
		return nil
	}
	turns, err := s.history(ctx, sessionID)
	if err != nil {
		return nil // the append itself succeeded
	}
	compacted, ok := s.summarizer.Compact(ctx, turns)
	if !ok {
		return nil
	}
	return s.replaceTurns(ctx, sessionID, compacted)
}

// replaceTurns atomically swaps a session's turn log for its compacted form.
func (s *Store) replaceTurns(ctx context.Context, sessionID string, turns []core.Turn) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin compaction: %v", core.ErrPersistence, err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM turns WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("%w: clear turns: %v", core.ErrPersistence, err)
	}
	for _, turn := range turns {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO turns (session_id, role, agent, content, created_at, is_summary)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			sessionID, string(turn.Role), string(turn.Agent), turn.Content, turn.Timestamp, turn.Summary,
		); err != nil {
			return fmt.Errorf("%w: rewrite turn: %v", core.ErrPersistence, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit compaction: %v", core.ErrPersistence, err)
	}
	return nil
}

// History implements core.SessionStore.
func (s *Store) History(ctx context.Context, sessionID string) ([]core.Turn, error) {
	var exists int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM sessions WHERE session_id = ?`, sessionID,
	).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("%w: lookup session: %v", core.ErrPersistence, err)
	}
	if exists == 0 {
		return nil, fmt.Errorf("%w: %s", core.ErrSessionNotFound, sessionID)
	}
	return s.history(ctx, sessionID)
}

func (s *Store) history(ctx context.Context, sessionID string) ([]core.Turn, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT role, agent, content, created_at, is_summary
		 FROM turns WHERE session_id = ? ORDER BY turn_id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: load history: %v", core.ErrPersistence, err)
	}
	defer rows.Close()

	var turns []core.Turn
	for rows.Next() {
		var turn core.Turn
		var role, agent string
		if err := rows.Scan(&role, &agent, &turn.Content, &turn.Timestamp, &turn.Summary); err != nil {
			return nil, fmt.Errorf("%w: scan turn: %v", core.ErrPersistence, err)
		}
		turn.Role = core.Role(role)
		turn.Agent = core.AgentID(agent)
		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate turns: %v", core.ErrPersistence, err)
	}
	return turns, nil
}

// Clear implements core.SessionStore. Turn rows cascade with the session.
func (s *Store) Clear(ctx context.Context, sessionID string) error {
	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE session_id = ?`, sessionID,
	); err != nil {
		return fmt.Errorf("%w: clear session: %v", core.ErrPersistence, err)
	}
	s.mu.Lock()
	delete(s.locks, sessionID)
	s.mu.Unlock()
	return nil
}

// Close implements core.SessionStore.
func (s *Store) Close() error { return s.db.Close() }
