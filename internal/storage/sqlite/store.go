// Package sqlite provides SQLite-backed session and run stores. The default
// DSN is an in-memory database, so data lives for the process lifetime.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/tjfontaine/theory-council/internal/core/domain"
	"github.com/tjfontaine/theory-council/internal/core/ports"
)

// MemoryDSN opens a private in-memory database.
const MemoryDSN = ":memory:"

// Store owns the database handle shared by the session store and run log.
type Store struct {
	db *sql.DB

	// mu serializes read-modify-write session updates.
	mu sync.Mutex

	newID func() string
}

// New opens (or creates) the database at dbPath.
func New(dbPath string) (*Store, error) {
	if dbPath == "" {
		dbPath = MemoryDSN
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if dbPath == MemoryDSN {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	} else if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	store := &Store{db: db, newID: uuid.NewString}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

func (s *Store) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			messages TEXT NOT NULL,
			last_run_id TEXT,
			last_result TEXT,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			session_id TEXT,
			status TEXT NOT NULL,
			result TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_session ON runs(session_id)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}

	return nil
}

// Sessions returns the session store view.
func (s *Store) Sessions() *SessionStore {
	return &SessionStore{store: s}
}

// Runs returns the run log view.
func (s *Store) Runs() *RunLog {
	return &RunLog{store: s}
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SessionStore implements ports.SessionStore on top of Store.
type SessionStore struct {
	store *Store
}

func (ss *SessionStore) GetOrCreate(ctx context.Context, sessionID string) (*domain.SessionState, error) {
	ss.store.mu.Lock()
	defer ss.store.mu.Unlock()

	return ss.store.loadOrCreate(ctx, sessionID)
}

func (ss *SessionStore) Get(ctx context.Context, sessionID string) (*domain.SessionState, error) {
	sess, err := ss.store.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, fmt.Errorf("session %s: %w", sessionID, ports.ErrNotFound)
	}
	return sess, nil
}

func (ss *SessionStore) ReplaceMessages(ctx context.Context, sessionID string, messages []domain.ChatMessage) (*domain.SessionState, error) {
	return ss.update(ctx, sessionID, func(sess *domain.SessionState) {
		sess.Messages = append([]domain.ChatMessage{}, messages...)
	})
}

func (ss *SessionStore) AppendMessage(ctx context.Context, sessionID string, message domain.ChatMessage) (*domain.SessionState, error) {
	return ss.update(ctx, sessionID, func(sess *domain.SessionState) {
		sess.Messages = append(sess.Messages, message)
	})
}

func (ss *SessionStore) RecordRun(ctx context.Context, sessionID, runID string, result *domain.PipelineResult) (*domain.SessionState, error) {
	return ss.update(ctx, sessionID, func(sess *domain.SessionState) {
		sess.LastRunID = runID
		sess.LastResult = result
	})
}

// Close is a no-op; the owning Store closes the database.
func (ss *SessionStore) Close() error {
	return nil
}

func (ss *SessionStore) update(ctx context.Context, sessionID string, mutate func(*domain.SessionState)) (*domain.SessionState, error) {
	ss.store.mu.Lock()
	defer ss.store.mu.Unlock()

	sess, err := ss.store.loadOrCreate(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	mutate(sess)
	if err := ss.store.save(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *Store) loadOrCreate(ctx context.Context, sessionID string) (*domain.SessionState, error) {
	sess, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess != nil {
		return sess, nil
	}

	sess = &domain.SessionState{SessionID: sessionID, Messages: []domain.ChatMessage{}}
	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, messages, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		sessionID, "[]", now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return sess, nil
}

// load returns nil, nil when the session does not exist.
func (s *Store) load(ctx context.Context, sessionID string) (*domain.SessionState, error) {
	var (
		messagesJSON string
		lastRunID    sql.NullString
		lastResult   sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT messages, last_run_id, last_result FROM sessions WHERE id = ?`, sessionID,
	).Scan(&messagesJSON, &lastRunID, &lastResult)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	sess := &domain.SessionState{SessionID: sessionID, LastRunID: lastRunID.String}
	if err := json.Unmarshal([]byte(messagesJSON), &sess.Messages); err != nil {
		return nil, fmt.Errorf("failed to unmarshal messages: %w", err)
	}
	if sess.Messages == nil {
		sess.Messages = []domain.ChatMessage{}
	}
	if lastResult.Valid && lastResult.String != "" {
		sess.LastResult = &domain.PipelineResult{}
		if err := json.Unmarshal([]byte(lastResult.String), sess.LastResult); err != nil {
			return nil, fmt.Errorf("failed to unmarshal last result: %w", err)
		}
	}
	return sess, nil
}

func (s *Store) save(ctx context.Context, sess *domain.SessionState) error {
	messages, err := json.Marshal(sess.Messages)
	if err != nil {
		return fmt.Errorf("failed to marshal messages: %w", err)
	}

	var lastResult sql.NullString
	if sess.LastResult != nil {
		data, err := json.Marshal(sess.LastResult)
		if err != nil {
			return fmt.Errorf("failed to marshal last result: %w", err)
		}
		lastResult = sql.NullString{String: string(data), Valid: true}
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE sessions SET messages = ?, last_run_id = ?, last_result = ?, updated_at = ? WHERE id = ?`,
		string(messages), sql.NullString{String: sess.LastRunID, Valid: sess.LastRunID != ""}, lastResult, time.Now().UTC(), sess.SessionID)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	return nil
}

// RunLog implements ports.RunLog on top of Store.
type RunLog struct {
	store *Store
}

// Store inserts the run under a fresh id, retrying on the rare collision.
func (l *RunLog) Store(ctx context.Context, result *domain.PipelineResult, sessionID string) (string, error) {
	if result == nil {
		return "", fmt.Errorf("cannot store nil result")
	}

	data, err := json.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("failed to marshal result: %w", err)
	}

	for attempt := 0; attempt < 3; attempt++ {
		runID := l.store.newID()
		res, err := l.store.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO runs (id, session_id, status, result, created_at) VALUES (?, ?, ?, ?, ?)`,
			runID, sessionID, string(domain.RunStatusCompleted), string(data), time.Now().UTC())
		if err != nil {
			return "", fmt.Errorf("failed to store run: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 1 {
			return runID, nil
		}
	}
	return "", fmt.Errorf("failed to allocate a unique run id")
}

func (l *RunLog) Get(ctx context.Context, runID string) (*domain.RunRecord, error) {
	var (
		rec       domain.RunRecord
		status    string
		sessionID sql.NullString
		data      string
	)
	err := l.store.db.QueryRowContext(ctx,
		`SELECT id, session_id, status, result, created_at FROM runs WHERE id = ?`, runID,
	).Scan(&rec.RunID, &sessionID, &status, &data, &rec.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", runID, ports.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	rec.Status = domain.RunStatus(status)
	rec.SessionID = sessionID.String
	rec.Result = &domain.PipelineResult{}
	if err := json.Unmarshal([]byte(data), rec.Result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal result: %w", err)
	}
	return &rec, nil
}

// Close is a no-op; the owning Store closes the database.
func (l *RunLog) Close() error {
	return nil
}

var (
	_ ports.SessionStore = (*SessionStore)(nil)
	_ ports.RunLog       = (*RunLog)(nil)
)
