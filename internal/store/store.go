package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

const schema = `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		mode TEXT NOT NULL,
		state TEXT NOT NULL,
		createdAt REAL NOT NULL,
		updatedAt REAL NOT NULL,
		chunksEmitted INTEGER NOT NULL DEFAULT 0,
		chunksCompleted INTEGER NOT NULL DEFAULT 0,
		chunksFailed INTEGER NOT NULL DEFAULT 0,
		capturedMs INTEGER NOT NULL DEFAULT 0,
		error TEXT,
		errorKind TEXT
	);

	CREATE TABLE IF NOT EXISTS chunk_results (
		sessionId TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		chunkIndex INTEGER NOT NULL,
		startMs INTEGER NOT NULL,
		endMs INTEGER NOT NULL,
		text TEXT NOT NULL DEFAULT '',
		failureCategory TEXT,
		failureMessage TEXT,
		requestMs INTEGER NOT NULL DEFAULT 0,
		createdAt REAL NOT NULL,
		UNIQUE(sessionId, chunkIndex)
	);

	CREATE TABLE IF NOT EXISTS transcripts (
		sessionId TEXT PRIMARY KEY REFERENCES sessions(id) ON DELETE CASCADE,
		text TEXT NOT NULL,
		rendered TEXT NOT NULL,
		chunks INTEGER NOT NULL,
		failed INTEGER NOT NULL,
		createdAt REAL NOT NULL
	);

	CREATE TABLE IF NOT EXISTS summaries (
		id TEXT PRIMARY KEY,
		sessionId TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		content TEXT NOT NULL DEFAULT '',
		error TEXT,
		createdAt REAL NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_summaries_session ON summaries(sessionId, createdAt);
`

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Store provides read-write access to the minutes database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies the
// schema. Use MemoryPath for a throwaway database.
func Open(path string) (*Store, error) {
	dsn := MemoryPath
	if path != MemoryPath {
		if dir := filepath.Dir(path); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create database directory: %w", err)
			}
		}
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection keeps an in-memory database alive and serializes writers.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveSession inserts or updates a session row.
func (s *Store) SaveSession(ctx context.Context, sess Session) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, mode, state, createdAt, updatedAt, chunksEmitted,
			chunksCompleted, chunksFailed, capturedMs, error, errorKind)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			state = excluded.state,
			updatedAt = excluded.updatedAt,
			chunksEmitted = excluded.chunksEmitted,
			chunksCompleted = excluded.chunksCompleted,
			chunksFailed = excluded.chunksFailed,
			capturedMs = excluded.capturedMs,
			error = excluded.error,
			errorKind = excluded.errorKind
	`, sess.ID, sess.Mode, sess.State, unixFromTime(sess.CreatedAt), unixFromTime(sess.UpdatedAt),
		sess.ChunksEmitted, sess.ChunksCompleted, sess.ChunksFailed, sess.Captured.Milliseconds(),
		nullString(sess.Error), nullString(sess.ErrorKind))
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// Session returns one session.
func (s *Store) Session(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, mode, state, createdAt, updatedAt, chunksEmitted, chunksCompleted,
			chunksFailed, capturedMs, error, errorKind
		FROM sessions
		WHERE id = ?
	`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return sess, err
}

// Sessions returns every session, newest first.
func (s *Store) Sessions(ctx context.Context) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, mode, state, createdAt, updatedAt, chunksEmitted, chunksCompleted,
			chunksFailed, capturedMs, error, errorKind
		FROM sessions
		ORDER BY createdAt DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *sess)
	}
	return sessions, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*Session, error) {
	var sess Session
	var createdAt, updatedAt float64
	var capturedMs int64
	var errText, errKind sql.NullString

	if err := row.Scan(&sess.ID, &sess.Mode, &sess.State, &createdAt, &updatedAt,
		&sess.ChunksEmitted, &sess.ChunksCompleted, &sess.ChunksFailed, &capturedMs,
		&errText, &errKind); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan session: %w", err)
	}

	sess.CreatedAt = timeFromUnix(createdAt)
	sess.UpdatedAt = timeFromUnix(updatedAt)
	sess.Captured = time.Duration(capturedMs) * time.Millisecond
	sess.Error = errText.String
	sess.ErrorKind = errKind.String
	return &sess, nil
}

// SaveChunk records a chunk result. A result for the same session and
// index replaces the earlier one.
func (s *Store) SaveChunk(ctx context.Context, c Chunk) error {
	created := c.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chunk_results (sessionId, chunkIndex, startMs, endMs, text,
			failureCategory, failureMessage, requestMs, createdAt)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(sessionId, chunkIndex) DO UPDATE SET
			startMs = excluded.startMs,
			endMs = excluded.endMs,
			text = excluded.text,
			failureCategory = excluded.failureCategory,
			failureMessage = excluded.failureMessage,
			requestMs = excluded.requestMs,
			createdAt = excluded.createdAt
	`, c.SessionID, c.Index, c.Start.Milliseconds(), c.End.Milliseconds(), c.Text,
		nullString(c.FailureCategory), nullString(c.FailureMessage),
		c.RequestDuration.Milliseconds(), unixFromTime(created))
	if err != nil {
		return fmt.Errorf("save chunk %d: %w", c.Index, err)
	}
	return nil
}

// Chunks returns the chunk results of a session in index order.
func (s *Store) Chunks(ctx context.Context, sessionID string) ([]Chunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sessionId, chunkIndex, startMs, endMs, text, failureCategory,
			failureMessage, requestMs, createdAt
		FROM chunk_results
		WHERE sessionId = ?
		ORDER BY chunkIndex ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}
	defer rows.Close()

	var chunks []Chunk
	for rows.Next() {
		var c Chunk
		var startMs, endMs, requestMs int64
		var createdAt float64
		var category, message sql.NullString
		if err := rows.Scan(&c.SessionID, &c.Index, &startMs, &endMs, &c.Text,
			&category, &message, &requestMs, &createdAt); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		c.Start = time.Duration(startMs) * time.Millisecond
		c.End = time.Duration(endMs) * time.Millisecond
		c.RequestDuration = time.Duration(requestMs) * time.Millisecond
		c.FailureCategory = category.String
		c.FailureMessage = message.String
		c.CreatedAt = timeFromUnix(createdAt)
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// SaveTranscript stores the finalized transcript of a session.
func (s *Store) SaveTranscript(ctx context.Context, t Transcript) error {
	created := t.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transcripts (sessionId, text, rendered, chunks, failed, createdAt)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(sessionId) DO UPDATE SET
			text = excluded.text,
			rendered = excluded.rendered,
			chunks = excluded.chunks,
			failed = excluded.failed,
			createdAt = excluded.createdAt
	`, t.SessionID, t.Text, t.Rendered, t.Chunks, t.Failed, unixFromTime(created))
	if err != nil {
		return fmt.Errorf("save transcript: %w", err)
	}
	return nil
}

// Transcript returns the finalized transcript of a session.
func (s *Store) Transcript(ctx context.Context, sessionID string) (*Transcript, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT sessionId, text, rendered, chunks, failed, createdAt
		FROM transcripts
		WHERE sessionId = ?
	`, sessionID)

	var t Transcript
	var createdAt float64
	if err := row.Scan(&t.SessionID, &t.Text, &t.Rendered, &t.Chunks, &t.Failed, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan transcript: %w", err)
	}
	t.CreatedAt = timeFromUnix(createdAt)
	return &t, nil
}

// AddSummary records one summarization attempt and returns its ID.
func (s *Store) AddSummary(ctx context.Context, sum Summary) (string, error) {
	if sum.ID == "" {
		sum.ID = uuid.NewString()
	}
	created := sum.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO summaries (id, sessionId, content, error, createdAt)
		VALUES (?, ?, ?, ?, ?)
	`, sum.ID, sum.SessionID, sum.Content, nullString(sum.Error), unixFromTime(created))
	if err != nil {
		return "", fmt.Errorf("save summary: %w", err)
	}
	return sum.ID, nil
}

// LatestSummary returns the most recent successful summary of a session.
func (s *Store) LatestSummary(ctx context.Context, sessionID string) (*Summary, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, sessionId, content, error, createdAt
		FROM summaries
		WHERE sessionId = ? AND error IS NULL
		ORDER BY createdAt DESC
		LIMIT 1
	`, sessionID)

	var sum Summary
	var createdAt float64
	var errText sql.NullString
	if err := row.Scan(&sum.ID, &sum.SessionID, &sum.Content, &errText, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan summary: %w", err)
	}
	sum.Error = errText.String
	sum.CreatedAt = timeFromUnix(createdAt)
	return &sum, nil
}

// SummaryAttempts counts summarization attempts of a session, failed ones
// included.
func (s *Store) SummaryAttempts(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM summaries WHERE sessionId = ?`, sessionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count summaries: %w", err)
	}
	return n, nil
}

// DeleteSession removes a session and everything recorded for it.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	for _, q := range []string{
		`DELETE FROM summaries WHERE sessionId = ?`,
		`DELETE FROM transcripts WHERE sessionId = ?`,
		`DELETE FROM chunk_results WHERE sessionId = ?`,
		`DELETE FROM sessions WHERE id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, id); err != nil {
			return fmt.Errorf("delete session: %w", err)
		}
	}
	return tx.Commit()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func unixFromTime(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func timeFromUnix(ts float64) time.Time {
	sec := int64(ts)
	nsec := int64((ts - float64(sec)) * 1e9)
	return time.Unix(sec, nsec)
}
