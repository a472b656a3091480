package db

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// FileName is the catalog file name under the output root.
const FileName = "catalog.sqlite"

const schema = `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		root TEXT NOT NULL,
		startedAt REAL NOT NULL,
		endedAt REAL,
		status TEXT NOT NULL DEFAULT 'active',
		createdAt REAL NOT NULL
	);

	CREATE TABLE IF NOT EXISTS segments (
		id TEXT PRIMARY KEY,
		sessionId TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		phase INTEGER NOT NULL,
		sequenceNumber INTEGER NOT NULL,
		stimulus TEXT NOT NULL,
		path TEXT NOT NULL,
		targetFrames INTEGER NOT NULL,
		frames INTEGER NOT NULL,
		durationMs INTEGER NOT NULL,
		elapsedMs INTEGER NOT NULL,
		partial INTEGER NOT NULL DEFAULT 0,
		canceled INTEGER NOT NULL DEFAULT 0,
		createdAt REAL NOT NULL
	);

	CREATE INDEX IF NOT EXISTS segments_session ON segments(sessionId, phase, sequenceNumber);
`

// Store is the session catalog.
type Store struct {
	db *sql.DB
}

// DefaultDBPath returns the catalog path under outputRoot.
func DefaultDBPath(outputRoot string) string {
	return filepath.Join(outputRoot, FileName)
}

// Open opens or creates the catalog for writing and applies the schema.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.Migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// OpenReadOnly opens an existing catalog in read-only mode with WAL.
func OpenReadOnly(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?mode=ro&_journal_mode=WAL", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Verify connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Migrate creates missing tables.
func (s *Store) Migrate() error {
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateSession records a new active session.
func (s *Store) CreateSession(name, root string, startedAt time.Time) (*Session, error) {
	sess := &Session{
		ID:        uuid.NewString(),
		Name:      name,
		Root:      root,
		StartedAt: startedAt,
		Status:    StatusActive,
		CreatedAt: time.Now(),
	}
	_, err := s.db.Exec(`
		INSERT INTO sessions (id, name, root, startedAt, status, createdAt)
		VALUES (?, ?, ?, ?, ?, ?)
	`, sess.ID, sess.Name, sess.Root, unixFromTime(sess.StartedAt), sess.Status, unixFromTime(sess.CreatedAt))
	if err != nil {
		return nil, fmt.Errorf("insert session %s: %w", name, err)
	}
	return sess, nil
}

// EndSession marks a session completed.
func (s *Store) EndSession(id string, endedAt time.Time) error {
	res, err := s.db.Exec(`
		UPDATE sessions SET endedAt = ?, status = ? WHERE id = ?
	`, unixFromTime(endedAt), StatusCompleted, id)
	if err != nil {
		return fmt.Errorf("end session %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("end session %s: not found", id)
	}
	return nil
}

// AddSegment records a finalized segment. ID and CreatedAt are filled in.
func (s *Store) AddSegment(seg Segment) (*Segment, error) {
	seg.ID = uuid.NewString()
	seg.CreatedAt = time.Now()
	_, err := s.db.Exec(`
		INSERT INTO segments (id, sessionId, phase, sequenceNumber, stimulus, path,
			targetFrames, frames, durationMs, elapsedMs, partial, canceled, createdAt)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, seg.ID, seg.SessionID, seg.Phase, seg.SequenceNumber, seg.Stimulus, seg.Path,
		seg.TargetFrames, seg.Frames, seg.Duration.Milliseconds(), seg.Elapsed.Milliseconds(),
		seg.Partial, seg.Canceled, unixFromTime(seg.CreatedAt))
	if err != nil {
		return nil, fmt.Errorf("insert segment %s: %w", seg.Path, err)
	}
	return &seg, nil
}

// SegmentsForSession returns all segments of a session ordered by phase and
// presentation order.
func (s *Store) SegmentsForSession(sessionID string) ([]Segment, error) {
	rows, err := s.db.Query(`
		SELECT id, sessionId, phase, sequenceNumber, stimulus, path,
			targetFrames, frames, durationMs, elapsedMs, partial, canceled, createdAt
		FROM segments
		WHERE sessionId = ?
		ORDER BY phase ASC, sequenceNumber ASC, createdAt ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query segments: %w", err)
	}
	defer rows.Close()

	var segments []Segment
	for rows.Next() {
		var seg Segment
		var durationMs, elapsedMs int64
		var createdAt float64
		if err := rows.Scan(&seg.ID, &seg.SessionID, &seg.Phase, &seg.SequenceNumber,
			&seg.Stimulus, &seg.Path, &seg.TargetFrames, &seg.Frames, &durationMs,
			&elapsedMs, &seg.Partial, &seg.Canceled, &createdAt); err != nil {
			return nil, fmt.Errorf("scan segment: %w", err)
		}
		seg.Duration = time.Duration(durationMs) * time.Millisecond
		seg.Elapsed = time.Duration(elapsedMs) * time.Millisecond
		seg.CreatedAt = timeFromUnix(createdAt)
		segments = append(segments, seg)
	}
	return segments, rows.Err()
}

const sessionColumns = `id, name, root, startedAt, endedAt, status, createdAt`

// InterruptSession marks an active session left behind by a process that
// never ended it.
func (s *Store) InterruptSession(id string) error {
	res, err := s.db.Exec(`
		UPDATE sessions SET status = ? WHERE id = ? AND status = ?
	`, StatusInterrupted, id, StatusActive)
	if err != nil {
		return fmt.Errorf("interrupt session %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("interrupt session %s: not active", id)
	}
	return nil
}

// ActiveSession returns the most recent active session, if any.
func (s *Store) ActiveSession() (*Session, error) {
	return s.scanSession(s.db.QueryRow(`
		SELECT ` + sessionColumns + `
		FROM sessions
		WHERE status = 'active'
		ORDER BY startedAt DESC
		LIMIT 1
	`))
}

// LatestSession returns the most recent session regardless of status.
func (s *Store) LatestSession() (*Session, error) {
	return s.scanSession(s.db.QueryRow(`
		SELECT ` + sessionColumns + `
		FROM sessions
		ORDER BY startedAt DESC
		LIMIT 1
	`))
}

// SessionByName looks a session up by its directory name.
func (s *Store) SessionByName(name string) (*Session, error) {
	return s.scanSession(s.db.QueryRow(`
		SELECT `+sessionColumns+`
		FROM sessions
		WHERE name = ?
	`, name))
}

// Sessions returns up to limit sessions, newest first.
func (s *Store) Sessions(limit int) ([]Session, error) {
	rows, err := s.db.Query(`
		SELECT `+sessionColumns+`
		FROM sessions
		ORDER BY startedAt DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		sess, err := s.scanSession(rows)
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

func (s *Store) scanSession(row scanner) (*Session, error) {
	var sess Session
	var startedAt, createdAt float64
	var endedAt sql.NullFloat64

	if err := row.Scan(&sess.ID, &sess.Name, &sess.Root, &startedAt, &endedAt,
		&sess.Status, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan session: %w", err)
	}

	sess.StartedAt = timeFromUnix(startedAt)
	sess.CreatedAt = timeFromUnix(createdAt)
	if endedAt.Valid {
		t := timeFromUnix(endedAt.Float64)
		sess.EndedAt = &t
	}
	return &sess, nil
}

func unixFromTime(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func timeFromUnix(ts float64) time.Time {
	sec := int64(ts)
	nsec := int64((ts - float64(sec)) * 1e9)
	return time.Unix(sec, nsec)
}
