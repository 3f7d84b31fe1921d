package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// PostgresStore implements SessionStore on Postgres. Query-relevant fields
// live in columns; the participant/comment aggregate is a jsonb document,
// since nothing queries inside it. A partial unique index on
// (commit_sha, repository) WHERE status='active' backs the
// one-active-session-per-commit invariant even across processes.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) PutSession(ctx context.Context, session *ReviewSession) error {
	data, err := json.Marshal(sessionData{
		ActiveFile:   session.ActiveFile,
		Participants: session.Participants,
		Comments:     session.Comments,
	})
	if err != nil {
		return fmt.Errorf("marshal session data: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO review_sessions (id, commit_sha, repository, created_by_id, created_by_name, status, created_at, last_activity_at, data)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			status=EXCLUDED.status,
			last_activity_at=EXCLUDED.last_activity_at,
			data=EXCLUDED.data
	`, session.ID, session.CommitSHA, session.Repository, session.CreatedByID, session.CreatedByName,
		string(session.Status), session.CreatedAt, session.LastActivityAt, data)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetSession(ctx context.Context, id string) (*ReviewSession, error) {
	return s.querySession(ctx, `
		SELECT id, commit_sha, repository, created_by_id, created_by_name, status, created_at, last_activity_at, data
		FROM review_sessions WHERE id=$1
	`, id)
}

func (s *PostgresStore) FindActiveByCommit(ctx context.Context, commitSHA, repository string) (*ReviewSession, error) {
	return s.querySession(ctx, `
		SELECT id, commit_sha, repository, created_by_id, created_by_name, status, created_at, last_activity_at, data
		FROM review_sessions WHERE commit_sha=$1 AND repository=$2 AND status='active'
	`, commitSHA, repository)
}

func (s *PostgresStore) ListSessions(ctx context.Context) ([]*ReviewSession, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, commit_sha, repository, created_by_id, created_by_name, status, created_at, last_activity_at, data
		FROM review_sessions ORDER BY created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []*ReviewSession
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

type sessionData struct {
	ActiveFile   *ActiveFile                    `json:"activeFile,omitempty"`
	Participants map[string]*SessionParticipant `json:"participants"`
	Comments     []*LiveComment                 `json:"comments"`
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *PostgresStore) querySession(ctx context.Context, query string, args ...any) (*ReviewSession, error) {
	session, err := scanSession(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return session, err
}

func scanSession(row rowScanner) (*ReviewSession, error) {
	var (
		session ReviewSession
		status  string
		raw     []byte
	)
	if err := row.Scan(&session.ID, &session.CommitSHA, &session.Repository,
		&session.CreatedByID, &session.CreatedByName, &status,
		&session.CreatedAt, &session.LastActivityAt, &raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan session: %w", err)
	}
	session.Status = SessionStatus(status)

	var data sessionData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("unmarshal session data: %w", err)
	}
	session.ActiveFile = data.ActiveFile
	session.Participants = data.Participants
	session.Comments = data.Comments
	if session.Participants == nil {
		session.Participants = make(map[string]*SessionParticipant)
	}
	return &session, nil
}
