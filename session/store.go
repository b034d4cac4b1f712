package session

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/memva/memva-go/store"
)

// Store is the Session repository.
type Store struct{}

// NewStore returns a Session repository bound to the process-wide store
// connection.
func NewStore() *Store {
	return &Store{}
}

// Create inserts a new session with status=active, claude_status=not_started.
func (s *Store) Create(projectPath string, title string) (*Session, error) {
	now := time.Now().UTC()
	sess := &Session{
		ID:           uuid.NewString(),
		Title:        title,
		ProjectPath:  projectPath,
		Status:       StatusActive,
		ClaudeStatus: ClaudeNotStarted,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	metadataJSON, settingsJSON, err := encodeExtras(sess)
	if err != nil {
		return nil, err
	}

	_, err = store.Run(
		`INSERT INTO sessions (id, title, project_path, status, claude_status, resume_token, metadata, settings, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.Title, sess.ProjectPath, string(sess.Status), string(sess.ClaudeStatus), sess.ResumeToken,
		metadataJSON, settingsJSON, format(sess.CreatedAt), format(sess.UpdatedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return sess, nil
}

// Get fetches a session by id. Returns store.ErrNotFound if missing.
func (s *Store) Get(id string) (*Session, error) {
	sess, err := store.SelectOne(
		`SELECT id, title, project_path, status, claude_status, resume_token, metadata, settings, created_at, updated_at
		 FROM sessions WHERE id = ?`,
		[]store.QueryParam{id},
		scanSession,
	)
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if sess == nil {
		return nil, store.ErrNotFound
	}
	return sess, nil
}

// List returns all sessions matching status (or all, if status is empty),
// newest-updated first.
func (s *Store) List(status Status) ([]*Session, error) {
	if status == "" {
		return store.Select(
			`SELECT id, title, project_path, status, claude_status, resume_token, metadata, settings, created_at, updated_at
			 FROM sessions ORDER BY updated_at DESC`,
			nil, scanSessionPtr,
		)
	}
	return store.Select(
		`SELECT id, title, project_path, status, claude_status, resume_token, metadata, settings, created_at, updated_at
		 FROM sessions WHERE status = ? ORDER BY updated_at DESC`,
		[]store.QueryParam{string(status)}, scanSessionPtr,
	)
}

// UpdateClaudeStatus writes a new claude_status. Callers are responsible
// for respecting the state machine invariant; this is the single place
// that performs the write and bumps updated_at.
func (s *Store) UpdateClaudeStatus(id string, status ClaudeStatus) error {
	res, err := store.Run(
		`UPDATE sessions SET claude_status = ?, updated_at = ? WHERE id = ?`,
		string(status), format(time.Now().UTC()), id,
	)
	if err != nil {
		return fmt.Errorf("update claude_status: %w", err)
	}
	return checkRowsAffected(res)
}

// UpdateResumeToken sets the resume token observed from the running
// subprocess. Never clears it implicitly; pass "" explicitly to clear
// after a ResumeFailed error.
func (s *Store) UpdateResumeToken(id, token string) error {
	res, err := store.Run(
		`UPDATE sessions SET resume_token = ?, updated_at = ? WHERE id = ?`,
		token, format(time.Now().UTC()), id,
	)
	if err != nil {
		return fmt.Errorf("update resume_token: %w", err)
	}
	return checkRowsAffected(res)
}

// UpdateSettings replaces the session's settings override.
func (s *Store) UpdateSettings(id string, settings Settings) error {
	data, err := json.Marshal(settings)
	if err != nil {
		return err
	}
	res, err := store.Run(
		`UPDATE sessions SET settings = ?, updated_at = ? WHERE id = ?`,
		string(data), format(time.Now().UTC()), id,
	)
	if err != nil {
		return fmt.Errorf("update settings: %w", err)
	}
	return checkRowsAffected(res)
}

// SetStatus sets the archival status (active/archived).
func (s *Store) SetStatus(id string, status Status) error {
	res, err := store.Run(
		`UPDATE sessions SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), format(time.Now().UTC()), id,
	)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	return checkRowsAffected(res)
}

func checkRowsAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func encodeExtras(sess *Session) (metadataJSON, settingsJSON *string, err error) {
	if sess.Metadata != nil {
		s := string(sess.Metadata)
		metadataJSON = &s
	}
	if sess.Settings != nil {
		data, err := json.Marshal(sess.Settings)
		if err != nil {
			return nil, nil, err
		}
		s := string(data)
		settingsJSON = &s
	}
	return metadataJSON, settingsJSON, nil
}

func scanSessionPtr(rows *sql.Rows) (*Session, error) {
	return scanSessionRows(rows)
}

func scanSessionRows(rows *sql.Rows) (*Session, error) {
	var (
		sess                                Session
		title, resumeToken                  sql.NullString
		metadata, settings                  sql.NullString
		createdAt, updatedAt                 string
		statusStr, claudeStatusStr           string
	)
	if err := rows.Scan(&sess.ID, &title, &sess.ProjectPath, &statusStr, &claudeStatusStr, &resumeToken,
		&metadata, &settings, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	return finishScan(&sess, title, resumeToken, metadata, settings, statusStr, claudeStatusStr, createdAt, updatedAt)
}

func scanSession(row *sql.Row) (Session, error) {
	var (
		sess                                Session
		title, resumeToken                  sql.NullString
		metadata, settings                  sql.NullString
		createdAt, updatedAt                 string
		statusStr, claudeStatusStr           string
	)
	if err := row.Scan(&sess.ID, &title, &sess.ProjectPath, &statusStr, &claudeStatusStr, &resumeToken,
		&metadata, &settings, &createdAt, &updatedAt); err != nil {
		return Session{}, err
	}
	out, err := finishScan(&sess, title, resumeToken, metadata, settings, statusStr, claudeStatusStr, createdAt, updatedAt)
	if err != nil {
		return Session{}, err
	}
	return *out, nil
}

func finishScan(sess *Session, title, resumeToken, metadata, settings sql.NullString, statusStr, claudeStatusStr, createdAt, updatedAt string) (*Session, error) {
	sess.Title = title.String
	sess.ResumeToken = resumeToken.String
	sess.Status = Status(statusStr)
	sess.ClaudeStatus = ClaudeStatus(claudeStatusStr)

	if metadata.Valid {
		sess.Metadata = json.RawMessage(metadata.String)
	}
	if settings.Valid {
		var st Settings
		if err := json.Unmarshal([]byte(settings.String), &st); err != nil {
			return nil, err
		}
		sess.Settings = &st
	}

	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, err
	}
	sess.CreatedAt = t

	t, err = time.Parse(time.RFC3339Nano, updatedAt)
	if err != nil {
		return nil, err
	}
	sess.UpdatedAt = t

	return sess, nil
}

func format(t time.Time) string {
	return t.Format(time.RFC3339Nano)
}
