package permission

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/memva/memva-go/store"
)

// Store is the PermissionStore repository.
type Store struct {
	expiry time.Duration
}

// NewStore returns a PermissionStore using expiry as the default lifetime
// for newly created pending rows (spec default: 24h).
func NewStore(expiry time.Duration) *Store {
	if expiry == 0 {
		expiry = 24 * time.Hour
	}
	return &Store{expiry: expiry}
}

// CreateInput is the payload accepted by Create.
type CreateInput struct {
	SessionID string
	ToolName  string
	ToolUseID string
	Input     json.RawMessage
}

// Create inserts a pending row with expires_at = now + expiry.
func (s *Store) Create(in CreateInput) (*Request, error) {
	now := time.Now().UTC()
	req := &Request{
		ID:        uuid.NewString(),
		SessionID: in.SessionID,
		ToolName:  in.ToolName,
		ToolUseID: in.ToolUseID,
		Input:     in.Input,
		Status:    StatusPending,
		CreatedAt: now,
		ExpiresAt: now.Add(s.expiry),
	}

	_, err := store.Run(
		`INSERT INTO permission_requests (id, session_id, tool_name, tool_use_id, input, status, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		req.ID, req.SessionID, req.ToolName, nullableString(req.ToolUseID), string(req.Input),
		string(req.Status), format(req.CreatedAt), format(req.ExpiresAt),
	)
	if err != nil {
		return nil, fmt.Errorf("create permission request: %w", err)
	}
	return req, nil
}

// Get fetches a permission request by id.
func (s *Store) Get(id string) (*Request, error) {
	req, err := store.SelectOne(selectColumns+` FROM permission_requests WHERE id = ?`, []store.QueryParam{id}, scanRow)
	if err != nil {
		return nil, fmt.Errorf("get permission request: %w", err)
	}
	if req == nil {
		return nil, store.ErrNotFound
	}
	return req, nil
}

// List returns rows matching filter, newest first.
func (s *Store) List(filter ListFilter) ([]*Request, error) {
	query := selectColumns + ` FROM permission_requests WHERE 1=1`
	var params []store.QueryParam

	if filter.ID != "" {
		query += ` AND id = ?`
		params = append(params, filter.ID)
	}
	if filter.SessionID != "" {
		query += ` AND session_id = ?`
		params = append(params, filter.SessionID)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		params = append(params, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC`

	return store.Select(query, params, scanPtr)
}

// Decide transitions a pending row to approved/denied. Returns
// store.ErrConflict if the row is not currently pending.
func (s *Store) Decide(id string, decision Decision) (*Request, error) {
	status := StatusApproved
	if decision == DecisionDeny {
		status = StatusDenied
	}
	now := time.Now().UTC()

	res, err := store.Run(
		`UPDATE permission_requests SET status = ?, decision = ?, decided_at = ? WHERE id = ? AND status = 'pending'`,
		string(status), string(decision), format(now), id,
	)
	if err != nil {
		return nil, fmt.Errorf("decide permission request: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, store.ErrConflict
	}
	return s.Get(id)
}

// CanAnswer reports whether id is still answerable: pending, not expired,
// and (per the caller) no assistant tool_result for its tool_use_id has
// already landed. The tool_result check is the caller's responsibility
// since it crosses into the event log; this only checks the row itself.
func (s *Store) CanAnswer(id string) (bool, error) {
	req, err := s.Get(id)
	if err != nil {
		return false, err
	}
	if req.Status != StatusPending {
		return false, nil
	}
	if time.Now().UTC().After(req.ExpiresAt) {
		return false, nil
	}
	return true, nil
}

// ExpireOverdue sets overdue pending rows to timeout and returns the
// count affected, for the maintenance sweep.
func (s *Store) ExpireOverdue() (int64, error) {
	now := format(time.Now().UTC())
	res, err := store.Run(
		`UPDATE permission_requests SET status = 'timeout' WHERE status = 'pending' AND expires_at < ?`,
		now,
	)
	if err != nil {
		return 0, fmt.Errorf("expire overdue permissions: %w", err)
	}
	return res.RowsAffected()
}

const selectColumns = `SELECT id, session_id, tool_name, tool_use_id, input, status, decision, decided_at, created_at, expires_at`

func scanPtr(rows *sql.Rows) (*Request, error) {
	var (
		req                              Request
		toolUseID, decision, decidedAt   sql.NullString
		statusStr, createdAt, expiresAt  string
	)
	if err := rows.Scan(&req.ID, &req.SessionID, &req.ToolName, &toolUseID, &req.Input, &statusStr,
		&decision, &decidedAt, &createdAt, &expiresAt); err != nil {
		return nil, err
	}
	return finishScan(&req, toolUseID, decision, decidedAt, statusStr, createdAt, expiresAt)
}

func scanRow(row *sql.Row) (Request, error) {
	var (
		req                              Request
		toolUseID, decision, decidedAt   sql.NullString
		statusStr, createdAt, expiresAt  string
	)
	if err := row.Scan(&req.ID, &req.SessionID, &req.ToolName, &toolUseID, &req.Input, &statusStr,
		&decision, &decidedAt, &createdAt, &expiresAt); err != nil {
		return Request{}, err
	}
	out, err := finishScan(&req, toolUseID, decision, decidedAt, statusStr, createdAt, expiresAt)
	if err != nil {
		return Request{}, err
	}
	return *out, nil
}

func finishScan(req *Request, toolUseID, decision, decidedAt sql.NullString, statusStr, createdAt, expiresAt string) (*Request, error) {
	req.ToolUseID = toolUseID.String
	req.Decision = Decision(decision.String)
	req.Status = Status(statusStr)

	if decidedAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, decidedAt.String)
		if err != nil {
			return nil, err
		}
		req.DecidedAt = &t
	}

	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, err
	}
	req.CreatedAt = t

	t, err = time.Parse(time.RFC3339Nano, expiresAt)
	if err != nil {
		return nil, err
	}
	req.ExpiresAt = t

	return req, nil
}

func format(t time.Time) string {
	return t.Format(time.RFC3339Nano)
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
