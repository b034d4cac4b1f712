package permission

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/memva/memva-go/store"
)

func openTestStore(t *testing.T, expiry time.Duration) *Store {
	t.Helper()
	dir := t.TempDir()
	db, err := store.Open(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("store.Open() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	now := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := store.Run(
		`INSERT INTO sessions (id, title, project_path, status, claude_status, resume_token, created_at, updated_at)
		 VALUES (?, '', '/tmp/proj', 'active', 'not_started', '', ?, ?)`,
		"sess-1", now, now,
	); err != nil {
		t.Fatalf("insert test session: %v", err)
	}

	return NewStore(expiry)
}

func TestDecide_TerminalAndConflict(t *testing.T) {
	s := openTestStore(t, time.Hour)

	req, err := s.Create(CreateInput{SessionID: "sess-1", ToolName: "Bash", Input: json.RawMessage(`{"command":"ls"}`)})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	decided, err := s.Decide(req.ID, DecisionAllow)
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if decided.Status != StatusApproved {
		t.Fatalf("expected status approved, got %s", decided.Status)
	}
	if decided.DecidedAt == nil {
		t.Fatal("expected DecidedAt to be set")
	}

	if _, err := s.Decide(req.ID, DecisionDeny); err != store.ErrConflict {
		t.Fatalf("expected ErrConflict deciding an already-decided request, got %v", err)
	}
}

func TestCanAnswer(t *testing.T) {
	s := openTestStore(t, time.Hour)

	req, err := s.Create(CreateInput{SessionID: "sess-1", ToolName: "Bash", Input: json.RawMessage(`{}`)})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	ok, err := s.CanAnswer(req.ID)
	if err != nil {
		t.Fatalf("CanAnswer: %v", err)
	}
	if !ok {
		t.Fatal("expected a fresh pending request to be answerable")
	}

	if _, err := s.Decide(req.ID, DecisionAllow); err != nil {
		t.Fatalf("decide: %v", err)
	}

	ok, err = s.CanAnswer(req.ID)
	if err != nil {
		t.Fatalf("CanAnswer after decide: %v", err)
	}
	if ok {
		t.Fatal("expected an already-decided request to no longer be answerable")
	}
}

func TestExpireOverdue(t *testing.T) {
	s := openTestStore(t, -time.Hour)

	req, err := s.Create(CreateInput{SessionID: "sess-1", ToolName: "Bash", Input: json.RawMessage(`{}`)})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	n, err := s.ExpireOverdue()
	if err != nil {
		t.Fatalf("ExpireOverdue: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 expired row, got %d", n)
	}

	got, err := s.Get(req.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusTimeout {
		t.Fatalf("expected status timeout, got %s", got.Status)
	}
}

func TestList_FiltersBySessionAndStatus(t *testing.T) {
	s := openTestStore(t, time.Hour)

	a, err := s.Create(CreateInput{SessionID: "sess-1", ToolName: "Bash", Input: json.RawMessage(`{}`)})
	if err != nil {
		t.Fatalf("create a: %v", err)
	}
	b, err := s.Create(CreateInput{SessionID: "sess-1", ToolName: "Write", Input: json.RawMessage(`{}`)})
	if err != nil {
		t.Fatalf("create b: %v", err)
	}
	if _, err := s.Decide(b.ID, DecisionDeny); err != nil {
		t.Fatalf("decide b: %v", err)
	}

	pending, err := s.List(ListFilter{SessionID: "sess-1", Status: StatusPending})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != a.ID {
		t.Fatalf("expected only %q pending, got %+v", a.ID, pending)
	}
}
