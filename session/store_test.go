package session

import (
	"path/filepath"
	"testing"

	"github.com/memva/memva-go/store"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	db, err := store.Open(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("store.Open() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewStore()
}

func TestCreateAndGet(t *testing.T) {
	s := openTestStore(t)

	sess, err := s.Create("/home/user/project", "My Session")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if sess.Status != StatusActive || sess.ClaudeStatus != ClaudeNotStarted {
		t.Fatalf("unexpected initial state: %+v", sess)
	}

	got, err := s.Get(sess.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Title != "My Session" || got.ProjectPath != "/home/user/project" {
		t.Fatalf("unexpected fetched session: %+v", got)
	}
}

func TestGet_MissingReturnsErrNotFound(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.Get("does-not-exist"); err != store.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateClaudeStatus(t *testing.T) {
	s := openTestStore(t)
	sess, err := s.Create("/proj", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := s.UpdateClaudeStatus(sess.ID, ClaudeProcessing); err != nil {
		t.Fatalf("update claude_status: %v", err)
	}
	got, err := s.Get(sess.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ClaudeStatus != ClaudeProcessing {
		t.Fatalf("expected processing, got %s", got.ClaudeStatus)
	}
}

func TestUpdateSettings_RoundTrips(t *testing.T) {
	s := openTestStore(t)
	sess, err := s.Create("/proj", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	override := Settings{PermissionMode: ModePlan, MaxTurns: 5}
	if err := s.UpdateSettings(sess.ID, override); err != nil {
		t.Fatalf("update settings: %v", err)
	}

	got, err := s.Get(sess.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Settings == nil || got.Settings.PermissionMode != ModePlan || got.Settings.MaxTurns != 5 {
		t.Fatalf("expected override to round-trip, got %+v", got.Settings)
	}
}

func TestSettingsStore_GetSeededSingleton(t *testing.T) {
	openTestStore(t)
	ss := NewSettingsStore()

	ps, err := ss.Get()
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ps.PermissionMode != ModeDefault || ps.MaxTurns != 200 {
		t.Fatalf("expected seeded defaults, got %+v", ps)
	}
}

func TestSettingsStore_UpdateRoundTrips(t *testing.T) {
	openTestStore(t)
	ss := NewSettingsStore()

	if err := ss.Update(ProcessSettings{Settings: Settings{MaxTurns: 42, PermissionMode: ModeAcceptEdits}}); err != nil {
		t.Fatalf("update: %v", err)
	}

	ps, err := ss.Get()
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ps.MaxTurns != 42 || ps.PermissionMode != ModeAcceptEdits {
		t.Fatalf("expected updated values, got %+v", ps)
	}
}
