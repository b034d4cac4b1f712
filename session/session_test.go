package session

import (
	"encoding/json"
	"os/exec"
	"strings"
	"testing"

	"github.com/memva/memva-go/event"
)

func TestMerge_OverrideWinsOnNonZeroFields(t *testing.T) {
	base := Settings{MaxTurns: 200, PermissionMode: ModeDefault, DefaultDirectory: "/base"}

	merged := base.Merge(&Settings{PermissionMode: ModePlan})
	if merged.PermissionMode != ModePlan {
		t.Fatalf("expected override permission mode to win, got %s", merged.PermissionMode)
	}
	if merged.MaxTurns != 200 {
		t.Fatalf("expected base MaxTurns to survive an override that doesn't set it, got %d", merged.MaxTurns)
	}
	if merged.DefaultDirectory != "/base" {
		t.Fatalf("expected base DefaultDirectory to survive, got %s", merged.DefaultDirectory)
	}
}

func TestMerge_NilOverrideReturnsBase(t *testing.T) {
	base := Settings{MaxTurns: 50, PermissionMode: ModeAcceptEdits}
	merged := base.Merge(nil)
	if merged != base {
		t.Fatalf("expected nil override to return base unchanged, got %+v", merged)
	}
}

func TestEffectiveSettings_NoOverride(t *testing.T) {
	sess := &Session{Settings: nil}
	proc := Settings{MaxTurns: 100, PermissionMode: ModeDefault}
	eff := sess.EffectiveSettings(proc)
	if eff != proc {
		t.Fatalf("expected process defaults unchanged when session has no override, got %+v", eff)
	}
}

func TestEffectiveSettings_SessionOverride(t *testing.T) {
	sess := &Session{Settings: &Settings{PermissionMode: ModeBypassPermissions}}
	proc := Settings{MaxTurns: 100, PermissionMode: ModeDefault}
	eff := sess.EffectiveSettings(proc)
	if eff.PermissionMode != ModeBypassPermissions {
		t.Fatalf("expected session override to win, got %s", eff.PermissionMode)
	}
	if eff.MaxTurns != 100 {
		t.Fatalf("expected process MaxTurns to carry through, got %d", eff.MaxTurns)
	}
}

func TestProjectName(t *testing.T) {
	sess := &Session{ProjectPath: "/home/user/projects/widget-api"}
	if got := sess.ProjectName(); got != "widget-api" {
		t.Fatalf("expected widget-api, got %s", got)
	}
}

func TestDisplayTitle_PrefersUserSetTitle(t *testing.T) {
	sess := &Session{Title: "My custom title"}
	if got := sess.DisplayTitle(nil); got != "My custom title" {
		t.Fatalf("expected the user-set title to win, got %q", got)
	}
}

func TestDisplayTitle_TruncatesToFirstLineAndCap(t *testing.T) {
	sess := &Session{Title: "first line\nsecond line"}
	if got := sess.DisplayTitle(nil); got != "first line" {
		t.Fatalf("expected only the first line, got %q", got)
	}

	longTitle := strings.Repeat("x", 200)
	sess = &Session{Title: longTitle}
	got := sess.DisplayTitle(nil)
	if len([]rune(got)) != displayTitleMaxLen+1 || !strings.HasSuffix(got, "…") {
		t.Fatalf("expected a 120-char title truncated with an ellipsis, got %q (len %d)", got, len([]rune(got)))
	}
}

func TestDisplayTitle_FallsBackToFirstUserPrompt(t *testing.T) {
	sess := &Session{}
	data, _ := json.Marshal(map[string]interface{}{
		"type": "user",
		"message": map[string]interface{}{
			"content": []map[string]interface{}{
				{"type": "text", "text": "fix the login bug"},
			},
		},
	})
	events := []*event.Event{{EventType: event.TypeUser, Data: data}}

	if got := sess.DisplayTitle(events); got != "fix the login bug" {
		t.Fatalf("expected the first user prompt, got %q", got)
	}
}

func TestDisplayTitle_FallsBackToUntitled(t *testing.T) {
	sess := &Session{}
	if got := sess.DisplayTitle(nil); got != "Untitled" {
		t.Fatalf("expected Untitled with no title and no events, got %q", got)
	}
}

func TestGitInfo_RealRepository(t *testing.T) {
	dir := t.TempDir()
	runGit(t, dir, "init")
	runGit(t, dir, "checkout", "-b", "main")
	// HEAD needs a commit for `rev-parse --abbrev-ref HEAD` to name the branch.
	runGit(t, dir, "-c", "user.name=test", "-c", "user.email=test@example.com", "commit", "--allow-empty", "-m", "init")
	runGit(t, dir, "remote", "add", "origin", "https://example.com/widget.git")

	sess := &Session{ProjectPath: dir}
	info := sess.GitInfo()
	if info == nil {
		t.Fatal("expected git info for a real repository, got nil")
	}
	if !info.IsRepo {
		t.Fatal("expected IsRepo=true")
	}
	if info.Branch != "main" {
		t.Fatalf("expected branch main, got %q", info.Branch)
	}
	if info.RemoteURL != "https://example.com/widget.git" {
		t.Fatalf("expected the origin remote url, got %q", info.RemoteURL)
	}
}

func TestGitInfo_NotARepository(t *testing.T) {
	sess := &Session{ProjectPath: t.TempDir()}
	if info := sess.GitInfo(); info != nil {
		t.Fatalf("expected nil for a non-repository directory, got %+v", info)
	}
}

func runGit(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("git %v: %v\n%s", args, err, out)
	}
}
