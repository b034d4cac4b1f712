package bridge

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/memva/memva-go/permission"
	"github.com/memva/memva-go/store"
)

func newTestBridge(t *testing.T, expiry time.Duration) *Bridge {
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

	return New("sess-1", permission.NewStore(expiry))
}

func callToolRequest(args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Name = "approval_prompt"
	req.Params.Arguments = args
	return req
}

func TestHandleApprovalPrompt_MissingToolNameYieldsDenyNotError(t *testing.T) {
	b := newTestBridge(t, time.Hour)

	result, err := b.handleApprovalPrompt(context.Background(), callToolRequest(map[string]any{
		"input": map[string]any{},
	}))
	if err != nil {
		t.Fatalf("handleApprovalPrompt: %v", err)
	}
	// spec.md §4.8 point 3: exceptions return a normal {behavior:"deny"}
	// text result, never a thrown MCP tool error.
	if result.IsError {
		t.Fatal("expected a non-error result for a missing tool_name")
	}

	text := result.Content[0].(mcp.TextContent).Text
	var resp approvalResponse
	if err := json.Unmarshal([]byte(text), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.Behavior != "deny" || resp.Message == "" {
		t.Fatalf("expected a deny with a message, got %+v", resp)
	}
}

func TestHandleApprovalPrompt_ApprovedYieldsAllow(t *testing.T) {
	b := newTestBridge(t, time.Hour)

	go func() {
		for i := 0; i < 50; i++ {
			reqs, err := b.store.List(permission.ListFilter{SessionID: "sess-1", Status: permission.StatusPending})
			if err == nil && len(reqs) > 0 {
				b.store.Decide(reqs[0].ID, permission.DecisionAllow)
				return
			}
			time.Sleep(10 * time.Millisecond)
		}
	}()

	result, err := b.handleApprovalPrompt(context.Background(), callToolRequest(map[string]any{
		"tool_name": "Bash",
		"input":     map[string]any{"command": "ls"},
	}))
	if err != nil {
		t.Fatalf("handleApprovalPrompt: %v", err)
	}
	if result.IsError {
		t.Fatalf("expected a non-error result, got %+v", result)
	}

	text := result.Content[0].(mcp.TextContent).Text
	var resp approvalResponse
	if err := json.Unmarshal([]byte(text), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.Behavior != "allow" {
		t.Fatalf("expected behavior allow, got %q", resp.Behavior)
	}
}

func TestHandleApprovalPrompt_DeniedYieldsDeny(t *testing.T) {
	b := newTestBridge(t, time.Hour)

	go func() {
		for i := 0; i < 50; i++ {
			reqs, err := b.store.List(permission.ListFilter{SessionID: "sess-1", Status: permission.StatusPending})
			if err == nil && len(reqs) > 0 {
				b.store.Decide(reqs[0].ID, permission.DecisionDeny)
				return
			}
			time.Sleep(10 * time.Millisecond)
		}
	}()

	result, err := b.handleApprovalPrompt(context.Background(), callToolRequest(map[string]any{
		"tool_name": "Bash",
		"input":     map[string]any{"command": "rm -rf /"},
	}))
	if err != nil {
		t.Fatalf("handleApprovalPrompt: %v", err)
	}

	text := result.Content[0].(mcp.TextContent).Text
	var resp approvalResponse
	if err := json.Unmarshal([]byte(text), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.Behavior != "deny" {
		t.Fatalf("expected behavior deny, got %q", resp.Behavior)
	}
}

func TestHandleApprovalPrompt_ExpiresWhenNeverDecided(t *testing.T) {
	b := newTestBridge(t, 20*time.Millisecond)

	result, err := b.handleApprovalPrompt(context.Background(), callToolRequest(map[string]any{
		"tool_name": "Bash",
		"input":     map[string]any{"command": "ls"},
	}))
	if err != nil {
		t.Fatalf("handleApprovalPrompt: %v", err)
	}

	text := result.Content[0].(mcp.TextContent).Text
	var resp approvalResponse
	if err := json.Unmarshal([]byte(text), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.Behavior != "deny" {
		t.Fatalf("expected a deny for an expired, never-decided request, got %+v", resp)
	}
}
