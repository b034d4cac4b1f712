// Package bridge is the PermissionBridge: a standalone per-session
// subprocess launched by the assistant CLI itself (via
// --permission-prompt-tool stdio) that exposes exactly one MCP tool,
// approval_prompt, over stdio. It writes a pending permission_requests
// row and polls the store until a human (or the timeout sweep) decides
// it, then answers the assistant's tool call directly. It never reaches
// into the event log or the job queue — that orchestration belongs to
// the main process.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/oklog/ulid/v2"

	"github.com/memva/memva-go/log"
	"github.com/memva/memva-go/permission"
)

const pollInterval = 500 * time.Millisecond

// Bridge wires one session's approval_prompt tool to the permission
// store.
type Bridge struct {
	sessionID string
	store     *permission.Store
}

// New returns a Bridge bound to one session.
func New(sessionID string, store *permission.Store) *Bridge {
	return &Bridge{sessionID: sessionID, store: store}
}

// Server builds the MCP stdio server exposing approval_prompt.
func (b *Bridge) Server() *server.MCPServer {
	s := server.NewMCPServer(
		"memva-permission-bridge",
		"1.0.0",
		server.WithToolCapabilities(false),
	)

	tool := mcp.NewTool("approval_prompt",
		mcp.WithDescription("Ask the user whether to allow a tool call"),
		mcp.WithString("tool_name", mcp.Required(), mcp.Description("The tool the assistant wants to invoke")),
		mcp.WithObject("input", mcp.Required(), mcp.Description("The tool's input parameters")),
		mcp.WithString("tool_use_id", mcp.Description("The assistant's tool_use id, if provided")),
	)
	s.AddTool(tool, b.handleApprovalPrompt)

	return s
}

// Serve runs the stdio server until the assistant CLI closes stdin.
func (b *Bridge) Serve() error {
	return server.ServeStdio(b.Server())
}

// approvalResponse is the fixed JSON shape the assistant CLI expects back
// from an approval_prompt tool_result.
type approvalResponse struct {
	Behavior     string          `json:"behavior"` // "allow" | "deny"
	Message      string          `json:"message,omitempty"`
	UpdatedInput json.RawMessage `json:"updatedInput,omitempty"`
}

func (b *Bridge) handleApprovalPrompt(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()

	toolName, _ := args["tool_name"].(string)
	toolUseID, _ := args["tool_use_id"].(string)
	if toolName == "" {
		return denyResult("tool_name is required"), nil
	}

	inputJSON, err := json.Marshal(args["input"])
	if err != nil {
		return denyResult(fmt.Sprintf("invalid input: %v", err)), nil
	}

	pr, err := b.store.Create(permission.CreateInput{
		SessionID: b.sessionID,
		ToolName:  toolName,
		ToolUseID: toolUseID,
		Input:     inputJSON,
	})
	if err != nil {
		log.Error().Err(err).Str("sessionId", b.sessionID).Msg("failed to create permission request")
		return denyResult("failed to record permission request"), nil
	}

	// ulid, not uuid, for this log-only correlation id: its lexical sort
	// order matches creation order, which makes grepping the bridge log
	// for "which request came first" trivial without parsing timestamps.
	correlationID := ulid.Make().String()
	log.Info().Str("requestId", pr.ID).Str("correlationId", correlationID).Str("tool", toolName).Msg("awaiting permission decision")

	decision, err := b.awaitDecision(ctx, pr.ID)
	if err != nil {
		return denyResult(err.Error()), nil
	}

	resp := approvalResponse{}
	switch decision.Status {
	case permission.StatusApproved:
		resp.Behavior = "allow"
		resp.UpdatedInput = inputJSON
	case permission.StatusDenied:
		resp.Behavior = "deny"
		resp.Message = "User denied request"
	case permission.StatusTimeout:
		resp.Behavior = "deny"
		resp.Message = "Permission request timed out"
	default:
		resp.Behavior = "deny"
		resp.Message = "Permission request ended without a decision"
	}

	body, err := json.Marshal(resp)
	if err != nil {
		return denyResult("failed to encode response"), nil
	}
	return mcp.NewToolResultText(string(body)), nil
}

// denyResult builds the normal (non-error) JSON text result the assistant
// CLI expects back from approval_prompt, per spec.md §4.8 point 3: on
// exception the bridge returns {behavior:"deny", message:<error>} rather
// than throwing an MCP tool error to the assistant.
func denyResult(message string) *mcp.CallToolResult {
	body, err := json.Marshal(approvalResponse{Behavior: "deny", Message: message})
	if err != nil {
		// approvalResponse always marshals; this is unreachable in
		// practice, but NewToolResultText still needs a string.
		body = []byte(`{"behavior":"deny"}`)
	}
	return mcp.NewToolResultText(string(body))
}

// awaitDecision polls the permission row until it leaves pending, the
// request's own expires_at passes, or ctx is cancelled (the assistant CLI
// killed the bridge process). On expiry it returns the row as last read,
// which may still be pending; the caller answers deny for anything not
// approved.
func (b *Bridge) awaitDecision(ctx context.Context, id string) (*permission.Request, error) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		pr, err := b.store.Get(id)
		if err != nil {
			return nil, fmt.Errorf("reload permission request: %w", err)
		}
		if pr.Status != permission.StatusPending {
			return pr, nil
		}
		if time.Now().UTC().After(pr.ExpiresAt) {
			return pr, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
