// Package event is the append-only EventLog: immutable records threaded
// into a per-session chain via parent_uuid, storing the assistant CLI's
// raw message payload verbatim.
package event

import (
	"encoding/json"
	"time"
)

// Type mirrors the assistant CLI's own `type` field.
type Type string

const (
	TypeUser          Type = "user"
	TypeAssistant     Type = "assistant"
	TypeSystem        Type = "system"
	TypeToolResult     Type = "tool_result"
	TypeResult        Type = "result"
	TypeUserCancelled Type = "user_cancelled"
	TypeSummary       Type = "summary"
)

// Event is one immutable record appended during a run. It is never
// updated or deleted by the core.
type Event struct {
	UUID              string
	MemvaSessionID    string
	ExternalSessionID string
	EventType         Type
	Timestamp         time.Time
	ParentUUID        string // empty means no parent
	IsSidechain       bool
	Cwd               string
	ProjectName       string
	Data              json.RawMessage
	Visible           bool
}

// toolUseMessage is the narrow shape the core reads out of an assistant event's
// data payload to discover tool_use entries, per the design note that the
// full assistant protocol is never strongly typed.
type toolUseMessage struct {
	Message struct {
		Content []struct {
			Type    string `json:"type"`
			ID      string `json:"id"`
			Name    string `json:"name"`
			Input   json.RawMessage `json:"input"`
		} `json:"content"`
	} `json:"message"`
}

// FindToolUse returns the (id, name) of the first tool_use entry in an
// assistant event's payload, if any.
func (e *Event) FindToolUse() (id, name string, ok bool) {
	var parsed toolUseMessage
	if err := json.Unmarshal(e.Data, &parsed); err != nil {
		return "", "", false
	}
	for _, c := range parsed.Message.Content {
		if c.Type == "tool_use" {
			return c.ID, c.Name, true
		}
	}
	return "", "", false
}

// toolResultMessage is the narrow shape read to detect a tool_result
// payload, including the exit-plan and permission-deny synthesis paths.
type toolResultMessage struct {
	Message struct {
		Role    string `json:"role"`
		Content []struct {
			Type      string `json:"type"`
			ToolUseID string `json:"tool_use_id"`
			Content   interface{} `json:"content"`
			IsError   bool   `json:"is_error"`
		} `json:"content"`
	} `json:"message"`
}

// FindToolResult returns the (tool_use_id, is_error) of the first
// tool_result entry in a user event's payload, if any.
func (e *Event) FindToolResult() (toolUseID string, isError bool, ok bool) {
	var parsed toolResultMessage
	if err := json.Unmarshal(e.Data, &parsed); err != nil {
		return "", false, false
	}
	for _, c := range parsed.Message.Content {
		if c.Type == "tool_result" {
			return c.ToolUseID, c.IsError, true
		}
	}
	return "", false, false
}

// SessionIDFromMessage extracts the assistant CLI's own session_id field
// from a raw stdout message, if present.
func SessionIDFromMessage(raw json.RawMessage) string {
	var m struct {
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal(raw, &m); err != nil {
		return ""
	}
	return m.SessionID
}

// MessageType extracts the `type` discriminator from a raw stdout message.
func MessageType(raw json.RawMessage) string {
	var m struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &m); err != nil {
		return ""
	}
	return m.Type
}

// userTextMessage is the narrow shape read to pull the plain-text prompt
// out of a user event, for display-title computation.
type userTextMessage struct {
	Message struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"message"`
}

// FirstUserPromptText returns the text of the first text-content block in
// the first user-typed event in events (assumed ordered ascending by
// ListForSession), or "" if there is none.
func FirstUserPromptText(events []*Event) string {
	for _, e := range events {
		if e.EventType != TypeUser {
			continue
		}
		var parsed userTextMessage
		if err := json.Unmarshal(e.Data, &parsed); err != nil {
			continue
		}
		for _, c := range parsed.Message.Content {
			if c.Type == "text" && c.Text != "" {
				return c.Text
			}
		}
	}
	return ""
}
