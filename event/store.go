package event

import (
	"database/sql"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/memva/memva-go/store"
)

// Store is the EventLog repository.
type Store struct{}

func NewStore() *Store {
	return &Store{}
}

// insertSeq guarantees a stable insertion order for events sharing
// an identical timestamp, matching the "stable by insertion order on ties"
// requirement for listForSession without relying on sqlite's rowid
// semantics directly in query text. It is incremented atomically because
// Append is called from concurrent job workers.
var insertSeq int64

// Append inserts an event. Fails with store.ErrConflict if uuid exists.
func (s *Store) Append(e *Event) error {
	if e.UUID == "" {
		e.UUID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	var parent interface{}
	if e.ParentUUID != "" {
		parent = e.ParentUUID
	}

	seq := atomic.AddInt64(&insertSeq, 1)
	_, err := store.Run(
		`INSERT INTO events (uuid, memva_session_id, external_session_id, event_type, timestamp, parent_uuid, is_sidechain, cwd, project_name, data, visible, insert_seq)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.UUID, e.MemvaSessionID, e.ExternalSessionID, string(e.EventType), e.Timestamp.Format(time.RFC3339Nano),
		parent, boolToInt(e.IsSidechain), e.Cwd, e.ProjectName, string(e.Data), boolToInt(e.Visible), seq,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// ListForSession returns events ordered by timestamp ascending, stable by
// insertion order on ties.
func (s *Store) ListForSession(sessionID string) ([]*Event, error) {
	return store.Select(
		selectColumns+` FROM events WHERE memva_session_id = ? ORDER BY timestamp ASC, insert_seq ASC`,
		[]store.QueryParam{sessionID},
		scanEventPtr,
	)
}

// ListRecent returns the newest `limit` events across all sessions.
func (s *Store) ListRecent(limit int) ([]*Event, error) {
	return store.Select(
		selectColumns+` FROM events ORDER BY timestamp DESC, insert_seq DESC LIMIT ?`,
		[]store.QueryParam{limit},
		scanEventPtr,
	)
}

// FindAssistantEventWithToolUseID returns the single assistant event whose
// data.message.content contains a tool_use with the given id, or nil.
func (s *Store) FindAssistantEventWithToolUseID(sessionID, toolUseID string) (*Event, error) {
	events, err := s.ListForSession(sessionID)
	if err != nil {
		return nil, err
	}
	for _, e := range events {
		if e.EventType != TypeAssistant {
			continue
		}
		if id, _, ok := e.FindToolUse(); ok && id == toolUseID {
			return e, nil
		}
	}
	return nil, nil
}

// GroupByExternalSessionID is a pure helper for read APIs: groups events
// by their external_session_id (the assistant's own per-run id).
func GroupByExternalSessionID(events []*Event) map[string][]*Event {
	groups := make(map[string][]*Event)
	for _, e := range events {
		groups[e.ExternalSessionID] = append(groups[e.ExternalSessionID], e)
	}
	return groups
}

const selectColumns = `SELECT uuid, memva_session_id, external_session_id, event_type, timestamp, parent_uuid, is_sidechain, cwd, project_name, data, visible`

func scanEventPtr(rows *sql.Rows) (*Event, error) {
	var (
		e           Event
		eventType   string
		timestamp   string
		parentUUID  sql.NullString
		isSidechain int
		visible     int
	)
	if err := rows.Scan(&e.UUID, &e.MemvaSessionID, &e.ExternalSessionID, &eventType, &timestamp,
		&parentUUID, &isSidechain, &e.Cwd, &e.ProjectName, &e.Data, &visible); err != nil {
		return nil, err
	}
	e.EventType = Type(eventType)
	e.ParentUUID = parentUUID.String
	e.IsSidechain = isSidechain != 0
	e.Visible = visible != 0

	t, err := time.Parse(time.RFC3339Nano, timestamp)
	if err != nil {
		return nil, err
	}
	e.Timestamp = t

	return &e, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "PRIMARY KEY")
}
