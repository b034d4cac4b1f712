package session

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/memva/memva-go/store"
)

// SettingsStore is the process-wide Settings singleton repository
// (id='singleton'), including defaultDirectory; a session's own
// defaultDirectory, when set, overrides it through Merge.
type SettingsStore struct{}

func NewSettingsStore() *SettingsStore {
	return &SettingsStore{}
}

// ProcessSettings is the singleton row's payload.
type ProcessSettings struct {
	Settings
}

// Get reads the singleton row, seeded by the initial migration so this
// never returns store.ErrNotFound in practice.
func (s *SettingsStore) Get() (ProcessSettings, error) {
	row, err := store.SelectOne(
		`SELECT max_turns, permission_mode, default_directory FROM settings WHERE id = 'singleton'`,
		nil,
		func(row *sql.Row) (ProcessSettings, error) {
			var ps ProcessSettings
			var maxTurns int64
			var mode string
			var dir sql.NullString
			if err := row.Scan(&maxTurns, &mode, &dir); err != nil {
				return ProcessSettings{}, err
			}
			ps.MaxTurns = uint(maxTurns)
			ps.PermissionMode = PermissionMode(mode)
			ps.DefaultDirectory = dir.String
			return ps, nil
		},
	)
	if err != nil {
		return ProcessSettings{}, fmt.Errorf("get settings: %w", err)
	}
	if row == nil {
		return ProcessSettings{Settings: DefaultSettings()}, nil
	}
	return *row, nil
}

// Update replaces the singleton row.
func (s *SettingsStore) Update(ps ProcessSettings) error {
	_, err := store.Run(
		`UPDATE settings SET max_turns = ?, permission_mode = ?, default_directory = ?, updated_at = ? WHERE id = 'singleton'`,
		int64(ps.MaxTurns), string(ps.PermissionMode), nullableString(ps.DefaultDirectory), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("update settings: %w", err)
	}
	return nil
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
