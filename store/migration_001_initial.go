package store

import "database/sql"

func init() {
	RegisterMigration(Migration{
		Version:     1,
		Description: "sessions, events, jobs, permission_requests, settings",
		Up:          migration001Initial,
	})
}

func migration001Initial(db *sql.DB) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		CREATE TABLE sessions (
			id             TEXT PRIMARY KEY,
			title          TEXT,
			project_path   TEXT NOT NULL,
			status         TEXT NOT NULL DEFAULT 'active',
			claude_status  TEXT NOT NULL DEFAULT 'not_started',
			resume_token   TEXT,
			metadata       TEXT,
			settings       TEXT,
			created_at     TEXT NOT NULL,
			updated_at     TEXT NOT NULL
		);
		CREATE INDEX idx_sessions_status ON sessions(status);
	`)
	if err != nil {
		return err
	}

	_, err = tx.Exec(`
		CREATE TABLE events (
			uuid                TEXT PRIMARY KEY,
			memva_session_id    TEXT NOT NULL,
			external_session_id TEXT NOT NULL DEFAULT '',
			event_type          TEXT NOT NULL,
			timestamp           TEXT NOT NULL,
			parent_uuid         TEXT,
			is_sidechain        INTEGER NOT NULL DEFAULT 0,
			cwd                 TEXT,
			project_name        TEXT,
			data                TEXT NOT NULL,
			visible             INTEGER NOT NULL DEFAULT 1,
			insert_seq          INTEGER NOT NULL,
			FOREIGN KEY (memva_session_id) REFERENCES sessions(id)
		);
		CREATE INDEX idx_events_session ON events(memva_session_id, timestamp, insert_seq);
		CREATE INDEX idx_events_external_session ON events(external_session_id);
	`)
	if err != nil {
		return err
	}

	_, err = tx.Exec(`
		CREATE TABLE jobs (
			id            TEXT PRIMARY KEY,
			type          TEXT NOT NULL,
			data          TEXT NOT NULL,
			status        TEXT NOT NULL DEFAULT 'pending',
			priority      INTEGER NOT NULL DEFAULT 0,
			attempts      INTEGER NOT NULL DEFAULT 0,
			max_attempts  INTEGER NOT NULL DEFAULT 3,
			scheduled_at  TEXT,
			started_at    TEXT,
			completed_at  TEXT,
			error         TEXT,
			result        TEXT,
			created_at    TEXT NOT NULL,
			updated_at    TEXT NOT NULL
		);
		CREATE INDEX idx_jobs_claim ON jobs(status, scheduled_at, priority, created_at);
		CREATE INDEX idx_jobs_type_status ON jobs(type, status);
	`)
	if err != nil {
		return err
	}

	_, err = tx.Exec(`
		CREATE TABLE permission_requests (
			id           TEXT PRIMARY KEY,
			session_id   TEXT NOT NULL,
			tool_name    TEXT NOT NULL,
			tool_use_id  TEXT,
			input        TEXT NOT NULL,
			status       TEXT NOT NULL DEFAULT 'pending',
			decision     TEXT,
			decided_at   TEXT,
			created_at   TEXT NOT NULL,
			expires_at   TEXT NOT NULL,
			FOREIGN KEY (session_id) REFERENCES sessions(id)
		);
		CREATE INDEX idx_permission_requests_session ON permission_requests(session_id, status);
		CREATE INDEX idx_permission_requests_expiry ON permission_requests(status, expires_at);
	`)
	if err != nil {
		return err
	}

	_, err = tx.Exec(`
		CREATE TABLE settings (
			id              TEXT PRIMARY KEY,
			max_turns       INTEGER NOT NULL DEFAULT 200,
			permission_mode TEXT NOT NULL DEFAULT 'default',
			default_directory TEXT,
			updated_at      TEXT NOT NULL
		);
	`)
	if err != nil {
		return err
	}

	now := nowRFC3339()
	_, err = tx.Exec(
		`INSERT INTO settings (id, max_turns, permission_mode, updated_at) VALUES ('singleton', 200, 'default', ?)`,
		now,
	)
	if err != nil {
		return err
	}

	return tx.Commit()
}
