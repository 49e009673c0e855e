package db

import (
	"context"
	"fmt"
	"strings"
)

// Migrate creates every table the application needs. Safe to call multiple
// times; all statements are IF NOT EXISTS or tolerate an existing object.
func Migrate(ctx context.Context, q Querier, dialect Dialect) error {
	for i, stmt := range SchemaStatements(dialect) {
		if _, err := q.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema statement %d: %w", i+1, err)
		}
	}
	return nil
}

// SchemaStatements renders the DDL for dialect.
func SchemaStatements(dialect Dialect) []string {
	idCol := "BIGSERIAL PRIMARY KEY"
	showIfFK := ""
	if dialect == SQLite {
		idCol = "INTEGER PRIMARY KEY AUTOINCREMENT"
		// sqlite resolves foreign keys lazily, so the forward reference is fine
		showIfFK = " REFERENCES questions(id) ON DELETE CASCADE"
	}

	out := make([]string, 0, len(schema)+1)
	for _, stmt := range schema {
		stmt = strings.ReplaceAll(stmt, "{{id}}", idCol)
		stmt = strings.ReplaceAll(stmt, "{{showif_fk}}", showIfFK)
		out = append(out, stmt)
	}
	if dialect == Postgres {
		out = append(out, `
DO $$ BEGIN
	ALTER TABLE showifs ADD CONSTRAINT showifs_previous_question_fk
		FOREIGN KEY (previous_question_id) REFERENCES questions(id) ON DELETE CASCADE;
EXCEPTION WHEN duplicate_object THEN NULL;
END $$`)
	}
	return out
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS askers (
	id {{id}},
	name TEXT NOT NULL DEFAULT '',
	slug TEXT NOT NULL DEFAULT '',
	success_message TEXT NOT NULL DEFAULT '',
	redirect_url TEXT NOT NULL DEFAULT '',
	finish_on_last_page BOOLEAN NOT NULL DEFAULT FALSE,
	show_progress BOOLEAN NOT NULL DEFAULT FALSE,
	step_navigation BOOLEAN NOT NULL DEFAULT TRUE,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
)`,
	`CREATE TABLE IF NOT EXISTS ask_pages (
	id {{id}},
	asker_id BIGINT NOT NULL REFERENCES askers(id) ON DELETE CASCADE,
	position INTEGER NOT NULL DEFAULT 0,
	step_name TEXT NOT NULL DEFAULT '',
	submit_button_text TEXT NOT NULL DEFAULT ''
)`,
	`CREATE INDEX IF NOT EXISTS idx_ask_pages_asker ON ask_pages(asker_id, position)`,
	`CREATE TABLE IF NOT EXISTS choicesets (
	id {{id}},
	name TEXT NOT NULL UNIQUE
)`,
	`CREATE TABLE IF NOT EXISTS choices (
	id {{id}},
	choiceset_id BIGINT NOT NULL REFERENCES choicesets(id) ON DELETE CASCADE,
	position INTEGER NOT NULL DEFAULT 0,
	score INTEGER NOT NULL,
	label TEXT NOT NULL DEFAULT '',
	mapped_score INTEGER,
	is_default BOOLEAN NOT NULL DEFAULT FALSE
)`,
	`CREATE INDEX IF NOT EXISTS idx_choices_set ON choices(choiceset_id, position)`,
	`CREATE TABLE IF NOT EXISTS showifs (
	id {{id}},
	previous_question_id BIGINT{{showif_fk}},
	values_list TEXT,
	less_than INTEGER,
	more_than INTEGER
)`,
	`CREATE TABLE IF NOT EXISTS questions (
	id {{id}},
	variable_name TEXT NOT NULL UNIQUE,
	page_id BIGINT REFERENCES ask_pages(id) ON DELETE SET NULL,
	position INTEGER NOT NULL DEFAULT 0,
	q_type TEXT NOT NULL DEFAULT 'instruction',
	text TEXT NOT NULL DEFAULT '',
	help_text TEXT NOT NULL DEFAULT '',
	required BOOLEAN NOT NULL DEFAULT FALSE,
	choiceset_id BIGINT REFERENCES choicesets(id) ON DELETE SET NULL,
	showif_id BIGINT REFERENCES showifs(id) ON DELETE SET NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_questions_page ON questions(page_id, position)`,
	`CREATE TABLE IF NOT EXISTS studies (
	id {{id}},
	slug TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL DEFAULT ''
)`,
	`CREATE TABLE IF NOT EXISTS conditions (
	id {{id}},
	study_id BIGINT NOT NULL REFERENCES studies(id) ON DELETE CASCADE,
	tag TEXT NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS users (
	id {{id}},
	username TEXT NOT NULL UNIQUE,
	email TEXT,
	full_name TEXT NOT NULL DEFAULT '',
	password_hash TEXT NOT NULL DEFAULT '',
	is_active BOOLEAN NOT NULL DEFAULT TRUE,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
)`,
	`CREATE TABLE IF NOT EXISTS user_groups (
	user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	group_name TEXT NOT NULL,
	PRIMARY KEY (user_id, group_name)
)`,
	`CREATE TABLE IF NOT EXISTS auth_sessions (
	id {{id}},
	user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	session_token_hash TEXT NOT NULL UNIQUE,
	expires_at TIMESTAMP NOT NULL,
	revoked_at TIMESTAMP,
	ip_address TEXT,
	user_agent TEXT,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
)`,
	`CREATE TABLE IF NOT EXISTS memberships (
	id {{id}},
	user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	study_id BIGINT NOT NULL REFERENCES studies(id) ON DELETE CASCADE,
	condition_id BIGINT REFERENCES conditions(id) ON DELETE SET NULL,
	relates_to_id BIGINT REFERENCES memberships(id) ON DELETE SET NULL,
	date_randomised DATE
)`,
	`CREATE TABLE IF NOT EXISTS observations (
	id {{id}},
	membership_id BIGINT NOT NULL REFERENCES memberships(id) ON DELETE CASCADE,
	n_in_sequence INTEGER,
	due TIMESTAMP NOT NULL,
	due_original TIMESTAMP NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	script_reference TEXT NOT NULL DEFAULT ''
)`,
	`CREATE TABLE IF NOT EXISTS observation_data (
	id {{id}},
	observation_id BIGINT NOT NULL REFERENCES observations(id) ON DELETE CASCADE,
	data_key TEXT NOT NULL,
	value TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
)`,
	`CREATE TABLE IF NOT EXISTS replies (
	id {{id}},
	asker_id BIGINT NOT NULL REFERENCES askers(id) ON DELETE CASCADE,
	observation_id BIGINT REFERENCES observations(id) ON DELETE SET NULL,
	token TEXT NOT NULL UNIQUE,
	entry_method TEXT NOT NULL DEFAULT 'participant',
	is_canonical_reply BOOLEAN NOT NULL DEFAULT FALSE,
	started TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	last_submit TIMESTAMP,
	originally_collected_on TIMESTAMP
)`,
	`CREATE INDEX IF NOT EXISTS idx_replies_asker ON replies(asker_id, entry_method)`,
	`CREATE TABLE IF NOT EXISTS answers (
	id {{id}},
	question_id BIGINT REFERENCES questions(id) ON DELETE RESTRICT,
	page_id BIGINT REFERENCES ask_pages(id) ON DELETE SET NULL,
	other_variable_name TEXT,
	reply_id BIGINT NOT NULL REFERENCES replies(id) ON DELETE CASCADE,
	answer TEXT,
	choices TEXT,
	upload TEXT,
	meta TEXT,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	last_modified TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE (question_id, reply_id, page_id),
	UNIQUE (other_variable_name, reply_id, page_id)
)`,
	`CREATE INDEX IF NOT EXISTS idx_answers_reply ON answers(reply_id)`,
	`CREATE TABLE IF NOT EXISTS audit_log (
	id {{id}},
	actor_id BIGINT,
	entity TEXT NOT NULL,
	entity_id BIGINT NOT NULL,
	action TEXT NOT NULL,
	detail TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
)`,
}
