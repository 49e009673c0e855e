package study

import (
	"database/sql"
	"testing"
	"time"

	"surveydesk/internal/db/dbtest"
)

type fixture struct {
	conn         *sql.DB
	askerID      int64
	pageID       int64
	ageID        int64
	moodID       int64
	userID       int64
	studyID      int64
	membershipID int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	conn := dbtest.OpenSQLite(t)
	f := &fixture{conn: conn}

	f.askerID = dbtest.InsertID(t, conn, `INSERT INTO askers (name) VALUES ('Intake') RETURNING id`)
	f.pageID = dbtest.InsertID(t, conn, `INSERT INTO ask_pages (asker_id, step_name) VALUES ($1, 'p1') RETURNING id`, f.askerID)
	setID := dbtest.InsertID(t, conn, `INSERT INTO choicesets (name) VALUES ('mood3') RETURNING id`)
	dbtest.InsertID(t, conn, `INSERT INTO choices (choiceset_id, position, score, label) VALUES ($1, 0, 1, 'Low') RETURNING id`, setID)
	dbtest.InsertID(t, conn, `INSERT INTO choices (choiceset_id, position, score, label, mapped_score) VALUES ($1, 1, 2, 'High', 20) RETURNING id`, setID)
	f.ageID = dbtest.InsertID(t, conn, `
		INSERT INTO questions (variable_name, page_id, position, q_type) VALUES ('age', $1, 0, 'integer') RETURNING id
	`, f.pageID)
	f.moodID = dbtest.InsertID(t, conn, `
		INSERT INTO questions (variable_name, page_id, position, q_type, choiceset_id) VALUES ('mood', $1, 1, 'likert', $2) RETURNING id
	`, f.pageID, setID)

	f.userID = dbtest.InsertID(t, conn, `INSERT INTO users (username) VALUES ('p01') RETURNING id`)
	f.studyID = dbtest.InsertID(t, conn, `INSERT INTO studies (slug, name) VALUES ('trial', 'Trial') RETURNING id`)
	conditionID := dbtest.InsertID(t, conn, `INSERT INTO conditions (study_id, tag) VALUES ($1, 'control') RETURNING id`, f.studyID)
	f.membershipID = dbtest.InsertID(t, conn, `
		INSERT INTO memberships (user_id, study_id, condition_id, date_randomised) VALUES ($1, $2, $3, $4) RETURNING id
	`, f.userID, f.studyID, conditionID, time.Date(2024, time.January, 10, 0, 0, 0, 0, time.UTC))
	return f
}

func (f *fixture) observation(t *testing.T, n int, due time.Time, status string) int64 {
	t.Helper()
	return dbtest.InsertID(t, f.conn, `
		INSERT INTO observations (membership_id, n_in_sequence, due, due_original, status, script_reference)
		VALUES ($1, $2, $3, $3, $4, 'weekly') RETURNING id
	`, f.membershipID, n, due, status)
}
