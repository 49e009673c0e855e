package report

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"surveydesk/internal/db/dbtest"
)

func TestSummaryByAsker(t *testing.T) {
	conn := dbtest.OpenSQLite(t)
	ctx := context.Background()

	askerID := dbtest.InsertID(t, conn, `INSERT INTO askers (name) VALUES ('Intake') RETURNING id`)
	pageID := dbtest.InsertID(t, conn, `INSERT INTO ask_pages (asker_id, position, step_name) VALUES ($1, 0, 'p1') RETURNING id`, askerID)
	dbtest.InsertID(t, conn, `INSERT INTO questions (variable_name, page_id, position, q_type) VALUES ('intro', $1, 0, 'instruction') RETURNING id`, pageID)
	ageID := dbtest.InsertID(t, conn, `INSERT INTO questions (variable_name, page_id, position, q_type) VALUES ('age', $1, 1, 'integer') RETURNING id`, pageID)
	dbtest.InsertID(t, conn, `INSERT INTO questions (variable_name, page_id, position, q_type) VALUES ('mood', $1, 2, 'likert') RETURNING id`, pageID)

	submitted := time.Date(2024, time.March, 1, 9, 0, 0, 0, time.UTC)
	r1 := dbtest.InsertID(t, conn, `INSERT INTO replies (asker_id, token, entry_method, last_submit) VALUES ($1, 't1', 'participant', $2) RETURNING id`, askerID, submitted)
	r2 := dbtest.InsertID(t, conn, `INSERT INTO replies (asker_id, token, entry_method) VALUES ($1, 't2', 'participant') RETURNING id`, askerID)
	dbtest.InsertID(t, conn, `INSERT INTO replies (asker_id, token, entry_method) VALUES ($1, 't3', 'preview') RETURNING id`, askerID)

	dbtest.InsertID(t, conn, `INSERT INTO answers (question_id, page_id, reply_id, answer) VALUES ($1, $2, $3, '34') RETURNING id`, ageID, pageID, r1)
	dbtest.InsertID(t, conn, `INSERT INTO answers (question_id, page_id, reply_id, answer) VALUES ($1, $2, $3, '') RETURNING id`, ageID, pageID, r2)

	svc := NewService(conn)
	out, err := svc.SummaryByAsker(ctx, askerID)
	require.NoError(t, err)
	assert.Equal(t, 3, out.Replies)
	assert.Equal(t, 1, out.Submitted)
	assert.Equal(t, map[string]int{"participant": 2, "preview": 1}, out.ByEntryMethod)
	assert.Equal(t, []VariableCount{{Name: "age", Answered: 1}, {Name: "mood", Answered: 0}}, out.Variables)

	_, err = svc.SummaryByAsker(ctx, askerID+100)
	assert.True(t, errors.Is(err, ErrAskerNotFound))
	_, err = svc.SummaryByAsker(ctx, 0)
	assert.True(t, errors.Is(err, ErrInvalidInput))
}
