package ask

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"surveydesk/internal/db/dbtest"
)

const ageDocument = `
asker:
  name: Intake
---
p1:
  - age:
      q_type: integer
      text: How old are you?
`

const moodOnlyDocument = `
asker:
  name: Intake
---
p1:
  - mood:
      q_type: short-text
      text: How do you feel?
`

func newTestService(t *testing.T) (*Service, *sql.DB) {
	t.Helper()
	conn := dbtest.OpenSQLite(t)
	return NewService(conn), conn
}

func TestImportCreatesAskerGraph(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	asker, err := svc.CreateAsker(ctx, CreateAskerInput{Name: "draft"})
	require.NoError(t, err)

	report, err := svc.ImportYAML(ctx, asker.ID, ageDocument)
	require.NoError(t, err)
	assert.Equal(t, &ImportReport{AskerID: asker.ID, Pages: 1, Questions: 1, CreatedQuestions: 1}, report)

	got, err := svc.GetAsker(ctx, asker.ID)
	require.NoError(t, err)
	assert.Equal(t, "Intake", got.Name)
	require.Len(t, got.Pages, 1)
	assert.Equal(t, "p1", got.Pages[0].StepName)
	assert.Equal(t, 0, got.Pages[0].Order)
	require.Len(t, got.Pages[0].Questions, 1)
	q := got.Pages[0].Questions[0]
	assert.Equal(t, "age", q.VariableName)
	assert.Equal(t, "integer", q.QType)
	assert.Equal(t, "How old are you?", q.Text)
	assert.Equal(t, 0, q.Order)
	assert.Nil(t, q.ShowIf)
}

func TestImportWithZeroIDCreatesAsker(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	report, err := svc.ImportYAML(ctx, 0, ageDocument)
	require.NoError(t, err)
	require.NotZero(t, report.AskerID)

	got, err := svc.GetAsker(ctx, report.AskerID)
	require.NoError(t, err)
	assert.Equal(t, "Intake", got.Name)
}

func TestReimportDelinksDroppedQuestions(t *testing.T) {
	svc, conn := newTestService(t)
	ctx := context.Background()

	report, err := svc.ImportYAML(ctx, 0, ageDocument)
	require.NoError(t, err)
	_, err = svc.ImportYAML(ctx, report.AskerID, moodOnlyDocument)
	require.NoError(t, err)

	var pages int
	require.NoError(t, conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM ask_pages WHERE asker_id = $1`, report.AskerID).Scan(&pages))
	assert.Equal(t, 1, pages)

	var agePage sql.NullInt64
	require.NoError(t, conn.QueryRowContext(ctx, `SELECT page_id FROM questions WHERE variable_name = 'age'`).Scan(&agePage))
	assert.False(t, agePage.Valid, "age should survive without a page")

	got, err := svc.GetAsker(ctx, report.AskerID)
	require.NoError(t, err)
	require.Len(t, got.Questions(), 1)
	assert.Equal(t, "mood", got.Questions()[0].VariableName)
}

func TestReimportIsIdempotent(t *testing.T) {
	svc, conn := newTestService(t)
	ctx := context.Background()

	first, err := svc.ImportYAML(ctx, 0, moodDocument)
	require.NoError(t, err)
	assert.Equal(t, 3, first.CreatedQuestions)

	var ageID int64
	require.NoError(t, conn.QueryRowContext(ctx, `SELECT id FROM questions WHERE variable_name = 'age'`).Scan(&ageID))

	second, err := svc.ImportYAML(ctx, first.AskerID, moodDocument)
	require.NoError(t, err)
	assert.Equal(t, 0, second.CreatedQuestions)
	assert.Equal(t, 0, second.ModifiedQuestions)

	var ageAgain int64
	require.NoError(t, conn.QueryRowContext(ctx, `SELECT id FROM questions WHERE variable_name = 'age'`).Scan(&ageAgain))
	assert.Equal(t, ageID, ageAgain)

	var choices int
	require.NoError(t, conn.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM choices c JOIN choicesets cs ON cs.id = c.choiceset_id WHERE cs.name = 'mood3'
	`).Scan(&choices))
	assert.Equal(t, 3, choices)
}

func TestImportResolvesShowIfAndChoiceSet(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	report, err := svc.ImportYAML(ctx, 0, moodDocument)
	require.NoError(t, err)

	got, err := svc.GetAsker(ctx, report.AskerID)
	require.NoError(t, err)
	require.Len(t, got.Pages, 2)
	mood := got.Pages[1].Questions[0]

	require.NotNil(t, mood.ShowIf)
	assert.Equal(t, "age", mood.ShowIf.PreviousVariableName)
	assert.Equal(t, int64p(17), mood.ShowIf.MoreThan)
	assert.Nil(t, mood.ShowIf.LessThan)
	assert.Nil(t, mood.ShowIf.Values)

	require.NotNil(t, mood.ChoiceSet)
	assert.Equal(t, "mood3", mood.ChoiceSet.Name)
	require.Len(t, mood.ChoiceSet.Choices, 3)
	assert.Equal(t, int64(30), mood.MappedScore(3))
	assert.True(t, mood.ChoiceSet.Choices[2].IsDefault)
}

func TestReimportWithoutShowIfDelinksRule(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	withRule := "asker: {name: A}\n---\np:\n  - a: {q_type: integer}\n  - b: {q_type: integer, showif: a = 1}\n"
	withoutRule := "asker: {name: A}\n---\np:\n  - a: {q_type: integer}\n  - b: {q_type: integer}\n"

	report, err := svc.ImportYAML(ctx, 0, withRule)
	require.NoError(t, err)
	got, err := svc.GetAsker(ctx, report.AskerID)
	require.NoError(t, err)
	require.NotNil(t, got.Questions()[1].ShowIf)

	second, err := svc.ImportYAML(ctx, report.AskerID, withoutRule)
	require.NoError(t, err)
	assert.Equal(t, 1, second.ModifiedQuestions)

	got, err = svc.GetAsker(ctx, report.AskerID)
	require.NoError(t, err)
	assert.Nil(t, got.Questions()[1].ShowIf)
}

func TestShowIfCanReferenceLaterQuestion(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	doc := `
asker: {name: A}
---
p:
  - first:
      q_type: integer
      showif: later in [1, 2]
  - later:
      q_type: integer
`
	report, err := svc.ImportYAML(ctx, 0, doc)
	require.NoError(t, err)
	assert.Equal(t, 2, report.CreatedQuestions, "a showif placeholder still counts as created")
	assert.Equal(t, 0, report.ModifiedQuestions)

	got, err := svc.GetAsker(ctx, report.AskerID)
	require.NoError(t, err)
	qs := got.Questions()
	require.Len(t, qs, 2)
	assert.Equal(t, "later", qs[0].ShowIf.PreviousVariableName)
	assert.Equal(t, strp("1,2"), qs[0].ShowIf.Values)
	assert.Equal(t, "integer", qs[1].QType)
}

func TestFailedImportRollsBack(t *testing.T) {
	svc, conn := newTestService(t)
	ctx := context.Background()

	report, err := svc.ImportYAML(ctx, 0, ageDocument)
	require.NoError(t, err)

	broken := "asker: {name: Renamed}\n---\np2:\n  - extra: {q_type: integer}\n  - bad: {showif: extra = maybe}\n"
	_, err = svc.ImportYAML(ctx, report.AskerID, broken)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidShowIf))

	got, err := svc.GetAsker(ctx, report.AskerID)
	require.NoError(t, err)
	assert.Equal(t, "Intake", got.Name)
	require.Len(t, got.Pages, 1)
	assert.Equal(t, "p1", got.Pages[0].StepName)

	var extra int
	require.NoError(t, conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM questions WHERE variable_name = 'extra'`).Scan(&extra))
	assert.Zero(t, extra)
}

func TestImportDeletesPreviewReplies(t *testing.T) {
	svc, conn := newTestService(t)
	ctx := context.Background()

	report, err := svc.ImportYAML(ctx, 0, ageDocument)
	require.NoError(t, err)
	dbtest.InsertID(t, conn, `INSERT INTO replies (asker_id, token, entry_method) VALUES ($1, 'preview-1', 'preview') RETURNING id`, report.AskerID)
	dbtest.InsertID(t, conn, `INSERT INTO replies (asker_id, token, entry_method) VALUES ($1, 'real-1', 'participant') RETURNING id`, report.AskerID)

	_, err = svc.ImportYAML(ctx, report.AskerID, ageDocument)
	require.NoError(t, err)

	var tokens []string
	rows, err := conn.QueryContext(ctx, `SELECT token FROM replies WHERE asker_id = $1`, report.AskerID)
	require.NoError(t, err)
	defer rows.Close()
	for rows.Next() {
		var tok string
		require.NoError(t, rows.Scan(&tok))
		tokens = append(tokens, tok)
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, []string{"real-1"}, tokens)
}

func TestImportUnknownAsker(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.ImportYAML(context.Background(), 404, ageDocument)
	assert.True(t, errors.Is(err, ErrAskerNotFound))
}

func TestImportInvalidFieldValueFails(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.ImportYAML(context.Background(), 0, "asker: {name: A}\n---\np:\n  - a: {required: sometimes}\n")
	require.Error(t, err)
}
