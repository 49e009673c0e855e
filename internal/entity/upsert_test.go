package entity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"surveydesk/internal/db/dbtest"
)

var testChoiceSetKind = Kind{
	Name:  "choiceset",
	Table: "choicesets",
	Fields: []Field{
		{Name: "name", Column: "name", Type: Text},
	},
}

var testAskerKind = Kind{
	Name:  "asker",
	Table: "askers",
	Fields: []Field{
		{Name: "name", Column: "name", Type: Text},
		{Name: "slug", Column: "slug", Type: Text},
		{Name: "show_progress", Column: "show_progress", Type: Bool},
	},
}

func TestGetOrModifyCreatesThenReportsChanges(t *testing.T) {
	conn := dbtest.OpenSQLite(t)
	ctx := context.Background()

	rec, modified, err := GetOrModify(ctx, conn, testAskerKind, Values{"slug": "phq9"}, Values{
		"name":        "PHQ-9",
		"description": "ignored, not a field",
	})
	require.NoError(t, err)
	assert.True(t, modified)
	assert.Equal(t, []string{"name"}, rec.Changed)
	assert.Equal(t, "PHQ-9", rec.String("name"))

	again, modified, err := GetOrModify(ctx, conn, testAskerKind, Values{"slug": "phq9"}, Values{"name": "PHQ-9"})
	require.NoError(t, err)
	assert.False(t, modified)
	assert.Equal(t, rec.ID, again.ID)

	changed, modified, err := GetOrModify(ctx, conn, testAskerKind, Values{"id": rec.ID}, Values{"show_progress": true})
	require.NoError(t, err)
	assert.True(t, modified)
	assert.True(t, changed.Bool("show_progress"))

	stored, err := Get(ctx, conn, testAskerKind, rec.ID)
	require.NoError(t, err)
	assert.True(t, stored.Bool("show_progress"))
	assert.Equal(t, "phq9", stored.String("slug"))
}

func TestGetOrModifyWithoutParamsStillCreates(t *testing.T) {
	conn := dbtest.OpenSQLite(t)
	ctx := context.Background()

	rec, modified, err := GetOrModify(ctx, conn, testChoiceSetKind, Values{"name": "yesno"}, nil)
	require.NoError(t, err)
	assert.False(t, modified)
	assert.NotZero(t, rec.ID)

	found, err := Find(ctx, conn, testChoiceSetKind, Values{"name": "yesno"})
	require.NoError(t, err)
	assert.Equal(t, rec.ID, found.ID)
}

func TestGetOrModifyRejectsUnknownLookup(t *testing.T) {
	conn := dbtest.OpenSQLite(t)

	_, _, err := GetOrModify(context.Background(), conn, testChoiceSetKind, Values{"colour": "red"}, nil)
	require.ErrorIs(t, err, ErrUnknownField)
}

func TestGetOrModifyInvalidValueIsFatal(t *testing.T) {
	conn := dbtest.OpenSQLite(t)

	_, _, err := GetOrModify(context.Background(), conn, testAskerKind, Values{"slug": "x"}, Values{"show_progress": "perhaps"})
	require.ErrorIs(t, err, ErrInvalidValue)
}

func TestFindMissing(t *testing.T) {
	conn := dbtest.OpenSQLite(t)

	_, err := Find(context.Background(), conn, testChoiceSetKind, Values{"name": "nope"})
	require.ErrorIs(t, err, ErrNotFound)
}
