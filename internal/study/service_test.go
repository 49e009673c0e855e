package study

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"surveydesk/internal/db/dbtest"
)

func TestShiftMembershipDates(t *testing.T) {
	f := newFixture(t)
	svc := NewService(f.conn)
	ctx := context.Background()

	due := time.Date(2024, time.January, 17, 9, 0, 0, 0, time.UTC)
	pending := f.observation(t, 1, due, StatusPending)
	done := f.observation(t, 2, due, StatusCompleted)
	actor := dbtest.InsertID(t, f.conn, `INSERT INTO users (username) VALUES ('researcher') RETURNING id`)

	out, err := svc.ShiftMembershipDates(ctx, DateShiftInput{
		MembershipID: f.membershipID,
		NewDate:      NewDate(2024, time.January, 17),
		ActorID:      actor,
	})
	require.NoError(t, err)
	assert.Equal(t, 7, out.DeltaDays)
	assert.Equal(t, 1, out.Shifted)

	var rawDate any
	require.NoError(t, f.conn.QueryRowContext(ctx, `SELECT date_randomised FROM memberships WHERE id = $1`, f.membershipID).Scan(&rawDate))
	d, err := optionalDate(rawDate)
	require.NoError(t, err)
	assert.Equal(t, "2024-01-17", d.String())

	assertDue := func(id int64, want time.Time) {
		t.Helper()
		var rawDue, rawOriginal any
		require.NoError(t, f.conn.QueryRowContext(ctx, `SELECT due, due_original FROM observations WHERE id = $1`, id).Scan(&rawDue, &rawOriginal))
		gotDue, err := requiredTime("due", rawDue)
		require.NoError(t, err)
		gotOriginal, err := requiredTime("due_original", rawOriginal)
		require.NoError(t, err)
		assert.True(t, want.Equal(gotDue), "due %s, want %s", gotDue, want)
		assert.True(t, want.Equal(gotOriginal), "due_original %s, want %s", gotOriginal, want)
	}
	assertDue(pending, due.AddDate(0, 0, 7))
	assertDue(done, due)

	var value string
	require.NoError(t, f.conn.QueryRowContext(ctx, `
		SELECT value FROM observation_data WHERE observation_id = $1 AND data_key = 'timeshift'
	`, pending).Scan(&value))
	assert.Equal(t, "7 days", value)

	var detail string
	var actorID int64
	require.NoError(t, f.conn.QueryRowContext(ctx, `
		SELECT detail, actor_id FROM audit_log WHERE entity = 'membership' AND entity_id = $1
	`, f.membershipID).Scan(&detail, &actorID))
	assert.Equal(t, "Timeshifted observations by 7 days", detail)
	assert.Equal(t, actor, actorID)
}

func TestShiftMembershipDatesBackwards(t *testing.T) {
	f := newFixture(t)
	svc := NewService(f.conn)

	f.observation(t, 1, time.Date(2024, time.February, 1, 0, 0, 0, 0, time.UTC), StatusPending)
	out, err := svc.ShiftMembershipDates(context.Background(), DateShiftInput{
		MembershipID: f.membershipID,
		NewDate:      NewDate(2024, time.January, 9),
	})
	require.NoError(t, err)
	assert.Equal(t, -1, out.DeltaDays)
	assert.Equal(t, 1, out.Shifted)
}

func TestShiftMembershipDatesErrors(t *testing.T) {
	f := newFixture(t)
	svc := NewService(f.conn)
	ctx := context.Background()

	_, err := svc.ShiftMembershipDates(ctx, DateShiftInput{MembershipID: 999, NewDate: NewDate(2024, time.January, 1)})
	assert.True(t, errors.Is(err, ErrMembershipNotFound))

	_, err = svc.ShiftMembershipDates(ctx, DateShiftInput{MembershipID: f.membershipID})
	assert.True(t, errors.Is(err, ErrInvalidInput))

	unrandomised := dbtest.InsertID(t, f.conn, `INSERT INTO memberships (user_id, study_id) VALUES ($1, $2) RETURNING id`, f.userID, f.studyID)
	_, err = svc.ShiftMembershipDates(ctx, DateShiftInput{MembershipID: unrandomised, NewDate: NewDate(2024, time.January, 1)})
	assert.True(t, errors.Is(err, ErrNotRandomised))
}
