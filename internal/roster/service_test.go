package roster

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"surveydesk/internal/db/dbtest"
	"surveydesk/internal/study"
)

func TestCreateStudyIsIdempotent(t *testing.T) {
	conn := dbtest.OpenSQLite(t)
	svc := NewService(conn)
	ctx := context.Background()

	first, err := svc.CreateStudy(ctx, 0, CreateStudyInput{Slug: "Trial", Conditions: []string{"control", "active"}})
	require.NoError(t, err)
	assert.Equal(t, "trial", first.Slug)
	assert.Equal(t, "trial", first.Name)

	again, err := svc.CreateStudy(ctx, 0, CreateStudyInput{Slug: "trial", Name: "Main trial", Conditions: []string{"control"}})
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)

	var conditions int
	require.NoError(t, conn.QueryRow(`SELECT COUNT(*) FROM conditions WHERE study_id = $1`, first.ID).Scan(&conditions))
	assert.Equal(t, 2, conditions)

	_, err = svc.CreateStudy(ctx, 0, CreateStudyInput{Slug: "bad slug"})
	assert.True(t, errors.Is(err, ErrInvalidInput))
}

func TestImportMembershipsCSV(t *testing.T) {
	conn := dbtest.OpenSQLite(t)
	svc := NewService(conn)
	ctx := context.Background()

	_, err := svc.CreateStudy(ctx, 0, CreateStudyInput{Slug: "trial"})
	require.NoError(t, err)

	body := `Username,Study,Condition,Date-Randomised,Full Name,Email
p01,trial,control,2024-01-10,Pat One,p01@example.org
p02,trial,,,,
p03,pilot,control,,,
p04,trial,control,10/01/2024,,
,trial,,,,
p05,trial,active,2024-02-01,,not-an-email
`
	report, err := svc.ImportMembershipsCSV(ctx, 0, strings.NewReader(body))
	require.NoError(t, err)
	assert.Equal(t, 6, report.TotalRows)
	assert.Equal(t, 2, report.SuccessRows)
	assert.Equal(t, 4, report.FailedRows)
	rows := make([]int, 0, len(report.Errors))
	for _, e := range report.Errors {
		rows = append(rows, e.Row)
	}
	assert.Equal(t, []int{4, 5, 6, 7}, rows)

	var memberships int
	require.NoError(t, conn.QueryRow(`SELECT COUNT(*) FROM memberships`).Scan(&memberships))
	assert.Equal(t, 2, memberships)

	again, err := svc.ImportMembershipsCSV(ctx, 0, strings.NewReader("username,study\np01,trial\n"))
	require.NoError(t, err)
	assert.Equal(t, 1, again.SuccessRows)
	require.NoError(t, conn.QueryRow(`SELECT COUNT(*) FROM memberships`).Scan(&memberships))
	assert.Equal(t, 2, memberships)

	_, err = svc.ImportMembershipsCSV(ctx, 0, strings.NewReader("name\nx\n"))
	assert.True(t, errors.Is(err, ErrInvalidInput))
}

func TestScheduleThenShiftDates(t *testing.T) {
	conn := dbtest.OpenSQLite(t)
	svc := NewService(conn)
	ctx := context.Background()

	_, err := svc.CreateStudy(ctx, 0, CreateStudyInput{Slug: "trial"})
	require.NoError(t, err)
	_, err = svc.ImportMembershipsCSV(ctx, 0, strings.NewReader("username,study,date_randomised\np01,trial,2024-01-10\np02,trial,\n"))
	require.NoError(t, err)

	var randomisedID, pendingID int64
	require.NoError(t, conn.QueryRow(`SELECT m.id FROM memberships m JOIN users u ON u.id = m.user_id WHERE u.username = 'p01'`).Scan(&randomisedID))
	require.NoError(t, conn.QueryRow(`SELECT m.id FROM memberships m JOIN users u ON u.id = m.user_id WHERE u.username = 'p02'`).Scan(&pendingID))

	obs, err := svc.ScheduleObservations(ctx, 0, ScheduleInput{MembershipID: randomisedID, Script: "weekly", Count: 3, EveryDays: 7})
	require.NoError(t, err)
	require.Len(t, obs, 3)
	assert.Equal(t, time.Date(2024, time.January, 24, 0, 0, 0, 0, time.UTC), obs[2].Due)
	assert.Equal(t, int64(3), *obs[2].NInSequence)

	more, err := svc.ScheduleObservations(ctx, 0, ScheduleInput{MembershipID: randomisedID, Script: "weekly", Count: 1, EveryDays: 7})
	require.NoError(t, err)
	assert.Equal(t, int64(4), *more[0].NInSequence)

	_, err = svc.ScheduleObservations(ctx, 0, ScheduleInput{MembershipID: pendingID, Script: "weekly", Count: 1})
	assert.True(t, errors.Is(err, ErrNotRandomised))
	_, err = svc.ScheduleObservations(ctx, 0, ScheduleInput{MembershipID: 999, Script: "weekly", Count: 1})
	assert.True(t, errors.Is(err, ErrMembershipNotFound))

	shifted, err := study.NewService(conn).ShiftMembershipDates(ctx, study.DateShiftInput{
		MembershipID: randomisedID,
		NewDate:      study.NewDate(2024, time.January, 12),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, shifted.DeltaDays)
	assert.Equal(t, 4, shifted.Shifted)
}
