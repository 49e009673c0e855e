package study

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"
)

var (
	ErrMembershipNotFound = errors.New("membership not found")
	ErrNotRandomised      = errors.New("membership has no randomisation date")
)

type Service struct {
	db *sql.DB
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

type DateShiftInput struct {
	MembershipID int64
	NewDate      Date
	ActorID      int64
}

type DateShiftResult struct {
	MembershipID   int64 `json:"membership_id"`
	DeltaDays      int   `json:"delta_days"`
	Shifted        int   `json:"shifted"`
	DateRandomised Date  `json:"date_randomised"`
}

// ShiftMembershipDates moves the membership's randomisation date to NewDate
// and shifts every pending observation by the same number of days. Each
// shifted observation records the delta and the change is written to the
// audit log.
func (s *Service) ShiftMembershipDates(ctx context.Context, in DateShiftInput) (*DateShiftResult, error) {
	if in.MembershipID <= 0 || in.NewDate.IsZero() {
		return nil, ErrInvalidInput
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var rawDate any
	if err := tx.QueryRowContext(ctx, `SELECT date_randomised FROM memberships WHERE id = $1`, in.MembershipID).Scan(&rawDate); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMembershipNotFound
		}
		return nil, fmt.Errorf("load membership: %w", err)
	}
	current, err := optionalDate(rawDate)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, ErrNotRandomised
	}

	days := in.NewDate.DaysSince(*current)
	out := &DateShiftResult{MembershipID: in.MembershipID, DeltaDays: days, DateRandomised: in.NewDate}
	if days == 0 {
		return out, nil
	}

	if _, err := tx.ExecContext(ctx, `UPDATE memberships SET date_randomised = $1 WHERE id = $2`,
		in.NewDate.Time(), in.MembershipID); err != nil {
		return nil, fmt.Errorf("update membership: %w", err)
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT id, due, due_original, status
		FROM observations
		WHERE membership_id = $1
		ORDER BY id ASC
	`, in.MembershipID)
	if err != nil {
		return nil, fmt.Errorf("list observations: %w", err)
	}
	var shiftable []Observation
	for rows.Next() {
		var (
			o                Observation
			due, dueOriginal any
		)
		if err := rows.Scan(&o.ID, &due, &dueOriginal, &o.Status); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan observation: %w", err)
		}
		if !o.AllowsTimeshift() {
			continue
		}
		if o.Due, err = requiredTime("due", due); err != nil {
			rows.Close()
			return nil, err
		}
		if o.DueOriginal, err = requiredTime("due_original", dueOriginal); err != nil {
			rows.Close()
			return nil, err
		}
		shiftable = append(shiftable, o)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate observations: %w", err)
	}
	rows.Close()

	delta := formatDelta(days)
	for _, o := range shiftable {
		if _, err := tx.ExecContext(ctx, `UPDATE observations SET due = $1, due_original = $2 WHERE id = $3`,
			o.Due.AddDate(0, 0, days), o.DueOriginal.AddDate(0, 0, days), o.ID); err != nil {
			return nil, fmt.Errorf("shift observation %d: %w", o.ID, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO observation_data (observation_id, data_key, value, created_at)
			VALUES ($1, 'timeshift', $2, $3)
		`, o.ID, delta, time.Now().UTC()); err != nil {
			return nil, fmt.Errorf("record timeshift %d: %w", o.ID, err)
		}
	}
	out.Shifted = len(shiftable)

	var actor any
	if in.ActorID > 0 {
		actor = in.ActorID
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO audit_log (actor_id, entity, entity_id, action, detail, created_at)
		VALUES ($1, 'membership', $2, 'dateshift', $3, $4)
	`, actor, in.MembershipID, "Timeshifted observations by "+delta, time.Now().UTC()); err != nil {
		return nil, fmt.Errorf("write audit log: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit dateshift: %w", err)
	}
	log.Printf("membership %d: %d observations shifted by %s", in.MembershipID, out.Shifted, delta)
	return out, nil
}

func formatDelta(days int) string {
	if days == 1 || days == -1 {
		return fmt.Sprintf("%d day", days)
	}
	return fmt.Sprintf("%d days", days)
}
