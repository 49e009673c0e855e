// Package roster enrols participants in studies and schedules their
// observations.
package roster

import (
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"surveydesk/internal/db"
	"surveydesk/internal/entity"
	"surveydesk/internal/study"
)

var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrStudyNotFound      = errors.New("study not found")
	ErrMembershipNotFound = errors.New("membership not found")
	ErrNotRandomised      = errors.New("membership has no randomisation date")
)

var slugPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

var (
	StudyKind = entity.Kind{
		Name:  "study",
		Table: "studies",
		Fields: []entity.Field{
			{Name: "slug", Column: "slug", Type: entity.Text},
			{Name: "name", Column: "name", Type: entity.Text},
		},
	}
	ConditionKind = entity.Kind{
		Name:  "condition",
		Table: "conditions",
		Fields: []entity.Field{
			{Name: "study", Column: "study_id", Type: entity.Ref},
			{Name: "tag", Column: "tag", Type: entity.Text},
		},
	}
	ParticipantKind = entity.Kind{
		Name:  "user",
		Table: "users",
		Fields: []entity.Field{
			{Name: "username", Column: "username", Type: entity.Text},
			{Name: "email", Column: "email", Type: entity.Text},
			{Name: "full_name", Column: "full_name", Type: entity.Text},
		},
	}
	MembershipKind = entity.Kind{
		Name:  "membership",
		Table: "memberships",
		Fields: []entity.Field{
			{Name: "user", Column: "user_id", Type: entity.Ref},
			{Name: "study", Column: "study_id", Type: entity.Ref},
			{Name: "condition", Column: "condition_id", Type: entity.Ref},
			{Name: "date_randomised", Column: "date_randomised", Type: entity.Time},
		},
	}
	ObservationKind = entity.Kind{
		Name:  "observation",
		Table: "observations",
		Fields: []entity.Field{
			{Name: "membership", Column: "membership_id", Type: entity.Ref},
			{Name: "n_in_sequence", Column: "n_in_sequence", Type: entity.Integer},
			{Name: "due", Column: "due", Type: entity.Time},
			{Name: "due_original", Column: "due_original", Type: entity.Time},
			{Name: "status", Column: "status", Type: entity.Text},
			{Name: "script_reference", Column: "script_reference", Type: entity.Text},
		},
	}
)

type Service struct {
	db *sql.DB
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

type CreateStudyInput struct {
	Slug       string
	Name       string
	Conditions []string
}

type ImportReport struct {
	TotalRows   int              `json:"total_rows"`
	SuccessRows int              `json:"success_rows"`
	FailedRows  int              `json:"failed_rows"`
	Errors      []ImportRowError `json:"errors"`
}

type ImportRowError struct {
	Row   int    `json:"row"`
	Error string `json:"error"`
}

type ScheduleInput struct {
	MembershipID int64
	Script       string
	Count        int
	EveryDays    int
}

// CreateStudy creates the study, or updates its name, and makes sure every
// listed condition tag exists.
func (s *Service) CreateStudy(ctx context.Context, actorID int64, in CreateStudyInput) (*study.Study, error) {
	slug := strings.ToLower(strings.TrimSpace(in.Slug))
	if !slugPattern.MatchString(slug) {
		return nil, fmt.Errorf("%w: slug must be lowercase letters, digits, '-' or '_'", ErrInvalidInput)
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		name = slug
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rec, _, err := entity.GetOrModify(ctx, tx, StudyKind, entity.Values{"slug": slug}, entity.Values{"name": name})
	if err != nil {
		return nil, fmt.Errorf("upsert study: %w", err)
	}
	for _, tag := range in.Conditions {
		if _, err := conditionTx(ctx, tx, rec.ID, tag); err != nil {
			return nil, err
		}
	}
	if err := writeAudit(ctx, tx, actorID, "study", rec.ID, "study_saved", "slug "+slug); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return &study.Study{ID: rec.ID, Slug: slug, Name: name}, nil
}

// ImportMembershipsCSV enrols one participant per row. Each row commits on
// its own; failed rows are reported and do not stop the import.
//
// Columns: username, study (slug) are required; condition, date_randomised
// (YYYY-MM-DD), full_name and email are optional. Unknown participants are
// created without a password and unknown condition tags are added to the
// study.
func (s *Service) ImportMembershipsCSV(ctx context.Context, actorID int64, r io.Reader) (*ImportReport, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: read csv header: %v", ErrInvalidInput, err)
	}
	index := make(map[string]int, len(header))
	for i, h := range header {
		if n := normalizeHeader(h); n != "" {
			index[n] = i
		}
	}
	for _, col := range []string{"username", "study"} {
		if _, ok := index[col]; !ok {
			return nil, fmt.Errorf("%w: missing required column: %s", ErrInvalidInput, col)
		}
	}

	report := &ImportReport{Errors: make([]ImportRowError, 0)}
	rowNo := 1
	for {
		rowNo++
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		report.TotalRows++
		if err != nil {
			report.FailedRows++
			report.Errors = append(report.Errors, ImportRowError{Row: rowNo, Error: fmt.Sprintf("csv parse error: %v", err)})
			continue
		}
		if isRowEmpty(rec) {
			continue
		}

		row := map[string]string{
			"username":        strings.ToLower(cell(rec, index, "username")),
			"study":           strings.ToLower(cell(rec, index, "study")),
			"condition":       cell(rec, index, "condition"),
			"date_randomised": cell(rec, index, "date_randomised"),
			"full_name":       cell(rec, index, "full_name"),
			"email":           strings.ToLower(cell(rec, index, "email")),
		}
		if err := validateImportRow(row); err != nil {
			report.FailedRows++
			report.Errors = append(report.Errors, ImportRowError{Row: rowNo, Error: err.Error()})
			continue
		}
		if err := s.importMembershipRow(ctx, actorID, row); err != nil {
			report.FailedRows++
			report.Errors = append(report.Errors, ImportRowError{Row: rowNo, Error: err.Error()})
			continue
		}
		report.SuccessRows++
	}
	return report, nil
}

func (s *Service) importMembershipRow(ctx context.Context, actorID int64, row map[string]string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	studyRec, err := entity.Find(ctx, tx, StudyKind, entity.Values{"slug": row["study"]})
	if err != nil {
		if errors.Is(err, entity.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrStudyNotFound, row["study"])
		}
		return fmt.Errorf("find study: %w", err)
	}

	userParams := entity.Values{}
	if row["full_name"] != "" {
		userParams["full_name"] = row["full_name"]
	}
	if row["email"] != "" {
		userParams["email"] = row["email"]
	}
	user, _, err := entity.GetOrModify(ctx, tx, ParticipantKind, entity.Values{"username": row["username"]}, userParams)
	if err != nil {
		return fmt.Errorf("upsert participant: %w", err)
	}

	params := entity.Values{}
	if row["condition"] != "" {
		conditionID, err := conditionTx(ctx, tx, studyRec.ID, row["condition"])
		if err != nil {
			return err
		}
		params["condition"] = conditionID
	}
	if row["date_randomised"] != "" {
		d, err := study.ParseDate(row["date_randomised"])
		if err != nil {
			return err
		}
		params["date_randomised"] = d.Time()
	}
	membership, _, err := entity.GetOrModify(ctx, tx, MembershipKind, entity.Values{"user": user, "study": studyRec}, params)
	if err != nil {
		return fmt.Errorf("upsert membership: %w", err)
	}
	if err := writeAudit(ctx, tx, actorID, "membership", membership.ID, "membership_imported", "user "+row["username"]+" in "+row["study"]); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// ScheduleObservations appends Count pending observations to a randomised
// membership, due every EveryDays days from the randomisation date.
func (s *Service) ScheduleObservations(ctx context.Context, actorID int64, in ScheduleInput) ([]study.Observation, error) {
	in.Script = strings.TrimSpace(in.Script)
	if in.MembershipID <= 0 || in.Count <= 0 || in.EveryDays < 0 || in.Script == "" {
		return nil, fmt.Errorf("%w: membership_id, script and a positive count are required", ErrInvalidInput)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	membership, err := entity.Get(ctx, tx, MembershipKind, in.MembershipID)
	if err != nil {
		if errors.Is(err, entity.ErrNotFound) {
			return nil, ErrMembershipNotFound
		}
		return nil, err
	}
	randomised, ok := membership.Values["date_randomised"].(time.Time)
	if !ok {
		return nil, ErrNotRandomised
	}
	start := study.DateOf(randomised)

	var existing int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM observations WHERE membership_id = $1`, in.MembershipID).Scan(&existing); err != nil {
		return nil, fmt.Errorf("count observations: %w", err)
	}

	out := make([]study.Observation, 0, in.Count)
	for i := 0; i < in.Count; i++ {
		n := existing + i + 1
		due := start.AddDays((n - 1) * in.EveryDays).Time()
		rec, err := entity.Create(ctx, tx, ObservationKind, entity.Values{
			"membership":       in.MembershipID,
			"n_in_sequence":    n,
			"due":              due,
			"due_original":     due,
			"status":           study.StatusPending,
			"script_reference": in.Script,
		})
		if err != nil {
			return nil, fmt.Errorf("create observation: %w", err)
		}
		seq := int64(n)
		out = append(out, study.Observation{
			ID:              rec.ID,
			NInSequence:     &seq,
			Due:             due,
			DueOriginal:     due,
			Status:          study.StatusPending,
			ScriptReference: in.Script,
		})
	}

	detail := fmt.Sprintf("scheduled %d observations of %s", in.Count, in.Script)
	if err := writeAudit(ctx, tx, actorID, "membership", in.MembershipID, "observations_scheduled", detail); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return out, nil
}

func conditionTx(ctx context.Context, q db.Querier, studyID int64, tag string) (int64, error) {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return 0, fmt.Errorf("%w: condition tag is empty", ErrInvalidInput)
	}
	rec, _, err := entity.GetOrModify(ctx, q, ConditionKind, entity.Values{"study": studyID, "tag": tag}, nil)
	if err != nil {
		return 0, fmt.Errorf("upsert condition: %w", err)
	}
	return rec.ID, nil
}

func writeAudit(ctx context.Context, q db.Querier, actorID int64, entityName string, entityID int64, action, detail string) error {
	var actor any
	if actorID > 0 {
		actor = actorID
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO audit_log (actor_id, entity, entity_id, action, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, actor, entityName, entityID, action, detail, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("write audit log: %w", err)
	}
	return nil
}

func normalizeHeader(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	h = strings.ReplaceAll(h, "-", "_")
	h = strings.ReplaceAll(h, " ", "_")
	return h
}

func cell(rec []string, idx map[string]int, key string) string {
	i, ok := idx[key]
	if !ok || i < 0 || i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}

func validateImportRow(row map[string]string) error {
	if row["username"] == "" {
		return errors.New("username is required")
	}
	if row["study"] == "" {
		return errors.New("study is required")
	}
	if row["email"] != "" {
		if _, err := mail.ParseAddress(row["email"]); err != nil {
			return errors.New("invalid email format")
		}
	}
	return nil
}

func isRowEmpty(rec []string) bool {
	for _, c := range rec {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
