package study

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"surveydesk/internal/ask"
	"surveydesk/internal/db"
	"surveydesk/internal/entity"
)

const (
	EntryParticipant = "participant"
	EntryPreview     = "preview"
	EntryResearcher  = "researcher"

	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusMissed    = "missed"
)

var (
	ErrInvalidInput   = errors.New("invalid input")
	ErrReplyNotFound  = errors.New("reply not found")
	ErrUnknownAnswer  = errors.New("answer needs a question or a variable name")
	ErrQuestionAbsent = errors.New("question not found")
)

var ReplyKind = entity.Kind{
	Name:  "reply",
	Table: "replies",
	Fields: []entity.Field{
		{Name: "asker", Column: "asker_id", Type: entity.Ref},
		{Name: "observation", Column: "observation_id", Type: entity.Ref},
		{Name: "token", Column: "token", Type: entity.Text},
		{Name: "entry_method", Column: "entry_method", Type: entity.Text},
		{Name: "is_canonical_reply", Column: "is_canonical_reply", Type: entity.Bool},
		{Name: "started", Column: "started", Type: entity.Time},
		{Name: "last_submit", Column: "last_submit", Type: entity.Time},
		{Name: "originally_collected_on", Column: "originally_collected_on", Type: entity.Time},
	},
}

var AnswerKind = entity.Kind{
	Name:  "answer",
	Table: "answers",
	Fields: []entity.Field{
		{Name: "question", Column: "question_id", Type: entity.Ref},
		{Name: "page", Column: "page_id", Type: entity.Ref},
		{Name: "other_variable_name", Column: "other_variable_name", Type: entity.Text},
		{Name: "reply", Column: "reply_id", Type: entity.Ref},
		{Name: "answer", Column: "answer", Type: entity.Text},
		{Name: "choices", Column: "choices", Type: entity.Text},
		{Name: "upload", Column: "upload", Type: entity.Text},
		{Name: "meta", Column: "meta", Type: entity.Text},
		{Name: "last_modified", Column: "last_modified", Type: entity.Time},
	},
}

// Store reads and records replies and answers.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Filter narrows LoadAnswers. Empty slices do not filter.
type Filter struct {
	AskerIDs       []int64
	StudySlugs     []string
	ReplyIDs       []int64
	IncludePreview bool
}

type StartReplyInput struct {
	AskerID       int64
	ObservationID int64
	EntryMethod   string
	IsCanonical   bool
	CollectedOn   *time.Time
}

type SaveAnswerInput struct {
	ReplyID           int64
	QuestionID        int64
	OtherVariableName string
	PageID            int64
	Answer            *string
	Upload            string
	Meta              map[string]any
}

// UploadPath is where an uploaded file for a reply is stored, relative to
// the upload root.
func UploadPath(replyToken, filename string) string {
	return path.Join("userdata", replyToken, path.Base(filename))
}

func (s *Store) StartReply(ctx context.Context, in StartReplyInput) (*Reply, error) {
	if in.AskerID <= 0 {
		return nil, ErrInvalidInput
	}
	in.EntryMethod = strings.TrimSpace(in.EntryMethod)
	if in.EntryMethod == "" {
		in.EntryMethod = EntryParticipant
	}

	values := entity.Values{
		"asker":              in.AskerID,
		"token":              uuid.NewString(),
		"entry_method":       in.EntryMethod,
		"is_canonical_reply": in.IsCanonical,
		"started":            time.Now().UTC(),
	}
	if in.ObservationID > 0 {
		values["observation"] = in.ObservationID
	}
	if in.CollectedOn != nil {
		values["originally_collected_on"] = in.CollectedOn.UTC()
	}

	rec, err := entity.Create(ctx, s.db, ReplyKind, values)
	if err != nil {
		return nil, fmt.Errorf("start reply: %w", err)
	}
	return replyFromRecord(rec), nil
}

// GetReply loads one reply without its observation graph.
func (s *Store) GetReply(ctx context.Context, replyID int64) (*Reply, error) {
	rec, err := entity.Get(ctx, s.db, ReplyKind, replyID)
	if err != nil {
		if errors.Is(err, entity.ErrNotFound) {
			return nil, ErrReplyNotFound
		}
		return nil, fmt.Errorf("get reply: %w", err)
	}
	return replyFromRecord(rec), nil
}

// SubmitReply stamps the reply's last submission time.
func (s *Store) SubmitReply(ctx context.Context, replyID int64) (*Reply, error) {
	if _, err := s.GetReply(ctx, replyID); err != nil {
		return nil, err
	}
	rec, _, err := entity.GetOrModify(ctx, s.db, ReplyKind, entity.Values{"id": replyID}, entity.Values{
		"last_submit": time.Now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("submit reply: %w", err)
	}
	return replyFromRecord(rec), nil
}

// SaveAnswer records an answer, replacing any earlier answer to the same
// question (or free-form variable) on the same page of the reply.
func (s *Store) SaveAnswer(ctx context.Context, in SaveAnswerInput) (*entity.Record, error) {
	if in.ReplyID <= 0 {
		return nil, ErrInvalidInput
	}
	in.OtherVariableName = strings.TrimSpace(in.OtherVariableName)
	if in.QuestionID <= 0 && in.OtherVariableName == "" {
		return nil, ErrUnknownAnswer
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := entity.Get(ctx, tx, ReplyKind, in.ReplyID); err != nil {
		if errors.Is(err, entity.ErrNotFound) {
			return nil, ErrReplyNotFound
		}
		return nil, err
	}

	lookups := entity.Values{"reply": in.ReplyID, "page": optID(in.PageID)}
	params := entity.Values{
		"answer":        optString(in.Answer),
		"last_modified": time.Now().UTC(),
	}
	if in.Upload != "" {
		params["upload"] = in.Upload
	}
	if len(in.Meta) > 0 {
		meta, err := json.Marshal(in.Meta)
		if err != nil {
			return nil, fmt.Errorf("encode meta: %w", err)
		}
		params["meta"] = string(meta)
	}

	if in.QuestionID > 0 {
		questions, err := ask.LoadQuestions(ctx, tx, []int64{in.QuestionID})
		if err != nil {
			return nil, err
		}
		q := questions[in.QuestionID]
		if q == nil {
			return nil, ErrQuestionAbsent
		}
		lookups["question"] = q
		if choices := q.Choices(); len(choices) > 0 {
			snapshot, err := json.Marshal(choices)
			if err != nil {
				return nil, fmt.Errorf("encode choices: %w", err)
			}
			params["choices"] = string(snapshot)
		}
	} else {
		lookups["question"] = nil
		lookups["other_variable_name"] = in.OtherVariableName
	}

	rec, _, err := entity.GetOrModify(ctx, tx, AnswerKind, lookups, params)
	if err != nil {
		return nil, fmt.Errorf("save answer: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit answer: %w", err)
	}
	return rec, nil
}

// LoadAnswers returns answers with their reply, observation, membership,
// study and question graph, ordered by reply id then variable name.
func (s *Store) LoadAnswers(ctx context.Context, f Filter) ([]*Answer, error) {
	return LoadAnswers(ctx, s.db, f)
}

func LoadAnswers(ctx context.Context, q db.Querier, f Filter) ([]*Answer, error) {
	var (
		conds []string
		args  []any
	)
	if len(f.AskerIDs) > 0 {
		conds = append(conds, fmt.Sprintf("r.asker_id IN (%s)", db.Placeholders(len(args)+1, len(f.AskerIDs))))
		args = append(args, db.Int64Args(f.AskerIDs)...)
	}
	if len(f.ReplyIDs) > 0 {
		conds = append(conds, fmt.Sprintf("r.id IN (%s)", db.Placeholders(len(args)+1, len(f.ReplyIDs))))
		args = append(args, db.Int64Args(f.ReplyIDs)...)
	}
	if len(f.StudySlugs) > 0 {
		conds = append(conds, fmt.Sprintf("s.slug IN (%s)", db.Placeholders(len(args)+1, len(f.StudySlugs))))
		for _, slug := range f.StudySlugs {
			args = append(args, slug)
		}
	}
	if !f.IncludePreview {
		args = append(args, EntryPreview)
		conds = append(conds, fmt.Sprintf("r.entry_method <> $%d", len(args)))
	}
	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}

	rows, err := q.QueryContext(ctx, fmt.Sprintf(`
		SELECT a.id, a.question_id, a.page_id, a.other_variable_name, a.answer, a.choices, a.upload, a.meta,
		       a.created_at, a.last_modified,
		       r.id, r.asker_id, r.token, r.entry_method, r.is_canonical_reply, r.started, r.last_submit,
		       r.originally_collected_on,
		       o.id, o.n_in_sequence, o.due, o.due_original, o.status, o.script_reference,
		       m.id, m.date_randomised,
		       u.id, u.username, u.email, u.full_name,
		       s.id, s.slug, s.name,
		       c.id, c.tag,
		       rm.id, ru.id, ru.username,
		       COALESCE(q.variable_name, a.other_variable_name, '') AS answer_variable
		FROM answers a
		JOIN replies r ON r.id = a.reply_id
		LEFT JOIN questions q ON q.id = a.question_id
		LEFT JOIN observations o ON o.id = r.observation_id
		LEFT JOIN memberships m ON m.id = o.membership_id
		LEFT JOIN users u ON u.id = m.user_id
		LEFT JOIN studies s ON s.id = m.study_id
		LEFT JOIN conditions c ON c.id = m.condition_id
		LEFT JOIN memberships rm ON rm.id = m.relates_to_id
		LEFT JOIN users ru ON ru.id = rm.user_id
		%s
		ORDER BY r.id ASC, answer_variable ASC, a.id ASC
	`, where), args...)
	if err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}
	defer rows.Close()

	g := newGraph()
	var (
		out         []*Answer
		questionIDs = map[*Answer]int64{}
	)
	for rows.Next() {
		var row answerRow
		if err := rows.Scan(row.dest()...); err != nil {
			return nil, fmt.Errorf("scan answer: %w", err)
		}
		a, err := g.answer(&row)
		if err != nil {
			return nil, err
		}
		if row.questionID.Valid {
			questionIDs[a] = row.questionID.Int64
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate answers: %w", err)
	}
	rows.Close()

	ids := make([]int64, 0, len(questionIDs))
	for _, id := range questionIDs {
		ids = append(ids, id)
	}
	questions, err := ask.LoadQuestions(ctx, q, ids)
	if err != nil {
		return nil, err
	}
	for a, id := range questionIDs {
		a.Question = questions[id]
	}
	return out, nil
}

type answerRow struct {
	id                                     int64
	questionID, pageID                     sql.NullInt64
	otherVariable, answer, choices, upload sql.NullString
	meta                                   sql.NullString
	createdAt, lastModified                any
	replyID, askerID                       int64
	token, entryMethod                     string
	canonical                              bool
	started, lastSubmit, collectedOn       any
	obsID, nInSequence                     sql.NullInt64
	due, dueOriginal                       any
	status, scriptRef                      sql.NullString
	membershipID                           sql.NullInt64
	dateRandomised                         any
	userID                                 sql.NullInt64
	username, email, fullName              sql.NullString
	studyID                                sql.NullInt64
	studySlug, studyName                   sql.NullString
	conditionID                            sql.NullInt64
	conditionTag                           sql.NullString
	relatedID, relatedUserID               sql.NullInt64
	relatedUsername                        sql.NullString
	variable                               string
}

func (r *answerRow) dest() []any {
	return []any{
		&r.id, &r.questionID, &r.pageID, &r.otherVariable, &r.answer, &r.choices, &r.upload, &r.meta,
		&r.createdAt, &r.lastModified,
		&r.replyID, &r.askerID, &r.token, &r.entryMethod, &r.canonical, &r.started, &r.lastSubmit,
		&r.collectedOn,
		&r.obsID, &r.nInSequence, &r.due, &r.dueOriginal, &r.status, &r.scriptRef,
		&r.membershipID, &r.dateRandomised,
		&r.userID, &r.username, &r.email, &r.fullName,
		&r.studyID, &r.studySlug, &r.studyName,
		&r.conditionID, &r.conditionTag,
		&r.relatedID, &r.relatedUserID, &r.relatedUsername,
		&r.variable,
	}
}

// graph shares one object per row id across loaded answers.
type graph struct {
	replies      map[int64]*Reply
	observations map[int64]*Observation
	memberships  map[int64]*Membership
	users        map[int64]*User
	studies      map[int64]*Study
	conditions   map[int64]*Condition
}

func newGraph() *graph {
	return &graph{
		replies:      map[int64]*Reply{},
		observations: map[int64]*Observation{},
		memberships:  map[int64]*Membership{},
		users:        map[int64]*User{},
		studies:      map[int64]*Study{},
		conditions:   map[int64]*Condition{},
	}
}

func (g *graph) answer(row *answerRow) (*Answer, error) {
	a := &Answer{
		ID:      row.id,
		Choices: row.choices.String,
		Upload:  row.upload.String,
		Meta:    row.meta.String,
	}
	if row.pageID.Valid {
		v := row.pageID.Int64
		a.PageID = &v
	}
	if row.otherVariable.Valid {
		v := row.otherVariable.String
		a.OtherVariableName = &v
	}
	if row.answer.Valid {
		v := row.answer.String
		a.Answer = &v
	}
	var err error
	if a.CreatedAt, err = requiredTime("created_at", row.createdAt); err != nil {
		return nil, err
	}
	if a.LastModified, err = requiredTime("last_modified", row.lastModified); err != nil {
		return nil, err
	}
	if a.Reply, err = g.reply(row); err != nil {
		return nil, err
	}
	return a, nil
}

func (g *graph) reply(row *answerRow) (*Reply, error) {
	if r, ok := g.replies[row.replyID]; ok {
		return r, nil
	}
	r := &Reply{
		ID:               row.replyID,
		AskerID:          row.askerID,
		Token:            row.token,
		EntryMethod:      row.entryMethod,
		IsCanonicalReply: row.canonical,
	}
	var err error
	if r.Started, err = requiredTime("started", row.started); err != nil {
		return nil, err
	}
	if r.LastSubmit, err = optionalTime("last_submit", row.lastSubmit); err != nil {
		return nil, err
	}
	if r.OriginallyCollectedOn, err = optionalTime("originally_collected_on", row.collectedOn); err != nil {
		return nil, err
	}
	if row.obsID.Valid {
		if r.Observation, err = g.observation(row); err != nil {
			return nil, err
		}
	}
	g.replies[r.ID] = r
	return r, nil
}

func (g *graph) observation(row *answerRow) (*Observation, error) {
	if o, ok := g.observations[row.obsID.Int64]; ok {
		return o, nil
	}
	o := &Observation{
		ID:              row.obsID.Int64,
		Status:          row.status.String,
		ScriptReference: row.scriptRef.String,
	}
	if row.nInSequence.Valid {
		v := row.nInSequence.Int64
		o.NInSequence = &v
	}
	var err error
	if o.Due, err = requiredTime("due", row.due); err != nil {
		return nil, err
	}
	if o.DueOriginal, err = requiredTime("due_original", row.dueOriginal); err != nil {
		return nil, err
	}
	if row.membershipID.Valid {
		if o.Dyad, err = g.membership(row); err != nil {
			return nil, err
		}
	}
	g.observations[o.ID] = o
	return o, nil
}

func (g *graph) membership(row *answerRow) (*Membership, error) {
	if m, ok := g.memberships[row.membershipID.Int64]; ok {
		return m, nil
	}
	m := &Membership{ID: row.membershipID.Int64}
	d, err := optionalDate(row.dateRandomised)
	if err != nil {
		return nil, err
	}
	m.DateRandomised = d
	if row.userID.Valid {
		m.User = g.user(row.userID.Int64, row.username.String, row.email.String, row.fullName.String)
	}
	if row.studyID.Valid {
		st, ok := g.studies[row.studyID.Int64]
		if !ok {
			st = &Study{ID: row.studyID.Int64, Slug: row.studySlug.String, Name: row.studyName.String}
			g.studies[st.ID] = st
		}
		m.Study = st
	}
	if row.conditionID.Valid {
		c, ok := g.conditions[row.conditionID.Int64]
		if !ok {
			c = &Condition{ID: row.conditionID.Int64, Tag: row.conditionTag.String}
			g.conditions[c.ID] = c
		}
		m.Condition = c
	}
	if row.relatedID.Valid {
		related, ok := g.memberships[row.relatedID.Int64]
		if !ok {
			related = &Membership{ID: row.relatedID.Int64}
		}
		if related.User == nil && row.relatedUserID.Valid {
			related.User = g.user(row.relatedUserID.Int64, row.relatedUsername.String, "", "")
		}
		m.RelatesTo = related
	}
	g.memberships[m.ID] = m
	return m, nil
}

func (g *graph) user(id int64, username, email, fullName string) *User {
	if u, ok := g.users[id]; ok {
		return u
	}
	u := &User{ID: id, Username: username, Email: email, FullName: fullName}
	g.users[id] = u
	return u
}

var timeField = entity.Field{Name: "timestamp", Type: entity.Time}

func optionalTime(name string, v any) (*time.Time, error) {
	n, err := entity.Normalize(timeField, v)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if n == nil {
		return nil, nil
	}
	t := n.(time.Time).UTC()
	return &t, nil
}

func requiredTime(name string, v any) (time.Time, error) {
	t, err := optionalTime(name, v)
	if err != nil || t == nil {
		return time.Time{}, err
	}
	return *t, nil
}

func optionalDate(v any) (*Date, error) {
	t, err := optionalTime("date", v)
	if err != nil || t == nil {
		return nil, err
	}
	d := DateOf(*t)
	return &d, nil
}

func replyFromRecord(rec *entity.Record) *Reply {
	r := &Reply{
		ID:               rec.ID,
		Token:            rec.String("token"),
		EntryMethod:      rec.String("entry_method"),
		IsCanonicalReply: rec.Bool("is_canonical_reply"),
	}
	r.AskerID, _ = rec.Int("asker")
	if t, ok := rec.Values["started"].(time.Time); ok {
		r.Started = t.UTC()
	}
	if t, ok := rec.Values["last_submit"].(time.Time); ok {
		t = t.UTC()
		r.LastSubmit = &t
	}
	if t, ok := rec.Values["originally_collected_on"].(time.Time); ok {
		t = t.UTC()
		r.OriginallyCollectedOn = &t
	}
	if id, ok := rec.Int("observation"); ok {
		r.Observation = &Observation{ID: id}
	}
	return r
}

func optID(id int64) any {
	if id <= 0 {
		return nil
	}
	return id
}

func optString(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}
