package ask

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"

	"surveydesk/internal/db"
	"surveydesk/internal/entity"
)

var (
	ErrInvalidInput  = errors.New("invalid input")
	ErrAskerNotFound = errors.New("asker not found")
)

type Service struct {
	db *sql.DB
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

type CreateAskerInput struct {
	Name string
	Slug string
}

// ImportReport summarises what an import wrote.
type ImportReport struct {
	AskerID           int64 `json:"asker_id"`
	Pages             int   `json:"pages"`
	Questions         int   `json:"questions"`
	ChoiceSets        int   `json:"choicesets"`
	CreatedQuestions  int   `json:"created_questions"`
	ModifiedQuestions int   `json:"modified_questions"`
}

func (s *Service) CreateAsker(ctx context.Context, in CreateAskerInput) (*Asker, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Slug = strings.TrimSpace(in.Slug)

	rec, err := entity.Create(ctx, s.db, AskerKind, entity.Values{"name": in.Name, "slug": in.Slug})
	if err != nil {
		return nil, fmt.Errorf("create asker: %w", err)
	}
	return askerFromRecord(rec), nil
}

// ImportYAML parses raw and imports it into the asker. askerID 0 creates a
// new asker.
func (s *Service) ImportYAML(ctx context.Context, askerID int64, raw string) (*ImportReport, error) {
	doc, err := ParseDocument(raw)
	if err != nil {
		return nil, err
	}
	return s.Import(ctx, askerID, doc)
}

// Import replaces the asker's pages with the document's, upserting the asker,
// choice sets and questions. Questions are matched by variable name and keep
// their identity; questions no longer in the document lose their page. All
// writes happen in one transaction.
func (s *Service) Import(ctx context.Context, askerID int64, doc *Document) (*ImportReport, error) {
	if doc == nil || doc.Asker == nil {
		return nil, ErrNoAskerInfo
	}
	if askerID < 0 {
		return nil, ErrInvalidInput
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if askerID == 0 {
		rec, err := entity.Create(ctx, tx, AskerKind, nil)
		if err != nil {
			return nil, fmt.Errorf("create asker: %w", err)
		}
		askerID = rec.ID
	} else if _, err := entity.Get(ctx, tx, AskerKind, askerID); err != nil {
		if errors.Is(err, entity.ErrNotFound) {
			return nil, ErrAskerNotFound
		}
		return nil, err
	}

	report := &ImportReport{AskerID: askerID}

	if _, err := tx.ExecContext(ctx, `DELETE FROM replies WHERE asker_id = $1 AND entry_method = 'preview'`, askerID); err != nil {
		return nil, fmt.Errorf("delete preview replies: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM ask_pages WHERE asker_id = $1`, askerID); err != nil {
		return nil, fmt.Errorf("delete pages: %w", err)
	}

	askerFields := entity.Values(doc.Asker)
	blankNullText(AskerKind, askerFields)
	if _, _, err := entity.GetOrModify(ctx, tx, AskerKind, entity.Values{"id": askerID}, askerFields); err != nil {
		return nil, fmt.Errorf("update asker: %w", err)
	}

	pages := make([]*entity.Record, len(doc.Pages))
	for i, p := range doc.Pages {
		rec, err := entity.Create(ctx, tx, AskPageKind, entity.Values{
			"asker":     askerID,
			"order":     i,
			"step_name": p.StepName,
		})
		if err != nil {
			return nil, fmt.Errorf("create page %q: %w", p.StepName, err)
		}
		pages[i] = rec
	}
	report.Pages = len(pages)

	for _, cs := range doc.ChoiceSets {
		if err := upsertChoiceSet(ctx, tx, cs); err != nil {
			return nil, err
		}
	}
	report.ChoiceSets = len(doc.ChoiceSets)

	// showif rules may create later questions as placeholders, so "created"
	// is decided against the state before any question is written.
	existed := make(map[string]bool)
	for _, p := range doc.Pages {
		for _, qd := range p.Questions {
			_, err := entity.Find(ctx, tx, QuestionKind, entity.Values{"variable_name": qd.VariableName})
			switch {
			case err == nil:
				existed[qd.VariableName] = true
			case !errors.Is(err, entity.ErrNotFound):
				return nil, fmt.Errorf("question %s: %w", qd.VariableName, err)
			}
		}
	}

	seen := make(map[string]bool)
	for i, p := range doc.Pages {
		for j, qd := range p.Questions {
			modified, err := importQuestion(ctx, tx, pages[i], j, qd)
			if err != nil {
				return nil, fmt.Errorf("question %s: %w", qd.VariableName, err)
			}
			report.Questions++
			created := !existed[qd.VariableName] && !seen[qd.VariableName]
			seen[qd.VariableName] = true
			if created {
				report.CreatedQuestions++
			} else if modified {
				report.ModifiedQuestions++
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit import: %w", err)
	}
	log.Printf("asker %d imported: pages=%d questions=%d created=%d modified=%d",
		askerID, report.Pages, report.Questions, report.CreatedQuestions, report.ModifiedQuestions)
	return report, nil
}

func upsertChoiceSet(ctx context.Context, q db.Querier, cs ChoiceSetDoc) error {
	rec, _, err := entity.GetOrModify(ctx, q, ChoiceSetKind, entity.Values{"name": cs.Name}, nil)
	if err != nil {
		return fmt.Errorf("choiceset %s: %w", cs.Name, err)
	}
	if _, err := q.ExecContext(ctx, `DELETE FROM choices WHERE choiceset_id = $1`, rec.ID); err != nil {
		return fmt.Errorf("clear choiceset %s: %w", cs.Name, err)
	}
	for i, c := range cs.Choices {
		if _, err := entity.Create(ctx, q, ChoiceKind, entity.Values{
			"choiceset":    rec,
			"order":        i,
			"score":        c.Score,
			"label":        c.Label,
			"mapped_score": optInt(c.MappedScore),
			"is_default":   c.IsDefault,
		}); err != nil {
			return fmt.Errorf("choiceset %s choice %d: %w", cs.Name, c.Score, err)
		}
	}
	return nil
}

func importQuestion(ctx context.Context, q db.Querier, page *entity.Record, order int, qd QuestionDoc) (modified bool, err error) {
	fields := make(entity.Values, len(qd.Fields)+3)
	for k, v := range qd.Fields {
		fields[k] = v
	}
	fields["variable_name"] = qd.VariableName
	fields["order"] = order
	fields["page"] = page
	blankNullText(QuestionKind, fields)

	if err := resolveChoiceSet(ctx, q, fields); err != nil {
		return false, err
	}
	if err := resolveShowIf(ctx, q, fields); err != nil {
		return false, err
	}

	rec, _, err := entity.GetOrModify(ctx, q, QuestionKind, entity.Values{"variable_name": qd.VariableName}, fields)
	if err != nil {
		return false, err
	}
	for _, name := range rec.Changed {
		if name != "page" {
			return true, nil
		}
	}
	return false, nil
}

// resolveChoiceSet replaces a choiceset name with its record, creating an
// empty set when the name is unknown.
func resolveChoiceSet(ctx context.Context, q db.Querier, fields entity.Values) error {
	raw := fields["choiceset"]
	name := ""
	if raw != nil {
		name = strings.TrimSpace(fmt.Sprint(raw))
	}
	if name == "" {
		fields["choiceset"] = nil
		return nil
	}
	rec, _, err := entity.GetOrModify(ctx, q, ChoiceSetKind, entity.Values{"name": name}, nil)
	if err != nil {
		return fmt.Errorf("choiceset %s: %w", name, err)
	}
	fields["choiceset"] = rec
	return nil
}

// blankNullText turns explicit nulls for text columns into empty strings.
func blankNullText(kind entity.Kind, fields entity.Values) {
	for name, v := range fields {
		if v != nil {
			continue
		}
		if f, ok := kind.Field(name); ok && f.Type == entity.Text {
			fields[name] = ""
		}
	}
}

// GetAsker loads the asker with its pages, questions, choice sets and showif
// rules.
func (s *Service) GetAsker(ctx context.Context, id int64) (*Asker, error) {
	if id <= 0 {
		return nil, ErrInvalidInput
	}
	return LoadAsker(ctx, s.db, id)
}

// LoadAsker is GetAsker against any querier.
func LoadAsker(ctx context.Context, q db.Querier, id int64) (*Asker, error) {
	rec, err := entity.Get(ctx, q, AskerKind, id)
	if err != nil {
		if errors.Is(err, entity.ErrNotFound) {
			return nil, ErrAskerNotFound
		}
		return nil, err
	}
	a := askerFromRecord(rec)

	rows, err := q.QueryContext(ctx, `
		SELECT id, asker_id, position, step_name, submit_button_text
		FROM ask_pages
		WHERE asker_id = $1
		ORDER BY position ASC, id ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	pagesByID := map[int64]*AskPage{}
	for rows.Next() {
		var p AskPage
		if err := rows.Scan(&p.ID, &p.AskerID, &p.Order, &p.StepName, &p.SubmitButtonText); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan page: %w", err)
		}
		a.Pages = append(a.Pages, &p)
		pagesByID[p.ID] = &p
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate pages: %w", err)
	}
	rows.Close()

	questions, err := queryQuestions(ctx, q, `
		SELECT q.id, q.variable_name, q.page_id, q.position, q.q_type, q.text, q.help_text,
		       q.required, q.choiceset_id, q.showif_id
		FROM questions q
		JOIN ask_pages p ON p.id = q.page_id
		WHERE p.asker_id = $1
		ORDER BY p.position ASC, q.position ASC, q.id ASC
	`, id)
	if err != nil {
		return nil, err
	}
	for _, qq := range questions {
		if p := pagesByID[*qq.PageID]; p != nil {
			p.Questions = append(p.Questions, qq)
		}
	}
	return a, nil
}

// LoadQuestions loads questions by id, with choice sets and showif rules.
func LoadQuestions(ctx context.Context, q db.Querier, ids []int64) (map[int64]*Question, error) {
	out := map[int64]*Question{}
	if len(ids) == 0 {
		return out, nil
	}
	questions, err := queryQuestions(ctx, q, fmt.Sprintf(`
		SELECT id, variable_name, page_id, position, q_type, text, help_text,
		       required, choiceset_id, showif_id
		FROM questions
		WHERE id IN (%s)
	`, db.Placeholders(1, len(ids))), db.Int64Args(ids)...)
	if err != nil {
		return nil, err
	}
	for _, qq := range questions {
		out[qq.ID] = qq
	}
	return out, nil
}

type questionRefs struct {
	choiceSetID sql.NullInt64
	showIfID    sql.NullInt64
}

func queryQuestions(ctx context.Context, q db.Querier, query string, args ...any) ([]*Question, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	defer rows.Close()

	var (
		out  []*Question
		refs []questionRefs
	)
	for rows.Next() {
		var (
			qq     Question
			pageID sql.NullInt64
			r      questionRefs
		)
		if err := rows.Scan(&qq.ID, &qq.VariableName, &pageID, &qq.Order, &qq.QType, &qq.Text, &qq.HelpText,
			&qq.Required, &r.choiceSetID, &r.showIfID); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		if pageID.Valid {
			qq.PageID = &pageID.Int64
		}
		out = append(out, &qq)
		refs = append(refs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate questions: %w", err)
	}
	rows.Close()

	var setIDs, showIfIDs []int64
	for _, r := range refs {
		if r.choiceSetID.Valid {
			setIDs = append(setIDs, r.choiceSetID.Int64)
		}
		if r.showIfID.Valid {
			showIfIDs = append(showIfIDs, r.showIfID.Int64)
		}
	}
	sets, err := LoadChoiceSets(ctx, q, setIDs)
	if err != nil {
		return nil, err
	}
	showIfs, err := loadShowIfs(ctx, q, showIfIDs)
	if err != nil {
		return nil, err
	}
	for i, r := range refs {
		if r.choiceSetID.Valid {
			out[i].ChoiceSet = sets[r.choiceSetID.Int64]
		}
		if r.showIfID.Valid {
			out[i].ShowIf = showIfs[r.showIfID.Int64]
		}
	}
	return out, nil
}

// LoadChoiceSets loads the named choice sets with their choices in order.
func LoadChoiceSets(ctx context.Context, q db.Querier, ids []int64) (map[int64]*ChoiceSet, error) {
	out := map[int64]*ChoiceSet{}
	ids = uniqueIDs(ids)
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := q.QueryContext(ctx, fmt.Sprintf(`
		SELECT cs.id, cs.name, c.id, c.position, c.score, c.label, c.mapped_score, c.is_default
		FROM choicesets cs
		LEFT JOIN choices c ON c.choiceset_id = cs.id
		WHERE cs.id IN (%s)
		ORDER BY cs.id ASC, c.position ASC, c.id ASC
	`, db.Placeholders(1, len(ids))), db.Int64Args(ids)...)
	if err != nil {
		return nil, fmt.Errorf("list choicesets: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			setID                    int64
			name                     string
			choiceID, pos, score, ms sql.NullInt64
			label                    sql.NullString
			isDefault                sql.NullBool
		)
		if err := rows.Scan(&setID, &name, &choiceID, &pos, &score, &label, &ms, &isDefault); err != nil {
			return nil, fmt.Errorf("scan choice: %w", err)
		}
		set := out[setID]
		if set == nil {
			set = &ChoiceSet{ID: setID, Name: name, Choices: []Choice{}}
			out[setID] = set
		}
		if !choiceID.Valid {
			continue
		}
		c := Choice{
			ID:        choiceID.Int64,
			Order:     int(pos.Int64),
			Score:     score.Int64,
			Label:     label.String,
			IsDefault: isDefault.Bool,
		}
		if ms.Valid {
			v := ms.Int64
			c.MappedScore = &v
		}
		set.Choices = append(set.Choices, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate choices: %w", err)
	}
	return out, nil
}

func loadShowIfs(ctx context.Context, q db.Querier, ids []int64) (map[int64]*ShowIf, error) {
	out := map[int64]*ShowIf{}
	ids = uniqueIDs(ids)
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := q.QueryContext(ctx, fmt.Sprintf(`
		SELECT s.id, s.previous_question_id, COALESCE(q.variable_name, ''), s.values_list, s.less_than, s.more_than
		FROM showifs s
		LEFT JOIN questions q ON q.id = s.previous_question_id
		WHERE s.id IN (%s)
	`, db.Placeholders(1, len(ids))), db.Int64Args(ids)...)
	if err != nil {
		return nil, fmt.Errorf("list showifs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			s              ShowIf
			prevID, lt, mt sql.NullInt64
			values         sql.NullString
		)
		if err := rows.Scan(&s.ID, &prevID, &s.PreviousVariableName, &values, &lt, &mt); err != nil {
			return nil, fmt.Errorf("scan showif: %w", err)
		}
		s.PreviousQuestionID = prevID.Int64
		if values.Valid {
			v := values.String
			s.Values = &v
		}
		if lt.Valid {
			v := lt.Int64
			s.LessThan = &v
		}
		if mt.Valid {
			v := mt.Int64
			s.MoreThan = &v
		}
		out[s.ID] = &s
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate showifs: %w", err)
	}
	return out, nil
}

// DumpYAML renders the asker back into an authoring document.
func (s *Service) DumpYAML(ctx context.Context, askerID int64) (string, error) {
	a, err := s.GetAsker(ctx, askerID)
	if err != nil {
		return "", err
	}
	return EncodeDocument(a)
}

func askerFromRecord(rec *entity.Record) *Asker {
	return &Asker{
		ID:               rec.ID,
		Name:             rec.String("name"),
		Slug:             rec.String("slug"),
		SuccessMessage:   rec.String("success_message"),
		RedirectURL:      rec.String("redirect_url"),
		FinishOnLastPage: rec.Bool("finish_on_last_page"),
		ShowProgress:     rec.Bool("show_progress"),
		StepNavigation:   rec.Bool("step_navigation"),
	}
}

func uniqueIDs(ids []int64) []int64 {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
