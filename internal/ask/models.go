package ask

import (
	"surveydesk/internal/dotpath"
	"surveydesk/internal/entity"
)

// Field descriptors for every entity the importer writes. Names are the keys
// used in authoring documents; columns are what the tables call them.
var (
	AskerKind = entity.Kind{
		Name:  "asker",
		Table: "askers",
		Fields: []entity.Field{
			{Name: "name", Column: "name", Type: entity.Text},
			{Name: "slug", Column: "slug", Type: entity.Text},
			{Name: "success_message", Column: "success_message", Type: entity.Text},
			{Name: "redirect_url", Column: "redirect_url", Type: entity.Text},
			{Name: "finish_on_last_page", Column: "finish_on_last_page", Type: entity.Bool},
			{Name: "show_progress", Column: "show_progress", Type: entity.Bool},
			{Name: "step_navigation", Column: "step_navigation", Type: entity.Bool},
		},
	}

	AskPageKind = entity.Kind{
		Name:  "askpage",
		Table: "ask_pages",
		Fields: []entity.Field{
			{Name: "asker", Column: "asker_id", Type: entity.Ref},
			{Name: "order", Column: "position", Type: entity.Integer},
			{Name: "step_name", Column: "step_name", Type: entity.Text},
			{Name: "submit_button_text", Column: "submit_button_text", Type: entity.Text},
		},
	}

	QuestionKind = entity.Kind{
		Name:  "question",
		Table: "questions",
		Fields: []entity.Field{
			{Name: "variable_name", Column: "variable_name", Type: entity.Text},
			{Name: "page", Column: "page_id", Type: entity.Ref},
			{Name: "order", Column: "position", Type: entity.Integer},
			{Name: "q_type", Column: "q_type", Type: entity.Text},
			{Name: "text", Column: "text", Type: entity.Text},
			{Name: "help_text", Column: "help_text", Type: entity.Text},
			{Name: "required", Column: "required", Type: entity.Bool},
			{Name: "choiceset", Column: "choiceset_id", Type: entity.Ref},
			{Name: "showif", Column: "showif_id", Type: entity.Ref},
		},
	}

	ShowIfKind = entity.Kind{
		Name:  "showif",
		Table: "showifs",
		Fields: []entity.Field{
			{Name: "previous_question", Column: "previous_question_id", Type: entity.Ref},
			{Name: "values", Column: "values_list", Type: entity.Text},
			{Name: "less_than", Column: "less_than", Type: entity.Integer},
			{Name: "more_than", Column: "more_than", Type: entity.Integer},
		},
	}

	ChoiceSetKind = entity.Kind{
		Name:  "choiceset",
		Table: "choicesets",
		Fields: []entity.Field{
			{Name: "name", Column: "name", Type: entity.Text},
		},
	}

	ChoiceKind = entity.Kind{
		Name:  "choice",
		Table: "choices",
		Fields: []entity.Field{
			{Name: "choiceset", Column: "choiceset_id", Type: entity.Ref},
			{Name: "order", Column: "position", Type: entity.Integer},
			{Name: "score", Column: "score", Type: entity.Integer},
			{Name: "label", Column: "label", Type: entity.Text},
			{Name: "mapped_score", Column: "mapped_score", Type: entity.Integer},
			{Name: "is_default", Column: "is_default", Type: entity.Bool},
		},
	}
)

type Asker struct {
	ID               int64      `json:"id"`
	Name             string     `json:"name"`
	Slug             string     `json:"slug"`
	SuccessMessage   string     `json:"success_message,omitempty"`
	RedirectURL      string     `json:"redirect_url,omitempty"`
	FinishOnLastPage bool       `json:"finish_on_last_page"`
	ShowProgress     bool       `json:"show_progress"`
	StepNavigation   bool       `json:"step_navigation"`
	Pages            []*AskPage `json:"pages,omitempty"`
}

func (a *Asker) EntityID() int64 {
	if a == nil {
		return 0
	}
	return a.ID
}

// Questions returns every question of every page in presentation order.
func (a *Asker) Questions() []*Question {
	var out []*Question
	for _, p := range a.Pages {
		out = append(out, p.Questions...)
	}
	return out
}

func (a *Asker) Attr(name string) dotpath.Lookup {
	if a == nil {
		return dotpath.Missing
	}
	switch name {
	case "id":
		return dotpath.Found(a.ID)
	case "name":
		return dotpath.Found(a.Name)
	case "slug":
		return dotpath.Found(a.Slug)
	}
	return dotpath.Missing
}

type AskPage struct {
	ID               int64       `json:"id"`
	AskerID          int64       `json:"asker_id"`
	Order            int         `json:"order"`
	StepName         string      `json:"step_name"`
	SubmitButtonText string      `json:"submit_button_text,omitempty"`
	Questions        []*Question `json:"questions,omitempty"`
}

type Question struct {
	ID           int64      `json:"id"`
	VariableName string     `json:"variable_name"`
	PageID       *int64     `json:"page_id,omitempty"`
	Order        int        `json:"order"`
	QType        string     `json:"q_type"`
	Text         string     `json:"text"`
	HelpText     string     `json:"help_text,omitempty"`
	Required     bool       `json:"required"`
	ChoiceSet    *ChoiceSet `json:"choiceset,omitempty"`
	ShowIf       *ShowIf    `json:"showif,omitempty"`
}

func (q *Question) EntityID() int64 {
	if q == nil {
		return 0
	}
	return q.ID
}

func (q *Question) Kind() Kind {
	if q == nil {
		return KindText
	}
	return KindOf(q.QType)
}

// Choices returns the choices of the question's choice set, if any.
func (q *Question) Choices() []Choice {
	if q == nil || q.ChoiceSet == nil {
		return nil
	}
	return q.ChoiceSet.Choices
}

// ChoiceLabel returns the label of the choice scored score.
func (q *Question) ChoiceLabel(score int64) (string, bool) {
	for _, c := range q.Choices() {
		if c.Score == score {
			return c.Label, true
		}
	}
	return "", false
}

// MappedScore returns the choice's mapped score, or score itself when the
// choice is unknown or carries no mapping.
func (q *Question) MappedScore(score int64) int64 {
	for _, c := range q.Choices() {
		if c.Score == score && c.MappedScore != nil {
			return *c.MappedScore
		}
	}
	return score
}

func (q *Question) Attr(name string) dotpath.Lookup {
	if q == nil {
		return dotpath.Missing
	}
	switch name {
	case "id":
		return dotpath.Found(q.ID)
	case "variable_name":
		return dotpath.Found(q.VariableName)
	case "q_type":
		return dotpath.Found(q.QType)
	case "text":
		return dotpath.Found(q.Text)
	case "help_text":
		return dotpath.Found(q.HelpText)
	case "order":
		return dotpath.Found(q.Order)
	case "required":
		return dotpath.Found(q.Required)
	case "choiceset":
		return dotpath.Found(q.ChoiceSet)
	case "showif":
		return dotpath.Found(q.ShowIf)
	}
	return dotpath.Missing
}

type ShowIf struct {
	ID                   int64   `json:"id"`
	PreviousQuestionID   int64   `json:"previous_question_id"`
	PreviousVariableName string  `json:"previous_variable_name"`
	Values               *string `json:"values,omitempty"`
	LessThan             *int64  `json:"less_than,omitempty"`
	MoreThan             *int64  `json:"more_than,omitempty"`
}

// Condition returns the rule in parsed form.
func (s *ShowIf) Condition() ShowIfCondition {
	c := ShowIfCondition{
		VariableName: s.PreviousVariableName,
		LessThan:     s.LessThan,
		MoreThan:     s.MoreThan,
		Values:       s.Values,
	}
	switch {
	case s.LessThan != nil:
		c.Operator = "<"
	case s.MoreThan != nil:
		c.Operator = ">"
	default:
		c.Operator = "="
	}
	return c
}

func (s *ShowIf) Attr(name string) dotpath.Lookup {
	if s == nil {
		return dotpath.Missing
	}
	switch name {
	case "id":
		return dotpath.Found(s.ID)
	case "previous_question":
		return dotpath.Found(s.PreviousVariableName)
	case "summary":
		return dotpath.Found(s.Condition().String())
	}
	return dotpath.Missing
}

type ChoiceSet struct {
	ID      int64    `json:"id"`
	Name    string   `json:"name"`
	Choices []Choice `json:"choices"`
}

func (c *ChoiceSet) EntityID() int64 {
	if c == nil {
		return 0
	}
	return c.ID
}

func (c *ChoiceSet) Attr(name string) dotpath.Lookup {
	if c == nil {
		return dotpath.Missing
	}
	switch name {
	case "id":
		return dotpath.Found(c.ID)
	case "name":
		return dotpath.Found(c.Name)
	}
	return dotpath.Missing
}

type Choice struct {
	ID          int64  `json:"id"`
	Order       int    `json:"order"`
	Score       int64  `json:"score"`
	Label       string `json:"label"`
	MappedScore *int64 `json:"mapped_score,omitempty"`
	IsDefault   bool   `json:"is_default,omitempty"`
}
