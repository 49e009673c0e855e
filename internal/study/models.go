package study

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"surveydesk/internal/ask"
	"surveydesk/internal/dotpath"
)

// Date is a calendar date without a time of day.
type Date struct {
	t time.Time
}

func NewDate(year int, month time.Month, day int) Date {
	return Date{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates t to its calendar date.
func DateOf(t time.Time) Date {
	return NewDate(t.Year(), t.Month(), t.Day())
}

func ParseDate(s string) (Date, error) {
	t, err := time.Parse("2006-01-02", strings.TrimSpace(s))
	if err != nil {
		return Date{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return DateOf(t), nil
}

func (d Date) String() string { return d.t.Format("2006-01-02") }

func (d Date) Time() time.Time { return d.t }

func (d Date) IsZero() bool { return d.t.IsZero() }

func (d Date) AddDays(n int) Date { return Date{t: d.t.AddDate(0, 0, n)} }

// DaysSince returns d - other in whole days.
func (d Date) DaysSince(other Date) int {
	return int(d.t.Sub(other.t).Hours() / 24)
}

func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(d.String())), nil
}

func (d *Date) UnmarshalJSON(b []byte) error {
	s, err := strconv.Unquote(string(b))
	if err != nil {
		return fmt.Errorf("date must be a string: %w", err)
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

type Study struct {
	ID   int64  `json:"id"`
	Slug string `json:"slug"`
	Name string `json:"name"`
}

func (s *Study) Attr(name string) dotpath.Lookup {
	if s == nil {
		return dotpath.Missing
	}
	switch name {
	case "id":
		return dotpath.Found(s.ID)
	case "slug":
		return dotpath.Found(s.Slug)
	case "name":
		return dotpath.Found(s.Name)
	}
	return dotpath.Missing
}

type Condition struct {
	ID  int64  `json:"id"`
	Tag string `json:"tag"`
}

func (c *Condition) Attr(name string) dotpath.Lookup {
	if c == nil {
		return dotpath.Missing
	}
	switch name {
	case "id":
		return dotpath.Found(c.ID)
	case "tag":
		return dotpath.Found(c.Tag)
	}
	return dotpath.Missing
}

type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
	FullName string `json:"full_name,omitempty"`
}

func (u *User) Attr(name string) dotpath.Lookup {
	if u == nil {
		return dotpath.Missing
	}
	switch name {
	case "id":
		return dotpath.Found(u.ID)
	case "username":
		return dotpath.Found(u.Username)
	case "email":
		return dotpath.Found(u.Email)
	case "full_name":
		return dotpath.Found(u.FullName)
	}
	return dotpath.Missing
}

// Membership places a user in a study. RelatesTo links a dyad partner.
type Membership struct {
	ID             int64       `json:"id"`
	User           *User       `json:"user,omitempty"`
	Study          *Study      `json:"study,omitempty"`
	Condition      *Condition  `json:"condition,omitempty"`
	RelatesTo      *Membership `json:"relates_to,omitempty"`
	DateRandomised *Date       `json:"date_randomised,omitempty"`
}

func (m *Membership) Attr(name string) dotpath.Lookup {
	if m == nil {
		return dotpath.Missing
	}
	switch name {
	case "id":
		return dotpath.Found(m.ID)
	case "user":
		return dotpath.Found(m.User)
	case "study":
		return dotpath.Found(m.Study)
	case "condition":
		return dotpath.Found(m.Condition)
	case "relates_to":
		return dotpath.Found(m.RelatesTo)
	case "date_randomised":
		if m.DateRandomised == nil {
			return dotpath.Found(nil)
		}
		return dotpath.Found(*m.DateRandomised)
	}
	return dotpath.Missing
}

// Script identifies what scheduled an observation.
type Script struct {
	Reference string `json:"reference"`
}

func (s *Script) Attr(name string) dotpath.Lookup {
	if s == nil {
		return dotpath.Missing
	}
	if name == "reference" {
		return dotpath.Found(s.Reference)
	}
	return dotpath.Missing
}

type Observation struct {
	ID              int64       `json:"id"`
	Dyad            *Membership `json:"dyad,omitempty"`
	NInSequence     *int64      `json:"n_in_sequence,omitempty"`
	Due             time.Time   `json:"due"`
	DueOriginal     time.Time   `json:"due_original"`
	Status          string      `json:"status"`
	ScriptReference string      `json:"script_reference,omitempty"`
}

// CreatedByScript is nil for observations added by hand.
func (o *Observation) CreatedByScript() *Script {
	if o == nil || o.ScriptReference == "" {
		return nil
	}
	return &Script{Reference: o.ScriptReference}
}

// AllowsTimeshift reports whether the observation is still due in future.
func (o *Observation) AllowsTimeshift() bool {
	return o != nil && o.Status == StatusPending
}

func (o *Observation) Attr(name string) dotpath.Lookup {
	if o == nil {
		return dotpath.Missing
	}
	switch name {
	case "id":
		return dotpath.Found(o.ID)
	case "dyad":
		return dotpath.Found(o.Dyad)
	case "n_in_sequence":
		if o.NInSequence == nil {
			return dotpath.Found(nil)
		}
		return dotpath.Found(*o.NInSequence)
	case "due":
		return dotpath.Found(o.Due)
	case "due_original":
		return dotpath.Found(o.DueOriginal)
	case "status":
		return dotpath.Found(o.Status)
	case "created_by_script":
		return dotpath.Found(o.CreatedByScript())
	}
	return dotpath.Missing
}

type Reply struct {
	ID                    int64        `json:"id"`
	AskerID               int64        `json:"asker_id"`
	Token                 string       `json:"token"`
	EntryMethod           string       `json:"entry_method"`
	IsCanonicalReply      bool         `json:"is_canonical_reply"`
	Started               time.Time    `json:"started"`
	LastSubmit            *time.Time   `json:"last_submit,omitempty"`
	OriginallyCollectedOn *time.Time   `json:"originally_collected_on,omitempty"`
	Observation           *Observation `json:"observation,omitempty"`
}

func (r *Reply) EntityID() int64 {
	if r == nil {
		return 0
	}
	return r.ID
}

func (r *Reply) Attr(name string) dotpath.Lookup {
	if r == nil {
		return dotpath.Missing
	}
	switch name {
	case "id":
		return dotpath.Found(r.ID)
	case "asker_id":
		return dotpath.Found(r.AskerID)
	case "token":
		return dotpath.Found(r.Token)
	case "entry_method":
		return dotpath.Found(r.EntryMethod)
	case "is_canonical_reply":
		return dotpath.Found(r.IsCanonicalReply)
	case "started":
		return dotpath.Found(r.Started)
	case "last_submit":
		return optTime(r.LastSubmit)
	case "originally_collected_on":
		return optTime(r.OriginallyCollectedOn)
	case "observation":
		return dotpath.Found(r.Observation)
	}
	return dotpath.Missing
}

func optTime(t *time.Time) dotpath.Lookup {
	if t == nil {
		return dotpath.Found(nil)
	}
	return dotpath.Found(*t)
}

// Answer is one stored response: to a question, or to a free-form variable
// named by OtherVariableName.
type Answer struct {
	ID                int64         `json:"id"`
	Question          *ask.Question `json:"question,omitempty"`
	PageID            *int64        `json:"page_id,omitempty"`
	OtherVariableName *string       `json:"other_variable_name,omitempty"`
	Reply             *Reply        `json:"reply,omitempty"`
	Answer            *string       `json:"answer,omitempty"`
	Choices           string        `json:"choices,omitempty"`
	Upload            string        `json:"upload,omitempty"`
	Meta              string        `json:"meta,omitempty"`
	CreatedAt         time.Time     `json:"created_at"`
	LastModified      time.Time     `json:"last_modified"`
}

func (a *Answer) VariableName() string {
	if a.Question != nil {
		return a.Question.VariableName
	}
	if a.OtherVariableName != nil {
		return *a.OtherVariableName
	}
	return ""
}

func (a *Answer) score() (int64, bool) {
	if a.Answer == nil {
		return 0, false
	}
	n, err := strconv.ParseInt(strings.TrimSpace(*a.Answer), 10, 64)
	return n, err == nil
}

func (a *Answer) raw() any {
	if a.Answer == nil {
		return nil
	}
	return *a.Answer
}

// ChoiceLabel returns the label of the chosen score. Scores the question no
// longer offers are looked up in the choices snapshot taken when the answer
// was saved; failing that the raw answer is returned.
func (a *Answer) ChoiceLabel() any {
	score, ok := a.score()
	if !ok {
		return a.raw()
	}
	if label, found := a.Question.ChoiceLabel(score); found {
		return label
	}
	if a.Choices != "" {
		if res := gjson.Get(a.Choices, fmt.Sprintf("#(score==%d).label", score)); res.Exists() {
			return res.String()
		}
	}
	return a.raw()
}

// MappedScore returns the score after the choice's mapping, or the raw
// answer when it is not a score.
func (a *Answer) MappedScore() any {
	score, ok := a.score()
	if !ok {
		return a.raw()
	}
	if _, found := a.Question.ChoiceLabel(score); found {
		return a.Question.MappedScore(score)
	}
	if a.Choices != "" {
		if res := gjson.Get(a.Choices, fmt.Sprintf("#(score==%d).mapped_score", score)); res.Exists() && res.Type == gjson.Number {
			return res.Int()
		}
	}
	return score
}

// ValueForExport converts the answer per its question's kind. Free-form
// answers export their raw value. Single choices export MappedScore, so
// scores dropped from the set still map through the snapshot.
func (a *Answer) ValueForExport() any {
	if a.Question == nil {
		if a.Upload != "" {
			return ask.KindUpload.ExportValue(ask.ExportInput{Upload: a.Upload})
		}
		return a.raw()
	}
	kind := a.Question.Kind()
	if kind == ask.KindChoice {
		if _, ok := a.score(); ok {
			return a.MappedScore()
		}
	}
	return kind.ExportValue(ask.ExportInput{
		Raw:      a.Answer,
		Upload:   a.Upload,
		Question: a.Question,
	})
}

func (a *Answer) Attr(name string) dotpath.Lookup {
	if a == nil {
		return dotpath.Missing
	}
	switch name {
	case "id":
		return dotpath.Found(a.ID)
	case "question":
		return dotpath.Found(a.Question)
	case "reply":
		return dotpath.Found(a.Reply)
	case "page":
		if a.PageID == nil {
			return dotpath.Found(nil)
		}
		return dotpath.Found(*a.PageID)
	case "answer":
		return dotpath.Found(a.raw())
	case "upload":
		return dotpath.Found(a.Upload)
	case "variable_name":
		return dotpath.Found(a.VariableName())
	case "get_value_for_export":
		return dotpath.Found(a.ValueForExport())
	case "choice_label":
		return dotpath.Found(a.ChoiceLabel())
	case "mapped_score":
		return dotpath.Found(a.MappedScore())
	case "created":
		return dotpath.Found(a.CreatedAt)
	case "last_modified":
		return dotpath.Found(a.LastModified)
	}
	return dotpath.Missing
}
