package export

import (
	"bytes"
	"embed"
	"fmt"
	"sort"
	"strings"
	"text/template"

	"surveydesk/internal/ask"
)

//go:embed templates/syntax.do.tmpl
var templateFS embed.FS

var syntaxTemplate = template.Must(template.New("syntax.do.tmpl").Funcs(template.FuncMap{
	"label": stataLabel,
}).ParseFS(templateFS, "templates/syntax.do.tmpl"))

// MakeScript is the fixed bootstrap shipped as make.do.
const MakeScript = "do syntax.do\nexit\n"

const maxLabelLen = 80

type syntaxQuestion struct {
	Var         string
	Label       string
	ValueLabels []valueLabel
}

type valueLabel struct {
	Value int64
	Label string
}

// Syntax renders syntax.do for the questions whose answers were exported.
// Choice questions get value labels keyed by their exported (mapped) score.
func Syntax(questions []*ask.Question, referenceStudy string) (string, error) {
	seen := map[string]bool{}
	var items []syntaxQuestion
	for _, q := range questions {
		if q == nil || seen[q.VariableName] || q.Kind() == ask.KindInstruction {
			continue
		}
		seen[q.VariableName] = true

		item := syntaxQuestion{Var: q.VariableName, Label: q.Text}
		if item.Label == "" {
			item.Label = q.VariableName
		}
		if q.Kind() == ask.KindChoice {
			for _, c := range q.Choices() {
				v := c.Score
				if c.MappedScore != nil {
					v = *c.MappedScore
				}
				item.ValueLabels = append(item.ValueLabels, valueLabel{Value: v, Label: c.Label})
			}
		}
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Var < items[j].Var })

	var buf bytes.Buffer
	if err := syntaxTemplate.Execute(&buf, map[string]any{
		"Questions":      items,
		"ReferenceStudy": referenceStudy,
	}); err != nil {
		return "", fmt.Errorf("render syntax: %w", err)
	}
	return buf.String(), nil
}

// stataLabel makes s safe inside a double-quoted Stata label.
func stataLabel(s string) string {
	s = strings.NewReplacer(`"`, "'", "\r", " ", "\n", " ", "`", "'").Replace(strings.TrimSpace(s))
	if r := []rune(s); len(r) > maxLabelLen {
		s = string(r[:maxLabelLen])
	}
	return s
}
