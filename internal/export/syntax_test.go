package export

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"surveydesk/internal/ask"
)

func TestSyntaxLabelsQuestions(t *testing.T) {
	mapped := int64(10)
	questions := []*ask.Question{
		{VariableName: "mood", QType: "likert", Text: `How is your "mood"?`, ChoiceSet: &ask.ChoiceSet{Choices: []ask.Choice{
			{Score: 1, Label: "Low", MappedScore: &mapped},
			{Score: 2, Label: "High"},
		}}},
		{VariableName: "age", QType: "integer", Text: "Age in years"},
		{VariableName: "age", QType: "integer", Text: "Age in years"},
		{VariableName: "intro", QType: "instruction", Text: "Welcome"},
	}

	out, err := Syntax(questions, "trial")
	require.NoError(t, err)

	assert.Contains(t, out, `capture label variable mood "How is your 'mood'?"`)
	assert.Contains(t, out, `capture label define mood_lbl 10 "Low" 2 "High", replace`)
	assert.Contains(t, out, "capture label values mood mood_lbl")
	assert.Contains(t, out, `capture label variable age "Age in years"`)
	assert.Contains(t, out, `"Reply belongs to study trial"`)
	assert.NotContains(t, out, "intro")
	assert.Equal(t, 1, strings.Count(out, "label variable age "))
	assert.Less(t, strings.Index(out, "variable age "), strings.Index(out, "variable mood "))
}

func TestStataLabelTruncates(t *testing.T) {
	long := strings.Repeat("é", 100)
	assert.Len(t, []rune(stataLabel(long)), 80)
	assert.Equal(t, "a b", stataLabel("a\nb"))
}
