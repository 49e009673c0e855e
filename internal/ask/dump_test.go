package ask

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDumpThenImportRoundTrips(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	report, err := svc.ImportYAML(ctx, 0, moodDocument)
	require.NoError(t, err)

	dumped, err := svc.DumpYAML(ctx, report.AskerID)
	require.NoError(t, err)

	original, err := ParseDocument(moodDocument)
	require.NoError(t, err)
	reparsed, err := ParseDocument(dumped)
	require.NoError(t, err)

	require.Len(t, reparsed.Pages, len(original.Pages))
	for i := range original.Pages {
		assert.Equal(t, original.Pages[i].StepName, reparsed.Pages[i].StepName)
		require.Len(t, reparsed.Pages[i].Questions, len(original.Pages[i].Questions))
		for j, q := range original.Pages[i].Questions {
			assert.Equal(t, q.VariableName, reparsed.Pages[i].Questions[j].VariableName)
		}
	}
	assert.Equal(t, original.ChoiceSets, reparsed.ChoiceSets)
	assert.Equal(t, "age > 17", reparsed.Pages[1].Questions[0].Fields["showif"])

	again, err := svc.ImportYAML(ctx, report.AskerID, dumped)
	require.NoError(t, err)
	assert.Zero(t, again.CreatedQuestions)
	assert.Zero(t, again.ModifiedQuestions)
}

func TestEncodeDocumentQuotesAmbiguousScalars(t *testing.T) {
	a := &Asker{Name: "123", Slug: "yes", Pages: []*AskPage{{
		StepName: "p",
		Questions: []*Question{{
			VariableName: "q",
			QType:        "short-text",
			Text:         "true",
		}},
	}}}

	out, err := EncodeDocument(a)
	require.NoError(t, err)

	doc, err := ParseDocument(out)
	require.NoError(t, err)
	assert.Equal(t, "123", doc.Asker["name"])
	assert.Equal(t, "yes", doc.Asker["slug"])
	assert.Equal(t, "true", doc.Pages[0].Questions[0].Fields["text"])
}
