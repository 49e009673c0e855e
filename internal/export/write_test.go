package export

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"surveydesk/internal/study"
)

func TestWriteCSV(t *testing.T) {
	rows := []Row{
		{"reply.id": int64(1), "age": int64(34), "note": "has, comma"},
		{"reply.id": int64(2), "weight": 71.5, "extra": "ignored"},
	}
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, []string{"age", "note", "reply.id", "weight"}, rows))

	want := strings.Join([]string{
		"age,note,reply.id,weight",
		`34,"has, comma",1,`,
		",,2,71.5",
	}, "\n") + "\n"
	assert.Equal(t, want, buf.String())
}

func TestFormatValue(t *testing.T) {
	cases := []struct {
		in   any
		want string
	}{
		{nil, ""},
		{"x", "x"},
		{int64(-3), "-3"},
		{1, "1"},
		{2.50, "2.5"},
		{true, "1"},
		{time.Date(2024, time.May, 6, 7, 8, 9, 0, time.UTC), "2024-05-06T07:08:09Z"},
		{study.NewDate(2024, time.May, 6), "2024-05-06"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, FormatValue(tc.in))
	}
}

func TestWriteXLSX(t *testing.T) {
	rows := []Row{{"age": int64(34), "reply.id": int64(1)}, {"reply.id": int64(2), "mood": "low"}}
	headers := Headers(rows)

	body, err := WriteXLSX(headers, rows)
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(body))
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	got, err := f.GetRows(f.GetSheetName(0))
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"age", "mood", "reply.id"}, got[0])
	assert.Equal(t, []string{"34", "", "1"}, got[1])
	assert.Equal(t, []string{"", "low", "2"}, got[2])
}

func TestWriteXLSXTooManyColumns(t *testing.T) {
	headers := make([]string, excelize.MaxColumns+1)
	for i := range headers {
		headers[i] = "v" + strings.Repeat("x", i%3)
	}

	_, err := WriteXLSX(headers, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "header cell")
}
