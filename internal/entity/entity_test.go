package entity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name    string
		field   Field
		in      any
		want    any
		wantErr bool
	}{
		{name: "text from int", field: Field{Name: "f", Type: Text}, in: 5, want: "5"},
		{name: "text from float", field: Field{Name: "f", Type: Text}, in: 2.5, want: "2.5"},
		{name: "int from yaml int", field: Field{Name: "f", Type: Integer}, in: 7, want: int64(7)},
		{name: "int from whole float", field: Field{Name: "f", Type: Integer}, in: 3.0, want: int64(3)},
		{name: "int from fraction", field: Field{Name: "f", Type: Integer}, in: 3.5, wantErr: true},
		{name: "int from string", field: Field{Name: "f", Type: Integer}, in: " 12 ", want: int64(12)},
		{name: "int from empty string", field: Field{Name: "f", Type: Integer}, in: "", want: nil},
		{name: "int from junk", field: Field{Name: "f", Type: Integer}, in: "abc", wantErr: true},
		{name: "bool from sqlite int", field: Field{Name: "f", Type: Bool}, in: int64(1), want: true},
		{name: "bool from word", field: Field{Name: "f", Type: Bool}, in: "no", want: false},
		{name: "bool from junk", field: Field{Name: "f", Type: Bool}, in: "maybe", wantErr: true},
		{name: "ref from record", field: Field{Name: "f", Type: Ref}, in: &Record{ID: 9}, want: int64(9)},
		{name: "ref from nil record", field: Field{Name: "f", Type: Ref}, in: (*Record)(nil), want: nil},
		{name: "ref from zero", field: Field{Name: "f", Type: Ref}, in: int64(0), want: nil},
		{name: "nil stays nil", field: Field{Name: "f", Type: Float}, in: nil, want: nil},
		{name: "time from date", field: Field{Name: "f", Type: Time}, in: "2024-03-01", want: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Normalize(tc.field, tc.in)
			if tc.wantErr {
				require.ErrorIs(t, err, ErrInvalidValue)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestKindField(t *testing.T) {
	k := Kind{Name: "thing", Table: "things", Fields: []Field{{Name: "order", Column: "position", Type: Integer}}}

	f, ok := k.Field("order")
	require.True(t, ok)
	assert.Equal(t, "position", f.Column)

	_, ok = k.Field("id")
	assert.False(t, ok, "id is lookup-only")
	_, ok = k.lookupField("id")
	assert.True(t, ok)
}

func TestEqualComparesTimesByInstant(t *testing.T) {
	a := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	b := a.In(time.FixedZone("x", 3600))
	assert.True(t, equal(a, b))
	assert.False(t, equal(a, nil))
	assert.True(t, equal(int64(1), int64(1)))
	assert.False(t, equal(int64(1), "1"))
}
