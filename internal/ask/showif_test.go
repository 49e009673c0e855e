package ask

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func int64p(v int64) *int64 { return &v }

func strp(v string) *string { return &v }

func TestParseShowIf(t *testing.T) {
	cases := []struct {
		in   string
		want ShowIfCondition
	}{
		{"x < 5", ShowIfCondition{VariableName: "x", Operator: "<", LessThan: int64p(5)}},
		{"x > 3", ShowIfCondition{VariableName: "x", Operator: ">", MoreThan: int64p(3)}},
		{"x = 1", ShowIfCondition{VariableName: "x", Operator: "=", Values: strp("1")}},
		{"x in [1,2,3]", ShowIfCondition{VariableName: "x", Operator: "in", Values: strp("1,2,3")}},
		{"pain > 3", ShowIfCondition{VariableName: "pain", Operator: ">", MoreThan: int64p(3)}},
		{"  mood_score<10 ", ShowIfCondition{VariableName: "mood_score", Operator: "<", LessThan: int64p(10)}},
		{"x = 0", ShowIfCondition{VariableName: "x", Operator: "="}},
		{"x in []", ShowIfCondition{VariableName: "x", Operator: "in"}},
		{"x = '7'", ShowIfCondition{VariableName: "x", Operator: "=", Values: strp("7")}},
		{"x = 2.9", ShowIfCondition{VariableName: "x", Operator: "=", Values: strp("2")}},
		{"x = true", ShowIfCondition{VariableName: "x", Operator: "=", Values: strp("1")}},
		{"x in [yes, no]", ShowIfCondition{VariableName: "x", Operator: "in", Values: strp("yes,no")}},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseShowIf(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestParseShowIfRejects(t *testing.T) {
	for _, in := range []string{
		"x",
		"= 4",
		"x = maybe",
		"x < [1, 2]",
		"x > {a: 1}",
	} {
		t.Run(in, func(t *testing.T) {
			_, err := ParseShowIf(in)
			if !errors.Is(err, ErrInvalidShowIf) {
				t.Fatalf("expected ErrInvalidShowIf, got %v", err)
			}
		})
	}
}

func TestShowIfConditionStringRoundTrips(t *testing.T) {
	for _, in := range []string{"x < 5", "x > 3", "x = 1", "x in [1, 2, 3]"} {
		cond, err := ParseShowIf(in)
		require.NoError(t, err)
		assert.Equal(t, in, cond.String())

		again, err := ParseShowIf(cond.String())
		require.NoError(t, err)
		assert.Equal(t, cond, again)
	}
}
