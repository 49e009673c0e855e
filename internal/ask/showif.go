package ask

import (
	"context"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"surveydesk/internal/db"
	"surveydesk/internal/entity"
)

var ErrInvalidShowIf = errors.New("invalid showif")

var showIfOperator = regexp.MustCompile(`(<|>|=|\sin\s)`)

// ShowIfCondition is a parsed showif rule. Exactly one of LessThan, MoreThan
// and Values is set for a parsed rule unless the value was falsy.
type ShowIfCondition struct {
	VariableName string
	Operator     string
	LessThan     *int64
	MoreThan     *int64
	Values       *string
}

// ParseShowIf parses "<variable> <op> <value>" where op is <, >, = or in.
// The first operator occurrence splits the string.
func ParseShowIf(s string) (ShowIfCondition, error) {
	loc := showIfOperator.FindStringIndex(s)
	if loc == nil {
		return ShowIfCondition{}, fmt.Errorf("%w: %q has no operator", ErrInvalidShowIf, s)
	}
	name := strings.TrimSpace(s[:loc[0]])
	if name == "" {
		return ShowIfCondition{}, fmt.Errorf("%w: %q has no variable name", ErrInvalidShowIf, s)
	}
	op := strings.TrimSpace(s[loc[0]:loc[1]])
	raw := strings.TrimSpace(s[loc[1]:])

	cond := ShowIfCondition{VariableName: name, Operator: op}
	v := literal(raw)
	switch op {
	case "<", ">":
		if _, isList := v.([]any); isList {
			return ShowIfCondition{}, fmt.Errorf("%w: %q compares against a list", ErrInvalidShowIf, s)
		}
		n, err := fixScalar(v)
		if err != nil {
			return ShowIfCondition{}, fmt.Errorf("%w: %q: %v", ErrInvalidShowIf, s, err)
		}
		if op == "<" {
			cond.LessThan = n
		} else {
			cond.MoreThan = n
		}
	default:
		if list, isList := v.([]any); isList {
			if len(list) > 0 {
				parts := make([]string, len(list))
				for i, item := range list {
					parts[i] = listItem(item)
				}
				joined := strings.Join(parts, ",")
				cond.Values = &joined
			}
			break
		}
		n, err := fixScalar(v)
		if err != nil {
			return ShowIfCondition{}, fmt.Errorf("%w: %q: %v", ErrInvalidShowIf, s, err)
		}
		if n != nil {
			str := strconv.FormatInt(*n, 10)
			cond.Values = &str
		}
	}
	return cond, nil
}

// String renders the condition in the authoring syntax.
func (c ShowIfCondition) String() string {
	switch {
	case c.LessThan != nil:
		return fmt.Sprintf("%s < %d", c.VariableName, *c.LessThan)
	case c.MoreThan != nil:
		return fmt.Sprintf("%s > %d", c.VariableName, *c.MoreThan)
	case c.Values != nil && strings.Contains(*c.Values, ","):
		return fmt.Sprintf("%s in [%s]", c.VariableName, strings.Join(strings.Split(*c.Values, ","), ", "))
	case c.Values != nil:
		return fmt.Sprintf("%s = %s", c.VariableName, *c.Values)
	}
	op := c.Operator
	if op == "" {
		op = "="
	}
	return fmt.Sprintf("%s %s 0", c.VariableName, op)
}

// literal parses raw as a YAML flow value, falling back to the raw string.
func literal(raw string) any {
	var v any
	if err := yaml.Unmarshal([]byte(raw), &v); err != nil {
		return raw
	}
	return v
}

func listItem(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return fmt.Sprint(x)
	}
}

// fixScalar coerces a truthy scalar to an integer. Falsy values give nil.
func fixScalar(v any) (*int64, error) {
	var n int64
	switch x := v.(type) {
	case nil:
		return nil, nil
	case bool:
		if !x {
			return nil, nil
		}
		n = 1
	case int:
		n = int64(x)
	case int64:
		n = x
	case uint64:
		if x > math.MaxInt64 {
			return nil, fmt.Errorf("%d overflows", x)
		}
		n = int64(x)
	case float64:
		n = int64(x)
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return nil, nil
		}
		parsed, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%q is not an integer", x)
		}
		n = parsed
	default:
		return nil, fmt.Errorf("unsupported value %T", v)
	}
	if n == 0 {
		return nil, nil
	}
	return &n, nil
}

// resolveShowIf replaces fields["showif"] with the ShowIf record it names.
// A missing or blank rule sets the field to nil so stale rules are delinked.
func resolveShowIf(ctx context.Context, q db.Querier, fields entity.Values) error {
	raw, ok := fields["showif"]
	if !ok || raw == nil {
		fields["showif"] = nil
		return nil
	}
	s, ok := raw.(string)
	if !ok {
		return fmt.Errorf("%w: expected a string, got %T", ErrInvalidShowIf, raw)
	}
	if strings.TrimSpace(s) == "" {
		fields["showif"] = nil
		return nil
	}

	cond, err := ParseShowIf(s)
	if err != nil {
		return err
	}
	prev, _, err := entity.GetOrModify(ctx, q, QuestionKind, entity.Values{"variable_name": cond.VariableName}, nil)
	if err != nil {
		return fmt.Errorf("showif question %s: %w", cond.VariableName, err)
	}
	rule, _, err := entity.GetOrModify(ctx, q, ShowIfKind, entity.Values{
		"previous_question": prev,
		"less_than":         optInt(cond.LessThan),
		"more_than":         optInt(cond.MoreThan),
		"values":            optString(cond.Values),
	}, nil)
	if err != nil {
		return fmt.Errorf("showif %q: %w", s, err)
	}
	fields["showif"] = rule
	return nil
}

func optInt(p *int64) any {
	if p == nil {
		return nil
	}
	return *p
}

func optString(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}
