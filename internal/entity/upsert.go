package entity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"surveydesk/internal/db"
)

// GetOrModify fetches the row of kind matching lookups, creating it from the
// lookup values when none exists, then applies every param that names a
// field of kind. Unknown param keys are ignored; authoring documents carry
// descriptive keys that have no column. The returned bool reports whether
// any applied value differed from the stored one. The applied values are
// always written back.
//
// Empty lookups always create a new row.
func GetOrModify(ctx context.Context, q db.Querier, kind Kind, lookups, params Values) (*Record, bool, error) {
	where, whereArgs, err := lookupClause(kind, lookups, 1)
	if err != nil {
		return nil, false, err
	}

	var rec *Record
	if where != "" {
		rec, err = selectOne(ctx, q, kind, where, whereArgs)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, false, err
		}
	}
	if rec == nil {
		rec, err = insertLookups(ctx, q, kind, lookups)
		if err != nil {
			return nil, false, err
		}
	}

	names := make([]string, 0, len(params))
	for name := range params {
		if _, ok := kind.Field(name); ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	sets := make([]string, 0, len(names))
	args := make([]any, 0, len(names)+1)
	for _, name := range names {
		f, _ := kind.Field(name)
		v, err := Normalize(f, params[name])
		if err != nil {
			return nil, false, err
		}
		if !equal(rec.Values[name], v) {
			rec.Changed = append(rec.Changed, name)
		}
		rec.Values[name] = v
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", f.Column, len(args)))
	}

	if len(sets) > 0 {
		args = append(args, rec.ID)
		query := fmt.Sprintf("UPDATE %s SET %s WHERE id = $%d", kind.Table, strings.Join(sets, ", "), len(args))
		if _, err := q.ExecContext(ctx, query, args...); err != nil {
			return nil, false, fmt.Errorf("update %s %d: %w", kind.Name, rec.ID, err)
		}
	}

	return rec, len(rec.Changed) > 0, nil
}

// Create inserts a row from values, ignoring names that are not fields.
func Create(ctx context.Context, q db.Querier, kind Kind, values Values) (*Record, error) {
	known := Values{}
	for name, v := range values {
		if _, ok := kind.Field(name); ok {
			known[name] = v
		}
	}
	return insertLookups(ctx, q, kind, known)
}

// Get loads a row by id.
func Get(ctx context.Context, q db.Querier, kind Kind, id int64) (*Record, error) {
	return selectOne(ctx, q, kind, "id = $1", []any{id})
}

// Find loads the single row matching lookups.
func Find(ctx context.Context, q db.Querier, kind Kind, lookups Values) (*Record, error) {
	where, args, err := lookupClause(kind, lookups, 1)
	if err != nil {
		return nil, err
	}
	if where == "" {
		return nil, fmt.Errorf("%w: find %s without lookups", ErrUnknownField, kind.Name)
	}
	return selectOne(ctx, q, kind, where, args)
}

func lookupClause(kind Kind, lookups Values, start int) (string, []any, error) {
	names := make([]string, 0, len(lookups))
	for name := range lookups {
		if _, ok := kind.lookupField(name); !ok {
			return "", nil, fmt.Errorf("%w: %s.%s", ErrUnknownField, kind.Name, name)
		}
		names = append(names, name)
	}
	sort.Strings(names)

	conds := make([]string, 0, len(names))
	args := make([]any, 0, len(names))
	for _, name := range names {
		f, _ := kind.lookupField(name)
		v, err := Normalize(f, lookups[name])
		if err != nil {
			return "", nil, err
		}
		if v == nil {
			conds = append(conds, f.Column+" IS NULL")
			continue
		}
		args = append(args, v)
		conds = append(conds, fmt.Sprintf("%s = $%d", f.Column, start+len(args)-1))
	}
	return strings.Join(conds, " AND "), args, nil
}

func selectOne(ctx context.Context, q db.Querier, kind Kind, where string, args []any) (*Record, error) {
	cols := make([]string, 0, len(kind.Fields)+1)
	cols = append(cols, "id")
	for _, f := range kind.Fields {
		cols = append(cols, f.Column)
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s ORDER BY id LIMIT 1", strings.Join(cols, ", "), kind.Table, where)

	raw := make([]any, len(cols))
	dest := make([]any, len(cols))
	for i := range raw {
		dest[i] = &raw[i]
	}
	if err := q.QueryRowContext(ctx, query, args...).Scan(dest...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load %s: %w", kind.Name, err)
	}

	id, err := toInt(raw[0])
	if err != nil {
		return nil, fmt.Errorf("load %s: id: %w", kind.Name, err)
	}
	rec := &Record{Kind: kind.Name, ID: id.(int64), Values: make(Values, len(kind.Fields))}
	for i, f := range kind.Fields {
		v, err := Normalize(f, raw[i+1])
		if err != nil {
			return nil, fmt.Errorf("load %s %d: %w", kind.Name, rec.ID, err)
		}
		rec.Values[f.Name] = v
	}
	return rec, nil
}

func insertLookups(ctx context.Context, q db.Querier, kind Kind, values Values) (*Record, error) {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	cols := make([]string, 0, len(names))
	args := make([]any, 0, len(names))
	for _, name := range names {
		f, ok := kind.lookupField(name)
		if !ok {
			return nil, fmt.Errorf("%w: %s.%s", ErrUnknownField, kind.Name, name)
		}
		v, err := Normalize(f, values[name])
		if err != nil {
			return nil, err
		}
		cols = append(cols, f.Column)
		args = append(args, v)
	}

	var query string
	if len(cols) == 0 {
		query = fmt.Sprintf("INSERT INTO %s DEFAULT VALUES RETURNING id", kind.Table)
	} else {
		query = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING id",
			kind.Table, strings.Join(cols, ", "), db.Placeholders(1, len(cols)))
	}

	var id int64
	if err := q.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		return nil, fmt.Errorf("insert %s: %w", kind.Name, err)
	}
	return Get(ctx, q, kind, id)
}
