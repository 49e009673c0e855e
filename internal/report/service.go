// Package report summarises the replies collected for an asker.
package report

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

var (
	ErrInvalidInput  = errors.New("invalid input")
	ErrAskerNotFound = errors.New("asker not found")
)

type Service struct {
	db *sql.DB
}

type AskerSummary struct {
	AskerID       int64           `json:"asker_id"`
	Replies       int             `json:"replies"`
	Submitted     int             `json:"submitted"`
	ByEntryMethod map[string]int  `json:"by_entry_method"`
	Variables     []VariableCount `json:"variables"`
}

// VariableCount is the number of replies holding a non-empty answer for a
// question, in page then question order.
type VariableCount struct {
	Name     string `json:"name"`
	Answered int    `json:"answered"`
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

func (s *Service) SummaryByAsker(ctx context.Context, askerID int64) (*AskerSummary, error) {
	if askerID <= 0 {
		return nil, ErrInvalidInput
	}

	var exists int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM askers WHERE id = $1`, askerID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("load asker: %w", err)
	}
	if exists == 0 {
		return nil, ErrAskerNotFound
	}

	out := &AskerSummary{AskerID: askerID, ByEntryMethod: map[string]int{}, Variables: []VariableCount{}}

	rows, err := s.db.QueryContext(ctx, `
		SELECT entry_method, COUNT(*), COUNT(last_submit)
		FROM replies
		WHERE asker_id = $1
		GROUP BY entry_method
	`, askerID)
	if err != nil {
		return nil, fmt.Errorf("count replies: %w", err)
	}
	for rows.Next() {
		var (
			method           string
			total, submitted int
		)
		if err := rows.Scan(&method, &total, &submitted); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan reply counts: %w", err)
		}
		out.ByEntryMethod[method] = total
		out.Replies += total
		out.Submitted += submitted
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reply counts: %w", err)
	}

	rows, err = s.db.QueryContext(ctx, `
		SELECT q.variable_name, COUNT(DISTINCT a.reply_id)
		FROM questions q
		JOIN ask_pages p ON p.id = q.page_id
		LEFT JOIN answers a ON a.question_id = q.id
			AND COALESCE(a.answer, '') <> ''
			AND a.reply_id IN (SELECT id FROM replies WHERE asker_id = $1)
		WHERE p.asker_id = $1 AND q.q_type <> 'instruction'
		GROUP BY q.variable_name, p.position, q.position
		ORDER BY p.position ASC, q.position ASC
	`, askerID)
	if err != nil {
		return nil, fmt.Errorf("count answers: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var v VariableCount
		if err := rows.Scan(&v.Name, &v.Answered); err != nil {
			return nil, fmt.Errorf("scan answer counts: %w", err)
		}
		out.Variables = append(out.Variables, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate answer counts: %w", err)
	}
	return out, nil
}
