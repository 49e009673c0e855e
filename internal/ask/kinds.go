package ask

import (
	"path"
	"strconv"
	"strings"
)

// Kind is the closed set of question behaviours. Every q_type maps onto one.
type Kind int

const (
	KindInstruction Kind = iota
	KindText
	KindNumeric
	KindChoice
	KindMultiChoice
	KindUpload
	KindDate
)

var qTypeKinds = map[string]Kind{
	"instruction":               KindInstruction,
	"uninterrupted-instruction": KindInstruction,
	"short-text":                KindText,
	"long-text":                 KindText,
	"text":                      KindText,
	"email":                     KindText,
	"integer":                   KindNumeric,
	"decimal":                   KindNumeric,
	"number":                    KindNumeric,
	"slider":                    KindNumeric,
	"range":                     KindNumeric,
	"likert":                    KindChoice,
	"likert-list":               KindChoice,
	"pulldown":                  KindChoice,
	"radio":                     KindChoice,
	"checkboxes":                KindMultiChoice,
	"upload":                    KindUpload,
	"date":                      KindDate,
	"date-time":                 KindDate,
	"time":                      KindDate,
}

// KindOf maps a q_type string onto its Kind. Unknown types behave as text.
func KindOf(qType string) Kind {
	key := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(qType)), "_", "-")
	if k, ok := qTypeKinds[key]; ok {
		return k
	}
	return KindText
}

func (k Kind) String() string {
	switch k {
	case KindInstruction:
		return "instruction"
	case KindText:
		return "text"
	case KindNumeric:
		return "numeric"
	case KindChoice:
		return "choice"
	case KindMultiChoice:
		return "multi-choice"
	case KindUpload:
		return "upload"
	case KindDate:
		return "date"
	default:
		return "unknown"
	}
}

// HasChoices reports whether answers of this kind are choice scores.
func (k Kind) HasChoices() bool {
	return k == KindChoice || k == KindMultiChoice
}

// ExportInput is what an answer contributes to its export value.
type ExportInput struct {
	Raw      *string
	Upload   string
	Question *Question
}

// ExportValue converts a stored answer into the value written to the wide
// table.
func (k Kind) ExportValue(in ExportInput) any {
	switch k {
	case KindInstruction:
		return nil
	case KindUpload:
		if in.Upload != "" {
			return path.Base(in.Upload)
		}
		return rawValue(in.Raw)
	case KindNumeric:
		if in.Raw == nil {
			return nil
		}
		s := strings.TrimSpace(*in.Raw)
		if s == "" {
			return nil
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
		return *in.Raw
	case KindChoice:
		if in.Raw == nil {
			return nil
		}
		s := strings.TrimSpace(*in.Raw)
		if s == "" {
			return nil
		}
		score, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return *in.Raw
		}
		return in.Question.MappedScore(score)
	default:
		return rawValue(in.Raw)
	}
}

func rawValue(raw *string) any {
	if raw == nil {
		return nil
	}
	return *raw
}
