// Package export reshapes long-format answers into one row per reply and
// bundles the table with Stata syntax and uploaded files.
package export

// Column maps a dotted path on an answer to an export column name. An empty
// Name drops the path.
type Column struct {
	Path string
	Name string
}

const (
	colQType    = "qtype"
	colAnswer   = "answer"
	colVariable = "variable_name"
	colReply    = "reply.id"
	colStudy    = "study"

	colIsReference = "is_reference_study"
)

var defaultColumns = []Column{
	{Path: "question.q_type", Name: colQType},
	{Path: "get_value_for_export", Name: colAnswer},
	{Path: "variable_name", Name: colVariable},
	{Path: "reply.entry_method", Name: "entry_method"},
	{Path: "reply.observation.n_in_sequence", Name: "observation_index"},
	{Path: "reply.observation.due", Name: "due"},
	{Path: "reply.observation.id", Name: "observation"},
	{Path: "reply.observation.created_by_script.reference", Name: "script"},
	{Path: "reply.is_canonical_reply", Name: "is_canonical_reply"},
	{Path: "reply.started", Name: "started"},
	{Path: "reply.last_submit", Name: "finished"},
	{Path: "reply.originally_collected_on", Name: "collected_on"},
	{Path: "reply.id", Name: colReply},
	{Path: "reply.observation.dyad.user.username", Name: "username"},
	{Path: "reply.observation.dyad.relates_to.user.username", Name: "relates_to_username"},
	{Path: "reply.observation.dyad.id", Name: "membership"},
	{Path: "reply.observation.dyad.condition.tag", Name: "condition"},
	{Path: "reply.observation.dyad.study.slug", Name: colStudy},
	{Path: "reply.observation.dyad.date_randomised", Name: "randomised"},
}

// DefaultColumns returns a copy of the standard column table.
func DefaultColumns() []Column {
	out := make([]Column, len(defaultColumns))
	copy(out, defaultColumns)
	return out
}

// Options selects columns for an export.
type Options struct {
	// Exclude names context columns to leave out. The pivot columns
	// (answer, variable_name, reply.id) cannot be excluded.
	Exclude []string
}

func (o Options) columns() []Column {
	drop := make(map[string]bool, len(o.Exclude))
	for _, name := range o.Exclude {
		drop[name] = true
	}
	out := make([]Column, len(defaultColumns))
	for i, c := range defaultColumns {
		if drop[c.Name] && !isPivotColumn(c.Name) {
			c.Name = ""
		}
		out[i] = c
	}
	return out
}

func isPivotColumn(name string) bool {
	return name == colAnswer || name == colVariable || name == colReply
}
