package ask

import (
	"bytes"
	"fmt"
	"strconv"

	"gopkg.in/yaml.v3"
)

// EncodeDocument renders a loaded asker as an authoring document that
// ParseDocument reads back into the same structure.
func EncodeDocument(a *Asker) (string, error) {
	if a == nil {
		return "", ErrAskerNotFound
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)

	askerFields := mappingNode(
		"name", strNode(a.Name),
		"slug", strNode(a.Slug),
	)
	if a.SuccessMessage != "" {
		appendPair(askerFields, "success_message", strNode(a.SuccessMessage))
	}
	if a.RedirectURL != "" {
		appendPair(askerFields, "redirect_url", strNode(a.RedirectURL))
	}
	appendPair(askerFields, "finish_on_last_page", boolNode(a.FinishOnLastPage))
	appendPair(askerFields, "show_progress", boolNode(a.ShowProgress))
	appendPair(askerFields, "step_navigation", boolNode(a.StepNavigation))
	if err := enc.Encode(mappingNode("asker", askerFields)); err != nil {
		return "", fmt.Errorf("encode asker: %w", err)
	}

	var sets []*ChoiceSet
	seen := map[int64]bool{}
	for _, p := range a.Pages {
		items := &yaml.Node{Kind: yaml.SequenceNode}
		for _, q := range p.Questions {
			items.Content = append(items.Content, mappingNode(q.VariableName, questionNode(q)))
			if cs := q.ChoiceSet; cs != nil && !seen[cs.ID] {
				seen[cs.ID] = true
				sets = append(sets, cs)
			}
		}
		if err := enc.Encode(mappingNode(p.StepName, items)); err != nil {
			return "", fmt.Errorf("encode page %q: %w", p.StepName, err)
		}
	}

	if len(sets) > 0 {
		setsNode := &yaml.Node{Kind: yaml.MappingNode}
		for _, cs := range sets {
			choices := &yaml.Node{Kind: yaml.SequenceNode}
			for _, c := range cs.Choices {
				choices.Content = append(choices.Content, &yaml.Node{
					Kind:    yaml.MappingNode,
					Content: []*yaml.Node{intNode(c.Score), choiceLabelNode(c)},
				})
			}
			appendPair(setsNode, cs.Name, choices)
		}
		if err := enc.Encode(mappingNode("choicesets", setsNode)); err != nil {
			return "", fmt.Errorf("encode choicesets: %w", err)
		}
	}

	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("encode document: %w", err)
	}
	return buf.String(), nil
}

func questionNode(q *Question) *yaml.Node {
	n := mappingNode("q_type", strNode(q.QType))
	if q.Text != "" {
		appendPair(n, "text", strNode(q.Text))
	}
	if q.HelpText != "" {
		appendPair(n, "help_text", strNode(q.HelpText))
	}
	if q.Required {
		appendPair(n, "required", boolNode(true))
	}
	if q.ChoiceSet != nil {
		appendPair(n, "choiceset", strNode(q.ChoiceSet.Name))
	}
	if q.ShowIf != nil && q.ShowIf.PreviousVariableName != "" {
		appendPair(n, "showif", strNode(q.ShowIf.Condition().String()))
	}
	return n
}

func choiceLabelNode(c Choice) *yaml.Node {
	if c.MappedScore == nil && !c.IsDefault {
		return strNode(c.Label)
	}
	n := mappingNode("label", strNode(c.Label))
	if c.MappedScore != nil {
		appendPair(n, "mapped_score", intNode(*c.MappedScore))
	}
	if c.IsDefault {
		appendPair(n, "is_default", boolNode(true))
	}
	return n
}

func mappingNode(kv ...any) *yaml.Node {
	n := &yaml.Node{Kind: yaml.MappingNode}
	for i := 0; i+1 < len(kv); i += 2 {
		appendPair(n, kv[i].(string), kv[i+1].(*yaml.Node))
	}
	return n
}

func appendPair(n *yaml.Node, key string, value *yaml.Node) {
	n.Content = append(n.Content, strNode(key), value)
}

func strNode(s string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: s}
}

func intNode(v int64) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: strconv.FormatInt(v, 10)}
}

func boolNode(v bool) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!bool", Value: strconv.FormatBool(v)}
}
