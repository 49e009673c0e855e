package ask

import (
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	ErrNoAskerInfo     = errors.New("no information provided about the asker")
	ErrInvalidDocument = errors.New("invalid questionnaire document")
)

var variableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Document is a parsed authoring document: the asker's fields, its pages in
// order and the choice sets it declares.
type Document struct {
	Asker      map[string]any
	Pages      []PageDoc
	ChoiceSets []ChoiceSetDoc
}

type PageDoc struct {
	StepName  string
	Questions []QuestionDoc
}

type QuestionDoc struct {
	VariableName string
	Fields       map[string]any
}

type ChoiceSetDoc struct {
	Name    string
	Choices []ChoiceDoc
}

type ChoiceDoc struct {
	Score       int64
	Label       string
	MappedScore *int64
	IsDefault   bool
}

// ParseDocument splits raw into YAML sub-documents. The first must carry an
// asker mapping, a trailing one may carry choicesets, and every other
// non-empty one is a page of the form {step_name: [{variable: {...}}, ...]}.
func ParseDocument(raw string) (*Document, error) {
	dec := yaml.NewDecoder(strings.NewReader(raw))
	var docs []*yaml.Node
	for {
		var n yaml.Node
		err := dec.Decode(&n)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
		}
		body := documentBody(&n)
		if isEmptyNode(body) {
			continue
		}
		docs = append(docs, body)
	}
	if len(docs) == 0 {
		return nil, ErrNoAskerInfo
	}

	askerNode := mappingValue(docs[0], "asker")
	if askerNode == nil {
		return nil, ErrNoAskerInfo
	}
	out := &Document{Asker: map[string]any{}}
	if !isNullNode(askerNode) {
		if askerNode.Kind != yaml.MappingNode {
			return nil, fmt.Errorf("%w: asker must be a mapping", ErrInvalidDocument)
		}
		if err := askerNode.Decode(&out.Asker); err != nil {
			return nil, fmt.Errorf("%w: asker: %v", ErrInvalidDocument, err)
		}
	}

	if csNode := mappingValue(docs[len(docs)-1], "choicesets"); csNode != nil {
		sets, err := parseChoiceSets(csNode)
		if err != nil {
			return nil, err
		}
		out.ChoiceSets = sets
		docs = docs[:len(docs)-1]
	}

	if len(docs) > 1 {
		for i, n := range docs[1:] {
			page, err := parsePage(n, i)
			if err != nil {
				return nil, err
			}
			out.Pages = append(out.Pages, page)
		}
	}
	return out, nil
}

func parsePage(n *yaml.Node, index int) (PageDoc, error) {
	if n.Kind != yaml.MappingNode || len(n.Content) != 2 {
		return PageDoc{}, fmt.Errorf("%w: page %d must be a mapping with one step name", ErrInvalidDocument, index+1)
	}
	page := PageDoc{StepName: n.Content[0].Value}
	items := n.Content[1]
	if isNullNode(items) {
		return page, nil
	}
	if items.Kind != yaml.SequenceNode {
		return PageDoc{}, fmt.Errorf("%w: page %q must hold a list of questions", ErrInvalidDocument, page.StepName)
	}
	for j, item := range items.Content {
		q, err := parseQuestion(item)
		if err != nil {
			return PageDoc{}, fmt.Errorf("page %q question %d: %w", page.StepName, j+1, err)
		}
		page.Questions = append(page.Questions, q)
	}
	return page, nil
}

func parseQuestion(n *yaml.Node) (QuestionDoc, error) {
	if n.Kind != yaml.MappingNode || len(n.Content) != 2 {
		return QuestionDoc{}, fmt.Errorf("%w: a question must be a mapping with one variable name", ErrInvalidDocument)
	}
	name := strings.TrimSpace(n.Content[0].Value)
	if !variableNamePattern.MatchString(name) {
		return QuestionDoc{}, fmt.Errorf("%w: %q is not a valid variable name", ErrInvalidDocument, name)
	}
	q := QuestionDoc{VariableName: name, Fields: map[string]any{}}
	body := n.Content[1]
	if isNullNode(body) {
		return q, nil
	}
	if body.Kind != yaml.MappingNode {
		return QuestionDoc{}, fmt.Errorf("%w: question %q must be a mapping of fields", ErrInvalidDocument, name)
	}
	if err := body.Decode(&q.Fields); err != nil {
		return QuestionDoc{}, fmt.Errorf("%w: question %q: %v", ErrInvalidDocument, name, err)
	}
	return q, nil
}

func parseChoiceSets(n *yaml.Node) ([]ChoiceSetDoc, error) {
	if isNullNode(n) {
		return nil, nil
	}
	if n.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%w: choicesets must be a mapping of names to choices", ErrInvalidDocument)
	}
	var out []ChoiceSetDoc
	for i := 0; i+1 < len(n.Content); i += 2 {
		set := ChoiceSetDoc{Name: n.Content[i].Value}
		list := n.Content[i+1]
		if !isNullNode(list) {
			if list.Kind != yaml.SequenceNode {
				return nil, fmt.Errorf("%w: choiceset %q must hold a list", ErrInvalidDocument, set.Name)
			}
			for j, item := range list.Content {
				c, err := parseChoice(item)
				if err != nil {
					return nil, fmt.Errorf("choiceset %q choice %d: %w", set.Name, j+1, err)
				}
				set.Choices = append(set.Choices, c)
			}
		}
		out = append(out, set)
	}
	return out, nil
}

func parseChoice(n *yaml.Node) (ChoiceDoc, error) {
	if n.Kind != yaml.MappingNode || len(n.Content) != 2 {
		return ChoiceDoc{}, fmt.Errorf("%w: a choice must be a {score: label} mapping", ErrInvalidDocument)
	}
	score, err := strconv.ParseInt(strings.TrimSpace(n.Content[0].Value), 10, 64)
	if err != nil {
		return ChoiceDoc{}, fmt.Errorf("%w: score %q is not an integer", ErrInvalidDocument, n.Content[0].Value)
	}
	c := ChoiceDoc{Score: score}
	val := n.Content[1]
	switch {
	case isNullNode(val):
	case val.Kind == yaml.ScalarNode:
		c.Label = val.Value
	case val.Kind == yaml.MappingNode:
		var detail struct {
			Label       string `yaml:"label"`
			MappedScore *int64 `yaml:"mapped_score"`
			IsDefault   bool   `yaml:"is_default"`
		}
		if err := val.Decode(&detail); err != nil {
			return ChoiceDoc{}, fmt.Errorf("%w: choice %d: %v", ErrInvalidDocument, score, err)
		}
		c.Label, c.MappedScore, c.IsDefault = detail.Label, detail.MappedScore, detail.IsDefault
	default:
		return ChoiceDoc{}, fmt.Errorf("%w: choice %d label must be text", ErrInvalidDocument, score)
	}
	return c, nil
}

func documentBody(n *yaml.Node) *yaml.Node {
	if n.Kind == yaml.DocumentNode {
		if len(n.Content) == 0 {
			return nil
		}
		return n.Content[0]
	}
	return n
}

// isEmptyNode reports YAML values that are falsy: null, false, 0, "" and
// empty collections.
func isEmptyNode(n *yaml.Node) bool {
	if n == nil || n.Kind == 0 {
		return true
	}
	switch n.Kind {
	case yaml.MappingNode, yaml.SequenceNode:
		return len(n.Content) == 0
	case yaml.ScalarNode:
		switch n.ShortTag() {
		case "!!null":
			return true
		case "!!bool":
			return strings.EqualFold(n.Value, "false")
		case "!!int", "!!float":
			f, err := strconv.ParseFloat(n.Value, 64)
			return err == nil && f == 0
		case "!!str":
			return n.Value == ""
		}
	}
	return false
}

func isNullNode(n *yaml.Node) bool {
	return n == nil || (n.Kind == yaml.ScalarNode && n.ShortTag() == "!!null")
}

func mappingValue(n *yaml.Node, key string) *yaml.Node {
	if n == nil || n.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		if n.Content[i].Value == key {
			return n.Content[i+1]
		}
	}
	return nil
}
