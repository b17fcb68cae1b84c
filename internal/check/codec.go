package check

import (
	"bytes"
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

func newCheck(t Type) (Check, error) {
	switch t {
	case TypeNumPages:
		return &NumPages{}, nil
	case TypeRegion:
		return &Region{}, nil
	case TypeTitle:
		return &Title{}, nil
	case TypeCorrespondent:
		return &Correspondent{}, nil
	case TypeDocumentType:
		return &DocumentType{}, nil
	case TypeStoragePath:
		return &StoragePath{}, nil
	case TypeTags:
		return &Tags{}, nil
	case TypeDateCreated:
		return &DateCreated{}, nil
	case TypeAnd:
		return &And{}, nil
	case TypeOr:
		return &Or{}, nil
	case TypeNot:
		return &Not{}, nil
	case "":
		return nil, fmt.Errorf("check without type")
	default:
		return nil, fmt.Errorf("unknown check type %q", t)
	}
}

// MarshalJSON encodes c with its "type" discriminator.
func MarshalJSON(c Check) ([]byte, error) {
	body, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	typ, err := json.Marshal(c.Type())
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.WriteString(`{"type":`)
	buf.Write(typ)
	if body = bytes.TrimSpace(body); len(body) > 2 {
		buf.WriteByte(',')
		buf.Write(body[1:])
	} else {
		buf.WriteByte('}')
	}
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes one check, dispatching on its "type" field.
func UnmarshalJSON(data []byte) (Check, error) {
	var head struct {
		Type Type `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("decode check: %w", err)
	}
	c, err := newCheck(head.Type)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("decode %s check: %w", head.Type, err)
	}
	return c, nil
}

func (l List) MarshalJSON() ([]byte, error) {
	items := make([]json.RawMessage, len(l))
	for i, c := range l {
		b, err := MarshalJSON(c)
		if err != nil {
			return nil, err
		}
		items[i] = b
	}
	return json.Marshal(items)
}

func (l *List) UnmarshalJSON(data []byte) error {
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return fmt.Errorf("decode check list: %w", err)
	}
	list := make(List, 0, len(items))
	for i, raw := range items {
		c, err := UnmarshalJSON(raw)
		if err != nil {
			return fmt.Errorf("check %d: %w", i, err)
		}
		list = append(list, c)
	}
	*l = list
	return nil
}

func (c *Not) MarshalJSON() ([]byte, error) {
	if c.Check == nil {
		return []byte(`{"check":null}`), nil
	}
	child, err := MarshalJSON(c.Check)
	if err != nil {
		return nil, err
	}
	return json.Marshal(map[string]json.RawMessage{"check": child})
}

func (c *Not) UnmarshalJSON(data []byte) error {
	var aux struct {
		Check json.RawMessage `json:"check"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if len(aux.Check) == 0 || string(aux.Check) == "null" {
		return fmt.Errorf("not check requires a child check")
	}
	child, err := UnmarshalJSON(aux.Check)
	if err != nil {
		return err
	}
	c.Check = child
	return nil
}

// MarshalYAML returns a mapping node for c with "type" as its first key.
func MarshalYAML(c Check) (*yaml.Node, error) {
	var node yaml.Node
	if err := node.Encode(c); err != nil {
		return nil, err
	}
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%s check did not encode as a mapping", c.Type())
	}
	typeKey := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: "type"}
	typeValue := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: string(c.Type())}
	node.Content = append([]*yaml.Node{typeKey, typeValue}, node.Content...)
	return &node, nil
}

// UnmarshalYAML decodes one check from a mapping node.
func UnmarshalYAML(node *yaml.Node) (Check, error) {
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("line %d: check must be a mapping", node.Line)
	}
	var typ Type
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == "type" {
			typ = Type(node.Content[i+1].Value)
			break
		}
	}
	c, err := newCheck(typ)
	if err != nil {
		return nil, fmt.Errorf("line %d: %w", node.Line, err)
	}
	if err := node.Decode(c); err != nil {
		return nil, fmt.Errorf("line %d: decode %s check: %w", node.Line, typ, err)
	}
	return c, nil
}

func (l List) MarshalYAML() (any, error) {
	seq := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
	for _, c := range l {
		node, err := MarshalYAML(c)
		if err != nil {
			return nil, err
		}
		seq.Content = append(seq.Content, node)
	}
	return seq, nil
}

func (l *List) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.SequenceNode {
		return fmt.Errorf("line %d: checks must be a list", node.Line)
	}
	list := make(List, 0, len(node.Content))
	for _, item := range node.Content {
		c, err := UnmarshalYAML(item)
		if err != nil {
			return err
		}
		list = append(list, c)
	}
	*l = list
	return nil
}

func (c *Not) MarshalYAML() (any, error) {
	out := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	key := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: "check"}
	if c.Check == nil {
		out.Content = append(out.Content, key, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!null", Value: "null"})
		return out, nil
	}
	child, err := MarshalYAML(c.Check)
	if err != nil {
		return nil, err
	}
	out.Content = append(out.Content, key, child)
	return out, nil
}

func (c *Not) UnmarshalYAML(node *yaml.Node) error {
	var aux struct {
		Check yaml.Node `yaml:"check"`
	}
	if err := node.Decode(&aux); err != nil {
		return err
	}
	if aux.Check.Kind == 0 {
		return fmt.Errorf("line %d: not check requires a child check", node.Line)
	}
	child, err := UnmarshalYAML(&aux.Check)
	if err != nil {
		return err
	}
	c.Check = child
	return nil
}
