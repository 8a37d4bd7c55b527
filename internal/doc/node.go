package doc

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// Node is one node of a Plate-shaped rich-text tree. Text leaves carry Text and
// their marks in Attrs; elements carry Type, Children and element properties.
type Node struct {
	Type     string
	Text     string
	Children []*Node
	Attrs    map[string]any

	leaf bool
}

func NewText(text string, attrs map[string]any) *Node {
	return &Node{Text: text, Attrs: copyAttrs(attrs), leaf: true}
}

func NewElement(nodeType string, children ...*Node) *Node {
	return &Node{Type: nodeType, Children: children}
}

func (n *Node) IsText() bool {
	return n != nil && n.leaf
}

func (n *Node) IsElement() bool {
	return n != nil && !n.leaf
}

func (n *Node) Attr(key string) (any, bool) {
	if n == nil || n.Attrs == nil {
		return nil, false
	}
	value, ok := n.Attrs[key]
	return value, ok
}

// String returns the concatenated text of every leaf under n.
func (n *Node) String() string {
	if n == nil {
		return ""
	}
	if n.leaf {
		return n.Text
	}
	var b strings.Builder
	for _, child := range n.Children {
		b.WriteString(child.String())
	}
	return b.String()
}

func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	out := &Node{Type: n.Type, Text: n.Text, Attrs: copyAttrs(n.Attrs), leaf: n.leaf}
	if len(n.Children) > 0 {
		out.Children = make([]*Node, len(n.Children))
		for i, child := range n.Children {
			out.Children[i] = child.Clone()
		}
	}
	return out
}

func (n *Node) setAttr(key string, value any) {
	if n.Attrs == nil {
		n.Attrs = map[string]any{}
	}
	n.Attrs[key] = value
}

func (n *Node) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(n.Attrs)+2)
	for key, value := range n.Attrs {
		out[key] = value
	}
	if n.leaf {
		out["text"] = n.Text
	} else {
		out["type"] = n.Type
		children := n.Children
		if children == nil {
			children = []*Node{}
		}
		out["children"] = children
	}
	return json.Marshal(out)
}

func (n *Node) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode node: %w", err)
	}
	*n = Node{}
	if text, ok := raw["text"]; ok {
		n.leaf = true
		if err := json.Unmarshal(text, &n.Text); err != nil {
			return fmt.Errorf("decode node text: %w", err)
		}
	} else {
		if nodeType, ok := raw["type"]; ok {
			if err := json.Unmarshal(nodeType, &n.Type); err != nil {
				return fmt.Errorf("decode node type: %w", err)
			}
		}
		if children, ok := raw["children"]; ok {
			if err := json.Unmarshal(children, &n.Children); err != nil {
				return err
			}
		}
	}
	for key, value := range raw {
		if key == "text" || key == "type" || key == "children" {
			continue
		}
		var decoded any
		if err := json.Unmarshal(value, &decoded); err != nil {
			return fmt.Errorf("decode node attr %q: %w", key, err)
		}
		n.setAttr(key, decoded)
	}
	return nil
}

// ParseNodes decodes a top-level Plate value (an array of block elements).
func ParseNodes(data []byte) ([]*Node, error) {
	var nodes []*Node
	if len(data) == 0 {
		return nodes, nil
	}
	if err := json.Unmarshal(data, &nodes); err != nil {
		return nil, fmt.Errorf("parse nodes: %w", err)
	}
	return nodes, nil
}

// SortedKeys returns the attribute keys of n in lexical order.
func (n *Node) SortedKeys() []string {
	keys := make([]string, 0, len(n.Attrs))
	for key := range n.Attrs {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func copyAttrs(attrs map[string]any) map[string]any {
	if len(attrs) == 0 {
		return nil
	}
	out := make(map[string]any, len(attrs))
	for key, value := range attrs {
		out[key] = copyValue(value)
	}
	return out
}

func copyValue(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(typed))
		for key, inner := range typed {
			out[key] = copyValue(inner)
		}
		return out
	case []any:
		out := make([]any, len(typed))
		for i, inner := range typed {
			out[i] = copyValue(inner)
		}
		return out
	default:
		return value
	}
}

func sameAttrs(a, b map[string]any) bool {
	if len(a) != len(b) {
		return false
	}
	if len(a) == 0 {
		return true
	}
	return reflect.DeepEqual(a, b)
}
