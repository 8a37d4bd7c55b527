package doc

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Tracker supplies the marks that tag a tracked edit. One call is made per
// edit so an insertion and removal from the same edit share an identity.
type Tracker func() (insert, remove map[string]any)

type listener struct {
	id int
	fn func()
}

// Editor is an in-memory Document.
type Editor struct {
	root *Node

	listeners    []listener
	nextListener int

	depth int
	dirty bool

	suggesting bool
	suspended  int
	tracker    Tracker
}

var _ Document = (*Editor)(nil)

func NewEditor(children ...*Node) *Editor {
	e := &Editor{root: &Node{Children: children}}
	normalize(e.root)
	return e
}

// Parse builds an Editor from a top-level Plate JSON value.
func Parse(data []byte) (*Editor, error) {
	nodes, err := ParseNodes(data)
	if err != nil {
		return nil, err
	}
	return NewEditor(nodes...), nil
}

func (e *Editor) MarshalJSON() ([]byte, error) {
	children := e.root.Children
	if children == nil {
		children = []*Node{}
	}
	return json.Marshal(children)
}

// Clone copies the tree. Observers and the tracker are not carried over.
func (e *Editor) Clone() *Editor {
	return &Editor{root: e.root.Clone(), suggesting: e.suggesting}
}

func (e *Editor) TrackWith(t Tracker) {
	e.tracker = t
}

func (e *Editor) Children() []*Node {
	return e.root.Children
}

func (e *Editor) Node(at Path) (*Node, bool) {
	n := e.root
	for _, index := range at {
		if n.leaf || index < 0 || index >= len(n.Children) {
			return nil, false
		}
		n = n.Children[index]
	}
	return n, true
}

func (e *Editor) Nodes(at Path, match MatchFunc) []Entry {
	start, ok := e.Node(at)
	if !ok {
		return nil
	}
	var out []Entry
	var walk func(n *Node, p Path)
	walk = func(n *Node, p Path) {
		if n != e.root && (match == nil || match(n, p)) {
			out = append(out, Entry{Node: n, Path: p.Clone()})
		}
		for i, child := range n.Children {
			walk(child, append(p, i))
		}
	}
	walk(start, at.Clone())
	return out
}

func (e *Editor) Text(at Path) string {
	n, ok := e.Node(at)
	if !ok {
		return ""
	}
	return n.String()
}

func (e *Editor) SetNodes(attrs map[string]any, at Path) {
	n, ok := e.Node(at)
	if !ok || n == e.root || len(attrs) == 0 {
		return
	}
	for key, value := range attrs {
		n.setAttr(key, copyValue(value))
	}
	e.touch()
}

func (e *Editor) UnsetNodes(keys []string, at Path) {
	n, ok := e.Node(at)
	if !ok || n == e.root {
		return
	}
	changed := false
	for _, key := range keys {
		if _, ok := n.Attrs[key]; ok {
			delete(n.Attrs, key)
			changed = true
		}
	}
	if changed {
		e.touch()
	}
}

func (e *Editor) RemoveNodes(at Path) {
	if len(at) == 0 {
		return
	}
	parent, ok := e.Node(at.Parent())
	if !ok || parent.leaf {
		return
	}
	index := at[len(at)-1]
	if index < 0 || index >= len(parent.Children) {
		return
	}
	parent.Children = append(parent.Children[:index], parent.Children[index+1:]...)
	e.touch()
}

func (e *Editor) SetMarks(rng Range, attrs map[string]any) {
	if rng.Collapsed() || len(attrs) == 0 {
		return
	}
	e.WithoutNormalizing(func() {
		for _, leaf := range e.rangeLeaves(rng) {
			for key, value := range attrs {
				leaf.setAttr(key, copyValue(value))
			}
		}
		e.dirty = true
	})
}

func (e *Editor) UnsetMarks(match MatchFunc, keys []string) {
	changed := false
	for _, entry := range e.Nodes(nil, Texts) {
		if match != nil && !match(entry.Node, entry.Path) {
			continue
		}
		for _, key := range keys {
			if _, ok := entry.Node.Attrs[key]; ok {
				delete(entry.Node.Attrs, key)
				changed = true
			}
		}
	}
	if changed {
		e.touch()
	}
}

func (e *Editor) InsertText(at Point, text string) {
	if text == "" {
		return
	}
	leaf, ok := e.Node(at.Path)
	if !ok || !leaf.leaf {
		return
	}
	if !e.tracking() {
		runes := []rune(leaf.Text)
		offset := clamp(at.Offset, len(runes))
		leaf.Text = string(runes[:offset]) + text + string(runes[offset:])
		e.touch()
		return
	}
	insert, _ := e.tracker()
	e.WithoutNormalizing(func() {
		left, right := e.splitAt(at)
		added := NewText(text, trackedAttrs(leaf.Attrs, insert))
		if left != nil {
			e.insertAfter(left, added)
		} else {
			e.insertBefore(right, added)
		}
		e.dirty = true
	})
}

func (e *Editor) DeleteText(rng Range) {
	if rng.Collapsed() {
		return
	}
	e.WithoutNormalizing(func() {
		leaves := e.rangeLeaves(rng)
		if e.tracking() {
			_, remove := e.tracker()
			for _, leaf := range leaves {
				for key, value := range remove {
					leaf.setAttr(key, copyValue(value))
				}
			}
		} else {
			for _, leaf := range leaves {
				e.detach(leaf)
			}
		}
		e.dirty = true
	})
}

// ReplaceText swaps the text under rng for text. While suggesting, the old
// text is tagged as removed and the new text is inserted after it as a
// tracked insertion from the same edit.
func (e *Editor) ReplaceText(rng Range, text string) {
	if rng.Collapsed() {
		start, _ := rng.Ordered()
		e.InsertText(start, text)
		return
	}
	e.WithoutNormalizing(func() {
		leaves := e.rangeLeaves(rng)
		if len(leaves) == 0 {
			return
		}
		last := leaves[len(leaves)-1]
		if e.tracking() {
			insert, remove := e.tracker()
			for _, leaf := range leaves {
				for key, value := range remove {
					leaf.setAttr(key, copyValue(value))
				}
			}
			if text != "" {
				e.insertAfter(last, NewText(text, trackedAttrs(last.Attrs, insert)))
			}
		} else {
			leaves[0].Text = text
			for _, leaf := range leaves[1:] {
				e.detach(leaf)
			}
		}
		e.dirty = true
	})
}

// WithoutNormalizing runs fn as one batch. Normalization and the change
// notification happen once, when the outermost batch returns.
func (e *Editor) WithoutNormalizing(fn func()) {
	e.depth++
	defer func() {
		e.depth--
		if e.depth == 0 {
			e.flush()
		}
	}()
	fn()
}

func (e *Editor) WithoutSuggestions(fn func()) {
	e.suspended++
	defer func() { e.suspended-- }()
	fn()
}

func (e *Editor) Suggesting() bool {
	return e.suggesting && e.suspended == 0
}

func (e *Editor) SetSuggesting(on bool) {
	e.suggesting = on
}

func (e *Editor) OnChange(fn func()) func() {
	e.nextListener++
	id := e.nextListener
	e.listeners = append(e.listeners, listener{id: id, fn: fn})
	return func() {
		for i, l := range e.listeners {
			if l.id == id {
				e.listeners = append(e.listeners[:i:i], e.listeners[i+1:]...)
				return
			}
		}
	}
}

func (e *Editor) tracking() bool {
	return e.Suggesting() && e.tracker != nil
}

func (e *Editor) touch() {
	e.dirty = true
	if e.depth == 0 {
		e.flush()
	}
}

func (e *Editor) flush() {
	if !e.dirty {
		return
	}
	e.dirty = false
	normalize(e.root)
	listeners := append([]listener(nil), e.listeners...)
	for _, l := range listeners {
		l.fn()
	}
}

// rangeLeaves splits the leaves at both ends of rng and returns the leaves
// fully covered by it, in document order.
func (e *Editor) rangeLeaves(rng Range) []*Node {
	start, end := rng.Ordered()
	if start.Compare(end) == 0 {
		return nil
	}
	startLeaf, ok := e.Node(start.Path)
	if !ok || !startLeaf.leaf {
		return nil
	}
	endLeaf, ok := e.Node(end.Path)
	if !ok || !endLeaf.leaf {
		return nil
	}

	if startLeaf == endLeaf {
		e.splitAt(end)
		_, mid := e.splitAt(start)
		if mid == nil {
			return nil
		}
		return []*Node{mid}
	}

	endInclusive := end.Offset > 0
	e.splitAt(end)
	_, first := e.splitAt(start)

	var out []*Node
	collecting := false
	for _, entry := range e.Nodes(nil, Texts) {
		leaf := entry.Node
		if leaf == startLeaf && first == nil {
			collecting = true
			continue
		}
		if leaf == first || (leaf == startLeaf && first == startLeaf) {
			collecting = true
		}
		if !collecting {
			continue
		}
		if leaf == endLeaf {
			if endInclusive {
				out = append(out, leaf)
			}
			break
		}
		out = append(out, leaf)
	}
	return out
}

// splitAt splits the leaf at p so that p falls on a leaf boundary. It returns
// the leaves on either side; a side is nil when p is at that edge.
func (e *Editor) splitAt(p Point) (*Node, *Node) {
	leaf, ok := e.Node(p.Path)
	if !ok || !leaf.leaf {
		return nil, nil
	}
	runes := []rune(leaf.Text)
	offset := clamp(p.Offset, len(runes))
	switch offset {
	case 0:
		return nil, leaf
	case len(runes):
		return leaf, nil
	}
	right := NewText(string(runes[offset:]), leaf.Attrs)
	leaf.Text = string(runes[:offset])
	e.insertAfter(leaf, right)
	e.dirty = true
	return leaf, right
}

func (e *Editor) insertAfter(target, n *Node) {
	parent, index := e.parentOf(target)
	if parent == nil {
		return
	}
	parent.Children = append(parent.Children, nil)
	copy(parent.Children[index+2:], parent.Children[index+1:])
	parent.Children[index+1] = n
}

func (e *Editor) insertBefore(target, n *Node) {
	parent, index := e.parentOf(target)
	if parent == nil {
		return
	}
	parent.Children = append(parent.Children, nil)
	copy(parent.Children[index+1:], parent.Children[index:])
	parent.Children[index] = n
}

func (e *Editor) detach(target *Node) {
	parent, index := e.parentOf(target)
	if parent == nil {
		return
	}
	parent.Children = append(parent.Children[:index], parent.Children[index+1:]...)
}

func (e *Editor) parentOf(target *Node) (*Node, int) {
	var find func(n *Node) (*Node, int)
	find = func(n *Node) (*Node, int) {
		for i, child := range n.Children {
			if child == target {
				return n, i
			}
			if parent, index := find(child); parent != nil {
				return parent, index
			}
		}
		return nil, -1
	}
	return find(e.root)
}

// normalize drops empty leaves, merges neighbouring leaves with identical
// marks and gives every element at least one child.
func normalize(n *Node) {
	if n.leaf {
		return
	}
	for _, child := range n.Children {
		normalize(child)
	}

	children := n.Children
	if len(children) > 1 {
		kept := make([]*Node, 0, len(children))
		for _, child := range children {
			if child.leaf && child.Text == "" {
				continue
			}
			kept = append(kept, child)
		}
		if len(kept) == 0 {
			kept = append(kept, children[0])
		}
		children = kept
	}

	merged := make([]*Node, 0, len(children))
	for _, child := range children {
		if child.leaf && len(merged) > 0 {
			prev := merged[len(merged)-1]
			if prev.leaf && sameAttrs(prev.Attrs, child.Attrs) {
				prev.Text += child.Text
				continue
			}
		}
		merged = append(merged, child)
	}

	if len(merged) == 0 && n.Type != "" {
		merged = append(merged, NewText("", nil))
	}
	n.Children = merged
}

func trackedAttrs(base, extra map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(extra))
	for key, value := range base {
		if strings.HasPrefix(key, "suggestion") || strings.HasPrefix(key, "comment") {
			continue
		}
		out[key] = copyValue(value)
	}
	for key, value := range extra {
		out[key] = copyValue(value)
	}
	return out
}

func clamp(offset, length int) int {
	if offset < 0 {
		return 0
	}
	if offset > length {
		return length
	}
	return offset
}

// LeafAt returns the text leaf at p, or an error when p does not address one.
func LeafAt(d Document, p Path) (*Node, error) {
	n, ok := d.Node(p)
	if !ok {
		return nil, fmt.Errorf("no node at %s", p)
	}
	if !n.IsText() {
		return nil, fmt.Errorf("node at %s is not a text leaf", p)
	}
	return n, nil
}
