package doc

import (
	"encoding/json"
	"testing"
)

func paragraph(leaves ...*Node) *Node {
	return NewElement("p", leaves...)
}

func TestParseRoundTrip(t *testing.T) {
	raw := `[{"type":"p","children":[{"text":"Hello ","bold":true},{"text":"world","comment":true,"comment_t1":true}]}]`
	e, err := Parse([]byte(raw))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	leaf, err := LeafAt(e, Path{0, 1})
	if err != nil {
		t.Fatalf("LeafAt() error = %v", err)
	}
	if leaf.Text != "world" {
		t.Fatalf("expected leaf text world, got %q", leaf.Text)
	}
	if v, ok := leaf.Attr("comment_t1"); !ok || v != true {
		t.Fatalf("expected comment_t1 mark, got %v", v)
	}

	out, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	again, err := Parse(out)
	if err != nil {
		t.Fatalf("Parse(marshal) error = %v", err)
	}
	if got := again.Text(nil); got != "Hello world" {
		t.Fatalf("expected round-tripped text, got %q", got)
	}
}

func TestSetMarksSplitsBoundaryLeaves(t *testing.T) {
	e := NewEditor(paragraph(NewText("alpha beta gamma", nil)))
	e.SetMarks(Range{
		Anchor: Point{Path: Path{0, 0}, Offset: 6},
		Focus:  Point{Path: Path{0, 0}, Offset: 10},
	}, map[string]any{"comment_x": true})

	block, _ := e.Node(Path{0})
	if len(block.Children) != 3 {
		t.Fatalf("expected 3 leaves after split, got %d", len(block.Children))
	}
	if block.Children[1].Text != "beta" {
		t.Fatalf("expected marked leaf beta, got %q", block.Children[1].Text)
	}
	if _, ok := block.Children[1].Attr("comment_x"); !ok {
		t.Fatalf("expected middle leaf to carry the mark")
	}
	if _, ok := block.Children[0].Attr("comment_x"); ok {
		t.Fatalf("expected first leaf to stay unmarked")
	}
}

func TestSetMarksAcrossLeavesAndBlocks(t *testing.T) {
	e := NewEditor(
		paragraph(NewText("one ", nil), NewText("two", map[string]any{"bold": true})),
		paragraph(NewText("three", nil)),
	)
	// focus before anchor: range is backwards
	e.SetMarks(Range{
		Anchor: Point{Path: Path{1, 0}, Offset: 2},
		Focus:  Point{Path: Path{0, 0}, Offset: 2},
	}, map[string]any{"m": true})

	var marked string
	for _, entry := range e.Nodes(nil, Texts) {
		if _, ok := entry.Node.Attr("m"); ok {
			marked += entry.Node.Text + "|"
		}
	}
	if marked != "e |two|th|" {
		t.Fatalf("unexpected marked leaves %q", marked)
	}
}

func TestBatchNotifiesOnceAndNormalizes(t *testing.T) {
	e := NewEditor(paragraph(NewText("abcdef", nil)))
	calls := 0
	unsubscribe := e.OnChange(func() { calls++ })

	e.WithoutNormalizing(func() {
		e.SetMarks(Range{Anchor: Point{Path: Path{0, 0}, Offset: 1}, Focus: Point{Path: Path{0, 0}, Offset: 3}}, map[string]any{"x": true})
		e.UnsetMarks(Texts, []string{"x"})
	})
	if calls != 1 {
		t.Fatalf("expected one notification, got %d", calls)
	}
	block, _ := e.Node(Path{0})
	if len(block.Children) != 1 || block.Children[0].Text != "abcdef" {
		t.Fatalf("expected leaves merged back, got %d children", len(block.Children))
	}

	unsubscribe()
	e.SetNodes(map[string]any{"align": "center"}, Path{0})
	if calls != 1 {
		t.Fatalf("expected no notification after unsubscribe, got %d", calls)
	}
}

func TestRemoveNodesKeepsElementChild(t *testing.T) {
	e := NewEditor(paragraph(NewText("only", nil)))
	e.RemoveNodes(Path{0, 0})
	block, _ := e.Node(Path{0})
	if len(block.Children) != 1 || !block.Children[0].IsText() || block.Children[0].Text != "" {
		t.Fatalf("expected a single empty leaf, got %+v", block.Children)
	}
}

func TestTrackedReplaceTagsBothSides(t *testing.T) {
	e := NewEditor(paragraph(NewText("old text", nil)))
	e.TrackWith(func() (map[string]any, map[string]any) {
		return map[string]any{"suggestion": true, "suggestion_s1": map[string]any{"id": "s1", "type": "insert"}},
			map[string]any{"suggestion": true, "suggestion_s1": map[string]any{"id": "s1", "type": "remove"}}
	})
	e.SetSuggesting(true)
	e.ReplaceText(Range{Anchor: Point{Path: Path{0, 0}, Offset: 0}, Focus: Point{Path: Path{0, 0}, Offset: 3}}, "new")

	block, _ := e.Node(Path{0})
	if len(block.Children) != 3 {
		t.Fatalf("expected 3 leaves, got %d", len(block.Children))
	}
	if block.Children[0].Text != "old" || block.Children[1].Text != "new" || block.Children[2].Text != " text" {
		t.Fatalf("unexpected leaves %q %q %q", block.Children[0].Text, block.Children[1].Text, block.Children[2].Text)
	}

	e.WithoutSuggestions(func() {
		if e.Suggesting() {
			t.Fatalf("expected tracking suspended")
		}
		e.InsertText(Point{Path: Path{0, 2}, Offset: 5}, "!")
	})
	if got := e.Text(Path{0, 2}); got != " text!" {
		t.Fatalf("expected untracked insertion, got %q", got)
	}
}

func TestDeleteTextUntracked(t *testing.T) {
	e := NewEditor(paragraph(NewText("hello cruel world", nil)))
	e.DeleteText(Range{Anchor: Point{Path: Path{0, 0}, Offset: 5}, Focus: Point{Path: Path{0, 0}, Offset: 11}})
	if got := e.Text(nil); got != "hello world" {
		t.Fatalf("expected text removed, got %q", got)
	}
}

func TestPathCompare(t *testing.T) {
	tests := []struct {
		a, b Path
		want int
	}{
		{Path{0}, Path{0}, 0},
		{Path{0}, Path{0, 1}, -1},
		{Path{1}, Path{0, 5}, 1},
		{Path{0, 2}, Path{0, 10}, -1},
	}
	for _, tt := range tests {
		if got := tt.a.Compare(tt.b); got != tt.want {
			t.Fatalf("%s.Compare(%s) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
	if !(Path{0}).IsAncestorOf(Path{0, 3}) {
		t.Fatalf("expected ancestor")
	}
}
