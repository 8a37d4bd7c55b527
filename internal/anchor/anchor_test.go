package anchor

import (
	"testing"

	"chronicle/annotations/internal/doc"
	"chronicle/annotations/internal/marks"
)

func threeBlocks() *doc.Editor {
	return doc.NewEditor(
		doc.NewElement("p", doc.NewText("first ", nil), doc.NewText("spans", marks.CommentAttrs("t1"))),
		doc.NewElement("p", doc.NewText("still t1", marks.CommentAttrs("t1"))),
		doc.NewElement("p", doc.NewText("other", marks.CommentAttrs("t2"))),
	)
}

func TestObserveKeepsFirstResolvingBlock(t *testing.T) {
	d := threeBlocks()
	m := New()
	for i := range d.Children() {
		m.ObserveBlock(d, doc.Path{i})
	}
	// render order is not stable, observe again out of order
	m.ObserveBlock(d, doc.Path{1})
	m.ObserveBlock(d, doc.Path{0})

	got, ok := m.Anchor("t1")
	if !ok || !got.Equal(doc.Path{0}) {
		t.Fatalf("expected t1 anchored at [0], got %v", got)
	}
	if m.Len() != 2 {
		t.Fatalf("expected 2 anchors, got %d", m.Len())
	}
}

func TestObserveMovesWhenMarkLeavesBlock(t *testing.T) {
	d := threeBlocks()
	m := New()
	m.Rebuild(d)

	// strip the t1 mark from the first block
	d.UnsetNodes([]string{"comment_t1", "comment"}, doc.Path{0, 1})
	if Resolves(d, "t1", doc.Path{0}) {
		t.Fatalf("expected t1 no longer in first block")
	}
	if changed := m.Observe(d, "t1", doc.Path{1}); !changed {
		t.Fatalf("expected anchor to move")
	}
	got, _ := m.Anchor("t1")
	if !got.Equal(doc.Path{1}) {
		t.Fatalf("expected t1 anchored at [1], got %v", got)
	}

	m.Forget("t1")
	if _, ok := m.Anchor("t1"); ok {
		t.Fatalf("expected t1 forgotten")
	}
}

func TestIDsInIncludesSuggestions(t *testing.T) {
	block := doc.NewElement("p",
		doc.NewText("a", marks.CommentAttrs("t1")),
		doc.NewText("b", marks.SuggestionAttrs(marks.SuggestionData{ID: "s1", Type: marks.OpInsert})),
	)
	d := doc.NewEditor(block)
	got := IDsIn(d, doc.Path{0})
	if len(got) != 2 || got[0] != "s1" || got[1] != "t1" {
		t.Fatalf("IDsIn() = %v", got)
	}
}
