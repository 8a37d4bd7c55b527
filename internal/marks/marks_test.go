package marks

import (
	"reflect"
	"testing"

	"chronicle/annotations/internal/doc"
)

func TestParseKey(t *testing.T) {
	tests := []struct {
		key  string
		want Key
		ok   bool
	}{
		{key: "comment_t1", want: Key{Kind: KindComment, ID: "t1"}, ok: true},
		{key: "comment_draft", want: Key{Kind: KindDraft}, ok: true},
		{key: "suggestion_s1", want: Key{Kind: KindSuggestion, ID: "s1"}, ok: true},
		{key: "comment", ok: false},
		{key: "suggestion", ok: false},
		{key: "comment_", ok: false},
		{key: "bold", ok: false},
	}
	for _, tt := range tests {
		got, ok := ParseKey(tt.key)
		if ok != tt.ok || got != tt.want {
			t.Fatalf("ParseKey(%q) = %+v, %v; want %+v, %v", tt.key, got, ok, tt.want, tt.ok)
		}
		if ok && got.String() != tt.key {
			t.Fatalf("Key.String() = %q, want %q", got.String(), tt.key)
		}
	}
}

func TestIDsOnLeafExcludesFlagsAndDraft(t *testing.T) {
	leaf := doc.NewText("x", map[string]any{
		"comment":       true,
		"comment_b":     true,
		"comment_a":     map[string]any{"id": "a"},
		"comment_draft": true,
		"suggestion":    true,
		"suggestion_s":  map[string]any{"id": "s", "type": "insert"},
	})
	if got := IDsOnLeaf(leaf); !reflect.DeepEqual(got, []AnnotationID{"a", "b"}) {
		t.Fatalf("IDsOnLeaf() = %v", got)
	}
	if got := SuggestionIDs(leaf); !reflect.DeepEqual(got, []AnnotationID{"s"}) {
		t.Fatalf("SuggestionIDs() = %v", got)
	}
	if !IsDraft(leaf) {
		t.Fatalf("expected draft leaf")
	}
	if !HasStructuredComment(leaf) {
		t.Fatalf("expected structured comment")
	}
	if IDsOnLeaf(doc.NewText("plain", nil)) != nil {
		t.Fatalf("expected no ids on plain leaf")
	}
}

func TestSuggestionDataRoundTrip(t *testing.T) {
	data := SuggestionData{ID: "s1", Type: OpRemove, UserID: "u1", UserName: "Ada"}
	leaf := doc.NewText("gone", SuggestionAttrs(data))

	list := SuggestionDataList(leaf)
	if len(list) != 1 {
		t.Fatalf("expected one suggestion, got %d", len(list))
	}
	if list[0].ID != "s1" || list[0].Type != OpRemove || list[0].UserName != "Ada" {
		t.Fatalf("unexpected data %+v", list[0])
	}

	block := doc.NewElement("p", doc.NewText("", nil))
	block.Attrs = BlockSuggestionAttrs(SuggestionData{ID: "b1", Type: OpInsert})
	got, ok := BlockSuggestion(block)
	if !ok || got.ID != "b1" || got.Type != OpInsert {
		t.Fatalf("BlockSuggestion() = %+v, %v", got, ok)
	}
	if !HasSuggestion(block, "b1") || HasSuggestion(leaf, "b1") {
		t.Fatalf("unexpected HasSuggestion result")
	}
}

func TestUnsetKeysKeepGenericFlagWhileShared(t *testing.T) {
	shared := doc.NewText("x", map[string]any{"comment": true, "comment_a": true, "comment_b": true})
	if got := UnsetCommentKeys(shared, "a"); !reflect.DeepEqual(got, []string{"comment_a"}) {
		t.Fatalf("UnsetCommentKeys(shared) = %v", got)
	}
	single := doc.NewText("x", CommentAttrs("a"))
	if got := UnsetCommentKeys(single, "a"); !reflect.DeepEqual(got, []string{"comment_a", "comment"}) {
		t.Fatalf("UnsetCommentKeys(single) = %v", got)
	}
	draft := doc.NewText("x", DraftAttrs())
	if got := UnsetDraftKeys(draft); !reflect.DeepEqual(got, []string{"comment_draft", "comment"}) {
		t.Fatalf("UnsetDraftKeys() = %v", got)
	}
}
