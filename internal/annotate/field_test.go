package annotate

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"chronicle/annotations/internal/annotation"
	"chronicle/annotations/internal/doc"
	"chronicle/annotations/internal/identity"
	"chronicle/annotations/internal/marks"
	"chronicle/annotations/internal/suggest"
)

type harness struct {
	doc     *doc.Editor
	field   *Field
	commits int
	clock   time.Time
}

func newHarness(t *testing.T, d *doc.Editor, initial annotation.State) *harness {
	t.Helper()
	h := &harness{doc: d, clock: time.Date(2024, 7, 1, 9, 0, 0, 0, time.UTC)}
	seq := 0
	h.field = NewField("body", d, initial,
		WithClock(func() time.Time {
			h.clock = h.clock.Add(time.Second)
			return h.clock
		}),
		WithIDs(func(prefix string) string {
			seq++
			return fmt.Sprintf("%s_%d", prefix, seq)
		}),
		WithIdentity(identity.ProviderFunc(func(ctx context.Context) (*identity.User, error) {
			return &identity.User{ID: "u1", Name: "Ada"}, nil
		})),
		OnCommit(func(string, annotation.State) { h.commits++ }),
	)
	t.Cleanup(h.field.Close)
	return h
}

func sentence() *doc.Editor {
	return doc.NewEditor(
		doc.NewElement("p", doc.NewText("The quick brown fox", nil)),
		doc.NewElement("p", doc.NewText("jumps over the lazy dog", nil)),
	)
}

func selection(path doc.Path, from, to int) doc.Range {
	return doc.Range{Anchor: doc.Point{Path: path, Offset: from}, Focus: doc.Point{Path: path, Offset: to}}
}

func markedKeys(d *doc.Editor) map[string]int {
	out := map[string]int{}
	for _, entry := range d.Nodes(nil, doc.Texts) {
		for _, key := range entry.Node.SortedKeys() {
			out[key]++
		}
	}
	return out
}

func TestDraftSubmitCreatesThread(t *testing.T) {
	h := newHarness(t, sentence(), annotation.NewState())
	ctx := context.Background()

	if err := h.field.StartDraft(selection(doc.Path{0, 0}, 4, 9)); err != nil {
		t.Fatalf("StartDraft() error = %v", err)
	}
	if !h.field.Drafting() {
		t.Fatalf("expected drafting state")
	}

	id, err := h.field.SubmitDraft(ctx, "   ")
	if err != nil || id != "" {
		t.Fatalf("expected blank body to be ignored, got %q %v", id, err)
	}
	if !h.field.Drafting() {
		t.Fatalf("expected draft to survive a blank submit")
	}

	id, err = h.field.SubmitDraft(ctx, "Too informal")
	if err != nil {
		t.Fatalf("SubmitDraft() error = %v", err)
	}
	thread, ok := h.field.Thread(id)
	if !ok {
		t.Fatalf("expected thread %s", id)
	}
	if thread.DiscussionSubject != "quick" || len(thread.Messages) != 1 || thread.Messages[0].AuthorName != "Ada" {
		t.Fatalf("unexpected thread %+v", thread)
	}
	keys := markedKeys(h.doc)
	if keys[marks.DraftKey] != 0 {
		t.Fatalf("expected draft marks gone, got %v", keys)
	}
	if keys["comment_"+string(id)] != 1 {
		t.Fatalf("expected thread mark on one leaf, got %v", keys)
	}
	if h.field.Drafting() {
		t.Fatalf("expected idle after submit")
	}

	if _, err := h.field.SubmitDraft(ctx, "again"); !errors.Is(err, ErrNotDrafting) {
		t.Fatalf("expected ErrNotDrafting, got %v", err)
	}
}

func TestCancelDraftLeavesNoMarks(t *testing.T) {
	d := sentence()
	before, _ := d.MarshalJSON()
	h := newHarness(t, d, annotation.NewState())

	if err := h.field.StartDraft(doc.Range{
		Anchor: doc.Point{Path: doc.Path{0, 0}, Offset: 10},
		Focus:  doc.Point{Path: doc.Path{1, 0}, Offset: 5},
	}); err != nil {
		t.Fatalf("StartDraft() error = %v", err)
	}
	if !h.field.CancelDraft() {
		t.Fatalf("expected a draft to cancel")
	}
	after, _ := d.MarshalJSON()
	if string(before) != string(after) {
		t.Fatalf("expected tree restored\nbefore %s\nafter  %s", before, after)
	}
	if h.field.CancelDraft() {
		t.Fatalf("expected second cancel to be a no-op")
	}
	if len(h.field.State().Comments) != 0 {
		t.Fatalf("expected no threads")
	}
}

func TestStartDraftRejectsCollapsedRange(t *testing.T) {
	h := newHarness(t, sentence(), annotation.NewState())
	if err := h.field.StartDraft(selection(doc.Path{0, 0}, 3, 3)); !errors.Is(err, ErrEmptySelection) {
		t.Fatalf("expected ErrEmptySelection, got %v", err)
	}
}

func TestThreadLifecycle(t *testing.T) {
	h := newHarness(t, sentence(), annotation.NewState())
	ctx := context.Background()
	_ = h.field.StartDraft(selection(doc.Path{1, 0}, 0, 5))
	id, _ := h.field.SubmitDraft(ctx, "first")

	msgID, err := h.field.Reply(ctx, id, "second")
	if err != nil {
		t.Fatalf("Reply() error = %v", err)
	}
	if err := h.field.EditMessage(id, msgID, "second, edited"); err != nil {
		t.Fatalf("EditMessage() error = %v", err)
	}
	thread, _ := h.field.Thread(id)
	if len(thread.Messages) != 2 || thread.Messages[1].Body != "second, edited" || thread.UpdatedAt == nil {
		t.Fatalf("unexpected thread %+v", thread)
	}
	if _, err := h.field.Reply(ctx, "missing", "x"); !errors.Is(err, ErrUnknownThread) {
		t.Fatalf("expected ErrUnknownThread, got %v", err)
	}
	if err := h.field.EditMessage(id, "nope", "x"); !errors.Is(err, ErrUnknownMessage) {
		t.Fatalf("expected ErrUnknownMessage, got %v", err)
	}

	if err := h.field.ResolveThread(id, true); err != nil {
		t.Fatalf("ResolveThread() error = %v", err)
	}
	if len(h.field.ActiveThreads()) != 0 {
		t.Fatalf("expected resolved thread hidden from active list")
	}
	if len(h.field.BlockThreads(doc.Path{1})) != 0 {
		t.Fatalf("expected resolved thread hidden from block view")
	}
	_ = h.field.ResolveThread(id, false)
	if len(h.field.BlockThreads(doc.Path{1})) != 1 {
		t.Fatalf("expected reopened thread in block view")
	}

	if !h.field.DeleteThread(id) {
		t.Fatalf("expected thread deleted")
	}
	if h.field.DeleteThread(id) {
		t.Fatalf("expected second delete to be a no-op")
	}
	if keys := markedKeys(h.doc); len(keys) != 0 {
		t.Fatalf("expected no marks left, got %v", keys)
	}
}

func TestDeletingOnlyMessageDropsThreadFromSnapshot(t *testing.T) {
	h := newHarness(t, sentence(), annotation.NewState())
	ctx := context.Background()
	_ = h.field.StartDraft(selection(doc.Path{0, 0}, 0, 3))
	id, _ := h.field.SubmitDraft(ctx, "only")
	thread, _ := h.field.Thread(id)

	if err := h.field.DeleteMessage(id, thread.Messages[0].ID); err != nil {
		t.Fatalf("DeleteMessage() error = %v", err)
	}
	if _, ok := h.field.Snapshot().Comments[id]; ok {
		t.Fatalf("expected empty thread left out of snapshot")
	}
	if _, ok := h.field.Thread(id); !ok {
		t.Fatalf("expected empty thread kept until collected")
	}

	removed := h.field.RemoveEmptyThreads(id)
	if len(removed) != 1 || removed[0] != id {
		t.Fatalf("RemoveEmptyThreads() = %v", removed)
	}
	if _, ok := h.field.Thread(id); ok {
		t.Fatalf("expected thread collected")
	}
	if keys := markedKeys(h.doc); len(keys) != 0 {
		t.Fatalf("expected marks removed with the thread, got %v", keys)
	}
}

func TestThreadSpanningBlocksListedOnce(t *testing.T) {
	h := newHarness(t, sentence(), annotation.NewState())
	_ = h.field.StartDraft(doc.Range{
		Anchor: doc.Point{Path: doc.Path{0, 0}, Offset: 10},
		Focus:  doc.Point{Path: doc.Path{1, 0}, Offset: 5},
	})
	id, _ := h.field.SubmitDraft(context.Background(), "spans")

	total := 0
	// render the second block first; the thread still belongs to the first
	for _, block := range []doc.Path{{1}, {0}, {1}} {
		for _, thread := range h.field.BlockThreads(block) {
			if thread.ID == id && block.Equal(doc.Path{0}) {
				total++
			}
		}
	}
	if total != 1 {
		t.Fatalf("expected the thread listed once under block [0], got %d", total)
	}
	if got := h.field.BlockThreads(doc.Path{1}); len(got) != 0 {
		t.Fatalf("expected no thread under block [1], got %d", len(got))
	}
}

func TestReconcileDoesNotFeedBack(t *testing.T) {
	h := newHarness(t, sentence(), annotation.NewState())
	_ = h.field.StartDraft(selection(doc.Path{0, 0}, 0, 3))
	_, _ = h.field.SubmitDraft(context.Background(), "hi")
	commits := h.commits

	// formatting changes the tree but not the derived annotations
	h.doc.SetMarks(selection(doc.Path{1, 0}, 0, 5), map[string]any{"bold": true})
	if h.commits != commits {
		t.Fatalf("expected no commit from an unrelated edit, got %d more", h.commits-commits)
	}
	if h.field.Reconcile() {
		t.Fatalf("expected explicit reconcile to be a no-op")
	}
}

func TestStructuredMarksHydrateOnMount(t *testing.T) {
	d := doc.NewEditor(doc.NewElement("p", doc.NewText("imported", map[string]any{
		"comment": true,
		"comment_ext": map[string]any{
			"createdAt": "2024-01-01T00:00:00Z",
			"messages":  []any{map[string]any{"id": "m1", "body": "from import"}},
		},
	})))
	h := newHarness(t, d, annotation.NewState())
	thread, ok := h.field.Thread("ext")
	if !ok || thread.DiscussionSubject != "imported" || thread.Messages[0].Body != "from import" {
		t.Fatalf("expected imported thread, got %+v %v", thread, ok)
	}
}

func TestAcceptSuggestion(t *testing.T) {
	d := doc.NewEditor(doc.NewElement("p",
		doc.NewText("say ", nil),
		doc.NewText("old", marks.SuggestionAttrs(marks.SuggestionData{ID: "s1", Type: marks.OpRemove, UserName: "Bo"})),
		doc.NewText("new", marks.SuggestionAttrs(marks.SuggestionData{ID: "s1", Type: marks.OpInsert, UserName: "Bo"})),
	))
	h := newHarness(t, d, annotation.NewState())
	ctx := context.Background()

	if _, ok := h.field.State().Suggestions["s1"]; !ok {
		t.Fatalf("expected suggestion metadata from the tree")
	}
	views := h.field.BlockSuggestions(doc.Path{0})
	if len(views) != 1 || views[0].Diff.Type != annotation.SuggestionReplace {
		t.Fatalf("unexpected block suggestions %+v", views)
	}

	if err := h.field.EnsureSuggestionThread(ctx, "s1", "why this word?"); err != nil {
		t.Fatalf("EnsureSuggestionThread() error = %v", err)
	}
	if thread, ok := h.field.Thread("s1"); !ok || len(thread.Messages) != 1 {
		t.Fatalf("expected discussion thread on suggestion, got %+v", thread)
	}

	resolution, err := h.field.Accept(ctx, "s1")
	if err != nil {
		t.Fatalf("Accept() error = %v", err)
	}
	if resolution.ResolvedBy != "Ada" || resolution.Diff.DeletedText != "old" {
		t.Fatalf("unexpected resolution %+v", resolution)
	}
	if got := d.Text(nil); got != "say new" {
		t.Fatalf("expected accepted text, got %q", got)
	}
	state := h.field.State()
	if _, ok := state.Suggestions["s1"]; ok {
		t.Fatalf("expected suggestion metadata removed")
	}
	if _, ok := state.Comments["s1"]; ok {
		t.Fatalf("expected suggestion thread removed")
	}
	if keys := markedKeys(d); len(keys) != 0 {
		t.Fatalf("expected no annotation marks left, got %v", keys)
	}
	if _, err := h.field.Accept(ctx, "s1"); !errors.Is(err, suggest.ErrNoDiff) {
		t.Fatalf("expected ErrNoDiff, got %v", err)
	}
}

func TestPendingSuggestionsFollowDocumentOrder(t *testing.T) {
	d := doc.NewEditor(doc.NewElement("p",
		doc.NewText("late", marks.SuggestionAttrs(marks.SuggestionData{ID: "s2", Type: marks.OpInsert, UserName: "Bo"})),
		doc.NewText(" and ", nil),
		doc.NewText("early", marks.SuggestionAttrs(marks.SuggestionData{ID: "s1", Type: marks.OpRemove, UserName: "Cy"})),
	))
	h := newHarness(t, d, annotation.NewState())

	pending := h.field.PendingSuggestions()
	if len(pending) != 2 || pending[0].ID != "s2" || pending[1].ID != "s1" {
		t.Fatalf("unexpected pending suggestions %+v", pending)
	}
	if pending[0].Meta.UserName != "Bo" || pending[1].Diff.DeletedText != "early" {
		t.Fatalf("expected metadata and diff per suggestion, got %+v", pending)
	}

	if _, err := h.field.Accept(context.Background(), "s2"); err != nil {
		t.Fatalf("Accept() error = %v", err)
	}
	if pending := h.field.PendingSuggestions(); len(pending) != 1 || pending[0].ID != "s1" {
		t.Fatalf("expected only s1 pending after accept, got %+v", pending)
	}
}

func TestTrackedEditBecomesSuggestion(t *testing.T) {
	h := newHarness(t, sentence(), annotation.NewState())
	ctx := context.Background()
	err := h.field.Apply(ctx, Edit{Kind: EditReplaceText, Range: selection(doc.Path{0, 0}, 4, 9), Text: "slow", Suggest: true})
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if h.doc.Suggesting() {
		t.Fatalf("expected tracking switched back off")
	}
	state := h.field.State()
	if len(state.Suggestions) != 1 {
		t.Fatalf("expected one suggestion, got %d", len(state.Suggestions))
	}
	for id, record := range state.Suggestions {
		if record.UserName != "Ada" || record.Type != annotation.SuggestionReplace {
			t.Fatalf("unexpected record %+v", record)
		}
		if _, err := h.field.Reject(ctx, id); err != nil {
			t.Fatalf("Reject() error = %v", err)
		}
	}
	if got := h.doc.Text(doc.Path{0}); got != "The quick brown fox" {
		t.Fatalf("expected original text after reject, got %q", got)
	}

	if err := h.field.Apply(ctx, Edit{Kind: EditFormat, Range: selection(doc.Path{0, 0}, 0, 3), Marks: map[string]any{"comment_x": true}}); !errors.Is(err, ErrInvalidEdit) {
		t.Fatalf("expected ErrInvalidEdit, got %v", err)
	}
}

func TestOverlapOnSharedText(t *testing.T) {
	h := newHarness(t, sentence(), annotation.NewState())
	ctx := context.Background()
	_ = h.field.StartDraft(selection(doc.Path{0, 0}, 0, 9))
	a, _ := h.field.SubmitDraft(ctx, "a")
	_ = h.field.StartDraft(selection(doc.Path{0, 0}, 4, 9))
	b, _ := h.field.SubmitDraft(ctx, "b")

	// "quick" now sits on its own leaf carrying both threads
	group, items, err := h.field.Overlap(doc.Point{Path: doc.Path{0, 1}, Offset: 1}, b)
	if err != nil {
		t.Fatalf("Overlap() error = %v", err)
	}
	if !group.Overlapping || group.Primary != b || len(group.IDs) != 2 {
		t.Fatalf("unexpected group %+v", group)
	}
	if len(items) != 2 || items[0].ID != a || items[1].ID != b {
		t.Fatalf("expected creation order a, b; got %+v", items)
	}
}

func TestAnnotateSuggestionUser(t *testing.T) {
	nodes := []*doc.Node{doc.NewElement("p",
		doc.NewText("x", marks.SuggestionAttrs(marks.SuggestionData{ID: "s1", Type: marks.OpInsert})),
		doc.NewText("y", marks.SuggestionAttrs(marks.SuggestionData{ID: "s2", Type: marks.OpInsert, UserName: "Bo"})),
	)}
	out := AnnotateSuggestionUser(nodes, "Ada")
	got := marks.SuggestionDataList(out[0].Children[0])
	if got[0].UserName != "Ada" {
		t.Fatalf("expected userName stamped, got %+v", got[0])
	}
	if kept := marks.SuggestionDataList(out[0].Children[1]); kept[0].UserName != "Bo" {
		t.Fatalf("expected existing userName kept, got %+v", kept[0])
	}
	if orig := marks.SuggestionDataList(nodes[0].Children[0]); orig[0].UserName != "" {
		t.Fatalf("expected input left untouched")
	}
}
