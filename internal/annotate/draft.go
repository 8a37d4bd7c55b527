package annotate

import (
	"context"
	"strings"

	"chronicle/annotations/internal/annotation"
	"chronicle/annotations/internal/doc"
	"chronicle/annotations/internal/marks"
)

func isDraftLeaf(n *doc.Node, _ doc.Path) bool {
	return n.IsText() && marks.IsDraft(n)
}

// StartDraft marks rng as the pending comment selection. A draft already
// in progress is replaced.
func (f *Field) StartDraft(rng doc.Range) error {
	if f.closed {
		return ErrClosed
	}
	if rng.Collapsed() {
		return ErrEmptySelection
	}
	f.doc.WithoutNormalizing(func() {
		f.clearDraftMarks()
		f.doc.SetMarks(rng, marks.DraftAttrs())
	})
	if len(f.doc.Nodes(nil, isDraftLeaf)) == 0 {
		f.drafting = false
		return ErrEmptySelection
	}
	f.drafting = true
	return nil
}

// CancelDraft removes the draft marks. It reports whether a draft was in
// progress.
func (f *Field) CancelDraft() bool {
	if !f.drafting {
		return false
	}
	f.doc.WithoutNormalizing(f.clearDraftMarks)
	f.drafting = false
	return true
}

// SubmitDraft turns the draft selection into a new thread whose first
// message is body. A blank body is ignored: no thread is created, no error
// is returned and the draft stays in progress.
func (f *Field) SubmitDraft(ctx context.Context, body string) (annotation.ID, error) {
	if f.closed {
		return "", ErrClosed
	}
	if strings.TrimSpace(body) == "" {
		return "", nil
	}
	if !f.drafting {
		return "", ErrNotDrafting
	}
	leaves := f.doc.Nodes(nil, isDraftLeaf)
	if len(leaves) == 0 {
		f.drafting = false
		return "", ErrEmptySelection
	}

	var selected strings.Builder
	for _, entry := range leaves {
		selected.WriteString(entry.Node.Text)
	}
	user := f.currentUser(ctx)
	id := annotation.ID(f.newID("thread"))
	now := f.stamp()

	thread := annotation.CommentThread{
		ID:                id,
		CreatedAt:         now,
		Messages:          []annotation.CommentMessage{f.newMessage(body, user)},
		DocumentContent:   annotation.NormalizeText(selected.String()),
		DiscussionSubject: annotation.MergeSubject("", selected.String(), f.subjectLimit),
	}
	next := f.state.Clone()
	next.Comments[id] = thread
	f.commit(next)

	f.doc.WithoutNormalizing(func() {
		for _, entry := range leaves {
			f.doc.UnsetNodes([]string{marks.DraftKey}, entry.Path)
			f.doc.SetNodes(marks.CommentAttrs(id), entry.Path)
		}
	})
	f.drafting = false
	f.anchors.Observe(f.doc, id, leaves[0].Path.Block())
	f.log.Info("thread created", "threadId", id, "author", authorName(user))
	return id, nil
}

func (f *Field) clearDraftMarks() {
	for _, entry := range f.doc.Nodes(nil, isDraftLeaf) {
		f.doc.UnsetNodes(marks.UnsetDraftKeys(entry.Node), entry.Path)
	}
}
