package annotate

import (
	"context"
	"fmt"
	"strings"

	"chronicle/annotations/internal/annotation"
	"chronicle/annotations/internal/doc"
	"chronicle/annotations/internal/marks"
	"chronicle/annotations/internal/suggest"
)

func (f *Field) Diff(id annotation.ID) *suggest.Diff {
	return suggest.DiffFor(f.doc, id)
}

// Accept applies suggestion id, drops its metadata and any thread anchored
// to it.
func (f *Field) Accept(ctx context.Context, id annotation.ID) (suggest.Resolution, error) {
	return f.resolve(ctx, id, annotation.StatusAccepted)
}

// Reject reverts suggestion id, drops its metadata and any thread anchored
// to it.
func (f *Field) Reject(ctx context.Context, id annotation.ID) (suggest.Resolution, error) {
	return f.resolve(ctx, id, annotation.StatusRejected)
}

func (f *Field) resolve(ctx context.Context, id annotation.ID, status annotation.SuggestionStatus) (suggest.Resolution, error) {
	if f.closed {
		return suggest.Resolution{}, ErrClosed
	}
	diff := suggest.DiffFor(f.doc, id)
	if diff == nil {
		return suggest.Resolution{}, fmt.Errorf("resolve suggestion %s: %w", id, suggest.ErrNoDiff)
	}
	user := f.currentUser(ctx)

	apply := suggest.Accept
	if status == annotation.StatusRejected {
		apply = suggest.Reject
	}
	if err := apply(f.doc, id); err != nil {
		return suggest.Resolution{}, fmt.Errorf("resolve suggestion %s: %w", id, err)
	}

	next := f.state.Clone()
	delete(next.Suggestions, id)
	delete(next.Comments, id)
	f.commit(next)
	f.doc.WithoutSuggestions(func() {
		f.clearCommentMarks(id, f.doc.Nodes(nil, commentLeaf(id)))
	})
	f.anchors.Forget(id)

	resolution := suggest.Resolved(id, status, *diff, authorName(user), f.now())
	f.log.Info("suggestion resolved",
		"suggestionId", id,
		"status", status,
		"type", diff.Type,
		"resolvedBy", resolution.ResolvedBy,
	)
	return resolution, nil
}

// EnsureSuggestionThread opens a discussion on suggestion id: every leaf of
// the suggestion gets the thread's comment mark and the thread is created
// when missing. A non-blank body is added as a message.
func (f *Field) EnsureSuggestionThread(ctx context.Context, id annotation.ID, body string) error {
	if f.closed {
		return ErrClosed
	}
	diff := suggest.DiffFor(f.doc, id)
	if diff == nil {
		return fmt.Errorf("discuss suggestion %s: %w", id, suggest.ErrNoDiff)
	}

	if _, ok := f.state.Comments[id]; !ok {
		subject := diff.InsertedText
		if subject == "" {
			subject = diff.DeletedText
		}
		next := f.state.Clone()
		next.Comments[id] = annotation.CommentThread{
			ID:                id,
			CreatedAt:         f.stamp(),
			Messages:          []annotation.CommentMessage{},
			DiscussionSubject: annotation.MergeSubject("", subject, f.subjectLimit),
		}
		f.commit(next)
	}

	leaves := f.suggestionLeaves(id)
	f.doc.WithoutSuggestions(func() {
		f.doc.WithoutNormalizing(func() {
			for _, entry := range leaves {
				if !marks.HasComment(entry.Node, id) {
					f.doc.SetNodes(marks.CommentAttrs(id), entry.Path)
				}
			}
		})
	})
	if len(leaves) > 0 {
		f.anchors.Observe(f.doc, id, leaves[0].Path.Block())
	}

	if strings.TrimSpace(body) == "" {
		return nil
	}
	_, err := f.Reply(ctx, id, body)
	return err
}

// suggestionLeaves returns the text leaves that belong to suggestion id,
// including every leaf of a wholly suggested block.
func (f *Field) suggestionLeaves(id annotation.ID) []doc.Entry {
	var out []doc.Entry
	var blocks []doc.Path
	for _, entry := range f.doc.Nodes(nil, nil) {
		n := entry.Node
		if n.IsElement() {
			if marks.HasSuggestion(n, id) {
				blocks = append(blocks, entry.Path)
			}
			continue
		}
		inBlock := false
		for _, block := range blocks {
			if block.IsAncestorOf(entry.Path) {
				inBlock = true
				break
			}
		}
		if inBlock || marks.HasSuggestion(n, id) {
			out = append(out, entry)
		}
	}
	return out
}

// AnnotateSuggestionUser returns a copy of nodes in which every suggestion
// object without a userName carries name. The live tree is not touched.
func AnnotateSuggestionUser(nodes []*doc.Node, name string) []*doc.Node {
	out := make([]*doc.Node, len(nodes))
	for i, n := range nodes {
		out[i] = n.Clone()
	}
	if name == "" {
		return out
	}
	var stamp func(n *doc.Node)
	stamp = func(n *doc.Node) {
		for _, key := range n.SortedKeys() {
			parsed, ok := marks.ParseKey(key)
			isBlock := key == marks.SuggestionKey
			if !isBlock && (!ok || parsed.Kind != marks.KindSuggestion) {
				continue
			}
			fields, ok := n.Attrs[key].(map[string]any)
			if !ok {
				continue
			}
			if existing, _ := fields["userName"].(string); existing == "" {
				fields["userName"] = name
			}
		}
		for _, child := range n.Children {
			stamp(child)
		}
	}
	for _, n := range out {
		stamp(n)
	}
	return out
}

// ForStorage returns copies of nodes as they are written to the host
// document: suggestions stamped with name and draft marks removed.
func ForStorage(nodes []*doc.Node, name string) []*doc.Node {
	out := AnnotateSuggestionUser(nodes, name)
	var strip func(n *doc.Node)
	strip = func(n *doc.Node) {
		if n.IsText() && marks.IsDraft(n) {
			for _, key := range marks.UnsetDraftKeys(n) {
				delete(n.Attrs, key)
			}
		}
		for _, child := range n.Children {
			strip(child)
		}
	}
	for _, n := range out {
		strip(n)
	}
	return out
}
