package annotate

import (
	"chronicle/annotations/internal/annotation"
	"chronicle/annotations/internal/doc"
	"chronicle/annotations/internal/marks"
	"chronicle/annotations/internal/overlap"
	"chronicle/annotations/internal/suggest"
)

// SuggestionView is a suggestion as listed beside its block.
type SuggestionView struct {
	ID   annotation.ID               `json:"id"`
	Meta annotation.StoredSuggestion `json:"meta"`
	Diff suggest.Diff                `json:"diff"`
}

// ActiveThreads lists the threads that still have a mark in the document
// and are not resolved, in creation order.
func (f *Field) ActiveThreads() []annotation.CommentThread {
	live := map[annotation.ID]struct{}{}
	for _, entry := range f.doc.Nodes(nil, doc.Texts) {
		for _, id := range marks.IDsOnLeaf(entry.Node) {
			live[id] = struct{}{}
		}
	}
	active := map[annotation.ID]annotation.CommentThread{}
	for id, thread := range f.state.Comments {
		if _, ok := live[id]; !ok || thread.IsResolved {
			continue
		}
		active[id] = thread.Clone()
	}
	return annotation.SortedThreads(active)
}

// BlockThreads lists the threads displayed beside the block at blockPath:
// those whose mark is in the block, whose anchor is this block and which
// are not resolved.
func (f *Field) BlockThreads(blockPath doc.Path) []annotation.CommentThread {
	shown := map[annotation.ID]annotation.CommentThread{}
	for _, id := range f.blockIDs(blockPath) {
		thread, ok := f.state.Comments[id]
		if !ok || thread.IsResolved || !f.hasCommentIn(id, blockPath) {
			continue
		}
		shown[id] = thread.Clone()
	}
	return annotation.SortedThreads(shown)
}

// BlockSuggestions lists the pending suggestions displayed beside the block
// at blockPath, in creation order. Suggestions without a resolvable diff
// are left out.
func (f *Field) BlockSuggestions(blockPath doc.Path) []SuggestionView {
	meta := map[annotation.ID]annotation.StoredSuggestion{}
	diffs := map[annotation.ID]suggest.Diff{}
	for _, id := range f.blockIDs(blockPath) {
		if !f.isSuggestion(id, blockPath) {
			continue
		}
		diff := suggest.DiffFor(f.doc, id)
		if diff == nil {
			continue
		}
		record, ok := f.state.Suggestions[id]
		if !ok {
			record = annotation.StoredSuggestion{ID: id}
		}
		meta[id] = record.Clone()
		diffs[id] = *diff
	}
	sorted := annotation.SortedSuggestions(meta)
	out := make([]SuggestionView, 0, len(sorted))
	for _, record := range sorted {
		out = append(out, SuggestionView{ID: record.ID, Meta: record, Diff: diffs[record.ID]})
	}
	return out
}

// PendingSuggestions lists every live suggestion of the field with a
// resolvable diff, in document order.
func (f *Field) PendingSuggestions() []SuggestionView {
	ids := suggest.IDs(f.doc)
	out := make([]SuggestionView, 0, len(ids))
	for _, id := range ids {
		diff := suggest.DiffFor(f.doc, id)
		if diff == nil {
			continue
		}
		record, ok := f.state.Suggestions[id]
		if !ok {
			record = annotation.StoredSuggestion{ID: id}
		}
		out = append(out, SuggestionView{ID: id, Meta: record.Clone(), Diff: *diff})
	}
	return out
}

// Overlap groups the annotations under the leaf at p for a click on
// clicked, with the matching records in creation order.
func (f *Field) Overlap(p doc.Point, clicked annotation.ID) (overlap.Group, []overlap.Item, error) {
	group, err := overlap.At(f.doc, p, clicked)
	if err != nil {
		return overlap.Group{}, nil, err
	}
	return group, overlap.Order(group, f.state), nil
}

// blockIDs observes the block in the anchor map and returns the ids
// anchored to it.
func (f *Field) blockIDs(blockPath doc.Path) []annotation.ID {
	var out []annotation.ID
	for _, id := range f.anchors.ObserveBlock(f.doc, blockPath) {
		if anchored, ok := f.anchors.Anchor(id); ok && anchored.Equal(blockPath) {
			out = append(out, id)
		}
	}
	return out
}

func (f *Field) hasCommentIn(id annotation.ID, blockPath doc.Path) bool {
	return len(f.doc.Nodes(blockPath, commentLeaf(id))) > 0
}

func (f *Field) isSuggestion(id annotation.ID, blockPath doc.Path) bool {
	for _, entry := range f.doc.Nodes(blockPath, nil) {
		if marks.HasSuggestion(entry.Node, id) {
			return true
		}
	}
	return false
}
