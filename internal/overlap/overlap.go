// Package overlap works out which annotations a click on marked text
// refers to.
package overlap

import (
	"sort"

	"chronicle/annotations/internal/annotation"
	"chronicle/annotations/internal/doc"
	"chronicle/annotations/internal/marks"
)

// Group is the set of annotations under one leaf. Primary is the one to
// focus; Overlapping is set when more than one annotation shares the leaf.
type Group struct {
	Primary     annotation.ID   `json:"primary,omitempty"`
	IDs         []annotation.ID `json:"ids"`
	Overlapping bool            `json:"overlapping"`
}

// Resolve groups the annotations on leaf. clicked becomes primary when it is
// one of them; otherwise the first id in order is.
func Resolve(leaf *doc.Node, clicked annotation.ID) Group {
	ids := marks.UniqueIDs(marks.IDsOnLeaf(leaf), marks.SuggestionIDs(leaf))
	if len(ids) == 0 {
		return Group{IDs: []annotation.ID{}}
	}
	g := Group{IDs: ids, Primary: ids[0], Overlapping: len(ids) > 1}
	for _, id := range ids {
		if id == clicked {
			g.Primary = clicked
			break
		}
	}
	return g
}

func At(d doc.Document, p doc.Point, clicked annotation.ID) (Group, error) {
	leaf, err := doc.LeafAt(d, p.Path)
	if err != nil {
		return Group{}, err
	}
	return Resolve(leaf, clicked), nil
}

// Item is one entry of the stacked overlap view.
type Item struct {
	ID         annotation.ID                `json:"id"`
	Primary    bool                         `json:"primary"`
	Thread     *annotation.CommentThread    `json:"thread,omitempty"`
	Suggestion *annotation.StoredSuggestion `json:"suggestion,omitempty"`
	CreatedAt  annotation.Timestamp         `json:"createdAt"`
}

// Order lists the group's threads and suggestions in creation order. Ids
// with no record in state are left out.
func Order(g Group, state annotation.State) []Item {
	items := make([]Item, 0, len(g.IDs))
	for _, id := range g.IDs {
		item := Item{ID: id, Primary: id == g.Primary}
		if thread, ok := state.Comments[id]; ok {
			thread = thread.Clone()
			item.Thread = &thread
			item.CreatedAt = thread.CreatedAt
		}
		if suggestion, ok := state.Suggestions[id]; ok {
			suggestion = suggestion.Clone()
			item.Suggestion = &suggestion
			if item.Thread == nil {
				item.CreatedAt = suggestion.CreatedAt
			}
		}
		if item.Thread == nil && item.Suggestion == nil {
			continue
		}
		items = append(items, item)
	}
	sort.SliceStable(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.Before(items[j].CreatedAt.Time)
		}
		return items[i].ID < items[j].ID
	})
	return items
}
