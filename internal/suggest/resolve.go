package suggest

import (
	"time"

	"chronicle/annotations/internal/annotation"
	"chronicle/annotations/internal/doc"
	"chronicle/annotations/internal/marks"
)

// Resolution records what happened to a suggestion when it was accepted or
// rejected.
type Resolution struct {
	SuggestionID annotation.ID               `json:"suggestionId"`
	Status       annotation.SuggestionStatus `json:"status"`
	Diff         Diff                        `json:"diff"`
	ResolvedBy   string                      `json:"resolvedBy,omitempty"`
	ResolvedAt   annotation.Timestamp        `json:"resolvedAt"`
}

func Resolved(id annotation.ID, status annotation.SuggestionStatus, diff Diff, userName string, at time.Time) Resolution {
	return Resolution{
		SuggestionID: id,
		Status:       status,
		Diff:         diff,
		ResolvedBy:   userName,
		ResolvedAt:   annotation.At(at),
	}
}

// Accept applies suggestion id to the document: removed text and blocks are
// dropped, inserted text and blocks lose their marks and update suggestions
// keep their new properties.
func Accept(d doc.Document, id annotation.ID) error {
	return apply(d, id, true)
}

// Reject reverts suggestion id: inserted text and blocks are dropped, removed
// text and blocks lose their marks and update suggestions restore their old
// properties.
func Reject(d doc.Document, id annotation.ID) error {
	return apply(d, id, false)
}

func apply(d doc.Document, id annotation.ID, accept bool) error {
	if DiffFor(d, id) == nil {
		return ErrNoDiff
	}
	d.WithoutSuggestions(func() {
		d.WithoutNormalizing(func() {
			entries := d.Nodes(nil, nil)
			// Walk backwards so removals never shift a path still to be visited.
			for i := len(entries) - 1; i >= 0; i-- {
				entry := entries[i]
				if entry.Node.IsText() {
					applyLeaf(d, entry, id, accept)
					continue
				}
				applyBlock(d, entry, id, accept)
			}
		})
	})
	return nil
}

func applyLeaf(d doc.Document, entry doc.Entry, id annotation.ID, accept bool) {
	for _, data := range marks.SuggestionDataList(entry.Node) {
		if data.ID != id {
			continue
		}
		if drops(data.Type, accept) {
			d.RemoveNodes(entry.Path)
			return
		}
		if data.Type == marks.OpUpdate && !accept {
			restore := map[string]any{}
			var unset []string
			for key := range data.NewProperties {
				if old, ok := data.Properties[key]; ok && old != nil {
					restore[key] = old
				} else {
					unset = append(unset, key)
				}
			}
			d.SetNodes(restore, entry.Path)
			d.UnsetNodes(unset, entry.Path)
		}
		d.UnsetNodes(marks.UnsetSuggestionKeys(entry.Node, id), entry.Path)
		return
	}
}

func applyBlock(d doc.Document, entry doc.Entry, id annotation.ID, accept bool) {
	data, ok := marks.BlockSuggestion(entry.Node)
	if !ok || data.ID != id {
		return
	}
	if drops(data.Type, accept) {
		d.RemoveNodes(entry.Path)
		return
	}
	d.UnsetNodes([]string{marks.SuggestionKey}, entry.Path)
}

// drops reports whether text tagged with op disappears on resolution.
func drops(op marks.Op, accept bool) bool {
	if accept {
		return op == marks.OpRemove
	}
	return op == marks.OpInsert
}
