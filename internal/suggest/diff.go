package suggest

import (
	"errors"
	"strings"

	"chronicle/annotations/internal/annotation"
	"chronicle/annotations/internal/doc"
	"chronicle/annotations/internal/marks"
)

var ErrNoDiff = errors.New("suggestion has no resolvable diff")

// Diff is the net text effect of one suggestion.
type Diff struct {
	InsertedText string                    `json:"insertedText"`
	DeletedText  string                    `json:"deletedText"`
	Type         annotation.SuggestionType `json:"type"`
}

// DiffFor computes the diff of suggestion id over the whole document. It
// returns nil when the suggestion contributes no text in either direction.
func DiffFor(d doc.Document, id annotation.ID) *Diff {
	var inserted, deleted strings.Builder
	for _, entry := range d.Nodes(nil, nil) {
		n := entry.Node
		if n.IsText() {
			for _, data := range marks.SuggestionDataList(n) {
				if data.ID != id {
					continue
				}
				switch data.Type {
				case marks.OpRemove:
					deleted.WriteString(n.Text)
				case marks.OpInsert, marks.OpUpdate:
					inserted.WriteString(n.Text)
				}
			}
			continue
		}
		data, ok := marks.BlockSuggestion(n)
		if !ok || data.ID != id {
			continue
		}
		label := "[" + n.Type + "]"
		if data.Type == marks.OpInsert {
			inserted.WriteString(label)
		} else {
			deleted.WriteString(label)
		}
	}

	out := &Diff{
		InsertedText: annotation.NormalizeText(inserted.String()),
		DeletedText:  annotation.NormalizeText(deleted.String()),
	}
	switch {
	case out.InsertedText == "" && out.DeletedText == "":
		return nil
	case out.InsertedText != "" && out.DeletedText != "":
		out.Type = annotation.SuggestionReplace
	case out.InsertedText != "":
		out.Type = annotation.SuggestionInsert
	default:
		out.Type = annotation.SuggestionRemove
	}
	return out
}

// IDs returns every suggestion id present in the document, in order of first
// appearance.
func IDs(d doc.Document) []annotation.ID {
	seen := map[annotation.ID]struct{}{}
	var out []annotation.ID
	add := func(id annotation.ID) {
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	for _, entry := range d.Nodes(nil, nil) {
		if entry.Node.IsText() {
			for _, id := range marks.SuggestionIDs(entry.Node) {
				add(id)
			}
			continue
		}
		if data, ok := marks.BlockSuggestion(entry.Node); ok {
			add(data.ID)
		}
	}
	return out
}
