// Package reconcile derives the annotation store of a field from the marks
// present in its document tree.
//
// Only structured mark values (thread or suggestion objects embedded in the
// tree) carry information the store does not already have. A tree whose
// marks are all plain flags leaves the store untouched, and a derivation
// that matches the current store is reported as unchanged so callers never
// write back the value they were notified about.
package reconcile

import (
	"encoding/json"
	"fmt"

	"chronicle/annotations/internal/annotation"
	"chronicle/annotations/internal/doc"
	"chronicle/annotations/internal/marks"
)

type Options struct {
	// SubjectLimit caps discussion subjects in runes; zero means unbounded.
	SubjectLimit int
}

// Reconcile derives a new state from d. It returns prev itself and false
// when nothing changed.
func Reconcile(d doc.Document, prev annotation.State, opts Options) (annotation.State, bool) {
	comments, commentsChanged := Comments(d, prev.Comments, opts)
	suggestions, suggestionsChanged := Suggestions(d, prev.Suggestions)
	if !commentsChanged && !suggestionsChanged {
		return prev, false
	}
	return annotation.State{Comments: comments, Suggestions: suggestions}, true
}

// Comments rebuilds the thread map from comment marks. When no mark holds a
// structured thread the existing map is returned as is.
func Comments(d doc.Document, existing map[annotation.ID]annotation.CommentThread, opts Options) (map[annotation.ID]annotation.CommentThread, bool) {
	records := map[annotation.ID]annotation.CommentThread{}
	structured := false

	for _, entry := range d.Nodes(nil, doc.Texts) {
		leaf := entry.Node
		if marks.HasStructuredComment(leaf) {
			structured = true
		}
		highlight := annotation.NormalizeText(leaf.Text)
		for _, key := range marks.Keys(leaf) {
			if key.Kind != marks.KindComment {
				continue
			}
			id := key.ID
			value, _ := leaf.Attr(key.String())
			acc, seen := records[id]
			base, known := existing[id]

			var record annotation.CommentThread
			subject := ""
			if v, ok := decodeThread(value); ok {
				record = v.merge(id, base)
				switch {
				case seen:
					subject = acc.DiscussionSubject
				case v.DiscussionSubject != nil && *v.DiscussionSubject != "":
					subject = *v.DiscussionSubject
				default:
					subject = base.DiscussionSubject
				}
			} else {
				switch {
				case seen:
					record = acc
				case known:
					record = base.Clone()
				default:
					record = annotation.CommentThread{ID: id, Messages: []annotation.CommentMessage{}}
				}
				subject = record.DiscussionSubject
			}
			record.DiscussionSubject = annotation.MergeSubject(subject, highlight, opts.SubjectLimit)
			records[id] = record
		}
	}

	if !structured {
		return existing, false
	}
	if annotation.CommentMapsEqual(existing, records) {
		return existing, false
	}
	return records, true
}

// Suggestions rebuilds the suggestion map from suggestion marks on leaves
// and wholly suggested blocks.
func Suggestions(d doc.Document, existing map[annotation.ID]annotation.StoredSuggestion) (map[annotation.ID]annotation.StoredSuggestion, bool) {
	records := map[annotation.ID]annotation.StoredSuggestion{}
	structured := false

	observe := func(id annotation.ID, data marks.SuggestionData, ok bool, kind annotation.SuggestionType) {
		acc, seen := records[id]
		base, known := existing[id]
		if !ok {
			switch {
			case seen:
			case known:
				records[id] = base.Clone()
			default:
				records[id] = annotation.StoredSuggestion{ID: id}
			}
			return
		}
		structured = true
		record := base.Clone()
		if seen {
			record = acc
		}
		record.ID = id
		if !data.CreatedAt.IsZero() {
			record.CreatedAt = data.CreatedAt
		}
		if data.UserID != "" {
			record.UserID = data.UserID
		}
		if data.UserName != "" {
			record.UserName = data.UserName
		}
		switch {
		case kind == "":
		case seen:
			record.Type = combine(acc.Type, kind)
		default:
			record.Type = kind
		}
		records[id] = record
	}

	for _, entry := range d.Nodes(nil, nil) {
		n := entry.Node
		if n.IsElement() {
			if data, ok := marks.BlockSuggestion(n); ok {
				observe(data.ID, data, true, annotation.SuggestionBlock)
			}
			continue
		}
		for _, key := range marks.Keys(n) {
			if key.Kind != marks.KindSuggestion {
				continue
			}
			value, _ := n.Attr(key.String())
			data, ok := marks.DecodeSuggestion(value)
			observe(key.ID, data, ok, annotation.SuggestionType(data.Type))
		}
	}

	if !structured {
		return existing, false
	}
	if annotation.SuggestionMapsEqual(existing, records) {
		return existing, false
	}
	return records, true
}

// combine folds the type seen on another leaf of the same suggestion into
// the running type: removed and inserted text together make a replacement.
func combine(prev, next annotation.SuggestionType) annotation.SuggestionType {
	switch {
	case prev == "" || prev == next:
		return next
	case next == "":
		return prev
	}
	textual := func(t annotation.SuggestionType) bool {
		return t == annotation.SuggestionInsert || t == annotation.SuggestionRemove || t == annotation.SuggestionReplace
	}
	if textual(prev) && textual(next) {
		return annotation.SuggestionReplace
	}
	return prev
}

// threadValue is a thread object embedded in a comment mark. Pointer fields
// distinguish absent values from zero ones.
type threadValue struct {
	CreatedAt         *annotation.Timestamp `json:"createdAt"`
	UpdatedAt         *annotation.Timestamp `json:"updatedAt"`
	Messages          []messageValue        `json:"messages"`
	IsResolved        *bool                 `json:"isResolved"`
	DocumentContent   *string               `json:"documentContent"`
	DiscussionSubject *string               `json:"discussionSubject"`
}

type messageValue struct {
	ID         *string               `json:"id"`
	Body       *string               `json:"body"`
	CreatedAt  *annotation.Timestamp `json:"createdAt"`
	UpdatedAt  *annotation.Timestamp `json:"updatedAt"`
	AuthorID   *string               `json:"authorId"`
	AuthorName *string               `json:"authorName"`
}

func decodeThread(value any) (threadValue, bool) {
	fields, ok := value.(map[string]any)
	if !ok {
		return threadValue{}, false
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return threadValue{}, false
	}
	var v threadValue
	if err := json.Unmarshal(raw, &v); err != nil {
		return threadValue{}, false
	}
	return v, true
}

// merge builds a thread from v, taking any field v omits from base.
func (v threadValue) merge(id annotation.ID, base annotation.CommentThread) annotation.CommentThread {
	out := annotation.CommentThread{
		ID:              id,
		CreatedAt:       base.CreatedAt,
		UpdatedAt:       base.UpdatedAt,
		IsResolved:      base.IsResolved,
		DocumentContent: base.DocumentContent,
	}
	if v.CreatedAt != nil && !v.CreatedAt.IsZero() {
		out.CreatedAt = *v.CreatedAt
	}
	if v.UpdatedAt != nil {
		updated := *v.UpdatedAt
		out.UpdatedAt = &updated
	}
	if v.IsResolved != nil {
		out.IsResolved = *v.IsResolved
	}
	if v.DocumentContent != nil {
		out.DocumentContent = *v.DocumentContent
	}

	if v.Messages == nil {
		out.Messages = base.Clone().Messages
		if out.Messages == nil {
			out.Messages = []annotation.CommentMessage{}
		}
		return out
	}
	out.Messages = make([]annotation.CommentMessage, len(v.Messages))
	for i, m := range v.Messages {
		var fallback annotation.CommentMessage
		if i < len(base.Messages) {
			fallback = base.Messages[i]
		}
		message := fallback
		if m.ID != nil && *m.ID != "" {
			message.ID = *m.ID
		}
		if message.ID == "" {
			message.ID = fmt.Sprintf("%s-message-%d", id, i)
		}
		if m.Body != nil {
			message.Body = *m.Body
		}
		if m.CreatedAt != nil && !m.CreatedAt.IsZero() {
			message.CreatedAt = *m.CreatedAt
		}
		if m.UpdatedAt != nil {
			updated := *m.UpdatedAt
			message.UpdatedAt = &updated
		} else if fallback.UpdatedAt != nil {
			updated := *fallback.UpdatedAt
			message.UpdatedAt = &updated
		}
		if m.AuthorID != nil {
			message.AuthorID = *m.AuthorID
		}
		if m.AuthorName != nil {
			message.AuthorName = *m.AuthorName
		}
		out.Messages[i] = message
	}
	return out
}
