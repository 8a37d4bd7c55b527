// Package marks encodes annotation identity onto text leaves and elements.
//
// A leaf in a comment thread carries the generic "comment" flag plus one
// "comment_<id>" key per thread. An unsubmitted selection carries
// "comment_draft". Suggested text carries "suggestion" plus one
// "suggestion_<id>" key whose value is the suggestion data object; a wholly
// suggested block carries the data object under "suggestion" on the element.
package marks

import (
	"sort"
	"strings"

	"chronicle/annotations/internal/annotation"
	"chronicle/annotations/internal/doc"
)

type AnnotationID = annotation.ID

const (
	CommentKey       = "comment"
	CommentPrefix    = "comment_"
	DraftKey         = "comment_draft"
	SuggestionKey    = "suggestion"
	SuggestionPrefix = "suggestion_"
)

type Kind int

const (
	KindComment Kind = iota + 1
	KindDraft
	KindSuggestion
)

func (k Kind) String() string {
	switch k {
	case KindComment:
		return "comment"
	case KindDraft:
		return "draft"
	case KindSuggestion:
		return "suggestion"
	}
	return "unknown"
}

// Key is a decoded mark key.
type Key struct {
	Kind Kind
	ID   AnnotationID
}

func CommentKeyFor(id AnnotationID) Key {
	return Key{Kind: KindComment, ID: id}
}

func SuggestionKeyFor(id AnnotationID) Key {
	return Key{Kind: KindSuggestion, ID: id}
}

func (k Key) String() string {
	switch k.Kind {
	case KindComment:
		return CommentPrefix + string(k.ID)
	case KindDraft:
		return DraftKey
	case KindSuggestion:
		return SuggestionPrefix + string(k.ID)
	}
	return ""
}

// ParseKey decodes an attribute key. The generic "comment" and "suggestion"
// flags are not annotation keys.
func ParseKey(key string) (Key, bool) {
	switch {
	case key == DraftKey:
		return Key{Kind: KindDraft}, true
	case strings.HasPrefix(key, CommentPrefix) && len(key) > len(CommentPrefix):
		return Key{Kind: KindComment, ID: AnnotationID(key[len(CommentPrefix):])}, true
	case strings.HasPrefix(key, SuggestionPrefix) && len(key) > len(SuggestionPrefix):
		return Key{Kind: KindSuggestion, ID: AnnotationID(key[len(SuggestionPrefix):])}, true
	}
	return Key{}, false
}

// Keys returns every annotation key on n in lexical order.
func Keys(n *doc.Node) []Key {
	if n == nil {
		return nil
	}
	var out []Key
	for _, attr := range n.SortedKeys() {
		if key, ok := ParseKey(attr); ok {
			out = append(out, key)
		}
	}
	return out
}

// IDsOnLeaf returns the comment thread ids on a leaf, sorted and without the
// draft key.
func IDsOnLeaf(n *doc.Node) []AnnotationID {
	return idsOfKind(n, KindComment)
}

func SuggestionIDs(n *doc.Node) []AnnotationID {
	return idsOfKind(n, KindSuggestion)
}

func idsOfKind(n *doc.Node, kind Kind) []AnnotationID {
	var out []AnnotationID
	for _, key := range Keys(n) {
		if key.Kind == kind {
			out = append(out, key.ID)
		}
	}
	return out
}

func IsDraft(n *doc.Node) bool {
	_, ok := n.Attr(DraftKey)
	return ok
}

// HasComment reports whether the leaf carries a mark for thread id.
func HasComment(n *doc.Node, id AnnotationID) bool {
	_, ok := n.Attr(CommentKeyFor(id).String())
	return ok
}

func HasSuggestion(n *doc.Node, id AnnotationID) bool {
	if n.IsText() {
		_, ok := n.Attr(SuggestionKeyFor(id).String())
		return ok
	}
	data, ok := BlockSuggestion(n)
	return ok && data.ID == id
}

// HasStructuredComment reports whether any comment key on the leaf holds a
// thread object rather than a plain flag.
func HasStructuredComment(n *doc.Node) bool {
	for _, key := range Keys(n) {
		if key.Kind != KindComment {
			continue
		}
		value, _ := n.Attr(key.String())
		if _, ok := value.(map[string]any); ok {
			return true
		}
	}
	return false
}

// CommentAttrs marks a leaf as part of thread id.
func CommentAttrs(id AnnotationID) map[string]any {
	return map[string]any{
		CommentKey:                 true,
		CommentKeyFor(id).String(): true,
	}
}

func DraftAttrs() map[string]any {
	return map[string]any{
		CommentKey: true,
		DraftKey:   true,
	}
}

// UnsetCommentKeys lists the keys to remove so a leaf no longer belongs to
// thread id, including the generic flag when no other thread or draft
// remains on it.
func UnsetCommentKeys(n *doc.Node, id AnnotationID) []string {
	keys := []string{CommentKeyFor(id).String()}
	if !hasOtherComment(n, Key{Kind: KindComment, ID: id}) {
		keys = append(keys, CommentKey)
	}
	return keys
}

// UnsetDraftKeys is UnsetCommentKeys for the draft key.
func UnsetDraftKeys(n *doc.Node) []string {
	keys := []string{DraftKey}
	if !hasOtherComment(n, Key{Kind: KindDraft}) {
		keys = append(keys, CommentKey)
	}
	return keys
}

func hasOtherComment(n *doc.Node, except Key) bool {
	for _, key := range Keys(n) {
		if key == except {
			continue
		}
		if key.Kind == KindComment || key.Kind == KindDraft {
			return true
		}
	}
	return false
}

func sortIDs(ids []AnnotationID) []AnnotationID {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// UniqueIDs merges id lists, dropping duplicates, in sorted order.
func UniqueIDs(lists ...[]AnnotationID) []AnnotationID {
	seen := map[AnnotationID]struct{}{}
	var out []AnnotationID
	for _, list := range lists {
		for _, id := range list {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return sortIDs(out)
}
