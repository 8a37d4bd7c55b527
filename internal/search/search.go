package search

import (
	"strings"
)

// Kind identifies the kind of annotation in a search result.
type Kind string

const (
	KindThread     Kind = "thread"
	KindSuggestion Kind = "suggestion"
)

// Record is one indexed annotation: a comment thread or a suggestion of a
// document field.
type Record struct {
	Key        string `json:"key"`
	RecordID   string `json:"recordId"`
	Kind       Kind   `json:"kind"`
	DocumentID string `json:"documentId"`
	FieldPath  string `json:"fieldPath"`
	Title      string `json:"title"`
	Body       string `json:"body"`
	Author     string `json:"author"`
	Status     string `json:"status"`
	CreatedAt  string `json:"createdAt"`
}

// Result is a single search hit returned to the caller.
type Result struct {
	Kind       Kind   `json:"kind"`
	ID         string `json:"id"`
	DocumentID string `json:"documentId"`
	FieldPath  string `json:"fieldPath"`
	Title      string `json:"title"`
	Snippet    string `json:"snippet"`
	Status     string `json:"status"`
}

type Query struct {
	Text       string
	Kind       Kind // empty = all kinds
	DocumentID string
	Limit      int
	Offset     int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// RecordKey is the index primary key of an annotation. Meilisearch keys
// only allow alphanumerics, '-' and '_'.
func RecordKey(documentID, fieldPath, recordID string) string {
	return sanitizeKey(documentID) + "__" + sanitizeKey(fieldPath) + "__" + sanitizeKey(recordID)
}

func sanitizeKey(value string) string {
	var b strings.Builder
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

func (q Query) limit() int {
	if q.Limit <= 0 {
		return 20
	}
	return q.Limit
}

func (q Query) offset() int {
	if q.Offset < 0 {
		return 0
	}
	return q.Offset
}
