package search

import (
	"sort"
	"strings"

	"chronicle/annotations/internal/annotation"
	"chronicle/annotations/internal/suggest"
)

// Records builds the index records for every field state of a document.
// diffs supplies the text of pending suggestions by field path; a
// suggestion without a diff is indexed with an empty body.
func Records(documentID string, states map[string]annotation.State, diffs map[string]map[annotation.ID]suggest.Diff) []Record {
	paths := make([]string, 0, len(states))
	for path := range states {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	records := make([]Record, 0)
	for _, path := range paths {
		state := states[path]
		for _, thread := range annotation.SortedThreads(state.Comments) {
			if thread.IsEmpty() {
				continue
			}
			records = append(records, threadRecord(documentID, path, thread))
		}
		for _, s := range annotation.SortedSuggestions(state.Suggestions) {
			var diff *suggest.Diff
			if d, ok := diffs[path][s.ID]; ok {
				diff = &d
			}
			records = append(records, suggestionRecord(documentID, path, s, diff))
		}
	}
	return records
}

func threadRecord(documentID, path string, thread annotation.CommentThread) Record {
	bodies := make([]string, 0, len(thread.Messages))
	for _, message := range thread.Messages {
		bodies = append(bodies, message.Body)
	}
	status := "open"
	if thread.IsResolved {
		status = "resolved"
	}
	return Record{
		Key:        RecordKey(documentID, path, string(thread.ID)),
		RecordID:   string(thread.ID),
		Kind:       KindThread,
		DocumentID: documentID,
		FieldPath:  path,
		Title:      firstNonBlank(thread.DiscussionSubject, thread.DocumentContent),
		Body:       strings.Join(bodies, "\n"),
		Author:     thread.Messages[0].AuthorName,
		Status:     status,
		CreatedAt:  thread.CreatedAt.String(),
	}
}

func suggestionRecord(documentID, path string, s annotation.StoredSuggestion, diff *suggest.Diff) Record {
	var body []string
	if diff != nil {
		if diff.InsertedText != "" {
			body = append(body, "+ "+diff.InsertedText)
		}
		if diff.DeletedText != "" {
			body = append(body, "- "+diff.DeletedText)
		}
	}
	status := string(s.Status)
	if status == "" {
		status = string(annotation.StatusPending)
	}
	return Record{
		Key:        RecordKey(documentID, path, string(s.ID)),
		RecordID:   string(s.ID),
		Kind:       KindSuggestion,
		DocumentID: documentID,
		FieldPath:  path,
		Title:      string(s.Type),
		Body:       strings.Join(body, "\n"),
		Author:     s.UserName,
		Status:     status,
		CreatedAt:  s.CreatedAt.String(),
	}
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
