// Package persist converts between per-field annotation state and the
// path-keyed entry list stored in the host document.
package persist

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"chronicle/annotations/internal/annotation"
)

type Entry struct {
	Path        string                        `json:"path"`
	Comments    []annotation.CommentThread    `json:"comments"`
	Suggestions []annotation.StoredSuggestion `json:"suggestions"`
}

// FieldValue is the persisted value of the host annotations field.
type FieldValue struct {
	Entries []Entry `json:"entries"`
}

// ToEntries serializes per-field states. Fields with no records are left
// out, entries are sorted by path and records within an entry are in
// creation order.
func ToEntries(states map[string]annotation.State) []Entry {
	entries := make([]Entry, 0, len(states))
	for path, state := range states {
		if state.IsEmpty() {
			continue
		}
		entries = append(entries, Entry{
			Path:        path,
			Comments:    cloneThreads(annotation.SortedThreads(state.Comments)),
			Suggestions: cloneSuggestions(annotation.SortedSuggestions(state.Suggestions)),
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries
}

// FromEntries rebuilds per-field states. Entries without a path are
// skipped; records without an id are keyed "<path>-comment-<i>" or
// "<path>-suggestion-<i>".
func FromEntries(entries []Entry) map[string]annotation.State {
	out := map[string]annotation.State{}
	for _, entry := range entries {
		if entry.Path == "" {
			continue
		}
		state, ok := out[entry.Path]
		if !ok {
			state = annotation.NewState()
		}
		for i, thread := range entry.Comments {
			id := thread.ID
			if id == "" {
				id = annotation.ID(fmt.Sprintf("%s-comment-%d", entry.Path, i))
			}
			thread = thread.Clone()
			thread.ID = id
			state.Comments[id] = thread
		}
		for i, suggestion := range entry.Suggestions {
			id := suggestion.ID
			if id == "" {
				id = annotation.ID(fmt.Sprintf("%s-suggestion-%d", entry.Path, i))
			}
			suggestion = suggestion.Clone()
			suggestion.ID = id
			state.Suggestions[id] = suggestion
		}
		if state.IsEmpty() {
			continue
		}
		out[entry.Path] = annotation.Normalize(state)
	}
	return out
}

// EntriesEqual compares two entry lists by their serialized form.
func EntriesEqual(a, b []Entry) bool {
	left, err := json.Marshal(normalizeEntries(a))
	if err != nil {
		return false
	}
	right, err := json.Marshal(normalizeEntries(b))
	if err != nil {
		return false
	}
	return bytes.Equal(left, right)
}

// normalizeEntries makes absent and empty lists serialize alike.
func normalizeEntries(entries []Entry) []Entry {
	out := make([]Entry, len(entries))
	for i, entry := range entries {
		if entry.Comments == nil {
			entry.Comments = []annotation.CommentThread{}
		} else {
			comments := make([]annotation.CommentThread, len(entry.Comments))
			for j, thread := range entry.Comments {
				if thread.Messages == nil {
					thread.Messages = []annotation.CommentMessage{}
				}
				comments[j] = thread
			}
			entry.Comments = comments
		}
		if entry.Suggestions == nil {
			entry.Suggestions = []annotation.StoredSuggestion{}
		}
		out[i] = entry
	}
	return out
}

// Decode parses a stored field value. An empty document is an empty value.
func Decode(raw []byte) (FieldValue, error) {
	var value FieldValue
	if len(bytes.TrimSpace(raw)) == 0 {
		return value, nil
	}
	if err := json.Unmarshal(raw, &value); err != nil {
		return FieldValue{}, fmt.Errorf("decode annotations field: %w", err)
	}
	return value, nil
}

func cloneThreads(threads []annotation.CommentThread) []annotation.CommentThread {
	out := make([]annotation.CommentThread, len(threads))
	for i, thread := range threads {
		out[i] = thread.Clone()
	}
	return out
}

func cloneSuggestions(suggestions []annotation.StoredSuggestion) []annotation.StoredSuggestion {
	out := make([]annotation.StoredSuggestion, len(suggestions))
	for i, suggestion := range suggestions {
		out[i] = suggestion.Clone()
	}
	return out
}
