package persist

import (
	"encoding/json"
	"testing"
	"time"

	"chronicle/annotations/internal/annotation"
)

func sampleState() annotation.State {
	created := annotation.At(time.Date(2024, 6, 1, 8, 30, 0, 0, time.UTC))
	updated := annotation.At(created.Add(time.Hour))
	return annotation.State{
		Comments: map[annotation.ID]annotation.CommentThread{
			"t1": {
				ID:                "t1",
				CreatedAt:         created,
				UpdatedAt:         &updated,
				DiscussionSubject: "quick fox",
				Messages: []annotation.CommentMessage{
					{ID: "m1", Body: "first", CreatedAt: created, AuthorName: "Ada"},
					{ID: "m2", Body: "second", CreatedAt: updated, UpdatedAt: &updated},
				},
			},
			"t2": {ID: "t2", CreatedAt: updated, IsResolved: true, Messages: []annotation.CommentMessage{{ID: "m3", Body: "done", CreatedAt: updated}}},
		},
		Suggestions: map[annotation.ID]annotation.StoredSuggestion{
			"s1": {ID: "s1", CreatedAt: created, Type: annotation.SuggestionReplace, UserID: "u1", Status: annotation.StatusPending},
		},
	}
}

func TestRoundTrip(t *testing.T) {
	state := sampleState()
	entries := ToEntries(map[string]annotation.State{"body": state, "empty": annotation.NewState()})
	if len(entries) != 1 || entries[0].Path != "body" {
		t.Fatalf("expected a single body entry, got %+v", entries)
	}
	if entries[0].Comments[0].ID != "t1" || entries[0].Comments[1].ID != "t2" {
		t.Fatalf("expected threads in creation order")
	}

	got := FromEntries(entries)
	if _, ok := got["empty"]; ok {
		t.Fatalf("expected empty field to be omitted")
	}
	if !annotation.StatesEqual(got["body"], state) {
		t.Fatalf("round trip mismatch: %+v", got["body"])
	}

	raw, err := json.Marshal(FieldValue{Entries: entries})
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	decoded, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if !EntriesEqual(decoded.Entries, entries) {
		t.Fatalf("expected JSON round trip to compare equal")
	}
	if !annotation.StatesEqual(FromEntries(decoded.Entries)["body"], state) {
		t.Fatalf("expected JSON round trip to preserve state")
	}
}

func TestFromEntriesSynthesizesIDs(t *testing.T) {
	entries := []Entry{
		{Path: "", Comments: []annotation.CommentThread{{ID: "lost"}}},
		{
			Path:        "sections.0.body",
			Comments:    []annotation.CommentThread{{Messages: []annotation.CommentMessage{{Body: "hi"}}}},
			Suggestions: []annotation.StoredSuggestion{{Type: annotation.SuggestionInsert}},
		},
	}
	got := FromEntries(entries)
	if len(got) != 1 {
		t.Fatalf("expected entry without path skipped, got %d fields", len(got))
	}
	state := got["sections.0.body"]
	thread, ok := state.Comments["sections.0.body-comment-0"]
	if !ok {
		t.Fatalf("expected synthesized thread id, got %+v", state.Comments)
	}
	if thread.Messages[0].ID != "sections.0.body-comment-0-message-0" {
		t.Fatalf("unexpected message id %q", thread.Messages[0].ID)
	}
	if _, ok := state.Suggestions["sections.0.body-suggestion-0"]; !ok {
		t.Fatalf("expected synthesized suggestion id")
	}
}

func TestEntriesEqual(t *testing.T) {
	a := ToEntries(map[string]annotation.State{"body": sampleState()})
	b := ToEntries(map[string]annotation.State{"body": sampleState()})
	if !EntriesEqual(a, b) {
		t.Fatalf("expected equal entries")
	}
	b[0].Comments[0].Messages[0].Body = "edited"
	if EntriesEqual(a, b) {
		t.Fatalf("expected edited entries to differ")
	}
	if !EntriesEqual(nil, []Entry{}) {
		t.Fatalf("expected nil and empty lists to compare equal")
	}
	if !EntriesEqual([]Entry{{Path: "x"}}, []Entry{{Path: "x", Comments: []annotation.CommentThread{}, Suggestions: []annotation.StoredSuggestion{}}}) {
		t.Fatalf("expected absent and empty record lists to compare equal")
	}
}
