package annotation

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestTimestampDecodesStringsAndMillis(t *testing.T) {
	want := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		raw  string
	}{
		{name: "rfc3339", raw: `"2024-03-01T12:00:00Z"`},
		{name: "offset", raw: `"2024-03-01T13:00:00+01:00"`},
		{name: "millis", raw: `1709294400000`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ts Timestamp
			if err := json.Unmarshal([]byte(tt.raw), &ts); err != nil {
				t.Fatalf("Unmarshal() error = %v", err)
			}
			if !ts.Time.Equal(want) {
				t.Fatalf("expected %s, got %s", want, ts.Time)
			}
		})
	}

	out, err := json.Marshal(At(want))
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if string(out) != `"2024-03-01T12:00:00Z"` {
		t.Fatalf("unexpected encoding %s", out)
	}
}

func TestNormalizeFillsIDs(t *testing.T) {
	state := State{
		Comments: map[ID]CommentThread{
			"t1": {Messages: []CommentMessage{{Body: "first"}, {ID: "kept", Body: "second"}}},
		},
		Suggestions: map[ID]StoredSuggestion{"s1": {}},
	}
	got := Normalize(state)
	thread := got.Comments["t1"]
	if thread.ID != "t1" {
		t.Fatalf("expected thread id from key, got %q", thread.ID)
	}
	if thread.Messages[0].ID != "t1-message-0" || thread.Messages[1].ID != "kept" {
		t.Fatalf("unexpected message ids %q %q", thread.Messages[0].ID, thread.Messages[1].ID)
	}
	if got.Suggestions["s1"].ID != "s1" {
		t.Fatalf("expected suggestion id from key")
	}
	if state.Comments["t1"].Messages[0].ID != "" {
		t.Fatalf("expected input to be left untouched")
	}
}

func TestStatesEqualComparesNestedMessages(t *testing.T) {
	created := At(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	base := State{
		Comments: map[ID]CommentThread{
			"t1": {ID: "t1", CreatedAt: created, Messages: []CommentMessage{{ID: "m1", Body: "hi", CreatedAt: created}}},
		},
	}
	same := base.Clone()
	if !StatesEqual(base, same) {
		t.Fatalf("expected clone to be equal")
	}

	changed := base.Clone()
	thread := changed.Comments["t1"]
	thread.Messages[0].Body = "hello"
	changed.Comments["t1"] = thread
	if StatesEqual(base, changed) {
		t.Fatalf("expected message body change to be detected")
	}
	if base.Comments["t1"].Messages[0].Body != "hi" {
		t.Fatalf("expected clone to deep copy messages")
	}

	if !StatesEqual(State{}, NewState()) {
		t.Fatalf("expected nil and empty maps to compare equal")
	}
}

func TestMergeSubject(t *testing.T) {
	tests := []struct {
		name      string
		base      string
		highlight string
		limit     int
		want      string
	}{
		{name: "empty base", base: "", highlight: "  quick\n fox ", want: "quick fox"},
		{name: "appends", base: "The quick", highlight: "brown fox", want: "The quick brown fox"},
		{name: "contained ignoring case", base: "The Quick brown", highlight: "quick", want: "The Quick brown"},
		{name: "truncates", base: "abcdef", highlight: "ghij", limit: 8, want: "abcdef g"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MergeSubject(tt.base, tt.highlight, tt.limit); got != tt.want {
				t.Fatalf("MergeSubject() = %q, want %q", got, tt.want)
			}
		})
	}

	long := strings.Repeat("x", DefaultSubjectLimit)
	once := MergeSubject(long, "tail", DefaultSubjectLimit)
	if once != MergeSubject(once, "tail", DefaultSubjectLimit) {
		t.Fatalf("expected truncated merge to be stable")
	}
}

func TestSortedThreadsCreationOrder(t *testing.T) {
	early := At(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	late := At(time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC))
	sorted := SortedThreads(map[ID]CommentThread{
		"b": {ID: "b", CreatedAt: late},
		"c": {ID: "c", CreatedAt: early},
		"a": {ID: "a", CreatedAt: late},
	})
	var ids []string
	for _, thread := range sorted {
		ids = append(ids, string(thread.ID))
	}
	if strings.Join(ids, ",") != "c,a,b" {
		t.Fatalf("unexpected order %v", ids)
	}
}
