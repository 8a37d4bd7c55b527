package logger

import "testing"

func TestSanitizeKVsRedactsCredentials(t *testing.T) {
	got := sanitizeKVs([]interface{}{"session_token", "abc", "documentId", "doc_1", "dangling"})
	want := []interface{}{"session_token", "[REDACTED]", "documentId", "doc_1", "dangling"}
	if len(got) != len(want) {
		t.Fatalf("expected %d values, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("value %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	if _, err := New("dev", "loud"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
	l, err := New("prod", "warn")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	l.With("component", "test").Info("ignored below warn")
}
