package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"chronicle/annotations/internal/annotation"
	"chronicle/annotations/internal/persist"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	db, err := Open(ctx, DriverSQLite, ":memory:")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := ApplyMigrations(ctx, db); err != nil {
		t.Fatalf("ApplyMigrations() error = %v", err)
	}
	s := New(db)
	clock := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	s.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return s
}

func TestApplyMigrationsIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if err := ApplyMigrations(ctx, s.DB()); err != nil {
		t.Fatalf("second ApplyMigrations() error = %v", err)
	}
	versions, err := AppliedMigrations(ctx, s.DB())
	if err != nil {
		t.Fatalf("AppliedMigrations() error = %v", err)
	}
	if len(versions) != 1 || versions[0] != "0001_annotations.up.sql" {
		t.Fatalf("unexpected versions %v", versions)
	}
}

func TestDocumentLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	created, err := s.CreateDocument(ctx, "  ", "ada")
	if err != nil {
		t.Fatalf("CreateDocument() error = %v", err)
	}
	if created.Title != "Untitled" {
		t.Fatalf("expected default title, got %q", created.Title)
	}
	got, err := s.GetDocument(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetDocument() error = %v", err)
	}
	if !got.CreatedAt.Equal(created.CreatedAt) || got.CreatedBy != "ada" {
		t.Fatalf("unexpected document %+v", got)
	}

	second, _ := s.CreateDocument(ctx, "Second", "grace")
	if err := s.TouchDocument(ctx, created.ID, "grace"); err != nil {
		t.Fatalf("TouchDocument() error = %v", err)
	}
	items, err := s.ListDocuments(ctx)
	if err != nil {
		t.Fatalf("ListDocuments() error = %v", err)
	}
	if len(items) != 2 || items[0].ID != created.ID || items[1].ID != second.ID {
		t.Fatalf("expected touched document first, got %+v", items)
	}

	if _, err := s.GetDocument(ctx, "doc_missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := s.TouchDocument(ctx, "doc_missing", "x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on touch, got %v", err)
	}
}

func TestFieldContentsUpsert(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	item, _ := s.CreateDocument(ctx, "Doc", "ada")

	if err := s.SaveFieldContent(ctx, item.ID, "body", json.RawMessage(`[{"type":"p","children":[{"text":"a"}]}]`)); err != nil {
		t.Fatalf("SaveFieldContent() error = %v", err)
	}
	if err := s.SaveFieldContent(ctx, item.ID, "body", json.RawMessage(`[{"type":"p","children":[{"text":"b"}]}]`)); err != nil {
		t.Fatalf("SaveFieldContent() update error = %v", err)
	}
	if err := s.SaveFieldContent(ctx, item.ID, "abstract", json.RawMessage(`[]`)); err != nil {
		t.Fatalf("SaveFieldContent() error = %v", err)
	}
	if err := s.SaveFieldContent(ctx, item.ID, "bad", json.RawMessage(`{`)); err == nil {
		t.Fatalf("expected invalid json rejected")
	}

	fields, err := s.LoadFieldContents(ctx, item.ID)
	if err != nil {
		t.Fatalf("LoadFieldContents() error = %v", err)
	}
	if len(fields) != 2 || fields[0].Path != "abstract" || fields[1].Path != "body" {
		t.Fatalf("unexpected fields %+v", fields)
	}
	if string(fields[1].Content) != `[{"type":"p","children":[{"text":"b"}]}]` {
		t.Fatalf("expected updated content, got %s", fields[1].Content)
	}
}

func TestHostFieldRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	item, _ := s.CreateDocument(ctx, "Doc", "ada")
	host := s.HostField(item.ID)

	empty, err := host.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(empty.Entries) != 0 {
		t.Fatalf("expected empty value, got %+v", empty)
	}

	created := annotation.At(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC))
	value := persist.FieldValue{Entries: []persist.Entry{{
		Path: "body",
		Comments: []annotation.CommentThread{{
			ID:        "t1",
			CreatedAt: created,
			Messages:  []annotation.CommentMessage{{ID: "m1", Body: "hello", CreatedAt: created, AuthorName: "Ada"}},
		}},
	}}}
	if err := host.Save(ctx, value); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := host.Save(ctx, value); err != nil {
		t.Fatalf("second Save() error = %v", err)
	}
	loaded, err := host.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !persist.EntriesEqual(value.Entries, loaded.Entries) {
		t.Fatalf("round trip mismatch: %+v", loaded.Entries)
	}
}
