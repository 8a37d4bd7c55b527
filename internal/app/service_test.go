package app

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"chronicle/annotations/internal/annotate"
	"chronicle/annotations/internal/config"
	"chronicle/annotations/internal/doc"
	"chronicle/annotations/internal/identity"
	"chronicle/annotations/internal/marks"
	"chronicle/annotations/internal/search"
	"chronicle/annotations/internal/session"
	"chronicle/annotations/internal/store"
)

func withUser(name string) context.Context {
	return identity.NewContext(context.Background(), &identity.User{ID: "user_" + slug(name), Name: name})
}

func TestSaveStampsSuggestionAuthors(t *testing.T) {
	env := newTestEnv(t)
	ctx := withUser("Ada")
	suggested := doc.NewText("new", marks.SuggestionAttrs(marks.SuggestionData{ID: "s1", Type: marks.OpInsert}))
	content, _ := json.Marshal([]*doc.Node{doc.NewElement("p", doc.NewText("a ", nil), suggested)})

	created, err := env.service.CreateDocument(ctx, "Draft", map[string]json.RawMessage{"body": content})
	if err != nil {
		t.Fatalf("CreateDocument() error = %v", err)
	}
	if _, err := env.service.Save(ctx, created.ID, ""); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	contents, err := env.store.LoadFieldContents(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("LoadFieldContents() error = %v", err)
	}
	if len(contents) != 1 || !strings.Contains(string(contents[0].Content), `"userName":"Ada"`) {
		t.Fatalf("expected stored suggestion stamped with Ada, got %+v", contents)
	}

	view, err := env.service.GetDocument(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetDocument() error = %v", err)
	}
	if strings.Contains(string(view.Fields[0].Content), "userName") {
		t.Fatalf("expected live tree left untouched, got %s", view.Fields[0].Content)
	}
}

func TestReopenHydratesFromStore(t *testing.T) {
	env := newTestEnv(t)
	ctx := withUser("Ada")
	created, err := env.service.CreateDocument(ctx, "Notes", map[string]json.RawMessage{"body": paragraph("hello world")})
	if err != nil {
		t.Fatalf("CreateDocument() error = %v", err)
	}
	if _, err := env.service.StartDraft(ctx, created.ID, "body", doc.Range{
		Anchor: doc.Point{Path: doc.Path{0, 0}, Offset: 0},
		Focus:  doc.Point{Path: doc.Path{0, 0}, Offset: 5},
	}); err != nil {
		t.Fatalf("StartDraft() error = %v", err)
	}
	result, err := env.service.SubmitDraft(ctx, created.ID, "body", "kept across restarts")
	if err != nil {
		t.Fatalf("SubmitDraft() error = %v", err)
	}
	if _, err := env.service.Save(ctx, created.ID, "comment"); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	env.service.Close()
	thread, err := env.service.Thread(ctx, created.ID, "body", result.ThreadID)
	if err != nil {
		t.Fatalf("Thread() after reopen error = %v", err)
	}
	if thread.Messages[0].Body != "kept across restarts" || thread.Messages[0].AuthorName != "Ada" {
		t.Fatalf("unexpected thread after reopen %+v", thread)
	}
}

func TestSaveMidDraftDropsDraftHighlight(t *testing.T) {
	env := newTestEnv(t)
	ctx := withUser("Ada")
	created, err := env.service.CreateDocument(ctx, "Notes", map[string]json.RawMessage{"body": paragraph("hello world")})
	if err != nil {
		t.Fatalf("CreateDocument() error = %v", err)
	}
	if _, err := env.service.StartDraft(ctx, created.ID, "body", doc.Range{
		Anchor: doc.Point{Path: doc.Path{0, 0}, Offset: 0},
		Focus:  doc.Point{Path: doc.Path{0, 0}, Offset: 5},
	}); err != nil {
		t.Fatalf("StartDraft() error = %v", err)
	}
	if _, err := env.service.Save(ctx, created.ID, ""); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	contents, err := env.store.LoadFieldContents(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("LoadFieldContents() error = %v", err)
	}
	if strings.Contains(string(contents[0].Content), marks.DraftKey) {
		t.Fatalf("expected draft marks left out of stored content, got %s", contents[0].Content)
	}

	env.service.Close()
	view, err := env.service.GetDocument(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetDocument() error = %v", err)
	}
	if view.Fields[0].Drafting || strings.Contains(string(view.Fields[0].Content), marks.DraftKey) {
		t.Fatalf("expected no draft after reopen, got %+v", view.Fields[0])
	}
}

func TestAnnotationChangesWaitForSave(t *testing.T) {
	env := newTestEnv(t)
	ctx := withUser("Ada")
	created, err := env.service.CreateDocument(ctx, "Notes", map[string]json.RawMessage{"body": paragraph("hello world")})
	if err != nil {
		t.Fatalf("CreateDocument() error = %v", err)
	}
	if _, err := env.service.StartDraft(ctx, created.ID, "body", doc.Range{
		Anchor: doc.Point{Path: doc.Path{0, 0}, Offset: 6},
		Focus:  doc.Point{Path: doc.Path{0, 0}, Offset: 11},
	}); err != nil {
		t.Fatalf("StartDraft() error = %v", err)
	}
	if _, err := env.service.SubmitDraft(ctx, created.ID, "body", "pending"); err != nil {
		t.Fatalf("SubmitDraft() error = %v", err)
	}

	view, err := env.service.GetDocument(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetDocument() error = %v", err)
	}
	if !view.Dirty || len(view.Annotations) != 1 {
		t.Fatalf("expected settled thread in the form and unsaved, got %+v", view)
	}
	stored, err := env.store.LoadAnnotationField(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("LoadAnnotationField() error = %v", err)
	}
	if len(stored.Entries) != 0 {
		t.Fatalf("expected nothing stored before save, got %+v", stored.Entries)
	}

	saved, err := env.service.Save(ctx, created.ID, "")
	if err != nil || !saved.Flushed {
		t.Fatalf("Save() = %+v, %v", saved, err)
	}
	view, _ = env.service.GetDocument(ctx, created.ID)
	if view.Dirty {
		t.Fatalf("expected clean document after save")
	}
}

func TestUnsavedChangesAreNotPersisted(t *testing.T) {
	env := newTestEnv(t)
	ctx := withUser("Ada")
	created, err := env.service.CreateDocument(ctx, "Notes", map[string]json.RawMessage{"body": paragraph("hello world")})
	if err != nil {
		t.Fatalf("CreateDocument() error = %v", err)
	}
	if _, err := env.service.ApplyEdit(ctx, created.ID, "body", annotate.Edit{
		Kind:  annotate.EditInsertText,
		Range: doc.Range{Anchor: doc.Point{Path: doc.Path{0, 0}, Offset: 5}, Focus: doc.Point{Path: doc.Path{0, 0}, Offset: 5}},
		Text:  ",",
	}); err != nil {
		t.Fatalf("ApplyEdit() error = %v", err)
	}

	contents, err := env.store.LoadFieldContents(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("LoadFieldContents() error = %v", err)
	}
	if strings.Contains(string(contents[0].Content), "hello,") {
		t.Fatalf("expected edit kept in memory until save, got %s", contents[0].Content)
	}

	saved, err := env.service.Save(ctx, created.ID, "")
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if saved.Flushed {
		t.Fatalf("expected no annotations flush for a plain edit")
	}
	if !saved.Committed || saved.Commit.Message != "Save document" {
		t.Fatalf("unexpected save result %+v", saved)
	}
}

func TestPutFieldKeepsAnnotations(t *testing.T) {
	env := newTestEnv(t)
	ctx := withUser("Ada")
	created, err := env.service.CreateDocument(ctx, "Notes", map[string]json.RawMessage{"body": paragraph("hello world")})
	if err != nil {
		t.Fatalf("CreateDocument() error = %v", err)
	}
	rng := doc.Range{Anchor: doc.Point{Path: doc.Path{0, 0}, Offset: 6}, Focus: doc.Point{Path: doc.Path{0, 0}, Offset: 11}}
	if _, err := env.service.StartDraft(ctx, created.ID, "body", rng); err != nil {
		t.Fatalf("StartDraft() error = %v", err)
	}
	result, err := env.service.SubmitDraft(ctx, created.ID, "body", "which world?")
	if err != nil {
		t.Fatalf("SubmitDraft() error = %v", err)
	}

	replaced, _ := json.Marshal([]*doc.Node{doc.NewElement("p",
		doc.NewText("goodbye ", nil),
		doc.NewText("world", marks.CommentAttrs(result.ThreadID)),
	)})
	view, err := env.service.PutField(ctx, created.ID, "body", replaced)
	if err != nil {
		t.Fatalf("PutField() error = %v", err)
	}
	if len(view.Threads) != 1 || view.Threads[0].ID != result.ThreadID {
		t.Fatalf("expected thread to survive content replacement, got %+v", view.Threads)
	}

	if _, err := env.service.PutField(ctx, created.ID, "body", json.RawMessage(`{"not":"nodes"`)); err == nil {
		t.Fatalf("expected invalid content rejected")
	}
}

func TestServiceErrorsMapToDomainErrors(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, err := env.service.GetDocument(ctx, "doc_missing")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if mapped := toDomainError(err); mapped == nil || mapped.Status != 404 {
		t.Fatalf("unexpected mapping %+v", mapped)
	}
	if toDomainError(errors.New("boom")) != nil {
		t.Fatalf("expected unknown errors left unmapped")
	}
}

func TestReindexRequiresSearch(t *testing.T) {
	service := New(config.Config{SubjectLimit: 500}, Deps{})
	if _, err := service.Reindex(context.Background()); toDomainError(err) == nil {
		t.Fatalf("expected domain error without search, got %v", err)
	}
	if res := service.Search(context.Background(), search.Query{Text: "x"}); len(res.Results) != 0 {
		t.Fatalf("expected empty results without search")
	}
}

func newSessionService(t *testing.T, cfg config.Config) (*Service, *miniredis.Miniredis, *time.Time) {
	t.Helper()
	mr := miniredis.RunT(t)
	sessions, err := session.NewRedisStore("redis://"+mr.Addr(), time.Minute)
	if err != nil {
		t.Fatalf("NewRedisStore() error = %v", err)
	}
	t.Cleanup(func() { _ = sessions.Close() })
	service := New(cfg, Deps{Sessions: sessions})
	clock := time.Date(2024, 7, 1, 9, 0, 0, 0, time.UTC)
	service.now = func() time.Time { return clock }
	return service, mr, &clock
}

func TestExpiredSessionStopsAuthenticating(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.Config
	}{
		{name: "uncached", cfg: config.Config{SubjectLimit: 500, SessionTTL: 60}},
		{name: "cached", cfg: config.Config{SubjectLimit: 500, SessionTTL: 60, IdentityCacheTTL: 30}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service, mr, clock := newSessionService(t, tt.cfg)
			ctx := context.Background()
			created, err := service.Login(ctx, "Ada")
			if err != nil {
				t.Fatalf("Login() error = %v", err)
			}
			user, err := service.CurrentUser(ctx, created.Token)
			if err != nil || user == nil || user.Name != "Ada" {
				t.Fatalf("CurrentUser() = %+v, %v", user, err)
			}

			mr.FastForward(2 * time.Minute)
			*clock = clock.Add(2 * time.Minute)

			user, err = service.CurrentUser(ctx, created.Token)
			if err != nil {
				t.Fatalf("CurrentUser() error = %v", err)
			}
			if user != nil {
				t.Fatalf("expired session still authenticates as %q", user.Name)
			}
			if len(service.users) != 0 {
				t.Fatalf("expected no cached users left, got %d", len(service.users))
			}
		})
	}
}

func TestIdentityCacheEvictsExpiredTokens(t *testing.T) {
	service, _, clock := newSessionService(t, config.Config{SubjectLimit: 500, SessionTTL: 60, IdentityCacheTTL: 30})
	ctx := context.Background()
	first, err := service.Login(ctx, "Ada")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if _, err := service.CurrentUser(ctx, first.Token); err != nil {
		t.Fatalf("CurrentUser() error = %v", err)
	}
	if len(service.users) != 1 {
		t.Fatalf("expected one cached user, got %d", len(service.users))
	}

	*clock = clock.Add(31 * time.Second)
	second, err := service.Login(ctx, "Grace")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	user, err := service.CurrentUser(ctx, second.Token)
	if err != nil || user == nil || user.Name != "Grace" {
		t.Fatalf("CurrentUser() = %+v, %v", user, err)
	}
	if _, ok := service.users[first.Token]; ok {
		t.Fatalf("expected expired entry for the first token evicted")
	}
	if len(service.users) != 1 {
		t.Fatalf("expected only the fresh entry cached, got %d", len(service.users))
	}
}
