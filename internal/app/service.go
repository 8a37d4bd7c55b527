package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"chronicle/annotations/internal/annotate"
	"chronicle/annotations/internal/annotation"
	"chronicle/annotations/internal/config"
	"chronicle/annotations/internal/doc"
	"chronicle/annotations/internal/export"
	"chronicle/annotations/internal/gitrepo"
	"chronicle/annotations/internal/identity"
	"chronicle/annotations/internal/logger"
	"chronicle/annotations/internal/persist"
	"chronicle/annotations/internal/search"
	"chronicle/annotations/internal/store"
	"chronicle/annotations/internal/suggest"
)

type dataStore interface {
	CreateDocument(context.Context, string, string) (store.Document, error)
	GetDocument(context.Context, string) (store.Document, error)
	ListDocuments(context.Context) ([]store.Document, error)
	TouchDocument(context.Context, string, string) error
	SaveFieldContent(context.Context, string, string, json.RawMessage) error
	LoadFieldContents(context.Context, string) ([]store.FieldContent, error)
	HostField(string) *store.HostField
	Ping(context.Context) error
}

type gitService interface {
	EnsureDocumentRepo(string, gitrepo.Content, string) error
	CommitContent(string, gitrepo.Content, string, string) (gitrepo.CommitInfo, bool, error)
	GetHeadContent(string) (gitrepo.Content, gitrepo.CommitInfo, error)
	GetContentByHash(string, string) (gitrepo.Content, error)
	History(string, int) ([]gitrepo.CommitInfo, error)
}

type sessionStore interface {
	identity.SessionLookup
	CreateSession(context.Context, identity.User) (string, error)
	RevokeSession(context.Context, string) error
}

// Deps are the collaborators of the service. Search and Export may be nil.
type Deps struct {
	Store    *store.Store
	Git      *gitrepo.Service
	Search   *search.Service
	Export   *export.Service
	Sessions sessionStore
	Log      *logger.Logger
}

// Session is an issued session token with its user.
type Session struct {
	Token string        `json:"token"`
	User  identity.User `json:"user"`
}

// openDocument is a document loaded into memory: its field editors, the
// unsaved form of its annotations field and the workspace writing into
// that form. mu serializes every operation on the document.
type openDocument struct {
	mu        sync.Mutex
	id        string
	title     string
	form      *documentForm
	workspace *annotate.Workspace
	editors   map[string]*doc.Editor
}

type Service struct {
	cfg      config.Config
	store    dataStore
	git      gitService
	search   *search.Service
	export   *export.Service
	sessions sessionStore
	log      *logger.Logger
	now      func() time.Time

	docsMu sync.Mutex
	docs   map[string]*openDocument

	usersMu sync.Mutex
	users   map[string]cachedUser
}

// cachedUser is the identity cache of one token. A new cache replaces it
// once expires passes, so the session is looked up in Redis again.
type cachedUser struct {
	cache   *identity.Cache
	expires time.Time
}

func New(cfg config.Config, deps Deps) *Service {
	log := deps.Log
	if log == nil {
		log = logger.Nop()
	}
	return &Service{
		cfg:      cfg,
		store:    deps.Store,
		git:      deps.Git,
		search:   deps.Search,
		export:   deps.Export,
		sessions: deps.Sessions,
		log:      log,
		now:      time.Now,
		docs:     make(map[string]*openDocument),
		users:    make(map[string]cachedUser),
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Close releases every open document without flushing it.
func (s *Service) Close() {
	s.docsMu.Lock()
	defer s.docsMu.Unlock()
	for id, d := range s.docs {
		d.mu.Lock()
		d.workspace.Close()
		d.mu.Unlock()
		delete(s.docs, id)
	}
}

func (s *Service) Login(ctx context.Context, name string) (Session, error) {
	userName := strings.TrimSpace(name)
	if userName == "" {
		userName = "User"
	}
	user := identity.User{ID: "user_" + slug(userName), Name: userName}
	token, err := s.sessions.CreateSession(ctx, user)
	if err != nil {
		return Session{}, err
	}
	s.log.Info("session created", "userId", user.ID)
	return Session{Token: token, User: user}, nil
}

// Logout revokes the session and drops its cached user.
func (s *Service) Logout(ctx context.Context, token string) error {
	if err := s.sessions.RevokeSession(ctx, token); err != nil {
		return err
	}
	s.usersMu.Lock()
	if entry, ok := s.users[token]; ok {
		entry.cache.Invalidate()
		delete(s.users, token)
	}
	s.usersMu.Unlock()
	return nil
}

// CurrentUser resolves token to its user. Resolved users are reused for
// at most identityTTL, never longer than the session TTL. An unknown or
// expired token yields a nil user.
func (s *Service) CurrentUser(ctx context.Context, token string) (*identity.User, error) {
	if token == "" {
		return nil, nil
	}
	provider := identity.SessionProvider{Sessions: s.sessions, Token: token}
	ttl := s.identityTTL()
	if ttl <= 0 {
		return provider.CurrentUser(ctx)
	}

	now := s.now()
	s.usersMu.Lock()
	entry, ok := s.users[token]
	if !ok || !now.Before(entry.expires) {
		s.evictExpiredLocked(now)
		entry = cachedUser{cache: identity.NewCache(provider), expires: now.Add(ttl)}
		s.users[token] = entry
	}
	s.usersMu.Unlock()

	user, err := entry.cache.CurrentUser(ctx)
	if err != nil {
		return nil, err
	}
	if user == nil {
		s.usersMu.Lock()
		if current, ok := s.users[token]; ok && current.cache == entry.cache {
			delete(s.users, token)
		}
		s.usersMu.Unlock()
	}
	return user, nil
}

func (s *Service) identityTTL() time.Duration {
	ttl := time.Duration(s.cfg.IdentityCacheTTL) * time.Second
	if session := time.Duration(s.cfg.SessionTTL) * time.Second; session > 0 && session < ttl {
		ttl = session
	}
	return ttl
}

func (s *Service) evictExpiredLocked(now time.Time) {
	for token, entry := range s.users {
		if !now.Before(entry.expires) {
			delete(s.users, token)
		}
	}
}

type DocumentSummary struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	UpdatedBy string    `json:"updatedBy"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// FieldView is one field as the editor renders it.
type FieldView struct {
	Path     string                     `json:"path"`
	Content  json.RawMessage            `json:"content"`
	Threads     []annotation.CommentThread `json:"threads"`
	Suggestions []annotate.SuggestionView  `json:"suggestions"`
	Drafting    bool                       `json:"drafting"`
}

type DocumentView struct {
	DocumentSummary
	Fields      []FieldView     `json:"fields"`
	Annotations []persist.Entry `json:"annotations"`
	Dirty       bool            `json:"dirty"`
}

func (s *Service) ListDocuments(ctx context.Context) ([]DocumentSummary, error) {
	documents, err := s.store.ListDocuments(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]DocumentSummary, 0, len(documents))
	for _, item := range documents {
		items = append(items, summaryOf(item))
	}
	return items, nil
}

// CreateDocument stores a new document with the given field contents and
// records it as the first version of its history.
func (s *Service) CreateDocument(ctx context.Context, title string, fields map[string]json.RawMessage) (DocumentView, error) {
	author := userName(ctx)
	for path, raw := range fields {
		if strings.TrimSpace(path) == "" {
			return DocumentView{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Field path is required", nil)
		}
		if _, err := doc.ParseNodes(raw); err != nil {
			return DocumentView{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Invalid field content", map[string]any{"field": path})
		}
	}

	created, err := s.store.CreateDocument(ctx, title, author)
	if err != nil {
		return DocumentView{}, err
	}
	for _, path := range sortedPaths(fields) {
		if err := s.store.SaveFieldContent(ctx, created.ID, path, fields[path]); err != nil {
			return DocumentView{}, err
		}
	}
	initial := gitrepo.Content{Title: created.Title, Fields: fields}
	if initial.Fields == nil {
		initial.Fields = map[string]json.RawMessage{}
	}
	if err := s.git.EnsureDocumentRepo(created.ID, initial, gitAuthor(author)); err != nil {
		return DocumentView{}, err
	}
	s.log.Info("document created", "documentId", created.ID, "fields", len(fields))
	return s.GetDocument(ctx, created.ID)
}

// GetDocument opens the document when needed and returns its live view.
func (s *Service) GetDocument(ctx context.Context, documentID string) (DocumentView, error) {
	d, err := s.open(ctx, documentID)
	if err != nil {
		return DocumentView{}, err
	}
	meta, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return DocumentView{}, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	view := DocumentView{
		DocumentSummary: summaryOf(meta),
		Fields:          make([]FieldView, 0, len(d.editors)),
		Annotations:     d.workspace.Entries(),
		Dirty:           d.form.Dirty(),
	}
	for _, path := range d.workspace.Paths() {
		f, _ := d.workspace.Field(path)
		fieldView, err := d.fieldView(f)
		if err != nil {
			return DocumentView{}, err
		}
		view.Fields = append(view.Fields, fieldView)
	}
	return view, nil
}

// PutField replaces the content of the field at path. The annotations of
// the field survive and are reconciled against the new tree.
func (s *Service) PutField(ctx context.Context, documentID, path string, content json.RawMessage) (FieldView, error) {
	if strings.TrimSpace(path) == "" {
		return FieldView{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Field path is required", nil)
	}
	editor, err := doc.Parse(content)
	if err != nil {
		return FieldView{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Invalid field content", nil)
	}
	d, err := s.open(ctx, documentID)
	if err != nil {
		return FieldView{}, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.workspace.Unmount(path)
	d.editors[path] = editor
	f := d.workspace.Mount(path, editor)
	return d.fieldView(f)
}

// open returns the in-memory document, loading it on first use.
func (s *Service) open(ctx context.Context, documentID string) (*openDocument, error) {
	s.docsMu.Lock()
	defer s.docsMu.Unlock()
	if d, ok := s.docs[documentID]; ok {
		return d, nil
	}

	meta, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	contents, err := s.store.LoadFieldContents(ctx, documentID)
	if err != nil {
		return nil, err
	}
	form, err := openDocumentForm(ctx, s.store.HostField(documentID))
	if err != nil {
		return nil, err
	}
	workspace, err := annotate.OpenWorkspace(ctx, form,
		s.log.With("documentId", documentID),
		annotate.WithIdentity(identity.ContextProvider{}),
		annotate.WithSubjectLimit(s.cfg.SubjectLimit),
		annotate.WithClock(s.now),
	)
	if err != nil {
		return nil, err
	}

	d := &openDocument{
		id:        documentID,
		title:     meta.Title,
		form:      form,
		workspace: workspace,
		editors:   make(map[string]*doc.Editor, len(contents)),
	}
	for _, content := range contents {
		editor, err := doc.Parse(content.Content)
		if err != nil {
			workspace.Close()
			return nil, fmt.Errorf("parse field %s: %w", content.Path, err)
		}
		d.editors[content.Path] = editor
		workspace.Mount(content.Path, editor)
	}
	s.docs[documentID] = d
	s.log.Info("document opened", "documentId", documentID, "fields", len(contents))
	return d, nil
}

// withField runs fn on the field at path while holding the document lock.
func (s *Service) withField(ctx context.Context, documentID, path string, fn func(*annotate.Field) error) (FieldView, error) {
	d, err := s.open(ctx, documentID)
	if err != nil {
		return FieldView{}, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	f, ok := d.workspace.Field(path)
	if !ok {
		return FieldView{}, fmt.Errorf("field %s: %w", path, errUnknownField)
	}
	if err := fn(f); err != nil {
		return FieldView{}, err
	}
	return d.fieldView(f)
}

func (d *openDocument) fieldView(f *annotate.Field) (FieldView, error) {
	content, err := marshalNodes(d.editors[f.Path()].Children())
	if err != nil {
		return FieldView{}, err
	}
	return FieldView{
		Path:        f.Path(),
		Content:     content,
		Threads:     f.ActiveThreads(),
		Suggestions: f.PendingSuggestions(),
		Drafting:    f.Drafting(),
	}, nil
}

// diffs returns the resolvable diff of every stored suggestion, by field.
func (d *openDocument) diffs() map[string]map[annotation.ID]suggest.Diff {
	out := make(map[string]map[annotation.ID]suggest.Diff)
	for _, path := range d.workspace.Paths() {
		f, _ := d.workspace.Field(path)
		byID := make(map[annotation.ID]suggest.Diff)
		for id := range f.State().Suggestions {
			if diff := f.Diff(id); diff != nil {
				byID[id] = *diff
			}
		}
		out[path] = byID
	}
	return out
}

// SaveResult reports what a save wrote.
type SaveResult struct {
	Flushed   bool               `json:"flushed"`
	Committed bool               `json:"committed"`
	Commit    gitrepo.CommitInfo `json:"commit"`
	Indexed   int                `json:"indexed"`
}

// Save stores the annotations form, writes every field's content with
// suggestion authors filled in and draft marks removed, records a version
// and reindexes the document's annotations.
func (s *Service) Save(ctx context.Context, documentID, message string) (SaveResult, error) {
	d, err := s.open(ctx, documentID)
	if err != nil {
		return SaveResult{}, err
	}
	author := userName(ctx)

	d.mu.Lock()
	defer d.mu.Unlock()

	flushed, err := d.form.Submit(ctx)
	if err != nil {
		return SaveResult{}, err
	}
	fields := make(map[string]json.RawMessage, len(d.editors))
	for _, path := range d.workspace.Paths() {
		raw, err := marshalNodes(annotate.ForStorage(d.editors[path].Children(), author))
		if err != nil {
			return SaveResult{}, err
		}
		if err := s.store.SaveFieldContent(ctx, documentID, path, raw); err != nil {
			return SaveResult{}, err
		}
		fields[path] = raw
	}
	if err := s.store.TouchDocument(ctx, documentID, author); err != nil {
		return SaveResult{}, err
	}

	if strings.TrimSpace(message) == "" {
		message = "Save document"
	}
	content := gitrepo.Content{
		Title:       d.title,
		Fields:      fields,
		Annotations: persist.FieldValue{Entries: d.workspace.Entries()},
	}
	commit, committed, err := s.git.CommitContent(documentID, content, gitAuthor(author), message)
	if err != nil {
		return SaveResult{}, err
	}

	result := SaveResult{Flushed: flushed, Committed: committed, Commit: commit}
	if s.search != nil {
		records := search.Records(documentID, d.workspace.States(), d.diffs())
		if err := s.search.IndexDocument(ctx, documentID, records); err != nil {
			s.log.Error("index document failed", "documentId", documentID, "error", err)
		} else {
			result.Indexed = len(records)
		}
	}
	s.log.Info("document saved",
		"documentId", documentID,
		"flushed", flushed,
		"committed", committed,
		"commit", commit.Hash,
	)
	return result, nil
}

type HistoryView struct {
	DocumentID string               `json:"documentId"`
	Commits    []gitrepo.CommitInfo `json:"commits"`
}

func (s *Service) History(ctx context.Context, documentID string, limit int) (HistoryView, error) {
	if _, err := s.store.GetDocument(ctx, documentID); err != nil {
		return HistoryView{}, err
	}
	commits, err := s.git.History(documentID, limit)
	if err != nil {
		return HistoryView{}, err
	}
	return HistoryView{DocumentID: documentID, Commits: commits}, nil
}

func (s *Service) Version(ctx context.Context, documentID, hash string) (gitrepo.Content, error) {
	if _, err := s.store.GetDocument(ctx, documentID); err != nil {
		return gitrepo.Content{}, err
	}
	return s.git.GetContentByHash(documentID, hash)
}

// Compare lists the changes between two versions. An empty to compares
// against the head.
func (s *Service) Compare(ctx context.Context, documentID, fromHash, toHash string) ([]gitrepo.Change, error) {
	from, err := s.Version(ctx, documentID, fromHash)
	if err != nil {
		return nil, err
	}
	var to gitrepo.Content
	if toHash == "" {
		to, _, err = s.git.GetHeadContent(documentID)
	} else {
		to, err = s.git.GetContentByHash(documentID, toHash)
	}
	if err != nil {
		return nil, err
	}
	return gitrepo.Diff(from, to), nil
}

func (s *Service) Search(ctx context.Context, q search.Query) search.Response {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}
	}
	return s.search.Search(ctx, q)
}

// Reindex rebuilds the Meilisearch indexes from the SQL index.
func (s *Service) Reindex(ctx context.Context) (int, error) {
	if s.search == nil {
		return 0, domainError(http.StatusServiceUnavailable, "SEARCH_UNAVAILABLE", "Search is not configured", nil)
	}
	return s.search.ReindexAll(ctx)
}

// Export renders the live document, including unsaved annotations.
func (s *Service) Export(ctx context.Context, documentID string, req export.Request) (*export.Result, error) {
	if s.export == nil {
		return nil, domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "Export is not configured", nil)
	}
	d, err := s.open(ctx, documentID)
	if err != nil {
		return nil, err
	}
	meta, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	document := export.Document{
		ID:        documentID,
		Title:     meta.Title,
		Author:    meta.CreatedBy,
		UpdatedAt: meta.UpdatedAt,
	}
	states := d.workspace.States()
	diffs := d.diffs()
	for _, path := range d.workspace.Paths() {
		editor := d.editors[path].Clone()
		document.Fields = append(document.Fields, export.Field{
			Path:  path,
			Nodes: editor.Children(),
			State: states[path],
			Diffs: diffs[path],
		})
	}
	d.mu.Unlock()

	return s.export.Export(ctx, document, req)
}

func summaryOf(item store.Document) DocumentSummary {
	return DocumentSummary{
		ID:        item.ID,
		Title:     item.Title,
		UpdatedBy: item.UpdatedBy,
		UpdatedAt: item.UpdatedAt,
	}
}

func marshalNodes(nodes []*doc.Node) (json.RawMessage, error) {
	if nodes == nil {
		nodes = []*doc.Node{}
	}
	raw, err := json.Marshal(nodes)
	if err != nil {
		return nil, fmt.Errorf("encode field content: %w", err)
	}
	return raw, nil
}

// userName is the name of the request's user, or "" when anonymous.
func userName(ctx context.Context) string {
	if user, ok := identity.FromContext(ctx); ok && user != nil {
		return user.Name
	}
	return ""
}

func gitAuthor(name string) string {
	if strings.TrimSpace(name) == "" {
		return "Anonymous"
	}
	return name
}

func sortedPaths(fields map[string]json.RawMessage) []string {
	paths := make([]string, 0, len(fields))
	for path := range fields {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

func slug(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '_':
			b.WriteByte('-')
		}
	}
	if b.Len() == 0 {
		return "anonymous"
	}
	return b.String()
}
