// Package annotate owns the annotations of rich-text fields: the draft and
// thread lifecycle, suggestion resolution and the views the editor renders.
//
// A Field is the single owner of one field's annotation state. Every
// document change reaches it through one reconciliation entry point, and
// every mutation it makes to the state goes through commit. Fields are not
// safe for concurrent use; callers serialize access per document.
package annotate

import (
	"context"
	"errors"
	"time"

	"chronicle/annotations/internal/anchor"
	"chronicle/annotations/internal/annotation"
	"chronicle/annotations/internal/doc"
	"chronicle/annotations/internal/identity"
	"chronicle/annotations/internal/logger"
	"chronicle/annotations/internal/marks"
	"chronicle/annotations/internal/reconcile"
	"chronicle/annotations/internal/util"
)

var (
	ErrNotDrafting    = errors.New("no draft in progress")
	ErrEmptySelection = errors.New("selection is empty")
	ErrUnknownThread  = errors.New("unknown thread")
	ErrUnknownMessage = errors.New("unknown message")
	ErrClosed         = errors.New("field is closed")
)

type Option func(*Field)

func WithLogger(log *logger.Logger) Option {
	return func(f *Field) { f.log = log }
}

func WithIdentity(provider identity.Provider) Option {
	return func(f *Field) { f.users = provider }
}

func WithClock(now func() time.Time) Option {
	return func(f *Field) { f.now = now }
}

func WithIDs(newID func(prefix string) string) Option {
	return func(f *Field) { f.newID = newID }
}

// WithSubjectLimit caps discussion subjects in runes. Zero disables the cap.
func WithSubjectLimit(limit int) Option {
	return func(f *Field) { f.subjectLimit = limit }
}

// OnCommit registers fn to run after every state change.
func OnCommit(fn func(path string, state annotation.State)) Option {
	return func(f *Field) { f.hooks = append(f.hooks, fn) }
}

type Field struct {
	path    string
	doc     doc.Document
	state   annotation.State
	anchors *anchor.Map

	drafting     bool
	reconciling  bool
	closed       bool
	author       *identity.User
	unsubscribe  func()
	hooks        []func(string, annotation.State)
	users        identity.Provider
	log          *logger.Logger
	now          func() time.Time
	newID        func(prefix string) string
	subjectLimit int
}

// NewField takes ownership of the annotations of the field at path. It
// clears stale draft marks, subscribes to d's change notifications and
// reconciles once immediately so thread data embedded in the tree is
// picked up.
func NewField(path string, d doc.Document, initial annotation.State, opts ...Option) *Field {
	f := &Field{
		path:         path,
		doc:          d,
		state:        annotation.Normalize(initial),
		anchors:      anchor.New(),
		users:        identity.ContextProvider{},
		log:          logger.Nop(),
		now:          time.Now,
		newID:        util.NewID,
		subjectLimit: annotation.DefaultSubjectLimit,
	}
	for _, opt := range opts {
		opt(f)
	}
	f.log = f.log.With("field", path)
	// No draft survives a mount; leftover draft highlights could never be
	// cancelled.
	if len(d.Nodes(nil, isDraftLeaf)) > 0 {
		d.WithoutNormalizing(f.clearDraftMarks)
	}
	if tracked, ok := d.(interface{ TrackWith(doc.Tracker) }); ok {
		tracked.TrackWith(f.track)
	}
	f.unsubscribe = d.OnChange(f.onChange)
	f.anchors.Rebuild(d)
	f.Reconcile()
	return f
}

func (f *Field) Path() string {
	return f.path
}

func (f *Field) Document() doc.Document {
	return f.doc
}

// State returns a copy of the current annotation state.
func (f *Field) State() annotation.State {
	return f.state.Clone()
}

// Snapshot is the state as it should be persisted. Threads left without
// messages are not written.
func (f *Field) Snapshot() annotation.State {
	out := f.state.Clone()
	for id, thread := range out.Comments {
		if thread.IsEmpty() {
			delete(out.Comments, id)
		}
	}
	return out
}

func (f *Field) Drafting() bool {
	return f.drafting
}

// Close detaches the field from its document. The state is discarded with
// the field.
func (f *Field) Close() {
	if f.closed {
		return
	}
	f.closed = true
	if f.unsubscribe != nil {
		f.unsubscribe()
	}
	if tracked, ok := f.doc.(interface{ TrackWith(doc.Tracker) }); ok {
		tracked.TrackWith(nil)
	}
}

// Reconcile derives the state from the document and commits it when it
// differs. It is the only path from document changes into the state.
func (f *Field) Reconcile() bool {
	if f.reconciling || f.closed {
		return false
	}
	f.reconciling = true
	defer func() { f.reconciling = false }()

	next, changed := reconcile.Reconcile(f.doc, f.state, reconcile.Options{SubjectLimit: f.subjectLimit})
	if !changed {
		return false
	}
	f.log.Debug("reconciled annotations", "threads", len(next.Comments), "suggestions", len(next.Suggestions))
	f.commit(next)
	return true
}

func (f *Field) onChange() {
	f.Reconcile()
}

func (f *Field) commit(next annotation.State) {
	if next.Comments == nil {
		next.Comments = map[annotation.ID]annotation.CommentThread{}
	}
	if next.Suggestions == nil {
		next.Suggestions = map[annotation.ID]annotation.StoredSuggestion{}
	}
	f.state = next
	for _, hook := range f.hooks {
		hook(f.path, next.Clone())
	}
}

func (f *Field) currentUser(ctx context.Context) *identity.User {
	if f.users == nil {
		return nil
	}
	user, err := f.users.CurrentUser(ctx)
	if err != nil {
		f.log.Warn("resolve current user", "error", err)
		return nil
	}
	return user
}

func (f *Field) stamp() annotation.Timestamp {
	return annotation.At(f.now())
}

// SetSuggesting switches tracked editing on or off. Tracked edits are
// attributed to the user resolved from ctx.
func (f *Field) SetSuggesting(ctx context.Context, on bool) {
	if on {
		f.author = f.currentUser(ctx)
	} else {
		f.author = nil
	}
	f.doc.SetSuggesting(on)
}

func (f *Field) track() (map[string]any, map[string]any) {
	data := marks.SuggestionData{
		ID:        annotation.ID(f.newID("suggestion")),
		CreatedAt: f.stamp(),
	}
	if f.author != nil {
		data.UserID = f.author.ID
		data.UserName = f.author.Name
	}
	insert, remove := data, data
	insert.Type = marks.OpInsert
	remove.Type = marks.OpRemove
	return marks.SuggestionAttrs(insert), marks.SuggestionAttrs(remove)
}
