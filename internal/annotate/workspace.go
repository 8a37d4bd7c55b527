package annotate

import (
	"context"
	"fmt"
	"sort"

	"chronicle/annotations/internal/annotation"
	"chronicle/annotations/internal/doc"
	"chronicle/annotations/internal/logger"
	"chronicle/annotations/internal/persist"
)

// HostField is the persisted annotations field of a host document.
type HostField interface {
	Load(ctx context.Context) (persist.FieldValue, error)
	Save(ctx context.Context, value persist.FieldValue) error
}

// Workspace holds the fields of one host document. The host value is read
// once when the workspace opens; after that the fields are authoritative.
// Every settled change of a mounted field is written back to the host
// field, and only when the serialized entries differ from the last write.
type Workspace struct {
	host     HostField
	opts     []Option
	log      *logger.Logger
	fields   map[string]*Field
	detached map[string]annotation.State
	saved    []persist.Entry
	mounting bool
}

func OpenWorkspace(ctx context.Context, host HostField, log *logger.Logger, opts ...Option) (*Workspace, error) {
	value, err := host.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load annotations field: %w", err)
	}
	if log == nil {
		log = logger.Nop()
	}
	w := &Workspace{
		host:     host,
		opts:     append([]Option{WithLogger(log)}, opts...),
		log:      log,
		fields:   map[string]*Field{},
		detached: persist.FromEntries(value.Entries),
		saved:    persist.ToEntries(persist.FromEntries(value.Entries)),
	}
	return w, nil
}

// Mount attaches the field at path to d, hydrated from the stored state.
// Mounting a path twice returns the existing field.
func (w *Workspace) Mount(path string, d doc.Document) *Field {
	if f, ok := w.fields[path]; ok {
		return f
	}
	initial, ok := w.detached[path]
	if !ok {
		initial = annotation.NewState()
	}
	delete(w.detached, path)

	opts := make([]Option, 0, len(w.opts)+1)
	opts = append(opts, w.opts...)
	opts = append(opts, OnCommit(w.settled))
	w.mounting = true
	f := NewField(path, d, initial, opts...)
	w.mounting = false
	w.fields[path] = f
	w.log.Debug("field mounted", "field", path, "threads", len(initial.Comments), "suggestions", len(initial.Suggestions))
	w.settle()
	return f
}

// Unmount detaches the field at path. Its persisted state is kept so a
// later flush still writes it.
func (w *Workspace) Unmount(path string) {
	f, ok := w.fields[path]
	if !ok {
		return
	}
	snapshot := f.Snapshot()
	f.Close()
	delete(w.fields, path)
	if !snapshot.IsEmpty() {
		w.detached[path] = snapshot
	}
	w.settle()
}

// settled is the commit hook of every mounted field. Commits made while a
// field is being mounted are written once the field is in place.
func (w *Workspace) settled(string, annotation.State) {
	if w.mounting {
		return
	}
	w.settle()
}

func (w *Workspace) settle() {
	if _, err := w.Flush(context.Background()); err != nil {
		w.log.Error("write annotations field failed", "error", err)
	}
}

func (w *Workspace) Field(path string) (*Field, bool) {
	f, ok := w.fields[path]
	return f, ok
}

// Paths lists the mounted field paths in order.
func (w *Workspace) Paths() []string {
	paths := make([]string, 0, len(w.fields))
	for path := range w.fields {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

// States returns the persisted view of every field, mounted or not.
func (w *Workspace) States() map[string]annotation.State {
	states := make(map[string]annotation.State, len(w.fields)+len(w.detached))
	for path, state := range w.detached {
		states[path] = state.Clone()
	}
	for path, f := range w.fields {
		states[path] = f.Snapshot()
	}
	return states
}

func (w *Workspace) Entries() []persist.Entry {
	return persist.ToEntries(w.States())
}

func (w *Workspace) Dirty() bool {
	return !persist.EntriesEqual(w.saved, w.Entries())
}

// Flush writes the entries to the host field when they differ from what
// was last read or written. It reports whether a write happened.
func (w *Workspace) Flush(ctx context.Context) (bool, error) {
	entries := w.Entries()
	if persist.EntriesEqual(w.saved, entries) {
		return false, nil
	}
	if err := w.host.Save(ctx, persist.FieldValue{Entries: entries}); err != nil {
		return false, fmt.Errorf("save annotations field: %w", err)
	}
	w.saved = entries
	w.log.Debug("annotations field written", "entries", len(entries))
	return true, nil
}

func (w *Workspace) Close() {
	for path := range w.fields {
		w.Unmount(path)
	}
}
