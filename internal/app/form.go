package app

import (
	"context"
	"fmt"

	"chronicle/annotations/internal/annotate"
	"chronicle/annotations/internal/persist"
)

// documentForm is the unsaved form of an open document's annotations
// field. The workspace writes every settled change into it; Submit stores
// it when the document is saved.
type documentForm struct {
	host   annotate.HostField
	value  persist.FieldValue
	stored []persist.Entry
}

func openDocumentForm(ctx context.Context, host annotate.HostField) (*documentForm, error) {
	value, err := host.Load(ctx)
	if err != nil {
		return nil, err
	}
	entries := persist.ToEntries(persist.FromEntries(value.Entries))
	return &documentForm{
		host:   host,
		value:  persist.FieldValue{Entries: entries},
		stored: entries,
	}, nil
}

func (f *documentForm) Load(context.Context) (persist.FieldValue, error) {
	return f.value, nil
}

func (f *documentForm) Save(_ context.Context, value persist.FieldValue) error {
	f.value = value
	return nil
}

// Dirty reports whether the form holds annotations not yet stored.
func (f *documentForm) Dirty() bool {
	return !persist.EntriesEqual(f.stored, f.value.Entries)
}

// Submit stores the form value when it differs from the stored one. It
// reports whether a write happened.
func (f *documentForm) Submit(ctx context.Context) (bool, error) {
	if !f.Dirty() {
		return false, nil
	}
	if err := f.host.Save(ctx, f.value); err != nil {
		return false, fmt.Errorf("store annotations field: %w", err)
	}
	f.stored = f.value.Entries
	return true, nil
}
