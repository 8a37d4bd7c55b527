package store

import (
	"context"

	"chronicle/annotations/internal/persist"
)

// HostField is the annotations field of a single document.
type HostField struct {
	store      *Store
	documentID string
}

func (h *HostField) DocumentID() string {
	return h.documentID
}

func (h *HostField) Load(ctx context.Context) (persist.FieldValue, error) {
	return h.store.LoadAnnotationField(ctx, h.documentID)
}

func (h *HostField) Save(ctx context.Context, value persist.FieldValue) error {
	return h.store.SaveAnnotationField(ctx, h.documentID, value)
}
