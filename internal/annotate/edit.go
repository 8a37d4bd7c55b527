package annotate

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"chronicle/annotations/internal/doc"
	"chronicle/annotations/internal/marks"
)

var ErrInvalidEdit = errors.New("invalid edit")

type EditKind string

const (
	EditInsertText  EditKind = "insert_text"
	EditDeleteText  EditKind = "delete_text"
	EditReplaceText EditKind = "replace_text"
	EditFormat      EditKind = "format"
)

// Edit is one change to the field's text. With Suggest set the change is
// recorded as a suggestion by the current user instead of being applied.
type Edit struct {
	Kind    EditKind       `json:"kind"`
	Range   doc.Range      `json:"range"`
	Text    string         `json:"text,omitempty"`
	Marks   map[string]any `json:"marks,omitempty"`
	Suggest bool           `json:"suggest,omitempty"`
}

func (f *Field) Apply(ctx context.Context, edit Edit) error {
	if f.closed {
		return ErrClosed
	}
	if err := validateEdit(edit); err != nil {
		return err
	}
	if edit.Suggest && !f.doc.Suggesting() {
		f.SetSuggesting(ctx, true)
		defer f.SetSuggesting(ctx, false)
	}

	switch edit.Kind {
	case EditInsertText:
		start, _ := edit.Range.Ordered()
		f.doc.InsertText(start, edit.Text)
	case EditDeleteText:
		f.doc.DeleteText(edit.Range)
	case EditReplaceText:
		f.doc.ReplaceText(edit.Range, edit.Text)
	case EditFormat:
		f.doc.SetMarks(edit.Range, edit.Marks)
	}
	return nil
}

func validateEdit(edit Edit) error {
	switch edit.Kind {
	case EditInsertText:
		if edit.Text == "" {
			return fmt.Errorf("insert without text: %w", ErrInvalidEdit)
		}
	case EditDeleteText, EditReplaceText:
		if edit.Kind == EditDeleteText && edit.Range.Collapsed() {
			return fmt.Errorf("delete over an empty range: %w", ErrInvalidEdit)
		}
	case EditFormat:
		if edit.Suggest {
			return fmt.Errorf("formatting cannot be suggested: %w", ErrInvalidEdit)
		}
		if len(edit.Marks) == 0 {
			return fmt.Errorf("format without marks: %w", ErrInvalidEdit)
		}
		for key := range edit.Marks {
			if strings.HasPrefix(key, marks.CommentKey) || strings.HasPrefix(key, marks.SuggestionKey) {
				return fmt.Errorf("mark %q is managed by annotations: %w", key, ErrInvalidEdit)
			}
		}
	default:
		return fmt.Errorf("unknown edit kind %q: %w", edit.Kind, ErrInvalidEdit)
	}
	return nil
}
