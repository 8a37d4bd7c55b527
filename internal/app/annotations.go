package app

import (
	"context"
	"net/http"

	"chronicle/annotations/internal/annotate"
	"chronicle/annotations/internal/annotation"
	"chronicle/annotations/internal/doc"
	"chronicle/annotations/internal/overlap"
	"chronicle/annotations/internal/suggest"
)

func (s *Service) ApplyEdit(ctx context.Context, documentID, path string, edit annotate.Edit) (FieldView, error) {
	return s.withField(ctx, documentID, path, func(f *annotate.Field) error {
		return f.Apply(ctx, edit)
	})
}

func (s *Service) StartDraft(ctx context.Context, documentID, path string, rng doc.Range) (FieldView, error) {
	return s.withField(ctx, documentID, path, func(f *annotate.Field) error {
		return f.StartDraft(rng)
	})
}

func (s *Service) CancelDraft(ctx context.Context, documentID, path string) (FieldView, error) {
	return s.withField(ctx, documentID, path, func(f *annotate.Field) error {
		f.CancelDraft()
		return nil
	})
}

// ThreadResult is a field view together with the thread an operation
// created or touched.
type ThreadResult struct {
	FieldView
	ThreadID  annotation.ID `json:"threadId,omitempty"`
	MessageID string        `json:"messageId,omitempty"`
}

// SubmitDraft turns the draft into a thread. A blank body creates nothing
// and leaves ThreadID empty.
func (s *Service) SubmitDraft(ctx context.Context, documentID, path, body string) (ThreadResult, error) {
	var id annotation.ID
	view, err := s.withField(ctx, documentID, path, func(f *annotate.Field) error {
		var err error
		id, err = f.SubmitDraft(ctx, body)
		return err
	})
	return ThreadResult{FieldView: view, ThreadID: id}, err
}

func (s *Service) Reply(ctx context.Context, documentID, path string, threadID annotation.ID, body string) (ThreadResult, error) {
	var messageID string
	view, err := s.withField(ctx, documentID, path, func(f *annotate.Field) error {
		var err error
		messageID, err = f.Reply(ctx, threadID, body)
		return err
	})
	return ThreadResult{FieldView: view, ThreadID: threadID, MessageID: messageID}, err
}

func (s *Service) EditMessage(ctx context.Context, documentID, path string, threadID annotation.ID, messageID, body string) (FieldView, error) {
	return s.withField(ctx, documentID, path, func(f *annotate.Field) error {
		return f.EditMessage(threadID, messageID, body)
	})
}

func (s *Service) DeleteMessage(ctx context.Context, documentID, path string, threadID annotation.ID, messageID string) (FieldView, error) {
	return s.withField(ctx, documentID, path, func(f *annotate.Field) error {
		return f.DeleteMessage(threadID, messageID)
	})
}

func (s *Service) ResolveThread(ctx context.Context, documentID, path string, threadID annotation.ID, resolved bool) (FieldView, error) {
	return s.withField(ctx, documentID, path, func(f *annotate.Field) error {
		return f.ResolveThread(threadID, resolved)
	})
}

// DeleteThread removes the thread and its marks. Deleting an unknown
// thread succeeds.
func (s *Service) DeleteThread(ctx context.Context, documentID, path string, threadID annotation.ID) (FieldView, error) {
	return s.withField(ctx, documentID, path, func(f *annotate.Field) error {
		f.DeleteThread(threadID)
		return nil
	})
}

// CloseThreads collects the listed threads when they have no messages, or
// every empty thread of the field when ids is empty.
func (s *Service) CloseThreads(ctx context.Context, documentID, path string, ids []annotation.ID) (FieldView, error) {
	return s.withField(ctx, documentID, path, func(f *annotate.Field) error {
		f.RemoveEmptyThreads(ids...)
		return nil
	})
}

func (s *Service) Thread(ctx context.Context, documentID, path string, threadID annotation.ID) (annotation.CommentThread, error) {
	var thread annotation.CommentThread
	_, err := s.withField(ctx, documentID, path, func(f *annotate.Field) error {
		found, ok := f.Thread(threadID)
		if !ok {
			return annotate.ErrUnknownThread
		}
		thread = found
		return nil
	})
	return thread, err
}

func (s *Service) SuggestionDiff(ctx context.Context, documentID, path string, id annotation.ID) (suggest.Diff, error) {
	var diff suggest.Diff
	_, err := s.withField(ctx, documentID, path, func(f *annotate.Field) error {
		found := f.Diff(id)
		if found == nil {
			return suggest.ErrNoDiff
		}
		diff = *found
		return nil
	})
	return diff, err
}

// ResolutionResult is the field after a suggestion was accepted or rejected.
type ResolutionResult struct {
	FieldView
	Resolution suggest.Resolution `json:"resolution"`
}

func (s *Service) AcceptSuggestion(ctx context.Context, documentID, path string, id annotation.ID) (ResolutionResult, error) {
	var resolution suggest.Resolution
	view, err := s.withField(ctx, documentID, path, func(f *annotate.Field) error {
		var err error
		resolution, err = f.Accept(ctx, id)
		return err
	})
	return ResolutionResult{FieldView: view, Resolution: resolution}, err
}

func (s *Service) RejectSuggestion(ctx context.Context, documentID, path string, id annotation.ID) (ResolutionResult, error) {
	var resolution suggest.Resolution
	view, err := s.withField(ctx, documentID, path, func(f *annotate.Field) error {
		var err error
		resolution, err = f.Reject(ctx, id)
		return err
	})
	return ResolutionResult{FieldView: view, Resolution: resolution}, err
}

// DiscussSuggestion opens the thread of suggestion id, adding body as a
// message when it is not blank.
func (s *Service) DiscussSuggestion(ctx context.Context, documentID, path string, id annotation.ID, body string) (ThreadResult, error) {
	view, err := s.withField(ctx, documentID, path, func(f *annotate.Field) error {
		return f.EnsureSuggestionThread(ctx, id, body)
	})
	return ThreadResult{FieldView: view, ThreadID: id}, err
}

type OverlapView struct {
	Group overlap.Group  `json:"group"`
	Items []overlap.Item `json:"items"`
}

// Overlap resolves a click at point on the annotations sharing its leaf.
func (s *Service) Overlap(ctx context.Context, documentID, path string, point doc.Point, clicked annotation.ID) (OverlapView, error) {
	var out OverlapView
	_, err := s.withField(ctx, documentID, path, func(f *annotate.Field) error {
		group, items, err := f.Overlap(point, clicked)
		if err != nil {
			return domainError(http.StatusUnprocessableEntity, "INVALID_POINT", err.Error(), nil)
		}
		if items == nil {
			items = []overlap.Item{}
		}
		out = OverlapView{Group: group, Items: items}
		return nil
	})
	return out, err
}

// BlockView lists what is displayed beside one block.
type BlockView struct {
	Path        doc.Path                   `json:"path"`
	Threads     []annotation.CommentThread `json:"threads"`
	Suggestions []annotate.SuggestionView  `json:"suggestions"`
}

func (s *Service) Block(ctx context.Context, documentID, path string, blockPath doc.Path) (BlockView, error) {
	var out BlockView
	_, err := s.withField(ctx, documentID, path, func(f *annotate.Field) error {
		if _, ok := f.Document().Node(blockPath); !ok || len(blockPath) == 0 {
			return domainError(http.StatusUnprocessableEntity, "INVALID_BLOCK", "No block at path", map[string]any{"path": blockPath.String()})
		}
		out = BlockView{Path: blockPath, Threads: f.BlockThreads(blockPath), Suggestions: f.BlockSuggestions(blockPath)}
		return nil
	})
	return out, err
}
