package annotate

import (
	"context"
	"fmt"
	"strings"

	"chronicle/annotations/internal/annotation"
	"chronicle/annotations/internal/doc"
	"chronicle/annotations/internal/identity"
	"chronicle/annotations/internal/marks"
)

func (f *Field) Thread(id annotation.ID) (annotation.CommentThread, bool) {
	thread, ok := f.state.Comments[id]
	if !ok {
		return annotation.CommentThread{}, false
	}
	return thread.Clone(), true
}

// Reply appends a message to thread id and returns the new message id. A
// blank body is ignored.
func (f *Field) Reply(ctx context.Context, id annotation.ID, body string) (string, error) {
	if f.closed {
		return "", ErrClosed
	}
	if strings.TrimSpace(body) == "" {
		return "", nil
	}
	thread, ok := f.state.Comments[id]
	if !ok {
		return "", fmt.Errorf("reply to %s: %w", id, ErrUnknownThread)
	}
	message := f.newMessage(body, f.currentUser(ctx))
	thread = thread.Clone()
	thread.Messages = append(thread.Messages, message)
	now := f.stamp()
	thread.UpdatedAt = &now
	f.putThread(thread)
	return message.ID, nil
}

// EditMessage replaces the body of one message. A blank body is ignored.
func (f *Field) EditMessage(id annotation.ID, messageID, body string) error {
	if f.closed {
		return ErrClosed
	}
	if strings.TrimSpace(body) == "" {
		return nil
	}
	thread, index, err := f.findMessage(id, messageID)
	if err != nil {
		return err
	}
	now := f.stamp()
	thread.Messages[index].Body = body
	thread.Messages[index].UpdatedAt = &now
	thread.UpdatedAt = &now
	f.putThread(thread)
	return nil
}

// DeleteMessage removes one message. A thread left empty stays in the state
// until RemoveEmptyThreads collects it, but is no longer persisted.
func (f *Field) DeleteMessage(id annotation.ID, messageID string) error {
	if f.closed {
		return ErrClosed
	}
	thread, index, err := f.findMessage(id, messageID)
	if err != nil {
		return err
	}
	thread.Messages = append(thread.Messages[:index], thread.Messages[index+1:]...)
	now := f.stamp()
	thread.UpdatedAt = &now
	f.putThread(thread)
	return nil
}

func (f *Field) ResolveThread(id annotation.ID, resolved bool) error {
	if f.closed {
		return ErrClosed
	}
	thread, ok := f.state.Comments[id]
	if !ok {
		return fmt.Errorf("resolve %s: %w", id, ErrUnknownThread)
	}
	if thread.IsResolved == resolved {
		return nil
	}
	thread = thread.Clone()
	thread.IsResolved = resolved
	now := f.stamp()
	thread.UpdatedAt = &now
	f.putThread(thread)
	return nil
}

// DeleteThread removes thread id and every mark that refers to it. Deleting
// a thread that does not exist is a no-op; it reports whether anything was
// removed.
func (f *Field) DeleteThread(id annotation.ID) bool {
	if f.closed {
		return false
	}
	_, known := f.state.Comments[id]
	leaves := f.doc.Nodes(nil, commentLeaf(id))
	if !known && len(leaves) == 0 {
		return false
	}
	if known {
		next := f.state.Clone()
		delete(next.Comments, id)
		f.commit(next)
	}
	f.clearCommentMarks(id, leaves)
	f.anchors.Forget(id)
	f.log.Info("thread deleted", "threadId", id)
	return true
}

// RemoveEmptyThreads deletes the listed threads that have no messages, or
// every empty thread when no ids are given. It runs when a thread popover
// closes.
func (f *Field) RemoveEmptyThreads(ids ...annotation.ID) []annotation.ID {
	if len(ids) == 0 {
		for id := range f.state.Comments {
			ids = append(ids, id)
		}
	}
	var removed []annotation.ID
	for _, id := range marks.UniqueIDs(ids) {
		thread, ok := f.state.Comments[id]
		if !ok || !thread.IsEmpty() {
			continue
		}
		if f.DeleteThread(id) {
			removed = append(removed, id)
		}
	}
	return removed
}

func (f *Field) putThread(thread annotation.CommentThread) {
	next := f.state.Clone()
	next.Comments[thread.ID] = thread
	f.commit(next)
}

func (f *Field) findMessage(id annotation.ID, messageID string) (annotation.CommentThread, int, error) {
	thread, ok := f.state.Comments[id]
	if !ok {
		return annotation.CommentThread{}, -1, fmt.Errorf("find message in %s: %w", id, ErrUnknownThread)
	}
	thread = thread.Clone()
	for i, message := range thread.Messages {
		if message.ID == messageID {
			return thread, i, nil
		}
	}
	return annotation.CommentThread{}, -1, fmt.Errorf("find message %s: %w", messageID, ErrUnknownMessage)
}

func (f *Field) newMessage(body string, user *identity.User) annotation.CommentMessage {
	message := annotation.CommentMessage{
		ID:        f.newID("message"),
		Body:      body,
		CreatedAt: f.stamp(),
	}
	if user != nil {
		message.AuthorID = user.ID
		message.AuthorName = user.Name
	}
	return message
}

func (f *Field) clearCommentMarks(id annotation.ID, leaves []doc.Entry) {
	if len(leaves) == 0 {
		return
	}
	f.doc.WithoutNormalizing(func() {
		for _, entry := range leaves {
			f.doc.UnsetNodes(marks.UnsetCommentKeys(entry.Node, id), entry.Path)
		}
	})
}

func commentLeaf(id annotation.ID) doc.MatchFunc {
	return func(n *doc.Node, _ doc.Path) bool {
		return n.IsText() && marks.HasComment(n, id)
	}
}

func authorName(user *identity.User) string {
	if user == nil {
		return ""
	}
	return user.Name
}
