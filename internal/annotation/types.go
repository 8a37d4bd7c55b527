package annotation

import (
	"fmt"
	"sort"
)

// ID identifies a comment thread or a suggestion.
type ID string

type SuggestionType string

const (
	SuggestionInsert  SuggestionType = "insert"
	SuggestionRemove  SuggestionType = "remove"
	SuggestionReplace SuggestionType = "replace"
	SuggestionUpdate  SuggestionType = "update"
	SuggestionBlock   SuggestionType = "block"
)

type SuggestionStatus string

const (
	StatusPending  SuggestionStatus = "pending"
	StatusAccepted SuggestionStatus = "accepted"
	StatusRejected SuggestionStatus = "rejected"
)

type CommentMessage struct {
	ID         string     `json:"id"`
	Body       string     `json:"body"`
	CreatedAt  Timestamp  `json:"createdAt"`
	UpdatedAt  *Timestamp `json:"updatedAt,omitempty"`
	AuthorID   string     `json:"authorId,omitempty"`
	AuthorName string     `json:"authorName,omitempty"`
}

type CommentThread struct {
	ID                ID               `json:"id"`
	CreatedAt         Timestamp        `json:"createdAt"`
	UpdatedAt         *Timestamp       `json:"updatedAt,omitempty"`
	Messages          []CommentMessage `json:"messages"`
	IsResolved        bool             `json:"isResolved,omitempty"`
	DocumentContent   string           `json:"documentContent,omitempty"`
	DiscussionSubject string           `json:"discussionSubject,omitempty"`
}

// IsEmpty reports whether the thread has no messages. Empty threads are
// garbage collected when their popover closes.
func (t CommentThread) IsEmpty() bool {
	return len(t.Messages) == 0
}

func (t CommentThread) Clone() CommentThread {
	out := t
	if t.UpdatedAt != nil {
		updated := *t.UpdatedAt
		out.UpdatedAt = &updated
	}
	if t.Messages != nil {
		out.Messages = make([]CommentMessage, len(t.Messages))
		for i, message := range t.Messages {
			if message.UpdatedAt != nil {
				updated := *message.UpdatedAt
				message.UpdatedAt = &updated
			}
			out.Messages[i] = message
		}
	}
	return out
}

type StoredSuggestion struct {
	ID         ID               `json:"id"`
	CreatedAt  Timestamp        `json:"createdAt"`
	Type       SuggestionType   `json:"type,omitempty"`
	UserID     string           `json:"userId,omitempty"`
	UserName   string           `json:"userName,omitempty"`
	Status     SuggestionStatus `json:"status,omitempty"`
	ResolvedAt *Timestamp       `json:"resolvedAt,omitempty"`
}

func (s StoredSuggestion) Clone() StoredSuggestion {
	out := s
	if s.ResolvedAt != nil {
		resolved := *s.ResolvedAt
		out.ResolvedAt = &resolved
	}
	return out
}

// State is the per-field annotation store.
type State struct {
	Comments    map[ID]CommentThread
	Suggestions map[ID]StoredSuggestion
}

func NewState() State {
	return State{
		Comments:    map[ID]CommentThread{},
		Suggestions: map[ID]StoredSuggestion{},
	}
}

func (s State) Clone() State {
	out := NewState()
	for id, thread := range s.Comments {
		out.Comments[id] = thread.Clone()
	}
	for id, suggestion := range s.Suggestions {
		out.Suggestions[id] = suggestion.Clone()
	}
	return out
}

func (s State) IsEmpty() bool {
	return len(s.Comments) == 0 && len(s.Suggestions) == 0
}

// Normalize fills in identifiers the stored form may omit: a thread or
// suggestion without an id takes its key, a message without an id becomes
// "<thread>-message-<index>".
func Normalize(s State) State {
	out := s.Clone()
	for key, thread := range out.Comments {
		if thread.ID == "" {
			thread.ID = key
		}
		for i := range thread.Messages {
			if thread.Messages[i].ID == "" {
				thread.Messages[i].ID = fmt.Sprintf("%s-message-%d", thread.ID, i)
			}
		}
		out.Comments[key] = thread
	}
	for key, suggestion := range out.Suggestions {
		if suggestion.ID == "" {
			suggestion.ID = key
			out.Suggestions[key] = suggestion
		}
	}
	return out
}

// SortedThreads returns the threads in creation order, ties broken by id.
func SortedThreads(comments map[ID]CommentThread) []CommentThread {
	out := make([]CommentThread, 0, len(comments))
	for _, thread := range comments {
		out = append(out, thread)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt.Time)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func SortedSuggestions(suggestions map[ID]StoredSuggestion) []StoredSuggestion {
	out := make([]StoredSuggestion, 0, len(suggestions))
	for _, suggestion := range suggestions {
		out = append(out, suggestion)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt.Time)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
