package annotation

func timestampPtrEqual(a, b *Timestamp) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func MessagesEqual(a, b CommentMessage) bool {
	return a.ID == b.ID &&
		a.Body == b.Body &&
		a.CreatedAt.Equal(b.CreatedAt) &&
		timestampPtrEqual(a.UpdatedAt, b.UpdatedAt) &&
		a.AuthorID == b.AuthorID &&
		a.AuthorName == b.AuthorName
}

func ThreadsEqual(a, b CommentThread) bool {
	if a.ID != b.ID ||
		!a.CreatedAt.Equal(b.CreatedAt) ||
		!timestampPtrEqual(a.UpdatedAt, b.UpdatedAt) ||
		a.IsResolved != b.IsResolved ||
		a.DocumentContent != b.DocumentContent ||
		a.DiscussionSubject != b.DiscussionSubject ||
		len(a.Messages) != len(b.Messages) {
		return false
	}
	for i := range a.Messages {
		if !MessagesEqual(a.Messages[i], b.Messages[i]) {
			return false
		}
	}
	return true
}

func SuggestionsEqual(a, b StoredSuggestion) bool {
	return a.ID == b.ID &&
		a.CreatedAt.Equal(b.CreatedAt) &&
		a.Type == b.Type &&
		a.UserID == b.UserID &&
		a.UserName == b.UserName &&
		a.Status == b.Status &&
		timestampPtrEqual(a.ResolvedAt, b.ResolvedAt)
}

func CommentMapsEqual(a, b map[ID]CommentThread) bool {
	if len(a) != len(b) {
		return false
	}
	for id, left := range a {
		right, ok := b[id]
		if !ok || !ThreadsEqual(left, right) {
			return false
		}
	}
	return true
}

func SuggestionMapsEqual(a, b map[ID]StoredSuggestion) bool {
	if len(a) != len(b) {
		return false
	}
	for id, left := range a {
		right, ok := b[id]
		if !ok || !SuggestionsEqual(left, right) {
			return false
		}
	}
	return true
}

func StatesEqual(a, b State) bool {
	return CommentMapsEqual(a.Comments, b.Comments) && SuggestionMapsEqual(a.Suggestions, b.Suggestions)
}
