package store

import (
	"encoding/json"
	"time"
)

type Document struct {
	ID        string
	Title     string
	CreatedBy string
	CreatedAt time.Time
	UpdatedBy string
	UpdatedAt time.Time
}

// FieldContent is the serialized node list of one rich-text field.
type FieldContent struct {
	Path      string
	Content   json.RawMessage
	UpdatedAt time.Time
}

// timeLayout is fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(value string) (time.Time, error) {
	return time.Parse(timeLayout, value)
}
