package marks

import (
	"chronicle/annotations/internal/annotation"
	"chronicle/annotations/internal/doc"
)

type Op string

const (
	OpInsert Op = "insert"
	OpRemove Op = "remove"
	OpUpdate Op = "update"
)

// SuggestionData is the object stored under a suggestion key. Properties and
// NewProperties are only set for update suggestions and hold the old and new
// values of the changed marks.
type SuggestionData struct {
	ID            AnnotationID
	Type          Op
	UserID        string
	UserName      string
	CreatedAt     annotation.Timestamp
	Properties    map[string]any
	NewProperties map[string]any
}

// SuggestionDataList returns the decoded data of every suggestion on a leaf,
// ordered by suggestion id. Keys whose value is not an object are skipped.
func SuggestionDataList(n *doc.Node) []SuggestionData {
	var out []SuggestionData
	for _, key := range Keys(n) {
		if key.Kind != KindSuggestion {
			continue
		}
		value, _ := n.Attr(key.String())
		data, ok := DecodeSuggestion(value)
		if !ok {
			continue
		}
		if data.ID == "" {
			data.ID = key.ID
		}
		out = append(out, data)
	}
	return out
}

// BlockSuggestion returns the data of a wholly suggested element.
func BlockSuggestion(n *doc.Node) (SuggestionData, bool) {
	if !n.IsElement() {
		return SuggestionData{}, false
	}
	value, ok := n.Attr(SuggestionKey)
	if !ok {
		return SuggestionData{}, false
	}
	data, ok := DecodeSuggestion(value)
	if !ok || data.ID == "" {
		return SuggestionData{}, false
	}
	return data, true
}

func DecodeSuggestion(value any) (SuggestionData, bool) {
	fields, ok := value.(map[string]any)
	if !ok {
		return SuggestionData{}, false
	}
	data := SuggestionData{
		ID:        AnnotationID(stringField(fields, "id")),
		Type:      Op(stringField(fields, "type")),
		UserID:    stringField(fields, "userId"),
		UserName:  stringField(fields, "userName"),
		CreatedAt: annotation.TimestampFrom(fields["createdAt"]),
	}
	if props, ok := fields["properties"].(map[string]any); ok {
		data.Properties = props
	}
	if props, ok := fields["newProperties"].(map[string]any); ok {
		data.NewProperties = props
	}
	return data, true
}

// Encode returns the attribute value form of d.
func (d SuggestionData) Encode() map[string]any {
	out := map[string]any{
		"id":   string(d.ID),
		"type": string(d.Type),
	}
	if d.UserID != "" {
		out["userId"] = d.UserID
	}
	if d.UserName != "" {
		out["userName"] = d.UserName
	}
	if !d.CreatedAt.IsZero() {
		out["createdAt"] = d.CreatedAt.String()
	}
	if d.Properties != nil {
		out["properties"] = d.Properties
	}
	if d.NewProperties != nil {
		out["newProperties"] = d.NewProperties
	}
	return out
}

// SuggestionAttrs tags a leaf with suggestion d.
func SuggestionAttrs(d SuggestionData) map[string]any {
	return map[string]any{
		SuggestionKey:                  true,
		SuggestionKeyFor(d.ID).String(): d.Encode(),
	}
}

// BlockSuggestionAttrs tags an element as wholly suggested.
func BlockSuggestionAttrs(d SuggestionData) map[string]any {
	return map[string]any{SuggestionKey: d.Encode()}
}

// UnsetSuggestionKeys lists the keys that detach a leaf from suggestion id,
// including the generic flag when no other suggestion remains.
func UnsetSuggestionKeys(n *doc.Node, id AnnotationID) []string {
	keys := []string{SuggestionKeyFor(id).String()}
	for _, other := range SuggestionIDs(n) {
		if other != id {
			return keys
		}
	}
	return append(keys, SuggestionKey)
}

func stringField(fields map[string]any, key string) string {
	value, _ := fields[key].(string)
	return value
}
