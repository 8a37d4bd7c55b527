package annotation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Timestamp is an instant that decodes from either an RFC 3339 string or a
// number of epoch milliseconds and always encodes as RFC 3339.
type Timestamp struct {
	time.Time
}

func At(t time.Time) Timestamp {
	return Timestamp{Time: t.UTC()}
}

func (t Timestamp) Equal(other Timestamp) bool {
	return t.Time.Equal(other.Time)
}

func (t Timestamp) String() string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*t = Timestamp{}
		return nil
	}
	if data[0] == '"' {
		var raw string
		if err := json.Unmarshal(data, &raw); err != nil {
			return fmt.Errorf("decode timestamp: %w", err)
		}
		parsed, err := ParseTimestamp(raw)
		if err != nil {
			return err
		}
		*t = parsed
		return nil
	}
	millis, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return fmt.Errorf("decode timestamp: %w", err)
	}
	*t = At(time.UnixMilli(int64(millis)))
	return nil
}

func ParseTimestamp(raw string) (Timestamp, error) {
	if raw == "" {
		return Timestamp{}, nil
	}
	parsed, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return Timestamp{}, fmt.Errorf("parse timestamp %q: %w", raw, err)
	}
	return At(parsed), nil
}

// TimestampFrom converts a decoded JSON value into a Timestamp. Anything it
// cannot read yields the zero value.
func TimestampFrom(value any) Timestamp {
	switch typed := value.(type) {
	case string:
		parsed, err := ParseTimestamp(typed)
		if err != nil {
			return Timestamp{}
		}
		return parsed
	case float64:
		return At(time.UnixMilli(int64(typed)))
	case int64:
		return At(time.UnixMilli(typed))
	case int:
		return At(time.UnixMilli(int64(typed)))
	case Timestamp:
		return typed
	case time.Time:
		return At(typed)
	}
	return Timestamp{}
}
