package models

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// Tag is an optional correlation value. The zero value means "no tag".
type Tag struct {
	Value int64
	Valid bool
}

func NewTag(v int64) Tag {
	return Tag{Value: v, Valid: true}
}

func (t Tag) String() string {
	if !t.Valid {
		return "none"
	}
	return strconv.FormatInt(t.Value, 10)
}

func (t Tag) MarshalJSON() ([]byte, error) {
	if !t.Valid {
		return []byte("null"), nil
	}
	return []byte(strconv.FormatInt(t.Value, 10)), nil
}

func (t *Tag) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*t = Tag{}
		return nil
	}
	var v int64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*t = NewTag(v)
	return nil
}
