package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// StringList stores a set of strings as a JSON array in a text column.
type StringList []string

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	data, err := json.Marshal([]string(l))
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func (l *StringList) Scan(value interface{}) error {
	if value == nil {
		*l = nil
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into StringList", value)
	}
	if len(data) == 0 {
		*l = nil
		return nil
	}
	return json.Unmarshal(data, l)
}

// Contains reports whether s is in the list.
func (l StringList) Contains(s string) bool {
	for _, v := range l {
		if v == s {
			return true
		}
	}
	return false
}

// Difference returns a copy of the list without the given values.
func (l StringList) Difference(remove ...string) StringList {
	out := make(StringList, 0, len(l))
	for _, v := range l {
		skip := false
		for _, r := range remove {
			if v == r {
				skip = true
				break
			}
		}
		if !skip {
			out = append(out, v)
		}
	}
	return out
}

// Append returns a copy of the list with s added if not already present.
func (l StringList) Append(s string) StringList {
	if l.Contains(s) {
		return l
	}
	out := make(StringList, len(l), len(l)+1)
	copy(out, l)
	return append(out, s)
}
