package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSONB is a thin helper for storing arbitrary JSON with GORM.
type JSONB []byte

func (j JSONB) Value() (driver.Value, error) {
	if len(j) == 0 {
		return []byte("{}"), nil
	}
	return []byte(j), nil
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = JSONB("{}")
		return nil
	}
	switch v := value.(type) {
	case []byte:
		*j = append(JSONB(nil), v...)
		return nil
	case string:
		*j = JSONB(v)
		return nil
	default:
		return fmt.Errorf("jsonb scan: unsupported type %T", value)
	}
}

// MarshalJSON emits the stored document as-is instead of base64.
func (j JSONB) MarshalJSON() ([]byte, error) {
	if len(j) == 0 {
		return []byte("{}"), nil
	}
	return []byte(j), nil
}

func (j *JSONB) UnmarshalJSON(data []byte) error {
	*j = append(JSONB(nil), data...)
	return nil
}

// StringList stores a list of strings as a JSON array.
type StringList []string

func (s StringList) Value() (driver.Value, error) {
	if s == nil {
		return []byte("[]"), nil
	}
	b, err := json.Marshal([]string(s))
	if err != nil {
		return nil, fmt.Errorf("string list value: %w", err)
	}
	return b, nil
}

func (s *StringList) Scan(value interface{}) error {
	var raw []byte
	switch v := value.(type) {
	case nil:
		*s = nil
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("string list scan: unsupported type %T", value)
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("string list scan: %w", err)
	}
	*s = out
	return nil
}
