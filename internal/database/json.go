package database

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JsonColumn wraps a Go value which is persisted as a JSON-encoded TEXT
// column. The movie genre list is stored this way; the catalogue only ever
// reads or replaces the list wholesale, so a relational representation buys
// nothing.
type JsonColumn[T any] struct {
	val *T
}

func NewJsonColumn[T any](val T) JsonColumn[T] {
	return JsonColumn[T]{val: &val}
}

func (j *JsonColumn[T]) Get() *T { return j.val }

func (j *JsonColumn[T]) Scan(src any) error {
	if src == nil {
		j.val = nil
		return nil
	}

	var raw []byte
	switch v := src.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T in to JsonColumn", src)
	}

	var val T
	if err := json.Unmarshal(raw, &val); err != nil {
		return fmt.Errorf("failed to unmarshal JsonColumn: %w", err)
	}

	j.val = &val
	return nil
}

func (j JsonColumn[T]) Value() (driver.Value, error) {
	if j.val == nil {
		return nil, nil
	}

	raw, err := json.Marshal(*j.val)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal JsonColumn: %w", err)
	}

	return string(raw), nil
}

func (j JsonColumn[T]) MarshalJSON() ([]byte, error) {
	if j.val == nil {
		return []byte("null"), nil
	}

	return json.Marshal(*j.val)
}

func (j *JsonColumn[T]) UnmarshalJSON(data []byte) error {
	var val T
	if err := json.Unmarshal(data, &val); err != nil {
		return err
	}

	j.val = &val
	return nil
}
